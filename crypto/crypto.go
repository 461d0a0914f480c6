// Package crypto is the façade (C2) wrapping the low-level byte-oriented
// cryptographic primitives the rest of synnergy-core builds on: hashing,
// address derivation, base58 human encoding, and secp256k1 signing. Every
// function here is pure — no global state — following a convention of free
// functions operating over a key rather than methods with hidden state.
package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for address derivation, not a security digest
)

// HashSize is the width in bytes of a Sha256 digest.
const HashSize = 32

// AddressSize is the width in bytes of an Address.
const AddressSize = 20

// SignSize is the width in bytes of a canonical recoverable secp256k1
// signature: a 1-byte recovery id followed by 64 bytes of R‖S.
const SignSize = 65

// Hash is a 32-byte SHA-256 digest.
type Hash [HashSize]byte

// NullHash is the all-zero Hash sentinel.
var NullHash Hash

// Address is a 20-byte account identifier.
type Address [AddressSize]byte

// NullAddress denotes "no recipient / contract creation".
var NullAddress Address

// Sign is a fixed-size, canonical, recoverable secp256k1 signature. The
// zero value denotes "unsigned".
type Sign [SignSize]byte

// IsZero reports whether s is the all-zero "unsigned" sentinel.
func (s Sign) IsZero() bool { return s == Sign{} }

// PrivateKey wraps a secp256k1 scalar.
type PrivateKey struct{ inner *secp256k1.PrivateKey }

// PublicKey wraps a secp256k1 curve point.
type PublicKey struct{ inner *secp256k1.PublicKey }

// ErrInvalidSignature is returned when a signature fails to verify or does
// not recover to the claimed signer.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// Sha256 hashes data with SHA-256.
func Sha256(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// Ripemd160 hashes data with RIPEMD-160, returning a 20-byte digest.
func Ripemd160(data []byte) [20]byte {
	h := ripemd160.New()
	h.Write(data) //nolint:errcheck // ripemd160.Write never returns an error
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Base58Encode returns the base58 (Bitcoin alphabet) encoding of b.
func Base58Encode(b []byte) string { return base58.Encode(b) }

// Base58Decode reverses Base58Encode.
func Base58Decode(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: base58 decode: %w", err)
	}
	return b, nil
}

// GeneratePrivateKey draws a fresh random secp256k1 key using package
// crypto/rand under the hood (via secp256k1.GeneratePrivateKey).
func GeneratePrivateKey() (*PrivateKey, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &PrivateKey{inner: k}, nil
}

// PrivateKeyFromBytes interprets b as a raw 32-byte secp256k1 scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(b))
	}
	return &PrivateKey{inner: secp256k1.PrivKeyFromBytes(b)}, nil
}

// Bytes returns the raw 32-byte scalar.
func (k *PrivateKey) Bytes() []byte { return k.inner.Serialize() }

// PubKey derives the corresponding public key.
func (k *PrivateKey) PubKey() *PublicKey { return &PublicKey{inner: k.inner.PubKey()} }

// Bytes returns the 33-byte compressed encoding of the public key.
func (p *PublicKey) Bytes() []byte { return p.inner.SerializeCompressed() }

// Sign produces a canonical 65-byte recoverable signature over a 32-byte
// message digest (normally HashOfTransaction).
func Sign(priv *PrivateKey, msg32 Hash) Sign {
	sig := ecdsa.SignCompact(priv.inner, msg32[:], true)
	var out Sign
	copy(out[:], sig)
	return out
}

// Recover recovers the public key that produced sig over msg32. It returns
// ErrInvalidSignature if the signature is malformed or does not verify.
func Recover(sig Sign, msg32 Hash) (*PublicKey, error) {
	pub, _, err := ecdsa.RecoverCompact(sig[:], msg32[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &PublicKey{inner: pub}, nil
}

// AddressFromPubKey derives a client Address from a public key: the bottom
// 20 bytes of SHA-256(pub), standing in for a keccak-equivalent hash.
func AddressFromPubKey(pub *PublicKey) Address {
	h := sha256.Sum256(pub.Bytes())
	var addr Address
	copy(addr[:], h[HashSize-AddressSize:])
	return addr
}

// ContractAddress derives a contract Address as
// ripemd160(code_hash ‖ creator_address ‖ ascii(nonce+1)).
func ContractAddress(codeHash Hash, creator Address, creatorNonceBeforeBump uint64) Address {
	payload := make([]byte, 0, HashSize+AddressSize+20)
	payload = append(payload, codeHash[:]...)
	payload = append(payload, creator[:]...)
	payload = append(payload, []byte(fmt.Sprintf("%d", creatorNonceBeforeBump+1))...)
	return Address(Ripemd160(payload))
}
