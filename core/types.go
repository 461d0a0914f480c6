// Package core implements the consensus-adjacent data model: accounts and
// world-state (C5), transactions (C3), blocks (C4), and the mempool/chain
// manager (C6). It follows the convention of a single package for the
// whole domain model rather than splitting accounts, ledger, and
// transactions across separate packages.
package core

import (
	"fmt"
	"math/big"
	"time"

	"synnergy-core/archive"
	"synnergy-core/crypto"
)

// Address, Hash and Sign are re-exported from the crypto façade so callers
// of package core never need to import crypto directly for the common
// case of reading/writing these fixed-size values.
type (
	Address = crypto.Address
	Hash    = crypto.Hash
	Sign    = crypto.Sign
)

// NullAddress and NullHash are the distinguished all-zero sentinels.
var (
	NullAddress = crypto.NullAddress
	NullHash    = crypto.NullHash
)

// Timestamp is seconds since the Unix epoch, stored as a 32-bit unsigned
// value. Ordering is never relied upon inside the core; only equality
// (e.g. when replaying a recorded block) and external display use it.
type Timestamp uint32

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now().Unix()) }

// Balance is an unsigned 256-bit integer with checked arithmetic. The zero
// value represents zero.
type Balance struct {
	v big.Int
}

// NewBalance constructs a Balance from a uint64.
func NewBalance(v uint64) Balance {
	var b Balance
	b.v.SetUint64(v)
	return b
}

// BalanceFromBigInt copies v into a Balance. v must be non-negative.
func BalanceFromBigInt(v *big.Int) (Balance, error) {
	if v.Sign() < 0 {
		return Balance{}, fmt.Errorf("core: negative balance %s", v.String())
	}
	var b Balance
	b.v.Set(v)
	return b, nil
}

// IsZero reports whether b is zero.
func (b Balance) IsZero() bool { return b.v.Sign() == 0 }

// Cmp compares b to o the way big.Int.Cmp does.
func (b Balance) Cmp(o Balance) int { return b.v.Cmp(&o.v) }

// LessThan reports whether b < o.
func (b Balance) LessThan(o Balance) bool { return b.Cmp(o) < 0 }

// Add returns b+o. Overflow is impossible by construction (total supply is
// bounded well under 2^256), so this never errors.
func (b Balance) Add(o Balance) Balance {
	var out Balance
	out.v.Add(&b.v, &o.v)
	return out
}

// Sub returns b-o, or an error if the result would be negative.
func (b Balance) Sub(o Balance) (Balance, error) {
	if b.LessThan(o) {
		return Balance{}, fmt.Errorf("%w: %s - %s", ErrInsufficientFunds, b.String(), o.String())
	}
	var out Balance
	out.v.Sub(&b.v, &o.v)
	return out, nil
}

// String renders the balance as a decimal string.
func (b Balance) String() string { return b.v.String() }

// BigInt returns a copy of the underlying big.Int.
func (b Balance) BigInt() *big.Int { return new(big.Int).Set(&b.v) }

// u256Size is the wire width of a Balance: a 256-bit big-endian integer.
const u256Size = 32

// Encode writes the balance as a fixed 32-byte big-endian integer.
func (b Balance) Encode(w *archive.Writer) {
	var buf [u256Size]byte
	b.v.FillBytes(buf[:])
	w.WriteFixed(buf[:])
}

// DecodeBalance reads a fixed 32-byte big-endian integer written by Encode.
func DecodeBalance(r *archive.Reader) (Balance, error) {
	buf, err := r.ReadFixed(u256Size)
	if err != nil {
		return Balance{}, err
	}
	var b Balance
	b.v.SetBytes(buf)
	return b, nil
}

// EncodeAddress writes addr as a raw 20-byte fixed array (no length prefix).
func EncodeAddress(w *archive.Writer, addr Address) { w.WriteFixed(addr[:]) }

// DecodeAddress reads a raw 20-byte fixed array into an Address.
func DecodeAddress(r *archive.Reader) (Address, error) {
	b, err := r.ReadFixed(len(Address{}))
	if err != nil {
		return Address{}, err
	}
	var addr Address
	copy(addr[:], b)
	return addr, nil
}

// EncodeHash writes h as a raw 32-byte fixed array.
func EncodeHash(w *archive.Writer, h Hash) { w.WriteFixed(h[:]) }

// DecodeHash reads a raw 32-byte fixed array into a Hash.
func DecodeHash(r *archive.Reader) (Hash, error) {
	b, err := r.ReadFixed(len(Hash{}))
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// EncodeSign writes sig as a raw 65-byte fixed array.
func EncodeSign(w *archive.Writer, sig Sign) { w.WriteFixed(sig[:]) }

// DecodeSign reads a raw 65-byte fixed array into a Sign.
func DecodeSign(r *archive.Reader) (Sign, error) {
	b, err := r.ReadFixed(len(Sign{}))
	if err != nil {
		return Sign{}, err
	}
	var sig Sign
	copy(sig[:], b)
	return sig, nil
}
