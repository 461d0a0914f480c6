package core

import (
	"fmt"
	"math/big"

	"synnergy-core/archive"
	"synnergy-core/crypto"
)

// Target is a 256-bit proof-of-work threshold: a block's hash, read as a
// big-endian unsigned integer, must be strictly less than Target for the
// block to be valid.
type Target [32]byte

// BigInt returns t as a big.Int.
func (t Target) BigInt() *big.Int { return new(big.Int).SetBytes(t[:]) }

// BlockHeader carries the fixed-size fields of a block: depth, nonce, prev
// hash, coinbase, timestamp. Unlike a transaction, a block's
// hash covers the entire serialized block including its transactions, so
// there is no separate header/body hashing split — HashOfBlock always
// hashes the whole encoding.
type BlockHeader struct {
	Depth         uint64
	Nonce         uint64
	PrevBlockHash Hash
	Coinbase      Address
	Timestamp     Timestamp
}

// Block is a BlockHeader plus its ordered, deduplicated transaction set.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
	txSeen       map[Hash]struct{}
}

// NewBlock starts a block extending prevBlockHash at the given depth, to be
// mined to coinbase. Transactions are added afterwards with AddTransaction.
func NewBlock(prevBlockHash Hash, depth uint64, coinbase Address, timestamp Timestamp) *Block {
	return &Block{
		Header: BlockHeader{
			Depth:         depth,
			PrevBlockHash: prevBlockHash,
			Coinbase:      coinbase,
			Timestamp:     timestamp,
		},
		txSeen: make(map[Hash]struct{}),
	}
}

// NewGenesisBlock constructs the distinguished depth-0 block with a null
// parent.
func NewGenesisBlock(coinbase Address, timestamp Timestamp) *Block {
	return NewBlock(NullHash, 0, coinbase, timestamp)
}

// IsGenesis reports whether b is the depth-0, parentless block.
func (b *Block) IsGenesis() bool {
	return b.Header.Depth == 0 && b.Header.PrevBlockHash == NullHash
}

// ensureSeen lazily initializes txSeen for blocks constructed by
// DecodeBlock, where the map is not pre-populated by NewBlock.
func (b *Block) ensureSeen() {
	if b.txSeen == nil {
		b.txSeen = make(map[Hash]struct{}, len(b.Transactions))
		for _, tx := range b.Transactions {
			b.txSeen[tx.HashOfTransaction()] = struct{}{}
		}
	}
}

// AddTransaction appends tx to the block's insertion-ordered set, rejecting
// a transaction whose hash already appears in the block with
// ErrDuplicateTxInBlock.
func (b *Block) AddTransaction(tx *Transaction) error {
	b.ensureSeen()
	h := tx.HashOfTransaction()
	if _, dup := b.txSeen[h]; dup {
		return fmt.Errorf("%w: %x", ErrDuplicateTxInBlock, h)
	}
	b.txSeen[h] = struct{}{}
	b.Transactions = append(b.Transactions, tx)
	return nil
}

// HashSize mirrors crypto.HashSize for local readability.
const HashSize = crypto.HashSize

// Encode writes the full wire body: depth, nonce, prev hash, coinbase,
// timestamp, then the u32-prefixed transaction sequence.
func (b *Block) Encode(w *archive.Writer) {
	w.WriteU64(b.Header.Depth)
	w.WriteU64(b.Header.Nonce)
	EncodeHash(w, b.Header.PrevBlockHash)
	EncodeAddress(w, b.Header.Coinbase)
	w.WriteU32(uint32(b.Header.Timestamp))
	w.WriteU32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		tx.Encode(w)
	}
}

// HashOfBlock returns sha256(serialize(block)) — the value proof-of-work
// mines against and the value used to identify the block everywhere else
// in the system (parent links, chain index, wire messages). It is always
// recomputed on demand.
func (b *Block) HashOfBlock() Hash {
	w := archive.NewWriter(0)
	b.Encode(w)
	return crypto.Sha256(w.Bytes())
}

// SetNonce overwrites the header nonce. Mining calls this in a loop,
// re-evaluating HashOfBlock/CheckPow after each attempt.
func (b *Block) SetNonce(nonce uint64) { b.Header.Nonce = nonce }

// CheckPow reports whether the block's current hash satisfies target.
func (b *Block) CheckPow(target Target) bool {
	h := b.HashOfBlock()
	hv := new(big.Int).SetBytes(h[:])
	return hv.Cmp(target.BigInt()) < 0
}

// Mine increments the nonce starting from 0 until HashOfBlock satisfies
// target, or until maxAttempts is exhausted. It returns false if no
// solution was found within maxAttempts.
func (b *Block) Mine(target Target, maxAttempts uint64) bool {
	for nonce := uint64(0); nonce < maxAttempts; nonce++ {
		b.Header.Nonce = nonce
		if b.CheckPow(target) {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants a block must satisfy before it
// is handed to state application: no duplicate transactions (guaranteed by
// AddTransaction but re-checked for blocks built by DecodeBlock). A
// genesis block's transactions are ordinary allocations applied by
// UpdateFromGenesis, not excluded.
func (b *Block) Validate() error {
	seen := make(map[Hash]struct{}, len(b.Transactions))
	for _, tx := range b.Transactions {
		h := tx.HashOfTransaction()
		if _, dup := seen[h]; dup {
			return fmt.Errorf("%w: %x", ErrDuplicateTxInBlock, h)
		}
		seen[h] = struct{}{}
	}
	return nil
}

// DecodeBlock reads a Block written by Encode.
func DecodeBlock(r *archive.Reader) (*Block, error) {
	depth, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	nonce, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	prev, err := DecodeHash(r)
	if err != nil {
		return nil, err
	}
	coinbase, err := DecodeAddress(r)
	if err != nil {
		return nil, err
	}
	ts, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	count, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	txs := make([]*Transaction, 0, count)
	seen := make(map[Hash]struct{}, count)
	for i := uint32(0); i < count; i++ {
		tx, err := DecodeTransaction(r)
		if err != nil {
			return nil, fmt.Errorf("block: transaction %d: %w", i, err)
		}
		h := tx.HashOfTransaction()
		if _, dup := seen[h]; dup {
			return nil, fmt.Errorf("%w: %x", ErrDuplicateTxInBlock, h)
		}
		seen[h] = struct{}{}
		txs = append(txs, tx)
	}
	b := &Block{
		Header: BlockHeader{
			Depth:         depth,
			Nonce:         nonce,
			PrevBlockHash: prev,
			Coinbase:      coinbase,
			Timestamp:     Timestamp(ts),
		},
		Transactions: txs,
		txSeen:       seen,
	}
	return b, nil
}
