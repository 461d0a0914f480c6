package core

import (
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultInitialReward and DefaultRewardHalvingPeriod are the block reward
// magnitude: a fixed constant, halving periodically. A deployment overrides
// both via Config.
const (
	DefaultInitialReward       = 50_00000000
	DefaultRewardHalvingPeriod = 210_000
)

// AddResult is the outcome of TryAddBlock.
type AddResult int

const (
	Added AddResult = iota
	AlreadyKnown
	MissingParent
	InvalidPow
	InvalidStateTransition
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "Added"
	case AlreadyKnown:
		return "AlreadyKnown"
	case MissingParent:
		return "MissingParent"
	case InvalidPow:
		return "InvalidPow"
	case InvalidStateTransition:
		return "InvalidStateTransition"
	default:
		return "Unknown"
	}
}

// ChainConfig holds the constants TryAddBlock needs as an explicit config
// value rather than as process-wide globals.
type ChainConfig struct {
	Target              Target
	InitialReward       uint64
	RewardHalvingPeriod uint64
}

// blockRecord is everything the chain manager keeps for one known block,
// including the undo token produced when (if) it was applied to state.
type blockRecord struct {
	block *Block
	undo  *BlockUndo // nil if this block was never applied (a stored-but-inactive side branch)
}

// Chain is the mempool/chain manager (C6): it owns the block index (under
// its own mutex, separate from the state manager's lock), drives chain
// extension and reorgs, and holds the mempool.
type Chain struct {
	mu     sync.Mutex
	blocks map[Hash]*blockRecord

	headHash  Hash
	headDepth uint64

	state   *Manager
	mempool *Mempool
	cfg     ChainConfig
	log     *logrus.Entry
}

// NewChain returns an empty chain manager over state, awaiting a genesis
// block via TryAddBlock.
func NewChain(state *Manager, mempool *Mempool, cfg ChainConfig, log *logrus.Logger) *Chain {
	if log == nil {
		log = logrus.New()
	}
	if cfg.InitialReward == 0 {
		cfg.InitialReward = DefaultInitialReward
	}
	if cfg.RewardHalvingPeriod == 0 {
		cfg.RewardHalvingPeriod = DefaultRewardHalvingPeriod
	}
	return &Chain{
		blocks:  make(map[Hash]*blockRecord),
		state:   state,
		mempool: mempool,
		cfg:     cfg,
		log:     log.WithField("component", "chain"),
	}
}

// BlockRewardAt returns the coinbase subsidy for a block at depth, halving
// every RewardHalvingPeriod blocks.
func (c *Chain) BlockRewardAt(depth uint64) Balance {
	halvings := depth / c.cfg.RewardHalvingPeriod
	reward := new(big.Int).SetUint64(c.cfg.InitialReward)
	if halvings >= 64 {
		return NewBalance(0)
	}
	reward.Rsh(reward, uint(halvings))
	b, err := BalanceFromBigInt(reward)
	if err != nil {
		return NewBalance(0)
	}
	return b
}

// Difficulty exposes the current PoW target. It is a constant for the
// whole chain; the accessor exists so a future retargeting policy has
// somewhere to plug in without changing callers.
func (c *Chain) Difficulty() *big.Int {
	return c.cfg.Target.BigInt()
}

// TopBlockHash returns the current head's hash.
func (c *Chain) TopBlockHash() Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headHash
}

// HeadDepth returns the current head's depth.
func (c *Chain) HeadDepth() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headDepth
}

// GetBlock returns the block with the given hash, or nil if unknown.
func (c *Chain) GetBlock(h Hash) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.blocks[h]
	if !ok {
		return nil
	}
	return rec.block
}

// TryAddTransaction runs mempool admission and, on success, adds tx to the
// mempool. It reports whether the transaction was admitted.
func (c *Chain) TryAddTransaction(tx *Transaction) bool {
	if err := tx.CheckSign(); err != nil {
		return false
	}
	if !c.state.CheckTransaction(tx) {
		return false
	}
	acc := c.state.GetAccount(tx.From)
	if acc == nil || tx.Nonce <= acc.Nonce {
		return false
	}
	h := tx.HashOfTransaction()
	if c.mempool.Has(h) {
		return false
	}
	return c.mempool.Add(tx)
}

// TryAddBlock validates and, if valid, incorporates block into the chain.
// The genesis block is exempt from the PoW check. Any other block needs a
// valid PoW, a known parent and a depth one past the parent's. A block that
// extends the head is added only if applying its transactions succeeds. A
// side-branch block that does not outgrow the head is stored and reported
// as Added without applying its transactions; they are applied only when a
// reorg makes its branch canonical, and a failed reorg removes only the new
// tip, not the earlier side-branch blocks.
func (c *Chain) TryAddBlock(block *Block) AddResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := block.HashOfBlock()
	if _, known := c.blocks[h]; known {
		return AlreadyKnown
	}

	if block.IsGenesis() {
		if c.headHash != NullHash {
			return AlreadyKnown
		}
		if err := block.Validate(); err != nil {
			return InvalidStateTransition
		}
		if err := c.state.UpdateFromGenesis(block); err != nil {
			c.log.WithError(err).Warn("genesis application failed")
			return InvalidStateTransition
		}
		c.blocks[h] = &blockRecord{block: block}
		c.headHash = h
		c.headDepth = 0
		return Added
	}

	if !block.CheckPow(c.cfg.Target) {
		return InvalidPow
	}
	parentRec, ok := c.blocks[block.Header.PrevBlockHash]
	if !ok {
		return MissingParent
	}
	if err := block.Validate(); err != nil {
		return InvalidStateTransition
	}
	if block.Header.Depth != parentRec.block.Header.Depth+1 {
		return InvalidStateTransition
	}

	reward := c.BlockRewardAt(block.Header.Depth)

	if block.Header.PrevBlockHash == c.headHash {
		undo, err := c.state.UpdateBlock(block, reward)
		if err != nil {
			c.log.WithError(err).Warn("block application failed")
			return InvalidStateTransition
		}
		for _, tx := range block.Transactions {
			c.mempool.Remove(tx.HashOfTransaction())
		}
		c.blocks[h] = &blockRecord{block: block, undo: undo}
		c.headHash = h
		c.headDepth = block.Header.Depth
		return Added
	}

	// Side branch: store unconditionally (it may be extended later), then
	// decide whether it needs to become the new head.
	c.blocks[h] = &blockRecord{block: block}
	if block.Header.Depth <= c.headDepth {
		// Tie-break: among branches with equal (or lesser) depth, keep the
		// currently active one.
		return Added
	}
	if err := c.reorgTo(h); err != nil {
		delete(c.blocks, h)
		c.log.WithError(err).Warn("reorg failed")
		return InvalidStateTransition
	}
	return Added
}

// reorgTo switches the canonical chain to newHeadHash: it walks back to
// the common ancestor with the current head, undoes the displaced branch
// in reverse order, applies the new branch in forward order, and returns
// displaced transactions that are still valid to the mempool. Reorg'd-out
// transactions are re-validated before re-entering the mempool.
func (c *Chain) reorgTo(newHeadHash Hash) error {
	oldChain := make(map[Hash]bool)
	for h := c.headHash; h != NullHash; {
		oldChain[h] = true
		rec := c.blocks[h]
		if rec.block.IsGenesis() {
			break
		}
		h = rec.block.Header.PrevBlockHash
	}

	var newBranch []*Block // tip-to-ancestor order
	var commonAncestor Hash
	for cur := newHeadHash; ; {
		rec, ok := c.blocks[cur]
		if !ok {
			return ErrUnknownParent
		}
		if oldChain[cur] {
			commonAncestor = cur
			break
		}
		newBranch = append(newBranch, rec.block)
		if rec.block.IsGenesis() {
			commonAncestor = cur
			break
		}
		cur = rec.block.Header.PrevBlockHash
	}

	var oldBranch []*blockRecord // tip-to-ancestor order
	for h := c.headHash; h != commonAncestor; {
		rec := c.blocks[h]
		oldBranch = append(oldBranch, rec)
		h = rec.block.Header.PrevBlockHash
	}

	// Undo the displaced branch, tip first (reverse application order).
	for _, rec := range oldBranch {
		if rec.undo != nil {
			c.state.UndoBlock(rec.undo)
			rec.undo = nil
		}
	}

	// Apply the new branch root-to-tip.
	applied := make([]*blockRecord, 0, len(newBranch))
	for i := len(newBranch) - 1; i >= 0; i-- {
		b := newBranch[i]
		reward := c.BlockRewardAt(b.Header.Depth)
		undo, err := c.state.UpdateBlock(b, reward)
		if err != nil {
			// Roll back everything we just applied, then restore the
			// displaced branch so the chain ends up exactly where it
			// started.
			for j := len(applied) - 1; j >= 0; j-- {
				c.state.UndoBlock(applied[j].undo)
				applied[j].undo = nil
			}
			for i := len(oldBranch) - 1; i >= 0; i-- {
				rec := oldBranch[i]
				reward := c.BlockRewardAt(rec.block.Header.Depth)
				redoUndo, redoErr := c.state.UpdateBlock(rec.block, reward)
				if redoErr != nil {
					c.log.WithError(redoErr).Error("failed to restore original branch after aborted reorg")
					break
				}
				rec.undo = redoUndo
			}
			return err
		}
		rec := c.blocks[b.HashOfBlock()]
		rec.undo = undo
		applied = append(applied, rec)
		for _, tx := range b.Transactions {
			c.mempool.Remove(tx.HashOfTransaction())
		}
	}

	// Displaced transactions re-enter the mempool, oldest first, if they
	// still check out against the new state (signature, balance, nonce).
	for i := len(oldBranch) - 1; i >= 0; i-- {
		for _, tx := range oldBranch[i].block.Transactions {
			if tx.CheckSign() != nil || !c.state.CheckTransaction(tx) {
				continue
			}
			if acc := c.state.GetAccount(tx.From); acc == nil || tx.Nonce <= acc.Nonce {
				continue
			}
			c.mempool.Add(tx)
		}
	}

	c.headHash = newHeadHash
	c.headDepth = c.blocks[newHeadHash].block.Header.Depth
	return nil
}
