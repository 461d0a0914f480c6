package core

import "sync"

// Mempool is the unordered set of admitted, not-yet-included transactions,
// keyed by hash.
type Mempool struct {
	mu  sync.RWMutex
	txs map[Hash]*Transaction
}

// NewMempool returns an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{txs: make(map[Hash]*Transaction)}
}

// Has reports whether a transaction with hash h is already admitted.
func (p *Mempool) Has(h Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.txs[h]
	return ok
}

// Add inserts tx keyed by its hash. It reports false (no-op) if already
// present.
func (p *Mempool) Add(tx *Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := tx.HashOfTransaction()
	if _, ok := p.txs[h]; ok {
		return false
	}
	p.txs[h] = tx
	return true
}

// Remove deletes h from the mempool, if present.
func (p *Mempool) Remove(h Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.txs, h)
}

// Snapshot returns every admitted transaction, in no particular order.
func (p *Mempool) Snapshot() []*Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Transaction, 0, len(p.txs))
	for _, tx := range p.txs {
		out = append(out, tx)
	}
	return out
}

// Len reports the number of admitted transactions.
func (p *Mempool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}
