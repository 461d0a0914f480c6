package core

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"synnergy-core/archive"
	"synnergy-core/crypto"
)

// StorageSlot is a single contract storage entry.
type StorageSlot struct {
	Data        []byte
	WasModified bool
}

// Account is the authoritative world-state record for one address.
// CodeHash == NullHash iff this is a client account.
type Account struct {
	Nonce    uint64
	Balance  Balance
	CodeHash Hash
	Storage  map[Hash]StorageSlot
}

func newAccount(codeHash Hash) *Account {
	return &Account{CodeHash: codeHash, Storage: make(map[Hash]StorageSlot)}
}

func (a *Account) clone() *Account {
	out := &Account{Nonce: a.Nonce, Balance: a.Balance, CodeHash: a.CodeHash}
	out.Storage = make(map[Hash]StorageSlot, len(a.Storage))
	for k, v := range a.Storage {
		out.Storage[k] = v
	}
	return out
}

// accountCacheSize bounds the read-through LRU cache sitting in front of
// the account map.
const accountCacheSize = 4096

// Manager is the state manager (C5): the authoritative account map and
// content-addressed code store, guarded by a single RWMutex.
type Manager struct {
	mu       sync.RWMutex
	accounts map[Address]*Account
	code     map[Hash][]byte
	cache    *lru.Cache[Address, *Account]
	log      *logrus.Entry
}

// NewManager returns an empty state manager.
func NewManager(log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	cache, err := lru.New[Address, *Account](accountCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// accountCacheSize never is.
		panic(fmt.Sprintf("core: account cache: %v", err))
	}
	return &Manager{
		accounts: make(map[Address]*Account),
		code:     make(map[Hash][]byte),
		cache:    cache,
		log:      log.WithField("component", "state"),
	}
}

// invalidate drops addr from the read-through cache. Called after every
// mutating operation on that account.
func (m *Manager) invalidate(addr Address) { m.cache.Remove(addr) }

// HasAccount reports whether addr is present (shared lock).
func (m *Manager) HasAccount(addr Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[addr]
	return ok
}

// NewAccount creates addr with the given code hash. It errors if addr
// already exists (exclusive lock).
func (m *Manager) NewAccount(addr Address, codeHash Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[addr]; ok {
		return fmt.Errorf("%w: %x", ErrAccountExists, addr)
	}
	m.accounts[addr] = newAccount(codeHash)
	m.invalidate(addr)
	return nil
}

// NewContract bumps creator's nonce, derives the contract address, and
// creates the new account. It returns the derived address.
func (m *Manager) NewContract(creator Address, codeHash Hash) (Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[creator]
	if !ok {
		return Address{}, fmt.Errorf("%w: creator %x", ErrAccountNotFound, creator)
	}
	nonceBeforeBump := acc.Nonce
	addr := crypto.ContractAddress(codeHash, creator, nonceBeforeBump)
	if _, exists := m.accounts[addr]; exists {
		return Address{}, fmt.Errorf("%w: %x", ErrAccountExists, addr)
	}
	acc.Nonce++
	m.accounts[addr] = newAccount(codeHash)
	m.invalidate(creator)
	m.invalidate(addr)
	return addr, nil
}

// getAccountLocked returns a read-only snapshot of addr's account, or nil
// if it does not exist. Caller must hold at least the shared lock.
func (m *Manager) getAccountLocked(addr Address) *Account {
	if acc, ok := m.cache.Get(addr); ok {
		return acc
	}
	acc, ok := m.accounts[addr]
	if !ok {
		return nil
	}
	m.cache.Add(addr, acc)
	return acc
}

// GetAccount returns a copy of addr's account state, or nil if it does not
// exist (shared lock). This never creates an account as a side effect —
// use EnsureAccount for that.
func (m *Manager) GetAccount(addr Address) *Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := m.getAccountLocked(addr)
	if acc == nil {
		return nil
	}
	return acc.clone()
}

// EnsureAccount returns addr's account, creating a zero-state client
// account on first access if it does not already exist (exclusive lock).
// This is the explicit, opt-in counterpart to GetAccount.
func (m *Manager) EnsureAccount(addr Address) *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[addr]
	if !ok {
		acc = newAccount(NullHash)
		m.accounts[addr] = acc
	}
	m.invalidate(addr)
	return acc.clone()
}

// GetBalance returns addr's balance, or zero if the account does not exist
// (shared lock).
func (m *Manager) GetBalance(addr Address) Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := m.getAccountLocked(addr)
	if acc == nil {
		return NewBalance(0)
	}
	return acc.Balance
}

// CheckTransaction reports whether tx's sender exists and holds a balance
// of at least amount+fee (shared lock).
func (m *Manager) CheckTransaction(tx *Transaction) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := m.getAccountLocked(tx.From)
	if acc == nil {
		return false
	}
	need := tx.Amount.Add(NewBalance(tx.Fee))
	return !acc.Balance.LessThan(need)
}

// TryTransferMoney atomically checks and moves amount from `from` to `to`,
// creating `to` (as a client account) if it is absent. It reports whether
// the transfer happened.
func (m *Manager) TryTransferMoney(from, to Address, amount Balance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromAcc, ok := m.accounts[from]
	if !ok || fromAcc.Balance.LessThan(amount) {
		return false
	}
	toAcc, ok := m.accounts[to]
	if !ok {
		toAcc = newAccount(NullHash)
		m.accounts[to] = toAcc
	}
	newFromBal, err := fromAcc.Balance.Sub(amount)
	if err != nil {
		return false
	}
	fromAcc.Balance = newFromBal
	toAcc.Balance = toAcc.Balance.Add(amount)
	m.invalidate(from)
	m.invalidate(to)
	return true
}

// undoEntry records enough to reverse one applied transaction, letting
// Update(block)/reorg roll back atomically.
type undoEntry struct {
	from       Address
	to         Address
	fromBefore *Account
	toBefore   *Account
	toExisted  bool
}

// snapshotForTx captures the accounts an about-to-run transaction touches, for
// rollback if a later transaction in the same block fails.
func (m *Manager) snapshotForTx(tx *Transaction) undoEntry {
	u := undoEntry{from: tx.From, to: tx.To}
	if acc, ok := m.accounts[tx.From]; ok {
		u.fromBefore = acc.clone()
	}
	if acc, ok := m.accounts[tx.To]; ok {
		u.toBefore = acc.clone()
		u.toExisted = true
	}
	return u
}

func (m *Manager) restore(u undoEntry) {
	if u.fromBefore != nil {
		m.accounts[u.from] = u.fromBefore
	} else {
		delete(m.accounts, u.from)
	}
	if u.toExisted {
		m.accounts[u.to] = u.toBefore
	} else {
		delete(m.accounts, u.to)
	}
	m.invalidate(u.from)
	m.invalidate(u.to)
}

// applyTxLocked debits sender, credits receiver (creating it lazily), and
// sets the sender's nonce to tx.Nonce. Caller must hold the exclusive lock.
func (m *Manager) applyTxLocked(tx *Transaction) error {
	fromAcc, ok := m.accounts[tx.From]
	if !ok {
		return fmt.Errorf("%w: %x", ErrAccountNotFound, tx.From)
	}
	need := tx.Amount.Add(NewBalance(tx.Fee))
	newFromBal, err := fromAcc.Balance.Sub(need)
	if err != nil {
		return err
	}
	toAcc, ok := m.accounts[tx.To]
	if !ok {
		toAcc = newAccount(NullHash)
		m.accounts[tx.To] = toAcc
	}
	fromAcc.Balance = newFromBal
	toAcc.Balance = toAcc.Balance.Add(tx.Amount)
	fromAcc.Nonce = tx.Nonce
	m.invalidate(tx.From)
	m.invalidate(tx.To)
	return nil
}

// Update applies a single standalone transaction (e.g. an RPC-admitted
// transfer outside of block application). It returns ErrInsufficientFunds
// (wrapped) if the sender's balance check fails.
func (m *Manager) Update(tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyTxLocked(tx)
}

// BlockUndo captures exactly what UpdateBlock changed, so the chain manager
// can reverse a committed block during a reorg without recomputing
// arithmetic inverses, undoing blocks in reverse order using this log.
type BlockUndo struct {
	txUndo          []undoEntry
	coinbase        Address
	coinbaseBefore  *Account
	coinbaseExisted bool
}

// UpdateBlock applies every transaction in block in insertion order. This
// is atomic: on any transaction's failure the entire block's effects are
// rolled back, leaving the account map exactly as it was before the call.
// The block's coinbase is credited with reward plus the sum of included
// fees. On success it returns a BlockUndo that UndoBlock can later use to
// reverse exactly this application.
func (m *Manager) UpdateBlock(block *Block, reward Balance) (*BlockUndo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	undo := make([]undoEntry, 0, len(block.Transactions))
	totalFees := NewBalance(0)
	for i, tx := range block.Transactions {
		u := m.snapshotForTx(tx)
		if err := m.applyTxLocked(tx); err != nil {
			for j := len(undo) - 1; j >= 0; j-- {
				m.restore(undo[j])
			}
			return nil, fmt.Errorf("core: block transaction %d: %w", i, err)
		}
		undo = append(undo, u)
		totalFees = totalFees.Add(NewBalance(tx.Fee))
	}

	coinbaseAcc, existed := m.accounts[block.Header.Coinbase]
	var coinbaseBefore *Account
	if existed {
		coinbaseBefore = coinbaseAcc.clone()
	} else {
		coinbaseAcc = newAccount(NullHash)
		m.accounts[block.Header.Coinbase] = coinbaseAcc
	}
	coinbaseAcc.Balance = coinbaseAcc.Balance.Add(reward).Add(totalFees)
	m.invalidate(block.Header.Coinbase)

	return &BlockUndo{
		txUndo:          undo,
		coinbase:        block.Header.Coinbase,
		coinbaseBefore:  coinbaseBefore,
		coinbaseExisted: existed,
	}, nil
}

// UndoBlock reverses a previously committed UpdateBlock call using the
// BlockUndo token it returned. Callers (the chain manager's reorg path)
// must undo blocks in the exact reverse order they were applied.
func (m *Manager) UndoBlock(tok *BlockUndo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok.coinbaseExisted {
		m.accounts[tok.coinbase] = tok.coinbaseBefore
	} else {
		delete(m.accounts, tok.coinbase)
	}
	m.invalidate(tok.coinbase)

	for i := len(tok.txUndo) - 1; i >= 0; i-- {
		m.restore(tok.txUndo[i])
	}
}

// UpdateFromGenesis applies the genesis block's special rule: every
// transaction's `to` becomes a new account with balance = amount, with no
// sender debit.
func (m *Manager) UpdateFromGenesis(block *Block) error {
	if !block.IsGenesis() {
		return fmt.Errorf("%w: UpdateFromGenesis called on non-genesis block", ErrLogicError)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range block.Transactions {
		acc, ok := m.accounts[tx.To]
		if !ok {
			acc = newAccount(NullHash)
			m.accounts[tx.To] = acc
		}
		acc.Balance = acc.Balance.Add(tx.Amount)
		m.invalidate(tx.To)
	}
	return nil
}

// TotalBalance sums every account's balance; used to check conservation
// across block application and reorgs in tests.
func (m *Manager) TotalBalance() Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := NewBalance(0)
	for _, acc := range m.accounts {
		total = total.Add(acc.Balance)
	}
	return total
}

// GetCode returns the code stored under hash, or nil if absent.
func (m *Manager) GetCode(hash Hash) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code[hash]
}

// SaveCode stores code content-addressed by sha256(code) and returns its
// hash. Idempotent: saving the same bytes twice is a no-op the second time.
func (m *Manager) SaveCode(code []byte) Hash {
	h := crypto.Sha256(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.code[h]; !ok {
		cp := make([]byte, len(code))
		copy(cp, code)
		m.code[h] = cp
	}
	return h
}

// Snapshot returns a full C1 serialization of (account_map, code_store).
func (m *Manager) Snapshot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w := archive.NewWriter(0)
	w.WriteU32(uint32(len(m.accounts)))
	for addr, acc := range m.accounts {
		EncodeAddress(w, addr)
		w.WriteU64(acc.Nonce)
		acc.Balance.Encode(w)
		EncodeHash(w, acc.CodeHash)
		w.WriteU32(uint32(len(acc.Storage)))
		for key, slot := range acc.Storage {
			EncodeHash(w, key)
			w.WriteBytes(slot.Data)
			w.WriteBool(slot.WasModified)
		}
	}
	w.WriteU32(uint32(len(m.code)))
	for h, code := range m.code {
		EncodeHash(w, h)
		w.WriteBytes(code)
	}
	return w.Bytes()
}

// LoadSnapshot returns a new Manager whose account map and code store are
// the contents of a buffer produced by Snapshot.
func LoadSnapshot(log *logrus.Logger, data []byte) (*Manager, error) {
	m := NewManager(log)
	r := archive.NewReader(data)

	accCount, err := r.ReadCount()
	if err != nil {
		return nil, fmt.Errorf("core: snapshot: account count: %w", err)
	}
	for i := uint32(0); i < accCount; i++ {
		addr, err := DecodeAddress(r)
		if err != nil {
			return nil, fmt.Errorf("core: snapshot: account %d address: %w", i, err)
		}
		nonce, err := r.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("core: snapshot: account %d nonce: %w", i, err)
		}
		bal, err := DecodeBalance(r)
		if err != nil {
			return nil, fmt.Errorf("core: snapshot: account %d balance: %w", i, err)
		}
		codeHash, err := DecodeHash(r)
		if err != nil {
			return nil, fmt.Errorf("core: snapshot: account %d code hash: %w", i, err)
		}
		slotCount, err := r.ReadCount()
		if err != nil {
			return nil, fmt.Errorf("core: snapshot: account %d storage count: %w", i, err)
		}
		acc := newAccount(codeHash)
		acc.Nonce = nonce
		acc.Balance = bal
		for s := uint32(0); s < slotCount; s++ {
			key, err := DecodeHash(r)
			if err != nil {
				return nil, fmt.Errorf("core: snapshot: account %d slot %d key: %w", i, s, err)
			}
			data, err := r.ReadBytes()
			if err != nil {
				return nil, fmt.Errorf("core: snapshot: account %d slot %d data: %w", i, s, err)
			}
			modified, err := r.ReadBool()
			if err != nil {
				return nil, fmt.Errorf("core: snapshot: account %d slot %d flag: %w", i, s, err)
			}
			acc.Storage[key] = StorageSlot{Data: data, WasModified: modified}
		}
		m.accounts[addr] = acc
	}

	codeCount, err := r.ReadCount()
	if err != nil {
		return nil, fmt.Errorf("core: snapshot: code count: %w", err)
	}
	for i := uint32(0); i < codeCount; i++ {
		h, err := DecodeHash(r)
		if err != nil {
			return nil, fmt.Errorf("core: snapshot: code %d hash: %w", i, err)
		}
		code, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("core: snapshot: code %d bytes: %w", i, err)
		}
		m.code[h] = code
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("core: snapshot: %w", err)
	}
	return m, nil
}
