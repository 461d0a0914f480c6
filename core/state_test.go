package core

import (
	"errors"
	"testing"

	"synnergy-core/crypto"
)

func addrFrom(s string) Address {
	var a Address
	copy(a[:], []byte(s))
	return a
}

func TestNewAccountRejectsDuplicate(t *testing.T) {
	m := NewManager(nil)
	a := addrFrom("account-aaaaaaaaaaaa")
	if err := m.NewAccount(a, NullHash); err != nil {
		t.Fatalf("first NewAccount: %v", err)
	}
	if err := m.NewAccount(a, NullHash); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestGetAccountNeverCreates(t *testing.T) {
	m := NewManager(nil)
	a := addrFrom("account-bbbbbbbbbbbb")
	if acc := m.GetAccount(a); acc != nil {
		t.Fatalf("expected nil for unknown account, got %+v", acc)
	}
	if m.HasAccount(a) {
		t.Fatalf("GetAccount must not have created the account as a side effect")
	}
}

func TestEnsureAccountCreatesLazily(t *testing.T) {
	m := NewManager(nil)
	a := addrFrom("account-cccccccccccc")
	acc := m.EnsureAccount(a)
	if acc == nil || !acc.Balance.IsZero() {
		t.Fatalf("expected zero-balance account, got %+v", acc)
	}
	if !m.HasAccount(a) {
		t.Fatalf("expected account to now exist")
	}
}

func TestNewContractDerivesAddressAndBumpsNonce(t *testing.T) {
	m := NewManager(nil)
	creator := addrFrom("creator-address-00001")
	if err := m.NewAccount(creator, NullHash); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	codeHash := crypto.Sha256([]byte("contract code"))

	contractAddr, err := m.NewContract(creator, codeHash)
	if err != nil {
		t.Fatalf("NewContract: %v", err)
	}
	if !m.HasAccount(contractAddr) {
		t.Fatalf("expected contract account to exist")
	}
	creatorAcc := m.GetAccount(creator)
	if creatorAcc.Nonce != 1 {
		t.Fatalf("expected creator nonce bumped to 1, got %d", creatorAcc.Nonce)
	}
	contractAcc := m.GetAccount(contractAddr)
	if contractAcc.CodeHash != codeHash {
		t.Fatalf("expected contract code hash to be set")
	}
}

func TestCheckTransactionRequiresSufficientBalance(t *testing.T) {
	m := NewManager(nil)
	from := addrFrom("sender-address-000001")
	to := addrFrom("receiver-address-0001")
	if err := m.NewAccount(from, NullHash); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	tx := &Transaction{From: from, To: to, Amount: NewBalance(10), Fee: 1}
	if m.CheckTransaction(tx) {
		t.Fatalf("expected CheckTransaction to fail for a zero-balance sender")
	}
}

func TestUpdateDebitsCreditsAndIncrementsNonce(t *testing.T) {
	m := NewManager(nil)
	from := addrFrom("sender-address-000002")
	to := addrFrom("receiver-address-0002")

	genesis := NewGenesisBlock(NullAddress, Timestamp(1))
	seedTx, err := NewTransactionBuilder().From(NullAddress).To(from).Amount(NewBalance(1000)).Build()
	if err != nil {
		t.Fatalf("Build seed tx: %v", err)
	}
	if err := genesis.AddTransaction(seedTx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := m.UpdateFromGenesis(genesis); err != nil {
		t.Fatalf("UpdateFromGenesis: %v", err)
	}

	tx := &Transaction{From: from, To: to, Amount: NewBalance(100), Fee: 1, Nonce: 1}
	if err := m.Update(tx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := m.GetBalance(from); got.Cmp(NewBalance(899)) != 0 {
		t.Fatalf("expected sender balance 899, got %s", got.String())
	}
	if got := m.GetBalance(to); got.Cmp(NewBalance(100)) != 0 {
		t.Fatalf("expected receiver balance 100, got %s", got.String())
	}
	if acc := m.GetAccount(from); acc.Nonce != 1 {
		t.Fatalf("expected sender nonce 1, got %d", acc.Nonce)
	}
}

func TestUpdateFromGenesisCreditsWithNoDebit(t *testing.T) {
	m := NewManager(nil)
	a := addrFrom("genesis-recipient-001")
	genesis := NewGenesisBlock(NullAddress, Timestamp(1))
	tx, err := NewTransactionBuilder().From(NullAddress).To(a).Amount(NewBalance(1000)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := genesis.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := m.UpdateFromGenesis(genesis); err != nil {
		t.Fatalf("UpdateFromGenesis: %v", err)
	}
	if got := m.GetBalance(a); got.Cmp(NewBalance(1000)) != 0 {
		t.Fatalf("expected balance 1000, got %s", got.String())
	}
}

func TestUpdateBlockRollsBackOnFailure(t *testing.T) {
	m := NewManager(nil)
	a := addrFrom("rollback-sender-00001")
	b := addrFrom("rollback-receiver-001")
	c := addrFrom("rollback-receiver-002")

	genesis := NewGenesisBlock(NullAddress, Timestamp(1))
	seed, err := NewTransactionBuilder().From(NullAddress).To(a).Amount(NewBalance(100)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := genesis.AddTransaction(seed); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := m.UpdateFromGenesis(genesis); err != nil {
		t.Fatalf("UpdateFromGenesis: %v", err)
	}
	before := m.TotalBalance()

	blk := NewBlock(genesis.HashOfBlock(), 1, NullAddress, Timestamp(2))
	tx1, err := NewTransactionBuilder().From(a).To(b).Amount(NewBalance(50)).Build()
	if err != nil {
		t.Fatalf("Build tx1: %v", err)
	}
	// tx2 overdraws: after tx1, a has 50 left, but tx2 asks for 200.
	tx2, err := NewTransactionBuilder().From(a).To(c).Amount(NewBalance(200)).Build()
	if err != nil {
		t.Fatalf("Build tx2: %v", err)
	}
	if err := blk.AddTransaction(tx1); err != nil {
		t.Fatalf("AddTransaction tx1: %v", err)
	}
	if err := blk.AddTransaction(tx2); err != nil {
		t.Fatalf("AddTransaction tx2: %v", err)
	}

	if _, err := m.UpdateBlock(blk, NewBalance(0)); err == nil {
		t.Fatalf("expected UpdateBlock to fail on overdraw")
	}
	if got := m.GetBalance(a); got.Cmp(NewBalance(100)) != 0 {
		t.Fatalf("expected rollback to restore sender balance to 100, got %s", got.String())
	}
	if got := m.GetBalance(b); !got.IsZero() {
		t.Fatalf("expected rollback to undo partial credit to b, got %s", got.String())
	}
	after := m.TotalBalance()
	if before.Cmp(after) != 0 {
		t.Fatalf("expected total balance unchanged after rollback: before=%s after=%s", before, after)
	}
}

func TestUpdateBlockCreditsCoinbaseRewardAndFees(t *testing.T) {
	m := NewManager(nil)
	a := addrFrom("coinbase-sender-00001")
	b := addrFrom("coinbase-receiver-001")
	coinbase := addrFrom("coinbase-miner-00001")

	genesis := NewGenesisBlock(NullAddress, Timestamp(1))
	seed, err := NewTransactionBuilder().From(NullAddress).To(a).Amount(NewBalance(1000)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := genesis.AddTransaction(seed); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := m.UpdateFromGenesis(genesis); err != nil {
		t.Fatalf("UpdateFromGenesis: %v", err)
	}
	before := m.TotalBalance()

	blk := NewBlock(genesis.HashOfBlock(), 1, coinbase, Timestamp(2))
	tx, err := NewTransactionBuilder().From(a).To(b).Amount(NewBalance(100)).Fee(1).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := blk.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	reward := NewBalance(5000)
	if _, err := m.UpdateBlock(blk, reward); err != nil {
		t.Fatalf("UpdateBlock: %v", err)
	}
	if got := m.GetBalance(coinbase); got.Cmp(NewBalance(5001)) != 0 {
		t.Fatalf("expected coinbase balance reward+fee=5001, got %s", got.String())
	}
	after := m.TotalBalance()
	want := before.Add(reward).Add(NewBalance(1))
	if after.Cmp(want) != 0 {
		t.Fatalf("total balance conservation violated: before=%s after=%s want=%s", before, after, want)
	}
}

func TestUndoBlockReversesUpdateBlock(t *testing.T) {
	m := NewManager(nil)
	a := addrFrom("undo-sender-000000001")
	b := addrFrom("undo-receiver-0000001")
	coinbase := addrFrom("undo-coinbase-0000001")

	genesis := NewGenesisBlock(NullAddress, Timestamp(1))
	seed, err := NewTransactionBuilder().From(NullAddress).To(a).Amount(NewBalance(1000)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := genesis.AddTransaction(seed); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := m.UpdateFromGenesis(genesis); err != nil {
		t.Fatalf("UpdateFromGenesis: %v", err)
	}
	before := m.Snapshot()

	blk := NewBlock(genesis.HashOfBlock(), 1, coinbase, Timestamp(2))
	tx, err := NewTransactionBuilder().From(a).To(b).Amount(NewBalance(100)).Fee(1).Nonce(5).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := blk.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	reward := NewBalance(10)
	tok, err := m.UpdateBlock(blk, reward)
	if err != nil {
		t.Fatalf("UpdateBlock: %v", err)
	}
	if acc := m.GetAccount(a); acc.Nonce != 5 {
		t.Fatalf("expected sender nonce set to 5 after UpdateBlock, got %d", acc.Nonce)
	}
	m.UndoBlock(tok)

	if got := m.GetBalance(a); got.Cmp(NewBalance(1000)) != 0 {
		t.Fatalf("expected sender balance restored to 1000, got %s", got.String())
	}
	if got := m.GetBalance(b); !got.IsZero() {
		t.Fatalf("expected receiver balance restored to zero, got %s", got.String())
	}
	if acc := m.GetAccount(a); acc.Nonce != 0 {
		t.Fatalf("expected sender nonce restored to 0, got %d", acc.Nonce)
	}
	after := m.Snapshot()
	if len(before) != len(after) {
		t.Fatalf("expected snapshot size to match after undo: before=%d after=%d", len(before), len(after))
	}
}

func TestCodeStoreIsContentAddressedAndIdempotent(t *testing.T) {
	m := NewManager(nil)
	code := []byte("contract bytecode v1")
	h1 := m.SaveCode(code)
	h2 := m.SaveCode(code)
	if h1 != h2 {
		t.Fatalf("expected identical hash for identical code")
	}
	got := m.GetCode(h1)
	if string(got) != string(code) {
		t.Fatalf("GetCode mismatch: got %q want %q", got, code)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := NewManager(nil)
	a := addrFrom("snapshot-account-0001")
	if err := m.NewAccount(a, NullHash); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	m.SaveCode([]byte("snapshot code"))

	data := m.Snapshot()
	loaded, err := LoadSnapshot(nil, data)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !loaded.HasAccount(a) {
		t.Fatalf("expected loaded snapshot to contain account")
	}
	if loaded.TotalBalance().Cmp(m.TotalBalance()) != 0 {
		t.Fatalf("expected total balance to match after snapshot round trip")
	}
}
