package core

import (
	"errors"
	"math/big"
	"testing"

	"synnergy-core/archive"
	"synnergy-core/crypto"
)

// easyTarget is a proof-of-work threshold that is satisfied almost
// immediately, keeping block-mining tests fast.
func easyTarget() Target {
	var t Target
	for i := range t {
		t[i] = 0xff
	}
	return t
}

func TestGenesisBlockInvariants(t *testing.T) {
	var coinbase Address
	copy(coinbase[:], []byte("genesis-coinbase-0001"))
	b := NewGenesisBlock(coinbase, Timestamp(1_600_000_000))
	if !b.IsGenesis() {
		t.Fatalf("expected IsGenesis")
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate genesis: %v", err)
	}
}

func TestBlockRejectsDuplicateTransaction(t *testing.T) {
	priv := mustKey(t)
	from := crypto.AddressFromPubKey(priv.PubKey())
	var to Address
	copy(to[:], []byte("recipient-address-06"))

	tx, err := NewTransactionBuilder().From(from).To(to).Amount(NewBalance(1)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tx.SignWith(priv)

	var coinbase Address
	copy(coinbase[:], []byte("block-coinbase-00001"))
	b := NewBlock(NullHash, 1, coinbase, Timestamp(10))
	if err := b.AddTransaction(tx); err != nil {
		t.Fatalf("first AddTransaction: %v", err)
	}
	if err := b.AddTransaction(tx); !errors.Is(err, ErrDuplicateTxInBlock) {
		t.Fatalf("expected ErrDuplicateTxInBlock, got %v", err)
	}
}

func TestBlockMineSatisfiesCheckPow(t *testing.T) {
	var coinbase Address
	copy(coinbase[:], []byte("block-coinbase-00002"))
	b := NewBlock(NullHash, 1, coinbase, Timestamp(20))
	target := easyTarget()
	if !b.Mine(target, 1000) {
		t.Fatalf("expected Mine to find a solution against an easy target")
	}
	if !b.CheckPow(target) {
		t.Fatalf("CheckPow should succeed after Mine reports success")
	}
}

func TestBlockCheckPowRejectsImpossibleTarget(t *testing.T) {
	var coinbase Address
	copy(coinbase[:], []byte("block-coinbase-00003"))
	b := NewBlock(NullHash, 1, coinbase, Timestamp(30))

	var zeroTarget Target // hash must be < 0, impossible
	if b.CheckPow(zeroTarget) {
		t.Fatalf("CheckPow must never succeed against a zero target")
	}
	if zeroTarget.BigInt().Cmp(big.NewInt(0)) != 0 {
		t.Fatalf("zero Target must serialize to big.Int(0)")
	}
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	priv := mustKey(t)
	from := crypto.AddressFromPubKey(priv.PubKey())
	var to Address
	copy(to[:], []byte("recipient-address-07"))

	tx, err := NewTransactionBuilder().From(from).To(to).Amount(NewBalance(7)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tx.SignWith(priv)

	var coinbase Address
	copy(coinbase[:], []byte("block-coinbase-00004"))
	b := NewBlock(NullHash, 1, coinbase, Timestamp(40))
	if err := b.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	b.SetNonce(12345)

	w := archive.NewWriter(0)
	b.Encode(w)

	decoded, err := DecodeBlock(archive.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if decoded.HashOfBlock() != b.HashOfBlock() {
		t.Fatalf("hash mismatch after round trip")
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("Validate decoded block: %v", err)
	}
	if len(decoded.Transactions) != 1 || !decoded.Transactions[0].Equal(tx) {
		t.Fatalf("decoded transaction mismatch")
	}
}

func TestBlockHashIdenticalForIdenticalSerialization(t *testing.T) {
	var coinbase Address
	copy(coinbase[:], []byte("block-coinbase-00005"))
	b1 := NewBlock(NullHash, 1, coinbase, Timestamp(50))
	b2 := NewBlock(NullHash, 1, coinbase, Timestamp(50))

	w1 := archive.NewWriter(0)
	b1.Encode(w1)
	w2 := archive.NewWriter(0)
	b2.Encode(w2)
	if string(w1.Bytes()) != string(w2.Bytes()) {
		t.Fatalf("expected identical serialization for identical blocks")
	}
	if b1.HashOfBlock() != b2.HashOfBlock() {
		t.Fatalf("expected identical hashes for identical serializations")
	}
}

func TestGenesisBlockAcceptsTransactions(t *testing.T) {
	priv := mustKey(t)
	from := crypto.AddressFromPubKey(priv.PubKey())
	var to Address
	copy(to[:], []byte("recipient-address-08"))

	tx, err := NewTransactionBuilder().From(from).To(to).Amount(NewBalance(1)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tx.SignWith(priv)

	var coinbase Address
	copy(coinbase[:], []byte("genesis-coinbase-0002"))
	b := NewGenesisBlock(coinbase, Timestamp(60))
	if err := b.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("expected genesis block with allocation transactions to validate, got %v", err)
	}
}
