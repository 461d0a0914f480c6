package net

import (
	"testing"

	"synnergy-core/core"
)

func addr(b byte) core.Address {
	var a core.Address
	a[len(a)-1] = b
	return a
}

func kadPeer(id core.Address, endpoint string) *Peer {
	return &Peer{ID: id, Endpoint: endpoint}
}

type alwaysAlive struct{}

func (alwaysAlive) Ping(*Peer) bool { return true }

type alwaysDead struct{}

func (alwaysDead) Ping(*Peer) bool { return false }

func TestKademliaTryAddPeerAndLookup(t *testing.T) {
	self := addr(0x00)
	k := NewKademliaPool(self, 20, nil)

	for i := byte(1); i <= 5; i++ {
		if !k.TryAddPeer(kadPeer(addr(i), "peer")) {
			t.Fatalf("expected peer %d to be added", i)
		}
	}
	if k.Len() != 5 {
		t.Fatalf("expected 5 peers, got %d", k.Len())
	}

	results := k.Lookup(addr(0x00), 3)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// addr(1) has the smallest XOR distance from addr(0), so it must lead.
	if results[0].ID != addr(1) {
		t.Fatalf("expected closest peer first, got %v", results[0].ID)
	}
}

func TestKademliaRejectsSelf(t *testing.T) {
	self := addr(0x07)
	k := NewKademliaPool(self, 20, nil)
	if k.TryAddPeer(kadPeer(self, "self")) {
		t.Fatal("expected self-address peer to be rejected")
	}
}

func TestKademliaRejectsDuplicate(t *testing.T) {
	k := NewKademliaPool(addr(0x00), 20, nil)
	p := kadPeer(addr(0x01), "a")
	k.TryAddPeer(p)
	if k.TryAddPeer(kadPeer(addr(0x01), "a")) {
		t.Fatal("expected duplicate ID to be rejected")
	}
}

func TestKademliaPingEvictReplacesDeadEntry(t *testing.T) {
	self := addr(0x00)
	k := NewKademliaPool(self, 1, alwaysDead{})

	first := kadPeer(addr(0x02), "first")
	second := kadPeer(addr(0x03), "second")
	if !k.TryAddPeer(first) {
		t.Fatal("expected first peer to fill the bucket")
	}
	if !k.TryAddPeer(second) {
		t.Fatal("expected second peer to evict the unresponsive first peer")
	}
	if k.Len() != 1 {
		t.Fatalf("expected bucket capacity to still be 1, got %d", k.Len())
	}
	if k.HasPeerWithEndpoint("first") {
		t.Fatal("expected the dead peer to have been evicted")
	}
}

func TestKademliaPingKeepsLiveEntry(t *testing.T) {
	self := addr(0x00)
	k := NewKademliaPool(self, 1, alwaysAlive{})

	first := kadPeer(addr(0x02), "first")
	second := kadPeer(addr(0x03), "second")
	k.TryAddPeer(first)
	if k.TryAddPeer(second) {
		t.Fatal("expected newcomer to be dropped when the incumbent answers the ping")
	}
	if !k.HasPeerWithEndpoint("first") {
		t.Fatal("expected the live peer to remain")
	}
}

func TestKademliaOnPeerDropped(t *testing.T) {
	k := NewKademliaPool(addr(0x00), 20, nil)
	p := kadPeer(addr(0x01), "a")
	k.TryAddPeer(p)
	k.OnPeerDropped(p, ErrTimeout)
	if k.HasPeerWithEndpoint("a") {
		t.Fatal("expected dropped peer removed")
	}
}
