package net

import (
	"context"
	"testing"
	"time"

	"synnergy-core/core"
)

func newTestHost(t *testing.T, self core.Address) *Host {
	t.Helper()
	chain := newTestPeerChain(t)
	cfg := HostConfig{
		ListenEndpoint:    "127.0.0.1:0",
		MaxPeers:          8,
		PingFrequency:     time.Hour, // tests drive pings manually via h.Ping
		InitialPeerRating: 100,
		RequestTimeout:    2 * time.Second,
		KademliaBucketCap: 20,
	}
	return NewHost(cfg, self, chain, nil)
}

func TestHostAcceptsAndHandshakes(t *testing.T) {
	var idA, idB core.Address
	idA[19] = 0xA1
	idB[19] = 0xB1

	hostA := newTestHost(t, idA)
	hostB := newTestHost(t, idB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := hostA.Start(ctx); err != nil {
		t.Fatalf("hostA.Start: %v", err)
	}
	defer hostA.Stop()
	if err := hostB.Start(ctx); err != nil {
		t.Fatalf("hostB.Start: %v", err)
	}
	defer hostB.Stop()

	if err := hostB.Dial(hostA.listener.Addr().String()); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for hostA.kademlia.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for hostA to register the inbound peer")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if hostB.kademlia.Len() != 1 {
		t.Fatalf("expected hostB to have promoted its outbound peer, got %d", hostB.kademlia.Len())
	}
}

func TestHostPingReportsLiveness(t *testing.T) {
	var idA, idB core.Address
	idA[19] = 0xC1
	idB[19] = 0xC2

	hostA := newTestHost(t, idA)
	hostB := newTestHost(t, idB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := hostA.Start(ctx); err != nil {
		t.Fatalf("hostA.Start: %v", err)
	}
	defer hostA.Stop()
	if err := hostB.Start(ctx); err != nil {
		t.Fatalf("hostB.Start: %v", err)
	}
	defer hostB.Stop()

	if err := hostB.Dial(hostA.listener.Addr().String()); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var serverSidePeer *Peer
	deadline := time.After(2 * time.Second)
	for serverSidePeer == nil {
		hostA.kademlia.ForEachPeer(func(p *Peer) { serverSidePeer = p })
		select {
		case <-deadline:
			t.Fatal("timed out waiting for hostA to see the peer")
		default:
		}
		if serverSidePeer == nil {
			time.Sleep(10 * time.Millisecond)
		}
	}

	if !hostB.Ping(serverSidePeerFromB(t, hostB)) {
		t.Fatal("expected Ping to succeed against a live peer")
	}
}

func TestHostRejectsInboundDialOnceFull(t *testing.T) {
	var idA core.Address
	idA[19] = 0xD1

	hostA := newTestHost(t, idA)
	hostA.cfg.MaxPeers = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := hostA.Start(ctx); err != nil {
		t.Fatalf("hostA.Start: %v", err)
	}
	defer hostA.Stop()

	var idB core.Address
	idB[19] = 0xD2
	hostB := newTestHost(t, idB)
	if err := hostB.Start(ctx); err != nil {
		t.Fatalf("hostB.Start: %v", err)
	}
	defer hostB.Stop()

	if err := hostB.Dial(hostA.listener.Addr().String()); err != nil {
		t.Fatalf("first Dial: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for hostA.kademlia.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for hostA to promote the first peer")
		case <-time.After(10 * time.Millisecond):
		}
	}

	var idC core.Address
	idC[19] = 0xD3
	hostC := newTestHost(t, idC)
	if err := hostC.Start(ctx); err != nil {
		t.Fatalf("hostC.Start: %v", err)
	}
	defer hostC.Stop()

	err := hostC.Dial(hostA.listener.Addr().String())
	if err != ErrPeerRejected {
		t.Fatalf("expected ErrPeerRejected once hostA is full, got %v", err)
	}
}

func serverSidePeerFromB(t *testing.T, h *Host) *Peer {
	t.Helper()
	var p *Peer
	h.kademlia.ForEachPeer(func(peer *Peer) { p = peer })
	if p == nil {
		t.Fatal("hostB has no peers to ping")
	}
	return p
}
