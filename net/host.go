package net

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"synnergy-core/core"
)

// HostConfig carries the constants Host needs at construction.
type HostConfig struct {
	ListenEndpoint     string
	BootstrapEndpoints []string
	MaxPeers           int
	PingFrequency      time.Duration
	InitialPeerRating  int32
	RequestTimeout     time.Duration
	KademliaBucketCap  int
	WorkerPoolSize     int
}

// defaultWorkerPoolSize bounds the goroutine pool used to offload PoW
// verification, signature checks, and state application when a caller does
// not specify one.
const defaultWorkerPoolSize = 8

// Host is the node orchestrator (C10): it owns the listener, both peer
// pools, and the periodic liveness ping, and drives coordinated shutdown.
// Shutdown cancels the context shared by a goroutine group built on
// golang.org/x/sync/errgroup, so the first goroutine's error is reported
// by Stop.
type Host struct {
	cfg   HostConfig
	self  core.Address
	chain *core.Chain
	log   *logrus.Entry

	listener net.Listener
	pending  *Pool         // pre-handshake peers, keyed by endpoint
	kademlia *KademliaPool // handshaked, bucketed peers
	workers  chan struct{} // bounded worker-pool semaphore

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHost constructs a Host bound to self's identity and chain, not yet
// listening. Call Start to begin accepting connections.
func NewHost(cfg HostConfig, self core.Address, chain *core.Chain, log *logrus.Logger) *Host {
	if log == nil {
		log = logrus.New()
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 32
	}
	if cfg.PingFrequency <= 0 {
		cfg.PingFrequency = 15 * time.Second
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = defaultWorkerPoolSize
	}
	h := &Host{
		cfg:     cfg,
		self:    self,
		chain:   chain,
		log:     log.WithField("component", "host"),
		pending: NewPool(cfg.MaxPeers),
		workers: make(chan struct{}, cfg.WorkerPoolSize),
	}
	h.kademlia = NewKademliaPool(self, cfg.KademliaBucketCap, h)
	return h
}

// Start opens the listener, launches the accept loop, the ping loop, and
// dials every configured bootstrap endpoint. It returns once the listener
// is bound; the accept/ping loops run under a context derived from ctx
// until Stop is called or ctx is cancelled.
func (h *Host) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.ListenEndpoint)
	if err != nil {
		return err
	}
	h.listener = ln

	h.ctx, h.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(h.ctx)
	h.group = g

	g.Go(func() error { return h.acceptLoop(gctx) })
	g.Go(func() error { return h.pingLoop(gctx) })

	for _, ep := range h.cfg.BootstrapEndpoints {
		ep := ep
		g.Go(func() error {
			h.dial(gctx, ep)
			return nil
		})
	}

	h.log.WithField("endpoint", h.cfg.ListenEndpoint).Info("host listening")
	return nil
}

// Stop cancels every background goroutine and closes the listener, then
// waits for the group to drain. The first non-nil goroutine error, if any,
// is returned.
func (h *Host) Stop() error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.listener != nil {
		_ = h.listener.Close()
	}
	if h.group == nil {
		return nil
	}
	return h.group.Wait()
}

func (h *Host) acceptLoop(ctx context.Context) error {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		h.onAccepted(conn)
	}
}

// Dial connects outbound to endpoint and runs its handshake. Exported so a
// caller can reconnect a known peer directly.
func (h *Host) Dial(endpoint string) error {
	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		return err
	}
	return h.handshakeOutbound(conn, endpoint)
}

func (h *Host) dial(ctx context.Context, endpoint string) {
	if err := h.Dial(endpoint); err != nil {
		h.log.WithError(err).WithField("endpoint", endpoint).Warn("bootstrap dial failed")
	}
}

func (h *Host) onAccepted(conn net.Conn) {
	sess := NewSession(conn, nil)
	p := NewPeer(sess, false, h.chain, h.peerConfig(), h, nil)
	p.SetLookup(h.kademlia.Lookup)
	p.SetOffload(h.Offload)
	p.SetAdmission(h.CheckAdmission)
	h.pending.TryAddPeer(p)
}

// CheckAdmission decides whether an inbound Connect from candidate may join
// the pool. A full roster rejects with NotAvailable; a full bucket for
// candidate's own address range rejects with BucketIsFull; otherwise it is
// let through to handshake and, on success, the ping-evict policy in
// KademliaPool.TryAddPeer has the final say.
func (h *Host) CheckAdmission(candidate core.Address) (bool, CannotAcceptReason) {
	if h.kademlia.Len() >= h.cfg.MaxPeers {
		return false, ReasonNotAvailable
	}
	if h.kademlia.BucketFull(candidate) {
		return false, ReasonBucketIsFull
	}
	return true, 0
}

func (h *Host) handshakeOutbound(conn net.Conn, endpoint string) error {
	sess := NewSession(conn, nil)
	p := NewPeer(sess, true, h.chain, h.peerConfig(), h, nil)
	p.Endpoint = endpoint
	p.SetLookup(h.kademlia.Lookup)
	p.SetOffload(h.Offload)
	h.pending.TryAddPeer(p)

	if err := p.Connect(); err != nil {
		h.pending.RemovePeer(endpoint)
		return err
	}
	h.promote(p)
	return nil
}

// promote moves a peer from the pending pool into the Kademlia pool once
// its handshake has assigned it a real ID. Membership in the bucketed pool
// requires a completed handshake.
func (h *Host) promote(p *Peer) {
	h.pending.RemovePeer(p.Endpoint)
	h.kademlia.TryAddPeer(p)
}

func (h *Host) peerConfig() PeerConfig {
	return PeerConfig{
		SelfID:         h.self,
		SelfEndpoint:   h.cfg.ListenEndpoint,
		InitialRating:  h.cfg.InitialPeerRating,
		RequestTimeout: h.cfg.RequestTimeout,
	}
}

// OnPeerDropped implements PeerDropHandler for both pools: a peer dropped
// from either is removed from whichever one currently holds it.
func (h *Host) OnPeerDropped(p *Peer, reason error) {
	h.pending.RemovePeer(p.Endpoint)
	h.kademlia.RemovePeer(p.ID)
}

// Ping implements Pinger for the Kademlia pool's insertion policy: sends a
// correlated Ping and reports whether Pong arrived before the peer's own
// request timeout.
func (h *Host) Ping(p *Peer) bool {
	id := p.requests.NewID()
	ch := p.requests.Await(id)
	if err := p.send(Envelope{ID: id, Body: PingBody{}}); err != nil {
		return false
	}
	_, ok := <-ch
	return ok
}

// pingLoop pings every handshaked peer on cfg.PingFrequency, dropping any
// that fails two consecutive pings.
func (h *Host) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.PingFrequency)
	defer ticker.Stop()

	missed := make(map[core.Address]int)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var toCheck []*Peer
			h.kademlia.ForEachPeer(func(p *Peer) { toCheck = append(toCheck, p) })
			for _, p := range toCheck {
				if h.Ping(p) {
					delete(missed, p.ID)
					continue
				}
				missed[p.ID]++
				if missed[p.ID] >= 2 {
					delete(missed, p.ID)
					p.Drop(ErrTimeout)
				}
			}
		}
	}
}

// Offload runs fn on the bounded worker pool, blocking the caller only
// long enough to acquire a slot, not for fn's duration.
func (h *Host) Offload(fn func()) {
	h.workers <- struct{}{}
	go func() {
		defer func() { <-h.workers }()
		fn()
	}()
}

// Peers returns an IdentityInfo snapshot of every handshaked peer.
func (h *Host) Peers() []IdentityInfo { return h.kademlia.AllPeersInfo() }

// Broadcast sends body to every handshaked peer under correlation id 0,
// used for block/transaction gossip.
func (h *Host) Broadcast(body Body) {
	h.kademlia.ForEachPeer(func(p *Peer) {
		_ = p.send(Envelope{ID: 0, Body: body})
	})
}
