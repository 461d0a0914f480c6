package net

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/sirupsen/logrus"

	"synnergy-core/core"
)

// State is the per-peer handshake/sync state machine.
type State int

const (
	StateJustEstablished State = iota
	StateRequestedBlocks
	StateSynchronised
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJustEstablished:
		return "JustEstablished"
	case StateRequestedBlocks:
		return "RequestedBlocks"
	case StateSynchronised:
		return "Synchronised"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Rating penalties applied for misbehavior. A peer is "good" iff its
// rating is still positive; PenaltyDifferentGenesis alone exceeds any
// reasonable initial rating so peers on a foreign chain are dropped
// immediately.
const (
	PenaltyNonExpectedMessage = 1
	PenaltyInvalidMessage     = 2
	PenaltyBadBlock           = 10
	PenaltyDifferentGenesis   = 1000
)

// maxSyncBuffer bounds the synchronizer's buffered-but-orphaned block set.
// Exceeding it drops the peer with a bad-block penalty rather than letting
// memory grow unbounded while an ancestor chain is walked.
const maxSyncBuffer = 256

// PeerConfig carries the constants a Peer needs as explicit fields rather
// than process-wide globals.
type PeerConfig struct {
	SelfID         core.Address
	SelfEndpoint   string
	InitialRating  int32
	RequestTimeout time.Duration
}

// PeerDropHandler is notified when a peer's rating reaches zero or its
// session closes, so the owning pool/host can remove it.
type PeerDropHandler interface {
	OnPeerDropped(p *Peer, reason error)
}

// Peer is the per-connection state machine (C8): handshake, PoW-chain
// synchronizer, and rating-gated admission.
//
// The session's handler holds only a weak back-reference to its Peer (see
// sessionHandler below), removing the session↔peer ownership cycle without
// resorting to reference counting.
type Peer struct {
	ID       core.Address // zero until a successful handshake sets it
	Endpoint string
	Outbound bool // true if this node dialed the connection

	session  *Session
	requests *Requests
	chain    *core.Chain
	cfg      PeerConfig
	log      *logrus.Entry
	onDrop   PeerDropHandler

	rating atomic.Int32

	syncMu       sync.Mutex
	state        State
	topBlockHash core.Hash
	syncBuffer   map[core.Hash]*core.Block

	lookupFn func(core.Address, int) []IdentityInfo
	offload  func(func())
	admitFn  func(core.Address) (bool, CannotAcceptReason)
}

// cannotAcceptKnownPeersCount bounds how many peers ride along with a
// CannotAccept reply, enough to help the dialer retry elsewhere without
// turning the rejection into a full Lookup response.
const cannotAcceptKnownPeersCount = 8

// sessionHandler adapts Session's Handler interface to a Peer, holding only
// a weak.Pointer so the Session never keeps its owning Peer alive.
type sessionHandler struct {
	peer weak.Pointer[Peer]
}

func (h sessionHandler) OnReceive(s *Session, payload []byte) {
	if p := h.peer.Value(); p != nil {
		p.onReceive(payload)
	}
}

func (h sessionHandler) OnClose(s *Session) {
	if p := h.peer.Value(); p != nil {
		p.onSessionClosed()
	}
}

// NewPeer wraps session as a peer of chain, not yet handshaked.
func NewPeer(session *Session, outbound bool, chain *core.Chain, cfg PeerConfig, onDrop PeerDropHandler, log *logrus.Logger) *Peer {
	if log == nil {
		log = logrus.New()
	}
	if cfg.InitialRating == 0 {
		cfg.InitialRating = 100
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	p := &Peer{
		session:    session,
		requests:   NewRequests(cfg.RequestTimeout),
		chain:      chain,
		cfg:        cfg,
		onDrop:     onDrop,
		state:      StateJustEstablished,
		syncBuffer: make(map[core.Hash]*core.Block),
	}
	p.rating.Store(cfg.InitialRating)
	p.log = log.WithField("component", "peer")
	session.Start(sessionHandler{peer: weak.Make(p)})
	return p
}

// Rating returns the peer's current score.
func (p *Peer) Rating() int32 { return p.rating.Load() }

// IsGood reports whether the peer's rating is still positive.
func (p *Peer) IsGood() bool { return p.rating.Load() > 0 }

// State returns the peer's current handshake/sync state.
func (p *Peer) State() State {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.syncMu.Lock()
	p.state = s
	p.syncMu.Unlock()
}

// penalize decrements the peer's rating and drops it if it has reached
// zero.
func (p *Peer) penalize(amount int32, reason string) {
	newRating := p.rating.Add(-amount)
	p.log.WithFields(logrus.Fields{"penalty": amount, "rating": newRating, "reason": reason}).Debug("peer rating penalized")
	if newRating <= 0 {
		p.Drop(ErrPeerRejected)
	}
}

// Drop closes the peer's session, cancels its outstanding requests, and
// notifies the owning pool/host, if any.
func (p *Peer) Drop(reason error) {
	p.setState(StateClosed)
	p.requests.CancelAll()
	_ = p.session.Close()
	if p.onDrop != nil {
		p.onDrop.OnPeerDropped(p, reason)
	}
}

func (p *Peer) onSessionClosed() {
	p.setState(StateClosed)
	p.requests.CancelAll()
	if p.onDrop != nil {
		p.onDrop.OnPeerDropped(p, ErrClosedSession)
	}
}

// send serializes and transmits env over the peer's session.
func (p *Peer) send(env Envelope) error {
	return p.session.Send(env.Encode())
}

// reply answers an inbound request using its own correlation id.
func (p *Peer) reply(id uint16, body Body) {
	if err := p.send(Envelope{ID: id, Body: body}); err != nil {
		p.log.WithError(err).Debug("failed to send reply")
	}
}

func (p *Peer) onReceive(payload []byte) {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		p.penalize(PenaltyInvalidMessage, err.Error())
		return
	}
	p.Dispatch(env)
}

// Dispatch is the single tagged-sum switch that routes every inbound
// message type to its handler.
func (p *Peer) Dispatch(env Envelope) {
	switch body := env.Body.(type) {
	case ConnectBody:
		p.handleConnect(env.ID, body)
	case AcceptedBody, CannotAcceptBody, PongBody, LookupResponseBody, BlockNotFoundBody:
		if !p.requests.Complete(env) {
			p.penalize(PenaltyNonExpectedMessage, "unsolicited reply")
		}
	case BlockBody:
		// A block answering no pending GetBlock is gossip for the synchronizer.
		if !p.requests.Complete(env) {
			p.schedule(func() { p.onBlockReceived(body.Block) })
		}
	case PingBody:
		p.reply(env.ID, PongBody{})
	case LookupBody:
		p.handleLookup(env.ID, body)
	case TransactionBody:
		p.handleTransaction(body)
	case GetBlockBody:
		p.handleGetBlock(env.ID, body)
	case CloseBody:
		p.Drop(ErrClosedSession)
	default:
		p.penalize(PenaltyInvalidMessage, "unknown body type")
	}
}

func (p *Peer) handleConnect(id uint16, body ConnectBody) {
	p.syncMu.Lock()
	already := p.state != StateJustEstablished
	p.syncMu.Unlock()
	if already {
		p.penalize(PenaltyNonExpectedMessage, "duplicate Connect")
		return
	}

	if !p.IsGood() {
		p.rejectConnect(id, ReasonBadRating)
		return
	}
	if p.admitFn != nil {
		if ok, reason := p.admitFn(body.ID); !ok {
			p.rejectConnect(id, reason)
			return
		}
	}

	p.ID = body.ID
	p.Endpoint = body.PublicEndpoint

	p.reply(id, AcceptedBody{ID: p.cfg.SelfID, PublicEndpoint: p.cfg.SelfEndpoint, TopBlockHash: p.chain.TopBlockHash()})
	p.onTopBlockHash(body.TopBlockHash)
}

// rejectConnect answers a Connect with CannotAccept, attaching known peers
// so the dialer can try elsewhere, then drops the connection.
func (p *Peer) rejectConnect(id uint16, reason CannotAcceptReason) {
	var known []IdentityInfo
	if p.lookupFn != nil {
		known = p.lookupFn(p.cfg.SelfID, cannotAcceptKnownPeersCount)
	}
	p.reply(id, CannotAcceptBody{Reason: reason, KnownPeers: known})
	p.Drop(ErrPeerRejected)
}

// SetAdmission wires fn as the host's decision on whether an inbound Connect
// from candidate may join the pool, and if not, which CannotAcceptReason to
// report.
func (p *Peer) SetAdmission(fn func(core.Address) (bool, CannotAcceptReason)) {
	p.admitFn = fn
}

func (p *Peer) handleLookup(id uint16, body LookupBody) {
	// The host wires a real KademliaPool lookup in via SetLookup; absent
	// that, reply with an empty result rather than silently dropping it.
	var peers []IdentityInfo
	if p.lookupFn != nil {
		peers = p.lookupFn(body.Target, int(body.Alpha))
	}
	p.reply(id, LookupResponseBody{Peers: peers})
}

func (p *Peer) handleTransaction(body TransactionBody) {
	if body.Tx == nil {
		p.penalize(PenaltyInvalidMessage, "nil transaction")
		return
	}
	if !p.chain.TryAddTransaction(body.Tx) {
		// Not necessarily the peer's fault (could be a stale nonce); ordinary
		// rejected transactions do not carry a rating penalty.
		p.log.Debug("rejected gossiped transaction")
	}
}

func (p *Peer) handleGetBlock(id uint16, body GetBlockBody) {
	blk := p.chain.GetBlock(body.Hash)
	if blk == nil {
		p.reply(id, BlockNotFoundBody{Hash: body.Hash})
		return
	}
	p.reply(id, BlockBody{Block: blk})
}

// SetLookup wires the host's KademliaPool.Lookup into this peer's handling
// of inbound Lookup requests, without peer importing pool (C9 depends on
// peers, not the reverse).
func (p *Peer) SetLookup(fn func(core.Address, int) []IdentityInfo) {
	p.lookupFn = fn
}

// SetOffload wires fn as the scheduler used to run PoW verification,
// signature checks, and state application off the reader goroutine, e.g.
// onto a bounded worker pool. Without one, each call falls back to a bare
// goroutine per block.
func (p *Peer) SetOffload(fn func(func())) {
	p.offload = fn
}

func (p *Peer) schedule(fn func()) {
	if p.offload != nil {
		p.offload(fn)
		return
	}
	go fn()
}

// Connect initiates the handshake on an outbound connection, announcing
// this node's address, dial-back endpoint, and chain tip. It blocks until
// Accepted/CannotAccept arrives or the request times out, then advances
// state accordingly.
func (p *Peer) Connect() error {
	id := p.requests.NewID()
	ch := p.requests.Await(id)
	env := Envelope{ID: id, Body: ConnectBody{ID: p.cfg.SelfID, PublicEndpoint: p.cfg.SelfEndpoint, TopBlockHash: p.chain.TopBlockHash()}}
	if err := p.send(env); err != nil {
		return err
	}
	reply, ok := <-ch
	if !ok {
		return ErrTimeout
	}
	switch body := reply.Body.(type) {
	case AcceptedBody:
		p.ID = body.ID
		p.Endpoint = body.PublicEndpoint
		p.onTopBlockHash(body.TopBlockHash)
		return nil
	case CannotAcceptBody:
		p.Drop(ErrPeerRejected)
		return ErrPeerRejected
	default:
		p.penalize(PenaltyInvalidMessage, "unexpected reply to Connect")
		return ErrPeerRejected
	}
}

// onTopBlockHash is the synchronizer's entry point: if the peer's announced
// tip is already known locally, the peer is synchronised immediately;
// otherwise begin walking its parent chain.
func (p *Peer) onTopBlockHash(hash core.Hash) {
	if hash == p.chain.TopBlockHash() || p.chain.GetBlock(hash) != nil {
		p.setState(StateSynchronised)
		return
	}
	p.setState(StateRequestedBlocks)
	p.requestBlock(hash)
}

// requestBlock sends a correlated GetBlock and arranges for the reply to
// feed back into the synchronizer on a background goroutine, the
// suspension point at this I/O boundary.
func (p *Peer) requestBlock(hash core.Hash) {
	id := p.requests.NewID()
	ch := p.requests.Await(id)
	if err := p.send(Envelope{ID: id, Body: GetBlockBody{Hash: hash}}); err != nil {
		return
	}
	p.schedule(func() { p.awaitBlock(ch) })
}

func (p *Peer) awaitBlock(ch <-chan Envelope) {
	reply, ok := <-ch
	if !ok {
		return // timed out; nothing requests this block again
	}
	switch body := reply.Body.(type) {
	case BlockBody:
		p.onBlockReceived(body.Block)
	case BlockNotFoundBody:
		p.penalize(PenaltyBadBlock, "peer advertised a block it could not produce")
	default:
		p.penalize(PenaltyInvalidMessage, "unexpected reply to GetBlock")
	}
}

// onBlockReceived buffers block if its parent is still unknown (requesting
// the parent in turn), or applies it — and any buffered descendants whose
// parent chain is now complete — once its parent resolves. Buffered blocks
// are applied bottom-up once the oldest's parent is known.
func (p *Peer) onBlockReceived(b *core.Block) {
	h := b.HashOfBlock()

	p.syncMu.Lock()
	if b.IsGenesis() && p.chain.GetBlock(h) == nil {
		p.syncMu.Unlock()
		p.penalize(PenaltyDifferentGenesis, "different genesis block")
		return
	}
	if b.IsGenesis() || p.chain.GetBlock(b.Header.PrevBlockHash) != nil {
		p.syncMu.Unlock()
		p.tryApply(b)
		p.drainBuffer()
		return
	}
	if len(p.syncBuffer) >= maxSyncBuffer {
		p.syncMu.Unlock()
		p.penalize(PenaltyBadBlock, "synchronizer buffer exceeded")
		if p.IsGood() {
			p.Drop(ErrPeerRejected)
		}
		return
	}
	p.syncBuffer[h] = b
	parent := b.Header.PrevBlockHash
	p.syncMu.Unlock()

	p.requestBlock(parent)
}

// tryApply hands b to the chain manager and penalizes the peer if it turns
// out to be invalid.
func (p *Peer) tryApply(b *core.Block) {
	switch p.chain.TryAddBlock(b) {
	case core.Added, core.AlreadyKnown:
	case core.InvalidPow, core.InvalidStateTransition:
		p.penalize(PenaltyBadBlock, "invalid block from peer")
	case core.MissingParent:
		// Parent was known a moment ago under the lock; a concurrent reorg
		// could in principle race this. Re-buffer rather than penalize.
		p.syncMu.Lock()
		p.syncBuffer[b.HashOfBlock()] = b
		p.syncMu.Unlock()
	}
}

// drainBuffer repeatedly applies any buffered block whose parent is now
// known, until a full pass makes no progress.
func (p *Peer) drainBuffer() {
	for {
		var ready []*core.Block
		p.syncMu.Lock()
		for h, b := range p.syncBuffer {
			if p.chain.GetBlock(b.Header.PrevBlockHash) != nil {
				ready = append(ready, b)
				delete(p.syncBuffer, h)
			}
		}
		empty := len(p.syncBuffer) == 0
		p.syncMu.Unlock()

		if len(ready) == 0 {
			if empty {
				p.setState(StateSynchronised)
			}
			return
		}
		for _, b := range ready {
			p.tryApply(b)
		}
	}
}
