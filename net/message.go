// Package net implements the peer protocol and synchronizer: the
// length-framed session layer (C7), the per-peer handshake/sync state
// machine and correlated request/response layer (C8), the plain and
// Kademlia peer pools (C9), and the host orchestrator (C10).
//
// Messages are a tagged sum over MessageType dispatched through a single
// switch, rather than a virtual-dispatch inheritance hierarchy.
package net

import (
	"fmt"

	"synnergy-core/archive"
	"synnergy-core/core"
)

// MessageType tags every message on the wire.
type MessageType uint8

const (
	MsgConnect MessageType = iota
	MsgCannotAccept
	MsgAccepted
	MsgPing
	MsgPong
	MsgLookup
	MsgLookupResponse
	MsgTransaction
	MsgGetBlock
	MsgBlock
	MsgBlockNotFound
	MsgClose
)

func (t MessageType) String() string {
	switch t {
	case MsgConnect:
		return "Connect"
	case MsgCannotAccept:
		return "CannotAccept"
	case MsgAccepted:
		return "Accepted"
	case MsgPing:
		return "Ping"
	case MsgPong:
		return "Pong"
	case MsgLookup:
		return "Lookup"
	case MsgLookupResponse:
		return "LookupResponse"
	case MsgTransaction:
		return "Transaction"
	case MsgGetBlock:
		return "GetBlock"
	case MsgBlock:
		return "Block"
	case MsgBlockNotFound:
		return "BlockNotFound"
	case MsgClose:
		return "Close"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// CannotAcceptReason enumerates why a handshake was rejected.
type CannotAcceptReason uint8

const (
	ReasonNotAvailable CannotAcceptReason = iota
	ReasonBucketIsFull
	ReasonBadRating
)

func (r CannotAcceptReason) String() string {
	switch r {
	case ReasonNotAvailable:
		return "NotAvailable"
	case ReasonBucketIsFull:
		return "BucketIsFull"
	case ReasonBadRating:
		return "BadRating"
	default:
		return fmt.Sprintf("CannotAcceptReason(%d)", uint8(r))
	}
}

// IdentityInfo describes a peer for handshake/lookup responses: its
// Kademlia/consensus identity (a plain account Address) and the dial-back
// endpoint.
type IdentityInfo struct {
	ID       core.Address
	Endpoint string
}

func (p IdentityInfo) Encode(w *archive.Writer) {
	core.EncodeAddress(w, p.ID)
	w.WriteString(p.Endpoint)
}

func decodeIdentityInfo(r *archive.Reader) (IdentityInfo, error) {
	id, err := core.DecodeAddress(r)
	if err != nil {
		return IdentityInfo{}, err
	}
	ep, err := r.ReadString()
	if err != nil {
		return IdentityInfo{}, err
	}
	return IdentityInfo{ID: id, Endpoint: ep}, nil
}

// Body is implemented by every message payload type.
type Body interface {
	Encode(w *archive.Writer)
	Type() MessageType
}

// ConnectBody opens a handshake: the dialer announces its own identity, the
// endpoint peers should use to dial it back, and its current chain tip.
type ConnectBody struct {
	ID            core.Address
	PublicEndpoint string
	TopBlockHash  core.Hash
}

func (b ConnectBody) Type() MessageType { return MsgConnect }
func (b ConnectBody) Encode(w *archive.Writer) {
	core.EncodeAddress(w, b.ID)
	w.WriteString(b.PublicEndpoint)
	core.EncodeHash(w, b.TopBlockHash)
}
func decodeConnectBody(r *archive.Reader) (ConnectBody, error) {
	id, err := core.DecodeAddress(r)
	if err != nil {
		return ConnectBody{}, err
	}
	ep, err := r.ReadString()
	if err != nil {
		return ConnectBody{}, err
	}
	top, err := core.DecodeHash(r)
	if err != nil {
		return ConnectBody{}, err
	}
	return ConnectBody{ID: id, PublicEndpoint: ep, TopBlockHash: top}, nil
}

// AcceptedBody is the accepting peer's successful handshake reply.
type AcceptedBody struct {
	ID           core.Address
	PublicEndpoint string
	TopBlockHash core.Hash
}

func (b AcceptedBody) Type() MessageType { return MsgAccepted }
func (b AcceptedBody) Encode(w *archive.Writer) {
	core.EncodeAddress(w, b.ID)
	w.WriteString(b.PublicEndpoint)
	core.EncodeHash(w, b.TopBlockHash)
}
func decodeAcceptedBody(r *archive.Reader) (AcceptedBody, error) {
	id, err := core.DecodeAddress(r)
	if err != nil {
		return AcceptedBody{}, err
	}
	ep, err := r.ReadString()
	if err != nil {
		return AcceptedBody{}, err
	}
	top, err := core.DecodeHash(r)
	if err != nil {
		return AcceptedBody{}, err
	}
	return AcceptedBody{ID: id, PublicEndpoint: ep, TopBlockHash: top}, nil
}

// CannotAcceptBody is the accepting peer's handshake rejection. KnownPeers
// aids discovery even on rejection, so the dialer isn't left with nowhere
// else to try.
type CannotAcceptBody struct {
	Reason     CannotAcceptReason
	KnownPeers []IdentityInfo
}

func (b CannotAcceptBody) Type() MessageType { return MsgCannotAccept }
func (b CannotAcceptBody) Encode(w *archive.Writer) {
	w.WriteU8(uint8(b.Reason))
	w.WriteU32(uint32(len(b.KnownPeers)))
	for _, p := range b.KnownPeers {
		p.Encode(w)
	}
}
func decodeCannotAcceptBody(r *archive.Reader) (CannotAcceptBody, error) {
	reason, err := r.ReadU8()
	if err != nil {
		return CannotAcceptBody{}, err
	}
	if reason > uint8(ReasonBadRating) {
		return CannotAcceptBody{}, archive.ErrUnknownVariant
	}
	n, err := r.ReadCount()
	if err != nil {
		return CannotAcceptBody{}, err
	}
	peers := make([]IdentityInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := decodeIdentityInfo(r)
		if err != nil {
			return CannotAcceptBody{}, err
		}
		peers = append(peers, p)
	}
	return CannotAcceptBody{Reason: CannotAcceptReason(reason), KnownPeers: peers}, nil
}

// PingBody and PongBody carry no fields; they exist purely to distinguish
// message types in the switch.
type PingBody struct{}

func (PingBody) Type() MessageType    { return MsgPing }
func (PingBody) Encode(*archive.Writer) {}

type PongBody struct{}

func (PongBody) Type() MessageType    { return MsgPong }
func (PongBody) Encode(*archive.Writer) {}

// LookupBody requests up to Alpha peers nearest Target.
type LookupBody struct {
	Target core.Address
	Alpha  uint8
}

func (b LookupBody) Type() MessageType { return MsgLookup }
func (b LookupBody) Encode(w *archive.Writer) {
	core.EncodeAddress(w, b.Target)
	w.WriteU8(b.Alpha)
}
func decodeLookupBody(r *archive.Reader) (LookupBody, error) {
	target, err := core.DecodeAddress(r)
	if err != nil {
		return LookupBody{}, err
	}
	alpha, err := r.ReadU8()
	if err != nil {
		return LookupBody{}, err
	}
	return LookupBody{Target: target, Alpha: alpha}, nil
}

// LookupResponseBody answers a LookupBody.
type LookupResponseBody struct {
	Peers []IdentityInfo
}

func (b LookupResponseBody) Type() MessageType { return MsgLookupResponse }
func (b LookupResponseBody) Encode(w *archive.Writer) {
	w.WriteU32(uint32(len(b.Peers)))
	for _, p := range b.Peers {
		p.Encode(w)
	}
}
func decodeLookupResponseBody(r *archive.Reader) (LookupResponseBody, error) {
	n, err := r.ReadCount()
	if err != nil {
		return LookupResponseBody{}, err
	}
	peers := make([]IdentityInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := decodeIdentityInfo(r)
		if err != nil {
			return LookupResponseBody{}, err
		}
		peers = append(peers, p)
	}
	return LookupResponseBody{Peers: peers}, nil
}

// TransactionBody gossips a signed transaction for mempool admission.
type TransactionBody struct {
	Tx *core.Transaction
}

func (b TransactionBody) Type() MessageType    { return MsgTransaction }
func (b TransactionBody) Encode(w *archive.Writer) { b.Tx.Encode(w) }
func decodeTransactionBody(r *archive.Reader) (TransactionBody, error) {
	tx, err := core.DecodeTransaction(r)
	if err != nil {
		return TransactionBody{}, err
	}
	return TransactionBody{Tx: tx}, nil
}

// GetBlockBody requests the block with the given hash, used by the
// synchronizer to walk a peer's parent chain one hash at a time.
type GetBlockBody struct {
	Hash core.Hash
}

func (b GetBlockBody) Type() MessageType { return MsgGetBlock }
func (b GetBlockBody) Encode(w *archive.Writer) { core.EncodeHash(w, b.Hash) }
func decodeGetBlockBody(r *archive.Reader) (GetBlockBody, error) {
	h, err := core.DecodeHash(r)
	if err != nil {
		return GetBlockBody{}, err
	}
	return GetBlockBody{Hash: h}, nil
}

// BlockBody answers a GetBlockBody, or is gossiped unsolicited for a newly
// mined block.
type BlockBody struct {
	Block *core.Block
}

func (b BlockBody) Type() MessageType    { return MsgBlock }
func (b BlockBody) Encode(w *archive.Writer) { b.Block.Encode(w) }
func decodeBlockBody(r *archive.Reader) (BlockBody, error) {
	blk, err := core.DecodeBlock(r)
	if err != nil {
		return BlockBody{}, err
	}
	return BlockBody{Block: blk}, nil
}

// BlockNotFoundBody answers a GetBlockBody for an unknown hash.
type BlockNotFoundBody struct {
	Hash core.Hash
}

func (b BlockNotFoundBody) Type() MessageType { return MsgBlockNotFound }
func (b BlockNotFoundBody) Encode(w *archive.Writer) { core.EncodeHash(w, b.Hash) }
func decodeBlockNotFoundBody(r *archive.Reader) (BlockNotFoundBody, error) {
	h, err := core.DecodeHash(r)
	if err != nil {
		return BlockNotFoundBody{}, err
	}
	return BlockNotFoundBody{Hash: h}, nil
}

// CloseBody announces a graceful disconnect.
type CloseBody struct{}

func (CloseBody) Type() MessageType    { return MsgClose }
func (CloseBody) Encode(*archive.Writer) {}

// Envelope is one frame's worth of message: a correlation id (0 means
// "uncorrelated", as for gossip) plus the tagged body.
type Envelope struct {
	ID   uint16
	Body Body
}

// Encode writes id ‖ type ‖ body, the payload that Session.Send carries
// inside the u32-length-prefixed frame.
func (e Envelope) Encode() []byte {
	w := archive.NewWriter(0)
	w.WriteU16(e.ID)
	w.WriteU8(uint8(e.Body.Type()))
	e.Body.Encode(w)
	return w.Bytes()
}

// DecodeEnvelope reverses Encode, dispatching on the type tag.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	r := archive.NewReader(payload)
	id, err := r.ReadU16()
	if err != nil {
		return Envelope{}, fmt.Errorf("net: envelope id: %w", err)
	}
	tag, err := r.ReadU8()
	if err != nil {
		return Envelope{}, fmt.Errorf("net: envelope type: %w", err)
	}

	var body Body
	switch MessageType(tag) {
	case MsgConnect:
		b, err := decodeConnectBody(r)
		if err != nil {
			return Envelope{}, err
		}
		body = b
	case MsgCannotAccept:
		b, err := decodeCannotAcceptBody(r)
		if err != nil {
			return Envelope{}, err
		}
		body = b
	case MsgAccepted:
		b, err := decodeAcceptedBody(r)
		if err != nil {
			return Envelope{}, err
		}
		body = b
	case MsgPing:
		body = PingBody{}
	case MsgPong:
		body = PongBody{}
	case MsgLookup:
		b, err := decodeLookupBody(r)
		if err != nil {
			return Envelope{}, err
		}
		body = b
	case MsgLookupResponse:
		b, err := decodeLookupResponseBody(r)
		if err != nil {
			return Envelope{}, err
		}
		body = b
	case MsgTransaction:
		b, err := decodeTransactionBody(r)
		if err != nil {
			return Envelope{}, err
		}
		body = b
	case MsgGetBlock:
		b, err := decodeGetBlockBody(r)
		if err != nil {
			return Envelope{}, err
		}
		body = b
	case MsgBlock:
		b, err := decodeBlockBody(r)
		if err != nil {
			return Envelope{}, err
		}
		body = b
	case MsgBlockNotFound:
		b, err := decodeBlockNotFoundBody(r)
		if err != nil {
			return Envelope{}, err
		}
		body = b
	case MsgClose:
		body = CloseBody{}
	default:
		return Envelope{}, fmt.Errorf("net: envelope: %w: %d", archive.ErrUnknownVariant, tag)
	}
	if err := r.Done(); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: id, Body: body}, nil
}
