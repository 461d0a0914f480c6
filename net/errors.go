package net

import "errors"

// Sentinel error kinds scoped to the session/peer/pool layer.
var (
	ErrClosedSession         = errors.New("net: session closed")
	ErrSendOnClosedConnection = errors.New("net: send on closed connection")
	ErrPayloadTooLarge       = errors.New("net: payload exceeds max frame size")
	ErrPeerRejected          = errors.New("net: peer rejected")
	ErrTimeout               = errors.New("net: request timed out")
	ErrUnknownPeer           = errors.New("net: unknown peer")
	ErrBucketFull            = errors.New("net: kademlia bucket full")
	ErrPoolFull              = errors.New("net: peer pool full")
	ErrDifferentGenesis      = errors.New("net: peer has a different genesis block")
)
