package core

import "errors"

// Sentinel error kinds for the core package. Each propagation boundary
// (mempool admission, block application, RPC adapter) wraps these with %w
// so callers can branch with errors.Is while still getting a human-readable
// message.
var (
	ErrInvalidArgument    = errors.New("core: invalid argument")
	ErrLogicError         = errors.New("core: precondition violated")
	ErrInsufficientFunds  = errors.New("core: insufficient funds")
	ErrInvalidSignature   = errors.New("core: invalid signature")
	ErrInvalidBlock       = errors.New("core: invalid block")
	ErrUnknownParent      = errors.New("core: unknown parent block")
	ErrAccountExists      = errors.New("core: account already exists")
	ErrAccountNotFound    = errors.New("core: account not found")
	ErrNonceTooLow        = errors.New("core: nonce not greater than current")
	ErrAlreadyInMempool   = errors.New("core: transaction already in mempool")
	ErrDuplicateTxInBlock = errors.New("core: duplicate transaction in block")
)
