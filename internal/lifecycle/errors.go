package lifecycle

import "errors"

// Error taxonomy surfaced to the HTTP layer. Underlying failures from
// the wire client are wrapped, never swallowed, so the original message
// stays available for diagnostics.
var (
	// ErrNotReady means the operation requires an open, authenticated
	// session.
	ErrNotReady = errors.New("whatsapp session is not ready")
	// ErrInvalidArgument means a required field is missing or malformed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDeliveryFailed means the wire client rejected a send. Sends are
	// never retried automatically; a retry could double-send.
	ErrDeliveryFailed = errors.New("message delivery failed")
	// ErrUpstream means a query against the wire client failed.
	ErrUpstream = errors.New("upstream query failed")
)
