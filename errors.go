package delegate

import "errors"

var (
	// ErrUnregisteredTarget rejects a call against an identifier absent from
	// the pool's callable set. Raised locally, never crosses the bus.
	ErrUnregisteredTarget = errors.New("unregistered target")

	// ErrDisposed rejects pending work whose counterpart was torn down.
	ErrDisposed = errors.New("disposed")

	// ErrShutdown rejects calls issued against a pool that was shut down.
	ErrShutdown = errors.New("shut down")

	// ErrCallTimeout rejects a call whose reply did not arrive within the
	// pool's call timeout.
	ErrCallTimeout = errors.New("call timed out")
)

// Error codes carried in the call-reply error marker.
const (
	CodeUnknownFunction = "UNKNOWN_FUNCTION"
	CodeHandlerError    = "HANDLER_ERROR"
)

// RemoteError is a callee-side failure propagated through a call reply.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}
