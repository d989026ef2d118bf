package rpc

import "github.com/pkg/errors"

// Error kinds from the error-handling design (§7). Each is a sentinel
// wrapped with context via github.com/pkg/errors at the point it's
// raised; callers match with errors.Is/errors.Cause.
var (
	// ErrConnectionLost marks a socket closed/reset or a write that
	// returned 0 bytes written.
	ErrConnectionLost = errors.New("rpc: connection lost")

	// ErrConnectionRefused marks a Dial target that refused the
	// connection. Dial makes a single attempt and does not retry.
	ErrConnectionRefused = errors.New("rpc: connection refused")

	// ErrTimeout marks a Call that exceeded its caller-supplied
	// deadline while awaiting a response.
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrCancelled marks a wait interrupted by connection shutdown or
	// by cancellation of the caller's context.
	ErrCancelled = errors.New("rpc: call cancelled")

	// ErrUnsupportedType marks a codec failure encoding a value the
	// caller asked to send; the frame is never written.
	ErrUnsupportedType = errors.New("rpc: unsupported value type")

	// ErrHandlerNotFound marks a FunctionCall whose name has no match
	// in the local registry; reported to the caller as a
	// RemoteError with type "AttributeError".
	ErrHandlerNotFound = errors.New("rpc: handler not found")

	// ErrClosed marks an operation attempted on a connection that has
	// already shut down.
	ErrClosed = errors.New("rpc: connection closed")
)

// RemoteError represents an exception raised inside a peer's handler,
// serialized across the wire as a reserved exception Value (§7,
// RemoteException) and re-raised here in the caller's goroutine.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}
