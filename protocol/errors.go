package protocol

import "fmt"

// ErrorCode is a stable numeric code carried by Failure responses.
type ErrorCode uint64

const (
	// CodeProtocol marks a malformed frame or handshake. Connection-fatal.
	CodeProtocol ErrorCode = 1
	// CodeNoMem marks an allocation failure. Connection-fatal when a frame
	// cannot be buffered, request-fatal otherwise.
	CodeNoMem ErrorCode = 2
	// CodeEngine wraps an error reported by the embedded engine.
	CodeEngine ErrorCode = 3
	// CodeNotFound marks an unknown database or statement ID.
	CodeNotFound ErrorCode = 4
	// CodeAlreadyInTx marks a Begin while the session holds a transaction.
	CodeAlreadyInTx ErrorCode = 5
	// CodeNoTx marks a Commit or Rollback with no open transaction.
	CodeNoTx ErrorCode = 6
	// CodeBusy marks a Begin while another session holds the transaction
	// on the same replicated file. Reported immediately, never queued.
	CodeBusy ErrorCode = 7
	// CodeInternal marks an invariant violation, such as the session
	// transaction flag disagreeing with the engine's own state.
	CodeInternal ErrorCode = 8
)

// Error is a protocol-level error with a stable code and a human-readable
// message, suitable for encoding as a Failure response.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errf builds an Error with a formatted message.
func Errf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds an Error whose message prefixes |err| with context.
func WrapErr(code ErrorCode, err error, context string) *Error {
	return &Error{Code: code, Message: context + ": " + err.Error()}
}

// CodeOf extracts the ErrorCode of |err|, or CodeInternal if it isn't a
// protocol Error.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeInternal
}
