package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "session-registry context key " + string(c)
}

// RequestIDKey is the key for the per-request id set by the requestid middleware.
const RequestIDKey = contextKey("requestID")

// SessionIDKey is the key for the resolved session id of the caller.
const SessionIDKey = contextKey("sessionID")

// OperationKey tags log lines emitted through logger.WithContext with the
// store operation in progress.
const OperationKey = contextKey("operation")
