package mcperrors

import (
	"fmt"
	"strings"
	"time"
)

// ParseError reports bytes that were not valid JSON.
func ParseError(cause error) MCPError {
	return Wrap(cause, CodeParseError, "Parse error", CategoryProtocol)
}

// InvalidRequest reports valid JSON that is not a well-formed JSON-RPC
// message.
func InvalidRequest(reason string) MCPError {
	e := New(CodeInvalidRequest, "Invalid Request", CategoryProtocol)
	if reason != "" {
		e = e.WithDetail(reason)
	}
	return e
}

// MethodNotFound reports an unknown or capability-blocked method.
func MethodNotFound(method string) MCPError {
	return New(CodeMethodNotFound, "Method not found", CategoryProtocol).
		WithContext(&Context{Method: method, Timestamp: time.Now()})
}

// InvalidParams reports schema-invalid request parameters.
func InvalidParams(method, reason string) MCPError {
	e := New(CodeInvalidParams, "Invalid params", CategoryProtocol).
		WithContext(&Context{Method: method, Timestamp: time.Now()})
	if reason != "" {
		e = e.WithDetail(reason)
	}
	return e
}

// Internal reports an uncaught fault at the dispatch boundary. The cause is
// kept local; only the generic message crosses the wire.
func Internal(cause error) MCPError {
	return Wrap(cause, CodeInternalError, "Internal error", CategoryInternal)
}

// SessionNotReady reports a method used before the handshake completed. This
// is the fail-fast local error for sends; inbound traffic gets an
// InvalidRequest response instead.
func SessionNotReady(method, state string) MCPError {
	return Newf(CodeSessionNotReady, CategoryUsage,
		"session not ready for %s (state %s)", method, state)
}

// SessionClosed reports an operation on a closed session.
func SessionClosed() MCPError {
	return New(CodeSessionClosed, "session closed", CategoryUsage)
}

// AlreadyInitialized reports a second initialize on one session.
func AlreadyInitialized() MCPError {
	return New(CodeAlreadyInitialized, "initialize already sent for this session", CategoryUsage)
}

// UnsupportedProtocolVersion reports a version the local side cannot speak.
func UnsupportedProtocolVersion(proposed string, supported []string) MCPError {
	return Newf(CodeVersionMismatch, CategoryProtocol,
		"unsupported protocol version %q (supported: %s)", proposed, strings.Join(supported, ", "))
}

// CapabilityNotDeclared reports a method whose capability neither side
// declared.
func CapabilityNotDeclared(method string) MCPError {
	return Newf(CodeCapabilityRequired, CategoryCapability,
		"method %s requires a capability that was not declared", method)
}

// RequestCancelled is the local completion for an explicitly cancelled
// request. Never sent on the wire.
func RequestCancelled(id, reason string) MCPError {
	msg := fmt.Sprintf("request %s cancelled", id)
	if reason != "" {
		msg += ": " + reason
	}
	return New(CodeOperationCancelled, msg, CategoryCancelled)
}

// RequestTimeout is the local completion for a request that outlived its
// deadline. Distinct from explicit cancellation.
func RequestTimeout(id, method string, timeout time.Duration) MCPError {
	return Newf(CodeOperationTimeout, CategoryTimeout,
		"request %s (%s) timed out after %s", id, method, timeout)
}

// TransportClosed rejects pending requests when the transport goes away. Not
// representable as a wire error: there is no partner left to answer.
func TransportClosed(cause error) MCPError {
	if cause != nil {
		return Wrap(cause, CodeTransportClosed, "transport closed", CategoryTransport)
	}
	return New(CodeTransportClosed, "transport closed", CategoryTransport)
}

// TransportError reports a send or receive failure on a live transport.
func TransportError(operation string, cause error) MCPError {
	return Wrap(cause, CodeTransportError, "transport "+operation+" failed", CategoryTransport)
}
