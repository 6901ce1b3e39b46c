package mcperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoriesCarryCodesAndCategories(t *testing.T) {
	cases := []struct {
		name     string
		err      MCPError
		code     int
		category Category
	}{
		{"parse", ParseError(errors.New("bad json")), CodeParseError, CategoryProtocol},
		{"invalid request", InvalidRequest("no jsonrpc"), CodeInvalidRequest, CategoryProtocol},
		{"method not found", MethodNotFound("x/y"), CodeMethodNotFound, CategoryProtocol},
		{"invalid params", InvalidParams("tools/call", "missing name"), CodeInvalidParams, CategoryProtocol},
		{"internal", Internal(errors.New("boom")), CodeInternalError, CategoryInternal},
		{"not ready", SessionNotReady("tools/list", "uninitialized"), CodeSessionNotReady, CategoryUsage},
		{"closed", SessionClosed(), CodeSessionClosed, CategoryUsage},
		{"version", UnsupportedProtocolVersion("1999-01-01", []string{"2025-03-26"}), CodeVersionMismatch, CategoryProtocol},
		{"capability", CapabilityNotDeclared("sampling/createMessage"), CodeCapabilityRequired, CategoryCapability},
		{"cancelled", RequestCancelled("3", "user"), CodeOperationCancelled, CategoryCancelled},
		{"timeout", RequestTimeout("3", "ping", time.Second), CodeOperationTimeout, CategoryTimeout},
		{"transport closed", TransportClosed(errors.New("eof")), CodeTransportClosed, CategoryTransport},
		{"transport error", TransportError("write", errors.New("pipe")), CodeTransportError, CategoryTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code())
			assert.Equal(t, tc.category, tc.err.Category())
		})
	}
}

func TestTimeoutAndCancellationAreDistinct(t *testing.T) {
	timeout := RequestTimeout("1", "tools/call", 5*time.Second)
	cancelled := RequestCancelled("1", "user asked")

	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsCancelled(timeout))
	assert.True(t, IsCancelled(cancelled))
	assert.False(t, IsTimeout(cancelled))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := TransportClosed(cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsTransport(err))
}

func TestAsThroughWrapping(t *testing.T) {
	inner := MethodNotFound("bogus")
	wrapped := fmt.Errorf("dispatch: %w", inner)

	me, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeMethodNotFound, me.Code())
}

func TestWithDetailDoesNotMutateOriginal(t *testing.T) {
	base := InvalidRequest("")
	detailed := base.WithDetail("batch element 2")

	assert.NotContains(t, base.Error(), "batch element 2")
	assert.Contains(t, detailed.Error(), "batch element 2")
}

func TestWithContext(t *testing.T) {
	err := MethodNotFound("tools/list").WithContext(&Context{
		Method:    "tools/list",
		RequestID: "42",
		Timestamp: time.Now(),
	})
	require.NotNil(t, err.Context())
	assert.Equal(t, "42", err.Context().RequestID)
}

func TestCodeName(t *testing.T) {
	assert.Equal(t, "MethodNotFound", CodeName(CodeMethodNotFound))
	assert.Equal(t, "SessionNotReady", CodeName(CodeSessionNotReady))
	assert.Equal(t, "AlreadyInitialized", CodeName(CodeAlreadyInitialized))
	assert.Equal(t, "UnknownError", CodeName(-1))
}
