package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpkit/mcp-core-go/pkg/mcperrors"
)

func TestDecodeRequest(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"cursor":"abc"}}`))
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok, "expected *Request, got %T", msg)
	assert.Equal(t, "tools/list", req.Method)
	assert.Equal(t, float64(1), req.ID)
	assert.JSONEq(t, `{"cursor":"abc"}`, string(req.Params))
}

func TestDecodeNotification(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"7"}}`))
	require.NoError(t, err)

	n, ok := msg.(*Notification)
	require.True(t, ok, "expected *Notification, got %T", msg)
	assert.Equal(t, MethodNotificationCancelled, n.Method)
}

func TestDecodeResponse(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":"5","result":{"tools":[]}}`))
	require.NoError(t, err)

	resp, ok := msg.(*Response)
	require.True(t, ok, "expected *Response, got %T", msg)
	assert.Equal(t, "5", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestDecodeErrorResponse(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Method not found"}}`))
	require.NoError(t, err)

	resp := msg.(*Response)
	require.NotNil(t, resp.Error)
	assert.Equal(t, int(ErrMethodNotFound), resp.Error.Code)
}

func TestDecodeNullIDErrorResponse(t *testing.T) {
	// A parse-error reply carries id null; it must decode, not be rejected.
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`))
	require.NoError(t, err)

	resp := msg.(*Response)
	assert.Nil(t, resp.ID)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":`))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeParseError), "want -32700, got %v", err)
}

func TestDecodeStructuralViolations(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"missing jsonrpc", `{"id":1,"method":"ping"}`},
		{"wrong jsonrpc", `{"jsonrpc":"1.0","id":1,"method":"ping"}`},
		{"null request id", `{"jsonrpc":"2.0","id":null,"method":"ping"}`},
		{"object id", `{"jsonrpc":"2.0","id":{},"method":"ping"}`},
		{"result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`},
		{"method and result", `{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`},
		{"empty envelope", `{"jsonrpc":"2.0"}`},
		{"empty batch", `[]`},
		{"initialize in batch", `[{"jsonrpc":"2.0","id":1,"method":"initialize"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.in))
			require.Error(t, err)
			assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidRequest),
				"want -32600, got %v", err)
		})
	}
}

func TestDecodeMixedBatchPreservesOrder(t *testing.T) {
	in := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":"t","progress":0.5}},
		{"jsonrpc":"2.0","id":"9","result":{}}
	]`
	msg, err := Decode([]byte(in))
	require.NoError(t, err)

	batch, ok := msg.(Batch)
	require.True(t, ok)
	require.Len(t, batch, 3)

	_, ok = batch[0].(*Request)
	assert.True(t, ok)
	_, ok = batch[1].(*Notification)
	assert.True(t, ok)
	_, ok = batch[2].(*Response)
	assert.True(t, ok)
}

func TestEncodeSingleLine(t *testing.T) {
	req, err := NewRequest("1", MethodToolsCall, &CallToolParams{Name: "echo"})
	require.NoError(t, err)

	data, err := Encode(req)
	require.NoError(t, err)
	assert.False(t, strings.ContainsRune(string(data), '\n'), "encoded frame must be one line")

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, req.Method, back.(*Request).Method)
}

func TestEncodeRefusesInitializeInBatch(t *testing.T) {
	init, err := NewRequest("1", MethodInitialize, nil)
	require.NoError(t, err)

	_, err = Encode(Batch{init})
	assert.Error(t, err)
}

func TestEncodeRefusesEmptyBatch(t *testing.T) {
	_, err := Encode(Batch{})
	assert.Error(t, err)
}

func TestEncodeBatch(t *testing.T) {
	ping, err := NewRequest("1", MethodPing, nil)
	require.NoError(t, err)
	note, err := NewNotification(MethodNotificationProgress, &ProgressParams{ProgressToken: "t", Progress: 1})
	require.NoError(t, err)

	data, err := Encode(Batch{ping, note})
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, back.(Batch), 2)
}

func TestCanonicalID(t *testing.T) {
	// The id 1 sent as a JSON number must correlate with the key "1".
	assert.Equal(t, "1", CanonicalID(float64(1)))
	assert.Equal(t, "1", CanonicalID(1))
	assert.Equal(t, "1", CanonicalID("1"))
	assert.Equal(t, "1.5", CanonicalID(1.5))
	assert.Equal(t, "", CanonicalID(nil))
}

func TestErrorObjectFromError(t *testing.T) {
	eo := ErrorObjectFromError(mcperrors.MethodNotFound("bogus"))
	assert.Equal(t, int(ErrMethodNotFound), eo.Code)
	assert.Equal(t, "Method not found", eo.Message)

	// Plain errors must not leak their text onto the wire.
	eo = ErrorObjectFromError(json.Unmarshal([]byte("{"), &struct{}{}))
	assert.Equal(t, int(ErrInternal), eo.Code)
	assert.Equal(t, "Internal error", eo.Message)
}
