package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mcpkit/mcp-core-go/pkg/mcperrors"
)

// Encode serializes one message (or batch) to a single line of JSON with no
// embedded newlines, ready for a framed transport. Batches containing an
// initialize request are refused: the handshake must travel alone.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode nil message")
	}
	if batch, ok := msg.(Batch); ok {
		if len(batch) == 0 {
			return nil, fmt.Errorf("encode empty batch")
		}
		for _, m := range batch {
			if req, ok := m.(*Request); ok && req.Method == MethodInitialize {
				return nil, fmt.Errorf("initialize must not be batched")
			}
		}
		parts := make([]json.RawMessage, 0, len(batch))
		for _, m := range batch {
			raw, err := json.Marshal(m)
			if err != nil {
				return nil, err
			}
			parts = append(parts, raw)
		}
		return json.Marshal(parts)
	}
	return json.Marshal(msg)
}

// Decode parses one framed unit of transport data into a Message. Invalid
// JSON yields a ParseError (-32700); valid JSON that is not a well-formed
// JSON-RPC envelope yields an InvalidRequest (-32600). Both are typed
// failures, not panics: the codec is a pure function pair.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, mcperrors.ParseError(fmt.Errorf("empty input"))
	}
	if trimmed[0] == '[' {
		return decodeBatch(trimmed)
	}
	return decodeSingle(trimmed)
}

func decodeBatch(data []byte) (Message, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, mcperrors.ParseError(err)
	}
	if len(elems) == 0 {
		return nil, mcperrors.InvalidRequest("empty batch")
	}
	batch := make(Batch, 0, len(elems))
	for i, raw := range elems {
		msg, err := decodeSingle(raw)
		if err != nil {
			if me, ok := mcperrors.As(err); ok {
				return nil, me.WithDetail(fmt.Sprintf("batch element %d", i))
			}
			return nil, err
		}
		if req, ok := msg.(*Request); ok && req.Method == MethodInitialize {
			return nil, mcperrors.InvalidRequest("initialize must not be batched")
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

func decodeSingle(data []byte) (Message, error) {
	var probe struct {
		JSONRPC json.RawMessage `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  json.RawMessage `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, mcperrors.ParseError(err)
	}

	var version string
	if probe.JSONRPC == nil {
		return nil, mcperrors.InvalidRequest("missing jsonrpc member")
	}
	if err := json.Unmarshal(probe.JSONRPC, &version); err != nil || version != JSONRPCVersion {
		return nil, mcperrors.InvalidRequest(fmt.Sprintf("jsonrpc must be %q", JSONRPCVersion))
	}

	hasID := probe.ID != nil && !bytes.Equal(bytes.TrimSpace(probe.ID), []byte("null"))
	nullID := probe.ID != nil && !hasID
	hasMethod := probe.Method != nil
	hasResult := probe.Result != nil
	hasError := probe.Error != nil

	var id any
	if hasID {
		if err := json.Unmarshal(probe.ID, &id); err != nil {
			return nil, mcperrors.ParseError(err)
		}
		switch id.(type) {
		case string, float64:
		default:
			return nil, mcperrors.InvalidRequest("id must be a string or a number")
		}
	}

	switch {
	case hasMethod:
		if hasResult || hasError {
			return nil, mcperrors.InvalidRequest("method and result/error on one message")
		}
		var method string
		if err := json.Unmarshal(probe.Method, &method); err != nil || method == "" {
			return nil, mcperrors.InvalidRequest("method must be a non-empty string")
		}
		if nullID {
			return nil, mcperrors.InvalidRequest("request id must not be null")
		}
		if !hasID {
			return &Notification{JSONRPC: version, Method: method, Params: probe.Params}, nil
		}
		return &Request{JSONRPC: version, ID: id, Method: method, Params: probe.Params}, nil

	case hasResult && hasError:
		return nil, mcperrors.InvalidRequest("response with both result and error")

	case hasError:
		// A null id is tolerated here: error responses answering a message
		// whose id could not be read carry id null per JSON-RPC 2.0.
		if probe.ID == nil {
			return nil, mcperrors.InvalidRequest("response missing id")
		}
		var eo ErrorObject
		if err := json.Unmarshal(probe.Error, &eo); err != nil {
			return nil, mcperrors.InvalidRequest("malformed error object")
		}
		if eo.Message == "" && eo.Code == 0 {
			return nil, mcperrors.InvalidRequest("error object missing code and message")
		}
		return &Response{JSONRPC: version, ID: id, Error: &eo}, nil

	case hasResult:
		if !hasID {
			return nil, mcperrors.InvalidRequest("response missing id")
		}
		return &Response{JSONRPC: version, ID: id, Result: probe.Result}, nil

	default:
		return nil, mcperrors.InvalidRequest("message is neither request, response nor notification")
	}
}

// ErrorObjectFromError converts any error into a wire error object. MCPError
// codes and data pass through; plain errors become InternalError without
// leaking their text beyond the generic message.
func ErrorObjectFromError(err error) *ErrorObject {
	if eo, ok := err.(*ErrorObject); ok {
		return eo
	}
	if me, ok := mcperrors.As(err); ok {
		return &ErrorObject{Code: me.Code(), Message: me.Message(), Data: me.Data()}
	}
	return &ErrorObject{Code: int(ErrInternal), Message: "Internal error"}
}
