// Package protocol defines the JSON-RPC 2.0 wire types used by MCP and the
// codec that converts framed transport data to and from them.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the only JSON-RPC version this module speaks.
const JSONRPCVersion = "2.0"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

// Standard error codes per the JSON-RPC 2.0 specification.
const (
	ErrParse          ErrorCode = -32700
	ErrInvalidRequest ErrorCode = -32600
	ErrMethodNotFound ErrorCode = -32601
	ErrInvalidParams  ErrorCode = -32602
	ErrInternal       ErrorCode = -32603
)

// Message is one JSON-RPC envelope: a Request, Response, Notification or
// Batch. The interface is sealed; no other implementations exist.
type Message interface {
	isMessage()
}

// Request is a JSON-RPC 2.0 request. ID is a string or a number, never nil:
// a request without an id is a Notification, not a Request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (*Request) isMessage() {}

// NewRequest builds a request, marshaling params when non-nil.
func NewRequest(id any, method string, params any) (*Request, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: raw}, nil
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is
// set. A nil ID is only legal on an error response answering a message whose
// id could not be read (e.g. a parse error).
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

func (*Response) isMessage() {}

// NewResponse builds a success response, marshaling result when non-nil.
func NewResponse(id any, result any) (*Response, error) {
	raw, err := marshalOptional(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	if raw == nil {
		// JSON-RPC requires the result member to be present on success.
		raw = json.RawMessage(`{}`)
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id any, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &ErrorObject{Code: int(code), Message: message, Data: data},
	}
}

// Notification is a JSON-RPC 2.0 notification. It never carries an id and
// never receives a response.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (*Notification) isMessage() {}

// NewNotification builds a notification, marshaling params when non-nil.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Notification{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// Batch is an ordered sequence of requests, responses and notifications.
// Receivers process elements in array order.
type Batch []Message

func (Batch) isMessage() {}

// ErrorObject is the JSON-RPC 2.0 error member.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error makes ErrorObject usable as a Go error.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CanonicalID renders a request id in the canonical form used as a
// correlation key. Numeric ids decoded from JSON arrive as float64; integral
// values render without a fractional part so that the id 1 sent as `1`
// matches the key "1" regardless of which side produced it.
func CanonicalID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
