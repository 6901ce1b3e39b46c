package session

import (
	"context"
	"encoding/json"

	"github.com/mcpkit/mcp-core-go/pkg/protocol"
)

// RequestContext carries everything a handler needs about one inbound
// request. Handlers receive it explicitly; there is no ambient session
// state.
type RequestContext struct {
	session *Session
	id      any
	method  string
	params  json.RawMessage
	token   string
}

// Session returns the session the request arrived on.
func (rc *RequestContext) Session() *Session { return rc.session }

// ID returns the wire request id (string or number).
func (rc *RequestContext) ID() any { return rc.id }

// Method returns the request method.
func (rc *RequestContext) Method() string { return rc.method }

// Params returns the raw request params.
func (rc *RequestContext) Params() json.RawMessage { return rc.params }

// ProgressToken returns the requester's progress token, empty when the
// request did not carry one.
func (rc *RequestContext) ProgressToken() string { return rc.token }

// BindParams unmarshals the request params into v.
func (rc *RequestContext) BindParams(v any) error {
	if len(rc.params) == 0 {
		return nil
	}
	return json.Unmarshal(rc.params, v)
}

// ReportProgress emits notifications/progress correlated with this request.
// It is a no-op when the requester supplied no progress token.
func (rc *RequestContext) ReportProgress(ctx context.Context, progress, total float64, message string) error {
	if rc.token == "" {
		return nil
	}
	return rc.session.Notify(ctx, protocol.MethodNotificationProgress, &protocol.ProgressParams{
		ProgressToken: rc.token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// requestMeta is the slice of params every request may carry regardless of
// method: the _meta object with the requester's progress token.
type requestMeta struct {
	Meta struct {
		ProgressToken string `json:"progressToken"`
	} `json:"_meta"`
}

func progressTokenOf(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var m requestMeta
	if err := json.Unmarshal(params, &m); err != nil {
		return ""
	}
	return m.Meta.ProgressToken
}
