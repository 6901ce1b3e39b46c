package session

import "context"

// Instrumentation receives the session's observable events. Implementations
// live in pkg/observability; the session itself depends only on this
// interface and defaults to the no-op.
type Instrumentation interface {
	// RequestStarted is called before an outbound request is sent. The
	// returned context rides through the transport call and the wait; finish
	// is called exactly once with the terminal status ("ok", "error",
	// "timeout" or "cancelled").
	RequestStarted(ctx context.Context, method string) (context.Context, func(status string))

	// InboundHandled is called after an inbound request or notification was
	// dispatched. kind is "request" or "notification".
	InboundHandled(ctx context.Context, method, kind, status string)

	// StateChanged is called on every session state transition.
	StateChanged(from, to string)

	// PendingChanged observes the pending-request count.
	PendingChanged(n int)
}

// NopInstrumentation discards every event.
type NopInstrumentation struct{}

func (NopInstrumentation) RequestStarted(ctx context.Context, method string) (context.Context, func(status string)) {
	return ctx, func(string) {}
}

func (NopInstrumentation) InboundHandled(context.Context, string, string, string) {}

func (NopInstrumentation) StateChanged(string, string) {}

func (NopInstrumentation) PendingChanged(int) {}
