package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mcpkit/mcp-core-go/pkg/session"
)

// Instrumentation implements session.Instrumentation over optional metrics
// and tracing backends. Either may be nil.
type Instrumentation struct {
	metrics *SessionMetrics
	tracing *TracingProvider
}

var _ session.Instrumentation = (*Instrumentation)(nil)

// NewInstrumentation combines the backends into one hook set.
func NewInstrumentation(metrics *SessionMetrics, tracing *TracingProvider) *Instrumentation {
	return &Instrumentation{metrics: metrics, tracing: tracing}
}

// RequestStarted implements session.Instrumentation.
func (i *Instrumentation) RequestStarted(ctx context.Context, method string) (context.Context, func(status string)) {
	start := time.Now()

	var span trace.Span
	if i.tracing != nil {
		ctx, span = i.tracing.StartMethodSpan(ctx, method, trace.SpanKindClient)
	}

	return ctx, func(status string) {
		if i.metrics != nil {
			i.metrics.observeRequest(method, status, time.Since(start))
		}
		if span != nil {
			endSpan(span, status)
		}
	}
}

// InboundHandled implements session.Instrumentation.
func (i *Instrumentation) InboundHandled(ctx context.Context, method, kind, status string) {
	if i.metrics != nil {
		i.metrics.observeInbound(method, kind, status)
	}
	if i.tracing != nil {
		_, span := i.tracing.StartMethodSpan(ctx, method, trace.SpanKindServer)
		endSpan(span, status)
	}
}

// StateChanged implements session.Instrumentation.
func (i *Instrumentation) StateChanged(from, to string) {
	if i.metrics != nil {
		i.metrics.observeTransition(from, to)
	}
}

// PendingChanged implements session.Instrumentation.
func (i *Instrumentation) PendingChanged(n int) {
	if i.metrics != nil {
		i.metrics.observePending(n)
	}
}
