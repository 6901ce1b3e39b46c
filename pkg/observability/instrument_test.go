package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNewSessionMetricsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()

	m1, err := NewSessionMetrics(MetricsConfig{Registerer: reg})
	require.NoError(t, err)

	// A second construction against the same registry is tolerated.
	_, err = NewSessionMetrics(MetricsConfig{Registerer: reg})
	require.NoError(t, err)

	m1.observePending(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m1.pendingRequests))
}

func TestInstrumentationRecordsRequestOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewSessionMetrics(MetricsConfig{Registerer: reg})
	require.NoError(t, err)

	instr := NewInstrumentation(m, nil)

	ctx, finish := instr.RequestStarted(context.Background(), "tools/call")
	require.NotNil(t, ctx)
	finish("ok")
	finish2 := func() {
		_, f := instr.RequestStarted(context.Background(), "tools/call")
		f("error")
	}
	finish2()

	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.requestTotal.WithLabelValues("tools/call", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.requestTotal.WithLabelValues("tools/call", "error")))
}

func TestInstrumentationCountsInboundAndTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewSessionMetrics(MetricsConfig{Registerer: reg})
	require.NoError(t, err)

	instr := NewInstrumentation(m, nil)
	instr.InboundHandled(context.Background(), "ping", "request", "ok")
	instr.StateChanged("uninitialized", "initializing")
	instr.PendingChanged(1)
	instr.PendingChanged(0)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.inboundTotal.WithLabelValues("ping", "request", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.stateTransitions.WithLabelValues("uninitialized", "initializing")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.pendingRequests))
}

func TestNilBackendsAreSafe(t *testing.T) {
	instr := NewInstrumentation(nil, nil)

	ctx, finish := instr.RequestStarted(context.Background(), "ping")
	require.NotNil(t, ctx)
	finish("ok")
	instr.InboundHandled(context.Background(), "ping", "request", "ok")
	instr.StateChanged("ready", "closed")
	instr.PendingChanged(0)
}

func TestNoopTracingProvider(t *testing.T) {
	tp, err := NewTracingProvider(TracingConfig{
		ExporterType: ExporterTypeNoop,
		ServiceName:  "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	ctx, span := tp.StartMethodSpan(context.Background(), "tools/list", trace.SpanKindClient)
	require.NotNil(t, ctx)
	span.End()
}
