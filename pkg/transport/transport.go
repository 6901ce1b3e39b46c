// Package transport delivers framed protocol messages between the two ends
// of a session. Transports are deliberately narrow: they move bytes and
// report errors, and everything above framing belongs to pkg/session.
// Messages written to one connection are delivered in order; no transport
// may reorder within a connection.
package transport

import (
	"context"
	"errors"
	"time"
)

// ReceiveHandler consumes one framed unit of inbound data.
type ReceiveHandler func(data []byte)

// ErrorHandler is notified of transport-level faults that do not terminate
// the connection.
type ErrorHandler func(err error)

// CloseHandler is notified exactly once when the transport stops delivering
// messages. err is nil on orderly shutdown.
type CloseHandler func(err error)

// Transport is the narrow channel contract the session depends on.
type Transport interface {
	// Start begins delivering inbound data to the receive handler. Handlers
	// must be set before Start.
	Start(ctx context.Context) error

	// Send writes one framed message. Safe for concurrent use.
	Send(ctx context.Context, data []byte) error

	SetReceiveHandler(handler ReceiveHandler)
	SetErrorHandler(handler ErrorHandler)
	SetCloseHandler(handler CloseHandler)

	// Close releases the transport. Idempotent.
	Close() error
}

// ErrClosed is returned by Send after the transport has closed.
var ErrClosed = errors.New("transport closed")

// ReconnectPolicy decides how a transport retries a lost connection. It is
// injected, not part of the session contract: the state machine never sees
// reconnection.
type ReconnectPolicy interface {
	// NextDelay returns the wait before reconnect attempt n (1-based).
	// ok is false when the policy gives up.
	NextDelay(attempt int) (delay time.Duration, ok bool)
}

// ExponentialBackoff is the default reconnect policy.
type ExponentialBackoff struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int // zero means unlimited
}

// DefaultBackoff mirrors the retry defaults used across the module.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Factor:      2.0,
		MaxAttempts: 5,
	}
}

// NextDelay implements ReconnectPolicy.
func (b *ExponentialBackoff) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < 1 || (b.MaxAttempts > 0 && attempt > b.MaxAttempts) {
		return 0, false
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d >= b.Max {
			return b.Max, true
		}
	}
	if d > b.Max {
		d = b.Max
	}
	return d, true
}

// NoReconnect is a policy that never retries.
type NoReconnect struct{}

// NextDelay implements ReconnectPolicy.
func (NoReconnect) NextDelay(int) (time.Duration, bool) { return 0, false }
