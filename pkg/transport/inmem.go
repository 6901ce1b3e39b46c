package transport

import (
	"context"
	"sync"
)

// InMemory is one end of a paired in-process transport. It preserves write
// order and is used to run a client and a server session inside one process,
// primarily in tests.
type InMemory struct {
	mu       sync.Mutex
	peer     *InMemory
	receive  ReceiveHandler
	errorFn  ErrorHandler
	closeFn  CloseHandler
	queue    chan []byte
	done     chan struct{}
	started  bool
	closed   bool
	closeOne sync.Once
}

// NewInMemoryPair creates two connected transports. Data sent on one side is
// delivered, in order, to the other side's receive handler.
func NewInMemoryPair() (*InMemory, *InMemory) {
	a := &InMemory{queue: make(chan []byte, 64), done: make(chan struct{})}
	b := &InMemory{queue: make(chan []byte, 64), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// SetReceiveHandler implements Transport.
func (t *InMemory) SetReceiveHandler(handler ReceiveHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receive = handler
}

// SetErrorHandler implements Transport.
func (t *InMemory) SetErrorHandler(handler ErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorFn = handler
}

// SetCloseHandler implements Transport.
func (t *InMemory) SetCloseHandler(handler CloseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeFn = handler
}

// Start implements Transport. A single goroutine drains the inbound queue so
// delivery order matches send order.
func (t *InMemory) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	go func() {
		for {
			select {
			case data, ok := <-t.queue:
				if !ok {
					return
				}
				t.mu.Lock()
				handler := t.receive
				t.mu.Unlock()
				if handler != nil {
					handler(data)
				}
			case <-t.done:
				return
			case <-ctx.Done():
				t.Close()
				return
			}
		}
	}()
	return nil
}

// Send implements Transport.
func (t *InMemory) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	peer := t.peer
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	select {
	case peer.queue <- cp:
		return nil
	case <-peer.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Transport. Closing one end also signals the peer's close
// handler, mirroring a dropped connection.
func (t *InMemory) Close() error {
	t.closeOne.Do(func() {
		t.mu.Lock()
		t.closed = true
		closeFn := t.closeFn
		peer := t.peer
		t.mu.Unlock()

		close(t.done)
		if closeFn != nil {
			closeFn(nil)
		}
		if peer != nil {
			go peer.closeFromPeer()
		}
	})
	return nil
}

func (t *InMemory) closeFromPeer() {
	t.closeOne.Do(func() {
		t.mu.Lock()
		t.closed = true
		closeFn := t.closeFn
		t.mu.Unlock()

		close(t.done)
		if closeFn != nil {
			closeFn(ErrClosed)
		}
	})
}
