package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mcpkit/mcp-core-go/pkg/logging"
	"github.com/mcpkit/mcp-core-go/pkg/mcperrors"
)

// DefaultMaxMessageSize caps one newline-delimited message on stdio.
const DefaultMaxMessageSize = 4 * 1024 * 1024

// StdioConfig configures a stdio transport. Reader and Writer default to the
// process's stdin and stdout; tests substitute pipes.
type StdioConfig struct {
	Reader         io.Reader
	Writer         io.Writer
	Logger         logging.Logger
	MaxMessageSize int
}

// Stdio frames messages as newline-delimited JSON on a byte stream, the
// transport the protocol recommends for child-process servers. Diagnostics
// go through the logger (stderr by default); stdout carries only protocol
// data. The transport closes when its input reaches EOF.
type Stdio struct {
	mu      sync.Mutex
	reader  io.Reader
	writer  *bufio.Writer
	logger  logging.Logger
	maxSize int

	receive ReceiveHandler
	errorFn ErrorHandler
	closeFn CloseHandler

	done     chan struct{}
	closed   bool
	closeOne sync.Once
}

// NewStdio creates a stdio transport.
func NewStdio(cfg StdioConfig) *Stdio {
	if cfg.Reader == nil {
		cfg.Reader = os.Stdin
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Stdio{
		reader:  cfg.Reader,
		writer:  bufio.NewWriter(cfg.Writer),
		logger:  cfg.Logger,
		maxSize: cfg.MaxMessageSize,
		done:    make(chan struct{}),
	}
}

// SetReceiveHandler implements Transport.
func (t *Stdio) SetReceiveHandler(handler ReceiveHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receive = handler
}

// SetErrorHandler implements Transport.
func (t *Stdio) SetErrorHandler(handler ErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorFn = handler
}

// SetCloseHandler implements Transport.
func (t *Stdio) SetCloseHandler(handler CloseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeFn = handler
}

// Start launches the reader loop. It returns immediately; the loop runs
// until EOF, a read error, context cancellation or Close.
func (t *Stdio) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scanner := bufio.NewScanner(t.reader)
		scanner.Buffer(make([]byte, 0, 64*1024), t.maxSize)

		for scanner.Scan() {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.done:
				return nil
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			data := make([]byte, len(line))
			copy(data, line)
			t.deliver(data)
		}

		if err := scanner.Err(); err != nil {
			return mcperrors.TransportError("read", err)
		}
		// EOF: the peer closed our stdin, the session is over. The sentinel
		// cancels the group so Wait returns.
		return errStreamEnded
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-t.done:
			return nil
		}
	})

	go func() {
		err := g.Wait()
		if errors.Is(err, errStreamEnded) || errors.Is(err, context.Canceled) {
			err = nil
		}
		t.closeWith(err)
	}()
	return nil
}

// errStreamEnded marks a clean EOF on the input stream.
var errStreamEnded = errors.New("stream ended")

func (t *Stdio) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in receive handler",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
		}
	}()

	t.mu.Lock()
	handler := t.receive
	t.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

// Send implements Transport: one message, one line, flushed immediately.
func (t *Stdio) Send(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, err := t.writer.Write(data); err != nil {
		return mcperrors.TransportError("write", err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return mcperrors.TransportError("write", err)
	}
	if err := t.writer.Flush(); err != nil {
		return mcperrors.TransportError("flush", err)
	}
	return nil
}

// Close implements Transport.
func (t *Stdio) Close() error {
	t.closeWith(nil)
	return nil
}

func (t *Stdio) closeWith(err error) {
	t.closeOne.Do(func() {
		t.mu.Lock()
		t.closed = true
		flushErr := t.writer.Flush()
		closeFn := t.closeFn
		errorFn := t.errorFn
		t.mu.Unlock()

		close(t.done)

		if flushErr != nil && errorFn != nil {
			errorFn(mcperrors.TransportError("flush", flushErr))
		}
		if closeFn != nil {
			closeFn(err)
		}
	})
}
