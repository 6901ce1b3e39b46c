package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/mcpkit/mcp-core-go/pkg/logging"
	"github.com/mcpkit/mcp-core-go/pkg/mcperrors"
)

// Header names of the streamable HTTP transport.
const (
	HeaderSessionID   = "Mcp-Session-Id"
	HeaderLastEventID = "Last-Event-ID"
)

const sseEventMessage = "message"

// StreamableHTTPConfig configures the client side of the streamable HTTP
// transport.
type StreamableHTTPConfig struct {
	// Endpoint is the single MCP endpoint URL.
	Endpoint string

	// HTTPClient defaults to a client with a 30s dial/header timeout.
	HTTPClient *http.Client

	// Reconnect governs reopening the GET stream. Defaults to
	// DefaultBackoff; NoReconnect disables resumption.
	Reconnect ReconnectPolicy

	// Headers are added to every request (e.g. authorization).
	Headers map[string]string

	Logger logging.Logger

	// MaxEventSize caps one SSE event. Zero uses the library default.
	MaxEventSize int
}

// StreamableHTTP is the client end of the streamable HTTP transport: POST
// carries outbound messages, an optional GET stream carries unsolicited
// server-to-client traffic, DELETE terminates the session. The session id
// issued by the server on initialize is echoed on every later request, and
// the GET stream resumes with Last-Event-ID after a drop.
type StreamableHTTP struct {
	endpoint  string
	client    *http.Client
	reconnect ReconnectPolicy
	headers   map[string]string
	logger    logging.Logger
	maxEvent  int

	mu        sync.Mutex
	sessionID string
	lastEvent string
	receive   ReceiveHandler
	errorFn   ErrorHandler
	closeFn   CloseHandler

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
	closeOne sync.Once
}

// NewStreamableHTTP creates the transport. Start opens the listening stream;
// Send works as soon as the transport is constructed.
func NewStreamableHTTP(cfg StreamableHTTPConfig) (*StreamableHTTP, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("streamable http: endpoint is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 0}
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = DefaultBackoff()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &StreamableHTTP{
		endpoint:  cfg.Endpoint,
		client:    cfg.HTTPClient,
		reconnect: cfg.Reconnect,
		headers:   cfg.Headers,
		logger:    cfg.Logger,
		maxEvent:  cfg.MaxEventSize,
	}, nil
}

// SetReceiveHandler implements Transport.
func (t *StreamableHTTP) SetReceiveHandler(handler ReceiveHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receive = handler
}

// SetErrorHandler implements Transport.
func (t *StreamableHTTP) SetErrorHandler(handler ErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorFn = handler
}

// SetCloseHandler implements Transport.
func (t *StreamableHTTP) SetCloseHandler(handler CloseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeFn = handler
}

// SessionID returns the server-issued session id, if any yet.
func (t *StreamableHTTP) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Start implements Transport. It opens the GET listening stream and keeps it
// open, reconnecting per the configured policy.
func (t *StreamableHTTP) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.ctx != nil {
		t.mu.Unlock()
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	t.wg.Add(1)
	go t.listenLoop()
	return nil
}

func (t *StreamableHTTP) listenLoop() {
	defer t.wg.Done()

	attempt := 0
	for {
		if t.ctx.Err() != nil {
			return
		}
		err := t.listenOnce()
		if t.ctx.Err() != nil {
			return
		}
		if err != nil {
			t.reportError(err)
		}

		attempt++
		delay, ok := t.reconnect.NextDelay(attempt)
		if !ok {
			t.closeWith(mcperrors.TransportClosed(err))
			return
		}
		select {
		case <-time.After(delay):
		case <-t.ctx.Done():
			return
		}
	}
}

// listenOnce opens one GET stream and consumes events until it drops.
func (t *StreamableHTTP) listenOnce() error {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return mcperrors.TransportError("listen", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	t.applyHeaders(req, true)

	resp, err := t.client.Do(req)
	if err != nil {
		return mcperrors.TransportError("listen", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusMethodNotAllowed:
		// The server offers no listening stream; POST responses still work.
		t.logger.Debug("server does not offer a GET stream")
		<-t.ctx.Done()
		return nil
	default:
		return mcperrors.TransportError("listen",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return t.consumeStream(resp.Body, true)
}

// consumeStream reads SSE events and hands message payloads to the session.
// track controls whether event ids are recorded for resumption (only the
// long-lived GET stream is resumable).
func (t *StreamableHTTP) consumeStream(body io.Reader, track bool) error {
	var cfg *sse.ReadConfig
	if t.maxEvent > 0 {
		cfg = &sse.ReadConfig{MaxEventSize: t.maxEvent}
	}

	for ev, err := range sse.Read(body, cfg) {
		if err != nil {
			return mcperrors.TransportError("stream read", err)
		}
		if track && ev.LastEventID != "" {
			t.mu.Lock()
			t.lastEvent = ev.LastEventID
			t.mu.Unlock()
		}
		if ev.Type != "" && ev.Type != sseEventMessage {
			continue
		}
		t.deliver([]byte(ev.Data))
	}
	return nil
}

// Send implements Transport. Notifications and responses are acknowledged
// with 202; requests may be answered inline with JSON or with a short SSE
// stream that is consumed until the server closes it.
func (t *StreamableHTTP) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return mcperrors.TransportError("send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.applyHeaders(req, false)

	resp, err := t.client.Do(req)
	if err != nil {
		return mcperrors.TransportError("send", err)
	}

	if sid := resp.Header.Get(HeaderSessionID); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		resp.Body.Close()
		return nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		switch contentType {
		case "text/event-stream":
			// The reply arrives as events on the POST body; consume it in
			// the background so Send never blocks on the peer's handler.
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				defer resp.Body.Close()
				if err := t.consumeStream(resp.Body, false); err != nil {
					t.reportError(err)
				}
			}()
			return nil
		default:
			defer resp.Body.Close()
			payload, err := io.ReadAll(resp.Body)
			if err != nil {
				return mcperrors.TransportError("send", err)
			}
			if len(bytes.TrimSpace(payload)) > 0 {
				t.deliver(payload)
			}
			return nil
		}

	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		// The server expired our session; nothing more will be delivered.
		err := mcperrors.TransportClosed(fmt.Errorf("session not found"))
		t.closeWith(err)
		return err

	default:
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return mcperrors.TransportError("send",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
}

// Close implements Transport. It best-effort DELETEs the session before
// tearing down the stream.
func (t *StreamableHTTP) Close() error {
	t.mu.Lock()
	sid := t.sessionID
	alreadyClosed := t.closed
	t.mu.Unlock()

	if !alreadyClosed && sid != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.endpoint, nil)
		if err == nil {
			req.Header.Set(HeaderSessionID, sid)
			if resp, err := t.client.Do(req); err == nil {
				resp.Body.Close()
			}
		}
		cancel()
	}

	t.closeWith(nil)
	return nil
}

func (t *StreamableHTTP) closeWith(err error) {
	t.closeOne.Do(func() {
		t.mu.Lock()
		t.closed = true
		cancel := t.cancel
		closeFn := t.closeFn
		t.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if closeFn != nil {
			closeFn(err)
		}
	})
}

func (t *StreamableHTTP) applyHeaders(req *http.Request, stream bool) {
	t.mu.Lock()
	sid := t.sessionID
	lastEvent := t.lastEvent
	t.mu.Unlock()

	if sid != "" {
		req.Header.Set(HeaderSessionID, sid)
	}
	if stream && lastEvent != "" {
		req.Header.Set(HeaderLastEventID, lastEvent)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

func (t *StreamableHTTP) deliver(data []byte) {
	t.mu.Lock()
	handler := t.receive
	t.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

func (t *StreamableHTTP) reportError(err error) {
	t.mu.Lock()
	handler := t.errorFn
	t.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}
