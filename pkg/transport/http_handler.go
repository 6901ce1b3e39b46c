package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/mcpkit/mcp-core-go/pkg/logging"
)

// replayBufferSize bounds how many outbound stream events are kept for
// Last-Event-ID resumption per session.
const replayBufferSize = 256

// defaultPOSTTimeout bounds how long a POSTed request waits for its
// response before the handler gives up on inline delivery.
const defaultPOSTTimeout = 30 * time.Second

// AcceptSessionFunc is invoked when a new client session arrives. The
// callee must wire handlers to the transport (typically by creating a
// server session around it) before returning.
type AcceptSessionFunc func(t Transport, sessionID string)

// HTTPHandlerConfig configures the server side of the streamable HTTP
// transport.
type HTTPHandlerConfig struct {
	// AcceptSession is required; it binds each new session's transport.
	AcceptSession AcceptSessionFunc

	// AllowedOrigins restricts the Origin header when non-empty.
	AllowedOrigins []string

	// POSTTimeout bounds inline response delivery for POSTed requests.
	POSTTimeout time.Duration

	Logger logging.Logger
}

// HTTPHandler is the single-endpoint server side of the streamable HTTP
// transport. POST carries client-to-server messages, GET opens the
// server-to-client event stream, DELETE terminates a session. Each session
// is identified by a server-issued Mcp-Session-Id and surfaces to the
// application as one Transport.
type HTTPHandler struct {
	cfg HTTPHandlerConfig

	mu       sync.RWMutex
	sessions map[string]*httpSession
}

// NewHTTPHandler creates the handler.
func NewHTTPHandler(cfg HTTPHandlerConfig) *HTTPHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.POSTTimeout <= 0 {
		cfg.POSTTimeout = defaultPOSTTimeout
	}
	return &HTTPHandler{cfg: cfg, sessions: make(map[string]*httpSession)}
}

// ServeHTTP implements http.Handler.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// SessionCount reports the number of live sessions.
func (h *HTTPHandler) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every live session.
func (h *HTTPHandler) Shutdown() {
	h.mu.Lock()
	sessions := make([]*httpSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*httpSession)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (h *HTTPHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	sess, created, ok := h.resolveSession(r, body)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if created {
		w.Header().Set(HeaderSessionID, sess.id)
	}

	ids := postedRequestIDs(body)
	if len(ids) == 0 {
		// Pure notifications or responses: acknowledge and move on.
		sess.deliver(body)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	waiter := sess.addWaiter(ids)
	defer sess.removeWaiter(waiter)

	sess.deliver(body)

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.POSTTimeout)
	defer cancel()

	responses, err := waiter.wait(ctx)
	if err != nil {
		// The response, when it materializes, goes out on the GET stream.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(responses) == 1 {
		w.Write(responses[0])
		return
	}
	w.Write([]byte{'['})
	for i, resp := range responses {
		if i > 0 {
			w.Write([]byte{','})
		}
		w.Write(resp)
	}
	w.Write([]byte{']'})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(r.Header.Get(HeaderSessionID))
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	sess.serveStream(w, r)
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(HeaderSessionID)
	sess := h.lookup(sid)
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	h.remove(sid)
	sess.Close()
	w.WriteHeader(http.StatusNoContent)
}

// resolveSession finds the session addressed by the request, creating one
// when an initialize request arrives without a session id.
func (h *HTTPHandler) resolveSession(r *http.Request, body []byte) (sess *httpSession, created bool, ok bool) {
	if sid := r.Header.Get(HeaderSessionID); sid != "" {
		sess = h.lookup(sid)
		return sess, false, sess != nil
	}

	if !isInitializeRequest(body) {
		return nil, false, false
	}

	sess = newHTTPSession(uuid.NewString(), h.cfg.Logger)
	sess.onClose = func() { h.remove(sess.id) }

	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()

	h.cfg.AcceptSession(sess, sess.id)
	return sess, true, true
}

func (h *HTTPHandler) lookup(sid string) *httpSession {
	if sid == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[sid]
}

func (h *HTTPHandler) remove(sid string) {
	h.mu.Lock()
	delete(h.sessions, sid)
	h.mu.Unlock()
}

func (h *HTTPHandler) originAllowed(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
	}
	return false
}

// httpSession is the Transport for one streamable HTTP session on the
// server side.
type httpSession struct {
	id     string
	logger logging.Logger

	mu      sync.Mutex
	receive ReceiveHandler
	errorFn ErrorHandler
	closeFn CloseHandler
	onClose func()

	// Outbound stream state: the live SSE session (nil while no GET stream
	// is attached), a replay ring for resumption and the event id counter.
	stream     *sse.Session
	nextEvent  int64
	replay     []storedEvent
	waiters    []*postWaiter
	done       chan struct{}
	closed     bool
	closeOne   sync.Once
	streamGone chan struct{}
}

type storedEvent struct {
	id   int64
	data []byte
}

func newHTTPSession(id string, logger logging.Logger) *httpSession {
	return &httpSession{
		id:     id,
		logger: logger.WithFields(logging.String("session_id", id)),
		done:   make(chan struct{}),
	}
}

// Start implements Transport. Delivery is driven by HTTP requests, so there
// is nothing to launch.
func (s *httpSession) Start(ctx context.Context) error { return nil }

// SetReceiveHandler implements Transport.
func (s *httpSession) SetReceiveHandler(handler ReceiveHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receive = handler
}

// SetErrorHandler implements Transport.
func (s *httpSession) SetErrorHandler(handler ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorFn = handler
}

// SetCloseHandler implements Transport.
func (s *httpSession) SetCloseHandler(handler CloseHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFn = handler
}

// Send implements Transport. Responses to requests a POST is still waiting
// on are delivered inline; everything else goes out on the event stream.
func (s *httpSession) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if w := s.matchWaiterLocked(data); w != nil {
		s.mu.Unlock()
		w.complete(data)
		return nil
	}
	s.mu.Unlock()

	return s.publish(data)
}

// Close implements Transport.
func (s *httpSession) Close() error {
	s.closeOne.Do(func() {
		s.mu.Lock()
		s.closed = true
		closeFn := s.closeFn
		onClose := s.onClose
		waiters := s.waiters
		s.waiters = nil
		s.mu.Unlock()

		close(s.done)
		for _, w := range waiters {
			w.fail()
		}
		if onClose != nil {
			onClose()
		}
		if closeFn != nil {
			closeFn(nil)
		}
	})
	return nil
}

func (s *httpSession) deliver(data []byte) {
	s.mu.Lock()
	handler := s.receive
	s.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

// publish writes one event to the stream, buffering it for replay. Events
// published while no stream is attached are delivered on the next GET.
func (s *httpSession) publish(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.nextEvent++
	ev := storedEvent{id: s.nextEvent, data: cp}
	s.replay = append(s.replay, ev)
	if len(s.replay) > replayBufferSize {
		s.replay = s.replay[len(s.replay)-replayBufferSize:]
	}
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := s.writeEvent(stream, ev); err != nil {
		s.logger.Debug("stream write failed, event buffered for replay",
			logging.ErrorField(err))
	}
	return nil
}

func (s *httpSession) writeEvent(stream *sse.Session, ev storedEvent) error {
	msg := &sse.Message{Type: sse.Type(sseEventMessage)}
	msg.ID = sse.ID(strconv.FormatInt(ev.id, 10))
	msg.AppendData(string(ev.data))
	if err := stream.Send(msg); err != nil {
		return err
	}
	return stream.Flush()
}

// serveStream attaches a GET event stream, replaying buffered events after
// the client's Last-Event-ID, then blocks until the session or request ends.
func (s *httpSession) serveStream(w http.ResponseWriter, r *http.Request) {
	stream, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusInternalServerError)
		return
	}

	var after int64
	if last := r.Header.Get(HeaderLastEventID); last != "" {
		after, _ = strconv.ParseInt(last, 10, 64)
	}

	s.mu.Lock()
	s.stream = stream
	backlog := make([]storedEvent, 0, len(s.replay))
	for _, ev := range s.replay {
		if ev.id > after {
			backlog = append(backlog, ev)
		}
	}
	s.mu.Unlock()

	for _, ev := range backlog {
		if err := s.writeEvent(stream, ev); err != nil {
			break
		}
	}

	select {
	case <-s.done:
	case <-r.Context().Done():
	}

	s.mu.Lock()
	if s.stream == stream {
		s.stream = nil
	}
	s.mu.Unlock()
}

// addWaiter registers inline response delivery for the given request ids.
func (s *httpSession) addWaiter(ids []string) *postWaiter {
	w := &postWaiter{
		pending: make(map[string]struct{}, len(ids)),
		ready:   make(chan struct{}),
	}
	for _, id := range ids {
		w.pending[id] = struct{}{}
	}
	s.mu.Lock()
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()
	return w
}

func (s *httpSession) removeWaiter(w *postWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cand := range s.waiters {
		if cand == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// matchWaiterLocked returns the waiter expecting this response, if any.
// Callers hold s.mu.
func (s *httpSession) matchWaiterLocked(data []byte) *postWaiter {
	id, ok := responseID(data)
	if !ok {
		return nil
	}
	for _, w := range s.waiters {
		if w.expects(id) {
			return w
		}
	}
	return nil
}

// postWaiter collects the responses for one POSTed request (or batch).
type postWaiter struct {
	mu        sync.Mutex
	pending   map[string]struct{}
	responses [][]byte
	ready     chan struct{}
	failed    bool
}

func (w *postWaiter) expects(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[id]
	return ok
}

func (w *postWaiter) complete(data []byte) {
	id, ok := responseID(data)
	if !ok {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[id]; !ok {
		return
	}
	delete(w.pending, id)
	w.responses = append(w.responses, cp)
	if len(w.pending) == 0 {
		close(w.ready)
	}
}

func (w *postWaiter) fail() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed {
		return
	}
	w.failed = true
	if len(w.pending) > 0 {
		w.pending = map[string]struct{}{}
		close(w.ready)
	}
}

func (w *postWaiter) wait(ctx context.Context) ([][]byte, error) {
	select {
	case <-w.ready:
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.failed || len(w.responses) == 0 {
			return nil, ErrClosed
		}
		return w.responses, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// postedRequestIDs extracts the canonical ids of the requests in a POSTed
// body (single message or batch). Notifications and responses yield none.
func postedRequestIDs(body []byte) []string {
	var ids []string
	for _, raw := range splitTopLevel(body) {
		var probe struct {
			ID     any             `json:"id"`
			Method string          `json:"method"`
			Result json.RawMessage `json:"result"`
			Error  json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if probe.Method != "" && probe.ID != nil && probe.Result == nil && probe.Error == nil {
			ids = append(ids, canonicalJSONID(probe.ID))
		}
	}
	return ids
}

// responseID extracts the canonical id of a single response body.
func responseID(data []byte) (string, bool) {
	var probe struct {
		ID     any             `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", false
	}
	if probe.Method != "" || probe.ID == nil || (probe.Result == nil && probe.Error == nil) {
		return "", false
	}
	return canonicalJSONID(probe.ID), true
}

func isInitializeRequest(body []byte) bool {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Method == "initialize"
}

// splitTopLevel returns the elements of a JSON array body, or the body
// itself when it is a single object.
func splitTopLevel(body []byte) []json.RawMessage {
	trimmed := make([]byte, 0)
	for _, c := range body {
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		trimmed = append(trimmed, c)
		break
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(body, &elems); err == nil {
			return elems
		}
	}
	return []json.RawMessage{body}
}

func canonicalJSONID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return ""
	}
}
