// Package session implements the connection lifecycle shared by both ends
// of an MCP connection: the initialize handshake, the state machine gating
// which traffic may flow when, request/response correlation, cancellation
// and full-duplex dispatch. The client and server facades in pkg/client and
// pkg/server are thin wrappers over this package.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpkit/mcp-core-go/pkg/capability"
	"github.com/mcpkit/mcp-core-go/pkg/logging"
	"github.com/mcpkit/mcp-core-go/pkg/mcperrors"
	"github.com/mcpkit/mcp-core-go/pkg/protocol"
	"github.com/mcpkit/mcp-core-go/pkg/transport"
)

// State is the session lifecycle phase.
type State int

const (
	// StateUninitialized is the state before the handshake begins.
	StateUninitialized State = iota
	// StateInitializing covers the handshake exchange.
	StateInitializing
	// StateReady permits the full declared method surface.
	StateReady
	// StateClosed is terminal after an orderly shutdown.
	StateClosed
	// StateFailed is terminal after an unrecoverable violation. The reason
	// is kept for inspection; nothing more is sent.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler processes one inbound request and returns the result payload or
// an error. Domain failures belong in the result (isError convention); a
// returned error becomes a JSON-RPC error response.
type Handler func(ctx context.Context, rc *RequestContext) (any, error)

// NotificationHandler processes one inbound notification. Best effort: no
// response, no error channel.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// DefaultRequestTimeout applies to outbound requests when the config sets
// none.
const DefaultRequestTimeout = 30 * time.Second

// Config assembles a session.
type Config struct {
	Role      capability.Role
	Transport transport.Transport

	// Name and Version identify this side in the handshake.
	Name    string
	Version string

	// Capabilities is this side's declaration, fixed for the session.
	Capabilities protocol.CapabilitySet

	// Instructions is included in the initialize result (server role only).
	Instructions string

	// RequestTimeout is the default deadline for outbound requests. Zero
	// selects DefaultRequestTimeout; negative disables the deadline.
	RequestTimeout time.Duration

	Logger          logging.Logger
	Instrumentation Instrumentation

	// CapabilityOptions tune the registry (e.g. implicit completions).
	CapabilityOptions []capability.Option
}

// Session is one end of an MCP connection.
type Session struct {
	role    capability.Role
	tr      transport.Transport
	caps    *capability.Registry
	pending *Tracker
	logger  logging.Logger
	instr   Instrumentation

	name           string
	version        string
	instructions   string
	requestTimeout time.Duration

	mu           sync.Mutex
	state        State
	failure      error
	initSent     bool
	negotiated   string
	remoteClient *protocol.ClientInfo
	remoteServer *protocol.ServerInfo
	remoteNotes  string

	handlers    map[string]Handler
	notifs      map[string]NotificationHandler
	progressFns map[string]func(protocol.ProgressParams)
	loggingFn   func(protocol.LoggingMessageParams)

	// inbound maps canonical request ids of in-flight inbound requests to
	// their cancel functions, for notifications/cancelled.
	inbound map[string]context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// New assembles a session over the transport. Start must be called before
// any traffic flows.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Instrumentation == nil {
		cfg.Instrumentation = NopInstrumentation{}
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RequestTimeout < 0 {
		cfg.RequestTimeout = 0
	}

	caps := capability.NewRegistry(cfg.Role, cfg.CapabilityOptions...)
	if err := caps.DeclareLocal(cfg.Capabilities); err != nil {
		return nil, err
	}

	s := &Session{
		role:           cfg.Role,
		tr:             cfg.Transport,
		caps:           caps,
		pending:        NewTracker(),
		logger:         cfg.Logger.WithFields(logging.String("role", cfg.Role.String())),
		instr:          cfg.Instrumentation,
		name:           cfg.Name,
		version:        cfg.Version,
		instructions:   cfg.Instructions,
		requestTimeout: cfg.RequestTimeout,
		handlers:       make(map[string]Handler),
		notifs:         make(map[string]NotificationHandler),
		progressFns:    make(map[string]func(protocol.ProgressParams)),
		inbound:        make(map[string]context.CancelFunc),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
	}
	s.pending.SetChangeObserver(s.instr.PendingChanged)

	s.tr.SetReceiveHandler(s.onReceive)
	s.tr.SetErrorHandler(func(err error) {
		s.logger.Warn("transport error", logging.ErrorField(err))
	})
	s.tr.SetCloseHandler(s.onTransportClose)
	return s, nil
}

// Start begins processing inbound traffic.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.baseCtx == nil {
		s.baseCtx, s.baseCancel = context.WithCancel(ctx)
	}
	s.mu.Unlock()
	return s.tr.Start(s.baseCtx)
}

// Role returns which end of the connection this session is.
func (s *Session) Role() capability.Role { return s.role }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailureReason returns the error that moved the session to Failed, nil
// otherwise.
func (s *Session) FailureReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// NegotiatedVersion returns the protocol revision agreed during the
// handshake, empty before Ready.
func (s *Session) NegotiatedVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiated
}

// RemoteServerInfo returns the peer's identity (client role), nil before
// the handshake completes.
func (s *Session) RemoteServerInfo() *protocol.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteServer
}

// RemoteClientInfo returns the peer's identity (server role), nil before
// initialize arrives.
func (s *Session) RemoteClientInfo() *protocol.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteClient
}

// Instructions returns the usage notes the server attached to its
// initialize result.
func (s *Session) Instructions() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteNotes
}

// Capabilities exposes the registry for sub-capability queries.
func (s *Session) Capabilities() *capability.Registry { return s.caps }

// Pending reports the number of outbound requests awaiting a response.
func (s *Session) Pending() int { return s.pending.Len() }

// Ready is closed when the handshake completes.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done is closed when the session reaches Closed or Failed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// RegisterHandler routes inbound requests for method to h. Registration
// after Start is safe; replacing a handler is allowed until the first
// request for it arrives.
func (s *Session) RegisterHandler(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// RegisterNotificationHandler routes inbound notifications for method to h.
func (s *Session) RegisterNotificationHandler(method string, h NotificationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifs[method] = h
}

// SetLoggingHandler receives notifications/message payloads, including
// those arriving before the session is ready.
func (s *Session) SetLoggingHandler(fn func(protocol.LoggingMessageParams)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggingFn = fn
}

// Initialize performs the three-step handshake (client role): send
// initialize, validate the server's answer, confirm with the initialized
// notification. Exactly one call per session. An unsupported server version
// fails the session and closes the transport without sending initialized.
func (s *Session) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	if s.role != capability.RoleClient {
		return nil, mcperrors.New(mcperrors.CodeValidationFailed,
			"only the client initiates the handshake", mcperrors.CategoryUsage)
	}

	s.mu.Lock()
	if s.initSent {
		s.mu.Unlock()
		return nil, mcperrors.AlreadyInitialized()
	}
	if s.state != StateUninitialized {
		state := s.state
		s.mu.Unlock()
		return nil, mcperrors.SessionNotReady(protocol.MethodInitialize, state.String())
	}
	s.initSent = true
	s.setStateLocked(StateInitializing)
	s.mu.Unlock()

	params := &protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolRevision,
		Capabilities:    s.caps.Local(),
		ClientInfo:      protocol.ClientInfo{Name: s.name, Version: s.version},
	}
	raw, err := s.sendRequest(ctx, protocol.MethodInitialize, params, requestOptions{timeout: s.requestTimeout})
	if err != nil {
		s.fail(err)
		return nil, err
	}

	var res protocol.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		err = mcperrors.InvalidParams(protocol.MethodInitialize, "malformed initialize result")
		s.fail(err)
		return nil, err
	}

	if !protocol.SupportsProtocolVersion(res.ProtocolVersion) {
		err := mcperrors.UnsupportedProtocolVersion(res.ProtocolVersion, protocol.SupportedProtocolVersions)
		s.fail(err)
		return nil, err
	}

	if err := s.caps.RecordRemote(res.Capabilities); err != nil {
		s.fail(err)
		return nil, err
	}

	s.mu.Lock()
	s.negotiated = res.ProtocolVersion
	s.remoteServer = &res.ServerInfo
	s.remoteNotes = res.Instructions
	s.mu.Unlock()

	if err := s.Notify(ctx, protocol.MethodInitialized, nil); err != nil {
		s.fail(err)
		return nil, err
	}

	s.setState(StateReady)
	return &res, nil
}

// RequestOption tunes one outbound request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout     time.Duration
	timeoutSet  bool
	token       string
	progressFn  func(protocol.ProgressParams)
}

// WithTimeout overrides the session default deadline for this request.
// Zero or negative disables the deadline.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// WithProgress registers a callback for notifications/progress correlated
// with this request. A progress token is attached to the request's _meta;
// each progress event also extends the request's timeout window.
func WithProgress(fn func(protocol.ProgressParams)) RequestOption {
	return func(o *requestOptions) { o.progressFn = fn }
}

// WithProgressToken attaches an explicit progress token.
func WithProgressToken(token string) RequestOption {
	return func(o *requestOptions) { o.token = token }
}

// SendRequest sends one request and blocks until its response, timeout,
// cancellation or transport failure. Eligibility is checked before the
// transport is touched: a gated method before Ready, or one whose
// capability was not declared, fails fast with a local usage error.
func (s *Session) SendRequest(ctx context.Context, method string, params any, opts ...RequestOption) (json.RawMessage, error) {
	o := requestOptions{timeout: s.requestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeoutSet && o.timeout < 0 {
		o.timeout = 0
	}

	if err := s.checkSend(method); err != nil {
		return nil, err
	}
	if _, _, gated := capability.Namespace(method); gated && !s.caps.Allowed(method) {
		return nil, mcperrors.CapabilityNotDeclared(method)
	}
	return s.sendRequest(ctx, method, params, o)
}

func (s *Session) sendRequest(ctx context.Context, method string, params any, o requestOptions) (json.RawMessage, error) {
	if o.progressFn != nil && o.token == "" {
		o.token = uuid.NewString()
	}

	id, outcome := s.pending.Register(method, RegisterOptions{
		Timeout:       o.timeout,
		ProgressToken: o.token,
	})

	if o.progressFn != nil {
		s.mu.Lock()
		s.progressFns[o.token] = o.progressFn
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.progressFns, o.token)
			s.mu.Unlock()
		}()
	}

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		s.pending.Reject(id, err)
		<-outcome
		return nil, err
	}
	if o.token != "" {
		if err := attachProgressToken(req, o.token); err != nil {
			s.pending.Reject(id, err)
			<-outcome
			return nil, err
		}
	}

	data, err := protocol.Encode(req)
	if err != nil {
		s.pending.Reject(id, err)
		<-outcome
		return nil, err
	}

	sctx, finish := s.instr.RequestStarted(ctx, method)
	if err := s.tr.Send(sctx, data); err != nil {
		s.pending.Reject(id, err)
		<-outcome
		finish("error")
		return nil, err
	}

	select {
	case out := <-outcome:
		finish(outcomeStatus(out.Err))
		return out.Result, out.Err
	case <-ctx.Done():
		reason := ctx.Err().Error()
		if s.pending.Cancel(id, reason) {
			s.notifyCancelled(id, reason)
		}
		// Cancel lost the race when the outcome already settled; the
		// buffered outcome then carries the real result (or error) and
		// must be returned as such, never dropped.
		out := <-outcome
		finish(outcomeStatus(out.Err))
		return out.Result, out.Err
	}
}

// Notify sends one notification, best effort. Same eligibility rules as
// requests; there is no response to wait for.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	if err := s.checkSend(method); err != nil {
		return err
	}
	if _, _, gated := capability.Namespace(method); gated && !s.caps.Allowed(method) {
		return mcperrors.CapabilityNotDeclared(method)
	}

	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(n)
	if err != nil {
		return err
	}
	return s.tr.Send(ctx, data)
}

// Ping round-trips a ping request. Valid in every live state.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.SendRequest(ctx, protocol.MethodPing, &protocol.PingParams{})
	return err
}

// Cancel abandons a pending outbound request: the local caller completes
// immediately with a cancellation error and the peer is told, best effort,
// that the result may be discarded. Unknown ids are a no-op.
func (s *Session) Cancel(id, reason string) {
	if s.pending.Cancel(id, reason) {
		s.notifyCancelled(id, reason)
	}
}

// Close shuts the session down in an orderly way: pending requests are
// rejected, the state moves to Closed and the transport is released.
// Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.pending.FailAll(mcperrors.SessionClosed())
		s.mu.Lock()
		cancel := s.baseCancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.tr.Close()
	})
	return nil
}

// fail moves the session to Failed, rejects all pending work and closes
// the transport. The reason stays inspectable via FailureReason.
func (s *Session) fail(reason error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.failure = reason
	s.setStateLocked(StateFailed)
	cancel := s.baseCancel
	s.mu.Unlock()

	s.logger.Error("session failed", logging.ErrorField(reason))
	s.pending.FailAll(reason)
	if cancel != nil {
		cancel()
	}
	s.tr.Close()
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	s.setStateLocked(to)
	s.mu.Unlock()
}

// setStateLocked applies a transition. Closed and Failed are terminal.
// Callers hold s.mu.
func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to || from == StateClosed || from == StateFailed {
		return
	}
	s.state = to
	s.instr.StateChanged(from.String(), to.String())
	s.logger.Debug("session state",
		logging.String("from", from.String()),
		logging.String("to", to.String()))
	if to == StateReady {
		s.readyOnce.Do(func() { close(s.ready) })
	}
	if to == StateClosed || to == StateFailed {
		s.markDone()
	}
}

// checkSend is the eligibility gate for locally originated traffic. Before
// Ready only ping, the client's initialized notification and the server's
// logging notifications pass; afterwards everything does. Failing the gate
// never touches the transport.
func (s *Session) checkSend(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return mcperrors.SessionClosed()
	case StateFailed:
		if s.failure != nil {
			return s.failure
		}
		return mcperrors.SessionClosed()
	case StateReady:
		return nil
	default:
		if s.preReadyAllowed(method, true) {
			return nil
		}
		return mcperrors.SessionNotReady(method, s.state.String())
	}
}

// preReadyAllowed lists the traffic legal before the handshake completes.
// outbound distinguishes the send gate from the receive gate: the
// directionality of initialized and logging flips between them.
func (s *Session) preReadyAllowed(method string, outbound bool) bool {
	if method == protocol.MethodPing {
		return true
	}
	sender := s.role
	if !outbound {
		sender = s.role.Peer()
	}
	switch method {
	case protocol.MethodInitialized:
		return sender == capability.RoleClient
	case protocol.MethodNotificationMessage:
		return sender == capability.RoleServer
	}
	return false
}

// onReceive handles one framed unit from the transport.
func (s *Session) onReceive(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		// Malformed input is answered with a null-id error response and the
		// session carries on.
		s.logger.Warn("undecodable message", logging.ErrorField(err))
		s.respondError(nil, err)
		return
	}
	s.dispatch(msg)
}

// dispatch routes one decoded message. Batch elements are processed in
// array order; requests each get their own goroutine so a slow handler
// never stalls the reader. Notifications are dispatched inline: the
// built-ins are non-blocking and ordering against neighboring responses
// matters (a progress event must land before the result it precedes), and
// registered handlers get their own goroutine inside handleNotification.
func (s *Session) dispatch(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Request:
		go s.handleRequest(m)
	case *protocol.Notification:
		s.handleNotification(m)
	case *protocol.Response:
		s.handleResponse(m)
	case protocol.Batch:
		for _, elem := range m {
			s.dispatch(elem)
		}
	}
}

// handleRequest runs one inbound request to completion: state gate,
// built-ins, capability gate, handler, response. A handler panic becomes an
// InternalError response instead of taking the process down.
func (s *Session) handleRequest(req *protocol.Request) {
	key := protocol.CanonicalID(req.ID)

	s.mu.Lock()
	state := s.state
	baseCtx := s.baseCtx
	s.mu.Unlock()
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if state == StateClosed || state == StateFailed {
		return
	}

	// Lifecycle built-ins first: they have their own state rules.
	switch req.Method {
	case protocol.MethodInitialize:
		s.handleInitialize(req)
		return
	case protocol.MethodPing:
		s.respondResult(req.ID, &protocol.PingResult{})
		s.instr.InboundHandled(baseCtx, req.Method, "request", "ok")
		return
	}

	if state != StateReady {
		s.respondError(req.ID, mcperrors.InvalidRequest(
			fmt.Sprintf("%s is not valid before the session is ready", req.Method)))
		s.instr.InboundHandled(baseCtx, req.Method, "request", "rejected")
		return
	}

	s.mu.Lock()
	handler := s.handlers[req.Method]
	s.mu.Unlock()

	if !s.caps.Allowed(req.Method) || handler == nil {
		s.respondError(req.ID, mcperrors.MethodNotFound(req.Method))
		s.instr.InboundHandled(baseCtx, req.Method, "request", "method_not_found")
		return
	}

	ctx, cancel := context.WithCancel(baseCtx)
	s.mu.Lock()
	s.inbound[key] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.inbound, key)
		s.mu.Unlock()
	}()

	rc := &RequestContext{
		session: s,
		id:      req.ID,
		method:  req.Method,
		params:  req.Params,
		token:   progressTokenOf(req.Params),
	}

	status := "ok"
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("handler panic",
					logging.String("method", req.Method),
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())))
				s.respondError(req.ID, mcperrors.Internal(fmt.Errorf("handler panic: %v", r)))
				status = "panic"
			}
		}()

		result, err := handler(ctx, rc)
		if ctx.Err() != nil {
			// The requester cancelled (or the session is going away); any
			// response would be discarded, so none is sent.
			status = "cancelled"
			return
		}
		if err != nil {
			s.respondError(req.ID, err)
			status = "error"
			return
		}
		s.respondResult(req.ID, result)
	}()
	s.instr.InboundHandled(baseCtx, req.Method, "request", status)
}

// handleInitialize is the server's built-in initialize handler.
func (s *Session) handleInitialize(req *protocol.Request) {
	if s.role != capability.RoleServer {
		s.respondError(req.ID, mcperrors.InvalidRequest("initialize is sent by the client"))
		return
	}

	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		s.respondError(req.ID, mcperrors.InvalidRequest("session already initialized"))
		return
	}
	s.setStateLocked(StateInitializing)
	s.mu.Unlock()

	var params protocol.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.respondError(req.ID, mcperrors.InvalidParams(protocol.MethodInitialize, "malformed params"))
			return
		}
	}

	// Version negotiation: echo a supported proposal, otherwise counter with
	// the newest revision we speak and let the client decide.
	version := protocol.ProtocolRevision
	if protocol.SupportsProtocolVersion(params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	if err := s.caps.RecordRemote(params.Capabilities); err != nil {
		s.respondError(req.ID, mcperrors.InvalidRequest(err.Error()))
		return
	}

	s.mu.Lock()
	s.negotiated = version
	s.remoteClient = &params.ClientInfo
	s.mu.Unlock()

	s.respondResult(req.ID, &protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.caps.Local(),
		ServerInfo:      protocol.ServerInfo{Name: s.name, Version: s.version},
		Instructions:    s.instructions,
	})
}

// handleNotification routes one inbound notification. Notifications are
// best effort throughout: unknown methods and bad payloads are ignored.
func (s *Session) handleNotification(n *protocol.Notification) {
	s.mu.Lock()
	state := s.state
	baseCtx := s.baseCtx
	s.mu.Unlock()
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if state == StateClosed || state == StateFailed {
		return
	}

	switch n.Method {
	case protocol.MethodInitialized:
		s.handleInitialized()
		s.instr.InboundHandled(baseCtx, n.Method, "notification", "ok")
		return

	case protocol.MethodNotificationMessage:
		if state != StateReady && !s.preReadyAllowed(n.Method, false) {
			return
		}
		var params protocol.LoggingMessageParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			return
		}
		s.mu.Lock()
		fn := s.loggingFn
		s.mu.Unlock()
		if fn != nil {
			fn(params)
		}
		s.instr.InboundHandled(baseCtx, n.Method, "notification", "ok")
		return
	}

	if state != StateReady {
		s.logger.Debug("notification before ready ignored",
			logging.String("method", n.Method))
		return
	}

	switch n.Method {
	case protocol.MethodNotificationCancelled:
		s.handleCancelled(n.Params)
	case protocol.MethodNotificationProgress:
		s.handleProgress(n.Params)
	default:
		s.mu.Lock()
		fn := s.notifs[n.Method]
		s.mu.Unlock()
		if fn == nil {
			s.logger.Debug("unhandled notification", logging.String("method", n.Method))
			return
		}
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("notification handler panic",
						logging.String("method", n.Method),
						logging.Any("panic", r))
				}
			}()
			fn(baseCtx, n.Params)
		}()
	}
	s.instr.InboundHandled(baseCtx, n.Method, "notification", "ok")
}

// handleInitialized completes the server side of the handshake.
func (s *Session) handleInitialized() {
	if s.role != capability.RoleServer {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing {
		s.logger.Warn("initialized in unexpected state",
			logging.String("state", s.state.String()))
		return
	}
	s.setStateLocked(StateReady)
}

// handleCancelled cancels the in-flight inbound request the peer named.
// Unknown or already-completed ids are ignored: cancellation races are
// expected, not errors.
func (s *Session) handleCancelled(params json.RawMessage) {
	var p protocol.CancelledParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	key := protocol.CanonicalID(p.RequestID)

	s.mu.Lock()
	cancel := s.inbound[key]
	delete(s.inbound, key)
	s.mu.Unlock()

	if cancel != nil {
		s.logger.Debug("inbound request cancelled",
			logging.String("id", key),
			logging.String("reason", p.Reason))
		cancel()
	}
}

// handleProgress extends the timeout of the correlated outbound request and
// feeds any registered progress callback.
func (s *Session) handleProgress(params json.RawMessage) {
	var p protocol.ProgressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	s.pending.Progress(p.ProgressToken)

	s.mu.Lock()
	fn := s.progressFns[p.ProgressToken]
	s.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// handleResponse settles the matching pending request. A response whose id
// matches nothing (already timed out, cancelled, or never sent) is dropped
// and logged, never answered.
func (s *Session) handleResponse(resp *protocol.Response) {
	id := protocol.CanonicalID(resp.ID)

	var settled bool
	if resp.Error != nil {
		settled = s.pending.Reject(id, resp.Error)
	} else {
		settled = s.pending.Resolve(id, resp.Result)
	}
	if !settled {
		s.logger.Debug("dropping unmatched response", logging.String("id", id))
	}
}

// notifyCancelled tells the peer, best effort, that a request was
// abandoned. notifications/cancelled is only eligible once the session is
// Ready; a request cancelled mid-handshake completes locally without a
// wire notice.
func (s *Session) notifyCancelled(id, reason string) {
	if s.State() != StateReady {
		return
	}
	n, err := protocol.NewNotification(protocol.MethodNotificationCancelled,
		&protocol.CancelledParams{RequestID: id, Reason: reason})
	if err != nil {
		return
	}
	data, err := protocol.Encode(n)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tr.Send(ctx, data); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.logger.Debug("cancellation notify failed", logging.ErrorField(err))
	}
}

func (s *Session) respondResult(id any, result any) {
	resp, err := protocol.NewResponse(id, result)
	if err != nil {
		s.respondError(id, mcperrors.Internal(err))
		return
	}
	s.sendResponse(resp)
}

func (s *Session) respondError(id any, err error) {
	s.sendResponse(&protocol.Response{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      id,
		Error:   protocol.ErrorObjectFromError(err),
	})
}

func (s *Session) sendResponse(resp *protocol.Response) {
	data, err := protocol.Encode(resp)
	if err != nil {
		s.logger.Error("encode response", logging.ErrorField(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.tr.Send(ctx, data); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.logger.Warn("send response", logging.ErrorField(err))
	}
}

// onTransportClose reacts to the transport going away underneath the
// session: orderly closure lands in Closed, anything else in Failed.
func (s *Session) onTransportClose(err error) {
	if err == nil {
		s.setState(StateClosed)
		s.pending.FailAll(mcperrors.SessionClosed())
		return
	}
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	reason := mcperrors.TransportClosed(err)
	s.failure = reason
	s.setStateLocked(StateFailed)
	cancel := s.baseCancel
	s.mu.Unlock()

	s.pending.FailAll(reason)
	if cancel != nil {
		cancel()
	}
}

// attachProgressToken merges _meta.progressToken into the request params.
func attachProgressToken(req *protocol.Request, token string) error {
	obj := map[string]json.RawMessage{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &obj); err != nil {
			return fmt.Errorf("params must be an object to carry a progress token: %w", err)
		}
	}
	meta, err := json.Marshal(map[string]string{"progressToken": token})
	if err != nil {
		return err
	}
	obj["_meta"] = meta
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	req.Params = raw
	return nil
}

func outcomeStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case mcperrors.IsTimeout(err):
		return "timeout"
	case mcperrors.IsCancelled(err):
		return "cancelled"
	default:
		return "error"
	}
}
