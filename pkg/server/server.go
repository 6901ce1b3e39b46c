// Package server is the server-side facade over pkg/session: it answers
// the handshake automatically, routes capability-gated requests to
// registered handlers and provides emitters for the server-initiated
// notification surface.
package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcpkit/mcp-core-go/pkg/capability"
	"github.com/mcpkit/mcp-core-go/pkg/logging"
	"github.com/mcpkit/mcp-core-go/pkg/protocol"
	"github.com/mcpkit/mcp-core-go/pkg/session"
	"github.com/mcpkit/mcp-core-go/pkg/transport"
)

// Option configures a Server.
type Option func(*options)

type options struct {
	name           string
	version        string
	capabilities   protocol.CapabilitySet
	instructions   string
	logger         logging.Logger
	instr          session.Instrumentation
	requestTimeout time.Duration
	capOpts        []capability.Option
}

// WithName sets the identity sent in the initialize result.
func WithName(name, version string) Option {
	return func(o *options) {
		o.name = name
		o.version = version
	}
}

// WithCapabilities declares the server's capabilities (tools, resources,
// prompts, logging, completions).
func WithCapabilities(set protocol.CapabilitySet) Option {
	return func(o *options) { o.capabilities = set }
}

// WithInstructions attaches usage notes to the initialize result.
func WithInstructions(text string) Option {
	return func(o *options) { o.instructions = text }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithInstrumentation wires metrics and tracing hooks.
func WithInstrumentation(i session.Instrumentation) Option {
	return func(o *options) { o.instr = i }
}

// WithRequestTimeout sets the default deadline for server-initiated
// requests (sampling, roots).
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithImplicitCompletions permits completion/complete without a declared
// completions capability.
func WithImplicitCompletions(enabled bool) Option {
	return func(o *options) {
		o.capOpts = append(o.capOpts, capability.WithImplicitCompletions(enabled))
	}
}

// Server is one MCP server connection. A server process creates one Server
// per client session (stdio has exactly one; the HTTP handler accepts
// many).
type Server struct {
	sess *session.Session
}

// New assembles a server over the transport. The handshake is driven by
// the client; Start begins listening for it.
func New(t transport.Transport, opts ...Option) (*Server, error) {
	o := options{
		name:    "mcp-core-go-server",
		version: "0.1.0",
	}
	for _, opt := range opts {
		opt(&o)
	}

	sess, err := session.New(session.Config{
		Role:              capability.RoleServer,
		Transport:         t,
		Name:              o.name,
		Version:           o.version,
		Capabilities:      o.capabilities,
		Instructions:      o.instructions,
		RequestTimeout:    o.requestTimeout,
		Logger:            o.logger,
		Instrumentation:   o.instr,
		CapabilityOptions: o.capOpts,
	})
	if err != nil {
		return nil, err
	}
	return &Server{sess: sess}, nil
}

// Start begins processing inbound traffic. initialize and initialized are
// handled internally; Ready unblocks when the handshake completes.
func (s *Server) Start(ctx context.Context) error { return s.sess.Start(ctx) }

// Ready is closed once the client's initialized notification arrives.
func (s *Server) Ready() <-chan struct{} { return s.sess.Ready() }

// Done is closed when the session ends, orderly or not.
func (s *Server) Done() <-chan struct{} { return s.sess.Done() }

// Close shuts the connection down.
func (s *Server) Close() error { return s.sess.Close() }

// Session exposes the underlying session for advanced use.
func (s *Server) Session() *session.Session { return s.sess }

// State returns the session lifecycle phase.
func (s *Server) State() session.State { return s.sess.State() }

// ClientInfo returns the client's identity after initialize arrives.
func (s *Server) ClientInfo() *protocol.ClientInfo { return s.sess.RemoteClientInfo() }

// ClientCapabilities returns the client's declared capabilities.
func (s *Server) ClientCapabilities() protocol.CapabilitySet {
	return s.sess.Capabilities().Remote()
}

// Ping round-trips a ping. Valid in every live state.
func (s *Server) Ping(ctx context.Context) error { return s.sess.Ping(ctx) }

// RegisterHandler routes inbound requests for method to h. The method must
// be covered by a declared server capability or it is answered with
// MethodNotFound regardless of registration.
func (s *Server) RegisterHandler(method string, h session.Handler) {
	s.sess.RegisterHandler(method, h)
}

// RegisterNotificationHandler routes inbound notifications for method.
func (s *Server) RegisterNotificationHandler(method string, h session.NotificationHandler) {
	s.sess.RegisterNotificationHandler(method, h)
}

// HandleToolsList answers tools/list from fn.
func (s *Server) HandleToolsList(fn func(ctx context.Context, params *protocol.ListToolsParams) (*protocol.ListToolsResult, error)) {
	s.sess.RegisterHandler(protocol.MethodToolsList, bind(fn))
}

// HandleToolsCall answers tools/call from fn. Tool failures belong in the
// result with IsError set, never in the returned error.
func (s *Server) HandleToolsCall(fn func(ctx context.Context, params *protocol.CallToolParams) (*protocol.CallToolResult, error)) {
	s.sess.RegisterHandler(protocol.MethodToolsCall, bind(fn))
}

// HandleResourcesList answers resources/list from fn.
func (s *Server) HandleResourcesList(fn func(ctx context.Context, params *protocol.ListResourcesParams) (*protocol.ListResourcesResult, error)) {
	s.sess.RegisterHandler(protocol.MethodResourcesList, bind(fn))
}

// HandleResourcesRead answers resources/read from fn.
func (s *Server) HandleResourcesRead(fn func(ctx context.Context, params *protocol.ReadResourceParams) (*protocol.ReadResourceResult, error)) {
	s.sess.RegisterHandler(protocol.MethodResourcesRead, bind(fn))
}

// HandlePromptsList answers prompts/list from fn.
func (s *Server) HandlePromptsList(fn func(ctx context.Context, params *protocol.ListPromptsParams) (*protocol.ListPromptsResult, error)) {
	s.sess.RegisterHandler(protocol.MethodPromptsList, bind(fn))
}

// HandlePromptsGet answers prompts/get from fn.
func (s *Server) HandlePromptsGet(fn func(ctx context.Context, params *protocol.GetPromptParams) (*protocol.GetPromptResult, error)) {
	s.sess.RegisterHandler(protocol.MethodPromptsGet, bind(fn))
}

// bind adapts a typed handler to the session's generic shape.
func bind[P any, R any](fn func(ctx context.Context, params *P) (*R, error)) session.Handler {
	return func(ctx context.Context, rc *session.RequestContext) (any, error) {
		var params P
		if err := rc.BindParams(&params); err != nil {
			return nil, err
		}
		return fn(ctx, &params)
	}
}

// SendLogMessage emits notifications/message. Explicitly legal before the
// session is ready, so servers can report startup diagnostics.
func (s *Server) SendLogMessage(ctx context.Context, level, loggerName string, data any) error {
	return s.sess.Notify(ctx, protocol.MethodNotificationMessage, &protocol.LoggingMessageParams{
		Level:  level,
		Logger: loggerName,
		Data:   data,
	})
}

// NotifyToolsListChanged announces a changed tool set. Requires the tools
// capability.
func (s *Server) NotifyToolsListChanged(ctx context.Context) error {
	return s.sess.Notify(ctx, protocol.MethodNotificationToolsListChanged, nil)
}

// NotifyResourcesListChanged announces a changed resource set.
func (s *Server) NotifyResourcesListChanged(ctx context.Context) error {
	return s.sess.Notify(ctx, protocol.MethodNotificationResourcesListChanged, nil)
}

// NotifyResourceUpdated announces a change to one subscribed resource.
// Requires the resources capability with subscribe.
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	return s.sess.Notify(ctx, protocol.MethodNotificationResourcesUpdated,
		&protocol.ResourceUpdatedParams{URI: uri})
}

// NotifyPromptsListChanged announces a changed prompt set.
func (s *Server) NotifyPromptsListChanged(ctx context.Context) error {
	return s.sess.Notify(ctx, protocol.MethodNotificationPromptsListChanged, nil)
}

// RequestSampling asks the client to run a model turn. Requires the
// client's sampling capability; without it the call fails locally with a
// capability error.
func (s *Server) RequestSampling(ctx context.Context, params any, opts ...session.RequestOption) (json.RawMessage, error) {
	return s.sess.SendRequest(ctx, protocol.MethodSamplingCreateMessage, params, opts...)
}

// ListRoots asks the client for its filesystem roots. Requires the
// client's roots capability.
func (s *Server) ListRoots(ctx context.Context, opts ...session.RequestOption) (*protocol.ListRootsResult, error) {
	raw, err := s.sess.SendRequest(ctx, protocol.MethodRootsList, nil, opts...)
	if err != nil {
		return nil, err
	}
	var res protocol.ListRootsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
