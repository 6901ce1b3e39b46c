// Package client is the client-side facade over pkg/session: it owns the
// handshake, exposes typed calls for the common server capabilities and
// routes server-initiated traffic (sampling, roots, notifications) to
// registered callbacks.
package client

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

// Option configures a Client.
type Option func(*options)

type options struct {
	name           string
	version        string
	capabilities   protocol.CapabilitySet
	logger         logging.Logger
	instr          session.Instrumentation
	requestTimeout time.Duration
	capOpts        []capability.Option
	loggingFn      func(protocol.LoggingMessageParams)
}

// WithName sets the identity sent in the initialize request.
func WithName(name, version string) Option {
	return func(o *options) {
		o.name = name
		o.version = version
	}
}

// WithCapabilities declares the client's capabilities (sampling, roots).
func WithCapabilities(set protocol.CapabilitySet) Option {
	return func(o *options) { o.capabilities = set }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithInstrumentation wires metrics and tracing hooks.
func WithInstrumentation(i session.Instrumentation) Option {
	return func(o *options) { o.instr = i }
}

// WithRequestTimeout sets the default deadline for outbound requests.
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

// WithLoggingHandler receives the server's notifications/message payloads,
// including those sent before the session is ready.
func WithLoggingHandler(fn func(protocol.LoggingMessageParams)) Option {
	return func(o *options) { o.loggingFn = fn }
}

// Client is one MCP client connection.
type Client struct {
	sess *session.Session
}

// New assembles a client over the transport. Connect must be called before
// capability-gated methods work.
func New(t transport.Transport, opts ...Option) (*Client, error) {
	o := options{
		name:    "mcp-core-go-client",
		version: "0.1.0",
	}
	for _, opt := range opts {
		opt(&o)
	}

	sess, err := session.New(session.Config{
		Role:              capability.RoleClient,
		Transport:         t,
		Name:              o.name,
		Version:           o.version,
		Capabilities:      o.capabilities,
		RequestTimeout:    o.requestTimeout,
		Logger:            o.logger,
		Instrumentation:   o.instr,
		CapabilityOptions: o.capOpts,
	})
	if err != nil {
		return nil, err
	}
	if o.loggingFn != nil {
		sess.SetLoggingHandler(o.loggingFn)
	}
	return &Client{sess: sess}, nil
}

// Connect starts the transport and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) (*protocol.InitializeResult, error) {
	if err := c.sess.Start(ctx); err != nil {
		return nil, err
	}
	return c.sess.Initialize(ctx)
}

// Close shuts the connection down.
func (c *Client) Close() error { return c.sess.Close() }

// Done is closed when the session ends, orderly or not.
func (c *Client) Done() <-chan struct{} { return c.sess.Done() }

// Session exposes the underlying session for advanced use.
func (c *Client) Session() *session.Session { return c.sess }

// State returns the session lifecycle phase.
func (c *Client) State() session.State { return c.sess.State() }

// ServerInfo returns the server's identity after the handshake.
func (c *Client) ServerInfo() *protocol.ServerInfo { return c.sess.RemoteServerInfo() }

// ServerCapabilities returns the server's declared capabilities.
func (c *Client) ServerCapabilities() protocol.CapabilitySet {
	return c.sess.Capabilities().Remote()
}

// Instructions returns the server's usage notes, if any.
func (c *Client) Instructions() string { return c.sess.Instructions() }

// Ping round-trips a ping. Valid in every live state.
func (c *Client) Ping(ctx context.Context) error { return c.sess.Ping(ctx) }

// Cancel abandons a pending request and tells the server, best effort.
func (c *Client) Cancel(id, reason string) { c.sess.Cancel(id, reason) }

// Call sends one request and unmarshals the result into result when
// non-nil. Capability and state gating apply before anything touches the
// transport.
func (c *Client) Call(ctx context.Context, method string, params, result any, opts ...session.RequestOption) error {
	raw, err := c.sess.SendRequest(ctx, method, params, opts...)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, result)
}

// Notify sends one notification, best effort.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	return c.sess.Notify(ctx, method, params)
}

// ListTools fetches one page of the server's tools.
func (c *Client) ListTools(ctx context.Context, cursor string, opts ...session.RequestOption) (*protocol.ListToolsResult, error) {
	var res protocol.ListToolsResult
	err := c.Call(ctx, protocol.MethodToolsList, &protocol.ListToolsParams{Cursor: cursor}, &res, opts...)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CallTool invokes one tool. Tool failures arrive as IsError results, not
// as Go errors.
func (c *Client) CallTool(ctx context.Context, name string, arguments any, opts ...session.RequestOption) (*protocol.CallToolResult, error) {
	var args json.RawMessage
	if arguments != nil {
		raw, err := json.Marshal(arguments)
		if err != nil {
			return nil, err
		}
		args = raw
	}
	var res protocol.CallToolResult
	err := c.Call(ctx, protocol.MethodToolsCall, &protocol.CallToolParams{Name: name, Arguments: args}, &res, opts...)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResources fetches one page of the server's resources.
func (c *Client) ListResources(ctx context.Context, cursor string, opts ...session.RequestOption) (*protocol.ListResourcesResult, error) {
	var res protocol.ListResourcesResult
	err := c.Call(ctx, protocol.MethodResourcesList, &protocol.ListResourcesParams{Cursor: cursor}, &res, opts...)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string, opts ...session.RequestOption) (*protocol.ReadResourceResult, error) {
	var res protocol.ReadResourceResult
	err := c.Call(ctx, protocol.MethodResourcesRead, &protocol.ReadResourceParams{URI: uri}, &res, opts...)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SubscribeResource subscribes to change notifications for one resource.
// Requires the server's resources capability with subscribe.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	return c.Call(ctx, protocol.MethodResourcesSubscribe, &protocol.SubscribeResourceParams{URI: uri}, nil)
}

// UnsubscribeResource removes a resource subscription.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	return c.Call(ctx, protocol.MethodResourcesUnsubscribe, &protocol.SubscribeResourceParams{URI: uri}, nil)
}

// ListPrompts fetches one page of the server's prompts.
func (c *Client) ListPrompts(ctx context.Context, cursor string, opts ...session.RequestOption) (*protocol.ListPromptsResult, error) {
	var res protocol.ListPromptsResult
	err := c.Call(ctx, protocol.MethodPromptsList, &protocol.ListPromptsParams{Cursor: cursor}, &res, opts...)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPrompt renders one prompt.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string, opts ...session.RequestOption) (*protocol.GetPromptResult, error) {
	var res protocol.GetPromptResult
	err := c.Call(ctx, protocol.MethodPromptsGet, &protocol.GetPromptParams{Name: name, Arguments: arguments}, &res, opts...)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SetLogLevel asks the server to adjust its notifications/message level.
func (c *Client) SetLogLevel(ctx context.Context, level string) error {
	return c.Call(ctx, protocol.MethodLoggingSetLevel, map[string]string{"level": level}, nil)
}

// SetSamplingHandler registers the handler for the server's
// sampling/createMessage requests. Only reachable when the client declared
// the sampling capability.
func (c *Client) SetSamplingHandler(h session.Handler) {
	c.sess.RegisterHandler(protocol.MethodSamplingCreateMessage, h)
}

// SetRootsProvider answers the server's roots/list requests from fn. Only
// reachable when the client declared the roots capability.
func (c *Client) SetRootsProvider(fn func(ctx context.Context) ([]protocol.Root, error)) {
	c.sess.RegisterHandler(protocol.MethodRootsList,
		func(ctx context.Context, rc *session.RequestContext) (any, error) {
			roots, err := fn(ctx)
			if err != nil {
				return nil, err
			}
			return &protocol.ListRootsResult{Roots: roots}, nil
		})
}

// NotifyRootsListChanged tells the server the root set changed. Requires
// the roots capability with listChanged.
func (c *Client) NotifyRootsListChanged(ctx context.Context) error {
	return c.sess.Notify(ctx, protocol.MethodNotificationRootsListChanged, nil)
}

// OnResourceUpdated registers a callback for notifications/resources/updated.
func (c *Client) OnResourceUpdated(fn func(uri string)) {
	c.sess.RegisterNotificationHandler(protocol.MethodNotificationResourcesUpdated,
		func(ctx context.Context, params json.RawMessage) {
			var p protocol.ResourceUpdatedParams
			if err := json.Unmarshal(params, &p); err != nil {
				return
			}
			fn(p.URI)
		})
}

// OnListChanged registers a callback for a namespace's list_changed
// notification (tools, resources, prompts).
func (c *Client) OnListChanged(namespace string, fn func()) {
	var method string
	switch namespace {
	case protocol.CapabilityTools:
		method = protocol.MethodNotificationToolsListChanged
	case protocol.CapabilityResources:
		method = protocol.MethodNotificationResourcesListChanged
	case protocol.CapabilityPrompts:
		method = protocol.MethodNotificationPromptsListChanged
	default:
		return
	}
	c.sess.RegisterNotificationHandler(method,
		func(ctx context.Context, params json.RawMessage) { fn() })
}
