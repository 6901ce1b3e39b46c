package mcp

import (
	"github.com/mcpkit/mcp-core-go/pkg/client"
	"github.com/mcpkit/mcp-core-go/pkg/protocol"
	"github.com/mcpkit/mcp-core-go/pkg/server"
	"github.com/mcpkit/mcp-core-go/pkg/session"
	"github.com/mcpkit/mcp-core-go/pkg/transport"
)

// Protocol revisions this module can negotiate.
const (
	ProtocolRevision       = protocol.ProtocolRevision
	ProtocolRevisionLegacy = protocol.ProtocolRevisionLegacy
)

// Capability namespaces.
const (
	CapabilityTools       = protocol.CapabilityTools
	CapabilityResources   = protocol.CapabilityResources
	CapabilityPrompts     = protocol.CapabilityPrompts
	CapabilitySampling    = protocol.CapabilitySampling
	CapabilityRoots       = protocol.CapabilityRoots
	CapabilityLogging     = protocol.CapabilityLogging
	CapabilityCompletions = protocol.CapabilityCompletions
)

// Wire and payload types.
type (
	CapabilitySet     = protocol.CapabilitySet
	CapabilityOptions = protocol.CapabilityOptions
	InitializeResult  = protocol.InitializeResult
	Tool              = protocol.Tool
	CallToolResult    = protocol.CallToolResult
	ContentBlock      = protocol.ContentBlock
	Resource          = protocol.Resource
	Prompt            = protocol.Prompt
	Root              = protocol.Root
)

// Facades and building blocks.
type (
	Client         = client.Client
	Server         = server.Server
	Session        = session.Session
	RequestContext = session.RequestContext
	Transport      = transport.Transport
)

// NewClient assembles a client over the transport.
func NewClient(t transport.Transport, opts ...client.Option) (*client.Client, error) {
	return client.New(t, opts...)
}

// NewServer assembles a server over the transport.
func NewServer(t transport.Transport, opts ...server.Option) (*server.Server, error) {
	return server.New(t, opts...)
}

// NewStdioTransport frames newline-delimited JSON over stdin/stdout.
func NewStdioTransport(cfg transport.StdioConfig) *transport.Stdio {
	return transport.NewStdio(cfg)
}

// NewStreamableHTTPTransport is the client end of the streamable HTTP
// transport.
func NewStreamableHTTPTransport(cfg transport.StreamableHTTPConfig) (*transport.StreamableHTTP, error) {
	return transport.NewStreamableHTTP(cfg)
}

// NewHTTPHandler is the server end of the streamable HTTP transport.
func NewHTTPHandler(cfg transport.HTTPHandlerConfig) *transport.HTTPHandler {
	return transport.NewHTTPHandler(cfg)
}
