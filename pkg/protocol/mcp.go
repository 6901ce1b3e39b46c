package protocol

import "encoding/json"

// CapabilityOptions carries the sub-capability flags a side may attach to a
// declared capability namespace.
type CapabilityOptions struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

// CapabilitySet maps capability namespaces (tools, resources, prompts,
// sampling, roots, logging, completions) to their options. Declared once per
// side during the handshake and immutable for the life of the session.
type CapabilitySet map[string]CapabilityOptions

// Clone returns a copy safe to hand to callers.
func (s CapabilitySet) Clone() CapabilitySet {
	if s == nil {
		return nil
	}
	out := make(CapabilitySet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Has reports whether the namespace was declared.
func (s CapabilitySet) Has(namespace string) bool {
	_, ok := s[namespace]
	return ok
}

// ClientInfo identifies the client in the initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the server in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string        `json:"protocolVersion"`
	Capabilities    CapabilitySet `json:"capabilities"`
	ClientInfo      ClientInfo    `json:"clientInfo"`
}

// InitializeResult is the payload of the initialize response.
type InitializeResult struct {
	ProtocolVersion string        `json:"protocolVersion"`
	Capabilities    CapabilitySet `json:"capabilities"`
	ServerInfo      ServerInfo    `json:"serverInfo"`
	Instructions    string        `json:"instructions,omitempty"`
}

// PingParams is the (empty) payload of a ping request.
type PingParams struct{}

// PingResult is the (empty) payload of a ping response.
type PingResult struct{}

// CancelledParams is the payload of notifications/cancelled. RequestID names
// the request whose result, if it still arrives, may be discarded.
type CancelledParams struct {
	RequestID any    `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// ProgressParams is the payload of notifications/progress. ProgressToken is
// an opaque correlation value distinct from the JSON-RPC id, supplied by the
// requester when it registered the request.
type ProgressParams struct {
	ProgressToken string  `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// LoggingMessageParams is the payload of notifications/message, the
// server-to-client log channel. Explicitly permitted before the session is
// ready.
type LoggingMessageParams struct {
	Level  string `json:"level"`
	Logger string `json:"logger,omitempty"`
	Data   any    `json:"data"`
}

// Log levels for notifications/message, mirroring syslog severities.
const (
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// ContentBlock is one element of a tool or prompt result. Only the text
// variant is interpreted by this module; everything else passes through
// unexamined.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Tool describes one callable tool in a tools/list result.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsParams is the payload of tools/list.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is the payload of a tools/list response.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams is the payload of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the payload of a tools/call response. Tool failures are
// domain errors: they set IsError and describe the failure in Content, and
// are never surfaced as JSON-RPC error objects.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Resource describes one entry in a resources/list result.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesParams is the payload of resources/list.
type ListResourcesParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListResourcesResult is the payload of a resources/list response.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ReadResourceParams is the payload of resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ResourceContents is one element of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the payload of a resources/read response.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// SubscribeResourceParams is the payload of resources/subscribe and
// resources/unsubscribe.
type SubscribeResourceParams struct {
	URI string `json:"uri"`
}

// ResourceUpdatedParams is the payload of notifications/resources/updated.
type ResourceUpdatedParams struct {
	URI string `json:"uri"`
}

// Prompt describes one entry in a prompts/list result.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ListPromptsParams is the payload of prompts/list.
type ListPromptsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListPromptsResult is the payload of a prompts/list response.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// GetPromptParams is the payload of prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one message of a prompts/get result.
type PromptMessage struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// GetPromptResult is the payload of a prompts/get response.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// Root describes one entry in a roots/list result.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// ListRootsResult is the payload of a roots/list response.
type ListRootsResult struct {
	Roots []Root `json:"roots"`
}
