package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpkit/mcp-core-go/pkg/client"
	"github.com/mcpkit/mcp-core-go/pkg/mcperrors"
	"github.com/mcpkit/mcp-core-go/pkg/protocol"
	"github.com/mcpkit/mcp-core-go/pkg/server"
	"github.com/mcpkit/mcp-core-go/pkg/session"
	"github.com/mcpkit/mcp-core-go/pkg/transport"
)

// connect builds a connected client/server pair over an in-memory transport.
func connect(t *testing.T, clientOpts []client.Option, serverOpts []server.Option, configure func(*server.Server)) (*client.Client, *server.Server) {
	t.Helper()

	ct, st := transport.NewInMemoryPair()

	srv, err := server.New(st, serverOpts...)
	require.NoError(t, err)
	if configure != nil {
		configure(srv)
	}
	require.NoError(t, srv.Start(context.Background()))

	cl, err := client.New(ct, clientOpts...)
	require.NoError(t, err)

	res, err := cl.Connect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	t.Cleanup(func() {
		cl.Close()
		srv.Close()
	})
	return cl, srv
}

// waitReady blocks until the server has processed initialized, so that
// server-initiated traffic is not racing the handshake.
func waitReady(t *testing.T, srv *server.Server) {
	t.Helper()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}
}

func TestConnectNegotiatesSession(t *testing.T) {
	cl, srv := connect(t,
		[]client.Option{client.WithName("test-client", "1.2.3")},
		[]server.Option{
			server.WithName("test-server", "9.9.9"),
			server.WithInstructions("call the greet tool"),
			server.WithCapabilities(protocol.CapabilitySet{
				protocol.CapabilityTools: {ListChanged: true},
			}),
		}, nil)

	assert.Equal(t, session.StateReady, cl.State())

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed initialized")
	}
	assert.Equal(t, session.StateReady, srv.State())

	info := cl.ServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, "test-server", info.Name)
	assert.Equal(t, "call the greet tool", cl.Instructions())
	assert.True(t, cl.ServerCapabilities().Has(protocol.CapabilityTools))

	clientInfo := srv.ClientInfo()
	require.NotNil(t, clientInfo)
	assert.Equal(t, "test-client", clientInfo.Name)

	require.NoError(t, cl.Ping(context.Background()))
	require.NoError(t, srv.Ping(context.Background()))
}

func TestToolRoundTrip(t *testing.T) {
	cl, _ := connect(t, nil,
		[]server.Option{server.WithCapabilities(protocol.CapabilitySet{
			protocol.CapabilityTools: {},
		})},
		func(srv *server.Server) {
			srv.HandleToolsList(func(ctx context.Context, params *protocol.ListToolsParams) (*protocol.ListToolsResult, error) {
				return &protocol.ListToolsResult{Tools: []protocol.Tool{{Name: "greet"}}}, nil
			})
			srv.HandleToolsCall(func(ctx context.Context, params *protocol.CallToolParams) (*protocol.CallToolResult, error) {
				var args struct {
					Name string `json:"name"`
				}
				if err := json.Unmarshal(params.Arguments, &args); err != nil {
					return nil, mcperrors.InvalidParams(protocol.MethodToolsCall, err.Error())
				}
				if params.Name != "greet" {
					return &protocol.CallToolResult{
						IsError: true,
						Content: []protocol.ContentBlock{{Type: "text", Text: "no such tool"}},
					}, nil
				}
				return &protocol.CallToolResult{
					Content: []protocol.ContentBlock{{Type: "text", Text: "hello " + args.Name}},
				}, nil
			})
		})

	tools, err := cl.ListTools(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "greet", tools.Tools[0].Name)

	res, err := cl.CallTool(context.Background(), "greet", map[string]string{"name": "ada"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hello ada", res.Content[0].Text)

	// A failing tool is a result, not a transport-level error.
	res, err = cl.CallTool(context.Background(), "missing", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServerLogMessagesReachHandler(t *testing.T) {
	logs := make(chan protocol.LoggingMessageParams, 4)
	cl, srv := connect(t,
		[]client.Option{client.WithLoggingHandler(func(p protocol.LoggingMessageParams) { logs <- p })},
		[]server.Option{server.WithCapabilities(protocol.CapabilitySet{
			protocol.CapabilityLogging: {},
		})}, nil)
	_ = cl

	require.NoError(t, srv.SendLogMessage(context.Background(),
		protocol.LogLevelInfo, "core", "started"))

	select {
	case p := <-logs:
		assert.Equal(t, protocol.LogLevelInfo, p.Level)
		assert.Equal(t, "core", p.Logger)
		assert.Equal(t, "started", p.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("log message never arrived")
	}
}

func TestListChangedNotificationFansOut(t *testing.T) {
	changed := make(chan struct{}, 1)
	cl, srv := connect(t, nil,
		[]server.Option{server.WithCapabilities(protocol.CapabilitySet{
			protocol.CapabilityTools: {ListChanged: true},
		})}, nil)

	cl.OnListChanged(protocol.CapabilityTools, func() { changed <- struct{}{} })

	waitReady(t, srv)
	require.NoError(t, srv.NotifyToolsListChanged(context.Background()))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("list_changed callback never fired")
	}
}

func TestSamplingRequiresClientCapability(t *testing.T) {
	// Declared: the server's sampling request reaches the client handler.
	cl, srv := connect(t,
		[]client.Option{client.WithCapabilities(protocol.CapabilitySet{
			protocol.CapabilitySampling: {},
		})}, nil, nil)

	cl.SetSamplingHandler(func(ctx context.Context, rc *session.RequestContext) (any, error) {
		return map[string]any{"role": "assistant", "model": "test"}, nil
	})

	waitReady(t, srv)
	raw, err := srv.RequestSampling(context.Background(), map[string]any{"maxTokens": 10})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"model":"test"`)

	// Undeclared: the request fails locally without touching the wire.
	cl2, srv2 := connect(t, nil, nil, nil)
	_ = cl2
	waitReady(t, srv2)
	_, err = srv2.RequestSampling(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeCapabilityRequired), "got %v", err)
}

func TestRootsProvider(t *testing.T) {
	cl, srv := connect(t,
		[]client.Option{client.WithCapabilities(protocol.CapabilitySet{
			protocol.CapabilityRoots: {ListChanged: true},
		})}, nil, nil)

	cl.SetRootsProvider(func(ctx context.Context) ([]protocol.Root, error) {
		return []protocol.Root{{URI: "file:///workspace", Name: "workspace"}}, nil
	})

	waitReady(t, srv)
	res, err := srv.ListRoots(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Roots, 1)
	assert.Equal(t, "file:///workspace", res.Roots[0].URI)

	require.NoError(t, cl.NotifyRootsListChanged(context.Background()))
}

func TestUndeclaredServerMethodIsRejectedLocally(t *testing.T) {
	// Server declared no capabilities at all.
	cl, _ := connect(t, nil, nil, nil)

	_, err := cl.ListTools(context.Background(), "")
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeCapabilityRequired), "got %v", err)
}

func TestProgressOption(t *testing.T) {
	cl, _ := connect(t, nil,
		[]server.Option{server.WithCapabilities(protocol.CapabilitySet{
			protocol.CapabilityTools: {},
		})},
		func(srv *server.Server) {
			srv.RegisterHandler(protocol.MethodToolsCall,
				func(ctx context.Context, rc *session.RequestContext) (any, error) {
					for i := 1; i <= 3; i++ {
						if err := rc.ReportProgress(ctx, float64(i), 3, fmt.Sprintf("step %d", i)); err != nil {
							return nil, err
						}
					}
					return &protocol.CallToolResult{Content: []protocol.ContentBlock{{Type: "text", Text: "done"}}}, nil
				})
		})

	progress := make(chan protocol.ProgressParams, 8)
	res, err := cl.CallTool(context.Background(), "slow", nil,
		session.WithProgress(func(p protocol.ProgressParams) { progress <- p }))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	require.Len(t, progress, 3)
	p := <-progress
	assert.Equal(t, float64(1), p.Progress)
	assert.Equal(t, float64(3), p.Total)
}

func TestCloseEndsBothSides(t *testing.T) {
	cl, srv := connect(t, nil, nil, nil)

	require.NoError(t, cl.Close())
	assert.Equal(t, session.StateClosed, cl.State())

	// The peer observes the transport drop and leaves Ready.
	assert.Eventually(t, func() bool {
		st := srv.State()
		return st == session.StateClosed || st == session.StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	err := cl.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeSessionClosed), "got %v", err)
}
