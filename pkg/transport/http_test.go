package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpkit/mcp-core-go/pkg/mcperrors"
)

// echoAccept wires a transport so every POSTed request is answered with an
// empty result for the same id.
func echoAccept(t *testing.T) (AcceptSessionFunc, *atomic.Int32) {
	t.Helper()
	var notifications atomic.Int32
	accept := func(tr Transport, sessionID string) {
		tr.SetReceiveHandler(func(data []byte) {
			var probe struct {
				ID     any    `json:"id"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(data, &probe); err != nil {
				return
			}
			if probe.Method != "" && probe.ID == nil {
				notifications.Add(1)
				return
			}
			if probe.ID == nil {
				return
			}
			id, _ := json.Marshal(probe.ID)
			resp := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{}}`, id)
			tr.Send(context.Background(), []byte(resp))
		})
		require.NoError(t, tr.Start(context.Background()))
	}
	return accept, &notifications
}

func postJSON(t *testing.T, url, sessionID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func initializeSession(t *testing.T, url string) string {
	t.Helper()
	resp := postJSON(t, url, "",
		`{"jsonrpc":"2.0","id":"init","method":"initialize","params":{"protocolVersion":"2025-03-26"}}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sid := resp.Header.Get(HeaderSessionID)
	require.NotEmpty(t, sid, "initialize must be answered with a session id")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"id":"init"`)
	return sid
}

func TestHTTPHandlerRejectsNonInitializeWithoutSession(t *testing.T) {
	accept, _ := echoAccept(t)
	srv := httptest.NewServer(NewHTTPHandler(HTTPHandlerConfig{AcceptSession: accept}))
	t.Cleanup(srv.Close)

	resp := postJSON(t, srv.URL, "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPHandlerInitializeCreatesSession(t *testing.T) {
	accept, _ := echoAccept(t)
	h := NewHTTPHandler(HTTPHandlerConfig{AcceptSession: accept})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sid := initializeSession(t, srv.URL)
	assert.Equal(t, 1, h.SessionCount())

	// Follow-up requests ride the issued session id and are answered inline.
	resp := postJSON(t, srv.URL, sid, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"id":2`)
}

func TestHTTPHandlerNotificationGets202(t *testing.T) {
	accept, notifications := echoAccept(t)
	srv := httptest.NewServer(NewHTTPHandler(HTTPHandlerConfig{AcceptSession: accept}))
	t.Cleanup(srv.Close)

	sid := initializeSession(t, srv.URL)

	resp := postJSON(t, srv.URL, sid, `{"jsonrpc":"2.0","method":"initialized"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Eventually(t, func() bool { return notifications.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestHTTPHandlerDeleteTerminatesSession(t *testing.T) {
	var sessionTransport Transport
	accept, _ := echoAccept(t)
	h := NewHTTPHandler(HTTPHandlerConfig{AcceptSession: func(tr Transport, sid string) {
		sessionTransport = tr
		accept(tr, sid)
	}})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sid := initializeSession(t, srv.URL)

	closed := make(chan struct{})
	sessionTransport.SetCloseHandler(func(error) { close(closed) })

	req, err := http.NewRequest(http.MethodDelete, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, sid)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("session close handler never fired")
	}
	assert.Equal(t, 0, h.SessionCount())

	// The id is gone.
	resp = postJSON(t, srv.URL, sid, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPHandlerOriginCheck(t *testing.T) {
	accept, _ := echoAccept(t)
	srv := httptest.NewServer(NewHTTPHandler(HTTPHandlerConfig{
		AcceptSession:  accept,
		AllowedOrigins: []string{"http://trusted.example"},
	}))
	t.Cleanup(srv.Close)

	post := func(origin string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL,
			strings.NewReader(`{"jsonrpc":"2.0","id":"init","method":"initialize","params":{"protocolVersion":"2025-03-26"}}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, post("http://evil.example"))
	assert.Equal(t, http.StatusOK, post("http://trusted.example"))
}

// readSSEEvents reads count events off a raw SSE stream, returning their
// ids and data lines.
func readSSEEvents(t *testing.T, body io.Reader, count int) (ids, datas []string) {
	t.Helper()
	scanner := bufio.NewScanner(body)
	for scanner.Scan() && len(datas) < count {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id:"):
			ids = append(ids, strings.TrimSpace(strings.TrimPrefix(line, "id:")))
		case strings.HasPrefix(line, "data:"):
			datas = append(datas, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return ids, datas
}

func TestHTTPHandlerStreamDeliveryAndResumption(t *testing.T) {
	var sessionTransport Transport
	accept, _ := echoAccept(t)
	h := NewHTTPHandler(HTTPHandlerConfig{AcceptSession: func(tr Transport, sid string) {
		sessionTransport = tr
		accept(tr, sid)
	}})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sid := initializeSession(t, srv.URL)

	// Unsolicited server-to-client traffic published before any stream is
	// attached must be buffered for the first GET.
	require.NoError(t, sessionTransport.Send(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`)))
	require.NoError(t, sessionTransport.Send(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"notifications/prompts/list_changed"}`)))

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, sid)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	ids, datas := readSSEEvents(t, resp.Body, 2)
	cancel()
	resp.Body.Close()

	require.Len(t, datas, 2)
	assert.Equal(t, []string{"1", "2"}, ids)
	assert.Contains(t, datas[0], "tools/list_changed")
	assert.Contains(t, datas[1], "prompts/list_changed")

	// Resuming after event 1 replays only event 2.
	ctx2, cancel2 := context.WithCancel(context.Background())
	req2, err := http.NewRequestWithContext(ctx2, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req2.Header.Set(HeaderSessionID, sid)
	req2.Header.Set(HeaderLastEventID, "1")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)

	ids2, datas2 := readSSEEvents(t, resp2.Body, 1)
	cancel2()
	resp2.Body.Close()

	require.Len(t, datas2, 1)
	assert.Equal(t, []string{"2"}, ids2)
	assert.Contains(t, datas2[0], "prompts/list_changed")
}

func TestStreamableHTTPSendCapturesSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderSessionID, "session-42")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	t.Cleanup(srv.Close)

	tr, err := NewStreamableHTTP(StreamableHTTPConfig{Endpoint: srv.URL, Reconnect: NoReconnect{}})
	require.NoError(t, err)

	received := make(chan []byte, 1)
	tr.SetReceiveHandler(func(data []byte) { received <- data })

	require.NoError(t, tr.Send(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)))

	assert.Equal(t, "session-42", tr.SessionID())
	select {
	case data := <-received:
		assert.Contains(t, string(data), `"result"`)
	case <-time.After(2 * time.Second):
		t.Fatal("inline response never delivered")
	}
}

func TestStreamableHTTPNotificationAccepted(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	tr, err := NewStreamableHTTP(StreamableHTTPConfig{Endpoint: srv.URL, Reconnect: NoReconnect{}})
	require.NoError(t, err)

	payload := []byte(`{"jsonrpc":"2.0","method":"initialized"}`)
	require.NoError(t, tr.Send(context.Background(), payload))
	assert.True(t, bytes.Equal(gotBody, payload))
}

func TestStreamableHTTPSessionExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	tr, err := NewStreamableHTTP(StreamableHTTPConfig{Endpoint: srv.URL, Reconnect: NoReconnect{}})
	require.NoError(t, err)

	closed := make(chan error, 1)
	tr.SetCloseHandler(func(err error) { closed <- err })

	err = tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeTransportClosed), "got %v", err)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close handler never fired on session expiry")
	}
}

func TestStreamableHTTPListenStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "id: 1\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/message\",\"params\":{\"level\":\"info\",\"data\":\"hi\"}}\n\n")
		fl.Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	tr, err := NewStreamableHTTP(StreamableHTTPConfig{Endpoint: srv.URL, Reconnect: NoReconnect{}})
	require.NoError(t, err)

	received := make(chan []byte, 1)
	tr.SetReceiveHandler(func(data []byte) { received <- data })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, tr.Start(ctx))
	t.Cleanup(func() { tr.Close() })

	select {
	case data := <-received:
		assert.Contains(t, string(data), "notifications/message")
	case <-time.After(2 * time.Second):
		t.Fatal("stream event never delivered")
	}
}
