package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcpfed/gateway/pkg/protocol"
)

func TestHTTPBackend_CallPlain_RoundTrip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tools/call", req["method"])

		id := req["id"]
		resp := map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{"ok": true}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(Config{Name: "svc", BaseURL: srv.URL}, zap.NewNop(), nil)
	assert.Equal(t, KindHTTP, backend.Kind())

	raw, err := backend.Call(context.Background(), "tools/call", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestHTTPBackend_CallPlain_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	backend := NewHTTPBackend(Config{Name: "svc", BaseURL: srv.URL}, zap.NewNop(), nil)
	_, err := backend.Call(context.Background(), "tools/call", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestHTTPBackend_CallPlain_RPCErrorResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(Config{Name: "svc", BaseURL: srv.URL}, zap.NewNop(), nil)
	_, err := backend.Call(context.Background(), "missing", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

type recordingSink struct {
	mu    sync.Mutex
	seen  []string
	found chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{found: make(chan struct{}, 8)}
}

func (r *recordingSink) Publish(backend string, frame *protocol.Frame) {
	r.mu.Lock()
	r.seen = append(r.seen, backend+":"+frame.Method)
	r.mu.Unlock()
	r.found <- struct{}{}
}

// TestHTTPBackend_Streaming_MatchesResponseByID exercises the SSE sub-mode:
// the server emits a server-originated notification event before the
// matched response event on the same stream, and the call must still
// resolve to the correct result while the notification is demultiplexed to
// the sink (spec §4.2, §4.12).
func TestHTTPBackend_Streaming_MatchesResponseByID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		id := req["id"]

		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		notif := map[string]any{"jsonrpc": "2.0", "method": "notifications/progress", "params": map[string]any{}}
		notifRaw, _ := json.Marshal(notif)
		fmt.Fprintf(w, "data: %s\n\n", notifRaw)
		flusher.Flush()

		resp := map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{"ok": true}}
		respRaw, _ := json.Marshal(resp)
		fmt.Fprintf(w, "data: %s\n\n", respRaw)
		flusher.Flush()
	}))
	defer srv.Close()

	sink := newRecordingSink()
	backend := NewHTTPBackend(Config{Name: "svc", BaseURL: srv.URL, Streaming: true}, zap.NewNop(), sink)
	assert.Equal(t, KindSSE, backend.Kind())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := backend.Call(ctx, "tools/call", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	select {
	case <-sink.found:
	case <-time.After(time.Second):
		t.Fatal("notification was not published to sink")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Contains(t, sink.seen, "svc:notifications/progress")
}

func TestHTTPBackend_Streaming_TimeoutWhenNoResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	backend := NewHTTPBackend(Config{Name: "svc", BaseURL: srv.URL, Streaming: true}, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := backend.Call(ctx, "tools/call", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestHTTPBackend_InitializeAndShutdown(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		id := req["id"]

		var result map[string]any
		switch req["method"] {
		case "initialize":
			result = map[string]any{"protocolVersion": protocol.Latest(), "capabilities": map[string]any{}}
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{{"name": "echo"}}}
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(Config{Name: "svc", BaseURL: srv.URL}, zap.NewNop(), nil)
	initResult, tools, err := backend.Initialize(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, initResult)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	require.NoError(t, backend.Shutdown(context.Background()))
	assert.False(t, backend.IsAlive())
}

// sanity check that the SSE parsing helper used by the fake server agrees
// with bufio line scanning semantics the production pumpSSE relies on.
func TestSSEFraming_Sanity(t *testing.T) {
	t.Parallel()
	raw := "data: {\"a\":1}\n\n"
	scanner := bufio.NewScanner(strings.NewReader(raw))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "data: {\"a\":1}", lines[0])
	assert.Equal(t, "", lines[1])
}
