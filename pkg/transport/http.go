package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mcpfed/gateway/internal/gwlog"
	"github.com/mcpfed/gateway/pkg/gwerr"
	"github.com/mcpfed/gateway/pkg/protocol"
)

// NotificationSink receives server-originated notifications demultiplexed
// from an SSE stream, tagged with the originating backend (spec §4.2,
// §4.12 "notification multiplexer").
type NotificationSink interface {
	Publish(backend string, frame *protocol.Frame)
}

// HTTPBackend talks to a backend over HTTP POST, optionally with a
// long-lived SSE stream for server-initiated messages ("streamable HTTP",
// spec §4.2).
type HTTPBackend struct {
	cfg    Config
	log    *zap.Logger
	client *http.Client
	sem    *semaphore.Weighted
	sink   NotificationSink

	nextID  atomic.Int64
	pendMu  sync.Mutex
	pending map[int64]chan protocol.Frame

	alive atomic.Bool
}

// NewHTTPBackend constructs an HTTPBackend. sink may be nil if the caller
// does not need server-originated notifications forwarded.
func NewHTTPBackend(cfg Config, log *zap.Logger, sink NotificationSink) *HTTPBackend {
	return &HTTPBackend{
		cfg: cfg,
		log: log.With(zap.String("backend", cfg.Name), zap.String("transport", "http")),
		client: &http.Client{
			Transport: &http.Transport{MaxIdleConnsPerHost: int(cfg.concurrency())},
		},
		sem:     semaphore.NewWeighted(cfg.concurrency()),
		sink:    sink,
		pending: make(map[int64]chan protocol.Frame),
	}
}

func (h *HTTPBackend) Kind() Kind {
	if h.cfg.Streaming {
		return KindSSE
	}
	return KindHTTP
}

// Call posts a single JSON-RPC request and, in non-streaming mode, decodes
// the HTTP response body directly as the matched response. In streaming
// mode the response is delivered asynchronously via the SSE stream and
// matched by id through the pending map, the same way the stdio variant
// matches by id over its single stdin/stdout pair.
func (h *HTTPBackend) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, gwerr.Unavailable(h.cfg.Name, "concurrency limit reached")
	}
	defer h.sem.Release(1)

	id := h.nextID.Add(1)
	raw, err := protocol.EncodeRequest(protocol.NewIntID(id), method, json.RawMessage(params))
	if err != nil {
		return nil, gwerr.Internal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-Id", gwlog.TraceIDFromContext(ctx))
	if h.cfg.Streaming {
		req.Header.Set("Accept", "application/json, text/event-stream")
	}

	if h.cfg.Streaming {
		return h.callStreaming(ctx, id, req)
	}
	return h.callPlain(req)
}

func (h *HTTPBackend) callPlain(req *http.Request) (json.RawMessage, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, gwerr.Transport(h.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, gwerr.Transport(h.cfg.Name, fmt.Errorf("backend returned %d", resp.StatusCode))
	}
	var frame protocol.Frame
	if err := json.NewDecoder(resp.Body).Decode(&wireResultHolder{&frame}); err != nil {
		return nil, gwerr.Internal(fmt.Errorf("decode http response: %w", err))
	}
	if frame.Error != nil {
		return nil, gwerr.Transport(h.cfg.Name, frame.Error)
	}
	return frame.Result, nil
}

// wireResultHolder adapts protocol's private wire shape for plain decode by
// delegating to protocol.Decode on the raw bytes; kept here to avoid a
// second exported wire struct in the protocol package.
type wireResultHolder struct{ dst *protocol.Frame }

func (w *wireResultHolder) UnmarshalJSON(data []byte) error {
	frame, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	*w.dst = *frame
	return nil
}

// callStreaming registers a pending channel for id, issues the POST, and
// reads the SSE response body line by line, publishing server-originated
// notifications to the sink and resolving the matched response when seen.
func (h *HTTPBackend) callStreaming(ctx context.Context, id int64, req *http.Request) (json.RawMessage, error) {
	ch := make(chan protocol.Frame, 1)
	h.pendMu.Lock()
	h.pending[id] = ch
	h.pendMu.Unlock()
	defer func() {
		h.pendMu.Lock()
		delete(h.pending, id)
		h.pendMu.Unlock()
	}()

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, gwerr.Transport(h.cfg.Name, err)
	}
	go h.pumpSSE(resp)

	select {
	case <-ctx.Done():
		return nil, gwerr.Timeout(h.cfg.Name, "")
	case frame := <-ch:
		if frame.Error != nil {
			return nil, gwerr.Transport(h.cfg.Name, frame.Error)
		}
		return frame.Result, nil
	}
}

// pumpSSE demultiplexes one SSE response body into responses matched by id
// (delivered to the pending channel) and server-originated notifications
// (published to the sink), per spec §4.2/§4.12.
func (h *HTTPBackend) pumpSSE(resp *http.Response) {
	defer resp.Body.Close()
	h.alive.Store(true)
	defer h.alive.Store(false)

	scanner := bufio.NewScanner(resp.Body)
	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = nil
		frame, err := protocol.Decode([]byte(payload))
		if err != nil {
			h.log.Warn("malformed SSE event", zap.Error(err))
			return
		}
		if frame.Kind == protocol.KindResponse {
			h.pendMu.Lock()
			ch, ok := h.pending[frame.ID.Num]
			h.pendMu.Unlock()
			if ok {
				ch <- *frame
			}
			return
		}
		if h.sink != nil {
			h.sink.Publish(h.cfg.Name, frame)
		}
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			flush()
		}
	}
	flush()
}

// Initialize performs the MCP handshake then primes the tool catalog, the
// same call sequence as the stdio variant (spec §4.2).
func (h *HTTPBackend) Initialize(ctx context.Context) (*protocol.InitializeResult, []protocol.Tool, error) {
	params, _ := json.Marshal(map[string]any{
		"protocolVersion": protocol.Latest(),
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcp-gateway", "version": "1"},
	})
	raw, err := h.Call(ctx, "initialize", params)
	if err != nil {
		return nil, nil, err
	}
	var initResult protocol.InitializeResult
	if err := json.Unmarshal(raw, &initResult); err != nil {
		return nil, nil, gwerr.Internal(fmt.Errorf("decode initialize result: %w", err))
	}
	h.alive.Store(true)

	listRaw, err := h.Call(ctx, "tools/list", json.RawMessage(`{}`))
	if err != nil {
		return &initResult, nil, err
	}
	var list protocol.ListToolsResult
	if err := json.Unmarshal(listRaw, &list); err != nil {
		return &initResult, nil, gwerr.Internal(fmt.Errorf("decode tools/list result: %w", err))
	}
	return &initResult, list.Tools, nil
}

func (h *HTTPBackend) Shutdown(_ context.Context) error {
	h.alive.Store(false)
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTPBackend) IsAlive() bool { return h.alive.Load() }
