package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mcpfed/gateway/pkg/gwerr"
	"github.com/mcpfed/gateway/pkg/protocol"
)

// pendingCall is one outstanding request awaiting a matched response.
type pendingCall struct {
	resultCh chan protocol.Frame
}

// StdioBackend spawns the backend as a child process and speaks
// line-delimited JSON-RPC over its stdin/stdout (spec §4.2 "child-process
// variant"). A supervisor goroutine owns one read task; callers' goroutines
// are the write side, serialized by a mutex so concurrent calls interleave
// cleanly on the wire.
type StdioBackend struct {
	cfg Config
	log *zap.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	alive    atomic.Bool
	nextID   atomic.Int64
	pending  map[int64]*pendingCall
	pendMu   sync.Mutex
	lastUsed atomic.Int64 // unix nanos
}

// NewStdioBackend constructs a StdioBackend that has not yet been started.
func NewStdioBackend(cfg Config, log *zap.Logger) *StdioBackend {
	return &StdioBackend{
		cfg:     cfg,
		log:     log.With(zap.String("backend", cfg.Name), zap.String("transport", "stdio")),
		sem:     semaphore.NewWeighted(cfg.concurrency()),
		pending: make(map[int64]*pendingCall),
	}
}

func (s *StdioBackend) Kind() Kind { return KindStdio }

// start spawns the child process and launches the read-pump goroutine. It
// is idempotent: calling it while already alive is a no-op.
func (s *StdioBackend) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive.Load() {
		return nil
	}

	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...) //nolint:gosec // command comes from trusted gateway config
	cmd.Dir = s.cfg.Dir
	cmd.Env = s.cfg.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return gwerr.Transport(s.cfg.Name, fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return gwerr.Transport(s.cfg.Name, fmt.Errorf("stdout pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return gwerr.Transport(s.cfg.Name, fmt.Errorf("spawn: %w", err))
	}

	s.cmd = cmd
	s.stdin = stdin
	s.alive.Store(true)
	s.touch()

	go s.readPump(stdout)
	go s.waitExit()

	return nil
}

func (s *StdioBackend) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

// readPump reads line-delimited JSON-RPC frames from the child's stdout and
// dispatches each to its pending call by id; frames that are not responses
// (server-originated notifications) and responses with no pending call are
// dropped here without logging — the listener
// layer's notification multiplexer handles those for the HTTP/SSE variant,
// but the stdio variant has no separate out-of-band channel in this design.
func (s *StdioBackend) readPump(stdout io.ReadCloser) {
	defer func() {
		s.failAllPending(gwerr.Transport(s.cfg.Name, fmt.Errorf("backend stdout closed")))
		s.alive.Store(false)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := protocol.Decode(line)
		if err != nil {
			s.log.Warn("malformed frame from backend", zap.Error(err))
			continue
		}
		if frame.Kind != protocol.KindResponse {
			continue
		}
		s.pendMu.Lock()
		pc, ok := s.pending[frame.ID.Num]
		if ok {
			delete(s.pending, frame.ID.Num)
		}
		s.pendMu.Unlock()
		if ok {
			pc.resultCh <- *frame
		}
	}
}

// waitExit observes the child process exiting and fails every pending call
// (spec §4.2 "if the child exits unexpectedly, all pending calls are failed
// with a transport error").
func (s *StdioBackend) waitExit() {
	_ = s.cmd.Wait()
	s.alive.Store(false)
	s.failAllPending(gwerr.Transport(s.cfg.Name, fmt.Errorf("backend process exited")))
}

func (s *StdioBackend) failAllPending(err error) {
	s.pendMu.Lock()
	pending := s.pending
	s.pending = make(map[int64]*pendingCall)
	s.pendMu.Unlock()

	for _, pc := range pending {
		pc.resultCh <- protocol.Frame{
			Kind:  protocol.KindResponse,
			Error: &protocol.RPCError{Code: gwerr.CodeTransport, Message: err.Error()},
		}
	}
}

// Call acquires a concurrency permit, writes the request line, and waits
// for the matched response or ctx's deadline (spec §4.2, §5 "acquire
// per-backend concurrency permit, with timeout").
func (s *StdioBackend) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if !s.alive.Load() {
		if err := s.start(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, gwerr.Unavailable(s.cfg.Name, "concurrency limit reached")
	}
	defer s.sem.Release(1)

	id := s.nextID.Add(1)
	pc := &pendingCall{resultCh: make(chan protocol.Frame, 1)}
	s.pendMu.Lock()
	s.pending[id] = pc
	s.pendMu.Unlock()

	raw, err := protocol.EncodeRequest(protocol.NewIntID(id), method, json.RawMessage(params))
	if err != nil {
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
		return nil, gwerr.Internal(err)
	}
	raw = append(raw, '\n')

	s.mu.Lock()
	_, writeErr := s.stdin.Write(raw)
	s.mu.Unlock()
	if writeErr != nil {
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
		return nil, gwerr.Transport(s.cfg.Name, writeErr)
	}
	s.touch()

	select {
	case <-ctx.Done():
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
		return nil, gwerr.Timeout(s.cfg.Name, method)
	case frame := <-pc.resultCh:
		if frame.Error != nil {
			return nil, gwerr.Transport(s.cfg.Name, frame.Error)
		}
		return frame.Result, nil
	}
}

// Initialize performs the MCP handshake then primes the tool catalog.
func (s *StdioBackend) Initialize(ctx context.Context) (*protocol.InitializeResult, []protocol.Tool, error) {
	params, _ := json.Marshal(map[string]any{
		"protocolVersion": protocol.Latest(),
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcp-gateway", "version": "1"},
	})
	raw, err := s.Call(ctx, "initialize", params)
	if err != nil {
		return nil, nil, err
	}
	var initResult protocol.InitializeResult
	if err := json.Unmarshal(raw, &initResult); err != nil {
		return nil, nil, gwerr.Internal(fmt.Errorf("decode initialize result: %w", err))
	}

	listRaw, err := s.Call(ctx, "tools/list", json.RawMessage(`{}`))
	if err != nil {
		return &initResult, nil, err
	}
	var list protocol.ListToolsResult
	if err := json.Unmarshal(listRaw, &list); err != nil {
		return &initResult, nil, gwerr.Internal(fmt.Errorf("decode tools/list result: %w", err))
	}
	return &initResult, list.Tools, nil
}

func (s *StdioBackend) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() || s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

func (s *StdioBackend) IsAlive() bool { return s.alive.Load() }

// IdleFor reports how long the backend has gone without a call, for idle
// timeout enforcement (spec §4.2 "idle timeout may terminate an unused
// backend; the next call re-spawns it").
func (s *StdioBackend) IdleFor() time.Duration {
	last := s.lastUsed.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// MaybeIdleShutdown terminates the backend if it has been idle longer than
// cfg.IdleTimeout. A subsequent Call transparently re-spawns it.
func (s *StdioBackend) MaybeIdleShutdown(ctx context.Context) {
	if s.cfg.IdleTimeout <= 0 || !s.alive.Load() {
		return
	}
	if s.IdleFor() > s.cfg.IdleTimeout {
		s.log.Info("shutting down idle backend")
		_ = s.Shutdown(ctx)
	}
}
