// Package listener implements the client-facing TCP/TLS listener and HTTP
// surface of spec §4.12: POST-style JSON-RPC, an SSE endpoint for
// server-originated notifications, and the per-session notification
// multiplexer wired to pkg/session.
package listener

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mcpfed/gateway/internal/gwlog"
	"github.com/mcpfed/gateway/pkg/authz"
	"github.com/mcpfed/gateway/pkg/dispatcher"
	"github.com/mcpfed/gateway/pkg/gwerr"
	"github.com/mcpfed/gateway/pkg/meta"
	"github.com/mcpfed/gateway/pkg/protocol"
	"github.com/mcpfed/gateway/pkg/registry"
	"github.com/mcpfed/gateway/pkg/session"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config is the listener's dependency and policy bundle. TLS is nil for
// plain-text listening (e.g. behind a terminating proxy in a test
// deployment); Credentials is nil when auth is disabled.
type Config struct {
	Host string
	Port int
	TLS  *TLSConfig

	Credentials *authz.CredentialStore
	MaxSessions int // <= 0 means unbounded

	// ExposeRawCatalog, when true, lists aggregate backend tools alongside
	// the fixed gateway_ tools in tools/list (spec §4.9 "in lieu of (or
	// alongside) the raw federated catalog").
	ExposeRawCatalog bool
}

// Server is the gateway's client-facing listener.
type Server struct {
	cfg        Config
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	meta       *meta.Surface
	sessions   *session.Table
	log        *zap.Logger

	router chi.Router
}

// New constructs a Server. The caller is responsible for starting backend
// reload/dispatch components beforehand.
func New(cfg Config, reg *registry.Registry, d *dispatcher.Dispatcher, m *meta.Surface) *Server {
	s := &Server{
		cfg:        cfg,
		registry:   reg,
		dispatcher: d,
		meta:       m,
		sessions:   session.NewTable(cfg.MaxSessions),
		log:        gwlog.L(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
	)
	r.Post("/mcp", s.handleRPC)
	r.Get("/mcp/sse", s.handleSSE)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Router exposes the underlying handler, primarily for tests.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe blocks serving the configured address until ctx is
// cancelled, then performs a graceful shutdown (spec §6 "0 normal
// shutdown").
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var tlsConf *tls.Config
	if s.cfg.TLS != nil {
		built, err := s.cfg.TLS.Build()
		if err != nil {
			return err
		}
		tlsConf = built
	}

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		TLSConfig:         tlsConf,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listener: listen on %s: %w", addr, err)
	}
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listener started", zap.String("addr", addr), zap.Bool("tls", tlsConf != nil))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("listener: graceful shutdown: %w", err)
	}
	s.log.Info("listener stopped")
	return nil
}

// handleRPC is the POST /mcp JSON-RPC surface: one request body carries one
// frame (request or notification); requests get a synchronous response,
// notifications get a 202 with no body.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	sess, rpcErr := s.bindSession(r)
	if rpcErr != nil {
		writeHTTPError(w, rpcErr)
		return
	}

	raw, err := readLimited(r)
	if err != nil {
		writeRPCError(w, protocol.ID{}, gwerr.InvalidRequest(err.Error()))
		return
	}

	frame, err := protocol.Decode(raw)
	if err != nil {
		writeRPCError(w, protocol.ID{}, gwerr.ParseError(err))
		return
	}

	if frame.Kind == protocol.KindNotification {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, callErr := s.dispatchMethod(r.Context(), sess, frame)
	if callErr != nil {
		writeRPCError(w, frame.ID, callErr)
		return
	}
	body, err := protocol.EncodeResult(frame.ID, json.RawMessage(result))
	if err != nil {
		writeRPCError(w, frame.ID, gwerr.Internal(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// handleSSE streams this session's outbound notifications (spec §4.12
// "notification multiplexer maintains, per session, a fan-out channel").
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sess, rpcErr := s.bindSession(r)
	if rpcErr != nil {
		writeHTTPError(w, rpcErr)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", sess.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	defer s.sessions.Remove(sess.ID)

	for {
		select {
		case <-r.Context().Done():
			return
		case n, open := <-sess.Notifications():
			if !open {
				return
			}
			frame, err := protocol.EncodeNotification(n.Frame.Method, json.RawMessage(n.Frame.Params))
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Backend, frame)
			flusher.Flush()
		}
	}
}

const maxRequestBody = 4 << 20 // 4 MiB

func readLimited(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
}
