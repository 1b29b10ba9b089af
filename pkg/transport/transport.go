// Package transport manages backend connections: one child process (stdio)
// or HTTP/SSE session per backend, multiplexing concurrent JSON-RPC calls
// and tracking liveness (spec §4.2).
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcpfed/gateway/pkg/protocol"
)

// Kind is the closed set of transport variants (spec §9 design notes:
// "model as a tagged variant ... prefer the variant when the set is
// closed").
type Kind int

const (
	KindStdio Kind = iota
	KindHTTP
	KindSSE
)

// Backend is the capability interface every transport variant satisfies
// (spec §9: "or a small capability interface with methods call, shutdown,
// is_alive").
type Backend interface {
	// Call issues a JSON-RPC request for method with params and waits for
	// the matching response, honoring ctx's deadline.
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
	// Initialize performs the MCP handshake and primes the tool catalog.
	Initialize(ctx context.Context) (*protocol.InitializeResult, []protocol.Tool, error)
	// Shutdown tears the backend down.
	Shutdown(ctx context.Context) error
	// IsAlive reports current liveness without blocking on I/O.
	IsAlive() bool
	Kind() Kind
}

// Config is the per-backend configuration shared by both transport
// variants (spec §3 "Backend").
type Config struct {
	Name string

	// Child-process variant.
	Command string
	Args    []string
	Dir     string
	Env     []string

	// HTTP variant.
	BaseURL   string
	Streaming bool // "streamable HTTP" with SSE for server-initiated messages

	// Common.
	Concurrency  int // bounded-concurrency semaphore size, default 32
	CallTimeout  time.Duration
	IdleTimeout  time.Duration // idle child processes may be terminated
}

// DefaultConcurrency is the default per-backend semaphore size (spec §4.2).
const DefaultConcurrency = 32

func (c Config) concurrency() int64 {
	if c.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return int64(c.Concurrency)
}
