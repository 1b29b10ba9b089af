// Package registry owns the authoritative map of backends, the aggregate
// tool catalog, and stable global tool naming (spec §4.8). Hot reload
// atomically swaps an inner snapshot under a write lock while readers keep
// whatever snapshot they already held (spec §9 "hot reload").
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpfed/gateway/pkg/breaker"
	"github.com/mcpfed/gateway/pkg/protocol"
	"github.com/mcpfed/gateway/pkg/ssrfguard"
	"github.com/mcpfed/gateway/pkg/transport"
)

// Entry is one registered backend: its live transport, cached tool list,
// and the failsafe state owned alongside it (spec §3 "Backend").
type Entry struct {
	Name    string
	Backend transport.Backend
	Breaker *breaker.CircuitBreaker
	Tools   []protocol.Tool

	// LastError is the error text of the backend's most recent failed
	// Initialize during a Reload, surfaced by the Meta-MCP list_servers tool
	// (spec §4.9). Call failures do not update it, and a later successful
	// Initialize does not clear it.
	LastError string
}

// snapshot is the atomically-swapped inner state. Reload builds a new
// snapshot and never mutates the maps of one already published; Entries
// kept across a Reload are shared with the old snapshot, and Reload rewrites
// their Tools (or, when Initialize fails, their LastError) in place.
type snapshot struct {
	byName map[string]*Entry
	// globalNames maps a stable global tool name ("<backend>_<tool>") to the
	// (backend, tool) pair that claimed it, for first-wins collision
	// resolution (spec §4.8).
	globalNames map[string]qualifiedTool
}

type qualifiedTool struct {
	Backend string
	Tool    string
}

// Registry is the thread-safe, hot-reloadable backend directory.
type Registry struct {
	log  *zap.Logger
	mu   sync.RWMutex
	snap *snapshot
}

// New constructs an empty Registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		log:  log,
		snap: &snapshot{byName: map[string]*Entry{}, globalNames: map[string]qualifiedTool{}},
	}
}

// Get returns the named backend entry from the current snapshot.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.snap.byName[name]
	return e, ok
}

// List returns all entries in the current snapshot, sorted by name for
// deterministic output.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.snap.byName))
	for _, e := range r.snap.byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GlobalName returns the stable global tool identifier for (backend, tool)
// as derived at the last Reload: "<backend>_<tool>" after light
// normalization (spec §4.8).
func GlobalName(backend, tool string) string {
	return normalize(backend) + "_" + normalize(tool)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ResolveGlobalName looks up which (backend, tool) pair currently owns a
// global tool name.
func (r *Registry) ResolveGlobalName(globalName string) (backend, tool string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	qt, ok := r.snap.globalNames[globalName]
	if !ok {
		return "", "", false
	}
	return qt.Backend, qt.Tool, true
}

// AggregateTools unions the tool catalogs of every running backend,
// preserving backend of origin, for the Meta-MCP search/list surface
// (spec §4.8 "aggregate list_tools").
type AggregateTool struct {
	Backend     string
	Tool        protocol.Tool
	GlobalName  string
}

func (r *Registry) AggregateTools() []AggregateTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AggregateTool
	for _, e := range r.snap.byName {
		if !e.Backend.IsAlive() {
			continue
		}
		for _, tool := range e.Tools {
			out = append(out, AggregateTool{Backend: e.Name, Tool: tool, GlobalName: GlobalName(e.Name, tool.Name)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalName < out[j].GlobalName })
	return out
}

// Reload atomically replaces the registry's backend set. Entries present in
// both old and new snapshots by name keep their existing transport/breaker
// (so in-flight calls against them are undisturbed); new names get fresh
// entries. Backends removed from the new set are shut down once this
// function returns, after the swap, so in-flight readers holding the old
// snapshot are not affected (spec §9 "torn-down backends shut down only
// after their last reader drops" — approximated here by shutting down after
// the swap rather than tracking reader refcounts, since Go's GC keeps the
// old snapshot and its Entries alive for any goroutine still holding them).
func (r *Registry) Reload(ctx context.Context, specs map[string]BackendSpec) error {
	r.mu.Lock()
	old := r.snap
	next := &snapshot{byName: map[string]*Entry{}, globalNames: map[string]qualifiedTool{}}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := specs[name]
		if existing, ok := old.byName[name]; ok && existing.Backend.Kind() == spec.kind() {
			next.byName[name] = existing
			continue
		}
		next.byName[name] = &Entry{
			Name:    name,
			Backend: spec.newBackend(r.log),
			Breaker: breaker.NewCircuitBreaker(spec.FailureThreshold, spec.ResetTimeout),
		}
	}

	for _, e := range next.byName {
		initResult, tools, err := e.Backend.Initialize(ctx)
		_ = initResult
		if err != nil {
			e.LastError = err.Error()
			r.log.Warn("backend initialize failed", zap.String("backend", e.Name), zap.Error(err))
			continue
		}
		e.Tools = tools
		registerGlobalNames(next, e.Name, tools, r.log)
	}

	r.snap = next
	r.mu.Unlock()

	for name, e := range old.byName {
		if _, kept := next.byName[name]; !kept {
			_ = e.Backend.Shutdown(ctx)
		}
	}
	return nil
}

// registerGlobalNames populates next.globalNames for one backend's tools,
// keeping the first claimant of a colliding global name and warning on
// every subsequent collision (spec §4.8 "collisions ... resolved by keeping
// the first and emitting a warning").
func registerGlobalNames(next *snapshot, backendName string, tools []protocol.Tool, log *zap.Logger) {
	for _, tool := range tools {
		gn := GlobalName(backendName, tool.Name)
		if existing, ok := next.globalNames[gn]; ok {
			log.Warn("global tool name collision, keeping first registrant",
				zap.String("global_name", gn),
				zap.String("kept_backend", existing.Backend),
				zap.String("dropped_backend", backendName))
			continue
		}
		next.globalNames[gn] = qualifiedTool{Backend: backendName, Tool: tool.Name}
	}
}

// BackendSpec is the declarative description of one backend, as parsed
// from configuration (spec §6 "backends (map name→backend spec)").
type BackendSpec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string

	BaseURL   string
	Streaming bool

	Concurrency int
	CallTimeout time.Duration
	IdleTimeout time.Duration

	FailureThreshold int
	ResetTimeout     time.Duration
}

func (s BackendSpec) kind() transport.Kind {
	if s.BaseURL != "" {
		if s.Streaming {
			return transport.KindSSE
		}
		return transport.KindHTTP
	}
	return transport.KindStdio
}

func (s BackendSpec) newBackend(log *zap.Logger) transport.Backend {
	cfg := transport.Config{
		Name:        s.Name,
		Command:     s.Command,
		Args:        s.Args,
		Dir:         s.Dir,
		Env:         s.Env,
		BaseURL:     s.BaseURL,
		Streaming:   s.Streaming,
		Concurrency: s.Concurrency,
		CallTimeout: s.CallTimeout,
		IdleTimeout: s.IdleTimeout,
	}
	if s.BaseURL != "" {
		return transport.NewHTTPBackend(cfg, log, nil)
	}
	return transport.NewStdioBackend(cfg, log)
}

// Validate reports a descriptive error for a malformed backend spec rather
// than letting a nil Command/BaseURL surface as a confusing runtime panic.
func (s BackendSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("registry: backend spec missing name")
	}
	if s.Command == "" && s.BaseURL == "" {
		return fmt.Errorf("registry: backend %q has neither command nor base_url", s.Name)
	}
	if s.Command != "" && s.BaseURL != "" {
		return fmt.Errorf("registry: backend %q specifies both command and base_url", s.Name)
	}
	if s.BaseURL != "" {
		if err := ssrfguard.CheckURL(s.BaseURL); err != nil {
			return fmt.Errorf("registry: backend %q: %w", s.Name, err)
		}
	}
	return nil
}
