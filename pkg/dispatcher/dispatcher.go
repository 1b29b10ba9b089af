// Package dispatcher implements the request pipeline of spec §4.10: the
// single code path every tool invocation passes through, composing access
// control, idempotency, response caching, the kill-switch, the circuit
// breaker, and the retrying transport call.
package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcpfed/gateway/internal/gwlog"
	"github.com/mcpfed/gateway/pkg/authz"
	"github.com/mcpfed/gateway/pkg/breaker"
	"github.com/mcpfed/gateway/pkg/gwerr"
	"github.com/mcpfed/gateway/pkg/idempotency"
	"github.com/mcpfed/gateway/pkg/killswitch"
	"github.com/mcpfed/gateway/pkg/protocol"
	"github.com/mcpfed/gateway/pkg/rcache"
	"github.com/mcpfed/gateway/pkg/registry"
)

// Stats accumulates process-level counters consulted by the Meta-MCP
// get_stats tool (spec §4.9). All fields are updated under a single mutex
// held only for the duration of the increment (spec §5 "concurrent hash
// structures with per-key short critical sections").
type Stats struct {
	mu               sync.Mutex
	TotalInvocations int64
	CacheHits        int64
	Denied           int64
	toolCounts       map[string]int64
}

// NewStats constructs an empty Stats.
func NewStats() *Stats {
	return &Stats{toolCounts: make(map[string]int64)}
}

// InvokeRequest is the input to Dispatch: the resolved backend/tool target,
// raw arguments, an optional caller-supplied idempotency key, and the
// identity/session context access control needs.
type InvokeRequest struct {
	Backend         string
	Tool            string
	Arguments       json.RawMessage
	IdempotencyKey  string // if empty, derived from the fingerprint for side-effecting tools
	SideEffecting   bool
	AnnotatedReadOnly bool

	Identity          authz.Identity
	Cert              *authz.CertIdentity
	RequireClientCert bool
	Profile           *authz.RoutingProfile

	ClientTimeout time.Duration
}

// InvokeResult is the successful outcome of Dispatch.
type InvokeResult struct {
	Result      json.RawMessage
	TraceID     string
	FromCache   bool
	DurationMS  int64
}

// Dispatcher composes the pipeline components. All fields are required;
// construct with New.
type Dispatcher struct {
	registry    *registry.Registry
	authzStack  *authz.Stack
	idempotency *idempotency.Cache
	response    *rcache.Cache
	killSwitch  *killswitch.Switch
	errorBudget *killswitch.ErrorBudget
	retryConfig breaker.RetryConfig
	stats       *Stats
	defaultCallTimeout time.Duration
}

// New constructs a Dispatcher from its component dependencies.
func New(
	reg *registry.Registry,
	authzStack *authz.Stack,
	idem *idempotency.Cache,
	resp *rcache.Cache,
	ks *killswitch.Switch,
	eb *killswitch.ErrorBudget,
	retryConfig breaker.RetryConfig,
	stats *Stats,
	defaultCallTimeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		registry:           reg,
		authzStack:         authzStack,
		idempotency:        idem,
		response:           resp,
		killSwitch:         ks,
		errorBudget:        eb,
		retryConfig:        retryConfig,
		stats:              stats,
		defaultCallTimeout: defaultCallTimeout,
	}
}

// Dispatch runs the full pipeline of spec §4.10 for one tool invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	start := time.Now()

	// Step 1: trace id, installed as ambient context for this call.
	traceID := "gw-" + uuid.NewString()
	ctx = gwlog.WithTraceID(ctx, traceID)
	log := gwlog.FromContext(ctx).With(zap.String("backend", req.Backend), zap.String("tool", req.Tool))

	timeout := req.ClientTimeout
	if timeout <= 0 || timeout > d.defaultCallTimeout {
		if d.defaultCallTimeout > 0 {
			timeout = d.defaultCallTimeout
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Step 2: access control.
	if err := d.authzStack.Evaluate(ctx, authz.Request{
		Identity:          req.Identity,
		Backend:           req.Backend,
		Tool:              req.Tool,
		Cert:              req.Cert,
		RequireClientCert: req.RequireClientCert,
		Profile:           req.Profile,
	}); err != nil {
		d.stats.recordDenied()
		gwlog.Audit(ctx, "tool.denied",
			zap.String("identity", req.Identity.Name),
			zap.String("backend", req.Backend),
			zap.String("tool", req.Tool),
			zap.String("reason", err.Error()))
		return nil, err
	}

	entry, ok := d.registry.Get(req.Backend)
	if !ok {
		d.stats.recordDenied()
		gwlog.Audit(ctx, "tool.denied",
			zap.String("identity", req.Identity.Name),
			zap.String("backend", req.Backend),
			zap.String("tool", req.Tool),
			zap.String("reason", "backend not found"))
		return nil, gwerr.BackendNotFound(req.Backend)
	}

	// Step 3: fingerprint / idempotency key derivation.
	key := req.IdempotencyKey
	if key == "" && req.SideEffecting {
		fp, err := protocol.Fingerprint(req.Tool, req.Arguments)
		if err != nil {
			return nil, gwerr.Internal(err)
		}
		key = fp
	}

	execute := func(ctx context.Context) (json.RawMessage, error) {
		return d.executeAgainstBackend(ctx, entry, req, traceID, log)
	}

	// Steps 4 (idempotency) and 5 (response cache) only apply meaningfully
	// to calls that carry a dedup key / are read-only; other calls go
	// straight through the kill-switch/breaker/transport chain.
	if key != "" {
		status, cached, err := d.idempotency.Guard(ctx, key, execute)
		switch status {
		case idempotency.StatusInFlight:
			return nil, gwerr.Duplicate(key)
		case idempotency.StatusCompleted:
			d.stats.recordInvocation(req.Tool)
			return &InvokeResult{Result: cached, TraceID: traceID, FromCache: true, DurationMS: sinceMS(start)}, nil
		}
		if err != nil {
			return nil, err
		}
		d.stats.recordInvocation(req.Tool)
		return &InvokeResult{Result: cached, TraceID: traceID, DurationMS: sinceMS(start)}, nil
	}

	if d.response != nil && req.Arguments != nil {
		fp, ferr := protocol.Fingerprint(req.Tool, req.Arguments)
		if ferr == nil {
			if cached, hit := d.response.Lookup(ctx, req.Backend, req.Tool, req.AnnotatedReadOnly, fp); hit {
				d.stats.recordCacheHit(req.Tool)
				return &InvokeResult{Result: cached, TraceID: traceID, FromCache: true, DurationMS: sinceMS(start)}, nil
			}
			result, err := execute(ctx)
			if err != nil {
				return nil, err
			}
			d.response.Store(ctx, req.Backend, req.Tool, req.AnnotatedReadOnly, fp, result)
			d.stats.recordInvocation(req.Tool)
			return &InvokeResult{Result: result, TraceID: traceID, DurationMS: sinceMS(start)}, nil
		}
	}

	result, err := execute(ctx)
	if err != nil {
		return nil, err
	}
	d.stats.recordInvocation(req.Tool)
	return &InvokeResult{Result: result, TraceID: traceID, DurationMS: sinceMS(start)}, nil
}

// executeAgainstBackend runs steps 6-11 of spec §4.10: kill-switch, breaker
// admission, bounded retrying transport execution, and success/failure
// bookkeeping. It is the function idempotency.Guard and the response-cache
// path both wrap; retries inside breaker.Do do not re-run steps 2-7.
func (d *Dispatcher) executeAgainstBackend(ctx context.Context, entry *registry.Entry, req InvokeRequest, traceID string, log *zap.Logger) (json.RawMessage, error) {
	if d.killSwitch.IsKilled(req.Backend) {
		return nil, gwerr.Unavailable(req.Backend, "backend disabled")
	}
	if !entry.Breaker.CanAttempt() {
		return nil, gwerr.Unavailable(req.Backend, "breaker open")
	}

	result, err := breaker.Do(ctx, d.retryConfig, func(ctx context.Context) (json.RawMessage, error) {
		params, marshalErr := json.Marshal(protocol.CallToolParams{Name: req.Tool, Arguments: req.Arguments})
		if marshalErr != nil {
			return nil, gwerr.Internal(marshalErr)
		}
		return entry.Backend.Call(ctx, "tools/call", params)
	})

	if err != nil {
		entry.Breaker.RecordFailure()
		if d.errorBudget != nil {
			d.errorBudget.Record(req.Backend, false)
		}
		log.Warn("tool call failed", zap.String("trace_id", traceID), zap.Error(err))
		return nil, normalizeTransportError(req.Backend, req.Tool, err)
	}

	entry.Breaker.RecordSuccess()
	if d.errorBudget != nil {
		d.errorBudget.Record(req.Backend, true)
	}
	log.Info("tool call succeeded", zap.String("trace_id", traceID))
	return result, nil
}

// normalizeTransportError ensures a non-gwerr failure from the transport
// layer (e.g. context.DeadlineExceeded surfacing from breaker.Do when the
// op itself never returned) is still classified per spec §7's taxonomy.
func normalizeTransportError(backend, tool string, err error) error {
	if _, ok := gwerr.As(err); ok {
		return err
	}
	return gwerr.Timeout(backend, tool)
}

func sinceMS(start time.Time) int64 { return time.Since(start).Milliseconds() }

// recordDenied, recordInvocation and recordCacheHit implement spec §8's
// "Admission safety" invariant by only ever touching the "denied" counter
// on a policy rejection, never the invocation or cache counters.
func (s *Stats) recordDenied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Denied++
}

func (s *Stats) recordInvocation(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalInvocations++
	s.toolCounts[tool]++
}

func (s *Stats) recordCacheHit(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalInvocations++
	s.CacheHits++
	s.toolCounts[tool]++
}

// TopTools returns up to n tool names ordered by descending call count, for
// get_stats (spec §4.9).
func (s *Stats) TopTools(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	type pair struct {
		name  string
		count int64
	}
	pairs := make([]pair, 0, len(s.toolCounts))
	for name, count := range s.toolCounts {
		pairs = append(pairs, pair{name, count})
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].count < pairs[j].count; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].name
	}
	return out
}

// Snapshot returns a read consistent view of the counters for get_stats.
func (s *Stats) Snapshot() (total, hits, denied int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TotalInvocations, s.CacheHits, s.Denied
}

// frequencyPrior returns a call-count-derived prior in [0,1] for tool,
// normalized against the single most-called tool, for use as a small
// ranking boost in gateway_search (spec §4.9 "global frequency prior").
func (s *Stats) frequencyPrior(tool string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.toolCounts) == 0 {
		return 0
	}
	var max int64
	for _, c := range s.toolCounts {
		if c > max {
			max = c
		}
	}
	if max == 0 {
		return 0
	}
	return float64(s.toolCounts[tool]) / float64(max)
}

// StatsSnapshot exposes the dispatcher's accumulated counters to the
// Meta-MCP surface (spec §4.9 get_stats).
func (d *Dispatcher) StatsSnapshot() (total, hits, denied int64) {
	return d.stats.Snapshot()
}

// TopTools exposes the dispatcher's most-called tools to the Meta-MCP
// surface (spec §4.9 get_stats).
func (d *Dispatcher) TopTools(n int) []string {
	return d.stats.TopTools(n)
}

// FrequencyPrior exposes the dispatcher's call-frequency ranking signal to
// gateway_search (spec §4.9).
func (d *Dispatcher) FrequencyPrior(tool string) float64 {
	return d.stats.frequencyPrior(tool)
}
