// Package meta implements the gateway's Meta-MCP surface (spec §4.9): a
// small fixed set of synthetic tools exposed to clients in place of, or
// alongside, the raw federated catalog.
package meta

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/mcpfed/gateway/pkg/authz"
	"github.com/mcpfed/gateway/pkg/dispatcher"
	"github.com/mcpfed/gateway/pkg/gwerr"
	"github.com/mcpfed/gateway/pkg/killswitch"
	"github.com/mcpfed/gateway/pkg/registry"
	"github.com/mcpfed/gateway/pkg/session"
	"github.com/mcpfed/gateway/pkg/transport"
)

// ToolNamePrefix is prepended to every synthetic tool's client-visible name
// (spec §6 "Fixed names (prefix gateway_)").
const ToolNamePrefix = "gateway_"

// Surface composes the registry, dispatcher and kill-switch into the seven
// synthetic tools a client sees (spec §4.9).
type Surface struct {
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	killSwitch *killswitch.Switch
}

// New constructs a Surface.
func New(reg *registry.Registry, d *dispatcher.Dispatcher, ks *killswitch.Switch) *Surface {
	return &Surface{registry: reg, dispatcher: d, killSwitch: ks}
}

// InvokeParams is the params object of the gateway_invoke synthetic tool.
type InvokeParams struct {
	Server         string          `json:"server"`
	Tool           string          `json:"tool"`
	Arguments      json.RawMessage `json:"arguments"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Invoke is the central dispatch synthetic tool (spec §4.9): it delegates
// to the dispatcher pipeline and returns the backend's tool result
// verbatim.
func (s *Surface) Invoke(ctx context.Context, sess *session.Session, p InvokeParams) (json.RawMessage, error) {
	entry, ok := s.registry.Get(p.Server)
	var annotatedReadOnly bool
	var sideEffecting = true
	if ok {
		for _, t := range entry.Tools {
			if t.Name == p.Tool {
				annotatedReadOnly = t.ReadOnly
				sideEffecting = !t.ReadOnly
				break
			}
		}
	}

	req := dispatcher.InvokeRequest{
		Backend:           p.Server,
		Tool:              p.Tool,
		Arguments:         p.Arguments,
		IdempotencyKey:    p.IdempotencyKey,
		SideEffecting:     sideEffecting,
		AnnotatedReadOnly: annotatedReadOnly,
		Identity:          sess.Identity,
		Cert:              sess.Cert,
		RequireClientCert: sess.RequireClientCert,
		Profile:           sess.Profile(),
	}
	res, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	sess.RecordToolUse(registry.GlobalName(p.Server, p.Tool))
	return res.Result, nil
}

// SearchParams is the params object of gateway_search.
type SearchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchHit is one ranked catalog entry returned by gateway_search.
type SearchHit struct {
	GlobalName  string  `json:"global_name"`
	Backend     string  `json:"backend"`
	Tool        string  `json:"tool"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

const defaultSearchLimit = 10

// Search ranks the aggregate catalog against a query, combining keyword
// match, per-session recency, and a global frequency prior (spec §4.9),
// and supplies differential descriptions for family members (spec §4.8).
func (s *Surface) Search(_ context.Context, sess *session.Session, p SearchParams) ([]SearchHit, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	all := s.registry.AggregateTools()
	diffs := registry.DifferentialDescriptions(all)

	queryWords := strings.Fields(strings.ToLower(p.Query))
	hits := make([]SearchHit, 0, len(all))
	for _, t := range all {
		score := keywordScore(queryWords, t)
		score += sess.RecencyBonus(t.GlobalName)
		score += s.dispatcher.FrequencyPrior(t.Tool.Name)
		if score <= 0 && p.Query != "" {
			continue
		}
		desc := t.Tool.Description
		if d, ok := diffs[t.GlobalName]; ok {
			desc = d
		}
		hits = append(hits, SearchHit{
			GlobalName:  t.GlobalName,
			Backend:     t.Backend,
			Tool:        t.Tool.Name,
			Description: desc,
			Score:       score,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].GlobalName < hits[j].GlobalName
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// keywordScore matches query words against the tool's name, description,
// and (shallowly) its input schema's property names.
func keywordScore(queryWords []string, t registry.AggregateTool) float64 {
	if len(queryWords) == 0 {
		return 1
	}
	haystack := strings.ToLower(t.Tool.Name + " " + t.Tool.Description + " " + parameterNames(t.Tool.InputSchema))
	var score float64
	for _, w := range queryWords {
		if strings.Contains(haystack, w) {
			score += 1
		}
	}
	return score
}

func parameterNames(schema json.RawMessage) string {
	if len(schema) == 0 {
		return ""
	}
	var parsed struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return ""
	}
	names := make([]string, 0, len(parsed.Properties))
	for k := range parsed.Properties {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

// ServerInfo is one entry returned by gateway_list_servers.
type ServerInfo struct {
	Name         string `json:"name"`
	Running      bool   `json:"running"`
	Transport    string `json:"transport"`
	LastError    string `json:"last_error,omitempty"`
	BreakerState string `json:"breaker_state"`
	ToolCount    int    `json:"tool_count"`
	Killed       bool   `json:"killed"`
}

// ListServers returns per-backend health summary (spec §4.9).
func (s *Surface) ListServers(context.Context) []ServerInfo {
	entries := s.registry.List()
	out := make([]ServerInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, ServerInfo{
			Name:         e.Name,
			Running:      e.Backend.IsAlive(),
			Transport:    transportKindLabel(e.Backend.Kind()),
			LastError:    e.LastError,
			BreakerState: e.Breaker.GetState().String(),
			ToolCount:    len(e.Tools),
			Killed:       s.killSwitch.IsKilled(e.Name),
		})
	}
	return out
}

func transportKindLabel(k transport.Kind) string {
	switch k {
	case transport.KindStdio:
		return "stdio"
	case transport.KindHTTP:
		return "http"
	case transport.KindSSE:
		return "sse"
	default:
		return "unknown"
	}
}

// Stats is the result of gateway_get_stats (spec §4.9).
type Stats struct {
	TotalInvocations int64    `json:"total_invocations"`
	CacheHits        int64    `json:"cache_hits"`
	Denied           int64    `json:"denied"`
	TopTools         []string `json:"top_tools"`
	CatalogSize      int      `json:"catalog_size"`
}

const topToolsN = 5

// GetStats reports process-level counters (spec §4.9).
func (s *Surface) GetStats(context.Context) Stats {
	total, hits, denied := s.dispatcher.StatsSnapshot()
	return Stats{
		TotalInvocations: total,
		CacheHits:        hits,
		Denied:           denied,
		TopTools:         s.dispatcher.TopTools(topToolsN),
		CatalogSize:      len(s.registry.AggregateTools()),
	}
}

// SetProfile binds profile to the session, or clears the binding when
// profile is nil (spec §4.9). The profile is used as passed in; configured
// routing profiles are not looked up by name.
func (s *Surface) SetProfile(_ context.Context, sess *session.Session, profile *authz.RoutingProfile) {
	sess.SetProfile(profile)
}

// GetProfile inspects the session's currently bound routing profile.
func (s *Surface) GetProfile(_ context.Context, sess *session.Session) *authz.RoutingProfile {
	return sess.Profile()
}

// ReviveServer is the operator action that clears kill-switch state for
// name and records one success on its breaker (spec §4.9). That success
// zeroes the failure count of a closed breaker and counts toward closing a
// half-open one; an open breaker is not reset and stays open until its
// reset timeout lets a probe through.
func (s *Surface) ReviveServer(_ context.Context, name string) error {
	entry, ok := s.registry.Get(name)
	if !ok {
		return gwerr.BackendNotFound(name)
	}
	s.killSwitch.Revive(name)
	entry.Breaker.RecordSuccess() // half-open/open -> closed is driven by subsequent traffic; explicit revive clears the kill-switch immediately
	return nil
}
