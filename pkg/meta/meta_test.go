package meta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcpfed/gateway/pkg/authz"
	"github.com/mcpfed/gateway/pkg/breaker"
	"github.com/mcpfed/gateway/pkg/dispatcher"
	"github.com/mcpfed/gateway/pkg/idempotency"
	"github.com/mcpfed/gateway/pkg/killswitch"
	"github.com/mcpfed/gateway/pkg/rcache"
	"github.com/mcpfed/gateway/pkg/registry"
	"github.com/mcpfed/gateway/pkg/session"
)

func newGmailBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)

		var result map[string]any
		switch req["method"] {
		case "initialize":
			result = map[string]any{"protocolVersion": "2025-11-25", "capabilities": map[string]any{}}
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{
				{"name": "gmail_search_messages", "description": "Search Gmail messages by query"},
				{"name": "gmail_send_email", "description": "Send Gmail email to recipient"},
				{"name": "gmail_list_labels", "description": "List Gmail labels in mailbox"},
			}}
		default:
			result = map[string]any{"ok": true}
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": result}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestSurface(t *testing.T) (*Surface, *registry.Registry, *killswitch.Switch) {
	t.Helper()
	srv := newGmailBackend(t)
	t.Cleanup(srv.Close)

	reg := registry.New(zap.NewNop())
	require.NoError(t, reg.Reload(context.Background(), map[string]registry.BackendSpec{
		"gmail": {Name: "gmail", BaseURL: srv.URL},
	}))

	gp, err := authz.NewDefaultGlobalPolicy(authz.DefaultAllow)
	require.NoError(t, err)
	stack := authz.NewStack(authz.NewRateLimiters(), gp, nil)
	ks := killswitch.New()
	eb := killswitch.NewErrorBudget(ks, killswitch.DefaultBudgetConfig(), nil)

	d := dispatcher.New(reg, stack, idempotency.NewDefault(),
		rcache.New(rcache.NewMemoryStore(), time.Minute, rcache.NewReadOnlyClassifier(nil)),
		ks, eb, breaker.DefaultRetryConfig(), dispatcher.NewStats(), 5*time.Second)

	return New(reg, d, ks), reg, ks
}

func TestSurface_Search_AppliesDifferentialDescriptions(t *testing.T) {
	t.Parallel()
	surface, _, _ := newTestSurface(t)
	sess := session.New(authz.Identity{Name: "alice"}, "test", "")

	hits, err := surface.Search(context.Background(), sess, SearchParams{Query: "gmail"})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	for _, h := range hits {
		assert.NotContains(t, h.Description, "Gmail")
		assert.NotContains(t, h.Description, "gmail")
	}
}

func TestSurface_Search_RankingFavorsQueryMatch(t *testing.T) {
	t.Parallel()
	surface, _, _ := newTestSurface(t)
	sess := session.New(authz.Identity{Name: "alice"}, "test", "")

	hits, err := surface.Search(context.Background(), sess, SearchParams{Query: "send email"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "gmail_send_email", hits[0].Tool)
}

func TestSurface_ListServers_ReportsHealthSummary(t *testing.T) {
	t.Parallel()
	surface, _, ks := newTestSurface(t)

	servers := surface.ListServers(context.Background())
	require.Len(t, servers, 1)
	assert.Equal(t, "gmail", servers[0].Name)
	assert.True(t, servers[0].Running)
	assert.Equal(t, "closed", servers[0].BreakerState)
	assert.Equal(t, 3, servers[0].ToolCount)
	assert.False(t, servers[0].Killed)

	ks.Kill("gmail")
	servers = surface.ListServers(context.Background())
	assert.True(t, servers[0].Killed)
}

func TestSurface_Invoke_UpdatesStatsAndSessionHistory(t *testing.T) {
	t.Parallel()
	surface, _, _ := newTestSurface(t)
	sess := session.New(authz.Identity{Name: "alice"}, "test", "")

	raw, err := surface.Invoke(context.Background(), sess, InvokeParams{
		Server: "gmail", Tool: "gmail_search_messages", Arguments: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	stats := surface.GetStats(context.Background())
	assert.Equal(t, int64(1), stats.TotalInvocations)
	assert.Equal(t, 3, stats.CatalogSize)

	assert.Greater(t, sess.RecencyBonus("gmail_gmail_search_messages"), 0.0)
}

func TestSurface_ReviveServer_ClearsKillSwitch(t *testing.T) {
	t.Parallel()
	surface, _, ks := newTestSurface(t)
	ks.Kill("gmail")
	require.True(t, ks.IsKilled("gmail"))

	require.NoError(t, surface.ReviveServer(context.Background(), "gmail"))
	assert.False(t, ks.IsKilled("gmail"))
}

func TestSurface_ReviveServer_UnknownBackend(t *testing.T) {
	t.Parallel()
	surface, _, _ := newTestSurface(t)
	err := surface.ReviveServer(context.Background(), "ghost")
	require.Error(t, err)
}

func TestSurface_SetAndGetProfile(t *testing.T) {
	t.Parallel()
	surface, _, _ := newTestSurface(t)
	sess := session.New(authz.Identity{Name: "alice"}, "test", "")

	assert.Nil(t, surface.GetProfile(context.Background(), sess))
	profile := &authz.RoutingProfile{Name: "readonly"}
	surface.SetProfile(context.Background(), sess, profile)
	assert.Equal(t, "readonly", surface.GetProfile(context.Background(), sess).Name)
}
