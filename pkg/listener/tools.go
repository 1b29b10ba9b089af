package listener

import (
	"encoding/json"

	"github.com/mcpfed/gateway/pkg/authz"
	"github.com/mcpfed/gateway/pkg/meta"
	"github.com/mcpfed/gateway/pkg/protocol"
)

func schema(properties map[string]string, required ...string) json.RawMessage {
	props := make(map[string]map[string]string, len(properties))
	for name, typ := range properties {
		props[name] = map[string]string{"type": typ}
	}
	raw, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
	return raw
}

// fixedMetaTools is the catalog entry for each gateway_ synthetic tool
// (spec §4.9, §6 "their schemas are as in §4.9").
var fixedMetaTools = []protocol.Tool{
	{
		Name:        meta.ToolNamePrefix + "invoke",
		Description: "Invoke a tool on a federated backend by server and tool name.",
		InputSchema: schema(map[string]string{"server": "string", "tool": "string", "arguments": "object", "idempotency_key": "string"}, "server", "tool"),
	},
	{
		Name:        meta.ToolNamePrefix + "search",
		Description: "Search the federated tool catalog by keyword.",
		InputSchema: schema(map[string]string{"query": "string", "limit": "integer"}),
	},
	{
		Name:        meta.ToolNamePrefix + "list_servers",
		Description: "List federated backend servers and their health.",
		InputSchema: schema(nil),
	},
	{
		Name:        meta.ToolNamePrefix + "get_stats",
		Description: "Report process-level invocation and cache counters.",
		InputSchema: schema(nil),
	},
	{
		Name:        meta.ToolNamePrefix + "set_profile",
		Description: "Bind this session to the routing profile given in the profile object.",
		InputSchema: schema(map[string]string{"profile": "object"}),
	},
	{
		Name:        meta.ToolNamePrefix + "get_profile",
		Description: "Inspect this session's currently bound routing profile.",
		InputSchema: schema(nil),
	},
	{
		Name:        meta.ToolNamePrefix + "revive_server",
		Description: "Clear kill-switch state for a backend; an open breaker is not reset.",
		InputSchema: schema(map[string]string{"name": "string"}, "name"),
	},
}

// profileDoc is the wire shape of a routing profile passed to
// gateway_set_profile; nil clears the session's bound profile.
type profileDoc struct {
	Name         string   `json:"name"`
	BackendAllow []string `json:"backend_allow,omitempty"`
	BackendDeny  []string `json:"backend_deny,omitempty"`
	ToolAllow    []string `json:"tool_allow,omitempty"`
	ToolDeny     []string `json:"tool_deny,omitempty"`
}

func (p *profileDoc) toRoutingProfile() *authz.RoutingProfile {
	if p == nil {
		return nil
	}
	return &authz.RoutingProfile{
		Name:         p.Name,
		BackendAllow: p.BackendAllow,
		BackendDeny:  p.BackendDeny,
		ToolAllow:    p.ToolAllow,
		ToolDeny:     p.ToolDeny,
	}
}
