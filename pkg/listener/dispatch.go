package listener

import (
	"context"
	"encoding/json"

	"github.com/mcpfed/gateway/pkg/gwerr"
	"github.com/mcpfed/gateway/pkg/meta"
	"github.com/mcpfed/gateway/pkg/protocol"
	"github.com/mcpfed/gateway/pkg/registry"
	"github.com/mcpfed/gateway/pkg/session"
)

// dispatchMethod routes one decoded request frame to the appropriate
// handler: the MCP handshake, the catalog listing, or a tool invocation
// (either a gateway_ synthetic tool or a direct passthrough call, spec
// §4.9 "in lieu of (or alongside) the raw federated catalog").
func (s *Server) dispatchMethod(ctx context.Context, sess *session.Session, frame *protocol.Frame) (json.RawMessage, error) {
	switch frame.Method {
	case "initialize":
		return s.handleInitialize(sess)
	case "tools/list":
		return s.handleToolsList(ctx)
	case "tools/call":
		return s.handleToolsCall(ctx, sess, frame.Params)
	default:
		return nil, gwerr.MethodNotFound(frame.Method)
	}
}

func (s *Server) handleInitialize(sess *session.Session) (json.RawMessage, error) {
	result := protocol.InitializeResult{ProtocolVersion: sess.ProtocolVersion}
	result.ServerInfo.Name = "mcpfed-gateway"
	return json.Marshal(result)
}

func (s *Server) handleToolsList(context.Context) (json.RawMessage, error) {
	tools := append([]protocol.Tool{}, fixedMetaTools...)
	if s.cfg.ExposeRawCatalog {
		all := s.registry.AggregateTools()
		diffs := registry.DifferentialDescriptions(all)
		for _, t := range all {
			tool := t.Tool
			tool.Name = t.GlobalName
			if d, ok := diffs[t.GlobalName]; ok {
				tool.Description = d
			}
			tools = append(tools, tool)
		}
	}
	return json.Marshal(protocol.ListToolsResult{Tools: tools})
}

func (s *Server) handleToolsCall(ctx context.Context, sess *session.Session, params json.RawMessage) (json.RawMessage, error) {
	var call protocol.CallToolParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, gwerr.InvalidParams("malformed tools/call params: " + err.Error())
	}

	if handler, ok := metaHandlers[call.Name]; ok {
		return handler(ctx, s.meta, sess, call.Arguments)
	}

	backend, tool, ok := s.registry.ResolveGlobalName(call.Name)
	if !ok {
		return nil, gwerr.MethodNotFound(call.Name)
	}
	result, err := s.meta.Invoke(ctx, sess, meta.InvokeParams{Server: backend, Tool: tool, Arguments: call.Arguments})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// metaHandlers maps each gateway_ synthetic tool name to a function that
// decodes its arguments and delegates to the meta.Surface.
var metaHandlers = map[string]func(context.Context, *meta.Surface, *session.Session, json.RawMessage) (json.RawMessage, error){
	meta.ToolNamePrefix + "invoke": func(ctx context.Context, m *meta.Surface, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
		var p meta.InvokeParams
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, gwerr.InvalidParams(err.Error())
		}
		return m.Invoke(ctx, sess, p)
	},
	meta.ToolNamePrefix + "search": func(ctx context.Context, m *meta.Surface, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
		var p meta.SearchParams
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, gwerr.InvalidParams(err.Error())
		}
		hits, err := m.Search(ctx, sess, p)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hits)
	},
	meta.ToolNamePrefix + "list_servers": func(ctx context.Context, m *meta.Surface, _ *session.Session, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(m.ListServers(ctx))
	},
	meta.ToolNamePrefix + "get_stats": func(ctx context.Context, m *meta.Surface, _ *session.Session, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(m.GetStats(ctx))
	},
	meta.ToolNamePrefix + "set_profile": func(ctx context.Context, m *meta.Surface, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
		var p struct {
			Profile *profileDoc `json:"profile"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, gwerr.InvalidParams(err.Error())
		}
		m.SetProfile(ctx, sess, p.Profile.toRoutingProfile())
		return json.Marshal(map[string]bool{"ok": true})
	},
	meta.ToolNamePrefix + "get_profile": func(ctx context.Context, m *meta.Surface, sess *session.Session, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(m.GetProfile(ctx, sess))
	},
	meta.ToolNamePrefix + "revive_server": func(ctx context.Context, m *meta.Surface, _ *session.Session, args json.RawMessage) (json.RawMessage, error) {
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, gwerr.InvalidParams(err.Error())
		}
		if err := m.ReviveServer(ctx, p.Name); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"ok": true})
	},
}
