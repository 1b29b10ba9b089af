package authz

import (
	"fmt"

	cedar "github.com/cedar-policy/cedar-go"
)

// DefaultDestructivePatterns is the sensible-defaults denylist of spec
// §4.7.7: tool names matching these globs are denied unless a policy
// explicitly allows them. Grounded on original_source/src/security/policy.rs's
// DEFAULT_DENIED_PATTERNS (filesystem mutation, shell/code execution,
// database mutation, and system administration tools).
var DefaultDestructivePatterns = []string{
	"write_*", "delete_*", "move_file", "create_directory",
	"run_command", "execute_command", "shell_exec", "run_script", "eval",
	"drop_*", "truncate_table",
	"kill_process", "shutdown", "reboot",
}

// DefaultAction controls what happens to a tool name matched by no policy.
type DefaultAction string

const (
	DefaultAllow DefaultAction = "allow"
	DefaultDeny  DefaultAction = "deny"
)

// GlobalPolicy is the process-wide allow/deny stack of spec §4.7.7,
// evaluated as a Cedar policy set over a request shaped
// (principal=identity, action="invoke", resource=tool). Cedar gives the
// gateway a real policy-evaluation engine (with diagnostics) instead of a
// hand-rolled rule matcher, matching the same engine the teacher vmcp uses
// for tool permissioning.
type GlobalPolicy struct {
	policySet     *cedar.PolicySet
	defaultAction DefaultAction
}

// NewDefaultGlobalPolicy builds a GlobalPolicy that forbids the default
// destructive-name patterns and otherwise defers to defaultAction.
func NewDefaultGlobalPolicy(defaultAction DefaultAction) (*GlobalPolicy, error) {
	return NewGlobalPolicy(DefaultDestructivePatterns, nil, defaultAction)
}

// NewGlobalPolicy compiles denyPatterns/allowPatterns (tool-name globs) into
// a Cedar policy set. Deny policies are compiled with a higher effective
// precedence by being evaluated as explicit forbid statements, matching
// Cedar's native forbid-overrides-permit semantics.
func NewGlobalPolicy(denyPatterns, allowPatterns []string, defaultAction DefaultAction) (*GlobalPolicy, error) {
	src := buildPolicySource(denyPatterns, allowPatterns)
	ps, err := cedar.NewPolicySetFromBytes("global_policy.cedar", []byte(src))
	if err != nil {
		return nil, fmt.Errorf("authz: compile global policy: %w", err)
	}
	return &GlobalPolicy{policySet: ps, defaultAction: defaultAction}, nil
}

func buildPolicySource(denyPatterns, allowPatterns []string) string {
	src := ""
	for _, p := range denyPatterns {
		src += fmt.Sprintf("forbid(principal, action == Action::\"invoke\", resource) when { context.tool like \"%s\" };\n", cedarGlob(p))
	}
	for _, p := range allowPatterns {
		src += fmt.Sprintf("permit(principal, action == Action::\"invoke\", resource) when { context.tool like \"%s\" };\n", cedarGlob(p))
	}
	return src
}

// cedarGlob rewrites a "prefix*" gateway glob into Cedar's own "prefix*"
// wildcard syntax for the `like` operator (they coincide for the
// suffix-wildcard case this spec restricts itself to).
func cedarGlob(pattern string) string {
	return pattern
}

// Evaluate reports whether identity may invoke (backend, tool) under the
// global policy: forbid policies matching the tool name always win; absent
// any matching permit/forbid, defaultAction decides.
func (g *GlobalPolicy) Evaluate(identity, backend, tool string) (allowed bool, rule string) {
	entities := cedar.EntityMap{}
	req := cedar.Request{
		Principal: cedar.NewEntityUID("User", cedar.String(identity)),
		Action:    cedar.NewEntityUID("Action", cedar.String("invoke")),
		Resource:  cedar.NewEntityUID("Tool", cedar.String(tool)),
		Context: cedar.NewRecord(cedar.RecordMap{
			"backend": cedar.String(backend),
			"tool":    cedar.String(tool),
		}),
	}
	ok, diagnostic := cedar.Authorize(g.policySet, entities, req)
	if len(diagnostic.Reasons) > 0 {
		return bool(ok), fmt.Sprint(diagnostic.Reasons[0].PolicyID)
	}
	if bool(ok) {
		return true, "explicit permit"
	}
	// No policy matched either way: fall back to the configured default.
	if g.defaultAction == DefaultAllow {
		return true, "default action: allow"
	}
	return false, "default action: deny"
}
