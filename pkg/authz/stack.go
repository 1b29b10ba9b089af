package authz

import (
	"context"
	"fmt"

	"github.com/mcpfed/gateway/pkg/gwerr"
)

// Request is the input to the access-control stack evaluation for one tool
// invocation.
type Request struct {
	Identity         Identity
	Backend          string
	Tool             string
	Cert             *CertIdentity // non-nil if mTLS verified a client cert
	RequireClientCert bool
	Profile          *RoutingProfile // the session's bound routing profile, if any
}

// Stack composes the access-control evaluation order of spec §4.7: the
// required-client-cert check, rate limit, backend scope, tool scope,
// routing-profile scope, global policy, and (if configured) mTLS policy
// rules. The TLS handshake and credential resolution (steps 1-2) happen
// upstream in the listener/session layers before a Request reaches here,
// since they depend on the raw connection rather than per-call state;
// Evaluate only re-checks whether a required client certificate is present.
type Stack struct {
	limiters     *RateLimiters
	globalPolicy *GlobalPolicy
	mtlsPolicy   *MTLSPolicy // nil if mTLS policy rules are not configured
}

// NewStack constructs a Stack. mtlsPolicy may be nil when mTLS is disabled.
func NewStack(limiters *RateLimiters, globalPolicy *GlobalPolicy, mtlsPolicy *MTLSPolicy) *Stack {
	return &Stack{limiters: limiters, globalPolicy: globalPolicy, mtlsPolicy: mtlsPolicy}
}

// Evaluate runs every check in order, returning the first failure as a
// *gwerr.Error (spec §4.7 "any failure returns -32000 'denied' ... any
// failure returns JSON-RPC error -32000 'denied'"). A nil return means the
// call is admitted.
func (s *Stack) Evaluate(_ context.Context, req Request) error {
	// Step 1: transport-layer identity (mTLS required-cert check).
	if req.RequireClientCert && req.Cert == nil {
		return gwerr.Denied(req.Tool, req.Backend, "client certificate required")
	}

	// Step 3: rate limit.
	if !s.limiters.Allow(req.Identity.Name, req.Identity.RateLimitPerMinute) {
		return gwerr.Denied(req.Tool, req.Backend, "rate limit exceeded")
	}

	// Step 4: backend scope.
	if !req.Identity.AllowsBackend(req.Backend) {
		return gwerr.Denied(req.Tool, req.Backend, "not in allow list")
	}

	// Step 5: per-identity tool scope.
	if !req.Identity.AllowsTool(req.Backend, req.Tool) {
		return gwerr.Denied(req.Tool, req.Backend, "not in allow list")
	}

	// Step 6: routing profile scope (same semantics, applied a second time).
	if req.Profile != nil {
		if !req.Profile.AllowsBackend(req.Backend) {
			return gwerr.Denied(req.Tool, req.Backend, fmt.Sprintf("not permitted by routing profile %q", req.Profile.Name))
		}
		if !req.Profile.AllowsTool(req.Backend, req.Tool) {
			return gwerr.Denied(req.Tool, req.Backend, fmt.Sprintf("not permitted by routing profile %q", req.Profile.Name))
		}
	}

	// Step 7: global tool policy.
	if s.globalPolicy != nil {
		if allowed, rule := s.globalPolicy.Evaluate(req.Identity.Name, req.Backend, req.Tool); !allowed {
			return gwerr.Denied(req.Tool, req.Backend, "blocked by security policy: "+rule)
		}
	}

	// Step 8: mTLS policy rules.
	if s.mtlsPolicy != nil && req.Cert != nil {
		if allowed, rule := s.mtlsPolicy.Evaluate(*req.Cert); !allowed {
			return gwerr.Denied(req.Tool, req.Backend, "blocked by mTLS policy rule: "+rule)
		}
	}

	return nil
}
