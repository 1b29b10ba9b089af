package config

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mcpfed/gateway/pkg/authz"
	"github.com/mcpfed/gateway/pkg/breaker"
	"github.com/mcpfed/gateway/pkg/killswitch"
	"github.com/mcpfed/gateway/pkg/listener"
	"github.com/mcpfed/gateway/pkg/rcache"
	"github.com/mcpfed/gateway/pkg/registry"
)

// BackendSpecs converts the configured backends map into registry.BackendSpec
// values keyed by name, filling in the Name field from the map key.
func (c *Config) BackendSpecs() map[string]registry.BackendSpec {
	specs := make(map[string]registry.BackendSpec, len(c.Backends))
	for name, b := range c.Backends {
		specs[name] = registry.BackendSpec{
			Name:             name,
			Command:          b.Command,
			Args:             b.Args,
			Dir:              b.Dir,
			Env:              b.Env,
			BaseURL:          b.BaseURL,
			Streaming:        b.Streaming,
			Concurrency:      b.Concurrency,
			CallTimeout:      b.CallTimeout,
			IdleTimeout:      b.IdleTimeout,
			FailureThreshold: c.Failsafe.FailureThreshold,
			ResetTimeout:     c.Failsafe.ResetTimeout,
		}
	}
	return specs
}

// RetryConfig builds the breaker/retry parameters from the failsafe section.
func (c *Config) RetryConfig() breaker.RetryConfig {
	return breaker.RetryConfig{
		InitialBackoff: c.Failsafe.InitialBackoff,
		MaxBackoff:     c.Failsafe.MaxBackoff,
		Multiplier:     c.Failsafe.Multiplier,
		MaxAttempts:    c.Failsafe.MaxAttempts,
	}
}

// BudgetConfig builds the kill-switch error budget from the failsafe section.
func (c *Config) BudgetConfig() killswitch.BudgetConfig {
	return killswitch.BudgetConfig{
		Window:    c.Failsafe.BudgetWindow,
		Threshold: c.Failsafe.BudgetThreshold,
		MinSample: c.Failsafe.BudgetMinSample,
	}
}

// ResponseCacheStore builds the response cache's backing store, honoring the
// memory/redis selector (spec §4.6, DOMAIN STACK "optional distributed
// backing store").
func (c *Config) ResponseCacheStore() (rcache.Store, error) {
	switch c.MetaMCP.CacheBackend {
	case "redis":
		opts, err := redis.ParseURL(c.MetaMCP.RedisAddr)
		if err != nil {
			// RedisAddr may be a bare host:port rather than a redis:// URL.
			opts = &redis.Options{Addr: c.MetaMCP.RedisAddr}
		}
		client := redis.NewClient(opts)
		return rcache.NewRedisStore(client, "gateway:rcache:"), nil
	case "", "memory":
		return rcache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("config: unknown meta_mcp.cache_backend %q", c.MetaMCP.CacheBackend)
	}
}

// MTLSPolicy builds the certificate-identity policy layered on top of TLS,
// or nil when no rules are configured (spec §4.7.6).
func (c *Config) MTLSPolicy() *authz.MTLSPolicy {
	if !c.MTLS.Enabled || len(c.MTLS.Rules) == 0 {
		return nil
	}
	rules := make([]authz.MTLSRule, 0, len(c.MTLS.Rules))
	for _, r := range c.MTLS.Rules {
		rules = append(rules, authz.MTLSRule{
			Match:   authz.MTLSRuleMatch(r.Match),
			Pattern: r.Pattern,
			Action:  authz.MTLSAction(r.Action),
		})
	}
	return &authz.MTLSPolicy{
		Rules:         rules,
		DefaultAction: authz.MTLSAction(c.MTLS.DefaultAction),
	}
}

// TLSConfig builds the listener's TLS configuration, or nil when mTLS is
// disabled (plain-text listening, spec §6 "optional TLS and optional
// mTLS").
func (c *Config) TLSConfig() *listener.TLSConfig {
	if !c.MTLS.Enabled {
		return nil
	}
	return &listener.TLSConfig{
		CertFile:          c.MTLS.CertFile,
		KeyFile:           c.MTLS.KeyFile,
		CAFile:            c.MTLS.CAFile,
		CRLFile:           c.MTLS.CRLFile,
		RequireClientCert: c.MTLS.RequireClientCert,
	}
}

// CredentialStore builds the bearer/API-key store from the auth section, or
// nil when auth is disabled (spec §4.7.2).
func (c *Config) CredentialStore() *authz.CredentialStore {
	if !c.Auth.Enabled {
		return nil
	}
	store := authz.NewCredentialStore()
	for _, k := range c.Auth.Keys {
		store.RegisterBearer(k.Key, authz.Identity{
			Name:               k.Name,
			RateLimitPerMinute: k.RateLimitPerMinute,
			Backends:           k.Backends,
			ToolAllow:          k.ToolAllow,
			ToolDeny:           k.ToolDeny,
		})
	}
	store.SetPublicPaths(c.Auth.PublicPaths)
	return store
}

// GlobalPolicy builds the Cedar-backed global tool policy from the
// tool_policy section, or the default-allow policy with the standard
// destructive-pattern denylist when tool_policy is not enabled (spec
// §4.7.7).
func (c *Config) GlobalPolicy() (*authz.GlobalPolicy, error) {
	if !c.ToolPolicy.Enabled {
		return authz.NewDefaultGlobalPolicy(authz.DefaultAllow)
	}
	return authz.NewGlobalPolicy(c.ToolPolicy.Deny, c.ToolPolicy.Allow, authz.DefaultAction(c.ToolPolicy.DefaultAction))
}

// RoutingProfiles builds the named routing-profile map keyed by name (spec
// §4.11).
func (c *Config) RoutingProfiles() map[string]*authz.RoutingProfile {
	profiles := make(map[string]*authz.RoutingProfile, len(c.Profiles))
	for _, p := range c.Profiles {
		profiles[p.Name] = &authz.RoutingProfile{
			Name:         p.Name,
			BackendAllow: p.BackendAllow,
			BackendDeny:  p.BackendDeny,
			ToolAllow:    p.ToolAllow,
			ToolDeny:     p.ToolDeny,
		}
	}
	return profiles
}

// ListenerConfig builds the listener's Config, excluding the registry,
// dispatcher, and meta surface which the caller wires separately since they
// require the live component instances.
func (c *Config) ListenerConfig() listener.Config {
	return listener.Config{
		Host:             c.Server.Host,
		Port:             c.Server.Port,
		TLS:              c.TLSConfig(),
		Credentials:      c.CredentialStore(),
		MaxSessions:      c.MaxSessions,
		ExposeRawCatalog: c.MetaMCP.ExposeRawCatalog,
	}
}
