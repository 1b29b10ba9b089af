package config

import (
	"fmt"

	"github.com/mcpfed/gateway/pkg/ssrfguard"
)

// Validate checks the configuration document for syntax-adjacent and
// semantic errors before any component is constructed from it (spec §6
// "configuration error" exit path, mirrored by the `validate` CLI
// subcommand).
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in 1-65535, got %d", c.Server.Port)
	}

	if c.MTLS.Enabled {
		if c.MTLS.CertFile == "" || c.MTLS.KeyFile == "" {
			return fmt.Errorf("config: mtls.enabled requires cert_file and key_file")
		}
		if c.MTLS.RequireClientCert && c.MTLS.CAFile == "" {
			return fmt.Errorf("config: mtls.require_client_cert requires ca_file")
		}
		for i, rule := range c.MTLS.Rules {
			if err := validateMTLSRule(rule); err != nil {
				return fmt.Errorf("config: mtls.rules[%d]: %w", i, err)
			}
		}
		if err := validateAction(c.MTLS.DefaultAction); err != nil {
			return fmt.Errorf("config: mtls.default_action: %w", err)
		}
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend must be configured")
	}
	for name, b := range c.Backends {
		if err := validateBackend(name, b); err != nil {
			return err
		}
	}

	if c.Failsafe.Multiplier < 1 {
		return fmt.Errorf("config: failsafe.multiplier must be >= 1, got %v", c.Failsafe.Multiplier)
	}
	if c.Failsafe.MaxAttempts < 1 {
		return fmt.Errorf("config: failsafe.max_attempts must be >= 1, got %d", c.Failsafe.MaxAttempts)
	}
	if c.Failsafe.BudgetThreshold <= 0 || c.Failsafe.BudgetThreshold > 1 {
		return fmt.Errorf("config: failsafe.budget_threshold must be in (0,1], got %v", c.Failsafe.BudgetThreshold)
	}

	if c.MetaMCP.CacheBackend != "memory" && c.MetaMCP.CacheBackend != "redis" {
		return fmt.Errorf("config: meta_mcp.cache_backend must be \"memory\" or \"redis\", got %q", c.MetaMCP.CacheBackend)
	}
	if c.MetaMCP.CacheBackend == "redis" && c.MetaMCP.RedisAddr == "" {
		return fmt.Errorf("config: meta_mcp.cache_backend \"redis\" requires redis_addr")
	}

	if c.Auth.Enabled && len(c.Auth.Keys) == 0 {
		return fmt.Errorf("config: auth.enabled requires at least one key")
	}
	seenKeys := make(map[string]bool, len(c.Auth.Keys))
	for i, k := range c.Auth.Keys {
		if k.Key == "" {
			return fmt.Errorf("config: auth.keys[%d] has an empty key", i)
		}
		if seenKeys[k.Key] {
			return fmt.Errorf("config: auth.keys[%d] duplicates an earlier key", i)
		}
		seenKeys[k.Key] = true
	}

	if c.ToolPolicy.Enabled {
		if err := validateAction(c.ToolPolicy.DefaultAction); err != nil {
			return fmt.Errorf("config: tool_policy.default_action: %w", err)
		}
	}

	seenProfiles := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("config: routing_profiles[%d] has an empty name", i)
		}
		if seenProfiles[p.Name] {
			return fmt.Errorf("config: routing_profiles[%d] duplicates profile name %q", i, p.Name)
		}
		seenProfiles[p.Name] = true
	}

	return nil
}

func validateBackend(name string, b BackendConfig) error {
	if b.Command == "" && b.BaseURL == "" {
		return fmt.Errorf("config: backends.%s must set command or base_url", name)
	}
	if b.Command != "" && b.BaseURL != "" {
		return fmt.Errorf("config: backends.%s cannot set both command and base_url", name)
	}
	if b.BaseURL != "" {
		if err := ssrfguard.CheckURL(b.BaseURL); err != nil {
			return fmt.Errorf("config: backends.%s: %w", name, err)
		}
	}
	if b.Concurrency < 0 {
		return fmt.Errorf("config: backends.%s.concurrency cannot be negative", name)
	}
	return nil
}

func validateMTLSRule(r MTLSRuleConfig) error {
	switch r.Match {
	case "cn", "ou", "uri", "dns", "any":
	default:
		return fmt.Errorf("unknown match kind %q", r.Match)
	}
	if r.Match != "any" && r.Pattern == "" {
		return fmt.Errorf("pattern is required for match kind %q", r.Match)
	}
	return validateAction(r.Action)
}

func validateAction(action string) error {
	switch action {
	case "allow", "deny":
		return nil
	default:
		return fmt.Errorf("unknown action %q, want \"allow\" or \"deny\"", action)
	}
}
