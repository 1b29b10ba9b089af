// Package config loads and validates the gateway's configuration document
// (spec §6): server, mTLS, failsafe, backends, meta-MCP, auth, tool policy,
// and routing profiles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig is the listener's bind address and default call timeout.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// RequestTimeout bounds a dispatched call when the request itself
	// specifies none (spec §4.10 "timeout").
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MTLSRuleConfig is one ordered CN/OU/URI/DNS/any matcher (spec §4.7.6).
type MTLSRuleConfig struct {
	Match   string `mapstructure:"match"`
	Pattern string `mapstructure:"pattern"`
	Action  string `mapstructure:"action"`
}

// MTLSConfig configures the listener's TLS and the certificate-identity
// policy layered on top of it.
type MTLSConfig struct {
	Enabled           bool             `mapstructure:"enabled"`
	CertFile          string           `mapstructure:"cert_file"`
	KeyFile           string           `mapstructure:"key_file"`
	CAFile            string           `mapstructure:"ca_file"`
	CRLFile           string           `mapstructure:"crl_file"`
	RequireClientCert bool             `mapstructure:"require_client_cert"`
	DefaultAction     string           `mapstructure:"default_action"`
	Rules             []MTLSRuleConfig `mapstructure:"rules"`
}

// FailsafeConfig configures the circuit breaker, retry loop, and kill-switch
// error budget (spec §4.3, §4.4).
type FailsafeConfig struct {
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	Multiplier       float64       `mapstructure:"multiplier"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BudgetWindow     time.Duration `mapstructure:"budget_window"`
	BudgetThreshold  float64       `mapstructure:"budget_threshold"`
	BudgetMinSample  int           `mapstructure:"budget_min_sample"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// BackendConfig is one entry of the backends map (spec §3, §4.2).
type BackendConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Dir     string   `mapstructure:"dir"`
	Env     []string `mapstructure:"env"`

	BaseURL   string `mapstructure:"base_url"`
	Streaming bool   `mapstructure:"streaming"`

	Concurrency int           `mapstructure:"concurrency"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// MetaMCPConfig toggles the synthetic gateway_ tool surface and response
// cache (spec §4.6, §4.9).
type MetaMCPConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ExposeRawCatalog bool          `mapstructure:"expose_raw_catalog"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	CacheBackend     string        `mapstructure:"cache_backend"` // "memory" or "redis"
	RedisAddr        string        `mapstructure:"redis_addr"`
}

// APIKeyConfig is one statically configured bearer/API key and the identity
// scope it carries (spec §4.7.2, §4.7.5).
type APIKeyConfig struct {
	Key                string   `mapstructure:"key"`
	Name               string   `mapstructure:"name"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
	Backends           []string `mapstructure:"backends"`
	ToolAllow          []string `mapstructure:"tool_allow"`
	ToolDeny           []string `mapstructure:"tool_deny"`
}

// AuthConfig configures the credential store (spec §4.7.2).
type AuthConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Keys        []APIKeyConfig `mapstructure:"keys"`
	PublicPaths []string       `mapstructure:"public_paths"`
}

// ToolPolicyConfig configures the global Cedar-backed tool policy (spec
// §4.7.7).
type ToolPolicyConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Allow         []string `mapstructure:"allow"`
	Deny          []string `mapstructure:"deny"`
	DefaultAction string   `mapstructure:"default_action"`
}

// RoutingProfileConfig is one named scope a session can bind to via
// gateway_set_profile (spec §4.11).
type RoutingProfileConfig struct {
	Name         string   `mapstructure:"name"`
	BackendAllow []string `mapstructure:"backend_allow"`
	BackendDeny  []string `mapstructure:"backend_deny"`
	ToolAllow    []string `mapstructure:"tool_allow"`
	ToolDeny     []string `mapstructure:"tool_deny"`
}

// Config is the gateway's full configuration document (spec §6).
type Config struct {
	Server     ServerConfig             `mapstructure:"server"`
	MTLS       MTLSConfig               `mapstructure:"mtls"`
	Failsafe   FailsafeConfig           `mapstructure:"failsafe"`
	Backends   map[string]BackendConfig `mapstructure:"backends"`
	MetaMCP    MetaMCPConfig            `mapstructure:"meta_mcp"`
	Auth       AuthConfig               `mapstructure:"auth"`
	ToolPolicy ToolPolicyConfig         `mapstructure:"tool_policy"`
	Profiles   []RoutingProfileConfig   `mapstructure:"routing_profiles"`

	MaxSessions int `mapstructure:"max_sessions"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8443)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("failsafe.initial_backoff", 100*time.Millisecond)
	v.SetDefault("failsafe.max_backoff", 10*time.Second)
	v.SetDefault("failsafe.multiplier", 2.0)
	v.SetDefault("failsafe.max_attempts", 3)
	v.SetDefault("failsafe.budget_window", time.Minute)
	v.SetDefault("failsafe.budget_threshold", 0.5)
	v.SetDefault("failsafe.budget_min_sample", 10)
	v.SetDefault("failsafe.failure_threshold", 5)
	v.SetDefault("failsafe.reset_timeout", 30*time.Second)
	v.SetDefault("meta_mcp.enabled", true)
	v.SetDefault("meta_mcp.cache_ttl", time.Minute)
	v.SetDefault("meta_mcp.cache_backend", "memory")
	v.SetDefault("tool_policy.default_action", "allow")
	v.SetDefault("mtls.default_action", "deny")
	v.SetDefault("max_sessions", 1024)
}

// Load reads the configuration document at path, applying
// GATEWAY_-prefixed environment-variable overrides (spec AMBIENT STACK
// "viper ... with environment-variable overrides").
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("gateway")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}
