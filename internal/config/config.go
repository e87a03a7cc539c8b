package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Proxy     ProxyConfig
	Store     StoreConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// ProxyConfig holds fetch pipeline configuration.
type ProxyConfig struct {
	// Origin is the externally visible scheme+host of this service.
	// Rewritten proxied URLs are minted under it.
	Origin string `envconfig:"PROXY_ORIGIN" default:"http://localhost:8000"`
	// Endpoint is the path of the proxy route under Origin.
	Endpoint string `envconfig:"PROXY_ENDPOINT" default:"/api/proxy"`
	// UpstreamTimeout bounds a single upstream fetch.
	UpstreamTimeout time.Duration `envconfig:"PROXY_UPSTREAM_TIMEOUT" default:"30s"`
	// MaxBodyBytes caps upstream bodies read into memory.
	MaxBodyBytes int64 `envconfig:"PROXY_MAX_BODY_BYTES" default:"20971520"`
	// RulesPath optionally points to a YAML file with rewrite rules
	// (vendor patch hostnames, internal path globs). Extends defaults.
	RulesPath string `envconfig:"PROXY_RULES_PATH" default:""`
}

// StoreConfig holds annotation store configuration.
type StoreConfig struct {
	DSN string `envconfig:"STORE_DSN" default:"file:canfeed.db?_pragma=busy_timeout(5000)"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// RewriteRules holds the externally extensible parts of the rewriter:
// hostnames of third-party scripts that branch on location.hostname and
// need textual patching, and glob patterns for platform-internal asset
// paths the rewriter must never proxy.
type RewriteRules struct {
	PatchHostnames    []string `yaml:"patch_hostnames"`
	InternalPathGlobs []string `yaml:"internal_path_globs"`
}

// DefaultRewriteRules returns the built-in rule set. The hostname list
// covers analytics and consent-banner vendors known to misbehave when
// they observe the proxy's hostname.
func DefaultRewriteRules() RewriteRules {
	return RewriteRules{
		PatchHostnames: []string{
			"cookiebot.com",
			"googletagmanager.com",
			"google-analytics.com",
		},
		InternalPathGlobs: []string{
			"/api/**",
			"/_next/**",
			"/workspace*",
			"/favicon*",
			"/logo*",
		},
	}
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadRewriteRules returns the built-in rules merged with the YAML file
// at path, if one is configured.
func LoadRewriteRules(path string) (RewriteRules, error) {
	rules := DefaultRewriteRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rewrite rules: %w", err)
	}

	var extra RewriteRules
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return rules, fmt.Errorf("failed to parse rewrite rules: %w", err)
	}

	rules.PatchHostnames = append(rules.PatchHostnames, extra.PatchHostnames...)
	rules.InternalPathGlobs = append(rules.InternalPathGlobs, extra.InternalPathGlobs...)
	return rules, nil
}
