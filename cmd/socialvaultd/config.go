package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk YAML configuration for socialvaultd. Secrets may
// be given in the file or via the SOCIALVAULT_* environment variables, which
// take precedence.
type fileConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// BaseURL is the externally visible URL of this service; OAuth redirect
	// URIs are derived from it.
	BaseURL string `yaml:"base_url"`

	// DatabaseURL is the Postgres DSN. Empty selects the in-memory store.
	DatabaseURL string `yaml:"database_url"`

	// Valkey configures the pending-flow store. Empty address falls back to
	// the in-memory store.
	Valkey valkeyConfig `yaml:"valkey"`

	Auth      authConfig               `yaml:"auth"`
	Secrets   secretsConfig            `yaml:"secrets"`
	Providers map[string]providerCreds `yaml:"providers"`

	FlowTTL            time.Duration `yaml:"flow_ttl"`
	RateLimitPerSecond int           `yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	TrustProxy         bool          `yaml:"trust_proxy"`
	TrustedProxyCount  int           `yaml:"trusted_proxy_count"`
	AuditEnabled       bool          `yaml:"audit_enabled"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type valkeyConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type authConfig struct {
	// JWTSecret verifies session tokens issued by the platform auth layer.
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type secretsConfig struct {
	MasterSecret         string `yaml:"master_secret"`
	StateSecret          string `yaml:"state_secret"`
	InternalServiceToken string `yaml:"internal_service_token"`
}

type providerCreds struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// loadConfig reads the YAML file, overlays environment secrets, and
// validates.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{
		ListenAddr:      ":8080",
		ShutdownTimeout: 15 * time.Second,
		AuditEnabled:    true,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays secrets from the environment so they can stay out of the
// config file entirely.
func (c *fileConfig) applyEnv() {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	overlay(&c.Secrets.MasterSecret, "SOCIALVAULT_MASTER_SECRET")
	overlay(&c.Secrets.StateSecret, "SOCIALVAULT_STATE_SECRET")
	overlay(&c.Secrets.InternalServiceToken, "SOCIALVAULT_INTERNAL_SERVICE_TOKEN")
	overlay(&c.Auth.JWTSecret, "SOCIALVAULT_JWT_SECRET")
	overlay(&c.DatabaseURL, "SOCIALVAULT_DATABASE_URL")
	overlay(&c.Valkey.Address, "SOCIALVAULT_VALKEY_ADDRESS")
	overlay(&c.Valkey.Password, "SOCIALVAULT_VALKEY_PASSWORD")

	for _, platform := range []string{"facebook", "instagram", "twitter", "linkedin"} {
		creds := c.Providers[platform]
		prefix := "SOCIALVAULT_" + strings.ToUpper(platform)
		overlay(&creds.ClientID, prefix+"_CLIENT_ID")
		overlay(&creds.ClientSecret, prefix+"_CLIENT_SECRET")
		if creds != (providerCreds{}) {
			if c.Providers == nil {
				c.Providers = make(map[string]providerCreds)
			}
			c.Providers[platform] = creds
		}
	}
}

func (c *fileConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Secrets.MasterSecret == "" {
		return fmt.Errorf("secrets.master_secret is required (or SOCIALVAULT_MASTER_SECRET)")
	}
	if c.Secrets.StateSecret == "" {
		return fmt.Errorf("secrets.state_secret is required (or SOCIALVAULT_STATE_SECRET)")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or SOCIALVAULT_JWT_SECRET)")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for platform, creds := range c.Providers {
		if creds.ClientID == "" || creds.ClientSecret == "" {
			return fmt.Errorf("provider %s needs both client_id and client_secret", platform)
		}
	}
	return nil
}

// redirectURL derives the per-platform OAuth callback URL from the base URL.
func (c *fileConfig) redirectURL(platform string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/connect/" + platform + "/callback"
}
