package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration. Values load from a
// YAML file when -config is given; environment variables fill in anything
// left empty so secrets can stay out of the file.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Platform   PlatformConfig   `yaml:"platform"`
	SessionAPI SessionAPIConfig `yaml:"session_api"`
	OIDC       OIDCConfig       `yaml:"oidc"`
}

// GatewayConfig contains the HTTP listener configuration.
type GatewayConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// PlatformConfig describes the realtime media platform the gateway mints
// tokens for.
type PlatformConfig struct {
	ServerURL  string `yaml:"server_url"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	RoomPrefix string `yaml:"room_prefix"`
	TokenTTL   string `yaml:"token_ttl"` // Go duration string, e.g. "6h"
}

// SessionAPIConfig describes the upstream agent session-creation API the
// gateway proxies.
type SessionAPIConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	AgentName string `yaml:"agent_name"`
}

// OIDCConfig optionally protects the gateway's routes with caller
// authentication. Empty issuer disables auth.
type OIDCConfig struct {
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
	TokenType string `yaml:"token_type"` // "id" or "access"
}

// Load reads the optional YAML file, layers environment variables over it,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setIfEmpty(&c.Gateway.Addr, "GATEWAY_ADDR")
	if len(c.Gateway.AllowedOrigins) == 0 {
		if ao := os.Getenv("GATEWAY_ALLOWED_ORIGINS"); ao != "" {
			c.Gateway.AllowedOrigins = splitCSV(ao)
		}
	}
	setIfEmpty(&c.Platform.ServerURL, "PLATFORM_SERVER_URL")
	setIfEmpty(&c.Platform.APIKey, "PLATFORM_API_KEY")
	setIfEmpty(&c.Platform.APISecret, "PLATFORM_API_SECRET")
	setIfEmpty(&c.Platform.RoomPrefix, "PLATFORM_ROOM_PREFIX")
	setIfEmpty(&c.Platform.TokenTTL, "PLATFORM_TOKEN_TTL")
	setIfEmpty(&c.SessionAPI.Endpoint, "SESSION_API_ENDPOINT")
	setIfEmpty(&c.SessionAPI.APIKey, "SESSION_API_KEY")
	setIfEmpty(&c.SessionAPI.AgentName, "SESSION_API_AGENT_NAME")
	setIfEmpty(&c.OIDC.Issuer, "OIDC_ISSUER")
	setIfEmpty(&c.OIDC.Audience, "OIDC_AUDIENCE")
	setIfEmpty(&c.OIDC.TokenType, "OIDC_TOKEN_TYPE")
}

func (c *Config) applyDefaults() {
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8080"
	}
	if c.Platform.RoomPrefix == "" {
		c.Platform.RoomPrefix = "assistant"
	}
	if c.Platform.TokenTTL == "" {
		c.Platform.TokenTTL = "6h"
	}
	if c.OIDC.TokenType == "" {
		c.OIDC.TokenType = "access"
	}
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if c.Platform.ServerURL == "" {
		return fmt.Errorf("platform server_url cannot be empty")
	}
	if c.Platform.APIKey == "" || c.Platform.APISecret == "" {
		return fmt.Errorf("platform api_key and api_secret cannot be empty")
	}
	if c.SessionAPI.Endpoint == "" {
		return fmt.Errorf("session_api endpoint cannot be empty")
	}
	if c.OIDC.Issuer != "" {
		if c.OIDC.Audience == "" {
			return fmt.Errorf("oidc audience cannot be empty when issuer is set")
		}
		if c.OIDC.TokenType != "id" && c.OIDC.TokenType != "access" {
			return fmt.Errorf("oidc token_type must be 'id' or 'access', got %q", c.OIDC.TokenType)
		}
	}
	return nil
}

func setIfEmpty(dst *string, key string) {
	if *dst == "" {
		*dst = os.Getenv(key)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
