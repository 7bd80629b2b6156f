// Package config loads clawpulse configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds endpoints, file locations and timings. Every field can be
// overridden with a CLAWPULSE_* environment variable.
type Config struct {
	Env      string `env:"CLAWPULSE_ENV" envDefault:"local"`
	LogLevel string `env:"CLAWPULSE_LOG_LEVEL"`

	// ClaudeDir holds the credential file, the stats cache and the
	// session logs. Defaults to ~/.claude.
	ClaudeDir string `env:"CLAWPULSE_CLAUDE_DIR"`

	ClientID     string   `env:"CLAWPULSE_CLIENT_ID" envDefault:"9d1c250a-e61b-44d9-88ed-5944d1962f5e"`
	AuthorizeURL string   `env:"CLAWPULSE_AUTHORIZE_URL" envDefault:"https://claude.ai/oauth/authorize"`
	TokenURL     string   `env:"CLAWPULSE_TOKEN_URL" envDefault:"https://console.anthropic.com/v1/oauth/token"`
	RefreshURL   string   `env:"CLAWPULSE_REFRESH_URL" envDefault:"https://platform.claude.com/v1/oauth/token"`
	RedirectURI  string   `env:"CLAWPULSE_REDIRECT_URI" envDefault:"https://console.anthropic.com/oauth/code/callback"`
	Scopes       []string `env:"CLAWPULSE_SCOPES" envSeparator:" " envDefault:"org:create_api_key user:profile user:inference"`

	UsageURL   string `env:"CLAWPULSE_USAGE_URL" envDefault:"https://api.anthropic.com/api/oauth/usage"`
	APIVersion string `env:"CLAWPULSE_API_VERSION" envDefault:"2023-06-01"`
	BetaHeader string `env:"CLAWPULSE_BETA_HEADER" envDefault:"oauth-2025-04-20"`

	HTTPTimeout  time.Duration `env:"CLAWPULSE_HTTP_TIMEOUT" envDefault:"10s"`
	LoginTimeout time.Duration `env:"CLAWPULSE_LOGIN_TIMEOUT" envDefault:"5m"`
	PollInterval time.Duration `env:"CLAWPULSE_POLL_INTERVAL" envDefault:"2m"`
	StatsTTL     time.Duration `env:"CLAWPULSE_STATS_TTL" envDefault:"5m"`

	ListenAddr string `env:"CLAWPULSE_LISTEN_ADDR" envDefault:"127.0.0.1:8737"`
}

// Load parses the environment, fills derived defaults and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ClaudeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("home dir: %w", err)
		}
		cfg.ClaudeDir = filepath.Join(home, ".claude")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first missing endpoint or non-positive duration.
func (c *Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"CLAWPULSE_CLIENT_ID", c.ClientID},
		{"CLAWPULSE_AUTHORIZE_URL", c.AuthorizeURL},
		{"CLAWPULSE_TOKEN_URL", c.TokenURL},
		{"CLAWPULSE_REFRESH_URL", c.RefreshURL},
		{"CLAWPULSE_REDIRECT_URI", c.RedirectURI},
		{"CLAWPULSE_USAGE_URL", c.UsageURL},
		{"CLAWPULSE_CLAUDE_DIR", c.ClaudeDir},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s must not be empty", r.name)
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"CLAWPULSE_HTTP_TIMEOUT", c.HTTPTimeout},
		{"CLAWPULSE_LOGIN_TIMEOUT", c.LoginTimeout},
		{"CLAWPULSE_POLL_INTERVAL", c.PollInterval},
		{"CLAWPULSE_STATS_TTL", c.StatsTTL},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if len(c.Scopes) == 0 {
		return errors.New("CLAWPULSE_SCOPES must name at least one scope")
	}
	return nil
}

// CredentialsPath is the OAuth credential file shared with Claude Code.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.ClaudeDir, ".credentials.json")
}

// StatsCachePath is the precomputed daily activity cache.
func (c *Config) StatsCachePath() string {
	return filepath.Join(c.ClaudeDir, "stats-cache.json")
}

// ProjectsDir holds per-project session logs (*.jsonl).
func (c *Config) ProjectsDir() string {
	return filepath.Join(c.ClaudeDir, "projects")
}
