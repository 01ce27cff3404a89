// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/taskchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete taskchat client configuration.
type Config struct {
	Version string `toml:"version"`

	// Server endpoints
	Server ServerConfig `toml:"server"`

	// Local identity
	Identity IdentityConfig `toml:"identity"`

	// Chat behavior tuning
	Chat ChatConfig `toml:"chat"`

	// UI configuration (defaults for the preferences store)
	UI UIConfig `toml:"ui"`
}

// ServerConfig contains the remote endpoints the client talks to.
type ServerConfig struct {
	// BaseURL is the REST API base, e.g. "https://chat.example.com/api"
	BaseURL string `toml:"base_url"`
	// SocketURL is the websocket endpoint, e.g. "wss://chat.example.com/ws"
	SocketURL string `toml:"socket_url"`
	// RequestTimeoutSecs bounds a single REST request. Default: 30.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

// IdentityConfig identifies the local user to the server.
type IdentityConfig struct {
	UserID         int64  `toml:"user_id"`
	OrganizationID int64  `toml:"organization_id"`
	DisplayName    string `toml:"display_name"`
}

// ChatConfig tunes the chat subsystem. All durations are clamped to sane
// bounds on Validate; values of zero mean "use the default".
type ChatConfig struct {
	// CacheTTLSecs is how long a cached message list stays fresh. Default: 300.
	CacheTTLSecs int `toml:"cache_ttl_secs"`
	// TypingExpiryMs is how long a typing indicator lives without renewal.
	// Default: 3000.
	TypingExpiryMs int `toml:"typing_expiry_ms"`
	// ReadinessWaitMs is how long a join or send waits for a reconnecting
	// socket to become ready. Default: 1000.
	ReadinessWaitMs int `toml:"readiness_wait_ms"`
	// SendRetries is how many times a failed send is retried transparently.
	// Default: 2.
	SendRetries int `toml:"send_retries"`
	// JoinRetries is how many times a failed join/re-auth is retried.
	// Default: 2.
	JoinRetries int `toml:"join_retries"`
	// RetryBackoffMs is the fixed delay between retries. Default: 1000.
	RetryBackoffMs int `toml:"retry_backoff_ms"`
}

// UIConfig contains initial UI preferences. Runtime changes are managed by
// the prefs package; these are the values used on first run.
type UIConfig struct {
	DarkMode  bool   `toml:"dark_mode"`
	Wallpaper string `toml:"wallpaper"`
	FontSize  int    `toml:"font_size"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with built-in defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			BaseURL:            "http://localhost:8080/api",
			SocketURL:          "ws://localhost:8080/ws",
			RequestTimeoutSecs: 30,
		},
		Chat: ChatConfig{
			CacheTTLSecs:    300,
			TypingExpiryMs:  3000,
			ReadinessWaitMs: 1000,
			SendRetries:     2,
			JoinRetries:     2,
			RetryBackoffMs:  1000,
		},
		UI: UIConfig{
			DarkMode: true,
			FontSize: 14,
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the taskchat configuration directory (~/.taskchat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".taskchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from ~/.taskchat/config.toml, falling back to
// defaults when the file is absent. Environment overrides are applied last,
// then the result is validated (with clamping).
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to ~/.taskchat/config.toml atomically.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(sb.String()), 0600)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies TASKCHAT_* environment variables on top of the
// loaded configuration. Unset variables leave values untouched.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TASKCHAT_BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("TASKCHAT_SOCKET_URL"); v != "" {
		c.Server.SocketURL = v
	}
	if v := os.Getenv("TASKCHAT_USER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Identity.UserID = id
		}
	}
	if v := os.Getenv("TASKCHAT_ORG_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Identity.OrganizationID = id
		}
	}
	if v := os.Getenv("TASKCHAT_DISPLAY_NAME"); v != "" {
		c.Identity.DisplayName = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config field %s: %s", e.Field, e.Message)
}

// Validate checks the configuration and clamps tunables into sane bounds.
// Hard errors are returned only for values that cannot be repaired (bad URLs).
func (c *Config) Validate() error {
	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return ValidationError{Field: "server.base_url", Message: "must be an http(s) URL"}
		}
	}
	if c.Server.SocketURL != "" {
		u, err := url.Parse(c.Server.SocketURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return ValidationError{Field: "server.socket_url", Message: "must be a ws(s) URL"}
		}
	}

	c.Server.RequestTimeoutSecs = clampInt(c.Server.RequestTimeoutSecs, 30, 1, 300)
	c.Chat.CacheTTLSecs = clampInt(c.Chat.CacheTTLSecs, 300, 10, 3600)
	c.Chat.TypingExpiryMs = clampInt(c.Chat.TypingExpiryMs, 3000, 500, 30000)
	c.Chat.ReadinessWaitMs = clampInt(c.Chat.ReadinessWaitMs, 1000, 100, 10000)
	c.Chat.SendRetries = clampInt(c.Chat.SendRetries, 2, 0, 5)
	c.Chat.JoinRetries = clampInt(c.Chat.JoinRetries, 2, 0, 5)
	c.Chat.RetryBackoffMs = clampInt(c.Chat.RetryBackoffMs, 1000, 100, 10000)
	c.UI.FontSize = clampInt(c.UI.FontSize, 14, 8, 32)

	return nil
}

// clampInt returns v clamped to [min, max], substituting def when v is zero.
func clampInt(v, def, min, max int) int {
	if v == 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// =============================================================================
// DURATION ACCESSORS
// =============================================================================

// CacheTTL returns the message cache freshness window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Chat.CacheTTLSecs) * time.Second
}

// TypingExpiry returns the typing indicator lifetime.
func (c *Config) TypingExpiry() time.Duration {
	return time.Duration(c.Chat.TypingExpiryMs) * time.Millisecond
}

// ReadinessWait returns how long to wait for a reconnecting socket.
func (c *Config) ReadinessWait() time.Duration {
	return time.Duration(c.Chat.ReadinessWaitMs) * time.Millisecond
}

// RetryBackoff returns the fixed delay between retries.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Chat.RetryBackoffMs) * time.Millisecond
}

// RequestTimeout returns the per-request REST timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSecs) * time.Second
}
