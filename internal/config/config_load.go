package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/titanous/json5"
)

const (
	defaultBaseURL      = "http://127.0.0.1:8080"
	defaultSQLitePath   = "~/.shuvbot/shuvbot.db"
	defaultServiceName  = "shuvbot"
	defaultReplyTimeout = 30000
	defaultDMPolicy     = "pairing"
	defaultGroupPolicy  = "open"
	defaultReceiveMode  = "websocket"
	defaultOtelProtocol = "grpc"
	defaultDatabaseMode = "standalone"
	defaultPruneCron    = "*/15 * * * *"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads config from a JSON5 file, validates it, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Parse decodes and validates a JSON5 document. Env overrides are not applied.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg, err := Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	sig := &c.Channels.Signal
	if sig.BaseURL == "" {
		sig.BaseURL = defaultBaseURL
	}
	if sig.ReceiveMode == "" {
		sig.ReceiveMode = defaultReceiveMode
	}
	if sig.DMPolicy == "" {
		sig.DMPolicy = defaultDMPolicy
	}
	if sig.GroupPolicy == "" {
		sig.GroupPolicy = defaultGroupPolicy
	}
	if c.Database.Mode == "" {
		c.Database.Mode = defaultDatabaseMode
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = defaultSQLitePath
	}
	if c.Reply.TimeoutMs == 0 {
		c.Reply.TimeoutMs = defaultReplyTimeout
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = defaultOtelProtocol
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
	if c.Pairing.PruneSchedule == "" {
		c.Pairing.PruneSchedule = defaultPruneCron
	}
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("SHUVBOT_SIGNAL_ACCOUNT", &c.Channels.Signal.Account)
	envStr("SHUVBOT_SIGNAL_UUID", &c.Channels.Signal.UUID)
	envStr("SHUVBOT_SIGNAL_BASE_URL", &c.Channels.Signal.BaseURL)
	envStr("SHUVBOT_REPLY_WEBHOOK_URL", &c.Reply.WebhookURL)
	envStr("SHUVBOT_OPENAI_API_KEY", &c.Reply.OpenAI.APIKey)
	envStr("SHUVBOT_ADMIN_LISTEN", &c.Admin.Listen)
	envStr("SHUVBOT_ADMIN_TOKEN", &c.Admin.Token)

	// Database
	envStr("SHUVBOT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("SHUVBOT_DB_MODE", &c.Database.Mode)
	envStr("SHUVBOT_SQLITE_PATH", &c.Database.SQLitePath)

	// Telemetry
	envStr("SHUVBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("SHUVBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if v := os.Getenv("SHUVBOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SHUVBOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	if strings.TrimSpace(path) == "~" {
		return home
	}
	return path
}
