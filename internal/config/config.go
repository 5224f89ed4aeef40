package config

import (
	"regexp"
	"sort"
	"sync/atomic"
	"time"
)

// Config is the root configuration for shuvbot. A loaded Config is never
// mutated; reloads build a new tree and swap it in through a Holder.
type Config struct {
	Channels  ChannelsConfig  `json:"channels"`
	Messages  MessagesConfig  `json:"messages"`
	Reply     ReplyConfig     `json:"reply,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Pairing   PairingConfig   `json:"pairing,omitempty"`
	Admin     AdminConfig     `json:"admin,omitempty"`
}

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Signal SignalConfig `json:"signal"`
}

// SignalConfig holds process-wide settings for the Signal adapter plus the
// per-account overrides.
type SignalConfig struct {
	Enabled        *bool                    `json:"enabled,omitempty"`        // default true
	Account        string                   `json:"account,omitempty"`        // bot phone number (default account)
	UUID           string                   `json:"uuid,omitempty"`           // bot account uuid, used for structured mentions
	Name           string                   `json:"name,omitempty"`           // bot display name, used for default mention patterns
	BaseURL        string                   `json:"baseUrl,omitempty"`        // signal-cli-rest-api base URL
	ReceiveMode    string                   `json:"receiveMode,omitempty"`    // "websocket" (default), "stdin"
	DMPolicy       string                   `json:"dmPolicy,omitempty"`       // "pairing" (default), "allowlist", "open", "disabled"
	AllowFrom      []string                 `json:"allowFrom,omitempty"`      // DM allow-list
	GroupPolicy    string                   `json:"groupPolicy,omitempty"`    // "open" (default), "allowlist", "disabled"
	GroupAllowFrom []string                 `json:"groupAllowFrom,omitempty"` // default group sender allow-list
	Groups         map[string]GroupConfig   `json:"groups,omitempty"`         // "*" is the wildcard entry
	Accounts       map[string]AccountConfig `json:"accounts,omitempty"`
}

// AccountConfig overrides channel defaults for one named Signal account.
// Empty fields inherit from SignalConfig, except Groups: when an account
// defines a group map it is used instead of the channel-level map.
type AccountConfig struct {
	Enabled        *bool                  `json:"enabled,omitempty"`
	Account        string                 `json:"account,omitempty"`
	UUID           string                 `json:"uuid,omitempty"`
	Name           string                 `json:"name,omitempty"`
	BaseURL        string                 `json:"baseUrl,omitempty"`
	DMPolicy       string                 `json:"dmPolicy,omitempty"`
	AllowFrom      []string               `json:"allowFrom,omitempty"`
	GroupPolicy    string                 `json:"groupPolicy,omitempty"`
	GroupAllowFrom []string               `json:"groupAllowFrom,omitempty"`
	Groups         map[string]GroupConfig `json:"groups,omitempty"`
}

// GroupConfig is one entry of a group map. Every field is optional; nil means
// "not set here" and falls through to the wildcard entry, then the default.
type GroupConfig struct {
	Enabled        *bool    `json:"enabled,omitempty"`        // default true
	RequireMention *bool    `json:"requireMention,omitempty"` // default true
	AllowFrom      []string `json:"allowFrom,omitempty"`      // nil = inherit
}

// WildcardGroup is the reserved group map key for the default entry.
const WildcardGroup = "*"

// MessagesConfig controls message handling shared by all channels.
type MessagesConfig struct {
	GroupChat GroupChatConfig `json:"groupChat,omitempty"`
	Dedupe    DedupeConfig    `json:"dedupe,omitempty"`
}

// GroupChatConfig configures text-based mention detection.
type GroupChatConfig struct {
	MentionPatterns []string         `json:"mentionPatterns,omitempty"` // case-insensitive regexes
	mentionRegexes  []*regexp.Regexp // compiled during normalization
}

// MentionRegexes returns the compiled mention patterns, in configured order.
func (g GroupChatConfig) MentionRegexes() []*regexp.Regexp { return g.mentionRegexes }

// HasMentionPatterns reports whether patterns were configured explicitly.
func (g GroupChatConfig) HasMentionPatterns() bool { return g.MentionPatterns != nil }

// DedupeConfig bounds the inbound dedupe cache.
type DedupeConfig struct {
	TTLSeconds int `json:"ttlSeconds,omitempty"` // default 1200
	MaxEntries int `json:"maxEntries,omitempty"` // default 5000
}

// TTL returns the configured retention as a duration (0 = default).
func (d DedupeConfig) TTL() time.Duration { return time.Duration(d.TTLSeconds) * time.Second }

// ReplyConfig selects the reply generator: a webhook when WebhookURL is
// set, else an OpenAI-compatible chat model when OpenAI.Model is set.
type ReplyConfig struct {
	WebhookURL string       `json:"webhookUrl,omitempty"`
	TimeoutMs  int          `json:"timeoutMs,omitempty"` // default 30000
	OpenAI     OpenAIConfig `json:"openai,omitempty"`
}

// OpenAIConfig configures the chat-completion reply generator.
// APIKey is only read from SHUVBOT_OPENAI_API_KEY.
type OpenAIConfig struct {
	Model        string `json:"model,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty"` // any OpenAI-compatible endpoint
	SystemPrompt string `json:"systemPrompt,omitempty"`
	MaxTokens    int    `json:"maxTokens,omitempty"`
	APIKey       string `json:"-"`
}

// AdminConfig configures the local status/admin HTTP API. Empty Listen
// disables it. Token is only read from SHUVBOT_ADMIN_TOKEN.
type AdminConfig struct {
	Listen string `json:"listen,omitempty"` // e.g. "127.0.0.1:18790"
	Token  string `json:"-"`
}

// DatabaseConfig selects the pairing/route store backend.
// PostgresDSN is never read from the config file, only from SHUVBOT_POSTGRES_DSN.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"`       // "standalone" (default, SQLite) or "managed" (Postgres)
	SQLitePath  string `json:"sqlitePath,omitempty"` // default ~/.shuvbot/shuvbot.db
	PostgresDSN string `json:"-"`
}

// IsManagedMode returns true when the Postgres store should be used.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures OpenTelemetry export for gate spans.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`    // e.g. "localhost:4317"
	Protocol    string `json:"protocol,omitempty"`    // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"serviceName,omitempty"` // default "shuvbot"
}

// PairingConfig controls housekeeping of pending pairing requests.
type PairingConfig struct {
	PruneSchedule string `json:"pruneSchedule,omitempty"` // cron expression, default "*/15 * * * *"
}

// IsEnabled returns whether the Signal channel is enabled (default true).
func (c *SignalConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SignalAccount is a Signal account with channel defaults merged in.
type SignalAccount struct {
	Key            string // account map key; "default" for the channel-level account
	Enabled        bool
	Number         string
	UUID           string
	Name           string
	BaseURL        string
	DMPolicy       string
	AllowFrom      []string
	GroupPolicy    string
	GroupAllowFrom []string
	Groups         map[string]GroupConfig // account map if defined, else channel map
}

// DefaultAccountKey names the channel-level account.
const DefaultAccountKey = "default"

// ResolveAccount returns the effective settings for the account identified by
// id, which may be an account map key or an account phone number. Unknown ids
// resolve to the channel-level defaults.
func (c *SignalConfig) ResolveAccount(id string) SignalAccount {
	base := SignalAccount{
		Key:            DefaultAccountKey,
		Enabled:        c.IsEnabled(),
		Number:         c.Account,
		UUID:           c.UUID,
		Name:           c.Name,
		BaseURL:        c.BaseURL,
		DMPolicy:       c.DMPolicy,
		AllowFrom:      c.AllowFrom,
		GroupPolicy:    c.GroupPolicy,
		GroupAllowFrom: c.GroupAllowFrom,
		Groups:         c.Groups,
	}

	key, acct, ok := c.findAccount(id)
	if !ok {
		return base
	}

	base.Key = key
	if acct.Enabled != nil {
		base.Enabled = base.Enabled && *acct.Enabled
	}
	if acct.Account != "" {
		base.Number = acct.Account
	}
	// Identity fields belong to the account; inheriting the channel uuid for a
	// different number would make structured mentions match the wrong bot.
	base.UUID = acct.UUID
	if acct.Name != "" {
		base.Name = acct.Name
	}
	if acct.BaseURL != "" {
		base.BaseURL = acct.BaseURL
	}
	if acct.DMPolicy != "" {
		base.DMPolicy = acct.DMPolicy
	}
	if acct.AllowFrom != nil {
		base.AllowFrom = acct.AllowFrom
	}
	if acct.GroupPolicy != "" {
		base.GroupPolicy = acct.GroupPolicy
	}
	if acct.GroupAllowFrom != nil {
		base.GroupAllowFrom = acct.GroupAllowFrom
	}
	if acct.Groups != nil {
		base.Groups = acct.Groups
	}
	return base
}

func (c *SignalConfig) findAccount(id string) (string, AccountConfig, bool) {
	if id == "" {
		return "", AccountConfig{}, false
	}
	if acct, ok := c.Accounts[id]; ok {
		return id, acct, true
	}
	for _, key := range c.AccountKeys() {
		if acct := c.Accounts[key]; acct.Account == id {
			return key, acct, true
		}
	}
	return "", AccountConfig{}, false
}

// AccountKeys returns the named account keys in a stable order.
func (c *SignalConfig) AccountKeys() []string {
	keys := make([]string, 0, len(c.Accounts))
	for k := range c.Accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnabledAccounts lists every account that should be monitored: the
// channel-level account (when a number is configured) followed by named
// accounts, skipping disabled ones.
func (c *SignalConfig) EnabledAccounts() []SignalAccount {
	var out []SignalAccount
	if c.Account != "" {
		if a := c.ResolveAccount(""); a.Enabled {
			out = append(out, a)
		}
	}
	for _, key := range c.AccountKeys() {
		a := c.ResolveAccount(key)
		if a.Enabled && a.Number != "" {
			out = append(out, a)
		}
	}
	return out
}

// Holder publishes the current configuration tree. Readers take one snapshot
// per unit of work so they never observe a half-applied reload.
type Holder struct {
	p atomic.Pointer[Config]
}

// NewHolder creates a Holder seeded with cfg.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.p.Store(cfg)
	return h
}

// Load returns the current configuration snapshot.
func (h *Holder) Load() *Config { return h.p.Load() }

// Store atomically replaces the configuration tree.
func (h *Holder) Store(cfg *Config) { h.p.Store(cfg) }
