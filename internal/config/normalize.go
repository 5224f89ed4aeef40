package config

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/adhocore/gronx"
)

// ValidationError identifies the offending path in a rejected configuration.
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return e.Path + ": " + e.Msg
}

func invalid(path, format string, args ...any) error {
	return &ValidationError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

var (
	dmPolicies    = []string{"pairing", "allowlist", "open", "disabled", "closed"}
	groupPolicies = []string{"open", "allowlist", "disabled"}
	receiveModes  = []string{"websocket", "stdin"}
	dbModes       = []string{"standalone", "managed"}
	otelProtocols = []string{"grpc", "http"}
)

// Normalize validates an untyped configuration tree (as produced by a JSON or
// JSON5 decoder) against the closed schema and returns the typed tree.
// Unknown keys and type mismatches are rejected with a path-qualified
// *ValidationError; nothing is silently dropped. A nil tree yields defaults.
func Normalize(raw any) (*Config, error) {
	cfg := &Config{}
	if raw == nil {
		return cfg, nil
	}
	root, err := asObject("", raw)
	if err != nil {
		return nil, err
	}
	if err := checkKeys("", root, "channels", "messages", "reply", "database", "telemetry", "pairing", "admin"); err != nil {
		return nil, err
	}

	if v, ok := root["channels"]; ok {
		obj, err := asObject("channels", v)
		if err != nil {
			return nil, err
		}
		if err := checkKeys("channels", obj, "signal"); err != nil {
			return nil, err
		}
		if sv, ok := obj["signal"]; ok {
			if err := normalizeSignal("channels.signal", sv, &cfg.Channels.Signal); err != nil {
				return nil, err
			}
		}
	}
	if v, ok := root["messages"]; ok {
		if err := normalizeMessages("messages", v, &cfg.Messages); err != nil {
			return nil, err
		}
	}
	if v, ok := root["reply"]; ok {
		if err := normalizeReply("reply", v, &cfg.Reply); err != nil {
			return nil, err
		}
	}
	if v, ok := root["database"]; ok {
		if err := normalizeDatabase("database", v, &cfg.Database); err != nil {
			return nil, err
		}
	}
	if v, ok := root["telemetry"]; ok {
		if err := normalizeTelemetry("telemetry", v, &cfg.Telemetry); err != nil {
			return nil, err
		}
	}
	if v, ok := root["admin"]; ok {
		if err := normalizeAdmin("admin", v, &cfg.Admin); err != nil {
			return nil, err
		}
	}
	if v, ok := root["pairing"]; ok {
		if err := normalizePairing("pairing", v, &cfg.Pairing); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func normalizeSignal(path string, raw any, out *SignalConfig) error {
	obj, err := asObject(path, raw)
	if err != nil {
		return err
	}
	if err := checkKeys(path, obj,
		"enabled", "account", "uuid", "name", "baseUrl", "receiveMode",
		"dmPolicy", "allowFrom", "groupPolicy", "groupAllowFrom", "groups", "accounts",
	); err != nil {
		return err
	}

	f := fields{path: path, obj: obj}
	f.optBool("enabled", &out.Enabled)
	f.str("account", &out.Account)
	f.str("uuid", &out.UUID)
	f.str("name", &out.Name)
	f.str("baseUrl", &out.BaseURL)
	f.enum("receiveMode", &out.ReceiveMode, receiveModes)
	f.enum("dmPolicy", &out.DMPolicy, dmPolicies)
	f.strList("allowFrom", &out.AllowFrom)
	f.enum("groupPolicy", &out.GroupPolicy, groupPolicies)
	f.strList("groupAllowFrom", &out.GroupAllowFrom)
	if f.err != nil {
		return f.err
	}

	if v, ok := obj["groups"]; ok {
		groups, err := normalizeGroups(join(path, "groups"), v)
		if err != nil {
			return err
		}
		out.Groups = groups
	}

	if v, ok := obj["accounts"]; ok {
		accountsPath := join(path, "accounts")
		accts, err := asObject(accountsPath, v)
		if err != nil {
			return err
		}
		out.Accounts = make(map[string]AccountConfig, len(accts))
		for _, key := range sortedKeys(accts) {
			acct, err := normalizeAccount(join(accountsPath, key), accts[key])
			if err != nil {
				return err
			}
			out.Accounts[key] = acct
		}
	}
	return nil
}

func normalizeAccount(path string, raw any) (AccountConfig, error) {
	var out AccountConfig
	obj, err := asObject(path, raw)
	if err != nil {
		return out, err
	}
	if err := checkKeys(path, obj,
		"enabled", "account", "uuid", "name", "baseUrl",
		"dmPolicy", "allowFrom", "groupPolicy", "groupAllowFrom", "groups",
	); err != nil {
		return out, err
	}

	f := fields{path: path, obj: obj}
	f.optBool("enabled", &out.Enabled)
	f.str("account", &out.Account)
	f.str("uuid", &out.UUID)
	f.str("name", &out.Name)
	f.str("baseUrl", &out.BaseURL)
	f.enum("dmPolicy", &out.DMPolicy, dmPolicies)
	f.strList("allowFrom", &out.AllowFrom)
	f.enum("groupPolicy", &out.GroupPolicy, groupPolicies)
	f.strList("groupAllowFrom", &out.GroupAllowFrom)
	if f.err != nil {
		return out, f.err
	}

	if v, ok := obj["groups"]; ok {
		groups, err := normalizeGroups(join(path, "groups"), v)
		if err != nil {
			return out, err
		}
		out.Groups = groups
	}
	return out, nil
}

func normalizeGroups(path string, raw any) (map[string]GroupConfig, error) {
	obj, err := asObject(path, raw)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]GroupConfig, len(obj))
	for _, id := range sortedKeys(obj) {
		gPath := join(path, id)
		if id == "" {
			return nil, invalid(gPath, "group id must not be empty")
		}
		entry, err := asObject(gPath, obj[id])
		if err != nil {
			return nil, err
		}
		if err := checkKeys(gPath, entry, "enabled", "requireMention", "allowFrom"); err != nil {
			return nil, err
		}
		var g GroupConfig
		f := fields{path: gPath, obj: entry}
		f.optBool("enabled", &g.Enabled)
		f.optBool("requireMention", &g.RequireMention)
		f.strList("allowFrom", &g.AllowFrom)
		if f.err != nil {
			return nil, f.err
		}
		groups[id] = g
	}
	return groups, nil
}

func normalizeMessages(path string, raw any, out *MessagesConfig) error {
	obj, err := asObject(path, raw)
	if err != nil {
		return err
	}
	if err := checkKeys(path, obj, "groupChat", "dedupe"); err != nil {
		return err
	}

	if v, ok := obj["groupChat"]; ok {
		gcPath := join(path, "groupChat")
		gc, err := asObject(gcPath, v)
		if err != nil {
			return err
		}
		if err := checkKeys(gcPath, gc, "mentionPatterns"); err != nil {
			return err
		}
		f := fields{path: gcPath, obj: gc}
		f.strList("mentionPatterns", &out.GroupChat.MentionPatterns)
		if f.err != nil {
			return f.err
		}
		for i, p := range out.GroupChat.MentionPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return invalid(fmt.Sprintf("%s.mentionPatterns[%d]", gcPath, i), "invalid pattern %q: %v", p, err)
			}
			out.GroupChat.mentionRegexes = append(out.GroupChat.mentionRegexes, re)
		}
	}

	if v, ok := obj["dedupe"]; ok {
		dPath := join(path, "dedupe")
		d, err := asObject(dPath, v)
		if err != nil {
			return err
		}
		if err := checkKeys(dPath, d, "ttlSeconds", "maxEntries"); err != nil {
			return err
		}
		f := fields{path: dPath, obj: d}
		f.nonNegInt("ttlSeconds", &out.Dedupe.TTLSeconds)
		f.nonNegInt("maxEntries", &out.Dedupe.MaxEntries)
		if f.err != nil {
			return f.err
		}
	}
	return nil
}

func normalizeReply(path string, raw any, out *ReplyConfig) error {
	obj, err := asObject(path, raw)
	if err != nil {
		return err
	}
	if err := checkKeys(path, obj, "webhookUrl", "timeoutMs", "openai"); err != nil {
		return err
	}
	f := fields{path: path, obj: obj}
	f.str("webhookUrl", &out.WebhookURL)
	f.nonNegInt("timeoutMs", &out.TimeoutMs)
	if f.err != nil {
		return f.err
	}
	v, ok := obj["openai"]
	if !ok {
		return nil
	}
	oaPath := join(path, "openai")
	oa, err := asObject(oaPath, v)
	if err != nil {
		return err
	}
	if err := checkKeys(oaPath, oa, "model", "baseUrl", "systemPrompt", "maxTokens"); err != nil {
		return err
	}
	of := fields{path: oaPath, obj: oa}
	of.str("model", &out.OpenAI.Model)
	of.str("baseUrl", &out.OpenAI.BaseURL)
	of.str("systemPrompt", &out.OpenAI.SystemPrompt)
	of.nonNegInt("maxTokens", &out.OpenAI.MaxTokens)
	return of.err
}

func normalizeAdmin(path string, raw any, out *AdminConfig) error {
	obj, err := asObject(path, raw)
	if err != nil {
		return err
	}
	if err := checkKeys(path, obj, "listen"); err != nil {
		return err
	}
	f := fields{path: path, obj: obj}
	f.str("listen", &out.Listen)
	return f.err
}

func normalizeDatabase(path string, raw any, out *DatabaseConfig) error {
	obj, err := asObject(path, raw)
	if err != nil {
		return err
	}
	if err := checkKeys(path, obj, "mode", "sqlitePath"); err != nil {
		return err
	}
	f := fields{path: path, obj: obj}
	f.enum("mode", &out.Mode, dbModes)
	f.str("sqlitePath", &out.SQLitePath)
	return f.err
}

func normalizeTelemetry(path string, raw any, out *TelemetryConfig) error {
	obj, err := asObject(path, raw)
	if err != nil {
		return err
	}
	if err := checkKeys(path, obj, "enabled", "endpoint", "protocol", "insecure", "serviceName"); err != nil {
		return err
	}
	f := fields{path: path, obj: obj}
	f.boolean("enabled", &out.Enabled)
	f.str("endpoint", &out.Endpoint)
	f.enum("protocol", &out.Protocol, otelProtocols)
	f.boolean("insecure", &out.Insecure)
	f.str("serviceName", &out.ServiceName)
	return f.err
}

func normalizePairing(path string, raw any, out *PairingConfig) error {
	obj, err := asObject(path, raw)
	if err != nil {
		return err
	}
	if err := checkKeys(path, obj, "pruneSchedule"); err != nil {
		return err
	}
	f := fields{path: path, obj: obj}
	f.str("pruneSchedule", &out.PruneSchedule)
	if f.err == nil && out.PruneSchedule != "" && !gronx.New().IsValid(out.PruneSchedule) {
		return invalid(join(path, "pruneSchedule"), "invalid cron expression %q", out.PruneSchedule)
	}
	return f.err
}

// --- untyped tree helpers ---

// fields decodes optional members of one object, keeping the first error.
type fields struct {
	path string
	obj  map[string]any
	err  error
}

func (f *fields) get(key string) (any, string, bool) {
	if f.err != nil {
		return nil, "", false
	}
	v, ok := f.obj[key]
	return v, join(f.path, key), ok
}

func (f *fields) str(key string, dst *string) {
	v, p, ok := f.get(key)
	if !ok {
		return
	}
	s, isStr := v.(string)
	if !isStr {
		f.err = invalid(p, "expected string, got %s", typeName(v))
		return
	}
	*dst = s
}

func (f *fields) enum(key string, dst *string, allowed []string) {
	f.str(key, dst)
	if f.err != nil || *dst == "" {
		return
	}
	for _, a := range allowed {
		if *dst == a {
			return
		}
	}
	f.err = invalid(join(f.path, key), "unsupported value %q (want one of %v)", *dst, allowed)
}

func (f *fields) boolean(key string, dst *bool) {
	v, p, ok := f.get(key)
	if !ok {
		return
	}
	b, isBool := v.(bool)
	if !isBool {
		f.err = invalid(p, "expected boolean, got %s", typeName(v))
		return
	}
	*dst = b
}

func (f *fields) optBool(key string, dst **bool) {
	if _, _, ok := f.get(key); !ok {
		return
	}
	var b bool
	f.boolean(key, &b)
	if f.err == nil {
		*dst = &b
	}
}

func (f *fields) nonNegInt(key string, dst *int) {
	v, p, ok := f.get(key)
	if !ok {
		return
	}
	n, isNum := v.(float64)
	if !isNum || n != math.Trunc(n) || n < 0 || n > math.MaxInt32 {
		f.err = invalid(p, "expected non-negative integer, got %s", typeName(v))
		return
	}
	*dst = int(n)
}

// strList accepts an array of strings; numbers are rendered as integers so
// phone numbers written without quotes still work.
func (f *fields) strList(key string, dst *[]string) {
	v, p, ok := f.get(key)
	if !ok {
		return
	}
	arr, isArr := v.([]any)
	if !isArr {
		f.err = invalid(p, "expected array of strings, got %s", typeName(v))
		return
	}
	out := make([]string, 0, len(arr))
	for i, item := range arr {
		switch val := item.(type) {
		case string:
			out = append(out, val)
		case float64:
			out = append(out, strconv.FormatFloat(val, 'f', -1, 64))
		default:
			f.err = invalid(fmt.Sprintf("%s[%d]", p, i), "expected string, got %s", typeName(item))
			return
		}
	}
	*dst = out
}

func asObject(path string, v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, invalid(path, "expected object, got %s", typeName(v))
	}
	return obj, nil
}

func checkKeys(path string, obj map[string]any, allowed ...string) error {
	for _, k := range sortedKeys(obj) {
		known := false
		for _, a := range allowed {
			if k == a {
				known = true
				break
			}
		}
		if !known {
			return invalid(join(path, k), "unknown key")
		}
	}
	return nil
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
