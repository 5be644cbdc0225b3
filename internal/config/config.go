// Package config loads and merges the clawdis configuration file,
// following the same atomic-write-with-backup discipline as the
// credentials it sits beside.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"dario.cat/mergo"

	"github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/paths"
	"github.com/roelfdiedericks/clawdis/internal/stt"
)

// ConfigBackupCount is the number of backup versions to keep.
const ConfigBackupCount = 5

// LoadResult wraps the loaded config and where it came from.
type LoadResult struct {
	Config     *Config
	SourcePath string
	Created    bool // true if no file existed and defaults were written
}

// Config is the top-level clawdis configuration.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Inbound   InboundConfig   `json:"inbound"`
	Providers ProvidersConfig `json:"providers"`
	STT       stt.Config      `json:"stt"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level string `json:"level"` // debug|info|warn|error (default: info)
}

// InboundConfig controls what is accepted and how replies are produced.
type InboundConfig struct {
	AllowFrom []string     `json:"allowFrom"`
	Reply     ReplyConfig  `json:"reply"`
}

// ReplyMode selects how inbound messages are turned into replies.
type ReplyMode string

const (
	ReplyModeCommand ReplyMode = "command"
	ReplyModeText    ReplyMode = "text"
)

// ReplyConfig describes the auto-reply pipeline's behaviour.
type ReplyConfig struct {
	Mode             ReplyMode          `json:"mode"`
	Command          []string           `json:"command,omitempty"`
	Text             string             `json:"text,omitempty"`
	Session          SessionReplyConfig `json:"session"`
	HeartbeatMinutes int                `json:"heartbeatMinutes"`
	SessionIntro     string             `json:"sessionIntro,omitempty"`
}

// SessionScope selects how session keys are derived.
type SessionScope string

const (
	SessionScopeGlobal    SessionScope = "global"
	SessionScopePerSender SessionScope = "per-sender"
)

// SessionReplyConfig configures session scoping and idle expiry.
type SessionReplyConfig struct {
	Scope       SessionScope `json:"scope"`
	IdleMinutes int          `json:"idleMinutes"`
}

// ProvidersConfig holds per-provider overrides, keyed by provider kind.
type ProvidersConfig struct {
	WAWeb    ProviderOverride `json:"wa-web"`
	WATwilio ProviderOverride `json:"wa-twilio"`
	Telegram ProviderOverride `json:"telegram"`
}

// ProviderOverride layers provider-specific tuning on top of the shared
// inbound config; a nil field means "use the provider's default".
type ProviderOverride struct {
	AllowFrom        []string         `json:"allowFrom,omitempty"`
	GroupMentionOnly *bool            `json:"groupMentionOnly,omitempty"` // wa-web groups
	GroupAllowFrom   []string         `json:"groupAllowFrom,omitempty"`   // wa-web groups
	MaxMediaMB       int              `json:"maxMediaMB,omitempty"`
	Reconnect        *ReconnectConfig `json:"reconnect,omitempty"` // wa-web only
	PollIntervalSecs int              `json:"pollIntervalSecs,omitempty"` // wa-twilio only
	LookbackMinutes  int              `json:"lookbackMinutes,omitempty"`  // wa-twilio only
}

// ReconnectConfig configures the wa-web exponential-backoff reconnect policy.
type ReconnectConfig struct {
	InitialMs   int     `json:"initialMs"`
	MaxMs       int     `json:"maxMs"`
	Factor      float64 `json:"factor"`
	Jitter      float64 `json:"jitter"`
	MaxAttempts int     `json:"maxAttempts"`
}

// DefaultReconnectConfig returns the production reconnect tuning
// (bounded, generous attempt count); it is not the scenario-5 tuning
// the reconnect tests use.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialMs:   1000,
		MaxMs:       60000,
		Factor:      2.0,
		Jitter:      0.2,
		MaxAttempts: 10,
	}
}

// defaults builds a Config populated with the documented defaults.
func defaults() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Inbound: InboundConfig{
			AllowFrom: []string{},
			Reply: ReplyConfig{
				Mode: ReplyModeText,
				Text: "",
				Session: SessionReplyConfig{
					Scope:       SessionScopePerSender,
					IdleMinutes: 1440,
				},
				HeartbeatMinutes: 0,
			},
		},
		Providers: ProvidersConfig{},
	}
}

// isMinimalJSON reports whether data parses to an empty (or absent) object.
func isMinimalJSON(data []byte) bool {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return true
	}
	return len(m) == 0
}

// Load resolves the configuration directory, reads clawdis.json (or the
// legacy warelay.json name), merges it over the defaults, and writes back
// a complete file the first time it runs.
func Load() (*LoadResult, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		logging.L_info("config: no existing file, writing defaults", "path", path)
		if err := WriteConfigWithBackup(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return &LoadResult{Config: cfg, SourcePath: path, Created: true}, nil
	}

	if isMinimalJSON(data) {
		logging.L_info("config: existing file is empty, writing defaults", "path", path)
		if err := WriteConfigWithBackup(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return &LoadResult{Config: cfg, SourcePath: path, Created: true}, nil
	}

	if err := mergeJSONConfig(cfg, data); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	logging.L_debug("config: loaded", "path", path, "allowFrom", len(cfg.Inbound.AllowFrom))
	return &LoadResult{Config: cfg, SourcePath: path, Created: false}, nil
}

// mergeJSONConfig deep-merges the JSON document over the in-memory
// defaults, so unspecified fields keep their default values rather than
// being zeroed by an unmarshal into the struct directly.
func mergeJSONConfig(dst *Config, jsonData []byte) error {
	var rawMap map[string]interface{}
	if err := json.Unmarshal(jsonData, &rawMap); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}

	var src Config
	if err := json.Unmarshal(jsonData, &src); err != nil {
		return fmt.Errorf("parse into config: %w", err)
	}

	if _, ok := rawMap["logging"]; ok {
		if err := mergo.Merge(&dst.Logging, src.Logging, mergo.WithOverride); err != nil {
			return err
		}
	}
	if inboundMap, ok := rawMap["inbound"].(map[string]interface{}); ok {
		mergeInboundSelective(&dst.Inbound, &src.Inbound, inboundMap)
	}
	if _, ok := rawMap["providers"]; ok {
		if err := mergo.Merge(&dst.Providers, src.Providers, mergo.WithOverride); err != nil {
			return err
		}
	}
	if _, ok := rawMap["stt"]; ok {
		dst.STT = src.STT
	}
	return nil
}

// mergeInboundSelective merges only the inbound sub-fields actually
// present in the raw JSON, so an allowFrom-only override does not wipe
// the reply defaults and vice versa.
func mergeInboundSelective(dst, src *InboundConfig, rawMap map[string]interface{}) {
	if _, ok := rawMap["allowFrom"]; ok {
		dst.AllowFrom = src.AllowFrom
	}
	if replyMap, ok := rawMap["reply"].(map[string]interface{}); ok {
		if _, ok := replyMap["mode"]; ok {
			dst.Reply.Mode = src.Reply.Mode
		}
		if _, ok := replyMap["command"]; ok {
			dst.Reply.Command = src.Reply.Command
		}
		if _, ok := replyMap["text"]; ok {
			dst.Reply.Text = src.Reply.Text
		}
		if _, ok := replyMap["heartbeatMinutes"]; ok {
			dst.Reply.HeartbeatMinutes = src.Reply.HeartbeatMinutes
		}
		if _, ok := replyMap["sessionIntro"]; ok {
			dst.Reply.SessionIntro = src.Reply.SessionIntro
		}
		if sessionMap, ok := replyMap["session"].(map[string]interface{}); ok {
			if _, ok := sessionMap["scope"]; ok {
				dst.Reply.Session.Scope = src.Reply.Session.Scope
			}
			if _, ok := sessionMap["idleMinutes"]; ok {
				dst.Reply.Session.IdleMinutes = src.Reply.Session.IdleMinutes
			}
		}
	}
}

// WriteConfigWithBackup writes cfg to path atomically, rotating existing
// backups first via the shared BackupAndWriteJSON helper.
func WriteConfigWithBackup(path string, cfg *Config) error {
	if err := BackupAndWriteJSON(path, cfg, ConfigBackupCount); err != nil {
		return err
	}
	logging.L_info("config: written", "path", path)
	return nil
}

// EffectiveAllowFrom returns the provider override's allow-list if set,
// otherwise falls back to the shared inbound allow-list.
func (c *Config) EffectiveAllowFrom(override ProviderOverride) []string {
	if len(override.AllowFrom) > 0 {
		return override.AllowFrom
	}
	return c.Inbound.AllowFrom
}

// EffectiveReconnect returns the override's reconnect policy or the default.
func (o ProviderOverride) EffectiveReconnect() ReconnectConfig {
	if o.Reconnect != nil {
		return *o.Reconnect
	}
	return DefaultReconnectConfig()
}
