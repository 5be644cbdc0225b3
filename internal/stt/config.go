package stt

import (
	. "github.com/roelfdiedericks/clawdis/internal/logging"
)

// Config selects and configures the transcription backend: an
// OpenAI-compatible Whisper HTTP API. OpenAI's own endpoint, Groq's
// drop-in replacement, and a self-hosted faster-whisper server all speak
// the same multipart/response_format=text contract, so one provider
// covers every one of them — only BaseURL changes.
type Config struct {
	BaseURL string `json:"baseURL"` // defaults to OpenAI's endpoint when empty
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"` // e.g. "whisper-1", "whisper-large-v3"
}

// providerInstance holds the singleton STT provider, replaced by every
// ApplyConfig call.
var providerInstance Provider

// GetProvider returns the current STT provider, or nil if transcription
// isn't configured.
func GetProvider() Provider {
	return providerInstance
}

// ApplyConfig (re)initializes the STT provider from cfg. An empty APIKey
// leaves transcription disabled rather than erroring, since voice-note
// transcription is an optional step in the reply pipeline (spec §4.6).
func ApplyConfig(cfg Config) error {
	if providerInstance != nil {
		if err := providerInstance.Close(); err != nil {
			L_warn("stt: failed to close existing provider", "error", err)
		}
		providerInstance = nil
	}

	if cfg.APIKey == "" {
		L_debug("stt: no provider configured")
		return nil
	}

	provider := NewWhisperAPIProvider(cfg)
	providerInstance = provider
	L_info("stt: whisper-api provider initialized", "baseURL", provider.baseURL, "model", provider.config.Model)
	return nil
}

// Close shuts down the active STT provider, if any.
func Close() {
	if providerInstance != nil {
		if err := providerInstance.Close(); err != nil {
			L_warn("stt: failed to close provider", "error", err)
		}
		providerInstance = nil
	}
}
