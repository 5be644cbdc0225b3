package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
)

const defaultWhisperAPIBaseURL = "https://api.openai.com/v1/audio/transcriptions"

// WhisperAPIProvider transcribes voice notes over any Whisper-compatible
// HTTP transcription endpoint (OpenAI, Groq, or a self-hosted server
// speaking the same multipart contract) — WhatsApp and Telegram voice
// notes arrive as OGG/Opus, which every one of these backends accepts
// directly with no local decoding.
type WhisperAPIProvider struct {
	baseURL string
	config  Config
	client  *http.Client
}

// NewWhisperAPIProvider builds a provider from cfg. An empty BaseURL
// falls back to OpenAI's endpoint; an empty Model falls back to
// "whisper-1", OpenAI's own default.
func NewWhisperAPIProvider(cfg Config) *WhisperAPIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultWhisperAPIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	cfg.Model = model

	return &WhisperAPIProvider{
		baseURL: baseURL,
		config:  cfg,
		client:  &http.Client{},
	}
}

// Transcribe uploads the audio file at path as multipart form data and
// returns the plain-text transcription.
func (p *WhisperAPIProvider) Transcribe(path string) (string, error) {
	L_debug("stt: transcribing", "file", path, "baseURL", p.baseURL)

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy file to form: %w", err)
	}
	if err := writer.WriteField("model", p.config.Model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return "", fmt.Errorf("write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, p.baseURL, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		L_error("stt: transcription request failed", "status", resp.StatusCode, "body", string(body))
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("whisper API error: %s", errResp.Error.Message)
		}
		return "", fmt.Errorf("whisper API error: status %d", resp.StatusCode)
	}

	result := string(body)
	L_debug("stt: transcription complete", "length", len(result))
	return result, nil
}

// Name identifies the backend. It stays fixed regardless of which
// Whisper-compatible host BaseURL points at, since the caller already
// knows which endpoint it configured.
func (p *WhisperAPIProvider) Name() string {
	return "whisper-api"
}

// Close releases any resources (none for a plain HTTP client).
func (p *WhisperAPIProvider) Close() error {
	return nil
}
