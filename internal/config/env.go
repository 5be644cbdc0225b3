package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultMaxMediaMB is the default Telegram media cap (2 GiB in MB).
const DefaultMaxMediaMB = 2048

// TwilioEnv holds the WhatsApp-Twilio provider's environment-derived config.
type TwilioEnv struct {
	AccountSID string
	AuthToken  string
	APIKey     string
	APISecret  string
	From       string // whatsapp:+E164
	SenderSID  string
}

// TelegramEnv holds the Telegram provider's environment-derived config.
type TelegramEnv struct {
	APIID      int
	APIHash    string
	MaxMediaMB int
	TempDir    string
}

// LoadTwilioEnv reads and validates the TWILIO_* variables. It returns
// (nil, nil) if none of the Twilio variables are set at all, letting the
// caller treat "unconfigured" distinctly from "misconfigured".
func LoadTwilioEnv() (*TwilioEnv, error) {
	sid := os.Getenv("TWILIO_ACCOUNT_SID")
	token := os.Getenv("TWILIO_AUTH_TOKEN")
	key := os.Getenv("TWILIO_API_KEY")
	secret := os.Getenv("TWILIO_API_SECRET")
	from := os.Getenv("TWILIO_WHATSAPP_FROM")
	senderSID := os.Getenv("TWILIO_SENDER_SID")

	if sid == "" && token == "" && key == "" && secret == "" && from == "" && senderSID == "" {
		return nil, nil
	}

	var issues []string
	if sid == "" {
		issues = append(issues, "TWILIO_ACCOUNT_SID is required")
	}
	haveToken := token != ""
	haveKeyPair := key != "" || secret != ""
	switch {
	case haveToken && haveKeyPair:
		issues = append(issues, "TWILIO_AUTH_TOKEN and TWILIO_API_KEY/TWILIO_API_SECRET are mutually exclusive")
	case !haveToken && !haveKeyPair:
		issues = append(issues, "either TWILIO_AUTH_TOKEN or TWILIO_API_KEY+TWILIO_API_SECRET is required")
	case haveKeyPair && (key == "" || secret == ""):
		issues = append(issues, "TWILIO_API_KEY and TWILIO_API_SECRET must both be set")
	}
	if from == "" {
		issues = append(issues, "TWILIO_WHATSAPP_FROM is required")
	} else if !strings.HasPrefix(from, "whatsapp:+") {
		issues = append(issues, "TWILIO_WHATSAPP_FROM must be of the form whatsapp:+E164")
	}

	if len(issues) > 0 {
		return nil, fmt.Errorf("wa-twilio configuration invalid: %s", strings.Join(issues, "; "))
	}

	return &TwilioEnv{
		AccountSID: sid,
		AuthToken:  token,
		APIKey:     key,
		APISecret:  secret,
		From:       from,
		SenderSID:  senderSID,
	}, nil
}

// LoadTelegramEnv reads and validates the TELEGRAM_* variables.
func LoadTelegramEnv() (*TelegramEnv, error) {
	idStr := os.Getenv("TELEGRAM_API_ID")
	hash := os.Getenv("TELEGRAM_API_HASH")

	if idStr == "" && hash == "" {
		return nil, nil
	}

	var issues []string
	var apiID int
	if idStr == "" {
		issues = append(issues, "TELEGRAM_API_ID is required when TELEGRAM_API_HASH is set")
	} else {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			issues = append(issues, "TELEGRAM_API_ID must be an integer")
		} else {
			apiID = id
		}
	}
	if hash == "" {
		issues = append(issues, "TELEGRAM_API_HASH is required when TELEGRAM_API_ID is set")
	}

	if len(issues) > 0 {
		return nil, fmt.Errorf("telegram configuration invalid: %s", strings.Join(issues, "; "))
	}

	maxMediaMB := DefaultMaxMediaMB
	if raw := os.Getenv("TELEGRAM_MAX_MEDIA_MB"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			maxMediaMB = DefaultMaxMediaMB
		} else if v > DefaultMaxMediaMB {
			maxMediaMB = DefaultMaxMediaMB
		} else {
			maxMediaMB = v
		}
	}

	return &TelegramEnv{
		APIID:      apiID,
		APIHash:    hash,
		MaxMediaMB: maxMediaMB,
		TempDir:    os.Getenv("TELEGRAM_TEMP_DIR"),
	}, nil
}
