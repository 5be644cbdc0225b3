package relay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/roelfdiedericks/clawdis/internal/paths"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

func withTempConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	paths.SetConfigDirForTest(dir)
	t.Cleanup(func() { paths.SetConfigDirForTest("") })
	return dir
}

func TestDetectAvailableEmptyWhenNothingConfigured(t *testing.T) {
	withTempConfigDir(t)
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TELEGRAM_API_ID", "")
	t.Setenv("TELEGRAM_API_HASH", "")

	if got := DetectAvailable(); len(got) != 0 {
		t.Errorf("DetectAvailable() = %v, want empty", got)
	}
}

func TestDetectAvailableOrdersWAWebThenTelegramThenTwilio(t *testing.T) {
	dir := withTempConfigDir(t)

	if err := os.WriteFile(filepath.Join(dir, "whatsapp.db"), []byte("sqlite-db-bytes"), 0o600); err != nil {
		t.Fatalf("WriteFile(whatsapp.db) error = %v", err)
	}
	sessionPath, err := paths.TelegramSessionPath()
	if err != nil {
		t.Fatalf("TelegramSessionPath() error = %v", err)
	}
	if err := paths.EnsureParentDir(sessionPath); err != nil {
		t.Fatalf("EnsureParentDir() error = %v", err)
	}
	if err := os.WriteFile(sessionPath, []byte("opaque-session"), 0o600); err != nil {
		t.Fatalf("WriteFile(session) error = %v", err)
	}

	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_WHATSAPP_FROM", "whatsapp:+15551234567")

	got := DetectAvailable()
	want := []provider.Kind{provider.KindWAWeb, provider.KindTelegram, provider.KindWATwilio}
	if len(got) != len(want) {
		t.Fatalf("DetectAvailable() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DetectAvailable()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveProvidersAutoErrorsWhenNoneConfigured(t *testing.T) {
	withTempConfigDir(t)
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TELEGRAM_API_ID", "")
	t.Setenv("TELEGRAM_API_HASH", "")

	if _, err := ResolveProviders(nil); err == nil {
		t.Fatal("expected error when nothing is configured")
	}
}

func TestResolveProvidersExplicitListHonouredEvenWithMoreAvailable(t *testing.T) {
	dir := withTempConfigDir(t)
	if err := os.WriteFile(filepath.Join(dir, "whatsapp.db"), []byte("sqlite-db-bytes"), 0o600); err != nil {
		t.Fatalf("WriteFile(whatsapp.db) error = %v", err)
	}

	explicit := []provider.Kind{provider.KindTelegram}
	got, err := ResolveProviders(explicit)
	if err != nil {
		t.Fatalf("ResolveProviders() error = %v", err)
	}
	if len(got) != 1 || got[0] != provider.KindTelegram {
		t.Errorf("ResolveProviders() = %v, want [telegram]", got)
	}
}
