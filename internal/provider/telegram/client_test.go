package telegram

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCapabilitiesDefaultsWithoutOverride(t *testing.T) {
	p := New()
	caps := p.Capabilities()
	if caps.MaxMediaSize != 2*1024*1024*1024 {
		t.Errorf("MaxMediaSize = %d, want the 2 GiB default", caps.MaxMediaSize)
	}
}

func TestCapabilitiesHonoursConstructedOverride(t *testing.T) {
	p := New()
	p.mu.Lock()
	p.maxMediaSize = 10 * 1024 * 1024
	p.mu.Unlock()

	if got := p.Capabilities().MaxMediaSize; got != 10*1024*1024 {
		t.Errorf("MaxMediaSize = %d, want 10 MiB", got)
	}
}

func TestIsAuthenticatedFalseWithoutSessionFile(t *testing.T) {
	p := New()
	p.mu.Lock()
	p.sessionPath = filepath.Join(t.TempDir(), "session.string")
	p.mu.Unlock()

	if p.IsAuthenticated(nil) {
		t.Fatal("expected false: no session file written yet")
	}
}

func TestIsAuthenticatedTrueWithNonEmptySessionFile(t *testing.T) {
	p := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.string")
	if err := os.WriteFile(path, []byte("opaque-session-bytes"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	p.mu.Lock()
	p.sessionPath = path
	p.mu.Unlock()

	if !p.IsAuthenticated(nil) {
		t.Fatal("expected true: non-empty session file present")
	}
}

func TestSessionPathsIncludesLegacyName(t *testing.T) {
	paths := sessionPaths("/cfg/telegram/session/session.string")
	if len(paths) != 2 {
		t.Fatalf("len(sessionPaths()) = %d, want 2", len(paths))
	}
	if paths[0] != "/cfg/telegram/session/session.string" {
		t.Errorf("preferred path = %q", paths[0])
	}
	if paths[1] != "/cfg/telegram/session/warelay-session.string" {
		t.Errorf("legacy path = %q", paths[1])
	}
}
