package waweb

import (
	"testing"
	"time"

	"github.com/roelfdiedericks/clawdis/internal/config"
)

// TestBackoffSequenceMatchesScenario5 checks the exact reconnect timing
// spec §8 scenario 5 names: {initialMs:100, maxMs:800, factor:2,
// maxAttempts:4} produces delays of 100, 200, 400, 800 ms.
func TestBackoffSequenceMatchesScenario5(t *testing.T) {
	cfg := config.ReconnectConfig{
		InitialMs:   100,
		MaxMs:       800,
		Factor:      2,
		Jitter:      0,
		MaxAttempts: 4,
	}

	got := backoffSequence(cfg)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}

	if len(got) != len(want) {
		t.Fatalf("backoffSequence returned %d delays, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestBackoffSequenceCapsAtMaxMs verifies the delay never exceeds MaxMs
// even after many attempts.
func TestBackoffSequenceCapsAtMaxMs(t *testing.T) {
	cfg := config.ReconnectConfig{
		InitialMs:   100,
		MaxMs:       500,
		Factor:      2,
		MaxAttempts: 10,
	}

	got := backoffSequence(cfg)
	for i, d := range got {
		if d > 500*time.Millisecond {
			t.Errorf("delay[%d] = %v, exceeds MaxMs cap of 500ms", i, d)
		}
	}
}
