package telegram

import "testing"

func TestResolveCachedIDMissReturnsHardError(t *testing.T) {
	p := New()
	if _, err := p.resolveCachedID("123456"); err == nil {
		t.Fatal("expected error for an id never seen in any update")
	}
}

func TestResolveCachedIDHitAfterCacheUser(t *testing.T) {
	p := New()
	p.mu.Lock()
	p.peerCache[42] = &peerEntry{accessHash: 999}
	p.mu.Unlock()

	peer, err := p.resolveCachedID("42")
	if err != nil {
		t.Fatalf("resolveCachedID() error = %v", err)
	}
	if peer == nil {
		t.Fatal("expected a non-nil peer")
	}
}

func TestResolveCachedIDRejectsNonNumeric(t *testing.T) {
	p := New()
	if _, err := p.resolveCachedID("not-a-number"); err == nil {
		t.Fatal("expected error for non-numeric input")
	}
}

func TestDisplayFilenameFallsBackToMimeExtension(t *testing.T) {
	if got := displayFilename("", "image/jpeg"); got != "attachment.jpg" {
		t.Errorf("displayFilename() = %q, want attachment.jpg", got)
	}
	if got := displayFilename("notes.txt", "text/plain"); got != "notes.txt" {
		t.Errorf("displayFilename() = %q, want notes.txt", got)
	}
}
