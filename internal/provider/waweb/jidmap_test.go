package waweb

import (
	"path/filepath"
	"testing"

	"github.com/roelfdiedericks/clawdis/internal/paths"
)

func TestJIDMapRecordAndResolve(t *testing.T) {
	paths.SetConfigDirForTest(t.TempDir())

	m, err := newJIDMap()
	if err != nil {
		t.Fatalf("newJIDMap() error = %v", err)
	}

	if _, ok := m.Resolve("249786758348836"); ok {
		t.Fatal("expected miss on empty map")
	}

	m.Record("249786758348836", "+15551234567")

	got, ok := m.Resolve("249786758348836")
	if !ok || got != "+15551234567" {
		t.Errorf("Resolve() = (%q, %v), want (+15551234567, true)", got, ok)
	}
}

func TestJIDMapPersistsAcrossLoad(t *testing.T) {
	paths.SetConfigDirForTest(t.TempDir())

	m1, err := newJIDMap()
	if err != nil {
		t.Fatalf("newJIDMap() error = %v", err)
	}
	m1.Record("111", "+15550000000")
	m1.Rebind("deviceA")

	dir, _ := paths.CredentialsDir()
	if _, err := filepath.Glob(filepath.Join(dir, "lid-mapping-deviceA_reverse.json")); err != nil {
		t.Fatalf("glob error: %v", err)
	}

	m2, err := newJIDMap()
	if err != nil {
		t.Fatalf("newJIDMap() error = %v", err)
	}
	m2.Rebind("deviceA")
	m2.load()

	got, ok := m2.Resolve("111")
	if !ok || got != "+15550000000" {
		t.Errorf("Resolve() after reload = (%q, %v), want (+15550000000, true)", got, ok)
	}
}

func TestResolveJIDGroupVsDirect(t *testing.T) {
	direct := resolveJID("+15551234567")
	if direct.Server != "s.whatsapp.net" {
		t.Errorf("direct JID server = %q", direct.Server)
	}

	group := resolveJID("1234-5678@g.us")
	if group.Server != "g.us" {
		t.Errorf("group JID server = %q", group.Server)
	}
}
