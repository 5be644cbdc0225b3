package session

import (
	"testing"

	"github.com/roelfdiedericks/clawdis/internal/provider"
)

func TestKeyDerivation(t *testing.T) {
	tests := []struct {
		name    string
		scope   string
		kind    provider.Kind
		from    string
		isGroup bool
		want    string
	}{
		{"global ignores sender", "global", provider.KindWAWeb, "+15551234567", false, GlobalKey},
		{"per-sender e164", "per-sender", provider.KindWAWeb, "+15551234567", false, "+15551234567"},
		{"per-sender wa group", "per-sender", provider.KindWAWeb, "12345-678@g.us", true, "group:12345-678@g.us"},
		{"per-sender telegram username", "per-sender", provider.KindTelegram, "@alice", false, "telegram:@alice"},
		{"per-sender telegram digits", "per-sender", provider.KindTelegram, "123456", false, "telegram:123456"},
		{"per-sender unknown", "per-sender", provider.KindWAWeb, "", false, UnknownKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.scope, tt.kind, tt.from, tt.isGroup)
			if got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyStableAcrossAliases(t *testing.T) {
	aliases := []string{"+15551234567", "whatsapp:+15551234567", "15551234567"}
	var keys []string
	for _, a := range aliases {
		canon := provider.Normalize(a, provider.KindWAWeb)
		keys = append(keys, Key("per-sender", provider.KindWAWeb, canon, false))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] != keys[0] {
			t.Errorf("alias %q produced key %q, want %q", aliases[i], keys[i], keys[0])
		}
	}
}

func TestNamespaceIsolation(t *testing.T) {
	telegramKey := Key("per-sender", provider.KindTelegram, "@alice", false)
	phoneKey := Key("per-sender", provider.KindWAWeb, "+15551234567", false)
	if telegramKey == phoneKey {
		t.Error("telegram and wa-web sessions must not collide")
	}
	if telegramKey != "telegram:@alice" {
		t.Errorf("telegramKey = %q, want telegram:@alice", telegramKey)
	}
}
