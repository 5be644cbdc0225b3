package provider

import "testing"

func TestNormalizeIdempotent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"e164 already normalized", "+15551234567", KindWAWeb},
		{"bare digits", "15551234567", KindWAWeb},
		{"whatsapp prefix", "whatsapp:+15551234567", KindWAWeb},
		{"group jid", "12345-678@g.us", KindWAWeb},
		{"telegram username", "telegram:@alice", KindTelegram},
		{"telegram digits", "telegram:123456", KindTelegram},
		{"empty", "", KindWAWeb},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := Normalize(tt.raw, tt.kind)
			twice := Normalize(once, tt.kind)
			if once != twice {
				t.Errorf("Normalize not idempotent: once=%q twice=%q", once, twice)
			}
		})
	}
}

func TestNormalizeCanonicalForms(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		want string
	}{
		{"whatsapp:+15551234567", KindWAWeb, "+15551234567"},
		{"15551234567", KindWAWeb, "+15551234567"},
		{"12345-678@g.us", KindWAWeb, "12345-678@g.us"},
		{"telegram:@alice", KindTelegram, "@alice"},
		{"telegram:123456", KindTelegram, "123456"},
	}

	for _, tt := range tests {
		got := Normalize(tt.raw, tt.kind)
		if got != tt.want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", tt.raw, tt.kind, got, tt.want)
		}
	}
}

func TestNormalizeKind(t *testing.T) {
	tests := []struct {
		in             string
		wantKind       Kind
		wantDeprecated bool
	}{
		{"wa-web", KindWAWeb, false},
		{"web", KindWAWeb, true},
		{"wa-twilio", KindWATwilio, false},
		{"twilio", KindWATwilio, true},
		{"telegram", KindTelegram, false},
	}

	for _, tt := range tests {
		kind, deprecated := NormalizeKind(tt.in)
		if kind != tt.wantKind || deprecated != tt.wantDeprecated {
			t.Errorf("NormalizeKind(%q) = (%q, %v), want (%q, %v)", tt.in, kind, deprecated, tt.wantKind, tt.wantDeprecated)
		}
	}
}

func TestIsGroup(t *testing.T) {
	if !IsGroup("12345-678@g.us") {
		t.Error("expected group jid to be recognised")
	}
	if IsGroup("+15551234567") {
		t.Error("expected e164 to not be recognised as a group")
	}
}
