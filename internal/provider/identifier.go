package provider

import (
	"regexp"
	"strings"
)

var (
	waGroupRE = regexp.MustCompile(`^\d+-\d+@g\.us$`)
	digitsRE  = regexp.MustCompile(`^\d+$`)
)

// Normalize reduces any recognised form of an identifier to its
// canonical form, per-kind. It is idempotent:
// Normalize(Normalize(id, k), k) == Normalize(id, k).
func Normalize(raw string, kind Kind) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	switch kind {
	case KindTelegram:
		s = strings.TrimPrefix(s, "telegram:")
		return s
	default: // wa-web, wa-twilio
		s = strings.TrimPrefix(s, "whatsapp:")
		if waGroupRE.MatchString(s) {
			return s
		}
		if !strings.HasPrefix(s, "+") && digitsRE.MatchString(s) {
			return "+" + s
		}
		return s
	}
}

// IsGroup reports whether a canonical wa-web identifier names a group chat.
func IsGroup(canonical string) bool {
	return waGroupRE.MatchString(canonical)
}

// FromE164 returns the canonical form for a telephone number.
func FromE164(e164 string) string {
	if !strings.HasPrefix(e164, "+") {
		return "+" + e164
	}
	return e164
}
