package session

import (
	"strings"

	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// GlobalKey is the session key used when scope is global.
const GlobalKey = "global"

// UnknownKey is used when the sender identifier is absent or empty.
const UnknownKey = "unknown"

// Key derives a session key for an inbound message per the §4.7 table.
// Scope "global" always returns GlobalKey regardless of sender.
func Key(scope string, kind provider.Kind, canonicalFrom string, isGroup bool) string {
	if scope == "global" {
		return GlobalKey
	}

	from := strings.TrimSpace(canonicalFrom)
	if from == "" {
		return UnknownKey
	}

	if isGroup || provider.IsGroup(from) {
		return "group:" + from
	}

	if kind == provider.KindTelegram {
		return "telegram:" + from
	}

	return from
}
