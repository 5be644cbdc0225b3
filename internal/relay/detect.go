// Package relay implements the multi-provider supervisor (spec §4.5),
// generalising the teacher's internal/channels.Manager (ManagedChannel
// registry, per-channel goroutine, shared cancellation) from a fixed
// channel set to the three dynamically-detected provider kinds.
package relay

import (
	"fmt"
	"os"

	"github.com/roelfdiedericks/clawdis/internal/config"
	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/paths"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// DetectAvailable reports which provider kinds have usable on-disk
// credentials or complete environment variables, in the spec's fixed
// priority order: wa-web, then telegram, then wa-twilio (spec §4.5).
func DetectAvailable() []provider.Kind {
	var available []provider.Kind
	if waWebCredentialsExist() {
		available = append(available, provider.KindWAWeb)
	}
	if telegramSessionExists() {
		available = append(available, provider.KindTelegram)
	}
	if twilioEnvComplete() {
		available = append(available, provider.KindWATwilio)
	}
	return available
}

func waWebCredentialsExist() bool {
	dbPath, err := paths.DataPath("whatsapp.db")
	if err != nil {
		return false
	}
	info, err := os.Stat(dbPath)
	return err == nil && info.Size() > 0
}

func telegramSessionExists() bool {
	sessionPath, err := paths.TelegramSessionPath()
	if err != nil {
		return false
	}
	info, err := os.Stat(sessionPath)
	return err == nil && info.Size() > 0
}

func twilioEnvComplete() bool {
	env, err := config.LoadTwilioEnv()
	return err == nil && env != nil
}

// ResolveProviders picks the set of provider kinds to run: the explicit
// list if non-empty, otherwise every available kind in priority order.
// An available kind left out of an explicit selection is reported by
// name rather than silently ignored (spec §4.5: "Authenticated but
// unselected providers are reported by name").
func ResolveProviders(explicit []provider.Kind) ([]provider.Kind, error) {
	available := DetectAvailable()

	if len(explicit) == 0 {
		if len(available) == 0 {
			return nil, fmt.Errorf("no provider is configured: run `clawdis login --provider <kind>` or set its environment variables first")
		}
		return available, nil
	}

	selected := make(map[provider.Kind]bool, len(explicit))
	for _, k := range explicit {
		selected[k] = true
	}
	for _, k := range available {
		if !selected[k] {
			L_info("relay: provider is authenticated but not selected", "provider", k)
		}
	}
	return explicit, nil
}
