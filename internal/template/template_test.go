package template

import (
	"strings"
	"testing"

	"github.com/roelfdiedericks/clawdis/internal/provider"
)

func TestExpandEmptyContextLeavesLiteralUnchanged(t *testing.T) {
	in := "hello world, no placeholders here"
	if got := Expand(in, Context{}); got != in {
		t.Errorf("Expand() = %q, want unchanged %q", got, in)
	}
}

func TestExpandKnownAndUnknownBothMissingYieldEmpty(t *testing.T) {
	ctx := Context{"From": "+15551234567"}
	got := Expand("from={{From}} to={{To}} bogus={{NotAKey}}", ctx)
	want := "from=+15551234567 to= bogus="
	if got != want {
		t.Errorf("Expand() = %q, want %q", got, want)
	}
}

func TestExpandToleratesWhitespace(t *testing.T) {
	ctx := Context{"Body": "hi"}
	got := Expand("{{ Body }}", ctx)
	if got != "hi" {
		t.Errorf("Expand() = %q, want hi", got)
	}
}

func TestProvidersListDetailedForm(t *testing.T) {
	got := ProvidersList([]provider.Kind{provider.KindWAWeb, provider.KindWATwilio, provider.KindTelegram})
	want := "WhatsApp Web, WhatsApp (Twilio), Telegram"
	if got != want {
		t.Errorf("ProvidersList() = %q, want %q", got, want)
	}
}

func TestBuildIdentityMentionsCoreConventions(t *testing.T) {
	out := BuildIdentity(IdentityOptions{
		Kind:         provider.KindTelegram,
		MaxMediaSize: 2 * 1024 * 1024 * 1024,
		ScratchpadDir: "/tmp/clawdis-scratch",
	})

	for _, want := range []string{"Telegram", "MEDIA:", "HEARTBEAT_OK", "/tmp/clawdis-scratch"} {
		if !strings.Contains(out, want) {
			t.Errorf("identity prompt missing %q:\n%s", want, out)
		}
	}
}
