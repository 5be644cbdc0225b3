// Package template expands {{Name}} placeholders inside config strings
// and builds the provider-aware identity prompt (spec §4.8).
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// placeholderRE matches {{Name}} with surrounding whitespace tolerated.
var placeholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Context is the set of recognised placeholder keys for a single message.
type Context map[string]string

// RecognisedKeys lists every placeholder the engine understands, mirrored
// here so callers can pre-populate a Context without typos.
var RecognisedKeys = []string{
	"Body", "BodyStripped", "From", "To", "MessageSid",
	"MediaPath", "MediaUrl", "MediaType", "Transcript",
	"ChatType", "GroupSubject", "GroupMembers",
	"SenderName", "SenderE164", "SessionId", "IsNewSession", "PROVIDERS",
}

// Expand replaces every {{Name}} in s using ctx. Unknown placeholders
// and missing-from-context placeholders both expand to "" — the spec
// pins this ambiguity explicitly (§9 open question 2). Literal text
// with no placeholders is returned unchanged.
func Expand(s string, ctx Context) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRE.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderRE.FindStringSubmatch(match)[1]
		return ctx[key] // zero value "" for missing keys, by design
	})
}

// ProvidersList renders {{PROVIDERS}}: a comma-separated list of active
// providers in their detailed display form.
func ProvidersList(kinds []provider.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.DisplayName()
	}
	return strings.Join(names, ", ")
}

// IdentityOptions parameterises BuildIdentity.
type IdentityOptions struct {
	Kind           provider.Kind
	MaxMediaSize   int64
	ScratchpadDir  string
	ActiveProviders []provider.Kind
}

// BuildIdentity constructs the default identity prompt naming the
// messenger, the provider's real media limit, the scratchpad directory,
// the MEDIA: convention, and the HEARTBEAT_OK convention. Used unless
// the operator supplies an override via inbound.reply.sessionIntro.
func BuildIdentity(opts IdentityOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are replying to messages over %s.\n", opts.Kind.MessengerName())
	fmt.Fprintf(&b, "The maximum attachment size on this channel is %s.\n", humanize.Bytes(uint64(opts.MaxMediaSize)))

	if opts.ScratchpadDir != "" {
		fmt.Fprintf(&b, "Use %s as your scratch directory for any files you create.\n", opts.ScratchpadDir)
	}

	b.WriteString("To send an attachment, put a line of exactly `MEDIA:/absolute/path` in your reply; ")
	b.WriteString("surrounding text becomes the message body.\n")
	b.WriteString("If this is a heartbeat poll and nothing needs attention, reply with exactly HEARTBEAT_OK ")
	b.WriteString("and no other text.\n")

	if len(opts.ActiveProviders) > 1 {
		fmt.Fprintf(&b, "Active providers on this relay: %s.\n", ProvidersList(opts.ActiveProviders))
	}

	return b.String()
}
