package agent

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// mediaTokenRE matches MEDIA: tokens on their own line. Adapted from the
// token-extraction convention used for out-of-band attachment markers in
// agent/tool output; optional backticks are tolerated.
var mediaTokenRE = regexp.MustCompile("^MEDIA:\\s*`?([^`]+?)`?$")

// streamParser is the small state machine described in §9: it folds a
// line-oriented stdout stream into the Fragment sum type. It has no
// state across lines today (each line fully determines its fragment),
// but is kept as a type so a future multi-line tool-event format has
// somewhere to live.
type streamParser struct{}

func newStreamParser() *streamParser {
	return &streamParser{}
}

// feedLine classifies a single line of stdout into zero or more
// fragments. A line is almost always exactly one fragment; it returns a
// slice for symmetry with a future multi-line tool-event format.
func (p *streamParser) feedLine(line string) []Fragment {
	trimmed := strings.TrimSpace(line)

	if trimmed == "" {
		return []Fragment{{Kind: FragmentText, Text: ""}}
	}

	if m := mediaTokenRE.FindStringSubmatch(trimmed); m != nil {
		return []Fragment{{Kind: FragmentMedia, MediaPath: strings.TrimSpace(m[1])}}
	}

	if isToolEventLine(trimmed) {
		return []Fragment{{Kind: FragmentToolEvent, ToolEvent: trimmed}}
	}

	return []Fragment{{Kind: FragmentText, Text: line}}
}

// isToolEventLine recognises the agent's tool-streaming announcements: a
// line opening with a display emoji (e.g. "📖 Reading file.go", "✏️
// Editing config.go"). These are surfaced on the observer bus, never
// forwarded to the peer, unless the operator opts in.
func isToolEventLine(line string) bool {
	r, size := utf8.DecodeRuneInString(line)
	if r == utf8.RuneError || size == 0 {
		return false
	}
	if r < 0x2190 { // below the symbols/dingbats/emoji block range
		return false
	}
	rest := strings.TrimSpace(line[size:])
	return rest != ""
}
