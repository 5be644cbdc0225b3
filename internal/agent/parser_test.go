package agent

import "testing"

func TestFeedLineClassification(t *testing.T) {
	cases := []struct {
		name string
		line string
		kind FragmentKind
	}{
		{"plain text", "just a sentence", FragmentText},
		{"media token", "MEDIA:/tmp/out.png", FragmentMedia},
		{"media token backticked", "MEDIA:`/tmp/out.png`", FragmentMedia},
		{"tool event emoji", "📖 Reading config.go", FragmentToolEvent},
		{"blank line", "", FragmentText},
	}
	p := newStreamParser()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frags := p.feedLine(tc.line)
			if len(frags) != 1 {
				t.Fatalf("expected 1 fragment, got %d", len(frags))
			}
			if frags[0].Kind != tc.kind {
				t.Errorf("Kind = %v, want %v", frags[0].Kind, tc.kind)
			}
		})
	}
}

func TestFeedLineMediaTokenTrimsPath(t *testing.T) {
	p := newStreamParser()
	frags := p.feedLine("MEDIA: /tmp/with-space.jpg ")
	if frags[0].Kind != FragmentMedia {
		t.Fatalf("Kind = %v, want FragmentMedia", frags[0].Kind)
	}
	if frags[0].MediaPath != "/tmp/with-space.jpg" {
		t.Errorf("MediaPath = %q", frags[0].MediaPath)
	}
}
