package agent

import (
	"strings"
	"time"

	"github.com/roelfdiedericks/clawdis/internal/bus"
	. "github.com/roelfdiedericks/clawdis/internal/logging"
)

// ToolEventTopic is the bus topic tool-streaming announcements are
// published to. Subscribers decide whether to surface them further.
const ToolEventTopic = "agent.tool_event"

// Reply is the folded result of a fragment stream: a body to send plus
// any media attachments, in the order the agent emitted them.
type Reply struct {
	Body       string
	MediaPaths []string
	Err        error // set if the process ended abnormally mid-reply
	Ended      bool  // true if the subprocess itself exited (not just went quiet)
}

// IsHeartbeatOK reports whether this reply is the heartbeat
// no-op sentinel (§4.6: suppressed rather than sent).
func (r Reply) IsHeartbeatOK() bool {
	return strings.TrimSpace(r.Body) == "HEARTBEAT_OK"
}

// CollectReply drains fragments until FragmentEnd, folding text lines
// into a body and MEDIA: tokens into attachment paths. Tool-event
// fragments are published to the bus and excluded from the body.
func CollectReply(fragments <-chan Fragment) Reply {
	var lines []string
	var media []string
	var reply Reply

	for frag := range fragments {
		switch frag.Kind {
		case FragmentText:
			lines = append(lines, frag.Text)
		case FragmentMedia:
			if isValidMediaToken(frag.MediaPath) {
				media = append(media, frag.MediaPath)
			} else {
				L_warn("agent: rejected invalid MEDIA: token", "token", frag.MediaPath)
			}
		case FragmentToolEvent:
			bus.PublishEvent(ToolEventTopic, frag.ToolEvent)
		case FragmentEnd:
			reply.Err = frag.Err
		}
	}

	reply.Body = strings.TrimSpace(collapseBlankRuns(lines))
	reply.MediaPaths = media
	return reply
}

// CollectTurn folds one reply out of a long-lived agent's fragment
// stream without waiting for the process to exit: a session's
// subprocess serves many turns over its lifetime (§4.6 "agent spawn or
// reuse"), so the boundary between one reply and the next is inferred
// from a quiet period on stdout rather than channel closure. The first
// fragment blocks indefinitely (there is always at least one reply to
// a prompt); after that, quiet seconds of silence ends the turn. A
// FragmentEnd (process exit) ends the turn immediately and sets Ended.
func CollectTurn(fragments <-chan Fragment, quiet time.Duration) Reply {
	var lines []string
	var media []string
	var reply Reply
	sawAny := false

	timer := time.NewTimer(quiet)
	defer timer.Stop()

	for {
		select {
		case frag, ok := <-fragments:
			if !ok {
				reply.Ended = true
				goto done
			}
			sawAny = true
			switch frag.Kind {
			case FragmentText:
				lines = append(lines, frag.Text)
			case FragmentMedia:
				if isValidMediaToken(frag.MediaPath) {
					media = append(media, frag.MediaPath)
				} else {
					L_warn("agent: rejected invalid MEDIA: token", "token", frag.MediaPath)
				}
			case FragmentToolEvent:
				bus.PublishEvent(ToolEventTopic, frag.ToolEvent)
			case FragmentEnd:
				reply.Err = frag.Err
				reply.Ended = true
				goto done
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
		case <-timer.C:
			if sawAny {
				goto done
			}
			timer.Reset(quiet)
		}
	}

done:
	reply.Body = strings.TrimSpace(collapseBlankRuns(lines))
	reply.MediaPaths = media
	return reply
}

// collapseBlankRuns joins lines with newlines, collapsing any run of two
// or more consecutive blank lines (left behind once MEDIA: lines are
// stripped) down to one.
func collapseBlankRuns(lines []string) string {
	joined := strings.Join(lines, "\n")
	for strings.Contains(joined, "\n\n\n") {
		joined = strings.ReplaceAll(joined, "\n\n\n", "\n\n")
	}
	return joined
}

// isValidMediaToken accepts absolute scratchpad paths and https URLs —
// the agent is the operator's own trusted subprocess, so the traversal
// hardening a public-facing forwarder would need does not apply; an
// empty or relative token is still almost certainly a formatting
// mistake worth dropping rather than sending.
func isValidMediaToken(path string) bool {
	if path == "" || len(path) > 4096 {
		return false
	}
	if strings.HasPrefix(path, "https://") {
		return true
	}
	return strings.HasPrefix(path, "/")
}
