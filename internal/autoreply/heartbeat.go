package autoreply

import (
	"context"
	"strings"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/provider"
	"github.com/roelfdiedericks/clawdis/internal/session"
)

// heartbeatPrompt is the fixed poll prompt sent to a session's agent
// when its heartbeat timer fires (§4.7). It relies on the HEARTBEAT_OK
// convention every identity prompt already documents.
const heartbeatPrompt = "This is a scheduled heartbeat poll, not a message from the user. " +
	"If nothing needs proactive attention, reply with exactly HEARTBEAT_OK and nothing else. " +
	"Otherwise, send whatever proactive message you would like delivered."

// SetProviderLookup wires the Engine to the relay supervisor's live
// provider instances. A session only remembers a provider Kind, not
// the running Provider, so a heartbeat firing needs this to find where
// to send its poll. Must be called once before sessions can heartbeat.
func (e *Engine) SetProviderLookup(lookup func(kind provider.Kind) (provider.Provider, bool)) {
	e.lookup = lookup
}

// HandleHeartbeat implements session.HeartbeatFunc (§4.7): it sends the
// heartbeat prompt to the session's agent and processes the reply
// exactly like a normal inbound message, except the prompt itself never
// runs the whitelist or group-policy checks (the session already passed
// them to exist).
func (e *Engine) HandleHeartbeat(sess *session.Session) {
	if e.lookup == nil {
		return
	}
	p, ok := e.lookup(sess.Provider)
	if !ok {
		L_warn("autoreply: heartbeat fired but provider is not running", "session", sess.Key, "provider", sess.Provider)
		return
	}

	ctx := context.Background()
	sess.Lock()
	reply, err := e.dispatch(ctx, sess, p, provider.InboundMessage{Provider: sess.Provider, From: sess.To}, heartbeatPrompt)
	sess.Unlock()

	if err != nil {
		L_error("autoreply: heartbeat dispatch failed", "session", sess.Key, "error", err)
		e.sessions.Destroy(sess.Key)
		return
	}

	if strings.TrimSpace(reply.Body) != "" && !reply.IsHeartbeatOK() {
		L_debug("autoreply: heartbeat produced a proactive message", "session", sess.Key)
	}

	e.finishTurn(ctx, p, sess.Key, sess.To, sess.IdleMinutes(), reply)
}
