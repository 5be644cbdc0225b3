// Package autoreply implements the auto-reply pipeline (spec §4.6):
// whitelist and group-policy checks, optional transcription, session
// resolve, agent spawn-or-reuse, streamed reply assembly, and send.
// It is wired as the relay.Handler every provider's inbound messages
// flow through.
package autoreply

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/roelfdiedericks/clawdis/internal/agent"
	"github.com/roelfdiedericks/clawdis/internal/config"
	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/mediastore"
	"github.com/roelfdiedericks/clawdis/internal/provider"
	"github.com/roelfdiedericks/clawdis/internal/session"
	"github.com/roelfdiedericks/clawdis/internal/stt"
	"github.com/roelfdiedericks/clawdis/internal/template"
)

// TurnQuiet bounds how long CollectTurn waits for further stdout before
// considering one reply turn complete.
const TurnQuiet = 2 * time.Second

// Engine drives the auto-reply pipeline. One Engine is shared by every
// provider the relay supervisor starts.
type Engine struct {
	cfg      *config.Config
	sessions *session.Manager
	active   []provider.Kind // feeds {{PROVIDERS}} and the identity prompt
	workDir  string          // agent subprocess working directory
	scratch  string          // scratchpad directory named in the identity prompt

	warnedMu sync.Mutex
	warned   map[provider.Kind]bool // one missing-allowlist warning per provider

	lookup func(kind provider.Kind) (provider.Provider, bool)

	turnQuiet time.Duration // overridable by tests; production uses TurnQuiet
}

// New constructs an Engine. active is the full set of provider kinds the
// supervisor started, used for {{PROVIDERS}} and the "active providers"
// line in the default identity prompt.
func New(cfg *config.Config, sessions *session.Manager, active []provider.Kind, workDir, scratchpadDir string) *Engine {
	return &Engine{
		cfg:       cfg,
		sessions:  sessions,
		active:    active,
		workDir:   workDir,
		scratch:   scratchpadDir,
		warned:    make(map[provider.Kind]bool),
		turnQuiet: TurnQuiet,
	}
}

// Handle implements relay.Handler: one inbound message in, zero or one
// outbound reply out via the provider it arrived from.
func (e *Engine) Handle(ctx context.Context, p provider.Provider, msg provider.InboundMessage) {
	override := e.overrideFor(p.Kind())

	if !e.checkWhitelist(p.Kind(), override, msg) {
		return
	}
	if msg.ChatType == provider.ChatGroup && !e.checkGroupPolicy(p.Kind(), override, msg) {
		return
	}

	body := e.preprocessMedia(msg)

	scope := string(e.cfg.Inbound.Reply.Session.Scope)
	key := session.Key(scope, p.Kind(), msg.From, msg.ChatType == provider.ChatGroup)
	idleMinutes := e.cfg.Inbound.Reply.Session.IdleMinutes
	heartbeatMinutes := e.cfg.Inbound.Reply.HeartbeatMinutes

	sess, isNew := e.sessions.Resolve(key, p.Kind(), msg.From, idleMinutes, heartbeatMinutes)

	sess.Lock()
	if isNew {
		sess.Intro = e.buildIntro(p, isNew)
	}
	reply, err := e.dispatch(ctx, sess, p, msg, body)
	sess.Unlock()

	if err != nil {
		L_error("autoreply: dispatch failed", "session", key, "error", err)
		p.Send(ctx, msg.From, "Sorry, something went wrong processing your message.", provider.SendOptions{})
		e.sessions.Destroy(key)
		return
	}

	e.finishTurn(ctx, p, key, msg.From, idleMinutes, reply)
}

// finishTurn implements spec §4.6 steps 7-8, shared by both a normal
// inbound and a heartbeat poll: send the assembled reply, then either
// destroy the session (agent crash, or idleMinutes==0 "one-shot"
// sessions) or stamp activity and re-arm the heartbeat.
func (e *Engine) finishTurn(ctx context.Context, p provider.Provider, key, to string, idleMinutes int, reply agent.Reply) {
	if reply.Ended {
		L_warn("autoreply: agent process ended", "session", key, "error", reply.Err)
		if strings.TrimSpace(reply.Body) == "" {
			reply.Body = "My assistant process ended unexpectedly; starting fresh next time you write."
		}
	}

	e.sendReply(ctx, p, to, reply)

	switch {
	case reply.Ended:
		e.sessions.Destroy(key)
	case idleMinutes == 0:
		e.sessions.Destroy(key)
	default:
		e.sessions.Reschedule(key)
	}
}

// dispatch spawns or reuses the session's agent, feeds it the prompt,
// and folds the reply out of its fragment stream. In "text" mode there
// is no subprocess at all: the configured static text is the reply.
func (e *Engine) dispatch(ctx context.Context, sess *session.Session, p provider.Provider, msg provider.InboundMessage, body string) (agent.Reply, error) {
	if e.cfg.Inbound.Reply.Mode == config.ReplyModeText {
		return agent.Reply{Body: e.cfg.Inbound.Reply.Text}, nil
	}

	a, _ := sess.GetAgent().(*agent.Agent)
	spawned := false
	if a == nil || !a.Alive() {
		if len(e.cfg.Inbound.Reply.Command) == 0 {
			return agent.Reply{}, fmt.Errorf("no agent command configured")
		}
		a = agent.New(agent.Config{Command: e.cfg.Inbound.Reply.Command, WorkDir: e.workDir})
		if err := a.Start(ctx); err != nil {
			return agent.Reply{}, fmt.Errorf("spawn agent: %w", err)
		}
		sess.SetAgent(a)
		spawned = true
	}

	if err := a.Send(e.buildPrompt(sess, msg, body, spawned)); err != nil {
		return agent.Reply{}, fmt.Errorf("send prompt: %w", err)
	}

	if p.Capabilities().SupportsTyping {
		p.SendTyping(ctx, msg.From)
	}

	return agent.CollectTurn(a.Fragments(), e.turnQuiet), nil
}

// buildPrompt assembles the text handed to the agent's stdin: the
// session's identity prompt (once, on the first prompt to a freshly
// spawned agent) followed by the message body (already carrying any
// transcript block).
func (e *Engine) buildPrompt(sess *session.Session, msg provider.InboundMessage, body string, spawned bool) string {
	if !spawned || sess.Intro == "" {
		return body
	}
	return sess.Intro + "\n\n" + body
}

// buildIntro computes a new session's identity prompt: the operator's
// override if configured (expanded against the inbound message), else
// the provider-aware default built from the active capability set.
func (e *Engine) buildIntro(p provider.Provider, isNew bool) string {
	if override := e.cfg.Inbound.Reply.SessionIntro; override != "" {
		return template.Expand(override, template.Context{
			"IsNewSession": fmt.Sprintf("%t", isNew),
			"PROVIDERS":    template.ProvidersList(e.active),
		})
	}
	return template.BuildIdentity(template.IdentityOptions{
		Kind:            p.Kind(),
		MaxMediaSize:    p.Capabilities().MaxMediaSize,
		ScratchpadDir:   e.scratch,
		ActiveProviders: e.active,
	})
}

// overrideFor returns the provider-specific config slice for kind, or
// the zero value for kinds without one (there are none today, but a
// future provider kind must not panic here).
func (e *Engine) overrideFor(kind provider.Kind) config.ProviderOverride {
	switch kind {
	case provider.KindWAWeb:
		return e.cfg.Providers.WAWeb
	case provider.KindWATwilio:
		return e.cfg.Providers.WATwilio
	case provider.KindTelegram:
		return e.cfg.Providers.Telegram
	default:
		return config.ProviderOverride{}
	}
}

// checkWhitelist implements spec §4.6 step 1: messages from senders
// outside the effective allow-list are discarded silently. An empty
// allow-list means "accept everyone", logged once per provider so an
// operator who forgot to configure one notices it in the logs.
func (e *Engine) checkWhitelist(kind provider.Kind, override config.ProviderOverride, msg provider.InboundMessage) bool {
	allow := e.cfg.EffectiveAllowFrom(override)
	if len(allow) == 0 {
		e.warnedMu.Lock()
		alreadyWarned := e.warned[kind]
		e.warned[kind] = true
		e.warnedMu.Unlock()
		if !alreadyWarned {
			L_warn("autoreply: no allow-list configured, accepting all senders", "provider", kind)
		}
		return true
	}
	for _, allowed := range allow {
		if allowed == msg.From {
			return true
		}
	}
	L_info("autoreply: sender rejected by allow-list", "provider", kind, "from", msg.From)
	return false
}

// checkGroupPolicy implements spec §4.6 step 2, wa-web groups only: a
// group message is processed if the operator's identity was mentioned,
// or mention-only is not in force and the group itself is allow-listed.
func (e *Engine) checkGroupPolicy(kind provider.Kind, override config.ProviderOverride, msg provider.InboundMessage) bool {
	if kind != provider.KindWAWeb {
		return true
	}
	if msg.Mentioned {
		return true
	}
	mentionOnly := override.GroupMentionOnly != nil && *override.GroupMentionOnly
	if mentionOnly {
		L_info("autoreply: group message discarded, mention required", "group", msg.GroupID)
		return false
	}
	for _, g := range override.GroupAllowFrom {
		if g == msg.GroupID {
			return true
		}
	}
	L_info("autoreply: group message discarded, not mentioned or allow-listed", "group", msg.GroupID)
	return false
}

// preprocessMedia implements spec §4.6 step 3: when exactly one
// audio/voice attachment is present and transcription is configured,
// its text is appended to the body as a Transcript block. Any other
// combination (no transcriber, no audio, more than one audio attachment)
// passes the body through unchanged; a transcription failure logs and
// falls back to the untranscribed body rather than dropping the
// message.
func (e *Engine) preprocessMedia(msg provider.InboundMessage) string {
	transcriber := stt.GetProvider()
	if transcriber == nil {
		return msg.Body
	}

	var audio []provider.InboundAttachment
	for _, a := range msg.Attachments {
		if (a.Category == "audio" || a.Category == "voice") && a.Path != "" {
			audio = append(audio, a)
		}
	}
	if len(audio) != 1 {
		return msg.Body
	}

	text, err := transcriber.Transcribe(audio[0].Path)
	if err != nil {
		L_warn("autoreply: transcription failed", "path", audio[0].Path, "error", err)
		return msg.Body
	}

	if strings.TrimSpace(msg.Body) == "" {
		return "Transcript:\n" + text
	}
	return msg.Body + "\n\nTranscript:\n" + text
}

// sendReply implements spec §4.6 step 7: the heartbeat no-op sentinel
// is suppressed, an empty reply with no media is not sent, a failed
// send is retried once, and MEDIA: paths are turned into attachments
// (local files are read into memory; https URLs pass through as-is).
func (e *Engine) sendReply(ctx context.Context, p provider.Provider, to string, reply agent.Reply) {
	if reply.IsHeartbeatOK() {
		return
	}
	if strings.TrimSpace(reply.Body) == "" && len(reply.MediaPaths) == 0 {
		return
	}

	opts := provider.SendOptions{}
	for _, path := range reply.MediaPaths {
		if att, ok := attachmentFromPath(path); ok {
			opts.Media = append(opts.Media, att)
		}
	}

	result, err := p.Send(ctx, to, reply.Body, opts)
	if err != nil {
		L_error("autoreply: send rejected", "to", to, "error", err)
		return
	}
	if result.Status != provider.SendStatusFailed {
		return
	}

	L_warn("autoreply: send failed, retrying once", "to", to, "error", result.Error)
	result, err = p.Send(ctx, to, reply.Body, opts)
	if err != nil || result.Status == provider.SendStatusFailed {
		L_error("autoreply: send failed after retry", "to", to, "error", result.Error)
	}
}

// attachmentFromPath turns a validated MEDIA: token into a send-ready
// attachment. A remote URL is passed through untouched; a local
// scratchpad path is read into memory so the provider never needs
// filesystem access of its own.
func attachmentFromPath(path string) (provider.MediaAttachment, bool) {
	if strings.HasPrefix(path, "https://") {
		return provider.MediaAttachment{URL: path}, true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		L_warn("autoreply: failed to read MEDIA: attachment, dropping", "path", path, "error", err)
		return provider.MediaAttachment{}, false
	}
	return provider.MediaAttachment{
		Data:     data,
		MimeType: mediastore.DetectMIME(data),
		Filename: filepath.Base(path),
	}, true
}
