package autoreply

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/clawdis/internal/config"
	"github.com/roelfdiedericks/clawdis/internal/provider"
	"github.com/roelfdiedericks/clawdis/internal/session"
)

// recordingProvider is a minimal provider.Provider that records every
// Send call instead of touching a real backend.
type recordingProvider struct {
	kind provider.Kind
	caps provider.Capabilities

	mu   sync.Mutex
	sent []string
}

func newRecordingProvider(kind provider.Kind) *recordingProvider {
	return &recordingProvider{kind: kind, caps: provider.DefaultCapabilities(kind)}
}

func (p *recordingProvider) Kind() provider.Kind                 { return p.kind }
func (p *recordingProvider) Capabilities() provider.Capabilities { return p.caps }
func (p *recordingProvider) Initialize(ctx context.Context) error { return nil }
func (p *recordingProvider) IsConnected() bool                    { return true }
func (p *recordingProvider) Disconnect(ctx context.Context) error { return nil }
func (p *recordingProvider) Send(ctx context.Context, to, body string, opts provider.SendOptions) (provider.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, body)
	return provider.SendResult{Status: provider.SendStatusSent}, nil
}
func (p *recordingProvider) SendTyping(ctx context.Context, to string) {}
func (p *recordingProvider) GetDeliveryStatus(ctx context.Context, messageID string) provider.DeliveryReport {
	return provider.DeliveryReport{Status: provider.DeliveryUnknown}
}
func (p *recordingProvider) OnMessage(handler provider.MessageHandler) {}
func (p *recordingProvider) StartListening(ctx context.Context) error { return nil }
func (p *recordingProvider) StopListening(ctx context.Context) error  { return nil }
func (p *recordingProvider) IsAuthenticated(ctx context.Context) bool { return true }
func (p *recordingProvider) Login(ctx context.Context) error          { return nil }
func (p *recordingProvider) Logout(ctx context.Context) error         { return nil }
func (p *recordingProvider) GetSessionID() string                     { return "rec-session" }

func (p *recordingProvider) sentMessages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	copy(out, p.sent)
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Inbound: config.InboundConfig{
			AllowFrom: []string{"+15550001111"},
			Reply: config.ReplyConfig{
				Mode:    config.ReplyModeCommand,
				Command: []string{"cat"},
				Session: config.SessionReplyConfig{
					Scope:       config.SessionScopePerSender,
					IdleMinutes: 1440,
				},
			},
		},
	}
}

func newTestEngine(cfg *config.Config) (*Engine, *session.Manager) {
	mgr := session.NewManager(nil)
	e := New(cfg, mgr, []provider.Kind{provider.KindWAWeb}, "", "/tmp/scratch")
	e.turnQuiet = 50 * time.Millisecond
	mgr.SetHeartbeatFunc(e.HandleHeartbeat)
	return e, mgr
}

func TestHandleRejectsSenderNotOnAllowList(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(cfg)
	p := newRecordingProvider(provider.KindWAWeb)

	e.Handle(context.Background(), p, provider.InboundMessage{
		From: "+15559999999",
		Body: "hello",
	})

	if got := p.sentMessages(); len(got) != 0 {
		t.Errorf("sentMessages = %v, want none (sender not allow-listed)", got)
	}
}

func TestHandleEchoesAgentReply(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(cfg)
	p := newRecordingProvider(provider.KindWAWeb)

	e.Handle(context.Background(), p, provider.InboundMessage{
		From: "+15550001111",
		Body: "hello there",
	})

	sent := p.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sentMessages = %v, want exactly one reply", sent)
	}
	// cat echoes everything written to its stdin: the identity prompt
	// sent to the freshly spawned agent, then the body; the blank-line
	// run between them collapses to one blank line.
	want := e.buildIntro(p, true) + "\nhello there"
	if sent[0] != want {
		t.Errorf("reply = %q, want the echoed prompt %q (cat spawned as the agent)", sent[0], want)
	}
}

func TestHandleSuppressesHeartbeatOK(t *testing.T) {
	cfg := testConfig()
	// "cat >/dev/null" after the echo keeps the subprocess alive so
	// Send() never races a process that already exited, without echoing
	// the prompt back into the reply.
	cfg.Inbound.Reply.Command = []string{"sh", "-c", "echo HEARTBEAT_OK; cat >/dev/null"}
	e, _ := newTestEngine(cfg)
	p := newRecordingProvider(provider.KindWAWeb)

	e.Handle(context.Background(), p, provider.InboundMessage{
		From: "+15550001111",
		Body: "poke",
	})

	if got := p.sentMessages(); len(got) != 0 {
		t.Errorf("sentMessages = %v, want none (HEARTBEAT_OK suppressed)", got)
	}
}

func TestHandleGroupMessageWithoutMentionIsDiscarded(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(cfg)
	p := newRecordingProvider(provider.KindWAWeb)

	e.Handle(context.Background(), p, provider.InboundMessage{
		From:      "+15550001111",
		ChatType:  provider.ChatGroup,
		GroupID:   "group-1",
		Mentioned: false,
		Body:      "hello group",
	})

	if got := p.sentMessages(); len(got) != 0 {
		t.Errorf("sentMessages = %v, want none (no mention, group not allow-listed)", got)
	}
}

func TestHandleGroupMessageWithMentionIsProcessed(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(cfg)
	p := newRecordingProvider(provider.KindWAWeb)

	e.Handle(context.Background(), p, provider.InboundMessage{
		From:      "+15550001111",
		ChatType:  provider.ChatGroup,
		GroupID:   "group-1",
		Mentioned: true,
		Body:      "hey you",
	})

	if got := p.sentMessages(); len(got) != 1 {
		t.Errorf("sentMessages = %v, want one reply (mentioned in group)", got)
	}
}

func TestHandleOneShotSessionIsDestroyedAfterReply(t *testing.T) {
	cfg := testConfig()
	cfg.Inbound.Reply.Session.IdleMinutes = 0
	e, mgr := newTestEngine(cfg)
	p := newRecordingProvider(provider.KindWAWeb)

	e.Handle(context.Background(), p, provider.InboundMessage{
		From: "+15550001111",
		Body: "one shot",
	})

	if n := mgr.Count(); n != 0 {
		t.Errorf("Manager.Count() = %d, want 0 (idleMinutes==0 destroys immediately)", n)
	}
}
