// Package watwilio implements the provider.Provider contract as a
// stateless REST client over Twilio's hosted WhatsApp Business API
// (spec §4.3), grounded on the pack's twiliowhatsapp REST wrapper.
package watwilio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/roelfdiedericks/clawdis/internal/config"
	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

func init() {
	provider.Register(provider.KindWATwilio, func() (provider.Provider, error) {
		return New(PollConfig{IntervalSecs: 10, LookbackMinutes: 5}), nil
	})
}

// PollConfig tunes StartListening's poll loop (spec §4.3, §4.5 tuning flags).
type PollConfig struct {
	IntervalSecs    int
	LookbackMinutes int
}

// Provider is the wa-twilio implementation of provider.Provider.
type Provider struct {
	poll PollConfig

	mu        sync.RWMutex
	client    *twilio.RestClient
	env       *config.TwilioEnv
	connected bool

	handler provider.MessageHandler
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastSeenSID string
}

// New constructs an uninitialised wa-twilio provider.
func New(poll PollConfig) *Provider {
	if poll.IntervalSecs <= 0 {
		poll.IntervalSecs = 10
	}
	if poll.LookbackMinutes <= 0 {
		poll.LookbackMinutes = 5
	}
	return &Provider{poll: poll}
}

func (p *Provider) Kind() provider.Kind { return provider.KindWATwilio }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.DefaultCapabilities(provider.KindWATwilio)
}

// Initialize validates TWILIO_* env vars and constructs the REST client.
// It performs no network I/O (spec §4.1: "never block on network I/O
// longer than a short handshake" — here, none at all).
func (p *Provider) Initialize(ctx context.Context) error {
	env, err := config.LoadTwilioEnv()
	if err != nil {
		return provider.NewError(provider.ErrKindConfig, "wa-twilio environment", err)
	}
	if env == nil {
		return provider.NewError(provider.ErrKindConfig, "wa-twilio: TWILIO_* environment variables not set", nil)
	}

	params := twilio.ClientParams{AccountSid: env.AccountSID}
	if env.AuthToken != "" {
		params.Username = env.AccountSID
		params.Password = env.AuthToken
	} else {
		params.Username = env.APIKey
		params.Password = env.APISecret
	}

	p.mu.Lock()
	p.env = env
	p.client = twilio.NewRestClientWithParams(params)
	p.mu.Unlock()
	return nil
}

// IsConnected is a local boolean — wa-twilio has no persistent socket.
func (p *Provider) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Provider) IsAuthenticated(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil && p.env != nil
}

// Login verifies the configured credentials against the account
// resource; there is no interactive flow for a server-to-server API key.
func (p *Provider) Login(ctx context.Context) error {
	p.mu.RLock()
	client, env := p.client, p.env
	p.mu.RUnlock()
	if client == nil || env == nil {
		return provider.NewError(provider.ErrKindInternal, "Login called before Initialize", nil)
	}
	if _, err := client.Api.FetchAccount(env.AccountSID, &twilioApi.FetchAccountParams{}); err != nil {
		return provider.NewError(provider.ErrKindAuth, "Twilio credential verification failed", err)
	}
	L_info("wa-twilio: credentials verified", "accountSid", env.AccountSID)
	return nil
}

// Logout drops the local client handle; there is no server-side
// session to revoke for API-key credentials.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	p.client = nil
	p.connected = false
	p.mu.Unlock()
	return nil
}

func (p *Provider) GetSessionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.env == nil {
		return ""
	}
	return p.env.AccountSID
}

func (p *Provider) OnMessage(handler provider.MessageHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// StartListening drives the poll loop at PollConfig.IntervalSecs.
func (p *Provider) StartListening(ctx context.Context) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return provider.NewError(provider.ErrKindInternal, "StartListening called before Initialize", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.connected = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollLoop(runCtx)
	}()
	return nil
}

func (p *Provider) pollLoop(ctx context.Context) {
	interval := time.Duration(p.poll.IntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				L_warn("wa-twilio: poll iteration failed", "error", err)
			}
		}
	}
}

// pollOnce fetches recent messages within the lookback window,
// processes them oldest-first, and advances the dedup watermark to the
// newest SID observed (spec §4.3).
func (p *Provider) pollOnce(ctx context.Context) error {
	p.mu.RLock()
	client, env := p.client, p.env
	lastSeen := p.lastSeenSID
	handler := p.handler
	p.mu.RUnlock()
	if handler == nil {
		return nil
	}

	since := time.Now().Add(-time.Duration(p.poll.LookbackMinutes) * time.Minute)
	params := &twilioApi.ListMessageParams{}
	params.SetTo(env.From)
	params.SetDateSentAfter(since)
	params.SetPageSize(50)

	msgs, err := client.Api.ListMessage(params)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	// Twilio returns newest-first; reverse for oldest-first processing.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	newestSeen := lastSeen
	for _, m := range msgs {
		if m.Sid == nil || m.From == nil {
			continue
		}
		if lastSeen != "" && *m.Sid <= lastSeen {
			continue
		}
		if strings.HasPrefix(*m.From, "whatsapp:") == false {
			continue // ignore non-WhatsApp channel messages on the same number
		}
		handler(toInbound(m))
		newestSeen = *m.Sid
	}

	if newestSeen != lastSeen {
		p.mu.Lock()
		p.lastSeenSID = newestSeen
		p.mu.Unlock()
	}
	return nil
}

// StopListening halts the poll loop and waits for it to settle. Idempotent.
func (p *Provider) StopListening(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.connected = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	return p.StopListening(ctx)
}
