// Package waweb implements the provider.Provider contract over
// whatsmeow's persistent, authenticated client-protocol socket (spec
// §4.2), grounded on the teacher's WhatsApp channel adapter.
package waweb

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roelfdiedericks/clawdis/internal/config"
	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/paths"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

func init() {
	provider.Register(provider.KindWAWeb, func() (provider.Provider, error) {
		return New(config.DefaultReconnectConfig(), 0), nil
	})
}

// state is the provider's own view of the socket lifecycle (spec §4.2).
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	statePairing
	stateAuthenticated
	stateLive
	stateReconnecting
)

// relayLogger bridges whatsmeow's waLog.Logger to the shared L_* hooks.
type relayLogger struct{ module string }

func (l *relayLogger) Debugf(msg string, args ...interface{}) {
	L_debug(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}
func (l *relayLogger) Infof(msg string, args ...interface{}) {
	L_info(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}
func (l *relayLogger) Warnf(msg string, args ...interface{}) {
	L_warn(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}
func (l *relayLogger) Errorf(msg string, args ...interface{}) {
	L_error(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}
func (l *relayLogger) Sub(module string) waLog.Logger {
	return &relayLogger{module: l.module + "/" + module}
}

// Provider is the wa-web implementation of provider.Provider.
type Provider struct {
	reconnect     config.ReconnectConfig
	heartbeatSecs int // periodic presence ping; 0 disables (--web-heartbeat)

	mu        sync.RWMutex
	client    *whatsmeow.Client
	store     *sqlstore.Container
	state     state
	loggedOut bool

	handler provider.MessageHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	jidmap *jidMap
}

// New constructs an uninitialised wa-web provider. heartbeatSecs, if
// nonzero, starts a periodic "available" presence ping once connected —
// distinct from the reconnect policy, it keeps the web session showing
// as online during long idle stretches rather than recovering a drop.
func New(reconnect config.ReconnectConfig, heartbeatSecs int) *Provider {
	return &Provider{reconnect: reconnect, heartbeatSecs: heartbeatSecs}
}

func (p *Provider) Kind() provider.Kind { return provider.KindWAWeb }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.DefaultCapabilities(provider.KindWAWeb)
}

// Initialize opens the on-disk device store and constructs the
// whatsmeow client. It does not connect — StartListening does — so it
// never blocks on network I/O (spec §4.1).
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dbPath, err := paths.DataPath("whatsapp.db")
	if err != nil {
		return provider.NewError(provider.ErrKindInternal, "resolve wa-web db path", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return provider.NewError(provider.ErrKindInternal, "open wa-web db", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", &relayLogger{module: "store"})
	if err := container.Upgrade(ctx); err != nil {
		return provider.NewError(provider.ErrKindInternal, "upgrade wa-web store", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return provider.NewError(provider.ErrKindInternal, "load wa-web device", err)
	}
	if device == nil {
		// No device paired yet — hand back a fresh one so Login() has
		// something to pair into rather than failing Initialize.
		device = container.NewDevice()
	}

	p.store = container
	p.client = whatsmeow.NewClient(device, &relayLogger{module: "client"})
	p.client.AddEventHandler(p.handleEvent)

	jm, err := newJIDMap()
	if err != nil {
		return provider.NewError(provider.ErrKindInternal, "load JID reverse map", err)
	}
	p.jidmap = jm

	p.state = stateDisconnected
	return nil
}

func (p *Provider) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil && p.client.IsConnected() && p.state == stateLive
}

// IsAuthenticated reports whether a device has been paired.
func (p *Provider) IsAuthenticated(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil && p.client.Store.ID != nil
}

func (p *Provider) GetSessionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil || p.client.Store.ID == nil {
		return ""
	}
	return p.client.Store.ID.String()
}

func (p *Provider) OnMessage(handler provider.MessageHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// StartListening connects the socket and, on any transport-level drop
// that isn't a "logged out" event, retries with exponential backoff
// plus jitter until MaxAttempts is exhausted (spec §4.2 reconnect
// policy, scenario 5).
func (p *Provider) StartListening(ctx context.Context) error {
	p.mu.Lock()
	if p.client == nil {
		p.mu.Unlock()
		return provider.NewError(provider.ErrKindInternal, "StartListening called before Initialize", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	if err := p.connectWithBackoff(runCtx); err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		<-runCtx.Done()
	}()

	if p.heartbeatSecs > 0 {
		p.wg.Add(1)
		go p.presenceHeartbeat(runCtx)
	}
	return nil
}

// presenceHeartbeat periodically re-announces "available" presence so the
// web session keeps showing online through long idle stretches, independent
// of the reconnect policy (--web-heartbeat).
func (p *Provider) presenceHeartbeat(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Duration(p.heartbeatSecs) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			client := p.client
			live := p.state == stateLive
			p.mu.RUnlock()
			if client == nil || !live {
				continue
			}
			if err := client.SendPresence(ctx, types.PresenceAvailable); err != nil {
				L_warn("wa-web: presence heartbeat failed", "error", err)
			}
		}
	}
}

// connectWithBackoff performs the initial connect and arms the
// reconnect state machine for subsequent drops observed via handleEvent.
func (p *Provider) connectWithBackoff(ctx context.Context) error {
	p.setState(stateConnecting)
	if err := p.client.Connect(); err != nil {
		p.setState(stateDisconnected)
		return provider.NewError(provider.ErrKindTransport, "wa-web connect failed", err)
	}
	return nil
}

// handleEvent is the whatsmeow event callback.
func (p *Provider) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		p.setState(stateLive)
		sessionID := p.GetSessionID()
		if p.jidmap != nil {
			p.mu.RLock()
			deviceUser := ""
			if p.client != nil && p.client.Store.ID != nil {
				deviceUser = p.client.Store.ID.User
			}
			p.mu.RUnlock()
			p.jidmap.Rebind(deviceUser)
		}
		L_info("wa-web: connected", "jid", sessionID)
	case *events.Disconnected:
		p.mu.RLock()
		loggedOut := p.loggedOut
		p.mu.RUnlock()
		if loggedOut {
			return
		}
		L_warn("wa-web: disconnected, attempting reconnect")
		p.setState(stateReconnecting)
		go p.reconnectLoop()
	case *events.LoggedOut:
		L_error("wa-web: logged out — re-pair required", "reason", v.Reason)
		p.mu.Lock()
		p.loggedOut = true
		p.mu.Unlock()
		p.setState(stateDisconnected)
	case *events.Message:
		p.handleMessage(v)
	}
}

// reconnectLoop retries Connect with exponential backoff and jitter,
// bounded by p.reconnect.MaxAttempts. Exhaustion logs an error and
// leaves the provider disconnected; nothing is reported to the
// supervisor, which does not poll IsConnected, so the relay keeps
// running with this provider down.
func (p *Provider) reconnectLoop() {
	delays := backoffSequence(p.reconnect)

	for i, delay := range delays {
		attempt := i + 1
		p.mu.RLock()
		loggedOut := p.loggedOut
		p.mu.RUnlock()
		if loggedOut {
			return
		}

		jittered := applyJitter(delay, p.reconnect.Jitter)
		L_info("wa-web: reconnecting", "attempt", attempt, "delay", jittered)
		time.Sleep(jittered)

		if err := p.client.Connect(); err == nil {
			return // handleEvent will flip state to Live on *events.Connected
		} else {
			L_warn("wa-web: reconnect attempt failed", "attempt", attempt, "error", err)
		}
	}

	L_error("wa-web: reconnect attempts exhausted", "maxAttempts", p.reconnect.MaxAttempts)
	p.setState(stateDisconnected)
}

// backoffSequence computes the un-jittered delay before each reconnect
// attempt: InitialMs, doubled (times Factor) each attempt, capped at
// MaxMs, for MaxAttempts attempts total (spec §4.2 scenario 5: {100,
// 200, 400, 800} ms for {initialMs:100, maxMs:800, factor:2,
// maxAttempts:4}).
func backoffSequence(cfg config.ReconnectConfig) []time.Duration {
	delay := time.Duration(cfg.InitialMs) * time.Millisecond
	maxDelay := time.Duration(cfg.MaxMs) * time.Millisecond

	seq := make([]time.Duration, 0, cfg.MaxAttempts)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		seq = append(seq, delay)
		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return seq
}

func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	offset := (rand.Float64()*2 - 1) * delta
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}

func (p *Provider) setState(s state) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// StopListening disconnects the socket and waits for background tasks
// to settle. Idempotent.
func (p *Provider) StopListening(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	client := p.client
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Disconnect()
	}
	p.wg.Wait()
	p.setState(stateDisconnected)
	return nil
}

// Disconnect releases client resources; safe after a failed Initialize.
func (p *Provider) Disconnect(ctx context.Context) error {
	return p.StopListening(ctx)
}

func (p *Provider) GetDeliveryStatus(ctx context.Context, messageID string) provider.DeliveryReport {
	return provider.DeliveryReport{Status: provider.DeliveryUnknown, CheckedAt: time.Now()}
}
