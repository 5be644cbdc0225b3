package relay

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/roelfdiedericks/clawdis/internal/config"
	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/provider"
	"github.com/roelfdiedericks/clawdis/internal/provider/telegram"
	"github.com/roelfdiedericks/clawdis/internal/provider/watwilio"
	"github.com/roelfdiedericks/clawdis/internal/provider/waweb"
)

// ShutdownSettle is the deadline of the context Run hands, after
// cancellation, to every provider's StopListening and Disconnect. Run
// waits for those calls to return; it does not poll IsConnected or cut
// a provider off at the deadline.
const ShutdownSettle = 10 * time.Second

// Options bundles the provider tuning flags that must be threaded into
// every selected provider's construction, regardless of whether one or
// several providers were requested (spec §9 Open Question 1: pick one
// shape and apply it uniformly).
type Options struct {
	Reconnect        config.ReconnectConfig
	PollIntervalSecs int
	LookbackMinutes  int
	WebHeartbeatSecs int
}

// DefaultOptions returns the production tuning defaults.
func DefaultOptions() Options {
	return Options{
		Reconnect:        config.DefaultReconnectConfig(),
		PollIntervalSecs: 10,
		LookbackMinutes:  5,
	}
}

// Handler is invoked once per inbound message, tagged with the provider
// instance it arrived from so a reply can be routed back through it.
type Handler func(ctx context.Context, p provider.Provider, msg provider.InboundMessage)

// Supervisor owns the concurrent lifecycle of every selected provider
// (spec §4.5): construct, initialise, install the handler, start
// listening, and on shutdown stop and disconnect every one under a
// single shared cancellation handle.
type Supervisor struct {
	opts    Options
	handler Handler

	mu        sync.RWMutex
	providers map[provider.Kind]provider.Provider
}

// New constructs a supervisor. handler is installed on every provider
// before StartListening is called.
func New(opts Options, handler Handler) *Supervisor {
	return &Supervisor{
		opts:      opts,
		handler:   handler,
		providers: make(map[provider.Kind]provider.Provider),
	}
}

// construct builds the uninitialised instance for kind, threading the
// tuning options directly into the per-kind constructor: the Provider
// interface's StartListening takes no options, so tuning must already
// be baked in by the time it's called.
func (s *Supervisor) construct(kind provider.Kind) (provider.Provider, error) {
	switch kind {
	case provider.KindWAWeb:
		return waweb.New(s.opts.Reconnect, s.opts.WebHeartbeatSecs), nil
	case provider.KindWATwilio:
		return watwilio.New(watwilio.PollConfig{
			IntervalSecs:    s.opts.PollIntervalSecs,
			LookbackMinutes: s.opts.LookbackMinutes,
		}), nil
	case provider.KindTelegram:
		return telegram.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}

// Run creates-and-initialises every kind in kinds, installs the
// handler, and starts listening on each concurrently. It blocks until
// ctx is cancelled or a SIGINT/SIGTERM is received, then stops and
// disconnects every provider and waits for settlement before returning.
// An error from one provider's Initialize or StartListening is logged
// and does not prevent the others from running (spec §4.5).
func (s *Supervisor) Run(ctx context.Context, kinds []provider.Kind) error {
	if len(kinds) == 0 {
		return fmt.Errorf("relay: no provider selected")
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	started := 0
	for _, kind := range kinds {
		p, err := s.construct(kind)
		if err != nil {
			L_error("relay: unknown provider kind, skipping", "provider", kind, "error", err)
			continue
		}
		if err := p.Initialize(sigCtx); err != nil {
			L_error("relay: initialize failed, skipping", "provider", kind, "error", err)
			continue
		}
		if !p.IsAuthenticated(sigCtx) {
			L_error("relay: provider is not authenticated, skipping", "provider", kind)
			continue
		}
		p.OnMessage(func(msg provider.InboundMessage) {
			s.handler(sigCtx, p, msg)
		})

		s.mu.Lock()
		s.providers[kind] = p
		s.mu.Unlock()

		started++
		wg.Add(1)
		go func(kind provider.Kind, p provider.Provider) {
			defer wg.Done()
			L_info("relay: starting provider", "provider", kind)
			if err := p.StartListening(sigCtx); err != nil {
				L_error("relay: provider failed", "provider", kind, "error", err)
			}
		}(kind, p)
	}

	if started == 0 {
		return fmt.Errorf("relay: no provider could be started")
	}

	<-sigCtx.Done()
	L_info("relay: shutdown requested, stopping all providers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownSettle)
	defer cancel()
	s.stopAll(shutdownCtx)

	wg.Wait()
	L_info("relay: all providers stopped")
	return nil
}

// stopAll invokes StopListening then Disconnect on every running
// provider concurrently; a failure on one does not block the others.
func (s *Supervisor) stopAll(ctx context.Context) {
	s.mu.RLock()
	providers := make(map[provider.Kind]provider.Provider, len(s.providers))
	for k, p := range s.providers {
		providers[k] = p
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for kind, p := range providers {
		wg.Add(1)
		go func(kind provider.Kind, p provider.Provider) {
			defer wg.Done()
			if err := p.StopListening(ctx); err != nil {
				L_error("relay: stop failed", "provider", kind, "error", err)
			}
			if err := p.Disconnect(ctx); err != nil {
				L_error("relay: disconnect failed", "provider", kind, "error", err)
			}
		}(kind, p)
	}
	wg.Wait()
}

// Get returns the running provider instance for kind, if the supervisor
// started one. Used to route a session's heartbeat poll back through
// the provider it belongs to, since a Session only remembers a Kind.
func (s *Supervisor) Get(kind provider.Kind) (provider.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[kind]
	return p, ok
}

// Status reports IsConnected for every provider the supervisor started.
func (s *Supervisor) Status() map[provider.Kind]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := make(map[provider.Kind]bool, len(s.providers))
	for k, p := range s.providers {
		status[k] = p.IsConnected()
	}
	return status
}
