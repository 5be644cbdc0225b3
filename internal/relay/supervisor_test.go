package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// fakeProvider is a minimal in-memory provider.Provider used to drive
// the supervisor's lifecycle without any real network backend.
type fakeProvider struct {
	kind provider.Kind

	mu        sync.Mutex
	connected bool
	handler   provider.MessageHandler
}

func newFakeProvider(kind provider.Kind) *fakeProvider { return &fakeProvider{kind: kind} }

func (f *fakeProvider) Kind() provider.Kind                { return f.kind }
func (f *fakeProvider) Capabilities() provider.Capabilities { return provider.DefaultCapabilities(f.kind) }
func (f *fakeProvider) Initialize(ctx context.Context) error { return nil }
func (f *fakeProvider) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeProvider) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}
func (f *fakeProvider) Send(ctx context.Context, to, body string, opts provider.SendOptions) (provider.SendResult, error) {
	return provider.SendResult{Status: provider.SendStatusSent}, nil
}
func (f *fakeProvider) SendTyping(ctx context.Context, to string) {}
func (f *fakeProvider) GetDeliveryStatus(ctx context.Context, messageID string) provider.DeliveryReport {
	return provider.DeliveryReport{Status: provider.DeliveryUnknown}
}
func (f *fakeProvider) OnMessage(handler provider.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}
func (f *fakeProvider) StartListening(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	<-ctx.Done()
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}
func (f *fakeProvider) StopListening(ctx context.Context) error { return nil }
func (f *fakeProvider) IsAuthenticated(ctx context.Context) bool { return true }
func (f *fakeProvider) Login(ctx context.Context) error          { return nil }
func (f *fakeProvider) Logout(ctx context.Context) error         { return nil }
func (f *fakeProvider) GetSessionID() string                     { return "fake-session" }

func TestSupervisorConstructUnknownKindErrors(t *testing.T) {
	s := New(DefaultOptions(), func(ctx context.Context, p provider.Provider, msg provider.InboundMessage) {})
	if _, err := s.construct(provider.Kind("bogus")); err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
}

// TestStopAllSettlesProvidersOnCancel exercises spec §8 scenario 6
// through stopAll, the shutdown step Run uses (Run itself is not called:
// it only constructs the real backends): after cancellation, every
// provider's StartListening returns within a bounded period and
// IsConnected is false once stopAll returns.
func TestStopAllSettlesProvidersOnCancel(t *testing.T) {
	var received int32
	s := New(DefaultOptions(), func(ctx context.Context, p provider.Provider, msg provider.InboundMessage) {
		atomic.AddInt32(&received, 1)
	})

	// Swap in fakes by registering them directly instead of going
	// through construct(), which only knows the three real backends.
	a := newFakeProvider(provider.Kind("fake-a"))
	b := newFakeProvider(provider.Kind("fake-b"))
	s.mu.Lock()
	s.providers[a.kind] = a
	s.providers[b.kind] = b
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, p := range []provider.Provider{a, b} {
			wg.Add(1)
			go func(p provider.Provider) {
				defer wg.Done()
				p.StartListening(ctx)
			}(p)
		}
		wg.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if !a.IsConnected() || !b.IsConnected() {
		t.Fatal("expected both fakes connected before cancellation")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("providers did not settle after cancellation")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), ShutdownSettle)
	defer stop()
	s.stopAll(shutdownCtx)

	if a.IsConnected() || b.IsConnected() {
		t.Fatal("expected IsConnected false on both providers after shutdown")
	}
}
