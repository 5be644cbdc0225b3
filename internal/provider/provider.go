package provider

import (
	"context"
	"fmt"
)

// Provider is the contract every messaging backend implements, per
// spec §4.1. Concrete types live in the waweb, watwilio, and telegram
// sub-packages; construct them through New or NewInitialized rather
// than directly.
type Provider interface {
	Kind() Kind
	Capabilities() Capabilities

	// Initialize validates the config shape and prepares the client and
	// any on-disk session. It must not block on network I/O longer than
	// a short handshake.
	Initialize(ctx context.Context) error

	// IsConnected is a side-effect-free status probe.
	IsConnected() bool

	// Disconnect is idempotent: stops listening, releases client
	// resources, and is safe to call after a failed Initialize.
	Disconnect(ctx context.Context) error

	// Send normalises `to` internally. A failed send is reported via
	// SendResult.Status == SendStatusFailed, never via the error return;
	// the error return is reserved for precondition violations (e.g.
	// media too large) detected before any network traffic.
	Send(ctx context.Context, to, body string, opts SendOptions) (SendResult, error)

	// SendTyping is best-effort and never fails the caller.
	SendTyping(ctx context.Context, to string)

	// GetDeliveryStatus maps backend status into the normalised set;
	// unsupported providers return DeliveryUnknown with the current time.
	GetDeliveryStatus(ctx context.Context, messageID string) DeliveryReport

	// OnMessage registers exactly one handler, replacing any previous one.
	OnMessage(handler MessageHandler)

	// StartListening begins the background subscription. Must be safe
	// to call only after OnMessage and Initialize.
	StartListening(ctx context.Context) error

	// StopListening is idempotent and completes all in-flight handler
	// invocations, including final cleanup closures, before returning.
	StopListening(ctx context.Context) error

	IsAuthenticated(ctx context.Context) bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	GetSessionID() string
}

// Factory constructs an uninitialised Provider of the given kind.
type Factory func() (Provider, error)

var registry = map[Kind]Factory{}

// Register adds a factory for a kind. Called from each provider
// sub-package's init().
func Register(kind Kind, factory Factory) {
	registry[kind] = factory
}

// New creates an uninitialised instance by kind. Unknown kinds fail loudly.
func New(kind Kind) (Provider, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, NewError(ErrKindConfig, fmt.Sprintf("unknown provider kind %q", kind), nil)
	}
	return factory()
}

// NewInitialized creates and initialises a provider in one step.
func NewInitialized(ctx context.Context, kind Kind) (Provider, error) {
	p, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	return p, nil
}
