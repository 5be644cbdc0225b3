package waweb

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow/types/events"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// Login performs QR-code pairing (spec §4.1 "QR scan for wa-web"),
// re-emitting the code periodically until scanned or the channel
// times out. The QR "success" event only means the scan was accepted
// — a full sync still has to land before the device is usable, so
// Login waits for *events.Connected before returning.
func (p *Provider) Login(ctx context.Context) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return provider.NewError(provider.ErrKindInternal, "Login called before Initialize", nil)
	}
	if client.Store.ID != nil {
		return nil // already paired
	}

	connectedCh := make(chan struct{}, 1)
	handlerID := client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			select {
			case connectedCh <- struct{}{}:
			default:
			}
		}
	})
	defer client.RemoveEventHandler(handlerID)

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return provider.NewError(provider.ErrKindAuth, "get QR channel", err)
	}
	if err := client.Connect(); err != nil {
		return provider.NewError(provider.ErrKindTransport, "connect for pairing", err)
	}

	fmt.Println("Scan the QR code below with your WhatsApp app:")
	fmt.Println("  WhatsApp > Settings > Linked Devices > Link a Device")
	fmt.Println()

	for item := range qrChan {
		switch item.Event {
		case "code":
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			fmt.Println()
			fmt.Println("Waiting for scan...")
		case "success":
			fmt.Println("\nScan accepted, completing initial sync...")
			select {
			case <-connectedCh:
			case <-time.After(30 * time.Second):
				client.Disconnect()
				return provider.NewError(provider.ErrKindAuth, "timed out waiting for initial sync", nil)
			}
			if p.jidmap != nil && client.Store.ID != nil {
				p.jidmap.Rebind(client.Store.ID.User)
			}
			L_info("wa-web: paired", "jid", client.Store.ID.String())
			p.setState(stateAuthenticated)
			return nil
		case "timeout":
			client.Disconnect()
			return provider.NewError(provider.ErrKindAuth, "QR code expired", nil)
		default:
			client.Disconnect()
			return provider.NewError(provider.ErrKindAuth, "pairing failed: "+item.Event, nil)
		}
	}

	return provider.NewError(provider.ErrKindAuth, "QR channel closed unexpectedly", nil)
}

// Logout revokes the paired device server-side and erases local state.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return provider.NewError(provider.ErrKindInternal, "Logout called before Initialize", nil)
	}
	if client.Store.ID == nil {
		return nil // nothing paired
	}
	if err := client.Logout(ctx); err != nil {
		L_warn("wa-web: server-side logout failed, clearing local state anyway", "error", err)
	}
	client.Disconnect()
	p.mu.Lock()
	p.loggedOut = true
	p.mu.Unlock()
	p.setState(stateDisconnected)
	return nil
}
