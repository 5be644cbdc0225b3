package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// registerHandlers wires the new-message callback into the dispatcher.
// Called once from Initialize.
func (p *Provider) registerHandlers(dispatcher tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(p.onNewMessage)
}

// StartListening connects and runs the update-processing loop until the
// context is cancelled. Errors after the initial handshake are logged
// and do not return synchronously, matching the other providers'
// background-task error-handling style.
func (p *Provider) StartListening(ctx context.Context) error {
	p.mu.RLock()
	client := p.client
	updMgr := p.updMgr
	p.mu.RUnlock()
	if client == nil {
		return provider.NewError(provider.ErrKindInternal, "telegram: StartListening called before Initialize", nil)
	}
	if !p.IsAuthenticated(ctx) {
		return provider.NewError(provider.ErrKindAuth, "telegram: not authenticated, run `clawdis login --provider telegram` first", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return provider.NewError(provider.ErrKindAuth, "telegram session is no longer authorized", nil)
			}

			if status.User != nil {
				p.mu.Lock()
				p.selfID = status.User.ID
				p.selfUsername = status.User.Username
				p.mu.Unlock()
			}

			p.mu.Lock()
			p.connected = true
			p.mu.Unlock()
			L_info("telegram: listening", "user", p.GetSessionID())

			return updMgr.Run(ctx, client.API(), status.User.ID, updates.AuthOptions{
				IsBot: false,
			})
		})
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		if err != nil && runCtx.Err() == nil {
			L_error("telegram: listen loop exited with error", "error", err)
		}
	}()
	return nil
}

// StopListening cancels the listen loop and waits for it to settle.
// Idempotent.
func (p *Provider) StopListening(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
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

// onNewMessage handles one inbound update: filters outgoing messages,
// resolves the sender identity, downloads any attached media, and
// forwards the normalised message to the registered handler (spec §4.4).
func (p *Provider) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}

	p.mu.RLock()
	handler := p.handler
	api := p.api
	store := p.store
	p.mu.RUnlock()
	if handler == nil {
		return nil
	}

	p.cacheEntities(e)

	in := provider.InboundMessage{
		Provider:  provider.KindTelegram,
		From:      p.resolveSenderIdentity(msg, e),
		To:        p.GetSessionID(),
		Body:      msg.Message,
		MessageID: strconv.Itoa(msg.ID),
		ChatType:  provider.ChatDirect,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	if msg.Media != nil {
		in.Attachments = append(in.Attachments, p.downloadMedia(ctx, api, store, msg.Media))
	}

	handler(in)
	return nil
}

// cacheEntities records every user entity's access hash so that a later
// Send to a bare decimal id can resolve without a round-trip (spec §4.4
// entity-resolution rule for decimal user ids).
func (p *Provider) cacheEntities(e tg.Entities) {
	if len(e.Users) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, u := range e.Users {
		p.peerCache[id] = &peerEntry{accessHash: u.AccessHash, username: u.Username, phone: u.Phone}
	}
}

// resolveSenderIdentity returns @username, +phone, decimal id, or
// "unknown", in that priority order (spec §4.4).
func (p *Provider) resolveSenderIdentity(msg *tg.Message, e tg.Entities) string {
	peerUser, ok := msg.PeerID.(*tg.PeerUser)
	if !ok {
		return "unknown"
	}
	if u, ok := e.Users[peerUser.UserID]; ok {
		switch {
		case u.Username != "":
			return "@" + u.Username
		case u.Phone != "":
			return provider.FromE164(u.Phone)
		}
	}
	return strconv.FormatInt(peerUser.UserID, 10)
}
