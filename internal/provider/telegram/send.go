package telegram

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/roelfdiedericks/clawdis/internal/mediastore"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

var digitsOnlyRE = regexp.MustCompile(`^\d+$`)

// Send resolves `to` into an input peer, uploads media if present, and
// posts the message. A resolution or upload failure is reported via
// SendResult.Status, never via the error return (spec: providers don't
// throw on send failure).
func (p *Provider) Send(ctx context.Context, to, body string, opts provider.SendOptions) (provider.SendResult, error) {
	p.mu.RLock()
	api := p.api
	store := p.store
	maxSize := p.maxMediaSize
	p.mu.RUnlock()
	if api == nil {
		return provider.SendResult{}, provider.NewError(provider.ErrKindInternal, "telegram: Send called before Initialize", nil)
	}
	if len(opts.Media) > 0 && len(opts.Media[0].Data) > 0 && int64(len(opts.Media[0].Data)) > maxSize {
		return provider.SendResult{}, provider.NewError(provider.ErrKindConfig, "media exceeds telegram max media size", nil)
	}

	peer, err := p.resolvePeer(ctx, to)
	if err != nil {
		return provider.SendResult{Status: provider.SendStatusFailed, Error: err.Error()}, nil
	}

	if len(opts.Media) > 0 {
		return p.sendMedia(ctx, api, store, peer, body, opts.Media[0])
	}

	randomID := rand.Int63()
	_, err = api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  body,
		RandomID: randomID,
	})
	if err != nil {
		return provider.SendResult{Status: provider.SendStatusFailed, Error: err.Error()}, nil
	}
	return provider.SendResult{Status: provider.SendStatusSent, MessageID: strconv.FormatInt(randomID, 10)}, nil
}

// sendMedia uploads an attachment (downloading by URL first if no
// buffer was supplied, per §4.9) and sends it as a captioned document
// or photo upload.
func (p *Provider) sendMedia(ctx context.Context, api *tg.Client, store *mediastore.Store, peer tg.InputPeerClass, caption string, att provider.MediaAttachment) (provider.SendResult, error) {
	data := att.Data
	mimeType := att.MimeType

	if len(data) == 0 && att.URL != "" {
		if store == nil {
			return provider.SendResult{Status: provider.SendStatusFailed, Error: "telegram: media store unavailable"}, nil
		}
		handle, err := store.DownloadURL(ctx, att.URL)
		if err != nil {
			return provider.SendResult{Status: provider.SendStatusFailed, Error: err.Error()}, nil
		}
		defer handle.Release()
		raw, err := os.ReadFile(handle.Path)
		if err != nil {
			return provider.SendResult{Status: provider.SendStatusFailed, Error: err.Error()}, nil
		}
		data = raw
		if mimeType == "" {
			mimeType = handle.ContentType
		}
	}
	if mimeType == "" {
		mimeType = mediastore.DetectMIME(data)
	}

	up := uploader.NewUploader(api)
	inputFile, err := up.FromBytes(ctx, displayFilename(att.Filename, mimeType), data)
	if err != nil {
		return provider.SendResult{Status: provider.SendStatusFailed, Error: err.Error()}, nil
	}

	randomID := rand.Int63()
	media := &tg.InputMediaUploadedDocument{
		File:     inputFile,
		MimeType: mimeType,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: displayFilename(att.Filename, mimeType)},
		},
	}
	if strings.HasPrefix(mimeType, "image/") {
		_, err = api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     peer,
			Media:    &tg.InputMediaUploadedPhoto{File: inputFile},
			Message:  caption,
			RandomID: randomID,
		})
	} else {
		_, err = api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     peer,
			Media:    media,
			Message:  caption,
			RandomID: randomID,
		})
	}
	if err != nil {
		return provider.SendResult{Status: provider.SendStatusFailed, Error: err.Error()}, nil
	}
	return provider.SendResult{Status: provider.SendStatusSent, MessageID: strconv.FormatInt(randomID, 10)}, nil
}

func displayFilename(filename, mimeType string) string {
	if filename != "" {
		return filename
	}
	return "attachment" + extForMime(mimeType)
}

// SendTyping sends a "typing" chat action; best-effort.
func (p *Provider) SendTyping(ctx context.Context, to string) {
	p.mu.RLock()
	api := p.api
	p.mu.RUnlock()
	if api == nil {
		return
	}
	peer, err := p.resolvePeer(ctx, to)
	if err != nil {
		return
	}
	_, _ = api.MessagesSetTyping(ctx, &tg.MessagesSetTypingRequest{
		Peer:   peer,
		Action: &tg.SendMessageTypingAction{},
	})
}

// resolvePeer implements spec §4.4's entity-resolution rule: `to` may be
// `@username`, E.164 phone, or decimal user id, with an optional
// `telegram:` namespace prefix. If the raw form fails to resolve, the
// provider retries once prefixed with `@`; a second failure is a hard
// error.
func (p *Provider) resolvePeer(ctx context.Context, to string) (tg.InputPeerClass, error) {
	raw := provider.Normalize(to, provider.KindTelegram)

	peer, err := p.resolveOnce(ctx, raw)
	if err == nil {
		return peer, nil
	}
	if !strings.HasPrefix(raw, "@") {
		if peer2, err2 := p.resolveOnce(ctx, "@"+raw); err2 == nil {
			return peer2, nil
		}
	}
	return nil, fmt.Errorf("could not resolve telegram peer %q: %w", to, err)
}

func (p *Provider) resolveOnce(ctx context.Context, raw string) (tg.InputPeerClass, error) {
	switch {
	case strings.HasPrefix(raw, "@"):
		return p.resolveUsername(ctx, strings.TrimPrefix(raw, "@"))
	case strings.HasPrefix(raw, "+"):
		return p.resolvePhone(ctx, raw)
	case digitsOnlyRE.MatchString(raw):
		return p.resolveCachedID(raw)
	default:
		return p.resolveUsername(ctx, raw)
	}
}

func (p *Provider) resolveUsername(ctx context.Context, username string) (tg.InputPeerClass, error) {
	p.mu.RLock()
	api := p.api
	p.mu.RUnlock()

	resolved, err := api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve username %q: %w", username, err)
	}
	peerUser, ok := resolved.Peer.(*tg.PeerUser)
	if !ok {
		return nil, fmt.Errorf("username %q does not resolve to a user", username)
	}
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok && user.ID == peerUser.UserID {
			p.cacheUser(user)
			return &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("username %q resolved but no matching user entity returned", username)
}

func (p *Provider) resolvePhone(ctx context.Context, phone string) (tg.InputPeerClass, error) {
	p.mu.RLock()
	api := p.api
	p.mu.RUnlock()

	resolved, err := api.ContactsResolvePhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("resolve phone %q: %w", phone, err)
	}
	peerUser, ok := resolved.Peer.(*tg.PeerUser)
	if !ok {
		return nil, fmt.Errorf("phone %q does not resolve to a user", phone)
	}
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok && user.ID == peerUser.UserID {
			p.cacheUser(user)
			return &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("phone %q resolved but no matching user entity returned", phone)
}

// resolveCachedID looks up a bare decimal id in the locally observed
// entity cache. There is no MTProto call that turns a user id into an
// access hash without prior context, so an id never seen in an inbound
// update or resolve call is a hard resolution failure, per spec.
func (p *Provider) resolveCachedID(raw string) (tg.InputPeerClass, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram user id %q: %w", raw, err)
	}
	p.mu.RLock()
	entry, ok := p.peerCache[id]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("telegram user id %d has no cached access hash (no prior contact)", id)
	}
	return &tg.InputPeerUser{UserID: id, AccessHash: entry.accessHash}, nil
}

func (p *Provider) cacheUser(u *tg.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerCache[u.ID] = &peerEntry{accessHash: u.AccessHash, username: u.Username, phone: u.Phone}
}
