package waweb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/mediastore"
	"github.com/roelfdiedericks/clawdis/internal/paths"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// lidServer is whatsmeow's JID server string for LID-addressed (hidden)
// senders, distinct from the ordinary phone-number server.
const lidServer = "lid"

// handleMessage translates a whatsmeow message event into a normalised
// InboundMessage and forwards it to the registered handler.
func (p *Provider) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}

	p.mu.RLock()
	handler := p.handler
	client := p.client
	jm := p.jidmap
	p.mu.RUnlock()
	if handler == nil {
		return
	}

	from, ok := p.resolveSenderE164(evt)
	if !ok {
		L_warn("wa-web: dropping message with unresolvable sender",
			"sender", evt.Info.Sender.String(), "senderAlt", evt.Info.SenderAlt.String())
		return
	}
	if jm != nil && evt.Info.Sender.Server == lidServer {
		jm.Record(evt.Info.Sender.User, from)
	}

	in := provider.InboundMessage{
		Provider:   provider.KindWAWeb,
		From:       from,
		To:         p.GetSessionID(),
		MessageID:  evt.Info.ID,
		SenderName: evt.Info.PushName,
		Timestamp:  evt.Info.Timestamp,
		ChatType:   provider.ChatDirect,
	}

	if evt.Info.IsGroup {
		in.ChatType = provider.ChatGroup
		in.GroupID = evt.Info.Chat.String()
		in.Mentioned = mentionsSelf(evt, client)
		if info, err := client.GetGroupInfo(evt.Info.Chat); err == nil && info != nil {
			in.GroupSubject = info.Name
		}
	}

	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		in.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		in.Body = msg.GetExtendedTextMessage().GetText()
	case msg.GetAudioMessage() != nil:
		am := msg.GetAudioMessage()
		category := "audio"
		if am.GetPTT() {
			category = "voice"
		}
		in.Attachments = append(in.Attachments, p.downloadAttachment(client, am, category, am.GetMimetype()))
	case msg.GetImageMessage() != nil:
		im := msg.GetImageMessage()
		in.Body = im.GetCaption()
		in.Attachments = append(in.Attachments, p.downloadAttachment(client, im, "image", im.GetMimetype()))
	case msg.GetVideoMessage() != nil:
		vm := msg.GetVideoMessage()
		in.Body = vm.GetCaption()
		in.Attachments = append(in.Attachments, p.downloadAttachment(client, vm, "video", vm.GetMimetype()))
	case msg.GetDocumentMessage() != nil:
		dm := msg.GetDocumentMessage()
		in.Body = dm.GetCaption()
		in.Attachments = append(in.Attachments, p.downloadAttachment(client, dm, "document", dm.GetMimetype()))
	default:
		L_debug("wa-web: unsupported message type, ignoring")
		return
	}

	handler(in)
}

// resolveSenderE164 returns the canonical +E164 sender identifier,
// consulting the JID reverse map when the event used LID addressing
// (spec §4.2: "if mapping is missing the message is dropped").
func (p *Provider) resolveSenderE164(evt *events.Message) (string, bool) {
	sender := evt.Info.Sender
	if sender.Server != lidServer {
		return provider.FromE164(sender.User), true
	}

	p.mu.RLock()
	jm := p.jidmap
	p.mu.RUnlock()

	if alt := evt.Info.SenderAlt; alt.User != "" && alt.Server != lidServer {
		return provider.FromE164(alt.User), true
	}
	if jm == nil {
		return "", false
	}
	return jm.Resolve(sender.User)
}

// mentionsSelf reports whether the operator's own JID appears in the
// message's mentioned-JID list (group mention policy, spec §4.6 step 2).
func mentionsSelf(evt *events.Message, client *whatsmeow.Client) bool {
	if client == nil || client.Store.ID == nil {
		return false
	}
	ctxInfo := evt.Message.GetExtendedTextMessage().GetContextInfo()
	if ctxInfo == nil {
		ctxInfo = evt.Message.GetContextInfo()
	}
	self := client.Store.ID.User
	for _, jid := range ctxInfo.GetMentionedJID() {
		if strings.Contains(jid, self) {
			return true
		}
	}
	return false
}

// downloadAttachment downloads a whatsmeow media message to a scratch
// file, returning a degraded (error-only) attachment on failure rather
// than aborting the whole inbound message (spec: "graceful degrade").
func (p *Provider) downloadAttachment(client *whatsmeow.Client, msg whatsmeow.DownloadableMessage, category, mimeType string) provider.InboundAttachment {
	data, err := client.Download(context.Background(), msg)
	if err != nil {
		L_error("wa-web: media download failed", "category", category, "error", err)
		return provider.InboundAttachment{Category: category, Error: err.Error()}
	}

	dir, err := paths.DataPath("wa-web-media")
	if err != nil {
		return provider.InboundAttachment{Category: category, Error: err.Error()}
	}
	if err := paths.EnsureDir(dir); err != nil {
		return provider.InboundAttachment{Category: category, Error: err.Error()}
	}

	if mimeType == "" {
		mimeType = mediastore.DetectMIME(data)
	}
	name := fmt.Sprintf("wa-web-dl-%s%s", uuid.NewString(), extFor(mimeType))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return provider.InboundAttachment{Category: category, Error: err.Error()}
	}

	return provider.InboundAttachment{Category: category, Path: path, MimeType: mimeType}
}

func extFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "audio/ogg", "audio/ogg; codecs=opus":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}

// Send resolves `to` into a JID, attaches the first media item if
// present, and returns the backend's message key as MessageID.
func (p *Provider) Send(ctx context.Context, to, body string, opts provider.SendOptions) (provider.SendResult, error) {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return provider.SendResult{}, provider.NewError(provider.ErrKindInternal, "wa-web: Send called before Initialize", nil)
	}

	caps := p.Capabilities()
	if len(opts.Media) > 0 && int64(len(opts.Media[0].Data)) > caps.MaxMediaSize {
		return provider.SendResult{}, provider.NewError(provider.ErrKindConfig, "media exceeds wa-web max media size", nil)
	}

	jid := resolveJID(to)

	if opts.SendTyping {
		p.SendTyping(ctx, to)
	}

	var waMsg *waE2E.Message
	if len(opts.Media) > 0 {
		msg, err := p.buildMediaMessage(ctx, client, opts.Media[0], body)
		if err != nil {
			return provider.SendResult{Status: provider.SendStatusFailed, Error: err.Error()}, nil
		}
		waMsg = msg
	} else {
		waMsg = &waE2E.Message{Conversation: proto.String(body)}
	}

	resp, err := client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		return provider.SendResult{Status: provider.SendStatusFailed, Error: err.Error()}, nil
	}

	return provider.SendResult{Status: provider.SendStatusSent, MessageID: resp.ID}, nil
}

// buildMediaMessage uploads the attachment's bytes (downloading by URL
// first if no buffer was supplied) and wraps the upload response in the
// mimetype-appropriate waE2E message.
func (p *Provider) buildMediaMessage(ctx context.Context, client *whatsmeow.Client, att provider.MediaAttachment, caption string) (*waE2E.Message, error) {
	data := att.Data
	mimeType := att.MimeType

	if len(data) == 0 && att.URL != "" {
		dir, err := paths.DataPath("wa-web-media")
		if err != nil {
			return nil, err
		}
		store, err := mediastore.New(dir, p.Capabilities().MaxMediaSize)
		if err != nil {
			return nil, err
		}
		handle, err := store.DownloadURL(ctx, att.URL)
		if err != nil {
			return nil, err
		}
		defer handle.Release()

		data, err = os.ReadFile(handle.Path)
		if err != nil {
			return nil, err
		}
		if mimeType == "" {
			mimeType = handle.ContentType
		}
	}
	if mimeType == "" {
		mimeType = mediastore.DetectMIME(data)
	}

	mediaType := mimeToMediaType(mimeType)
	resp, err := client.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	return buildUploadMessage(mimeType, &resp, caption, uint64(len(data))), nil
}

func mimeToMediaType(mimeType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildUploadMessage(mimeType string, resp *whatsmeow.UploadResponse, caption string, fileLength uint64) *waE2E.Message {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption: proto.String(caption), Mimetype: proto.String(mimeType),
			URL: &resp.URL, DirectPath: &resp.DirectPath, MediaKey: resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256, FileSHA256: resp.FileSHA256, FileLength: &fileLength,
		}}
	case strings.HasPrefix(mimeType, "video/"):
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption: proto.String(caption), Mimetype: proto.String(mimeType),
			URL: &resp.URL, DirectPath: &resp.DirectPath, MediaKey: resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256, FileSHA256: resp.FileSHA256, FileLength: &fileLength,
		}}
	case strings.HasPrefix(mimeType, "audio/"):
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype: proto.String(mimeType),
			URL:      &resp.URL, DirectPath: &resp.DirectPath, MediaKey: resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256, FileSHA256: resp.FileSHA256, FileLength: &fileLength,
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption: proto.String(caption), Mimetype: proto.String(mimeType),
			URL: &resp.URL, DirectPath: &resp.DirectPath, MediaKey: resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256, FileSHA256: resp.FileSHA256, FileLength: &fileLength,
		}}
	}
}

// resolveJID turns a canonical identifier (+E164 or group:<jid>) into a
// whatsmeow JID.
func resolveJID(to string) types.JID {
	if raw := strings.TrimPrefix(to, "group:"); provider.IsGroup(raw) {
		jid, err := types.ParseJID(raw)
		if err == nil {
			return jid
		}
	}
	phone := strings.TrimPrefix(to, "+")
	return types.NewJID(phone, types.DefaultUserServer)
}

// SendTyping sends a composing presence update; best-effort.
func (p *Provider) SendTyping(ctx context.Context, to string) {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return
	}
	jid := resolveJID(to)
	_ = client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	go func() {
		time.Sleep(2 * time.Second)
		_ = client.SendChatPresence(context.Background(), jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
	}()
}
