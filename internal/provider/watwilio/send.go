package watwilio

import (
	"context"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// Send posts a message via Twilio's REST API. Sender identity is
// either an explicit `whatsapp:+E164` From or a messaging-service SID
// — mutually exclusive, per spec §4.3.
func (p *Provider) Send(ctx context.Context, to, body string, opts provider.SendOptions) (provider.SendResult, error) {
	p.mu.RLock()
	client, env := p.client, p.env
	p.mu.RUnlock()
	if client == nil || env == nil {
		return provider.SendResult{}, provider.NewError(provider.ErrKindInternal, "wa-twilio: Send called before Initialize", nil)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + provider.Normalize(to, provider.KindWATwilio))
	if env.SenderSID != "" {
		params.SetMessagingServiceSid(env.SenderSID)
	} else {
		params.SetFrom(env.From)
	}
	if body != "" {
		params.SetBody(body)
	}
	if len(opts.Media) > 0 && opts.Media[0].URL != "" {
		params.SetMediaUrl([]string{opts.Media[0].URL})
	}

	resp, err := client.Api.CreateMessage(params)
	if err != nil {
		return provider.SendResult{Status: provider.SendStatusFailed, Error: err.Error()}, nil
	}

	result := provider.SendResult{Status: provider.SendStatusSent}
	if resp.Sid != nil {
		result.MessageID = *resp.Sid
	}
	return result, nil
}

// SendTyping is a no-op: Twilio's WhatsApp API exposes no typing
// indicator (spec §4.3 capability table).
func (p *Provider) SendTyping(ctx context.Context, to string) {}
