package watwilio

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// toInbound translates a fetched Twilio message resource into the
// normalised InboundMessage shape.
func toInbound(m twilioApi.ApiV2010Message) provider.InboundMessage {
	from := ""
	if m.From != nil {
		from = provider.FromE164(strings.TrimPrefix(*m.From, "whatsapp:"))
	}
	to := ""
	if m.To != nil {
		to = strings.TrimPrefix(*m.To, "whatsapp:")
	}
	body := ""
	if m.Body != nil {
		body = *m.Body
	}
	sid := ""
	if m.Sid != nil {
		sid = *m.Sid
	}

	ts := time.Now()
	if m.DateCreated != nil {
		if parsed, err := time.Parse(time.RFC1123Z, *m.DateCreated); err == nil {
			ts = parsed
		}
	}

	in := provider.InboundMessage{
		Provider:  provider.KindWATwilio,
		From:      from,
		To:        to,
		Body:      body,
		MessageID: sid,
		ChatType:  provider.ChatDirect,
		Timestamp: ts,
	}

	if m.NumMedia != nil {
		if n, err := strconv.Atoi(*m.NumMedia); err == nil && n > 0 {
			in.Attachments = append(in.Attachments, provider.InboundAttachment{
				Category: "document",
				Error:    "media fetch not implemented: retrieve via the message's media subresource",
			})
		}
	}

	return in
}

// mapDeliveryStatus maps Twilio's status vocabulary onto the
// normalised set (spec §4.3).
func mapDeliveryStatus(status string) provider.DeliveryStatus {
	switch strings.ToLower(status) {
	case "sent", "sending", "queued":
		return provider.DeliverySent
	case "delivered":
		return provider.DeliveryDelivered
	case "read":
		return provider.DeliveryRead
	case "failed", "undelivered", "canceled":
		return provider.DeliveryFailed
	default:
		return provider.DeliveryUnknown
	}
}

// GetDeliveryStatus fetches the message resource and maps its status
// and error fields into a DeliveryReport.
func (p *Provider) GetDeliveryStatus(ctx context.Context, messageID string) provider.DeliveryReport {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return provider.DeliveryReport{Status: provider.DeliveryUnknown, CheckedAt: time.Now()}
	}

	m, err := client.Api.FetchMessage(messageID, &twilioApi.FetchMessageParams{})
	if err != nil {
		return provider.DeliveryReport{Status: provider.DeliveryUnknown, CheckedAt: time.Now(), Error: err.Error()}
	}

	report := provider.DeliveryReport{CheckedAt: time.Now()}
	if m.Status != nil {
		report.Status = mapDeliveryStatus(*m.Status)
	} else {
		report.Status = provider.DeliveryUnknown
	}
	if m.ErrorCode != nil && m.ErrorMessage != nil {
		report.Error = fmt.Sprintf("%d: %s", *m.ErrorCode, *m.ErrorMessage)
	}
	return report
}
