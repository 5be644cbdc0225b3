package watwilio

import (
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/roelfdiedericks/clawdis/internal/provider"
)

func fakeMessage(from, to, body, sid *string) twilioApi.ApiV2010Message {
	return twilioApi.ApiV2010Message{From: from, To: to, Body: body, Sid: sid}
}

func TestMapDeliveryStatus(t *testing.T) {
	cases := map[string]provider.DeliveryStatus{
		"sent":        provider.DeliverySent,
		"sending":     provider.DeliverySent,
		"queued":      provider.DeliverySent,
		"delivered":   provider.DeliveryDelivered,
		"read":        provider.DeliveryRead,
		"failed":      provider.DeliveryFailed,
		"undelivered": provider.DeliveryFailed,
		"canceled":    provider.DeliveryFailed,
		"accepted":    provider.DeliveryUnknown,
		"":            provider.DeliveryUnknown,
	}
	for in, want := range cases {
		if got := mapDeliveryStatus(in); got != want {
			t.Errorf("mapDeliveryStatus(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestToInboundStripsWhatsappPrefixAndNormalisesSender(t *testing.T) {
	from := "whatsapp:+15551234567"
	to := "whatsapp:+15557654321"
	body := "hello"
	sid := "SM123"
	m := fakeMessage(&from, &to, &body, &sid)

	in := toInbound(m)
	if in.From != "+15551234567" {
		t.Errorf("From = %q, want +15551234567", in.From)
	}
	if in.To != "+15557654321" {
		t.Errorf("To = %q, want +15557654321", in.To)
	}
	if in.Body != body || in.MessageID != sid {
		t.Errorf("Body/MessageID = %q/%q", in.Body, in.MessageID)
	}
}
