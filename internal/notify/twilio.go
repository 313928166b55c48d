package notify

import (
	"context"
	"fmt"

	"github.com/kfirel/hiker/pkg/config"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioSink delivers messages over Twilio's WhatsApp channel. Selected with
// CHAT_SINK=twilio for deployments without a Meta business account.
type TwilioSink struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioSink creates the Twilio-backed sink.
func NewTwilioSink(cfg *config.TwilioConfig) *TwilioSink {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSink{client: client, from: cfg.FromNumber}
}

// SendText implements Sink. The Twilio SDK does not thread a context; the
// request runs on the client's own timeout.
func (t *TwilioSink) SendText(_ context.Context, toPhone, body string) error {
	params := &openapi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + toPhone)
	params.SetFrom("whatsapp:" + t.from)
	params.SetBody(body)

	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send to %s: %w", toPhone, err)
	}
	return nil
}
