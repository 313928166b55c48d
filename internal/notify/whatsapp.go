package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/httpclient"
)

const graphAPIBase = "https://graph.facebook.com/v19.0"

// WhatsAppSink delivers messages through the WhatsApp Cloud API.
type WhatsAppSink struct {
	http    *httpclient.Client
	phoneID string
	token   string
}

// NewWhatsAppSink creates the production sink.
func NewWhatsAppSink(cfg *config.ChatConfig) *WhatsAppSink {
	return NewWhatsAppSinkWithBase(cfg, graphAPIBase)
}

// NewWhatsAppSinkWithBase allows tests to point the sink at a fake endpoint.
func NewWhatsAppSinkWithBase(cfg *config.ChatConfig, baseURL string) *WhatsAppSink {
	return &WhatsAppSink{
		http:    httpclient.NewClient(baseURL, 15*time.Second, httpclient.WithDefaultRetry()),
		phoneID: cfg.ProviderPhoneID,
		token:   cfg.ProviderToken,
	}
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

// SendText implements Sink.
func (w *WhatsAppSink) SendText(ctx context.Context, toPhone, body string) error {
	msg := whatsAppMessage{
		MessagingProduct: "whatsapp",
		To:               toPhone,
		Type:             "text",
		Text:             whatsAppText{Body: body},
	}

	headers := map[string]string{
		"Authorization": "Bearer " + w.token,
	}

	path := fmt.Sprintf("/%s/messages", w.phoneID)
	if _, err := w.http.Post(ctx, path, msg, headers); err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", toPhone, err)
	}
	return nil
}
