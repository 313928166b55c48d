package notify

import (
	"context"

	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// Sink pushes plain-text messages to users over the chat provider.
type Sink interface {
	SendText(ctx context.Context, toPhone, body string) error
}

// LogSink logs outbound messages instead of delivering them. Used in local
// runs when no chat provider is configured.
type LogSink struct{}

// SendText implements Sink.
func (LogSink) SendText(ctx context.Context, toPhone, body string) error {
	logger.InfoContext(ctx, "outbound message (log sink)",
		zap.String("to", toPhone),
		zap.Int("body_len", len(body)),
	)
	return nil
}
