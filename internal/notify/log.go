package notify

import (
	"context"

	"pricewatch/internal/logger"
	"pricewatch/internal/models"
)

// LogSender writes payloads to the log. Used for local development.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, ch models.Channel, p models.Payload) error {
	log := logger.WithComponent("notify")
	log.Info().
		Str("channel", ch.Key).
		Str("endpoint", ch.Endpoint).
		Str("title", p.Title).
		Str("body", p.Body).
		Msg("notification")
	return nil
}
