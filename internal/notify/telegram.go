package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pricewatch/internal/models"
)

// Telegram delivers payloads as chat messages
type Telegram struct {
	api *tgbotapi.BotAPI
}

// NewTelegram authenticates the bot token against the Bot API. Every Bot
// API call, Send included, is bounded by timeout.
func NewTelegram(token string, timeout time.Duration) (*Telegram, error) {
	return newTelegram(token, tgbotapi.APIEndpoint, timeout)
}

func newTelegram(token, endpoint string, timeout time.Duration) (*Telegram, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{api: api}, nil
}

// NewTelegramWithAPI wraps an existing client, e.g. one pointed at a test server
func NewTelegramWithAPI(api *tgbotapi.BotAPI) *Telegram {
	return &Telegram{api: api}
}

func (t *Telegram) Send(ctx context.Context, ch models.Channel, p models.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(ch.ChatID, p.Title+"\n"+p.Body)
	if _, err := t.api.Send(msg); err != nil {
		if chatGone(err) {
			return fmt.Errorf("%w: %v", ErrGone, err)
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// chatGone reports whether the bot can never reach the chat again
func chatGone(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		var valErr tgbotapi.Error
		if !errors.As(err, &valErr) {
			return false
		}
		apiErr = &valErr
	}

	if apiErr.Code == http.StatusForbidden {
		return true
	}
	return apiErr.Code == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Message), "chat not found")
}
