package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"pricewatch/internal/config"
	"pricewatch/internal/models"
)

// WebPush sends VAPID-signed, encrypted push messages
type WebPush struct {
	cfg    config.WebPushConfig
	client *http.Client
}

func NewWebPush(cfg config.WebPushConfig, client *http.Client) *WebPush {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPush{cfg: cfg, client: client}
}

func (w *WebPush) Send(ctx context.Context, ch models.Channel, p models.Payload) error {
	msg, err := json.Marshal(p)
	if err != nil {
		return err
	}

	sub := &webpush.Subscription{
		Endpoint: ch.Endpoint,
		Keys: webpush.Keys{
			Auth:   ch.Keys.Auth,
			P256dh: ch.Keys.P256dh,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, msg, sub, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             w.cfg.TTL,
	})
	if err != nil {
		return fmt.Errorf("webpush send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return classifyStatus(resp.StatusCode)
}

// classifyStatus maps a push service response to a delivery error
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: push service returned %d", ErrGone, code)
	default:
		return fmt.Errorf("push service returned %d", code)
	}
}
