package models_test

import (
	"testing"

	"pricewatch/internal/models"
)

func TestChannelValidate(t *testing.T) {
	tests := []struct {
		name    string
		ch      models.Channel
		wantErr error
	}{
		{
			"webpush",
			models.Channel{Kind: models.ChannelWebPush, Endpoint: "https://push.example/abc", Keys: models.PushKeys{P256dh: "p", Auth: "a"}},
			nil,
		},
		{"webpush without endpoint", models.Channel{Kind: models.ChannelWebPush}, models.ErrEmptyEndpoint},
		{"webpush without keys", models.Channel{Kind: models.ChannelWebPush, Endpoint: "https://push.example/abc"}, models.ErrMissingPushKeys},
		{"telegram", models.Channel{Kind: models.ChannelTelegram, ChatID: 42}, nil},
		{"telegram without chat", models.Channel{Kind: models.ChannelTelegram}, models.ErrMissingChatID},
		{"unknown kind", models.Channel{Kind: "pigeon", Endpoint: "x"}, models.ErrInvalidChannelKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.ch.Validate(); err != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChannelDeriveKeyIsStable(t *testing.T) {
	a := models.Channel{Kind: models.ChannelWebPush, Endpoint: "https://push.example/abc"}
	b := models.Channel{Kind: models.ChannelWebPush, Endpoint: "https://push.example/abc"}
	c := models.Channel{Kind: models.ChannelWebPush, Endpoint: "https://push.example/def"}

	if a.DeriveKey() != b.DeriveKey() {
		t.Error("same endpoint should derive the same key")
	}
	if a.DeriveKey() == c.DeriveKey() {
		t.Error("different endpoints should derive different keys")
	}
}

func TestChannelNormalizeDefaultsToWebPush(t *testing.T) {
	c := models.Channel{Endpoint: "  https://push.example/abc  "}
	c.Normalize()

	if c.Kind != models.ChannelWebPush {
		t.Errorf("kind = %q, want webpush", c.Kind)
	}
	if c.Endpoint != "https://push.example/abc" {
		t.Errorf("endpoint not trimmed: %q", c.Endpoint)
	}
}
