package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ChannelKind selects the sender used for a channel
type ChannelKind string

const (
	ChannelWebPush  ChannelKind = "webpush"
	ChannelTelegram ChannelKind = "telegram"
	ChannelLog      ChannelKind = "log"
)

// PushKeys are the client keys of a web push subscription
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Channel is an addressable out-of-band notification endpoint
type Channel struct {
	Key       string      `json:"key"`
	Kind      ChannelKind `json:"kind"`
	Endpoint  string      `json:"endpoint,omitempty"`
	Keys      PushKeys    `json:"keys,omitempty"`
	ChatID    int64       `json:"chat_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

var (
	ErrInvalidChannelKind = errors.New("unknown channel kind")
	ErrEmptyEndpoint      = errors.New("endpoint cannot be empty")
	ErrMissingPushKeys    = errors.New("web push subscription requires p256dh and auth keys")
	ErrMissingChatID      = errors.New("telegram channel requires chat_id")
)

// channelNamespace scopes deterministic channel keys
var channelNamespace = uuid.MustParse("3f1c6a0e-54a2-4f5e-9a57-0b6f2d9c8e11")

// Validate checks the descriptor fields required by its kind
func (c *Channel) Validate() error {
	switch c.Kind {
	case ChannelWebPush:
		if c.Endpoint == "" {
			return ErrEmptyEndpoint
		}
		if c.Keys.P256dh == "" || c.Keys.Auth == "" {
			return ErrMissingPushKeys
		}
	case ChannelTelegram:
		if c.ChatID == 0 {
			return ErrMissingChatID
		}
	case ChannelLog:
		if c.Endpoint == "" {
			return ErrEmptyEndpoint
		}
	default:
		return ErrInvalidChannelKind
	}
	return nil
}

// DeriveKey returns the stable registry key for the descriptor.
// The same endpoint always maps to the same key.
func (c *Channel) DeriveKey() string {
	name := string(c.Kind) + "|" + c.Endpoint
	if c.Kind == ChannelTelegram {
		name = string(c.Kind) + "|" + formatChatID(c.ChatID)
	}
	return uuid.NewSHA1(channelNamespace, []byte(name)).String()
}

// Payload is the notification shown to the user
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
}
