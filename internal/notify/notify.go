package notify

import (
	"context"
	"errors"
	"fmt"

	"pricewatch/internal/models"
)

// ErrGone means the endpoint no longer exists and must not be retried
var ErrGone = errors.New("notification channel gone")

var ErrUnsupportedKind = errors.New("no sender for channel kind")

// Sender delivers one payload to one channel. Implementations return an
// error wrapping ErrGone when the endpoint is permanently invalid.
type Sender interface {
	Send(ctx context.Context, ch models.Channel, p models.Payload) error
}

// Router picks the sender registered for the channel's kind
type Router struct {
	senders map[models.ChannelKind]Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[models.ChannelKind]Sender)}
}

// Handle registers s for kind, replacing any previous sender
func (r *Router) Handle(kind models.ChannelKind, s Sender) *Router {
	r.senders[kind] = s
	return r
}

func (r *Router) Send(ctx context.Context, ch models.Channel, p models.Payload) error {
	s, ok := r.senders[ch.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, ch.Kind)
	}
	return s.Send(ctx, ch, p)
}

// Kinds lists the channel kinds that have a sender
func (r *Router) Kinds() []models.ChannelKind {
	kinds := make([]models.ChannelKind, 0, len(r.senders))
	for k := range r.senders {
		kinds = append(kinds, k)
	}
	return kinds
}
