package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"pricewatch/internal/models"
)

// ChannelStore registers and removes notification channels
type ChannelStore interface {
	ChannelRegistrar
	Purge(ctx context.Context, key string) error
}

// ChannelHandler serves /api/subscribe. The body is a channel descriptor;
// a bare browser push subscription ({endpoint, keys}) is accepted as is.
type ChannelHandler struct {
	store       ChannelStore
	maxBodySize int64
}

func NewChannelHandler(store ChannelStore, maxBodySize int64) *ChannelHandler {
	return &ChannelHandler{store: store, maxBodySize: defaultBodySize(maxBodySize)}
}

func (h *ChannelHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var ch models.Channel
	if err := decodeJSON(w, r, h.maxBodySize, &ch); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	stored, err := h.store.Register(r.Context(), ch)
	if err != nil {
		if isValidation(err) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("register channel")
		writeError(w, r, http.StatusInternalServerError, "channel could not be stored")
		return
	}

	writeJSON(w, r, http.StatusCreated, map[string]interface{}{
		"key":  stored.Key,
		"kind": stored.Kind,
	})
}

func (h *ChannelHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Purge(r.Context(), r.PathValue("key")); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("purge channel")
		writeError(w, r, http.StatusInternalServerError, "channel could not be removed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
