package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"pricewatch/internal/models"
)

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("encode response")
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// decodeJSON reads a size-limited JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBody int64, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

var validationErrors = []error{
	models.ErrEmptySymbol,
	models.ErrInvalidSymbol,
	models.ErrInvalidPrice,
	models.ErrInvalidDirection,
	models.ErrInvalidChannelKind,
	models.ErrEmptyEndpoint,
	models.ErrMissingPushKeys,
	models.ErrMissingChatID,
}

// isValidation reports whether err is a caller mistake rather than a
// server failure
func isValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func defaultBodySize(n int64) int64 {
	if n <= 0 {
		return 1 << 20
	}
	return n
}
