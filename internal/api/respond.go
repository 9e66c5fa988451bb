package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jbweber/homelab/loft/internal/apperr"
)

// maxBodyBytes bounds every JSON request body; setup scripts are the largest payload.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

// writeError reports err as {status, message}. Internal errors are logged in full
// and redacted on the wire.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	logger := zerolog.Ctx(r.Context())
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindUpstream:
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	default:
		logger.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, r, status, ErrorResponse{Status: status, Message: apperr.PublicMessage(err)})
}

// decodeJSON reads a single JSON object from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.BadRequest("Request body is empty")
		case errors.As(err, &maxErr):
			return apperr.BadRequest(fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit))
		default:
			return apperr.BadRequest("Invalid request body")
		}
	}
	return nil
}
