package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"gopkg.in/go-playground/validator.v9"

	"github.com/yairfalse/warden/classifier"
	"github.com/yairfalse/warden/materializer"
	"github.com/yairfalse/warden/storage"
)

// errBadRequest marks request errors that map to 400.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	var (
		verrs     validator.ValidationErrors
		malformed *classifier.MalformedResourceError
	)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, storage.ErrAmbiguousAccount), errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.As(err, &malformed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrSourceUnavailable), errors.Is(err, materializer.ErrScanFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := zerolog.Ctx(r.Context())
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Int("status", status).Msg("request failed")

	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}
