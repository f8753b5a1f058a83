package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/colonyops/revwatch/internal/core/review"
)

const maxBodyBytes = 1 << 20

// handlerFunc is an http.HandlerFunc that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

type errorResponse struct {
	Error string      `json:"error"`
	Kind  review.Kind `json:"kind,omitempty"`
}

func (s *Server) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
			}
			writeJSON(w, status, errorResponse{Error: err.Error(), Kind: review.KindOf(err)})
		}
	}
}

// statusFor maps a typed error onto an HTTP status code.
func statusFor(err error) int {
	switch review.KindOf(err) {
	case review.KindNotFound:
		return http.StatusNotFound
	case review.KindValidation:
		return http.StatusBadRequest
	case review.KindNotAGitRepo:
		return http.StatusUnprocessableEntity
	case review.KindGit:
		return http.StatusBadGateway
	case review.KindTransportUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return review.Validationf("decode request", "body exceeds %d bytes", maxErr.Limit)
		}
		return review.E(review.KindValidation, "decode request", fmt.Errorf("invalid JSON body: %w", err))
	}
	return nil
}
