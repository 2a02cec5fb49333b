package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-chat-sync/identity"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
)

const contentTypeJSON = "application/json; charset=utf-8"

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes {"error": message}. message is shown to the user as is.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(errors.ErrInvalidPayload, "%v", err)
	}
	return nil
}

// writeServiceError maps a service error to its status and user-visible text.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var providerErr *identity.Error
	switch {
	case errors.As(err, &providerErr):
		status := providerErr.Status
		if status < http.StatusBadRequest {
			status = http.StatusBadRequest
		}
		writeJSONError(w, identity.Message(err), status)
	case errors.Is(err, errors.ErrMissingSessionID):
		writeJSONError(w, "Missing sessionId", http.StatusBadRequest)
	case errors.Is(err, errors.ErrInvalidPayload):
		writeJSONError(w, "Invalid payload", http.StatusBadRequest)
	case errors.Is(err, errors.ErrForbidden):
		writeJSONError(w, "Invalid session", http.StatusForbidden)
	case errors.Is(err, errors.ErrSessionNotFound):
		writeJSONError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, errors.ErrUpstream):
		writeJSONError(w, "Upstream error", http.StatusBadGateway)
	case errors.Is(err, errors.ErrInvalidCredentials), errors.Is(err, errors.ErrInvalidToken), errors.Is(err, errors.ErrProviderRejected):
		writeJSONError(w, identity.Message(err), http.StatusUnauthorized)
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeJSONError(w, "Internal error", http.StatusInternalServerError)
	}
}
