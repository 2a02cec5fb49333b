package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-chat-sync/auth"
)

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// RequireAuth is middleware that validates a Bearer access token
// and puts the caller's principal on the request context
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeJSONError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			principal, err := s.verifier.Verify(r.Context(), token)
			if err != nil {
				s.log.Debug().Err(err).Msg("rejected bearer token")
				writeJSONError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		}
	}
}

// principal is only called behind RequireAuth.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
