package server

import (
	"net/http"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
)

// SyncHandler attaches a remote tab or extension view to the background router.
// It runs behind RequireAuth and blocks for as long as the peer stays connected.
func (s *Server) SyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.syncOriginAllowed(r.Header.Get("Origin")) {
			writeJSONError(w, "Origin not allowed", http.StatusForbidden)
			return
		}

		kind := channel.PeerKind(r.URL.Query().Get("kind"))
		id := r.URL.Query().Get("id")

		if s.metrics != nil && (kind == channel.KindTab || kind == channel.KindView) {
			gauge := s.metrics.PeersConnected.WithLabelValues(string(kind))
			gauge.Inc()
			defer gauge.Dec()
		}

		guard := &sessionGuard{
			userID: principal(r).UserID,
			held:   s.background.Session,
			verify: s.verifier.Verify,
		}
		err := s.background.Router().Accept(w, r, kind, id, guard)
		switch {
		case err == nil:
		case errors.Is(err, errors.ErrInvalidPayload):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			// the upgrader has already answered the request
			s.log.Warn().Err(err).Str("peer", id).Msg("sync connection failed")
		}
	}
}

// syncOriginAllowed admits clients that send no Origin, the page origin and the CORS
// allow list. The bearer token is checked before this.
func (s *Server) syncOriginAllowed(origin string) bool {
	if origin == "" || origin == s.config.GetPageOrigin() {
		return true
	}
	allowed := s.config.GetAllowedOrigins()
	return allowed.IsAllowedOrigin(origin) || allowed.IsAllowedOrigin("*")
}
