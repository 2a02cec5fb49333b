package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/users"
)

type signOutRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SignInHandler exchanges an email and password for a provider session.
func (s *Server) SignInHandler() http.HandlerFunc {
	return s.credentialsHandler(func(ctx context.Context, creds users.Credentials) (*session.Session, error) {
		return s.newProvider().SignInWithPassword(ctx, creds.Email, creds.Password)
	}, users.Credentials.Validate)
}

// SignUpHandler registers a new account. A 202 with no session means the provider
// wants the address confirmed first.
func (s *Server) SignUpHandler() http.HandlerFunc {
	validate := users.Credentials.Validate
	if s.config.GetEnforcePasswordPolicy() {
		validate = users.Credentials.ValidateForSignUp
	}
	return s.credentialsHandler(func(ctx context.Context, creds users.Credentials) (*session.Session, error) {
		return s.newProvider().SignUp(ctx, creds.Email, creds.Password)
	}, validate)
}

func (s *Server) credentialsHandler(
	call func(context.Context, users.Credentials) (*session.Session, error),
	validate func(users.Credentials) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds users.Credentials
		if err := decodeJSON(w, r, &creds); err != nil {
			writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		creds = creds.Normalized()
		if err := validate(creds); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sess, err := call(r.Context(), creds)
		if err != nil {
			s.log.Info().Err(err).Str("email", creds.Email).Str("route", r.Pattern).Msg("credentials rejected")
			s.writeServiceError(w, err)
			return
		}
		if sess == nil {
			writeJSON(w, map[string]string{"message": "Check your email to confirm your account"}, http.StatusAccepted)
			return
		}
		writeJSON(w, sess, http.StatusOK)
	}
}

// SignOutHandler ends the given session with the provider. Signing out is idempotent
// so a session the provider no longer knows still answers 200.
func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signOutRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		provider := s.newProvider()
		sess := &session.Session{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken}
		if sess.Present() {
			if _, err := provider.SetSession(r.Context(), sess); err != nil {
				s.log.Debug().Err(err).Msg("sign out of unknown session")
			} else if err := provider.SignOut(r.Context()); err != nil {
				s.log.Warn().Err(err).Msg("provider sign out failed")
			}
		}
		writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
	}
}
