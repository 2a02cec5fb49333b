// Package session defines the login session that is kept consistent across
// the web page, the extension background and the extension views.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// User is the identity descriptor attached to a session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session is the signed-in credential pair plus identity. A nil *Session means signed out.
// Expiry fields are owned by the identity provider and are opaque to synchronization.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // unix seconds
	User         User   `json:"user"`
}

// Present reports whether s carries both tokens.
func (s *Session) Present() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// Normalize returns nil for absent or partial sessions and a copy otherwise.
// A session with an access token but no refresh token is a sign-out, not a partial sign-in.
func Normalize(s *Session) *Session {
	if !s.Present() {
		return nil
	}
	return s.Clone()
}

// SameTokens is the equality used to suppress redundant applies. Two absent sessions are equal.
func SameTokens(a, b *Session) bool {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.AccessToken == b.AccessToken && a.RefreshToken == b.RefreshToken
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Expiry returns when the access token stops being valid, falling back to the token's exp claim.
func (s *Session) Expiry() time.Time {
	if s == nil {
		return time.Time{}
	}
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return ExpiryFromAccessToken(s.AccessToken)
}

// Expired reports whether the access token is past its expiry, with leeway applied early.
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(exp)
}

// OAuth2Token exposes the session as a bearer token for HTTP clients.
func (s *Session) OAuth2Token() *oauth2.Token {
	if !s.Present() {
		return nil
	}
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    tokenType,
		Expiry:       s.Expiry(),
	}
}

// ExpiryFromAccessToken reads the exp claim without verifying the signature.
// The provider verifies tokens; this is only used to decide when to refresh.
func ExpiryFromAccessToken(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
