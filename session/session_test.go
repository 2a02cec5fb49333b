package session_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("absent stays absent", func(t *testing.T) {
		require.Nil(t, session.Normalize(nil))
	})

	t.Run("missing refresh token is absent", func(t *testing.T) {
		require.Nil(t, session.Normalize(&session.Session{AccessToken: "a", User: session.User{ID: "u1"}}))
	})

	t.Run("missing access token is absent", func(t *testing.T) {
		require.Nil(t, session.Normalize(&session.Session{RefreshToken: "b"}))
	})

	t.Run("complete session is copied", func(t *testing.T) {
		in := &session.Session{AccessToken: "a", RefreshToken: "b", User: session.User{ID: "u1"}}
		out := session.Normalize(in)
		require.Equal(t, in, out)
		out.AccessToken = "changed"
		require.Equal(t, "a", in.AccessToken)
	})
}

func TestSameTokens(t *testing.T) {
	s1 := &session.Session{AccessToken: "a", RefreshToken: "b", User: session.User{ID: "u1"}}

	tests := []struct {
		name string
		a, b *session.Session
		want bool
	}{
		{"both absent", nil, nil, true},
		{"absent and partial", nil, &session.Session{AccessToken: "a"}, true},
		{"present and absent", s1, nil, false},
		{"identical tokens different user data", s1, &session.Session{AccessToken: "a", RefreshToken: "b", User: session.User{ID: "u1", Email: "x@y.z"}}, true},
		{"refreshed access token", s1, &session.Session{AccessToken: "a2", RefreshToken: "b", User: session.User{ID: "u1"}}, false},
		{"rotated refresh token", s1, &session.Session{AccessToken: "a", RefreshToken: "b2", User: session.User{ID: "u1"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, session.SameTokens(tt.a, tt.b))
			require.Equal(t, tt.want, session.SameTokens(tt.b, tt.a))
		})
	}
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	t.Run("from expires_at", func(t *testing.T) {
		s := &session.Session{AccessToken: raw, RefreshToken: "r", ExpiresAt: exp.Add(time.Minute).Unix()}
		require.Equal(t, exp.Add(time.Minute).Unix(), s.Expiry().Unix())
	})

	t.Run("from access token claim", func(t *testing.T) {
		s := &session.Session{AccessToken: raw, RefreshToken: "r"}
		require.Equal(t, exp.Unix(), s.Expiry().Unix())
		require.False(t, s.Expired(time.Now(), 10*time.Second))
		require.True(t, s.Expired(exp, 0))
	})

	t.Run("opaque token never expires locally", func(t *testing.T) {
		s := &session.Session{AccessToken: "opaque", RefreshToken: "r"}
		require.True(t, s.Expiry().IsZero())
		require.False(t, s.Expired(time.Now(), time.Hour))
	})
}

func TestOAuth2Token(t *testing.T) {
	require.Nil(t, (*session.Session)(nil).OAuth2Token())

	tok := (&session.Session{AccessToken: "a", RefreshToken: "b"}).OAuth2Token()
	require.Equal(t, "a", tok.AccessToken)
	require.Equal(t, "b", tok.RefreshToken)
	require.Equal(t, "bearer", tok.TokenType)
}
