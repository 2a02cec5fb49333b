// Package auth verifies the bearer tokens the chat API and the sync endpoint accept.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/rs/zerolog"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID    string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// UserLookup resolves an access token with the identity provider.
type UserLookup interface {
	GetUser(ctx context.Context, accessToken string) (*session.User, error)
}

type Options struct {
	// JWKSURL verifies tokens against the provider's published keys. Takes precedence.
	JWKSURL string
	Issuer  string
	// Audience is checked when set.
	Audience string
	// JWTSecret verifies HS256 tokens locally when no key set is configured.
	JWTSecret string
	// Users is asked when neither local method is configured.
	Users  UserLookup
	Logger zerolog.Logger
}

type Verifier struct {
	oidc     *oidc.IDTokenVerifier
	secret   []byte
	issuer   string
	audience string
	users    UserLookup
	nowFunc  func() time.Time
	log      zerolog.Logger
}

type Option func(*Verifier)

func WithNowTime(nowFunc func() time.Time) Option {
	return func(v *Verifier) {
		v.nowFunc = nowFunc
	}
}

type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwtlib.RegisteredClaims
}

func NewVerifier(ctx context.Context, opts Options, options ...Option) (*Verifier, error) {
	v := &Verifier{
		secret:   []byte(opts.JWTSecret),
		issuer:   opts.Issuer,
		audience: opts.Audience,
		users:    opts.Users,
		nowFunc:  time.Now,
		log:      opts.Logger.With().Str("component", "verifier").Logger(),
	}
	for _, opt := range options {
		opt(v)
	}

	if opts.JWKSURL != "" {
		keySet := oidc.NewRemoteKeySet(ctx, opts.JWKSURL)
		v.oidc = oidc.NewVerifier(opts.Issuer, keySet, &oidc.Config{
			ClientID:             opts.Audience,
			SkipClientIDCheck:    opts.Audience == "",
			SkipIssuerCheck:      opts.Issuer == "",
			SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
			Now:                  v.nowFunc,
		})
	}
	if v.oidc == nil && len(v.secret) == 0 && v.users == nil {
		return nil, errors.Wrapf(errors.ErrInvalidPayload, "no way to verify tokens: configure a key set, a secret or a provider")
	}
	return v, nil
}

// Verify authenticates rawToken. Failures wrap errors.ErrInvalidToken or errors.ErrTokenExpired.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "empty token")
	}

	switch {
	case v.oidc != nil:
		return v.verifyKeySet(ctx, rawToken)
	case len(v.secret) > 0:
		return v.verifySecret(rawToken)
	default:
		return v.verifyWithProvider(ctx, rawToken)
	}
}

func (v *Verifier) verifyKeySet(ctx context.Context, rawToken string) (*Principal, error) {
	idToken, err := v.oidc.Verify(ctx, rawToken)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, errors.Wrapf(errors.ErrTokenExpired, "%v", err)
		}
		return nil, errors.Wrapf(errors.ErrInvalidToken, "%v", err)
	}

	var claims tokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "failed to read claims: %v", err)
	}
	return &Principal{UserID: idToken.Subject, Email: claims.Email, Role: claims.Role, ExpiresAt: idToken.Expiry}, nil
}

func (v *Verifier) verifySecret(rawToken string) (*Principal, error) {
	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(v.nowFunc),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(v.audience))
	}

	var claims tokenClaims
	_, err := jwtlib.ParseWithClaims(rawToken, &claims, func(*jwtlib.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if errors.Is(err, jwtlib.ErrTokenExpired) {
		return nil, errors.Wrapf(errors.ErrTokenExpired, "%v", err)
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "%v", err)
	}
	if claims.Subject == "" {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "token has no subject")
	}

	p := &Principal{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

func (v *Verifier) verifyWithProvider(ctx context.Context, rawToken string) (*Principal, error) {
	user, err := v.users.GetUser(ctx, rawToken)
	if err != nil {
		v.log.Debug().Err(err).Msg("provider did not accept token")
		return nil, errors.Wrapf(errors.ErrInvalidToken, "%v", err)
	}
	if user == nil || user.ID == "" {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "provider returned no user")
	}
	return &Principal{
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: session.ExpiryFromAccessToken(rawToken),
	}, nil
}
