// Package gotrue is an identity provider backed by a Supabase Auth (GoTrue) compatible service.
package gotrue

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jrsteele09/go-chat-sync/identity"
	chaterrors "github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/sessionstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 15 * time.Second
	// Sessions this close to expiry are refreshed before being handed out.
	defaultRefreshLeeway = 30 * time.Second
)

type Options struct {
	// URL is the auth base url, e.g. "https://xyz.supabase.co/auth/v1"
	URL     string
	AnonKey string
	Timeout time.Duration
	// Store persists the provider's own session. Defaults to an in-memory store.
	Store  sessionstore.Store
	Logger zerolog.Logger
}

var _ identity.Provider = (*Client)(nil)

type Client struct {
	http      *resty.Client
	store     sessionstore.Store
	listeners identity.Listeners
	leeway    time.Duration
	nowTime   func() time.Time
	mu        sync.Mutex
	log       zerolog.Logger
}

type ClientOption func(*Client)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

func WithRefreshLeeway(d time.Duration) ClientOption {
	return func(c *Client) {
		c.leeway = d
	}
}

func New(opts Options, options ...ClientOption) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Store == nil {
		opts.Store = sessionstore.NewMemory()
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.URL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Client-Info", "go-chat-sync")
	if opts.AnonKey != "" {
		httpClient.SetHeader("apikey", opts.AnonKey)
	}

	c := &Client{
		http:    httpClient,
		store:   opts.Store,
		leeway:  defaultRefreshLeeway,
		nowTime: time.Now,
		log:     opts.Logger.With().Str("component", "gotrue").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// tokenResponse is the session document returned by the token and signup endpoints.
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`

	// Signup without auto-confirm returns the bare user.
	ID    string `json:"id"`
	Email string `json:"email"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// apiError covers the error shapes the service uses across versions.
type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Code             any    `json:"code"`
}

func (e *apiError) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) toSession(tr *tokenResponse) *session.Session {
	s := &session.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
		ExpiresAt:    tr.ExpiresAt,
		User:         session.User{ID: tr.User.ID, Email: tr.User.Email},
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.nowTime().Unix() + s.ExpiresIn
	}
	return session.Normalize(s)
}

// checkResponse maps a failed call to an error carrying the provider's user-visible message.
func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return errors.Wrapf(err, "[gotrue] %s request failed", op)
	}
	if !resp.IsError() {
		return nil
	}

	msg := http.StatusText(resp.StatusCode())
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr.text() != "" {
		msg = apiErr.text()
	}
	var sentinel error
	switch resp.StatusCode() {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		sentinel = chaterrors.ErrInvalidCredentials
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = chaterrors.ErrInvalidToken
	case http.StatusTooManyRequests:
		sentinel = chaterrors.ErrRateLimited
	default:
		sentinel = chaterrors.ErrUpstream
	}
	return identity.Reject(sentinel, resp.StatusCode(), msg)
}

func (c *Client) grant(ctx context.Context, grantType string, body any) (*session.Session, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", grantType).
		SetBody(body).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/token")
	if err := checkResponse(resp, err, "token "+grantType); err != nil {
		return nil, err
	}
	s := c.toSession(&out)
	if s == nil {
		return nil, errors.Wrap(chaterrors.ErrInvalidToken, "[gotrue] token response without tokens")
	}
	return s, nil
}

func (c *Client) commit(ctx context.Context, s *session.Session, kind identity.EventKind) error {
	if err := c.store.Set(ctx, s); err != nil {
		return errors.Wrap(err, "[gotrue] failed to persist session")
	}
	c.listeners.Notify(identity.Event{Kind: kind, Session: s})
	return nil
}

// GetSession returns the stored session, refreshing it first when it is about to expire.
func (c *Client) GetSession(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.store.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[gotrue] failed to load session")
	}
	if current == nil || !current.Expired(c.nowTime(), c.leeway) {
		return current, nil
	}

	refreshed, err := c.refresh(ctx, current.RefreshToken)
	if err != nil {
		var perr *identity.Error
		if errors.As(err, &perr) {
			// The refresh token is dead, the session cannot be recovered.
			c.log.Debug().Err(err).Msg("refresh rejected, clearing session")
			return nil, c.commit(ctx, nil, identity.SignedOut)
		}
		return nil, err
	}
	return refreshed, c.commit(ctx, refreshed, identity.TokenRefreshed)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	return c.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.grant(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	return s, c.commit(ctx, s, identity.SignedIn)
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/signup")
	if err := checkResponse(resp, err, "signup"); err != nil {
		return nil, err
	}

	s := c.toSession(&out)
	if s == nil {
		// Confirmation pending, nobody is signed in yet.
		return nil, nil
	}
	return s, c.commit(ctx, s, identity.SignedIn)
}

// SetSession adopts tokens issued to another context. Expired tokens are refreshed,
// otherwise the access token is validated against the user endpoint.
func (c *Client) SetSession(ctx context.Context, in *session.Session) (*session.Session, error) {
	in = session.Normalize(in)
	if in == nil {
		return nil, errors.Wrap(chaterrors.ErrInvalidToken, "[gotrue] session requires both tokens")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if in.Expired(c.nowTime(), 0) {
		s, err := c.refresh(ctx, in.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", chaterrors.ErrProviderRejected, err)
		}
		return s, c.commit(ctx, s, identity.TokenRefreshed)
	}

	user, err := c.getUser(ctx, in.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chaterrors.ErrProviderRejected, err)
	}
	s := in.Clone()
	s.User = *user
	if s.ExpiresAt == 0 {
		if exp := session.ExpiryFromAccessToken(s.AccessToken); !exp.IsZero() {
			s.ExpiresAt = exp.Unix()
		}
	}
	if s.TokenType == "" {
		s.TokenType = "bearer"
	}
	return s, c.commit(ctx, s, identity.SignedIn)
}

// SignOut revokes the session on this device only. The local session is cleared even
// when the revoke call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.store.Get(ctx)
	if err != nil {
		return errors.Wrap(err, "[gotrue] failed to load session")
	}
	if current != nil {
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(current.AccessToken).
			SetQueryParam("scope", "local").
			SetError(&apiError{}).
			Post("/logout")
		if err := checkResponse(resp, err, "logout"); err != nil {
			c.log.Debug().Err(err).Msg("remote logout failed, clearing local session")
		}
	}
	return c.commit(ctx, nil, identity.SignedOut)
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*session.User, error) {
	return c.getUser(ctx, accessToken)
}

func (c *Client) getUser(ctx context.Context, accessToken string) (*session.User, error) {
	var out userResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/user")
	if err := checkResponse(resp, err, "user"); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.Wrap(chaterrors.ErrInvalidToken, "[gotrue] user response without id")
	}
	return &session.User{ID: out.ID, Email: out.Email}, nil
}

func (c *Client) Subscribe(fn identity.Listener) func() {
	return c.listeners.Add(fn)
}
