// Package providerfake is an in-memory identity provider. A Backend plays the auth
// service and each Provider plays one context's client of it.
package providerfake

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-sync/identity"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/session"
)

const (
	defaultExpiresIn = 3600
	minPasswordLen   = 6
)

type account struct {
	user     session.User
	password string
}

type Backend struct {
	accounts  map[string]*account // keyed by email
	access    map[string]string   // access token to user id
	refresh   map[string]string   // refresh token to user id
	users     map[string]session.User
	expiresIn int64
	nowTime   func() time.Time
	lock      sync.RWMutex
}

type BackendOption func(*Backend)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) BackendOption {
	return func(b *Backend) {
		b.nowTime = nowFunc
	}
}

func NewBackend(options ...BackendOption) *Backend {
	b := &Backend{
		accounts:  make(map[string]*account),
		access:    make(map[string]string),
		refresh:   make(map[string]string),
		users:     make(map[string]session.User),
		expiresIn: defaultExpiresIn,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// AddUser registers a confirmed account.
func (b *Backend) AddUser(email, password string) session.User {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.addUser(email, password)
}

func (b *Backend) addUser(email, password string) session.User {
	user := session.User{ID: uuid.New().String(), Email: email}
	b.accounts[email] = &account{user: user, password: password}
	b.users[user.ID] = user
	return user
}

// Issue mints a fresh token pair for the user, as a sign-in elsewhere would.
func (b *Backend) Issue(user session.User) *session.Session {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.issue(user)
}

func (b *Backend) issue(user session.User) *session.Session {
	s := &session.Session{
		AccessToken:  "at-" + uuid.New().String(),
		RefreshToken: "rt-" + uuid.New().String(),
		TokenType:    "bearer",
		ExpiresIn:    b.expiresIn,
		ExpiresAt:    b.nowTime().Unix() + b.expiresIn,
		User:         user,
	}
	b.access[s.AccessToken] = user.ID
	b.refresh[s.RefreshToken] = user.ID
	return s
}

// Revoke invalidates an access token.
func (b *Backend) Revoke(accessToken string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.access, accessToken)
}

// exchange spends a refresh token on a new pair.
func (b *Backend) exchange(refreshToken string) (*session.Session, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	id, ok := b.refresh[refreshToken]
	if !ok {
		return nil, errors.ErrInvalidRefreshToken
	}
	delete(b.refresh, refreshToken)
	return b.issue(b.users[id]), nil
}

func (b *Backend) lookup(accessToken string) (session.User, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	id, ok := b.access[accessToken]
	if !ok {
		return session.User{}, false
	}
	return b.users[id], true
}

// NewProvider returns a client of the backend with its own local session.
func (b *Backend) NewProvider() *Provider {
	return &Provider{backend: b}
}

var _ identity.Provider = (*Provider)(nil)

type Provider struct {
	backend   *Backend
	current   *session.Session
	listeners identity.Listeners
	lock      sync.Mutex

	rejectErr      error
	setSessionHits int
	signOutHits    int
}

// Reject makes SetSession fail with err until called again with nil.
func (p *Provider) Reject(err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.rejectErr = err
}

// SetSessionCalls counts SetSession invocations, accepted or not.
func (p *Provider) SetSessionCalls() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.setSessionHits
}

func (p *Provider) SignOutCalls() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.signOutHits
}

func (p *Provider) commit(s *session.Session, kind identity.EventKind) {
	p.lock.Lock()
	p.current = s.Clone()
	p.lock.Unlock()
	p.listeners.Notify(identity.Event{Kind: kind, Session: s})
}

func (p *Provider) GetSession(_ context.Context) (*session.Session, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.current.Clone(), nil
}

func (p *Provider) SignInWithPassword(_ context.Context, email, password string) (*session.Session, error) {
	b := p.backend
	b.lock.Lock()
	acc, ok := b.accounts[email]
	if !ok || acc.password != password {
		b.lock.Unlock()
		return nil, identity.Reject(errors.ErrInvalidCredentials, http.StatusBadRequest, "Invalid login credentials")
	}
	s := b.issue(acc.user)
	b.lock.Unlock()

	p.commit(s, identity.SignedIn)
	return s.Clone(), nil
}

func (p *Provider) SignUp(_ context.Context, email, password string) (*session.Session, error) {
	if !strings.Contains(email, "@") {
		return nil, identity.Reject(errors.ErrInvalidCredentials, http.StatusBadRequest, "Unable to validate email address: invalid format")
	}
	if len(password) < minPasswordLen {
		return nil, identity.Reject(errors.ErrInvalidCredentials, http.StatusUnprocessableEntity, fmt.Sprintf("Password should be at least %d characters.", minPasswordLen))
	}

	b := p.backend
	b.lock.Lock()
	if _, exists := b.accounts[email]; exists {
		b.lock.Unlock()
		return nil, identity.Reject(errors.ErrInvalidCredentials, http.StatusUnprocessableEntity, "User already registered")
	}
	user := b.addUser(email, password)
	s := b.issue(user)
	b.lock.Unlock()

	p.commit(s, identity.SignedIn)
	return s.Clone(), nil
}

// SetSession adopts tokens issued to another client. An expired pair is refreshed first
// and reported as TOKEN_REFRESHED.
func (p *Provider) SetSession(_ context.Context, in *session.Session) (*session.Session, error) {
	p.lock.Lock()
	p.setSessionHits++
	rejectErr := p.rejectErr
	p.lock.Unlock()

	if rejectErr != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrProviderRejected, rejectErr)
	}
	in = session.Normalize(in)
	if in == nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrProviderRejected, errors.ErrInvalidToken)
	}
	if in.Expired(p.backend.nowTime(), 0) {
		s, err := p.backend.exchange(in.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrProviderRejected, err)
		}
		p.commit(s, identity.TokenRefreshed)
		return s.Clone(), nil
	}
	user, ok := p.backend.lookup(in.AccessToken)
	if !ok {
		return nil, fmt.Errorf("%w: %w", errors.ErrProviderRejected, errors.ErrInvalidToken)
	}

	s := in.Clone()
	s.User = user
	p.commit(s, identity.SignedIn)
	return s.Clone(), nil
}

// SignOut clears the local session. Tokens stay valid for other contexts.
func (p *Provider) SignOut(_ context.Context) error {
	p.lock.Lock()
	p.signOutHits++
	p.lock.Unlock()

	p.commit(nil, identity.SignedOut)
	return nil
}

func (p *Provider) GetUser(_ context.Context, accessToken string) (*session.User, error) {
	user, ok := p.backend.lookup(accessToken)
	if !ok {
		return nil, errors.ErrInvalidToken
	}
	return &user, nil
}

// Refresh simulates a background token refresh: a new pair replaces the current one.
func (p *Provider) Refresh(_ context.Context) (*session.Session, error) {
	p.lock.Lock()
	current := p.current.Clone()
	p.lock.Unlock()
	if current == nil {
		return nil, errors.ErrInvalidRefreshToken
	}

	s := p.backend.Issue(current.User)
	p.commit(s, identity.TokenRefreshed)
	return s.Clone(), nil
}

func (p *Provider) Subscribe(fn identity.Listener) func() {
	return p.listeners.Add(fn)
}
