// Package webapp is the web page's auth context: the page's identity provider kept in
// sync with the extension over the page-local window channel.
package webapp

import (
	"context"
	"time"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/channel/window"
	"github.com/jrsteele09/go-chat-sync/identity"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/sessionstore"
	"github.com/jrsteele09/go-chat-sync/synchronizer"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/jrsteele09/go-chat-sync/users"
	"github.com/rs/zerolog"
)

// ErrorDismissDelay is how long the UI shows a sign-in or sign-up error.
const ErrorDismissDelay = 5 * time.Second

// Result is what the sign-in and sign-up forms show. Error is user visible.
type Result struct {
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	DismissAfter time.Duration `json:"-"`
}

func failed(msg string) Result {
	return Result{Success: false, Error: msg, DismissAfter: ErrorDismissDelay}
}

type Options struct {
	// ID identifies the page in message origins. Defaults to a random id.
	ID       string
	Provider identity.Provider
	Page     *window.Page
	// PasswordPolicy, when set, checks sign-up passwords before the provider does.
	PasswordPolicy func(password string) error
	Logger         zerolog.Logger
}

type AuthContext struct {
	provider       identity.Provider
	passwordPolicy func(string) error
	channel        *window.Channel
	sync           *synchronizer.Synchronizer
	log            zerolog.Logger
}

func New(opts Options) (*AuthContext, error) {
	if opts.Provider == nil || opts.Page == nil {
		return nil, errors.Wrapf(errors.ErrInvalidPayload, "auth context requires a provider and a page")
	}

	ch, err := opts.Page.Open(syncmsg.SourceWebApp)
	if err != nil {
		return nil, err
	}
	s, err := synchronizer.New(synchronizer.Options{
		ID:       opts.ID,
		Store:    sessionstore.NewMemory(),
		Provider: opts.Provider,
		Channel:  ch,
		Emitter: synchronizer.ChannelEmitter{
			Adapter: ch,
			To:      channel.Selector{},
			Type:    syncmsg.PageAuthState,
		},
		Logger: opts.Logger,
	})
	if err != nil {
		ch.Close()
		return nil, err
	}

	return &AuthContext{
		provider:       opts.Provider,
		passwordPolicy: opts.PasswordPolicy,
		channel:        ch,
		sync:           s,
		log:            opts.Logger.With().Str("component", "auth-context").Logger(),
	}, nil
}

// Start reads the provider's session and begins syncing with the extension.
func (a *AuthContext) Start(ctx context.Context) error {
	return a.sync.Start(ctx)
}

func (a *AuthContext) SignUpNewUser(ctx context.Context, email, password string) Result {
	creds := users.Credentials{Email: email, Password: password}.Normalized()
	if err := creds.Validate(); err != nil {
		return failed(err.Error())
	}
	if a.passwordPolicy != nil {
		if err := a.passwordPolicy(creds.Password); err != nil {
			return failed(err.Error())
		}
	}
	if _, err := a.provider.SignUp(ctx, creds.Email, creds.Password); err != nil {
		a.log.Debug().Err(err).Msg("sign up failed")
		return failed(identity.Message(err))
	}
	a.flush(ctx)
	return Result{Success: true}
}

func (a *AuthContext) SignInUser(ctx context.Context, email, password string) Result {
	creds := users.Credentials{Email: email, Password: password}.Normalized()
	if err := creds.Validate(); err != nil {
		return failed(err.Error())
	}
	if _, err := a.provider.SignInWithPassword(ctx, creds.Email, creds.Password); err != nil {
		a.log.Debug().Err(err).Msg("sign in failed")
		return failed(identity.Message(err))
	}
	a.flush(ctx)
	return Result{Success: true}
}

// SignOut ends the session on this device. The extension follows through the sync.
func (a *AuthContext) SignOut(ctx context.Context) error {
	if err := a.provider.SignOut(ctx); err != nil {
		return err
	}
	a.flush(ctx)
	return nil
}

// flush lets the provider event raised by the call that just returned reach Session.
func (a *AuthContext) flush(ctx context.Context) {
	if err := a.sync.Flush(ctx); err != nil {
		a.log.Debug().Err(err).Msg("flush failed")
	}
}

func (a *AuthContext) Session() *session.Session {
	return a.sync.Current()
}

// Loading is true until the initial session has been read.
func (a *AuthContext) Loading() bool {
	return a.sync.State() != synchronizer.Synced
}

func (a *AuthContext) Ready() <-chan struct{} {
	return a.sync.Ready()
}

func (a *AuthContext) Watch(fn func(*session.Session)) func() {
	return a.sync.Watch(fn)
}

func (a *AuthContext) ID() string {
	return a.sync.ID()
}

func (a *AuthContext) Close() {
	a.sync.Close()
	a.channel.Close()
}
