// Package identity describes the external identity provider that owns the page's session.
package identity

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/session"
)

// EventKind is the kind of an auth state change reported by a provider.
type EventKind string

const (
	InitialSession EventKind = "INITIAL_SESSION"
	SignedIn       EventKind = "SIGNED_IN"
	SignedOut      EventKind = "SIGNED_OUT"
	TokenRefreshed EventKind = "TOKEN_REFRESHED"
	UserUpdated    EventKind = "USER_UPDATED"
)

// Event is an auth state change. Session is nil for SignedOut.
type Event struct {
	Kind    EventKind
	Session *session.Session
}

type Listener func(Event)

// Provider issues, refreshes and validates sessions. Implementations deliver change
// events to listeners before the mutating call returns.
type Provider interface {
	GetSession(ctx context.Context) (*session.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error)
	// SignUp returns a nil session when the provider requires email confirmation.
	SignUp(ctx context.Context, email, password string) (*session.Session, error)
	// SetSession adopts tokens issued elsewhere.
	SetSession(ctx context.Context, s *session.Session) (*session.Session, error)
	// SignOut ends the session locally. Other devices stay signed in.
	SignOut(ctx context.Context) error
	GetUser(ctx context.Context, accessToken string) (*session.User, error)
	Subscribe(fn Listener) (unsubscribe func())
}

// Listeners is a subscription list providers embed to fan out events.
type Listeners struct {
	next  int
	fns   map[int]Listener
	order []int
	lock  sync.RWMutex
}

func (l *Listeners) Add(fn Listener) func() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]Listener)
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.order = append(l.order, id)

	return func() {
		l.lock.Lock()
		defer l.lock.Unlock()
		if _, ok := l.fns[id]; !ok {
			return
		}
		delete(l.fns, id)
		for i, v := range l.order {
			if v == id {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
}

// Notify calls every listener in subscription order on the caller's goroutine.
func (l *Listeners) Notify(ev Event) {
	l.lock.RLock()
	fns := make([]Listener, 0, len(l.order))
	for _, id := range l.order {
		fns = append(fns, l.fns[id])
	}
	l.lock.RUnlock()

	for _, fn := range fns {
		fn(Event{Kind: ev.Kind, Session: ev.Session.Clone()})
	}
}

// Error is a rejection reported by the provider. Message is safe to show to the user.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// Reject builds an Error wrapping sentinel.
func Reject(sentinel error, status int, message string) *Error {
	return &Error{Status: status, Message: message, Err: sentinel}
}

// Message returns the user-visible text of a provider failure.
func Message(err error) string {
	var perr *Error
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return "Something went wrong. Please try again."
}
