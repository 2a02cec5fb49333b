package extension

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
)

const signedOut = "Signed out"

// Popup shows who is signed in and can sign every context out.
type Popup struct {
	runtime channel.Adapter
	log     zerolog.Logger

	current     *session.Session
	renders     []func(status string)
	lock        sync.Mutex
	unsubscribe func()
}

func NewPopup(rt channel.Adapter, logger zerolog.Logger) *Popup {
	return &Popup{
		runtime: rt,
		log:     logger.With().Str("component", "popup").Logger(),
	}
}

// Render formats the popup's status line.
func Render(s *session.Session) string {
	if s == nil || s.User.Email == "" {
		return signedOut
	}
	return fmt.Sprintf("Signed in as %s", s.User.Email)
}

// OnRender registers fn to be called with every new status line.
func (p *Popup) OnRender(fn func(status string)) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.renders = append(p.renders, fn)
}

// Open asks the background for the session and starts following its pushes.
func (p *Popup) Open(ctx context.Context) error {
	p.unsubscribe = p.runtime.OnReceive(func(_ context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
		if msg.Type != syncmsg.BackgroundPushSession {
			return nil, nil
		}
		p.render(msg.Payload)
		return syncmsg.OK(), nil
	})

	resp, err := p.runtime.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.PopupRequestSession, nil))
	if err != nil {
		p.render(nil)
		return err
	}
	if resp != nil {
		p.render(resp.Session)
	} else {
		p.render(nil)
	}
	return nil
}

func (p *Popup) render(s *session.Session) {
	p.lock.Lock()
	p.current = session.Normalize(s)
	status := Render(p.current)
	renders := slices.Clone(p.renders)
	p.lock.Unlock()

	for _, fn := range renders {
		fn(status)
	}
}

// Status is the status line as last rendered.
func (p *Popup) Status() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return Render(p.current)
}

func (p *Popup) Session() *session.Session {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.current.Clone()
}

// Logout asks the background to sign every context out.
func (p *Popup) Logout(ctx context.Context) error {
	resp, err := p.runtime.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.PopupClearSession, nil))
	if err != nil {
		return err
	}
	if resp != nil && !resp.OK {
		return fmt.Errorf("logout failed: %s", resp.Error)
	}
	return nil
}

func (p *Popup) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}
