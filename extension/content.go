package extension

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/channel/window"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
)

// Content bridges one tab's page and the background. It holds no session of its own.
type Content struct {
	page    *window.Channel
	runtime channel.Adapter
	log     zerolog.Logger

	unsubs []func()
	once   sync.Once
}

// NewContent injects the bridge into page. rt is the tab's connection to the background.
func NewContent(page *window.Page, rt channel.Adapter, logger zerolog.Logger) (*Content, error) {
	ch, err := page.Open(syncmsg.SourceExtension)
	if err != nil {
		return nil, err
	}
	return &Content{
		page:    ch,
		runtime: rt,
		log:     logger.With().Str("component", "content").Str("page", page.Origin()).Logger(),
	}, nil
}

// Start wires both directions and hands the background's current session to the page.
func (c *Content) Start(ctx context.Context) {
	c.unsubs = append(c.unsubs,
		c.page.OnReceive(c.fromPage),
		c.runtime.OnReceive(c.fromBackground),
	)

	resp, err := c.runtime.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.ContentRequestSession, nil))
	if err != nil {
		c.log.Debug().Err(err).Msg("background unavailable on load")
		return
	}
	if resp != nil && resp.Session.Present() {
		c.toPage(ctx, "", resp.Session)
	}
}

func (c *Content) fromPage(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	if msg.Source != syncmsg.SourceWebApp || msg.Type != syncmsg.PageAuthState {
		return nil, nil
	}

	update := syncmsg.New(syncmsg.ContentAuthStateUpdate, msg.Payload)
	update.Origin = msg.Origin
	if _, err := c.runtime.Send(ctx, channel.ToBackground(), update); err != nil {
		c.log.Debug().Err(err).Msg("failed to forward auth state")
	}
	return nil, nil
}

func (c *Content) fromBackground(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	if msg.Type != syncmsg.BackgroundPushSession {
		return nil, nil
	}
	c.toPage(ctx, msg.Origin, msg.Payload)
	return syncmsg.OK(), nil
}

// toPage posts tokens only. The page's provider resolves the rest.
func (c *Content) toPage(ctx context.Context, origin string, s *session.Session) {
	var msg syncmsg.Message
	if s.Present() {
		msg = syncmsg.New(syncmsg.ExtensionSetSession, &session.Session{
			AccessToken:  s.AccessToken,
			RefreshToken: s.RefreshToken,
		})
	} else {
		msg = syncmsg.New(syncmsg.ExtensionSignOut, nil)
	}
	msg.Origin = origin
	if _, err := c.page.Send(ctx, channel.Selector{}, msg); err != nil {
		c.log.Debug().Err(err).Msg("failed to post to page")
	}
}

// Close detaches the bridge from the page and the background.
func (c *Content) Close() {
	c.once.Do(func() {
		for _, fn := range c.unsubs {
			fn()
		}
		c.page.Close()
	})
}
