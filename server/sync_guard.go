package server

import (
	"context"

	"github.com/jrsteele09/go-chat-sync/auth"
	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/channel/runtime"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
)

var _ runtime.Guard = (*sessionGuard)(nil)

// sessionGuard confines a remote peer to the sessions of the user it authenticated as.
// The peer may touch the background's session only while that session is its own and
// is only pushed its own tokens.
type sessionGuard struct {
	userID string
	held   func() *session.Session
	verify func(ctx context.Context, token string) (*auth.Principal, error)
}

func (g *sessionGuard) owns(s *session.Session) bool {
	return s == nil || s.User.ID == g.userID
}

func (g *sessionGuard) Inbound(ctx context.Context, msg syncmsg.Message, next channel.Handler) (*syncmsg.Response, error) {
	switch msg.Kind() {
	case syncmsg.KindRequestSession:
		resp, err := next(ctx, msg)
		if err != nil || resp == nil {
			return resp, err
		}
		if !g.owns(resp.Session) {
			return syncmsg.Failed(errors.ErrForbidden), nil
		}
		return resp, nil

	case syncmsg.KindPushSession, syncmsg.KindAuthStateUpdate, syncmsg.KindClearSession:
		if !g.owns(g.held()) {
			return syncmsg.Failed(errors.ErrForbidden), nil
		}
		incoming := session.Normalize(msg.Payload)
		if msg.Kind() != syncmsg.KindClearSession && incoming != nil {
			if err := g.verifyTokens(ctx, incoming); err != nil {
				return syncmsg.Failed(err), nil
			}
		}
	}
	return next(ctx, msg)
}

// verifyTokens accepts a session only if its access token authenticates the same user.
func (g *sessionGuard) verifyTokens(ctx context.Context, s *session.Session) error {
	if s.User.ID != "" && s.User.ID != g.userID {
		return errors.ErrForbidden
	}
	p, err := g.verify(ctx, s.AccessToken)
	if err != nil {
		return errors.Wrapf(errors.ErrForbidden, "session does not verify")
	}
	if p.UserID != g.userID {
		return errors.ErrForbidden
	}
	return nil
}

func (g *sessionGuard) Outbound(msg syncmsg.Message) bool {
	return g.owns(session.Normalize(msg.Payload))
}
