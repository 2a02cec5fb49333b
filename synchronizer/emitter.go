package synchronizer

import (
	"context"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
)

// ChannelEmitter sends each change as one message of Type over Adapter.
type ChannelEmitter struct {
	Adapter channel.Adapter
	To      channel.Selector
	Type    syncmsg.Type
}

func (e ChannelEmitter) Emit(ctx context.Context, origin string, s *session.Session) error {
	msg := syncmsg.New(e.Type, s)
	msg.Origin = origin
	_, err := e.Adapter.Send(ctx, e.To, msg)
	return err
}
