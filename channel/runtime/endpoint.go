package runtime

import (
	"context"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
)

var (
	_ channel.Adapter = (*Endpoint)(nil)
	_ Peer            = (*Endpoint)(nil)
)

// Endpoint is an in-process tab or view attached to a Router.
type Endpoint struct {
	id         string
	kind       channel.PeerKind
	router     *Router
	handlers   channel.Handlers
	unregister func()
}

func (e *Endpoint) ID() string             { return e.id }
func (e *Endpoint) Kind() channel.PeerKind { return e.kind }

// Deliver runs the endpoint's handlers. An endpoint nobody listens on has no receiving end.
func (e *Endpoint) Deliver(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	return e.handlers.Dispatch(ctx, msg)
}

func (e *Endpoint) Send(ctx context.Context, to channel.Selector, msg syncmsg.Message) (*syncmsg.Response, error) {
	return e.router.Send(ctx, to, msg)
}

func (e *Endpoint) OnReceive(h channel.Handler) func() {
	return e.handlers.Add(h)
}

// Close detaches the endpoint from the router.
func (e *Endpoint) Close() {
	e.unregister()
}
