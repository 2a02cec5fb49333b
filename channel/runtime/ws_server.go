package runtime

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // callers of Accept check the Origin header
	},
}

// Guard decides what one remote peer may exchange with the router.
type Guard interface {
	// Inbound handles a message from the peer. next is the router's own dispatch.
	Inbound(ctx context.Context, msg syncmsg.Message, next channel.Handler) (*syncmsg.Response, error)
	// Outbound reports whether msg may be delivered to the peer.
	Outbound(msg syncmsg.Message) bool
}

var _ Peer = (*wsPeer)(nil)

// wsPeer is a tab or view attached to the router over a websocket.
type wsPeer struct {
	id    string
	kind  channel.PeerKind
	conn  *wsConn
	guard Guard
}

func (p *wsPeer) ID() string             { return p.id }
func (p *wsPeer) Kind() channel.PeerKind { return p.kind }

func (p *wsPeer) Deliver(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	if p.guard != nil && !p.guard.Outbound(msg) {
		return nil, errors.Wrapf(errors.ErrForbidden, "%s withheld from peer %s", msg.Type, p.id)
	}
	return p.conn.request(ctx, msg)
}

func (p *wsPeer) handle(r *Router) channel.Handler {
	if p.guard == nil {
		return r.Dispatch
	}
	return func(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
		return p.guard.Inbound(ctx, msg, r.Dispatch)
	}
}

// Accept upgrades the request, registers the connection as a peer and serves it until
// it disconnects. A nil guard lets the peer exchange every message.
func (r *Router) Accept(w http.ResponseWriter, req *http.Request, kind channel.PeerKind, id string, guard Guard) error {
	switch kind {
	case channel.KindTab, channel.KindView:
	default:
		return errors.Wrapf(errors.ErrInvalidPayload, "unsupported peer kind %q", kind)
	}
	if id == "" {
		return errors.Wrapf(errors.ErrInvalidPayload, "missing peer id")
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return errors.Wrapf(err, "websocket upgrade failed")
	}

	logger := r.log.With().Str("peer", id).Logger()
	peer := &wsPeer{id: id, kind: kind, conn: newWSConn(conn, logger), guard: guard}
	unregister := r.Register(peer)
	defer unregister()

	err = peer.conn.serve(req.Context(), peer.handle(r))
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.Debug().Err(err).Msg("peer disconnected")
	}
	return nil
}
