// Package runtime is the broadcast-capable transport between the background context
// and the tabs and views attached to it.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
)

// Peer is a context reachable from the router.
type Peer interface {
	ID() string
	Kind() channel.PeerKind
	Deliver(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error)
}

var _ channel.Adapter = (*Router)(nil)

// Router lives in the background context. It owns the peer registry and dispatches
// messages addressed to the background to its handlers.
type Router struct {
	peers    map[string]Peer
	order    []string
	handlers channel.Handlers
	lock     sync.RWMutex
	log      zerolog.Logger
}

func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		peers: make(map[string]Peer),
		log:   logger.With().Str("component", "runtime-router").Logger(),
	}
}

// Register adds p to the registry. A peer registered again under the same id replaces the old one.
func (r *Router) Register(p Peer) (unregister func()) {
	r.lock.Lock()
	if _, exists := r.peers[p.ID()]; !exists {
		r.order = append(r.order, p.ID())
	}
	r.peers[p.ID()] = p
	r.lock.Unlock()

	r.log.Debug().Str("peer", p.ID()).Str("kind", string(p.Kind())).Msg("peer registered")

	var once sync.Once
	return func() {
		once.Do(func() {
			r.lock.Lock()
			defer r.lock.Unlock()
			if current, ok := r.peers[p.ID()]; !ok || current != p {
				return
			}
			delete(r.peers, p.ID())
			for i, id := range r.order {
				if id == p.ID() {
					r.order = append(r.order[:i], r.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Peers lists the currently reachable peers of the given kinds, grouped in kind order.
func (r *Router) Peers(kinds ...channel.PeerKind) []Peer {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var out []Peer
	for _, kind := range kinds {
		for _, id := range r.order {
			if p := r.peers[id]; p.Kind() == kind {
				out = append(out, p)
			}
		}
	}
	return out
}

func (r *Router) match(to channel.Selector) []Peer {
	var out []Peer
	for _, p := range r.Peers(to.Kinds...) {
		if to.Matches(p.Kind(), p.ID()) {
			out = append(out, p)
		}
	}
	return out
}

// Send delivers msg to the peers matched by to. A broadcast delivers to each peer
// independently and never returns a per-peer failure.
func (r *Router) Send(ctx context.Context, to channel.Selector, msg syncmsg.Message) (*syncmsg.Response, error) {
	if to.Matches(channel.KindBackground, to.PeerID) && !to.Broadcast() {
		return r.Dispatch(ctx, msg)
	}

	peers := r.match(to)
	if !to.Broadcast() {
		if len(peers) == 0 {
			return nil, errors.ErrNoReceiver
		}
		return peers[0].Deliver(ctx, msg)
	}

	r.broadcast(ctx, peers, msg, 0)
	return nil, nil
}

// Delivery is one peer's outcome of a broadcast.
type Delivery struct {
	Peer Peer
	Err  error
}

// Broadcast delivers msg to every peer matched by to, one after another in kind order.
// Each peer gets at most timeout, none when zero. A peer that fails or panics is
// recorded and the rest still get their attempt.
func (r *Router) Broadcast(ctx context.Context, to channel.Selector, msg syncmsg.Message, timeout time.Duration) []Delivery {
	return r.broadcast(ctx, r.match(to), msg, timeout)
}

func (r *Router) broadcast(ctx context.Context, peers []Peer, msg syncmsg.Message, timeout time.Duration) []Delivery {
	out := make([]Delivery, 0, len(peers))
	for _, p := range peers {
		err := deliver(ctx, p, msg, timeout)
		if err != nil {
			r.log.Debug().Err(err).Str("peer", p.ID()).Str("type", string(msg.Type)).Msg("delivery skipped")
		}
		out = append(out, Delivery{Peer: p, Err: err})
	}
	return out
}

func deliver(ctx context.Context, p Peer, msg syncmsg.Message, timeout time.Duration) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("peer %s panicked: %v", p.ID(), rec)
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err = p.Deliver(ctx, msg)
	return err
}

func (r *Router) OnReceive(h channel.Handler) func() {
	return r.handlers.Add(h)
}

// Dispatch hands a message addressed to the background to its handlers.
func (r *Router) Dispatch(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	if err := msg.Validate(); err != nil {
		r.log.Debug().Err(err).Msg("dropping malformed message")
		return nil, err
	}
	return r.handlers.Dispatch(ctx, msg)
}

// Connect attaches an in-process endpoint. An empty id gets a generated one.
func (r *Router) Connect(kind channel.PeerKind, id string) *Endpoint {
	if id == "" {
		id = uuid.New().String()
	}
	e := &Endpoint{id: id, kind: kind, router: r}
	e.unregister = r.Register(e)
	return e
}
