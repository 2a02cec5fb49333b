// Package hub pushes the background's session to every open tab and extension view.
package hub

import (
	"context"
	"time"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/channel/runtime"
	"github.com/jrsteele09/go-chat-sync/internal/metrics"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/synchronizer"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
)

const defaultDeliveryTimeout = 2 * time.Second

// Broadcaster delivers one message to every peer a selector matches.
type Broadcaster interface {
	Broadcast(ctx context.Context, to channel.Selector, msg syncmsg.Message, timeout time.Duration) []runtime.Delivery
}

var _ synchronizer.Emitter = (*Hub)(nil)

type Hub struct {
	peers   Broadcaster
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
}

type Option func(*Hub)

func WithDeliveryTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hub) {
		h.log = logger.With().Str("component", "hub").Logger()
	}
}

func New(peers Broadcaster, options ...Option) *Hub {
	h := &Hub{
		peers:   peers,
		timeout: defaultDeliveryTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// Result counts the outcome of one broadcast.
type Result struct {
	Delivered int
	Missed    int
}

// BroadcastSession pushes s to every tab, then every view. Each peer gets at most one
// attempt and a failure never stops the others.
func (h *Hub) BroadcastSession(ctx context.Context, origin string, s *session.Session) Result {
	msg := syncmsg.New(syncmsg.BackgroundPushSession, session.Normalize(s))
	msg.Origin = origin

	if h.metrics != nil {
		h.metrics.Broadcasts.Inc()
	}

	var result Result
	for _, d := range h.peers.Broadcast(ctx, channel.Everyone(), msg, h.timeout) {
		kind := d.Peer.Kind()
		if d.Err != nil {
			result.Missed++
			h.observe(kind, "missed")
			h.log.Debug().Err(d.Err).Str("peer", d.Peer.ID()).Str("kind", string(kind)).Msg("push missed")
			continue
		}
		result.Delivered++
		h.observe(kind, "delivered")
	}
	return result
}

func (h *Hub) observe(kind channel.PeerKind, result string) {
	if h.metrics == nil {
		return
	}
	h.metrics.Deliveries.WithLabelValues(string(kind), result).Inc()
}

// Emit broadcasts a committed background change. Broadcasts are best effort and never fail.
func (h *Hub) Emit(ctx context.Context, origin string, s *session.Session) error {
	h.BroadcastSession(ctx, origin, s)
	return nil
}
