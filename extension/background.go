// Package extension assembles the browser extension's contexts: the background relay,
// the content script bridging each tab's page, and the popup.
package extension

import (
	"context"
	"time"

	"github.com/jrsteele09/go-chat-sync/channel/runtime"
	"github.com/jrsteele09/go-chat-sync/hub"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/internal/metrics"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/sessionstore"
	"github.com/jrsteele09/go-chat-sync/synchronizer"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
)

// BackgroundID is the origin of messages produced by the background itself.
const BackgroundID = "background"

// installer is implemented by durable stores that seed their slot on first install.
type installer interface {
	Init(ctx context.Context) error
}

type BackgroundOptions struct {
	Store           sessionstore.Store
	Router          *runtime.Router
	DeliveryTimeout time.Duration
	Metrics         *metrics.Metrics
	Logger          zerolog.Logger
}

// Background is the single context every tab and view can reach. It holds the durable
// session and relays every accepted update to all peers.
type Background struct {
	router      *runtime.Router
	hub         *hub.Hub
	sync        *synchronizer.Synchronizer
	store       sessionstore.Store
	unsubscribe func()
	log         zerolog.Logger
}

func NewBackground(opts BackgroundOptions) (*Background, error) {
	if opts.Store == nil {
		return nil, errors.Wrapf(errors.ErrInvalidPayload, "background requires a store")
	}
	if opts.Router == nil {
		opts.Router = runtime.NewRouter(opts.Logger)
	}

	h := hub.New(opts.Router,
		hub.WithDeliveryTimeout(opts.DeliveryTimeout),
		hub.WithMetrics(opts.Metrics),
		hub.WithLogger(opts.Logger),
	)
	s, err := synchronizer.New(synchronizer.Options{
		ID:      BackgroundID,
		Store:   opts.Store,
		Emitter: h,
		Relay:   true,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Background{
		router: opts.Router,
		hub:    h,
		sync:   s,
		store:  opts.Store,
		log:    opts.Logger.With().Str("component", "background").Logger(),
	}, nil
}

// Start seeds the durable slot on first install, then starts relaying.
func (b *Background) Start(ctx context.Context) error {
	if store, ok := b.store.(installer); ok {
		if err := store.Init(ctx); err != nil {
			return errors.Wrapf(err, "failed to initialise session slot")
		}
	}
	if err := b.sync.Start(ctx); err != nil {
		return err
	}
	b.unsubscribe = b.router.OnReceive(b.handle)
	return nil
}

func (b *Background) handle(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	switch msg.Type {
	case syncmsg.ContentAuthStateUpdate,
		syncmsg.ContentRequestSession,
		syncmsg.PopupRequestSession,
		syncmsg.PopupClearSession:
		return b.sync.Receive(ctx, msg)
	default:
		b.log.Debug().Str("type", string(msg.Type)).Msg("ignoring message")
		return nil, nil
	}
}

func (b *Background) Router() *runtime.Router {
	return b.router
}

func (b *Background) Ready() <-chan struct{} {
	return b.sync.Ready()
}

// Session is the durable value as last committed.
func (b *Background) Session() *session.Session {
	return b.sync.Current()
}

func (b *Background) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	b.sync.Close()
}
