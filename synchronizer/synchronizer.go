// Package synchronizer keeps one context's session consistent with every other context.
//
// All transitions run on a single loop goroutine in arrival order: start, provider
// events and inbound messages. Provider callbacks only enqueue, so a provider that
// reports changes from inside SetSession or SignOut never blocks the loop.
package synchronizer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/identity"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/internal/workqueue"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/sessionstore"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
)

type State string

const (
	Initializing State = "INITIALIZING"
	Synced       State = "SYNCED"
)

// Emitter announces a committed change to the other contexts. origin is the id of the
// context the change came from.
type Emitter interface {
	Emit(ctx context.Context, origin string, s *session.Session) error
}

type EmitterFunc func(ctx context.Context, origin string, s *session.Session) error

func (f EmitterFunc) Emit(ctx context.Context, origin string, s *session.Session) error {
	return f(ctx, origin, s)
}

type Options struct {
	// ID identifies this context in message origins. Defaults to a random id.
	ID    string
	Store sessionstore.Store
	// Provider owns the session in page contexts. Contexts without one hold whatever
	// the store and inbound messages say.
	Provider identity.Provider
	// Channel delivers inbound messages.
	Channel channel.Adapter
	Emitter Emitter
	// Relay re-emits applied inbound updates so every other peer receives them.
	Relay  bool
	Logger zerolog.Logger
}

type job struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

type loopKey struct{}

type Synchronizer struct {
	id       string
	store    sessionstore.Store
	provider identity.Provider
	channel  channel.Adapter
	emitter  Emitter
	relay    bool
	log      zerolog.Logger

	jobs   *workqueue.Queue[job]
	region applyRegion
	state  atomic.Value
	ready  chan struct{}

	held     *session.Session
	heldLock sync.RWMutex

	watchers    watchers
	cleanup     []func()
	cleanupLock sync.Mutex
	cancel      context.CancelFunc
	started     atomic.Bool
	closed      chan struct{}
	once        sync.Once
}

func New(opts Options) (*Synchronizer, error) {
	if opts.Store == nil {
		return nil, errors.Wrapf(errors.ErrInvalidPayload, "synchronizer requires a store")
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}

	s := &Synchronizer{
		id:       opts.ID,
		store:    opts.Store,
		provider: opts.Provider,
		channel:  opts.Channel,
		emitter:  opts.Emitter,
		relay:    opts.Relay,
		log:      opts.Logger.With().Str("component", "synchronizer").Str("context", opts.ID).Logger(),
		jobs:     workqueue.New[job](),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
	}
	s.state.Store(Initializing)
	return s, nil
}

func (s *Synchronizer) ID() string {
	return s.id
}

func (s *Synchronizer) State() State {
	return s.state.Load().(State)
}

// Ready is closed once the context has entered Synced.
func (s *Synchronizer) Ready() <-chan struct{} {
	return s.ready
}

// Current returns the held session. It only changes between whole transitions.
func (s *Synchronizer) Current() *session.Session {
	s.heldLock.RLock()
	defer s.heldLock.RUnlock()
	return s.held.Clone()
}

// Watch calls fn on the loop goroutine after every committed change. fn must not block.
func (s *Synchronizer) Watch(fn func(*session.Session)) (unsubscribe func()) {
	return s.watchers.add(fn)
}

// Start launches the loop and schedules the initial read. Inbound messages that arrive
// before the context is synced are handled after it, in order.
func (s *Synchronizer) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.Wrapf(errors.ErrUnsupported, "synchronizer already started")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.jobs.Run(context.WithValue(loopCtx, loopKey{}, s), func(j job) {
		j.fn(context.WithValue(loopCtx, loopKey{}, s))
		if j.done != nil {
			close(j.done)
		}
	})

	if s.channel != nil {
		s.onClose(s.channel.OnReceive(s.Receive))
	}
	s.jobs.Push(job{fn: s.start})
	return nil
}

func (s *Synchronizer) onClose(fn func()) {
	s.cleanupLock.Lock()
	defer s.cleanupLock.Unlock()
	s.cleanup = append(s.cleanup, fn)
}

// Close stops the loop after the queued transitions have run. It must not be called
// from a watcher.
func (s *Synchronizer) Close() {
	s.once.Do(func() {
		s.cleanupLock.Lock()
		cleanup := s.cleanup
		s.cleanup = nil
		s.cleanupLock.Unlock()
		for _, fn := range cleanup {
			fn()
		}
		close(s.closed)
		s.jobs.Close()
		if s.started.Load() {
			<-s.jobs.Done()
			s.cancel()
		}
	})
}

// onLoop reports whether ctx belongs to a transition already running on this loop.
func (s *Synchronizer) onLoop(ctx context.Context) bool {
	owner, _ := ctx.Value(loopKey{}).(*Synchronizer)
	return owner == s
}

// do runs fn on the loop and waits for it. Calls made from the loop run inline.
func (s *Synchronizer) do(ctx context.Context, fn func(ctx context.Context)) error {
	if s.onLoop(ctx) {
		fn(ctx)
		return nil
	}
	done := make(chan struct{})
	if !s.jobs.Push(job{fn: fn, done: done}) {
		return errors.Wrapf(errors.ErrNoReceiver, "synchronizer closed")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		select {
		case <-done:
			return nil
		case <-s.jobs.Done():
			return errors.Wrapf(errors.ErrNoReceiver, "synchronizer closed")
		}
	}
}

// Flush waits until every transition queued before it has run. A caller that has just
// changed the provider uses it to read its own change back through Current.
func (s *Synchronizer) Flush(ctx context.Context) error {
	return s.do(ctx, func(context.Context) {})
}

func (s *Synchronizer) start(ctx context.Context) {
	var (
		current *session.Session
		err     error
	)
	if s.provider != nil {
		s.onClose(s.provider.Subscribe(s.onProviderEvent))
		current, err = s.provider.GetSession(ctx)
	} else {
		current, err = s.store.Get(ctx)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read initial session, starting signed out")
		current = nil
	}
	current = session.Normalize(current)

	if err := s.store.Set(ctx, current); err != nil {
		s.log.Error().Err(err).Msg("failed to store initial session")
	}
	s.setHeld(current)
	s.state.Store(Synced)
	close(s.ready)
	s.log.Debug().Bool("signed_in", current != nil).Msg("synced")

	s.watchers.notify(current)
	if current != nil {
		s.emit(ctx, s.id, current)
	}
}

func (s *Synchronizer) setHeld(v *session.Session) {
	s.heldLock.Lock()
	defer s.heldLock.Unlock()
	s.held = v.Clone()
}

// commit stores v and publishes it to watchers. It reports whether the tokens changed.
func (s *Synchronizer) commit(ctx context.Context, v *session.Session) (bool, error) {
	v = session.Normalize(v)
	changed := !session.SameTokens(s.Current(), v)
	if err := s.store.Set(ctx, v); err != nil {
		return false, errors.Wrapf(err, "failed to store session")
	}
	s.setHeld(v)
	if changed {
		s.watchers.notify(v)
	}
	return changed, nil
}

func (s *Synchronizer) emit(ctx context.Context, origin string, v *session.Session) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, origin, v); err != nil {
		s.log.Debug().Err(err).Msg("emit failed")
	}
}

// onProviderEvent runs on the provider's goroutine. Whether the event belongs to an
// apply in progress is decided now, the transition itself runs on the loop.
func (s *Synchronizer) onProviderEvent(ev identity.Event) {
	suppressed := s.region.covers(ev.Session)
	s.jobs.Push(job{fn: func(ctx context.Context) {
		s.handleProviderEvent(ctx, ev, suppressed)
	}})
}

func (s *Synchronizer) handleProviderEvent(ctx context.Context, ev identity.Event, suppressed bool) {
	if s.State() != Synced {
		return
	}
	changed, err := s.commit(ctx, ev.Session)
	if err != nil {
		s.log.Error().Err(err).Str("event", string(ev.Kind)).Msg("failed to commit provider event")
		return
	}
	if suppressed || !changed {
		return
	}
	s.log.Debug().Str("event", string(ev.Kind)).Msg("local change")
	s.emit(ctx, s.id, session.Normalize(ev.Session))
}

// Receive handles one inbound message. It is registered on the channel by Start and
// may be called directly by contexts that route messages themselves.
func (s *Synchronizer) Receive(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	if msg.Origin != "" && msg.Origin == s.id {
		return nil, nil
	}

	var (
		resp *syncmsg.Response
		err  error
	)
	switch msg.Kind() {
	case syncmsg.KindRequestSession:
		if doErr := s.do(ctx, func(context.Context) { resp = syncmsg.WithSession(s.Current()) }); doErr != nil {
			return nil, doErr
		}
		return resp, nil

	case syncmsg.KindPushSession, syncmsg.KindAuthStateUpdate:
		incoming := session.Normalize(msg.Payload)
		if doErr := s.do(ctx, func(ctx context.Context) { err = s.apply(ctx, msg.Origin, incoming) }); doErr != nil {
			return nil, doErr
		}

	case syncmsg.KindClearSession:
		if doErr := s.do(ctx, func(ctx context.Context) { err = s.apply(ctx, msg.Origin, nil) }); doErr != nil {
			return nil, doErr
		}

	default:
		return nil, errors.Wrapf(errors.ErrMalformedMessage, "unhandled type %q", msg.Type)
	}

	if err != nil {
		return syncmsg.Failed(err), nil
	}
	return syncmsg.OK(), nil
}

// apply adopts a session produced by another context. Runs on the loop.
func (s *Synchronizer) apply(ctx context.Context, origin string, incoming *session.Session) error {
	if s.State() != Synced {
		return errors.Wrapf(errors.ErrUnsupported, "not synced")
	}
	if session.SameTokens(s.Current(), incoming) {
		return nil
	}

	applied := incoming
	if s.provider != nil {
		var err error
		applied, err = s.applyToProvider(ctx, incoming)
		if err != nil {
			s.log.Warn().Err(err).Msg("provider rejected inbound session")
			return err
		}
	}

	if _, err := s.commit(ctx, applied); err != nil {
		s.log.Error().Err(err).Msg("failed to commit inbound session")
		return err
	}
	s.log.Debug().Bool("signed_in", applied != nil).Str("from", origin).Msg("applied inbound session")

	switch {
	case s.provider != nil && !session.SameTokens(applied, incoming):
		// The provider swapped the pair, e.g. refreshed expired tokens. Its event will find
		// nothing new to commit, so the new pair goes out now as this context's change.
		s.emit(ctx, s.id, applied)
	case s.relay:
		if origin == "" {
			origin = s.id
		}
		s.emit(ctx, origin, applied)
	}
	return nil
}

// applyToProvider calls the provider inside the apply region. The region is released
// on every path, including panics.
func (s *Synchronizer) applyToProvider(ctx context.Context, incoming *session.Session) (*session.Session, error) {
	s.region.enter(incoming)
	defer s.region.exit()

	if incoming == nil {
		return nil, s.provider.SignOut(ctx)
	}
	applied, err := s.provider.SetSession(ctx, incoming)
	if err != nil {
		return nil, err
	}
	if applied == nil {
		applied = incoming
	}
	return applied, nil
}
