package synchronizer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/identity/providerfake"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/sessionstore"
	"github.com/jrsteele09/go-chat-sync/synchronizer"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	origin  string
	session *session.Session
}

type recordingEmitter struct {
	lock sync.Mutex
	got  []emitted
	err  error
}

func (r *recordingEmitter) Emit(_ context.Context, origin string, s *session.Session) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.got = append(r.got, emitted{origin: origin, session: s.Clone()})
	return r.err
}

func (r *recordingEmitter) fail(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.err = err
}

func (r *recordingEmitter) all() []emitted {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]emitted(nil), r.got...)
}

type fixture struct {
	ctx      context.Context
	backend  *providerfake.Backend
	user     session.User
	provider *providerfake.Provider
	store    *sessionstore.Memory
	emitter  *recordingEmitter
	sync     *synchronizer.Synchronizer
}

func newFixture(t *testing.T, relay bool, withProvider bool) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		backend: providerfake.NewBackend(),
		store:   sessionstore.NewMemory(),
		emitter: &recordingEmitter{},
	}
	f.user = f.backend.AddUser("ada@example.com", "Secret123!")

	opts := synchronizer.Options{
		ID:      "page-a",
		Store:   f.store,
		Emitter: f.emitter,
		Relay:   relay,
		Logger:  zerolog.Nop(),
	}
	if withProvider {
		f.provider = f.backend.NewProvider()
		opts.Provider = f.provider
	}
	s, err := synchronizer.New(opts)
	require.NoError(t, err)
	f.sync = s
	t.Cleanup(s.Close)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sync.Start(f.ctx))
	select {
	case <-f.sync.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("synchronizer never synced")
	}
}

// flush waits for every transition queued so far.
func (f *fixture) flush(t *testing.T) *session.Session {
	t.Helper()
	require.NoError(t, f.sync.Flush(f.ctx))
	return f.sync.Current()
}

func (f *fixture) push(t *testing.T, s *session.Session) *syncmsg.Response {
	t.Helper()
	msg := syncmsg.New(syncmsg.BackgroundPushSession, s)
	msg.Origin = "background"
	resp, err := f.sync.Receive(f.ctx, msg)
	require.NoError(t, err)
	return resp
}

func TestStart(t *testing.T) {
	t.Run("signed out start emits nothing", func(t *testing.T) {
		f := newFixture(t, false, true)
		require.Equal(t, synchronizer.Initializing, f.sync.State())
		f.start(t)
		require.Equal(t, synchronizer.Synced, f.sync.State())
		require.Nil(t, f.flush(t))
		require.Empty(t, f.emitter.all())
	})

	t.Run("existing provider session is stored and emitted", func(t *testing.T) {
		f := newFixture(t, false, true)
		s, err := f.provider.SignInWithPassword(f.ctx, "ada@example.com", "Secret123!")
		require.NoError(t, err)

		f.start(t)
		f.flush(t)
		stored, err := f.store.Get(f.ctx)
		require.NoError(t, err)
		require.True(t, session.SameTokens(s, stored))

		got := f.emitter.all()
		require.Len(t, got, 1)
		require.Equal(t, "page-a", got[0].origin)
		require.True(t, session.SameTokens(s, got[0].session))
	})

	t.Run("store seeds a provider-less context", func(t *testing.T) {
		f := newFixture(t, true, false)
		s := f.backend.Issue(f.user)
		require.NoError(t, f.store.Set(f.ctx, s))
		f.start(t)
		require.True(t, session.SameTokens(s, f.sync.Current()))
	})

	t.Run("start twice fails", func(t *testing.T) {
		f := newFixture(t, false, true)
		f.start(t)
		require.Error(t, f.sync.Start(f.ctx))
	})
}

func TestLocalChangeIsEmittedOnce(t *testing.T) {
	f := newFixture(t, false, true)
	f.start(t)

	var watched []*session.Session
	f.sync.Watch(func(s *session.Session) { watched = append(watched, s) })

	s, err := f.provider.SignInWithPassword(f.ctx, "ada@example.com", "Secret123!")
	require.NoError(t, err)
	f.flush(t)

	got := f.emitter.all()
	require.Len(t, got, 1)
	require.True(t, session.SameTokens(s, got[0].session))
	require.Len(t, watched, 1)

	refreshed, err := f.provider.Refresh(f.ctx)
	require.NoError(t, err)
	f.flush(t)
	require.Len(t, f.emitter.all(), 2)
	require.True(t, session.SameTokens(refreshed, f.sync.Current()))

	require.NoError(t, f.provider.SignOut(f.ctx))
	f.flush(t)
	got = f.emitter.all()
	require.Len(t, got, 3)
	require.Nil(t, got[2].session)
	require.Nil(t, f.sync.Current())
}

func TestInboundApply(t *testing.T) {
	t.Run("applied update is not echoed", func(t *testing.T) {
		f := newFixture(t, false, true)
		f.start(t)

		s := f.backend.Issue(f.user)
		resp := f.push(t, s)
		require.True(t, resp.OK)
		f.flush(t)

		require.Equal(t, 1, f.provider.SetSessionCalls())
		require.True(t, session.SameTokens(s, f.sync.Current()))
		current, err := f.provider.GetSession(f.ctx)
		require.NoError(t, err)
		require.True(t, session.SameTokens(s, current))
		require.Empty(t, f.emitter.all())
	})

	t.Run("repeated identical update is a no-op", func(t *testing.T) {
		f := newFixture(t, false, true)
		f.start(t)

		s := f.backend.Issue(f.user)
		for i := 0; i < 3; i++ {
			f.push(t, s)
		}
		f.flush(t)
		require.Equal(t, 1, f.provider.SetSessionCalls())
		require.Empty(t, f.emitter.all())
	})

	t.Run("partial session is a sign-out", func(t *testing.T) {
		f := newFixture(t, false, true)
		s, err := f.provider.SignInWithPassword(f.ctx, "ada@example.com", "Secret123!")
		require.NoError(t, err)
		f.start(t)

		f.push(t, &session.Session{AccessToken: s.AccessToken})
		f.flush(t)
		require.Equal(t, 0, f.provider.SetSessionCalls())
		require.Equal(t, 1, f.provider.SignOutCalls())
		require.Nil(t, f.sync.Current())
		// only the start emission, the sign-out was applied from outside
		require.Len(t, f.emitter.all(), 1)
	})

	t.Run("clear session signs out", func(t *testing.T) {
		f := newFixture(t, false, true)
		_, err := f.provider.SignInWithPassword(f.ctx, "ada@example.com", "Secret123!")
		require.NoError(t, err)
		f.start(t)

		resp, err := f.sync.Receive(f.ctx, syncmsg.New(syncmsg.ExtensionSignOut, nil))
		require.NoError(t, err)
		require.True(t, resp.OK)
		require.Nil(t, f.sync.Current())
	})

	t.Run("rejected session leaves state untouched", func(t *testing.T) {
		f := newFixture(t, false, true)
		f.start(t)
		f.provider.Reject(errors.ErrInvalidToken)

		resp := f.push(t, f.backend.Issue(f.user))
		require.False(t, resp.OK)
		f.flush(t)
		require.Nil(t, f.sync.Current())
		require.Empty(t, f.emitter.all())

		t.Run("apply region is released after a failure", func(t *testing.T) {
			f.provider.Reject(nil)
			s, err := f.provider.SignInWithPassword(f.ctx, "ada@example.com", "Secret123!")
			require.NoError(t, err)
			f.flush(t)
			got := f.emitter.all()
			require.Len(t, got, 1)
			require.True(t, session.SameTokens(s, got[0].session))
		})
	})

	t.Run("own origin is dropped", func(t *testing.T) {
		f := newFixture(t, false, true)
		f.start(t)

		msg := syncmsg.New(syncmsg.ExtensionSetSession, f.backend.Issue(f.user))
		msg.Origin = f.sync.ID()
		resp, err := f.sync.Receive(f.ctx, msg)
		require.NoError(t, err)
		require.Nil(t, resp)
		require.Equal(t, 0, f.provider.SetSessionCalls())
	})
}

func TestExpiredInboundSessionIsRefreshed(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	backend := providerfake.NewBackend(providerfake.WithNowTime(func() time.Time { return now }))
	stale := backend.Issue(backend.AddUser("ada@example.com", "Secret123!"))
	now = now.Add(2 * time.Hour)

	provider := backend.NewProvider()
	emitter := &recordingEmitter{}
	s, err := synchronizer.New(synchronizer.Options{
		ID:       "page-a",
		Store:    sessionstore.NewMemory(),
		Provider: provider,
		Emitter:  emitter,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Start(ctx))
	<-s.Ready()

	msg := syncmsg.New(syncmsg.BackgroundPushSession, stale)
	msg.Origin = "background"
	resp, err := s.Receive(ctx, msg)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.NoError(t, s.Flush(ctx))

	current := s.Current()
	require.NotNil(t, current)
	require.False(t, session.SameTokens(stale, current))
	fromProvider, err := provider.GetSession(ctx)
	require.NoError(t, err)
	require.True(t, session.SameTokens(fromProvider, current))

	got := emitter.all()
	require.Len(t, got, 1)
	require.Equal(t, "page-a", got[0].origin)
	require.True(t, session.SameTokens(current, got[0].session))
}

func TestRelay(t *testing.T) {
	f := newFixture(t, true, false)
	f.start(t)

	s := f.backend.Issue(f.user)
	msg := syncmsg.New(syncmsg.ContentAuthStateUpdate, s)
	msg.Origin = "page-b"
	resp, err := f.sync.Receive(f.ctx, msg)
	require.NoError(t, err)
	require.True(t, resp.OK)

	got := f.emitter.all()
	require.Len(t, got, 1)
	require.Equal(t, "page-b", got[0].origin)
	require.True(t, session.SameTokens(s, got[0].session))

	t.Run("request does not mutate", func(t *testing.T) {
		require.True(t, session.SameTokens(s, f.flush(t)))
		require.Len(t, f.emitter.all(), 1)
	})

	t.Run("emit failure is not retried", func(t *testing.T) {
		f.emitter.fail(errors.ErrNoReceiver)
		resp, err := f.sync.Receive(f.ctx, syncmsg.New(syncmsg.PopupClearSession, nil))
		require.NoError(t, err)
		require.True(t, resp.OK)
		require.Nil(t, f.sync.Current())
		require.Len(t, f.emitter.all(), 2)
	})
}

func TestChannelEmitter(t *testing.T) {
	var sent []syncmsg.Message
	adapter := adapterFunc(func(_ context.Context, to channel.Selector, msg syncmsg.Message) (*syncmsg.Response, error) {
		require.Equal(t, channel.ToBackground(), to)
		sent = append(sent, msg)
		return nil, nil
	})
	emitter := synchronizer.ChannelEmitter{Adapter: adapter, To: channel.ToBackground(), Type: syncmsg.ContentAuthStateUpdate}
	require.NoError(t, emitter.Emit(context.Background(), "tab-1", nil))
	require.Equal(t, []syncmsg.Message{{Type: syncmsg.ContentAuthStateUpdate, Origin: "tab-1"}}, sent)
}

type adapterFunc func(ctx context.Context, to channel.Selector, msg syncmsg.Message) (*syncmsg.Response, error)

func (f adapterFunc) Send(ctx context.Context, to channel.Selector, msg syncmsg.Message) (*syncmsg.Response, error) {
	return f(ctx, to, msg)
}

func (f adapterFunc) OnReceive(channel.Handler) func() { return func() {} }
