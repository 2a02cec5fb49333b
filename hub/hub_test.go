package hub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/channel/runtime"
	"github.com/jrsteele09/go-chat-sync/hub"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/internal/metrics"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	id      string
	kind    channel.PeerKind
	deliver func(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error)
}

func (p *fakePeer) ID() string             { return p.id }
func (p *fakePeer) Kind() channel.PeerKind { return p.kind }
func (p *fakePeer) Deliver(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	return p.deliver(ctx, msg)
}

func newRouter(t *testing.T, peers ...runtime.Peer) *runtime.Router {
	t.Helper()
	router := runtime.NewRouter(zerolog.Nop())
	for _, p := range peers {
		t.Cleanup(router.Register(p))
	}
	return router
}

func TestBroadcastSession(t *testing.T) {
	var (
		lock  sync.Mutex
		order []string
	)
	ok := func(id string, kind channel.PeerKind) *fakePeer {
		return &fakePeer{id: id, kind: kind, deliver: func(_ context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
			require.Equal(t, syncmsg.BackgroundPushSession, msg.Type)
			require.Equal(t, "page-a", msg.Origin)
			lock.Lock()
			order = append(order, id)
			lock.Unlock()
			return syncmsg.OK(), nil
		}}
	}

	router := newRouter(t,
		ok("view-1", channel.KindView),
		ok("tab-1", channel.KindTab),
		&fakePeer{id: "tab-2", kind: channel.KindTab, deliver: func(context.Context, syncmsg.Message) (*syncmsg.Response, error) {
			return nil, errors.ErrNoReceiver
		}},
		ok("tab-3", channel.KindTab),
		&fakePeer{id: "tab-4", kind: channel.KindTab, deliver: func(context.Context, syncmsg.Message) (*syncmsg.Response, error) {
			panic("tab crashed")
		}},
		&fakePeer{id: "tab-5", kind: channel.KindTab, deliver: func(ctx context.Context, _ syncmsg.Message) (*syncmsg.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := hub.New(router, hub.WithDeliveryTimeout(20*time.Millisecond), hub.WithMetrics(m), hub.WithLogger(zerolog.Nop()))

	result := h.BroadcastSession(context.Background(), "page-a", &session.Session{AccessToken: "a", RefreshToken: "b"})
	require.Equal(t, hub.Result{Delivered: 3, Missed: 3}, result)
	require.Equal(t, []string{"tab-1", "tab-3", "view-1"}, order)

	require.Equal(t, float64(1), testutil.ToFloat64(m.Broadcasts))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Deliveries.WithLabelValues("tab", "delivered")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.Deliveries.WithLabelValues("tab", "missed")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Deliveries.WithLabelValues("view", "delivered")))

	t.Run("emit never fails", func(t *testing.T) {
		require.NoError(t, h.Emit(context.Background(), "page-a", nil))
	})
}

func TestBroadcastOverRouter(t *testing.T) {
	router := runtime.NewRouter(zerolog.Nop())
	tab := router.Connect(channel.KindTab, "tab-1")
	router.Connect(channel.KindTab, "tab-without-content-script")

	received := make(chan syncmsg.Message, 1)
	tab.OnReceive(func(_ context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
		received <- msg
		return nil, nil
	})

	result := hub.New(router).BroadcastSession(context.Background(), "", nil)
	require.Equal(t, hub.Result{Delivered: 1, Missed: 1}, result)
	msg := <-received
	require.Nil(t, msg.Payload)
}

type tabState struct {
	lock    sync.Mutex
	session *session.Session
}

func (ts *tabState) get() *session.Session {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	return ts.session
}

func (ts *tabState) apply(delay time.Duration) channel.Handler {
	return func(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		ts.lock.Lock()
		defer ts.lock.Unlock()
		ts.session = msg.Payload.Clone()
		return syncmsg.OK(), nil
	}
}

func TestSlowTabStillConverges(t *testing.T) {
	router := runtime.NewRouter(zerolog.Nop())
	var slow, fast tabState
	router.Connect(channel.KindTab, "tab-slow").OnReceive(slow.apply(100 * time.Millisecond))
	router.Connect(channel.KindTab, "tab-fast").OnReceive(fast.apply(0))

	h := hub.New(router, hub.WithDeliveryTimeout(time.Second))
	s := &session.Session{AccessToken: "a", RefreshToken: "b", User: session.User{ID: "u1"}}
	result := h.BroadcastSession(context.Background(), "page-a", s)

	require.Equal(t, hub.Result{Delivered: 2}, result)
	require.True(t, session.SameTokens(s, slow.get()))
	require.True(t, session.SameTokens(s, fast.get()))

	t.Run("the next change reaches both tabs", func(t *testing.T) {
		next := &session.Session{AccessToken: "c", RefreshToken: "d", User: session.User{ID: "u1"}}
		go h.BroadcastSession(context.Background(), "page-b", next)
		require.Eventually(t, func() bool {
			return session.SameTokens(next, slow.get()) && session.SameTokens(next, fast.get())
		}, 2*time.Second, 5*time.Millisecond)
	})
}
