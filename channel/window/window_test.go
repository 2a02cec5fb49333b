package window_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/channel/window"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const pageOrigin = "http://localhost:5173"

func openPair(t *testing.T) (*window.Page, *window.Channel, *window.Channel) {
	t.Helper()
	page := window.NewPage(pageOrigin, zerolog.Nop())
	app, err := page.Open(syncmsg.SourceWebApp)
	require.NoError(t, err)
	content, err := page.Open(syncmsg.SourceExtension)
	require.NoError(t, err)
	t.Cleanup(func() {
		app.Close()
		content.Close()
		page.Close()
	})
	return page, app, content
}

func collect(c *window.Channel) <-chan syncmsg.Message {
	out := make(chan syncmsg.Message, 16)
	c.OnReceive(func(_ context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
		out <- msg
		return nil, nil
	})
	return out
}

func next(t *testing.T, ch <-chan syncmsg.Message) syncmsg.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return syncmsg.Message{}
	}
}

func TestWindowDelivery(t *testing.T) {
	ctx := context.Background()
	page, app, content := openPair(t)
	fromApp := collect(content)
	fromContent := collect(app)

	s := &session.Session{AccessToken: "a", RefreshToken: "b"}
	_, err := app.Send(ctx, channel.Selector{}, syncmsg.New(syncmsg.PageAuthState, s))
	require.NoError(t, err)

	msg := next(t, fromApp)
	require.Equal(t, syncmsg.PageAuthState, msg.Type)
	require.Equal(t, syncmsg.SourceWebApp, msg.Source)
	require.Equal(t, s, msg.Payload)

	t.Run("own messages and foreign or malformed posts are dropped", func(t *testing.T) {
		raw, err := syncmsg.Encode(syncmsg.Message{Type: syncmsg.ExtensionSignOut, Source: syncmsg.SourceExtension})
		require.NoError(t, err)
		require.NoError(t, page.Post("https://evil.example", raw))
		require.NoError(t, page.Post(pageOrigin, []byte(`{"type":"UNRELATED"}`)))
		require.NoError(t, page.Post(pageOrigin, []byte(`{"type":"EXTENSION_SIGN_OUT"}`)))

		_, err = content.Send(ctx, channel.Selector{}, syncmsg.New(syncmsg.ExtensionSetSession, s))
		require.NoError(t, err)

		// the only thing the app sees is the content script's message
		msg := next(t, fromContent)
		require.Equal(t, syncmsg.ExtensionSetSession, msg.Type)
		select {
		case extra := <-fromContent:
			t.Fatalf("unexpected message %v", extra.Type)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("delivery keeps post order", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			typ := syncmsg.ExtensionSetSession
			if i%2 == 1 {
				typ = syncmsg.ExtensionSignOut
			}
			_, err := content.Send(ctx, channel.Selector{}, syncmsg.New(typ, nil))
			require.NoError(t, err)
		}
		for i := 0; i < 20; i++ {
			want := syncmsg.ExtensionSetSession
			if i%2 == 1 {
				want = syncmsg.ExtensionSignOut
			}
			require.Equal(t, want, next(t, fromContent).Type)
		}
	})
}
