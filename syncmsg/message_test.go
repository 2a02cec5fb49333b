package syncmsg_test

import (
	"testing"

	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("auth state update with payload", func(t *testing.T) {
		msg, err := syncmsg.Decode([]byte(`{"type":"CONTENT_AUTH_STATE_UPDATE","payload":{"access_token":"a","refresh_token":"b","user":{"id":"u1"}}}`))
		require.NoError(t, err)
		require.Equal(t, syncmsg.KindAuthStateUpdate, msg.Kind())
		require.Equal(t, &session.Session{AccessToken: "a", RefreshToken: "b", User: session.User{ID: "u1"}}, msg.Payload)
	})

	t.Run("null payload is absent", func(t *testing.T) {
		msg, err := syncmsg.Decode([]byte(`{"type":"BACKGROUND_PUSH_SESSION","payload":null}`))
		require.NoError(t, err)
		require.Equal(t, syncmsg.KindPushSession, msg.Kind())
		require.Nil(t, msg.Payload)
	})

	t.Run("page message keeps source tag", func(t *testing.T) {
		msg, err := syncmsg.Decode([]byte(`{"type":"SUPABASE_AUTH_STATE","source":"WEB_APP","payload":null}`))
		require.NoError(t, err)
		require.Equal(t, syncmsg.SourceWebApp, msg.Source)
	})

	malformed := map[string]string{
		"not json":          `hello`,
		"array":             `[1,2]`,
		"unknown type":      `{"type":"SIDE_PANEL_STATE","payload":null}`,
		"missing type":      `{"payload":null}`,
		"unknown source":    `{"type":"SUPABASE_AUTH_STATE","source":"web-app"}`,
		"payload not object": `{"type":"BACKGROUND_PUSH_SESSION","payload":"token"}`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := syncmsg.Decode([]byte(raw))
			require.Error(t, err)
			require.True(t, errors.Is(err, errors.ErrMalformedMessage))
		})
	}
}

func TestTypeKinds(t *testing.T) {
	require.Equal(t, syncmsg.KindRequestSession, syncmsg.ContentRequestSession.Kind())
	require.Equal(t, syncmsg.KindRequestSession, syncmsg.PopupRequestSession.Kind())
	require.Equal(t, syncmsg.KindClearSession, syncmsg.PopupClearSession.Kind())
	require.Equal(t, syncmsg.KindClearSession, syncmsg.ExtensionSignOut.Kind())
	require.Equal(t, syncmsg.KindPushSession, syncmsg.ExtensionSetSession.Kind())
	require.Equal(t, syncmsg.Kind(""), syncmsg.Type("OPEN_SIDE_PANEL").Kind())
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	_, err := syncmsg.Encode(syncmsg.Message{Type: "NOPE"})
	require.Error(t, err)

	raw, err := syncmsg.Encode(syncmsg.New(syncmsg.PopupClearSession, nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"POPUP_CLEAR_SESSION","payload":null}`, string(raw))
}
