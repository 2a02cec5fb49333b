package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-sync/auth"
	"github.com/jrsteele09/go-chat-sync/channel"
	"github.com/jrsteele09/go-chat-sync/channel/runtime"
	"github.com/jrsteele09/go-chat-sync/chat"
	chatrepofakes "github.com/jrsteele09/go-chat-sync/chat/repofakes"
	"github.com/jrsteele09/go-chat-sync/extension"
	"github.com/jrsteele09/go-chat-sync/identity"
	"github.com/jrsteele09/go-chat-sync/identity/providerfake"
	"github.com/jrsteele09/go-chat-sync/internal/config"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/internal/metrics"
	"github.com/jrsteele09/go-chat-sync/llm/llmfake"
	"github.com/jrsteele09/go-chat-sync/server"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/sessionstore"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	email    = "ada@example.com"
	password = "Analytical1"
)

type fixture struct {
	srv       *httptest.Server
	backend   *providerfake.Backend
	completer *llmfake.Completer
	bg        *extension.Background
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000")
	if _, set := os.LookupEnv("RATE_LIMIT_ENABLED"); !set {
		t.Setenv("RATE_LIMIT_ENABLED", "false")
	}

	backend := providerfake.NewBackend()
	backend.AddUser(email, password)

	completer := llmfake.New("hello there")
	svc, err := chat.NewService(chatrepofakes.NewFakeChatRepo(), completer)
	require.NoError(t, err)

	verifier, err := auth.NewVerifier(context.Background(), auth.Options{Users: backend.NewProvider(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	bg, err := extension.NewBackground(extension.BackgroundOptions{Store: sessionstore.NewMemory(), Metrics: m, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, bg.Start(context.Background()))
	<-bg.Ready()
	t.Cleanup(bg.Close)

	s, err := server.New(config.New(), server.Deps{
		Chat:        svc,
		Verifier:    verifier,
		NewProvider: func() identity.Provider { return backend.NewProvider() },
		Background:  bg,
		Metrics:     m,
		Gatherer:    reg,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	t.Cleanup(s.Wait)
	return &fixture{srv: srv, backend: backend, completer: completer, bg: bg}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) signIn(t *testing.T) *session.Session {
	t.Helper()
	resp := f.do(t, http.MethodPost, server.RouteAuthSignIn, "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[*session.Session](t, resp)
}

func (f *fixture) createSession(t *testing.T, token string) *chat.Session {
	t.Helper()
	resp := f.do(t, http.MethodPost, server.RouteSessions, token, map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[*chat.Session](t, resp)
}

func TestAuthRoutes(t *testing.T) {
	f := newFixture(t)

	t.Run("sign in is case-insensitive on email", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, server.RouteAuthSignIn, "", map[string]string{"email": " ADA@example.com ", "password": password})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		s := decode[*session.Session](t, resp)
		require.True(t, s.Present())
		require.Equal(t, email, s.User.Email)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, server.RouteAuthSignIn, "", map[string]string{"email": email, "password": "nope"})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "Invalid login credentials", decode[map[string]string](t, resp)["error"])
	})

	t.Run("missing email", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, server.RouteAuthSignIn, "", map[string]string{"password": password})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "email is required", decode[map[string]string](t, resp)["error"])
	})

	t.Run("sign up leaves the password policy to the provider", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, server.RouteAuthSignUp, "", map[string]string{"email": "grace@example.com", "password": "abc"})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		require.Equal(t, "Password should be at least 6 characters.", decode[map[string]string](t, resp)["error"])

		resp = f.do(t, http.MethodPost, server.RouteAuthSignUp, "", map[string]string{"email": "linus@example.com", "password": "simple"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("sign up", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, server.RouteAuthSignUp, "", map[string]string{"email": "Grace@Example.com", "password": "Compiler1"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "grace@example.com", decode[*session.Session](t, resp).User.Email)

		resp = f.do(t, http.MethodPost, server.RouteAuthSignUp, "", map[string]string{"email": "grace@example.com", "password": "Compiler1"})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		require.Equal(t, "User already registered", decode[map[string]string](t, resp)["error"])
	})

	t.Run("sign out", func(t *testing.T) {
		s := f.signIn(t)
		resp := f.do(t, http.MethodPost, server.RouteAuthSignOut, "", map[string]string{"access_token": s.AccessToken, "refresh_token": s.RefreshToken})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = f.do(t, http.MethodPost, server.RouteAuthSignOut, "", map[string]string{"access_token": "unknown", "refresh_token": "unknown"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+server.RouteAuthSignIn, strings.NewReader("{"))
		require.NoError(t, err)
		resp, err := f.srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSignUpPasswordPolicy(t *testing.T) {
	t.Setenv("PASSWORD_POLICY_ENABLED", "true")
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, server.RouteAuthSignUp, "", map[string]string{"email": "grace@example.com", "password": "simple"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "password must be at least 8 characters long", decode[map[string]string](t, resp)["error"])

	resp = f.do(t, http.MethodPost, server.RouteAuthSignUp, "", map[string]string{"email": "grace@example.com", "password": "Compiler1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatRequiresBearer(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, server.RouteSessions, "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, server.RouteSessions, "forged", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	s := f.signIn(t)
	f.backend.Revoke(s.AccessToken)
	resp = f.do(t, http.MethodGet, server.RouteSessions, s.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatConversation(t *testing.T) {
	f := newFixture(t)
	token := f.signIn(t).AccessToken
	created := f.createSession(t, token)
	require.NotEmpty(t, created.ID)
	require.Nil(t, created.Title)

	resp := f.do(t, http.MethodPost, server.RouteChat, token, map[string]any{"message": "What is an engine?", "sessionId": created.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, created.ID, resp.Header.Get(server.HeaderChatSessionID))
	require.Equal(t, "hello there", decode[map[string]string](t, resp)["content"])

	resp = f.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages := decode[[]*chat.Message](t, resp)
	require.Len(t, messages, 2)
	require.Equal(t, chat.RoleUser, messages[0].Role)
	require.Equal(t, chat.RoleAssistant, messages[1].Role)

	resp = f.do(t, http.MethodGet, server.RouteSessions, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := decode[[]*chat.Session](t, resp)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].Title)
	require.Equal(t, "What is an engine?", *sessions[0].Title)

	t.Run("missing session id", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, server.RouteChat, token, map[string]any{"message": "hi"})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "Missing sessionId", decode[map[string]string](t, resp)["error"])
	})

	t.Run("someone else's session", func(t *testing.T) {
		f.backend.AddUser("grace@example.com", "Compiler1")
		resp := f.do(t, http.MethodPost, server.RouteAuthSignIn, "", map[string]string{"email": "grace@example.com", "password": "Compiler1"})
		other := decode[*session.Session](t, resp).AccessToken

		resp = f.do(t, http.MethodPost, server.RouteChat, other, map[string]any{"message": "hi", "sessionId": created.ID})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, "Invalid session", decode[map[string]string](t, resp)["error"])

		resp = f.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/messages", other, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("upstream failure", func(t *testing.T) {
		f.completer.Fail(errors.Wrapf(errors.ErrUpstream, "openrouter returned 503"))
		defer f.completer.Fail(nil)

		resp := f.do(t, http.MethodPost, server.RouteChat, token, map[string]any{"message": "hi", "sessionId": created.ID})
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("delete", func(t *testing.T) {
		resp := f.do(t, http.MethodDelete, "/api/sessions/"+created.ID, token, nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = f.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/messages", token, nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestChatStream(t *testing.T) {
	f := newFixture(t)
	token := f.signIn(t).AccessToken
	created := f.createSession(t, token)

	resp := f.do(t, http.MethodPost, server.RouteChat, token, map[string]any{"message": "hi", "sessionId": created.ID, "stream": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, created.ID, resp.Header.Get(server.HeaderChatSessionID))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t,
		"data: {\"content\":\"hello \"}\n\n"+
			"data: {\"content\":\"there\"}\n\n"+
			"data: [DONE]\n\n",
		string(body))

	resp = f.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/messages", token, nil)
	messages := decode[[]*chat.Message](t, resp)
	require.Len(t, messages, 2)
	require.Equal(t, "hello there", messages[1].Content)
}

func TestChatRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "0.001")
	t.Setenv("RATE_LIMIT_BURST", "1")
	f := newFixture(t)
	token := f.signIn(t).AccessToken
	created := f.createSession(t, token)

	send := func(token string) int {
		return f.do(t, http.MethodPost, server.RouteChat, token, map[string]any{"message": "hi", "sessionId": created.ID}).StatusCode
	}
	require.Equal(t, http.StatusOK, send(token))
	require.Equal(t, http.StatusTooManyRequests, send(token))

	// Sessions are not rate limited
	resp := f.do(t, http.MethodGet, server.RouteSessions, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCors(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+server.RouteChat, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), server.HeaderChatSessionID)

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestOperationalRoutes(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, server.RouteHealth, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decode[map[string]string](t, resp)["status"])

	f.do(t, http.MethodGet, server.RouteSessions, "", nil)

	resp = f.do(t, http.MethodGet, server.RouteMetrics, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `chatsync_http_requests_total{method="GET",path="GET /api/sessions",status="401"} 1`)
}

func (f *fixture) signInAs(t *testing.T, email, password string) *session.Session {
	t.Helper()
	resp := f.do(t, http.MethodPost, server.RouteAuthSignIn, "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[*session.Session](t, resp)
}

func (f *fixture) dialSync(t *testing.T, ctx context.Context, id string, s *session.Session) *runtime.Client {
	t.Helper()
	client, err := runtime.Dial(ctx, runtime.ClientOptions{
		URL:    f.srv.URL + server.RouteSyncWS,
		Kind:   channel.KindView,
		ID:     id,
		Header: http.Header{"Authorization": {"Bearer " + s.AccessToken}},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type pushes struct {
	lock sync.Mutex
	got  []syncmsg.Message
}

func (p *pushes) record(_ context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.got = append(p.got, msg)
	return syncmsg.OK(), nil
}

func (p *pushes) all() []syncmsg.Message {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]syncmsg.Message(nil), p.got...)
}

func TestSyncEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f := newFixture(t)
	s := f.signIn(t)

	t.Run("anonymous peers are refused", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, server.RouteSyncWS+"?kind=view&id=x", "", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		_, err := runtime.Dial(ctx, runtime.ClientOptions{URL: f.srv.URL + server.RouteSyncWS, Kind: channel.KindView, ID: "anon", Logger: zerolog.Nop()})
		require.True(t, errors.Is(err, errors.ErrUnauthorized))
		require.Nil(t, f.bg.Session())
	})

	t.Run("peer kind is validated", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, server.RouteSyncWS+"?kind=background&id=x", s.AccessToken, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("foreign origins are refused", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, f.srv.URL+server.RouteSyncWS+"?kind=view&id=x", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://evil.example.com")
		req.Header.Set("Authorization", "Bearer "+s.AccessToken)
		resp, err := f.srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	view := f.dialSync(t, ctx, "cli", s)
	resp, err := view.Send(ctx, channel.ToBackground(), syncmsg.Message{
		Type:    syncmsg.ContentAuthStateUpdate,
		Payload: s,
		Origin:  "cli",
	})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Eventually(t, func() bool {
		return session.SameTokens(f.bg.Session(), s)
	}, time.Second, 10*time.Millisecond)

	resp, err = view.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.PopupRequestSession, nil))
	require.NoError(t, err)
	require.Equal(t, s.AccessToken, resp.Session.AccessToken)
}

func TestSyncPeersAreConfinedToTheirUser(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f := newFixture(t)
	f.backend.AddUser("grace@example.com", "Compiler1")

	ada := f.signIn(t)
	adaView := f.dialSync(t, ctx, "ada-view", ada)
	var adaGot pushes
	adaView.OnReceive(adaGot.record)

	resp, err := adaView.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.ContentAuthStateUpdate, ada))
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.True(t, session.SameTokens(f.bg.Session(), ada))

	grace := f.signInAs(t, "grace@example.com", "Compiler1")
	graceView := f.dialSync(t, ctx, "grace-view", grace)
	var graceGot pushes
	graceView.OnReceive(graceGot.record)

	t.Run("cannot read another user's session", func(t *testing.T) {
		resp, err := graceView.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.PopupRequestSession, nil))
		require.NoError(t, err)
		require.False(t, resp.OK)
		require.Nil(t, resp.Session)
		require.Equal(t, errors.ErrForbidden.Error(), resp.Error)
	})

	t.Run("cannot clear or replace another user's session", func(t *testing.T) {
		resp, err := graceView.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.PopupClearSession, nil))
		require.NoError(t, err)
		require.False(t, resp.OK)

		resp, err = graceView.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.ContentAuthStateUpdate, grace))
		require.NoError(t, err)
		require.False(t, resp.OK)
		require.True(t, session.SameTokens(f.bg.Session(), ada))
	})

	t.Run("forged tokens are refused", func(t *testing.T) {
		forged := &session.Session{AccessToken: "forged", RefreshToken: "x", User: ada.User}
		resp, err := adaView.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.ContentAuthStateUpdate, forged))
		require.NoError(t, err)
		require.False(t, resp.OK)
		require.True(t, session.SameTokens(f.bg.Session(), ada))
	})

	t.Run("another user's tokens are never pushed", func(t *testing.T) {
		again := f.signIn(t)
		resp, err := adaView.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.ContentAuthStateUpdate, again))
		require.NoError(t, err)
		require.True(t, resp.OK)
		require.Eventually(t, func() bool {
			got := adaGot.all()
			return len(got) > 0 && session.SameTokens(got[len(got)-1].Payload, again)
		}, time.Second, 10*time.Millisecond)
		require.Empty(t, graceGot.all())
	})

	t.Run("sign-out frees the background for the next user", func(t *testing.T) {
		resp, err := adaView.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.PopupClearSession, nil))
		require.NoError(t, err)
		require.True(t, resp.OK)
		require.Eventually(t, func() bool { return len(graceGot.all()) == 1 }, time.Second, 10*time.Millisecond)
		require.Nil(t, graceGot.all()[0].Payload)

		resp, err = graceView.Send(ctx, channel.ToBackground(), syncmsg.New(syncmsg.ContentAuthStateUpdate, grace))
		require.NoError(t, err)
		require.True(t, resp.OK)
		require.True(t, session.SameTokens(f.bg.Session(), grace))
	})
}
