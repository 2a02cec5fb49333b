// Package chattest holds the behaviour every chat.Repo implementation must share.
package chattest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-sync/chat"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/internal/utils"
	"github.com/stretchr/testify/require"
)

// Clock advances one second every time it is read.
type Clock struct {
	now  time.Time
	lock sync.Mutex
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// NewRepo builds an empty repo reading time from now.
type NewRepo func(t *testing.T, now func() time.Time) chat.Repo

func RunRepoTests(t *testing.T, newRepo NewRepo) {
	ctx := context.Background()

	t.Run("sessions are scoped to their owner", func(t *testing.T) {
		repo := newRepo(t, NewClock().Now)
		s := &chat.Session{UserID: "u1"}
		require.NoError(t, repo.CreateSession(ctx, s))
		require.NotEmpty(t, s.ID)
		require.False(t, s.CreatedAt.IsZero())

		got, err := repo.GetSession(ctx, s.ID, "u1")
		require.NoError(t, err)
		require.Equal(t, s.ID, got.ID)
		require.Nil(t, got.Title)

		_, err = repo.GetSession(ctx, s.ID, "u2")
		require.True(t, errors.Is(err, errors.ErrSessionNotFound))
		require.True(t, errors.Is(repo.DeleteSession(ctx, s.ID, "u2"), errors.ErrSessionNotFound))

		require.NoError(t, repo.DeleteSession(ctx, s.ID, "u1"))
		_, err = repo.GetSession(ctx, s.ID, "u1")
		require.True(t, errors.Is(err, errors.ErrSessionNotFound))
	})

	t.Run("user id is required", func(t *testing.T) {
		repo := newRepo(t, NewClock().Now)
		require.True(t, errors.Is(repo.CreateSession(ctx, &chat.Session{}), errors.ErrInvalidPayload))
	})

	t.Run("messages keep insertion order", func(t *testing.T) {
		repo := newRepo(t, NewClock().Now)
		s := &chat.Session{UserID: "u1"}
		require.NoError(t, repo.CreateSession(ctx, s))

		for i := 0; i < 5; i++ {
			role := chat.RoleUser
			if i%2 == 1 {
				role = chat.RoleAssistant
			}
			require.NoError(t, repo.AddMessage(ctx, &chat.Message{
				SessionID: s.ID, UserID: "u1", Role: role, Content: fmt.Sprintf("m%d", i),
			}))
		}

		all, err := repo.ListMessages(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, contents(all))

		recent, err := repo.RecentMessages(ctx, s.ID, 2)
		require.NoError(t, err)
		require.Equal(t, []string{"m3", "m4"}, contents(recent))

		recent, err = repo.RecentMessages(ctx, s.ID, 20)
		require.NoError(t, err)
		require.Len(t, recent, 5)

		err = repo.AddMessage(ctx, &chat.Message{SessionID: "missing", UserID: "u1", Role: chat.RoleUser, Content: "x"})
		require.True(t, errors.Is(err, errors.ErrSessionNotFound))
	})

	t.Run("list is most recently updated first with a preview", func(t *testing.T) {
		repo := newRepo(t, NewClock().Now)
		older, newer := &chat.Session{UserID: "u1"}, &chat.Session{UserID: "u1"}
		require.NoError(t, repo.CreateSession(ctx, older))
		require.NoError(t, repo.CreateSession(ctx, newer))
		require.NoError(t, repo.CreateSession(ctx, &chat.Session{UserID: "u2"}))

		require.NoError(t, repo.AddMessage(ctx, &chat.Message{SessionID: older.ID, UserID: "u1", Role: chat.RoleUser, Content: "first"}))
		require.NoError(t, repo.AddMessage(ctx, &chat.Message{SessionID: older.ID, UserID: "u1", Role: chat.RoleAssistant, Content: "latest"}))

		list, err := repo.ListSessions(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, older.ID, list[0].ID)
		require.Equal(t, "latest", list[0].LastMessage.Content)
		require.True(t, list[0].UpdatedAt.After(list[0].CreatedAt))
		require.Equal(t, newer.ID, list[1].ID)
		require.Nil(t, list[1].LastMessage)

		list, err = repo.ListSessions(ctx, "u1", 1)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("title is only set once", func(t *testing.T) {
		repo := newRepo(t, NewClock().Now)
		s := &chat.Session{UserID: "u1"}
		require.NoError(t, repo.CreateSession(ctx, s))

		require.NoError(t, repo.SetTitleIfEmpty(ctx, s.ID, "first"))
		require.NoError(t, repo.SetTitleIfEmpty(ctx, s.ID, "second"))

		got, err := repo.GetSession(ctx, s.ID, "u1")
		require.NoError(t, err)
		require.Equal(t, "first", utils.Value(got.Title))
	})

	t.Run("deleting a session removes its messages", func(t *testing.T) {
		repo := newRepo(t, NewClock().Now)
		s := &chat.Session{UserID: "u1"}
		require.NoError(t, repo.CreateSession(ctx, s))
		require.NoError(t, repo.AddMessage(ctx, &chat.Message{SessionID: s.ID, UserID: "u1", Role: chat.RoleUser, Content: "hi"}))
		require.NoError(t, repo.DeleteSession(ctx, s.ID, "u1"))

		msgs, err := repo.ListMessages(ctx, s.ID)
		require.NoError(t, err)
		require.Empty(t, msgs)
	})
}

func contents(msgs []*chat.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
