package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-sync/chat"
	"github.com/jrsteele09/go-chat-sync/chat/chattest"
	"github.com/jrsteele09/go-chat-sync/chat/sqlite"
	"github.com/jrsteele09/go-chat-sync/internal/sqlitedb"
	"github.com/stretchr/testify/require"
)

func TestRepo(t *testing.T) {
	chattest.RunRepoTests(t, func(t *testing.T, now func() time.Time) chat.Repo {
		db, err := sqlitedb.Open(sqlitedb.InMemory)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		repo, err := sqlite.New(context.Background(), db, sqlite.WithNowTime(now))
		require.NoError(t, err)
		return repo
	})
}

func TestRepoPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "chat.db")

	db, err := sqlitedb.Open(path)
	require.NoError(t, err)
	repo, err := sqlite.New(ctx, db)
	require.NoError(t, err)
	s := &chat.Session{UserID: "u1"}
	require.NoError(t, repo.CreateSession(ctx, s))
	require.NoError(t, repo.AddMessage(ctx, &chat.Message{SessionID: s.ID, UserID: "u1", Role: chat.RoleUser, Content: "hi"}))
	require.NoError(t, db.Close())

	db, err = sqlitedb.Open(path)
	require.NoError(t, err)
	defer db.Close()
	repo, err = sqlite.New(ctx, db)
	require.NoError(t, err)

	msgs, err := repo.ListMessages(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Content)
}
