package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrsteele09/go-chat-sync/internal/config"
	"github.com/jrsteele09/go-chat-sync/internal/sqlitedb"
	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/jrsteele09/go-chat-sync/sessionstore"
)

var errNotSignedIn = fmt.Errorf("not signed in, run 'synccli signin' first")

// defaultStatePath is where synccli keeps the session it signed in with between runs.
func defaultStatePath(cfg config.Config) string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "synccli", "session.db")
	}
	return filepath.Join(cfg.GetDataFolder(), "synccli.db")
}

// withCredentials opens the local session store for the duration of fn.
func withCredentials(ctx context.Context, fn func(sessionstore.Store) error) error {
	db, err := sqlitedb.Open(statePath)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := sessionstore.NewSQLite(ctx, db)
	if err != nil {
		return err
	}
	return fn(store)
}

func loadCredentials(ctx context.Context) (*session.Session, error) {
	var s *session.Session
	err := withCredentials(ctx, func(store sessionstore.Store) error {
		var err error
		s, err = store.Get(ctx)
		return err
	})
	return s, err
}

func saveCredentials(ctx context.Context, s *session.Session) error {
	return withCredentials(ctx, func(store sessionstore.Store) error {
		return store.Set(ctx, s)
	})
}
