package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jrsteele09/go-chat-sync/session"
	"github.com/pkg/errors"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;
`

var _ Store = (*SQLite)(nil)

// SQLite is the durable store of the background context. The value survives restarts.
type SQLite struct {
	db  *sql.DB
	key string
}

// NewSQLite creates the key/value table when missing. The caller owns db.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, kvSchema); err != nil {
		return nil, errors.Wrap(err, "failed to create kv table")
	}
	return &SQLite{db: db, key: Key}, nil
}

// Init seeds an explicit null the first time the store is installed. An existing value is kept.
func (s *SQLite) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, 'null') ON CONFLICT(key) DO NOTHING`, s.key)
	return errors.Wrap(err, "failed to seed session slot")
}

func (s *SQLite) Get(ctx context.Context) (*session.Session, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, s.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read session slot")
	}

	var stored *session.Session
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, errors.Wrap(err, "failed to decode stored session")
	}
	return session.Normalize(stored), nil
}

func (s *SQLite) Set(ctx context.Context, value *session.Session) error {
	raw, err := json.Marshal(session.Normalize(value))
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		s.key, string(raw))
	return errors.Wrap(err, "failed to write session slot")
}
