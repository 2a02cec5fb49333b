// Package sqlite stores chat history in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-sync/chat"
	apperrors "github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/pkg/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant')),
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, seq)`,
}

var _ chat.Repo = (*Repo)(nil)

type Repo struct {
	db      *sql.DB
	nowFunc func() time.Time
}

type Option func(*Repo)

func WithNowTime(nowFunc func() time.Time) Option {
	return func(r *Repo) {
		r.nowFunc = nowFunc
	}
}

// New creates the chat tables when missing. The caller owns db.
func New(ctx context.Context, db *sql.DB, options ...Option) (*Repo, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, "[chat/sqlite] failed to create schema")
		}
	}
	r := &Repo{db: db, nowFunc: time.Now}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

func (r *Repo) now() time.Time {
	return r.nowFunc().UTC()
}

func (r *Repo) CreateSession(ctx context.Context, s *chat.Session) error {
	if s.UserID == "" {
		return errors.Wrap(apperrors.ErrInvalidPayload, "[CreateSession] user id is required")
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := r.now()
	s.CreatedAt, s.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.UserID, nullString(s.Title), now.UnixNano(), now.UnixNano())
	return errors.Wrap(err, "[CreateSession] insert failed")
}

func (r *Repo) GetSession(ctx context.Context, id, userID string) (*chat.Session, error) {
	var (
		s       chat.Session
		title   sql.NullString
		created int64
		updated int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chat_sessions WHERE id = ? AND user_id = ?`,
		id, userID).Scan(&s.ID, &s.UserID, &title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[GetSession] query failed")
	}
	s.Title = fromNullString(title)
	s.CreatedAt, s.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &s, nil
}

func (r *Repo) ListSessions(ctx context.Context, userID string, limit int) ([]*chat.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.title, s.created_at, s.updated_at,
			m.id, m.user_id, m.role, m.content, m.created_at
		FROM chat_sessions s
		LEFT JOIN chat_messages m
			ON m.seq = (SELECT MAX(seq) FROM chat_messages WHERE session_id = s.id)
		WHERE s.user_id = ?
		ORDER BY s.updated_at DESC, s.rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "[ListSessions] query failed")
	}
	defer rows.Close()

	sessions := make([]*chat.Session, 0)
	for rows.Next() {
		var (
			s                       chat.Session
			title                   sql.NullString
			created, updated        int64
			msgID, msgUser, msgRole sql.NullString
			msgContent              sql.NullString
			msgCreated              sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.UserID, &title, &created, &updated,
			&msgID, &msgUser, &msgRole, &msgContent, &msgCreated); err != nil {
			return nil, errors.Wrap(err, "[ListSessions] scan failed")
		}
		s.Title = fromNullString(title)
		s.CreatedAt, s.UpdatedAt = fromNanos(created), fromNanos(updated)
		if msgID.Valid {
			s.LastMessage = &chat.Message{
				ID:        msgID.String,
				SessionID: s.ID,
				UserID:    msgUser.String,
				Role:      chat.Role(msgRole.String),
				Content:   msgContent.String,
				CreatedAt: fromNanos(msgCreated.Int64),
			}
		}
		sessions = append(sessions, &s)
	}
	return sessions, errors.Wrap(rows.Err(), "[ListSessions] iteration failed")
}

func (r *Repo) DeleteSession(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return errors.Wrap(err, "[DeleteSession] delete failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrSessionNotFound
	}
	return nil
}

func (r *Repo) AddMessage(ctx context.Context, m *chat.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "[AddMessage] begin failed")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`,
		m.CreatedAt.UnixNano(), m.SessionID)
	if err != nil {
		return errors.Wrap(err, "[AddMessage] touch session failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrSessionNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.UserID, string(m.Role), m.Content, m.CreatedAt.UnixNano()); err != nil {
		return errors.Wrap(err, "[AddMessage] insert failed")
	}
	return errors.Wrap(tx.Commit(), "[AddMessage] commit failed")
}

func (r *Repo) ListMessages(ctx context.Context, sessionID string) ([]*chat.Message, error) {
	return r.queryMessages(ctx, `
		SELECT id, session_id, user_id, role, content, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
}

func (r *Repo) RecentMessages(ctx context.Context, sessionID string, n int) ([]*chat.Message, error) {
	if n <= 0 {
		return []*chat.Message{}, nil
	}
	return r.queryMessages(ctx, `
		SELECT id, session_id, user_id, role, content, created_at FROM (
			SELECT seq, id, session_id, user_id, role, content, created_at
			FROM chat_messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, n)
}

func (r *Repo) queryMessages(ctx context.Context, query string, args ...any) ([]*chat.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "[ListMessages] query failed")
	}
	defer rows.Close()

	messages := make([]*chat.Message, 0)
	for rows.Next() {
		var (
			m       chat.Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &role, &m.Content, &created); err != nil {
			return nil, errors.Wrap(err, "[ListMessages] scan failed")
		}
		m.Role = chat.Role(role)
		m.CreatedAt = fromNanos(created)
		messages = append(messages, &m)
	}
	return messages, errors.Wrap(rows.Err(), "[ListMessages] iteration failed")
}

func (r *Repo) SetTitleIfEmpty(ctx context.Context, id, title string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ? WHERE id = ? AND (title IS NULL OR title = '')`, title, id)
	return errors.Wrap(err, "[SetTitleIfEmpty] update failed")
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
