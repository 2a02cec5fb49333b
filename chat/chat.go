// Package chat stores per-user chat sessions and turns a user prompt into an assistant reply.
package chat

import (
	"context"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is one conversation owned by a single user.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       *string   `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repo persists sessions and their messages.
//
// GetSession and DeleteSession treat a session owned by another user as missing and
// return errors.ErrSessionNotFound.
type Repo interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id, userID string) (*Session, error)
	// ListSessions returns the user's sessions, most recently updated first, each with its latest message.
	ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error)
	DeleteSession(ctx context.Context, id, userID string) error
	// AddMessage appends m and bumps the session's UpdatedAt.
	AddMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)
	// RecentMessages returns the last n messages in ascending order.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]*Message, error)
	SetTitleIfEmpty(ctx context.Context, id, title string) error
}
