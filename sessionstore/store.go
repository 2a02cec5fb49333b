// Package sessionstore holds the one current session value of an execution context.
package sessionstore

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-chat-sync/session"
)

// Key is the fixed slot the session is stored under.
const Key = "supabaseSession"

// Store is a single-slot session holder. A nil value means signed out.
type Store interface {
	Get(ctx context.Context) (*session.Session, error)
	Set(ctx context.Context, s *session.Session) error
}

var _ Store = (*Memory)(nil)

// Memory is the ephemeral store used by page contexts. It lives as long as the page.
type Memory struct {
	current *session.Session
	lock    sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(_ context.Context) (*session.Session, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.current.Clone(), nil
}

func (m *Memory) Set(_ context.Context, s *session.Session) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.current = session.Normalize(s)
	return nil
}
