package chatrepofakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-sync/chat"
	apperrors "github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/pkg/errors"
)

var _ chat.Repo = (*FakeChatRepo)(nil)

type FakeChatRepo struct {
	sessions map[string]*chat.Session
	messages map[string][]*chat.Message
	seq      map[string]int
	next     int
	nowFunc  func() time.Time
	lock     sync.RWMutex
}

func NewFakeChatRepo(nowFunc ...func() time.Time) *FakeChatRepo {
	r := &FakeChatRepo{
		sessions: make(map[string]*chat.Session),
		messages: make(map[string][]*chat.Message),
		seq:      make(map[string]int),
		nowFunc:  time.Now,
	}
	if len(nowFunc) > 0 && nowFunc[0] != nil {
		r.nowFunc = nowFunc[0]
	}
	return r
}

func (r *FakeChatRepo) now() time.Time {
	return r.nowFunc().UTC()
}

func (r *FakeChatRepo) CreateSession(_ context.Context, s *chat.Session) error {
	if s.UserID == "" {
		return errors.Wrap(apperrors.ErrInvalidPayload, "[CreateSession] user id is required")
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := r.now()
	s.CreatedAt, s.UpdatedAt = now, now

	stored := *s
	stored.LastMessage = nil
	r.sessions[s.ID] = &stored
	r.next++
	r.seq[s.ID] = r.next
	return nil
}

func (r *FakeChatRepo) GetSession(_ context.Context, id, userID string) (*chat.Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return nil, apperrors.ErrSessionNotFound
	}
	c := *s
	return &c, nil
}

func (r *FakeChatRepo) ListSessions(_ context.Context, userID string, limit int) ([]*chat.Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	sessions := make([]*chat.Session, 0)
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		c := *s
		if msgs := r.messages[s.ID]; len(msgs) > 0 {
			last := *msgs[len(msgs)-1]
			c.LastMessage = &last
		}
		sessions = append(sessions, &c)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return r.seq[sessions[i].ID] > r.seq[sessions[j].ID]
	})

	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (r *FakeChatRepo) DeleteSession(_ context.Context, id, userID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return apperrors.ErrSessionNotFound
	}
	delete(r.sessions, id)
	delete(r.messages, id)
	delete(r.seq, id)
	return nil
}

func (r *FakeChatRepo) AddMessage(_ context.Context, m *chat.Message) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.sessions[m.SessionID]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	stored := *m
	r.messages[m.SessionID] = append(r.messages[m.SessionID], &stored)
	s.UpdatedAt = m.CreatedAt
	return nil
}

func (r *FakeChatRepo) ListMessages(_ context.Context, sessionID string) ([]*chat.Message, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return copyMessages(r.messages[sessionID]), nil
}

func (r *FakeChatRepo) RecentMessages(_ context.Context, sessionID string, n int) ([]*chat.Message, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if n <= 0 {
		return []*chat.Message{}, nil
	}
	msgs := r.messages[sessionID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return copyMessages(msgs), nil
}

func (r *FakeChatRepo) SetTitleIfEmpty(_ context.Context, id, title string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	if s.Title == nil || *s.Title == "" {
		s.Title = &title
	}
	return nil
}

func copyMessages(msgs []*chat.Message) []*chat.Message {
	out := make([]*chat.Message, 0, len(msgs))
	for _, m := range msgs {
		c := *m
		out = append(out, &c)
	}
	return out
}
