package chat

import (
	"context"
	"strings"

	apperrors "github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/internal/utils"
	"github.com/jrsteele09/go-chat-sync/llm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultSystemPrompt = "You are a helpful, concise assistant. Answer clearly and factually. " +
		"If asked about current events, answer with best effort without disclaimers unless necessary."
	DefaultHistoryLimit = 20
	DefaultListLimit    = 50

	titleLength = 80
)

type Service struct {
	repo         Repo
	completer    llm.Completer
	systemPrompt string
	historyLimit int
	log          zerolog.Logger
}

type ServiceOption func(*Service)

func WithSystemPrompt(prompt string) ServiceOption {
	return func(s *Service) {
		s.systemPrompt = prompt
	}
}

// WithHistoryLimit sets how many stored messages are sent upstream with each prompt.
func WithHistoryLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = logger.With().Str("component", "chat").Logger()
	}
}

func NewService(repo Repo, completer llm.Completer, options ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("[NewService] chat repo is required")
	}
	if completer == nil {
		return nil, errors.New("[NewService] completer is required")
	}
	s := &Service{
		repo:         repo,
		completer:    completer,
		systemPrompt: DefaultSystemPrompt,
		historyLimit: DefaultHistoryLimit,
		log:          zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Service) CreateSession(ctx context.Context, userID string, title *string) (*Session, error) {
	if title != nil && strings.TrimSpace(*title) == "" {
		title = nil
	}
	session := &Session{UserID: userID, Title: title}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.ListSessions(ctx, userID, limit)
}

func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return s.repo.DeleteSession(ctx, sessionID, userID)
}

// Messages returns the session's history if userID owns it.
func (s *Service) Messages(ctx context.Context, userID, sessionID string) ([]*Message, error) {
	if _, err := s.owned(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID)
}

func (s *Service) owned(ctx context.Context, userID, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, apperrors.ErrMissingSessionID
	}
	session, err := s.repo.GetSession(ctx, sessionID, userID)
	if apperrors.Is(err, apperrors.ErrSessionNotFound) {
		return nil, errors.Wrap(apperrors.ErrForbidden, "invalid session")
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// prepare stores the user's message and builds the upstream prompt from the stored history.
func (s *Service) prepare(ctx context.Context, userID, sessionID, text string) ([]llm.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidPayload, "message is required")
	}
	if _, err := s.owned(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	if err := s.repo.AddMessage(ctx, &Message{SessionID: sessionID, UserID: userID, Role: RoleUser, Content: text}); err != nil {
		return nil, errors.Wrap(err, "[Send] failed to save message")
	}
	if err := s.repo.SetTitleIfEmpty(ctx, sessionID, utils.Truncate(text, titleLength)); err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Msg("failed to set title")
	}

	history, err := s.repo.RecentMessages(ctx, sessionID, s.historyLimit)
	if err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Msg("failed to load history")
		history = []*Message{{Role: RoleUser, Content: text}}
	}

	prompt := make([]llm.Message, 0, len(history)+1)
	prompt = append(prompt, llm.Message{Role: string(RoleSystem), Content: s.systemPrompt})
	for _, m := range history {
		prompt = append(prompt, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return prompt, nil
}

func (s *Service) saveReply(ctx context.Context, userID, sessionID, reply string) {
	if reply == "" {
		s.log.Warn().Str("session", sessionID).Msg("empty reply, nothing stored")
		return
	}
	if err := s.repo.AddMessage(ctx, &Message{SessionID: sessionID, UserID: userID, Role: RoleAssistant, Content: reply}); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("failed to save reply")
	}
}

// Send answers text within the session and stores both sides of the exchange.
func (s *Service) Send(ctx context.Context, userID, sessionID, text string) (string, error) {
	prompt, err := s.prepare(ctx, userID, sessionID, text)
	if err != nil {
		return "", err
	}
	reply, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	s.saveReply(ctx, userID, sessionID, reply)
	return reply, nil
}

// Stream is Send with the reply forwarded to onDelta as it arrives. A reply cut short
// is stored as far as it got.
func (s *Service) Stream(ctx context.Context, userID, sessionID, text string, onDelta func(string) error) (string, error) {
	prompt, err := s.prepare(ctx, userID, sessionID, text)
	if err != nil {
		return "", err
	}
	reply, err := s.completer.Stream(ctx, prompt, onDelta)
	s.saveReply(context.WithoutCancel(ctx), userID, sessionID, reply)
	return reply, err
}
