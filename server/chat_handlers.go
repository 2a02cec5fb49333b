package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-chat-sync/chat"
	"github.com/jrsteele09/go-chat-sync/internal/errors"
)

type createSessionRequest struct {
	Title *string `json:"title,omitempty"`
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Stream    bool   `json:"stream,omitempty"`
}

type chatResponse struct {
	Content string `json:"content"`
}

func (s *Server) ListSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSONError(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		sessions, err := s.chat.ListSessions(r.Context(), principal(r).UserID, limit)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if sessions == nil {
			sessions = []*chat.Session{}
		}
		writeJSON(w, sessions, http.StatusOK)
	}
}

func (s *Server) CreateSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeJSONError(w, "Invalid request body", http.StatusBadRequest)
				return
			}
		}

		created, err := s.chat.CreateSession(r.Context(), principal(r).UserID, req.Title)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, created, http.StatusCreated)
	}
}

func (s *Server) DeleteSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.chat.DeleteSession(r.Context(), principal(r).UserID, r.PathValue("sessionId")); err != nil {
			s.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) ListMessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messages, err := s.chat.Messages(r.Context(), principal(r).UserID, r.PathValue("sessionId"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if messages == nil {
			messages = []*chat.Message{}
		}
		writeJSON(w, messages, http.StatusOK)
	}
}

// ChatHandler answers a message within a chat session, either as one JSON body or
// as a server-sent event stream of content deltas.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.SessionID) == "" {
			writeJSONError(w, "Missing sessionId", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeJSONError(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		userID := principal(r).UserID
		w.Header().Set(HeaderChatSessionID, req.SessionID)

		if req.Stream {
			s.streamChat(w, r, userID, req)
			return
		}

		reply, err := s.chat.Send(r.Context(), userID, req.SessionID, req.Message)
		if err != nil {
			s.countCompletion("json", err)
			s.writeServiceError(w, err)
			return
		}
		s.countCompletion("json", nil)
		writeJSON(w, chatResponse{Content: reply}, http.StatusOK)
	}
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, userID string, req chatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	_, err := s.chat.Stream(r.Context(), userID, req.SessionID, req.Message, func(delta string) error {
		start()
		if err := writeEvent(w, chatResponse{Content: delta}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	s.countCompletion("stream", err)

	if err != nil && !started {
		s.writeServiceError(w, err)
		return
	}
	start()
	if err != nil {
		s.log.Warn().Err(err).Str("session", req.SessionID).Msg("chat stream interrupted")
		_ = writeEvent(w, map[string]string{"error": "Upstream error"})
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) countCompletion(mode string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrUpstream):
		result = "upstream_error"
	default:
		result = "error"
	}
	s.metrics.Completions.WithLabelValues(mode, result).Inc()
}

// PreflightHandler answers CORS preflight requests. The headers come from CorsMiddleware.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
