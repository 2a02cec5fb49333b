// Package syncmsg defines the messages exchanged between execution contexts to keep
// one login session consistent.
package syncmsg

import (
	"bytes"
	"encoding/json"

	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/session"
)

// Kind is the logical meaning of a message, independent of the transport's type string.
type Kind string

const (
	KindPushSession     Kind = "push-session"
	KindRequestSession  Kind = "request-session"
	KindClearSession    Kind = "clear-session"
	KindAuthStateUpdate Kind = "auth-state-update"
)

// Type is the wire type carried in the message.
type Type string

const (
	// Runtime messages between extension contexts
	ContentAuthStateUpdate Type = "CONTENT_AUTH_STATE_UPDATE"
	ContentRequestSession  Type = "CONTENT_REQUEST_SESSION"
	PopupRequestSession    Type = "POPUP_REQUEST_SESSION"
	PopupClearSession      Type = "POPUP_CLEAR_SESSION"
	BackgroundPushSession  Type = "BACKGROUND_PUSH_SESSION"

	// Page-local window messages
	PageAuthState       Type = "SUPABASE_AUTH_STATE"
	ExtensionSetSession Type = "EXTENSION_SET_SESSION"
	ExtensionSignOut    Type = "EXTENSION_SIGN_OUT"
)

var kinds = map[Type]Kind{
	ContentAuthStateUpdate: KindAuthStateUpdate,
	ContentRequestSession:  KindRequestSession,
	PopupRequestSession:    KindRequestSession,
	PopupClearSession:      KindClearSession,
	BackgroundPushSession:  KindPushSession,
	PageAuthState:          KindAuthStateUpdate,
	ExtensionSetSession:    KindPushSession,
	ExtensionSignOut:       KindClearSession,
}

// Kind maps the wire type to its logical kind. Unknown types return "".
func (t Type) Kind() Kind {
	return kinds[t]
}

// Source tags page-local messages with their logical sender.
type Source string

const (
	SourceWebApp    Source = "WEB_APP"
	SourceExtension Source = "EXTENSION"
)

// Message is the wire unit exchanged between contexts. Messages are never persisted.
type Message struct {
	Type    Type             `json:"type"`
	Payload *session.Session `json:"payload"`
	Source  Source           `json:"source,omitempty"`
	// Origin identifies the producing context. It is only used for loop suppression.
	Origin string `json:"origin,omitempty"`
}

func (m Message) Kind() Kind {
	return m.Type.Kind()
}

// Response is the reply to a request-style message.
type Response struct {
	OK      bool             `json:"ok"`
	Session *session.Session `json:"session,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func OK() *Response {
	return &Response{OK: true}
}

func WithSession(s *session.Session) *Response {
	return &Response{OK: true, Session: s}
}

func Failed(err error) *Response {
	return &Response{OK: false, Error: err.Error()}
}

// New builds a message of the given type carrying s.
func New(t Type, s *session.Session) Message {
	return Message{Type: t, Payload: s}
}

// Validate checks a decoded message against the sync contract.
func (m Message) Validate() error {
	if m.Type.Kind() == "" {
		return errors.Wrapf(errors.ErrMalformedMessage, "unknown type %q", m.Type)
	}
	switch m.Source {
	case "", SourceWebApp, SourceExtension:
	default:
		return errors.Wrapf(errors.ErrMalformedMessage, "unknown source %q", m.Source)
	}
	return nil
}

// Decode parses raw bytes into a Message, rejecting anything that is not a sync message.
func Decode(raw []byte) (Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, errors.Wrapf(errors.ErrMalformedMessage, "not an object")
	}

	var probe struct {
		Type    Type            `json:"type"`
		Payload json.RawMessage `json:"payload"`
		Source  Source          `json:"source"`
		Origin  string          `json:"origin"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return Message{}, errors.Wrapf(errors.ErrMalformedMessage, "decode: %v", err)
	}

	msg := Message{Type: probe.Type, Source: probe.Source, Origin: probe.Origin}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}

	payload := bytes.TrimSpace(probe.Payload)
	if len(payload) > 0 && !bytes.Equal(payload, []byte("null")) {
		if payload[0] != '{' {
			return Message{}, errors.Wrapf(errors.ErrMalformedMessage, "payload is not an object")
		}
		var s session.Session
		if err := json.Unmarshal(payload, &s); err != nil {
			return Message{}, errors.Wrapf(errors.ErrMalformedMessage, "payload: %v", err)
		}
		msg.Payload = &s
	}
	return msg, nil
}

// Encode is the inverse of Decode.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
