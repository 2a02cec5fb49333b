// Package llm proxies chat completions to an upstream model.
package llm

import "context"

// Message is one prompt entry. Role is system, user or assistant.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces an assistant reply for a prompt.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	// Stream calls onDelta with each piece of the reply as it arrives and returns the whole reply.
	Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error)
}
