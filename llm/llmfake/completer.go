// Package llmfake is a scripted llm.Completer for tests and local runs without an API key.
package llmfake

import (
	"context"
	"strings"
	"sync"

	"github.com/jrsteele09/go-chat-sync/llm"
)

var _ llm.Completer = (*Completer)(nil)

type Completer struct {
	reply   string
	err     error
	prompts [][]llm.Message
	lock    sync.Mutex
}

// New replies with reply to every prompt. Stream delivers it word by word.
func New(reply string) *Completer {
	return &Completer{reply: reply}
}

// Fail makes every following call return err.
func (c *Completer) Fail(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.err = err
}

// Prompts returns every prompt received so far.
func (c *Completer) Prompts() [][]llm.Message {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([][]llm.Message(nil), c.prompts...)
}

func (c *Completer) record(messages []llm.Message) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.prompts = append(c.prompts, append([]llm.Message(nil), messages...))
	return c.reply, c.err
}

func (c *Completer) Complete(_ context.Context, messages []llm.Message) (string, error) {
	return c.record(messages)
}

func (c *Completer) Stream(_ context.Context, messages []llm.Message, onDelta func(string) error) (string, error) {
	reply, err := c.record(messages)
	if err != nil {
		return "", err
	}
	words := strings.SplitAfter(reply, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		if err := onDelta(w); err != nil {
			return "", err
		}
	}
	return reply, nil
}
