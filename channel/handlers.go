package channel

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-chat-sync/internal/errors"
	"github.com/jrsteele09/go-chat-sync/syncmsg"
)

// Handlers is a registration list shared by the adapters.
type Handlers struct {
	next     int
	handlers map[int]Handler
	order    []int
	lock     sync.RWMutex
}

func (hs *Handlers) Add(h Handler) func() {
	hs.lock.Lock()
	defer hs.lock.Unlock()
	if hs.handlers == nil {
		hs.handlers = make(map[int]Handler)
	}
	id := hs.next
	hs.next++
	hs.handlers[id] = h
	hs.order = append(hs.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			hs.lock.Lock()
			defer hs.lock.Unlock()
			delete(hs.handlers, id)
			for i, v := range hs.order {
				if v == id {
					hs.order = append(hs.order[:i], hs.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (hs *Handlers) Len() int {
	hs.lock.RLock()
	defer hs.lock.RUnlock()
	return len(hs.order)
}

func (hs *Handlers) snapshot() []Handler {
	hs.lock.RLock()
	defer hs.lock.RUnlock()
	out := make([]Handler, 0, len(hs.order))
	for _, id := range hs.order {
		out = append(out, hs.handlers[id])
	}
	return out
}

// Dispatch runs every handler in registration order. The first reply wins.
// With no handlers registered the message has no receiving end.
func (hs *Handlers) Dispatch(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error) {
	handlers := hs.snapshot()
	if len(handlers) == 0 {
		return nil, errors.ErrNoReceiver
	}

	var (
		reply    *syncmsg.Response
		firstErr error
	)
	for _, h := range handlers {
		resp, err := h(ctx, msg)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if resp != nil && reply == nil {
			reply = resp
		}
	}
	if reply == nil && firstErr != nil {
		return nil, firstErr
	}
	return reply, nil
}
