package synchronizer

import (
	"sync"

	"github.com/jrsteele09/go-chat-sync/session"
)

type watchers struct {
	next  int
	fns   map[int]func(*session.Session)
	order []int
	lock  sync.RWMutex
}

func (w *watchers) add(fn func(*session.Session)) func() {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(*session.Session))
	}
	id := w.next
	w.next++
	w.fns[id] = fn
	w.order = append(w.order, id)
	return func() {
		w.lock.Lock()
		defer w.lock.Unlock()
		delete(w.fns, id)
		for i, v := range w.order {
			if v == id {
				w.order = append(w.order[:i], w.order[i+1:]...)
				break
			}
		}
	}
}

func (w *watchers) notify(v *session.Session) {
	w.lock.RLock()
	fns := make([]func(*session.Session), 0, len(w.order))
	for _, id := range w.order {
		fns = append(fns, w.fns[id])
	}
	w.lock.RUnlock()
	for _, fn := range fns {
		fn(v.Clone())
	}
}
