package synchronizer

import (
	"sync"

	"github.com/jrsteele09/go-chat-sync/session"
)

// applyRegion marks the session currently being applied to the provider. Provider
// events carrying the same tokens are the provider echoing that apply.
type applyRegion struct {
	active bool
	value  *session.Session
	lock   sync.Mutex
}

func (r *applyRegion) enter(v *session.Session) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.active = true
	r.value = session.Normalize(v)
}

func (r *applyRegion) exit() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.active = false
	r.value = nil
}

func (r *applyRegion) covers(v *session.Session) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.active && session.SameTokens(r.value, v)
}
