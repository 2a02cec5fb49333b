package llm

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var _ backoff.BackOff = (*linearBackOff)(nil)

// linearBackOff waits step*(n) plus up to jitter before the n-th retry.
type linearBackOff struct {
	step    time.Duration
	jitter  time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	wait := b.step * time.Duration(b.attempt)
	if b.jitter > 0 {
		wait += rand.N(b.jitter)
	}
	return wait
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}
