package tmdb

import (
	"context"
	"sync"
	"time"

	"github.com/example/media-curator/internal/platform/metrics"
)

// Limiter admits at most limit acquisitions within any rolling window of
// period. It keeps the timestamps of recent admissions; callers that find the
// window full sleep until the oldest timestamp ages out and try again. The
// mutex guards only the check-and-record step, never a sleep, so concurrent
// callers re-evaluate as soon as the window advances.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	stamps []time.Time
}

// slack added to every computed wait so the oldest stamp is guaranteed to
// have left the window when the caller retries.
const waitSlack = 50 * time.Millisecond

func NewLimiter(limit int, period time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if period <= 0 {
		period = time.Second
	}
	return &Limiter{limit: limit, period: period}
}

// Acquire blocks until a request slot is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()

		// Drop stamps that have left the window.
		keep := 0
		for keep < len(l.stamps) && now.Sub(l.stamps[keep]) >= l.period {
			keep++
		}
		if keep > 0 {
			l.stamps = append(l.stamps[:0], l.stamps[keep:]...)
		}

		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.period - now.Sub(l.stamps[0]) + waitSlack
		l.mu.Unlock()

		metrics.RateLimitWait.Observe(wait.Seconds())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
