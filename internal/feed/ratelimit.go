package feed

import (
	"context"
	"sync"
	"time"
)

const (
	defaultWindow  = time.Second
	defaultBuffer  = 500 * time.Millisecond
	defaultMaxRate = 2
)

// Limiter bounds outbound request rate with a sliding window over
// recent request timestamps. Callers are expected to be sequential;
// concurrent callers are admitted safely but woken in no particular
// fairness order beyond timer expiry.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	buffer time.Duration
	stamps []time.Time
}

// NewLimiter returns a limiter admitting at most maxPerSecond requests
// within any trailing one-second window.
func NewLimiter(maxPerSecond int) *Limiter {
	if maxPerSecond < 1 {
		maxPerSecond = defaultMaxRate
	}
	return newLimiter(maxPerSecond, defaultWindow, defaultBuffer)
}

func newLimiter(max int, window, buffer time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		buffer: buffer,
	}
}

// Acquire blocks until issuing one more request stays within the
// window, or the context is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()

		keep := l.stamps[:0]
		for _, t := range l.stamps {
			if now.Sub(t) < l.window {
				keep = append(keep, t)
			}
		}
		l.stamps = keep

		if len(l.stamps) < l.max {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.window - now.Sub(l.stamps[0]) + l.buffer
		l.mu.Unlock()

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
