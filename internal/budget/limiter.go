// Package budget enforces the two spending limits on LLM traffic:
// request pacing (token bucket) and the dollar cost ledger.
// Both are safe for concurrent use.
package budget

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket with blocking acquisition and FIFO fairness.
//
// Unlike a per-key limiter that answers allow/deny, pipeline workers park in
// Acquire until a token accrues. Waiters wake strictly in arrival order.
type Limiter struct {
	rate  float64 // tokens added per second; 0 means no refill
	burst float64 // bucket capacity

	mu     sync.Mutex
	tokens float64
	last   time.Time
	queue  []chan struct{} // FIFO waiters
	timer  *time.Timer
}

// NewLimiter creates a limiter with the given sustained rate (requests per
// second) and burst capacity. The bucket starts full.
func NewLimiter(rate float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Acquire blocks until a token is available or ctx is cancelled.
// Wake order is FIFO: a caller never overtakes an earlier waiter.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.refillLocked(time.Now())
	if len(l.queue) == 0 && l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	l.queue = append(l.queue, ch)
	l.scheduleLocked()
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.abandon(ch)
		return ctx.Err()
	}
}

// refillLocked accrues tokens for the elapsed interval. Caller holds mu.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
		l.last = now
	}
}

// scheduleLocked arms the wake timer for the head waiter. Caller holds mu.
// With rate 0 no token will ever accrue, so waiters stay parked until their
// context cancels, the documented behaviour for a zero-rps limit.
func (l *Limiter) scheduleLocked() {
	if len(l.queue) == 0 || l.timer != nil {
		return
	}
	if l.tokens >= 1 {
		l.timer = time.AfterFunc(0, l.wake)
		return
	}
	if l.rate <= 0 {
		return
	}
	wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
	l.timer = time.AfterFunc(wait, l.wake)
}

// wake hands tokens to waiters in FIFO order, then rearms if needed.
func (l *Limiter) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.timer = nil
	l.refillLocked(time.Now())
	for len(l.queue) > 0 && l.tokens >= 1 {
		l.tokens--
		close(l.queue[0])
		l.queue = l.queue[1:]
	}
	l.scheduleLocked()
}

// abandon removes a cancelled waiter from the queue. If the waiter was
// already woken (channel closed), its token is returned to the bucket.
func (l *Limiter) abandon(ch chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, w := range l.queue {
		if w == ch {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
	// Not queued: wake already granted this waiter a token it won't use.
	select {
	case <-ch:
		l.tokens++
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
	default:
	}
}

// Waiting returns the number of parked callers. Intended for metrics.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
