package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrExceeded is returned by Reserve when a reservation would push the
// running total past the configured budget. It is fatal to the pipeline:
// the orchestrator drains in-flight work and stops accepting new batches.
var ErrExceeded = errors.New("budget: cost budget exceeded")

// UsageStats is an atomically-read snapshot of ledger activity.
type UsageStats struct {
	Requests  int64
	TokensIn  int64
	TokensOut int64
	SpentUSD  float64
	StartedAt time.Time
}

// Ledger tracks spend against a dollar budget. Reservations hold estimated
// cost until committed with the actual cost or released on failure.
// A negative budget means unlimited; a zero budget rejects every
// reservation, so no request is ever issued.
type Ledger struct {
	maxUSD float64

	mu        sync.Mutex
	spent     float64
	reserved  float64
	requests  int64
	tokensIn  int64
	tokensOut int64
	startedAt time.Time
}

// NewLedger creates a ledger with the given budget in USD.
func NewLedger(maxUSD float64) *Ledger {
	return &Ledger{maxUSD: maxUSD, startedAt: time.Now().UTC()}
}

// Reservation is an uncommitted claim on the budget. Exactly one of Commit
// or Release must be called.
type Reservation struct {
	ledger   *Ledger
	estimate float64
	settled  bool
}

// Reserve claims estUSD against the remaining budget. Fails with
// ErrExceeded when spent + reserved + estUSD would exceed the budget.
func (l *Ledger) Reserve(estUSD float64) (*Reservation, error) {
	if estUSD < 0 {
		return nil, fmt.Errorf("budget: negative reservation %v", estUSD)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxUSD >= 0 && l.spent+l.reserved+estUSD > l.maxUSD {
		return nil, fmt.Errorf("%w: spent=%.4f reserved=%.4f estimate=%.4f max=%.4f",
			ErrExceeded, l.spent, l.reserved, estUSD, l.maxUSD)
	}
	l.reserved += estUSD
	return &Reservation{ledger: l, estimate: estUSD}, nil
}

// Commit replaces the reservation's estimate with the actual cost and
// records request token usage. Committing twice is a no-op.
func (r *Reservation) Commit(actualUSD float64, tokensIn, tokensOut int64) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.settled {
		return
	}
	r.settled = true
	l.reserved -= r.estimate
	l.spent += actualUSD
	l.requests++
	l.tokensIn += tokensIn
	l.tokensOut += tokensOut
}

// Release returns the reservation to the budget without spending.
func (r *Reservation) Release() {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.settled {
		return
	}
	r.settled = true
	l.reserved -= r.estimate
}

// Stats returns a consistent snapshot of usage.
func (l *Ledger) Stats() UsageStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return UsageStats{
		Requests:  l.requests,
		TokensIn:  l.tokensIn,
		TokensOut: l.tokensOut,
		SpentUSD:  l.spent,
		StartedAt: l.startedAt,
	}
}

// SpentUSD returns the committed spend so far.
func (l *Ledger) SpentUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}
