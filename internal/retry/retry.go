// Package retry selects a recovery strategy for failed batch processing by
// error class: backoff-and-retry for transient transport failures, tightened
// re-requests for unparseable responses, a single split for oversize
// batches, and immediate surfacing of fatal errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nathanvale/mnemosyne-sub013/internal/batch"
	"github.com/nathanvale/mnemosyne-sub013/internal/budget"
	"github.com/nathanvale/mnemosyne-sub013/internal/llm"
	"github.com/nathanvale/mnemosyne-sub013/internal/model"
	"github.com/nathanvale/mnemosyne-sub013/internal/prompt"
)

// ErrOversize marks a batch whose estimated cost exceeds the per-request
// token budget. The controller answers it by splitting the batch once.
var ErrOversize = errors.New("retry: batch exceeds token budget")

// Class is the recovery-relevant classification of a batch failure.
type Class string

const (
	ClassRateLimit Class = "rate_limit"
	ClassServer    Class = "server_5xx"
	ClassTimeout   Class = "timeout"
	ClassNetwork   Class = "network"
	ClassParse     Class = "parse_fail"
	ClassSchema    Class = "schema_fail"
	ClassOversize  Class = "oversize"
	ClassAuth      Class = "auth"
	ClassBudget    Class = "budget_exceeded"
	ClassCanceled  Class = "canceled"
	ClassOther     Class = "other"
)

// Classify maps any error from the call/parse path to its recovery class.
// Transport classification wins over the bare context sentinels: a request
// the client timed out is a timeout even though it wraps DeadlineExceeded.
func Classify(err error) Class {
	if errors.Is(err, budget.ErrExceeded) {
		return ClassBudget
	}
	if errors.Is(err, ErrOversize) {
		return ClassOversize
	}
	var pe *prompt.ParseError
	if errors.As(err, &pe) {
		if pe.Kind == prompt.KindSchema {
			return ClassSchema
		}
		return ClassParse
	}
	var te *llm.TransportError
	if errors.As(err, &te) {
		switch te.Class {
		case llm.ClassAuth:
			return ClassAuth
		case llm.ClassRateLimit:
			return ClassRateLimit
		case llm.ClassServer:
			return ClassServer
		case llm.ClassTimeout:
			return ClassTimeout
		case llm.ClassNetwork:
			return ClassNetwork
		case llm.ClassMalformed:
			// An unreadable completion body is handled like an unparseable
			// response: re-request once more, tightened.
			return ClassParse
		}
		return ClassOther
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled
	}
	return ClassOther
}

// Fatal reports whether a class must stop the whole pipeline run rather
// than just fail the batch.
func Fatal(c Class) bool { return c == ClassAuth || c == ClassBudget }

// strategy is one row of the recovery table.
type strategy struct {
	maxAttempts int // total attempts of this class, including the first
	base        time.Duration
	cap         time.Duration
	tighten     bool
}

var strategies = map[Class]strategy{
	ClassRateLimit: {maxAttempts: 6, base: time.Second, cap: 60 * time.Second},
	ClassServer:    {maxAttempts: 4, base: time.Second, cap: 30 * time.Second},
	ClassTimeout:   {maxAttempts: 4, base: time.Second, cap: 30 * time.Second},
	ClassNetwork:   {maxAttempts: 4, base: time.Second, cap: 30 * time.Second},
	ClassParse:     {maxAttempts: 3, tighten: true}, // first try + 2 tightened re-requests
	ClassSchema:    {maxAttempts: 3, tighten: true},
	ClassOversize:  {maxAttempts: 1},
}

// CallFunc runs one processing attempt for a batch. tightened is true on
// re-requests after a parse or schema failure.
type CallFunc func(ctx context.Context, b model.Batch, tightened bool) error

// Controller drives attempts for a batch according to the recovery table.
type Controller struct {
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleep overrides how the controller waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// NewController creates a retry controller.
func NewController(log *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		log: log,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run executes call for the batch, retrying per the recovery table. Oversize
// batches are split once on a speaker boundary and each half processed with
// its own attempt budget. The returned error is the final failure, or nil.
func (c *Controller) Run(ctx context.Context, b model.Batch, call CallFunc) error {
	return c.run(ctx, b, call, 0)
}

func (c *Controller) run(ctx context.Context, b model.Batch, call CallFunc, splits int) error {
	attempts := make(map[Class]int)
	tightened := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := call(ctx, b, tightened)
		if err == nil {
			return nil
		}
		class := Classify(err)
		attempts[class]++

		strat, retriable := strategies[class]
		if !retriable || attempts[class] >= strat.maxAttempts {
			if class == ClassOversize && splits == 0 {
				return c.split(ctx, b, call, err)
			}
			return fmt.Errorf("retry: batch %s failed (%s) after %d attempt(s): %w",
				b.ID, class, attempts[class], err)
		}

		if strat.tighten {
			tightened = true
			c.log.Warn("retry: re-requesting with tightened prompt",
				"batch_id", b.ID, "class", class, "attempt", attempts[class])
			continue
		}

		delay := backoff(strat, attempts[class])
		if wait, ok := llm.RetryAfter(err); ok && wait > delay {
			delay = wait
		}
		c.log.Warn("retry: backing off",
			"batch_id", b.ID, "class", class, "attempt", attempts[class], "delay", delay)
		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// split halves an oversize batch on a conversational boundary and processes
// each piece. Each half gets a fresh attempt budget but no further splits.
func (c *Controller) split(ctx context.Context, b model.Batch, call CallFunc, cause error) error {
	left, right, ok := batch.Split(b)
	if !ok {
		return fmt.Errorf("retry: batch %s oversize and unsplittable: %w", b.ID, cause)
	}
	c.log.Info("retry: splitting oversize batch",
		"batch_id", b.ID, "left", len(left.Messages), "right", len(right.Messages))
	if err := c.run(ctx, left, call, 1); err != nil {
		return err
	}
	return c.run(ctx, right, call, 1)
}

// backoff returns the jittered exponential delay for the n-th failed
// attempt: base·2^(n−1) capped, then ±20% jitter.
func backoff(s strategy, attempt int) time.Duration {
	d := s.base << (attempt - 1)
	if d > s.cap || d <= 0 {
		d = s.cap
	}
	jitter := 0.8 + 0.4*rand.Float64() //nolint:gosec // jitter doesn't need crypto-strength randomness
	return time.Duration(float64(d) * jitter)
}
