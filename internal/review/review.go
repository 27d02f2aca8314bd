// Package review routes extracted memories by confidence and adapts the
// auto-approval threshold from human feedback.
package review

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

const (
	// delta is the bounded adjustment step per feedback disagreement.
	delta = 0.01
	// Adaptive bounds for autoApprove.
	adaptMin = 0.60
	adaptMax = 0.95
)

// Counts summarises the routing decisions for one batch of memories.
type Counts struct {
	AutoApproved int
	NeedsReview  int
	AutoRejected int
}

// Confusion tracks agreement between automatic decisions and human review.
type Confusion struct {
	TruePositives  int // auto-approved, human agreed
	FalsePositives int // auto-approved, human rejected
	TrueNegatives  int // auto-rejected, human agreed
	FalseNegatives int // auto-rejected, human approved
	ReviewApproved int // routed to review, human approved
	ReviewRejected int // routed to review, human rejected
}

// Engine is the auto-confirmation state machine with adaptive thresholds.
// Safe for concurrent use.
type Engine struct {
	log *slog.Logger

	mu        sync.Mutex
	cfg       model.ThresholdConfig
	confusion Confusion
}

// NewEngine creates an engine with the given starting thresholds.
func NewEngine(cfg model.ThresholdConfig, log *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{log: log, cfg: cfg}, nil
}

// Route decides the validation state for a pending memory and applies it.
// Non-pending memories pass through unchanged.
func (e *Engine) Route(m *model.Memory) model.ValidationState {
	if m.Validation != model.ValidationPending {
		return m.Validation
	}
	cfg := e.Thresholds()
	switch {
	case m.Confidence >= cfg.AutoApprove:
		m.Validation = model.ValidationAutoApproved
	case m.Confidence <= cfg.AutoReject:
		m.Validation = model.ValidationAutoRejected
	default:
		m.Validation = model.ValidationNeedsReview
	}
	return m.Validation
}

// RouteBatch routes every memory and returns the decision counts.
func (e *Engine) RouteBatch(memories []*model.Memory) Counts {
	var c Counts
	for _, m := range memories {
		switch e.Route(m) {
		case model.ValidationAutoApproved:
			c.AutoApproved++
		case model.ValidationAutoRejected:
			c.AutoRejected++
		case model.ValidationNeedsReview:
			c.NeedsReview++
		}
	}
	return c
}

// ApplyFeedback folds human decisions into the confusion counts and nudges
// autoApprove by delta per disagreement: a false positive raises it, a false
// negative lowers it, clamped to the adaptive bounds. Updates that would
// break the threshold invariant are rejected and logged.
func (e *Engine) ApplyFeedback(feedback []model.Feedback) model.ThresholdConfig {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, fb := range feedback {
		approved := fb.HumanDecision == model.HumanApprove
		switch fb.OriginalDecision {
		case model.ValidationAutoApproved:
			if approved {
				e.confusion.TruePositives++
			} else {
				e.confusion.FalsePositives++
				e.adjustLocked(fb, +delta)
			}
		case model.ValidationAutoRejected:
			if approved {
				e.confusion.FalseNegatives++
				e.adjustLocked(fb, -delta)
			} else {
				e.confusion.TrueNegatives++
			}
		case model.ValidationNeedsReview:
			if approved {
				e.confusion.ReviewApproved++
			} else {
				e.confusion.ReviewRejected++
			}
		}
	}
	return e.cfg
}

// adjustLocked applies one bounded step to autoApprove. Callers hold mu.
func (e *Engine) adjustLocked(fb model.Feedback, step float64) {
	next := e.cfg
	next.AutoApprove = model.Clamp(next.AutoApprove+step, adaptMin, adaptMax)
	if next.AutoApprove == e.cfg.AutoApprove {
		return
	}
	if err := next.Validate(); err != nil {
		e.log.Warn("review: rejecting threshold update",
			"memory_id", fb.MemoryID, "auto_approve", next.AutoApprove, "error", err)
		return
	}
	next.Version = e.cfg.Version + 1
	e.log.Info("review: threshold adapted",
		"auto_approve", next.AutoApprove, "version", next.Version)
	e.cfg = next
}

// Thresholds returns a snapshot of the current configuration.
func (e *Engine) Thresholds() model.ThresholdConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetThresholds replaces the configuration, keeping the version monotonic.
func (e *Engine) SetThresholds(cfg model.ThresholdConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("review: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.Version <= e.cfg.Version {
		cfg.Version = e.cfg.Version + 1
	}
	e.cfg = cfg
	return nil
}

// ConfusionCounts returns a snapshot of the agreement statistics.
func (e *Engine) ConfusionCounts() Confusion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confusion
}
