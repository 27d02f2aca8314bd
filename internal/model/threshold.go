package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ThresholdConfig holds the three confidence cut-offs that route a memory
// to auto-approve, review, or auto-reject. Invariant:
// AutoReject < ReviewLower <= AutoApprove.
type ThresholdConfig struct {
	AutoApprove float64 // [0,1]
	AutoReject  float64 // [0,1]
	ReviewLower float64 // [0,1]
	// Version is a compare-and-swap counter; WriteThresholds only succeeds
	// when the stored version matches.
	Version int64
}

// DefaultThresholds are the shipping defaults: 0.75 / 0.30 / 0.50.
var DefaultThresholds = ThresholdConfig{
	AutoApprove: 0.75,
	AutoReject:  0.30,
	ReviewLower: 0.50,
}

// Validate enforces the routing invariant and range bounds.
func (t ThresholdConfig) Validate() error {
	for name, v := range map[string]float64{
		"autoApprove": t.AutoApprove,
		"autoReject":  t.AutoReject,
		"reviewLower": t.ReviewLower,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("model: threshold %s=%v out of [0,1]", name, v)
		}
	}
	if !(t.AutoReject < t.ReviewLower && t.ReviewLower <= t.AutoApprove) {
		return fmt.Errorf("model: threshold invariant violated: autoReject=%v < reviewLower=%v <= autoApprove=%v",
			t.AutoReject, t.ReviewLower, t.AutoApprove)
	}
	return nil
}

// HumanDecision is a reviewer's verdict on a needs-review memory.
type HumanDecision string

const (
	HumanApprove HumanDecision = "approve"
	HumanReject  HumanDecision = "reject"
)

// Feedback is one reviewer decision fed back to the auto-confirmation engine.
type Feedback struct {
	MemoryID         uuid.UUID
	OriginalDecision ValidationState
	HumanDecision    HumanDecision
}
