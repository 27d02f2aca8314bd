package pipeline

import (
	"sync"

	"github.com/nathanvale/mnemosyne-sub013/internal/dedup"
	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	BatchesQueued     int64
	BatchesCompleted  int64
	BatchesFailed     int64
	MemoriesExtracted int64
	Duplicates        int64
	Merged            int64
	AutoApproved      int64
	NeedsReview       int64
	AutoRejected      int64
	AverageConfidence float64
	SpentUSD          float64

	// BatchSuccessRate is completed / (completed + failed).
	BatchSuccessRate float64
	// MemorySuccessRate is the share of extracted memories not auto-rejected.
	MemorySuccessRate float64
}

// progress accumulates run counters. All methods are safe for concurrent
// use.
type progress struct {
	mu            sync.Mutex
	s             Snapshot
	confidenceSum float64
}

func (p *progress) enqueued() {
	p.mu.Lock()
	p.s.BatchesQueued++
	p.mu.Unlock()
}

func (p *progress) completed() {
	p.mu.Lock()
	p.s.BatchesCompleted++
	p.mu.Unlock()
}

func (p *progress) failed() {
	p.mu.Lock()
	p.s.BatchesFailed++
	p.mu.Unlock()
}

func (p *progress) admitted(m model.Memory, outcome dedup.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.s.MemoriesExtracted++
	p.confidenceSum += m.Confidence
	switch outcome {
	case dedup.OutcomeDuplicate:
		p.s.Duplicates++
	case dedup.OutcomeMerged:
		p.s.Merged++
	}
	switch m.Validation {
	case model.ValidationAutoApproved:
		p.s.AutoApproved++
	case model.ValidationNeedsReview:
		p.s.NeedsReview++
	case model.ValidationAutoRejected:
		p.s.AutoRejected++
	}
}

func (p *progress) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.s
	if s.MemoriesExtracted > 0 {
		s.AverageConfidence = p.confidenceSum / float64(s.MemoriesExtracted)
		s.MemorySuccessRate = float64(s.MemoriesExtracted-s.AutoRejected) / float64(s.MemoriesExtracted)
	}
	if done := s.BatchesCompleted + s.BatchesFailed; done > 0 {
		s.BatchSuccessRate = float64(s.BatchesCompleted) / float64(done)
	}
	return s
}
