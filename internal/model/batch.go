package model

import (
	"time"

	"github.com/google/uuid"
)

// Batch is an ordered, non-empty group of messages submitted as one LLM
// request. Immutable once emitted by the batch builder.
type Batch struct {
	ID                  uuid.UUID
	ConversationID      string
	Messages            []Message
	EstimatedCostTokens int
	PriorityScore       float64
	WindowStart         time.Time
	WindowEnd           time.Time
}

// AuthorIDs returns the distinct author ids of the batch, in first-seen order.
func (b Batch) AuthorIDs() []string {
	seen := make(map[string]bool, 4)
	var ids []string
	for _, m := range b.Messages {
		if !seen[m.AuthorID] {
			seen[m.AuthorID] = true
			ids = append(ids, m.AuthorID)
		}
	}
	return ids
}

// MessageIDs returns the ids of all messages in the batch, in order.
func (b Batch) MessageIDs() []string {
	ids := make([]string, len(b.Messages))
	for i, m := range b.Messages {
		ids[i] = m.ID
	}
	return ids
}

// BatchStatus is the terminal state of a processed batch.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchOutcome is the journal record for one processed batch.
type BatchOutcome struct {
	BatchID           uuid.UUID
	Status            BatchStatus
	ErrorClass        string // empty on success
	Cause             string // human-readable failure cause
	MemoriesExtracted int
	SpentUSD          float64
	Duration          time.Duration
	RecordedAt        time.Time
}
