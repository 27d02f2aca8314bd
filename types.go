package mnemosyne

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single conversational message fed into the engine.
// Messages within a conversation must be ordered by Timestamp.
type Message struct {
	ID             string
	ConversationID string
	AuthorID       string
	Timestamp      time.Time
	Text           string
}

// Participant identifies one person referenced by a memory.
type Participant struct {
	ID          string
	DisplayName string
	Role        string // self | partner | family | friend | colleague | professional | other
}

// Memory is the public view of one extracted emotional memory.
// It is a curated projection of the internal record, safe to use from
// outside the module, with no internal package imports.
type Memory struct {
	ID               uuid.UUID
	Summary          string
	Participants     []Participant
	SourceMessageIDs []string

	PrimaryMood string
	Intensity   float64 // [1,10]
	MoodScore   float64 // [0,10]
	Themes      []string

	Confidence           float64 // [0,1]
	Validation           string  // pending | auto_approved | needs_review | auto_rejected | human_approved | human_rejected
	Significance         float64 // [0,10]
	SignificanceCategory string  // low | medium | high | critical
	ValidationPriority   float64 // [0,10]; review queue ordering

	ContentHash string
	ExtractedAt time.Time
	MergedFrom  []uuid.UUID
}

// Progress is a point-in-time view of a processing run.
type Progress struct {
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
	BatchSuccessRate  float64
	MemorySuccessRate float64
}

// Feedback is one human verdict on a memory, typically from the review
// queue. Feedback that disagrees with the engine's automatic decision
// nudges the confidence thresholds.
type Feedback struct {
	MemoryID uuid.UUID
	Approve  bool
}

// Thresholds are the confidence cut-offs that route memories to
// auto-approve, human review, or auto-reject.
type Thresholds struct {
	AutoApprove float64
	AutoReject  float64
	ReviewLower float64
	Version     int64
}
