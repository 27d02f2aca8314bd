package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HashSize is the length of a content hash in bytes (SHA-256).
const HashSize = sha256.Size

// Hash is a content hash: the primary deduplication key for memories.
type Hash [HashSize]byte

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether the hash is unset.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalJSON encodes the hash as lowercase hex, matching String.
func (h Hash) MarshalJSON() ([]byte, error) { return json.Marshal(h.String()) }

// UnmarshalJSON decodes a hex-encoded hash.
func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("model: unmarshal hash: %w", err)
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a hex string produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("model: parse hash: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("model: parse hash: got %d bytes, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// ValidationState is the review lifecycle state of a memory.
type ValidationState string

const (
	ValidationPending       ValidationState = "pending"
	ValidationAutoApproved  ValidationState = "auto_approved"
	ValidationNeedsReview   ValidationState = "needs_review"
	ValidationAutoRejected  ValidationState = "auto_rejected"
	ValidationHumanApproved ValidationState = "human_approved"
	ValidationHumanRejected ValidationState = "human_rejected"
)

// Rejected reports whether the state is a terminal rejection.
// Rejected memories never participate in merges.
func (v ValidationState) Rejected() bool {
	return v == ValidationAutoRejected || v == ValidationHumanRejected
}

// strictness orders non-rejected states for merge resolution:
// pending < needs_review < auto_approved < human_approved.
var strictness = map[ValidationState]int{
	ValidationPending:       0,
	ValidationNeedsReview:   1,
	ValidationAutoApproved:  2,
	ValidationHumanApproved: 3,
}

// StricterValidation returns the stricter of two non-rejected states.
func StricterValidation(a, b ValidationState) ValidationState {
	if strictness[b] > strictness[a] {
		return b
	}
	return a
}

// EvidenceItem links an extracted claim back to a source message.
type EvidenceItem struct {
	SourceMessageID string
	Excerpt         string
	Relevance       float64 // [0,1]
}

// MemoryMetadata records provenance for reproducibility.
type MemoryMetadata struct {
	Model         string
	PromptVersion string
	BatchID       uuid.UUID
	MergedFrom    []uuid.UUID
}

// Memory is one validated, deduplicated emotional memory record.
// Immutable after write; merges produce a new Memory superseding originals.
type Memory struct {
	ID               uuid.UUID
	SourceMessageIDs []string
	Participants     []Participant
	Emotional        EmotionalContext
	Relationship     RelationshipDynamics
	Mood             MoodScore
	Significance     SignificanceScore
	Summary          string
	Evidence         []EvidenceItem
	Confidence       float64 // [0,1]
	Validation       ValidationState
	ContentHash      Hash
	ExtractedAt      time.Time
	Metadata         MemoryMetadata
}

// Validate checks the structural invariants a memory must satisfy before
// persistence: non-empty sources, evidence referencing only source messages,
// and in-range numeric fields.
func (m Memory) Validate() error {
	if len(m.SourceMessageIDs) == 0 {
		return fmt.Errorf("model: memory %s has no source messages", m.ID)
	}
	sources := make(map[string]bool, len(m.SourceMessageIDs))
	for _, id := range m.SourceMessageIDs {
		sources[id] = true
	}
	for _, ev := range m.Evidence {
		if !sources[ev.SourceMessageID] {
			return fmt.Errorf("model: memory %s evidence references %q outside its source messages", m.ID, ev.SourceMessageID)
		}
	}
	if !m.Emotional.PrimaryMood.Valid() {
		return fmt.Errorf("model: memory %s has invalid mood %q", m.ID, m.Emotional.PrimaryMood)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("model: memory %s confidence %v out of range", m.ID, m.Confidence)
	}
	return nil
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 { return Clamp(v, 0, 1) }

// Clamp bounds v to [lo,hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
