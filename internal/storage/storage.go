// Package storage persists memories, batch outcomes, and threshold
// configuration. Three implementations share one interface: Postgres for
// production, SQLite for single-node deployments, and an in-memory store
// for tests and dry runs.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("storage: not found")

// ErrVersionMismatch is returned by WriteThresholds when the stored version
// differs from the caller's snapshot.
var ErrVersionMismatch = errors.New("storage: threshold version mismatch")

// UpsertOutcome says what an upsert did.
type UpsertOutcome string

const (
	// Inserted means the memory was new and persisted.
	Inserted UpsertOutcome = "inserted"
	// Merged means a memory with the same content hash already existed;
	// nothing was inserted.
	Merged UpsertOutcome = "merged"
)

// UpsertResult is the outcome of UpsertMemory with the surviving record id.
type UpsertResult struct {
	Outcome UpsertOutcome
	ID      uuid.UUID
}

// Store is the persistence boundary. All operations are safe for concurrent
// use; UpsertMemory is atomic per content hash.
type Store interface {
	// GetMemory returns the memory with the given id, or ErrNotFound.
	GetMemory(ctx context.Context, id uuid.UUID) (model.Memory, error)

	// FindMemoryByHash returns the memory with the given content hash, or
	// ErrNotFound.
	FindMemoryByHash(ctx context.Context, hash model.Hash) (model.Memory, error)

	// FindMemoryCandidates returns non-rejected memories sharing at least
	// one participant id, extracted within [start, end].
	FindMemoryCandidates(ctx context.Context, participantIDs []string, start, end time.Time) ([]model.Memory, error)

	// UpsertMemory persists m keyed by its content hash. If a memory with
	// that hash already exists the call returns Merged with the existing id
	// and inserts nothing.
	UpsertMemory(ctx context.Context, m model.Memory) (UpsertResult, error)

	// ReplaceMemories atomically persists a merged memory and retires the
	// memories it supersedes.
	ReplaceMemories(ctx context.Context, merged model.Memory, superseded []uuid.UUID) error

	// UpdateValidation sets the validation state of a stored memory.
	UpdateValidation(ctx context.Context, id uuid.UUID, state model.ValidationState) error

	// NextForReview returns up to maxN needs-review memories ordered by
	// validation priority descending.
	NextForReview(ctx context.Context, maxN int) ([]model.Memory, error)

	// RecordBatchOutcome appends one batch journal entry.
	RecordBatchOutcome(ctx context.Context, outcome model.BatchOutcome) error

	// ReadThresholds returns the stored threshold configuration, or
	// ErrNotFound when none has been written yet.
	ReadThresholds(ctx context.Context) (model.ThresholdConfig, error)

	// WriteThresholds stores cfg if and only if the persisted version equals
	// cfg.Version-1 (compare-and-swap); otherwise ErrVersionMismatch.
	WriteThresholds(ctx context.Context, cfg model.ThresholdConfig) error

	// Close releases the store's resources.
	Close() error
}
