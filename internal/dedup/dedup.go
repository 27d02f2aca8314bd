// Package dedup keeps the persisted memory set free of duplicates: exact
// duplicates are caught by content hash, near-duplicates by similarity
// scoring, and overlapping extractions are merged into a single record.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
	"github.com/nathanvale/mnemosyne-sub013/internal/signature"
	"github.com/nathanvale/mnemosyne-sub013/internal/storage"
)

// Default similarity cut-offs.
const (
	DefaultDuplicateAt     = 0.85
	DefaultNearDuplicateAt = 0.70
)

// Outcome says how a candidate memory was resolved.
type Outcome string

const (
	// OutcomeInserted means the memory was new.
	OutcomeInserted Outcome = "inserted"
	// OutcomeDuplicate means an identical memory already existed; nothing
	// was written.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeMerged means the memory was folded into an existing one.
	OutcomeMerged Outcome = "merged"
)

// Result reports the resolution and the surviving record's id.
type Result struct {
	Outcome Outcome
	ID      uuid.UUID
}

// Deduper resolves candidate memories against the store.
type Deduper struct {
	store           storage.Store
	log             *slog.Logger
	duplicateAt     float64
	nearDuplicateAt float64

	// group serializes processing per content hash so no two goroutines
	// upsert the same hash concurrently.
	group singleflight.Group
}

// New creates a deduper with the given similarity cut-offs.
func New(store storage.Store, duplicateAt, nearDuplicateAt float64, log *slog.Logger) (*Deduper, error) {
	if !(0 < nearDuplicateAt && nearDuplicateAt <= duplicateAt && duplicateAt <= 1) {
		return nil, fmt.Errorf("dedup: invalid cut-offs near=%v dup=%v", nearDuplicateAt, duplicateAt)
	}
	return &Deduper{
		store:           store,
		log:             log,
		duplicateAt:     duplicateAt,
		nearDuplicateAt: nearDuplicateAt,
	}, nil
}

// Process resolves one candidate memory: exact-hash duplicates are skipped,
// sufficiently similar existing memories absorb it via merge, and anything
// else is inserted. The memory's ContentHash must be set.
func (d *Deduper) Process(ctx context.Context, m model.Memory) (Result, error) {
	if m.ContentHash.IsZero() {
		m.ContentHash = signature.Compute(m)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	v, err, _ := d.group.Do(m.ContentHash.String(), func() (any, error) {
		return d.process(ctx, m)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (d *Deduper) process(ctx context.Context, m model.Memory) (Result, error) {
	existing, err := d.store.FindMemoryByHash(ctx, m.ContentHash)
	switch {
	case err == nil:
		d.log.Debug("dedup: exact duplicate", "hash", m.ContentHash.String(), "existing_id", existing.ID)
		return Result{Outcome: OutcomeDuplicate, ID: existing.ID}, nil
	case err != storage.ErrNotFound:
		return Result{}, fmt.Errorf("dedup: hash lookup: %w", err)
	}

	candidates, err := d.store.FindMemoryCandidates(ctx,
		model.ParticipantIDs(m.Participants),
		m.ExtractedAt.Add(-signature.Window),
		m.ExtractedAt.Add(signature.Window),
	)
	if err != nil {
		return Result{}, fmt.Errorf("dedup: candidate query: %w", err)
	}

	var best *model.Memory
	var bestScore signature.Score
	for i := range candidates {
		s := signature.Similarity(m, candidates[i])
		if s.Overall >= d.nearDuplicateAt && (best == nil || s.Overall > bestScore.Overall) {
			best = &candidates[i]
			bestScore = s
		}
	}

	if best != nil {
		merged, err := Merge(*best, m)
		if err != nil {
			return Result{}, err
		}
		if err := d.store.ReplaceMemories(ctx, merged, []uuid.UUID{best.ID}); err != nil {
			return Result{}, fmt.Errorf("dedup: replace: %w", err)
		}
		d.log.Info("dedup: merged near-duplicate",
			"overall", bestScore.Overall, "absorbed", best.ID, "merged_id", merged.ID)
		return Result{Outcome: OutcomeMerged, ID: merged.ID}, nil
	}

	res, err := d.store.UpsertMemory(ctx, m)
	if err != nil {
		return Result{}, fmt.Errorf("dedup: upsert: %w", err)
	}
	if res.Outcome == storage.Merged {
		// Lost a cross-process race on the hash; the stored record wins.
		return Result{Outcome: OutcomeDuplicate, ID: res.ID}, nil
	}
	return Result{Outcome: OutcomeInserted, ID: res.ID}, nil
}
