package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]model.Memory
	byHash     map[model.Hash]uuid.UUID
	outcomes   []model.BatchOutcome
	thresholds *model.ThresholdConfig
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[uuid.UUID]model.Memory),
		byHash: make(map[model.Hash]uuid.UUID),
	}
}

func (s *MemoryStore) GetMemory(_ context.Context, id uuid.UUID) (model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return model.Memory{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) FindMemoryByHash(_ context.Context, hash model.Hash) (model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return model.Memory{}, ErrNotFound
	}
	return s.byID[id], nil
}

// FindMemoryCandidates returns matches ordered by extraction time, newest
// first.
func (s *MemoryStore) FindMemoryCandidates(_ context.Context, participantIDs []string, start, end time.Time) ([]model.Memory, error) {
	want := make(map[string]bool, len(participantIDs))
	for _, id := range participantIDs {
		want[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Memory
	for _, m := range s.byID {
		if m.Validation.Rejected() {
			continue
		}
		if m.ExtractedAt.Before(start) || m.ExtractedAt.After(end) {
			continue
		}
		for _, p := range m.Participants {
			if want[p.ID] {
				out = append(out, m)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExtractedAt.After(out[j].ExtractedAt) })
	return out, nil
}

func (s *MemoryStore) UpsertMemory(_ context.Context, m model.Memory) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byHash[m.ContentHash]; ok {
		return UpsertResult{Outcome: Merged, ID: id}, nil
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.byID[m.ID] = m
	s.byHash[m.ContentHash] = m.ID
	return UpsertResult{Outcome: Inserted, ID: m.ID}, nil
}

func (s *MemoryStore) ReplaceMemories(_ context.Context, merged model.Memory, superseded []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range superseded {
		if old, ok := s.byID[id]; ok {
			// Only drop the hash entry the superseded record actually owns.
			if s.byHash[old.ContentHash] == id {
				delete(s.byHash, old.ContentHash)
			}
			delete(s.byID, id)
		}
	}
	// If a surviving record already owns the merged hash, keep it instead of
	// inserting a second record under the same hash.
	if _, ok := s.byHash[merged.ContentHash]; ok {
		return nil
	}
	if merged.ID == uuid.Nil {
		merged.ID = uuid.New()
	}
	s.byID[merged.ID] = merged
	s.byHash[merged.ContentHash] = merged.ID
	return nil
}

func (s *MemoryStore) UpdateValidation(_ context.Context, id uuid.UUID, state model.ValidationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	m.Validation = state
	s.byID[id] = m
	return nil
}

func (s *MemoryStore) NextForReview(_ context.Context, maxN int) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Memory
	for _, m := range s.byID {
		if m.Validation == model.ValidationNeedsReview {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Significance.ValidationPriority > out[j].Significance.ValidationPriority
	})
	if maxN > 0 && len(out) > maxN {
		out = out[:maxN]
	}
	return out, nil
}

func (s *MemoryStore) RecordBatchOutcome(_ context.Context, outcome model.BatchOutcome) error {
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

// BatchOutcomes returns a copy of the journal, in record order.
func (s *MemoryStore) BatchOutcomes() []model.BatchOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BatchOutcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// MemoryCount returns the number of persisted memories.
func (s *MemoryStore) MemoryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemoryStore) ReadThresholds(context.Context) (model.ThresholdConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.thresholds == nil {
		return model.ThresholdConfig{}, ErrNotFound
	}
	return *s.thresholds, nil
}

func (s *MemoryStore) WriteThresholds(_ context.Context, cfg model.ThresholdConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thresholds != nil && s.thresholds.Version != cfg.Version-1 {
		return ErrVersionMismatch
	}
	c := cfg
	s.thresholds = &c
	return nil
}

func (s *MemoryStore) Close() error { return nil }
