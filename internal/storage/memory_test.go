package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleMemory(hashSeed byte, participants ...string) model.Memory {
	var h model.Hash
	h[0] = hashSeed
	ps := make([]model.Participant, len(participants))
	for i, id := range participants {
		ps[i] = model.Participant{ID: id, Role: model.RoleFriend}
	}
	return model.Memory{
		ID:               uuid.New(),
		SourceMessageIDs: []string{"m1"},
		Participants:     ps,
		Emotional: model.EmotionalContext{
			PrimaryMood: model.MoodPositive,
			Intensity:   6,
			Themes:      []string{"gratitude"},
		},
		Mood:        model.MoodScore{Score: 7, Confidence: 0.8},
		Summary:     "A small kindness was acknowledged.",
		Confidence:  0.8,
		Validation:  model.ValidationAutoApproved,
		ContentHash: h,
		ExtractedAt: base,
	}
}

func TestUpsertInsertThenMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m := sampleMemory(1, "A", "B")
	res, err := s.UpsertMemory(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, Inserted, res.Outcome)
	assert.Equal(t, m.ID, res.ID)

	dup := sampleMemory(1, "A", "B")
	res2, err := s.UpsertMemory(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, Merged, res2.Outcome)
	assert.Equal(t, m.ID, res2.ID, "the surviving record keeps the original id")
	assert.Equal(t, 1, s.MemoryCount())
}

func TestUpsertAssignsID(t *testing.T) {
	s := NewMemoryStore()
	m := sampleMemory(2, "A")
	m.ID = uuid.Nil
	res, err := s.UpsertMemory(context.Background(), m)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.ID)
}

func TestFindMemoryByHash(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	m := sampleMemory(3, "A")
	_, err := s.UpsertMemory(ctx, m)
	require.NoError(t, err)

	got, err := s.FindMemoryByHash(ctx, m.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, m.Summary, got.Summary)

	_, err = s.FindMemoryByHash(ctx, model.Hash{0xFF})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindMemoryCandidates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	old := sampleMemory(4, "A", "B")
	old.ExtractedAt = base.Add(-100 * time.Hour)
	recent := sampleMemory(5, "A", "C")
	recent.ExtractedAt = base.Add(-time.Hour)
	newest := sampleMemory(6, "B", "C")
	newest.ExtractedAt = base
	rejected := sampleMemory(7, "A", "B")
	rejected.ExtractedAt = base
	rejected.Validation = model.ValidationAutoRejected
	unrelated := sampleMemory(8, "X", "Y")
	unrelated.ExtractedAt = base

	for _, m := range []model.Memory{old, recent, newest, rejected, unrelated} {
		_, err := s.UpsertMemory(ctx, m)
		require.NoError(t, err)
	}

	got, err := s.FindMemoryCandidates(ctx, []string{"A", "B"}, base.Add(-72*time.Hour), base)
	require.NoError(t, err)
	require.Len(t, got, 2, "outside-window, rejected, and non-overlapping memories are excluded")
	assert.Equal(t, newest.ID, got[0].ID, "newest first")
	assert.Equal(t, recent.ID, got[1].ID)
}

func TestReplaceMemories(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := sampleMemory(9, "A", "B")
	b := sampleMemory(10, "A", "B")
	_, err := s.UpsertMemory(ctx, a)
	require.NoError(t, err)
	_, err = s.UpsertMemory(ctx, b)
	require.NoError(t, err)

	merged := sampleMemory(11, "A", "B")
	merged.Metadata.MergedFrom = []uuid.UUID{a.ID, b.ID}
	require.NoError(t, s.ReplaceMemories(ctx, merged, []uuid.UUID{a.ID, b.ID}))

	assert.Equal(t, 1, s.MemoryCount())
	_, err = s.FindMemoryByHash(ctx, a.ContentHash)
	assert.ErrorIs(t, err, ErrNotFound, "retired hashes no longer resolve")
	got, err := s.FindMemoryByHash(ctx, merged.ContentHash)
	require.NoError(t, err)
	assert.Len(t, got.Metadata.MergedFrom, 2)
}

func TestReplaceMemoriesHashHeldByThirdRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	bystander := sampleMemory(20, "A", "B")
	old := sampleMemory(21, "A", "B")
	_, err := s.UpsertMemory(ctx, bystander)
	require.NoError(t, err)
	_, err = s.UpsertMemory(ctx, old)
	require.NoError(t, err)

	// The merged record hashes identically to the unrelated bystander.
	merged := sampleMemory(20, "A", "B")
	merged.Metadata.MergedFrom = []uuid.UUID{old.ID}
	require.NoError(t, s.ReplaceMemories(ctx, merged, []uuid.UUID{old.ID}))

	assert.Equal(t, 1, s.MemoryCount(), "one record per content hash")
	got, err := s.FindMemoryByHash(ctx, bystander.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, bystander.ID, got.ID, "the existing owner keeps its hash entry")
	_, err = s.GetMemory(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMemory(ctx, merged.ID)
	assert.ErrorIs(t, err, ErrNotFound, "no second record is inserted under an owned hash")
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	m := sampleMemory(12, "A")
	m.Validation = model.ValidationNeedsReview
	_, err := s.UpsertMemory(ctx, m)
	require.NoError(t, err)

	require.NoError(t, s.UpdateValidation(ctx, m.ID, model.ValidationHumanApproved))
	got, err := s.FindMemoryByHash(ctx, m.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, model.ValidationHumanApproved, got.Validation)

	assert.ErrorIs(t, s.UpdateValidation(ctx, uuid.New(), model.ValidationHumanApproved), ErrNotFound)
}

func TestNextForReviewOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, priority := range []float64{2.5, 8.0, 5.0} {
		m := sampleMemory(byte(20+i), "A")
		m.Validation = model.ValidationNeedsReview
		m.Significance.ValidationPriority = priority
		_, err := s.UpsertMemory(ctx, m)
		require.NoError(t, err)
	}
	approved := sampleMemory(30, "A")
	_, err := s.UpsertMemory(ctx, approved)
	require.NoError(t, err)

	got, err := s.NextForReview(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 8.0, got[0].Significance.ValidationPriority, 1e-9)
	assert.InDelta(t, 5.0, got[1].Significance.ValidationPriority, 1e-9)
}

func TestRecordBatchOutcome(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := model.BatchOutcome{
		BatchID:           uuid.New(),
		Status:            model.BatchFailed,
		ErrorClass:        "rate_limit",
		Cause:             "exhausted attempts",
		MemoriesExtracted: 0,
		SpentUSD:          0.004,
		RecordedAt:        base,
	}
	require.NoError(t, s.RecordBatchOutcome(ctx, o))
	got := s.BatchOutcomes()
	require.Len(t, got, 1)
	assert.Equal(t, o, got[0])
}

func TestThresholdCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.ReadThresholds(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := model.DefaultThresholds
	cfg.Version = 1
	require.NoError(t, s.WriteThresholds(ctx, cfg))

	got, err := s.ReadThresholds(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)

	stale := cfg // still version 1; a CAS needs version 2
	assert.ErrorIs(t, s.WriteThresholds(ctx, stale), ErrVersionMismatch)

	next := cfg
	next.Version = 2
	next.AutoApprove = 0.76
	require.NoError(t, s.WriteThresholds(ctx, next))
}

func TestMemoryDocumentRoundTrip(t *testing.T) {
	m := sampleMemory(40, "A", "B")
	m.Emotional.EmotionalMarkers = []model.EmotionalMarker{{Phrase: "so grateful", Strength: 0.7}}
	m.Relationship = model.RelationshipDynamics{
		Closeness: 7, Tension: 2, Supportiveness: 8,
		InteractionQuality: model.InteractionPositive, ConnectionStrength: 0.9,
	}
	m.Mood.Delta = &model.MoodDelta{
		PreviousScore: 4, CurrentScore: 7, Magnitude: 3,
		Direction: model.DeltaPositive, Significance: model.DeltaMedium,
		Type: model.DeltaRepair, Confidence: 0.8, DetectedAt: base,
	}
	m.Significance = model.SignificanceScore{
		Overall: 6.2, EmotionalSalience: 7, RelationshipImpact: 6,
		ContextualImportance: 5, TemporalRelevance: 9,
		Category: model.SignificanceHigh, ValidationPriority: 1.2, Confidence: 0.8,
	}
	m.Evidence = []model.EvidenceItem{{SourceMessageID: "m1", Excerpt: "thank you", Relevance: 0.9}}
	m.Metadata = model.MemoryMetadata{Model: "test-model", PromptVersion: "extract/v1", BatchID: uuid.New()}

	doc, err := json.Marshal(m)
	require.NoError(t, err)
	var got model.Memory
	require.NoError(t, json.Unmarshal(doc, &got))
	assert.Equal(t, m, got)
}
