package dedup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
	"github.com/nathanvale/mnemosyne-sub013/internal/signature"
	"github.com/nathanvale/mnemosyne-sub013/internal/storage"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newDeduper(t *testing.T, store storage.Store) *Deduper {
	t.Helper()
	d, err := New(store, DefaultDuplicateAt, DefaultNearDuplicateAt, discard())
	require.NoError(t, err)
	return d
}

func apology(summary string, confidence float64, at time.Time) model.Memory {
	m := model.Memory{
		ID:               uuid.New(),
		SourceMessageIDs: []string{"m1", "m2"},
		Participants: []model.Participant{
			{ID: "alice", Role: model.RoleFriend},
			{ID: "bob", Role: model.RoleFriend},
		},
		Emotional: model.EmotionalContext{
			PrimaryMood: model.MoodPositive,
			Intensity:   7,
			Themes:      []string{"repair"},
		},
		Mood:        model.MoodScore{Score: 7, Confidence: 0.8},
		Summary:     summary,
		Confidence:  confidence,
		Validation:  model.ValidationAutoApproved,
		ExtractedAt: at,
	}
	m.ContentHash = signature.Compute(m)
	return m
}

func TestNewRejectsInvalidCutoffs(t *testing.T) {
	_, err := New(storage.NewMemoryStore(), 0.5, 0.8, discard())
	assert.Error(t, err)
}

func TestProcessInsertsNewMemory(t *testing.T) {
	store := storage.NewMemoryStore()
	d := newDeduper(t, store)

	res, err := d.Process(context.Background(), apology("Alice apologized warmly to Bob", 0.8, base))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Outcome)
	assert.Equal(t, 1, store.MemoryCount())
}

func TestProcessExactDuplicate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	d := newDeduper(t, store)

	first := apology("Alice apologized warmly to Bob", 0.8, base)
	res1, err := d.Process(ctx, first)
	require.NoError(t, err)

	dup := apology("Alice apologized warmly to Bob", 0.8, base)
	res2, err := d.Process(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res2.Outcome)
	assert.Equal(t, res1.ID, res2.ID)
	assert.Equal(t, 1, store.MemoryCount())
}

func TestProcessNearDuplicateMerges(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	d := newDeduper(t, store)

	first := apology("Alice apologized warmly to Bob", 0.8, base)
	res1, err := d.Process(ctx, first)
	require.NoError(t, err)

	second := apology("Alice offered a warm apology to Bob", 0.7, base.Add(time.Hour))
	res2, err := d.Process(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res2.Outcome)
	assert.Equal(t, 1, store.MemoryCount(), "one record survives the merge")

	merged := mustFind(t, store, res2.ID)
	assert.Len(t, merged.Metadata.MergedFrom, 2)
	assert.Contains(t, merged.Metadata.MergedFrom, res1.ID)
}

func mustFind(t *testing.T, store *storage.MemoryStore, id uuid.UUID) model.Memory {
	t.Helper()
	all, err := store.FindMemoryCandidates(context.Background(), []string{"alice", "bob"},
		time.Time{}, base.Add(1000*time.Hour))
	require.NoError(t, err)
	for _, m := range all {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("memory %s not found", id)
	return model.Memory{}
}

func TestProcessDistinctMemoryStaysSeparate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	d := newDeduper(t, store)

	_, err := d.Process(ctx, apology("Alice apologized warmly to Bob", 0.8, base))
	require.NoError(t, err)

	other := apology("Bob planned a hiking trip for the long weekend with his brother", 0.8, base.Add(time.Hour))
	other.Emotional = model.EmotionalContext{
		PrimaryMood: model.MoodNeutral,
		Intensity:   3,
		Themes:      []string{"planning"},
	}
	other.ContentHash = signature.Compute(other)
	res, err := d.Process(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Outcome)
	assert.Equal(t, 2, store.MemoryCount())
}

func TestProcessComputesMissingHash(t *testing.T) {
	store := storage.NewMemoryStore()
	d := newDeduper(t, store)

	m := apology("Alice apologized warmly to Bob", 0.8, base)
	m.ContentHash = model.Hash{}
	res, err := d.Process(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Outcome)

	stored, err := store.FindMemoryByHash(context.Background(), signature.Compute(m))
	require.NoError(t, err)
	assert.Equal(t, res.ID, stored.ID)
}

func TestMergeCommutative(t *testing.T) {
	a := apology("Alice apologized warmly to Bob", 0.8, base)
	b := apology("Alice offered a warm apology to Bob", 0.6, base.Add(time.Hour))

	ab, err := Merge(a, b)
	require.NoError(t, err)
	ba, err := Merge(b, a)
	require.NoError(t, err)

	ab.ID, ba.ID = uuid.Nil, uuid.Nil
	assert.Equal(t, ab, ba)
}

func TestMergeFields(t *testing.T) {
	a := apology("Alice apologized warmly to Bob", 0.8, base)
	a.Emotional.Intensity = 7
	a.Emotional.EmotionalMarkers = []model.EmotionalMarker{{Phrase: "so sorry", Strength: 0.6}}
	a.Validation = model.ValidationHumanApproved

	b := apology("Alice offered a warm apology to Bob", 0.6, base.Add(time.Hour))
	b.SourceMessageIDs = []string{"m2", "m3"}
	b.Emotional.Intensity = 6
	b.Emotional.Themes = []string{"gratitude"}
	b.Emotional.EmotionalMarkers = []model.EmotionalMarker{{Phrase: "so sorry", Strength: 0.9}}
	b.Validation = model.ValidationPending

	m, err := Merge(a, b)
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2", "m3"}, m.SourceMessageIDs)
	assert.Equal(t, []string{"gratitude", "repair"}, m.Emotional.Themes)
	assert.Equal(t, "Alice apologized warmly to Bob", m.Summary, "higher confidence wins")
	assert.InDelta(t, 6.6, m.Emotional.Intensity, 1e-9, "confidence-weighted mean, one decimal")
	require.Len(t, m.Emotional.EmotionalMarkers, 1)
	assert.InDelta(t, 0.9, m.Emotional.EmotionalMarkers[0].Strength, 1e-9, "marker strength is the max")
	assert.Equal(t, model.ValidationHumanApproved, m.Validation, "strictest validation survives")
	assert.InDelta(t, (0.8*0.8+0.6*0.6)/1.4*0.95, m.Confidence, 1e-9)
	assert.Equal(t, b.ExtractedAt, m.ExtractedAt, "the later extraction time survives")
	assert.Equal(t, signature.Compute(m), m.ContentHash, "hash is recomputed for the merged content")
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, m.Metadata.MergedFrom)
}

func TestMergeEvidenceCap(t *testing.T) {
	a := apology("Alice apologized warmly to Bob", 0.8, base)
	b := apology("Alice offered a warm apology to Bob", 0.6, base)
	ids := []string{"m1", "m2"}
	for i := 0; i < 7; i++ {
		a.Evidence = append(a.Evidence, model.EvidenceItem{
			SourceMessageID: ids[i%2] + "-a" + string(rune('0'+i)), Relevance: float64(i) / 10,
		})
		b.Evidence = append(b.Evidence, model.EvidenceItem{
			SourceMessageID: ids[i%2] + "-b" + string(rune('0'+i)), Relevance: float64(i+3) / 10,
		})
	}
	m, err := Merge(a, b)
	require.NoError(t, err)
	assert.Len(t, m.Evidence, 10, "evidence is capped")
	for i := 1; i < len(m.Evidence); i++ {
		assert.GreaterOrEqual(t, m.Evidence[i-1].Relevance, m.Evidence[i].Relevance, "kept by relevance")
	}
}

func TestMergeRejectedBlocked(t *testing.T) {
	a := apology("Alice apologized warmly to Bob", 0.8, base)
	b := apology("Alice offered a warm apology to Bob", 0.6, base)
	b.Validation = model.ValidationHumanRejected
	_, err := Merge(a, b)
	assert.Error(t, err)
}

func TestMergeSetIdempotence(t *testing.T) {
	a := apology("Alice apologized warmly to Bob", 0.8, base)
	b := apology("Alice offered a warm apology to Bob", 0.6, base.Add(time.Hour))

	ab, err := Merge(a, b)
	require.NoError(t, err)
	aba, err := Merge(ab, a)
	require.NoError(t, err)

	assert.Equal(t, ab.SourceMessageIDs, aba.SourceMessageIDs)
	assert.Equal(t, ab.Emotional.Themes, aba.Emotional.Themes)
	assert.Equal(t, model.ParticipantIDs(ab.Participants), model.ParticipantIDs(aba.Participants))
}
