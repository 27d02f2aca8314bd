package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

func mem(mood model.Mood, intensity float64, participants []string, summary string, themes []string, at time.Time) model.Memory {
	ps := make([]model.Participant, len(participants))
	for i, id := range participants {
		ps[i] = model.Participant{ID: id, Role: model.RoleFriend}
	}
	return model.Memory{
		Participants: ps,
		Summary:      summary,
		Emotional: model.EmotionalContext{
			PrimaryMood: mood,
			Intensity:   intensity,
			Themes:      themes,
		},
		ExtractedAt: at,
	}
}

func TestComputeStableAcrossPermutations(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := mem(model.MoodPositive, 7, []string{"alice", "bob"}, "Alice apologized warmly to Bob", []string{"repair", "gratitude"}, at)
	b := mem(model.MoodPositive, 7, []string{"bob", "alice"}, "  alice   APOLOGIZED warmly to bob ", []string{"gratitude", "repair"}, at)

	assert.Equal(t, Compute(a), Compute(b), "hash must ignore participant/theme order and whitespace/case")
}

func TestComputeDistinguishesContent(t *testing.T) {
	at := time.Now().UTC()
	a := mem(model.MoodPositive, 7, []string{"alice"}, "a quiet evening", []string{"calm"}, at)
	b := mem(model.MoodNegative, 7, []string{"alice"}, "a quiet evening", []string{"calm"}, at)
	c := mem(model.MoodPositive, 7, []string{"alice"}, "a loud evening", []string{"calm"}, at)

	assert.NotEqual(t, Compute(a), Compute(b), "mood is part of the signature")
	assert.NotEqual(t, Compute(a), Compute(c), "summary is part of the signature")
}

func TestComputeFieldBoundaries(t *testing.T) {
	// Content moving across an element boundary must change the hash:
	// participants ["a,b"] vs ["a","b"] are different sets, as are themes
	// whose text happens to contain a list delimiter.
	at := time.Now().UTC()
	a := mem(model.MoodNeutral, 5, []string{"a,b"}, "s", nil, at)
	b := mem(model.MoodNeutral, 5, []string{"a", "b"}, "s", nil, at)
	assert.NotEqual(t, Compute(a), Compute(b))

	c := mem(model.MoodNeutral, 5, []string{"x"}, "s", []string{"t,u"}, at)
	d := mem(model.MoodNeutral, 5, []string{"x"}, "s", []string{"t", "u"}, at)
	assert.NotEqual(t, Compute(c), Compute(d))
}

func TestNormalizeSummary(t *testing.T) {
	assert.Equal(t, "alice apologized to bob", NormalizeSummary("  Alice   apologized\tto Bob\n"))
	// NFKC folds the ligature and fullwidth forms.
	assert.Equal(t, "office", NormalizeSummary("oﬃce"))
}

func TestSimilaritySelfAndSymmetry(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := mem(model.MoodPositive, 7, []string{"alice", "bob"}, "Alice apologized warmly to Bob", []string{"repair"}, at)
	b := mem(model.MoodNegative, 3, []string{"bob", "carol"}, "Bob argued with Carol about money", []string{"conflict", "money"}, at.Add(10*time.Hour))

	self := Similarity(a, a)
	assert.InDelta(t, 1.0, self.Overall, 1e-9)
	assert.InDelta(t, 1.0, self.Emotional, 1e-9)
	assert.InDelta(t, 1.0, self.Content, 1e-9)

	ab, ba := Similarity(a, b), Similarity(b, a)
	assert.InDelta(t, ab.Overall, ba.Overall, 1e-9)
	assert.InDelta(t, ab.Content, ba.Content, 1e-9)
	assert.InDelta(t, ab.Emotional, ba.Emotional, 1e-9)
}

func TestSimilarityNearDuplicate(t *testing.T) {
	// Same participants, mood, intensity, themes; paraphrased summaries 1h apart.
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := mem(model.MoodPositive, 7, []string{"alice", "bob"}, "Alice apologized warmly to Bob", []string{"repair"}, at)
	b := mem(model.MoodPositive, 7, []string{"alice", "bob"}, "Alice offered a warm apology to Bob", []string{"repair"}, at.Add(time.Hour))

	s := Similarity(a, b)
	assert.InDelta(t, 1.0, s.Emotional, 1e-9)
	assert.InDelta(t, 1.0, s.Participant, 1e-9)
	assert.Greater(t, s.Temporal, 0.98)
	assert.Greater(t, s.Content, 0.2)
	assert.Less(t, s.Content, 0.7)

	require.GreaterOrEqual(t, s.Overall, 0.70, "should land in the near-duplicate band")
	require.Less(t, s.Overall, 0.85)
}

func TestTemporalSimilarityWindow(t *testing.T) {
	at := time.Now().UTC()
	a := mem(model.MoodNeutral, 5, []string{"x"}, "s", nil, at)
	b := mem(model.MoodNeutral, 5, []string{"x"}, "s", nil, at.Add(80*time.Hour))
	assert.Zero(t, Similarity(a, b).Temporal, "beyond the 72h window")
}

func TestJaccardEdgeCases(t *testing.T) {
	assert.Equal(t, 1.0, jaccard(nil, nil))
	assert.Equal(t, 0.0, jaccard([]string{"a"}, nil))
	assert.Equal(t, 0.5, jaccard([]string{"a", "b"}, []string{"b", "c", "a", "d"}))
}
