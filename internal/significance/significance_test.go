package significance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(model.DefaultSignificanceWeights)
	require.NoError(t, err)
	a.now = func() time.Time { return base.Add(2 * time.Hour) }
	return a
}

func neutralMemory() model.Memory {
	return model.Memory{
		Participants: []model.Participant{
			{ID: "A", Role: model.RoleFriend},
			{ID: "B", Role: model.RoleFriend},
		},
		Emotional: model.EmotionalContext{
			PrimaryMood: model.MoodNeutral,
			Intensity:   4,
		},
		Relationship: model.RelationshipDynamics{
			Closeness:      5,
			Tension:        1,
			Supportiveness: 5,
		},
		Mood:        model.MoodScore{Score: 5, Confidence: 0.8},
		Summary:     "They compared notes about the commute.",
		Confidence:  0.8,
		ExtractedAt: base,
	}
}

func TestNewAnalyzerRejectsBadWeights(t *testing.T) {
	_, err := NewAnalyzer(model.SignificanceWeights{EmotionalSalience: 0.5, RelationshipImpact: 0.5, ContextualImportance: 0.5})
	assert.Error(t, err)
}

func TestScoreNeutralMemoryIsLow(t *testing.T) {
	a := newTestAnalyzer(t)
	s := a.Score(neutralMemory(), model.Batch{WindowStart: base, WindowEnd: base.Add(10 * time.Minute)})

	assert.Zero(t, s.EmotionalSalience, "mood at baseline carries no salience")
	assert.Less(t, s.Overall, 4.0)
	assert.Equal(t, model.SignificanceLow, s.Category)
}

func TestEmotionalSalienceBonuses(t *testing.T) {
	a := newTestAnalyzer(t)

	m := neutralMemory()
	m.Mood.Score = 9
	m.Confidence = 1
	plain := a.emotionalSalience(m)
	assert.InDelta(t, 8.0, plain, 1e-9)

	m.Summary = "She finally told me about the grief after the funeral, please call tonight"
	boosted := a.emotionalSalience(m)
	assert.InDelta(t, 10.0, boosted, 1e-9, "high-impact and urgency bonuses cap at ten")
}

func TestEmotionalSalienceWeightedByConfidence(t *testing.T) {
	a := newTestAnalyzer(t)
	m := neutralMemory()
	m.Mood.Score = 9
	m.Confidence = 0.5
	assert.InDelta(t, 4.0, a.emotionalSalience(m), 1e-9)
}

func TestRelationshipImpactBoosts(t *testing.T) {
	a := newTestAnalyzer(t)

	m := neutralMemory()
	m.Relationship = model.RelationshipDynamics{Closeness: 9, Tension: 7, Supportiveness: 9}
	baseline := a.relationshipImpact(m)

	m.Participants[0].Role = model.RolePartner
	withTie := a.relationshipImpact(m)
	assert.Greater(t, withTie, baseline, "a close tie raises impact")

	m.Summary = "He admitted he was ashamed and scared to be honest about it"
	withVuln := a.relationshipImpact(m)
	assert.Greater(t, withVuln, withTie, "vulnerable disclosure raises impact again")
	assert.LessOrEqual(t, withVuln, 10.0)
}

func TestContextualImportance(t *testing.T) {
	a := newTestAnalyzer(t)
	short := model.Batch{WindowStart: base, WindowEnd: base.Add(10 * time.Minute)}
	long := model.Batch{WindowStart: base, WindowEnd: base.Add(3 * time.Hour)}

	m := neutralMemory()
	assert.InDelta(t, 2.0, a.contextualImportance(m, short), 1e-9)
	assert.InDelta(t, 3.0, a.contextualImportance(m, long), 1e-9, "extended window adds a mild boost")

	m.Emotional.Themes = []string{"loss", "health"}
	assert.InDelta(t, 7.0, a.contextualImportance(m, short), 1e-9, "life-event themes dominate")
}

func TestTemporalRelevanceDecay(t *testing.T) {
	a := newTestAnalyzer(t)

	m := neutralMemory()
	m.ExtractedAt = a.now()
	assert.InDelta(t, 10.0, a.temporalRelevance(m), 1e-9)

	m.ExtractedAt = a.now().Add(-RecencyHalfLife)
	assert.InDelta(t, 5.0, a.temporalRelevance(m), 1e-9)

	m.ExtractedAt = a.now().Add(-2 * RecencyHalfLife)
	assert.InDelta(t, 2.5, a.temporalRelevance(m), 1e-9)

	m.ExtractedAt = time.Time{}
	assert.Zero(t, a.temporalRelevance(m))
}

func TestValidationPriorityFloatsUncertainSignificance(t *testing.T) {
	a := newTestAnalyzer(t)
	b := model.Batch{WindowStart: base, WindowEnd: base.Add(10 * time.Minute)}

	uncertain := neutralMemory()
	uncertain.Mood.Score = 9
	uncertain.Confidence = 0.4
	uncertain.Relationship = model.RelationshipDynamics{Closeness: 9, Tension: 8, Supportiveness: 2}

	confident := uncertain
	confident.Confidence = 0.95

	su := a.Score(uncertain, b)
	sc := a.Score(confident, b)
	assert.Greater(t, su.ValidationPriority, sc.ValidationPriority)
}

func TestScoreOverallIsWeightedSum(t *testing.T) {
	a := newTestAnalyzer(t)
	m := neutralMemory()
	m.Mood.Score = 8
	m.Emotional.Themes = []string{"milestone"}
	s := a.Score(m, model.Batch{WindowStart: base, WindowEnd: base.Add(10 * time.Minute)})

	want := 0.30*s.EmotionalSalience + 0.30*s.RelationshipImpact + 0.20*s.ContextualImportance + 0.20*s.TemporalRelevance
	assert.InDelta(t, want, s.Overall, 1e-9)
	assert.Equal(t, model.CategoryForOverall(s.Overall), s.Category)
}

func TestDetectDeltaNone(t *testing.T) {
	cur := neutralMemory()
	assert.Nil(t, DetectDelta(cur, nil, base), "no priors")

	prev := neutralMemory()
	prev.Mood.Score = 5.5
	cur.Mood.Score = 6.0
	assert.Nil(t, DetectDelta(cur, []model.Memory{prev}, base), "small change")
}

func TestDetectDeltaSudden(t *testing.T) {
	prev := neutralMemory()
	prev.Mood.Score = 7
	prev.ExtractedAt = base

	cur := neutralMemory()
	cur.Mood.Score = 4.5
	cur.Mood.Confidence = 0.7
	cur.ExtractedAt = base.Add(15 * time.Minute)

	d := DetectDelta(cur, []model.Memory{prev}, cur.ExtractedAt)
	require.NotNil(t, d)
	assert.Equal(t, model.DeltaSudden, d.Type)
	assert.Equal(t, model.DeltaNegative, d.Direction)
	assert.InDelta(t, 2.5, d.Magnitude, 1e-9)
	assert.Equal(t, model.DeltaMedium, d.Significance)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9, "confidence is the weaker of the pair")
}

func TestDetectDeltaGradual(t *testing.T) {
	prev := neutralMemory()
	prev.Mood.Score = 8
	prev.ExtractedAt = base

	cur := neutralMemory()
	cur.Mood.Score = 3.5
	cur.ExtractedAt = base.Add(3 * time.Hour)

	d := DetectDelta(cur, []model.Memory{prev}, cur.ExtractedAt)
	require.NotNil(t, d)
	assert.Equal(t, model.DeltaGradual, d.Type)
	assert.Equal(t, model.DeltaHigh, d.Significance)
}

func TestDetectDeltaRepair(t *testing.T) {
	prev := neutralMemory()
	prev.Mood.Score = 3
	prev.ExtractedAt = base

	cur := neutralMemory()
	cur.Mood.Score = 5.5
	cur.ExtractedAt = base.Add(45 * time.Minute)

	d := DetectDelta(cur, []model.Memory{prev}, cur.ExtractedAt)
	require.NotNil(t, d)
	assert.Equal(t, model.DeltaRepair, d.Type)
	assert.Equal(t, model.DeltaPositive, d.Direction)
}

func TestDetectDeltaSpike(t *testing.T) {
	prev := neutralMemory()
	prev.Mood.Score = 5.5
	prev.ExtractedAt = base

	cur := neutralMemory()
	cur.Mood.Score = 8.5
	cur.ExtractedAt = base.Add(10 * time.Minute)

	d := DetectDelta(cur, []model.Memory{prev}, cur.ExtractedAt)
	require.NotNil(t, d)
	assert.Equal(t, model.DeltaSpike, d.Type)
}

func TestDetectDeltaSustainedSuppressesSmallRepair(t *testing.T) {
	priors := make([]model.Memory, 3)
	for i := range priors {
		p := neutralMemory()
		p.Mood.Score = 3.8
		p.ExtractedAt = base.Add(-time.Duration(i) * time.Hour)
		priors[i] = p
	}

	cur := neutralMemory()
	cur.Mood.Score = 5.0 // crosses the repair line but magnitude is small
	cur.ExtractedAt = base.Add(time.Hour)

	assert.Nil(t, DetectDelta(cur, priors, cur.ExtractedAt))
}
