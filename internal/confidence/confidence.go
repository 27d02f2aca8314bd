// Package confidence scores extraction trustworthiness from five weighted
// factors. The decomposition is kept alongside the overall value so a
// review surface can show why a memory scored the way it did.
package confidence

import (
	"math"
	"time"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// Factor weights. They sum to 1.
const (
	WeightModel        = 0.25
	WeightEmotional    = 0.25
	WeightRelationship = 0.20
	WeightTemporal     = 0.15
	WeightContent      = 0.15
)

// maxThemes is the theme count at which the coherence base bottoms out.
const maxThemes = 8

// Factors is the per-factor decomposition, each in [0,1].
type Factors struct {
	ModelConfidence      float64
	EmotionalCoherence   float64
	RelationshipAccuracy float64
	TemporalConsistency  float64
	ContentQuality       float64
}

// Result is the combined confidence with its decomposition.
type Result struct {
	Overall float64
	Factors Factors
}

// Score computes the confidence of a memory extracted from batch.
// Out-of-range inputs are clamped; missing inputs score 0 on their factor.
func Score(m model.Memory, batch model.Batch) Result {
	f := Factors{
		ModelConfidence:      model.Clamp01(m.Confidence),
		EmotionalCoherence:   emotionalCoherence(m.Emotional),
		RelationshipAccuracy: relationshipAccuracy(m.Relationship),
		TemporalConsistency:  temporalConsistency(m, batch),
		ContentQuality:       contentQuality(m),
	}
	overall := WeightModel*f.ModelConfidence +
		WeightEmotional*f.EmotionalCoherence +
		WeightRelationship*f.RelationshipAccuracy +
		WeightTemporal*f.TemporalConsistency +
		WeightContent*f.ContentQuality
	return Result{Overall: model.Clamp01(overall), Factors: f}
}

// emotionalCoherence rewards a focused theme set and penalizes declarations
// that contradict each other: the base is one minus the normalized entropy
// of the theme spread, halved when mood, intensity, and valence disagree.
func emotionalCoherence(ec model.EmotionalContext) float64 {
	if !ec.PrimaryMood.Valid() {
		return 0
	}
	var base float64
	switch n := len(ec.Themes); {
	case n == 0:
		base = 0.5
	case n == 1:
		base = 1
	default:
		base = model.Clamp01(1 - math.Log(float64(n))/math.Log(maxThemes))
	}
	if misaligned(ec) {
		base *= 0.5
	}
	return base
}

func misaligned(ec model.EmotionalContext) bool {
	if ec.PrimaryMood == model.MoodNeutral && ec.Intensity >= 7 {
		return true
	}
	if ec.PrimaryMood == model.MoodPositive && ec.Valence < -0.3 {
		return true
	}
	if ec.PrimaryMood == model.MoodNegative && ec.Valence > 0.3 {
		return true
	}
	return false
}

// relationshipAccuracy measures structural completeness: each of closeness,
// tension, and supportiveness present in range, plus connection strength.
func relationshipAccuracy(r model.RelationshipDynamics) float64 {
	present := 0
	for _, v := range []float64{r.Closeness, r.Tension, r.Supportiveness} {
		if v >= 1 && v <= 10 {
			present++
		}
	}
	if r.ConnectionStrength > 0 {
		present++
	}
	return float64(present) / 4
}

// temporalConsistency checks that the memory's timeline holds together:
// every source message resolves in the batch with a real timestamp, source
// order is chronological, and extraction happened after the messages.
func temporalConsistency(m model.Memory, batch model.Batch) float64 {
	if m.ExtractedAt.IsZero() || len(m.SourceMessageIDs) == 0 {
		return 0
	}
	byID := make(map[string]model.Message, len(batch.Messages))
	for _, msg := range batch.Messages {
		byID[msg.ID] = msg
	}
	var last time.Time
	for _, id := range m.SourceMessageIDs {
		msg, ok := byID[id]
		if !ok || msg.Timestamp.IsZero() {
			return 0
		}
		if msg.Timestamp.Before(last) {
			return 0
		}
		last = msg.Timestamp
	}
	if m.ExtractedAt.Before(last) {
		return 0.5
	}
	return 1
}

// contentQuality checks the summary and its supporting evidence: summary
// length 0.4, evidence presence 0.3, mean evidence relevance 0.3.
func contentQuality(m model.Memory) float64 {
	var score float64
	if n := len(m.Summary); n >= 16 && n <= 1000 {
		score += 0.4
	}
	if len(m.Evidence) == 0 {
		return score
	}
	score += 0.3
	var sum float64
	for _, ev := range m.Evidence {
		sum += model.Clamp01(ev.Relevance)
	}
	if sum/float64(len(m.Evidence)) >= 0.4 {
		score += 0.3
	}
	return score
}
