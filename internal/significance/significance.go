// Package significance scores how much a memory matters: emotional
// salience, relationship impact, contextual importance, and recency,
// combined into a weighted overall with a review-priority signal.
package significance

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nathanvale/mnemosyne-sub013/internal/affect"
	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// RecencyHalfLife is the age at which temporal relevance halves.
const RecencyHalfLife = 30 * 24 * time.Hour

// extendedWindow marks a conversation window long enough to earn the
// contextual-importance boost.
const extendedWindow = time.Hour

// Analyzer computes significance scores.
type Analyzer struct {
	weights model.SignificanceWeights
	now     func() time.Time
}

// NewAnalyzer creates an analyzer with the given component weights.
// The weights must sum to 1.
func NewAnalyzer(w model.SignificanceWeights) (*Analyzer, error) {
	sum := w.EmotionalSalience + w.RelationshipImpact + w.ContextualImportance + w.TemporalRelevance
	if math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("significance: weights sum to %v, want 1", sum)
	}
	return &Analyzer{weights: w, now: time.Now}, nil
}

// Score computes the significance of a memory extracted from batch.
func (a *Analyzer) Score(m model.Memory, batch model.Batch) model.SignificanceScore {
	s := model.SignificanceScore{
		EmotionalSalience:    a.emotionalSalience(m),
		RelationshipImpact:   a.relationshipImpact(m),
		ContextualImportance: a.contextualImportance(m, batch),
		TemporalRelevance:    a.temporalRelevance(m),
		Confidence:           model.Clamp01(m.Confidence),
	}
	s.Overall = a.weights.EmotionalSalience*s.EmotionalSalience +
		a.weights.RelationshipImpact*s.RelationshipImpact +
		a.weights.ContextualImportance*s.ContextualImportance +
		a.weights.TemporalRelevance*s.TemporalRelevance
	s.Category = model.CategoryForOverall(s.Overall)
	// Uncertain yet significant memories float to the top of the review
	// queue.
	s.ValidationPriority = model.Clamp(s.Overall*(1-s.Confidence), 0, 10)
	return s
}

// emotionalSalience rescales the mood score's distance from neutral,
// weighted by extraction confidence, with bonuses for peak-emotion lexemes
// and urgency markers.
func (a *Analyzer) emotionalSalience(m model.Memory) float64 {
	base := math.Abs(m.Mood.Score-5) * 2 * model.Clamp01(m.Confidence)
	text := affectText(m)
	if affect.HasHighImpact(text) {
		base += 2
	}
	if affect.HasUrgency(text) {
		base += 1
	}
	return model.Clamp(base, 0, 10)
}

// relationshipImpact averages the dynamics' distance from baseline, boosted
// for close ties and vulnerable disclosure.
func (a *Analyzer) relationshipImpact(m model.Memory) float64 {
	r := m.Relationship
	mean := (math.Abs(r.Closeness-5)*2 + r.Tension + math.Abs(r.Supportiveness-5)*2) / 3
	for _, p := range m.Participants {
		if p.Role.CloseTie() {
			mean *= 1.25
			break
		}
	}
	if affect.HasVulnerability(affectText(m)) {
		mean += 1
	}
	return model.Clamp(mean, 0, 10)
}

// contextualImportance boosts life-event themes and, mildly, extended
// conversation windows.
func (a *Analyzer) contextualImportance(m model.Memory, batch model.Batch) float64 {
	score := 2.0
	for _, theme := range m.Emotional.Themes {
		if affect.LifeEventTheme(theme) {
			score += 2.5
		}
	}
	for _, ev := range m.Emotional.ContextualEvents {
		if affect.LifeEventTheme(ev) {
			score += 2.5
		}
	}
	if batch.WindowEnd.Sub(batch.WindowStart) >= extendedWindow {
		score += 1
	}
	return model.Clamp(score, 0, 10)
}

// temporalRelevance decays exponentially with the memory's age,
// half-life 30 days.
func (a *Analyzer) temporalRelevance(m model.Memory) float64 {
	if m.ExtractedAt.IsZero() {
		return 0
	}
	age := a.now().Sub(m.ExtractedAt)
	if age < 0 {
		age = 0
	}
	return 10 * math.Exp2(-float64(age)/float64(RecencyHalfLife))
}

// affectText gathers the memory's free text for lexicon checks.
func affectText(m model.Memory) string {
	var sb strings.Builder
	sb.WriteString(m.Summary)
	for _, mk := range m.Emotional.EmotionalMarkers {
		sb.WriteByte(' ')
		sb.WriteString(mk.Phrase)
	}
	for _, ev := range m.Evidence {
		sb.WriteByte(' ')
		sb.WriteString(ev.Excerpt)
	}
	return sb.String()
}
