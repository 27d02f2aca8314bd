package dedup

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
	"github.com/nathanvale/mnemosyne-sub013/internal/signature"
)

// mergePenalty scales down the merged confidence to reflect merge
// uncertainty.
const mergePenalty = 0.95

// evidenceCap bounds merged evidence, keeping the most relevant items.
const evidenceCap = 10

// Merge combines two memories into one. Commutative and, for the set-valued
// fields, associative: unions for sources, participants, themes, and
// markers; confidence-weighted means for numeric fields rounded to one
// decimal; the higher-confidence summary. Rejected memories never merge.
func Merge(a, b model.Memory) (model.Memory, error) {
	if a.Validation.Rejected() || b.Validation.Rejected() {
		return model.Memory{}, fmt.Errorf("dedup: refusing to merge rejected memory")
	}

	primary, secondary := a, b
	if precedes(b, a) {
		primary, secondary = b, a
	}

	m := model.Memory{
		ID:               uuid.New(),
		SourceMessageIDs: unionStrings(a.SourceMessageIDs, b.SourceMessageIDs),
		Participants:     unionParticipants(primary, secondary),
		Summary:          primary.Summary,
		Evidence:         mergeEvidence(a, b),
		Confidence:       model.Clamp01(weightedMean(a.Confidence, a.Confidence, b.Confidence, b.Confidence) * mergePenalty),
		Validation:       model.StricterValidation(a.Validation, b.Validation),
		ExtractedAt:      laterOf(a, b).ExtractedAt,
	}

	m.Emotional = model.EmotionalContext{
		PrimaryMood:      primary.Emotional.PrimaryMood,
		Intensity:        numMean(a, b, a.Emotional.Intensity, b.Emotional.Intensity),
		Valence:          numMean(a, b, a.Emotional.Valence, b.Emotional.Valence),
		Themes:           unionStrings(a.Emotional.Themes, b.Emotional.Themes),
		EmotionalMarkers: unionMarkers(a.Emotional.EmotionalMarkers, b.Emotional.EmotionalMarkers),
		ContextualEvents: unionStrings(a.Emotional.ContextualEvents, b.Emotional.ContextualEvents),
		TemporalPatterns: unionStrings(a.Emotional.TemporalPatterns, b.Emotional.TemporalPatterns),
	}
	m.Relationship = model.RelationshipDynamics{
		Closeness:             numMean(a, b, a.Relationship.Closeness, b.Relationship.Closeness),
		Tension:               numMean(a, b, a.Relationship.Tension, b.Relationship.Tension),
		Supportiveness:        numMean(a, b, a.Relationship.Supportiveness, b.Relationship.Supportiveness),
		CommunicationPatterns: unionStrings(a.Relationship.CommunicationPatterns, b.Relationship.CommunicationPatterns),
		InteractionQuality:    primary.Relationship.InteractionQuality,
		ConnectionStrength:    numMean(a, b, a.Relationship.ConnectionStrength, b.Relationship.ConnectionStrength),
	}
	m.Mood = model.MoodScore{
		Score:       numMean(a, b, a.Mood.Score, b.Mood.Score),
		Confidence:  numMean(a, b, a.Mood.Confidence, b.Mood.Confidence),
		Descriptors: unionStrings(a.Mood.Descriptors, b.Mood.Descriptors),
		Factors:     primary.Mood.Factors,
		Delta:       primary.Mood.Delta,
	}
	m.Significance = primary.Significance

	m.Metadata = primary.Metadata
	m.Metadata.MergedFrom = unionIDs(a, b)
	m.ContentHash = signature.Compute(m)
	return m, nil
}

// precedes orders two memories for tie-breaking: higher confidence first,
// then longer summary, then hash. Total, so merges stay commutative.
func precedes(x, y model.Memory) bool {
	if x.Confidence != y.Confidence {
		return x.Confidence > y.Confidence
	}
	if len(x.Summary) != len(y.Summary) {
		return len(x.Summary) > len(y.Summary)
	}
	return x.ContentHash.String() > y.ContentHash.String()
}

func laterOf(a, b model.Memory) model.Memory {
	if b.ExtractedAt.After(a.ExtractedAt) {
		return b
	}
	return a
}

// numMean is the confidence-weighted mean of one numeric field, rounded to
// one decimal.
func numMean(a, b model.Memory, av, bv float64) float64 {
	return round1(weightedMean(av, a.Confidence, bv, b.Confidence))
}

func weightedMean(av, aw, bv, bw float64) float64 {
	if aw+bw == 0 {
		return (av + bv) / 2
	}
	return (av*aw + bv*bw) / (aw + bw)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// unionParticipants keeps every distinct participant id, preferring the
// primary memory's display name and role on conflict.
func unionParticipants(primary, secondary model.Memory) []model.Participant {
	seen := make(map[string]bool)
	var out []model.Participant
	for _, p := range append(append([]model.Participant{}, primary.Participants...), secondary.Participants...) {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// unionMarkers dedups by phrase, keeping the maximum strength.
func unionMarkers(a, b []model.EmotionalMarker) []model.EmotionalMarker {
	best := make(map[string]float64)
	for _, mk := range append(append([]model.EmotionalMarker{}, a...), b...) {
		if mk.Strength > best[mk.Phrase] {
			best[mk.Phrase] = mk.Strength
		}
	}
	out := make([]model.EmotionalMarker, 0, len(best))
	for phrase, strength := range best {
		out = append(out, model.EmotionalMarker{Phrase: phrase, Strength: strength})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phrase < out[j].Phrase })
	return out
}

// mergeEvidence unions evidence by source message id, keeping the more
// relevant item per id, capped at evidenceCap by relevance.
func mergeEvidence(a, b model.Memory) []model.EvidenceItem {
	best := make(map[string]model.EvidenceItem)
	for _, ev := range append(append([]model.EvidenceItem{}, a.Evidence...), b.Evidence...) {
		if cur, ok := best[ev.SourceMessageID]; !ok || ev.Relevance > cur.Relevance {
			best[ev.SourceMessageID] = ev
		}
	}
	out := make([]model.EvidenceItem, 0, len(best))
	for _, ev := range best {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].SourceMessageID < out[j].SourceMessageID
	})
	if len(out) > evidenceCap {
		out = out[:evidenceCap]
	}
	return out
}

// unionIDs collects the lineage of a merge: both memories' ids plus any
// ids they already absorbed.
func unionIDs(a, b model.Memory) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	add := func(ids ...uuid.UUID) {
		for _, id := range ids {
			if id != uuid.Nil && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	add(a.Metadata.MergedFrom...)
	add(b.Metadata.MergedFrom...)
	add(a.ID, b.ID)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
