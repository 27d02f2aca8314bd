package signature

import (
	"math"
	"time"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// Similarity axis weights. They sum to 1.
const (
	weightEmotional   = 0.35
	weightParticipant = 0.25
	weightTemporal    = 0.15
	weightContent     = 0.25
)

// Window is the span over which temporal similarity decays to zero. It is
// also the half-width of the deduplication candidate search.
const Window = 72 * time.Hour

// Score is a cross-axis similarity result. All fields are in [0,1].
type Score struct {
	Overall     float64
	Emotional   float64
	Participant float64
	Temporal    float64
	Content     float64
}

// Similarity scores two memories across the emotional, participant,
// temporal, and content axes. Symmetric: Similarity(a,b) == Similarity(b,a),
// and Similarity(a,a).Overall == 1.
func Similarity(a, b model.Memory) Score {
	s := Score{
		Emotional:   emotionalSimilarity(a, b),
		Participant: jaccard(model.ParticipantIDs(a.Participants), model.ParticipantIDs(b.Participants)),
		Temporal:    temporalSimilarity(a.ExtractedAt, b.ExtractedAt),
		Content:     contentSimilarity(a.Summary, b.Summary),
	}
	s.Overall = weightEmotional*s.Emotional +
		weightParticipant*s.Participant +
		weightTemporal*s.Temporal +
		weightContent*s.Content
	return s
}

// emotionalSimilarity is the cosine similarity of affect vectors built from
// the mood one-hot, scaled intensity, and the pairwise theme Jaccard.
func emotionalSimilarity(a, b model.Memory) float64 {
	themeJ := jaccard(a.Emotional.Themes, b.Emotional.Themes)
	va := affectVector(a.Emotional, themeJ)
	vb := affectVector(b.Emotional, themeJ)
	return cosine(va, vb)
}

func affectVector(ec model.EmotionalContext, themeJaccard float64) []float64 {
	v := make([]float64, 0, len(model.Moods)+2)
	for _, m := range model.Moods {
		if ec.PrimaryMood == m {
			v = append(v, 1)
		} else {
			v = append(v, 0)
		}
	}
	v = append(v, ec.Intensity/10)
	v = append(v, themeJaccard)
	return v
}

func temporalSimilarity(a, b time.Time) float64 {
	dt := a.Sub(b)
	if dt < 0 {
		dt = -dt
	}
	sim := 1 - float64(dt)/float64(Window)
	if sim < 0 {
		return 0
	}
	return sim
}

// contentSimilarity is the token-set Jaccard of normalized summaries,
// counting only tokens of length >= 2.
func contentSimilarity(a, b string) float64 {
	return jaccard(contentTokens(a), contentTokens(b))
}

func contentTokens(summary string) []string {
	var toks []string
	for _, tok := range splitWords(NormalizeSummary(summary)) {
		if len(tok) >= 2 {
			toks = append(toks, tok)
		}
	}
	return toks
}

func splitWords(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		alnum := r == '\'' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || r > 127
		if alnum && start == -1 {
			start = i
		}
		if !alnum && start != -1 {
			out = append(out, s[start:i])
			start = -1
		}
	}
	if start != -1 {
		out = append(out, s[start:])
	}
	return out
}

// jaccard is |A ∩ B| / |A ∪ B| over the two slices as sets.
// Two empty sets are identical, so they score 1.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s] = true
	}
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		setB[s] = true
	}
	inter := 0
	for s := range setA {
		if setB[s] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
