package model

// SignificanceCategory buckets overall significance for routing and display.
type SignificanceCategory string

const (
	SignificanceLow      SignificanceCategory = "low"
	SignificanceMedium   SignificanceCategory = "medium"
	SignificanceHigh     SignificanceCategory = "high"
	SignificanceCritical SignificanceCategory = "critical"
)

// CategoryForOverall maps an overall score to its category:
// <4 low, [4,6) medium, [6,8) high, >=8 critical.
func CategoryForOverall(overall float64) SignificanceCategory {
	switch {
	case overall >= 8:
		return SignificanceCritical
	case overall >= 6:
		return SignificanceHigh
	case overall >= 4:
		return SignificanceMedium
	default:
		return SignificanceLow
	}
}

// SignificanceWeights are the component weights for the overall score.
// They must sum to 1.
type SignificanceWeights struct {
	EmotionalSalience    float64
	RelationshipImpact   float64
	ContextualImportance float64
	TemporalRelevance    float64
}

// DefaultSignificanceWeights is the 0.30/0.30/0.20/0.20 default split.
var DefaultSignificanceWeights = SignificanceWeights{
	EmotionalSalience:    0.30,
	RelationshipImpact:   0.30,
	ContextualImportance: 0.20,
	TemporalRelevance:    0.20,
}

// SignificanceScore is the multi-factor significance of a memory.
// All components and Overall are in [0,10].
type SignificanceScore struct {
	Overall              float64
	EmotionalSalience    float64
	RelationshipImpact   float64
	ContextualImportance float64
	TemporalRelevance    float64
	Category             SignificanceCategory
	ValidationPriority   float64 // [0,10]; high for uncertain-yet-significant memories
	Confidence           float64 // [0,1]
}
