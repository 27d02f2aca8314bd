package model

import "time"

// Mood is the primary affective classification of an episode.
type Mood string

const (
	MoodPositive  Mood = "positive"
	MoodNegative  Mood = "negative"
	MoodNeutral   Mood = "neutral"
	MoodMixed     Mood = "mixed"
	MoodAmbiguous Mood = "ambiguous"
)

// Moods enumerates all valid moods, in canonical order. Used for the
// one-hot component of emotional similarity.
var Moods = []Mood{MoodPositive, MoodNegative, MoodNeutral, MoodMixed, MoodAmbiguous}

// Valid reports whether m is a known mood literal.
func (m Mood) Valid() bool {
	switch m {
	case MoodPositive, MoodNegative, MoodNeutral, MoodMixed, MoodAmbiguous:
		return true
	}
	return false
}

// EmotionalMarker is a phrase in the source text carrying affective signal.
type EmotionalMarker struct {
	Phrase   string
	Strength float64 // [0,1]
}

// EmotionalContext captures the affective reading of a memory.
type EmotionalContext struct {
	PrimaryMood      Mood
	Intensity        float64 // [1,10]
	Valence          float64 // [-1,1]
	Themes           []string
	EmotionalMarkers []EmotionalMarker
	ContextualEvents []string
	TemporalPatterns []string
}

// InteractionQuality summarises the overall tone of an exchange.
type InteractionQuality string

const (
	InteractionPositive InteractionQuality = "positive"
	InteractionNeutral  InteractionQuality = "neutral"
	InteractionNegative InteractionQuality = "negative"
	InteractionMixed    InteractionQuality = "mixed"
)

// RelationshipDynamics captures the relational reading of a memory.
type RelationshipDynamics struct {
	Closeness             float64 // [1,10]
	Tension               float64 // [1,10]
	Supportiveness        float64 // [1,10]
	CommunicationPatterns []string
	InteractionQuality    InteractionQuality
	ConnectionStrength    float64 // [0,1]
}

// MoodFactorType identifies which signal family contributed to a mood score.
type MoodFactorType string

const (
	FactorSentiment      MoodFactorType = "sentiment"
	FactorPsychological  MoodFactorType = "psychological"
	FactorRelational     MoodFactorType = "relational"
	FactorConversational MoodFactorType = "conversational"
	FactorBaseline       MoodFactorType = "baseline"
)

// MoodFactor is one weighted contributor to a mood score.
type MoodFactor struct {
	Type     MoodFactorType
	Weight   float64 // [0,1]
	Evidence []string
}

// DeltaDirection is the sign of a mood change.
type DeltaDirection string

const (
	DeltaPositive DeltaDirection = "positive"
	DeltaNegative DeltaDirection = "negative"
)

// DeltaSignificance buckets how notable a mood change is.
type DeltaSignificance string

const (
	DeltaLow    DeltaSignificance = "low"
	DeltaMedium DeltaSignificance = "medium"
	DeltaHigh   DeltaSignificance = "high"
)

// DeltaType classifies the shape of a mood change.
type DeltaType string

const (
	DeltaSudden    DeltaType = "sudden"
	DeltaGradual   DeltaType = "gradual"
	DeltaRepair    DeltaType = "repair"
	DeltaSpike     DeltaType = "spike"
	DeltaSustained DeltaType = "sustained"
)

// MoodDelta is a labelled change between consecutive mood scores for an
// overlapping participant set.
type MoodDelta struct {
	PreviousScore float64
	CurrentScore  float64
	Magnitude     float64
	Direction     DeltaDirection
	Significance  DeltaSignificance
	Type          DeltaType
	Confidence    float64 // [0,1]
	DetectedAt    time.Time
}

// MoodScore is the scored mood of an episode with its decomposition.
type MoodScore struct {
	Score       float64 // [0,10]
	Confidence  float64 // [0,1]
	Descriptors []string
	Factors     []MoodFactor
	Delta       *MoodDelta
}
