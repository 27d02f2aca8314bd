package significance

import (
	"math"
	"time"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

const (
	// deltaMagnitude is the minimum mood change that registers as a delta.
	deltaMagnitude = 2.0
	// suddenWithin bounds a sudden change; gradual changes take longer
	// than gradualAfter.
	suddenWithin = 30 * time.Minute
	gradualAfter = 60 * time.Minute
)

// DetectDelta compares the current memory's mood score against prior
// memories for an overlapping participant set, newest first. Callers
// pre-filter priors to the 24h detection window. Returns nil when the mood
// is stable: small changes, or a sustained run of three prior scores
// within one point of each other with no fresh swing.
func DetectDelta(current model.Memory, priors []model.Memory, detectedAt time.Time) *model.MoodDelta {
	if len(priors) == 0 {
		return nil
	}
	prev := priors[0]
	magnitude := math.Abs(current.Mood.Score - prev.Mood.Score)

	repair := prev.Mood.Score < 4 && current.Mood.Score >= 5
	if magnitude < deltaMagnitude {
		// A small repair crossing still counts, unless the mood has been
		// sitting flat for three prior readings.
		if !repair || sustained(priors) {
			return nil
		}
	}

	direction := model.DeltaPositive
	if current.Mood.Score < prev.Mood.Score {
		direction = model.DeltaNegative
	}

	elapsed := current.ExtractedAt.Sub(prev.ExtractedAt)
	var kind model.DeltaType
	switch {
	case repair:
		kind = model.DeltaRepair
	case current.Mood.Score >= 8 && magnitude >= deltaMagnitude && direction == model.DeltaPositive:
		kind = model.DeltaSpike
	case elapsed <= suddenWithin:
		kind = model.DeltaSudden
	case elapsed > gradualAfter:
		kind = model.DeltaGradual
	default:
		// Between the sudden and gradual cutoffs: treat as gradual.
		kind = model.DeltaGradual
	}

	return &model.MoodDelta{
		PreviousScore: prev.Mood.Score,
		CurrentScore:  current.Mood.Score,
		Magnitude:     magnitude,
		Direction:     direction,
		Significance:  deltaSignificance(magnitude),
		Type:          kind,
		Confidence:    math.Min(model.Clamp01(current.Mood.Confidence), model.Clamp01(prev.Mood.Confidence)),
		DetectedAt:    detectedAt,
	}
}

// sustained reports whether the three most recent prior scores sit within
// one point of each other.
func sustained(priors []model.Memory) bool {
	if len(priors) < 3 {
		return false
	}
	lo, hi := priors[0].Mood.Score, priors[0].Mood.Score
	for _, p := range priors[1:3] {
		lo = math.Min(lo, p.Mood.Score)
		hi = math.Max(hi, p.Mood.Score)
	}
	return hi-lo <= 1
}

func deltaSignificance(magnitude float64) model.DeltaSignificance {
	switch {
	case magnitude >= 4:
		return model.DeltaHigh
	case magnitude >= 2.5:
		return model.DeltaMedium
	default:
		return model.DeltaLow
	}
}
