package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// ErrorKind distinguishes the two parse failure modes of the response
// parser. Both are batch-scoped: the retry controller re-requests with a
// tightened prompt.
type ErrorKind string

const (
	// KindParse means no JSON object could be recovered from the response.
	KindParse ErrorKind = "PARSE_FAIL"
	// KindSchema means the JSON was readable but a required field was
	// missing or out of range.
	KindSchema ErrorKind = "SCHEMA_FAIL"
)

// ParseError reports a failed response parse. The parser never panics on
// malformed input; every failure surfaces as one of these.
type ParseError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ParseError) Error() string { return fmt.Sprintf("prompt: %s: %s", e.Kind, e.Detail) }

// Wire types mirror the schema stanza in builder.go. Unknown fields are
// ignored by encoding/json; missing optional fields default below.
type wireResponse struct {
	Memories []wireMemory `json:"memories"`
}

type wireMemory struct {
	Summary              string          `json:"summary"`
	SourceMessageIDs     []string        `json:"sourceMessageIds"`
	Participants         []wirePart      `json:"participants"`
	EmotionalContext     wireEmotional   `json:"emotionalContext"`
	RelationshipDynamics *wireRelational `json:"relationshipDynamics"`
	MoodScore            *wireMood       `json:"moodScore"`
	Evidence             []wireEvidence  `json:"evidence"`
	Confidence           *float64        `json:"confidence"`
}

type wirePart struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type wireEmotional struct {
	PrimaryMood      string       `json:"primaryMood"`
	Intensity        *float64     `json:"intensity"`
	Valence          float64      `json:"valence"`
	Themes           []string     `json:"themes"`
	EmotionalMarkers []wireMarker `json:"emotionalMarkers"`
	ContextualEvents []string     `json:"contextualEvents"`
	TemporalPatterns []string     `json:"temporalPatterns"`
}

type wireMarker struct {
	Phrase   string  `json:"phrase"`
	Strength float64 `json:"strength"`
}

type wireRelational struct {
	Closeness             float64  `json:"closeness"`
	Tension               float64  `json:"tension"`
	Supportiveness        float64  `json:"supportiveness"`
	CommunicationPatterns []string `json:"communicationPatterns"`
	InteractionQuality    string   `json:"interactionQuality"`
	ConnectionStrength    *float64 `json:"connectionStrength"`
}

type wireMood struct {
	Score       float64      `json:"score"`
	Confidence  float64      `json:"confidence"`
	Descriptors []string     `json:"descriptors"`
	Factors     []wireFactor `json:"factors"`
}

type wireFactor struct {
	Type     string   `json:"type"`
	Weight   float64  `json:"weight"`
	Evidence []string `json:"evidence"`
}

type wireEvidence struct {
	SourceMessageID string  `json:"sourceMessageId"`
	Excerpt         string  `json:"excerpt"`
	Relevance       float64 `json:"relevance"`
}

// Parse recovers memories from a raw model response for the given batch.
// It strips fences and surrounding prose, extracts the outermost JSON object
// by bracket balance, and validates against the output schema. Returned
// memories have Validation pending and no id, hash, or metadata; the
// orchestrator fills those.
func Parse(raw string, batch model.Batch) ([]model.Memory, error) {
	obj := extractJSONObject(stripFences(raw))
	if obj == "" {
		obj = extractJSONObject(raw)
	}
	if obj == "" {
		return nil, &ParseError{Kind: KindParse, Detail: "no JSON object in response"}
	}

	var wire wireResponse
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return nil, &ParseError{Kind: KindParse, Detail: fmt.Sprintf("unmarshal: %v", err)}
	}
	if wire.Memories == nil {
		return nil, &ParseError{Kind: KindSchema, Detail: `missing required field "memories"`}
	}

	batchMsgs := make(map[string]bool, len(batch.Messages))
	for _, m := range batch.Messages {
		batchMsgs[m.ID] = true
	}

	out := make([]model.Memory, 0, len(wire.Memories))
	for i, wm := range wire.Memories {
		mem, err := convertMemory(wm, batch, batchMsgs)
		if err != nil {
			return nil, &ParseError{Kind: KindSchema, Detail: fmt.Sprintf("memories[%d]: %v", i, err)}
		}
		out = append(out, mem)
	}
	return out, nil
}

func convertMemory(wm wireMemory, batch model.Batch, batchMsgs map[string]bool) (model.Memory, error) {
	if wm.Summary == "" {
		return model.Memory{}, fmt.Errorf("missing summary")
	}
	mood := model.Mood(wm.EmotionalContext.PrimaryMood)
	if !mood.Valid() {
		return model.Memory{}, fmt.Errorf("invalid primaryMood %q", wm.EmotionalContext.PrimaryMood)
	}
	if wm.Confidence != nil && (*wm.Confidence < 0 || *wm.Confidence > 1) {
		return model.Memory{}, fmt.Errorf("confidence %v out of [0,1]", *wm.Confidence)
	}
	if wm.EmotionalContext.Intensity != nil && (*wm.EmotionalContext.Intensity < 1 || *wm.EmotionalContext.Intensity > 10) {
		return model.Memory{}, fmt.Errorf("intensity %v out of [1,10]", *wm.EmotionalContext.Intensity)
	}

	// Source ids: keep only ids that exist in the batch; default to the
	// whole batch when the model omits (or fabricates all of) them.
	var sources []string
	for _, id := range wm.SourceMessageIDs {
		if batchMsgs[id] {
			sources = append(sources, id)
		}
	}
	if len(sources) == 0 {
		sources = batch.MessageIDs()
	}
	sourceSet := make(map[string]bool, len(sources))
	for _, id := range sources {
		sourceSet[id] = true
	}

	participants := make([]model.Participant, 0, len(wm.Participants))
	for _, wp := range wm.Participants {
		if wp.ID == "" {
			continue
		}
		role := model.ParticipantRole(wp.Role)
		switch role {
		case model.RoleSelf, model.RolePartner, model.RoleFamily, model.RoleFriend,
			model.RoleColleague, model.RoleProfessional, model.RoleOther:
		default:
			role = model.RoleOther
		}
		participants = append(participants, model.Participant{ID: wp.ID, DisplayName: wp.DisplayName, Role: role})
	}
	if len(participants) == 0 {
		for _, id := range batch.AuthorIDs() {
			participants = append(participants, model.Participant{ID: id, Role: model.RoleOther})
		}
	}

	intensity := 5.0
	if wm.EmotionalContext.Intensity != nil {
		intensity = *wm.EmotionalContext.Intensity
	}

	markers := make([]model.EmotionalMarker, 0, len(wm.EmotionalContext.EmotionalMarkers))
	for _, m := range wm.EmotionalContext.EmotionalMarkers {
		markers = append(markers, model.EmotionalMarker{Phrase: m.Phrase, Strength: model.Clamp01(m.Strength)})
	}

	var rel model.RelationshipDynamics
	if wr := wm.RelationshipDynamics; wr != nil {
		connection := 0.0
		if wr.ConnectionStrength != nil {
			connection = model.Clamp01(*wr.ConnectionStrength)
		}
		quality := model.InteractionQuality(wr.InteractionQuality)
		switch quality {
		case model.InteractionPositive, model.InteractionNeutral, model.InteractionNegative, model.InteractionMixed:
		default:
			quality = model.InteractionNeutral
		}
		rel = model.RelationshipDynamics{
			Closeness:             model.Clamp(wr.Closeness, 1, 10),
			Tension:               model.Clamp(wr.Tension, 1, 10),
			Supportiveness:        model.Clamp(wr.Supportiveness, 1, 10),
			CommunicationPatterns: wr.CommunicationPatterns,
			InteractionQuality:    quality,
			ConnectionStrength:    connection,
		}
	}

	var moodScore model.MoodScore
	if wms := wm.MoodScore; wms != nil {
		factors := make([]model.MoodFactor, 0, len(wms.Factors))
		for _, f := range wms.Factors {
			factors = append(factors, model.MoodFactor{
				Type:     model.MoodFactorType(f.Type),
				Weight:   model.Clamp01(f.Weight),
				Evidence: f.Evidence,
			})
		}
		moodScore = model.MoodScore{
			Score:       model.Clamp(wms.Score, 0, 10),
			Confidence:  model.Clamp01(wms.Confidence),
			Descriptors: wms.Descriptors,
			Factors:     factors,
		}
	}

	// Evidence referencing messages outside the memory's sources violates
	// the evidence invariant; such items are dropped, not fatal.
	evidence := make([]model.EvidenceItem, 0, len(wm.Evidence))
	for _, ev := range wm.Evidence {
		if !sourceSet[ev.SourceMessageID] {
			continue
		}
		evidence = append(evidence, model.EvidenceItem{
			SourceMessageID: ev.SourceMessageID,
			Excerpt:         ev.Excerpt,
			Relevance:       model.Clamp01(ev.Relevance),
		})
	}

	confidence := 0.0
	if wm.Confidence != nil {
		confidence = *wm.Confidence
	}

	return model.Memory{
		SourceMessageIDs: sources,
		Participants:     participants,
		Emotional: model.EmotionalContext{
			PrimaryMood:      mood,
			Intensity:        intensity,
			Valence:          model.Clamp(wm.EmotionalContext.Valence, -1, 1),
			Themes:           wm.EmotionalContext.Themes,
			EmotionalMarkers: markers,
			ContextualEvents: wm.EmotionalContext.ContextualEvents,
			TemporalPatterns: wm.EmotionalContext.TemporalPatterns,
		},
		Relationship: rel,
		Mood:         moodScore,
		Summary:      wm.Summary,
		Evidence:     evidence,
		Confidence:   confidence,
		Validation:   model.ValidationPending,
	}, nil
}
