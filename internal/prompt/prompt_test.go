package prompt

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

func testBatch() model.Batch {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return model.Batch{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		Messages: []model.Message{
			{ID: "m1", ConversationID: "conv-1", AuthorID: "A", Timestamp: base, Text: "I'm really sorry about yesterday."},
			{ID: "m2", ConversationID: "conv-1", AuthorID: "B", Timestamp: base.Add(2 * time.Minute), Text: "Thank you, that means a lot."},
			{ID: "m3", ConversationID: "conv-1", AuthorID: "A", Timestamp: base.Add(4 * time.Minute), Text: "I'm glad we talked."},
		},
		WindowStart: base,
		WindowEnd:   base.Add(4 * time.Minute),
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder()
	batch := testBatch()
	assert.Equal(t, b.Build(batch, false), b.Build(batch, false))
}

func TestBuildSectionOrder(t *testing.T) {
	p := NewBuilder().Build(testBatch(), false)

	roster := strings.Index(p, "Participants in this conversation:")
	window := strings.Index(p, "Conversation:")
	directive := strings.Index(p, "Analyze the conversation")
	schema := strings.Index(p, `{"memories": [{`)
	require.True(t, roster >= 0 && window > roster && directive > window && schema > directive,
		"sections must appear in fixed order: roster, window, directive, schema")

	assert.Contains(t, p, "2026-03-01T12:00:00Z — A: I'm really sorry about yesterday.")
	assert.Contains(t, p, "- A\n- B\n")
	assert.NotContains(t, p, tightenDirective)
}

func TestBuildTightened(t *testing.T) {
	p := NewBuilder().Build(testBatch(), true)
	assert.Contains(t, p, tightenDirective)
}

func validResponse(confidence float64) string {
	return fmt.Sprintf(`{"memories": [{
		"summary": "A apologized to B and the apology was warmly accepted.",
		"sourceMessageIds": ["m1", "m2"],
		"participants": [{"id": "A", "displayName": "Alice", "role": "friend"}, {"id": "B", "role": "friend"}],
		"emotionalContext": {"primaryMood": "positive", "intensity": 7, "valence": 0.6, "themes": ["repair", "gratitude"]},
		"relationshipDynamics": {"closeness": 7, "tension": 3, "supportiveness": 8, "interactionQuality": "positive", "connectionStrength": 0.8},
		"moodScore": {"score": 7.5, "confidence": 0.8, "descriptors": ["warm"], "factors": [{"type": "sentiment", "weight": 0.6, "evidence": ["sorry", "thank you"]}]},
		"evidence": [{"sourceMessageId": "m1", "excerpt": "I'm really sorry", "relevance": 0.9}],
		"confidence": %v
	}]}`, confidence)
}

func TestParseWellFormed(t *testing.T) {
	mems, err := Parse(validResponse(0.82), testBatch())
	require.NoError(t, err)
	require.Len(t, mems, 1)

	m := mems[0]
	assert.Equal(t, []string{"m1", "m2"}, m.SourceMessageIDs)
	assert.Equal(t, model.MoodPositive, m.Emotional.PrimaryMood)
	assert.InDelta(t, 7.0, m.Emotional.Intensity, 1e-9)
	assert.Equal(t, 0.82, m.Confidence)
	assert.Equal(t, model.ValidationPending, m.Validation)
	assert.Equal(t, model.RoleFriend, m.Participants[0].Role)
	require.NoError(t, m.Validate())
}

func TestParseSurroundingProse(t *testing.T) {
	raw := "Here is the memory you asked for:\n" + validResponse(0.7) + "\nLet me know if you need more!"
	mems, err := Parse(raw, testBatch())
	require.NoError(t, err)
	assert.Len(t, mems, 1)
}

func TestParseFencedResponse(t *testing.T) {
	raw := "```json\n" + validResponse(0.7) + "\n```"
	mems, err := Parse(raw, testBatch())
	require.NoError(t, err)
	assert.Len(t, mems, 1)
}

func TestParseBOMPrefixedResponse(t *testing.T) {
	raw := "\uFEFF" + validResponse(0.7)
	mems, err := Parse(raw, testBatch())
	require.NoError(t, err)
	assert.Len(t, mems, 1)
}

func TestParsePureProse(t *testing.T) {
	_, err := Parse("I could not find any emotionally significant content.", testBatch())
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindParse, pe.Kind)
}

func TestParseSchemaFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing memories", `{"something": []}`},
		{"missing summary", `{"memories": [{"emotionalContext": {"primaryMood": "positive"}}]}`},
		{"invalid mood", `{"memories": [{"summary": "s", "emotionalContext": {"primaryMood": "elated"}}]}`},
		{"confidence out of range", `{"memories": [{"summary": "s", "confidence": 1.4, "emotionalContext": {"primaryMood": "neutral"}}]}`},
		{"intensity out of range", `{"memories": [{"summary": "s", "emotionalContext": {"primaryMood": "neutral", "intensity": 14}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw, testBatch())
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, KindSchema, pe.Kind)
		})
	}
}

func TestParseDefaultsAndFiltering(t *testing.T) {
	// No source ids, no participants, evidence pointing outside the batch.
	raw := `{"memories": [{
		"summary": "Something warm happened between the two.",
		"emotionalContext": {"primaryMood": "positive"},
		"evidence": [{"sourceMessageId": "bogus", "excerpt": "x", "relevance": 0.9}],
		"confidence": 0.5
	}]}`
	mems, err := Parse(raw, testBatch())
	require.NoError(t, err)
	require.Len(t, mems, 1)

	m := mems[0]
	assert.Equal(t, []string{"m1", "m2", "m3"}, m.SourceMessageIDs, "defaults to the whole batch")
	assert.Equal(t, []string{"A", "B"}, []string{m.Participants[0].ID, m.Participants[1].ID})
	assert.Empty(t, m.Evidence, "out-of-batch evidence is dropped")
	assert.InDelta(t, 5.0, m.Emotional.Intensity, 1e-9, "intensity defaults to midpoint")
	require.NoError(t, m.Validate())
}

func TestParseNeverPanicsOnGarbage(t *testing.T) {
	batch := testBatch()
	for _, raw := range []string{
		"", "{", "}", `{"memories": `, "```", "\x00\x01\x02",
		`{"memories": [{"summary": "s", "emotionalContext": {"primaryMood": "neutral"}}]`,
		`{"a":"b{{{"}`,
	} {
		_, err := Parse(raw, batch)
		if err == nil {
			continue // a fragment that happens to parse is fine
		}
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), "all failures are ParseError, got %T for %q", err, raw)
	}
}

func TestExtractJSONObjectBraceInString(t *testing.T) {
	in := `noise {"a": "va{lue}", "b": {"c": 1}} trailing`
	assert.Equal(t, `{"a": "va{lue}", "b": {"c": 1}}`, extractJSONObject(in))
}
