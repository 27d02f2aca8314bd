// Package prompt assembles deterministic extraction prompts and parses the
// model's JSON responses tolerantly.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// Version identifies the prompt template. Stored in memory metadata so an
// extraction can be reproduced against the exact prompt that produced it.
const Version = "extract/v1"

// tightenDirective is appended when re-requesting after a parse failure.
const tightenDirective = "Return only valid JSON matching the schema."

// Builder renders extraction prompts. Construction is deterministic: the
// same batch always yields byte-identical output.
type Builder struct{}

// NewBuilder creates a prompt builder.
func NewBuilder() *Builder { return &Builder{} }

// Build renders the prompt for a batch. When tightened is true the JSON-only
// directive is appended, used on parse-failure retries.
func (b *Builder) Build(batch model.Batch, tightened bool) string {
	var sb strings.Builder

	// Section 1: participant roster from the batch's distinct authors.
	sb.WriteString("Participants in this conversation:\n")
	for _, id := range batch.AuthorIDs() {
		fmt.Fprintf(&sb, "- %s\n", id)
	}

	// Section 2: the conversation window.
	sb.WriteString("\nConversation:\n")
	for _, m := range batch.Messages {
		fmt.Fprintf(&sb, "%s — %s: %s\n", m.Timestamp.UTC().Format(time.RFC3339), m.AuthorID, m.Text)
	}

	// Section 3: analysis directive.
	sb.WriteString(`
Analyze the conversation above and extract emotionally significant memories.
For each memory report:
1. primary mood, intensity (1-10), valence (-1 to 1), and emotional themes
2. relationship dynamics: closeness, tension, supportiveness (1-10 each),
   interaction quality, and connection strength (0-1)
3. a mood score (0-10) with contributing factors
4. evidence: verbatim excerpts with their source message ids and relevance (0-1)
5. a one-to-three sentence summary
6. your confidence in the extraction (0-1)
`)

	// Section 4: output schema.
	sb.WriteString(`
Respond with a single JSON object of the form:
{"memories": [{
  "summary": string,
  "sourceMessageIds": [string],
  "participants": [{"id": string, "displayName": string, "role": "self|partner|family|friend|colleague|professional|other"}],
  "emotionalContext": {"primaryMood": "positive|negative|neutral|mixed|ambiguous", "intensity": number, "valence": number, "themes": [string], "emotionalMarkers": [{"phrase": string, "strength": number}], "contextualEvents": [string], "temporalPatterns": [string]},
  "relationshipDynamics": {"closeness": number, "tension": number, "supportiveness": number, "communicationPatterns": [string], "interactionQuality": "positive|neutral|negative|mixed", "connectionStrength": number},
  "moodScore": {"score": number, "confidence": number, "descriptors": [string], "factors": [{"type": "sentiment|psychological|relational|conversational|baseline", "weight": number, "evidence": [string]}]},
  "evidence": [{"sourceMessageId": string, "excerpt": string, "relevance": number}],
  "confidence": number
}]}
`)

	if tightened {
		sb.WriteString("\n" + tightenDirective + "\n")
	}
	return sb.String()
}
