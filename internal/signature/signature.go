// Package signature provides the canonical content signature, SHA-256
// content hashing, and cross-axis similarity scoring for memories.
// All functions are pure and deterministic.
package signature

import (
	"crypto/sha256"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// fieldSep separates canonical signature fields and the elements of list
// fields. A unit separator cannot appear in normalized text, so neither
// field nor element boundaries can collide.
const fieldSep = "\x1f"

// Compute produces the content hash for a memory: SHA-256 over the
// canonical signature. Stable across process restarts and insensitive to
// theme/participant ordering and summary whitespace.
func Compute(m model.Memory) model.Hash {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte(fieldSep))
	}
	write(string(m.Emotional.PrimaryMood))
	write(strings.Join(sortedCopy(model.ParticipantIDs(m.Participants)), fieldSep))
	write(NormalizeSummary(m.Summary))
	h.Write([]byte(strings.Join(sortedCopy(m.Emotional.Themes), fieldSep)))

	var out model.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// NormalizeSummary canonicalises free text for hashing and content
// similarity: NFKC normalization, lowercase, trimmed, internal whitespace
// collapsed to single spaces.
func NormalizeSummary(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
