// Package affect holds the shared lexicons used by the cheap (non-LLM)
// emotional heuristics: batch salience scoring and significance boosts.
package affect

import "strings"

// terms maps lowercase affect terms to a unit weight. The list is small on
// purpose: batch salience only needs a density signal, not full sentiment
// analysis.
var terms = map[string]float64{
	"love": 1, "hate": 1, "miss": 0.8, "sorry": 0.8, "thank": 0.6,
	"thanks": 0.6, "happy": 0.8, "sad": 0.9, "angry": 1, "furious": 1,
	"scared": 0.9, "afraid": 0.9, "worried": 0.8, "anxious": 0.9,
	"excited": 0.8, "proud": 0.8, "hurt": 0.9, "cry": 1, "crying": 1,
	"upset": 0.9, "stressed": 0.8, "lonely": 0.9, "grateful": 0.7,
	"devastated": 1, "relieved": 0.7, "hope": 0.6, "hopeless": 1,
	"overwhelmed": 0.9, "exhausted": 0.7, "wonderful": 0.7, "terrible": 0.9,
	"amazing": 0.7, "awful": 0.9, "forgive": 0.8, "apologize": 0.8,
	"apology": 0.8, "warm": 0.5, "warmly": 0.5, "comfort": 0.7,
}

// highImpact are lexemes that mark peak emotional episodes. Their presence
// adds a salience bonus regardless of term density.
var highImpact = map[string]bool{
	"grief": true, "grieving": true, "crisis": true, "breakthrough": true,
	"euphoric": true, "suicidal": true, "funeral": true, "diagnosis": true,
	"miscarriage": true, "divorce": true, "relapse": true, "trauma": true,
}

// urgency are contextual urgency markers.
var urgency = map[string]bool{
	"emergency": true, "urgent": true, "now": true, "immediately": true,
	"help": true, "asap": true, "tonight": true,
}

// vulnerability are disclosure markers that boost relationship impact.
var vulnerability = map[string]bool{
	"confess": true, "admit": true, "secret": true, "ashamed": true,
	"vulnerable": true, "honest": true, "truth": true, "scared": true,
}

// lifeEventThemes are theme identifiers that mark life events.
var lifeEventThemes = map[string]bool{
	"milestone": true, "loss": true, "health": true, "transition": true,
	"birth": true, "death": true, "marriage": true, "breakup": true,
	"moving": true, "career": true,
}

// Tokenize lowercases text and splits it into alphanumeric runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '\'')
	})
}

// TermDensity returns the summed affect weight of tokens divided by token
// count, in [0,1]. Empty text scores 0.
func TermDensity(text string) float64 {
	toks := Tokenize(text)
	if len(toks) == 0 {
		return 0
	}
	var sum float64
	for _, tok := range toks {
		sum += terms[strings.TrimSuffix(tok, "'s")]
	}
	d := sum / float64(len(toks))
	if d > 1 {
		d = 1
	}
	return d
}

// HasHighImpact reports whether text contains a high-impact lexeme.
func HasHighImpact(text string) bool { return containsAny(text, highImpact) }

// HasUrgency reports whether text contains a contextual urgency marker.
func HasUrgency(text string) bool { return containsAny(text, urgency) }

// HasVulnerability reports whether text contains a vulnerability marker.
func HasVulnerability(text string) bool { return containsAny(text, vulnerability) }

// LifeEventTheme reports whether the theme identifier names a life event.
func LifeEventTheme(theme string) bool {
	return lifeEventThemes[strings.ToLower(strings.TrimSpace(theme))]
}

func containsAny(text string, set map[string]bool) bool {
	for _, tok := range Tokenize(text) {
		if set[tok] {
			return true
		}
	}
	return false
}
