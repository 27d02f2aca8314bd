// Package batch groups ordered conversation messages into cost-bounded
// batches for extraction. Segmentation and salience scoring use cheap
// lexical heuristics only; no model calls happen here.
package batch

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nathanvale/mnemosyne-sub013/internal/affect"
	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// Mode selects the emission order of built batches.
type Mode string

const (
	// ModeQuality emits by salience descending.
	ModeQuality Mode = "quality"
	// ModeThroughput emits in chronological order.
	ModeThroughput Mode = "throughput"
	// ModeCost emits by estimated cost ascending.
	ModeCost Mode = "cost"
)

// Valid reports whether m is a known priority mode.
func (m Mode) Valid() bool {
	return m == ModeQuality || m == ModeThroughput || m == ModeCost
}

const (
	// DefaultMinSize is the packing target: consecutive windows are merged
	// until a batch reaches this size. Smaller remainders still emit.
	DefaultMinSize = 20
	// DefaultMaxSize is the hard per-batch message cap.
	DefaultMaxSize = 200
	// DefaultGap starts a new context window when consecutive messages are
	// further apart than this.
	DefaultGap = 30 * time.Minute
	// DefaultTokenBudget is the per-request token ceiling.
	DefaultTokenBudget = 8000

	// scaffoldTokens approximates the fixed prompt template around the
	// conversation: roster, directive, and schema stanza.
	scaffoldTokens = 450
	// perMessageTokens approximates the timestamp/author framing added per
	// rendered message line.
	perMessageTokens = 10

	// boundarySpan is how many messages on each side feed the participant
	// drift check.
	boundarySpan = 6
	// driftThreshold: author-set Jaccard below this across a candidate
	// boundary starts a new window.
	driftThreshold = 0.5
)

// Config controls segmentation and packing.
type Config struct {
	MinSize     int
	MaxSize     int
	Gap         time.Duration
	TokenBudget int
	Priority    Mode
}

// DefaultConfig returns the stock builder configuration.
func DefaultConfig() Config {
	return Config{
		MinSize:     DefaultMinSize,
		MaxSize:     DefaultMaxSize,
		Gap:         DefaultGap,
		TokenBudget: DefaultTokenBudget,
		Priority:    ModeQuality,
	}
}

func (c Config) validate() error {
	if c.MinSize < 1 || c.MaxSize < c.MinSize {
		return fmt.Errorf("batch: invalid size bounds [%d,%d]", c.MinSize, c.MaxSize)
	}
	if c.Gap <= 0 {
		return fmt.Errorf("batch: gap must be positive, got %v", c.Gap)
	}
	if c.TokenBudget <= scaffoldTokens {
		return fmt.Errorf("batch: token budget %d does not cover prompt scaffolding", c.TokenBudget)
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("batch: unknown priority mode %q", c.Priority)
	}
	return nil
}

// Builder turns a conversation's messages into batches.
type Builder struct {
	cfg Config
}

// NewBuilder creates a builder, or fails on an invalid config.
func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg}, nil
}

// Build segments, packs, costs, and orders the messages of one conversation.
// Messages must already be in timestamp order. Messages whose single cost
// exceeds the token budget are dropped.
func (b *Builder) Build(conversationID string, msgs []model.Message) []model.Batch {
	if len(msgs) == 0 {
		return nil
	}

	windows := b.segment(msgs)
	batches := b.pack(conversationID, windows)
	b.order(batches)
	return batches
}

// EstimateTokens approximates the request cost of a message slice:
// chars/4 per message plus line framing plus the fixed prompt scaffolding.
func EstimateTokens(msgs []model.Message) int {
	total := scaffoldTokens
	for _, m := range msgs {
		total += len(m.Text)/4 + perMessageTokens
	}
	return total
}

// window is an intermediate context window with its salience score.
type window struct {
	msgs     []model.Message
	salience float64
}

// segment splits messages into context windows on time gaps, participant
// drift, and the token budget.
func (b *Builder) segment(msgs []model.Message) []window {
	var out []window
	start := 0
	tokens := scaffoldTokens

	for i := 0; i < len(msgs); i++ {
		cost := len(msgs[i].Text)/4 + perMessageTokens
		boundary := i > start &&
			(msgs[i].Timestamp.Sub(msgs[i-1].Timestamp) > b.cfg.Gap ||
				tokens+cost > b.cfg.TokenBudget ||
				participantDrift(msgs, i))
		if boundary {
			out = append(out, b.newWindow(msgs[start:i]))
			start = i
			tokens = scaffoldTokens
		}
		tokens += cost
	}
	out = append(out, b.newWindow(msgs[start:]))
	return out
}

func (b *Builder) newWindow(msgs []model.Message) window {
	return window{msgs: msgs, salience: salience(msgs)}
}

// participantDrift reports whether the author sets on either side of index i
// diverge enough to start a new window.
func participantDrift(msgs []model.Message, i int) bool {
	lo := i - boundarySpan
	if lo < 0 {
		lo = 0
	}
	hi := i + boundarySpan
	if hi > len(msgs) {
		hi = len(msgs)
	}
	before := authorSet(msgs[lo:i])
	after := authorSet(msgs[i:hi])
	return jaccard(before, after) < driftThreshold
}

func authorSet(msgs []model.Message) map[string]bool {
	set := make(map[string]bool, 4)
	for _, m := range msgs {
		set[m.AuthorID] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

// salience scores a window's emotional weight: affect term density times
// turn count times participant count. Used only for emission ordering.
func salience(msgs []model.Message) float64 {
	if len(msgs) == 0 {
		return 0
	}
	var text string
	turns := 1
	for i, m := range msgs {
		text += m.Text + "\n"
		if i > 0 && m.AuthorID != msgs[i-1].AuthorID {
			turns++
		}
	}
	return affect.TermDensity(text) * float64(turns) * float64(len(authorSet(msgs)))
}

// pack merges consecutive windows up to MinSize, caps at MaxSize, splits
// oversize windows on speaker boundaries, and drops anything that cannot
// fit the token budget even alone.
func (b *Builder) pack(conversationID string, windows []window) []model.Batch {
	var batches []model.Batch
	var cur []model.Message
	var curSalience float64

	flush := func() {
		if len(cur) == 0 {
			return
		}
		batches = append(batches, b.emit(conversationID, cur, curSalience))
		cur, curSalience = nil, 0
	}

	for _, w := range windows {
		msgs := w.msgs
		for len(msgs) > b.cfg.MaxSize {
			cut := splitIndex(msgs, b.cfg.MaxSize)
			flush()
			batches = append(batches, b.emit(conversationID, msgs[:cut], w.salience))
			msgs = msgs[cut:]
		}
		if len(cur)+len(msgs) > b.cfg.MaxSize {
			flush()
		}
		if curSalience < w.salience {
			curSalience = w.salience
		}
		cur = append(cur, msgs...)
		if len(cur) >= b.cfg.MinSize {
			flush()
		}
	}
	flush()

	// Enforce the token budget: split over-budget batches, drop messages
	// that cannot fit alone.
	var out []model.Batch
	for _, bt := range batches {
		out = append(out, b.enforceBudget(bt)...)
	}
	return out
}

// enforceBudget splits a batch until every piece fits the token budget.
// A single message over budget is dropped.
func (b *Builder) enforceBudget(bt model.Batch) []model.Batch {
	if bt.EstimatedCostTokens <= b.cfg.TokenBudget {
		return []model.Batch{bt}
	}
	if len(bt.Messages) == 1 {
		return nil
	}
	left, right, ok := Split(bt)
	if !ok {
		return nil
	}
	return append(b.enforceBudget(left), b.enforceBudget(right)...)
}

// Split divides a batch into two on the speaker-change boundary nearest its
// midpoint, preserving order; a single-speaker batch splits at the midpoint.
// Reports false for batches of fewer than two messages. Also used to shrink
// oversize batches on retry.
func Split(bt model.Batch) (model.Batch, model.Batch, bool) {
	if len(bt.Messages) < 2 {
		return model.Batch{}, model.Batch{}, false
	}
	cut := splitIndex(bt.Messages, len(bt.Messages)/2)
	if cut <= 0 || cut >= len(bt.Messages) {
		return model.Batch{}, model.Batch{}, false
	}
	left := remake(bt, bt.Messages[:cut])
	right := remake(bt, bt.Messages[cut:])
	return left, right, true
}

// splitIndex finds the speaker-change boundary nearest target (never past
// it when one exists at or before target; falls back to target itself).
func splitIndex(msgs []model.Message, target int) int {
	if target >= len(msgs) {
		target = len(msgs) - 1
	}
	if target < 1 {
		target = 1
	}
	best := -1
	for i := 1; i < len(msgs); i++ {
		if msgs[i].AuthorID == msgs[i-1].AuthorID {
			continue
		}
		if best == -1 || abs(i-target) < abs(best-target) {
			best = i
		}
	}
	if best == -1 {
		return target
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (b *Builder) emit(conversationID string, msgs []model.Message, sal float64) model.Batch {
	cp := make([]model.Message, len(msgs))
	copy(cp, msgs)
	return model.Batch{
		ID:                  uuid.New(),
		ConversationID:      conversationID,
		Messages:            cp,
		EstimatedCostTokens: EstimateTokens(cp),
		PriorityScore:       sal,
		WindowStart:         cp[0].Timestamp,
		WindowEnd:           cp[len(cp)-1].Timestamp,
	}
}

func remake(bt model.Batch, msgs []model.Message) model.Batch {
	cp := make([]model.Message, len(msgs))
	copy(cp, msgs)
	return model.Batch{
		ID:                  uuid.New(),
		ConversationID:      bt.ConversationID,
		Messages:            cp,
		EstimatedCostTokens: EstimateTokens(cp),
		PriorityScore:       bt.PriorityScore,
		WindowStart:         cp[0].Timestamp,
		WindowEnd:           cp[len(cp)-1].Timestamp,
	}
}

// order sorts batches per the configured priority mode. Stable, so equal
// keys stay chronological.
func (b *Builder) order(batches []model.Batch) {
	switch b.cfg.Priority {
	case ModeQuality:
		sort.SliceStable(batches, func(i, j int) bool {
			return batches[i].PriorityScore > batches[j].PriorityScore
		})
	case ModeCost:
		sort.SliceStable(batches, func(i, j int) bool {
			return batches[i].EstimatedCostTokens < batches[j].EstimatedCostTokens
		})
	default: // ModeThroughput: already chronological
	}
}
