// Package pipeline is the orchestrator: it batches conversations, drives
// rate-limited LLM extraction through the retry controller, scores and
// routes the resulting memories, and hands them to deduplication for
// persistence. Batches are independent; a failed batch never poisons its
// neighbours, but a fatal error (auth, budget) stops intake and drains
// in-flight work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nathanvale/mnemosyne-sub013/internal/batch"
	"github.com/nathanvale/mnemosyne-sub013/internal/budget"
	"github.com/nathanvale/mnemosyne-sub013/internal/confidence"
	"github.com/nathanvale/mnemosyne-sub013/internal/config"
	"github.com/nathanvale/mnemosyne-sub013/internal/dedup"
	"github.com/nathanvale/mnemosyne-sub013/internal/llm"
	"github.com/nathanvale/mnemosyne-sub013/internal/model"
	"github.com/nathanvale/mnemosyne-sub013/internal/prompt"
	"github.com/nathanvale/mnemosyne-sub013/internal/retry"
	"github.com/nathanvale/mnemosyne-sub013/internal/review"
	"github.com/nathanvale/mnemosyne-sub013/internal/significance"
	"github.com/nathanvale/mnemosyne-sub013/internal/storage"
)

// ErrStopped is returned by Enqueue once a fatal error has stopped intake.
var ErrStopped = errors.New("pipeline: stopped after fatal error")

// deltaLookback bounds how far back mood delta detection searches for prior
// memories of the same participants.
const deltaLookback = 24 * time.Hour

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetry replaces the retry controller.
func WithRetry(c *retry.Controller) Option {
	return func(p *Pipeline) { p.retry = c }
}

// WithNow replaces the pipeline clock.
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs extraction end to end for enqueued batches.
type Pipeline struct {
	cfg    config.Config
	client llm.Client
	store  storage.Store
	log    *slog.Logger

	batches  *batch.Builder
	prompts  *prompt.Builder
	retry    *retry.Controller
	reviewer *review.Engine
	analyzer *significance.Analyzer
	deduper  *dedup.Deduper
	ledger   *budget.Ledger
	limiter  *budget.Limiter
	params   llm.CallParams
	now      func() time.Time

	queue   chan model.Batch
	group   errgroup.Group
	started atomic.Bool
	stopped atomic.Bool

	fatalMu sync.Mutex
	fatal   error

	progress progress
	metrics  *metrics
}

// New assembles a pipeline from configuration. cfg must already be
// validated.
func New(cfg config.Config, client llm.Client, store storage.Store, log *slog.Logger, opts ...Option) (*Pipeline, error) {
	builder, err := batch.NewBuilder(cfg.BatchConfig())
	if err != nil {
		return nil, err
	}
	reviewer, err := review.NewEngine(cfg.Thresholds, log)
	if err != nil {
		return nil, err
	}
	analyzer, err := significance.NewAnalyzer(cfg.SignificanceWeights)
	if err != nil {
		return nil, err
	}
	deduper, err := dedup.New(store, cfg.DuplicateAt, cfg.NearDuplicateAt, log)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		client:   client,
		store:    store,
		log:      log,
		batches:  builder,
		prompts:  prompt.NewBuilder(),
		retry:    retry.NewController(log),
		reviewer: reviewer,
		analyzer: analyzer,
		deduper:  deduper,
		ledger:   budget.NewLedger(cfg.MaxUSD),
		limiter:  budget.NewLimiter(cfg.RequestsPerSecond, cfg.RequestBurst),
		params: llm.CallParams{
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.MaxOutTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.RequestTimeout,
		},
		now:   time.Now,
		queue: make(chan model.Batch, cfg.QueueDepth),
	}
	for _, o := range opts {
		o(p)
	}
	p.metrics = newMetrics(p)
	return p, nil
}

// Reviewer exposes the auto-confirmation engine for feedback and threshold
// management.
func (p *Pipeline) Reviewer() *review.Engine { return p.reviewer }

// Start launches the worker pool. Call once; workers run until Drain.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.group.Go(func() error { return p.worker(ctx) })
	}
}

// Enqueue submits one batch. Blocks when the queue is full. Returns
// ErrStopped once a fatal error has been seen. Must not be called after
// Drain.
func (p *Pipeline) Enqueue(ctx context.Context, b model.Batch) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	select {
	case p.queue <- b:
		p.progress.enqueued()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueConversation batches a conversation's messages and submits every
// batch. Messages must be in timestamp order. Returns how many batches were
// enqueued.
func (p *Pipeline) EnqueueConversation(ctx context.Context, conversationID string, msgs []model.Message) (int, error) {
	batches := p.batches.Build(conversationID, msgs)
	for i, b := range batches {
		if err := p.Enqueue(ctx, b); err != nil {
			return i, err
		}
	}
	return len(batches), nil
}

// Drain closes intake, waits for all queued and in-flight batches, and
// returns the fatal error if one stopped the run.
func (p *Pipeline) Drain() error {
	close(p.queue)
	err := p.group.Wait()
	p.metrics.unregister()
	return err
}

// Progress returns a snapshot of the run so far.
func (p *Pipeline) Progress() Snapshot {
	s := p.progress.snapshot()
	s.SpentUSD = p.ledger.SpentUSD()
	return s
}

// Usage returns the cost ledger's token and spend accounting.
func (p *Pipeline) Usage() budget.UsageStats { return p.ledger.Stats() }

// worker consumes batches until the queue closes. It returns the first
// fatal error it hit, after the queue is fully drained.
func (p *Pipeline) worker(ctx context.Context) error {
	var firstFatal error
	for b := range p.queue {
		if p.stopped.Load() {
			p.discard(ctx, b)
			continue
		}
		if err := p.processBatch(ctx, b); err != nil && firstFatal == nil {
			firstFatal = err
		}
	}
	return firstFatal
}

// processBatch runs one batch through reservation, extraction, scoring,
// routing, and persistence. It returns an error only for fatal classes;
// ordinary failures are journaled and absorbed.
func (p *Pipeline) processBatch(ctx context.Context, b model.Batch) error {
	start := p.now()

	var (
		memories []model.Memory
		spent    float64
		modelID  string
	)
	// Every attempt reserves its own estimate before spending, so committed
	// totals can never pass the budget no matter how often a batch retries.
	call := func(ctx context.Context, cb model.Batch, tightened bool) error {
		est := batch.EstimateTokens(cb.Messages)
		if est > p.cfg.TokenBudget {
			return retry.ErrOversize
		}
		res, err := p.ledger.Reserve(p.cfg.EstimateUSD(est))
		if err != nil {
			return err
		}
		if err := p.limiter.Acquire(ctx); err != nil {
			res.Release()
			return err
		}
		resp, callErr := p.client.Call(ctx, p.prompts.Build(cb, tightened), p.params)
		cost := p.cfg.CostUSD(resp.Usage.InTokens, resp.Usage.OutTokens)
		res.Commit(cost, resp.Usage.InTokens, resp.Usage.OutTokens)
		spent += cost
		if callErr != nil {
			return callErr
		}
		modelID = resp.Model
		ms, perr := prompt.Parse(resp.Content, cb)
		if perr != nil {
			return perr
		}
		memories = append(memories, ms...)
		return nil
	}

	err := p.retry.Run(ctx, b, call)

	// Memories from attempts that did complete (the left half of a split,
	// say) are admitted even when a later attempt sank the batch.
	extracted := 0
	for _, m := range memories {
		if aerr := p.admit(ctx, m, b, modelID); aerr != nil {
			p.log.Warn("pipeline: memory dropped", "batch_id", b.ID, "error", aerr)
			continue
		}
		extracted++
	}

	if err != nil {
		return p.fail(ctx, b, err, spent, extracted, p.now().Sub(start))
	}

	p.recordOutcome(ctx, model.BatchOutcome{
		BatchID:           b.ID,
		Status:            model.BatchCompleted,
		MemoriesExtracted: extracted,
		SpentUSD:          spent,
		Duration:          p.now().Sub(start),
	})
	p.progress.completed()
	p.log.Info("pipeline: batch completed",
		"batch_id", b.ID, "memories", extracted, "spent_usd", spent)
	return nil
}

// admit finishes one extracted memory: provenance, confidence, significance,
// mood delta, routing, and deduplicated persistence. A failed memory is
// dropped without failing its batch.
func (p *Pipeline) admit(ctx context.Context, m model.Memory, b model.Batch, modelID string) error {
	m.ID = uuid.New()
	if m.ExtractedAt.IsZero() {
		m.ExtractedAt = p.now().UTC()
	}
	m.Metadata = model.MemoryMetadata{
		Model:         modelID,
		PromptVersion: prompt.Version,
		BatchID:       b.ID,
	}

	m.Confidence = confidence.Score(m, b).Overall
	m.Significance = p.analyzer.Score(m, b)

	priors, err := p.store.FindMemoryCandidates(ctx,
		model.ParticipantIDs(m.Participants),
		m.ExtractedAt.Add(-deltaLookback), m.ExtractedAt)
	if err != nil {
		return fmt.Errorf("pipeline: prior lookup: %w", err)
	}
	if d := significance.DetectDelta(m, priors, m.ExtractedAt); d != nil {
		m.Mood.Delta = d
	}

	p.reviewer.Route(&m)
	if err := m.Validate(); err != nil {
		return err
	}

	res, err := p.deduper.Process(ctx, m)
	if err != nil {
		return fmt.Errorf("pipeline: dedup: %w", err)
	}
	p.progress.admitted(m, res.Outcome)
	return nil
}

// fail journals a failed batch. Fatal classes additionally stop intake and
// propagate the error to Drain.
func (p *Pipeline) fail(ctx context.Context, b model.Batch, cause error, spent float64, extracted int, dur time.Duration) error {
	class := retry.Classify(cause)
	p.recordOutcome(ctx, model.BatchOutcome{
		BatchID:           b.ID,
		Status:            model.BatchFailed,
		ErrorClass:        string(class),
		Cause:             cause.Error(),
		MemoriesExtracted: extracted,
		SpentUSD:          spent,
		Duration:          dur,
	})
	p.progress.failed()
	p.log.Error("pipeline: batch failed", "batch_id", b.ID, "class", class, "error", cause)

	if retry.Fatal(class) {
		p.stop(cause)
		return cause
	}
	return nil
}

// discard journals a batch skipped because the pipeline already stopped.
func (p *Pipeline) discard(ctx context.Context, b model.Batch) {
	cause := p.fatalErr()
	if cause == nil {
		cause = ErrStopped
	}
	p.recordOutcome(ctx, model.BatchOutcome{
		BatchID:    b.ID,
		Status:     model.BatchFailed,
		ErrorClass: string(retry.Classify(cause)),
		Cause:      "skipped: " + cause.Error(),
	})
	p.progress.failed()
}

func (p *Pipeline) stop(cause error) {
	p.fatalMu.Lock()
	if p.fatal == nil {
		p.fatal = cause
	}
	p.fatalMu.Unlock()
	p.stopped.Store(true)
	p.log.Error("pipeline: fatal error, draining in-flight work", "error", cause)
}

func (p *Pipeline) fatalErr() error {
	p.fatalMu.Lock()
	defer p.fatalMu.Unlock()
	return p.fatal
}

func (p *Pipeline) recordOutcome(ctx context.Context, o model.BatchOutcome) {
	o.RecordedAt = p.now().UTC()
	if err := p.store.RecordBatchOutcome(ctx, o); err != nil {
		p.log.Warn("pipeline: outcome journal write failed", "batch_id", o.BatchID, "error", err)
	}
}
