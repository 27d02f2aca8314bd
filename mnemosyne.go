// Package mnemosyne is the public API for the memory processing engine:
// a cost-aware pipeline that turns time-ordered conversational messages
// into validated, deduplicated emotional memory records.
//
// Embedders construct an Engine, start it, and stream conversations in:
//
//	eng, err := mnemosyne.New(
//	    mnemosyne.WithLogger(logger),
//	    mnemosyne.WithMaxUSD(5),
//	)
//	if err != nil { ... }
//	eng.Start(ctx)
//	_, err = eng.ProcessConversation(ctx, convID, msgs)
//	...
//	err = eng.Close(ctx)
//
// The import graph enforces a strict no-cycle rule: mnemosyne (root)
// imports internal/*, but internal/* never imports the root. Public types
// (Message, Memory, Feedback) are standalone structs; the conversion
// helpers live here because this is the only file that sees both sides of
// the boundary.
package mnemosyne

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/nathanvale/mnemosyne-sub013/internal/batch"
	"github.com/nathanvale/mnemosyne-sub013/internal/config"
	"github.com/nathanvale/mnemosyne-sub013/internal/llm"
	"github.com/nathanvale/mnemosyne-sub013/internal/model"
	"github.com/nathanvale/mnemosyne-sub013/internal/pipeline"
	"github.com/nathanvale/mnemosyne-sub013/internal/storage"
	"github.com/nathanvale/mnemosyne-sub013/internal/telemetry"
)

// Engine is the processing lifecycle. Construct with New(), start with
// Start(), feed with ProcessConversation or ProcessSource, finish with
// Close(). Engine has no public fields; use New() options to configure it.
type Engine struct {
	cfg          config.Config
	store        storage.Store
	pipe         *pipeline.Pipeline
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the engine: configuration, telemetry, storage, and the
// processing pipeline. It does not start any goroutines; call Start().
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.maxUSD != nil {
		cfg.MaxUSD = *o.maxUSD
	}
	if o.requestsPerSecond != nil {
		cfg.RequestsPerSecond = *o.requestsPerSecond
	}
	if o.workerCount != 0 {
		cfg.WorkerCount = o.workerCount
	}
	if o.priorityMode != "" {
		cfg.PriorityMode = batch.Mode(o.priorityMode)
	}
	if o.storageBackend != "" {
		cfg.StorageBackend = o.storageBackend
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("mnemosyne starting",
		"version", version, "storage", cfg.StorageBackend, "workers", cfg.WorkerCount)

	otelShutdown, err := telemetry.Init(context.Background(),
		cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	var client llm.Client
	if o.llmClient != nil {
		client = &clientAdapter{c: o.llmClient}
	} else {
		client = llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	}

	pipe, err := pipeline.New(cfg, client, store, logger)
	if err != nil {
		_ = store.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	eng := &Engine{
		cfg:          cfg,
		store:        store,
		pipe:         pipe,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}
	if err := eng.restoreThresholds(context.Background()); err != nil {
		_ = store.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}
	return eng, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "postgres":
		return storage.NewPostgres(ctx, cfg.DatabaseURL, logger)
	case "sqlite":
		return storage.NewSQLite(ctx, cfg.SQLitePath)
	default:
		return storage.NewMemoryStore(), nil
	}
}

// restoreThresholds adopts threshold adjustments persisted by earlier runs.
func (e *Engine) restoreThresholds(ctx context.Context) error {
	persisted, err := e.store.ReadThresholds(ctx)
	switch {
	case err == nil:
		if serr := e.pipe.Reviewer().SetThresholds(persisted); serr != nil {
			return fmt.Errorf("restore thresholds: %w", serr)
		}
	case errors.Is(err, storage.ErrNotFound):
		// First run on this store.
	default:
		return fmt.Errorf("read thresholds: %w", err)
	}
	return nil
}

// Start launches the worker pool. Call once.
func (e *Engine) Start(ctx context.Context) { e.pipe.Start(ctx) }

// ProcessConversation batches one conversation's messages and submits the
// batches for extraction. Messages must be ordered by timestamp. Returns
// how many batches were enqueued. Blocks when the queue is full.
func (e *Engine) ProcessConversation(ctx context.Context, conversationID string, msgs []Message) (int, error) {
	internal := make([]model.Message, len(msgs))
	for i, m := range msgs {
		internal[i] = model.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			AuthorID:       m.AuthorID,
			Timestamp:      m.Timestamp,
			Text:           m.Text,
		}
	}
	return e.pipe.EnqueueConversation(ctx, conversationID, internal)
}

// ProcessSource drains a message source into the engine. Returns the total
// number of batches enqueued. Stops at the source's io.EOF, the first
// source error, or a fatal pipeline error.
func (e *Engine) ProcessSource(ctx context.Context, src MessageSource) (int, error) {
	total := 0
	for {
		convID, msgs, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("message source: %w", err)
		}
		n, err := e.ProcessConversation(ctx, convID, msgs)
		total += n
		if err != nil {
			return total, err
		}
	}
}

// Close stops intake, drains queued and in-flight work, persists threshold
// state, and releases resources. Returns the fatal pipeline error if one
// stopped the run.
func (e *Engine) Close(ctx context.Context) error {
	runErr := e.pipe.Drain()
	if err := e.persistThresholds(ctx); err != nil {
		e.logger.Warn("threshold persistence failed", "error", err)
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("storage close failed", "error", err)
	}
	if err := e.otelShutdown(ctx); err != nil {
		e.logger.Warn("telemetry shutdown failed", "error", err)
	}
	return runErr
}

// Progress returns a snapshot of the run so far.
func (e *Engine) Progress() Progress {
	s := e.pipe.Progress()
	return Progress{
		BatchesQueued:     s.BatchesQueued,
		BatchesCompleted:  s.BatchesCompleted,
		BatchesFailed:     s.BatchesFailed,
		MemoriesExtracted: s.MemoriesExtracted,
		Duplicates:        s.Duplicates,
		Merged:            s.Merged,
		AutoApproved:      s.AutoApproved,
		NeedsReview:       s.NeedsReview,
		AutoRejected:      s.AutoRejected,
		AverageConfidence: s.AverageConfidence,
		SpentUSD:          s.SpentUSD,
		BatchSuccessRate:  s.BatchSuccessRate,
		MemorySuccessRate: s.MemorySuccessRate,
	}
}

// NextForReview returns up to maxN memories awaiting human review, most
// review-worthy first.
func (e *Engine) NextForReview(ctx context.Context, maxN int) ([]Memory, error) {
	internal, err := e.store.NextForReview(ctx, maxN)
	if err != nil {
		return nil, err
	}
	out := make([]Memory, len(internal))
	for i, m := range internal {
		out[i] = toPublicMemory(m)
	}
	return out, nil
}

// SubmitFeedback records human verdicts on reviewed memories. Each verdict
// updates the memory's validation state; verdicts that contradict the
// automatic decision nudge the routing thresholds, and any adjustment is
// persisted.
func (e *Engine) SubmitFeedback(ctx context.Context, fbs []Feedback) error {
	internal := make([]model.Feedback, 0, len(fbs))
	for _, fb := range fbs {
		m, err := e.store.GetMemory(ctx, fb.MemoryID)
		if err != nil {
			return fmt.Errorf("feedback for %s: %w", fb.MemoryID, err)
		}
		decision := model.HumanReject
		state := model.ValidationHumanRejected
		if fb.Approve {
			decision = model.HumanApprove
			state = model.ValidationHumanApproved
		}
		if err := e.store.UpdateValidation(ctx, m.ID, state); err != nil {
			return fmt.Errorf("feedback for %s: %w", fb.MemoryID, err)
		}
		internal = append(internal, model.Feedback{
			MemoryID:         m.ID,
			OriginalDecision: m.Validation,
			HumanDecision:    decision,
		})
	}

	before := e.pipe.Reviewer().Thresholds()
	after := e.pipe.Reviewer().ApplyFeedback(internal)
	if after == before {
		return nil
	}
	return e.persistThresholds(ctx)
}

// Thresholds returns the current confidence cut-offs.
func (e *Engine) Thresholds() Thresholds {
	t := e.pipe.Reviewer().Thresholds()
	return Thresholds{
		AutoApprove: t.AutoApprove,
		AutoReject:  t.AutoReject,
		ReviewLower: t.ReviewLower,
		Version:     t.Version,
	}
}

// persistThresholds writes the engine's threshold state, serialised against
// other writers by the store's compare-and-swap version. A concurrent
// writer wins: its state is adopted instead.
func (e *Engine) persistThresholds(ctx context.Context) error {
	cur := e.pipe.Reviewer().Thresholds()
	next := cur
	persisted, err := e.store.ReadThresholds(ctx)
	switch {
	case err == nil:
		if persisted.AutoApprove == cur.AutoApprove &&
			persisted.AutoReject == cur.AutoReject &&
			persisted.ReviewLower == cur.ReviewLower {
			return nil
		}
		next.Version = persisted.Version + 1
	case errors.Is(err, storage.ErrNotFound):
		next.Version = 1
	default:
		return err
	}

	werr := e.store.WriteThresholds(ctx, next)
	if errors.Is(werr, storage.ErrVersionMismatch) {
		latest, rerr := e.store.ReadThresholds(ctx)
		if rerr != nil {
			return werr
		}
		e.logger.Warn("thresholds changed concurrently, adopting persisted state",
			"version", latest.Version)
		return e.pipe.Reviewer().SetThresholds(latest)
	}
	return werr
}

func toPublicMemory(m model.Memory) Memory {
	parts := make([]Participant, len(m.Participants))
	for i, p := range m.Participants {
		parts[i] = Participant{ID: p.ID, DisplayName: p.DisplayName, Role: string(p.Role)}
	}
	return Memory{
		ID:                   m.ID,
		Summary:              m.Summary,
		Participants:         parts,
		SourceMessageIDs:     m.SourceMessageIDs,
		PrimaryMood:          string(m.Emotional.PrimaryMood),
		Intensity:            m.Emotional.Intensity,
		MoodScore:            m.Mood.Score,
		Themes:               m.Emotional.Themes,
		Confidence:           m.Confidence,
		Validation:           string(m.Validation),
		Significance:         m.Significance.Overall,
		SignificanceCategory: string(m.Significance.Category),
		ValidationPriority:   m.Significance.ValidationPriority,
		ContentHash:          m.ContentHash.String(),
		ExtractedAt:          m.ExtractedAt,
		MergedFrom:           m.Metadata.MergedFrom,
	}
}

// clientAdapter bridges a public LLMClient onto the internal transport
// interface.
type clientAdapter struct {
	c LLMClient
}

func (a *clientAdapter) Call(ctx context.Context, prompt string, params llm.CallParams) (llm.RawResponse, error) {
	resp, err := a.c.Complete(ctx, prompt, params.MaxTokens)
	if err != nil {
		class := llm.ClassOther
		if errors.Is(err, context.DeadlineExceeded) {
			class = llm.ClassTimeout
		}
		return llm.RawResponse{}, &llm.TransportError{Class: class, Err: err}
	}
	return llm.RawResponse{
		Content: resp.Content,
		Usage:   llm.Usage{InTokens: resp.InTokens, OutTokens: resp.OutTokens},
		Model:   resp.Model,
	}, nil
}
