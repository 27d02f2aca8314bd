package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// PostgresStore is the production Store on PostgreSQL. Memories are stored
// as one JSONB document per record, keyed by content hash, with columns for
// the indexed access paths: participant overlap, extraction time, and
// validation state.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects a pool, verifies connectivity, and bootstraps the
// schema.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id UUID PRIMARY KEY,
			content_hash TEXT NOT NULL UNIQUE,
			doc JSONB NOT NULL,
			validation TEXT NOT NULL,
			validation_priority DOUBLE PRECISION NOT NULL DEFAULT 0,
			participant_ids TEXT[] NOT NULL,
			extracted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_participants ON memories USING GIN (participant_ids)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_extracted_at ON memories (extracted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_validation ON memories (validation, validation_priority DESC)`,
		`CREATE TABLE IF NOT EXISTS batch_outcomes (
			batch_id UUID NOT NULL,
			status TEXT NOT NULL,
			error_class TEXT NOT NULL DEFAULT '',
			cause TEXT NOT NULL DEFAULT '',
			memories_extracted INT NOT NULL DEFAULT 0,
			spent_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thresholds (
			singleton BOOL PRIMARY KEY DEFAULT TRUE CHECK (singleton),
			auto_approve DOUBLE PRECISION NOT NULL,
			auto_reject DOUBLE PRECISION NOT NULL,
			review_lower DOUBLE PRECISION NOT NULL,
			version BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, id uuid.UUID) (model.Memory, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM memories WHERE id = $1`, id,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Memory{}, ErrNotFound
		}
		return model.Memory{}, fmt.Errorf("storage: get memory: %w", err)
	}
	return decodeMemory(doc)
}

func (s *PostgresStore) FindMemoryByHash(ctx context.Context, hash model.Hash) (model.Memory, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM memories WHERE content_hash = $1`, hash.String(),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Memory{}, ErrNotFound
		}
		return model.Memory{}, fmt.Errorf("storage: find by hash: %w", err)
	}
	return decodeMemory(doc)
}

func (s *PostgresStore) FindMemoryCandidates(ctx context.Context, participantIDs []string, start, end time.Time) ([]model.Memory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM memories
		 WHERE participant_ids && $1
		   AND extracted_at BETWEEN $2 AND $3
		   AND validation NOT IN ($4, $5)
		 ORDER BY extracted_at DESC`,
		participantIDs, start, end,
		string(model.ValidationAutoRejected), string(model.ValidationHumanRejected),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find candidates: %w", err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		m, err := decodeMemory(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertMemory(ctx context.Context, m model.Memory) (UpsertResult, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("storage: encode memory: %w", err)
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx,
		`INSERT INTO memories (id, content_hash, doc, validation, validation_priority, participant_ids, extracted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (content_hash) DO NOTHING
		 RETURNING id`,
		m.ID, m.ContentHash.String(), doc, string(m.Validation),
		m.Significance.ValidationPriority, model.ParticipantIDs(m.Participants), m.ExtractedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Someone holds this hash already: report the surviving record.
		err = s.pool.QueryRow(ctx,
			`SELECT id FROM memories WHERE content_hash = $1`, m.ContentHash.String(),
		).Scan(&id)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("storage: resolve hash conflict: %w", err)
		}
		return UpsertResult{Outcome: Merged, ID: id}, nil
	}
	if err != nil {
		return UpsertResult{}, fmt.Errorf("storage: upsert memory: %w", err)
	}
	return UpsertResult{Outcome: Inserted, ID: id}, nil
}

func (s *PostgresStore) ReplaceMemories(ctx context.Context, merged model.Memory, superseded []uuid.UUID) error {
	if merged.ID == uuid.Nil {
		merged.ID = uuid.New()
	}
	doc, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("storage: encode merged memory: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM memories WHERE id = ANY($1)`, superseded); err != nil {
		return fmt.Errorf("storage: retire superseded: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO memories (id, content_hash, doc, validation, validation_priority, participant_ids, extracted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (content_hash) DO UPDATE SET
			doc = EXCLUDED.doc,
			validation = EXCLUDED.validation,
			validation_priority = EXCLUDED.validation_priority,
			participant_ids = EXCLUDED.participant_ids,
			extracted_at = EXCLUDED.extracted_at`,
		merged.ID, merged.ContentHash.String(), doc, string(merged.Validation),
		merged.Significance.ValidationPriority, model.ParticipantIDs(merged.Participants), merged.ExtractedAt,
	); err != nil {
		return fmt.Errorf("storage: insert merged: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateValidation(ctx context.Context, id uuid.UUID, state model.ValidationState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories
		 SET validation = $2, doc = jsonb_set(doc, '{Validation}', to_jsonb($2::text))
		 WHERE id = $1`,
		id, string(state),
	)
	if err != nil {
		return fmt.Errorf("storage: update validation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) NextForReview(ctx context.Context, maxN int) ([]model.Memory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM memories
		 WHERE validation = $1
		 ORDER BY validation_priority DESC
		 LIMIT $2`,
		string(model.ValidationNeedsReview), maxN,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: next for review: %w", err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: scan review row: %w", err)
		}
		m, err := decodeMemory(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordBatchOutcome(ctx context.Context, o model.BatchOutcome) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_outcomes (batch_id, status, error_class, cause, memories_extracted, spent_usd, duration_ms, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.BatchID, string(o.Status), o.ErrorClass, o.Cause,
		o.MemoriesExtracted, o.SpentUSD, o.Duration.Milliseconds(), o.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: record batch outcome: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReadThresholds(ctx context.Context) (model.ThresholdConfig, error) {
	var cfg model.ThresholdConfig
	err := s.pool.QueryRow(ctx,
		`SELECT auto_approve, auto_reject, review_lower, version FROM thresholds`,
	).Scan(&cfg.AutoApprove, &cfg.AutoReject, &cfg.ReviewLower, &cfg.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ThresholdConfig{}, ErrNotFound
		}
		return model.ThresholdConfig{}, fmt.Errorf("storage: read thresholds: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) WriteThresholds(ctx context.Context, cfg model.ThresholdConfig) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO thresholds (singleton, auto_approve, auto_reject, review_lower, version)
		 VALUES (TRUE, $1, $2, $3, $4)
		 ON CONFLICT (singleton) DO UPDATE SET
			auto_approve = EXCLUDED.auto_approve,
			auto_reject = EXCLUDED.auto_reject,
			review_lower = EXCLUDED.review_lower,
			version = EXCLUDED.version
		 WHERE thresholds.version = EXCLUDED.version - 1`,
		cfg.AutoApprove, cfg.AutoReject, cfg.ReviewLower, cfg.Version,
	)
	if err != nil {
		return fmt.Errorf("storage: write thresholds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionMismatch
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func decodeMemory(doc []byte) (model.Memory, error) {
	var m model.Memory
	if err := json.Unmarshal(doc, &m); err != nil {
		return model.Memory{}, fmt.Errorf("storage: decode memory: %w", err)
	}
	return m, nil
}
