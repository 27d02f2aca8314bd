package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nathanvale/mnemosyne-sub013/internal/model"
)

// SQLiteStore is a single-node Store on SQLite, for deployments without a
// Postgres instance. Participant overlap uses a join table instead of
// Postgres array columns; timestamps are stored as Unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates, if needed) a SQLite database at path and
// bootstraps the schema. Use ":memory:" for an ephemeral store.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// SQLite allows one writer; serialize access through a single
	// connection so upserts stay atomic per hash.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL UNIQUE,
			doc TEXT NOT NULL,
			validation TEXT NOT NULL,
			validation_priority REAL NOT NULL DEFAULT 0,
			extracted_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_participants (
			memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			participant_id TEXT NOT NULL,
			PRIMARY KEY (memory_id, participant_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_id ON memory_participants (participant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_extracted_at ON memories (extracted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_validation ON memories (validation, validation_priority DESC)`,
		`CREATE TABLE IF NOT EXISTS batch_outcomes (
			batch_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error_class TEXT NOT NULL DEFAULT '',
			cause TEXT NOT NULL DEFAULT '',
			memories_extracted INTEGER NOT NULL DEFAULT 0,
			spent_usd REAL NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thresholds (
			singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
			auto_approve REAL NOT NULL,
			auto_reject REAL NOT NULL,
			review_lower REAL NOT NULL,
			version INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetMemory(ctx context.Context, id uuid.UUID) (model.Memory, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM memories WHERE id = ?`, id.String(),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Memory{}, ErrNotFound
		}
		return model.Memory{}, fmt.Errorf("storage: get memory: %w", err)
	}
	return decodeMemory(doc)
}

func (s *SQLiteStore) FindMemoryByHash(ctx context.Context, hash model.Hash) (model.Memory, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM memories WHERE content_hash = ?`, hash.String(),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Memory{}, ErrNotFound
		}
		return model.Memory{}, fmt.Errorf("storage: find by hash: %w", err)
	}
	return decodeMemory(doc)
}

func (s *SQLiteStore) FindMemoryCandidates(ctx context.Context, participantIDs []string, start, end time.Time) ([]model.Memory, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(participantIDs)), ",")
	args := make([]any, 0, len(participantIDs)+4)
	for _, id := range participantIDs {
		args = append(args, id)
	}
	args = append(args, start.UnixNano(), end.UnixNano(),
		string(model.ValidationAutoRejected), string(model.ValidationHumanRejected))

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT m.doc, m.extracted_at FROM memories m
		 JOIN memory_participants p ON p.memory_id = m.id
		 WHERE p.participant_id IN (`+placeholders+`)
		   AND m.extracted_at BETWEEN ? AND ?
		   AND m.validation NOT IN (?, ?)
		 ORDER BY m.extracted_at DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find candidates: %w", err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		var doc []byte
		var at int64
		if err := rows.Scan(&doc, &at); err != nil {
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

func (s *SQLiteStore) UpsertMemory(ctx context.Context, m model.Memory) (UpsertResult, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("storage: encode memory: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, content_hash, doc, validation, validation_priority, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (content_hash) DO NOTHING`,
		m.ID.String(), m.ContentHash.String(), doc, string(m.Validation),
		m.Significance.ValidationPriority, m.ExtractedAt.UnixNano(),
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("storage: upsert memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("storage: upsert memory: %w", err)
	}
	if n == 0 {
		var existing string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM memories WHERE content_hash = ?`, m.ContentHash.String(),
		).Scan(&existing); err != nil {
			return UpsertResult{}, fmt.Errorf("storage: resolve hash conflict: %w", err)
		}
		id, err := uuid.Parse(existing)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("storage: parse stored id: %w", err)
		}
		return UpsertResult{Outcome: Merged, ID: id}, tx.Commit()
	}

	if err := insertParticipants(ctx, tx, m); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Outcome: Inserted, ID: m.ID}, tx.Commit()
}

func (s *SQLiteStore) ReplaceMemories(ctx context.Context, merged model.Memory, superseded []uuid.UUID) error {
	if merged.ID == uuid.Nil {
		merged.ID = uuid.New()
	}
	doc, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("storage: encode merged memory: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range superseded {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_participants WHERE memory_id = ?`, id.String()); err != nil {
			return fmt.Errorf("storage: retire participants: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("storage: retire superseded: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, content_hash, doc, validation, validation_priority, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (content_hash) DO UPDATE SET
			doc = excluded.doc,
			validation = excluded.validation,
			validation_priority = excluded.validation_priority,
			extracted_at = excluded.extracted_at`,
		merged.ID.String(), merged.ContentHash.String(), doc, string(merged.Validation),
		merged.Significance.ValidationPriority, merged.ExtractedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("storage: insert merged: %w", err)
	}
	if err := insertParticipants(ctx, tx, merged); err != nil {
		return err
	}
	return tx.Commit()
}

func insertParticipants(ctx context.Context, tx *sql.Tx, m model.Memory) error {
	for _, p := range m.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_participants (memory_id, participant_id) VALUES (?, ?)`,
			m.ID.String(), p.ID,
		); err != nil {
			return fmt.Errorf("storage: index participant: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpdateValidation(ctx context.Context, id uuid.UUID, state model.ValidationState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories
		 SET validation = ?, doc = json_set(doc, '$.Validation', ?)
		 WHERE id = ?`,
		string(state), string(state), id.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: update validation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update validation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) NextForReview(ctx context.Context, maxN int) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM memories
		 WHERE validation = ?
		 ORDER BY validation_priority DESC
		 LIMIT ?`,
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

func (s *SQLiteStore) RecordBatchOutcome(ctx context.Context, o model.BatchOutcome) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_outcomes (batch_id, status, error_class, cause, memories_extracted, spent_usd, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.BatchID.String(), string(o.Status), o.ErrorClass, o.Cause,
		o.MemoriesExtracted, o.SpentUSD, o.Duration.Milliseconds(), o.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("storage: record batch outcome: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadThresholds(ctx context.Context) (model.ThresholdConfig, error) {
	var cfg model.ThresholdConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT auto_approve, auto_reject, review_lower, version FROM thresholds`,
	).Scan(&cfg.AutoApprove, &cfg.AutoReject, &cfg.ReviewLower, &cfg.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ThresholdConfig{}, ErrNotFound
		}
		return model.ThresholdConfig{}, fmt.Errorf("storage: read thresholds: %w", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) WriteThresholds(ctx context.Context, cfg model.ThresholdConfig) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO thresholds (singleton, auto_approve, auto_reject, review_lower, version)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (singleton) DO UPDATE SET
			auto_approve = excluded.auto_approve,
			auto_reject = excluded.auto_reject,
			review_lower = excluded.review_lower,
			version = excluded.version
		 WHERE thresholds.version = excluded.version - 1`,
		cfg.AutoApprove, cfg.AutoReject, cfg.ReviewLower, cfg.Version,
	)
	if err != nil {
		return fmt.Errorf("storage: write thresholds: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: write thresholds: %w", err)
	}
	if n == 0 {
		return ErrVersionMismatch
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
