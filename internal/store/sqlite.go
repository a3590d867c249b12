package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stellarlinkco/docarena/internal/run"
)

const defaultListLimit = 50

// ErrNotFound marks a missing run, snapshot, or document.
var ErrNotFound = errors.New("store: not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite store at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			config_json TEXT NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS run_snapshots (
			run_id TEXT PRIMARY KEY,
			snapshot_json TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			run_id TEXT NOT NULL,
			source_doc TEXT NOT NULL,
			generator TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			content TEXT NOT NULL,
			cost_cents REAL NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY(run_id, source_doc, generator, iteration, provider, model),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			run_id TEXT NOT NULL,
			doc_json TEXT NOT NULL,
			judge_provider TEXT NOT NULL,
			judge_model TEXT NOT NULL,
			criterion TEXT NOT NULL,
			score INTEGER NOT NULL,
			rationale TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS comparisons (
			run_id TEXT NOT NULL,
			source_doc TEXT NOT NULL,
			seq INTEGER NOT NULL,
			comparison_json TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS doc_results (
			run_id TEXT NOT NULL,
			source_doc TEXT NOT NULL,
			result_json TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY(run_id, source_doc),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_run ON documents(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_run ON scores(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_comparisons_run ON comparisons(run_id, source_doc, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) guard(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store: nil store")
	}
	if ctx == nil {
		return errors.New("store: nil context")
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, id string, cfg *run.RunConfig) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("store: empty run id")
	}
	if cfg == nil {
		return errors.New("store: nil run config")
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, config_json, started_at)
		VALUES (?, ?, ?, ?)
	`, id, string(run.StatusPending), string(cfgJSON), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status run.Status, finishedAt time.Time, lastError string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	var finished int64
	if !finishedAt.IsZero() {
		finished = finishedAt.UTC().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, last_error = ? WHERE id = ?
	`, string(status), finished, lastError, id)
	if err != nil {
		return fmt.Errorf("store: update run status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: run %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, id string, snap *run.StatsSnapshot) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if snap == nil {
		return errors.New("store: nil snapshot")
	}

	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_snapshots (run_id, snapshot_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET snapshot_json = excluded.snapshot_json, updated_at = excluded.updated_at
	`, id, string(snapJSON), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, runID string, doc *run.GeneratedDocument) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if doc == nil {
		return errors.New("store: nil document")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (
			run_id, source_doc, generator, iteration, provider, model,
			content, cost_cents, input_tokens, output_tokens, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, doc.ID.SourceDoc, doc.ID.Generator, doc.ID.Iteration, doc.ID.Provider, doc.ID.Model,
		doc.Content, doc.CostCents, doc.InputTokens, doc.OutputTokens, doc.FinishedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: insert document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveScore(ctx context.Context, runID string, score *run.EvaluationScore) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if score == nil {
		return errors.New("store: nil score")
	}

	docJSON, err := json.Marshal(score.DocID)
	if err != nil {
		return fmt.Errorf("store: marshal doc id: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scores (run_id, doc_json, judge_provider, judge_model, criterion, score, rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, string(docJSON), score.Judge.Provider, score.Judge.Model, score.Criterion, score.Score, score.Rationale)
	if err != nil {
		return fmt.Errorf("store: insert score: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveComparison(ctx context.Context, runID string, cmp *run.PairwiseComparison) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if cmp == nil {
		return errors.New("store: nil comparison")
	}

	cmpJSON, err := json.Marshal(cmp)
	if err != nil {
		return fmt.Errorf("store: marshal comparison: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comparisons (run_id, source_doc, seq, comparison_json)
		VALUES (?, ?, ?, ?)
	`, runID, cmp.A.SourceDoc, cmp.Seq, string(cmpJSON))
	if err != nil {
		return fmt.Errorf("store: insert comparison: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveDocResult(ctx context.Context, runID string, res *run.SourceDocResult) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if res == nil {
		return errors.New("store: nil doc result")
	}

	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("store: marshal doc result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO doc_results (run_id, source_doc, result_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, source_doc) DO UPDATE SET result_json = excluded.result_json, updated_at = excluded.updated_at
	`, runID, res.SourceDoc, string(resJSON), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save doc result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveFinalResult(ctx context.Context, r *run.Run) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if r == nil {
		return errors.New("store: nil run")
	}

	for _, res := range r.Results {
		if res == nil {
			continue
		}
		if err := s.SaveDocResult(ctx, r.ID, res); err != nil {
			return err
		}
	}
	return s.UpdateRunStatus(ctx, r.ID, r.Status, r.FinishedAt, r.LastError)
}

func (s *SQLiteStore) LoadConfig(ctx context.Context, id string) (*run.RunConfig, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var cfgJSON string
	err := s.db.QueryRowContext(ctx, `SELECT config_json FROM runs WHERE id = ?`, id).Scan(&cfgJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: run %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: load config: %w", err)
	}

	var cfg run.RunConfig
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, fmt.Errorf("store: unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, id string) (*run.StatsSnapshot, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var snapJSON string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM run_snapshots WHERE run_id = ?`, id).Scan(&snapJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: snapshot for run %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: load snapshot: %w", err)
	}

	var snap run.StatsSnapshot
	if err := json.Unmarshal([]byte(snapJSON), &snap); err != nil {
		return nil, fmt.Errorf("store: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var rec RunRecord
	var status string
	var startedMS, finishedMS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, last_error, started_at, finished_at FROM runs WHERE id = ?
	`, id).Scan(&rec.ID, &status, &rec.LastError, &startedMS, &finishedMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: run %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get run: %w", err)
	}

	rec.Status = run.Status(status)
	rec.StartedAt = time.UnixMilli(startedMS).UTC()
	if finishedMS > 0 {
		rec.FinishedAt = time.UnixMilli(finishedMS).UTC()
	}
	return &rec, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, last_error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		var rec RunRecord
		var status string
		var startedMS, finishedMS int64
		if err := rows.Scan(&rec.ID, &status, &rec.LastError, &startedMS, &finishedMS); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		rec.Status = run.Status(status)
		rec.StartedAt = time.UnixMilli(startedMS).UTC()
		if finishedMS > 0 {
			rec.FinishedAt = time.UnixMilli(finishedMS).UTC()
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan runs: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetDocResults(ctx context.Context, runID string) ([]*run.SourceDocResult, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT result_json FROM doc_results WHERE run_id = ? ORDER BY source_doc
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get doc results: %w", err)
	}
	defer rows.Close()

	var out []*run.SourceDocResult
	for rows.Next() {
		var resJSON string
		if err := rows.Scan(&resJSON); err != nil {
			return nil, fmt.Errorf("store: scan doc result: %w", err)
		}
		var res run.SourceDocResult
		if err := json.Unmarshal([]byte(resJSON), &res); err != nil {
			return nil, fmt.Errorf("store: unmarshal doc result: %w", err)
		}
		out = append(out, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan doc results: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetGeneratedContent(ctx context.Context, runID string, id run.DocumentID) (string, error) {
	if err := s.guard(ctx); err != nil {
		return "", err
	}

	var content string
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM documents
		WHERE run_id = ? AND source_doc = ? AND generator = ? AND iteration = ? AND provider = ? AND model = ?
	`, runID, id.SourceDoc, id.Generator, id.Iteration, id.Provider, id.Model).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("store: document %s: %w", id, ErrNotFound)
		}
		return "", fmt.Errorf("store: get content: %w", err)
	}
	return content, nil
}
