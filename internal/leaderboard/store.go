package leaderboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const defaultLimit = 50

// Store keeps per-model standings across runs. Separate database from the
// run store so standings survive run retention policies.
type Store struct {
	db *sql.DB
}

// Entry is one model's outcome within one run: average single-eval score,
// head-to-head record, and final rating.
type Entry struct {
	ID        int64
	RunID     string
	Model     string
	Provider  string
	AvgScore  float64
	Wins      int
	Losses    int
	Rating    float64
	CostCents float64
	EvalDate  time.Time
}

// Standing aggregates a model's entries across runs.
type Standing struct {
	Model     string
	Provider  string
	Runs      int
	AvgScore  float64
	Wins      int
	Losses    int
	AvgRating float64
	CostCents float64
}

func NewStore(dbPath string) (*Store, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("leaderboard: empty db path")
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("leaderboard: create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: open db: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("leaderboard: ping db: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("leaderboard: nil db")
	}

	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS leaderboard_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			avg_score REAL NOT NULL,
			wins INTEGER NOT NULL,
			losses INTEGER NOT NULL,
			rating REAL NOT NULL,
			cost_cents REAL NOT NULL,
			eval_date INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_model ON leaderboard_entries(provider, model)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_run ON leaderboard_entries(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_eval_date ON leaderboard_entries(eval_date)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("leaderboard: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, entry *Entry) error {
	if s == nil || s.db == nil {
		return errors.New("leaderboard: nil store")
	}
	if ctx == nil {
		return errors.New("leaderboard: nil context")
	}
	if entry == nil {
		return errors.New("leaderboard: nil entry")
	}

	runID := strings.TrimSpace(entry.RunID)
	model := strings.TrimSpace(entry.Model)
	provider := strings.TrimSpace(entry.Provider)
	if runID == "" || model == "" || provider == "" {
		return errors.New("leaderboard: missing run/model/provider")
	}

	evalDate := entry.EvalDate
	if evalDate.IsZero() {
		evalDate = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard_entries (
			run_id, model, provider, avg_score, wins, losses, rating, cost_cents, eval_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, model, provider, entry.AvgScore, entry.Wins, entry.Losses, entry.Rating, entry.CostCents, evalDate.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("leaderboard: insert entry: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	entry.EvalDate = evalDate
	entry.RunID = runID
	entry.Model = model
	entry.Provider = provider
	return nil
}

// Standings returns cross-run aggregates per model, best average rating
// first.
func (s *Store) Standings(ctx context.Context, limit int) ([]Standing, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("leaderboard: nil store")
	}
	if ctx == nil {
		return nil, errors.New("leaderboard: nil context")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT model, provider, COUNT(*), AVG(avg_score), SUM(wins), SUM(losses), AVG(rating), SUM(cost_cents)
		FROM leaderboard_entries
		GROUP BY provider, model
		ORDER BY AVG(rating) DESC, AVG(avg_score) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: query standings: %w", err)
	}
	defer rows.Close()

	var out []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(
			&st.Model,
			&st.Provider,
			&st.Runs,
			&st.AvgScore,
			&st.Wins,
			&st.Losses,
			&st.AvgRating,
			&st.CostCents,
		); err != nil {
			return nil, fmt.Errorf("leaderboard: scan standing: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leaderboard: scan standings: %w", err)
	}
	return out, nil
}

// GetModelHistory lists a model's per-run entries, newest first.
func (s *Store) GetModelHistory(ctx context.Context, provider, model string) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("leaderboard: nil store")
	}
	if ctx == nil {
		return nil, errors.New("leaderboard: nil context")
	}
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if provider == "" || model == "" {
		return nil, errors.New("leaderboard: missing provider/model")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, model, provider, avg_score, wins, losses, rating, cost_cents, eval_date
		FROM leaderboard_entries
		WHERE provider = ? AND model = ?
		ORDER BY eval_date DESC
	`, provider, model)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: query model history: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var evalDateMS int64
		if err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.Model,
			&e.Provider,
			&e.AvgScore,
			&e.Wins,
			&e.Losses,
			&e.Rating,
			&e.CostCents,
			&evalDateMS,
		); err != nil {
			return nil, fmt.Errorf("leaderboard: scan entry: %w", err)
		}
		e.EvalDate = time.UnixMilli(evalDateMS).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leaderboard: scan rows: %w", err)
	}
	return out, nil
}
