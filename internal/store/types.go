package store

import (
	"context"
	"time"

	"github.com/stellarlinkco/docarena/internal/run"
)

// RunRecord is the durable summary row for one run.
type RunRecord struct {
	ID         string     `json:"id"`
	Status     run.Status `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	LastError  string     `json:"last_error,omitempty"`
}

// RunWriter defines persistence used while a run executes.
type RunWriter interface {
	CreateRun(ctx context.Context, id string, cfg *run.RunConfig) error
	UpdateRunStatus(ctx context.Context, id string, status run.Status, finishedAt time.Time, lastError string) error
	SaveSnapshot(ctx context.Context, id string, snap *run.StatsSnapshot) error
	SaveDocument(ctx context.Context, runID string, doc *run.GeneratedDocument) error
	SaveScore(ctx context.Context, runID string, score *run.EvaluationScore) error
	SaveComparison(ctx context.Context, runID string, cmp *run.PairwiseComparison) error
	SaveDocResult(ctx context.Context, runID string, res *run.SourceDocResult) error
	SaveFinalResult(ctx context.Context, r *run.Run) error
}

// RunReader defines resume-safe read access for observers.
type RunReader interface {
	LoadConfig(ctx context.Context, id string) (*run.RunConfig, error)
	LoadSnapshot(ctx context.Context, id string) (*run.StatsSnapshot, error)
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
	GetDocResults(ctx context.Context, runID string) ([]*run.SourceDocResult, error)
	GetGeneratedContent(ctx context.Context, runID string, id run.DocumentID) (string, error)
}

// Store combines durable run state reads and writes.
type Store interface {
	RunWriter
	RunReader
	Close() error
}
