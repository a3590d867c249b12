package run

import (
	"fmt"
	"time"
)

// Phase identifies where a source document (or the whole run) currently is
// in the pipeline.
type Phase string

const (
	PhasePending         Phase = "pending"
	PhaseGenerating      Phase = "generating"
	PhaseSingleEval      Phase = "single_eval"
	PhasePairwiseEval    Phase = "pairwise_eval"
	PhaseCombining       Phase = "combining"
	PhasePostCombineEval Phase = "post_combine_eval"
	PhaseCompleted       Phase = "completed"
	PhaseCompletedErrors Phase = "completed_with_errors"
	PhaseFailed          Phase = "failed"
	PhaseCancelled       Phase = "cancelled"
)

// Status is the run-level lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusCompletedErrors Status = "completed_with_errors"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether the status will not change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ModelRef names a provider/model pair.
type ModelRef struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

func (m ModelRef) String() string {
	return m.Provider + ":" + m.Model
}

// DocumentID identifies one generated document. It is carried as structured
// data everywhere; String is for display and storage keys only.
type DocumentID struct {
	SourceDoc string `json:"source_doc"`
	Generator string `json:"generator"`
	Iteration int    `json:"iteration"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

func (id DocumentID) String() string {
	return fmt.Sprintf("%s/%s/%d/%s:%s", id.SourceDoc, id.Generator, id.Iteration, id.Provider, id.Model)
}

// GeneratedDocument is one generation result. Read-only after creation;
// evaluation scores are stored separately keyed by the document id.
type GeneratedDocument struct {
	ID           DocumentID `json:"id"`
	Content      string     `json:"content"`
	CostCents    float64    `json:"cost_cents"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
}

// EvaluationScore is one (document, judge, criterion) score on a 1-5 scale.
type EvaluationScore struct {
	DocID     DocumentID `json:"doc_id"`
	Judge     ModelRef   `json:"judge"`
	Criterion string     `json:"criterion"`
	Score     int        `json:"score"`
	Rationale string     `json:"rationale"`
}

// PairwiseComparison records a decided head-to-head judgment. Seq is the
// arrival order the comparison was folded into the rating state in.
type PairwiseComparison struct {
	A         DocumentID `json:"a"`
	B         DocumentID `json:"b"`
	Judge     ModelRef   `json:"judge"`
	Winner    DocumentID `json:"winner"`
	Rationale string     `json:"rationale"`
	Seq       int        `json:"seq"`
}

// PairwiseRanking is one entry of a tournament ranking.
type PairwiseRanking struct {
	DocID  DocumentID `json:"doc_id"`
	Wins   int        `json:"wins"`
	Losses int        `json:"losses"`
	Rating float64    `json:"rating"`
}

// CombinedDocument is a merge of the tournament's top documents, tagged
// with the winner set it was built from.
type CombinedDocument struct {
	ID        DocumentID   `json:"id"`
	Content   string       `json:"content"`
	CostCents float64      `json:"cost_cents"`
	WinnerSet []DocumentID `json:"winner_set"`
	CreatedAt time.Time    `json:"created_at"`
}

// PostCombineResult is the outcome of a tournament between one combined
// document and the pre-combine winner.
type PostCombineResult struct {
	CombinedID DocumentID        `json:"combined_id"`
	Baseline   DocumentID        `json:"baseline"`
	Rankings   []PairwiseRanking `json:"rankings"`
	Improved   bool              `json:"improved"`
}

// SourceDocResult is the per-source-document sub-state. Source documents
// progress independently; a failure in one never blocks siblings.
type SourceDocResult struct {
	SourceDoc          string               `json:"source_doc"`
	Phase              Phase                `json:"phase"`
	Documents          []*GeneratedDocument `json:"documents"`
	Scores             []EvaluationScore    `json:"scores"`
	Comparisons        []PairwiseComparison `json:"comparisons"`
	Rankings           []PairwiseRanking    `json:"rankings"`
	Combined           []*CombinedDocument  `json:"combined"`
	PostCombine        []PostCombineResult  `json:"post_combine"`
	PostCombineSkipped bool                 `json:"post_combine_skipped"`
	Errors             []string             `json:"errors"`
	CancelledTuples    []DocumentID         `json:"cancelled_tuples,omitempty"`
	CostCents          float64              `json:"cost_cents"`
	StartedAt          time.Time            `json:"started_at"`
	FinishedAt         time.Time            `json:"finished_at"`
}

// Run is one execution instance of a RunConfig.
type Run struct {
	ID         string             `json:"id"`
	Status     Status             `json:"status"`
	Config     *RunConfig         `json:"config"`
	Results    []*SourceDocResult `json:"results"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	LastError  string             `json:"last_error,omitempty"`
}

// StatsSnapshot is the live per-run progress view maintained by the
// broadcaster and persisted for observers that attach late.
type StatsSnapshot struct {
	RunID          string            `json:"run_id"`
	Phase          Phase             `json:"phase"`
	CallsStarted   int               `json:"calls_started"`
	CallsSucceeded int               `json:"calls_succeeded"`
	CallsFailed    int               `json:"calls_failed"`
	CallsRetried   int               `json:"calls_retried"`
	CurrentCall    string            `json:"current_call,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	CallErrors     map[string]string `json:"call_errors,omitempty"`
	Errors         []string          `json:"errors,omitempty"`
	DocsTotal      int               `json:"docs_total"`
	DocsCompleted  int               `json:"docs_completed"`
	StartedAt      time.Time         `json:"started_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to observers.
func (s *StatsSnapshot) Clone() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	out := *s
	if s.CallErrors != nil {
		out.CallErrors = make(map[string]string, len(s.CallErrors))
		for k, v := range s.CallErrors {
			out.CallErrors[k] = v
		}
	}
	if s.Errors != nil {
		out.Errors = append([]string(nil), s.Errors...)
	}
	return out
}
