package leaderboard

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "leaderboard.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSave(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := &Entry{
		RunID:     "run_1",
		Model:     "claude-sonnet-4-20250514",
		Provider:  "claude",
		AvgScore:  4.2,
		Wins:      3,
		Losses:    1,
		Rating:    1540,
		CostCents: 12.5,
	}
	if err := s.Save(context.Background(), e); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if e.ID == 0 {
		t.Fatalf("entry id not assigned")
	}
	if e.EvalDate.IsZero() {
		t.Fatalf("eval date not defaulted")
	}
}

func TestSave_MissingFields(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.Save(context.Background(), &Entry{RunID: "run_1", Model: "m"}); err == nil {
		t.Fatalf("expected error for missing provider")
	}
	if err := s.Save(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil entry")
	}
}

func TestStandings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	entries := []*Entry{
		{RunID: "run_1", Model: "strong", Provider: "claude", AvgScore: 4.5, Wins: 2, Losses: 0, Rating: 1550, CostCents: 10},
		{RunID: "run_2", Model: "strong", Provider: "claude", AvgScore: 4.0, Wins: 1, Losses: 1, Rating: 1510, CostCents: 8},
		{RunID: "run_1", Model: "weak", Provider: "openai", AvgScore: 3.0, Wins: 0, Losses: 2, Rating: 1450, CostCents: 5},
	}
	for _, e := range entries {
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	standings, err := s.Standings(ctx, 10)
	if err != nil {
		t.Fatalf("Standings: %v", err)
	}
	if len(standings) != 2 {
		t.Fatalf("standings: got %d want 2", len(standings))
	}

	top := standings[0]
	if top.Model != "strong" {
		t.Fatalf("top model: got %s", top.Model)
	}
	if top.Runs != 2 {
		t.Fatalf("runs: got %d want 2", top.Runs)
	}
	if top.Wins != 3 || top.Losses != 1 {
		t.Fatalf("record: %d/%d", top.Wins, top.Losses)
	}
	if top.AvgRating != 1530 {
		t.Fatalf("avg rating: got %v want 1530", top.AvgRating)
	}
	if top.CostCents != 18 {
		t.Fatalf("cost: got %v want 18", top.CostCents)
	}
}

func TestStandingsLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []string{"a", "b", "c"} {
		if err := s.Save(ctx, &Entry{RunID: "run_1", Model: m, Provider: "claude", Rating: 1500}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	standings, err := s.Standings(ctx, 2)
	if err != nil {
		t.Fatalf("Standings: %v", err)
	}
	if len(standings) != 2 {
		t.Fatalf("limit ignored: got %d", len(standings))
	}
}

func TestGetModelHistory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	recent := time.Now().UTC()
	saves := []*Entry{
		{RunID: "run_old", Model: "m", Provider: "claude", Rating: 1490, EvalDate: old},
		{RunID: "run_new", Model: "m", Provider: "claude", Rating: 1520, EvalDate: recent},
		{RunID: "run_other", Model: "other", Provider: "claude", Rating: 1500, EvalDate: recent},
	}
	for _, e := range saves {
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	history, err := s.GetModelHistory(ctx, "claude", "m")
	if err != nil {
		t.Fatalf("GetModelHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history: got %d want 2", len(history))
	}
	if history[0].RunID != "run_new" || history[1].RunID != "run_old" {
		t.Fatalf("order: %s, %s", history[0].RunID, history[1].RunID)
	}

	if _, err := s.GetModelHistory(ctx, "", "m"); err == nil {
		t.Fatalf("expected error for missing provider")
	}
}
