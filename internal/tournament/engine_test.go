package tournament

import (
	"math"
	"testing"

	"github.com/stellarlinkco/docarena/internal/run"
)

func docID(model string) run.DocumentID {
	return run.DocumentID{SourceDoc: "doc-1", Generator: "base", Iteration: 1, Provider: "stub", Model: model}
}

func TestEngine_TransitiveOutcome(t *testing.T) {
	t.Parallel()

	a, b, c := docID("a"), docID("b"), docID("c")
	eng := NewEngine()
	eng.Register(a)
	eng.Register(b)
	eng.Register(c)

	for _, pair := range [][2]run.DocumentID{{a, b}, {a, c}, {b, c}} {
		if _, err := eng.Record(pair[0], pair[1]); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	rankings := eng.Rankings()
	if len(rankings) != 3 {
		t.Fatalf("Rankings: got %d entries", len(rankings))
	}
	if rankings[0].DocID != a || rankings[1].DocID != b || rankings[2].DocID != c {
		t.Fatalf("order: got %v %v %v", rankings[0].DocID, rankings[1].DocID, rankings[2].DocID)
	}
	if rankings[0].Wins != 2 || rankings[0].Losses != 0 {
		t.Fatalf("winner record: %d/%d", rankings[0].Wins, rankings[0].Losses)
	}
	if rankings[0].Rating <= rankings[1].Rating || rankings[1].Rating <= rankings[2].Rating {
		t.Fatalf("ratings not descending: %v %v %v", rankings[0].Rating, rankings[1].Rating, rankings[2].Rating)
	}
}

func TestEngine_ZeroSum(t *testing.T) {
	t.Parallel()

	a, b := docID("a"), docID("b")
	eng := NewEngine()
	eng.Register(a)
	eng.Register(b)

	for i := 0; i < 5; i++ {
		winner, loser := a, b
		if i%2 == 1 {
			winner, loser = b, a
		}
		if _, err := eng.Record(winner, loser); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	rankings := eng.Rankings()
	total := rankings[0].Rating + rankings[1].Rating
	if math.Abs(total-2*BaseRating) > 1e-9 {
		t.Fatalf("ratings not zero-sum: total %v", total)
	}
}

func TestEngine_DeterministicReplay(t *testing.T) {
	t.Parallel()

	build := func() []run.PairwiseRanking {
		a, b, c := docID("a"), docID("b"), docID("c")
		eng := NewEngine()
		eng.Register(a)
		eng.Register(b)
		eng.Register(c)
		// Same comparisons in the same arrival order.
		for _, pair := range [][2]run.DocumentID{{b, a}, {b, c}, {a, c}, {a, b}} {
			if _, err := eng.Record(pair[0], pair[1]); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}
		return eng.Rankings()
	}

	first := build()
	second := build()
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].DocID != second[i].DocID || first[i].Rating != second[i].Rating ||
			first[i].Wins != second[i].Wins || first[i].Losses != second[i].Losses {
			t.Fatalf("replay diverged at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEngine_TieBreakByRegistrationOrder(t *testing.T) {
	t.Parallel()

	a, b := docID("a"), docID("b")
	eng := NewEngine()
	eng.Register(b)
	eng.Register(a)

	// No comparisons: everything ties, so registration order decides.
	rankings := eng.Rankings()
	if rankings[0].DocID != b || rankings[1].DocID != a {
		t.Fatalf("tie-break: got %v then %v", rankings[0].DocID, rankings[1].DocID)
	}
}

func TestEngine_SeqReflectsArrivalOrder(t *testing.T) {
	t.Parallel()

	a, b := docID("a"), docID("b")
	eng := NewEngine()
	eng.Register(a)
	eng.Register(b)

	for want := 0; want < 3; want++ {
		seq, err := eng.Record(a, b)
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if seq != want {
			t.Fatalf("seq: got %d want %d", seq, want)
		}
	}
}

func TestEngine_RecordRejectsBadInput(t *testing.T) {
	t.Parallel()

	a := docID("a")
	eng := NewEngine()
	eng.Register(a)

	if _, err := eng.Record(a, docID("ghost")); err == nil {
		t.Fatalf("expected error for unregistered loser")
	}
	if _, err := eng.Record(a, a); err == nil {
		t.Fatalf("expected error for self-comparison")
	}
}

func TestEngine_ReRegisterIsNoOp(t *testing.T) {
	t.Parallel()

	a := docID("a")
	eng := NewEngine()
	eng.Register(a)
	eng.Register(a)
	if eng.Size() != 1 {
		t.Fatalf("Size: got %d want 1", eng.Size())
	}
}
