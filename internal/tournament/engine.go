package tournament

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/stellarlinkco/docarena/internal/run"
)

const (
	// BaseRating is the rating every document starts at.
	BaseRating = 1500.0
	// KFactor scales each rating adjustment.
	KFactor = 32.0
)

type standing struct {
	id     run.DocumentID
	rating float64
	wins   int
	losses int
	order  int // registration order, final tie-break
}

// Engine folds decided pairwise comparisons into ELO ratings over a fixed
// document set. Comparisons fold in arrival order: ratings depend on when
// judgments complete under concurrency, while win/loss counts and the
// implied ranking order depend only on which judgments exist.
type Engine struct {
	standings []*standing
	index     map[run.DocumentID]int
	seq       int
}

func NewEngine() *Engine {
	return &Engine{
		index: make(map[run.DocumentID]int),
	}
}

// Register adds a document at base rating. Registration order is the
// deterministic final tie-break of Rankings. Re-registering is a no-op.
func (e *Engine) Register(id run.DocumentID) {
	if e == nil {
		return
	}
	if _, ok := e.index[id]; ok {
		return
	}
	e.index[id] = len(e.standings)
	e.standings = append(e.standings, &standing{
		id:     id,
		rating: BaseRating,
		order:  len(e.standings),
	})
}

// Size returns the number of registered documents.
func (e *Engine) Size() int {
	if e == nil {
		return 0
	}
	return len(e.standings)
}

// Record folds one decided comparison into the ratings. The update is
// zero-sum: the winner gains exactly what the loser gives up. Returns the
// arrival sequence number of the comparison.
func (e *Engine) Record(winner, loser run.DocumentID) (int, error) {
	if e == nil {
		return 0, errors.New("tournament: nil engine")
	}
	wi, ok := e.index[winner]
	if !ok {
		return 0, fmt.Errorf("tournament: unregistered document %s", winner)
	}
	li, ok := e.index[loser]
	if !ok {
		return 0, fmt.Errorf("tournament: unregistered document %s", loser)
	}
	if wi == li {
		return 0, errors.New("tournament: document compared against itself")
	}

	w, l := e.standings[wi], e.standings[li]
	expected := 1 / (1 + math.Pow(10, (l.rating-w.rating)/400))
	delta := KFactor * (1 - expected)
	w.rating += delta
	l.rating -= delta
	w.wins++
	l.losses++

	seq := e.seq
	e.seq++
	return seq, nil
}

// Rankings derives the current ranking: rating descending, ties broken by
// win rate, then by registration order. Never random.
func (e *Engine) Rankings() []run.PairwiseRanking {
	if e == nil || len(e.standings) == 0 {
		return nil
	}

	sorted := make([]*standing, len(e.standings))
	copy(sorted, e.standings)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.rating != b.rating {
			return a.rating > b.rating
		}
		ar, br := winRate(a), winRate(b)
		if ar != br {
			return ar > br
		}
		return a.order < b.order
	})

	out := make([]run.PairwiseRanking, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, run.PairwiseRanking{
			DocID:  s.id,
			Wins:   s.wins,
			Losses: s.losses,
			Rating: s.rating,
		})
	}
	return out
}

func winRate(s *standing) float64 {
	total := s.wins + s.losses
	if total == 0 {
		return 0
	}
	return float64(s.wins) / float64(total)
}
