package eval

import (
	"math"

	"github.com/stellarlinkco/docarena/internal/run"
)

// Average returns the mean of all scores. The second return is false when
// no scores were recorded: an unscored document has an undefined average,
// not zero.
func Average(scores []run.EvaluationScore) (float64, bool) {
	if len(scores) == 0 {
		return 0, false
	}
	sum := 0
	for _, s := range scores {
		sum += s.Score
	}
	return float64(sum) / float64(len(scores)), true
}

// AveragesByDoc computes the per-document mean over all (criterion x
// judge) scores. Documents absent from scores are absent from the result.
func AveragesByDoc(scores []run.EvaluationScore) map[run.DocumentID]float64 {
	sums := make(map[run.DocumentID]int)
	counts := make(map[run.DocumentID]int)
	for _, s := range scores {
		sums[s.DocID] += s.Score
		counts[s.DocID]++
	}

	out := make(map[run.DocumentID]float64, len(sums))
	for id, sum := range sums {
		out[id] = float64(sum) / float64(counts[id])
	}
	return out
}

// JudgeDeviation is one judge's consensus deviation for one criterion:
// the judge's average minus the cross-judge average. Positive means the
// judge scores above consensus. Used to surface systematically lenient or
// harsh judges, never to adjust scores.
type JudgeDeviation struct {
	Judge     run.ModelRef `json:"judge"`
	Criterion string       `json:"criterion"`
	Deviation float64      `json:"deviation"`
}

// ConsensusDeviations computes per-judge per-criterion deviations from
// the cross-judge mean, rounded to two decimal places. Pure function of
// the score set: re-running over unchanged scores yields identical output.
func ConsensusDeviations(scores []run.EvaluationScore) []JudgeDeviation {
	type key struct {
		judge     run.ModelRef
		criterion string
	}

	judgeSums := make(map[key]int)
	judgeCounts := make(map[key]int)
	critSums := make(map[string]int)
	critCounts := make(map[string]int)
	var order []key
	for _, s := range scores {
		k := key{judge: s.Judge, criterion: s.Criterion}
		if judgeCounts[k] == 0 {
			order = append(order, k)
		}
		judgeSums[k] += s.Score
		judgeCounts[k]++
		critSums[s.Criterion] += s.Score
		critCounts[s.Criterion]++
	}

	out := make([]JudgeDeviation, 0, len(order))
	for _, k := range order {
		judgeAvg := float64(judgeSums[k]) / float64(judgeCounts[k])
		critAvg := float64(critSums[k.criterion]) / float64(critCounts[k.criterion])
		out = append(out, JudgeDeviation{
			Judge:     k.judge,
			Criterion: k.criterion,
			Deviation: round2(judgeAvg - critAvg),
		})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
