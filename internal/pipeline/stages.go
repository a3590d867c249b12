package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/docarena/internal/eval"
	"github.com/stellarlinkco/docarena/internal/gate"
	"github.com/stellarlinkco/docarena/internal/llm"
	"github.com/stellarlinkco/docarena/internal/run"
	"github.com/stellarlinkco/docarena/internal/stats"
	"github.com/stellarlinkco/docarena/internal/tournament"
)

const maxGenerateTokens = 4096

// docState serializes mutation of one SourceDocResult across the tuple
// goroutines working on it.
type docState struct {
	mu  sync.Mutex
	res *run.SourceDocResult
}

func (st *docState) addError(msg string) {
	st.mu.Lock()
	st.res.Errors = append(st.res.Errors, msg)
	st.mu.Unlock()
}

// execDoc runs every phase for one source document. Phase progression is
// sequential per document; the fan-out lives inside each stage.
func (o *Orchestrator) execDoc(ctx context.Context, rs *runState, doc run.SourceDoc) *run.SourceDocResult {
	res := &run.SourceDocResult{
		SourceDoc: doc.ID,
		Phase:     run.PhasePending,
		StartedAt: time.Now().UTC(),
	}
	st := &docState{res: res}
	logger := rs.logger.With("source_doc", doc.ID)

	o.setDocPhase(rs, st, run.PhaseGenerating)
	o.generateStage(ctx, rs, doc, st)

	contents := make(map[run.DocumentID]string, len(res.Documents))
	for _, d := range res.Documents {
		contents[d.ID] = d.Content
	}

	if ctx.Err() == nil && len(res.Documents) > 0 {
		o.setDocPhase(rs, st, run.PhaseSingleEval)
		o.singleEvalStage(ctx, rs, doc, st)
	}

	structuralFailure := false
	if rs.cfg.Pairwise.Enabled && ctx.Err() == nil && len(res.Documents) >= 2 {
		o.setDocPhase(rs, st, run.PhasePairwiseEval)
		o.pairwiseStage(ctx, rs, st, contents)
	}

	if rs.cfg.Combine.Enabled && ctx.Err() == nil && !structuralFailure {
		o.setDocPhase(rs, st, run.PhaseCombining)
		structuralFailure = !o.combineStage(ctx, rs, doc, st, contents)
	}

	ranPostCombine := false
	if rs.cfg.PostCombine.Enabled && ctx.Err() == nil && !structuralFailure && len(res.Combined) > 0 && len(res.Rankings) > 0 {
		o.setDocPhase(rs, st, run.PhasePostCombineEval)
		o.postCombineStage(ctx, rs, st, contents)
		ranPostCombine = true
	}
	if !ranPostCombine {
		res.PostCombineSkipped = true
		logger.Info("post-combine evaluation skipped")
	}

	res.FinishedAt = time.Now().UTC()
	res.Phase = finalDocPhase(ctx, res, structuralFailure)
	o.saveDocResult(rs.id, res)
	logger.Info("source document finished",
		"phase", res.Phase,
		"documents", len(res.Documents),
		"errors", len(res.Errors),
		"cost_cents", res.CostCents)
	return res
}

func finalDocPhase(ctx context.Context, res *run.SourceDocResult, structuralFailure bool) run.Phase {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrCancelled) || errors.Is(cause, context.Canceled) {
			return run.PhaseCancelled
		}
		return run.PhaseFailed
	}
	if structuralFailure || len(res.Documents) == 0 {
		return run.PhaseFailed
	}
	if len(res.Errors) > 0 {
		return run.PhaseCompletedErrors
	}
	return run.PhaseCompleted
}

func (o *Orchestrator) setDocPhase(rs *runState, st *docState, phase run.Phase) {
	st.mu.Lock()
	st.res.Phase = phase
	sourceDoc := st.res.SourceDoc
	st.mu.Unlock()
	o.publish(stats.Event{
		Type:      stats.EventPhaseChanged,
		RunID:     rs.id,
		Phase:     phase,
		SourceDoc: sourceDoc,
	})
}

// generateStage fans out every (generator, model, iteration) tuple for one
// source document through the generation pool. Tuple failures are isolated:
// each failure is recorded on the owning result and siblings continue.
func (o *Orchestrator) generateStage(ctx context.Context, rs *runState, doc run.SourceDoc, st *docState) {
	var wg sync.WaitGroup
	for _, g := range rs.cfg.Generators {
		for _, m := range g.Models {
			for it := 1; it <= rs.cfg.Iterations; it++ {
				id := run.DocumentID{
					SourceDoc: doc.ID,
					Generator: g.Name,
					Iteration: it,
					Provider:  m.Provider,
					Model:     m.Model,
				}
				wg.Add(1)
				go func(g run.GeneratorSpec, m run.ModelRef, id run.DocumentID) {
					defer wg.Done()
					o.generateTuple(ctx, rs, doc, g, m, id, st)
				}(g, m, id)
			}
		}
	}
	wg.Wait()
}

func (o *Orchestrator) generateTuple(ctx context.Context, rs *runState, doc run.SourceDoc, g run.GeneratorSpec, m run.ModelRef, id run.DocumentID, st *docState) {
	if err := rs.gate.Acquire(ctx, gate.Generation); err != nil {
		// Never dispatched: the tuple is cancelled, not failed.
		st.mu.Lock()
		st.res.CancelledTuples = append(st.res.CancelledTuples, id)
		st.mu.Unlock()
		return
	}
	defer rs.gate.Release(gate.Generation)

	call := "generate " + id.String()
	prompt, system, err := buildGeneratePrompt(doc, g)
	if err != nil {
		st.addError(call + ": " + err.Error())
		return
	}
	p, err := o.registry.ProviderFor(m.Provider)
	if err != nil {
		st.addError(call + ": " + err.Error())
		return
	}

	o.publish(stats.Event{Type: stats.EventCallStarted, RunID: rs.id, SourceDoc: doc.ID, Call: call})
	started := time.Now().UTC()

	var result *llm.GenerateResult
	err = callWithRetry(ctx, rs.cfg.RequestTimeout(), rs.cfg.MaxRetries, rs.cfg.RetryDelay(), func(rerr error) {
		o.publish(stats.Event{Type: stats.EventCallRetried, RunID: rs.id, SourceDoc: doc.ID, Call: call, Err: rerr.Error()})
	}, func(cctx context.Context) error {
		out, gerr := p.Generate(cctx, &llm.GenerateRequest{
			Prompt:    prompt,
			System:    system,
			Model:     m.Model,
			MaxTokens: maxGenerateTokens,
		})
		if gerr != nil {
			return gerr
		}
		if out == nil || strings.TrimSpace(out.Content) == "" {
			return errors.New("empty generation result")
		}
		result = out
		return nil
	})
	if err != nil {
		o.publish(stats.Event{Type: stats.EventCallFailed, RunID: rs.id, SourceDoc: doc.ID, Call: call, Err: err.Error()})
		st.mu.Lock()
		if errors.Is(err, context.Canceled) {
			st.res.CancelledTuples = append(st.res.CancelledTuples, id)
		} else {
			st.res.Errors = append(st.res.Errors, fmt.Sprintf("%s: %v", call, err))
		}
		st.mu.Unlock()
		return
	}

	o.publish(stats.Event{Type: stats.EventCallSucceeded, RunID: rs.id, SourceDoc: doc.ID, Call: call})
	gd := &run.GeneratedDocument{
		ID:           id,
		Content:      result.Content,
		CostCents:    result.CostCents,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
	}
	st.mu.Lock()
	st.res.Documents = append(st.res.Documents, gd)
	st.res.CostCents += result.CostCents
	st.mu.Unlock()
	o.saveDocument(rs.id, gd)
}

// singleEvalStage scores every generated document against every (judge,
// criterion) pair through the evaluation pool.
func (o *Orchestrator) singleEvalStage(ctx context.Context, rs *runState, doc run.SourceDoc, st *docState) {
	st.mu.Lock()
	docs := append([]*run.GeneratedDocument(nil), st.res.Documents...)
	st.mu.Unlock()

	var wg sync.WaitGroup
	for _, gd := range docs {
		for _, judge := range rs.cfg.JudgeModels {
			for _, crit := range rs.cfg.Criteria {
				wg.Add(1)
				go func(gd *run.GeneratedDocument, judge run.ModelRef, crit run.Criterion) {
					defer wg.Done()
					o.scoreOne(ctx, rs, doc, gd, judge, crit, st)
				}(gd, judge, crit)
			}
		}
	}
	wg.Wait()
}

func (o *Orchestrator) scoreOne(ctx context.Context, rs *runState, doc run.SourceDoc, gd *run.GeneratedDocument, judge run.ModelRef, crit run.Criterion, st *docState) {
	if err := rs.gate.Acquire(ctx, gate.Evaluation); err != nil {
		return
	}
	defer rs.gate.Release(gate.Evaluation)

	call := fmt.Sprintf("score %s by %s on %s", gd.ID, judge, crit.Name)
	p, err := o.registry.ProviderFor(judge.Provider)
	if err != nil {
		st.addError(call + ": " + err.Error())
		return
	}

	o.publish(stats.Event{Type: stats.EventCallStarted, RunID: rs.id, SourceDoc: doc.ID, Call: call})

	var score int
	var rationale string
	err = callWithRetry(ctx, rs.cfg.EvalTimeout(), rs.cfg.MaxRetries, rs.cfg.RetryDelay(), func(rerr error) {
		o.publish(stats.Event{Type: stats.EventCallRetried, RunID: rs.id, SourceDoc: doc.ID, Call: call, Err: rerr.Error()})
	}, func(cctx context.Context) error {
		s, r, serr := eval.Score(cctx, p, judge.Model, gd.Content, crit, doc.Title)
		if serr != nil {
			return serr
		}
		score, rationale = s, r
		return nil
	})
	if err != nil {
		o.publish(stats.Event{Type: stats.EventCallFailed, RunID: rs.id, SourceDoc: doc.ID, Call: call, Err: err.Error()})
		if !errors.Is(err, context.Canceled) {
			st.addError(fmt.Sprintf("%s: %v", call, err))
		}
		return
	}

	o.publish(stats.Event{Type: stats.EventCallSucceeded, RunID: rs.id, SourceDoc: doc.ID, Call: call})
	es := run.EvaluationScore{
		DocID:     gd.ID,
		Judge:     judge,
		Criterion: crit.Name,
		Score:     score,
		Rationale: rationale,
	}
	st.mu.Lock()
	st.res.Scores = append(st.res.Scores, es)
	st.mu.Unlock()
	o.saveScore(rs.id, &es)
}

// pairwiseStage runs the head-to-head tournament over the (optionally
// top-N restricted) document set. Judgments fold into the engine in
// arrival order; inconclusive verdicts are discarded, never counted.
func (o *Orchestrator) pairwiseStage(ctx context.Context, rs *runState, st *docState, contents map[run.DocumentID]string) {
	st.mu.Lock()
	candidates := selectCandidates(st.res, rs.cfg.Pairwise.TopN)
	sourceDoc := st.res.SourceDoc
	st.mu.Unlock()
	if len(candidates) < 2 {
		rs.logger.Warn("pairwise tournament skipped", "source_doc", sourceDoc, "candidates", len(candidates))
		return
	}

	eng := tournament.NewEngine()
	for _, id := range candidates {
		eng.Register(id)
	}

	// engMu serializes the rating fold and comparison log so Seq reflects
	// true arrival order.
	var engMu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			for _, judge := range rs.cfg.JudgeModels {
				a, b := candidates[i], candidates[j]
				wg.Add(1)
				go func(a, b run.DocumentID, judge run.ModelRef) {
					defer wg.Done()
					o.compareOne(ctx, rs, st, eng, &engMu, a, b, judge, contents, sourceDoc)
				}(a, b, judge)
			}
		}
	}
	wg.Wait()

	st.mu.Lock()
	st.res.Rankings = eng.Rankings()
	st.mu.Unlock()
}

func (o *Orchestrator) compareOne(ctx context.Context, rs *runState, st *docState, eng *tournament.Engine, engMu *sync.Mutex, a, b run.DocumentID, judge run.ModelRef, contents map[run.DocumentID]string, sourceDoc string) {
	if err := rs.gate.Acquire(ctx, gate.Evaluation); err != nil {
		return
	}
	defer rs.gate.Release(gate.Evaluation)

	call := fmt.Sprintf("compare %s vs %s by %s", a, b, judge)
	p, err := o.registry.ProviderFor(judge.Provider)
	if err != nil {
		st.addError(call + ": " + err.Error())
		return
	}

	o.publish(stats.Event{Type: stats.EventCallStarted, RunID: rs.id, SourceDoc: sourceDoc, Call: call})

	var winner, rationale string
	err = callWithRetry(ctx, rs.cfg.EvalTimeout(), rs.cfg.MaxRetries, rs.cfg.RetryDelay(), func(rerr error) {
		o.publish(stats.Event{Type: stats.EventCallRetried, RunID: rs.id, SourceDoc: sourceDoc, Call: call, Err: rerr.Error()})
	}, func(cctx context.Context) error {
		w, r, verr := tournament.Verdict(cctx, p, judge.Model, rs.cfg.Pairwise.Instructions, rs.cfg.Criteria, contents[a], contents[b])
		if verr != nil {
			return verr
		}
		winner, rationale = w, r
		return nil
	})
	if err != nil {
		// Discarded comparisons are skips, not failures: they must not
		// count toward failed calls or surface as the run's last error.
		if errors.Is(err, tournament.ErrInconclusive) {
			rs.logger.Warn("inconclusive comparison discarded", "call", call, "error", err)
			return
		}
		o.publish(stats.Event{Type: stats.EventCallFailed, RunID: rs.id, SourceDoc: sourceDoc, Call: call, Err: err.Error()})
		if !errors.Is(err, context.Canceled) {
			st.addError(fmt.Sprintf("%s: %v", call, err))
		}
		return
	}

	winnerID, loserID := a, b
	if winner == "B" {
		winnerID, loserID = b, a
	}

	engMu.Lock()
	seq, recErr := eng.Record(winnerID, loserID)
	engMu.Unlock()
	if recErr != nil {
		st.addError(fmt.Sprintf("%s: %v", call, recErr))
		return
	}

	o.publish(stats.Event{Type: stats.EventCallSucceeded, RunID: rs.id, SourceDoc: sourceDoc, Call: call})
	cmp := run.PairwiseComparison{
		A:         a,
		B:         b,
		Judge:     judge,
		Winner:    winnerID,
		Rationale: rationale,
		Seq:       seq,
	}
	st.mu.Lock()
	st.res.Comparisons = append(st.res.Comparisons, cmp)
	st.mu.Unlock()
	o.saveComparison(rs.id, &cmp)
}

// selectCandidates orders documents by single-eval average (unscored
// documents last) with the id string as the deterministic tie-break, then
// applies the top-N cutoff. The order doubles as tournament registration
// order.
func selectCandidates(res *run.SourceDocResult, topN int) []run.DocumentID {
	avgs := eval.AveragesByDoc(res.Scores)
	ids := make([]run.DocumentID, 0, len(res.Documents))
	for _, d := range res.Documents {
		ids = append(ids, d.ID)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		ai, iok := avgs[ids[i]]
		aj, jok := avgs[ids[j]]
		if iok != jok {
			return iok
		}
		if iok && jok && ai != aj {
			return ai > aj
		}
		return ids[i].String() < ids[j].String()
	})
	if topN > 0 && topN < len(ids) {
		ids = ids[:topN]
	}
	return ids
}

// combineStage merges the tournament's top two documents per combine
// model. Returns false on a structural failure: combine reached without a
// usable ranking means a broken precondition, not a retryable condition.
func (o *Orchestrator) combineStage(ctx context.Context, rs *runState, doc run.SourceDoc, st *docState, contents map[run.DocumentID]string) bool {
	st.mu.Lock()
	rankings := append([]run.PairwiseRanking(nil), st.res.Rankings...)
	st.mu.Unlock()
	if len(rankings) < 2 {
		st.addError(fmt.Sprintf("combine %s: fewer than 2 ranked documents", doc.ID))
		return false
	}

	winnerSet := []run.DocumentID{rankings[0].DocID, rankings[1].DocID}
	prompt, err := buildCombinePrompt(doc, rs.cfg.Combine.Instructions, []string{
		contents[winnerSet[0]],
		contents[winnerSet[1]],
	})
	if err != nil {
		st.addError(fmt.Sprintf("combine %s: %v", doc.ID, err))
		return false
	}

	var wg sync.WaitGroup
	for i, m := range rs.cfg.Combine.Models {
		wg.Add(1)
		go func(i int, m run.ModelRef) {
			defer wg.Done()
			o.combineOne(ctx, rs, doc, st, m, i, prompt, winnerSet, contents)
		}(i, m)
	}
	wg.Wait()
	return true
}

func (o *Orchestrator) combineOne(ctx context.Context, rs *runState, doc run.SourceDoc, st *docState, m run.ModelRef, idx int, prompt string, winnerSet []run.DocumentID, contents map[run.DocumentID]string) {
	if err := rs.gate.Acquire(ctx, gate.Generation); err != nil {
		return
	}
	defer rs.gate.Release(gate.Generation)

	id := run.DocumentID{
		SourceDoc: doc.ID,
		Generator: "combine",
		Iteration: idx + 1,
		Provider:  m.Provider,
		Model:     m.Model,
	}
	call := "combine " + id.String()
	p, err := o.registry.ProviderFor(m.Provider)
	if err != nil {
		st.addError(call + ": " + err.Error())
		return
	}

	o.publish(stats.Event{Type: stats.EventCallStarted, RunID: rs.id, SourceDoc: doc.ID, Call: call})
	started := time.Now().UTC()

	var result *llm.GenerateResult
	err = callWithRetry(ctx, rs.cfg.RequestTimeout(), rs.cfg.MaxRetries, rs.cfg.RetryDelay(), func(rerr error) {
		o.publish(stats.Event{Type: stats.EventCallRetried, RunID: rs.id, SourceDoc: doc.ID, Call: call, Err: rerr.Error()})
	}, func(cctx context.Context) error {
		out, gerr := p.Generate(cctx, &llm.GenerateRequest{
			Prompt:    prompt,
			System:    defaultSystemPrompt,
			Model:     m.Model,
			MaxTokens: maxGenerateTokens,
		})
		if gerr != nil {
			return gerr
		}
		if out == nil || strings.TrimSpace(out.Content) == "" {
			return errors.New("empty combine result")
		}
		result = out
		return nil
	})
	if err != nil {
		o.publish(stats.Event{Type: stats.EventCallFailed, RunID: rs.id, SourceDoc: doc.ID, Call: call, Err: err.Error()})
		if !errors.Is(err, context.Canceled) {
			st.addError(fmt.Sprintf("%s: %v", call, err))
		}
		return
	}

	o.publish(stats.Event{Type: stats.EventCallSucceeded, RunID: rs.id, SourceDoc: doc.ID, Call: call})
	cd := &run.CombinedDocument{
		ID:        id,
		Content:   result.Content,
		CostCents: result.CostCents,
		WinnerSet: append([]run.DocumentID(nil), winnerSet...),
		CreatedAt: time.Now().UTC(),
	}
	st.mu.Lock()
	st.res.Combined = append(st.res.Combined, cd)
	st.res.CostCents += result.CostCents
	contents[id] = result.Content
	st.mu.Unlock()

	// Mirrored as a generated document so content retrieval works the same
	// for combined output.
	o.saveDocument(rs.id, &run.GeneratedDocument{
		ID:           id,
		Content:      result.Content,
		CostCents:    result.CostCents,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		StartedAt:    started,
		FinishedAt:   cd.CreatedAt,
	})
}

// postCombineStage reruns a two-document tournament per combined document
// against the pre-combine winner to decide whether combining improved on
// the best single candidate. The baseline registers first so a judgeless
// tie never reads as an improvement.
func (o *Orchestrator) postCombineStage(ctx context.Context, rs *runState, st *docState, contents map[run.DocumentID]string) {
	st.mu.Lock()
	baseline := st.res.Rankings[0].DocID
	combined := append([]*run.CombinedDocument(nil), st.res.Combined...)
	sourceDoc := st.res.SourceDoc
	st.mu.Unlock()

	for _, cd := range combined {
		if ctx.Err() != nil {
			return
		}

		eng := tournament.NewEngine()
		eng.Register(baseline)
		eng.Register(cd.ID)

		var engMu sync.Mutex
		var wg sync.WaitGroup
		for _, judge := range rs.cfg.JudgeModels {
			wg.Add(1)
			go func(judge run.ModelRef) {
				defer wg.Done()
				o.compareOne(ctx, rs, st, eng, &engMu, cd.ID, baseline, judge, contents, sourceDoc)
			}(judge)
		}
		wg.Wait()

		rankings := eng.Rankings()
		pcr := run.PostCombineResult{
			CombinedID: cd.ID,
			Baseline:   baseline,
			Rankings:   rankings,
			Improved:   len(rankings) > 0 && rankings[0].DocID == cd.ID,
		}
		st.mu.Lock()
		st.res.PostCombine = append(st.res.PostCombine, pcr)
		st.mu.Unlock()
	}
}

func (o *Orchestrator) saveDocument(runID string, d *run.GeneratedDocument) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.SaveDocument(ctx, runID, d); err != nil {
		o.logger.Warn("save document failed", "run_id", runID, "doc", d.ID.String(), "error", err)
	}
}

func (o *Orchestrator) saveScore(runID string, s *run.EvaluationScore) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.SaveScore(ctx, runID, s); err != nil {
		o.logger.Warn("save score failed", "run_id", runID, "doc", s.DocID.String(), "error", err)
	}
}

func (o *Orchestrator) saveComparison(runID string, c *run.PairwiseComparison) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.SaveComparison(ctx, runID, c); err != nil {
		o.logger.Warn("save comparison failed", "run_id", runID, "seq", c.Seq, "error", err)
	}
}

func (o *Orchestrator) saveDocResult(runID string, res *run.SourceDocResult) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.SaveDocResult(ctx, runID, res); err != nil {
		o.logger.Warn("save doc result failed", "run_id", runID, "source_doc", res.SourceDoc, "error", err)
	}
}
