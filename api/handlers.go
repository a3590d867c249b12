package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stellarlinkco/docarena/internal/eval"
	"github.com/stellarlinkco/docarena/internal/run"
	"github.com/stellarlinkco/docarena/internal/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStartRun(c *gin.Context) {
	var cfg run.RunConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	id, err := s.orch.Start(&cfg)
	if err != nil {
		var verr *run.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "invalid run configuration",
				"violations": verr.Violations,
			})
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("run store not configured"))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []*store.RunRecord{}
	}
	c.JSON(http.StatusOK, runs)
}

type runDetail struct {
	Run             *store.RunRecord       `json:"run"`
	Results         []*run.SourceDocResult `json:"results"`
	JudgeDeviations []eval.JudgeDeviation  `json:"judge_deviations,omitempty"`
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("run store not configured"))
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing run id"))
		return
	}

	rec, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, fmt.Errorf("run %q not found", id))
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	results, err := s.store.GetDocResults(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	var scores []run.EvaluationScore
	for _, res := range results {
		scores = append(scores, res.Scores...)
	}

	c.JSON(http.StatusOK, runDetail{
		Run:             rec,
		Results:         results,
		JudgeDeviations: eval.ConsensusDeviations(scores),
	})
}

func (s *Server) handleGetRunStats(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing run id"))
		return
	}

	if snap, ok := s.bc.Snapshot(id); ok && !snap.UpdatedAt.IsZero() {
		c.JSON(http.StatusOK, snap)
		return
	}
	if s.store != nil {
		snap, err := s.store.LoadSnapshot(c.Request.Context(), id)
		if err == nil {
			c.JSON(http.StatusOK, snap)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
	}
	respondError(c, http.StatusNotFound, fmt.Errorf("no stats for run %q", id))
}

func (s *Server) handleCancelRun(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing run id"))
		return
	}

	if s.orch.Cancel(id) {
		c.JSON(http.StatusAccepted, gin.H{"run_id": id, "status": "cancelling"})
		return
	}

	if s.store != nil {
		if _, err := s.store.GetRun(c.Request.Context(), id); err == nil {
			respondError(c, http.StatusConflict, fmt.Errorf("run %q is not active", id))
			return
		}
	}
	respondError(c, http.StatusNotFound, fmt.Errorf("run %q not found", id))
}

// handleGetContent retrieves one generated document's content. The
// structured document id arrives as query parameters; the composite string
// form is display-only and never parsed.
func (s *Server) handleGetContent(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("run store not configured"))
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing run id"))
		return
	}

	docID, err := docIDFromQuery(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	content, err := s.store.GetGeneratedContent(c.Request.Context(), id, docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, fmt.Errorf("document %s not found", docID))
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"doc_id": docID, "content": content})
}

func docIDFromQuery(c *gin.Context) (run.DocumentID, error) {
	docID := run.DocumentID{
		SourceDoc: strings.TrimSpace(c.Query("source_doc")),
		Generator: strings.TrimSpace(c.Query("generator")),
		Provider:  strings.TrimSpace(c.Query("provider")),
		Model:     strings.TrimSpace(c.Query("model")),
	}
	if docID.SourceDoc == "" || docID.Generator == "" || docID.Provider == "" || docID.Model == "" {
		return run.DocumentID{}, errors.New("source_doc, generator, iteration, provider and model query parameters are required")
	}
	iter, err := strconv.Atoi(strings.TrimSpace(c.Query("iteration")))
	if err != nil || iter < 1 {
		return run.DocumentID{}, fmt.Errorf("invalid iteration %q", c.Query("iteration"))
	}
	docID.Iteration = iter
	return docID, nil
}

func (s *Server) handleGetLeaderboard(c *gin.Context) {
	if s.board == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("leaderboard not configured"))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	standings, err := s.board.Standings(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, standings)
}

func (s *Server) handleGetModelHistory(c *gin.Context) {
	if s.board == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("leaderboard not configured"))
		return
	}
	provider := strings.TrimSpace(c.Query("provider"))
	model := strings.TrimSpace(c.Query("model"))
	if provider == "" || model == "" {
		respondError(c, http.StatusBadRequest, errors.New("provider and model query parameters are required"))
		return
	}

	entries, err := s.board.GetModelHistory(c.Request.Context(), provider, model)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func respondError(c *gin.Context, status int, err error) {
	if err == nil {
		c.Status(status)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
