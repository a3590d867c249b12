package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stellarlinkco/docarena/internal/leaderboard"
	"github.com/stellarlinkco/docarena/internal/llm"
	"github.com/stellarlinkco/docarena/internal/pipeline"
	"github.com/stellarlinkco/docarena/internal/run"
	"github.com/stellarlinkco/docarena/internal/stats"
	"github.com/stellarlinkco/docarena/internal/store"
)

type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	return &llm.GenerateResult{Content: "generated by " + req.Model, CostCents: 1}, nil
}

func (stubProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Content: []llm.ContentBlock{{Type: "text", Text: `{"score": 4, "reasoning": "fine"}`}},
	}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("DOCARENA_API_KEY", "")
	t.Setenv("DOCARENA_DISABLE_AUTH", "true")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	board, err := leaderboard.NewStore(filepath.Join(t.TempDir(), "leaderboard.db"))
	if err != nil {
		t.Fatalf("leaderboard.NewStore: %v", err)
	}
	t.Cleanup(func() { _ = board.Close() })

	bc := stats.NewBroadcaster(st, time.Hour, logger)
	bc.Start()
	t.Cleanup(bc.Close)

	reg := llm.NewRegistry()
	reg.Register(stubProvider{})

	orch, err := pipeline.New(reg, st, bc, board, logger)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	s, err := NewServer(nil, st, orch, bc, board)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func validRunConfig() *run.RunConfig {
	return &run.RunConfig{
		SourceDocs: []run.SourceDoc{{ID: "doc-1", Content: "source material"}},
		Generators: []run.GeneratorSpec{{
			Name:   "base",
			Kind:   run.GeneratorKindBase,
			Models: []run.ModelRef{{Provider: "stub", Model: "m1"}},
		}},
		Iterations:         1,
		GenConcurrency:     2,
		EvalConcurrency:    2,
		RequestTimeoutSecs: 60,
		EvalTimeoutSecs:    60,
		RunTimeoutSecs:     120,
		MaxRetries:         1,
		Criteria:           []run.Criterion{{Name: "clarity"}},
		JudgeModels:        []run.ModelRef{{Provider: "stub", Model: "judge"}},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestNewServer_RequiresAuthConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("DOCARENA_API_KEY", "")
	t.Setenv("DOCARENA_DISABLE_AUTH", "")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := stats.NewBroadcaster(nil, time.Hour, logger)
	bc.Start()
	t.Cleanup(bc.Close)
	orch, err := pipeline.New(llm.NewRegistry(), nil, bc, nil, logger)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	if _, err := NewServer(nil, nil, orch, bc, nil); err == nil {
		t.Fatalf("expected error without auth configuration")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("DOCARENA_API_KEY", "secret")
	t.Setenv("DOCARENA_DISABLE_AUTH", "")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := stats.NewBroadcaster(nil, time.Hour, logger)
	bc.Start()
	t.Cleanup(bc.Close)
	orch, err := pipeline.New(llm.NewRegistry(), nil, bc, nil, logger)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	s, err := NewServer(nil, nil, orch, bc, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	w := doRequest(s, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("without key: got %d want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with key: got %d want 200", rec.Code)
	}
}

func TestStartRun_InvalidConfig(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/runs", []byte(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want 400", w.Code)
	}

	var body struct {
		Error      string          `json:"error"`
		Violations []run.Violation `json:"violations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Violations) == 0 {
		t.Fatalf("expected violations, got %s", w.Body.String())
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestServer(t)

	cfgJSON, err := json.Marshal(validRunConfig())
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}

	w := doRequest(s, http.MethodPost, "/api/runs", cfgJSON)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start: got %d: %s", w.Code, w.Body.String())
	}
	var started struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.RunID == "" {
		t.Fatalf("missing run id: %s", w.Body.String())
	}

	// Poll until the run reaches a terminal status.
	var detail struct {
		Run     *store.RunRecord       `json:"run"`
		Results []*run.SourceDocResult `json:"results"`
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		w = doRequest(s, http.MethodGet, "/api/runs/"+started.RunID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get run: got %d: %s", w.Code, w.Body.String())
		}
		if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
			t.Fatalf("decode run detail: %v", err)
		}
		if detail.Run.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never finished: %s", detail.Run.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if detail.Run.Status != run.StatusCompleted {
		t.Fatalf("status: got %s want %s", detail.Run.Status, run.StatusCompleted)
	}
	if len(detail.Results) != 1 || len(detail.Results[0].Documents) != 1 {
		t.Fatalf("results: %+v", detail.Results)
	}

	w = doRequest(s, http.MethodGet, "/api/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list runs: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), started.RunID) {
		t.Fatalf("run missing from list: %s", w.Body.String())
	}

	contentURL := fmt.Sprintf("/api/runs/%s/content?source_doc=doc-1&generator=base&iteration=1&provider=stub&model=m1", started.RunID)
	w = doRequest(s, http.MethodGet, contentURL, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get content: got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "generated by m1") {
		t.Fatalf("content body: %s", w.Body.String())
	}

	w = doRequest(s, http.MethodGet, "/api/runs/"+started.RunID+"/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get stats: got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetRun_Unknown(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/runs/run_missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want 404", w.Code)
	}
}

func TestCancelRun_Unknown(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/runs/run_missing/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want 404", w.Code)
	}
}

func TestGetContent_BadQuery(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/runs/run_1/content?source_doc=doc-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want 400", w.Code)
	}
}

func TestLeaderboard(t *testing.T) {
	s := newTestServer(t)

	if err := s.board.Save(context.Background(), &leaderboard.Entry{
		RunID:    "run_1",
		Model:    "m1",
		Provider: "stub",
		AvgScore: 4.0,
		Rating:   1516,
	}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	w := doRequest(s, http.MethodGet, "/api/leaderboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"m1"`) {
		t.Fatalf("body: %s", w.Body.String())
	}

	w = doRequest(s, http.MethodGet, "/api/leaderboard/history?provider=stub&model=m1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status: got %d", w.Code)
	}

	w = doRequest(s, http.MethodGet, "/api/leaderboard/history", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("history without params: got %d want 400", w.Code)
	}
}
