package run

import (
	"strings"
	"testing"
)

func validConfig() *RunConfig {
	return &RunConfig{
		SourceDocs: []SourceDoc{
			{ID: "doc-1", Title: "Doc One", Content: "source material"},
		},
		Generators: []GeneratorSpec{
			{Name: "base", Kind: GeneratorKindBase, Models: []ModelRef{{Provider: "claude", Model: "claude-sonnet-4-20250514"}}},
		},
		Iterations:         1,
		GenConcurrency:     4,
		EvalConcurrency:    4,
		RequestTimeoutSecs: 120,
		EvalTimeoutSecs:    90,
		RunTimeoutSecs:     3600,
		MaxRetries:         2,
		RetryDelaySecs:     1,
		Criteria:           []Criterion{{Name: "clarity"}},
		JudgeModels:        []ModelRef{{Provider: "openai", Model: "gpt-4o"}},
	}
}

func hasViolation(t *testing.T, err *ValidationError, field string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected violation for %q, got valid", field)
	}
	for _, v := range err.Violations {
		if v.Field == field {
			return
		}
	}
	t.Fatalf("expected violation for %q, got %v", field, err.Violations)
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	t.Parallel()

	hasViolation(t, Validate(nil), "config")
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.SourceDocs = nil
	cfg.Generators = nil
	cfg.Iterations = 0
	cfg.GenConcurrency = 51
	cfg.Criteria = nil
	cfg.JudgeModels = nil

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected violations")
	}
	for _, field := range []string{"source_docs", "generators", "iterations", "gen_concurrency", "criteria", "judge_models"} {
		hasViolation(t, err, field)
	}
	if len(err.Violations) < 6 {
		t.Fatalf("expected complete list, got %d violations", len(err.Violations))
	}
}

func TestValidate_RangeChecks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		field  string
		mutate func(*RunConfig)
	}{
		{"gen_concurrency", func(c *RunConfig) { c.GenConcurrency = 0 }},
		{"eval_concurrency", func(c *RunConfig) { c.EvalConcurrency = 100 }},
		{"request_timeout_secs", func(c *RunConfig) { c.RequestTimeoutSecs = 30 }},
		{"eval_timeout_secs", func(c *RunConfig) { c.EvalTimeoutSecs = 7200 }},
		{"run_timeout_secs", func(c *RunConfig) { c.RunTimeoutSecs = 10 }},
		{"max_retries", func(c *RunConfig) { c.MaxRetries = 0 }},
		{"max_retries", func(c *RunConfig) { c.MaxRetries = 11 }},
		{"retry_delay_secs", func(c *RunConfig) { c.RetryDelaySecs = -1 }},
		{"launch_delay_ms", func(c *RunConfig) { c.LaunchDelayMS = 20000 }},
		{"iterations", func(c *RunConfig) { c.Iterations = 11 }},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		hasViolation(t, Validate(cfg), tc.field)
	}
}

func TestValidate_InstructedGeneratorRequiresInstructions(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Generators[0].Kind = GeneratorKindInstructed
	hasViolation(t, Validate(cfg), "generators[0].instructions")

	cfg.Generators[0].Instructions = "write formally"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_UnknownGeneratorKind(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Generators[0].Kind = "fancy"
	hasViolation(t, Validate(cfg), "generators[0].kind")
}

func TestValidate_DuplicateSourceDocIDs(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.SourceDocs = append(cfg.SourceDocs, SourceDoc{ID: "doc-1", Content: "again"})
	hasViolation(t, Validate(cfg), "source_docs[1].id")
}

func TestValidate_PairwiseRules(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Pairwise.Enabled = true
	hasViolation(t, Validate(cfg), "pairwise.instructions")

	cfg.Pairwise.Instructions = "prefer concise"
	cfg.Pairwise.TopN = 1
	hasViolation(t, Validate(cfg), "pairwise.top_n")

	cfg.Pairwise.TopN = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_CombineRules(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Combine.Enabled = true
	err := Validate(cfg)
	hasViolation(t, err, "combine.enabled")
	hasViolation(t, err, "combine.models")
	hasViolation(t, err, "combine.instructions")

	cfg.Pairwise.Enabled = true
	cfg.Pairwise.Instructions = "prefer concise"
	cfg.Combine.Models = []ModelRef{{Provider: "claude", Model: "claude-sonnet-4-20250514"}}
	cfg.Combine.Instructions = "merge the best parts"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_PostCombineRules(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PostCombine.Enabled = true
	err := Validate(cfg)
	hasViolation(t, err, "post_combine.enabled")
	hasViolation(t, err, "post_combine.top_n")

	cfg.Pairwise.Enabled = true
	cfg.Pairwise.Instructions = "prefer concise"
	cfg.Combine.Enabled = true
	cfg.Combine.Models = []ModelRef{{Provider: "claude", Model: "claude-sonnet-4-20250514"}}
	cfg.Combine.Instructions = "merge"
	cfg.PostCombine.TopN = 2
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidationError_MessageListsEveryField(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Criteria = nil
	cfg.JudgeModels = nil

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected violations")
	}
	msg := err.Error()
	if !strings.Contains(msg, "criteria") || !strings.Contains(msg, "judge_models") {
		t.Fatalf("Error() missing fields: %q", msg)
	}
}
