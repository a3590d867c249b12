package run

import (
	"fmt"
	"strings"
)

// Numeric bounds for RunConfig fields.
const (
	MinConcurrency = 1
	MaxConcurrency = 50
	MinRetries     = 1
	MaxRetries     = 10
	MinTimeoutSecs = 60
	MaxTimeoutSecs = 3600
	MaxIterations  = 10
	MaxRunTimeout  = 86400
	MaxRetryDelay  = 60
	MaxLaunchDelay = 10000
)

// Violation names one broken configuration constraint.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationError carries the complete list of violations, never just the
// first one found.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "run: invalid config"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "run: invalid config: " + strings.Join(parts, "; ")
}

// Validate checks a candidate RunConfig and returns every violated
// constraint. It has no side effects and dispatches no calls; the
// orchestrator refuses to start on a non-nil result.
func Validate(cfg *RunConfig) *ValidationError {
	if cfg == nil {
		return &ValidationError{Violations: []Violation{{Field: "config", Message: "missing"}}}
	}

	var vs []Violation
	add := func(field, format string, args ...any) {
		vs = append(vs, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if len(cfg.SourceDocs) == 0 {
		add("source_docs", "at least one source document is required")
	}
	seenDocs := make(map[string]struct{}, len(cfg.SourceDocs))
	for i, d := range cfg.SourceDocs {
		field := fmt.Sprintf("source_docs[%d]", i)
		id := strings.TrimSpace(d.ID)
		if id == "" {
			add(field+".id", "missing")
		} else if _, dup := seenDocs[id]; dup {
			add(field+".id", "duplicate id %q", id)
		} else {
			seenDocs[id] = struct{}{}
		}
		if strings.TrimSpace(d.Content) == "" {
			add(field+".content", "missing")
		}
	}

	if len(cfg.Generators) == 0 {
		add("generators", "at least one generator is required")
	}
	for i, g := range cfg.Generators {
		field := fmt.Sprintf("generators[%d]", i)
		if strings.TrimSpace(g.Name) == "" {
			add(field+".name", "missing")
		}
		switch g.Kind {
		case GeneratorKindBase:
		case GeneratorKindInstructed:
			if strings.TrimSpace(g.Instructions) == "" {
				add(field+".instructions", "required for kind %q", GeneratorKindInstructed)
			}
		default:
			add(field+".kind", "must be %q or %q, got %q", GeneratorKindBase, GeneratorKindInstructed, g.Kind)
		}
		if len(g.Models) == 0 {
			add(field+".models", "at least one model is required")
		}
		for j, m := range g.Models {
			if strings.TrimSpace(m.Provider) == "" || strings.TrimSpace(m.Model) == "" {
				add(fmt.Sprintf("%s.models[%d]", field, j), "provider and model are required")
			}
		}
	}

	if cfg.Iterations < 1 || cfg.Iterations > MaxIterations {
		add("iterations", "must be between 1 and %d, got %d", MaxIterations, cfg.Iterations)
	}
	if cfg.GenConcurrency < MinConcurrency || cfg.GenConcurrency > MaxConcurrency {
		add("gen_concurrency", "must be between %d and %d, got %d", MinConcurrency, MaxConcurrency, cfg.GenConcurrency)
	}
	if cfg.EvalConcurrency < MinConcurrency || cfg.EvalConcurrency > MaxConcurrency {
		add("eval_concurrency", "must be between %d and %d, got %d", MinConcurrency, MaxConcurrency, cfg.EvalConcurrency)
	}
	if cfg.LaunchDelayMS < 0 || cfg.LaunchDelayMS > MaxLaunchDelay {
		add("launch_delay_ms", "must be between 0 and %d, got %d", MaxLaunchDelay, cfg.LaunchDelayMS)
	}
	if cfg.RequestTimeoutSecs < MinTimeoutSecs || cfg.RequestTimeoutSecs > MaxTimeoutSecs {
		add("request_timeout_secs", "must be between %d and %d, got %d", MinTimeoutSecs, MaxTimeoutSecs, cfg.RequestTimeoutSecs)
	}
	if cfg.EvalTimeoutSecs < MinTimeoutSecs || cfg.EvalTimeoutSecs > MaxTimeoutSecs {
		add("eval_timeout_secs", "must be between %d and %d, got %d", MinTimeoutSecs, MaxTimeoutSecs, cfg.EvalTimeoutSecs)
	}
	if cfg.RunTimeoutSecs < MinTimeoutSecs || cfg.RunTimeoutSecs > MaxRunTimeout {
		add("run_timeout_secs", "must be between %d and %d, got %d", MinTimeoutSecs, MaxRunTimeout, cfg.RunTimeoutSecs)
	}
	if cfg.MaxRetries < MinRetries || cfg.MaxRetries > MaxRetries {
		add("max_retries", "must be between %d and %d, got %d", MinRetries, MaxRetries, cfg.MaxRetries)
	}
	if cfg.RetryDelaySecs < 0 || cfg.RetryDelaySecs > MaxRetryDelay {
		add("retry_delay_secs", "must be between 0 and %d, got %d", MaxRetryDelay, cfg.RetryDelaySecs)
	}

	if len(cfg.Criteria) == 0 {
		add("criteria", "at least one criterion is required")
	}
	for i, c := range cfg.Criteria {
		if strings.TrimSpace(c.Name) == "" {
			add(fmt.Sprintf("criteria[%d].name", i), "missing")
		}
	}
	if len(cfg.JudgeModels) == 0 {
		add("judge_models", "at least one judge model is required")
	}
	for i, m := range cfg.JudgeModels {
		if strings.TrimSpace(m.Provider) == "" || strings.TrimSpace(m.Model) == "" {
			add(fmt.Sprintf("judge_models[%d]", i), "provider and model are required")
		}
	}

	if cfg.Pairwise.Enabled {
		if strings.TrimSpace(cfg.Pairwise.Instructions) == "" {
			add("pairwise.instructions", "required when pairwise evaluation is enabled")
		}
		if cfg.Pairwise.TopN != 0 && cfg.Pairwise.TopN < 2 {
			add("pairwise.top_n", "must be 0 (all) or >= 2, got %d", cfg.Pairwise.TopN)
		}
	}

	if cfg.Combine.Enabled {
		if !cfg.Pairwise.Enabled {
			add("combine.enabled", "requires pairwise evaluation to be enabled")
		}
		if len(cfg.Combine.Models) == 0 {
			add("combine.models", "at least one combine model is required")
		}
		for i, m := range cfg.Combine.Models {
			if strings.TrimSpace(m.Provider) == "" || strings.TrimSpace(m.Model) == "" {
				add(fmt.Sprintf("combine.models[%d]", i), "provider and model are required")
			}
		}
		if strings.TrimSpace(cfg.Combine.Instructions) == "" {
			add("combine.instructions", "required when combine is enabled")
		}
	}

	if cfg.PostCombine.Enabled {
		if !cfg.Pairwise.Enabled {
			add("post_combine.enabled", "requires pairwise evaluation to be enabled")
		}
		if !cfg.Combine.Enabled {
			add("post_combine.enabled", "requires combine to be enabled")
		}
		if cfg.PostCombine.TopN < 2 {
			add("post_combine.top_n", "must be >= 2, got %d", cfg.PostCombine.TopN)
		}
	}

	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{Violations: vs}
}
