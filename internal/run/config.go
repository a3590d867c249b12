package run

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceDoc is one input document of a run.
type SourceDoc struct {
	ID           string `yaml:"id" json:"id"`
	Title        string `yaml:"title,omitempty" json:"title,omitempty"`
	Content      string `yaml:"content" json:"content"`
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// Generator kinds.
const (
	GeneratorKindBase       = "base"
	GeneratorKindInstructed = "instructed"
)

// GeneratorSpec configures one generator of the run matrix.
type GeneratorSpec struct {
	Name         string     `yaml:"name" json:"name"`
	Kind         string     `yaml:"kind" json:"kind"`
	Instructions string     `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Models       []ModelRef `yaml:"models" json:"models"`
}

// Criterion is one evaluation dimension.
type Criterion struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// PairwiseConfig enables the head-to-head tournament.
type PairwiseConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	// TopN restricts the tournament to the top-N single-eval scorers.
	// Zero means all documents enter.
	TopN int `yaml:"top_n,omitempty" json:"top_n,omitempty"`
}

// CombineConfig enables merging the tournament winners.
type CombineConfig struct {
	Enabled      bool       `yaml:"enabled" json:"enabled"`
	Models       []ModelRef `yaml:"models,omitempty" json:"models,omitempty"`
	Instructions string     `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// PostCombineConfig enables the combined-vs-winner rematch.
type PostCombineConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	TopN    int  `yaml:"top_n,omitempty" json:"top_n,omitempty"`
}

// RunConfig is the immutable input to a run. Every field consumed
// downstream must be present and in range; Validate is the only place
// absence is handled, stages never substitute defaults.
type RunConfig struct {
	SourceDocs []SourceDoc     `yaml:"source_docs" json:"source_docs"`
	Generators []GeneratorSpec `yaml:"generators" json:"generators"`
	Iterations int             `yaml:"iterations" json:"iterations"`

	GenConcurrency  int `yaml:"gen_concurrency" json:"gen_concurrency"`
	EvalConcurrency int `yaml:"eval_concurrency" json:"eval_concurrency"`
	LaunchDelayMS   int `yaml:"launch_delay_ms,omitempty" json:"launch_delay_ms,omitempty"`

	RequestTimeoutSecs int `yaml:"request_timeout_secs" json:"request_timeout_secs"`
	EvalTimeoutSecs    int `yaml:"eval_timeout_secs" json:"eval_timeout_secs"`
	RunTimeoutSecs     int `yaml:"run_timeout_secs" json:"run_timeout_secs"`
	MaxRetries         int `yaml:"max_retries" json:"max_retries"`
	RetryDelaySecs     int `yaml:"retry_delay_secs" json:"retry_delay_secs"`

	Criteria    []Criterion `yaml:"criteria" json:"criteria"`
	JudgeModels []ModelRef  `yaml:"judge_models" json:"judge_models"`

	Pairwise    PairwiseConfig    `yaml:"pairwise" json:"pairwise"`
	Combine     CombineConfig     `yaml:"combine" json:"combine"`
	PostCombine PostCombineConfig `yaml:"post_combine" json:"post_combine"`
}

func (c *RunConfig) LaunchDelay() time.Duration {
	return time.Duration(c.LaunchDelayMS) * time.Millisecond
}

func (c *RunConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func (c *RunConfig) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutSecs) * time.Second
}

func (c *RunConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSecs) * time.Second
}

func (c *RunConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// TupleCount is the number of generation calls the run will dispatch.
func (c *RunConfig) TupleCount() int {
	perDoc := 0
	for _, g := range c.Generators {
		perDoc += len(g.Models) * c.Iterations
	}
	return perDoc * len(c.SourceDocs)
}

// LoadRunConfig reads a run configuration from a YAML file.
func LoadRunConfig(path string) (*RunConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("run: empty config path")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("run: read %q: %w", path, err)
	}

	var cfg RunConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("run: parse %q: %w", path, err)
	}
	return &cfg, nil
}
