package eval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/stellarlinkco/docarena/internal/llm"
	"github.com/stellarlinkco/docarena/internal/run"
)

// Scores use a fixed 1-5 scale.
const (
	MinScore = 1
	MaxScore = 5
)

const judgePromptTemplate = `You are an expert evaluator. Assess the document below against one criterion.

## Criterion
{{.Criterion}}{{if .Description}}: {{.Description}}{{end}}

{{if .SourceTitle}}## Source Document
{{.SourceTitle}}
{{end}}
## Document to Evaluate
{{.Content}}

## Instructions
Rate the document on a scale of {{.Min}}-{{.Max}}.
- {{.Min}}: Completely fails to meet the criterion
- {{.Max}}: Perfectly meets the criterion

Output ONLY valid JSON in this exact format:
{"score": <integer {{.Min}}-{{.Max}}>, "reasoning": "<brief explanation>"}`

var judgePromptTmpl = template.Must(template.New("judge").Parse(judgePromptTemplate))

type judgePromptData struct {
	Criterion   string
	Description string
	SourceTitle string
	Content     string
	Min         int
	Max         int
}

type judgeOutput struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// ErrInvalidVerdict marks judge output that could not be used.
var ErrInvalidVerdict = errors.New("eval: invalid judge output")

// Score asks one judge model to rate content against one criterion.
// Returns the integer score and the judge's rationale.
func Score(ctx context.Context, p llm.Provider, model string, content string, criterion run.Criterion, sourceTitle string) (int, string, error) {
	if p == nil {
		return 0, "", errors.New("eval: nil provider")
	}
	name := strings.TrimSpace(criterion.Name)
	if name == "" {
		return 0, "", errors.New("eval: missing criterion name")
	}

	var promptBuf bytes.Buffer
	if err := judgePromptTmpl.Execute(&promptBuf, judgePromptData{
		Criterion:   name,
		Description: strings.TrimSpace(criterion.Description),
		SourceTitle: strings.TrimSpace(sourceTitle),
		Content:     content,
		Min:         MinScore,
		Max:         MaxScore,
	}); err != nil {
		return 0, "", fmt.Errorf("eval: render prompt: %w", err)
	}

	resp, err := p.Complete(ctx, &llm.Request{
		Messages:  []llm.Message{{Role: "user", Content: promptBuf.String()}},
		Model:     model,
		MaxTokens: 512,
	})
	if err != nil {
		return 0, "", fmt.Errorf("eval: judge %q: %w", model, err)
	}
	if resp == nil {
		return 0, "", errors.New("eval: nil judge response")
	}

	raw := strings.TrimSpace(llm.Text(resp))
	var out judgeOutput
	if err := llm.ParseJSON(raw, &out); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	if out.Score < MinScore || out.Score > MaxScore {
		return 0, "", fmt.Errorf("%w: score %d out of range", ErrInvalidVerdict, out.Score)
	}

	reasoning := strings.TrimSpace(out.Reasoning)
	if reasoning == "" {
		reasoning = "no reasoning provided"
	}
	return out.Score, reasoning, nil
}
