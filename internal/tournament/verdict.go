package tournament

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

// ErrInconclusive marks a comparison whose judge did not pick a side.
// Inconclusive comparisons are discarded, never counted.
var ErrInconclusive = errors.New("tournament: inconclusive comparison")

const verdictPromptTemplate = `You are an expert evaluator. Compare two documents head-to-head and pick the better one.

## Comparison Instructions
{{.Instructions}}

## Criteria
{{range .Criteria}}- {{.Name}}{{if .Description}}: {{.Description}}{{end}}
{{end}}
## Document A
{{.ContentA}}

## Document B
{{.ContentB}}

## Instructions
You must pick exactly one winner. Ties are not allowed.

Output ONLY valid JSON in this exact format:
{"winner": "A" or "B", "reasoning": "<brief explanation>"}`

var verdictPromptTmpl = template.Must(template.New("verdict").Parse(verdictPromptTemplate))

type verdictPromptData struct {
	Instructions string
	Criteria     []run.Criterion
	ContentA     string
	ContentB     string
}

type verdictOutput struct {
	Winner    string `json:"winner"`
	Reasoning string `json:"reasoning"`
}

// Verdict asks one judge model to pick a winner between two documents.
// Returns "A" or "B" plus the rationale; any other verdict is
// ErrInconclusive.
func Verdict(ctx context.Context, p llm.Provider, model string, instructions string, criteria []run.Criterion, contentA, contentB string) (string, string, error) {
	if p == nil {
		return "", "", errors.New("tournament: nil provider")
	}

	var promptBuf bytes.Buffer
	if err := verdictPromptTmpl.Execute(&promptBuf, verdictPromptData{
		Instructions: strings.TrimSpace(instructions),
		Criteria:     criteria,
		ContentA:     contentA,
		ContentB:     contentB,
	}); err != nil {
		return "", "", fmt.Errorf("tournament: render prompt: %w", err)
	}

	resp, err := p.Complete(ctx, &llm.Request{
		Messages:  []llm.Message{{Role: "user", Content: promptBuf.String()}},
		Model:     model,
		MaxTokens: 512,
	})
	if err != nil {
		return "", "", fmt.Errorf("tournament: judge %q: %w", model, err)
	}
	if resp == nil {
		return "", "", errors.New("tournament: nil judge response")
	}

	raw := strings.TrimSpace(llm.Text(resp))
	var out verdictOutput
	if err := llm.ParseJSON(raw, &out); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInconclusive, err)
	}

	winner := strings.ToUpper(strings.TrimSpace(out.Winner))
	if winner != "A" && winner != "B" {
		return "", "", fmt.Errorf("%w: verdict %q", ErrInconclusive, out.Winner)
	}

	reasoning := strings.TrimSpace(out.Reasoning)
	if reasoning == "" {
		reasoning = "no reasoning provided"
	}
	return winner, reasoning, nil
}
