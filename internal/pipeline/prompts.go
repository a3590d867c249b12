package pipeline

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/stellarlinkco/docarena/internal/run"
)

const defaultSystemPrompt = "You produce high-quality documents from source material. Output only the document itself, no preamble."

const generatePromptTemplate = `{{if .Instructions}}## Instructions
{{.Instructions}}

{{end}}## Source Material{{if .Title}}: {{.Title}}{{end}}
{{.Content}}

Produce the requested document based on the source material above.`

const combinePromptTemplate = `You are merging the strongest candidate documents into a single improved document.

{{if .SourceInstructions}}## Original Instructions
{{.SourceInstructions}}

{{end}}## Merge Instructions
{{.Instructions}}
{{range $i, $c := .Candidates}}
## Candidate {{inc $i}}
{{$c}}
{{end}}
Produce one merged document that keeps the best elements of every candidate. Output only the merged document.`

var (
	generatePromptTmpl = template.Must(template.New("generate").Parse(generatePromptTemplate))
	combinePromptTmpl  = template.Must(template.New("combine").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).Parse(combinePromptTemplate))
)

type generatePromptData struct {
	Instructions string
	Title        string
	Content      string
}

type combinePromptData struct {
	SourceInstructions string
	Instructions       string
	Candidates         []string
}

// buildGeneratePrompt renders the generation prompt and system prompt for
// one tuple. Instructed generators contribute their instructions as the
// system prompt; the source document's own instructions ride in the user
// prompt for both kinds.
func buildGeneratePrompt(doc run.SourceDoc, gen run.GeneratorSpec) (prompt, system string, err error) {
	var buf bytes.Buffer
	if err := generatePromptTmpl.Execute(&buf, generatePromptData{
		Instructions: strings.TrimSpace(doc.Instructions),
		Title:        strings.TrimSpace(doc.Title),
		Content:      doc.Content,
	}); err != nil {
		return "", "", fmt.Errorf("pipeline: render generate prompt: %w", err)
	}

	system = defaultSystemPrompt
	if gen.Kind == run.GeneratorKindInstructed {
		system = strings.TrimSpace(gen.Instructions)
	}
	return buf.String(), system, nil
}

func buildCombinePrompt(doc run.SourceDoc, instructions string, candidates []string) (string, error) {
	var buf bytes.Buffer
	if err := combinePromptTmpl.Execute(&buf, combinePromptData{
		SourceInstructions: strings.TrimSpace(doc.Instructions),
		Instructions:       strings.TrimSpace(instructions),
		Candidates:         candidates,
	}); err != nil {
		return "", fmt.Errorf("pipeline: render combine prompt: %w", err)
	}
	return buf.String(), nil
}
