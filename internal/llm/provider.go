package llm

import "context"

// Provider is a pluggable generation/evaluation capability. Generate
// produces document content for a prompt; Complete is the raw completion
// surface used by judge calls.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
	Complete(ctx context.Context, req *Request) (*Response, error)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages    []Message
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type ContentBlock struct {
	Type string `json:"type"` // "text"
	Text string `json:"text,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Response struct {
	Content    []ContentBlock
	Usage      Usage
	StopReason string
}

// GenerateRequest asks a provider for document content.
type GenerateRequest struct {
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// GenerateResult carries generated content plus cost accounting.
type GenerateResult struct {
	Content      string
	CostCents    float64
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
}
