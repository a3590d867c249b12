package llm

import "strings"

// Per-million-token prices in cents. Approximate list prices; cost
// figures are for run accounting, not billing.
type pricing struct {
	prefix      string
	inputCents  float64
	outputCents float64
}

// Longer prefixes first so gpt-4o-mini matches before gpt-4o.
var modelPricing = []pricing{
	{"claude-opus", 1500, 7500},
	{"claude-sonnet", 300, 1500},
	{"claude-haiku", 80, 400},
	{"gpt-4o-mini", 15, 60},
	{"gpt-4o", 250, 1000},
	{"gpt-4.1", 200, 800},
	{"o3", 200, 800},
}

var defaultPricing = pricing{"", 300, 1500}

// CostCents estimates the cost of a call from token usage.
func CostCents(model string, inputTokens, outputTokens int) float64 {
	p := defaultPricing
	m := strings.ToLower(strings.TrimSpace(model))
	for _, price := range modelPricing {
		if strings.HasPrefix(m, price.prefix) {
			p = price
			break
		}
	}
	const million = 1_000_000
	return p.inputCents*float64(inputTokens)/million + p.outputCents*float64(outputTokens)/million
}
