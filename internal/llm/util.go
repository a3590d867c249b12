package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Text concatenates the text blocks of a response, skipping any other
// block types.
func Text(resp *Response) string {
	if resp == nil || len(resp.Content) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		sb.WriteString(block.Text)
	}
	return sb.String()
}

// ParseJSON decodes the first JSON object found in a model's raw output
// into out. Judges routinely wrap the object in a markdown fence or
// surrounding prose; both are stripped before decoding.
func ParseJSON(raw string, out any) error {
	s := stripFence(strings.TrimSpace(raw))
	if s == "" {
		return fmt.Errorf("llm: empty output")
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("llm: no JSON object in output")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), out); err != nil {
		return fmt.Errorf("llm: decode output: %w", err)
	}
	return nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "```"))
	s = strings.TrimSpace(strings.TrimPrefix(s, "json"))
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
