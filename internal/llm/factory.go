package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stellarlinkco/docarena/internal/config"
)

func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("llm: nil config")
	}

	r := NewRegistry()
	for name, pcfg := range cfg.LLM.Providers {
		key := strings.ToLower(strings.TrimSpace(name))
		switch key {
		case "":
			continue
		case "claude", "anthropic":
			r.Register(NewClaudeProvider(pcfg.APIKey, pcfg.BaseURL, pcfg.Model))
		case "openai":
			r.Register(NewOpenAIProvider(pcfg.APIKey, pcfg.BaseURL, pcfg.Model))
		default:
			return nil, fmt.Errorf("llm: unknown provider %q", name)
		}
	}

	return r, nil
}

// providerAliases maps accepted provider spellings to the name the
// provider registers under. Config keys and ModelRef.Provider values both
// go through it.
var providerAliases = map[string]string{
	"anthropic": "claude",
}

// ProviderFor resolves a provider by name, following aliases, with an
// error listing what is configured when the lookup misses.
func (r *Registry) ProviderFor(name string) (Provider, error) {
	if r == nil {
		return nil, errors.New("llm: nil registry")
	}
	if p, ok := r.Get(name); ok {
		return p, nil
	}
	if alias, ok := providerAliases[registryKey(name)]; ok {
		if p, ok := r.Get(alias); ok {
			return p, nil
		}
	}

	available := r.Names()
	sort.Strings(available)
	return nil, fmt.Errorf("llm: provider %q not configured (available: %s)", name, strings.Join(available, ", "))
}
