package llm

import "strings"

// Registry maps provider names to Provider implementations. Lookups are
// case-insensitive.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a provider under its own name. Nil or unnamed providers
// are ignored.
func (r *Registry) Register(p Provider) {
	if r == nil || p == nil {
		return
	}
	key := registryKey(p.Name())
	if key == "" {
		return
	}
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[key] = p
}

func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	key := registryKey(name)
	if key == "" {
		return nil, false
	}
	p, ok := r.providers[key]
	return p, ok
}

// Names lists the registered provider names in map order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}
