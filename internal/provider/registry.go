package provider

import (
	"sync"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// Registry maps channel types to formatters. It is populated at startup and
// append-only afterwards: exactly one formatter is bound per channel type.
type Registry struct {
	mu         sync.RWMutex
	formatters map[types.ChannelType]Formatter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{formatters: make(map[types.ChannelType]Formatter)}
}

// DefaultRegistry returns a registry with all built-in formatters bound.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, f := range []Formatter{
		NewGeminiFormatter(),
		NewOpenAIFormatter(),
		NewOpenAIResponsesFormatter(),
		NewAnthropicFormatter(),
	} {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
	return r
}

// Register binds a formatter to its channel type. Rebinding a type is a
// programming error.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.formatters[f.Type()]; ok {
		return types.NewRequestError(types.ErrConfig, "formatter already registered for type %s", f.Type())
	}
	r.formatters[f.Type()] = f
	return nil
}

// Get returns the formatter for a channel type.
func (r *Registry) Get(t types.ChannelType) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[t]
	if !ok {
		return nil, types.NewRequestError(types.ErrConfig, "unsupported channel type %s", t)
	}
	return f, nil
}

// Types lists the registered channel types.
func (r *Registry) Types() []types.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ChannelType, 0, len(r.formatters))
	for t := range r.formatters {
		out = append(out, t)
	}
	return out
}
