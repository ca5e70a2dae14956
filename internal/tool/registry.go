// Package tool stores the declarations offered to models. The catalog of
// actual tool implementations lives with the caller; the dispatcher only
// needs names, descriptions and parameter schemas.
package tool

import (
	"sort"
	"sync"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// Registry holds tool declarations, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	decls map[string]types.Declaration
}

// NewRegistry creates an empty declaration registry.
func NewRegistry() *Registry {
	return &Registry{decls: make(map[string]types.Declaration)}
}

// Register adds or replaces a declaration.
func (r *Registry) Register(d types.Declaration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decls[d.Name] = d
}

// All returns every declaration, sorted by name for stable request bodies.
func (r *Registry) All() []types.Declaration {
	return r.By(func(types.Declaration) bool { return true })
}

// By returns the declarations matching the predicate, sorted by name.
func (r *Registry) By(pred func(types.Declaration) bool) []types.Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Declaration, 0, len(r.decls))
	for _, d := range r.decls {
		if pred(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeclarationsFor implements the dispatcher's ToolSource: declarations
// filtered to those available on the channel.
func (r *Registry) DeclarationsFor(channelID string) []types.Declaration {
	return r.By(func(d types.Declaration) bool { return d.AvailableOn(channelID) })
}
