// Package router resolves requested model names to upstream targets.
package router

import (
	"strings"
	"sync"

	"github.com/plexo-dev/plexo/internal/protocol"
	"github.com/plexo-dev/plexo/internal/reasoning"
)

// ToolDialect maps a tool's canonical client argument key to the key the
// upstream actually emits and expects. The rewrite is applied symmetrically:
// upstream key on the way out, client key on the way back.
type ToolDialect struct {
	UpstreamKey string
	ClientKey   string
}

// Route is one entry of the routing table. Pattern is an exact model name
// or a prefix glob ending in "*"; "*" alone is the catch-all.
type Route struct {
	Pattern           string
	TargetModel       string
	BaseURL           string
	APIKey            string
	ReasoningDefaults *reasoning.Config
	ToolDialects      map[string]ToolDialect
}

// Resolved is the outcome of a lookup.
type Resolved struct {
	TargetModel       string
	BaseURL           string
	APIKey            string
	ReasoningDefaults *reasoning.Config
	ToolDialects      map[string]ToolDialect
}

// Router is the concurrent-read routing table. Reload swaps the whole
// table; readers never observe a partial update.
type Router struct {
	mu     sync.RWMutex
	routes []Route
}

// New builds a router over the given routes.
func New(routes []Route) *Router {
	return &Router{routes: routes}
}

// Reload atomically replaces the routing table.
func (r *Router) Reload(routes []Route) {
	r.mu.Lock()
	r.routes = routes
	r.mu.Unlock()
}

// Resolve finds the route for a base model name. Exact matches win over
// globs; among globs the longest prefix wins; "*" matches last. No match
// yields not_found_error.
func (r *Router) Resolve(model string) (*Resolved, *protocol.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Route
	bestLen := -1
	for i := range r.routes {
		rt := &r.routes[i]
		if rt.Pattern == model {
			best = rt
			bestLen = len(rt.Pattern) + 1 // exact beats any glob
			continue
		}
		if strings.HasSuffix(rt.Pattern, "*") {
			prefix := strings.TrimSuffix(rt.Pattern, "*")
			if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
				best = rt
				bestLen = len(prefix)
			}
		}
	}
	if best == nil {
		return nil, protocol.NewError(protocol.ErrNotFound, "no route for model %q", model)
	}

	target := best.TargetModel
	if target == "" {
		target = model
	}
	return &Resolved{
		TargetModel:       target,
		BaseURL:           best.BaseURL,
		APIKey:            best.APIKey,
		ReasoningDefaults: best.ReasoningDefaults,
		ToolDialects:      best.ToolDialects,
	}, nil
}
