package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/contextloom/loom/pkg/models"
)

// providerSeparator is the namespace delimiter spec §4.5 defines:
// "<provider_id>__<tool_name>".
const providerSeparator = "__"

// Router unifies N providers under one namespace, forwarding each call
// by splitting its name at the first "__". It is a near-literal port
// of original_source/tool_router.py's ToolRouter, with the Python
// AsyncExitStack's scoped enter/exit replaced by an explicit
// Open(ctx)/Close() pair.
type Router struct {
	mu        sync.RWMutex
	providers map[string]ScopedProvider
	order     []string
	opened    []string
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{providers: map[string]ScopedProvider{}}
}

// Register adds a provider. Ids must be unique across the router's
// lifetime; re-registering an id is an error.
func (r *Router) Register(p ScopedProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("toolhost: provider id %q already registered", id)
	}
	r.providers[id] = p
	r.order = append(r.order, id)
	return nil
}

// Open opens every registered provider in registration order. If any
// provider fails to open, every provider opened so far is closed
// before Open returns the failure.
func (r *Router) Open(ctx context.Context) error {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	providers := make(map[string]ScopedProvider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.RUnlock()

	var opened []string
	for _, id := range order {
		if err := providers[id].Open(ctx); err != nil {
			for i := len(opened) - 1; i >= 0; i-- {
				providers[opened[i]].Close()
			}
			return fmt.Errorf("toolhost: open provider %q: %w", id, err)
		}
		opened = append(opened, id)
	}
	r.mu.Lock()
	r.opened = opened
	r.mu.Unlock()
	return nil
}

// Close closes every opened provider in reverse order, collecting (but
// not stopping on) individual failures.
func (r *Router) Close() error {
	r.mu.Lock()
	opened := r.opened
	r.opened = nil
	providers := make(map[string]ScopedProvider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.Unlock()

	var errs []string
	for i := len(opened) - 1; i >= 0; i-- {
		if err := providers[opened[i]].Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", opened[i], err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("toolhost: close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ListTools concatenates every provider's tools, rewriting each name
// to "<provider_id>__<tool_name>".
func (r *Router) ListTools(ctx context.Context) ([]models.ToolSpec, error) {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	providers := make(map[string]ScopedProvider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.RUnlock()

	var out []models.ToolSpec
	for _, id := range order {
		tools, err := providers[id].ListTools(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			out = append(out, models.ToolSpec{
				Name:        id + providerSeparator + t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
	}
	return out, nil
}

// CallTool splits name at the first "__" and forwards to the matching
// provider with the unprefixed tool name.
func (r *Router) CallTool(ctx context.Context, callID, name string, args json.RawMessage) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", coreerr.ErrEmptyName
	}
	prefix, rawName, ok := strings.Cut(name, providerSeparator)
	if !ok {
		return "", coreerr.ErrUnknownTool
	}

	r.mu.RLock()
	p, exists := r.providers[prefix]
	r.mu.RUnlock()
	if !exists {
		return "", coreerr.ErrUnknownTool
	}
	return p.CallTool(ctx, callID, rawName, args)
}
