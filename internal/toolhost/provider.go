// Package toolhost implements the Tool Provider capability set and the
// Tool Router that unifies them, per spec §4.4-4.5. Three provider
// variants share one interface: in-process callables, child-process
// JSON-RPC, and a WebSocket-bridge to browser-resident tools.
package toolhost

import (
	"context"
	"encoding/json"

	"github.com/contextloom/loom/pkg/models"
)

// Provider is the capability set every tool backend exposes.
type Provider interface {
	// ID is the provider's namespace, used as the Router's prefix.
	ID() string
	ListTools(ctx context.Context) ([]models.ToolSpec, error)
	CallTool(ctx context.Context, callID, name string, args json.RawMessage) (string, error)
}

// ScopedProvider adds the scoped acquisition/release lifecycle
// providers backed by a subprocess or socket set need: Open is called
// before first use, Close is guaranteed on every exit path.
type ScopedProvider interface {
	Provider
	Open(ctx context.Context) error
	Close() error
}
