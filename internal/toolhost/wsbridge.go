package toolhost

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/contextloom/loom/pkg/models"
	"github.com/gorilla/websocket"
)

// toolCallEvent is broadcast to every subscribed socket on CallTool,
// matching original_source/tool_websocket_client.py's
// {"event":"tool_call", tool, args, call_id} message.
type toolCallEvent struct {
	Event  string          `json:"event"`
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
	CallID string          `json:"call_id"`
}

// ToolResultEvent is what the bridge expects back:
// {"event":"tool_result", call_id, result}.
type ToolResultEvent struct {
	Event  string          `json:"event"`
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result"`
}

// WSBridgeProvider exposes tools registered dynamically by a
// browser-resident UI. CallTool suspends until a matching tool_result
// arrives over one of the subscribed sockets; there is no built-in
// timeout (spec §5) — callers that want one wrap ctx with a deadline.
type WSBridgeProvider struct {
	id string

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{}
	pending map[string]chan json.RawMessage
	tools   map[string]models.ToolSpec
	order   []string
}

// NewWSBridgeProvider creates a bridge with no sockets and no tools
// registered yet; tools and sockets arrive at runtime from the
// external UI.
func NewWSBridgeProvider(id string) *WSBridgeProvider {
	return &WSBridgeProvider{
		id:      id,
		sockets: map[*websocket.Conn]struct{}{},
		pending: map[string]chan json.RawMessage{},
		tools:   map[string]models.ToolSpec{},
	}
}

func (p *WSBridgeProvider) ID() string { return p.id }

func (p *WSBridgeProvider) Open(ctx context.Context) error { return nil }

// Close drops every subscribed socket. It does not close sockets
// itself — ownership of the connection's lifecycle belongs to
// whichever adapter accepted it; Close here only forgets them.
func (p *WSBridgeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sockets = map[*websocket.Conn]struct{}{}
	return nil
}

// RegisterTool adds a dynamically-announced tool. Re-registering an
// existing name is a silent no-op, matching the original's
// "already registered, skipping" behavior.
func (p *WSBridgeProvider) RegisterTool(name, description string, parameters json.RawMessage) error {
	if strings.TrimSpace(name) == "" {
		return coreerr.ErrEmptyName
	}
	if err := ValidateToolSchema(parameters); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.tools[name]; exists {
		return nil
	}
	p.tools[name] = models.ToolSpec{Name: name, Description: description, Parameters: parameters}
	p.order = append(p.order, name)
	return nil
}

// Subscribe adds a socket to the broadcast set.
func (p *WSBridgeProvider) Subscribe(conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sockets[conn] = struct{}{}
}

// Unsubscribe removes a socket, e.g. on disconnect.
func (p *WSBridgeProvider) Unsubscribe(conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sockets, conn)
}

// ReceiveResult resolves the pending call waiting on callID. Unknown
// call ids are ignored (the call may have already timed out).
func (p *WSBridgeProvider) ReceiveResult(callID string, result json.RawMessage) {
	p.mu.Lock()
	ch, ok := p.pending[callID]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}

func (p *WSBridgeProvider) ListTools(ctx context.Context) ([]models.ToolSpec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.ToolSpec, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.tools[name])
	}
	return out, nil
}

func (p *WSBridgeProvider) CallTool(ctx context.Context, callID, name string, args json.RawMessage) (string, error) {
	p.mu.Lock()
	if _, ok := p.tools[name]; !ok {
		p.mu.Unlock()
		return "", coreerr.ErrUnknownTool
	}
	ch := make(chan json.RawMessage, 1)
	p.pending[callID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, callID)
		p.mu.Unlock()
	}()

	p.broadcast(toolCallEvent{Event: "tool_call", Tool: name, Args: args, CallID: callID})

	select {
	case result := <-ch:
		return string(result), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// broadcast is best-effort: a socket whose write fails is pruned from
// the set immediately rather than retried.
func (p *WSBridgeProvider) broadcast(evt toolCallEvent) {
	p.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(p.sockets))
	for conn := range p.sockets {
		targets = append(targets, conn)
	}
	p.mu.Unlock()

	for _, conn := range targets {
		if err := conn.WriteJSON(evt); err != nil {
			p.Unsubscribe(conn)
		}
	}
}
