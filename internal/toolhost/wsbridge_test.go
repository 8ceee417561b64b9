package toolhost

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestWSBridgeRegisterToolRejectsInvalidSchema(t *testing.T) {
	p := NewWSBridgeProvider("ui")
	err := p.RegisterTool("search", "search the web", json.RawMessage(`{"type":"string"}`))
	if err == nil {
		t.Fatalf("expected error for non-object schema")
	}
}

func TestWSBridgeRegisterToolIsIdempotent(t *testing.T) {
	p := NewWSBridgeProvider("ui")
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string","description":"query"}}}`)
	if err := p.RegisterTool("search", "first", schema); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}
	if err := p.RegisterTool("search", "second", schema); err != nil {
		t.Fatalf("RegisterTool (re-register): %v", err)
	}

	tools, _ := p.ListTools(context.Background())
	if len(tools) != 1 || tools[0].Description != "first" {
		t.Fatalf("tools = %+v, want single tool with original description", tools)
	}
}

// No subscribed sockets; CallTool should unblock once ReceiveResult
// delivers a matching call id (simulates a browser tab answering).
func TestWSBridgeCallToolResolvesOnReceiveResult(t *testing.T) {
	p := NewWSBridgeProvider("ui")
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string","description":"query"}}}`)
	if err := p.RegisterTool("search", "search the web", schema); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.ReceiveResult("call-1", json.RawMessage(`"found it"`))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := p.CallTool(ctx, "call-1", "search", json.RawMessage(`{"q":"go"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result != `"found it"` {
		t.Fatalf("result = %q, want %q", result, `"found it"`)
	}
}

func TestWSBridgeCallToolUnknownTool(t *testing.T) {
	p := NewWSBridgeProvider("ui")
	_, err := p.CallTool(context.Background(), "c1", "missing", nil)
	if err == nil {
		t.Fatalf("expected error for unregistered tool")
	}
}

func TestWSBridgeCallToolRespectsContextCancellation(t *testing.T) {
	p := NewWSBridgeProvider("ui")
	schema := json.RawMessage(`{"type":"object","properties":{}}`)
	p.RegisterTool("noop", "never answered", schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.CallTool(ctx, "c1", "noop", json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected context deadline error")
	}
}
