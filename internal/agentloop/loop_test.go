package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/contextloom/loom/internal/memlog"
	"github.com/contextloom/loom/internal/refine"
	"github.com/contextloom/loom/internal/toolhost"
	"github.com/contextloom/loom/pkg/models"
)

// scriptedProvider replays one CompletionChunk slice per call to
// Complete, in order, letting a test drive multi-iteration scenarios
// deterministically.
type scriptedProvider struct {
	turns [][]CompletionChunk
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest, stream bool) (<-chan CompletionChunk, error) {
	if p.calls >= len(p.turns) {
		return nil, errors.New("scriptedProvider: no more turns scripted")
	}
	turn := p.turns[p.calls]
	p.calls++
	out := make(chan CompletionChunk, len(turn))
	for _, c := range turn {
		out <- c
	}
	close(out)
	return out, nil
}

func newTestRig(t *testing.T, provider LLMProvider) (*Loop, *memlog.Store) {
	t.Helper()
	store := memlog.New()
	store.SetSystemPrompt("you are a test assistant")

	refiner := refine.New(refine.Config{BudgetTokens: 100000}, nil)

	router := toolhost.NewRouter()
	echo := toolhost.NewInProcessProvider("echo")
	toolhost.RegisterAuto(echo, "say", "echoes back its input", func(ctx context.Context, args struct {
		Text string `json:"text"`
	}) (any, error) {
		return args.Text, nil
	})
	if err := router.Register(echo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := router.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { router.Close() })

	loop := New(store, refiner, router, provider, Config{}, nil)
	return loop, store
}

// S5-adjacent: a turn whose tool_calls arrive as fragmented deltas
// across four chunks reassembles into one ready call before dispatch.
func TestLoopReassemblesStreamedToolCall(t *testing.T) {
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		{
			{ToolCallDelta: &ToolCallDelta{Index: 0, ID: "call_1", Type: "function", Name: "echo__say"}},
			{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsDelta: `{"te`}},
			{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsDelta: `xt":"hi"}`}},
			{Done: true, FinishReason: "tool_calls"},
		},
		{
			{Text: "done"},
			{Done: true, FinishReason: "stop"},
		},
	}}

	loop, store := newTestRig(t, provider)
	reply, err := loop.Ask(context.Background(), "say hi", true)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "done" {
		t.Fatalf("reply = %q, want %q", reply, "done")
	}

	log := store.Snapshot()
	var sawTool bool
	for _, m := range log {
		if m.Role == models.RoleTool && m.ToolCallID == "call_1" {
			sawTool = true
			if m.ContentOrEmpty() != `"hi"` {
				t.Fatalf("tool result = %q, want %q", m.ContentOrEmpty(), `"hi"`)
			}
		}
	}
	if !sawTool {
		t.Fatalf("no tool response appended, log = %+v", log)
	}
}

// Property 12: the loop terminates within MaxToolLoop for a sequence
// of responses that never stop requesting tools.
func TestLoopExhaustionBound(t *testing.T) {
	var turns [][]CompletionChunk
	for i := 0; i < 20; i++ {
		turns = append(turns, []CompletionChunk{
			{ToolCallDelta: &ToolCallDelta{Index: 0, ID: "c", Type: "function", Name: "echo__say"}},
			{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsDelta: `{"text":"x"}`}},
			{Done: true, FinishReason: "tool_calls"},
		})
	}
	provider := &scriptedProvider{turns: turns}
	loop, _ := newTestRig(t, provider)
	loop.cfg.MaxToolLoop = 3

	_, err := loop.Ask(context.Background(), "loop forever", true)
	if !errors.Is(err, coreerr.ErrLoopExhausted) {
		t.Fatalf("err = %v, want LoopExhausted", err)
	}
	if provider.calls != 3 {
		t.Fatalf("provider.calls = %d, want 3 (bounded by MaxToolLoop)", provider.calls)
	}
}

// A slot missing its name never becomes ready and is silently dropped
// rather than dispatched with an empty tool name.
func TestLoopDropsUnreadySlotAtFinish(t *testing.T) {
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		{
			{Text: "partial thought"},
			{ToolCallDelta: &ToolCallDelta{Index: 0, ID: "call_1", Type: "function"}}, // name never arrives
			{Done: true, FinishReason: "tool_calls"},
		},
	}}
	loop, _ := newTestRig(t, provider)
	reply, err := loop.Ask(context.Background(), "hi", true)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "partial thought" {
		t.Fatalf("reply = %q, want the partial text since the unready call was dropped", reply)
	}
}

func TestLoopNonStreamingPath(t *testing.T) {
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		{{Text: "hello"}, {Done: true, FinishReason: "stop"}},
	}}
	loop, _ := newTestRig(t, provider)
	reply, err := loop.Ask(context.Background(), "hi", false)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "hello" {
		t.Fatalf("reply = %q, want hello", reply)
	}
}

func TestLoopEmptyYieldProducesNoAssistantMessage(t *testing.T) {
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		{{Done: true, FinishReason: "stop"}},
	}}
	loop, store := newTestRig(t, provider)
	reply, err := loop.Ask(context.Background(), "hi", false)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "" {
		t.Fatalf("reply = %q, want empty", reply)
	}
	for _, m := range store.Snapshot() {
		if m.Role == models.RoleAssistant {
			t.Fatalf("unexpected assistant message appended for an empty yield: %+v", m)
		}
	}
}

func TestLoopEventsFireAtDefinedPoints(t *testing.T) {
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		{{Text: "hi"}, {Done: true, FinishReason: "stop"}},
	}}
	store := memlog.New()
	store.SetSystemPrompt("sys")
	refiner := refine.New(refine.Config{BudgetTokens: 100000}, nil)
	router := toolhost.NewRouter()
	router.Open(context.Background())

	var states []models.EventState
	loop := New(store, refiner, router, provider, Config{}, func(e models.StatusEvent) {
		states = append(states, e.State)
	})

	if _, err := loop.Ask(context.Background(), "hi", false); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(states) < 2 || states[0] != models.EventStateGenerating || states[len(states)-1] != models.EventStateDone {
		t.Fatalf("states = %+v, want to start generating and end done", states)
	}
}

// A slot dropped at finish_reason fires a PhaseToolDiscarded warning
// event carrying the call's id and the reason it was dropped, per
// spec §4.6.
func TestLoopWarnsOnDiscardedSlot(t *testing.T) {
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		{
			{ToolCallDelta: &ToolCallDelta{Index: 0, ID: "call_1", Type: "function"}}, // name never arrives
			{Done: true, FinishReason: "tool_calls"},
		},
	}}
	store := memlog.New()
	store.SetSystemPrompt("sys")
	refiner := refine.New(refine.Config{BudgetTokens: 100000}, nil)
	router := toolhost.NewRouter()
	router.Open(context.Background())

	var events []models.StatusEvent
	loop := New(store, refiner, router, provider, Config{}, func(e models.StatusEvent) {
		events = append(events, e)
	})

	if _, err := loop.Ask(context.Background(), "hi", true); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	var found *models.StatusEvent
	for i := range events {
		if events[i].Phase == models.PhaseToolDiscarded {
			found = &events[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("no PhaseToolDiscarded event emitted, events = %+v", events)
	}
	if found.CallID != "call_1" {
		t.Fatalf("CallID = %q, want call_1", found.CallID)
	}
	if found.Err == "" {
		t.Fatalf("Err should describe why the slot was dropped")
	}
}

func TestLoopToolCallWithMalformedArgumentsTreatedAsEmpty(t *testing.T) {
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		{
			{ToolCallDelta: &ToolCallDelta{Index: 0, ID: "call_1", Type: "function", Name: "echo__say"}},
			{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsDelta: `{"text":"ok"}`}},
			{Done: true, FinishReason: "tool_calls"},
		},
		{{Text: "done"}, {Done: true, FinishReason: "stop"}},
	}}
	loop, _ := newTestRig(t, provider)
	// Not directly exercising malformed JSON here since the slot table
	// already filters it at the reassembly stage (see slots_test.go);
	// this confirms the happy path dispatches and the echo round-trips.
	reply, err := loop.Ask(context.Background(), "hi", true)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "done" {
		t.Fatalf("reply = %q, want done", reply)
	}
	_ = json.Valid
}
