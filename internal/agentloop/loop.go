package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/contextloom/loom/internal/memlog"
	"github.com/contextloom/loom/internal/refine"
	"github.com/contextloom/loom/internal/toolhost"
	"github.com/contextloom/loom/pkg/models"
)

// maxToolLoop is the spec's MAX_TOOL_LOOP default (typical: 10).
const maxToolLoop = 10

// Config tunes a Loop. MaxToolLoop defaults to maxToolLoop when zero.
type Config struct {
	MaxToolLoop int
	MaxTokens   int
	System      string
}

func (c Config) sanitized() Config {
	if c.MaxToolLoop <= 0 {
		c.MaxToolLoop = maxToolLoop
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// EventSink receives StatusEvents at the points spec §4.6
// ("Observability") defines. Implementations must not block the loop
// for long; this is a simple callback, not a queue.
type EventSink func(models.StatusEvent)

// Loop wires a Store, Refiner, Router, and LLMProvider together into
// the state machine of spec §4.6. A Loop is scoped to a single
// session's conversation; concurrent turns on the same Loop are the
// Session Gate's responsibility (internal/sessiongate), not this
// package's.
type Loop struct {
	store    *memlog.Store
	refiner  *refine.Refiner
	router   *toolhost.Router
	provider LLMProvider
	cfg      Config
	sink     EventSink

	mu        sync.Mutex
	startedAt time.Time
	tokens    int
}

// New builds a Loop. sink may be nil, in which case events are
// dropped.
func New(store *memlog.Store, refiner *refine.Refiner, router *toolhost.Router, provider LLMProvider, cfg Config, sink EventSink) *Loop {
	if sink == nil {
		sink = func(models.StatusEvent) {}
	}
	return &Loop{
		store:    store,
		refiner:  refiner,
		router:   router,
		provider: provider,
		cfg:      cfg.sanitized(),
		sink:     sink,
	}
}

// Ask appends prompt as a user message and runs the chain-of-thought
// loop to completion (or to LoopExhausted/cancellation), returning the
// final assistant text. stream selects whether the underlying provider
// is asked to stream incrementally; either way Ask only returns once
// the turn is settled — callers that want incremental text should
// supply an EventSink and read PhasePartialAssistant events instead of
// waiting on Ask's return value.
func (l *Loop) Ask(ctx context.Context, prompt string, stream bool) (string, error) {
	l.store.AddUserPrompt(prompt)

	l.mu.Lock()
	l.startedAt = time.Now()
	l.tokens = 0
	l.mu.Unlock()

	l.emit(models.EventStateGenerating, models.PhaseStart, "")

	for iter := 0; iter < l.cfg.MaxToolLoop; iter++ {
		if err := ctx.Err(); err != nil {
			l.emit(models.EventStateStopped, models.PhaseIdle, "")
			return "", coreerr.ErrCancelled
		}

		view := l.refiner.Refine(l.store.Snapshot())
		tools, err := l.router.ListTools(ctx)
		if err != nil {
			l.emit(models.EventStateError, models.PhaseIdle, "")
			return "", err
		}

		req := &CompletionRequest{
			System:    l.cfg.System,
			Messages:  view,
			Tools:     tools,
			MaxTokens: l.cfg.MaxTokens,
		}

		text, calls, finish, err := l.runTurn(ctx, req, stream)
		if err != nil {
			if errors.Is(err, coreerr.ErrCancelled) {
				l.emit(models.EventStateStopped, models.PhaseIdle, "")
			} else {
				l.emit(models.EventStateError, models.PhaseIdle, "")
			}
			return "", err
		}

		if len(calls) == 0 {
			if text != "" {
				if _, err := l.store.AddAssistantReply(models.StringContent(text), nil); err != nil {
					l.emit(models.EventStateError, models.PhaseIdle, "")
					return "", err
				}
			}
			l.emit(models.EventStateDone, models.PhaseCompleted, text)
			return text, nil
		}

		results := l.dispatch(ctx, calls)

		var content *string
		if text != "" {
			content = models.StringContent(text)
		}
		if _, err := l.store.AddAssistantReply(content, results); err != nil {
			l.emit(models.EventStateError, models.PhaseIdle, "")
			return "", err
		}

		_ = finish
	}

	return "", coreerr.ErrLoopExhausted
}

// runTurn drives a single LLM response (streamed or not) to
// completion, reassembling tool_calls via the slot table and returning
// the settled text, the ready tool calls, and the terminal
// finish_reason.
func (l *Loop) runTurn(ctx context.Context, req *CompletionRequest, stream bool) (string, []models.ToolCall, string, error) {
	chunks, err := l.provider.Complete(ctx, req, stream)
	if err != nil {
		return "", nil, "", err
	}

	var text strings.Builder
	slots := newSlotTable()
	finish := ""

	for {
		select {
		case <-ctx.Done():
			return "", nil, "", coreerr.ErrCancelled
		case chunk, ok := <-chunks:
			if !ok {
				calls, discarded := slots.ready()
				l.warnDiscardedSlots(discarded)
				return text.String(), calls, finish, nil
			}
			if chunk.Error != nil {
				return "", nil, "", chunk.Error
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				l.bumpTokens(1)
				l.emit(models.EventStateGenerating, models.PhasePartialAssistant, text.String())
			}
			if chunk.ToolCallDelta != nil {
				slots.apply(*chunk.ToolCallDelta)
			}
			if chunk.FinishReason != "" {
				finish = chunk.FinishReason
			}
			if chunk.Done {
				calls, discarded := slots.ready()
				l.warnDiscardedSlots(discarded)
				return text.String(), calls, finish, nil
			}
		}
	}
}

// dispatch routes every ready call through the Router in emission
// order, pairing call N's result with call N by call_id as spec §4.6
// ("Ordering") requires. Calls are dispatched serially; the spec
// permits parallel dispatch but only requires 1:1 pairing and atomic
// append, both preserved here.
func (l *Loop) dispatch(ctx context.Context, calls []models.ToolCall) []memlog.ToolCallResult {
	results := make([]memlog.ToolCallResult, len(calls))
	for i, c := range calls {
		args := []byte(c.Function.Arguments)
		if !json.Valid(args) {
			args = []byte("{}")
			l.emit(models.EventStateGenerating, models.PhaseToolError, "")
		}
		out, err := l.router.CallTool(ctx, c.ID, c.Function.Name, args)
		if err != nil {
			payload, _ := json.Marshal(toolFailurePayload(c.Function.Name, err))
			results[i] = memlog.ToolCallResult{Call: c, Content: string(payload)}
			l.emitToolEvent(models.PhaseToolError, c.ID, "", err.Error())
			continue
		}
		results[i] = memlog.ToolCallResult{Call: c, Content: out}
		l.emitToolEvent(models.PhaseToolResult, c.ID, out, "")
	}
	return results
}

func toolFailurePayload(toolName string, err error) map[string]string {
	var tf *coreerr.ToolFailure
	if errors.As(err, &tf) {
		return tf.AsJSON()
	}
	return coreerr.NewToolExecutionFailed(toolName, err).AsJSON()
}

func (l *Loop) bumpTokens(n int) {
	l.mu.Lock()
	l.tokens += n
	l.mu.Unlock()
}

func (l *Loop) tokensPerSecond() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	elapsed := time.Since(l.startedAt).Seconds()
	if elapsed < 0.001 {
		elapsed = 0.001
	}
	return float64(l.tokens) / elapsed
}

func (l *Loop) emit(state models.EventState, phase models.EventPhase, content string) {
	l.sink(models.StatusEvent{
		State:           state,
		Phase:           phase,
		Time:            time.Now(),
		Content:         content,
		TokensPerSecond: l.tokensPerSecond(),
	})
}

// warnDiscardedSlots surfaces every incomplete tool-call slot ready()
// dropped as a PhaseToolDiscarded event, per spec §4.6's requirement
// that unfinished slots be discarded with a warning rather than
// silently.
func (l *Loop) warnDiscardedSlots(discarded []discardedSlot) {
	for _, d := range discarded {
		l.sink(models.StatusEvent{
			State:           models.EventStateTool,
			Phase:           models.PhaseToolDiscarded,
			Time:            time.Now(),
			CallID:          d.id,
			Err:             fmt.Sprintf("tool call slot %d (%s): %s", d.index, d.name, d.reason),
			TokensPerSecond: l.tokensPerSecond(),
		})
	}
}

func (l *Loop) emitToolEvent(phase models.EventPhase, callID, result, errMsg string) {
	l.sink(models.StatusEvent{
		State:           models.EventStateTool,
		Phase:           phase,
		Time:            time.Now(),
		CallID:          callID,
		Result:          result,
		Err:             errMsg,
		TokensPerSecond: l.tokensPerSecond(),
	})
}
