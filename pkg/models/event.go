package models

import "time"

// EventState is the coarse state carried by a status event.
type EventState string

const (
	EventStateGenerating EventState = "generating"
	EventStateTool       EventState = "tool"
	EventStateDone       EventState = "done"
	EventStateError      EventState = "error"
	EventStateStopped    EventState = "stopped"
)

// EventPhase is the fine-grained phase within a state.
type EventPhase string

const (
	PhaseStart            EventPhase = "start"
	PhasePartialAssistant EventPhase = "partial_assistant"
	PhaseToolResult       EventPhase = "tool_result"
	PhaseToolError        EventPhase = "tool_error"
	PhaseToolDiscarded    EventPhase = "tool_discarded"
	PhaseCompleted        EventPhase = "completed"
	PhaseIdle             EventPhase = "idle"
)

// StatusEvent is the record the Agent Loop emits to its observability
// sink at each defined point (start, partial_assistant, tool_result,
// tool_error, done, error, stopped).
type StatusEvent struct {
	State EventState `json:"state"`
	Phase EventPhase `json:"phase"`
	Time  time.Time  `json:"time"`

	// Content carries partial assistant text for PhasePartialAssistant.
	Content string `json:"content,omitempty"`

	// CallID/Result/Err populate tool-related phases.
	CallID string `json:"call_id,omitempty"`
	Result string `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`

	// TokensPerSecond is the running estimate: token count / elapsed
	// wall time, floored to a small epsilon.
	TokensPerSecond float64 `json:"tps,omitempty"`
}

// RunStats aggregates a single Agent Loop run for observability,
// independent of any particular status event.
type RunStats struct {
	RunID      string        `json:"run_id,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	WallTime   time.Duration `json:"wall_time,omitempty"`

	Iterations   int           `json:"iterations,omitempty"`
	ToolCalls    int           `json:"tool_calls,omitempty"`
	ToolWallTime time.Duration `json:"tool_wall_time,omitempty"`
	ToolErrors   int           `json:"tool_errors,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	Cancelled bool `json:"cancelled,omitempty"`
	TimedOut  bool `json:"timed_out,omitempty"`
}
