// Package models provides the wire-neutral data types shared by the
// message store, refiner, tool providers, and agent loop.
package models

import "encoding/json"

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FunctionCall is the function-calling payload of a ToolCall.
type FunctionCall struct {
	Name string `json:"name"`
	// Arguments is JSON text, exactly as emitted (or reassembled) from
	// the LLM; it is parsed lazily by whoever dispatches the call.
	Arguments string `json:"arguments"`
}

// ToolCall is one entry of an assistant message's tool_calls list.
// ID is the call id the paired role=tool message will reference via
// ToolCallID.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// MessageMeta carries identity and ordering information that is
// independent of conversational content.
type MessageMeta struct {
	ID string `json:"id"`

	// CreatedAt is monotonic, non-decreasing milliseconds since the
	// Unix epoch, assigned at append time.
	CreatedAt int64 `json:"created_at"`

	// ParentID links a tool response to the assistant message whose
	// tool_calls produced it. Empty when not applicable.
	ParentID string `json:"parent_id,omitempty"`

	// Cycle is an age counter incremented by Store.Cycle. Not consumed
	// by the refiner shipped here (see DESIGN.md); exposed for callers
	// that want age-based policies.
	Cycle int `json:"cycle,omitempty"`
}

// Message is a single entry of the conversation log.
//
// Content is a pointer so that "absent" (role=assistant carrying only
// tool_calls) is distinguishable from "empty string"; a nil Content
// counts as zero characters for budget purposes.
type Message struct {
	Role Role `json:"role"`

	Content *string `json:"content"`

	// ToolCalls is populated only when Role == RoleAssistant and the
	// model requested one or more tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is populated only when Role == RoleTool; it is the id
	// of the assistant tool-call this message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	Meta MessageMeta `json:"meta"`
}

// ContentLen returns the character length used by the refiner's token
// proxy. A nil Content counts as zero.
func (m Message) ContentLen() int {
	if m.Content == nil {
		return 0
	}
	return len(*m.Content)
}

// ContentOrEmpty returns the message content, or "" if absent.
func (m Message) ContentOrEmpty() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// StringContent is a convenience constructor for a non-nil Content
// pointer.
func StringContent(s string) *string { return &s }

// ToolSpec is a tool's advertised definition, in OpenAI function-calling
// shape: {type:"function", function:{name, description, parameters}}.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// MarshalOpenAI renders the spec in the {type,function:{...}} envelope
// tool definitions are advertised in over the LLM interface.
func (t ToolSpec) MarshalOpenAI() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  json.RawMessage(t.Parameters),
		},
	}
}
