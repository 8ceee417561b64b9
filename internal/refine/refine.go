// Package refine implements the Refiner: the pure log→view transform
// described in spec §4.2. It is a near-literal port of
// original_source/chain_of_thought.py's refinement algorithm —
// incomplete-pair exclusion, newest-first greedy admission with atomic
// assistant+tool-group admission, a len(content)/4 token proxy, and a
// final ascending re-sort — plus the tool-response trimming overlay
// that hands oversized content to the Temporal Store.
package refine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/contextloom/loom/pkg/models"
)

// TemporalPutter is the write side of the Temporal Store the Refiner
// hands oversized tool-response content to. Satisfied by
// internal/temporal.Store.
type TemporalPutter interface {
	Put(key, text string)
}

// Config tunes budget and trimming behavior. Zero-value TrimCap
// disables the trimming overlay even when a TemporalPutter is wired.
type Config struct {
	// BudgetTokens is the refined view's approximate token ceiling,
	// checked against len(content)/4 as a proxy.
	BudgetTokens int

	// TrimCap is the per-tool-response character cap C; content past
	// this length is replaced by a preview plus a recall marker.
	TrimCap int
}

// Refiner turns a raw message log into the view sent to the LLM.
type Refiner struct {
	cfg      Config
	temporal TemporalPutter
}

// New builds a Refiner. temporal may be nil, which disables trimming
// regardless of cfg.TrimCap.
func New(cfg Config, temporal TemporalPutter) *Refiner {
	return &Refiner{cfg: cfg, temporal: temporal}
}

type indexed struct {
	msg models.Message
	idx int
}

// Refine returns the message list to send as LLM input for log's
// current state. The result independently satisfies invariants 1-3 of
// the data model: at most one system message (first if present), no
// orphan tool response, no dangling tool call.
func (r *Refiner) Refine(log []models.Message) []models.Message {
	var system *models.Message
	rest := make([]indexed, 0, len(log))
	for i, m := range log {
		if m.Role == models.RoleSystem && system == nil {
			sys := m
			system = &sys
			continue
		}
		rest = append(rest, indexed{msg: m, idx: i})
	}

	toolByCall := map[string]indexed{}
	assistantCalls := map[string][]models.ToolCall{}
	for _, im := range rest {
		switch im.msg.Role {
		case models.RoleAssistant:
			if len(im.msg.ToolCalls) > 0 {
				assistantCalls[im.msg.Meta.ID] = im.msg.ToolCalls
			}
		case models.RoleTool:
			toolByCall[im.msg.ToolCallID] = im
		}
	}

	// Step 3: mark incomplete pairs for exclusion — an assistant whose
	// tool_calls are not all answered, and any tool response without a
	// matching (surviving) assistant call, are dropped on both sides.
	brokenAssistant := map[string]bool{}
	answeredCall := map[string]bool{}
	for assistantID, calls := range assistantCalls {
		complete := true
		for _, c := range calls {
			if _, ok := toolByCall[c.ID]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			brokenAssistant[assistantID] = true
			continue
		}
		for _, c := range calls {
			answeredCall[c.ID] = true
		}
	}

	filtered := make([]indexed, 0, len(rest))
	for _, im := range rest {
		if im.msg.Role == models.RoleAssistant && len(im.msg.ToolCalls) > 0 && brokenAssistant[im.msg.Meta.ID] {
			continue
		}
		if im.msg.Role == models.RoleTool && !answeredCall[im.msg.ToolCallID] {
			continue
		}
		filtered = append(filtered, im)
	}

	// Step 4: walk newest to oldest; ties (equal created_at) resolve by
	// insertion order, so sort descending by (created_at, idx).
	sort.SliceStable(filtered, func(a, b int) bool {
		if filtered[a].msg.Meta.CreatedAt != filtered[b].msg.Meta.CreatedAt {
			return filtered[a].msg.Meta.CreatedAt > filtered[b].msg.Meta.CreatedAt
		}
		return filtered[a].idx > filtered[b].idx
	})

	toolEntryByCall := map[string]indexed{}
	for _, im := range filtered {
		if im.msg.Role == models.RoleTool {
			toolEntryByCall[im.msg.ToolCallID] = im
		}
	}

	budget := r.cfg.BudgetTokens
	admitted := make([]indexed, 0, len(filtered))

	for _, im := range filtered {
		if im.msg.Role == models.RoleTool {
			// Tool messages are admitted only as part of their
			// assistant's group, handled below.
			continue
		}

		if im.msg.Role == models.RoleAssistant && len(im.msg.ToolCalls) > 0 {
			group := make([]indexed, 0, len(im.msg.ToolCalls)+1)
			group = append(group, im)
			groupLen := im.msg.ContentLen()
			for _, c := range im.msg.ToolCalls {
				toolEntry := toolEntryByCall[c.ID]
				toolEntry.msg = r.maybeTrim(toolEntry.msg, isTemporalRecallCall(c))
				group = append(group, toolEntry)
				groupLen += toolEntry.msg.ContentLen()
			}
			tokens := groupLen / 4
			if tokens > budget {
				continue
			}
			budget -= tokens
			admitted = append(admitted, group...)
			continue
		}

		tokens := im.msg.ContentLen() / 4
		if tokens > budget {
			continue
		}
		budget -= tokens
		admitted = append(admitted, im)
	}

	// Step 5: re-sort admitted messages ascending by created_at, then
	// prepend the system message.
	sort.SliceStable(admitted, func(a, b int) bool {
		if admitted[a].msg.Meta.CreatedAt != admitted[b].msg.Meta.CreatedAt {
			return admitted[a].msg.Meta.CreatedAt < admitted[b].msg.Meta.CreatedAt
		}
		return admitted[a].idx < admitted[b].idx
	})

	out := make([]models.Message, 0, len(admitted)+1)
	if system != nil {
		out = append(out, *system)
	}
	for _, im := range admitted {
		out = append(out, im.msg)
	}
	return out
}

// maybeTrim replaces tool's content with a preview plus recall marker
// when it exceeds the configured cap, storing the full text in the
// Temporal Store under the tool message's own id. exempt tool
// responses (answers to the temporal-memory provider itself) are never
// trimmed, per the §4.2 exemption.
func (r *Refiner) maybeTrim(tool models.Message, exempt bool) models.Message {
	if exempt || r.temporal == nil || r.cfg.TrimCap <= 0 {
		return tool
	}
	content := tool.ContentOrEmpty()
	if len(content) <= r.cfg.TrimCap {
		return tool
	}
	key := tool.Meta.ID
	r.temporal.Put(key, content)
	preview := content[:r.cfg.TrimCap]
	trimmed := preview + marker(key)
	tool.Content = models.StringContent(trimmed)
	return tool
}

func marker(key string) string {
	return fmt.Sprintf("[temporal-memory_recall(%s)]", key)
}

func isTemporalRecallCall(c models.ToolCall) bool {
	return strings.HasPrefix(c.Function.Name, "temporal-memory__")
}
