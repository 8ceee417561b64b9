package agentloop

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/contextloom/loom/pkg/models"
)

// slot accumulates one tool call's fragments across a stream, keyed by
// the delta index the LLM assigns it — grounded in the teacher's
// providers/openai.go toolCalls map[int]*models.ToolCall accumulator,
// generalized to track id/type/name independently of the arguments
// builder so readiness can be judged precisely.
type slot struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// slotTable reassembles streamed tool-call deltas into complete calls.
type slotTable struct {
	byIndex map[int]*slot
	order   []int
}

func newSlotTable() *slotTable {
	return &slotTable{byIndex: map[int]*slot{}}
}

// apply merges one delta into its slot, creating the slot on first
// sight of its index.
func (t *slotTable) apply(d ToolCallDelta) {
	s, ok := t.byIndex[d.Index]
	if !ok {
		s = &slot{}
		t.byIndex[d.Index] = s
		t.order = append(t.order, d.Index)
	}
	if d.ID != "" {
		s.id = d.ID
	}
	if d.Type != "" {
		s.typ = d.Type
	}
	if d.Name != "" {
		s.name = d.Name
	}
	if d.ArgumentsDelta != "" {
		s.args.WriteString(d.ArgumentsDelta)
	}
}

// discardedSlot describes an incomplete tool-call slot ready() dropped,
// for the caller to surface as a warning per spec §4.6 ("Unfinished
// slots at finish_reason are discarded with a warning").
type discardedSlot struct {
	index  int
	id     string
	name   string
	reason string
}

// ready returns the calls, in index order, whose slots are complete:
// id, type, and name set, and arguments a well-formed JSON object
// (spec §4.6, "Tool-call reassembly"), plus a description of every
// slot dropped for being incomplete.
func (t *slotTable) ready() ([]models.ToolCall, []discardedSlot) {
	sort.Ints(t.order)
	var out []models.ToolCall
	var discarded []discardedSlot
	for _, idx := range t.order {
		s := t.byIndex[idx]
		if s.id == "" || s.typ == "" || s.name == "" {
			discarded = append(discarded, discardedSlot{index: idx, id: s.id, name: s.name, reason: "missing id/type/name"})
			continue
		}
		args := strings.TrimSpace(s.args.String())
		if !isJSONObject(args) {
			discarded = append(discarded, discardedSlot{index: idx, id: s.id, name: s.name, reason: "arguments not a well-formed JSON object"})
			continue
		}
		out = append(out, models.ToolCall{
			ID:   s.id,
			Type: s.typ,
			Function: models.FunctionCall{
				Name:      s.name,
				Arguments: args,
			},
		})
	}
	return out, discarded
}

// isJSONObject checks the "starts with {, ends with }, parses" gate
// spec §4.6 defines, without pulling in encoding/json's fuller
// validation here (CallTool validates again downstream via the tool's
// schema).
func isJSONObject(s string) bool {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return false
	}
	return json.Valid([]byte(s))
}
