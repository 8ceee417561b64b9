package agentloop

import "testing"

func TestSlotTableReassemblesFragmentedArguments(t *testing.T) {
	st := newSlotTable()
	st.apply(ToolCallDelta{Index: 0, ID: "c1", Type: "function", Name: "search"})
	st.apply(ToolCallDelta{Index: 0, ArgumentsDelta: `{"q":`})
	st.apply(ToolCallDelta{Index: 0, ArgumentsDelta: `"go"}`})

	ready, discarded := st.ready()
	if len(ready) != 1 {
		t.Fatalf("ready = %+v, want 1 call", ready)
	}
	if len(discarded) != 0 {
		t.Fatalf("discarded = %+v, want none", discarded)
	}
	if ready[0].Function.Arguments != `{"q":"go"}` {
		t.Fatalf("arguments = %q", ready[0].Function.Arguments)
	}
}

func TestSlotTableDropsIncompleteSlot(t *testing.T) {
	st := newSlotTable()
	st.apply(ToolCallDelta{Index: 0, ID: "c1", Type: "function"}) // name never set
	got, discarded := st.ready()
	if len(got) != 0 {
		t.Fatalf("ready = %+v, want none (missing name)", got)
	}
	if len(discarded) != 1 {
		t.Fatalf("discarded = %+v, want 1 entry", discarded)
	}
	if discarded[0].reason != "missing id/type/name" {
		t.Fatalf("reason = %q", discarded[0].reason)
	}
}

func TestSlotTableDropsUnparsableArguments(t *testing.T) {
	st := newSlotTable()
	st.apply(ToolCallDelta{Index: 0, ID: "c1", Type: "function", Name: "search"})
	st.apply(ToolCallDelta{Index: 0, ArgumentsDelta: `{"q": unterminated`})
	got, discarded := st.ready()
	if len(got) != 0 {
		t.Fatalf("ready = %+v, want none (malformed JSON)", got)
	}
	if len(discarded) != 1 || discarded[0].reason != "arguments not a well-formed JSON object" {
		t.Fatalf("discarded = %+v, want 1 malformed-arguments entry", discarded)
	}
}

func TestSlotTablePreservesIndexOrder(t *testing.T) {
	st := newSlotTable()
	st.apply(ToolCallDelta{Index: 1, ID: "c2", Type: "function", Name: "b", ArgumentsDelta: "{}"})
	st.apply(ToolCallDelta{Index: 0, ID: "c1", Type: "function", Name: "a", ArgumentsDelta: "{}"})

	ready, discarded := st.ready()
	if len(discarded) != 0 {
		t.Fatalf("discarded = %+v, want none", discarded)
	}
	if len(ready) != 2 || ready[0].ID != "c1" || ready[1].ID != "c2" {
		t.Fatalf("ready = %+v, want [c1, c2] in index order", ready)
	}
}

func TestIsJSONObjectRejectsNonObjectTop(t *testing.T) {
	if isJSONObject(`["a","b"]`) {
		t.Fatalf("array should not count as a JSON object")
	}
	if isJSONObject(`"just a string"`) {
		t.Fatalf("string should not count as a JSON object")
	}
	if !isJSONObject(`{}`) {
		t.Fatalf("empty object should be valid")
	}
}
