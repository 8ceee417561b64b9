package memlog

import (
	"errors"
	"testing"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/contextloom/loom/pkg/models"
)

// S1: simple turn. Observer fires once per mutation (3 appends).
func TestSimpleTurn(t *testing.T) {
	s := New()
	var fired int
	s.Observe(func(log []models.Message) { fired++ })

	s.SetSystemPrompt("You are helpful.")
	s.AddUserPrompt("Hello.")
	if _, err := s.AddAssistantReply(models.StringContent("Hi"), nil); err != nil {
		t.Fatalf("AddAssistantReply: %v", err)
	}

	if fired != 3 {
		t.Fatalf("observer fired %d times, want 3", fired)
	}

	log := s.Snapshot()
	if len(log) != 3 {
		t.Fatalf("log has %d messages, want 3", len(log))
	}
	wantRoles := []models.Role{models.RoleSystem, models.RoleUser, models.RoleAssistant}
	for i, role := range wantRoles {
		if log[i].Role != role {
			t.Errorf("log[%d].Role = %s, want %s", i, log[i].Role, role)
		}
	}
	if log[2].ContentOrEmpty() != "Hi" {
		t.Errorf("log[2].Content = %q, want Hi", log[2].ContentOrEmpty())
	}
}

// Property 7: snapshot is equal-but-not-identical; mutating it never
// touches store state.
func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New()
	s.AddUserPrompt("hello")

	snap := s.Snapshot()
	original := snap[0].ContentOrEmpty()
	*snap[0].Content = "tampered"
	snap[0].ToolCalls = append(snap[0].ToolCalls, models.ToolCall{ID: "x"})

	again := s.Snapshot()
	if again[0].ContentOrEmpty() != original {
		t.Fatalf("store content changed via snapshot mutation: got %q, want %q", again[0].ContentOrEmpty(), original)
	}
	if len(again[0].ToolCalls) != 0 {
		t.Fatalf("store tool_calls changed via snapshot mutation: %v", again[0].ToolCalls)
	}
}

// Property 9: an assistant reply with neither content nor tool calls
// fails with EmptyReply and leaves the log unchanged.
func TestAddAssistantReplyEmptyReply(t *testing.T) {
	s := New()
	s.AddUserPrompt("hi")
	before := len(s.Snapshot())

	_, err := s.AddAssistantReply(nil, nil)
	if !errors.Is(err, coreerr.ErrEmptyReply) {
		t.Fatalf("err = %v, want ErrEmptyReply", err)
	}
	if got := len(s.Snapshot()); got != before {
		t.Fatalf("log length changed: got %d, want %d", got, before)
	}

	empty := ""
	_, err = s.AddAssistantReply(&empty, nil)
	if !errors.Is(err, coreerr.ErrEmptyReply) {
		t.Fatalf("err = %v, want ErrEmptyReply for empty-string content", err)
	}
}

// S4: causal deletion. delete_user([U2]) removes U2 and the
// assistant/tool messages that follow it, up to U3.
func TestDeleteUserCausalGroup(t *testing.T) {
	s := New()
	s.SetSystemPrompt("sys")
	s.AddUserPrompt("u1")
	if _, err := s.AddAssistantReply(models.StringContent("a1"), nil); err != nil {
		t.Fatalf("a1: %v", err)
	}
	u2 := s.AddUserPrompt("u2")
	if _, err := s.AddAssistantReply(nil, []ToolCallResult{{
		Call:    models.ToolCall{ID: "c1", Type: "function", Function: models.FunctionCall{Name: "p__now"}},
		Content: "t2",
	}}); err != nil {
		t.Fatalf("a2/t2: %v", err)
	}
	s.AddUserPrompt("u3")

	count := s.DeleteUser([]string{u2})
	if count < 3 {
		t.Fatalf("DeleteUser count = %d, want >= 3", count)
	}

	log := s.Snapshot()
	wantRoles := []models.Role{models.RoleSystem, models.RoleUser, models.RoleAssistant, models.RoleUser}
	if len(log) != len(wantRoles) {
		t.Fatalf("log has %d messages, want %d: %+v", len(log), len(wantRoles), log)
	}
	for i, role := range wantRoles {
		if log[i].Role != role {
			t.Errorf("log[%d].Role = %s, want %s", i, log[i].Role, role)
		}
	}
	if log[1].ContentOrEmpty() != "u1" {
		t.Errorf("log[1].Content = %q, want u1", log[1].ContentOrEmpty())
	}
	if log[3].ContentOrEmpty() != "u3" {
		t.Errorf("log[3].Content = %q, want u3", log[3].ContentOrEmpty())
	}
}

func TestSetSystemPromptReplacesPrior(t *testing.T) {
	s := New()
	s.SetSystemPrompt("first")
	s.AddUserPrompt("u")
	s.SetSystemPrompt("second")

	log := s.Snapshot()
	if log[0].Role != models.RoleSystem || log[0].ContentOrEmpty() != "second" {
		t.Fatalf("log[0] = %+v, want system/second", log[0])
	}
	count := 0
	for _, m := range log {
		if m.Role == models.RoleSystem {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("found %d system messages, want 1", count)
	}
}

func TestAddMessageRejectsDirectSystemInsert(t *testing.T) {
	s := New()
	_, err := s.AddMessage(models.Message{Role: models.RoleSystem, Content: models.StringContent("nope")})
	if !errors.Is(err, coreerr.ErrSystemInsert) {
		t.Fatalf("err = %v, want ErrSystemInsert", err)
	}
}

func TestDeleteProtectsSystemMessages(t *testing.T) {
	s := New()
	s.SetSystemPrompt("sys")
	u := s.AddUserPrompt("u")

	sysID := s.Snapshot()[0].Meta.ID
	count := s.Delete([]string{sysID, u})
	if count != 1 {
		t.Fatalf("Delete count = %d, want 1 (system protected)", count)
	}
	log := s.Snapshot()
	if len(log) != 1 || log[0].Role != models.RoleSystem {
		t.Fatalf("log = %+v, want system message only", log)
	}
}

func TestDeleteToolRemovesPair(t *testing.T) {
	s := New()
	s.AddUserPrompt("u")
	assistantID, err := s.AddAssistantReply(nil, []ToolCallResult{{
		Call:    models.ToolCall{ID: "c1", Type: "function", Function: models.FunctionCall{Name: "p__now"}},
		Content: "result",
	}})
	if err != nil {
		t.Fatalf("AddAssistantReply: %v", err)
	}

	count := s.DeleteTool("c1")
	if count != 2 {
		t.Fatalf("DeleteTool count = %d, want 2", count)
	}
	if _, err := s.GetMessage(assistantID); !errors.Is(err, coreerr.ErrMessageNotFound) {
		t.Fatalf("assistant message still present: %v", err)
	}
}

func TestClearKeepsSystem(t *testing.T) {
	s := New()
	s.SetSystemPrompt("sys")
	s.AddUserPrompt("u")
	s.Clear(true)

	log := s.Snapshot()
	if len(log) != 1 || log[0].Role != models.RoleSystem {
		t.Fatalf("log = %+v, want system message only", log)
	}

	s.Clear(false)
	if got := len(s.Snapshot()); got != 0 {
		t.Fatalf("log length after full clear = %d, want 0", got)
	}
}

func TestCreatedAtNonDecreasing(t *testing.T) {
	s := New()
	s.AddUserPrompt("a")
	s.AddUserPrompt("b")
	s.AddUserPrompt("c")

	log := s.Snapshot()
	for i := 1; i < len(log); i++ {
		if log[i].Meta.CreatedAt < log[i-1].Meta.CreatedAt {
			t.Fatalf("created_at decreased at index %d: %d < %d", i, log[i].Meta.CreatedAt, log[i-1].Meta.CreatedAt)
		}
	}
}
