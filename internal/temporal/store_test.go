package temporal

import "testing"

// Property 8: a marker's key resolves via recall to the original text.
func TestRecallResolvesStoredText(t *testing.T) {
	s := New()
	s.Put("k1", "the full original text")

	got := s.Recall([]string{"k1", "missing"})
	if got["k1"] != "the full original text" {
		t.Fatalf("Recall[k1] = %q, want original text", got["k1"])
	}
	if got["missing"] != "" {
		t.Fatalf("Recall[missing] = %q, want empty string", got["missing"])
	}
}

func TestPutIsIdempotentOverwrite(t *testing.T) {
	s := New()
	s.Put("k1", "v1")
	s.Put("k1", "v2")

	got := s.Get([]string{"k1"})
	if got["k1"] == nil || *got["k1"] != "v2" {
		t.Fatalf("Get[k1] = %v, want v2", got["k1"])
	}
}

func TestGetUnknownKeyIsNil(t *testing.T) {
	s := New()
	got := s.Get([]string{"nope"})
	if got["nope"] != nil {
		t.Fatalf("Get[nope] = %v, want nil", *got["nope"])
	}
}

func TestForgetClearsAll(t *testing.T) {
	s := New()
	s.Put("k1", "v1")
	s.Forget()

	got := s.Get([]string{"k1"})
	if got["k1"] != nil {
		t.Fatalf("Get[k1] after Forget = %v, want nil", *got["k1"])
	}
}

func TestStatusTruncatesLongContent(t *testing.T) {
	s := New()
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	s.Put("k1", string(long))

	status := s.Status()
	entry, ok := status["k1"]
	if !ok {
		t.Fatalf("status missing k1: %+v", status)
	}
	if entry.Length != 500 {
		t.Fatalf("entry.Length = %d, want 500", entry.Length)
	}
	if len(entry.Preview) != summaryLength+3 {
		t.Fatalf("preview length = %d, want %d", len(entry.Preview), summaryLength+3)
	}
}
