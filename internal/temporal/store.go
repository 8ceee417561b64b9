// Package temporal implements the Temporal Store: the side map the
// Refiner populates when it trims an oversized tool response, and that
// the model recovers from via the temporal-memory__recall tool. It is
// grounded in original_source/temporal_memory.py's TemporalMemory
// (memorize/recall/status), adapted from that file's "store the whole
// message dict" model down to the key→text shape the Refiner in this
// module actually trims (see DESIGN.md).
package temporal

import (
	"encoding/json"
	"sync"
)

// ProviderID is the tool-router prefix this store's tools are
// registered under: "temporal-memory__recall", "temporal-memory__status".
const ProviderID = "temporal-memory"

// summaryLength is the preview length Status truncates stored text to,
// matching temporal_memory.py's SUMMARY_LENGTH.
const summaryLength = 120

// Store is a key→text map keyed by the id of the message whose content
// was trimmed. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: map[string]string{}}
}

// Put is an idempotent overwrite of key's stored text.
func (s *Store) Put(key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string]string{}
	}
	s.data[key] = text
}

// Get resolves each key to its stored text, or nil if the store holds
// no entry for it.
func (s *Store) Get(keys []string) map[string]*string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*string, len(keys))
	for _, k := range keys {
		if text, ok := s.data[k]; ok {
			t := text
			out[k] = &t
		} else {
			out[k] = nil
		}
	}
	return out
}

// Forget clears the entire store.
func (s *Store) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string]string{}
}

// Recall is the callable the in-process "temporal-memory__recall" tool
// wraps: {key: text} for each requested key, using "" for unknown keys
// (the model is expected to have seen the key in a marker it is now
// resolving, so absence is reported as an empty string rather than an
// error).
func (s *Store) Recall(keys []string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = s.data[k]
	}
	return out
}

// StatusEntry is one row of Status's summary.
type StatusEntry struct {
	Preview string `json:"summary"`
	Length  int    `json:"length"`
}

// Status lists every key currently held with a short preview of its
// content, for the "temporal-memory__status" tool.
func (s *Store) Status() map[string]StatusEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]StatusEntry, len(s.data))
	for k, text := range s.data {
		preview := text
		if len(preview) > summaryLength {
			preview = preview[:summaryLength] + "..."
		}
		out[k] = StatusEntry{Preview: preview, Length: len(text)}
	}
	return out
}

// StatusJSON renders Status as the JSON text the status tool returns.
func (s *Store) StatusJSON() (string, error) {
	b, err := json.Marshal(s.Status())
	if err != nil {
		return "", err
	}
	return string(b), nil
}
