// Package memlog implements the Message Store: the ordered,
// causally-linked conversation log described in spec §3 and §4.1. The
// deep-copy-on-read discipline is grounded in the teacher's
// internal/sessions/memory.go (cloneMessage/cloneSession), generalized
// here from a multi-session map down to the single log a Store owns.
// The mutation set (turn-group causal delete, atomic assistant+tool
// append) follows context_memory_v1.py.
package memlog

import (
	"context"
	"sync"
	"time"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/contextloom/loom/internal/observability"
	"github.com/contextloom/loom/pkg/models"
)

// Observer is notified synchronously after every successful mutation,
// with a deep copy of the current log. A panic or error inside an
// observer is recovered and logged; it never corrupts the store.
type Observer func(log []models.Message)

// ToolCallResult pairs one assistant tool-call request with the text a
// provider returned for it. AddAssistantReply uses a slice of these to
// build the atomic assistant-shell-plus-tool-responses append.
type ToolCallResult struct {
	Call    models.ToolCall
	Content string
}

// Store owns a single session's message log. A Store is safe for
// concurrent use; the scheduling model (spec §5) is single-task
// cooperative, so the mutex mainly protects against accidental
// concurrent callers rather than contended access.
type Store struct {
	mu        sync.Mutex
	log       []models.Message
	observers []Observer
	lastTS    int64
	logger    *observability.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger attaches a logger used to report observer failures.
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe registers an observer. Observers fire in registration order.
func (s *Store) Observe(obs Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, obs)
	s.mu.Unlock()
}

// SetSystemPrompt replaces any prior system message and installs the
// new one at logical position 0.
func (s *Store) SetSystemPrompt(text string) string {
	s.mu.Lock()
	id := models.NewID()
	msg := models.Message{
		Role:    models.RoleSystem,
		Content: models.StringContent(text),
		Meta:    models.MessageMeta{ID: id, CreatedAt: s.nextCreatedAt()},
	}
	if len(s.log) > 0 && s.log[0].Role == models.RoleSystem {
		s.log[0] = msg
	} else {
		newLog := make([]models.Message, 0, len(s.log)+1)
		newLog = append(newLog, msg)
		newLog = append(newLog, s.log...)
		s.log = newLog
	}
	s.mu.Unlock()
	s.notify()
	return id
}

// AddMessage appends msg, stamping meta.id/meta.created_at if absent.
// Direct system-message inserts are rejected; use SetSystemPrompt.
func (s *Store) AddMessage(msg models.Message) (string, error) {
	if msg.Role == models.RoleSystem {
		return "", coreerr.ErrSystemInsert
	}
	s.mu.Lock()
	if msg.Meta.ID == "" {
		msg.Meta.ID = models.NewID()
	}
	if msg.Meta.CreatedAt == 0 {
		msg.Meta.CreatedAt = s.nextCreatedAt()
	}
	s.log = append(s.log, msg)
	id := msg.Meta.ID
	s.mu.Unlock()
	s.notify()
	return id, nil
}

// AddUserPrompt appends a user message and returns its id.
func (s *Store) AddUserPrompt(text string) string {
	id, _ := s.AddMessage(models.Message{Role: models.RoleUser, Content: models.StringContent(text)})
	return id
}

// AddAssistantReply appends the assistant shell, and one tool message
// per entry of calls, in order, as a single atomic group: each tool
// message's meta.parent_id is the assistant message's id. Fails with
// ErrEmptyReply if content is empty/absent and calls is empty.
func (s *Store) AddAssistantReply(content *string, calls []ToolCallResult) (string, error) {
	if (content == nil || *content == "") && len(calls) == 0 {
		return "", coreerr.ErrEmptyReply
	}

	s.mu.Lock()
	toolCalls := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		toolCalls[i] = c.Call
	}
	assistantID := models.NewID()
	s.log = append(s.log, models.Message{
		Role:      models.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
		Meta:      models.MessageMeta{ID: assistantID, CreatedAt: s.nextCreatedAt()},
	})
	for _, c := range calls {
		s.log = append(s.log, models.Message{
			Role:       models.RoleTool,
			Content:    models.StringContent(c.Content),
			ToolCallID: c.Call.ID,
			Meta: models.MessageMeta{
				ID:        models.NewID(),
				CreatedAt: s.nextCreatedAt(),
				ParentID:  assistantID,
			},
		})
	}
	s.mu.Unlock()
	s.notify()
	return assistantID, nil
}

// Snapshot returns a deep copy of the log. Mutating the result never
// affects the store.
func (s *Store) Snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLog(s.log)
}

// GetMessage returns a deep copy of the message with the given id.
func (s *Store) GetMessage(id string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(id); idx >= 0 {
		return cloneMessage(s.log[idx]), nil
	}
	return models.Message{}, coreerr.ErrMessageNotFound
}

// UpdateContent replaces the content of the message with the given id.
func (s *Store) UpdateContent(id, text string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return coreerr.ErrMessageNotFound
	}
	s.log[idx].Content = models.StringContent(text)
	s.mu.Unlock()
	s.notify()
	return nil
}

// InsertAfter inserts a new message of the given role/content
// immediately after afterID, returning the new message's id.
func (s *Store) InsertAfter(afterID string, role models.Role, content string) (string, error) {
	s.mu.Lock()
	idx := s.indexOf(afterID)
	if idx < 0 {
		s.mu.Unlock()
		return "", coreerr.ErrMessageNotFound
	}
	id := models.NewID()
	msg := models.Message{
		Role:    role,
		Content: models.StringContent(content),
		Meta:    models.MessageMeta{ID: id, CreatedAt: s.nextCreatedAt()},
	}
	newLog := make([]models.Message, 0, len(s.log)+1)
	newLog = append(newLog, s.log[:idx+1]...)
	newLog = append(newLog, msg)
	newLog = append(newLog, s.log[idx+1:]...)
	s.log = newLog
	s.mu.Unlock()
	s.notify()
	return id, nil
}

// Delete drops the listed messages. System messages are protected and
// silently excluded from the set.
func (s *Store) Delete(ids []string) int {
	set := toSet(ids)
	s.mu.Lock()
	out, count := filterOut(s.log, func(m models.Message) bool {
		return set[m.Meta.ID] && m.Role != models.RoleSystem
	})
	s.log = out
	s.mu.Unlock()
	if count > 0 {
		s.notify()
	}
	return count
}

// DeleteUser drops each listed user message and the contiguous
// assistant/tool messages that follow it, up to (but not including)
// the next user message or the end of the log: a turn-group delete.
func (s *Store) DeleteUser(userIDs []string) int {
	set := toSet(userIDs)
	s.mu.Lock()
	deleting := false
	out, count := filterOut(s.log, func(m models.Message) bool {
		if m.Role == models.RoleUser {
			deleting = set[m.Meta.ID]
		}
		return deleting
	})
	s.log = out
	s.mu.Unlock()
	if count > 0 {
		s.notify()
	}
	return count
}

// DeleteTool drops the assistant message that issued callID and its
// paired tool response.
func (s *Store) DeleteTool(callID string) int {
	s.mu.Lock()
	out, count := filterOut(s.log, func(m models.Message) bool {
		if m.Role == models.RoleAssistant && hasCall(m.ToolCalls, callID) {
			return true
		}
		return m.Role == models.RoleTool && m.ToolCallID == callID
	})
	s.log = out
	s.mu.Unlock()
	if count > 0 {
		s.notify()
	}
	return count
}

// DeleteAfter drops everything strictly after id, protecting system
// messages from the tail. Returns false if id is unknown.
func (s *Store) DeleteAfter(id string) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	newLog := append([]models.Message{}, s.log[:idx+1]...)
	count := 0
	for _, m := range s.log[idx+1:] {
		if m.Role == models.RoleSystem {
			newLog = append(newLog, m)
			continue
		}
		count++
	}
	s.log = newLog
	s.mu.Unlock()
	if count > 0 {
		s.notify()
	}
	return true
}

// Clear drops all non-system messages. The system message survives
// when keepSystem is true.
func (s *Store) Clear(keepSystem bool) {
	s.mu.Lock()
	if keepSystem && len(s.log) > 0 && s.log[0].Role == models.RoleSystem {
		s.log = []models.Message{s.log[0]}
	} else {
		s.log = nil
	}
	s.mu.Unlock()
	s.notify()
}

// Cycle increments meta.cycle on every message; the Refiner may use it
// as an age counter (see DESIGN.md — not consumed by the shipped
// refinement strategy).
func (s *Store) Cycle() {
	s.mu.Lock()
	for i := range s.log {
		s.log[i].Meta.Cycle++
	}
	s.mu.Unlock()
	s.notify()
}

// nextCreatedAt returns a monotonic, non-decreasing millisecond
// timestamp. Callers must hold s.mu.
func (s *Store) nextCreatedAt() int64 {
	now := time.Now().UnixMilli()
	if now <= s.lastTS {
		now = s.lastTS + 1
	}
	s.lastTS = now
	return now
}

// indexOf returns the log index of id, or -1. Callers must hold s.mu.
func (s *Store) indexOf(id string) int {
	for i, m := range s.log {
		if m.Meta.ID == id {
			return i
		}
	}
	return -1
}

// notify deep-copies the log and fans it out to observers, recovering
// any observer panic so it cannot corrupt the store.
func (s *Store) notify() {
	s.mu.Lock()
	snap := cloneLog(s.log)
	obs := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range obs {
		s.safeNotify(o, snap)
	}
}

func (s *Store) safeNotify(o Observer, snap []models.Message) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error(context.Background(), "memlog: observer panicked", "panic", r)
		}
	}()
	o(snap)
}

func hasCall(calls []models.ToolCall, id string) bool {
	for _, c := range calls {
		if c.ID == id {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// filterOut returns the log with every message matching drop removed,
// plus the number removed. It never aliases the input's backing array.
func filterOut(log []models.Message, drop func(models.Message) bool) ([]models.Message, int) {
	out := make([]models.Message, 0, len(log))
	count := 0
	for _, m := range log {
		if drop(m) {
			count++
			continue
		}
		out = append(out, m)
	}
	return out, count
}

func cloneMessage(m models.Message) models.Message {
	clone := m
	if m.Content != nil {
		c := *m.Content
		clone.Content = &c
	}
	if len(m.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall(nil), m.ToolCalls...)
	}
	return clone
}

func cloneLog(log []models.Message) []models.Message {
	out := make([]models.Message, len(log))
	for i, m := range log {
		out[i] = cloneMessage(m)
	}
	return out
}
