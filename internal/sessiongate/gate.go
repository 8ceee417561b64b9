// Package sessiongate implements the Session Gate described in spec
// §4.7: at-most-one active job per session, with cooperative
// cancellation. No teacher file matches this shape directly (see
// DESIGN.md); it is built fresh in the teacher's concurrency idiom —
// an atomic state word plus a mutex-guarded cancel function, modeled on
// internal/agent/loop.go's MaxWallTime cancellation-context pattern.
package sessiongate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/contextloom/loom/internal/coreerr"
	"github.com/google/uuid"
)

// state values for Gate.state.
const (
	stateIdle int32 = iota
	stateRunning
)

// Gate tracks the currently-running job, by id, for one session. A
// Gate is safe for concurrent use.
type Gate struct {
	state int32

	mu     sync.Mutex
	jobID  string
	cancel context.CancelFunc
}

// New builds an idle Gate.
func New() *Gate {
	return &Gate{}
}

// NewJobID returns a fresh job identifier, unique across the process's
// lifetime. Unlike pkg/models.NewID's 8-char message ids (scoped to
// collision-resistance within one session's log), a job id may need to
// be correlated against external logs or a caller-supplied id across a
// wider scope, so it uses a full UUID.
func NewJobID() string {
	return uuid.NewString()
}

// Start admits jobID only if the gate is idle, deriving a cancellable
// context from ctx. It returns that context and a release func the
// caller must defer-call exactly once (on any exit path) to return the
// gate to idle. A second Start while running fails with ErrBusy and
// returns ctx unmodified.
func (g *Gate) Start(ctx context.Context, jobID string) (context.Context, func(), error) {
	if !atomic.CompareAndSwapInt32(&g.state, stateIdle, stateRunning) {
		return ctx, func() {}, coreerr.ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.jobID = jobID
	g.cancel = cancel
	g.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { g.end() })
	}
	return runCtx, release, nil
}

// Stop cancels the active job, if any, without waiting for it to
// observe cancellation. It is a no-op when the gate is idle.
func (g *Gate) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// end releases the active job's cancel func and returns the gate to
// idle. Called by the release func Start returns, never directly by
// callers outside this package.
func (g *Gate) end() {
	g.mu.Lock()
	g.jobID = ""
	g.cancel = nil
	g.mu.Unlock()
	atomic.StoreInt32(&g.state, stateIdle)
}

// Busy reports whether a job is currently running.
func (g *Gate) Busy() bool {
	return atomic.LoadInt32(&g.state) == stateRunning
}

// ActiveJobID returns the currently-running job's id, or "" when idle.
func (g *Gate) ActiveJobID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.jobID
}
