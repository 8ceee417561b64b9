package sessiongate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/contextloom/loom/internal/coreerr"
)

// S6: a second concurrent job is rejected with Busy while one runs.
func TestStartRejectsConcurrentJob(t *testing.T) {
	g := New()
	_, release, err := g.Start(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer release()

	if _, _, err := g.Start(context.Background(), "job-2"); !errors.Is(err, coreerr.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestStartAfterReleaseAdmitsNewJob(t *testing.T) {
	g := New()
	_, release, err := g.Start(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	release()

	if _, release2, err := g.Start(context.Background(), "job-2"); err != nil {
		t.Fatalf("Start after release: %v", err)
	} else {
		defer release2()
	}
	if g.ActiveJobID() != "job-2" {
		t.Fatalf("ActiveJobID = %q, want job-2", g.ActiveJobID())
	}
}

func TestStopCancelsActiveJobContext(t *testing.T) {
	g := New()
	runCtx, release, err := g.Start(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer release()

	g.Stop()

	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatalf("context not cancelled after Stop")
	}
}

func TestStopOnIdleGateIsNoop(t *testing.T) {
	g := New()
	g.Stop() // must not panic
	if g.Busy() {
		t.Fatalf("Busy() = true on a gate that was never started")
	}
}

func TestBusyReflectsState(t *testing.T) {
	g := New()
	if g.Busy() {
		t.Fatalf("new gate should not be busy")
	}
	_, release, _ := g.Start(context.Background(), "job-1")
	if !g.Busy() {
		t.Fatalf("gate should be busy after Start")
	}
	release()
	if g.Busy() {
		t.Fatalf("gate should be idle after release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New()
	_, release, _ := g.Start(context.Background(), "job-1")
	release()
	release() // must not panic or double-transition another job's state
	if g.Busy() {
		t.Fatalf("gate should remain idle after repeated release")
	}
}

func TestNewJobIDIsUniqueAndNonEmpty(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	if a == "" || b == "" {
		t.Fatalf("NewJobID returned empty string")
	}
	if a == b {
		t.Fatalf("NewJobID returned the same id twice: %q", a)
	}
}
