package retention

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/store"
	"github.com/trafficlab/settle95/pkg/store/memory"
	"github.com/trafficlab/settle95/pkg/task"
)

func putRun(t *testing.T, st *memory.Store, id string, status task.Status, finished time.Time) {
	t.Helper()
	r := &task.Run{ID: id, Status: status, CreatedAt: finished}
	if !finished.IsZero() {
		f := finished
		r.FinishedAt = &f
	}
	if err := st.PutRun(context.Background(), r); err != nil {
		t.Fatalf("PutRun failed: %v", err)
	}
}

func TestSweepDeletesOldTerminalRuns(t *testing.T) {
	st := memory.New()
	root := t.TempDir()
	exp := export.NewExporter(root)
	mock := quartz.NewMock(t)
	now := time.Date(2025, 3, 31, 3, 0, 0, 0, time.UTC)
	mock.Set(now)

	s := New(st, exp, 30*24*time.Hour, mock)

	old := now.Add(-31 * 24 * time.Hour)
	fresh := now.Add(-1 * 24 * time.Hour)

	putRun(t, st, "old-ok", task.StatusSucceeded, old)
	putRun(t, st, "old-failed", task.StatusFailed, old)
	putRun(t, st, "fresh", task.StatusSucceeded, fresh)
	putRun(t, st, "running", task.StatusRunning, time.Time{})
	putRun(t, st, "queued", task.StatusQueued, time.Time{})

	// Give the old run real artifact files to clean up.
	if _, err := exp.WriteNote("old-ok", "no_data.txt", "x"); err != nil {
		t.Fatalf("WriteNote failed: %v", err)
	}
	dir := exp.RunDir("old-ok")

	deleted, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d", deleted)
	}

	for _, id := range []string{"old-ok", "old-failed"} {
		if _, err := st.GetRun(context.Background(), id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("run %s should be gone, got %v", id, err)
		}
	}
	for _, id := range []string{"fresh", "running", "queued"} {
		if _, err := st.GetRun(context.Background(), id); err != nil {
			t.Errorf("run %s should survive: %v", id, err)
		}
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("artifact dir should be removed: %v", err)
	}
}

func TestSweepBoundaryIsExclusive(t *testing.T) {
	st := memory.New()
	exp := export.NewExporter(t.TempDir())
	mock := quartz.NewMock(t)
	now := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	mock.Set(now)

	s := New(st, exp, 30*24*time.Hour, mock)

	// Finished exactly at the cutoff: kept.
	putRun(t, st, "at-cutoff", task.StatusSucceeded, now.Add(-30*24*time.Hour))

	deleted, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d", deleted)
	}
}

func TestRunSweepsAtFixedTimeOfDay(t *testing.T) {
	st := memory.New()
	exp := export.NewExporter(t.TempDir())
	mock := quartz.NewMock(t)
	now := time.Date(2025, 3, 30, 10, 0, 0, 0, time.UTC)
	mock.Set(now)

	s := New(st, exp, 30*24*time.Hour, mock)

	old := now.Add(-40 * 24 * time.Hour)
	putRun(t, st, "startup", task.StatusSucceeded, old)

	ctx, cancel := context.WithCancel(context.Background())
	trap := mock.Trap().NewTimer("retention")
	defer trap.Close()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()

	// The startup sweep runs before the first timer is armed, and the timer
	// targets the next 03:30 rather than now+24h.
	call := trap.MustWait(waitCtx)
	if want := 17*time.Hour + 30*time.Minute; call.Duration != want {
		t.Errorf("first timer armed for %v, want %v", call.Duration, want)
	}
	call.MustRelease(waitCtx)
	if _, err := st.GetRun(ctx, "startup"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("startup sweep missed the old run: %v", err)
	}

	putRun(t, st, "aged", task.StatusSucceeded, old)

	mock.Advance(17*time.Hour + 30*time.Minute).MustWait(waitCtx)

	// The next timer is armed only after the 03:30 sweep completes.
	call = trap.MustWait(waitCtx)
	if call.Duration != 24*time.Hour {
		t.Errorf("second timer armed for %v, want 24h", call.Duration)
	}
	call.MustRelease(waitCtx)
	if _, err := st.GetRun(ctx, "aged"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("scheduled sweep missed the aged run: %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestMonitor(t *testing.T) {
	var m Monitor
	interval := time.Hour

	if m.IsHealthy(interval) {
		t.Errorf("monitor healthy before any sweep")
	}
	m.RecordSuccess()
	if !m.IsHealthy(interval) {
		t.Errorf("monitor unhealthy after success")
	}

	for i := 0; i < 4; i++ {
		m.RecordFailure(errors.New("disk full"))
	}
	if m.IsHealthy(interval) {
		t.Errorf("monitor healthy after 4 consecutive failures")
	}
	status := m.Status(interval)
	if status.Healthy || status.ConsecutiveErrors != 4 || status.LastError != "disk full" {
		t.Errorf("status = %+v", status)
	}

	m.RecordSuccess()
	if !m.IsHealthy(interval) {
		t.Errorf("monitor should recover after success")
	}
}
