// Package retention deletes old run records and their artifact files. Only
// terminal runs age out; queued and running runs are never touched.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/quartz"
	"github.com/robfig/cron/v3"

	"github.com/trafficlab/settle95/pkg/config"
	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/store"
)

// sweepSchedule anchors sweeps to a fixed time of day, so the sweep time
// does not drift across process restarts.
var sweepSchedule = mustSchedule(config.RetentionSweepSpec)

func mustSchedule(spec string) cron.Schedule {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		panic(fmt.Sprintf("bad retention sweep spec %q: %v", spec, err))
	}
	return s
}

// Sweeper periodically removes runs that finished before the retention
// cutoff, artifacts first. A run whose artifact directory cannot be removed
// keeps its record so the orphaned files stay discoverable.
type Sweeper struct {
	store     store.Store
	exporter  *export.Exporter
	retention time.Duration
	interval  time.Duration
	clock     quartz.Clock
	monitor   Monitor
}

// New creates a sweeper. A nil clock means real time.
func New(st store.Store, exp *export.Exporter, retention time.Duration, clock quartz.Clock) *Sweeper {
	if retention <= 0 {
		retention = config.DefaultRetentionDays * 24 * time.Hour
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Sweeper{
		store:     st,
		exporter:  exp,
		retention: retention,
		interval:  config.RetentionInterval,
		clock:     clock,
	}
}

// Monitor exposes sweep health for the health endpoint.
func (s *Sweeper) Monitor() *Monitor {
	return &s.monitor
}

// Interval returns the sweep cadence, for health reporting.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Run sweeps once at startup to catch up after downtime, then at the
// scheduled time of day until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweepAndRecord(ctx)

	for {
		now := s.clock.Now()
		timer := s.clock.NewTimer(sweepSchedule.Next(now).Sub(now), "retention")
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.sweepAndRecord(ctx)
		}
	}
}

func (s *Sweeper) sweepAndRecord(ctx context.Context) {
	deleted, err := s.Sweep(ctx)
	if err != nil {
		s.monitor.RecordFailure(err)
		log.Printf("Retention sweep failed: %v", err)
		return
	}
	s.monitor.RecordSuccess()
	if deleted > 0 {
		log.Printf("Retention sweep deleted %d runs", deleted)
	}
}

// Sweep deletes all terminal runs that finished before the cutoff, returning
// how many records were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	runs, err := s.store.ListRuns(ctx, "", 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list runs: %w", err)
	}
	cutoff := s.clock.Now().Add(-s.retention)

	var deleted int
	for _, r := range runs {
		if !r.Terminal() || r.FinishedAt == nil || !r.FinishedAt.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(s.exporter.RunDir(r.ID)); err != nil {
			// Keep the record; the next sweep retries the directory.
			log.Printf("Failed to remove artifacts of run %s: %v", r.ID, err)
			continue
		}
		if err := s.store.DeleteRun(ctx, r.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("Failed to delete run %s: %v", r.ID, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
