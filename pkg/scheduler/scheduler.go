// Package scheduler turns periodic task definitions into queued runs. It
// polls the task store on a short tick instead of keeping long-lived timers,
// so task edits take effect on the next tick without timer bookkeeping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/trafficlab/settle95/pkg/config"
	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/store"
	"github.com/trafficlab/settle95/pkg/task"
	"github.com/trafficlab/settle95/pkg/window"
)

// Submitter accepts runs for execution. The runner implements it.
type Submitter interface {
	Submit(ctx context.Context, run *task.Run) error
	ActiveForTask(taskID string) int
}

// Scheduler fires periodic tasks and validates manual triggers.
type Scheduler struct {
	store     store.Store
	submitter Submitter
	clock     quartz.Clock

	mu   sync.Mutex
	next map[string]time.Time // task ID -> next firing instant
}

// New creates a scheduler. A nil clock means real time.
func New(st store.Store, sub Submitter, clock quartz.Clock) *Scheduler {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Scheduler{
		store:     st,
		submitter: sub,
		clock:     clock,
		next:      make(map[string]time.Time),
	}
}

// Run drives the tick loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.TickerFunc(ctx, config.SchedulerTick, func() error {
		s.tick(ctx)
		return nil
	}, "scheduler")
	err := ticker.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Invalidate drops the cached firing time of a task. Call it after any task
// mutation so schedule edits apply from the next tick.
func (s *Scheduler) Invalidate(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.next, taskID)
}

func (s *Scheduler) tick(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		log.Printf("Scheduler failed to list tasks: %v", err)
		return
	}
	now := s.clock.Now()

	live := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Kind != task.KindPeriodic || !t.Active {
			continue
		}
		live[t.ID] = true

		s.mu.Lock()
		due, known := s.next[t.ID]
		s.mu.Unlock()

		if !known {
			next, err := t.NextRun(now)
			if err != nil {
				log.Printf("Task %s has an unusable schedule: %v", t.ID, err)
				continue
			}
			s.setNext(t.ID, next)
			continue
		}
		if now.Before(due) {
			continue
		}

		// Due. Reschedule first so a submit failure cannot cause a hot loop.
		next, err := t.NextRun(now)
		if err != nil {
			log.Printf("Task %s has an unusable schedule: %v", t.ID, err)
			s.mu.Lock()
			delete(s.next, t.ID)
			s.mu.Unlock()
			continue
		}
		s.setNext(t.ID, next)

		if t.SingleFlight && s.submitter.ActiveForTask(t.ID) > 0 {
			log.Printf("Task %s skipped: previous run still active", t.ID)
			continue
		}
		if _, err := s.fire(ctx, t, now); err != nil {
			log.Printf("Task %s failed to fire: %v", t.ID, err)
		}
	}

	// Forget tasks that were deleted or deactivated.
	s.mu.Lock()
	for id := range s.next {
		if !live[id] {
			delete(s.next, id)
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) setNext(taskID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[taskID] = t
}

func (s *Scheduler) fire(ctx context.Context, t *task.Task, now time.Time) (*task.Run, error) {
	w, err := window.Resolve(t.WindowSelector, t.WindowParams, now)
	if err != nil {
		return nil, err
	}
	run := task.NewRun(t, w, now)
	// Once submitted the run belongs to the executor goroutine, so the copy
	// handed back to callers is taken first.
	snapshot := *run
	if err := s.submitter.Submit(ctx, run); err != nil {
		return nil, err
	}
	log.Printf("Task %s fired run %s (window %s)", t.ID, run.ID, w.Label)
	return &snapshot, nil
}

// TriggerTask fires a task immediately, outside its schedule. Window and
// configuration problems are reported synchronously; no run is created.
func (s *Scheduler) TriggerTask(ctx context.Context, taskID string) (*task.Run, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.SingleFlight && s.submitter.ActiveForTask(t.ID) > 0 {
		return nil, fmt.Errorf("task %s already has an active run: %w", t.ID, task.ErrConfiguration)
	}
	return s.fire(ctx, t, s.clock.Now())
}

// AdHoc describes a run with no backing task.
type AdHoc struct {
	WindowSelector   window.Selector `json:"window_selector"`
	WindowParams     window.Params   `json:"window_params"`
	Params           task.Params     `json:"params"`
	ExportFormats    []export.Format `json:"export_formats,omitempty"`
	FilenameTemplate string          `json:"filename_template,omitempty"`
}

// TriggerAdHoc validates and submits a one-shot run that belongs to no task.
func (s *Scheduler) TriggerAdHoc(ctx context.Context, spec AdHoc) (*task.Run, error) {
	if err := spec.Params.Validate(); err != nil {
		return nil, err
	}
	for _, f := range spec.ExportFormats {
		if _, err := export.ParseFormat(string(f)); err != nil {
			return nil, fmt.Errorf("%v: %w", err, task.ErrConfiguration)
		}
	}
	now := s.clock.Now()
	w, err := window.Resolve(spec.WindowSelector, spec.WindowParams, now)
	if err != nil {
		return nil, err
	}

	t := &task.Task{
		Params:           spec.Params,
		ExportFormats:    spec.ExportFormats,
		FilenameTemplate: spec.FilenameTemplate,
	}
	run := task.NewRun(t, w, now)
	run.TaskID = ""
	snapshot := *run
	if err := s.submitter.Submit(ctx, run); err != nil {
		return nil, err
	}
	log.Printf("Ad-hoc run %s submitted (window %s)", run.ID, w.Label)
	return &snapshot, nil
}
