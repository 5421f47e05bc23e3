// Package runner executes settlement runs: fetch, aggregate, export. A
// global slot pool bounds how many runs move at once, and every run is
// cooperatively cancellable between pipeline stages.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/coder/quartz"
	"golang.org/x/sync/semaphore"

	"github.com/trafficlab/settle95/pkg/config"
	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/settle"
	"github.com/trafficlab/settle95/pkg/source"
	"github.com/trafficlab/settle95/pkg/store"
	"github.com/trafficlab/settle95/pkg/task"
)

// ErrNotActive is returned when cancelling a run that is not queued or
// running anymore.
var ErrNotActive = errors.New("run is not active")

// Notifier receives run status changes. The events hub implements it; tests
// substitute their own.
type Notifier interface {
	RunUpdated(*task.Run)
}

// Runner owns run execution. Submit never blocks on a slot: runs queue
// immediately and wait for a slot in their own goroutine.
type Runner struct {
	store    store.Store
	source   source.Source
	exporter *export.Exporter
	notifier Notifier
	slots    *semaphore.Weighted
	clock    quartz.Clock

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	active  map[string]int // queued + running runs per task ID

	wg sync.WaitGroup
}

// New creates a runner with the given number of concurrent run slots.
func New(st store.Store, src source.Source, exp *export.Exporter, n Notifier, slots int64, clock quartz.Clock) *Runner {
	if slots <= 0 {
		slots = config.DefaultConcurrency
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Runner{
		store:    st,
		source:   src,
		exporter: exp,
		notifier: n,
		slots:    semaphore.NewWeighted(slots),
		clock:    clock,
		cancels:  make(map[string]context.CancelFunc),
		active:   make(map[string]int),
	}
}

// Submit persists a queued run and starts executing it in the background.
// The passed context only covers the initial persist; execution gets its own
// lifetime so an HTTP disconnect cannot kill a running settlement.
func (r *Runner) Submit(ctx context.Context, run *task.Run) error {
	if err := r.store.PutRun(ctx, run); err != nil {
		return fmt.Errorf("failed to persist run: %w", err)
	}
	r.notify(run)

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[run.ID] = cancel
	if run.TaskID != "" {
		r.active[run.TaskID]++
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.execute(runCtx, run)
	return nil
}

// Cancel requests cooperative cancellation. A queued run is released without
// ever taking a slot; a running run stops at its next checkpoint.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotActive)
	}
	cancel()
	return nil
}

// ActiveForTask reports how many runs of a task are queued or running.
func (r *Runner) ActiveForTask(taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[taskID]
}

// Wait blocks until all in-flight runs have finished. Call Cancel (or cancel
// the submitting contexts) first during shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(ctx context.Context, run *task.Run) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.cancels, run.ID)
		if run.TaskID != "" {
			r.active[run.TaskID]--
		}
		r.mu.Unlock()
	}()

	// Queued runs cancelled here never consumed a slot.
	if err := r.slots.Acquire(ctx, 1); err != nil {
		r.finish(run, task.StatusCancelled, "")
		return
	}
	defer r.slots.Release(1)

	now := r.clock.Now()
	run.Status = task.StatusRunning
	run.StartedAt = &now
	r.persist(run)
	r.notify(run)

	if err := r.pipeline(ctx, run); err != nil {
		if errors.Is(err, context.Canceled) {
			r.finish(run, task.StatusCancelled, "")
			return
		}
		r.finish(run, task.StatusFailed, err.Error())
		return
	}
	r.finish(run, task.StatusSucceeded, "")
}

// checkpoint is where a running run honours cancellation: after the fetch,
// after aggregation, and before export.
func checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return context.Canceled
	default:
		return nil
	}
}

func (r *Runner) pipeline(ctx context.Context, run *task.Run) error {
	p := run.Params

	fetchCtx, cancel := context.WithTimeout(ctx, config.FetchTimeout)
	defer cancel()

	entities, err := r.source.Entities(fetchCtx, source.Filter{
		Region:   p.Region,
		Category: p.Category,
		Names:    p.Names,
	})
	if err != nil {
		return fmt.Errorf("fetch: %w", errors.Join(source.ErrFetch, err))
	}

	if len(entities) == 0 {
		art, err := r.exporter.WriteNote(run.ID, "no_data.txt", "no entities matched the task filter")
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		run.Artifacts = append(run.Artifacts, art)
		return nil
	}

	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	samples, err := r.fetchSamples(fetchCtx, ids, run, p.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch: %w", errors.Join(source.ErrFetch, err))
	}

	if err := checkpoint(ctx); err != nil {
		return err
	}

	baseName := export.BaseName(run.FilenameTemplate, export.NameContext{
		Region:      p.Region,
		Category:    p.Category,
		Direction:   string(p.Direction),
		WindowLabel: run.Window.Label,
		Now:         r.clock.Now(),
	})
	meta := export.Meta{
		WindowStart: run.Window.Start,
		WindowEnd:   run.Window.End,
		Direction:   p.Direction,
		Mode:        p.Mode,
		GeneratedAt: r.clock.Now(),
	}

	type table struct {
		base    string
		results []settle.Result
	}
	var tables []table

	if len(p.ExcludeNames) > 0 {
		// Excluded entities settle individually; the remainder settles as one
		// combined series. Each group gets its own artifact set.
		excluded, remaining := settle.Partition(entities, p.ExcludeNames)

		exclOpts := p.SettleOptions()
		exclOpts.CombineAll = false
		exclResults, err := settle.Settle(excluded, samples, exclOpts)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}

		remOpts := p.SettleOptions()
		remOpts.CombineAll = true
		remResults, err := settle.Settle(remaining, samples, remOpts)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}

		tables = append(tables,
			table{baseName + "_excluded", exclResults},
			table{baseName + "_remaining", remResults},
		)

		if err := checkpoint(ctx); err != nil {
			return err
		}

		names := make([]string, len(remaining))
		for i, e := range remaining {
			names[i] = e.Name
		}
		art, err := r.exporter.WriteRoster(run.ID, baseName+"_remaining_names.txt", names)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		run.Artifacts = append(run.Artifacts, art)
	} else {
		results, err := settle.Settle(entities, samples, p.SettleOptions())
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		tables = append(tables, table{baseName, results})

		if err := checkpoint(ctx); err != nil {
			return err
		}
	}

	for _, tb := range tables {
		settle.SortResults(tb.results, p.SortBy, p.SortOrder == "asc")
		for _, format := range run.ExportFormats {
			art, err := r.exporter.Export(run.ID, tb.base, format, tb.results, meta)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			run.Artifacts = append(run.Artifacts, art)
		}
	}
	return nil
}

// fetchSamples pulls samples for all entities, optionally in ID chunks so a
// single huge IN-clause equivalent never hits the backend.
func (r *Runner) fetchSamples(ctx context.Context, ids []string, run *task.Run, batchSize int) ([]settle.Sample, error) {
	if batchSize <= 0 || batchSize >= len(ids) {
		return r.source.Samples(ctx, ids, run.Window.Start, run.Window.End)
	}
	var all []settle.Sample
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := r.source.Samples(ctx, ids[start:end], run.Window.Start, run.Window.End)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (r *Runner) finish(run *task.Run, status task.Status, errMsg string) {
	now := r.clock.Now()
	run.Status = status
	run.FinishedAt = &now
	run.Error = errMsg
	r.persist(run)
	r.notify(run)
	log.Printf("Run %s finished: %s", run.ID, status)
}

// persist uses its own context: final state must land even when the run's
// context is already cancelled.
func (r *Runner) persist(run *task.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), config.StoreTimeout)
	defer cancel()
	if err := r.store.PutRun(ctx, run); err != nil {
		log.Printf("Failed to persist run %s: %v", run.ID, err)
	}
}

func (r *Runner) notify(run *task.Run) {
	if r.notifier != nil {
		r.notifier.RunUpdated(run)
	}
}
