// Package task defines the settlement task and run model: what to compute,
// over which window, on what schedule, and the lifecycle of each execution.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/settle"
	"github.com/trafficlab/settle95/pkg/window"
)

// ErrConfiguration marks invalid task definitions. It is reported
// synchronously at save or trigger time, never as a failed run.
var ErrConfiguration = errors.New("configuration error")

// Kind says whether a task runs once or on a schedule.
type Kind string

const (
	KindOneOff   Kind = "one_off"
	KindPeriodic Kind = "periodic"
)

// ScheduleType names the firing rule of a periodic task.
type ScheduleType string

const (
	ScheduleCron         ScheduleType = "cron"
	ScheduleInterval     ScheduleType = "interval"
	ScheduleWeeklyPreset ScheduleType = "weekly_preset"
)

// Params is the settlement configuration a task submits with every run.
// It is snapshotted onto the run, so editing a task never changes runs
// already submitted.
type Params struct {
	Region       string   `json:"region,omitempty"`
	Category     string   `json:"category,omitempty"`
	Names        []string `json:"names,omitempty"`
	ExcludeNames []string `json:"exclude_names,omitempty"`

	Direction  settle.Direction `json:"direction,omitempty"`
	Mode       settle.Mode      `json:"mode,omitempty"`
	MergeV4V6  bool             `json:"merge_v4v6,omitempty"`
	CombineAll bool             `json:"combine_all,omitempty"`
	Daily      bool             `json:"daily,omitempty"`
	UnitBase   int              `json:"unit_base,omitempty"`

	// BatchSize chunks the sample fetch; 0 means fetch all entities at once.
	BatchSize int `json:"batch_size,omitempty"`

	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"` // asc or desc
}

// SettleOptions maps the task parameters onto the aggregation options.
func (p Params) SettleOptions() settle.Options {
	return settle.Options{
		Direction:  p.Direction,
		Mode:       p.Mode,
		MergeV4V6:  p.MergeV4V6,
		CombineAll: p.CombineAll,
		Daily:      p.Daily,
		UnitBase:   p.UnitBase,
	}
}

// Validate rejects parameter combinations the aggregator would refuse later,
// so bad config surfaces before a run exists.
func (p Params) Validate() error {
	switch p.Direction {
	case "", settle.DirectionSend, settle.DirectionRecv, settle.DirectionBoth:
	default:
		return fmt.Errorf("unknown direction %q: %w", p.Direction, ErrConfiguration)
	}
	switch p.Mode {
	case "", settle.ModeRange95:
	default:
		return fmt.Errorf("unknown settlement mode %q: %w", p.Mode, ErrConfiguration)
	}
	switch p.UnitBase {
	case 0, 1000, 1024:
	default:
		return fmt.Errorf("unit base must be 1000 or 1024, got %d: %w", p.UnitBase, ErrConfiguration)
	}
	switch p.SortOrder {
	case "", "asc", "desc":
	default:
		return fmt.Errorf("sort order must be asc or desc, got %q: %w", p.SortOrder, ErrConfiguration)
	}
	if p.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative, got %d: %w", p.BatchSize, ErrConfiguration)
	}
	return nil
}

// Task is a saved settlement job definition.
type Task struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Active bool   `json:"active"`

	ScheduleType    ScheduleType `json:"schedule_type,omitempty"`
	CronExpr        string       `json:"cron_expr,omitempty"`
	IntervalSeconds int          `json:"interval_seconds,omitempty"`
	WeeklyAt        string       `json:"weekly_at,omitempty"` // HH:MM:SS, fires Mondays

	WindowSelector window.Selector `json:"window_selector"`
	WindowParams   window.Params   `json:"window_params"`

	Params           Params          `json:"params"`
	ExportFormats    []export.Format `json:"export_formats,omitempty"`
	FilenameTemplate string          `json:"filename_template,omitempty"`

	// SingleFlight skips a scheduled firing while a previous run of the same
	// task is still queued or running.
	SingleFlight bool `json:"single_flight,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// weeklyParser accepts a seconds field so preset times keep full precision.
var weeklyParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate checks the whole definition. An inactive periodic task may carry
// an incomplete schedule; activating it re-validates.
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required: %w", ErrConfiguration)
	}
	switch t.Kind {
	case KindOneOff, KindPeriodic:
	default:
		return fmt.Errorf("unknown task kind %q: %w", t.Kind, ErrConfiguration)
	}
	switch t.WindowSelector {
	case window.Custom, window.LastNDays, window.LastWeek:
	default:
		return fmt.Errorf("unknown window selector %q: %w", t.WindowSelector, ErrConfiguration)
	}
	if err := t.Params.Validate(); err != nil {
		return err
	}
	for _, f := range t.ExportFormats {
		if _, err := export.ParseFormat(string(f)); err != nil {
			return fmt.Errorf("%v: %w", err, ErrConfiguration)
		}
	}
	if t.Kind == KindPeriodic && t.Active {
		if err := t.validateSchedule(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Task) validateSchedule() error {
	switch t.ScheduleType {
	case ScheduleCron:
		if _, err := cron.ParseStandard(t.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, errors.Join(ErrConfiguration, err))
		}
	case ScheduleInterval:
		if t.IntervalSeconds <= 0 {
			return fmt.Errorf("interval must be positive, got %d seconds: %w", t.IntervalSeconds, ErrConfiguration)
		}
	case ScheduleWeeklyPreset:
		if _, err := t.weeklySpec(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("active periodic task needs a schedule: %w", ErrConfiguration)
	default:
		return fmt.Errorf("unknown schedule type %q: %w", t.ScheduleType, ErrConfiguration)
	}
	return nil
}

func (t *Task) weeklySpec() (cron.Schedule, error) {
	at, err := time.Parse("15:04:05", t.WeeklyAt)
	if err != nil {
		return nil, fmt.Errorf("weekly preset time %q is not HH:MM:SS: %w", t.WeeklyAt, ErrConfiguration)
	}
	spec := fmt.Sprintf("%d %d %d * * 1", at.Second(), at.Minute(), at.Hour())
	sched, err := weeklyParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid weekly preset %q: %w", t.WeeklyAt, errors.Join(ErrConfiguration, err))
	}
	return sched, nil
}

// NextRun computes the first firing instant strictly after the given time.
func (t *Task) NextRun(after time.Time) (time.Time, error) {
	switch t.ScheduleType {
	case ScheduleCron:
		sched, err := cron.ParseStandard(t.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, errors.Join(ErrConfiguration, err))
		}
		return sched.Next(after), nil
	case ScheduleInterval:
		if t.IntervalSeconds <= 0 {
			return time.Time{}, fmt.Errorf("interval must be positive, got %d seconds: %w", t.IntervalSeconds, ErrConfiguration)
		}
		return after.Add(time.Duration(t.IntervalSeconds) * time.Second), nil
	case ScheduleWeeklyPreset:
		sched, err := t.weeklySpec()
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(after), nil
	default:
		return time.Time{}, fmt.Errorf("task %s has no schedule: %w", t.ID, ErrConfiguration)
	}
}
