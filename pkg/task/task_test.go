package task

import (
	"errors"
	"testing"
	"time"

	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/settle"
	"github.com/trafficlab/settle95/pkg/window"
)

func validPeriodic() *Task {
	return &Task{
		ID:               "t1",
		Name:             "weekly-emea",
		Kind:             KindPeriodic,
		Active:           true,
		ScheduleType:     ScheduleCron,
		CronExpr:         "0 2 * * 1",
		WindowSelector:   window.LastWeek,
		Params:           Params{Region: "emea", Direction: settle.DirectionSend},
		ExportFormats:    []export.Format{export.FormatCSV},
		FilenameTemplate: "{region}-{window}",
	}
}

func TestValidateOK(t *testing.T) {
	if err := validPeriodic().Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Task)
	}{
		{"empty name", func(tk *Task) { tk.Name = "" }},
		{"bad kind", func(tk *Task) { tk.Kind = "sometimes" }},
		{"bad selector", func(tk *Task) { tk.WindowSelector = "fortnight" }},
		{"bad cron", func(tk *Task) { tk.CronExpr = "not a cron" }},
		{"missing schedule", func(tk *Task) { tk.ScheduleType = "" }},
		{"bad schedule type", func(tk *Task) { tk.ScheduleType = "hourly-ish" }},
		{"zero interval", func(tk *Task) { tk.ScheduleType = ScheduleInterval; tk.IntervalSeconds = 0 }},
		{"bad weekly time", func(tk *Task) { tk.ScheduleType = ScheduleWeeklyPreset; tk.WeeklyAt = "25:00:00" }},
		{"bad direction", func(tk *Task) { tk.Params.Direction = "up" }},
		{"bad mode", func(tk *Task) { tk.Params.Mode = "median" }},
		{"bad unit base", func(tk *Task) { tk.Params.UnitBase = 512 }},
		{"bad sort order", func(tk *Task) { tk.Params.SortOrder = "sideways" }},
		{"negative batch", func(tk *Task) { tk.Params.BatchSize = -1 }},
		{"bad format", func(tk *Task) { tk.ExportFormats = []export.Format{"pdf"} }},
	}
	for _, c := range cases {
		tk := validPeriodic()
		c.mutate(tk)
		if err := tk.Validate(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", c.name, err)
		}
	}
}

func TestValidateInactiveSkipsSchedule(t *testing.T) {
	tk := validPeriodic()
	tk.Active = false
	tk.CronExpr = "garbage"
	if err := tk.Validate(); err != nil {
		t.Errorf("inactive task must not validate its schedule: %v", err)
	}
}

func TestValidateOneOffSkipsSchedule(t *testing.T) {
	tk := validPeriodic()
	tk.Kind = KindOneOff
	tk.ScheduleType = ""
	tk.CronExpr = ""
	if err := tk.Validate(); err != nil {
		t.Errorf("one_off task must not need a schedule: %v", err)
	}
}

func TestNextRunCron(t *testing.T) {
	tk := validPeriodic() // 02:00 every Monday
	after := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	next, err := tk.NextRun(after)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	want := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextRunInterval(t *testing.T) {
	tk := validPeriodic()
	tk.ScheduleType = ScheduleInterval
	tk.IntervalSeconds = 3600
	after := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	next, err := tk.NextRun(after)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	if !next.Equal(after.Add(time.Hour)) {
		t.Errorf("next = %v", next)
	}
}

func TestNextRunWeeklyPreset(t *testing.T) {
	tk := validPeriodic()
	tk.ScheduleType = ScheduleWeeklyPreset
	tk.WeeklyAt = "06:30:00"
	after := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC) // Monday after 06:30
	next, err := tk.NextRun(after)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	want := time.Date(2025, 3, 17, 6, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNewRunSnapshot(t *testing.T) {
	tk := validPeriodic()
	w := window.Window{
		Start: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC),
		Label: "20250303-20250309",
	}
	now := time.Now()
	run := NewRun(tk, w, now)

	if run.ID == "" || run.TaskID != tk.ID || run.Status != StatusQueued {
		t.Fatalf("run = %+v", run)
	}

	// Later edits to the task must not leak into the snapshot.
	tk.Params.Region = "apac"
	tk.ExportFormats[0] = export.FormatXLSX
	if run.Params.Region != "emea" {
		t.Errorf("params leaked: %+v", run.Params)
	}
	if run.ExportFormats[0] != export.FormatCSV {
		t.Errorf("formats leaked: %+v", run.ExportFormats)
	}
}

func TestNewRunDefaultFormat(t *testing.T) {
	tk := validPeriodic()
	tk.ExportFormats = nil
	run := NewRun(tk, window.Window{}, time.Now())
	if len(run.ExportFormats) != 1 || run.ExportFormats[0] != export.FormatCSV {
		t.Errorf("formats = %+v", run.ExportFormats)
	}
}

func TestRunTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusQueued:    false,
		StatusRunning:   false,
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}
	for status, want := range terminal {
		r := Run{Status: status}
		if r.Terminal() != want {
			t.Errorf("Terminal(%s) = %v", status, !want)
		}
	}
}
