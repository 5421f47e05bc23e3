package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/window"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is one execution of a task. Window and parameters are snapshotted at
// submission; later task edits never touch an existing run.
type Run struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id,omitempty"` // empty for ad-hoc runs
	Status Status `json:"status"`

	Window           window.Window     `json:"window"`
	Params           Params            `json:"params"`
	ExportFormats    []export.Format   `json:"export_formats"`
	FilenameTemplate string            `json:"filename_template,omitempty"`
	Artifacts        []export.Artifact `json:"artifacts,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewRun snapshots a task into a queued run. The window is resolved by the
// caller so scheduled and manual triggers share one code path.
func NewRun(t *Task, w window.Window, now time.Time) *Run {
	formats := append([]export.Format(nil), t.ExportFormats...)
	if len(formats) == 0 {
		formats = []export.Format{export.FormatCSV}
	}
	return &Run{
		ID:               uuid.NewString(),
		TaskID:           t.ID,
		Status:           StatusQueued,
		Window:           w,
		Params:           t.Params,
		ExportFormats:    formats,
		FilenameTemplate: t.FilenameTemplate,
		CreatedAt:        now,
	}
}

// Terminal reports whether the run has reached a final state. Terminal runs
// are eligible for retention sweeps; queued and running ones never are.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
