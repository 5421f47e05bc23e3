// Package store persists task definitions and run records.
package store

import (
	"context"
	"errors"

	"github.com/trafficlab/settle95/pkg/task"
)

// ErrNotFound is returned when no record exists for an ID.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for tasks and runs.
// Implementations: memory (testing), badger (production).
type Store interface {
	// PutTask inserts or replaces a task definition.
	PutTask(ctx context.Context, t *task.Task) error

	// GetTask fetches one task by ID.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// ListTasks returns all task definitions, newest first.
	ListTasks(ctx context.Context) ([]*task.Task, error)

	// DeleteTask removes a task definition. Runs are kept.
	DeleteTask(ctx context.Context, id string) error

	// PutRun inserts or replaces a run record.
	PutRun(ctx context.Context, r *task.Run) error

	// GetRun fetches one run by ID.
	GetRun(ctx context.Context, id string) (*task.Run, error)

	// ListRuns returns runs newest first. taskID filters to one task
	// ("" = all runs); limit caps the result (0 = no limit).
	ListRuns(ctx context.Context, taskID string, limit int) ([]*task.Run, error)

	// DeleteRun removes a run record. Artifact files are the caller's problem.
	DeleteRun(ctx context.Context, id string) error

	// Close cleanly shuts down the store.
	Close() error
}
