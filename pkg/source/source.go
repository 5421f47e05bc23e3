// Package source abstracts where traffic entities and their samples come
// from. The engine only reads; collection is someone else's pipeline.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/trafficlab/settle95/pkg/settle"
)

// ErrFetch marks failures talking to the sample backend so runs can report
// them distinctly from aggregation or export problems.
var ErrFetch = errors.New("fetch error")

// Filter narrows the entity set for a run. Empty fields match everything;
// Names, when set, restricts to exact display-name matches.
type Filter struct {
	Region   string
	Category string
	Names    []string
}

// Source provides read access to entities and their traffic samples.
type Source interface {
	// Entities returns all entities matching the filter.
	Entities(ctx context.Context, f Filter) ([]settle.Entity, error)

	// Samples returns every sample for the given entity IDs whose timestamp
	// lies in [start, end], both bounds inclusive.
	Samples(ctx context.Context, entityIDs []string, start, end time.Time) ([]settle.Sample, error)
}
