// Package memory is an in-memory sample source, seedable from a JSON file.
// It backs tests and demo deployments that have no live collector.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/trafficlab/settle95/pkg/settle"
	"github.com/trafficlab/settle95/pkg/source"
)

// Source implements source.Source over in-memory slices.
type Source struct {
	mu       sync.RWMutex
	entities []settle.Entity
	samples  []settle.Sample
}

// New creates an empty source.
func New() *Source {
	return &Source{}
}

// FromFile loads a seed file of the form
//
//	{"entities": [...], "samples": [...]}
//
// and returns a source serving it.
func FromFile(path string) (*Source, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", errors.Join(source.ErrFetch, err))
	}
	var seed struct {
		Entities []settle.Entity `json:"entities"`
		Samples  []settle.Sample `json:"samples"`
	}
	if err := json.Unmarshal(body, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, errors.Join(source.ErrFetch, err))
	}
	s := New()
	s.Add(seed.Entities, seed.Samples)
	return s, nil
}

// Add appends entities and samples to the source.
func (s *Source) Add(entities []settle.Entity, samples []settle.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, entities...)
	s.samples = append(s.samples, samples...)
}

func (s *Source) Entities(ctx context.Context, f source.Filter) ([]settle.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names map[string]bool
	if len(f.Names) > 0 {
		names = make(map[string]bool, len(f.Names))
		for _, n := range f.Names {
			names[n] = true
		}
	}

	var out []settle.Entity
	for _, e := range s.entities {
		if f.Region != "" && e.Region != f.Region {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if names != nil && !names[e.Name] {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Source) Samples(ctx context.Context, entityIDs []string, start, end time.Time) ([]settle.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = true
	}

	var out []settle.Sample
	for _, sm := range s.samples {
		if !wanted[sm.EntityID] {
			continue
		}
		if sm.Timestamp.Before(start) || sm.Timestamp.After(end) {
			continue
		}
		out = append(out, sm)
	}
	return out, nil
}
