package settle

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrAggregation marks malformed sample data (e.g. negative byte counts).
// Callers classify it separately from fetch or export failures.
var ErrAggregation = errors.New("aggregation error")

// Options configures one settlement computation.
type Options struct {
	Direction Direction
	Mode      Mode

	// MergeV4V6 sums the V4 and V6 partitions into one series per timestamp.
	// A timestamp present on only one side contributes with the missing side
	// treated as zero; the merged sample count is the union of timestamps.
	MergeV4V6 bool

	// CombineAll sums the per-timestamp scalars across all entities first,
	// producing one synthetic series (named CombinedName) for the whole group.
	CombineAll   bool
	CombinedName string

	// Daily computes one value per calendar day instead of one per window.
	Daily bool

	// UnitBase selects decimal (1000) or binary (1024) mega-units.
	UnitBase int

	// RateIntervalSeconds is the divisor in the byte-to-rate conversion
	// rate = bytes * 8 / interval / unitBase². The upstream collector stores
	// per-minute-normalized byte counts, so this defaults to 60; pin it to
	// whatever the sample source actually reports.
	RateIntervalSeconds int
}

const (
	DefaultUnitBase            = 1024
	DefaultRateIntervalSeconds = 60
	defaultCombinedName        = "all_total"
)

// point is one (timestamp, byte scalar) observation of a series.
type point struct {
	ts    time.Time
	bytes int64
}

func (o *Options) normalize() error {
	switch o.Direction {
	case DirectionSend, DirectionRecv, DirectionBoth:
	case "":
		o.Direction = DirectionBoth
	default:
		return fmt.Errorf("unknown direction %q: %w", o.Direction, ErrAggregation)
	}
	switch o.Mode {
	case ModeRange95:
	case "":
		o.Mode = ModeRange95
	default:
		return fmt.Errorf("unknown settlement mode %q: %w", o.Mode, ErrAggregation)
	}
	switch o.UnitBase {
	case 1000, 1024:
	case 0:
		o.UnitBase = DefaultUnitBase
	default:
		return fmt.Errorf("unit base must be 1000 or 1024, got %d: %w", o.UnitBase, ErrAggregation)
	}
	if o.RateIntervalSeconds == 0 {
		o.RateIntervalSeconds = DefaultRateIntervalSeconds
	}
	if o.RateIntervalSeconds < 0 {
		return fmt.Errorf("rate interval must be positive, got %d: %w", o.RateIntervalSeconds, ErrAggregation)
	}
	if o.CombinedName == "" {
		o.CombinedName = defaultCombinedName
	}
	return nil
}

// Settle computes settlement values for the given entities from their
// time-bucketed samples. Samples belonging to other entities are ignored.
// Entities (or days, or the combined group) with zero contributing samples
// are omitted from the output, never reported as zero.
func Settle(entities []Entity, samples []Sample, opts Options) ([]Result, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	series, err := buildSeries(entities, samples, opts)
	if err != nil {
		return nil, err
	}

	if opts.CombineAll {
		combined := combineSeries(entities, series)
		series = map[string][]point{"": combined}
		entities = []Entity{{ID: "", Name: opts.CombinedName}}
	}

	var results []Result
	for _, e := range entities {
		pts := series[e.ID]
		if len(pts) == 0 {
			continue
		}
		if opts.Daily {
			results = append(results, settleDaily(e, pts, opts)...)
		} else {
			results = append(results, settleWhole(e, pts, opts))
		}
	}
	return results, nil
}

// buildSeries extracts one byte-scalar series per entity, applying the
// direction selector and the optional V4/V6 merge.
func buildSeries(entities []Entity, samples []Sample, opts Options) (map[string][]point, error) {
	wanted := make(map[string]bool, len(entities))
	for _, e := range entities {
		wanted[e.ID] = true
	}

	series := make(map[string][]point, len(entities))
	if opts.MergeV4V6 {
		// Accumulate per timestamp so disjoint V4/V6 coverage unions cleanly.
		merged := make(map[string]map[int64]int64, len(entities))
		for _, s := range samples {
			if !wanted[s.EntityID] {
				continue
			}
			v, err := directionScalar(s, opts.Direction)
			if err != nil {
				return nil, err
			}
			m := merged[s.EntityID]
			if m == nil {
				m = make(map[int64]int64)
				merged[s.EntityID] = m
			}
			m[s.Timestamp.Unix()] += v
		}
		for id, m := range merged {
			pts := make([]point, 0, len(m))
			for ts, v := range m {
				pts = append(pts, point{ts: time.Unix(ts, 0).UTC(), bytes: v})
			}
			sortPoints(pts)
			series[id] = pts
		}
		return series, nil
	}

	for _, s := range samples {
		if !wanted[s.EntityID] {
			continue
		}
		v, err := directionScalar(s, opts.Direction)
		if err != nil {
			return nil, err
		}
		series[s.EntityID] = append(series[s.EntityID], point{ts: s.Timestamp, bytes: v})
	}
	for _, pts := range series {
		sortPoints(pts)
	}
	return series, nil
}

func directionScalar(s Sample, d Direction) (int64, error) {
	if s.SendBytes < 0 || s.RecvBytes < 0 {
		return 0, fmt.Errorf("entity %s at %s has negative byte count: %w",
			s.EntityID, s.Timestamp.Format(time.RFC3339), ErrAggregation)
	}
	switch d {
	case DirectionSend:
		return s.SendBytes, nil
	case DirectionRecv:
		return s.RecvBytes, nil
	default:
		return s.SendBytes + s.RecvBytes, nil
	}
}

// combineSeries sums the per-timestamp scalars across all entities into one
// synthetic series for the whole group.
func combineSeries(entities []Entity, series map[string][]point) []point {
	sums := make(map[int64]int64)
	for _, e := range entities {
		for _, p := range series[e.ID] {
			sums[p.ts.Unix()] += p.bytes
		}
	}
	pts := make([]point, 0, len(sums))
	for ts, v := range sums {
		pts = append(pts, point{ts: time.Unix(ts, 0).UTC(), bytes: v})
	}
	sortPoints(pts)
	return pts
}

func settleWhole(e Entity, pts []point, opts Options) Result {
	rates := toRates(pts, opts)
	return Result{
		EntityID:   e.ID,
		EntityName: e.Name,
		Value:      rank95(rates),
		Samples:    len(rates),
		Direction:  opts.Direction,
		Mode:       opts.Mode,
	}
}

func settleDaily(e Entity, pts []point, opts Options) []Result {
	byDay := make(map[string][]point)
	for _, p := range pts {
		byDay[p.ts.Format("2006-01-02")] = append(byDay[p.ts.Format("2006-01-02")], p)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	results := make([]Result, 0, len(days))
	for _, d := range days {
		rates := toRates(byDay[d], opts)
		results = append(results, Result{
			EntityID:   e.ID,
			EntityName: e.Name,
			Date:       d,
			Value:      rank95(rates),
			Samples:    len(rates),
			Direction:  opts.Direction,
			Mode:       opts.Mode,
		})
	}
	return results
}

// toRates converts byte scalars to mega-rate units:
// rate = bytes * 8 / interval / unitBase².
func toRates(pts []point, opts Options) []float64 {
	div := float64(opts.RateIntervalSeconds) * float64(opts.UnitBase) * float64(opts.UnitBase)
	rates := make([]float64, len(pts))
	for i, p := range pts {
		rates[i] = float64(p.bytes) * 8 / div
	}
	return rates
}

// rank95 applies the range_95 rule: sort descending, discard the
// floor(N*0.05) highest values, return the maximum of the remainder.
func rank95(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	k := n * 5 / 100
	return sorted[k]
}

func sortPoints(pts []point) {
	sort.Slice(pts, func(i, j int) bool { return pts[i].ts.Before(pts[j].ts) })
}

// SortResults orders result rows by the named field before export. Unknown
// fields leave the input order untouched.
func SortResults(results []Result, by string, ascending bool) {
	var less func(a, b Result) bool
	switch by {
	case "value", "settlement_mbps":
		less = func(a, b Result) bool { return a.Value < b.Value }
	case "name", "entity_name":
		less = func(a, b Result) bool { return a.EntityName < b.EntityName }
	case "date":
		less = func(a, b Result) bool { return a.Date < b.Date }
	case "data_points":
		less = func(a, b Result) bool { return a.Samples < b.Samples }
	default:
		return
	}
	sort.SliceStable(results, func(i, j int) bool {
		if ascending {
			return less(results[i], results[j])
		}
		return less(results[j], results[i])
	})
}
