package settle

import (
	"errors"
	"math"
	"testing"
	"time"
)

// mbpsBytes returns the byte count that converts to exactly `rate` Mbps
// under the default 60s interval and 1024 unit base.
func mbpsBytes(rate int64) int64 {
	return rate * DefaultRateIntervalSeconds * DefaultUnitBase * DefaultUnitBase / 8
}

func rampSamples(entityID string, start time.Time, rates []int64) []Sample {
	samples := make([]Sample, len(rates))
	for i, r := range rates {
		samples[i] = Sample{
			EntityID:  entityID,
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			SendBytes: mbpsBytes(r),
			IPVersion: V4,
		}
	}
	return samples
}

func TestSettleRange95FullDay(t *testing.T) {
	// 288 five-minute buckets with rates 1..288 Mbps. floor(288*0.05)=14
	// values are discarded, so the reported value is the 15th largest: 274.
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rates := make([]int64, 288)
	for i := range rates {
		rates[i] = int64(i + 1)
	}
	entities := []Entity{{ID: "e1", Name: "edge-1"}}
	samples := rampSamples("e1", start, rates)

	results, err := Settle(entities, samples, Options{Direction: DirectionSend})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Value != 274 {
		t.Errorf("expected 274 Mbps, got %v", results[0].Value)
	}
	if results[0].Samples != 288 {
		t.Errorf("expected 288 data points, got %d", results[0].Samples)
	}
}

func TestSettleRange95Twenty(t *testing.T) {
	// 20 samples: floor(20*0.05)=1 discarded, report the 2nd largest.
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rates := make([]int64, 20)
	for i := range rates {
		rates[i] = int64(i + 1)
	}
	results, err := Settle(
		[]Entity{{ID: "e1", Name: "edge-1"}},
		rampSamples("e1", start, rates),
		Options{Direction: DirectionSend},
	)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if results[0].Value != 19 {
		t.Errorf("expected 19 Mbps, got %v", results[0].Value)
	}
}

func TestSettleSingleSampleIsMax(t *testing.T) {
	// With fewer than 20 samples nothing is discarded.
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	results, err := Settle(
		[]Entity{{ID: "e1", Name: "edge-1"}},
		rampSamples("e1", start, []int64{42}),
		Options{Direction: DirectionSend},
	)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if results[0].Value != 42 {
		t.Errorf("expected 42 Mbps, got %v", results[0].Value)
	}
}

func TestSettleMergeV4V6Union(t *testing.T) {
	// V4 covers t0,t1; V6 covers t1,t2. Merged series has 3 points and the
	// shared timestamp sums both sides.
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)
	t2 := t0.Add(10 * time.Minute)
	samples := []Sample{
		{EntityID: "e1", Timestamp: t0, SendBytes: mbpsBytes(10), IPVersion: V4},
		{EntityID: "e1", Timestamp: t1, SendBytes: mbpsBytes(10), IPVersion: V4},
		{EntityID: "e1", Timestamp: t1, SendBytes: mbpsBytes(5), IPVersion: V6},
		{EntityID: "e1", Timestamp: t2, SendBytes: mbpsBytes(5), IPVersion: V6},
	}
	results, err := Settle(
		[]Entity{{ID: "e1", Name: "edge-1"}},
		samples,
		Options{Direction: DirectionSend, MergeV4V6: true},
	)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if results[0].Samples != 3 {
		t.Errorf("expected 3 merged data points, got %d", results[0].Samples)
	}
	if results[0].Value != 15 {
		t.Errorf("expected max 15 Mbps at the shared timestamp, got %v", results[0].Value)
	}
}

func TestSettleUnmergedKeepsVersionsSeparate(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	samples := []Sample{
		{EntityID: "e1", Timestamp: t0, SendBytes: mbpsBytes(10), IPVersion: V4},
		{EntityID: "e1", Timestamp: t0, SendBytes: mbpsBytes(5), IPVersion: V6},
	}
	results, err := Settle(
		[]Entity{{ID: "e1", Name: "edge-1"}},
		samples,
		Options{Direction: DirectionSend},
	)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if results[0].Samples != 2 {
		t.Errorf("expected 2 separate data points, got %d", results[0].Samples)
	}
	if results[0].Value != 10 {
		t.Errorf("expected 10 Mbps, got %v", results[0].Value)
	}
}

func TestSettleCombineAll(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	samples := []Sample{
		{EntityID: "e1", Timestamp: t0, SendBytes: mbpsBytes(10), IPVersion: V4},
		{EntityID: "e2", Timestamp: t0, SendBytes: mbpsBytes(7), IPVersion: V4},
	}
	results, err := Settle(
		[]Entity{{ID: "e1", Name: "edge-1"}, {ID: "e2", Name: "edge-2"}},
		samples,
		Options{Direction: DirectionSend, CombineAll: true},
	)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected a single combined result, got %d", len(results))
	}
	if results[0].EntityName != "all_total" {
		t.Errorf("combined name = %q", results[0].EntityName)
	}
	if results[0].Value != 17 {
		t.Errorf("expected summed 17 Mbps, got %v", results[0].Value)
	}
}

func TestSettleOmitsEmptyEntities(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	samples := []Sample{
		{EntityID: "e1", Timestamp: t0, SendBytes: mbpsBytes(10), IPVersion: V4},
	}
	results, err := Settle(
		[]Entity{{ID: "e1", Name: "edge-1"}, {ID: "e2", Name: "quiet"}},
		samples,
		Options{Direction: DirectionSend},
	)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(results) != 1 || results[0].EntityID != "e1" {
		t.Fatalf("entity without samples must be omitted, got %+v", results)
	}
}

func TestSettleDirections(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	samples := []Sample{
		{EntityID: "e1", Timestamp: t0, SendBytes: mbpsBytes(10), RecvBytes: mbpsBytes(4), IPVersion: V4},
	}
	entities := []Entity{{ID: "e1", Name: "edge-1"}}
	cases := []struct {
		dir  Direction
		want float64
	}{
		{DirectionSend, 10},
		{DirectionRecv, 4},
		{DirectionBoth, 14},
	}
	for _, c := range cases {
		results, err := Settle(entities, samples, Options{Direction: c.dir})
		if err != nil {
			t.Fatalf("Settle(%s) failed: %v", c.dir, err)
		}
		if results[0].Value != c.want {
			t.Errorf("direction %s: expected %v, got %v", c.dir, c.want, results[0].Value)
		}
	}
}

func TestSettleDaily(t *testing.T) {
	d1 := time.Date(2025, 3, 1, 23, 50, 0, 0, time.UTC)
	d2 := time.Date(2025, 3, 2, 0, 5, 0, 0, time.UTC)
	samples := []Sample{
		{EntityID: "e1", Timestamp: d1, SendBytes: mbpsBytes(10), IPVersion: V4},
		{EntityID: "e1", Timestamp: d2, SendBytes: mbpsBytes(20), IPVersion: V4},
		{EntityID: "e1", Timestamp: d2.Add(5 * time.Minute), SendBytes: mbpsBytes(15), IPVersion: V4},
	}
	results, err := Settle(
		[]Entity{{ID: "e1", Name: "edge-1"}},
		samples,
		Options{Direction: DirectionSend, Daily: true},
	)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 daily results, got %d", len(results))
	}
	if results[0].Date != "2025-03-01" || results[0].Value != 10 {
		t.Errorf("day 1 = %+v", results[0])
	}
	if results[1].Date != "2025-03-02" || results[1].Value != 20 || results[1].Samples != 2 {
		t.Errorf("day 2 = %+v", results[1])
	}
}

func TestSettleNegativeBytes(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	samples := []Sample{
		{EntityID: "e1", Timestamp: t0, SendBytes: -1, IPVersion: V4},
	}
	_, err := Settle([]Entity{{ID: "e1", Name: "edge-1"}}, samples, Options{Direction: DirectionSend})
	if !errors.Is(err, ErrAggregation) {
		t.Errorf("expected ErrAggregation, got %v", err)
	}
}

func TestSettleInvalidOptions(t *testing.T) {
	entities := []Entity{{ID: "e1", Name: "edge-1"}}
	cases := []Options{
		{Direction: "sideways"},
		{Mode: "average"},
		{UnitBase: 1500},
		{RateIntervalSeconds: -5},
	}
	for _, opts := range cases {
		if _, err := Settle(entities, nil, opts); !errors.Is(err, ErrAggregation) {
			t.Errorf("options %+v: expected ErrAggregation, got %v", opts, err)
		}
	}
}

func TestSettleUnitBase1000(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	bytes := int64(10 * 60 * 1000 * 1000 / 8) // 10 Mbps decimal
	samples := []Sample{{EntityID: "e1", Timestamp: t0, SendBytes: bytes, IPVersion: V4}}
	results, err := Settle(
		[]Entity{{ID: "e1", Name: "edge-1"}},
		samples,
		Options{Direction: DirectionSend, UnitBase: 1000},
	)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if math.Abs(results[0].Value-10) > 1e-9 {
		t.Errorf("expected 10 Mbps decimal, got %v", results[0].Value)
	}
}

// Total traffic must survive the byte-to-rate conversion: summing
// rate·interval·base²/8 over every point recovers the original byte count,
// whatever interval and unit base are configured.
func TestRateConversionPreservesTotalBytes(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]point, 288)
	var totalBytes int64
	for i := range pts {
		b := int64(i*i*7919 + 13) // uneven, non-round byte counts
		pts[i] = point{ts: start.Add(time.Duration(i) * 5 * time.Minute), bytes: b}
		totalBytes += b
	}

	cases := []Options{
		{},
		{UnitBase: 1000},
		{RateIntervalSeconds: 300},
		{UnitBase: 1000, RateIntervalSeconds: 300},
	}
	for _, opts := range cases {
		if err := opts.normalize(); err != nil {
			t.Fatalf("normalize failed: %v", err)
		}
		rates := toRates(pts, opts)
		var sum float64
		for _, r := range rates {
			sum += r
		}
		got := sum * float64(opts.RateIntervalSeconds) * float64(opts.UnitBase) * float64(opts.UnitBase) / 8
		if math.Abs(got-float64(totalBytes)) > 1e-6*float64(totalBytes) {
			t.Errorf("interval=%d base=%d: recovered %.3f bytes, want %d",
				opts.RateIntervalSeconds, opts.UnitBase, got, totalBytes)
		}
	}
}

func TestSettleDeterministic(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rates := []int64{5, 1, 9, 3, 7}
	entities := []Entity{{ID: "e1", Name: "edge-1"}}
	samples := rampSamples("e1", start, rates)
	opts := Options{Direction: DirectionSend}

	first, err := Settle(entities, samples, opts)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	second, err := Settle(entities, samples, opts)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(first) != len(second) || first[0] != second[0] {
		t.Errorf("same inputs produced different results: %+v vs %+v", first, second)
	}
}

func TestSortResults(t *testing.T) {
	results := []Result{
		{EntityName: "b", Value: 5, Samples: 3},
		{EntityName: "a", Value: 9, Samples: 1},
		{EntityName: "c", Value: 1, Samples: 2},
	}
	SortResults(results, "value", false)
	if results[0].Value != 9 || results[2].Value != 1 {
		t.Errorf("descending value sort: %+v", results)
	}
	SortResults(results, "name", true)
	if results[0].EntityName != "a" || results[2].EntityName != "c" {
		t.Errorf("ascending name sort: %+v", results)
	}
	before := append([]Result(nil), results...)
	SortResults(results, "nonsense", true)
	for i := range results {
		if results[i] != before[i] {
			t.Errorf("unknown sort field must not reorder: %+v", results)
			break
		}
	}
}
