package settle

import "time"

// IPVersion tags which IP partition a traffic sample was observed on.
type IPVersion string

const (
	V4 IPVersion = "v4"
	V6 IPVersion = "v6"
)

// Direction selects which byte counter feeds the settlement value.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
	DirectionBoth Direction = "both"
)

// Mode identifies the settlement rule applied to a rate series.
type Mode string

// ModeRange95 discards the top 5% of samples and reports the next highest
// value, the standard burstable-billing rule.
const ModeRange95 Mode = "range_95"

// Entity is one settlement subject: an endpoint group with a stable ID and
// a display name, owned by a region/category classification.
type Entity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Region   string `json:"region"`
	Category string `json:"category"`
}

// Sample is one time-bucketed traffic observation for an entity. Byte counts
// are normalized by the upstream collector; see Options.RateIntervalSeconds.
type Sample struct {
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
	SendBytes int64     `json:"send_bytes"`
	RecvBytes int64     `json:"recv_bytes"`
	IPVersion IPVersion `json:"ip_version"`
}

// Result is one computed settlement value for an entity (or a merged group)
// over the whole window, or over a single calendar day when daily mode is on.
// An entity with zero contributing samples produces no Result at all.
type Result struct {
	EntityID   string    `json:"entity_id"`
	EntityName string    `json:"entity_name"`
	Date       string    `json:"date,omitempty"` // YYYY-MM-DD, daily mode only
	Value      float64   `json:"settlement_mbps"`
	Samples    int       `json:"data_points"`
	Direction  Direction `json:"direction"`
	Mode       Mode      `json:"mode"`
}
