package config

import "time"

// Server defaults
const (
	DefaultPort    = "8080"
	DefaultDataDir = "./data/settle95"
)

// Run execution defaults
const (
	DefaultConcurrency = 3
	FetchTimeout       = 2 * time.Minute
	DefaultRunListCap  = 200
)

// Scheduler configuration
const (
	SchedulerTick = 1 * time.Second
)

// Retention defaults
const (
	DefaultRetentionDays = 30
	RetentionInterval    = 24 * time.Hour
	RetentionSweepSpec   = "30 3 * * *" // daily at 03:30
)

// Store timeouts
const (
	StoreTimeout = 10 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
