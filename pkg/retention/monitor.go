package retention

import (
	"sync"
	"time"
)

// Monitor tracks sweep health and failures.
type Monitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// RecordSuccess records a successful sweep.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSuccess = time.Now()
	m.lastAttempt = time.Now()
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordFailure records a failed sweep.
func (m *Monitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = time.Now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy returns true if sweeping is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - Haven't succeeded in >2 sweep intervals
//   - More than 3 consecutive failures
func (m *Monitor) IsHealthy(interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isHealthyLocked(interval)
}

// Status reports sweep state for health checks.
type Status struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current sweep status for health checks.
func (m *Monitor) Status(interval time.Duration) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		Healthy: m.isHealthyLocked(interval),
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(m.lastSuccess).String()
	}
	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}
	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}
	return status
}

func (m *Monitor) isHealthyLocked(interval time.Duration) bool {
	if m.lastSuccess.IsZero() {
		return false
	}
	if time.Since(m.lastSuccess) > 2*interval {
		return false
	}
	if m.consecutiveErrors > 3 {
		return false
	}
	return true
}
