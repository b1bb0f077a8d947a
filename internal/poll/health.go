package poll

import "time"

// Health summarises recent fetch outcomes for a controller.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
)

// DefaultDegradedAfter is the consecutive-failure count at which a
// controller is reported as degraded.
const DefaultDegradedAfter = 3

// fetchHealth tracks consecutive fetch failures across sessions. A
// successful fetch resets the count. Callers hold the controller lock.
type fetchHealth struct {
	failures  int
	totalFail int
	lastErr   string
	lastTick  time.Time
}

func (h *fetchHealth) recordSuccess(at time.Time) {
	h.failures = 0
	h.lastErr = ""
	h.lastTick = at
}

func (h *fetchHealth) recordFailure(at time.Time, err error) {
	h.failures++
	h.totalFail++
	h.lastErr = err.Error()
	h.lastTick = at
}

func (h *fetchHealth) status(threshold int) Health {
	if threshold <= 0 {
		threshold = DefaultDegradedAfter
	}
	if h.failures >= threshold {
		return Degraded
	}
	return Healthy
}
