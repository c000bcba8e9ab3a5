package hive

import "sync/atomic"

// DefaultHeartbeatTimeoutMs is the liveness window: an agent whose last
// heartbeat is older than this is considered unhealthy.
const DefaultHeartbeatTimeoutMs = 5000

// Health tracks the last heartbeat of one agent. Safe for concurrent use.
type Health struct {
	lastBeat  atomic.Int64
	timeoutMs int64
}

// NewHealth returns a record stamped with the current time. A non-positive
// timeout falls back to DefaultHeartbeatTimeoutMs.
func NewHealth(timeoutMs int64) *Health {
	if timeoutMs <= 0 {
		timeoutMs = DefaultHeartbeatTimeoutMs
	}
	h := &Health{timeoutMs: timeoutMs}
	h.lastBeat.Store(NowMillis())
	return h
}

// Beat records a heartbeat now.
func (h *Health) Beat() {
	h.lastBeat.Store(NowMillis())
}

// LastBeat returns the last heartbeat timestamp in Unix milliseconds.
func (h *Health) LastBeat() int64 {
	return h.lastBeat.Load()
}

// Healthy reports whether the last heartbeat is within the timeout window.
func (h *Health) Healthy() bool {
	return NowMillis()-h.lastBeat.Load() < h.timeoutMs
}
