package hive

import "sync/atomic"

// BreakerState is the circuit breaker's gate position.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the lower_snake_case name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenTimeoutMs    = 30000
)

// Breaker is a per-agent failure gate. CLOSED admits everything and counts
// consecutive failures; at failureThreshold it trips OPEN and fast-fails
// until openTimeoutMs elapses, then a single probe wins the transition to
// HALF_OPEN; successThreshold consecutive successes there close it again,
// any failure re-opens it.
//
// All state lives in atomics. Concurrent observers racing the OPEN→
// HALF_OPEN instant are resolved by a compare-and-swap winner; losers see
// HALF_OPEN on their next call.
type Breaker struct {
	state       atomic.Int32
	failures    atomic.Int32
	successes   atomic.Int32
	lastFailure atomic.Int64 // Unix millis

	failureThreshold int32
	successThreshold int32
	openTimeoutMs    int64
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithFailureThreshold sets the consecutive-failure count that trips the
// breaker OPEN (default 5).
func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.failureThreshold = int32(n) }
}

// WithSuccessThreshold sets the consecutive-success count that closes a
// HALF_OPEN breaker (default 2).
func WithSuccessThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.successThreshold = int32(n) }
}

// WithOpenTimeout sets how long an OPEN breaker fast-fails before probing,
// in milliseconds (default 30 000).
func WithOpenTimeout(ms int64) BreakerOption {
	return func(b *Breaker) { b.openTimeoutMs = ms }
}

// NewBreaker returns a CLOSED breaker with the default thresholds.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		failureThreshold: DefaultFailureThreshold,
		successThreshold: DefaultSuccessThreshold,
		openTimeoutMs:    DefaultOpenTimeoutMs,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a request may proceed. In OPEN it returns false
// until the timeout has elapsed; the first caller past the timeout wins a
// CAS to HALF_OPEN and is admitted.
func (b *Breaker) Allow() bool {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed, BreakerHalfOpen:
		return true
	default:
		if NowMillis()-b.lastFailure.Load() < b.openTimeoutMs {
			return false
		}
		if b.state.CompareAndSwap(int32(BreakerOpen), int32(BreakerHalfOpen)) {
			b.successes.Store(0)
			return true
		}
		// Lost the race; the winner moved us to HALF_OPEN.
		return BreakerState(b.state.Load()) == BreakerHalfOpen
	}
}

// RecordSuccess feeds a successful handler invocation into the gate.
// In CLOSED it clears the failure count; in HALF_OPEN it counts toward
// closing.
func (b *Breaker) RecordSuccess() {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed:
		b.failures.Store(0)
	case BreakerHalfOpen:
		if b.successes.Add(1) >= b.successThreshold {
			b.state.Store(int32(BreakerClosed))
			b.failures.Store(0)
			b.successes.Store(0)
		}
	}
}

// RecordFailure feeds a failed handler invocation into the gate. In CLOSED
// it trips OPEN at the failure threshold; in HALF_OPEN any failure
// re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.lastFailure.Store(NowMillis())
	switch BreakerState(b.state.Load()) {
	case BreakerHalfOpen:
		b.successes.Store(0)
		b.state.Store(int32(BreakerOpen))
	case BreakerClosed:
		if b.failures.Add(1) >= b.failureThreshold {
			b.state.Store(int32(BreakerOpen))
		}
	}
}

// State returns the current gate position.
func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

// Reset forces the breaker back to CLOSED with cleared counters.
func (b *Breaker) Reset() {
	b.state.Store(int32(BreakerClosed))
	b.failures.Store(0)
	b.successes.Store(0)
}

// BreakerStats is a point-in-time snapshot of breaker counters.
type BreakerStats struct {
	State         BreakerState `json:"-"`
	StateName     string       `json:"state"`
	Failures      int          `json:"failures"`
	Successes     int          `json:"successes"`
	LastFailureMs int64        `json:"last_failure_ms"`
}

// Stats snapshots the breaker counters. The fields are read independently,
// so the snapshot is approximate under concurrent mutation.
func (b *Breaker) Stats() BreakerStats {
	st := BreakerState(b.state.Load())
	return BreakerStats{
		State:         st,
		StateName:     st.String(),
		Failures:      int(b.failures.Load()),
		Successes:     int(b.successes.Load()),
		LastFailureMs: b.lastFailure.Load(),
	}
}
