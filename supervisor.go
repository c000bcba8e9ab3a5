package hive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RestartStrategy selects which children a supervisor restarts when one
// fails.
type RestartStrategy int

const (
	// OneForOne restarts only the failed child.
	OneForOne RestartStrategy = iota
	// OneForAll stops every child in reverse insertion order, then starts
	// them all in insertion order.
	OneForAll
	// RestForOne stops the failed child and every child added after it,
	// then starts them in insertion order.
	RestForOne
)

// String returns the lower_snake_case name of the strategy.
func (s RestartStrategy) String() string {
	switch s {
	case OneForAll:
		return "one_for_all"
	case RestForOne:
		return "rest_for_one"
	default:
		return "one_for_one"
	}
}

// Supervisor defaults.
const (
	DefaultHealthCheckInterval = time.Second
	DefaultMaxRestarts         = 3
	DefaultRestartWindow       = 60 * time.Second
)

// Supervisor owns a list of child runtimes, detects failure via
// heartbeats and ERROR messages, and restarts children per its strategy
// within a sliding-window rate limit. A supervisor is itself an agent and
// may supervise other supervisors' runtimes.
type Supervisor struct {
	rt       *Runtime
	registry *Registry
	logger   *slog.Logger

	strategy      RestartStrategy
	checkInterval time.Duration
	maxRestarts   int
	restartWindow time.Duration
	onRestart     func(childID string)
	rtOpts        []RuntimeOption

	mu       sync.Mutex
	children []*Runtime           // insertion order
	restarts map[string][]time.Time

	// monitor channels are guarded by mu so concurrent Stops close once.
	monitorStop chan struct{}
	monitorDone chan struct{}
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithStrategy sets the restart strategy (default OneForOne).
func WithStrategy(s RestartStrategy) SupervisorOption {
	return func(sv *Supervisor) { sv.strategy = s }
}

// WithHealthCheckInterval sets the health monitor cadence (default 1s).
func WithHealthCheckInterval(d time.Duration) SupervisorOption {
	return func(sv *Supervisor) { sv.checkInterval = d }
}

// WithMaxRestarts sets the per-child restart budget within the sliding
// window (default 3).
func WithMaxRestarts(n int) SupervisorOption {
	return func(sv *Supervisor) { sv.maxRestarts = n }
}

// WithRestartWindow sets the sliding window over which restarts are
// counted (default 60s).
func WithRestartWindow(d time.Duration) SupervisorOption {
	return func(sv *Supervisor) { sv.restartWindow = d }
}

// WithSupervisorLogger sets the structured logger. If not set, a no-op
// logger is used (no output).
func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(sv *Supervisor) { sv.logger = l }
}

// WithOnRestart registers fn to run after every successful child
// restart.
func WithOnRestart(fn func(childID string)) SupervisorOption {
	return func(sv *Supervisor) { sv.onRestart = fn }
}

// WithSupervisorRuntimeOptions forwards options to the supervisor's own
// runtime, such as WithMiddleware.
func WithSupervisorRuntimeOptions(opts ...RuntimeOption) SupervisorOption {
	return func(sv *Supervisor) { sv.rtOpts = opts }
}

// NewSupervisor builds a supervisor agent with the given id. Children are
// added with AddChild before or after Start.
func NewSupervisor(id string, registry *Registry, opts ...SupervisorOption) *Supervisor {
	sv := &Supervisor{
		registry:      registry,
		strategy:      OneForOne,
		checkInterval: DefaultHealthCheckInterval,
		maxRestarts:   DefaultMaxRestarts,
		restartWindow: DefaultRestartWindow,
		restarts:      make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(sv)
	}
	if sv.logger == nil {
		sv.logger = nopLogger
	}
	rtOpts := append([]RuntimeOption{
		WithRole("supervisor"),
		WithHandler(KindError, sv.handleError),
		WithHandler(KindHeartbeatAck, func(ctx context.Context, m Message) error { return nil }),
		WithRuntimeLogger(sv.logger),
	}, sv.rtOpts...)
	sv.rt = NewRuntime(id, registry, rtOpts...)
	return sv
}

// ID returns the supervisor's agent id.
func (sv *Supervisor) ID() string { return sv.rt.ID() }

// Runtime exposes the supervisor's own agent runtime.
func (sv *Supervisor) Runtime() *Runtime { return sv.rt }

// AddChild places a runtime under supervision. The child's ERROR
// notifications must target this supervisor (WithSupervisor at child
// construction).
func (sv *Supervisor) AddChild(child *Runtime) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.children = append(sv.children, child)
}

// RemoveChild forgets a child without stopping it.
func (sv *Supervisor) RemoveChild(id string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	for i, c := range sv.children {
		if c.ID() == id {
			sv.children = append(sv.children[:i], sv.children[i+1:]...)
			break
		}
	}
	delete(sv.restarts, id)
}

// Children returns the supervised runtimes in insertion order.
func (sv *Supervisor) Children() []*Runtime {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]*Runtime, len(sv.children))
	copy(out, sv.children)
	return out
}

// Start starts the supervisor's own runtime, then every child in
// insertion order, then the health monitor.
func (sv *Supervisor) Start() error {
	if err := sv.rt.Start(); err != nil {
		return fmt.Errorf("supervisor %s: %w", sv.ID(), err)
	}
	for _, c := range sv.Children() {
		if err := c.Start(); err != nil {
			return fmt.Errorf("child %s: %w", c.ID(), err)
		}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	sv.mu.Lock()
	sv.monitorStop, sv.monitorDone = stop, done
	sv.mu.Unlock()
	go sv.monitor(stop, done)
	return nil
}

// Stop halts the health monitor, stops children in reverse insertion
// order, then stops the supervisor itself. Safe to call concurrently.
func (sv *Supervisor) Stop() {
	sv.mu.Lock()
	stop, done := sv.monitorStop, sv.monitorDone
	sv.monitorStop, sv.monitorDone = nil, nil
	sv.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	children := sv.Children()
	for i := len(children) - 1; i >= 0; i-- {
		children[i].Stop()
	}
	sv.rt.Stop()
}

// monitor sends each child a heartbeat every interval and treats a stale
// health record as a failure.
func (sv *Supervisor) monitor(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(sv.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, c := range sv.Children() {
				if c.State() != StateRunning {
					continue
				}
				_ = sv.rt.Send(c.ID(), KindHeartbeat, nil)
				if h := sv.registry.Health(c.ID()); h != nil && !h.Healthy() {
					sv.logger.Warn("child unhealthy", "supervisor", sv.ID(), "child", c.ID())
					sv.handleChildFailure(c.ID())
				}
			}
		}
	}
}

// handleError reacts to an ERROR message from a failing child.
func (sv *Supervisor) handleError(ctx context.Context, m Message) error {
	var p ErrorPayload
	if err := m.DecodePayload(&p); err != nil {
		return err
	}
	id := p.AgentID
	if id == "" {
		id = m.From
	}
	sv.logger.Warn("child reported error",
		"supervisor", sv.ID(), "child", id, "kind", p.Kind, "error", p.Error)
	sv.handleChildFailure(id)
	return nil
}

// handleChildFailure applies the restart strategy if the rate limit
// permits; otherwise the child is stopped and left stopped.
func (sv *Supervisor) handleChildFailure(childID string) {
	child := sv.childByID(childID)
	if child == nil {
		return
	}
	if !sv.shouldRestart(childID) {
		sv.logger.Warn("restart budget exhausted, leaving child stopped",
			"supervisor", sv.ID(), "child", childID)
		child.Stop()
		return
	}

	switch sv.strategy {
	case OneForAll:
		children := sv.Children()
		for i := len(children) - 1; i >= 0; i-- {
			children[i].Stop()
		}
		for _, c := range children {
			sv.restart(c)
		}
	case RestForOne:
		children := sv.Children()
		from := 0
		for i, c := range children {
			if c.ID() == childID {
				from = i
				break
			}
		}
		for i := len(children) - 1; i >= from; i-- {
			children[i].Stop()
		}
		for _, c := range children[from:] {
			sv.restart(c)
		}
	default:
		child.Stop()
		sv.restart(child)
	}
}

func (sv *Supervisor) restart(c *Runtime) {
	if err := c.Start(); err != nil {
		sv.logger.Error("restart failed", "supervisor", sv.ID(), "child", c.ID(), "error", err)
		return
	}
	if h := sv.registry.Health(c.ID()); h != nil {
		h.Beat()
	}
	if sv.onRestart != nil {
		sv.onRestart(c.ID())
	}
	sv.logger.Info("child restarted", "supervisor", sv.ID(), "child", c.ID())
}

func (sv *Supervisor) childByID(id string) *Runtime {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	for _, c := range sv.children {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// shouldRestart records a restart attempt against the child's sliding
// window and reports whether the budget allows it.
func (sv *Supervisor) shouldRestart(childID string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-sv.restartWindow)
	window := pruneTime(sv.restarts[childID], cutoff)
	if len(window) >= sv.maxRestarts {
		sv.restarts[childID] = window
		return false
	}
	sv.restarts[childID] = append(window, now)
	return true
}

// pruneTime removes entries older than cutoff from a sorted time slice.
func pruneTime(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}
