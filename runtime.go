package hive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes one inbound message. Handlers run sequentially inside
// the agent's loop; returning an error (or panicking) counts as a handler
// failure on the agent's circuit breaker and is reported to the
// supervisor, but does not terminate the agent.
type Handler func(ctx context.Context, m Message) error

// InferenceFunc is the contract for pluggable text generation. Agents
// that execute generation tasks call it from their handlers; the runtime
// itself never invokes it.
type InferenceFunc func(ctx context.Context, prompt string, params map[string]string) (string, error)

// loopWakeInterval bounds the mailbox wait so the stop flag is observed
// at least every 100 ms.
const loopWakeInterval = 100 * time.Millisecond

// Runtime hosts a single agent: it registers the agent, drains its
// mailbox on one goroutine, and dispatches each message to the handler
// registered for its kind. Lifecycle follows
// CREATED→STARTING→RUNNING→STOPPING→STOPPED, with FAILED reserved for
// unrecoverable runtime errors.
type Runtime struct {
	id       string
	registry *Registry
	logger   *slog.Logger

	role         string
	slot         int
	capabilities []string
	config       map[string]string
	supervisor   string
	inference    InferenceFunc

	handlers   map[Kind]Handler
	onStart    func(ctx context.Context) error
	onStop     func(ctx context.Context)
	onMessage  Handler
	middleware Middleware

	state    atomic.Int32
	stopFlag atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	startMu  sync.Mutex
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRole sets the agent's role (default "worker").
func WithRole(role string) RuntimeOption {
	return func(rt *Runtime) { rt.role = role }
}

// WithSlot reserves a worker slot for the agent. Without it the agent
// holds no slot reservation.
func WithSlot(slot int) RuntimeOption {
	return func(rt *Runtime) { rt.slot = slot }
}

// WithCapabilities sets the agent's capability tags.
func WithCapabilities(caps ...string) RuntimeOption {
	return func(rt *Runtime) { rt.capabilities = caps }
}

// WithConfig attaches opaque configuration to the agent's registry record.
func WithConfig(cfg map[string]string) RuntimeOption {
	return func(rt *Runtime) { rt.config = cfg }
}

// WithSupervisor names the agent that receives ERROR messages when a
// handler fails.
func WithSupervisor(id string) RuntimeOption {
	return func(rt *Runtime) { rt.supervisor = id }
}

// WithHandler registers fn for the given message kind, replacing any
// previous handler including the defaults.
func WithHandler(kind Kind, fn Handler) RuntimeOption {
	return func(rt *Runtime) { rt.handlers[kind] = fn }
}

// WithOnStart runs fn before the agent enters RUNNING. A non-nil error
// aborts Start.
func WithOnStart(fn func(ctx context.Context) error) RuntimeOption {
	return func(rt *Runtime) { rt.onStart = fn }
}

// WithOnStop runs fn after the message loop exits, before STOPPED.
func WithOnStop(fn func(ctx context.Context)) RuntimeOption {
	return func(rt *Runtime) { rt.onStop = fn }
}

// WithOnMessage sets the fallback handler for kinds with no registered
// handler (default: drop).
func WithOnMessage(fn Handler) RuntimeOption {
	return func(rt *Runtime) { rt.onMessage = fn }
}

// Middleware wraps a handler at dispatch time. The runtime passes its
// own id so instrumentation can label per agent.
type Middleware func(agentID string, fn Handler) Handler

// WithMiddleware wraps every dispatched handler, including the defaults
// and the OnMessage fallback.
func WithMiddleware(mw Middleware) RuntimeOption {
	return func(rt *Runtime) { rt.middleware = mw }
}

// WithInference attaches a text-generation callback the agent's handlers
// may use.
func WithInference(fn InferenceFunc) RuntimeOption {
	return func(rt *Runtime) { rt.inference = fn }
}

// WithRuntimeLogger sets the structured logger. If not set, a no-op
// logger is used (no output).
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.logger = l }
}

// NewRuntime builds an agent runtime. The agent is registered on Start,
// not here.
func NewRuntime(id string, registry *Registry, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		id:       id,
		registry: registry,
		role:     "worker",
		slot:     -1,
		handlers: make(map[Kind]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.logger == nil {
		rt.logger = nopLogger
	}
	if _, ok := rt.handlers[KindHeartbeat]; !ok {
		rt.handlers[KindHeartbeat] = rt.handleHeartbeat
	}
	if _, ok := rt.handlers[KindShutdown]; !ok {
		rt.handlers[KindShutdown] = rt.handleShutdown
	}
	return rt
}

// ID returns the agent id.
func (rt *Runtime) ID() string { return rt.id }

// State returns the current lifecycle state.
func (rt *Runtime) State() AgentState { return AgentState(rt.state.Load()) }

// Inference returns the attached generation callback, or nil.
func (rt *Runtime) Inference() InferenceFunc { return rt.inference }

// Start registers the agent (unless already registered) and launches the
// message loop. Idempotent while STARTING or RUNNING. A STOPPED or FAILED
// runtime may be started again; supervisors rely on this for restarts.
func (rt *Runtime) Start() error {
	rt.startMu.Lock()
	defer rt.startMu.Unlock()

	switch rt.State() {
	case StateStarting, StateRunning:
		return nil
	case StateStopping:
		return fmt.Errorf("%w: runtime %s is stopping", ErrStopped, rt.id)
	}
	rt.stopFlag.Store(false)
	rt.done = make(chan struct{})
	rt.state.Store(int32(StateStarting))

	if _, ok := rt.registry.Get(rt.id); !ok {
		err := rt.registry.Register(AgentInfo{
			ID:           rt.id,
			Role:         rt.role,
			Slot:         rt.slot,
			Capabilities: rt.capabilities,
			State:        StateStarting,
			Config:       rt.config,
		})
		if err != nil {
			rt.state.Store(int32(StateFailed))
			close(rt.done)
			return err
		}
	}
	rt.registry.UpdateState(rt.id, StateStarting)

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel

	if rt.onStart != nil {
		if err := rt.onStart(ctx); err != nil {
			cancel()
			rt.state.Store(int32(StateFailed))
			rt.registry.UpdateState(rt.id, StateFailed)
			close(rt.done)
			return fmt.Errorf("start %s: %w", rt.id, err)
		}
	}

	rt.state.Store(int32(StateRunning))
	rt.registry.UpdateState(rt.id, StateRunning)
	rt.logger.Info("agent started", "agent", rt.id, "role", rt.role)

	go rt.loop(ctx, rt.done)
	return nil
}

// Stop signals the loop, waits for it to drain the in-flight message, and
// transitions to STOPPED. Idempotent; safe to call concurrently.
func (rt *Runtime) Stop() {
	rt.startMu.Lock()
	switch rt.State() {
	case StateCreated:
		rt.state.Store(int32(StateStopped))
		close(rt.done)
		rt.startMu.Unlock()
		return
	case StateStopped, StateStopping, StateFailed:
		done := rt.done
		rt.startMu.Unlock()
		<-done
		return
	}
	rt.state.Store(int32(StateStopping))
	rt.registry.UpdateState(rt.id, StateStopping)
	rt.stopFlag.Store(true)
	rt.cancel()
	done := rt.done
	rt.startMu.Unlock()

	<-done
}

// Send constructs a message and forwards it through the registry.
func (rt *Runtime) Send(to string, kind Kind, payload any) error {
	m, err := NewMessage(rt.id, to, kind, payload)
	if err != nil {
		return err
	}
	return rt.registry.Route(m)
}

// loop drains the mailbox until the stop flag is observed. The wait wakes
// at least every 100 ms; queued messages are drained fully before
// re-blocking, except that an observed stop finishes the current message
// and abandons the rest.
func (rt *Runtime) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer rt.cancel()
	defer func() {
		if rt.onStop != nil {
			rt.onStop(context.Background())
		}
		if rt.State() != StateFailed {
			rt.state.Store(int32(StateStopped))
			rt.registry.UpdateState(rt.id, StateStopped)
		}
		rt.logger.Info("agent stopped", "agent", rt.id)
	}()

	mb := rt.registry.Mailbox(rt.id)
	if mb == nil {
		rt.state.Store(int32(StateFailed))
		rt.registry.UpdateState(rt.id, StateFailed)
		rt.logger.Error("mailbox missing", "agent", rt.id)
		return
	}

	health := rt.registry.Health(rt.id)
	for !rt.stopFlag.Load() {
		// An idle loop is a live loop; a hung handler stops the beats.
		if health != nil {
			health.Beat()
		}
		batch := mb.TakeWait(loopWakeInterval, 0)
		for _, m := range batch {
			rt.dispatch(ctx, m)
			if rt.stopFlag.Load() {
				return
			}
		}
	}
}

// dispatch runs the handler for one message, recording the outcome on the
// agent's circuit breaker and heartbeat.
func (rt *Runtime) dispatch(ctx context.Context, m Message) {
	br := rt.registry.Breaker(rt.id)
	if br != nil && !br.Allow() {
		rt.logger.Warn("message dropped, breaker open", "agent", rt.id, "kind", m.Kind.String())
		return
	}

	err := rt.invoke(ctx, m)
	if err == nil {
		if h := rt.registry.Health(rt.id); h != nil {
			h.Beat()
		}
		if br != nil {
			br.RecordSuccess()
		}
		return
	}

	if br != nil {
		br.RecordFailure()
	}
	rt.logger.Warn("handler failed", "agent", rt.id, "kind", m.Kind.String(), "error", err)
	if rt.supervisor != "" {
		_ = rt.Send(rt.supervisor, KindError, ErrorPayload{
			AgentID: rt.id,
			Kind:    m.Kind.String(),
			Error:   err.Error(),
		})
	}
}

// invoke calls the registered handler (or the on-message fallback),
// converting a panic into a handler error.
func (rt *Runtime) invoke(ctx context.Context, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ErrHandler{AgentID: rt.id, Kind: m.Kind, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	fn, ok := rt.handlers[m.Kind]
	if !ok {
		fn = rt.onMessage
	}
	if fn == nil {
		return nil
	}
	if rt.middleware != nil {
		fn = rt.middleware(rt.id, fn)
	}
	if herr := fn(ctx, m); herr != nil {
		return &ErrHandler{AgentID: rt.id, Kind: m.Kind, Err: herr}
	}
	return nil
}

// handleHeartbeat replies HEARTBEAT_ACK to the sender. A sender that
// vanished before the reply is its problem, not a handler failure.
func (rt *Runtime) handleHeartbeat(ctx context.Context, m Message) error {
	if m.From == "" {
		return nil
	}
	if err := rt.Send(m.From, KindHeartbeatAck, nil); err != nil {
		rt.logger.Debug("heartbeat ack dropped", "agent", rt.id, "to", m.From)
	}
	return nil
}

// handleShutdown raises the stop flag; the loop exits after the current
// batch position.
func (rt *Runtime) handleShutdown(ctx context.Context, m Message) error {
	rt.state.Store(int32(StateStopping))
	rt.registry.UpdateState(rt.id, StateStopping)
	rt.stopFlag.Store(true)
	return nil
}
