package hive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisor_RestartOnError(t *testing.T) {
	r := NewRegistry()
	sv := NewSupervisor("sup", r, WithHealthCheckInterval(time.Hour))

	var starts atomic.Int32
	child := NewRuntime("c1", r,
		WithSupervisor("sup"),
		WithOnStart(func(ctx context.Context) error {
			starts.Add(1)
			return nil
		}),
		WithHandler(KindUser, func(ctx context.Context, m Message) error {
			return errors.New("unhealthy")
		}))
	sv.AddChild(child)

	if err := sv.Start(); err != nil {
		t.Fatal(err)
	}
	defer sv.Stop()

	if err := r.Route(testMsg("x", "c1")); err != nil {
		t.Fatal(err)
	}
	// The supervisor receives the ERROR report and restarts the child.
	waitFor(t, 2*time.Second, func() bool {
		return starts.Load() >= 2 && child.State() == StateRunning
	})
}

func TestSupervisor_RestartHook(t *testing.T) {
	r := NewRegistry()
	var restarted atomic.Int32
	sv := NewSupervisor("sup", r,
		WithHealthCheckInterval(time.Hour),
		WithOnRestart(func(childID string) {
			if childID == "c1" {
				restarted.Add(1)
			}
		}))
	child := NewRuntime("c1", r,
		WithSupervisor("sup"),
		WithHandler(KindUser, func(ctx context.Context, m Message) error {
			return errors.New("unhealthy")
		}))
	sv.AddChild(child)
	if err := sv.Start(); err != nil {
		t.Fatal(err)
	}
	defer sv.Stop()

	if err := r.Route(testMsg("x", "c1")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return restarted.Load() >= 1 })
}

func TestSupervisor_StopConcurrent(t *testing.T) {
	r := NewRegistry()
	sv := NewSupervisor("sup", r, WithHealthCheckInterval(time.Hour))
	sv.AddChild(NewRuntime("c1", r, WithSupervisor("sup")))
	if err := sv.Start(); err != nil {
		t.Fatal(err)
	}

	// A double close of the monitor channel would panic here.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sv.Stop()
		}()
	}
	wg.Wait()
}

func TestSupervisor_OneForAll(t *testing.T) {
	r := NewRegistry()
	sv := NewSupervisor("sup", r,
		WithStrategy(OneForAll),
		WithHealthCheckInterval(time.Hour))

	var stops atomic.Int32
	mkChild := func(id string) *Runtime {
		return NewRuntime(id, r,
			WithSupervisor("sup"),
			WithOnStop(func(ctx context.Context) { stops.Add(1) }))
	}
	c1, c2, c3 := mkChild("c1"), mkChild("c2"), mkChild("c3")
	sv.AddChild(c1)
	sv.AddChild(c2)
	sv.AddChild(c3)

	if err := sv.Start(); err != nil {
		t.Fatal(err)
	}
	defer sv.Stop()

	sv.handleChildFailure("c2")
	// Every child was bounced, and all run again afterward.
	if got := stops.Load(); got != 3 {
		t.Errorf("stopped %d children, want 3", got)
	}
	for _, c := range []*Runtime{c1, c2, c3} {
		if c.State() != StateRunning {
			t.Errorf("child %s state = %v after one_for_all, want running", c.ID(), c.State())
		}
	}
}

func TestSupervisor_RestForOne(t *testing.T) {
	r := NewRegistry()
	sv := NewSupervisor("sup", r,
		WithStrategy(RestForOne),
		WithHealthCheckInterval(time.Hour))

	var mu sync.Mutex
	var stopped []string
	mkChild := func(id string) *Runtime {
		return NewRuntime(id, r,
			WithSupervisor("sup"),
			WithOnStop(func(ctx context.Context) {
				mu.Lock()
				stopped = append(stopped, id)
				mu.Unlock()
			}))
	}
	c1, c2, c3 := mkChild("c1"), mkChild("c2"), mkChild("c3")
	sv.AddChild(c1)
	sv.AddChild(c2)
	sv.AddChild(c3)

	if err := sv.Start(); err != nil {
		t.Fatal(err)
	}
	defer sv.Stop()

	sv.handleChildFailure("c2")
	mu.Lock()
	got := append([]string(nil), stopped...)
	mu.Unlock()
	// c2 and everything after it bounce, in reverse order; c1 is untouched.
	if len(got) != 2 || got[0] != "c3" || got[1] != "c2" {
		t.Errorf("stopped = %v, want [c3 c2]", got)
	}
	for _, c := range []*Runtime{c1, c2, c3} {
		if c.State() != StateRunning {
			t.Errorf("child %s state = %v, want running", c.ID(), c.State())
		}
	}
}

// Three restarts inside the window are honored; the fourth failure leaves
// the child stopped.
func TestSupervisor_RestartRateLimit(t *testing.T) {
	r := NewRegistry()
	sv := NewSupervisor("sup", r,
		WithMaxRestarts(3),
		WithRestartWindow(time.Minute),
		WithHealthCheckInterval(time.Hour))

	child := NewRuntime("c1", r, WithSupervisor("sup"))
	sv.AddChild(child)
	if err := sv.Start(); err != nil {
		t.Fatal(err)
	}
	defer sv.Stop()

	for i := 0; i < 3; i++ {
		sv.handleChildFailure("c1")
		if got := child.State(); got != StateRunning {
			t.Fatalf("restart %d: state = %v, want running", i+1, got)
		}
	}
	sv.handleChildFailure("c1")
	if got := child.State(); got != StateStopped {
		t.Errorf("state after exhausting restart budget = %v, want stopped", got)
	}
}

func TestSupervisor_WindowSlides(t *testing.T) {
	r := NewRegistry()
	sv := NewSupervisor("sup", r,
		WithMaxRestarts(1),
		WithRestartWindow(50*time.Millisecond),
		WithHealthCheckInterval(time.Hour))

	child := NewRuntime("c1", r, WithSupervisor("sup"))
	sv.AddChild(child)
	if err := sv.Start(); err != nil {
		t.Fatal(err)
	}
	defer sv.Stop()

	if !sv.shouldRestart("c1") {
		t.Fatal("first restart denied")
	}
	if sv.shouldRestart("c1") {
		t.Fatal("second restart inside window allowed")
	}
	time.Sleep(80 * time.Millisecond)
	if !sv.shouldRestart("c1") {
		t.Error("restart denied after window slid past earlier attempts")
	}
}

func TestSupervisor_MonitorDetectsStaleHeartbeat(t *testing.T) {
	r := NewRegistry(WithHeartbeatTimeout(30))
	sv := NewSupervisor("sup", r, WithHealthCheckInterval(20*time.Millisecond))

	// A child whose heartbeat handler hangs blocks its loop, so the health
	// record goes stale and the monitor restarts it.
	var starts atomic.Int32
	block := make(chan struct{})
	child := NewRuntime("c1", r,
		WithSupervisor("sup"),
		WithOnStart(func(ctx context.Context) error {
			starts.Add(1)
			return nil
		}),
		WithHandler(KindHeartbeat, func(ctx context.Context, m Message) error {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil
		}))
	sv.AddChild(child)
	if err := sv.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		close(block)
		sv.Stop()
	}()

	waitFor(t, 3*time.Second, func() bool { return starts.Load() >= 2 })
}

func TestSupervisor_RemoveChild(t *testing.T) {
	r := NewRegistry()
	sv := NewSupervisor("sup", r, WithHealthCheckInterval(time.Hour))
	child := NewRuntime("c1", r, WithSupervisor("sup"))
	sv.AddChild(child)
	sv.RemoveChild("c1")
	if got := len(sv.Children()); got != 0 {
		t.Errorf("Children() has %d entries after RemoveChild, want 0", got)
	}
	// A forgotten child is not restarted.
	sv.handleChildFailure("c1")
	if got := child.State(); got != StateCreated {
		t.Errorf("removed child state = %v, want created (untouched)", got)
	}
}
