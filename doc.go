// Package hive is an in-process multi-agent coordination runtime for Go.
//
// It provides message-driven agents with supervision, coordinated shared
// state, and task orchestration: each agent owns a private mailbox drained
// by a sequential message loop, supervisors restart failed children under
// rate-limited strategies, a coordinator mediates section-locked edits to a
// shared document, and an orchestrator composes a versioned knowledge base,
// a dependency-aware task scheduler, a consensus manager, and an agent
// registry behind one façade.
//
// # Quick Start
//
// Build an orchestrator and drive it directly:
//
//	orch := hive.NewOrchestrator()
//	if err := orch.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer orch.Stop()
//
//	agentID, _ := orch.SpawnAgent("coder-1", "coder", 0, []string{"go"}, nil)
//
//	taskID, _ := orch.SubmitTask(hive.Task{
//		Type:        hive.TaskGenerate,
//		Description: "implement the parser",
//		Priority:    8,
//	})
//
//	task, ok := orch.NextTask([]string{"coder"})
//
// Or host long-running actors directly on the registry:
//
//	rt := hive.NewRuntime("worker-1", reg,
//		hive.WithHandler(hive.KindTask, handleTask),
//	)
//	rt.Start()
//
// # Core Pieces
//
// The root package defines the coordination core:
//
//   - [Runtime] — one agent: mailbox loop, handler dispatch, lifecycle
//   - [Registry] — id/slot lookup, message routing, broadcast
//   - [Supervisor] — heartbeat monitoring and rate-limited restarts
//   - [Breaker] — per-agent circuit breaker gating message processing
//   - [Coordinator] — exclusive section locks on a shared document
//   - [KnowledgeBase] — versioned key→value store with tag queries
//   - [TaskScheduler] — priority queue with dependency resolution
//   - [Consensus] — majority/weighted voting with threshold evaluation
//   - [Orchestrator] — the composed façade plus periodic housekeeping
//
// Persistence adapters live in store/sqlite and store/postgres,
// OpenTelemetry instrumentation in observer, and the HTTP/JSON façade in
// httpapi. See cmd/hived for a complete server binary.
package hive
