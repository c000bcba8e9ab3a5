// Command hived runs the hive coordination runtime behind its HTTP/JSON
// façade.
//
// Configuration comes from hive.toml (or the path in -config) with
// HIVE_* env overrides. Persistence and OTEL export are opt-in via the
// knowledge and observer config sections.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/nevindra/hive"
	"github.com/nevindra/hive/httpapi"
	"github.com/nevindra/hive/internal/config"
	"github.com/nevindra/hive/observer"
	"github.com/nevindra/hive/store/postgres"
	"github.com/nevindra/hive/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hived:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to hive.toml")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Observer first so instruments exist before traffic.
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
			defer c()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("observer shutdown", "error", err)
			}
		}()
		logger.Info("observer enabled")
	}

	opts := []hive.OrchestratorOption{
		hive.WithOrchestratorLogger(logger),
		hive.WithMaxAgents(cfg.Orchestrator.MaxAgents),
		hive.WithAgentTimeout(time.Duration(cfg.Orchestrator.DefaultAgentTimeout) * time.Millisecond),
		hive.WithSections(cfg.Orchestrator.Sections),
		hive.WithRetention(time.Duration(cfg.Messaging.Retention) * time.Millisecond),
		hive.WithVotingTimeout(time.Duration(cfg.Consensus.VotingTimeout) * time.Millisecond),
		hive.WithRegistryOptions(
			hive.WithMailboxCapacity(cfg.Messaging.MailboxCapacity),
			hive.WithMaxMessageSize(cfg.Messaging.MaxMessageSize),
			hive.WithBreakerOptions(
				hive.WithFailureThreshold(cfg.Breaker.FailureThreshold),
				hive.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
				hive.WithOpenTimeout(cfg.Breaker.OpenTimeout),
			),
		),
		hive.WithKnowledgeOptions(hive.WithMaxEntries(cfg.Knowledge.MaxEntries)),
		hive.WithSchedulerOptions(hive.WithMaxQueueSize(cfg.Scheduler.MaxQueueSize)),
	}
	if vt, err := hive.ParseVoteType(cfg.Consensus.DefaultType); err == nil {
		opts = append(opts, hive.WithDefaultVoteType(vt))
	}

	supOpts := []hive.SupervisorOption{
		hive.WithHealthCheckInterval(time.Duration(cfg.Supervisor.HealthCheckInterval) * time.Millisecond),
		hive.WithRestartWindow(time.Duration(cfg.Supervisor.MaxRestartWindow) * time.Millisecond),
		hive.WithMaxRestarts(cfg.Supervisor.MaxRestarts),
	}
	if inst != nil {
		mw := hive.Middleware(func(agentID string, fn hive.Handler) hive.Handler {
			return observer.WrapHandler(inst, agentID, fn)
		})
		supOpts = append(supOpts,
			hive.WithSupervisorRuntimeOptions(hive.WithMiddleware(mw)),
			hive.WithOnRestart(func(childID string) {
				inst.AgentRestarts.Add(context.Background(), 1,
					metric.WithAttributes(attribute.String("agent.id", childID)))
			}),
		)
		opts = append(opts,
			hive.WithCoordinatorOptions(hive.WithCoordinatorRuntimeOptions(hive.WithMiddleware(mw))),
			hive.WithTaskResultFunc(func(res hive.TaskResult) {
				observer.RecordTaskResult(context.Background(), inst, res)
			}),
			hive.WithVoteFinalizedFunc(func(voteID, result string) {
				inst.VotesFinalized.Add(context.Background(), 1)
			}),
		)
	}
	opts = append(opts, hive.WithSupervisorOptions(supOpts...))

	if cfg.Knowledge.Persistence {
		if cfg.Knowledge.PostgresURL != "" {
			pool, err := pgxpool.New(ctx, cfg.Knowledge.PostgresURL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			opts = append(opts, hive.WithKnowledgeStore(postgres.New(pool)))
			logger.Info("knowledge persistence", "backend", "postgres")
		} else {
			st := sqlite.New(cfg.Knowledge.StoragePath, sqlite.WithLogger(logger))
			defer st.Close()
			opts = append(opts, hive.WithKnowledgeStore(st))
			logger.Info("knowledge persistence", "backend", "sqlite", "path", cfg.Knowledge.StoragePath)
		}
	}

	orch := hive.NewOrchestrator(opts...)
	if err := orch.Start(); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orch.Stop()

	api := httpapi.New(orch, httpapi.WithLogger(logger))
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
		defer c()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shut down cleanly")
	return nil
}
