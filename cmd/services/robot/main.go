package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/platform/config"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/database"
	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
	"github.com/linkflow-ai/linkflow-ai/internal/robot"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/durable"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/engine"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/expression"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
	"github.com/linkflow-ai/linkflow-ai/internal/workflow/runtime"
)

// noSubflows rejects subflow execution. A robot process that needs to run
// subflows wires a real engine.SubflowRunner backed by a workflow store
// lookup plus a nested Engine.Run call; this standalone daemon has no such
// store, so it fails the node explicitly instead of silently no-oping.
type noSubflows struct{}

func (noSubflows) RunSubflow(ctx context.Context, ref string, inputs map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("subflow %q: no subflow runner configured on this robot", ref)
}

func main() {
	cfg, err := config.Load("robot")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := cfg.Robot.Validate(); err != nil {
		panic(fmt.Sprintf("invalid robot config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("Starting Robot daemon", "version", cfg.Version, "name", cfg.Robot.Name, "orchestrator", cfg.Orchestrator.URL)

	nodeRegistry := runtime.NewRegistry()
	if err := runtime.RegisterBuiltins(nodeRegistry); err != nil {
		log.Fatal("failed to register builtin node types", "error", err)
	}

	resolver := expression.New(func(format string, args ...interface{}) {
		log.Warn(fmt.Sprintf(format, args...))
	})

	checkpoints := durable.CheckpointStore(durable.NewMemoryCheckpointStore())
	if cfg.Database.CheckpointStoreEnabled {
		db, err := database.New(cfg.Database)
		if err != nil {
			log.Fatal("failed to connect to checkpoint database", "error", err)
		}
		sqlStore, err := durable.NewSQLCheckpointStore(db.DB, durable.DialectPostgres, cfg.Database.CheckpointTable)
		if err != nil {
			log.Fatal("failed to initialize SQL checkpoint store", "error", err)
		}
		checkpoints = sqlStore
		log.Info("using SQL checkpoint store", "table", cfg.Database.CheckpointTable)
	}

	rt := durable.NewRuntime(
		nodeRegistry,
		resolver,
		engine.StrategySequential,
		noSubflows{},
		log,
		checkpoints,
		model.DefaultLimits,
		1,
	)

	client := robot.New(robot.Config{
		OrchestratorURL:   cfg.Orchestrator.URL,
		APIKey:            cfg.Orchestrator.APIKey,
		Name:              cfg.Robot.Name,
		Environment:       cfg.Robot.Environment,
		Capabilities:      cfg.Robot.Capabilities,
		Tags:              cfg.Robot.Tags,
		MaxConcurrentJobs: cfg.Robot.MaxConcurrentJobs,
	}, rt, log)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig)

	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("robot daemon did not stop within grace period")
	}

	log.Info("Robot daemon stopped gracefully")
}
