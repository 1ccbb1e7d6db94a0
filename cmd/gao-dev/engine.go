package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gao-dev/gao-dev/internal/agentrunner"
	"github.com/gao-dev/gao-dev/internal/ceremony"
	"github.com/gao-dev/gao-dev/internal/config"
	"github.com/gao-dev/gao-dev/internal/gitops"
	"github.com/gao-dev/gao-dev/internal/learning"
	"github.com/gao-dev/gao-dev/internal/logging"
	"github.com/gao-dev/gao-dev/internal/orchestrator"
	"github.com/gao-dev/gao-dev/internal/state"
	"github.com/gao-dev/gao-dev/internal/store"
	"github.com/gao-dev/gao-dev/internal/trigger"
	"github.com/gao-dev/gao-dev/internal/workflow"
)

// engine bundles the wired orchestration core for one CLI invocation.
type engine struct {
	cfg    *config.Config
	root   string
	logger *slog.Logger
	orch   *orchestrator.Orchestrator
	state  *state.Coordinator

	logFile io.Closer
	store   *store.Store
	lock    *state.Lock
}

// openEngine wires the core against the current working directory. It
// refuses to run inside the orchestrator's own source tree, takes the
// project lock, and reconciles state with git before returning.
func openEngine() (*engine, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	if err := gitops.GuardSourceTree(root); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, logFile, err := logging.New(cfg.Logging, root)
	if err != nil {
		return nil, err
	}

	git := gitops.NewGateway(root)
	isRepo, err := git.IsRepo()
	if err != nil {
		logFile.Close()
		return nil, err
	}
	if !isRepo {
		logFile.Close()
		return nil, fmt.Errorf("%s is not a git repository; run 'gao-dev init' first", root)
	}

	s, err := store.OpenProject(root)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	if err := s.Migrate(git); err != nil {
		s.Close()
		logFile.Close()
		return nil, err
	}

	lock, err := state.AcquireLock(root)
	if err != nil {
		s.Close()
		logFile.Close()
		return nil, err
	}

	coord := state.NewCoordinator(s, git, root, logger)
	coord.SetCircuitThreshold(cfg.Safety.CircuitThreshold)
	if n, err := coord.Recover(); err != nil {
		logger.Warn("startup recovery failed", "error", err)
	} else if n > 0 {
		fmt.Printf("Recovered state: dropped %d record(s) with no backing commit.\n", n)
	}

	learnings := learning.NewService(coord, logger)
	guard := trigger.NewGuard(cfg.Safety)

	catalog, err := workflow.LoadCatalog(cfg.Workflow.CatalogDir)
	if err != nil {
		lock.Release()
		s.Close()
		logFile.Close()
		return nil, err
	}
	selector := workflow.NewSelector(catalog, learnings, logger)

	runner := agentrunner.NewSubprocess(cfg, root, logger)
	ceremonies := ceremony.NewOrchestrator(coord, runner, guard, learnings, cfg.Timeouts.Ceremony, logger)
	orch := orchestrator.New(cfg, coord, runner, selector, ceremonies, learnings, logger)

	return &engine{
		cfg:     cfg,
		root:    root,
		logger:  logger,
		orch:    orch,
		state:   coord,
		logFile: logFile,
		store:   s,
		lock:    lock,
	}, nil
}

// Close releases the lock and every handle the engine holds.
func (e *engine) Close() {
	e.orch.Close()
	if err := e.lock.Release(); err != nil {
		e.logger.Warn("release lock", "error", err)
	}
	e.store.Close()
	e.logFile.Close()
}
