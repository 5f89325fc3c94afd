// Package main is the entry point for the coda voice-assistant core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codalite/coda/internal/buildinfo"
	"github.com/codalite/coda/internal/config"
	"github.com/codalite/coda/internal/events"
	"github.com/codalite/coda/internal/memory"
	"github.com/codalite/coda/internal/orchestrator"
	"github.com/codalite/coda/internal/perf"
	"github.com/codalite/coda/internal/scheduler"
	"github.com/codalite/coda/internal/usage"
	"github.com/codalite/coda/internal/wsserver"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	if err := run(logger, *configPath); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run performs the full startup sequence, blocks until a shutdown
// signal arrives, then runs the orchestrator's shutdown sequence.
// Stopping the WS server and the process exit code are handled here
// rather than by the orchestrator, which owns only its own lifecycle.
func run(logger *slog.Logger, configPath string) error {
	logger.Info("starting coda", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.Models.Default)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	bus := events.New()
	tracker := perf.New(logger, bus, time.Duration(cfg.Perf.SamplingIntervalSec)*time.Second)
	tracker.Start(context.Background())
	defer tracker.Stop()

	wsSrv := wsserver.New(bus, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	if err := wsSrv.Start(addr); err != nil {
		return fmt.Errorf("start ws server: %w", err)
	}
	defer wsSrv.Stop()

	mgr, policy, closeMem, err := buildMemory(cfg, logger, bus)
	if err != nil {
		return fmt.Errorf("build memory: %w", err)
	}
	defer closeMem()
	workingLog := memory.NewWorkingLog(cfg.Memory.ShortTermCapacity, logger)

	llmClient := buildLLMClient(cfg, logger)
	rtr := buildRouter(cfg, logger)

	usageStore, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer usageStore.Close()

	registry, err := buildRegistry(cfg, mgr, workingLog)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	transcriber, speaker, err := buildVoiceAdapters(cfg)
	if err != nil {
		return fmt.Errorf("build voice adapters: %w", err)
	}

	orch, err := orchestrator.NewOrchestrator(orchestrator.Config{
		Model:              cfg.Models.Default,
		ContextTokenBudget: 800,
	}, orchestrator.Deps{
		Transcriber: transcriber,
		LLMClient:   llmClient,
		Speaker:     speaker,
		WorkingLog:  workingLog,
		LongTerm:    mgr,
		Registry:    registry,
		Router:      rtr,
		UsageStore:  usageStore,
		Pricing:     cfg.Pricing(),
		Bus:         bus,
		Tracker:     tracker,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("construct orchestrator: %w", err)
	}

	sched, err := buildScheduler(cfg, logger, policy)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	defer sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("coda running", "addr", addr)
	<-ctx.Done()

	if err := orch.Shutdown(); err != nil {
		logger.Error("orchestrator shutdown failed", "error", err)
	}
	logger.Info("coda stopped")
	return nil
}

func buildScheduler(cfg *config.Config, logger *slog.Logger, policy *memory.Policy) (*scheduler.Scheduler, error) {
	store, err := scheduler.NewStore(filepath.Join(cfg.DataDir, "scheduler.db"))
	if err != nil {
		return nil, fmt.Errorf("open scheduler store: %w", err)
	}

	execute := func(ctx context.Context, task *scheduler.Task, exec *scheduler.Execution) error {
		if task.Payload.Kind != scheduler.PayloadConsolidate {
			logger.Warn("scheduler task has no handler", "kind", task.Payload.Kind, "task", task.Name)
			return nil
		}
		evicted, clusters, err := policy.RunConsolidation()
		if err != nil {
			return err
		}
		logger.Info("memory consolidation complete", "evicted", len(evicted), "clusters", len(clusters))
		return nil
	}

	sched := scheduler.New(logger, store, execute)
	if err := sched.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	if err := ensureConsolidationTask(sched); err != nil {
		logger.Warn("could not register consolidation task", "error", err)
	}
	return sched, nil
}

// ensureConsolidationTask registers the periodic memory-consolidation
// task on first run. A repeated run leaves an existing task alone
// rather than duplicating it, since CreateTask has no upsert form.
func ensureConsolidationTask(sched *scheduler.Scheduler) error {
	const taskName = "memory-consolidation"
	tasks, err := sched.ListTasks(false)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Name == taskName {
			return nil
		}
	}
	return sched.CreateTask(&scheduler.Task{
		ID:   scheduler.NewID(),
		Name: taskName,
		Schedule: scheduler.Schedule{
			Kind:  scheduler.ScheduleEvery,
			Every: &scheduler.Duration{Duration: 30 * time.Minute},
		},
		Payload:   scheduler.Payload{Kind: scheduler.PayloadConsolidate},
		Enabled:   true,
		CreatedAt: time.Now(),
		CreatedBy: "coda",
	})
}
