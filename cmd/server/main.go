package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/godnc/internal/config"
	"github.com/me/godnc/internal/logging"
	"github.com/me/godnc/internal/material"
	"github.com/me/godnc/internal/metric"
	"github.com/me/godnc/internal/protocol"
	"github.com/me/godnc/internal/registry"
	"github.com/me/godnc/internal/scheduler"
	"github.com/me/godnc/internal/server"
	"github.com/me/godnc/internal/store"
	"github.com/me/godnc/pkg/model"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	connectOnStart := flag.Bool("connect", true, "Connect to configured machines on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.Server.LogFormat = *logFormat
	}
	if *debug {
		cfg.Server.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.Server.LogLevel), cfg.Server.LogFormat)

	// Material engine: configured matrix or the shipped one, plus an
	// optional material→group table file.
	costs := cfg.Materials.Costs
	if len(costs) == 0 {
		costs = material.DefaultCosts()
	}
	engine, err := material.New(costs, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "material engine: %v\n", err)
		os.Exit(1)
	}
	if cfg.Materials.TablePath != "" {
		f, err := os.Open(cfg.Materials.TablePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open material table: %v\n", err)
			os.Exit(1)
		}
		err = engine.Load(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load material table: %v\n", err)
			os.Exit(1)
		}
	}

	// Resolve archive path.
	archivePath := cfg.ArchivePath
	if archivePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".godnc")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		archivePath = filepath.Join(dir, "godnc.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(archivePath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", archivePath)

	// Registries seeded from config.
	machines := registry.NewMachineRegistry(logger)
	tasks := registry.NewTaskRegistry(logger)
	for _, mc := range cfg.Machines {
		machines.Add(model.Machine{
			ID:       mc.ID,
			Host:     mc.Host,
			Port:     mc.Port,
			Enabled:  mc.IsEnabled(),
			Material: mc.Material,
		})
	}

	metrics := metric.New()

	// Protocol manager for machine connections.
	manager := protocol.NewManager(protocol.Config{
		RequestTimeout:       cfg.Protocol.RequestTimeout(),
		ReconnectMaxAttempts: cfg.Protocol.ReconnectMaxAttempts,
		ReconnectBaseDelay:   cfg.Protocol.ReconnectBaseDelay(),
	}, machines, logger)
	manager.SetObserver(metrics)
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *connectOnStart {
		if err := manager.ConnectAll(ctx); err != nil {
			logger.Warn("some machines unreachable at startup", "error", err)
		}
	}

	// Scheduling loop.
	sched := scheduler.New(scheduler.Config{
		Strategy:      model.Strategy(cfg.Scheduling.Strategy),
		CheckInterval: cfg.Scheduling.CheckInterval(),
		MaxRetries:    cfg.Scheduling.MaxRetries,
		LoadWindow:    cfg.Scheduling.LoadWindow(),
	}, scheduler.Deps{
		Machines:   machines,
		Tasks:      tasks,
		Dispatcher: manager,
		Engine:     engine,
		Recorder:   st,
		Metrics:    metrics,
		Logger:     logger,
	})
	sched.Start()
	defer sched.Stop()

	srv := server.New(cfg.Server, machines, tasks, sched, logger,
		server.WithConns(manager),
		server.WithEngine(engine),
		server.WithArchive(st),
		server.WithMetricsHandler(metrics.Handler()),
	)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr, "machines", len(cfg.Machines))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
