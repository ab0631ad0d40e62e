package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Go2NetSentinel/internal/alerter"
	"Go2NetSentinel/internal/api"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/extractor"
	"Go2NetSentinel/internal/forest"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/maliciouslog"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/notification"
	"Go2NetSentinel/internal/pipeline"
	"Go2NetSentinel/internal/watcher"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Must(cfg.Log)
	defer logger.Sync()
	logger.Info("Starting ns-watch...", zap.String("config", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("ns-watch failed", zap.Error(err))
	}
	logger.Info("Shutdown complete.")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	// 2. Load the model before watching anything
	classifier, err := forest.New(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to load classifier: %w", err)
	}
	logger.Info("Classifier loaded", zap.String("backend", cfg.Model.Backend), zap.String("path", cfg.Model.Path))

	// 3. Storage, alert log and sinks
	store, err := maliciouslog.Open(cfg.MaliciousLog, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	alertLog, err := alerter.NewAlertLog(cfg.Alerts.LogPath)
	if err != nil {
		return err
	}
	sinks, err := notification.Build(ctx, cfg.Alerts, logger)
	if err != nil {
		return fmt.Errorf("failed to set up alert sinks: %w", err)
	}
	defer sinks.Close()

	monitorOpts, err := alerter.OptionsFromConfig(cfg.Monitor)
	if err != nil {
		return err
	}
	monitor := alerter.NewMonitor(store, alertLog, sinks.List, monitorOpts, logger.Named("monitor"), m)

	// 4. Pipeline and watcher
	var trigger pipeline.Trigger
	if cfg.Monitor.TriggerOnUpdate {
		trigger = monitor
	}
	ex := extractor.New(extractor.Options{TCPOnly: cfg.Extractor.TCPOnly, OutputDir: cfg.Extractor.OutputDir}, logger.Named("extractor"))
	orch := pipeline.New(pipeline.Options{
		Workers:   cfg.Pipeline.Workers,
		QueueSize: cfg.Pipeline.QueueSize,
		Mode:      cfg.Pipeline.Mode,
	}, ex, classifier, store, trigger, logger.Named("pipeline"), m)
	orch.Start()
	defer orch.Stop()

	settle, err := config.ParseOptionalDuration(cfg.Watcher.SettleDelay)
	if err != nil {
		return fmt.Errorf("invalid watcher settle_delay: %w", err)
	}
	w, err := watcher.New(watcher.Options{Dir: cfg.Watcher.Dir, SettleDelay: settle, Backfill: cfg.Watcher.Backfill}, orch, logger.Named("watcher"))
	if err != nil {
		return err
	}

	// 5. Run everything until a shutdown signal
	// The monitor's shutdown pass waits for the watcher, which returns only
	// after every dispatched job has appended its entries.
	watcherDone := make(chan struct{})
	monitor.FinalPassAfter(watcherDone)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(watcherDone)
		return w.Run(gctx)
	})
	g.Go(func() error { return monitor.Run(gctx) })
	if cfg.API.Enabled {
		srv := api.New(cfg.API, store, monitor.Recent, m, logger.Named("api"))
		g.Go(func() error { return srv.Run(gctx) })
	}
	return g.Wait()
}
