package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Go2NetSentinel/internal/alerter"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/maliciouslog"
	"Go2NetSentinel/internal/notification"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [malicious_log]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if flag.NArg() > 0 {
		cfg.MaliciousLog.Path = flag.Arg(0)
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid malicious log path: %v\n", err)
			os.Exit(1)
		}
	}
	logger := logging.Must(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, logger); err != nil {
		logger.Fatal("ns-monitor failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, logger *zap.Logger) error {
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
		return err
	}
	defer sinks.Close()

	opts, err := alerter.OptionsFromConfig(cfg.Monitor)
	if err != nil {
		return err
	}
	monitor := alerter.NewMonitor(store, alertLog, sinks.List, opts, logger, nil)
	if once {
		events, err := monitor.Pass(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d attack(s) detected\n", len(events))
		return nil
	}
	return monitor.Run(ctx)
}
