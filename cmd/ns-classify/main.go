package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/forest"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/maliciouslog"
	"Go2NetSentinel/internal/model"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	keep := flag.Bool("keep", false, "keep the table after classification")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <table.csv>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	tablePath := flag.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Must(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, tablePath, *keep, logger); err != nil {
		logger.Error("Classification failed", zap.String("file", tablePath), zap.String("kind", model.Kind(err)), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, tablePath string, keep bool, logger *zap.Logger) error {
	classifier, err := forest.New(cfg.Model)
	if err != nil {
		return err
	}
	store, err := maliciouslog.Open(cfg.MaliciousLog, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := forest.ClassifyFile(ctx, classifier, tablePath)
	if !keep {
		defer os.Remove(tablePath)
	}
	if err != nil {
		return err
	}

	now := time.Now()
	var entries []model.MaliciousEntry
	for _, r := range results {
		if r.Malicious() {
			entries = append(entries, model.MaliciousEntry{SourceIP: r.Record.SourceIP, DetectedAt: now})
		}
	}
	if err := store.Append(ctx, entries); err != nil {
		return err
	}
	fmt.Printf("Classified %d rows from %s: %d malicious\n", len(results), tablePath, len(entries))
	return nil
}
