package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/extractor"
	"Go2NetSentinel/internal/logging"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the configuration file")
	tcpOnly := flag.Bool("tcp-only", true, "keep only TCP packets (default from extractor.tcp_only)")
	outputDir := flag.String("out", "", "directory for the feature table (default from extractor.output_dir, else next to the capture)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <capture.pcap>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	capturePath := flag.Arg(0)

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := loadConfig(*configPath, set["config"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	opts := extractorOptions(cfg.Extractor, set, *tcpOnly, *outputDir)

	logger := logging.Must(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex := extractor.New(opts, logger)
	res, err := ex.Extract(ctx, capturePath)
	if err != nil {
		logger.Error("Extraction failed", zap.String("file", capturePath), zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("Features extracted to %s (%d packets, %d kept, %d excluded)\n", res.Output, res.Total, res.Processed, res.Excluded)
}

// loadConfig reads the configuration. Only a missing file at the default
// location falls back to the built-in defaults.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

// extractorOptions lets flags given on the command line override the configuration.
func extractorOptions(cfg config.ExtractorConfig, set map[string]bool, tcpOnly bool, outputDir string) extractor.Options {
	opts := extractor.Options{TCPOnly: cfg.TCPOnly, OutputDir: cfg.OutputDir}
	if set["tcp-only"] {
		opts.TCPOnly = tcpOnly
	}
	if set["out"] {
		opts.OutputDir = outputDir
	}
	return opts
}
