package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// WatcherConfig controls the directory watcher.
type WatcherConfig struct {
	Dir string `yaml:"dir" toml:"dir" json:"dir"`
	// SettleDelay holds back dispatch until a file has seen no writes for this long.
	// Empty or "0s" dispatches on create.
	SettleDelay string `yaml:"settle_delay" toml:"settle_delay" json:"settle_delay"`
	// Backfill dispatches matching files already present at startup.
	Backfill bool `yaml:"backfill" toml:"backfill" json:"backfill"`
}

// ExtractorConfig controls capture-to-table conversion.
type ExtractorConfig struct {
	TCPOnly bool `yaml:"tcp_only" toml:"tcp_only" json:"tcp_only"`
	// OutputDir defaults to the capture's own directory.
	OutputDir string `yaml:"output_dir" toml:"output_dir" json:"output_dir"`
}

// ModelConfig selects and locates the classifier backend.
type ModelConfig struct {
	Backend    string `yaml:"backend" toml:"backend" json:"backend"`
	Path       string `yaml:"path" toml:"path" json:"path"`
	ScalerPath string `yaml:"scaler_path" toml:"scaler_path" json:"scaler_path"`
}

// MaliciousLogConfig selects the malicious-entry store.
type MaliciousLogConfig struct {
	Backend string `yaml:"backend" toml:"backend" json:"backend"`
	Path    string `yaml:"path" toml:"path" json:"path"`
}

// MonitorConfig holds the rate monitor thresholds and schedule.
type MonitorConfig struct {
	Window          string `yaml:"window" toml:"window" json:"window"`
	Retention       string `yaml:"retention" toml:"retention" json:"retention"`
	Interval        string `yaml:"interval" toml:"interval" json:"interval"`
	Threshold       int    `yaml:"threshold" toml:"threshold" json:"threshold"`
	TriggerOnUpdate bool   `yaml:"trigger_on_update" toml:"trigger_on_update" json:"trigger_on_update"`
	RecentAlerts    int    `yaml:"recent_alerts" toml:"recent_alerts" json:"recent_alerts"`
}

// PipelineConfig sizes the worker pool and picks how stages are chained.
type PipelineConfig struct {
	Workers   int    `yaml:"workers" toml:"workers" json:"workers"`
	QueueSize int    `yaml:"queue_size" toml:"queue_size" json:"queue_size"`
	Mode      string `yaml:"mode" toml:"mode" json:"mode"`
}

// SMTPConfig holds the configuration for the email notifier.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Host     string `yaml:"host" toml:"host" json:"host"`
	Port     int    `yaml:"port" toml:"port" json:"port"`
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"password"`
	From     string `yaml:"from" toml:"from" json:"from"`
	To       string `yaml:"to" toml:"to" json:"to"`
}

// NATSConfig holds the configuration for publishing alerts to NATS.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	URL     string `yaml:"url" toml:"url" json:"url"`
	Subject string `yaml:"subject" toml:"subject" json:"subject"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Host     string `yaml:"host" toml:"host" json:"host"`
	Port     int    `yaml:"port" toml:"port" json:"port"`
	Database string `yaml:"database" toml:"database" json:"database"`
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"password"`
}

// AlertsConfig configures the alert log and the optional alert sinks.
type AlertsConfig struct {
	LogPath    string           `yaml:"log_path" toml:"log_path" json:"log_path"`
	SMTP       SMTPConfig       `yaml:"smtp" toml:"smtp" json:"smtp"`
	NATS       NATSConfig       `yaml:"nats" toml:"nats" json:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse" toml:"clickhouse" json:"clickhouse"`
}

// APIConfig holds the status API and gRPC health listeners.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr" json:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr" toml:"grpc_addr" json:"grpc_addr"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Watcher      WatcherConfig      `yaml:"watcher" toml:"watcher" json:"watcher"`
	Extractor    ExtractorConfig    `yaml:"extractor" toml:"extractor" json:"extractor"`
	Model        ModelConfig        `yaml:"model" toml:"model" json:"model"`
	MaliciousLog MaliciousLogConfig `yaml:"malicious_log" toml:"malicious_log" json:"malicious_log"`
	Monitor      MonitorConfig      `yaml:"monitor" toml:"monitor" json:"monitor"`
	Pipeline     PipelineConfig     `yaml:"pipeline" toml:"pipeline" json:"pipeline"`
	Alerts       AlertsConfig       `yaml:"alerts" toml:"alerts" json:"alerts"`
	API          APIConfig          `yaml:"api" toml:"api" json:"api"`
	Log          LogConfig          `yaml:"log" toml:"log" json:"log"`
}

// Default returns the configuration used when a field is left unset.
func Default() *Config {
	return &Config{
		Watcher: WatcherConfig{
			Dir: "/tmp",
		},
		Extractor: ExtractorConfig{
			TCPOnly: true,
		},
		Model: ModelConfig{
			Backend:    "tree",
			Path:       "forest_model.json",
			ScalerPath: "scaler_params.json",
		},
		MaliciousLog: MaliciousLogConfig{
			Backend: "csv",
			Path:    "malicious_packets.csv",
		},
		Monitor: MonitorConfig{
			Window:          "60s",
			Retention:       "10m",
			Interval:        "10s",
			Threshold:       10,
			TriggerOnUpdate: true,
			RecentAlerts:    100,
		},
		Pipeline: PipelineConfig{
			Workers:   4,
			QueueSize: 64,
			Mode:      "filesystem",
		},
		Alerts: AlertsConfig{
			LogPath: "attack_log.csv",
			NATS: NATSConfig{
				Subject: "gons.alerts",
			},
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8090",
			GRPCAddr:   "127.0.0.1:8091",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads the configuration from a YAML or TOML file and returns a Config struct.
// Keys missing from the file keep their defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Monitor.Threshold <= 0 {
		c.Monitor.Threshold = d.Monitor.Threshold
	}
	if c.Monitor.RecentAlerts <= 0 {
		c.Monitor.RecentAlerts = d.Monitor.RecentAlerts
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = d.Pipeline.Workers
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = d.Pipeline.QueueSize
	}
	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = d.Pipeline.Mode
	}
	if c.Model.Backend == "" {
		c.Model.Backend = d.Model.Backend
	}
	if c.MaliciousLog.Backend == "" {
		c.MaliciousLog.Backend = d.MaliciousLog.Backend
	}
	if c.Alerts.NATS.Subject == "" {
		c.Alerts.NATS.Subject = d.Alerts.NATS.Subject
	}
}

// Validate checks the fields every binary relies on.
func (c *Config) Validate() error {
	if c.Watcher.Dir == "" {
		return errors.New("watcher.dir is required")
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.MaliciousLog.Path == "" {
		return errors.New("malicious_log.path is required")
	}
	if c.Alerts.LogPath == "" {
		return errors.New("alerts.log_path is required")
	}
	switch c.Pipeline.Mode {
	case "filesystem", "direct":
	default:
		return fmt.Errorf("invalid pipeline.mode '%s'", c.Pipeline.Mode)
	}
	switch c.MaliciousLog.Backend {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("invalid malicious_log.backend '%s'", c.MaliciousLog.Backend)
	}
	for name, path := range map[string]string{
		"malicious_log.path": c.MaliciousLog.Path,
		"alerts.log_path":    c.Alerts.LogPath,
	} {
		if sameDir(filepath.Dir(path), c.Watcher.Dir) {
			return fmt.Errorf("%s '%s' must not be inside watcher.dir '%s'", name, path, c.Watcher.Dir)
		}
	}
	if c.Model.Backend == "artifact" && c.Model.ScalerPath == "" {
		return errors.New("model.scaler_path is required for the artifact backend")
	}

	durations := map[string]string{
		"monitor.window":       c.Monitor.Window,
		"monitor.retention":    c.Monitor.Retention,
		"monitor.interval":     c.Monitor.Interval,
		"watcher.settle_delay": c.Watcher.SettleDelay,
	}
	for name, value := range durations {
		if value == "" && name == "watcher.settle_delay" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// sameDir reports whether a and b name the same directory once made absolute
// and, where they exist, resolved through symlinks.
func sameDir(a, b string) bool {
	resolve := func(p string) string {
		abs, err := filepath.Abs(p)
		if err != nil {
			return filepath.Clean(p)
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			return real
		}
		return abs
	}
	return resolve(a) == resolve(b)
}

// ParseOptionalDuration parses a duration string, treating "" as zero.
func ParseOptionalDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}
