// Package config assembles the run configuration from documented
// defaults, an optional YAML file, environment variables, and CLI
// flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dealhound/crawler/internal/schedule"
)

// Config holds every knob of a crawl run.
type Config struct {
	// Logging
	LogLevel string `yaml:"log_level"`
	JSONLog  bool   `yaml:"json_log"`

	// Target storefront
	BaseURL string `yaml:"base_url"`

	// Scheduling
	BatchSize   int                `yaml:"batch_size"`
	MaxLoad     int                `yaml:"max_load"`
	ForceUpdate bool               `yaml:"force_update"`
	Weights     schedule.Weights   `yaml:"weights"`
	Intervals   schedule.Intervals `yaml:"intervals"`
	HighValue   float64            `yaml:"high_value_threshold"`

	// Workers
	WorkerCount    int           `yaml:"worker_count"`
	MinDelay       time.Duration `yaml:"min_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	FailMinDelay   time.Duration `yaml:"fail_min_delay"`
	FailMaxDelay   time.Duration `yaml:"fail_max_delay"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryCount     int           `yaml:"retry_count"`
	InterPassDelay time.Duration `yaml:"inter_pass_delay"`

	// Cursor store
	SnapshotPath  string        `yaml:"snapshot_path"`
	Epsilon       float64       `yaml:"cursor_epsilon"`
	SkipRecent    int           `yaml:"cursor_skip_recent"`
	FullScanEvery time.Duration `yaml:"full_scan_every"`
	DiscoverMax   int           `yaml:"discover_max"`
	ParallelScan  bool          `yaml:"parallel_scan"`

	// Browser
	PoolSize    int           `yaml:"pool_size"`
	Headless    bool          `yaml:"headless"`
	UserAgent   string        `yaml:"user_agent"`
	Proxy       string        `yaml:"proxy"`
	PageTimeout time.Duration `yaml:"page_timeout"`

	// Rate limiting
	HostRPS    float64 `yaml:"host_rps"`
	HostBurst  int     `yaml:"host_burst"`
	ListingRPS float64 `yaml:"listing_rps"`
	ProductRPS float64 `yaml:"product_rps"`

	// Catalog persistence
	CatalogPath string `yaml:"catalog_path"`

	// Report file; empty prints the summary to stdout
	ReportPath string `yaml:"report_path"`

	// Credential account resolved against the OS keyring
	Account string `yaml:"account"`

	// Metrics; 0 disables the endpoint
	MetricsPort int `yaml:"metrics_port"`

	// Cycles; 0 means run a single cycle
	Cycles int `yaml:"cycles"`
}

// Load builds a Config by layering defaults, the optional YAML file
// named by the --config flag, environment variables, and CLI flags.
// Pass the command whose flags were parsed; nil skips the flag layer.
func Load(cmd *cobra.Command) (*Config, error) {
	cfg := defaults()

	if path := flagString(cmd, "config"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	applyFlags(cfg, cmd)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadLoose layers the same sources as Load but skips validation.
// Commands that never touch the storefront use it; a broken config file
// is ignored in favor of the remaining layers.
func LoadLoose(cmd *cobra.Command) *Config {
	cfg := defaults()
	if path := flagString(cmd, "config"); path != "" {
		_ = loadFile(cfg, path)
	}
	applyEnv(cfg)
	applyFlags(cfg, cmd)
	return cfg
}

func defaults() *Config {
	return &Config{
		LogLevel:       DefaultLogLevel,
		JSONLog:        DefaultJSONLog,
		BatchSize:      DefaultBatchSize,
		MaxLoad:        DefaultMaxLoad,
		Weights:        DefaultWeights(),
		Intervals:      schedule.Intervals{Base: DefaultBaseInterval, Min: DefaultMinInterval, Max: DefaultMaxInterval},
		HighValue:      DefaultHighValueThreshold,
		WorkerCount:    DefaultWorkerCount,
		MinDelay:       DefaultMinDelay,
		MaxDelay:       DefaultMaxDelay,
		FailMinDelay:   DefaultFailMinDelay,
		FailMaxDelay:   DefaultFailMaxDelay,
		MaxRetries:     DefaultMaxRetries,
		RetryCount:     DefaultRetryCount,
		InterPassDelay: DefaultInterPassDelay,
		SnapshotPath:   DefaultSnapshotPath,
		Epsilon:        DefaultCursorEpsilon,
		SkipRecent:     DefaultCursorSkipRecent,
		FullScanEvery:  DefaultFullScanEvery,
		DiscoverMax:    DefaultDiscoverMax,
		PoolSize:       DefaultPoolSize,
		Headless:       DefaultBrowserHeadless,
		UserAgent:      DefaultUserAgent,
		PageTimeout:    DefaultPageTimeout,
		HostRPS:        DefaultHostRPS,
		HostBurst:      DefaultHostBurst,
		ListingRPS:     DefaultListingRPS,
		ProductRPS:     DefaultProductRPS,
		CatalogPath:    "catalog.json",
		Account:        "default",
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DEALHOUND_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("DEALHOUND_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("DEALHOUND_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("DEALHOUND_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := os.Getenv("DEALHOUND_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("DEALHOUND_ACCOUNT"); v != "" {
		cfg.Account = v
	}
	if v := os.Getenv("DEALHOUND_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerCount = n
		}
	}
}

func applyFlags(cfg *Config, cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	if v := flagString(cmd, "base-url"); v != "" {
		cfg.BaseURL = v
	}
	if v := flagString(cmd, "user-agent"); v != "" {
		cfg.UserAgent = v
	}
	if v := flagString(cmd, "proxy"); v != "" {
		cfg.Proxy = v
	}
	if v := flagString(cmd, "snapshot"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := flagString(cmd, "catalog"); v != "" {
		cfg.CatalogPath = v
	}
	if v := flagString(cmd, "report"); v != "" {
		cfg.ReportPath = v
	}
	if f := cmd.Flags().Lookup("account"); f != nil && f.Changed {
		cfg.Account = f.Value.String()
	}
	if n, ok := flagInt(cmd, "workers"); ok {
		cfg.WorkerCount = n
	}
	if n, ok := flagInt(cmd, "batch-size"); ok {
		cfg.BatchSize = n
	}
	if n, ok := flagInt(cmd, "pool-size"); ok {
		cfg.PoolSize = n
	}
	if n, ok := flagInt(cmd, "cycles"); ok {
		cfg.Cycles = n
	}
	if n, ok := flagInt(cmd, "metrics-port"); ok {
		cfg.MetricsPort = n
	}
	if flagBool(cmd, "force-update") {
		cfg.ForceUpdate = true
	}
	if flagBool(cmd, "parallel-scan") {
		cfg.ParallelScan = true
	}
	if flagBool(cmd, "headful") {
		cfg.Headless = false
	}
	if flagBool(cmd, "json") {
		cfg.JSONLog = true
	}
	if flagBool(cmd, "verbose") {
		cfg.LogLevel = "debug"
	}
	if flagBool(cmd, "quiet") {
		cfg.LogLevel = "error"
	}
}

func flagString(cmd *cobra.Command, name string) string {
	if cmd == nil {
		return ""
	}
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String()
	}
	return ""
}

func flagInt(cmd *cobra.Command, name string) (int, bool) {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return 0, false
	}
	n, err := strconv.Atoi(f.Value.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

func flagBool(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Value.String() == "true"
}
