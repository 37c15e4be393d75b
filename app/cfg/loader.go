package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./data/vodcomb.db" description:"Path to the sqlite database file"`

	// Application configuration
	SourcesDir   string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source configuration files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Collection configuration
	FetchConcurrency int     `long:"fetch-concurrency" env:"FETCH_CONCURRENCY" default:"5" description:"Maximum number of sources fetched concurrently within a task"`
	FetchTimeout     int     `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"15" description:"Per-request timeout in seconds for upstream fetches"`
	FetchRateLimit   float64 `long:"fetch-rate-limit" env:"FETCH_RATE_LIMIT" default:"2" description:"Maximum requests per second against a single source"`
	IncrementalHours int     `long:"incremental-hours" env:"INCREMENTAL_HOURS" default:"24" description:"Default lookback window in hours for incremental tasks"`

	// Health monitoring configuration
	HealthConcurrency int `long:"health-concurrency" env:"HEALTH_CONCURRENCY" default:"5" description:"Maximum number of concurrent health probes"`
	SlowThresholdMs   int `long:"slow-threshold-ms" env:"SLOW_THRESHOLD_MS" default:"2000" description:"Latency threshold in milliseconds above which a source is classified slow"`
	HardTimeoutMs     int `long:"hard-timeout-ms" env:"HARD_TIMEOUT_MS" default:"10000" description:"Hard limit in milliseconds above which a probe is classified timeout"`

	// Schedules
	IncrementalSchedule string `long:"incremental-schedule" env:"INCREMENTAL_SCHEDULE" default:"@hourly" description:"Cron schedule for automatic incremental collection"`
	HealthSchedule      string `long:"health-schedule" env:"HEALTH_SCHEDULE" default:"*/10 * * * *" description:"Cron schedule for health sweeps over all active sources"`

	// Alerting
	AlertWebhookURL string `long:"alert-webhook-url" env:"ALERT_WEBHOOK_URL" description:"Webhook URL for best-effort operational alerts (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"VOD Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:              raw.DBPath,
		SourcesDir:          raw.SourcesDir,
		Port:                raw.Port,
		APIAccessKey:        raw.APIAccessKey,
		FetchConcurrency:    raw.FetchConcurrency,
		FetchTimeout:        raw.FetchTimeout,
		FetchRateLimit:      raw.FetchRateLimit,
		IncrementalHours:    raw.IncrementalHours,
		HealthConcurrency:   raw.HealthConcurrency,
		SlowThresholdMs:     raw.SlowThresholdMs,
		HardTimeoutMs:       raw.HardTimeoutMs,
		IncrementalSchedule: raw.IncrementalSchedule,
		HealthSchedule:      raw.HealthSchedule,
		AlertWebhookURL:     raw.AlertWebhookURL,
		UserAgent:           raw.UserAgent,
		Timezone:            raw.Timezone,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
