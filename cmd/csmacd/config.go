package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/ivigns/mipt-cis-networks/internal/ether"
)

type appConfig struct {
	stations        int
	payloadFile     string
	tickDelay       time.Duration
	scenarioPath    string
	seed            uint64
	seedSet         bool
	maxTicks        uint64
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	showVersion     bool
}

func parseFlags(args []string, stderr io.Writer) (*appConfig, error) {
	fs := pflag.NewFlagSet("csmacd", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false

	stations := fs.IntP("stations", "N", 0, "Number of stations on the bus (1..1024)")
	payloadFile := fs.StringP("payload-file", "f", "", "Path to the file with payload lines")
	tickDelayMS := fs.IntP("tick-delay", "s", 0, "Wall-clock delay between ticks, in milliseconds")
	scenarioPath := fs.String("scenario", "", "YAML scenario file (replaces -N and -f)")
	seed := fs.Uint64("seed", 0, "Base RNG seed; station i is seeded with seed+i")
	maxTicks := fs.Uint64("max-ticks", 0, "Abort after this many ticks (0 = unbounded)")
	logFormat := fs.String("log-format", "text", "Diagnostic log format: text|json")
	logLevel := fs.String("log-level", "info", "Diagnostic log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg := &appConfig{
		stations:        *stations,
		payloadFile:     *payloadFile,
		tickDelay:       time.Duration(*tickDelayMS) * time.Millisecond,
		scenarioPath:    *scenarioPath,
		seed:            *seed,
		seedSet:         fs.Changed("seed"),
		maxTicks:        *maxTicks,
		logFormat:       *logFormat,
		logLevel:        *logLevel,
		metricsAddr:     *metricsAddr,
		logMetricsEvery: *logMetricsEvery,
		showVersion:     *showVersion,
	}
	if cfg.showVersion {
		return cfg, nil
	}
	if err := applyEnvOverrides(cfg, fs); err != nil {
		return nil, err
	}
	if err := cfg.validate(fs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not touch the filesystem; file contents are checked by the loaders.
func (c *appConfig) validate(fs *pflag.FlagSet) error {
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.tickDelay < 0 {
		return errors.New("tick-delay must be non-negative")
	}
	if c.scenarioPath != "" {
		if fs.Changed("stations") || fs.Changed("payload-file") {
			return errors.New("--scenario is mutually exclusive with -N and -f")
		}
		return nil
	}
	if c.stations <= 0 {
		return errors.New("stations count is required and must be positive")
	}
	if c.stations > ether.MaxStations {
		return fmt.Errorf("stations count must be at most %d", ether.MaxStations)
	}
	if c.payloadFile == "" {
		return errors.New("payload file path is required")
	}
	return nil
}

// applyEnvOverrides maps CSMACD_* environment variables to config fields
// unless a corresponding flag was explicitly set (flag wins). Empty values
// are ignored.
func applyEnvOverrides(c *appConfig, fs *pflag.FlagSet) error {
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if !fs.Changed("log-format") {
		if v, ok := get("CSMACD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if !fs.Changed("log-level") {
		if v, ok := get("CSMACD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if !fs.Changed("metrics-addr") {
		if v, ok := get("CSMACD_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if !fs.Changed("seed") {
		if v, ok := get("CSMACD_SEED"); ok && v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid CSMACD_SEED: %w", err)
			}
			c.seed = n
			c.seedSet = true
		}
	}
	if !fs.Changed("max-ticks") {
		if v, ok := get("CSMACD_MAX_TICKS"); ok && v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid CSMACD_MAX_TICKS: %w", err)
			}
			c.maxTicks = n
		}
	}
	if !fs.Changed("log-metrics-interval") {
		if v, ok := get("CSMACD_LOG_METRICS_INTERVAL"); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid CSMACD_LOG_METRICS_INTERVAL: %w", err)
			}
			if d >= 0 {
				c.logMetricsEvery = d
			}
		}
	}
	return nil
}
