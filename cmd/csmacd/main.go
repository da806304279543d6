package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ivigns/mipt-cis-networks/internal/bus"
	"github.com/ivigns/mipt-cis-networks/internal/ether"
	"github.com/ivigns/mipt-cis-networks/internal/metrics"
	"github.com/ivigns/mipt-cis-networks/internal/scenario"
)

const usageLine = "Usage: csmacd -N <stations count> -f <path to file with payload> [-s <tick delay in ms>]"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "csmacd: %v\n%s\n", err, usageLine)
		return 1
	}
	if cfg.showVersion {
		fmt.Fprintf(stdout, "csmacd %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)
	metrics.InitBuildInfo(version, commit, date)
	if cfg.metricsAddr != "" {
		metrics.StartHTTP(cfg.metricsAddr)
	}

	stationsCount := cfg.stations
	var payloads []ether.Payload
	opts := []bus.Option{bus.WithTraceWriter(stdout)}
	if cfg.scenarioPath != "" {
		sc, err := scenario.LoadScenario(cfg.scenarioPath)
		if err != nil {
			l.Error("scenario_load_error", "path", cfg.scenarioPath, "error", err)
			return 2
		}
		stationsCount = sc.Stations
		payloads = sc.EtherPayloads()
		if sc.Seed != nil && !cfg.seedSet {
			cfg.seed, cfg.seedSet = *sc.Seed, true
		}
		if sc.TickDelayMS > 0 && cfg.tickDelay == 0 {
			cfg.tickDelay = time.Duration(sc.TickDelayMS) * time.Millisecond
		}
	} else {
		payloads, err = scenario.LoadPayloadFile(cfg.payloadFile)
		if err != nil {
			l.Error("payload_load_error", "path", cfg.payloadFile, "error", err)
			return 2
		}
	}
	if cfg.seedSet {
		opts = append(opts, bus.WithBaseSeed(cfg.seed))
	}
	if cfg.maxTicks > 0 {
		opts = append(opts, bus.WithMaxTicks(cfg.maxTicks))
	}

	b, err := bus.New(stationsCount, payloads, opts...)
	if err != nil {
		l.Error("construction_error", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	loggerCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	startMetricsLogger(loggerCtx, cfg.logMetricsEvery, l, &wg)

	l.Info("simulation_start", "stations", stationsCount, "payloads", len(payloads), "tick_delay", cfg.tickDelay.String())
	err = b.Run(ctx, cfg.tickDelay)
	cancel()
	wg.Wait()

	snap := metrics.Snap()
	l.Info("simulation_done",
		"ticks", snap.Ticks,
		"virtual_time", b.Clock().String(),
		"frames_sent", snap.FramesSent,
		"frames_received", snap.FramesReceived,
		"collisions", snap.Collisions,
		"retries", snap.Retries,
		"payloads_dropped", snap.PayloadsDropped,
	)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		l.Warn("simulation_interrupted")
		return 0
	default:
		l.Error("simulation_error", "error", err)
		return 2
	}
}
