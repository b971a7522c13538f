package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/langobservatory/telegen/internal/emit"
	"github.com/langobservatory/telegen/internal/version"
)

const (
	defaultEmitCount = 10
	maxEmitCount     = 1_000_000
)

func runEmit(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("emit", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	count := flagSet.Int("count", defaultEmitCount, "Number of records to emit")
	seed := flagSet.Int64("seed", 0, "Generator seed (0 = config or time-based)")
	tracesOnly := flagSet.Bool("traces-only", false, "Emit trace records only")
	metricsOnly := flagSet.Bool("metrics-only", false, "Emit metrics records only")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "emit does not accept positional arguments")
		return 2
	}
	if *tracesOnly && *metricsOnly {
		fmt.Fprintln(errOut, "--traces-only and --metrics-only are mutually exclusive")
		return 2
	}
	if *count <= 0 || *count > maxEmitCount {
		fmt.Fprintf(errOut, "count must be between 1 and %d\n", maxEmitCount)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		}
		return 1
	}
	if !cfg.OTel.Enabled {
		fmt.Fprintln(errOut, "otel.enabled is false; nothing to emit")
		return 1
	}

	gen, err := newGenerator(cfg, *seed, "")
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	logger := newCommandLogger(errOut)
	runtime, err := emit.Setup(context.Background(), cfg.OTel, version.String(), logger)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize opentelemetry: %v\n", err)
		return 1
	}
	defer shutdownEmitRuntime(logger, runtime, otelShutdownTimeout)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emittedTraces := 0
	emittedMetrics := 0
	for i := 0; i < *count; i++ {
		if ctx.Err() != nil {
			break
		}
		if !*metricsOnly {
			runtime.EmitTrace(ctx, gen.GenerateTrace(nil))
			emittedTraces++
		}
		if !*tracesOnly {
			runtime.EmitMetrics(ctx, gen.GenerateMetrics(time.Time{}))
			emittedMetrics++
		}
	}

	logger.Info(
		"emitted records",
		"traces", emittedTraces,
		"metrics", emittedMetrics,
		"otel_endpoint", cfg.OTel.Endpoint,
	)
	fmt.Fprintf(out, "emitted %d traces and %d metrics records\n", emittedTraces, emittedMetrics)
	if ctx.Err() != nil && emittedTraces+emittedMetrics == 0 {
		return 1
	}
	return 0
}

// shutdownEmitRuntime flushes batched spans and metric points before exit.
func shutdownEmitRuntime(logger *slog.Logger, runtime *emit.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
		}
	}
}
