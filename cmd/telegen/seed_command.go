package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/langobservatory/telegen/internal/record"
	"github.com/langobservatory/telegen/internal/store"
)

const (
	defaultSeedCount  = 100
	maxSeedCount      = 1_000_000
	defaultSeedBuffer = 256
	maxSeedBuffer     = 65536

	enqueueRetryDelay = 5 * time.Millisecond
)

func runSeed(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("seed", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	count := flagSet.Int("count", defaultSeedCount, "Number of traces to seed")
	seed := flagSet.Int64("seed", 0, "Generator seed (0 = config or time-based)")
	preset := flagSet.String("preset", "", "Traffic preset: steady, error-heavy, or burst")
	batch := flagSet.Int("batch", defaultSeedBuffer, "Writer queue capacity")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "seed does not accept positional arguments")
		return 2
	}
	if *count <= 0 || *count > maxSeedCount {
		fmt.Fprintf(errOut, "count must be between 1 and %d\n", maxSeedCount)
		return 2
	}
	if *batch <= 0 || *batch > maxSeedBuffer {
		fmt.Fprintf(errOut, "batch must be between 1 and %d\n", maxSeedBuffer)
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

	gen, err := newGenerator(cfg, *seed, *preset)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	logger := newCommandLogger(errOut)
	seedStore, err := openSeedStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize seed store: %v\n", err)
		return 1
	}
	defer closeSeedStoreWithWarning(seedStore, errOut)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := store.NewWriter(seedStore, *batch)
	var failedWrites atomic.Int64
	writer.SetWriteFailureHandler(func(failure store.WriteFailure) {
		failedWrites.Add(int64(failure.FailedCount))
		logger.Error(
			"trace persistence failed; dropped trace records",
			"operation", failure.Operation,
			"batch_size", failure.BatchSize,
			"failed_count", failure.FailedCount,
			"error_class", failure.ErrorClass,
		)
	})
	writer.Start(context.Background())

	runID := uuid.NewString()
	start := time.Now()
	logger.Info(
		"seed run starting",
		"run_id", runID,
		"count", *count,
		"storage_driver", cfg.Storage.Driver,
		"queue_capacity", *batch,
	)

	enqueued := 0
	for i := 0; i < *count; i++ {
		if ctx.Err() != nil {
			break
		}
		if !enqueueWithBackpressure(ctx, writer, gen.GenerateTrace(nil)) {
			break
		}
		enqueued++
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), writerShutdownTimeout)
	defer cancel()
	if err := writer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to flush pending traces before shutdown", "error", err, "timeout", writerShutdownTimeout.String())
		return 1
	}

	duration := time.Since(start)
	failed := failedWrites.Load()
	logger.Info(
		"seed run complete",
		"run_id", runID,
		"enqueued", enqueued,
		"failed_writes", failed,
		"duration_ms", duration.Milliseconds(),
	)

	if ctx.Err() != nil && enqueued < *count {
		fmt.Fprintf(errOut, "seed run interrupted after %d of %d traces\n", enqueued, *count)
		return 1
	}
	if failed > 0 {
		fmt.Fprintf(errOut, "seed run %s wrote %d traces with %d failures\n", runID, enqueued-int(failed), failed)
		return 1
	}

	fmt.Fprintf(out, "seeded %d traces in %s (run %s)\n", enqueued, duration.Round(time.Millisecond), runID)
	return 0
}

// enqueueWithBackpressure blocks on a full queue instead of dropping; seeding
// wants every record persisted, unlike live capture.
func enqueueWithBackpressure(ctx context.Context, writer *store.Writer, tr *record.Trace) bool {
	for {
		if writer.Enqueue(tr) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(enqueueRetryDelay):
		}
	}
}
