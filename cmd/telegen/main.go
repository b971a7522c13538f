package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/langobservatory/telegen/internal/version"
)

const defaultConfigPath = "telegen.yaml"

const writerShutdownTimeout = 5 * time.Second
const otelShutdownTimeout = 5 * time.Second
const serverReadHeaderTimeout = 10 * time.Second
const serverReadTimeout = 30 * time.Second
const serverIdleTimeout = 2 * time.Minute

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 2
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.Banner())
		return 0
	case "generate":
		return runGenerate(args[1:], os.Stdout, os.Stderr)
	case "validate":
		return runValidate(args[1:], os.Stdin, os.Stdout, os.Stderr)
	case "seed":
		return runSeed(args[1:], os.Stdout, os.Stderr)
	case "emit":
		return runEmit(args[1:], os.Stdout, os.Stderr)
	case "stubs":
		return runStubs(args[1:], os.Stderr)
	case "report":
		return runReport(args[1:], os.Stdout, os.Stderr)
	case "wait":
		return runWait(args[1:], os.Stdout, os.Stderr)
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  telegen generate [--count N] [--kind trace|metrics|error] [--seed N] [--preset steady|error-heavy|burst] [--format ndjson|pretty] [--out PATH]")
	fmt.Fprintln(out, "  telegen validate [--in PATH|-] [--kind auto|trace|metrics]")
	fmt.Fprintln(out, "  telegen seed [--config path/to/telegen.yaml] [--count N] [--seed N] [--preset P] [--batch N]")
	fmt.Fprintln(out, "  telegen emit [--config path/to/telegen.yaml] [--count N] [--seed N] [--traces-only] [--metrics-only]")
	fmt.Fprintln(out, "  telegen stubs [--config path/to/telegen.yaml]")
	fmt.Fprintln(out, "  telegen report [--config path/to/telegen.yaml] [--format text|json] [--provider NAME] [--model NAME] [--status success|error|pending] [--from RFC3339|YYYY-MM-DD] [--to RFC3339|YYYY-MM-DD] [--limit N]")
	fmt.Fprintln(out, "  telegen wait [--url URL] [--name NAME] [--timeout DURATION] [--interval DURATION]")
	fmt.Fprintln(out, "  telegen config validate [--config path/to/telegen.yaml]")
	fmt.Fprintln(out, "  telegen version")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  telegen config validate [--config path/to/telegen.yaml]")
}

// newCommandLogger logs to stderr so stdout stays reserved for record output.
func newCommandLogger(errOut io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(errOut, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
