package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/langobservatory/telegen/internal/config"
	"github.com/langobservatory/telegen/internal/synth"
)

const (
	defaultGenerateCount  = 10
	defaultGenerateKind   = "trace"
	defaultGenerateFormat = "ndjson"
	maxGenerateCount      = 1_000_000
)

func runGenerate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("generate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	count := flagSet.Int("count", defaultGenerateCount, "Number of records to generate")
	kind := flagSet.String("kind", defaultGenerateKind, "Record kind: trace, metrics, or error")
	seed := flagSet.Int64("seed", 0, "Generator seed (0 = time-based)")
	preset := flagSet.String("preset", "", "Traffic preset: steady, error-heavy, or burst")
	format := flagSet.String("format", defaultGenerateFormat, "Output format: ndjson or pretty")
	outPath := flagSet.String("out", "", "Output path (default stdout)")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "generate does not accept positional arguments")
		return 2
	}
	if *count <= 0 || *count > maxGenerateCount {
		fmt.Fprintf(errOut, "count must be between 1 and %d\n", maxGenerateCount)
		return 2
	}

	normalizedKind := strings.ToLower(strings.TrimSpace(*kind))
	switch normalizedKind {
	case "trace", "metrics", "error":
	default:
		fmt.Fprintf(errOut, "invalid kind %q: expected trace, metrics, or error\n", *kind)
		return 2
	}
	normalizedFormat := strings.ToLower(strings.TrimSpace(*format))
	switch normalizedFormat {
	case "ndjson", "pretty":
	default:
		fmt.Fprintf(errOut, "invalid format %q: expected ndjson or pretty\n", *format)
		return 2
	}

	// Load with an empty path so TELEGEN_SEED/TELEGEN_PRESET env overrides
	// apply without requiring a config file.
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		return 1
	}
	gen, err := newGenerator(cfg, *seed, *preset)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	writer := out
	if path := strings.TrimSpace(*outPath); path != "" && path != "-" {
		file, err := os.Create(path)
		if err != nil {
			fmt.Fprintf(errOut, "failed to create output file: %v\n", err)
			return 1
		}
		defer func() {
			if err := file.Close(); err != nil {
				fmt.Fprintf(errOut, "warning: failed to close output file: %v\n", err)
			}
		}()
		writer = file
	}

	if err := writeGeneratedRecords(writer, gen, normalizedKind, normalizedFormat, *count); err != nil {
		fmt.Fprintf(errOut, "failed to write records: %v\n", err)
		return 1
	}
	return 0
}

func writeGeneratedRecords(out io.Writer, gen *synth.Generator, kind, format string, count int) error {
	encoder := json.NewEncoder(out)
	if format == "pretty" {
		encoder.SetIndent("", "  ")
	}

	for i := 0; i < count; i++ {
		var fields map[string]any
		switch kind {
		case "metrics":
			fields = gen.GenerateMetrics(time.Time{}).Fields()
		case "error":
			fields = gen.GenerateError().Fields()
		default:
			fields = gen.GenerateTrace(nil).Fields()
		}
		if err := encoder.Encode(fields); err != nil {
			return fmt.Errorf("encode record %d: %w", i+1, err)
		}
	}
	return nil
}
