package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/langobservatory/telegen/internal/validate"
)

// validateScanBufferSize bounds a single NDJSON line.
const validateScanBufferSize = 1 << 20

func runValidate(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	inPath := flagSet.String("in", "-", "Input path (- for stdin)")
	kind := flagSet.String("kind", "auto", "Record kind: auto, trace, or metrics")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "validate does not accept positional arguments")
		return 2
	}

	normalizedKind := strings.ToLower(strings.TrimSpace(*kind))
	switch normalizedKind {
	case "auto", "trace", "metrics":
	default:
		fmt.Fprintf(errOut, "invalid kind %q: expected auto, trace, or metrics\n", *kind)
		return 2
	}

	reader := in
	if path := strings.TrimSpace(*inPath); path != "" && path != "-" {
		file, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(errOut, "failed to open input file: %v\n", err)
			return 1
		}
		defer file.Close()
		reader = file
	}

	total, invalid, err := validateRecords(reader, normalizedKind, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "failed to read records: %v\n", err)
		return 1
	}
	if invalid > 0 {
		fmt.Fprintf(errOut, "%d of %d records invalid\n", invalid, total)
		return 1
	}

	fmt.Fprintf(out, "%d records valid\n", total)
	return 0
}

func validateRecords(in io.Reader, kind string, errOut io.Writer) (total, invalid int, err error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), validateScanBufferSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		total++

		var fields map[string]any
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			fmt.Fprintf(errOut, "line %d: parse json: %v\n", lineNo, err)
			invalid++
			continue
		}
		if err := validateFields(fields, kind); err != nil {
			fmt.Fprintf(errOut, "line %d: %v\n", lineNo, err)
			invalid++
		}
	}
	if err := scanner.Err(); err != nil {
		return total, invalid, err
	}
	return total, invalid, nil
}

func validateFields(fields map[string]any, kind string) error {
	switch kind {
	case "trace":
		return validate.Trace(fields)
	case "metrics":
		return validate.Metrics(fields)
	default:
		// A metrics record is the only shape carrying a "metrics" key.
		if _, ok := fields["metrics"]; ok {
			return validate.Metrics(fields)
		}
		return validate.Trace(fields)
	}
}
