package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/langobservatory/telegen/internal/validate"
)

func TestRunGenerateWritesValidTraceNDJSON(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runGenerate([]string{"--count", "5", "--seed", "42"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("runGenerate() code=%d, stderr=%q", code, stderr.String())
	}

	lines := decodeNDJSONLines(t, stdout.String())
	if len(lines) != 5 {
		t.Fatalf("line count=%d, want 5", len(lines))
	}
	for i, fields := range lines {
		if err := validate.Trace(fields); err != nil {
			t.Fatalf("record %d invalid: %v", i, err)
		}
	}
}

func TestRunGenerateMetricsKind(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runGenerate([]string{"--count", "3", "--kind", "metrics", "--seed", "7"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("runGenerate() code=%d, stderr=%q", code, stderr.String())
	}

	lines := decodeNDJSONLines(t, stdout.String())
	if len(lines) != 3 {
		t.Fatalf("line count=%d, want 3", len(lines))
	}
	for i, fields := range lines {
		if err := validate.Metrics(fields); err != nil {
			t.Fatalf("record %d invalid: %v", i, err)
		}
	}
}

func TestRunGenerateErrorKind(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runGenerate([]string{"--count", "4", "--kind", "error", "--seed", "3"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("runGenerate() code=%d, stderr=%q", code, stderr.String())
	}

	knownTypes := map[string]bool{
		"RateLimitError":          true,
		"InvalidRequestError":     true,
		"AuthenticationError":     true,
		"ServiceUnavailableError": true,
		"TimeoutError":            true,
	}
	lines := decodeNDJSONLines(t, stdout.String())
	if len(lines) != 4 {
		t.Fatalf("line count=%d, want 4", len(lines))
	}
	for i, fields := range lines {
		errorType, ok := fields["error_type"].(string)
		if !ok || !knownTypes[errorType] {
			t.Fatalf("record %d error_type=%v, want a known error archetype", i, fields["error_type"])
		}
		if _, ok := fields["error_message"]; !ok {
			t.Fatalf("record %d missing error_message", i)
		}
		if _, ok := fields["error_code"]; !ok {
			t.Fatalf("record %d missing error_code", i)
		}
	}
}

func TestRunGenerateSeedReplaysIdenticalIDs(t *testing.T) {
	t.Parallel()

	runOnce := func() []string {
		var stdout bytes.Buffer
		var stderr bytes.Buffer
		code := runGenerate([]string{"--count", "3", "--seed", "99"}, &stdout, &stderr)
		if code != 0 {
			t.Fatalf("runGenerate() code=%d, stderr=%q", code, stderr.String())
		}
		ids := make([]string, 0, 3)
		for _, fields := range decodeNDJSONLines(t, stdout.String()) {
			id, _ := fields["id"].(string)
			ids = append(ids, id)
		}
		return ids
	}

	first := runOnce()
	second := runOnce()
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("id counts=%d/%d, want 3/3", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("id %d=%q, want replay %q", i, second[i], first[i])
		}
	}
}

func TestRunGeneratePrettyFormatIndents(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runGenerate([]string{"--count", "1", "--format", "pretty", "--seed", "5"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("runGenerate() code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "\n  \"") {
		t.Fatalf("stdout=%q, want indented output", stdout.String())
	}
}

func TestRunGenerateWritesToFile(t *testing.T) {
	t.Parallel()

	outPath := filepath.Join(t.TempDir(), "records.ndjson")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runGenerate([]string{"--count", "2", "--seed", "11", "--out", outPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("runGenerate() code=%d, stderr=%q", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout=%q, want records routed to file", stdout.String())
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output file: %v", err)
	}
	lines := decodeNDJSONLines(t, string(data))
	if len(lines) != 2 {
		t.Fatalf("line count=%d, want 2", len(lines))
	}
}

func TestRunGenerateRejectsBadFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantErrSubstr string
	}{
		{
			name:          "unknown kind",
			args:          []string{"--kind", "span"},
			wantErrSubstr: "expected trace, metrics, or error",
		},
		{
			name:          "unknown format",
			args:          []string{"--format", "csv"},
			wantErrSubstr: "expected ndjson or pretty",
		},
		{
			name:          "zero count",
			args:          []string{"--count", "0"},
			wantErrSubstr: "count must be between",
		},
		{
			name:          "excessive count",
			args:          []string{"--count", "2000000"},
			wantErrSubstr: "count must be between",
		},
		{
			name:          "unknown preset",
			args:          []string{"--preset", "tsunami"},
			wantErrSubstr: "preset must be one of",
		},
		{
			name:          "positional arguments",
			args:          []string{"extra"},
			wantErrSubstr: "does not accept positional arguments",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stdout bytes.Buffer
			var stderr bytes.Buffer
			code := runGenerate(tt.args, &stdout, &stderr)
			if code != 2 {
				t.Fatalf("runGenerate() code=%d, want 2", code)
			}
			if !strings.Contains(stderr.String(), tt.wantErrSubstr) {
				t.Fatalf("stderr=%q, want substring %q", stderr.String(), tt.wantErrSubstr)
			}
		})
	}
}

func decodeNDJSONLines(t *testing.T, body string) []map[string]any {
	t.Helper()

	var records []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			t.Fatalf("decode line %q: %v", line, err)
		}
		records = append(records, fields)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan records: %v", err)
	}
	return records
}
