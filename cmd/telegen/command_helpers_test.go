package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/langobservatory/telegen/internal/config"
	"github.com/langobservatory/telegen/internal/synth"
)

func TestNormalizeTextJSONFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		command       string
		raw           string
		defaultValue  string
		want          string
		wantErrSubstr string
	}{
		{
			name:         "default text",
			command:      "report",
			raw:          "",
			defaultValue: "text",
			want:         "text",
		},
		{
			name:         "normalizes case and whitespace",
			command:      "report",
			raw:          " JSON ",
			defaultValue: "text",
			want:         "json",
		},
		{
			name:          "rejects unsupported format",
			command:       "report",
			raw:           "yaml",
			defaultValue:  "text",
			wantErrSubstr: `invalid report format "yaml": expected text or json`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := normalizeTextJSONFormat(tt.command, tt.raw, tt.defaultValue)
			if tt.wantErrSubstr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErrSubstr)
				}
				if !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Fatalf("error=%q, want substring %q", err.Error(), tt.wantErrSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeTextJSONFormat() error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("normalizeTextJSONFormat()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadAndValidateConfigStages(t *testing.T) {
	t.Parallel()

	t.Run("load stage", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "invalid-syntax.yaml")
		if err := os.WriteFile(configPath, []byte("generator: ["), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		_, stage, err := loadAndValidateConfig(configPath)
		if err == nil {
			t.Fatal("expected load error")
		}
		if stage != configStageLoad {
			t.Fatalf("stage=%q, want %q", stage, configStageLoad)
		}
	})

	t.Run("validate stage", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "invalid.yaml")
		body := `generator:
  preset: steady
storage:
  driver: cassandra
`
		if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		_, stage, err := loadAndValidateConfig(configPath)
		if err == nil {
			t.Fatal("expected validate error")
		}
		if stage != configStageValidate {
			t.Fatalf("stage=%q, want %q", stage, configStageValidate)
		}
	})
}

func TestNewGeneratorFlagOverridesConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Generator.Seed = 21
	cfg.Generator.Preset = string(synth.PresetSteady)

	gen, err := newGenerator(cfg, 0, "error-heavy")
	if err != nil {
		t.Fatalf("newGenerator() error: %v", err)
	}

	// Config seed 21 with the error-heavy preset must replay the same run
	// as a generator built from those values directly.
	want := synth.New(synth.WithSeed(21), synth.WithPreset(synth.PresetErrorHeavy))
	for i := 0; i < 5; i++ {
		got := gen.GenerateTrace(nil)
		expected := want.GenerateTrace(nil)
		if got.ID != expected.ID {
			t.Fatalf("trace %d id=%q, want %q", i, got.ID, expected.ID)
		}
	}
}

func TestNewGeneratorSeedFlagWinsOverConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Generator.Seed = 21

	gen, err := newGenerator(cfg, 99, "")
	if err != nil {
		t.Fatalf("newGenerator() error: %v", err)
	}

	want := synth.New(synth.WithSeed(99), synth.WithPreset(synth.PresetSteady))
	if got, expected := gen.GenerateTrace(nil).ID, want.GenerateTrace(nil).ID; got != expected {
		t.Fatalf("trace id=%q, want %q", got, expected)
	}
}

func TestNewGeneratorRejectsUnknownPreset(t *testing.T) {
	t.Parallel()

	_, err := newGenerator(config.Default(), 0, "tsunami")
	if err == nil {
		t.Fatal("expected preset error")
	}
	if !strings.Contains(err.Error(), "preset must be one of") {
		t.Fatalf("error=%q, want preset message", err.Error())
	}
}

func TestOpenSeedStoreRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Storage.Driver = "cassandra"

	_, err := openSeedStore(cfg)
	if err == nil {
		t.Fatal("expected driver error")
	}
	if !strings.Contains(err.Error(), `unsupported storage.driver "cassandra"`) {
		t.Fatalf("error=%q, want unsupported driver message", err.Error())
	}
}

func TestRunConfigValidateReportsValidConfig(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "telegen.yaml")
	body := `generator:
  seed: 42
  preset: steady
storage:
  driver: sqlite
  path: ./telegen.db
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runConfigValidate([]string{"--config", configPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("runConfigValidate() code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "config is valid") {
		t.Fatalf("stdout=%q, want valid message", stdout.String())
	}
}

func TestRunConfigValidateReportsInvalidConfig(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "telegen.yaml")
	body := `generator:
  preset: tsunami
storage:
  driver: sqlite
  path: ./telegen.db
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := runConfigValidate([]string{"--config", configPath}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("runConfigValidate() code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "config is invalid") {
		t.Fatalf("stderr=%q, want invalid message", stderr.String())
	}
}
