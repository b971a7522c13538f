package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/langobservatory/telegen/internal/config"
	"github.com/langobservatory/telegen/internal/store"
	"github.com/langobservatory/telegen/internal/synth"
)

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

// normalizeTextJSONFormat validates command output format flags with shared semantics.
func normalizeTextJSONFormat(command, rawValue, defaultValue string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	if normalized == "" {
		normalized = strings.TrimSpace(defaultValue)
	}
	switch normalized {
	case "text", "json":
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid %s format %q: expected text or json", strings.TrimSpace(command), rawValue)
	}
}

// loadAndValidateConfig resolves config and reports which stage failed.
func loadAndValidateConfig(configPath string) (config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	_, _, err := loadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

// newGenerator builds a generator from config defaults with flag overrides on
// top. A zero seed flag defers to the config seed; a zero config seed keeps
// the time-based default.
func newGenerator(cfg config.Config, seedFlag int64, presetFlag string) (*synth.Generator, error) {
	presetName := strings.TrimSpace(presetFlag)
	if presetName == "" {
		presetName = cfg.Generator.Preset
	}
	preset, err := synth.ParsePreset(presetName)
	if err != nil {
		return nil, err
	}

	seed := cfg.Generator.Seed
	if seedFlag != 0 {
		seed = seedFlag
	}

	opts := []synth.Option{synth.WithPreset(preset)}
	if seed != 0 {
		opts = append(opts, synth.WithSeed(seed))
	}
	return synth.New(opts...), nil
}

func openSeedStore(cfg config.Config) (store.Store, error) {
	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Storage.Path)
	case "postgres":
		return store.NewPostgresStore(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}
}

func closeSeedStoreWithWarning(seedStore store.Store, errOut io.Writer) {
	if seedStore == nil {
		return
	}
	if err := seedStore.Close(); err != nil {
		fmt.Fprintf(errOut, "warning: failed to close seed store: %v\n", err)
	}
}
