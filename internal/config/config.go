package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/langobservatory/telegen/internal/synth"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Generator GeneratorConfig `yaml:"generator"`
	Storage   StorageConfig   `yaml:"storage"`
	OTel      OTelConfig      `yaml:"otel"`
	Stubs     StubsConfig     `yaml:"stubs"`
	Fixtures  FixturesConfig  `yaml:"fixtures"`
}

type GeneratorConfig struct {
	// Seed 0 selects a time-based seed; any other value makes runs
	// reproducible.
	Seed   int64  `yaml:"seed"`
	Preset string `yaml:"preset"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	ServiceName            string  `yaml:"service_name"`
	Insecure               bool    `yaml:"insecure"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
}

type StubsConfig struct {
	Host           string `yaml:"host"`
	OpenAIPort     int    `yaml:"openai_port"`
	PrometheusPort int    `yaml:"prometheus_port"`
	CollectorPort  int    `yaml:"collector_port"`
	PublicKey      string `yaml:"public_key"`
	SecretKey      string `yaml:"secret_key"`
}

func (c StubsConfig) OpenAIAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OpenAIPort)
}

func (c StubsConfig) PrometheusAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.PrometheusPort)
}

func (c StubsConfig) CollectorAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.CollectorPort)
}

type FixturesConfig struct {
	Dir string `yaml:"dir"`
}

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "telegen"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 10000
	defaultOTELMetricExportIntervalMS = 60000
)

func Default() Config {
	return Config{
		Generator: GeneratorConfig{
			Seed:   0,
			Preset: string(synth.PresetSteady),
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "telegen.db",
		},
		OTel: OTelConfig{
			Enabled:                false,
			Endpoint:               defaultOTELEndpoint,
			ServiceName:            defaultOTELServiceName,
			Insecure:               true,
			SamplingRatio:          defaultOTELSamplingRatio,
			ExportTimeoutMS:        defaultOTELExportTimeoutMS,
			MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			TracesEnabled:          true,
			MetricsEnabled:         true,
		},
		Stubs: StubsConfig{
			Host:           "127.0.0.1",
			OpenAIPort:     8091,
			PrometheusPort: 8092,
			CollectorPort:  8093,
			PublicKey:      "pk-lf-test-key",
			SecretKey:      "sk-lf-test-key",
		},
		Fixtures: FixturesConfig{
			Dir: "fixtures",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			// Reject multi-document configs to keep runtime configuration
			// unambiguous and avoid hidden trailing documents.
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if _, err := synth.ParsePreset(cfg.Generator.Preset); err != nil {
		return fmt.Errorf("generator.%w", err)
	}

	driver := strings.TrimSpace(cfg.Storage.Driver)
	switch driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres (got %q)", cfg.Storage.Driver)
	}

	if err := validateOTelConfig(cfg.OTel); err != nil {
		return err
	}
	if err := validateStubsConfig(cfg.Stubs); err != nil {
		return err
	}

	return nil
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("otel.endpoint is required when otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("otel.service_name is required when otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func validateStubsConfig(cfg StubsConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return errors.New("stubs.host must not be empty")
	}
	for _, port := range []struct {
		name  string
		value int
	}{
		{name: "stubs.openai_port", value: cfg.OpenAIPort},
		{name: "stubs.prometheus_port", value: cfg.PrometheusPort},
		{name: "stubs.collector_port", value: cfg.CollectorPort},
	} {
		if port.value <= 0 || port.value > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535 (got %d)", port.name, port.value)
		}
	}
	if strings.TrimSpace(cfg.PublicKey) == "" {
		return errors.New("stubs.public_key must not be empty")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return errors.New("stubs.secret_key must not be empty")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if seed := os.Getenv("TELEGEN_SEED"); seed != "" {
		v, err := strconv.ParseInt(seed, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGEN_SEED: %w", err)
		}
		cfg.Generator.Seed = v
	}
	if preset := os.Getenv("TELEGEN_PRESET"); preset != "" {
		cfg.Generator.Preset = preset
	}

	if storageDriver := os.Getenv("TELEGEN_STORAGE_DRIVER"); storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if storagePath := os.Getenv("TELEGEN_STORAGE_PATH"); storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if storageDSN := os.Getenv("TELEGEN_STORAGE_DSN"); storageDSN != "" {
		cfg.Storage.DSN = storageDSN
	}

	if otelEndpoint := os.Getenv("TELEGEN_OTEL_ENDPOINT"); otelEndpoint != "" {
		cfg.OTel.Endpoint = otelEndpoint
	}

	if stubsHost := os.Getenv("TELEGEN_STUBS_HOST"); stubsHost != "" {
		cfg.Stubs.Host = stubsHost
	}

	// Conventional OpenTelemetry variables win over the file and the
	// TELEGEN_OTEL_ENDPOINT alias so SDK-style deployments keep working.
	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.OTel.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.OTel.Endpoint = endpoint
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.OTel.ServiceName = serviceName
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.OTel.SamplingRatio = v
		otelConfigured = true
	}
	if otelConfigured && !otelSDKDisabledSet {
		cfg.OTel.Enabled = true
	}

	return nil
}
