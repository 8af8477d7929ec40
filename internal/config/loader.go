package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sonatap/sonatap/pkg/pcm"
)

// Defaults applied by Load for fields left empty in the YAML file.
const (
	DefaultListenAddr   = ":8080"
	DefaultSampleRate   = 16000
	DefaultChannels     = 1
	DefaultFormat       = "int16"
	DefaultWindowMillis = 5000
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Capture.Source == "" {
		cfg.Capture.Source = SourceWorklet
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = DefaultChannels
	}
	if cfg.Capture.Format == "" {
		cfg.Capture.Format = DefaultFormat
	}
	if cfg.Staging.CapacityBytes == 0 && cfg.Staging.WindowMillis == 0 {
		cfg.Staging.WindowMillis = DefaultWindowMillis
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Capture.Source.IsValid() {
		errs = append(errs, fmt.Errorf("capture.source %q is invalid; valid values: device, worklet", cfg.Capture.Source))
	}
	if cfg.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate must be positive, got %d", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels <= 0 {
		errs = append(errs, fmt.Errorf("capture.channels must be positive, got %d", cfg.Capture.Channels))
	}
	if cfg.Capture.SampleFormat() == pcm.FormatUnknown {
		errs = append(errs, fmt.Errorf("capture.format %q is invalid; valid values: int16, float32", cfg.Capture.Format))
	}
	if cfg.Staging.CapacityBytes < 0 {
		errs = append(errs, fmt.Errorf("staging.capacity_bytes must not be negative, got %d", cfg.Staging.CapacityBytes))
	}
	if cfg.Staging.WindowMillis < 0 {
		errs = append(errs, fmt.Errorf("staging.window_ms must not be negative, got %d", cfg.Staging.WindowMillis))
	}
	if cfg.Staging.CapacityBytes == 0 && cfg.Staging.WindowMillis == 0 {
		errs = append(errs, errors.New("staging needs capacity_bytes or window_ms"))
	}

	return errors.Join(errs...)
}
