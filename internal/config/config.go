// Package config provides the configuration schema and loader for the
// sonatap capture service.
package config

import "github.com/sonatap/sonatap/pkg/pcm"

// LogLevel controls log verbosity for the sonatap server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SourceKind selects the frame source variant wired at composition time.
type SourceKind string

const (
	// SourceDevice captures from the native audio callback driver.
	SourceDevice SourceKind = "device"

	// SourceWorklet receives frames bridged from an isolated
	// audio-rendering context over the WebSocket ingest endpoint.
	SourceWorklet SourceKind = "worklet"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	return k == SourceDevice || k == SourceWorklet
}

// Config is the root configuration structure for sonatap.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Staging StagingConfig `yaml:"staging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel selects slog verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig holds the target format negotiated at capture start.
type CaptureConfig struct {
	// Source picks the frame source variant.
	Source SourceKind `yaml:"source"`

	// SampleRate in Hz, forwarded to the source as a hint.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the requested channel count; clamped per frame to the
	// source's actual count.
	Channels int `yaml:"channels"`

	// Format is the published sample layout: "int16" or "float32".
	Format string `yaml:"format"`

	// RendererID optionally pins the renderer tag; generated when empty.
	RendererID string `yaml:"renderer_id"`
}

// SampleFormat returns the parsed target sample format.
func (c CaptureConfig) SampleFormat() pcm.SampleFormat {
	return pcm.ParseSampleFormat(c.Format)
}

// StagingConfig sizes the staging ring buffer. Set either an explicit byte
// capacity or a time window; the window is converted using the capture
// target format.
type StagingConfig struct {
	// CapacityBytes fixes the ring capacity directly.
	CapacityBytes int `yaml:"capacity_bytes"`

	// WindowMillis sizes the ring to hold this many milliseconds of audio
	// at the configured target format. Ignored when CapacityBytes is set.
	WindowMillis int `yaml:"window_ms"`
}

// Capacity returns the ring capacity in bytes for the given capture target.
func (s StagingConfig) Capacity(capture CaptureConfig) int {
	if s.CapacityBytes > 0 {
		return s.CapacityBytes
	}
	bytesPerSecond := capture.SampleRate * capture.Channels * capture.SampleFormat().BytesPerSample()
	return bytesPerSecond * s.WindowMillis / 1000
}
