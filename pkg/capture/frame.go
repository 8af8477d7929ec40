// Package capture orchestrates live PCM frame capture: it starts and stops an
// external frame [Source], normalises every raw delivery into a caller-chosen
// sample format and channel count via [pcm], and republishes the result as a
// broadcast stream of [AudioFrame] values for any number of subscribers.
//
// The two primary abstractions are:
//
//   - [Source]: the acquisition boundary; begins and ends delivery of raw
//     frames tagged with a renderer ID.
//   - [Capture]: the orchestrator; owns the source subscription and the
//     published stream, and runs the Idle → Started → Stopped lifecycle.
//
// Source implementations are provided by adapter subpackages (capture/device
// for native callback capture, capture/worklet for frames bridged out of an
// isolated audio-rendering context). The interfaces are intentionally narrow
// so the orchestrator stays decoupled from acquisition details.
package capture

import (
	"fmt"

	"github.com/sonatap/sonatap/pkg/pcm"
)

// AudioFrame is a single normalised capture unit as published to subscribers.
// Data holds interleaved little-endian samples in the declared Format;
// len(Data) is always an exact multiple of Channels*Format.BytesPerSample().
type AudioFrame struct {
	// Data is the opaque sample payload.
	Data []byte

	// SampleRate in Hz as reported by the source. The capture pipeline
	// never derives or recomputes it.
	SampleRate int

	// Channels is the payload's channel count after conversion.
	Channels int

	// Format describes the binary layout of Data.
	Format pcm.SampleFormat
}

// FrameCount returns the number of whole sample-frames in the payload.
func (f AudioFrame) FrameCount() int {
	stride := f.Channels * f.Format.BytesPerSample()
	if stride == 0 {
		return 0
	}
	return len(f.Data) / stride
}

// TargetFormat is the capture configuration supplied once at Start.
type TargetFormat struct {
	// Format selects the published sample layout.
	Format pcm.SampleFormat

	// SampleRate in Hz is a hint forwarded to the source. The converter
	// never enforces it; published frames carry the source's actual rate.
	SampleRate int

	// Channels is the requested channel count. It is clamped to
	// [1, sourceChannels] per frame at conversion time, never upsampled.
	Channels int
}

// Validate reports whether the target format is usable for a Start call.
func (t TargetFormat) Validate() error {
	if t.Format != pcm.FormatInt16 && t.Format != pcm.FormatFloat32 {
		return fmt.Errorf("capture: target format must be int16 or float32, got %s", t.Format)
	}
	if t.SampleRate <= 0 {
		return fmt.Errorf("capture: target sample rate must be positive, got %d", t.SampleRate)
	}
	if t.Channels <= 0 {
		return fmt.Errorf("capture: target channel count must be positive, got %d", t.Channels)
	}
	return nil
}
