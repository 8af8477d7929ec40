// Package pcm provides pure numeric transforms between PCM sample
// representations: bit-depth conversion between 16-bit integer and 32-bit
// float samples, and channel reduction by leading-channel retention.
//
// All byte payloads are interleaved little-endian samples. The functions are
// stateless and allocation is bounded by the output size; they are safe to
// call from real-time audio delivery paths. Sample-rate conversion is
// deliberately absent; a frame's rate passes through this package untouched.
package pcm

// SampleFormat identifies the binary layout of a PCM byte payload.
type SampleFormat int

const (
	// FormatUnknown means the producer did not report a sample format.
	// Only legal on raw boundary frames; the capture layer substitutes a
	// concrete format before any conversion.
	FormatUnknown SampleFormat = iota

	// FormatInt16 is 16-bit signed integer PCM, little-endian.
	FormatInt16

	// FormatFloat32 is 32-bit IEEE 754 float PCM, little-endian,
	// nominal range [-1.0, 1.0].
	FormatFloat32
)

// BytesPerSample returns the width of one sample in bytes, or 0 for
// FormatUnknown.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatInt16:
		return 2
	case FormatFloat32:
		return 4
	default:
		return 0
	}
}

// String returns the human-readable name of the format.
func (f SampleFormat) String() string {
	switch f {
	case FormatInt16:
		return "int16"
	case FormatFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// ParseSampleFormat maps a configuration string ("int16" or "float32") to a
// SampleFormat. Unrecognised names yield FormatUnknown.
func ParseSampleFormat(s string) SampleFormat {
	switch s {
	case "int16":
		return FormatInt16
	case "float32":
		return FormatFloat32
	default:
		return FormatUnknown
	}
}

// ClampChannels clamps a requested output channel count to [1, source].
// Channels are never upsampled: the result never exceeds the source count,
// and never drops below one.
func ClampChannels(requested, source int) int {
	if requested < 1 {
		return 1
	}
	if requested > source {
		return source
	}
	return requested
}
