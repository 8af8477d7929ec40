package capture

import (
	"context"

	"github.com/sonatap/sonatap/pkg/pcm"
)

// RawFrame is a frame as delivered by a [Source], before validation and
// conversion. Sources fill in whatever the underlying capture mechanism
// reports; Format may be left as [pcm.FormatUnknown], in which case the
// orchestrator infers the layout from BitsPerSample.
type RawFrame struct {
	// SampleRate in Hz as reported by the capture mechanism.
	SampleRate int

	// Channels is the payload's interleaved channel count.
	Channels int

	// BitsPerSample is the sample width the mechanism captured at
	// (16 for integer PCM, 32 for float PCM).
	BitsPerSample int

	// Format, when known, names the payload layout directly. Optional.
	Format pcm.SampleFormat

	// Data is the interleaved little-endian sample payload.
	Data []byte
}

// StartRequest configures a [Source] for frame delivery.
type StartRequest struct {
	// RendererID tags every frame of this delivery session. Sources must
	// not deliver frames for renderer IDs they were not started with.
	RendererID string

	// SampleRate, Channels and Format describe the format the caller
	// would like the mechanism to capture at. They are hints: sources
	// report the actual per-frame format on each RawFrame.
	SampleRate int
	Channels   int
	Format     pcm.SampleFormat
}

// DeliverFunc receives raw frames from a source. Implementations are called
// from the source's own delivery context (a real-time callback thread or an
// ingest goroutine) and must be fast and non-blocking.
type DeliverFunc func(RawFrame)

// Source is the acquisition boundary: a provider of raw PCM frames for one
// renderer at a time. The two shipped implementations are capture/device
// (native audio-callback capture) and capture/worklet (frames bridged from an
// isolated audio-rendering context); both are selected at composition time.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start requests that the source begin delivering raw frames tagged
	// with req.RendererID, invoking deliver once per frame. A returned
	// error means the request was not accepted (device busy, renderer
	// unavailable) and no delivery will occur.
	Start(ctx context.Context, req StartRequest, deliver DeliverFunc) error

	// Stop ends delivery for the given renderer ID. After Stop returns,
	// the source guarantees it will make no further deliver calls for
	// that renderer.
	Stop(ctx context.Context, rendererID string) error
}
