package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sonatap/sonatap/pkg/pcm"
)

// subscriberBuffer is the default per-subscriber channel depth. Publication
// never blocks: a subscriber that falls this far behind loses frames.
const subscriberBuffer = 64

// State is the lifecycle phase of a Capture: Idle until Start succeeds, Started
// while frames flow, Stopped forever after Stop. There is no way back from
// Stopped; restarting requires a fresh Capture.
type State int

const (
	StateIdle State = iota
	StateStarted
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats are cumulative frame-delivery counters for one Capture. All counts
// are monotonic; read them with [Capture.Stats].
type Stats struct {
	// Published is the number of frames converted and handed to the stream.
	Published uint64

	// Dropped is the number of raw deliveries rejected as malformed.
	Dropped uint64

	// Truncated counts deliveries whose payload was cut to whole
	// sample-frames before conversion.
	Truncated uint64
}

// Option configures a [Capture].
type Option func(*Capture)

// WithLogger sets the logger used for delivery diagnostics. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Capture) { c.log = l }
}

// WithRendererID fixes the renderer ID used to tag the source session.
// When unset, Start generates one.
func WithRendererID(id string) Option {
	return func(c *Capture) { c.rendererID = id }
}

// WithSubscriberBuffer sets the per-subscriber channel depth.
func WithSubscriberBuffer(n int) Option {
	return func(c *Capture) {
		if n > 0 {
			c.subBuffer = n
		}
	}
}

// Capture orchestrates one capture session against a [Source]. It converts
// every accepted raw frame to the target format negotiated at Start and
// broadcasts the result to all current subscribers.
//
// Capture is safe for concurrent use. Raw deliveries may race with Stop;
// teardown detaches the source before the stream closes, so no frame is
// published after the stream has terminated.
type Capture struct {
	source     Source
	log        *slog.Logger
	rendererID string
	subBuffer  int

	mu     sync.Mutex
	state  State
	target TargetFormat

	subMu   sync.RWMutex
	subs    map[uint64]chan AudioFrame
	nextSub uint64
	closed  bool // stream terminated; set exactly once by Stop

	published atomic.Uint64
	dropped   atomic.Uint64
	truncated atomic.Uint64

	warnTruncated sync.Once
}

// New creates a Capture in the Idle state over the given source.
func New(source Source, opts ...Option) *Capture {
	c := &Capture{
		source:    source,
		log:       slog.Default(),
		subBuffer: subscriberBuffer,
		subs:      make(map[uint64]chan AudioFrame),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start asks the source to begin delivering frames and transitions to
// Started. A source rejection is returned as an error with no state change;
// the caller may retry with a fresh Start. Calling Start while Started or
// after Stop is an error with no side effects.
func (c *Capture) Start(ctx context.Context, target TargetFormat) error {
	if err := target.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateStarted:
		return fmt.Errorf("capture: already started")
	case StateStopped:
		return fmt.Errorf("capture: stopped; create a new Capture to restart")
	}

	if c.rendererID == "" {
		c.rendererID = uuid.NewString()
	}

	req := StartRequest{
		RendererID: c.rendererID,
		SampleRate: target.SampleRate,
		Channels:   target.Channels,
		Format:     target.Format,
	}
	if err := c.source.Start(ctx, req, c.deliver); err != nil {
		return fmt.Errorf("capture: source rejected start: %w", err)
	}

	c.target = target
	c.state = StateStarted
	c.log.Info("capture started",
		"renderer_id", c.rendererID,
		"sample_rate", target.SampleRate,
		"channels", target.Channels,
		"format", target.Format.String(),
	)
	return nil
}

// Stop ends the session. It is idempotent and callable from any state; the
// instance always lands in Stopped. The source is detached first (once its
// Stop returns, no further raw deliveries occur) and only then is the
// published stream closed, so subscribers never observe a frame after
// termination. Source teardown errors are logged and swallowed.
func (c *Capture) Stop() {
	c.mu.Lock()
	prev := c.state
	c.state = StateStopped
	c.mu.Unlock()

	if prev == StateStopped {
		return
	}

	if prev == StateStarted {
		if err := c.source.Stop(context.Background(), c.rendererID); err != nil {
			c.log.Warn("capture: source teardown error", "renderer_id", c.rendererID, "error", err)
		}
	}

	// Close the stream. Any in-flight delivery holds the read lock and
	// completes before the subscriber channels close.
	c.subMu.Lock()
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()

	if prev == StateStarted {
		c.log.Info("capture stopped",
			"renderer_id", c.rendererID,
			"published", c.published.Load(),
			"dropped", c.dropped.Load(),
		)
	}
}

// State returns the current lifecycle state.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RendererID returns the renderer ID tagging this session. Empty until Start
// unless fixed via [WithRendererID].
func (c *Capture) RendererID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rendererID
}

// Stats returns a snapshot of the cumulative delivery counters.
func (c *Capture) Stats() Stats {
	return Stats{
		Published: c.published.Load(),
		Dropped:   c.dropped.Load(),
		Truncated: c.truncated.Load(),
	}
}

// Subscribe registers a new reader of the published frame stream and returns
// its channel together with a cancel function. Every frame published after
// the call is delivered; there is no replay of missed frames and no blocking
// on slow readers: a subscriber whose channel is full loses frames.
//
// After Stop, Subscribe returns an already-closed channel: late subscribers
// observe a terminated stream, never new frames.
func (c *Capture) Subscribe() (<-chan AudioFrame, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.closed {
		ch := make(chan AudioFrame)
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	ch := make(chan AudioFrame, c.subBuffer)
	c.subs[id] = ch

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// deliver is the DeliverFunc handed to the source. It runs on the source's
// delivery context and must not block: validation, conversion and publication
// are all synchronous and bounded.
func (c *Capture) deliver(raw RawFrame) {
	frame, ok := c.normalise(raw)
	if !ok {
		c.dropped.Add(1)
		return
	}
	c.publish(frame)
}

// normalise validates a raw delivery and converts it to the negotiated target
// format. It reports false for malformed frames, which are dropped
// individually and never terminate the session.
func (c *Capture) normalise(raw RawFrame) (AudioFrame, bool) {
	if raw.SampleRate <= 0 || raw.Channels <= 0 {
		c.log.Warn("capture: malformed frame, bad geometry",
			"sample_rate", raw.SampleRate, "channels", raw.Channels)
		return AudioFrame{}, false
	}

	// The source's own format wins when reported; otherwise the sample
	// width determines the layout.
	srcFormat := raw.Format
	if srcFormat == pcm.FormatUnknown {
		switch raw.BitsPerSample {
		case 16:
			srcFormat = pcm.FormatInt16
		case 32:
			srcFormat = pcm.FormatFloat32
		default:
			c.log.Warn("capture: malformed frame, unsupported sample width",
				"bits_per_sample", raw.BitsPerSample)
			return AudioFrame{}, false
		}
	}

	stride := raw.Channels * srcFormat.BytesPerSample()
	frameCount := len(raw.Data) / stride
	if frameCount == 0 {
		c.log.Warn("capture: malformed frame, payload shorter than one sample-frame",
			"bytes", len(raw.Data), "stride", stride)
		return AudioFrame{}, false
	}
	if len(raw.Data)%stride != 0 {
		// Recoverable: convert the whole sample-frames that are present.
		c.truncated.Add(1)
		c.warnTruncated.Do(func() {
			c.log.Warn("capture: truncated payload, converting whole frames only",
				"bytes", len(raw.Data), "stride", stride)
		})
	}

	c.mu.Lock()
	target := c.target
	c.mu.Unlock()

	outChannels := pcm.ClampChannels(target.Channels, raw.Channels)

	var data []byte
	switch {
	case srcFormat == pcm.FormatFloat32 && target.Format == pcm.FormatInt16:
		data = pcm.Float32ToInt16(raw.Data, raw.Channels, outChannels, frameCount)
	case srcFormat == pcm.FormatFloat32 && target.Format == pcm.FormatFloat32:
		data = pcm.Float32ToFloat32(raw.Data, raw.Channels, outChannels, frameCount)
	case srcFormat == pcm.FormatInt16 && target.Format == pcm.FormatInt16:
		data = pcm.Int16ToInt16(raw.Data, raw.Channels, outChannels, frameCount)
	case srcFormat == pcm.FormatInt16 && target.Format == pcm.FormatFloat32:
		data = pcm.Int16ToFloat32(raw.Data, raw.Channels, outChannels, frameCount)
	default:
		c.log.Warn("capture: malformed frame, unsupported source format",
			"format", srcFormat.String())
		return AudioFrame{}, false
	}

	// Identity conversions may alias raw.Data beyond the last whole frame;
	// cut the tail so the frame-count invariant holds.
	if want := frameCount * outChannels * target.Format.BytesPerSample(); len(data) > want {
		data = data[:want]
	}

	return AudioFrame{
		Data:       data,
		SampleRate: raw.SampleRate, // authoritative, never recomputed
		Channels:   outChannels,
		Format:     target.Format,
	}, true
}

// publish fans a frame out to every current subscriber without blocking.
func (c *Capture) publish(frame AudioFrame) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if c.closed {
		// Stop won the race; the stream has terminated.
		return
	}
	c.published.Add(1)
	for _, ch := range c.subs {
		select {
		case ch <- frame:
		default:
			// Subscriber full; drop the frame rather than block the
			// delivery thread.
		}
	}
}
