// Package staging accumulates captured PCM between drains.
//
// A [Stager] subscribes to a capture session and copies every published
// frame into a fixed-capacity byte ring. Consumers pull the staged audio in
// bulk, either programmatically via [Stager.Drain] or over HTTP via the
// registered drain endpoint. When audio arrives faster than it is drained
// the ring silently discards its oldest bytes, so a stalled consumer loses
// old audio instead of growing memory.
package staging

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/sonatap/sonatap/internal/observe"
	"github.com/sonatap/sonatap/pkg/capture"
	"github.com/sonatap/sonatap/pkg/pcm"
	"github.com/sonatap/sonatap/pkg/ringbuf"
)

// Option configures a [Stager].
type Option func(*Stager)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Stager) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Stager) { s.metrics = m }
}

// DrainInfo describes the audio returned by a drain.
type DrainInfo struct {
	// SampleRate, Channels and Format describe the drained bytes. They
	// reflect the most recently staged frame; all bytes in one drain share
	// a single negotiated format, so this is the format of the whole batch.
	SampleRate int
	Channels   int
	Format     pcm.SampleFormat
}

// Stager owns the staging ring for one capture session. All methods are safe
// for concurrent use.
type Stager struct {
	log     *slog.Logger
	metrics *observe.Metrics

	mu         sync.Mutex
	ring       *ringbuf.Buffer
	sampleRate int
	channels   int
	format     pcm.SampleFormat

	cancel   func()
	done     chan struct{}
	stopOnce sync.Once

	warnOverflow sync.Once
}

// New creates a Stager with the given ring capacity in bytes. Panics if
// capacity is not positive, mirroring [ringbuf.New].
func New(capacity int, opts ...Option) *Stager {
	s := &Stager{
		log:  slog.Default(),
		ring: ringbuf.New(capacity),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Attach subscribes to c and starts staging its published frames. The
// consuming goroutine runs until [Stager.Close] is called or the capture
// session stops and closes the stream.
func (s *Stager) Attach(c *capture.Capture) {
	frames, cancel := c.Subscribe()
	s.cancel = cancel
	go func() {
		defer close(s.done)
		for frame := range frames {
			s.stage(frame)
		}
	}()
}

// Close detaches from the capture session and waits for the consuming
// goroutine to exit. Already-staged bytes remain drainable. Safe to call
// multiple times.
func (s *Stager) Close() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
	})
}

// stage copies one frame into the ring and records its arrival.
func (s *Stager) stage(frame capture.AudioFrame) {
	s.mu.Lock()
	before := s.ring.Len()
	overflow := s.ring.Write(frame.Data)
	delta := s.ring.Len() - before
	s.sampleRate = frame.SampleRate
	s.channels = frame.Channels
	s.format = frame.Format
	s.mu.Unlock()

	s.metrics.RecordStagedFrame(context.Background(), len(frame.Data), delta, overflow)
	if overflow {
		s.warnOverflow.Do(func() {
			s.log.Warn("staging: ring overflowed, oldest audio discarded",
				"capacity", s.ring.Cap())
		})
	}
}

// Drain removes and returns all staged bytes in arrival order together with
// their format. The returned slice is owned by the caller. An empty drain
// returns a nil slice and the zero [DrainInfo].
func (s *Stager) Drain() ([]byte, DrainInfo) {
	s.mu.Lock()
	data := s.ring.TakeBytes()
	info := DrainInfo{
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Format:     s.format,
	}
	s.mu.Unlock()

	if len(data) == 0 {
		return nil, DrainInfo{}
	}
	s.metrics.RecordDrain(context.Background(), len(data))
	s.log.Debug("staging: drained", "bytes", len(data),
		"sample_rate", info.SampleRate, "channels", info.Channels,
		"format", info.Format.String())
	return data, info
}

// Held reports the number of bytes currently staged.
func (s *Stager) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Len()
}

// Register adds the drain route to mux.
func (s *Stager) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stage/drain", s.handleDrain)
}

// handleDrain serves staged audio as a raw PCM body. The sample geometry
// travels in response headers so the payload stays byte-exact.
//
// An empty ring yields 204 No Content.
func (s *Stager) handleDrain(w http.ResponseWriter, _ *http.Request) {
	data, info := s.Drain()
	if len(data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Pcm-Sample-Rate", strconv.Itoa(info.SampleRate))
	h.Set("X-Pcm-Channels", strconv.Itoa(info.Channels))
	h.Set("X-Pcm-Format", info.Format.String())
	h.Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.log.Warn("staging: drain response write failed", "error", err)
	}
}
