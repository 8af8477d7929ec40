// Package device provides a [capture.Source] implementation backed by a
// native audio capture driver. It bridges the platform's real-time audio
// callback (which delivers 16-bit integer PCM on a dedicated thread) with the
// capture pipeline's [capture.RawFrame] contract.
//
// The OS-specific capture mechanism itself stays outside this module: it is
// reached through the narrow [Driver] boundary, the way a platform SDK would
// be wrapped. Tests inject a scripted Driver.
package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sonatap/sonatap/pkg/capture"
	"github.com/sonatap/sonatap/pkg/pcm"
)

// Compile-time interface assertion.
var _ capture.Source = (*Source)(nil)

// Callback receives one captured PCM buffer. Invoked on the driver's audio
// thread; implementations must be fast and non-blocking.
type Callback func(data []byte, sampleRate, channels int)

// Driver is the boundary to the native capture layer. An implementation
// registers the callback with the OS audio mechanism and invokes it once per
// hardware buffer with little-endian 16-bit integer PCM.
type Driver interface {
	// StartCapture begins invoking cb for the given renderer. The sample
	// rate and channel count are requests; the driver reports the actual
	// values on every callback.
	StartCapture(rendererID string, sampleRate, channels int, cb Callback) error

	// StopCapture ends capture for the renderer. After it returns the
	// driver makes no further callback invocations for that renderer.
	StopCapture(rendererID string) error
}

// session tracks one active renderer.
type session struct {
	stopped atomic.Bool // drops late callbacks that slip past StopCapture
}

// Source adapts a [Driver] to the [capture.Source] contract.
//
// Source is safe for concurrent use.
type Source struct {
	driver Driver

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Source over the given driver.
func New(driver Driver) *Source {
	return &Source{
		driver:   driver,
		sessions: make(map[string]*session),
	}
}

// Start registers a capture callback with the driver. The callback tags every
// buffer as 16-bit integer PCM, which is what native capture callbacks
// deliver, and forwards it without copying or blocking.
func (s *Source) Start(_ context.Context, req capture.StartRequest, deliver capture.DeliverFunc) error {
	s.mu.Lock()
	if _, exists := s.sessions[req.RendererID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("device: renderer %q is already capturing", req.RendererID)
	}
	sess := &session{}
	s.sessions[req.RendererID] = sess
	s.mu.Unlock()

	cb := func(data []byte, sampleRate, channels int) {
		if sess.stopped.Load() {
			return
		}
		deliver(capture.RawFrame{
			SampleRate:    sampleRate,
			Channels:      channels,
			BitsPerSample: 16,
			Format:        pcm.FormatInt16,
			Data:          data,
		})
	}

	if err := s.driver.StartCapture(req.RendererID, req.SampleRate, req.Channels, cb); err != nil {
		s.mu.Lock()
		delete(s.sessions, req.RendererID)
		s.mu.Unlock()
		return fmt.Errorf("device: start capture for renderer %q: %w", req.RendererID, err)
	}
	return nil
}

// Stop detaches the driver callback for the renderer. The stopped flag is
// raised before the driver teardown, so a callback racing StopCapture is
// dropped rather than delivered.
func (s *Source) Stop(_ context.Context, rendererID string) error {
	s.mu.Lock()
	sess, exists := s.sessions[rendererID]
	if exists {
		delete(s.sessions, rendererID)
	}
	s.mu.Unlock()

	if !exists {
		return nil
	}
	sess.stopped.Store(true)

	if err := s.driver.StopCapture(rendererID); err != nil {
		return fmt.Errorf("device: stop capture for renderer %q: %w", rendererID, err)
	}
	return nil
}
