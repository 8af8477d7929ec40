// Package worklet provides a [capture.Source] implementation fed by an
// isolated audio-rendering context, typically a browser AudioWorklet whose
// processor posts capture buffers out over a WebSocket bridge.
//
// Frames arrive as JSON messages on a WebSocket ingest endpoint served by
// [Source.Handler]. The loosely-shaped payloads are parsed eagerly at this
// boundary into [capture.RawFrame] values; anything malformed is dropped with
// a diagnostic and never reaches the pipeline. Messages for renderer IDs that
// no capture session registered are dropped the same way.
package worklet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/sonatap/sonatap/pkg/capture"
	"github.com/sonatap/sonatap/pkg/pcm"
)

// Compile-time interface assertion.
var _ capture.Source = (*Source)(nil)

// ingestMessage is the wire shape posted by the worklet bridge. Data is
// base64 in the JSON text, decoded by encoding/json. Format is optional; the
// pipeline falls back to BitsPerSample when it is absent.
type ingestMessage struct {
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
	Format        string `json:"format,omitempty"`
	Data          []byte `json:"data"`
}

// Option configures a [Source].
type Option func(*Source)

// WithLogger sets the logger for ingest diagnostics. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.log = l }
}

// Source implements [capture.Source] over a WebSocket ingest endpoint.
// Renderer registrations come from capture sessions via Start/Stop; frame
// traffic comes from worklet bridges connecting to [Source.Handler].
//
// Source is safe for concurrent use.
type Source struct {
	log *slog.Logger

	// mu orders deliveries against Stop: readers deliver under the read
	// lock, Stop unregisters under the write lock, so once Stop returns
	// no further deliver calls can occur for that renderer.
	mu       sync.RWMutex
	delivers map[string]capture.DeliverFunc
}

// New creates a Source with no registered renderers.
func New(opts ...Option) *Source {
	s := &Source{
		log:      slog.Default(),
		delivers: make(map[string]capture.DeliverFunc),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start registers deliver for the renderer ID. Frames already flowing on the
// ingest socket for that ID begin reaching the pipeline immediately.
func (s *Source) Start(_ context.Context, req capture.StartRequest, deliver capture.DeliverFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.delivers[req.RendererID]; exists {
		return fmt.Errorf("worklet: renderer %q is already registered", req.RendererID)
	}
	s.delivers[req.RendererID] = deliver
	return nil
}

// Stop unregisters the renderer. It waits out any in-flight delivery, so no
// deliver call for the renderer happens after Stop returns. Bridges still
// connected keep their sockets; their messages are dropped as unregistered.
func (s *Source) Stop(_ context.Context, rendererID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.delivers, rendererID)
	return nil
}

// Handler returns the HTTP handler serving the ingest endpoint:
//
//	GET /ingest/{rendererID} is upgraded to a WebSocket carrying JSON frames
func (s *Source) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ingest/{rendererID}", s.handleIngest)
	return mux
}

// handleIngest upgrades the connection and pumps frames until the bridge
// disconnects. Malformed messages are dropped individually; they never close
// the socket or the capture session.
func (s *Source) handleIngest(w http.ResponseWriter, r *http.Request) {
	rendererID := r.PathValue("rendererID")
	if rendererID == "" {
		http.Error(w, "renderer ID is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("worklet: websocket accept failed", "renderer_id", rendererID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.log.Info("worklet: bridge connected", "renderer_id", rendererID)
	ctx := r.Context()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Disconnect or context cancellation ends the pump.
			s.log.Info("worklet: bridge disconnected", "renderer_id", rendererID, "reason", err)
			return
		}
		s.ingest(rendererID, data)
	}
}

// ingest parses one bridge message and hands it to the registered deliver
// func, if any.
func (s *Source) ingest(rendererID string, data []byte) {
	var msg ingestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("worklet: malformed ingest message dropped",
			"renderer_id", rendererID, "error", err)
		return
	}

	raw := capture.RawFrame{
		SampleRate:    msg.SampleRate,
		Channels:      msg.Channels,
		BitsPerSample: msg.BitsPerSample,
		Format:        pcm.ParseSampleFormat(msg.Format),
		Data:          msg.Data,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	deliver, ok := s.delivers[rendererID]
	if !ok {
		s.log.Debug("worklet: frame for unregistered renderer dropped",
			"renderer_id", rendererID)
		return
	}
	deliver(raw)
}
