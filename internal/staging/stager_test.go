package staging

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sonatap/sonatap/internal/observe"
	"github.com/sonatap/sonatap/pkg/capture"
	"github.com/sonatap/sonatap/pkg/pcm"
)

// fakeSource delivers frames synchronously from the test goroutine.
type fakeSource struct {
	deliver capture.DeliverFunc
}

func (f *fakeSource) Start(_ context.Context, _ capture.StartRequest, deliver capture.DeliverFunc) error {
	f.deliver = deliver
	return nil
}

func (f *fakeSource) Stop(context.Context, string) error {
	f.deliver = nil
	return nil
}

func (f *fakeSource) emit(raw capture.RawFrame) {
	if f.deliver != nil {
		f.deliver(raw)
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newSession wires a started capture, a fake source and an attached stager.
func newSession(t *testing.T, capacity int) (*fakeSource, *capture.Capture, *Stager) {
	t.Helper()
	src := &fakeSource{}
	c := capture.New(src)
	target := capture.TargetFormat{Format: pcm.FormatInt16, SampleRate: 16000, Channels: 1}
	if err := c.Start(context.Background(), target); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)

	s := New(capacity, WithMetrics(testMetrics(t)))
	s.Attach(c)
	t.Cleanup(s.Close)
	return src, c, s
}

func rawInt16(data []byte) capture.RawFrame {
	return capture.RawFrame{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
		Data:          data,
	}
}

// waitHeld polls until the stager holds want bytes or the deadline passes.
func waitHeld(t *testing.T, s *Stager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Held() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("staged bytes = %d, want %d", s.Held(), want)
}

func TestStager_StagesPublishedFrames(t *testing.T) {
	src, _, s := newSession(t, 1024)

	src.emit(rawInt16([]byte{1, 0, 2, 0}))
	src.emit(rawInt16([]byte{3, 0, 4, 0}))
	waitHeld(t, s, 8)

	data, info := s.Drain()
	want := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	if !bytes.Equal(data, want) {
		t.Errorf("drained = %v, want %v", data, want)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.Format != pcm.FormatInt16 {
		t.Errorf("info = %+v", info)
	}
}

func TestStager_OverflowKeepsNewest(t *testing.T) {
	src, _, s := newSession(t, 4)

	src.emit(rawInt16([]byte{1, 0, 2, 0}))
	waitHeld(t, s, 4)
	src.emit(rawInt16([]byte{3, 0}))
	waitHeld(t, s, 4)

	data, _ := s.Drain()
	want := []byte{2, 0, 3, 0}
	if !bytes.Equal(data, want) {
		t.Errorf("drained = %v, want %v", data, want)
	}
}

func TestStager_DrainEmpty(t *testing.T) {
	_, _, s := newSession(t, 64)

	data, info := s.Drain()
	if data != nil {
		t.Errorf("drained = %v, want nil", data)
	}
	if info != (DrainInfo{}) {
		t.Errorf("info = %+v, want zero", info)
	}
}

func TestStager_DrainResetsHeld(t *testing.T) {
	src, _, s := newSession(t, 64)

	src.emit(rawInt16([]byte{1, 0}))
	waitHeld(t, s, 2)

	s.Drain()
	if got := s.Held(); got != 0 {
		t.Errorf("held after drain = %d, want 0", got)
	}

	src.emit(rawInt16([]byte{5, 0}))
	waitHeld(t, s, 2)
}

func TestStager_CloseStopsStaging(t *testing.T) {
	src, _, s := newSession(t, 64)

	src.emit(rawInt16([]byte{1, 0}))
	waitHeld(t, s, 2)

	s.Close()
	src.emit(rawInt16([]byte{2, 0}))

	if got := s.Held(); got != 2 {
		t.Errorf("held after close = %d, want 2", got)
	}
}

func TestStager_CloseKeepsStagedBytes(t *testing.T) {
	src, _, s := newSession(t, 64)

	src.emit(rawInt16([]byte{7, 0, 8, 0}))
	waitHeld(t, s, 4)
	s.Close()

	data, _ := s.Drain()
	if !bytes.Equal(data, []byte{7, 0, 8, 0}) {
		t.Errorf("drained = %v", data)
	}
}

func TestStager_StreamCloseEndsConsumer(t *testing.T) {
	src, c, s := newSession(t, 64)

	src.emit(rawInt16([]byte{1, 0}))
	waitHeld(t, s, 2)

	c.Stop()
	// Close must return promptly once the stream has ended.
	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after stream end")
	}
}

func TestHandleDrain_Empty(t *testing.T) {
	_, _, s := newSession(t, 64)

	mux := http.NewServeMux()
	s.Register(mux)

	req := httptest.NewRequest("GET", "/stage/drain", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestHandleDrain_ReturnsStagedAudio(t *testing.T) {
	src, _, s := newSession(t, 64)

	src.emit(rawInt16([]byte{1, 0, 2, 0}))
	waitHeld(t, s, 4)

	mux := http.NewServeMux()
	s.Register(mux)

	req := httptest.NewRequest("GET", "/stage/drain", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if sr := rec.Header().Get("X-Pcm-Sample-Rate"); sr != "16000" {
		t.Errorf("X-Pcm-Sample-Rate = %q, want 16000", sr)
	}
	if ch := rec.Header().Get("X-Pcm-Channels"); ch != "1" {
		t.Errorf("X-Pcm-Channels = %q, want 1", ch)
	}
	if f := rec.Header().Get("X-Pcm-Format"); f != "int16" {
		t.Errorf("X-Pcm-Format = %q, want int16", f)
	}

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(body, []byte{1, 0, 2, 0}) {
		t.Errorf("body = %v, want [1 0 2 0]", body)
	}

	// Second drain is empty.
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, httptest.NewRequest("GET", "/stage/drain", nil))
	if rec2.Code != http.StatusNoContent {
		t.Errorf("second drain status = %d, want %d", rec2.Code, http.StatusNoContent)
	}
}
