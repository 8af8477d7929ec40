package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/sonatap/sonatap/internal/app"
	"github.com/sonatap/sonatap/internal/config"
	"github.com/sonatap/sonatap/pkg/capture"
)

// stubSource is a minimal frame source for wiring tests. It records the
// deliver callback so tests can push frames from the outside.
type stubSource struct {
	deliver capture.DeliverFunc
	started chan struct{}
}

func newStubSource() *stubSource {
	return &stubSource{started: make(chan struct{}, 1)}
}

func (s *stubSource) Start(_ context.Context, _ capture.StartRequest, deliver capture.DeliverFunc) error {
	s.deliver = deliver
	select {
	case s.started <- struct{}{}:
	default:
	}
	return nil
}

func (s *stubSource) Stop(context.Context, string) error {
	s.deliver = nil
	return nil
}

// testConfig returns a minimal worklet-source config bound to an ephemeral
// port.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Capture: config.CaptureConfig{
			Source:     config.SourceWorklet,
			SampleRate: 16000,
			Channels:   1,
			Format:     "int16",
		},
		Staging: config.StagingConfig{
			CapacityBytes: 4096,
		},
	}
}

func TestNew_WorkletSource(t *testing.T) {
	t.Parallel()

	application, err := app.New(testConfig())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	if application.Capture() == nil || application.Stager() == nil {
		t.Fatal("expected capture and stager to be wired")
	}
}

func TestNew_DeviceSourceRequiresDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.Source = config.SourceDevice

	if _, err := app.New(cfg); err == nil {
		t.Fatal("expected error for device source without driver")
	}
}

func TestNew_UnknownSourceKind(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.Source = "tape-deck"

	if _, err := app.New(cfg); err == nil {
		t.Fatal("expected error for unknown source kind")
	}
}

func TestNew_InjectedSource(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.Source = config.SourceDevice // would fail without injection

	src := newStubSource()
	if _, err := app.New(cfg, app.WithSource(src)); err != nil {
		t.Fatalf("New() with injected source: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	application, err := app.New(testConfig(), app.WithSource(src))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("capture session did not start within 5s")
	}

	if got := application.Capture().State(); got != capture.StateStarted {
		t.Errorf("capture state = %v, want started", got)
	}

	// Push a frame through the pipeline and wait for it to be staged.
	src.deliver(capture.RawFrame{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
		Data:          []byte{1, 0, 2, 0},
	})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && application.Stager().Held() != 4 {
		time.Sleep(time.Millisecond)
	}
	if got := application.Stager().Held(); got != 4 {
		t.Errorf("staged bytes = %d, want 4", got)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	if got := application.Capture().State(); got != capture.StateStopped {
		t.Errorf("capture state after run = %v, want stopped", got)
	}

	// Shutdown is idempotent.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_StartFailureSurfaces(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.Format = "mp3"

	application, err := app.New(cfg, app.WithSource(newStubSource()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := application.Run(context.Background()); err == nil {
		t.Fatal("expected Run to fail with an invalid target format")
	}
}
