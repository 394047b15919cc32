package audio

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// stubSource hands its frame callback back to the test so frames can be
// pushed deterministically.
type stubSource struct {
	format Format

	mu      sync.Mutex
	fn      func([]float32)
	started bool
	stopped bool
}

func (s *stubSource) Format() Format { return s.format }

func (s *stubSource) Start(fn func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	s.started = true
	return nil
}

func (s *stubSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *stubSource) push(samples []float32) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(samples)
}

func (s *stubSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func mustRing(t *testing.T, capacity int) *Ring {
	t.Helper()
	r, err := NewRing(capacity)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}
	return r
}

func TestCaptureOpenReportsFormatBeforeStreaming(t *testing.T) {
	src := &stubSource{format: Format{SampleRate: 96000, Channels: 2}}
	opener := func(device string, framesPerBuffer int) (Source, error) {
		return src, nil
	}
	c := NewCapture(opener, "", 512, discardLogger())

	format, err := c.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if format.SampleRate != 96000 || format.Channels != 2 {
		t.Fatalf("unexpected format %+v", format)
	}
	if src.started {
		t.Fatalf("open must not start the stream")
	}

	session := mustRing(t, 4096)
	if err := c.Start(session, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	src.push(make([]float32, 256))
	if got := session.Len(); got != 256 {
		t.Fatalf("expected 256 buffered samples, got %d", got)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !src.isStopped() {
		t.Fatalf("stop must close the stream")
	}
}

func TestCaptureSwitchDeviceReopensIntoSameRings(t *testing.T) {
	sources := map[string]*stubSource{
		"":    {format: Format{SampleRate: 48000, Channels: 1}},
		"usb": {format: Format{SampleRate: 44100, Channels: 2}},
	}
	opener := func(device string, framesPerBuffer int) (Source, error) {
		return sources[device], nil
	}
	c := NewCapture(opener, "", 512, discardLogger())
	if _, err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	session := mustRing(t, 4096)
	if err := c.Start(session, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	sources[""].push(make([]float32, 128))
	drained := make([]float32, 128)
	if n := session.Read(drained); n != 128 {
		t.Fatalf("expected to drain 128 samples, got %d", n)
	}

	if err := c.SwitchDevice("usb"); err != nil {
		t.Fatalf("switch device: %v", err)
	}
	if !sources[""].isStopped() {
		t.Fatalf("old stream must be stopped")
	}
	if got := c.Format(); got.SampleRate != 44100 || got.Channels != 2 {
		t.Fatalf("format not updated after switch: %+v", got)
	}

	// The new stream feeds the same session ring.
	sources["usb"].push(make([]float32, 64))
	if got := session.Len(); got != 64 {
		t.Fatalf("expected 64 samples from the new device, got %d", got)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestCaptureSwitchDeviceProceedsPastDrainDeadline(t *testing.T) {
	sources := map[string]*stubSource{
		"":    {format: Format{SampleRate: 48000, Channels: 1}},
		"usb": {format: Format{SampleRate: 48000, Channels: 1}},
	}
	opener := func(device string, framesPerBuffer int) (Source, error) {
		return sources[device], nil
	}
	c := NewCapture(opener, "", 512, discardLogger())
	if _, err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	session := mustRing(t, 4096)
	if err := c.Start(session, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Undrained samples with no consumer: the switch waits out its drain
	// window, then proceeds rather than wedging the session.
	sources[""].push(make([]float32, 512))
	start := time.Now()
	if err := c.SwitchDevice("usb"); err != nil {
		t.Fatalf("switch device: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Fatalf("expected switch to wait for the drain window, took %s", elapsed)
	}
	if !c.Running() {
		t.Fatalf("capture must be running on the new device")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestCaptureWatchdogFlagsStalledStream(t *testing.T) {
	src := &stubSource{format: Format{SampleRate: 48000, Channels: 1}}
	opener := func(device string, framesPerBuffer int) (Source, error) {
		return src, nil
	}
	c := NewCapture(opener, "pulse", 512, discardLogger())
	if _, err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Start(mustRing(t, 4096), nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	// The stub never delivers a frame, like a device yanked right after the
	// stream opened.
	select {
	case err := <-c.Errors():
		var devErr *DeviceError
		if !errors.As(err, &devErr) {
			t.Fatalf("expected typed device error, got %v", err)
		}
		if devErr.Reason != DeviceUnavailable {
			t.Fatalf("expected unavailable reason, got %v", devErr.Reason)
		}
		if devErr.Device != "pulse" {
			t.Fatalf("expected device pulse, got %q", devErr.Device)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watchdog never flagged the stalled stream")
	}
}
