package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// A live input stream delivers callbacks many times per second, so a full
// second with no samples while nominally running means the device is gone.
// Unplugged USB microphones stall the stream silently rather than erroring.
const (
	watchdogInterval = 250 * time.Millisecond
	watchdogStall    = time.Second
)

// InitHost initializes the host audio subsystem. Call once at process start.
func InitHost() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize audio host: %w", err)
	}
	return nil
}

// TerminateHost releases the host audio subsystem.
func TerminateHost() error {
	return portaudio.Terminate()
}

// ListDevices enumerates input-capable devices.
func ListDevices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate audio devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()
	var out []Device
	for _, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, Device{
			ID:         info.Name,
			Name:       info.Name,
			SampleRate: info.DefaultSampleRate,
			Channels:   info.MaxInputChannels,
			Default:    def != nil && info.Name == def.Name,
		})
	}
	return out, nil
}

// OpenPortAudioSource validates the requested device and opens a capture
// stream at the device's native format. It is the default SourceOpener.
func OpenPortAudioSource(device string, framesPerBuffer int) (Source, error) {
	info, err := lookupInput(device)
	if err != nil {
		return nil, err
	}
	channels := info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.SampleRate = info.DefaultSampleRate
	params.FramesPerBuffer = framesPerBuffer

	return &portAudioSource{
		params: params,
		format: Format{SampleRate: int(info.DefaultSampleRate), Channels: channels},
		device: device,
	}, nil
}

func lookupInput(device string) (*portaudio.DeviceInfo, error) {
	if device == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, &DeviceError{Reason: DeviceUnavailable, Err: err}
		}
		if info.MaxInputChannels <= 0 {
			return nil, &DeviceError{Reason: DeviceNoInput}
		}
		return info, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, &DeviceError{Device: device, Reason: DeviceUnavailable, Err: err}
	}
	for _, info := range infos {
		if info.Name != device {
			continue
		}
		if info.MaxInputChannels <= 0 {
			return nil, &DeviceError{Device: device, Reason: DeviceNoInput}
		}
		return info, nil
	}
	return nil, &DeviceError{Device: device, Reason: DeviceNotFound}
}

type portAudioSource struct {
	params portaudio.StreamParameters
	format Format
	device string
	stream *portaudio.Stream
}

func (s *portAudioSource) Format() Format {
	return s.format
}

func (s *portAudioSource) Start(fn func([]float32)) error {
	stream, err := portaudio.OpenStream(s.params, func(in []float32) {
		fn(in)
	})
	if err != nil {
		return &DeviceError{Device: s.device, Reason: DeviceNegotiation, Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &DeviceError{Device: s.device, Reason: DeviceUnavailable, Err: err}
	}
	s.stream = stream
	return nil
}

func (s *portAudioSource) Stop() error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		s.stream = nil
		return fmt.Errorf("stop capture stream: %w", err)
	}
	err := s.stream.Close()
	s.stream = nil
	if err != nil {
		return fmt.Errorf("close capture stream: %w", err)
	}
	return nil
}

// Capture owns the input stream for one recording session. Its frame
// callback is the sole real-time producer: it fans raw frames out to the
// session, VAD, and meter rings with non-blocking writes and does nothing
// else. A stall in one consumer only drops samples from that consumer's
// ring.
type Capture struct {
	opener          SourceOpener
	framesPerBuffer int
	session         *Ring
	vadTap          *Ring
	meterTap        *Ring
	logger          *slog.Logger

	dropped atomic.Int64
	frames  atomic.Int64
	errs    chan error

	mu        sync.Mutex
	src       Source
	device    string
	format    Format
	running   bool
	stopWatch chan struct{}
}

// NewCapture prepares a capture for one session. Open negotiates the device
// format, then Start wires the consumer rings and begins streaming.
func NewCapture(opener SourceOpener, device string, framesPerBuffer int, logger *slog.Logger) *Capture {
	return &Capture{
		opener:          opener,
		framesPerBuffer: framesPerBuffer,
		device:          device,
		errs:            make(chan error, 1),
		logger:          logger.With(slog.String("component", "capture")),
	}
}

// Open validates the device and negotiates the stream format without
// starting the stream, so callers can size buffers from the real rate and
// channel count before any audio flows. Failure is a typed *DeviceError.
func (c *Capture) Open() (Format, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.src != nil {
		return Format{}, fmt.Errorf("capture already open")
	}
	src, err := c.opener(c.device, c.framesPerBuffer)
	if err != nil {
		return Format{}, err
	}
	c.src = src
	c.format = src.Format()
	return c.format, nil
}

// Start begins streaming into the rings. Open must have succeeded first.
// The taps may be nil when VAD or metering is disabled.
func (c *Capture) Start(session, vadTap, meterTap *Ring) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("capture already running")
	}
	if c.src == nil {
		return fmt.Errorf("capture not open")
	}
	c.session = session
	c.vadTap = vadTap
	c.meterTap = meterTap
	if err := c.src.Start(c.onFrame); err != nil {
		c.src = nil
		return err
	}
	c.running = true
	c.stopWatch = make(chan struct{})
	go c.watchdog(c.stopWatch)
	c.logger.Info("capture started",
		slog.String("device", c.deviceLabel()),
		slog.Int("sample_rate", c.format.SampleRate),
		slog.Int("channels", c.format.Channels))
	return nil
}

// onFrame runs on the audio thread. No allocation, no locks, no I/O.
func (c *Capture) onFrame(in []float32) {
	c.frames.Add(int64(len(in)))
	if n := c.session.Write(in); n > 0 {
		c.dropped.Add(int64(n))
	}
	if c.vadTap != nil {
		c.vadTap.Write(in)
	}
	if c.meterTap != nil {
		c.meterTap.Write(in)
	}
}

// watchdog flags a stream that silently stops delivering samples while
// supposedly running. Detection is by sample flow rather than host API
// polling: it works for any Source and catches devices that vanish without
// reporting an error through the callback.
func (c *Capture) watchdog(stop chan struct{}) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	last := c.frames.Load()
	var stalled time.Duration
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if !c.Running() {
			// Device switch in progress; restart the stall clock.
			stalled = 0
			last = c.frames.Load()
			continue
		}
		now := c.frames.Load()
		if now != last {
			last = now
			stalled = 0
			continue
		}
		stalled += watchdogInterval
		if stalled >= watchdogStall {
			c.mu.Lock()
			dev := c.device
			c.mu.Unlock()
			err := &DeviceError{
				Device: dev,
				Reason: DeviceUnavailable,
				Err:    errors.New("stream stopped delivering samples"),
			}
			c.logger.Error("capture stream stalled", slog.String("device", dev))
			select {
			case c.errs <- err:
			default:
			}
			return
		}
	}
}

// Errors delivers at most one fatal stream error, such as the device
// disappearing mid-session.
func (c *Capture) Errors() <-chan error {
	return c.errs
}

// Stop halts the stream. The rings keep whatever is buffered so the writer
// can drain it.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopWatch != nil {
		close(c.stopWatch)
		c.stopWatch = nil
	}
	if !c.running {
		return nil
	}
	c.running = false
	err := c.src.Stop()
	c.src = nil
	return err
}

// SwitchDevice swaps the input device mid-session without interrupting the
// destination file: the current stream is stopped, the session ring is
// drained by the writer, then the new stream starts into the same rings.
// On failure the capture is left stopped and the error is returned.
func (c *Capture) SwitchDevice(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return fmt.Errorf("capture not running")
	}
	if err := c.src.Stop(); err != nil {
		c.running = false
		c.src = nil
		return fmt.Errorf("stop stream for device switch: %w", err)
	}
	c.src = nil
	c.running = false

	// Let the writer finish the old device's samples so a format change
	// never mixes rates within the ring.
	deadline := time.Now().Add(2 * time.Second)
	for c.session.Len() > 0 && time.Now().Before(deadline) {
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		c.mu.Lock()
	}

	src, err := c.opener(device, c.framesPerBuffer)
	if err != nil {
		return err
	}
	if err := src.Start(c.onFrame); err != nil {
		return err
	}
	c.src = src
	c.device = device
	c.format = src.Format()
	c.running = true
	c.logger.Info("capture device switched",
		slog.String("device", c.deviceLabel()),
		slog.Int("sample_rate", c.format.SampleRate),
		slog.Int("channels", c.format.Channels))
	return nil
}

// Format returns the current stream format. Valid after Start.
func (c *Capture) Format() Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// Running reports whether the stream is active.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// DroppedSamples returns the total session-ring samples lost to overflow.
func (c *Capture) DroppedSamples() int64 {
	return c.dropped.Load()
}

func (c *Capture) deviceLabel() string {
	if c.device == "" {
		return "default"
	}
	return c.device
}
