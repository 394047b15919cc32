package audio

import (
	"errors"
	"fmt"
)

// Format describes the native sample layout of a capture stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Device describes an available input device.
type Device struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	SampleRate float64 `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Default    bool    `json:"default"`
}

// Source delivers raw interleaved float32 frames from one input device. The
// frame callback runs on the audio subsystem's thread and must not block,
// allocate, or lock.
type Source interface {
	Format() Format
	Start(fn func([]float32)) error
	Stop() error
}

// SourceOpener opens a Source for a device identifier. An empty identifier
// selects the system default input without altering it. Open failures are
// reported synchronously as a *DeviceError; no partial stream is left open.
type SourceOpener func(device string, framesPerBuffer int) (Source, error)

// DeviceErrorReason classifies device failures.
type DeviceErrorReason string

const (
	DeviceNotFound    DeviceErrorReason = "not_found"
	DeviceNoInput     DeviceErrorReason = "no_input"
	DeviceUnavailable DeviceErrorReason = "unavailable"
	DeviceNegotiation DeviceErrorReason = "negotiation"
)

// DeviceError is the typed failure surfaced when a device cannot be opened
// or disappears mid-session.
type DeviceError struct {
	Device string
	Reason DeviceErrorReason
	Err    error
}

func (e *DeviceError) Error() string {
	name := e.Device
	if name == "" {
		name = "default input"
	}
	if e.Err != nil {
		return fmt.Sprintf("audio device %q %s: %v", name, e.Reason, e.Err)
	}
	return fmt.Sprintf("audio device %q %s", name, e.Reason)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err wraps a *DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
