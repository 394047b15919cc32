package vad

import (
	"fmt"
	"math"
	"time"
)

// State is the detector's hysteresis state, advanced one frame at a time.
type State int

const (
	StateSilence State = iota
	StatePossibleSpeech
	StateSpeaking
	StatePossibleSilence
)

func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StatePossibleSpeech:
		return "possible_speech"
	case StateSpeaking:
		return "speaking"
	case StatePossibleSilence:
		return "possible_silence"
	default:
		return "unknown"
	}
}

// EventType identifies a boundary event raised by the detector.
type EventType int

const (
	// EventSpeechStart fires when enough consecutive speech frames confirm
	// an utterance began. Consumers retain pre-speech padding themselves;
	// the detector only signals timing.
	EventSpeechStart EventType = iota

	// EventSpeechEnd fires when enough consecutive silence frames confirm
	// the utterance ended.
	EventSpeechEnd

	// EventAutoStop fires once per session when trailing silence after at
	// least one SpeechEnd exceeds the configured budget. It tells the
	// orchestrator to stop the recording entirely.
	EventAutoStop
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventAutoStop:
		return "auto_stop"
	default:
		return "unknown"
	}
}

// Event is a boundary event with the frame index at which it fired.
type Event struct {
	Type       EventType
	FrameIndex int
	Offset     time.Duration
}

// Options tunes the detector. Zero values fall back to Defaults.
type Options struct {
	// Aggressiveness biases the frame classifier toward calling a frame
	// speech: 0 is conservative, 3 is aggressive.
	Aggressiveness int

	// FrameDuration must be 10, 20, or 30 ms of mono 16 kHz audio.
	FrameDuration time.Duration

	// SpeechConfirmFrames is the consecutive speech-frame count that
	// promotes PossibleSpeech to Speaking.
	SpeechConfirmFrames int

	// SilenceConfirmFrames is the consecutive silence-frame count that
	// demotes PossibleSilence to Silence.
	SilenceConfirmFrames int

	// AutoStopSilence is the trailing-silence budget after the first
	// SpeechEnd; zero disables auto-stop.
	AutoStopSilence time.Duration
}

// Defaults returns the tuning used when Options fields are zero.
func Defaults() Options {
	return Options{
		Aggressiveness:       2,
		FrameDuration:        20 * time.Millisecond,
		SpeechConfirmFrames:  3,
		SilenceConfirmFrames: 10,
		AutoStopSilence:      2 * time.Second,
	}
}

// energy thresholds per aggressiveness level, normalized RMS. Higher
// aggressiveness lowers the bar for calling a frame speech.
var thresholds = [4]float64{0.040, 0.025, 0.015, 0.008}

// Detector classifies fixed-duration frames of mono 16 kHz PCM as speech or
// silence and applies hysteresis so brief noise does not flap the state.
// It is rebuilt per recording session and is not safe for concurrent use.
type Detector struct {
	opts      Options
	threshold float64
	frameLen  int

	state       State
	frameIndex  int
	speechRun   int
	silenceRun  int
	sawEnd      bool
	stillAfter  time.Duration
	autoStopped bool
}

// New validates opts and returns a detector in the Silence state.
func New(opts Options) (*Detector, error) {
	def := Defaults()
	if opts.FrameDuration == 0 {
		opts.FrameDuration = def.FrameDuration
	}
	if opts.SpeechConfirmFrames == 0 {
		opts.SpeechConfirmFrames = def.SpeechConfirmFrames
	}
	if opts.SilenceConfirmFrames == 0 {
		opts.SilenceConfirmFrames = def.SilenceConfirmFrames
	}

	switch opts.FrameDuration {
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
	default:
		return nil, fmt.Errorf("unsupported frame duration %s, want 10ms, 20ms or 30ms", opts.FrameDuration)
	}
	if opts.Aggressiveness < 0 || opts.Aggressiveness > 3 {
		return nil, fmt.Errorf("aggressiveness must be 0..3, got %d", opts.Aggressiveness)
	}
	if opts.SpeechConfirmFrames <= 0 || opts.SilenceConfirmFrames <= 0 {
		return nil, fmt.Errorf("confirmation frame counts must be positive")
	}
	if opts.AutoStopSilence < 0 {
		return nil, fmt.Errorf("auto-stop silence must be >= 0")
	}

	return &Detector{
		opts:      opts,
		threshold: thresholds[opts.Aggressiveness],
		frameLen:  int(opts.FrameDuration.Seconds() * 16000),
	}, nil
}

// FrameLength returns the expected samples per frame.
func (d *Detector) FrameLength() int {
	return d.frameLen
}

// State returns the current hysteresis state.
func (d *Detector) State() State {
	return d.state
}

// Push classifies one frame and advances the state machine, returning any
// boundary events it raised. The frame must be exactly FrameLength samples.
func (d *Detector) Push(frame []int16) ([]Event, error) {
	if len(frame) != d.frameLen {
		return nil, fmt.Errorf("expected %d samples per frame, got %d", d.frameLen, len(frame))
	}

	speech := d.classify(frame)
	idx := d.frameIndex
	d.frameIndex++

	var events []Event
	emit := func(t EventType) {
		events = append(events, Event{
			Type:       t,
			FrameIndex: idx,
			Offset:     time.Duration(idx) * d.opts.FrameDuration,
		})
	}

	switch d.state {
	case StateSilence:
		if speech {
			d.state = StatePossibleSpeech
			d.speechRun = 1
			if d.speechRun >= d.opts.SpeechConfirmFrames {
				d.state = StateSpeaking
				emit(EventSpeechStart)
			}
		}
	case StatePossibleSpeech:
		if speech {
			d.speechRun++
			if d.speechRun >= d.opts.SpeechConfirmFrames {
				d.state = StateSpeaking
				emit(EventSpeechStart)
			}
		} else {
			// Streak broken before the threshold: treated as noise.
			d.state = StateSilence
			d.speechRun = 0
		}
	case StateSpeaking:
		if !speech {
			d.state = StatePossibleSilence
			d.silenceRun = 1
			if d.silenceRun >= d.opts.SilenceConfirmFrames {
				d.state = StateSilence
				d.sawEnd = true
				emit(EventSpeechEnd)
			}
		}
	case StatePossibleSilence:
		if speech {
			d.state = StateSpeaking
			d.silenceRun = 0
		} else {
			d.silenceRun++
			if d.silenceRun >= d.opts.SilenceConfirmFrames {
				d.state = StateSilence
				d.sawEnd = true
				emit(EventSpeechEnd)
			}
		}
	}

	// Trailing-silence budget. Only counts once an utterance has ended,
	// and resets whenever speech returns.
	if d.opts.AutoStopSilence > 0 && !d.autoStopped {
		if d.state == StateSilence && d.sawEnd {
			d.stillAfter += d.opts.FrameDuration
			if d.stillAfter >= d.opts.AutoStopSilence {
				d.autoStopped = true
				emit(EventAutoStop)
			}
		} else if d.state == StateSpeaking || d.state == StatePossibleSpeech {
			d.stillAfter = 0
		}
	}

	return events, nil
}

// classify labels a single frame via normalized RMS energy against the
// aggressiveness threshold.
func (d *Detector) classify(frame []int16) bool {
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	return rms >= d.threshold
}

// Reset returns the detector to its initial state for a new session.
func (d *Detector) Reset() {
	d.state = StateSilence
	d.frameIndex = 0
	d.speechRun = 0
	d.silenceRun = 0
	d.sawEnd = false
	d.stillAfter = 0
	d.autoStopped = false
}
