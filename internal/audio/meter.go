package audio

import "math"

// Levels holds level statistics for one metering window.
type Levels struct {
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
}

// Measure computes RMS and peak magnitude over a block of samples.
func Measure(samples []float32) Levels {
	if len(samples) == 0 {
		return Levels{}
	}
	var sum float64
	var peak float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return Levels{
		RMS:  math.Sqrt(sum / float64(len(samples))),
		Peak: peak,
	}
}

// Meter accumulates samples into fixed windows and emits one Levels value per
// complete window. It consumes the meter tap independently of the VAD, so
// level feedback keeps flowing whatever the detector is doing.
type Meter struct {
	window []float32
	filled int
}

// NewMeter creates a meter with the given window size in samples.
func NewMeter(windowSamples int) *Meter {
	if windowSamples <= 0 {
		windowSamples = 1
	}
	return &Meter{window: make([]float32, windowSamples)}
}

// Push feeds samples and returns a Levels value for each window completed.
func (m *Meter) Push(samples []float32) []Levels {
	var out []Levels
	for len(samples) > 0 {
		n := copy(m.window[m.filled:], samples)
		m.filled += n
		samples = samples[n:]
		if m.filled == len(m.window) {
			out = append(out, Measure(m.window))
			m.filled = 0
		}
	}
	return out
}
