package audio

import (
	"math"
	"testing"
)

func TestMeasureLevels(t *testing.T) {
	lv := Measure([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(lv.RMS-0.5) > 1e-6 {
		t.Fatalf("expected rms 0.5, got %v", lv.RMS)
	}
	if math.Abs(lv.Peak-0.5) > 1e-6 {
		t.Fatalf("expected peak 0.5, got %v", lv.Peak)
	}
}

func TestMeasureEmpty(t *testing.T) {
	lv := Measure(nil)
	if lv.RMS != 0 || lv.Peak != 0 {
		t.Fatalf("expected zero levels for empty input, got %+v", lv)
	}
}

func TestMeterEmitsPerWindow(t *testing.T) {
	m := NewMeter(100)

	if out := m.Push(make([]float32, 99)); len(out) != 0 {
		t.Fatalf("expected no levels before first full window, got %d", len(out))
	}
	if out := m.Push(make([]float32, 1)); len(out) != 1 {
		t.Fatalf("expected one level at window boundary, got %d", len(out))
	}
	if out := m.Push(make([]float32, 250)); len(out) != 2 {
		t.Fatalf("expected two levels for 250 samples, got %d", len(out))
	}
}
