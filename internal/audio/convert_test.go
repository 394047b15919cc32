package audio

import (
	"math"
	"testing"
)

func TestDownmixMonoAveragesChannels(t *testing.T) {
	stereo := []float32{0.5, -0.5, 1.0, 0.0, -0.2, -0.4}
	mono := DownmixMono(stereo, 2)
	want := []float32{0.0, 0.5, -0.3}
	if len(mono) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(mono))
	}
	for i := range want {
		if math.Abs(float64(mono[i]-want[i])) > 1e-6 {
			t.Fatalf("frame %d: expected %v, got %v", i, want[i], mono[i])
		}
	}
}

func TestDownmixMonoPassthrough(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := DownmixMono(in, 1)
	if &out[0] != &in[0] {
		t.Fatalf("mono input should pass through unchanged")
	}
}

func TestResampleLinearHalvesRate(t *testing.T) {
	in := make([]float32, 480) // 10ms at 48kHz
	out := ResampleLinear(in, 48000, 16000)
	if len(out) != 160 {
		t.Fatalf("expected 160 samples at 16kHz, got %d", len(out))
	}
}

func TestResampleLinearSameRatePassthrough(t *testing.T) {
	in := []float32{0.1, 0.2}
	out := ResampleLinear(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Fatalf("matching rates should pass through unchanged")
	}
}

func TestQuantizeInt16RoundsAndClamps(t *testing.T) {
	in := []float32{0, 1.0, -1.0, 2.0, -2.0, 0.5}
	out := QuantizeInt16(in)
	want := []int16{0, 32767, -32767, 32767, -32768, 16384}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], out[i])
		}
	}
}

func TestToPCM16Deterministic(t *testing.T) {
	in := make([]float32, 960)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i/2) / 48000))
	}
	a := ToPCM16(in, 48000, 2)
	b := ToPCM16(in, 48000, 2)
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("unexpected output lengths %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs between identical runs", i)
		}
	}
}

func TestToPCM16EmptyInput(t *testing.T) {
	if out := ToPCM16(nil, 48000, 2); out != nil {
		t.Fatalf("expected nil for empty input, got %d samples", len(out))
	}
}
