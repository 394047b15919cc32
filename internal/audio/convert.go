package audio

// TargetSampleRate is the pipeline-wide PCM rate expected by the
// transcription backends.
const TargetSampleRate = 16000

// ToPCM16 converts interleaved float32 samples at an arbitrary rate and
// channel count into mono 16 kHz signed 16-bit PCM. It is a pure function:
// identical input always yields identical output. Channels are mixed by
// arithmetic mean, resampling uses linear interpolation, and quantization
// rounds to nearest with clamping to the int16 range.
func ToPCM16(samples []float32, srcRate, channels int) []int16 {
	if len(samples) == 0 || srcRate <= 0 || channels <= 0 {
		return nil
	}
	mono := DownmixMono(samples, channels)
	mono = ResampleLinear(mono, srcRate, TargetSampleRate)
	return QuantizeInt16(mono)
}

// DownmixMono averages interleaved channels into a mono stream. Mono input is
// returned unchanged.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleLinear resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. Deterministic for identical input. If the rates match
// the input is returned unchanged.
func ResampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	srcN := len(samples)
	dstN := int(int64(srcN) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}
	out := make([]float32, dstN)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < dstN; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := samples[idx]
		s1 := s0
		if idx+1 < srcN {
			s1 = samples[idx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// QuantizeInt16 converts normalized float32 samples to int16, rounding to
// nearest and clamping out-of-range values instead of wrapping.
func QuantizeInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		scaled := float64(s) * 32767.0
		if scaled >= 0 {
			scaled += 0.5
		} else {
			scaled -= 0.5
		}
		v := int32(scaled)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
