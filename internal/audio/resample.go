package audio

import "math"

// filterTaps is the FIR kernel length used by the anti-aliasing filter.
const filterTaps = 31

// Resample converts samples from srcRate to dstRate by linear interpolation.
// A windowed-sinc low-pass guards against aliasing: applied before
// interpolation when downsampling, after when upsampling. Matching rates
// return the input unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return samples
	}

	cutoff := float64(min(srcRate, dstRate)) / 2.0

	if srcRate > dstRate {
		samples = lowPass(samples, cutoff, float64(srcRate))
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, outLen)

	for i := range outLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		if idx+1 >= len(samples) {
			out[i] = samples[len(samples)-1]
			continue
		}
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}

	if dstRate > srcRate {
		out = lowPass(out, cutoff, float64(dstRate))
	}

	return out
}

// lowPass convolves samples with a windowed-sinc kernel. Taps falling
// outside the input range contribute nothing, which slightly attenuates the
// first and last few samples instead of reflecting or zero-padding.
func lowPass(samples []float32, cutoff, sampleRate float64) []float32 {
	kernel := sincKernel(cutoff, sampleRate)
	half := filterTaps / 2
	out := make([]float32, len(samples))

	for i := range samples {
		lo := max(0, half-i)
		hi := min(filterTaps, len(samples)-i+half)
		var sum float32
		for j := lo; j < hi; j++ {
			sum += samples[i+j-half] * kernel[j]
		}
		out[i] = sum
	}

	return out
}

// sincKernel builds a Blackman-windowed sinc kernel normalized to unity
// gain at DC.
func sincKernel(cutoff, sampleRate float64) []float32 {
	fc := cutoff / sampleRate
	half := filterTaps / 2
	kernel := make([]float32, filterTaps)

	var sum float64
	for i := range filterTaps {
		n := float64(i - half)
		sinc := 1.0
		if n != 0 {
			x := 2.0 * math.Pi * fc * n
			sinc = math.Sin(x) / x
		}
		w := 0.42 - 0.5*math.Cos(2.0*math.Pi*float64(i)/float64(filterTaps-1)) +
			0.08*math.Cos(4.0*math.Pi*float64(i)/float64(filterTaps-1))
		val := sinc * w
		kernel[i] = float32(val)
		sum += val
	}

	scale := float32(1.0 / sum)
	for i := range kernel {
		kernel[i] *= scale
	}

	return kernel
}
