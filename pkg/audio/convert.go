package audio

import "fmt"

// ExpandChannels duplicates each mono sample into n interleaved channels.
// The source is inherently mono, so every channel carries the same signal.
// For n <= 1 the input is returned unchanged.
func ExpandChannels(mono []int16, n int) []int16 {
	if n <= 1 {
		return mono
	}
	out := make([]int16, len(mono)*n)
	for i, s := range mono {
		base := i * n
		for ch := range n {
			out[base+ch] = s
		}
	}
	return out
}

// Downmix averages n interleaved channels into mono. Uses int32 arithmetic to
// prevent overflow and clamps to the int16 range. A trailing partial frame is
// dropped. For n <= 1 the input is returned unchanged.
func Downmix(interleaved []int16, n int) []int16 {
	if n <= 1 {
		return interleaved
	}
	frames := len(interleaved) / n
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range n {
			sum += int32(interleaved[i*n+ch])
		}
		out[i] = clamp16(sum / int32(n))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. It is stateless: every call treats its input as a complete
// signal, so consecutive chunks of a stream will click at the seams. Use a
// [RateConverter] for streams. If srcRate == dstRate or either rate is not
// positive, the input is returned unchanged.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
