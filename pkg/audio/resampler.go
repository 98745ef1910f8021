package audio

import "fmt"

// RateConverter resamples a continuous mono stream chunk by chunk using linear
// interpolation. Unlike [Resample], it carries the fractional read position and
// the last input sample across calls, so a stream converted in arbitrary chunk
// sizes is identical to the same stream converted in one piece.
//
// The converter lags its input by one sample: each output sample interpolates
// between an input sample and its successor, and the final input sample of a
// chunk is held back until the next chunk supplies its successor.
//
// One RateConverter belongs to exactly one stream and one direction. Call
// [RateConverter.Reset] whenever that stream is interrupted or restarted, or
// the first output after the restart will interpolate towards stale audio.
//
// A RateConverter is not safe for concurrent use.
type RateConverter struct {
	src, dst int64 // rates reduced by their gcd

	// next is the position of the next output sample relative to the start
	// of the upcoming chunk, in input samples scaled by dst. It is always
	// >= -dst; negative values lie between prev and the chunk's first sample.
	next   int64
	prev   int16
	primed bool
}

// NewRateConverter creates a converter from srcRate to dstRate Hz. Both rates
// must be positive.
func NewRateConverter(srcRate, dstRate int) (*RateConverter, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid rate pair %d→%d: rates must be positive", srcRate, dstRate)
	}
	g := gcd(srcRate, dstRate)
	return &RateConverter{
		src: int64(srcRate / g),
		dst: int64(dstRate / g),
	}, nil
}

// Convert resamples the next chunk of the stream. The returned slice is newly
// allocated and owned by the caller. For a chunk of n samples the output holds
// n·dst/src samples rounded up or down by at most one; over the lifetime of the
// stream the total is exactly ceil(total·dst/src).
func (c *RateConverter) Convert(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	if c.src == c.dst {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	if !c.primed {
		c.prev = in[0]
		c.next = -c.dst
		c.primed = true
	}

	n := int64(len(in))
	limit := (n - 1) * c.dst
	out := make([]int16, 0, n*c.dst/c.src+1)
	for ; c.next < limit; c.next += c.src {
		i := int64(-1)
		if c.next >= 0 {
			i = c.next / c.dst
		}
		frac := c.next - i*c.dst

		s0 := c.prev
		if i >= 0 {
			s0 = in[i]
		}
		s1 := in[i+1]
		out = append(out, int16((int64(s0)*(c.dst-frac)+int64(s1)*frac)/c.dst))
	}
	c.next -= n * c.dst
	c.prev = in[n-1]
	return out
}

// Reset discards the carried state. The next call to Convert starts a fresh
// stream.
func (c *RateConverter) Reset() {
	c.next = 0
	c.prev = 0
	c.primed = false
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
