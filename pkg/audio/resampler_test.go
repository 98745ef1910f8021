package audio_test

import (
	"testing"

	"github.com/MrWong99/kikai/pkg/audio"
)

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((i * 37) % 20000)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestNewRateConverter_InvalidRates(t *testing.T) {
	t.Parallel()
	for _, pair := range [][2]int{{0, 16000}, {16000, 0}, {-1, 24000}} {
		if _, err := audio.NewRateConverter(pair[0], pair[1]); err == nil {
			t.Errorf("NewRateConverter(%d, %d): expected error", pair[0], pair[1])
		}
	}
}

func TestRateConverter_SameRateCopies(t *testing.T) {
	t.Parallel()
	c, err := audio.NewRateConverter(24000, 24000)
	if err != nil {
		t.Fatal(err)
	}
	in := []int16{1, 2, 3}
	out := c.Convert(in)
	equalSamples(t, out, in)
	out[0] = 99
	if in[0] != 1 {
		t.Error("Convert must not alias its input")
	}
}

func TestRateConverter_ChunkCountWithinOne(t *testing.T) {
	t.Parallel()

	rates := []int{8000, 16000, 22050, 24000, 44100, 48000}
	chunks := []int{1, 2, 7, 160, 512, 1023, 1024, 1536}
	for _, src := range rates {
		for _, dst := range rates {
			c, err := audio.NewRateConverter(src, dst)
			if err != nil {
				t.Fatalf("%d→%d: %v", src, dst, err)
			}
			for _, n := range chunks {
				got := len(c.Convert(ramp(n)))
				// |got - n·dst/src| <= 1, in integer arithmetic.
				if abs(got*src-n*dst) > src {
					t.Errorf("%d→%d chunk %d: got %d samples, want %.2f±1", src, dst, n, got, float64(n*dst)/float64(src))
				}
			}
		}
	}
}

func TestRateConverter_StreamTotalExact(t *testing.T) {
	t.Parallel()

	c, err := audio.NewRateConverter(48000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	total, got := 0, 0
	for _, n := range []int{1536, 100, 3, 1, 2048, 999} {
		total += n
		got += len(c.Convert(ramp(n)))
	}
	want := (total*16000 + 48000 - 1) / 48000
	if got != want {
		t.Errorf("total output = %d, want ceil(%d/3) = %d", got, total, want)
	}
}

func TestRateConverter_ChunkingInvariant(t *testing.T) {
	t.Parallel()

	in := ramp(3000)

	whole, _ := audio.NewRateConverter(24000, 48000)
	want := whole.Convert(in)

	chunked, _ := audio.NewRateConverter(24000, 48000)
	var got []int16
	for _, n := range []int{1, 499, 1000, 17, 1483} {
		got = append(got, chunked.Convert(in[:n])...)
		in = in[n:]
	}
	equalSamples(t, got, want)
}

func TestRateConverter_RoundTripPreservesCount(t *testing.T) {
	t.Parallel()

	pairs := [][2]int{{48000, 24000}, {48000, 16000}, {44100, 24000}, {24000, 48000}, {16000, 44100}}
	for _, p := range pairs {
		hi, lo := p[0], p[1]
		if lo > hi {
			hi, lo = lo, hi
		}
		tolerance := (hi+lo-1)/lo + 1
		for _, n := range []int{1, 64, 1000, 1024, 4096} {
			down, _ := audio.NewRateConverter(p[0], p[1])
			up, _ := audio.NewRateConverter(p[1], p[0])
			got := len(up.Convert(down.Convert(ramp(n))))
			if abs(got-n) > tolerance {
				t.Errorf("%d→%d→%d with %d samples: got %d, tolerance %d", p[0], p[1], p[0], n, got, tolerance)
			}
		}
	}
}

func TestRateConverter_Interpolates(t *testing.T) {
	t.Parallel()

	c, _ := audio.NewRateConverter(24000, 48000)
	// The converter lags by one input sample: the first output repeats the
	// first input, then values fall halfway between neighbours.
	got := c.Convert([]int16{0, 100, 200})
	equalSamples(t, got, []int16{0, 0, 0, 50, 100, 150})

	got = c.Convert([]int16{300})
	equalSamples(t, got, []int16{200, 250})
}

func TestRateConverter_ResetStartsFresh(t *testing.T) {
	t.Parallel()

	c, _ := audio.NewRateConverter(24000, 48000)
	c.Convert([]int16{1000, 1000, 1000})
	c.Reset()

	fresh, _ := audio.NewRateConverter(24000, 48000)
	equalSamples(t, c.Convert([]int16{0, 100}), fresh.Convert([]int16{0, 100}))
}

func TestRateConverter_EmptyInput(t *testing.T) {
	t.Parallel()
	c, _ := audio.NewRateConverter(48000, 24000)
	if out := c.Convert(nil); len(out) != 0 {
		t.Errorf("Convert(nil) returned %d samples", len(out))
	}
}
