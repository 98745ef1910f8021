package wakeword

import (
	"fmt"

	"github.com/MrWong99/kikai/pkg/audio"
	"github.com/MrWong99/kikai/pkg/provider/wakeword"
)

// Listener feeds captured frames to a keyword detector. Frames at the source
// rate are converted to the detector's rate with a dedicated converter, so a
// Listener never shares resampling state with the capture or playback paths.
//
// A Listener is not safe for concurrent use.
type Listener struct {
	detector wakeword.Detector
	conv     *audio.RateConverter
	buf      *Buffer
	srcRate  int
}

// NewListener creates a Listener for frames captured at srcRate Hz.
func NewListener(det wakeword.Detector, srcRate int) (*Listener, error) {
	conv, err := audio.NewRateConverter(srcRate, det.SampleRate())
	if err != nil {
		return nil, fmt.Errorf("wakeword: %w", err)
	}
	buf, err := NewBuffer(det.FrameLength())
	if err != nil {
		return nil, err
	}
	return &Listener{detector: det, conv: conv, buf: buf, srcRate: srcRate}, nil
}

// Feed converts frame, buffers it and runs the detector over every complete
// frame. It returns the first detected keyword index, or
// [wakeword.NoKeyword]. Detection stops at the first hit; the samples after it
// stay buffered until the owner calls Reset.
//
// Detector errors abort the pass and are returned; the offending frame is
// dropped.
func (l *Listener) Feed(frame audio.AudioFrame) (int, error) {
	if frame.SampleRate != 0 && frame.SampleRate != l.srcRate {
		return wakeword.NoKeyword, fmt.Errorf("wakeword: frame rate %d does not match listener rate %d", frame.SampleRate, l.srcRate)
	}
	l.buf.Write(l.conv.Convert(frame.Samples))

	keyword := wakeword.NoKeyword
	var procErr error
	l.buf.Drain(func(f []int16) bool {
		idx, err := l.detector.Process(f)
		if err != nil {
			procErr = err
			return false
		}
		if idx >= 0 {
			keyword = idx
			return false
		}
		return true
	})
	if procErr != nil {
		return wakeword.NoKeyword, fmt.Errorf("wakeword: detect: %w", procErr)
	}
	return keyword, nil
}

// Buffered returns the number of detector-rate samples waiting for a full
// frame.
func (l *Listener) Buffered() int { return l.buf.Len() }

// Reset discards buffered samples and the converter state. Call it whenever
// the feed is interrupted, e.g. when gating closes or after a detection.
func (l *Listener) Reset() {
	l.buf.Reset()
	l.conv.Reset()
}

// Release frees the underlying detector.
func (l *Listener) Release() error {
	return l.detector.Release()
}
