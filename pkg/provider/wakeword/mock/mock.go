// Package mock provides a scripted test double for [wakeword.Detector].
//
// Set Detections to the keyword indices Process should return on consecutive
// calls; once the script is exhausted Process returns [wakeword.NoKeyword].
//
//	det := &mock.Detector{Frame: 512, Rate: 16000, Detections: []int{-1, -1, 0}}
package mock

import (
	"fmt"
	"sync"

	"github.com/MrWong99/kikai/pkg/provider/wakeword"
)

var _ wakeword.Detector = (*Detector)(nil)

// Detector is a mock implementation of [wakeword.Detector].
type Detector struct {
	mu sync.Mutex

	// Frame and Rate are returned by FrameLength and SampleRate. They default
	// to 512 and 16000.
	Frame int
	Rate  int

	// Detections scripts the results of consecutive Process calls.
	Detections []int

	// ProcessErr is returned by every Process call when set.
	ProcessErr error

	// Frames records a copy of every frame passed to Process.
	Frames [][]int16

	// CallCountRelease records how many times Release was called.
	CallCountRelease int
}

// FrameLength implements [wakeword.Detector].
func (d *Detector) FrameLength() int {
	if d.Frame == 0 {
		return 512
	}
	return d.Frame
}

// SampleRate implements [wakeword.Detector].
func (d *Detector) SampleRate() int {
	if d.Rate == 0 {
		return 16000
	}
	return d.Rate
}

// Process implements [wakeword.Detector].
func (d *Detector) Process(frame []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(frame) != d.FrameLength() {
		return wakeword.NoKeyword, fmt.Errorf("%w: got %d, want %d", wakeword.ErrFrameLength, len(frame), d.FrameLength())
	}
	cp := make([]int16, len(frame))
	copy(cp, frame)
	d.Frames = append(d.Frames, cp)
	if d.ProcessErr != nil {
		return wakeword.NoKeyword, d.ProcessErr
	}
	idx := len(d.Frames) - 1
	if idx < len(d.Detections) {
		return d.Detections[idx], nil
	}
	return wakeword.NoKeyword, nil
}

// Release implements [wakeword.Detector].
func (d *Detector) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountRelease++
	return nil
}

// Calls returns the number of Process calls so far.
func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Frames)
}

// Received returns copies of the frames passed to Process.
func (d *Detector) Received() [][]int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]int16, len(d.Frames))
	copy(out, d.Frames)
	return out
}
