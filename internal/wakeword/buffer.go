// Package wakeword turns the session's capture stream into fixed-size frames
// for a local keyword detector.
//
// [Buffer] accumulates samples at the detector rate and hands them out in
// frames of exactly the detector's length, keeping any remainder in order for
// the next pass. [Listener] puts a streaming rate converter in front of a
// Buffer and a [wakeword.Detector] behind it.
//
// Whether a Listener is fed at all is decided by its owner from session state;
// neither type has an enable switch of its own.
package wakeword

import "fmt"

// Buffer is a FIFO of int16 samples consumed in fixed-length frames. It is not
// safe for concurrent use.
type Buffer struct {
	frameLength int
	samples     []int16
}

// NewBuffer returns a Buffer that yields frames of frameLength samples.
func NewBuffer(frameLength int) (*Buffer, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("wakeword: frame length must be positive, got %d", frameLength)
	}
	return &Buffer{frameLength: frameLength}, nil
}

// FrameLength returns the frame size in samples.
func (b *Buffer) FrameLength() int { return b.frameLength }

// Len returns the number of buffered samples.
func (b *Buffer) Len() int { return len(b.samples) }

// Write appends samples to the buffer.
func (b *Buffer) Write(samples []int16) {
	b.samples = append(b.samples, samples...)
}

// Drain passes every complete frame to fn in order and removes it from the
// buffer. If fn returns false, draining stops after that frame; frames not yet
// passed stay buffered. The slice given to fn is only valid during the call.
// It returns the number of frames consumed.
//
// With N buffered samples and N = k·frameLength + r, a full drain calls fn
// exactly k times and leaves the last r samples buffered.
func (b *Buffer) Drain(fn func(frame []int16) bool) int {
	consumed := 0
	off := 0
	for len(b.samples)-off >= b.frameLength {
		frame := b.samples[off : off+b.frameLength]
		off += b.frameLength
		consumed++
		if !fn(frame) {
			break
		}
	}
	if off > 0 {
		// Shift the remainder to the front so the backing array is reused.
		n := copy(b.samples, b.samples[off:])
		b.samples = b.samples[:n]
	}
	return consumed
}

// Remainder returns a copy of the buffered samples.
func (b *Buffer) Remainder() []int16 {
	out := make([]int16, len(b.samples))
	copy(out, b.samples)
	return out
}

// Reset discards every buffered sample.
func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
}
