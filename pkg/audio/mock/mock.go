// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.InputStream], and [audio.OutputStream] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputStream{}
//	in.Push(make([]int16, 1024))
//	out := &mock.OutputStream{}
//	dev := &mock.Device{Input: in, Output: out}
//	eng, err := audio.OpenEngine(dev, cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/kikai/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Host         = (*Device)(nil)
	_ audio.InputStream  = (*InputStream)(nil)
	_ audio.OutputStream = (*OutputStream)(nil)
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// Input is returned by OpenInput when InputErr is nil.
	Input *InputStream

	// Output is returned by OpenOutput when OutputErr is nil.
	Output *OutputStream

	// InputErr and OutputErr are returned by the respective Open methods.
	InputErr  error
	OutputErr error

	// InputConfigs and OutputConfigs record every Open call's argument.
	InputConfigs  []audio.StreamConfig
	OutputConfigs []audio.StreamConfig

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Close implements [audio.Host].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return nil
}

// Closes returns the number of Close calls so far.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(cfg audio.StreamConfig) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InputConfigs = append(d.InputConfigs, cfg)
	if d.InputErr != nil {
		return nil, d.InputErr
	}
	if d.Input == nil {
		d.Input = &InputStream{}
	}
	d.Input.configure(cfg)
	return d.Input, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(cfg audio.StreamConfig) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutputConfigs = append(d.OutputConfigs, cfg)
	if d.OutputErr != nil {
		return nil, d.OutputErr
	}
	if d.Output == nil {
		d.Output = &OutputStream{}
	}
	return d.Output, nil
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock capture stream. Samples pushed with [InputStream.Push]
// become available for reading in FramesPerBlock-sized chunks.
type InputStream struct {
	mu sync.Mutex

	channels      int
	framesPerRead int
	pending       []int16

	// ReadErr is returned by Read when set.
	ReadErr error

	// CallCountRead and CallCountClose record method invocations.
	CallCountRead  int
	CallCountClose int
}

func (s *InputStream) configure(cfg audio.StreamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = max(cfg.Channels, 1)
	s.framesPerRead = cfg.FramesPerBlock
}

// Push appends interleaved samples to the capture buffer.
func (s *InputStream) Push(samples []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, samples...)
}

// Available implements [audio.InputStream].
func (s *InputStream) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) / max(s.channels, 1), nil
}

// Read implements [audio.InputStream]. It returns exactly one chunk, padded
// with silence when fewer samples are pending.
func (s *InputStream) Read() ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountRead++
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	n := s.framesPerRead * max(s.channels, 1)
	out := make([]int16, n)
	copied := copy(out, s.pending)
	s.pending = s.pending[copied:]
	return out, nil
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// ─── OutputStream ─────────────────────────────────────────────────────────────

// OutputStream is a mock playback stream that records written samples.
type OutputStream struct {
	mu sync.Mutex

	// WriteErr is returned by Write when set.
	WriteErr error

	// CloseErr is returned by Close.
	CloseErr error

	// Written holds every sample written since the last Abort.
	Written []int16

	// CallCountWrite, CallCountFlush, CallCountAbort, CallCountStart and
	// CallCountClose record method invocations.
	CallCountWrite int
	CallCountFlush int
	CallCountAbort int
	CallCountStart int
	CallCountClose int
}

// Write implements [audio.OutputStream].
func (s *OutputStream) Write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountWrite++
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Written = append(s.Written, samples...)
	return nil
}

// Flush implements [audio.OutputStream].
func (s *OutputStream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFlush++
	return nil
}

// Abort implements [audio.OutputStream]. Recorded samples are discarded.
func (s *OutputStream) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountAbort++
	s.Written = nil
	return nil
}

// Start implements [audio.OutputStream].
func (s *OutputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return nil
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// Snapshot returns a copy of the recorded samples and call counts under lock.
func (s *OutputStream) Snapshot() (written []int16, writes, aborts, starts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	written = make([]int16, len(s.Written))
	copy(written, s.Written)
	return written, s.CallCountWrite, s.CallCountAbort, s.CallCountStart
}
