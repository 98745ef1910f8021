// Package audio moves 16-bit PCM between the sound card and the rest of
// kikai.
//
// A [Device] opens hardware streams; an [Engine] owns one input and one
// output stream and converts between the hardware rate and the session rate
// with a [RateConverter] per direction. Implementations of [Device] live in
// subpackages (portaudio for real hardware, mock for tests).
package audio

import "errors"

// ErrDeviceUnavailable is returned (wrapped) when a hardware input or output
// stream cannot be opened.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// ErrEngineClosed is returned by [Engine] methods called after [Engine.Close].
var ErrEngineClosed = errors.New("audio: engine closed")

// ErrPlaybackInterrupted is returned by [Engine.Play] when the hardware write
// failed. The engine has already handled the failure like a playback stop;
// callers may log it and keep playing subsequent frames.
var ErrPlaybackInterrupted = errors.New("audio: playback interrupted")

// DeviceSelector identifies a hardware device. Index takes precedence over
// Name; Name matches as a case-insensitive substring of the device name. When
// neither is set the system default device is used.
type DeviceSelector struct {
	// Index is the backend's device index, or a negative value when unset.
	Index int

	// Name is a substring of the device name, or empty when unset.
	Name string
}

// DefaultDevice selects the system default device.
var DefaultDevice = DeviceSelector{Index: -1}

// StreamConfig describes a hardware stream to open.
type StreamConfig struct {
	Device DeviceSelector

	// SampleRate is the hardware rate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// FramesPerBlock is the number of frames returned by one
	// [InputStream.Read], or the size of one hardware write block for
	// output streams.
	FramesPerBlock int

	// BufferFrames is the host-side buffer size in frames. Larger buffers
	// trade latency for resilience against underruns and overflows.
	BufferFrames int
}

// Device opens hardware streams. Implementations wrap a concrete audio
// backend (PortAudio in production, an in-memory fake in tests).
type Device interface {
	// OpenInput opens and starts a capture stream.
	OpenInput(cfg StreamConfig) (InputStream, error)

	// OpenOutput opens and starts a playback stream.
	OpenOutput(cfg StreamConfig) (OutputStream, error)
}

// Host is a [Device] backed by a process-wide audio library. Close releases
// the hardware so another process can open it.
type Host interface {
	Device
	Close() error
}

// InputStream is a started, blocking capture stream.
type InputStream interface {
	// Available reports how many frames can be read without blocking.
	Available() (int, error)

	// Read blocks until exactly FramesPerBlock frames are captured and returns
	// them as interleaved samples. The returned slice is owned by the caller.
	Read() ([]int16, error)

	// Close stops the stream and releases it.
	Close() error
}

// OutputStream is a started, blocking playback stream.
type OutputStream interface {
	// Write queues interleaved samples for playback. Implementations may
	// buffer a partial hardware block until the next Write or Flush.
	Write(samples []int16) error

	// Flush writes any partially buffered block, padded with silence.
	Flush() error

	// Abort halts output immediately and discards everything buffered by the
	// implementation and the hardware driver. The stream stays open and must
	// be restarted with Start.
	Abort() error

	// Start restarts a stream halted with Abort.
	Start() error

	// Close stops the stream and releases it.
	Close() error
}
