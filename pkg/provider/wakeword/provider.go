// Package wakeword defines the Detector interface for local keyword-spotting
// backends.
//
// A detector wraps an on-device keyword model (e.g., Picovoice Porcupine) and
// exposes it as a synchronous, frame-at-a-time classifier. The model dictates
// both the sample rate and the exact number of samples per frame; callers are
// responsible for resampling and slicing the microphone stream accordingly
// (see internal/wakeword for the buffering side).
//
// A Detector is not safe for concurrent use. Feed it from a single goroutine.
package wakeword

import "errors"

// NoKeyword is returned by [Detector.Process] when the frame contains no
// keyword.
const NoKeyword = -1

// ErrFrameLength is returned (wrapped) by [Detector.Process] when the frame
// does not hold exactly FrameLength samples.
var ErrFrameLength = errors.New("wakeword: wrong frame length")

// Config holds the parameters used to create a detector.
type Config struct {
	// AccessKey authenticates against the model vendor, if required.
	AccessKey string

	// KeywordPaths lists custom keyword model files. Empty means use the
	// backend's built-in keyword.
	KeywordPaths []string

	// ModelPath is an optional language model file for non-English keywords.
	ModelPath string

	// Sensitivity in [0, 1]. Higher values detect more readily at the cost of
	// more false positives. Zero selects the backend default.
	Sensitivity float32
}

// Detector is a keyword spotter. It is an interface so that test code can
// supply scripted implementations without loading a native model.
type Detector interface {
	// FrameLength is the exact number of samples Process expects.
	FrameLength() int

	// SampleRate is the rate in Hz the frames must be sampled at.
	SampleRate() int

	// Process classifies one frame of mono 16-bit PCM and returns the index of
	// the detected keyword, or [NoKeyword].
	Process(frame []int16) (int, error)

	// Release frees the native model. Calling Release more than once is safe.
	Release() error
}
