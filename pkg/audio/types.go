package audio

import "time"

// AudioFrame is a buffer of signed 16-bit mono PCM samples flowing through the
// pipeline. Frames are handed from producer to consumer at every stage
// (capture → rate conversion → uplink, or realtime session → playback queue →
// device) and must not be mutated after they have been handed off.
type AudioFrame struct {
	// Samples holds mono PCM samples.
	Samples []int16

	// SampleRate in Hz (e.g., 24000 for the realtime session, 16000 for the
	// wake-word detector).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	// Zero for frames that did not originate from a capture stream.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame. It returns zero when the
// sample rate is unknown.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
