// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio input
// and returns synthesised audio output in a single, stateful session. Examples
// include the OpenAI Realtime API and similar low-latency voice models.
//
// The central abstraction is SessionHandle: a duplex session whose inbound side
// is a single ordered stream of typed [Event] values. Consumers read that
// stream from one goroutine, which preserves the remote service's event order
// without any callback scheduling.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/kikai/pkg/audio"
)

// ErrConnection is returned (wrapped) by [Provider.Connect] when the session
// handshake fails. Callers may retry.
var ErrConnection = errors.New("s2s: connection failed")

// ErrCancelNotActive matches a remote rejection of a cancel request because no
// response was in flight. It is expected during barge-in races and should be
// logged at low severity only.
var ErrCancelNotActive = errors.New("s2s: no active response to cancel")

// ErrSessionClosed is returned by SessionHandle methods after Close.
var ErrSessionClosed = errors.New("s2s: session closed")

// ProtocolError describes an error event or a malformed message from the remote
// service. It never ends the session on its own.
type ProtocolError struct {
	// Type is the remote error category, e.g. "invalid_request_error".
	Type string

	// Code is the remote error code, e.g. "response_cancel_not_active".
	Code string

	// Message is the human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("s2s: protocol error %s: %s", e.Code, e.Message)
	}
	return "s2s: protocol error: " + e.Message
}

// Is reports whether the error matches target. A remote cancel rejection
// matches [ErrCancelNotActive].
func (e *ProtocolError) Is(target error) bool {
	return target == ErrCancelNotActive && e.Code == CodeCancelNotActive
}

// CodeCancelNotActive is the remote error code for a cancel request with no
// response in flight.
const CodeCancelNotActive = "response_cancel_not_active"

// EventType enumerates the inbound session events.
type EventType int

const (
	// EventAudioDelta carries a chunk of synthesised agent audio in Audio.
	EventAudioDelta EventType = iota + 1

	// EventUserTranscript carries the recognised text of a user turn in Text.
	EventUserTranscript

	// EventAgentTranscript carries the full text of an agent reply in Text.
	EventAgentTranscript

	// EventSpeechStarted signals that the remote voice-activity detector heard
	// the user start speaking.
	EventSpeechStarted

	// EventResponseCreated signals that the model started a new response.
	EventResponseCreated

	// EventResponseDone signals that the current response finished, either
	// completed or cancelled.
	EventResponseDone

	// EventError carries a non-fatal error in Err, usually a *ProtocolError.
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventAudioDelta:
		return "audio_delta"
	case EventUserTranscript:
		return "user_transcript"
	case EventAgentTranscript:
		return "agent_transcript"
	case EventSpeechStarted:
		return "speech_started"
	case EventResponseCreated:
		return "response_created"
	case EventResponseDone:
		return "response_done"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one inbound session event. Only the field matching Type is set.
type Event struct {
	Type  EventType
	Audio audio.AudioFrame
	Text  string
	Err   error
}

// TurnDetection configures the remote voice-activity detector.
type TurnDetection struct {
	// Threshold is the activation threshold in [0, 1].
	Threshold float64

	// PrefixPadding is the audio retained before detected speech.
	PrefixPadding time.Duration

	// SilenceDuration is the silence that ends a user turn.
	SilenceDuration time.Duration
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Instructions is the system-level prompt for the assistant.
	Instructions string

	// Voice is the provider's voice identifier.
	Voice string

	// SampleRate is the PCM rate in Hz used in both directions.
	SampleRate int

	// TurnDetection configures the remote VAD. Nil starts the session with
	// turn detection disabled.
	TurnDetection *TurnDetection

	// TranscriptionModel selects the model used to transcribe user audio.
	// Empty disables user transcripts.
	TranscriptionModel string
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Outbound methods are safe for concurrent use. Events must be consumed by a
// single goroutine.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers mono PCM captured at the session rate.
	SendAudio(frame audio.AudioFrame) error

	// CancelResponse asks the model to stop the response in flight. Audio
	// already sent by the remote side may still arrive afterwards.
	CancelResponse() error

	// EnableTurnDetection clears the remote input buffer and turns the remote
	// VAD on with the session's TurnDetection settings.
	EnableTurnDetection() error

	// DisableTurnDetection turns the remote VAD off.
	DisableTurnDetection() error

	// Events returns the ordered stream of inbound events. The channel is
	// closed when the session ends; call Err afterwards to learn why.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended
	// cleanly or is still open.
	Err() error

	// Close terminates the session and closes the Events channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect establishes a new S2S session. Handshake failures wrap
	// [ErrConnection]. The caller owns the SessionHandle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
