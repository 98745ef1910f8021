// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded PCM16 chunks. Inbound server events are
// decoded into s2s.Event values and delivered in arrival order on a single
// channel. The remote voice-activity detector can be toggled mid-session via
// session.update.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/kikai/pkg/audio"
	"github.com/MrWong99/kikai/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel      = "gpt-4o-mini-realtime-preview"
	defaultBaseURL    = "wss://api.openai.com/v1/realtime"
	defaultSampleRate = 24000
	eventBuffer       = 256
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Connect establishes a new OpenAI Realtime session with the given configuration.
// The returned SessionHandle is ready to accept audio immediately after the
// session.update message is sent. Dial and handshake failures wrap
// [s2s.ErrConnection].
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w: %w", s2s.ErrConnection, err)
	}
	// Audio deltas easily exceed the default 32 KiB read limit.
	conn.SetReadLimit(16 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		cfg:    cfg,
		events: make(chan s2s.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.writeJSON(sess.sessionUpdate(cfg.TurnDetection)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w: %w", s2s.ErrConnection, err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	EventID string        `json:"event_id,omitempty"`
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	// TurnDetection is always serialised; null disables the remote VAD.
	TurnDetection *turnDetectionParams `json:"turn_detection"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int64   `json:"prefix_padding_ms"`
	SilenceDurationMs int64   `json:"silence_duration_ms"`
}

// turnDetectionUpdate toggles the remote VAD without resending the rest of the
// session configuration.
type turnDetectionUpdate struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
	Session struct {
		TurnDetection *turnDetectionParams `json:"turn_detection"`
	} `json:"session"`
}

type appendAudioMessage struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
	Audio   string `json:"audio"` // base64-encoded PCM16
}

type simpleMessage struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed /
	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	cfg    s2s.SessionConfig
	events chan s2s.Event

	mu     sync.Mutex
	errVal error
	closed bool

	// currentTxText accumulates response.audio_transcript.delta events until
	// response.audio_transcript.done is received. Only the receive loop
	// touches it.
	currentTxText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newEventID() string { return "evt_" + uuid.NewString() }

// sessionUpdate builds the full session.update event.
func (s *session) sessionUpdate(td *s2s.TurnDetection) sessionUpdateMessage {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             s.cfg.Voice,
		Instructions:      s.cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     toTurnDetectionParams(td),
	}
	if s.cfg.TranscriptionModel != "" {
		params.InputAudioTranscription = &transcriptionParams{Model: s.cfg.TranscriptionModel}
	}
	return sessionUpdateMessage{EventID: newEventID(), Type: "session.update", Session: params}
}

func toTurnDetectionParams(td *s2s.TurnDetection) *turnDetectionParams {
	if td == nil {
		return nil
	}
	return &turnDetectionParams{
		Type:              "server_vad",
		Threshold:         td.Threshold,
		PrefixPaddingMs:   td.PrefixPadding.Milliseconds(),
		SilenceDurationMs: td.SilenceDuration.Milliseconds(),
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel: it closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(fmt.Errorf("openai: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.emit(s2s.Event{Type: s2s.EventError, Err: &s2s.ProtocolError{
				Type:    "malformed_event",
				Message: err.Error(),
			}})
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			s.emit(s2s.Event{Type: s2s.EventError, Err: &s2s.ProtocolError{
				Type:    "malformed_event",
				Message: "audio delta: " + err.Error(),
			}})
			return
		}
		if len(pcm) < 2 {
			return
		}
		s.emit(s2s.Event{Type: s2s.EventAudioDelta, Audio: audio.AudioFrame{
			Samples:    audio.DecodePCM16(pcm),
			SampleRate: s.cfg.SampleRate,
		}})

	case "response.audio_transcript.delta":
		s.currentTxText += evt.Delta

	case "response.audio_transcript.done":
		text := evt.Transcript
		if text == "" {
			text = s.currentTxText
		}
		s.currentTxText = ""
		if text == "" {
			return
		}
		s.emit(s2s.Event{Type: s2s.EventAgentTranscript, Text: text})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(s2s.Event{Type: s2s.EventUserTranscript, Text: evt.Transcript})

	case "input_audio_buffer.speech_started":
		s.emit(s2s.Event{Type: s2s.EventSpeechStarted})

	case "response.created":
		s.currentTxText = ""
		s.emit(s2s.Event{Type: s2s.EventResponseCreated})

	case "response.done":
		s.emit(s2s.Event{Type: s2s.EventResponseDone})

	case "error":
		s.emit(s2s.Event{Type: s2s.EventError, Err: toProtocolError(evt.Error)})

	case "session.created", "session.updated":
		slog.Debug("openai: session event", "type", evt.Type)
	}
}

func toProtocolError(detail *serverErrorDetail) *s2s.ProtocolError {
	if detail == nil {
		return &s2s.ProtocolError{Message: "unknown error"}
	}
	msg := detail.Message
	if msg == "" {
		msg = "unknown error"
	}
	return &s2s.ProtocolError{Type: detail.Type, Code: detail.Code, Message: msg}
}

// emit delivers ev in order, giving up only when the session is closing.
func (s *session) emit(ev s2s.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrSessionClosed
	}
	return nil
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio encodes the frame as PCM16 and appends it to the remote input
// buffer.
func (s *session) SendAudio(frame audio.AudioFrame) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(audio.EncodePCM16(frame.Samples)),
	})
}

// CancelResponse sends a response.cancel event.
func (s *session) CancelResponse() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(simpleMessage{EventID: newEventID(), Type: "response.cancel"})
}

// EnableTurnDetection clears the input buffer, so agent audio picked up by the
// microphone is not committed as a user turn, then re-enables server VAD.
func (s *session) EnableTurnDetection() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.cfg.TurnDetection == nil {
		return fmt.Errorf("openai: turn detection not configured for this session")
	}
	if err := s.writeJSON(simpleMessage{EventID: newEventID(), Type: "input_audio_buffer.clear"}); err != nil {
		return err
	}
	return s.writeTurnDetection(toTurnDetectionParams(s.cfg.TurnDetection))
}

// DisableTurnDetection sets turn_detection to null.
func (s *session) DisableTurnDetection() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeTurnDetection(nil)
}

func (s *session) writeTurnDetection(td *turnDetectionParams) error {
	msg := turnDetectionUpdate{EventID: newEventID(), Type: "session.update"}
	msg.Session.TurnDetection = td
	return s.writeJSON(msg)
}

// Events returns the ordered inbound event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
