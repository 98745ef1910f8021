package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/kikai/internal/observe"
	"github.com/MrWong99/kikai/pkg/audio"
	"github.com/MrWong99/kikai/pkg/provider/s2s"
)

const (
	defaultConnectionGrace   = 2 * time.Second
	defaultInactivityTimeout = 180 * time.Second
	defaultExitGrace         = 3 * time.Second
	defaultExitReplyWait     = 10 * time.Second
	defaultTickInterval      = 10 * time.Millisecond
)

// Interrupt triggers, used as the "trigger" metric attribute.
const (
	triggerCloudVAD = "cloud_vad"
	triggerWakeWord = "wakeword"
)

// BargeInMode selects how the user interrupts agent speech.
type BargeInMode string

const (
	// BargeInCloud relies on the realtime service's voice activity events.
	BargeInCloud BargeInMode = "cloud"

	// BargeInWakeWord disables the service's turn detection while a response
	// is in progress and interrupts on a local wake-word detection instead.
	BargeInWakeWord BargeInMode = "wakeword"
)

// Display renders the conversation for the user. Implementations must be
// safe for use from the orchestrator goroutine while other goroutines read
// them.
type Display interface {
	SetState(State)
	SetUserText(text string)
	SetAgentText(text string)

	// Reset clears the displayed text.
	Reset()
}

// Player is the playback side of the audio engine.
type Player interface {
	Play(frame audio.AudioFrame) error
	StopPlayback() error
	FlushPlayback() error
}

// WakeListener detects the wake word in captured microphone audio.
type WakeListener interface {
	Feed(frame audio.AudioFrame) (int, error)
	Reset()
}

// EndReason tells why [Orchestrator.Run] returned.
type EndReason int

const (
	// EndCanceled means the context was cancelled.
	EndCanceled EndReason = iota

	// EndInactivity means no activity happened within the inactivity timeout.
	EndInactivity

	// EndExitPhrase means the user asked to end the conversation.
	EndExitPhrase

	// EndSessionClosed means the realtime session's event stream closed.
	EndSessionClosed
)

// String returns the reason in log form.
func (r EndReason) String() string {
	switch r {
	case EndCanceled:
		return "canceled"
	case EndInactivity:
		return "inactivity"
	case EndExitPhrase:
		return "exit_phrase"
	case EndSessionClosed:
		return "session_closed"
	default:
		return fmt.Sprintf("EndReason(%d)", int(r))
	}
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithDisplay sets the renderer that receives state and transcript updates.
func WithDisplay(d Display) Option {
	return func(o *Orchestrator) { o.display = d }
}

// WithWakeWordBargeIn enables local wake-word barge-in. Mic frames passed to
// [Orchestrator.Run] are fed to l while a response is in progress or agent
// audio is playing.
func WithWakeWordBargeIn(l WakeListener) Option {
	return func(o *Orchestrator) {
		o.mode = BargeInWakeWord
		o.listener = l
	}
}

// WithConnectionGrace sets the window after connect during which
// speech-started events are ignored. Default: 2s.
func WithConnectionGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.connectionGrace = d }
}

// WithInactivityTimeout sets how long the session may go without activity
// before it ends. Default: 180s.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.inactivityTimeout = d }
}

// WithExitGrace sets how long the session stays open after the reply to a
// matched exit phrase has finished playing. Default: 3s.
func WithExitGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.exitGrace = d }
}

// WithExitReplyWait sets how long a matched exit phrase waits for the agent
// to start a reply before the session ends without one. Default: 10s.
func WithExitReplyWait(d time.Duration) Option {
	return func(o *Orchestrator) { o.exitReplyWait = d }
}

// WithTickInterval sets how often timers are checked while idle. Default: 10ms.
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.tick = d }
}

// WithExitMatcher replaces the default exit-phrase matcher. A nil matcher
// disables exit phrases.
func WithExitMatcher(m *ExitMatcher) Option {
	return func(o *Orchestrator) { o.exit = m }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source. Useful in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator drives one connected realtime session: it plays agent audio,
// tracks the conversation [State], handles barge-in and ends the session on
// inactivity or an exit phrase.
//
// All fields are owned by the goroutine running [Orchestrator.Run]; handlers
// run to completion one at a time, which keeps the interrupt sequence
// ordered without locks. The Player is the only collaborator shared with
// another goroutine and guards itself.
type Orchestrator struct {
	session  s2s.SessionHandle
	player   Player
	display  Display
	listener WakeListener
	mode     BargeInMode
	exit     *ExitMatcher
	metrics  *observe.Metrics
	now      func() time.Time

	connectionGrace   time.Duration
	inactivityTimeout time.Duration
	exitGrace         time.Duration
	exitReplyWait     time.Duration
	tick              time.Duration

	machine *Machine
	queue   []audio.AudioFrame

	// interruptActive discards agent audio until the next response starts.
	interruptActive bool
	// responseInProgress is set on response start and cleared on response
	// done or interrupt.
	responseInProgress bool
	// playing is set once a frame of the current response reached the player.
	playing bool
	// vadDisabled records that turn detection was switched off for wake-word
	// barge-in.
	vadDisabled bool
	// listenerFed records that the wake listener holds state to discard when
	// the gate closes.
	listenerFed bool
	// exitPending is set by a matched exit phrase until its reply has played
	// out. exitReplied records that the reply started.
	exitPending bool
	exitReplied bool

	connectedAt     time.Time
	lastActivity    time.Time
	// exitAt is the reply-wait deadline while exitPending, then the end of
	// the grace period once the reply has played.
	exitAt          time.Time
	speechStartedAt time.Time
}

// New creates an Orchestrator for a connected session. The machine starts in
// [StateIdle] and moves to [StateListening] when Run starts.
func New(session s2s.SessionHandle, player Player, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session:           session,
		player:            player,
		mode:              BargeInCloud,
		exit:              NewExitMatcher(nil, 0),
		now:               time.Now,
		connectionGrace:   defaultConnectionGrace,
		inactivityTimeout: defaultInactivityTimeout,
		exitGrace:         defaultExitGrace,
		exitReplyWait:     defaultExitReplyWait,
		tick:              defaultTickInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.tick <= 0 {
		o.tick = defaultTickInterval
	}
	o.machine = NewMachine(StateIdle, o.stateChanged)
	return o
}

// Run processes session events, mic frames and playback until ctx is
// cancelled, the session's event stream closes, the inactivity timeout
// expires or the grace period after the reply to an exit phrase elapses.
//
// mic carries captured frames for wake-word barge-in; it may be nil when
// barge-in relies on the service alone. The returned error is non-nil only
// when the session ended with an error.
func (o *Orchestrator) Run(ctx context.Context, mic <-chan audio.AudioFrame) (EndReason, error) {
	o.connected()

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()
	events := o.session.Events()

	for {
		if len(o.queue) > 0 {
			// Pending input is handled before the next frame so an interrupt
			// never waits behind playback.
			select {
			case <-ctx.Done():
				return EndCanceled, nil
			case ev, ok := <-events:
				if !ok {
					return o.sessionClosed()
				}
				o.handleEvent(ctx, ev)
			case frame, ok := <-mic:
				if !ok {
					mic = nil
					continue
				}
				o.handleMic(ctx, frame)
			default:
				o.playNext(ctx)
			}
		} else {
			o.maybeFinishTurn()
			select {
			case <-ctx.Done():
				return EndCanceled, nil
			case ev, ok := <-events:
				if !ok {
					return o.sessionClosed()
				}
				o.handleEvent(ctx, ev)
			case frame, ok := <-mic:
				if !ok {
					mic = nil
					continue
				}
				o.handleMic(ctx, frame)
			case <-ticker.C:
			}
		}

		if reason, done := o.checkTimers(); done {
			return reason, nil
		}
	}
}

// State returns the current conversation state. It must not be called
// concurrently with Run.
func (o *Orchestrator) State() State { return o.machine.State() }

// connected records the connect time and enters [StateListening].
func (o *Orchestrator) connected() {
	now := o.now()
	o.connectedAt = now
	o.lastActivity = now
	o.transition(StateListening)
}

func (o *Orchestrator) sessionClosed() (EndReason, error) {
	if err := o.session.Err(); err != nil {
		o.transition(StateError)
		return EndSessionClosed, fmt.Errorf("conversation: session closed: %w", err)
	}
	return EndSessionClosed, nil
}

// checkTimers reports whether the inactivity timeout or the exit deadline
// has expired. The exit deadline never ends a reply that is still playing.
func (o *Orchestrator) checkTimers() (EndReason, bool) {
	now := o.now()
	if !o.exitAt.IsZero() && !now.Before(o.exitAt) && o.drained() {
		slog.Info("conversation: ending after exit phrase")
		return EndExitPhrase, true
	}
	if o.inactivityTimeout > 0 && now.Sub(o.lastActivity) > o.inactivityTimeout {
		slog.Info("conversation: inactivity timeout", "timeout", o.inactivityTimeout)
		return EndInactivity, true
	}
	return 0, false
}

func (o *Orchestrator) touch() { o.lastActivity = o.now() }

// handleEvent dispatches a single session event.
func (o *Orchestrator) handleEvent(ctx context.Context, ev s2s.Event) {
	switch ev.Type {
	case s2s.EventAudioDelta:
		o.onAudioDelta(ctx, ev.Audio)
	case s2s.EventSpeechStarted:
		o.onSpeechStarted(ctx)
	case s2s.EventResponseCreated:
		o.onResponseCreated()
	case s2s.EventResponseDone:
		o.touch()
		o.responseInProgress = false
	case s2s.EventAgentTranscript:
		o.touch()
		slog.Info("conversation: agent", "text", ev.Text)
		if o.display != nil {
			o.display.SetAgentText(ev.Text)
		}
	case s2s.EventUserTranscript:
		o.onUserTranscript(ev.Text)
	case s2s.EventError:
		o.onError(ctx, ev.Err)
	default:
		slog.Debug("conversation: ignoring event", "type", ev.Type.String())
	}
}

func (o *Orchestrator) onAudioDelta(ctx context.Context, frame audio.AudioFrame) {
	o.touch()
	if o.interruptActive {
		o.metrics.DiscardedAudio.Add(ctx, 1)
		return
	}
	o.queue = append(o.queue, frame)
}

func (o *Orchestrator) onSpeechStarted(ctx context.Context) {
	if since := o.now().Sub(o.connectedAt); since < o.connectionGrace {
		slog.Debug("conversation: ignoring speech start during connection grace", "since_connect", since)
		return
	}
	o.touch()
	o.speechStartedAt = o.now()
	if o.playing || o.responseInProgress || len(o.queue) > 0 {
		o.interrupt(ctx, triggerCloudVAD)
		return
	}
	if o.machine.State() == StateListening {
		o.transition(StateProcessing)
	}
}

func (o *Orchestrator) onResponseCreated() {
	o.interruptActive = false
	o.responseInProgress = true
	if o.exitPending || !o.exitAt.IsZero() {
		// The farewell, or a reply that started during the grace period.
		o.exitPending = true
		o.exitReplied = true
		o.exitAt = time.Time{}
	}
	if o.machine.State() == StateListening {
		o.transition(StateProcessing)
	}
	if o.mode == BargeInWakeWord && !o.vadDisabled {
		if err := o.session.DisableTurnDetection(); err != nil {
			slog.Warn("conversation: failed to disable turn detection", "err", err)
			return
		}
		o.vadDisabled = true
	}
}

func (o *Orchestrator) onUserTranscript(text string) {
	slog.Info("conversation: user", "text", text)
	if o.display != nil {
		o.display.SetUserText(text)
	}
	if o.exit == nil || o.exitPending || !o.exitAt.IsZero() {
		return
	}
	phrase, ok := o.exit.Match(text)
	if !ok {
		return
	}
	o.exitPending = true
	o.exitReplied = !o.drained()
	if !o.exitReplied {
		o.exitAt = o.now().Add(o.exitReplyWait)
	}
	slog.Info("conversation: exit phrase detected", "phrase", phrase, "reply_started", o.exitReplied)
}

func (o *Orchestrator) onError(ctx context.Context, err error) {
	if errors.Is(err, s2s.ErrCancelNotActive) {
		slog.Debug("conversation: cancel rejected, no active response", "err", err)
		return
	}
	o.metrics.RecordProviderError(ctx, "s2s", "protocol")
	slog.Warn("conversation: session error", "err", err)
}

// handleMic runs the wake-word barge-in path for a captured frame.
func (o *Orchestrator) handleMic(ctx context.Context, frame audio.AudioFrame) {
	if !o.gateOpen() {
		if o.listenerFed {
			o.listener.Reset()
			o.listenerFed = false
		}
		return
	}
	o.listenerFed = true
	idx, err := o.listener.Feed(frame)
	if err != nil {
		slog.Warn("conversation: wake-word detection failed", "err", err)
		return
	}
	if idx < 0 {
		return
	}
	slog.Info("conversation: wake word during response", "keyword", idx)
	o.metrics.RecordWakeDetection(ctx, "barge_in")
	o.touch()
	o.speechStartedAt = o.now()
	o.interrupt(ctx, triggerWakeWord)
}

// gateOpen reports whether mic audio is fed to the wake listener.
func (o *Orchestrator) gateOpen() bool {
	if o.listener == nil || o.mode != BargeInWakeWord {
		return false
	}
	return o.responseInProgress || o.machine.State() == StateSpeaking
}

// interrupt stops the agent and readies the session for new user input. The
// order of the steps matters; see the field docs for the flags involved.
// Calling it again right away is a no-op apart from a second stop.
func (o *Orchestrator) interrupt(ctx context.Context, trigger string) {
	slog.Info("conversation: interrupt",
		"trigger", trigger,
		"queued", len(o.queue),
		"response_in_progress", o.responseInProgress,
	)
	o.metrics.RecordInterrupt(ctx, trigger)

	// 1. Discard stragglers until the next response starts.
	o.interruptActive = true

	// 2. Drop everything not yet played.
	clear(o.queue)
	o.queue = o.queue[:0]

	// 3. The device may still hold audio even with an empty queue.
	if err := o.player.StopPlayback(); err != nil {
		slog.Warn("conversation: failed to stop playback", "err", err)
	}

	// 4. Only cancel a response the service still considers active.
	if o.responseInProgress {
		if err := o.session.CancelResponse(); err != nil {
			slog.Warn("conversation: failed to cancel response", "err", err)
		}
	}

	// 5.
	o.responseInProgress = false
	o.playing = false
	if o.machine.State() != StateProcessing {
		o.transition(StateProcessing)
	}
	if o.display != nil {
		o.display.Reset()
	}
	if o.listener != nil {
		o.listener.Reset()
		o.listenerFed = false
	}
	o.enableTurnDetection()
}

// playNext hands the oldest queued frame to the player.
func (o *Orchestrator) playNext(ctx context.Context) {
	frame := o.queue[0]
	o.queue[0] = audio.AudioFrame{}
	o.queue = o.queue[1:]

	if !o.playing {
		o.playing = true
		if o.machine.State() == StateProcessing {
			o.transition(StateSpeaking)
		}
		if !o.speechStartedAt.IsZero() {
			o.metrics.ResponseLatency.Record(ctx, o.now().Sub(o.speechStartedAt).Seconds())
			o.speechStartedAt = time.Time{}
		}
	}
	o.touch()
	if err := o.player.Play(frame); err != nil {
		slog.Warn("conversation: playback failed", "err", err)
	}
}

// drained reports whether no reply is in progress, queued or playing.
func (o *Orchestrator) drained() bool {
	return !o.responseInProgress && len(o.queue) == 0 && !o.playing
}

// maybeFinishTurn returns to listening once the reply has fully played. Turn
// detection comes back even for a reply that carried no audio. A pending exit
// starts its grace period here.
func (o *Orchestrator) maybeFinishTurn() {
	if o.responseInProgress || len(o.queue) > 0 {
		return
	}
	if o.playing {
		o.playing = false
		if err := o.player.FlushPlayback(); err != nil {
			slog.Warn("conversation: failed to flush playback", "err", err)
		}
		if o.machine.State() == StateSpeaking {
			o.transition(StateListening)
		}
	}
	o.enableTurnDetection()
	if o.exitPending && o.exitReplied {
		o.exitPending = false
		o.exitAt = o.now().Add(o.exitGrace)
		slog.Info("conversation: farewell played, ending after grace", "grace", o.exitGrace)
	}
}

// enableTurnDetection re-enables the service's turn detection if wake-word
// barge-in switched it off.
func (o *Orchestrator) enableTurnDetection() {
	if !o.vadDisabled {
		return
	}
	if err := o.session.EnableTurnDetection(); err != nil {
		slog.Warn("conversation: failed to enable turn detection", "err", err)
		return
	}
	o.vadDisabled = false
}

// transition moves the machine and records rejected moves.
func (o *Orchestrator) transition(to State) {
	if err := o.machine.Transition(to); err != nil {
		o.metrics.IllegalTransitions.Add(context.Background(), 1)
	}
}

// stateChanged publishes an accepted transition.
func (o *Orchestrator) stateChanged(from, to State) {
	o.metrics.RecordTransition(context.Background(), from.String(), to.String())
	if o.display != nil {
		o.display.SetState(to)
	}
}
