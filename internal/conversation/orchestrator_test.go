package conversation

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/kikai/internal/observe"
	"github.com/MrWong99/kikai/pkg/audio"
	"github.com/MrWong99/kikai/pkg/provider/s2s"
	s2smock "github.com/MrWong99/kikai/pkg/provider/s2s/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// ── Test doubles ─────────────────────────────────────────────────────────────

type fakePlayer struct {
	mu      sync.Mutex
	played  []audio.AudioFrame
	stops   int
	flushes int
	playErr error
}

func (p *fakePlayer) Play(f audio.AudioFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, f)
	return p.playErr
}

func (p *fakePlayer) StopPlayback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) FlushPlayback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *fakePlayer) snapshot() (played, stops, flushes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played), p.stops, p.flushes
}

type fakeDisplay struct {
	mu     sync.Mutex
	states []State
	user   string
	agent  string
	resets int
}

func (d *fakeDisplay) SetState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, s)
}

func (d *fakeDisplay) SetUserText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.user = text
}

func (d *fakeDisplay) SetAgentText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agent = text
}

func (d *fakeDisplay) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.user, d.agent = "", ""
	d.resets++
}

func (d *fakeDisplay) last() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.states) == 0 {
		return StateIdle
	}
	return d.states[len(d.states)-1]
}

type fakeListener struct {
	detections []int
	feeds      int
	resets     int
}

func (l *fakeListener) Feed(audio.AudioFrame) (int, error) {
	l.feeds++
	if len(l.detections) == 0 {
		return -1, nil
	}
	idx := l.detections[0]
	l.detections = l.detections[1:]
	return idx, nil
}

func (l *fakeListener) Reset() { l.resets++ }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

type harness struct {
	o       *Orchestrator
	session *s2smock.Session
	player  *fakePlayer
	display *fakeDisplay
	clock   *fakeClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		session: s2smock.NewSession(),
		player:  &fakePlayer{},
		display: &fakeDisplay{},
		clock:   newFakeClock(),
	}
	base := []Option{WithDisplay(h.display), WithClock(h.clock.Now)}
	h.o = New(h.session, h.player, append(base, opts...)...)
	return h
}

// connect enters Listening and moves past the connection grace window.
func (h *harness) connect() {
	h.o.connected()
	h.clock.Advance(defaultConnectionGrace)
}

func (h *harness) emit(ev s2s.Event) {
	h.o.handleEvent(context.Background(), ev)
}

func delta(n int) s2s.Event {
	return s2s.Event{Type: s2s.EventAudioDelta, Audio: audio.AudioFrame{Samples: make([]int16, n), SampleRate: 24000}}
}

// speaking drives the harness into Speaking with a response in progress and
// queued frames left over.
func (h *harness) speaking(queued int) {
	h.connect()
	h.emit(s2s.Event{Type: s2s.EventSpeechStarted})
	h.emit(s2s.Event{Type: s2s.EventResponseCreated})
	for range queued + 1 {
		h.emit(delta(240))
	}
	h.o.playNext(context.Background())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", name)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

// ── Turn flow ────────────────────────────────────────────────────────────────

func TestOrchestrator_ConnectEntersListening(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if h.o.State() != StateIdle {
		t.Fatalf("initial state = %s, want idle", h.o.State())
	}
	h.o.connected()
	if h.o.State() != StateListening {
		t.Errorf("state = %s, want listening", h.o.State())
	}
	if h.display.last() != StateListening {
		t.Errorf("display state = %s, want listening", h.display.last())
	}
}

func TestOrchestrator_FirstAudioEntersSpeaking(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect()

	h.emit(s2s.Event{Type: s2s.EventSpeechStarted})
	if h.o.State() != StateProcessing {
		t.Fatalf("state after speech start = %s, want processing", h.o.State())
	}
	h.emit(s2s.Event{Type: s2s.EventResponseCreated})
	h.emit(delta(480))
	if h.o.State() != StateProcessing {
		t.Fatalf("state before playback = %s, want processing", h.o.State())
	}
	h.o.playNext(context.Background())
	if h.o.State() != StateSpeaking {
		t.Errorf("state = %s, want speaking", h.o.State())
	}
	if played, _, _ := h.player.snapshot(); played != 1 {
		t.Errorf("played = %d, want 1", played)
	}
}

func TestOrchestrator_TurnFinishesAfterPlayback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.speaking(1)

	// Response still in progress: the turn continues.
	h.o.playNext(context.Background())
	h.o.maybeFinishTurn()
	if h.o.State() != StateSpeaking {
		t.Fatalf("state = %s, want speaking while response is in progress", h.o.State())
	}

	h.emit(s2s.Event{Type: s2s.EventResponseDone})
	h.o.maybeFinishTurn()
	if h.o.State() != StateListening {
		t.Errorf("state = %s, want listening", h.o.State())
	}
	if _, _, flushes := h.player.snapshot(); flushes != 1 {
		t.Errorf("flushes = %d, want 1", flushes)
	}

	// Nothing left to finish.
	h.o.maybeFinishTurn()
	if _, _, flushes := h.player.snapshot(); flushes != 1 {
		t.Errorf("flushes after second call = %d, want 1", flushes)
	}
}

func TestOrchestrator_Transcripts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect()

	h.emit(s2s.Event{Type: s2s.EventUserTranscript, Text: "what time is it"})
	h.emit(s2s.Event{Type: s2s.EventAgentTranscript, Text: "It is noon."})

	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	if h.display.user != "what time is it" {
		t.Errorf("user text = %q", h.display.user)
	}
	if h.display.agent != "It is noon." {
		t.Errorf("agent text = %q", h.display.agent)
	}
}

// ── Interrupts ───────────────────────────────────────────────────────────────

func TestOrchestrator_InterruptDuringResponse(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.speaking(5)

	if len(h.o.queue) != 5 {
		t.Fatalf("queued = %d, want 5", len(h.o.queue))
	}
	h.emit(s2s.Event{Type: s2s.EventSpeechStarted})

	if len(h.o.queue) != 0 {
		t.Errorf("queued after interrupt = %d, want 0", len(h.o.queue))
	}
	if cancels, _, _, _ := h.session.Snapshot(); cancels != 1 {
		t.Errorf("cancels = %d, want 1", cancels)
	}
	if _, stops, _ := h.player.snapshot(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
	if h.o.State() != StateProcessing {
		t.Errorf("state = %s, want processing", h.o.State())
	}
	if h.o.responseInProgress || h.o.playing {
		t.Error("responseInProgress and playing must be cleared")
	}
	if h.display.resets != 1 {
		t.Errorf("display resets = %d, want 1", h.display.resets)
	}
}

func TestOrchestrator_InterruptWithoutResponseSkipsCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.speaking(3)
	h.emit(s2s.Event{Type: s2s.EventResponseDone})

	h.emit(s2s.Event{Type: s2s.EventSpeechStarted})

	if cancels, _, _, _ := h.session.Snapshot(); cancels != 0 {
		t.Errorf("cancels = %d, want 0", cancels)
	}
	if len(h.o.queue) != 0 {
		t.Errorf("queued = %d, want 0", len(h.o.queue))
	}
	if _, stops, _ := h.player.snapshot(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
	if h.o.State() != StateProcessing {
		t.Errorf("state = %s, want processing", h.o.State())
	}
}

func TestOrchestrator_InterruptIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.speaking(4)

	ctx := context.Background()
	h.o.interrupt(ctx, triggerCloudVAD)
	h.o.interrupt(ctx, triggerCloudVAD)

	if len(h.o.queue) != 0 {
		t.Errorf("queued = %d, want 0", len(h.o.queue))
	}
	if cancels, _, _, _ := h.session.Snapshot(); cancels != 1 {
		t.Errorf("cancels = %d, want 1", cancels)
	}
	if _, stops, _ := h.player.snapshot(); stops != 2 {
		t.Errorf("stops = %d, want 2", stops)
	}
	if h.o.State() != StateProcessing {
		t.Errorf("state = %s, want processing", h.o.State())
	}
}

func TestOrchestrator_StragglersDiscardedUntilNextResponse(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	h := newHarness(t, WithMetrics(m))
	h.speaking(2)
	h.emit(s2s.Event{Type: s2s.EventSpeechStarted})

	h.emit(delta(240))
	h.emit(delta(240))
	if len(h.o.queue) != 0 {
		t.Fatalf("stragglers queued: %d", len(h.o.queue))
	}
	if got := counterValue(t, reader, "kikai.audio.discarded"); got != 2 {
		t.Errorf("discarded = %d, want 2", got)
	}

	h.emit(s2s.Event{Type: s2s.EventResponseCreated})
	h.emit(delta(240))
	if len(h.o.queue) != 1 {
		t.Errorf("queued after new response = %d, want 1", len(h.o.queue))
	}
	h.o.playNext(context.Background())
	if h.o.State() != StateSpeaking {
		t.Errorf("state = %s, want speaking", h.o.State())
	}
	if got := counterValue(t, reader, "kikai.interrupts"); got != 1 {
		t.Errorf("interrupts = %d, want 1", got)
	}
}

func TestOrchestrator_ConnectionGraceIgnoresSpeech(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithConnectionGrace(2*time.Second))
	h.o.connected()

	h.clock.Advance(1999 * time.Millisecond)
	h.emit(s2s.Event{Type: s2s.EventSpeechStarted})
	if h.o.State() != StateListening {
		t.Fatalf("state inside grace = %s, want listening", h.o.State())
	}

	h.clock.Advance(time.Millisecond)
	h.emit(s2s.Event{Type: s2s.EventSpeechStarted})
	if h.o.State() != StateProcessing {
		t.Errorf("state after grace = %s, want processing", h.o.State())
	}
}

func TestOrchestrator_CancelNotActiveIsNotEscalated(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	h := newHarness(t, WithMetrics(m))
	h.connect()

	h.emit(s2s.Event{Type: s2s.EventError, Err: &s2s.ProtocolError{Type: "invalid_request_error", Code: s2s.CodeCancelNotActive}})
	if got := counterValue(t, reader, "kikai.provider.errors"); got != 0 {
		t.Errorf("provider errors = %d, want 0", got)
	}
	h.emit(s2s.Event{Type: s2s.EventError, Err: &s2s.ProtocolError{Type: "server_error"}})
	if got := counterValue(t, reader, "kikai.provider.errors"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
	if h.o.State() != StateListening {
		t.Errorf("state = %s, want listening", h.o.State())
	}
}

// ── Wake-word barge-in ───────────────────────────────────────────────────────

func TestOrchestrator_WakeWordGate(t *testing.T) {
	t.Parallel()
	l := &fakeListener{}
	h := newHarness(t, WithWakeWordBargeIn(l))
	h.connect()
	ctx := context.Background()
	frame := audio.AudioFrame{Samples: make([]int16, 1024), SampleRate: 24000}

	// Listening: gate closed.
	h.o.handleMic(ctx, frame)
	if l.feeds != 0 {
		t.Fatalf("feeds while listening = %d, want 0", l.feeds)
	}

	h.emit(s2s.Event{Type: s2s.EventSpeechStarted})
	h.emit(s2s.Event{Type: s2s.EventResponseCreated})
	if _, _, disables, _ := h.session.Snapshot(); disables != 1 {
		t.Fatalf("turn detection disables = %d, want 1", disables)
	}
	h.o.handleMic(ctx, frame)
	if l.feeds != 1 {
		t.Fatalf("feeds during response = %d, want 1", l.feeds)
	}

	// Response done with nothing played: gate closes and the listener resets.
	h.emit(s2s.Event{Type: s2s.EventResponseDone})
	h.o.handleMic(ctx, frame)
	if l.feeds != 1 {
		t.Errorf("feeds after response = %d, want 1", l.feeds)
	}
	if l.resets != 1 {
		t.Errorf("listener resets = %d, want 1", l.resets)
	}
	h.o.maybeFinishTurn()
	if _, enables, _, _ := h.session.Snapshot(); enables != 1 {
		t.Errorf("turn detection enables = %d, want 1", enables)
	}
}

func TestOrchestrator_WakeWordInterrupts(t *testing.T) {
	t.Parallel()
	l := &fakeListener{detections: []int{-1, 0}}
	h := newHarness(t, WithWakeWordBargeIn(l))
	h.speaking(3)
	ctx := context.Background()
	frame := audio.AudioFrame{Samples: make([]int16, 1024), SampleRate: 24000}

	h.o.handleMic(ctx, frame)
	if len(h.o.queue) != 3 {
		t.Fatalf("queue changed without detection: %d", len(h.o.queue))
	}
	h.o.handleMic(ctx, frame)

	if len(h.o.queue) != 0 {
		t.Errorf("queued = %d, want 0", len(h.o.queue))
	}
	if h.o.State() != StateProcessing {
		t.Errorf("state = %s, want processing", h.o.State())
	}
	want := []string{"DisableTurnDetection", "CancelResponse", "EnableTurnDetection"}
	if !slices.Equal(h.session.Calls, want) {
		t.Errorf("session calls = %v, want %v", h.session.Calls, want)
	}
	if l.resets == 0 {
		t.Error("listener was not reset after the interrupt")
	}
}

func TestOrchestrator_CloudModeNeverTouchesTurnDetection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.speaking(1)
	h.emit(s2s.Event{Type: s2s.EventSpeechStarted})
	h.o.maybeFinishTurn()

	if _, enables, disables, _ := h.session.Snapshot(); enables != 0 || disables != 0 {
		t.Errorf("enables = %d, disables = %d, want 0 and 0", enables, disables)
	}
}

// ── Exit phrase ──────────────────────────────────────────────────────────────

// drain plays every queued frame and lets the loop finish the turn.
func (h *harness) drain() {
	for len(h.o.queue) > 0 {
		h.o.playNext(context.Background())
	}
	h.o.maybeFinishTurn()
}

func TestOrchestrator_ExitPhraseKeepsLongFarewell(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		// transcriptFirst sends the user transcript before the reply starts.
		transcriptFirst bool
	}{
		{name: "transcript before reply", transcriptFirst: true},
		{name: "transcript during reply"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, WithExitGrace(3*time.Second), WithExitReplyWait(10*time.Second))
			goodbye := s2s.Event{Type: s2s.EventUserTranscript, Text: "goodbye"}

			h.connect()
			h.emit(s2s.Event{Type: s2s.EventSpeechStarted})
			if tc.transcriptFirst {
				h.emit(goodbye)
			}
			h.emit(s2s.Event{Type: s2s.EventResponseCreated})
			// 20s of agent audio in 100ms frames.
			for range 200 {
				h.emit(delta(2400))
			}
			h.o.playNext(context.Background())
			if !tc.transcriptFirst {
				h.emit(goodbye)
			}

			h.clock.Advance(30 * time.Second)
			if reason, done := h.o.checkTimers(); done {
				t.Fatalf("ended mid-reply (%s) with %d frames queued", reason, len(h.o.queue))
			}

			h.emit(s2s.Event{Type: s2s.EventResponseDone})
			h.drain()
			if played, _, _ := h.player.snapshot(); played != 200 {
				t.Errorf("played = %d, want 200", played)
			}
			if got := h.o.State(); got != StateListening {
				t.Errorf("state = %s, want listening", got)
			}
			if _, done := h.o.checkTimers(); done {
				t.Fatal("ended without the grace period")
			}

			h.clock.Advance(2 * time.Second)
			if _, done := h.o.checkTimers(); done {
				t.Fatal("ended before the grace period elapsed")
			}
			h.clock.Advance(time.Second)
			if reason, done := h.o.checkTimers(); !done || reason != EndExitPhrase {
				t.Errorf("checkTimers = (%s, %v), want (exit_phrase, true)", reason, done)
			}
		})
	}
}

func TestOrchestrator_ExitGraceRestartsForNewReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithExitGrace(3*time.Second))
	h.connect()
	h.emit(s2s.Event{Type: s2s.EventUserTranscript, Text: "goodbye"})
	h.emit(s2s.Event{Type: s2s.EventResponseCreated})
	h.emit(delta(240))
	h.emit(s2s.Event{Type: s2s.EventResponseDone})
	h.drain()

	h.clock.Advance(2 * time.Second)
	h.emit(s2s.Event{Type: s2s.EventResponseCreated})
	h.emit(delta(240))
	h.clock.Advance(5 * time.Second)
	if _, done := h.o.checkTimers(); done {
		t.Fatal("ended while a second reply was queued")
	}

	h.emit(s2s.Event{Type: s2s.EventResponseDone})
	h.drain()
	h.clock.Advance(3 * time.Second)
	if reason, done := h.o.checkTimers(); !done || reason != EndExitPhrase {
		t.Errorf("checkTimers = (%s, %v), want (exit_phrase, true)", reason, done)
	}
}

// ── Run loop ─────────────────────────────────────────────────────────────────

func TestRun_PlaysResponseAndReturnsToListening(t *testing.T) {
	t.Parallel()
	sess := s2smock.NewSession()
	player := &fakePlayer{}
	display := &fakeDisplay{}
	o := New(sess, player, WithDisplay(display), WithTickInterval(time.Millisecond), WithConnectionGrace(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan EndReason, 1)
	go func() {
		reason, _ := o.Run(ctx, nil)
		done <- reason
	}()

	sess.Emit(s2s.Event{Type: s2s.EventSpeechStarted})
	sess.Emit(s2s.Event{Type: s2s.EventResponseCreated})
	for range 3 {
		sess.Emit(delta(240))
	}
	sess.Emit(s2s.Event{Type: s2s.EventResponseDone})

	waitFor(t, "three frames played", func() bool {
		played, _, _ := player.snapshot()
		return played == 3
	})
	waitFor(t, "listening", func() bool { return display.last() == StateListening })

	cancel()
	if reason := <-done; reason != EndCanceled {
		t.Errorf("reason = %s, want canceled", reason)
	}

	display.mu.Lock()
	defer display.mu.Unlock()
	want := []State{StateListening, StateProcessing, StateSpeaking, StateListening}
	if !slices.Equal(display.states, want) {
		t.Errorf("states = %v, want %v", display.states, want)
	}
}

func TestRun_InactivityTimeout(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	sess := s2smock.NewSession()
	display := &fakeDisplay{}
	o := New(sess, &fakePlayer{},
		WithDisplay(display),
		WithClock(clock.Now),
		WithTickInterval(time.Millisecond),
		WithInactivityTimeout(time.Minute),
	)

	done := make(chan EndReason, 1)
	go func() {
		reason, _ := o.Run(context.Background(), nil)
		done <- reason
	}()
	waitFor(t, "listening", func() bool { return display.last() == StateListening })

	clock.Advance(59 * time.Second)
	select {
	case r := <-done:
		t.Fatalf("ended early: %s", r)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(2 * time.Second)
	select {
	case r := <-done:
		if r != EndInactivity {
			t.Errorf("reason = %s, want inactivity", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not end after inactivity")
	}
}

func TestRun_ExitPhraseEndsAfterFarewell(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	sess := s2smock.NewSession()
	player := &fakePlayer{}
	display := &fakeDisplay{}
	o := New(sess, player,
		WithDisplay(display),
		WithClock(clock.Now),
		WithTickInterval(time.Millisecond),
		WithConnectionGrace(0),
		WithExitGrace(3*time.Second),
	)

	done := make(chan EndReason, 1)
	go func() {
		reason, _ := o.Run(context.Background(), nil)
		done <- reason
	}()

	sess.Emit(s2s.Event{Type: s2s.EventSpeechStarted})
	sess.Emit(s2s.Event{Type: s2s.EventUserTranscript, Text: "Thanks, goodbye!"})
	sess.Emit(s2s.Event{Type: s2s.EventResponseCreated})
	for range 3 {
		sess.Emit(delta(240))
	}
	sess.Emit(s2s.Event{Type: s2s.EventResponseDone})

	waitFor(t, "farewell played", func() bool {
		played, _, _ := player.snapshot()
		return played == 3 && display.last() == StateListening
	})
	select {
	case r := <-done:
		t.Fatalf("ended before grace: %s", r)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(3 * time.Second)
	select {
	case r := <-done:
		if r != EndExitPhrase {
			t.Errorf("reason = %s, want exit_phrase", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not end after exit grace")
	}
}

func TestRun_ExitPhraseWithoutReply(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	sess := s2smock.NewSession()
	display := &fakeDisplay{}
	o := New(sess, &fakePlayer{},
		WithDisplay(display),
		WithClock(clock.Now),
		WithTickInterval(time.Millisecond),
		WithExitGrace(3*time.Second),
		WithExitReplyWait(10*time.Second),
	)

	done := make(chan EndReason, 1)
	go func() {
		reason, _ := o.Run(context.Background(), nil)
		done <- reason
	}()

	sess.Emit(s2s.Event{Type: s2s.EventUserTranscript, Text: "Thanks, goodbye!"})
	waitFor(t, "user transcript", func() bool {
		display.mu.Lock()
		defer display.mu.Unlock()
		return display.user != ""
	})

	clock.Advance(3 * time.Second)
	select {
	case r := <-done:
		t.Fatalf("ended while waiting for a reply: %s", r)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(7 * time.Second)
	select {
	case r := <-done:
		if r != EndExitPhrase {
			t.Errorf("reason = %s, want exit_phrase", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not end after the reply wait")
	}
}

func TestRun_SessionClosed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		wantState State
	}{
		{name: "clean", wantState: StateListening},
		{name: "with error", err: s2s.ErrConnection, wantState: StateError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sess := s2smock.NewSession()
			sess.ErrResult = tc.err
			display := &fakeDisplay{}
			o := New(sess, &fakePlayer{}, WithDisplay(display), WithTickInterval(time.Millisecond))

			_ = sess.Close()
			reason, err := o.Run(context.Background(), nil)
			if reason != EndSessionClosed {
				t.Errorf("reason = %s, want session_closed", reason)
			}
			if !errors.Is(err, tc.err) {
				t.Errorf("err = %v, want %v", err, tc.err)
			}
			if got := display.last(); got != tc.wantState {
				t.Errorf("display state = %s, want %s", got, tc.wantState)
			}
			if got := o.State().Code(); got != tc.wantState.Code() {
				t.Errorf("state code = %d, want %d", got, tc.wantState.Code())
			}
		})
	}
}

func TestRun_ClosedMicIsIgnored(t *testing.T) {
	t.Parallel()
	sess := s2smock.NewSession()
	mic := make(chan audio.AudioFrame)
	close(mic)
	o := New(sess, &fakePlayer{}, WithTickInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if reason, err := o.Run(ctx, mic); reason != EndCanceled || err != nil {
		t.Errorf("Run = %s, %v; want canceled, nil", reason, err)
	}
}
