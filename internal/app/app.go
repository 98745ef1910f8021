// Package app wires one conversation session: the audio engine, the realtime
// session and the barge-in orchestrator.
//
// The App struct owns the full lifecycle: New checks the providers, Run opens
// the audio device, connects with bounded retry and drives the conversation
// until it ends, and Close tears everything down in order.
//
// For testing, pass mock providers (pkg/audio/mock, pkg/provider/s2s/mock)
// and inject collaborators via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kikai/internal/config"
	"github.com/MrWong99/kikai/internal/conversation"
	"github.com/MrWong99/kikai/internal/observe"
	"github.com/MrWong99/kikai/internal/resilience"
	"github.com/MrWong99/kikai/internal/wakeword"
	"github.com/MrWong99/kikai/pkg/audio"
	"github.com/MrWong99/kikai/pkg/provider/s2s"
	wwprovider "github.com/MrWong99/kikai/pkg/provider/wakeword"
)

// Hand-off channel capacities between the capture goroutine and its
// consumers. A full channel drops the frame rather than stalling capture.
const (
	uplinkBuffer = 64
	micBuffer    = 16
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	// S2S opens the realtime session. Required.
	S2S s2s.Provider

	// Audio opens the hardware streams. Required.
	Audio audio.Device

	// WakeWord is the local detector for wake-word barge-in. Nil falls back
	// to the service's own voice-activity detection.
	WakeWord wwprovider.Detector
}

// App owns the lifetime of one conversation session.
type App struct {
	cfg       *config.Config
	providers *Providers
	display   conversation.Display
	metrics   *observe.Metrics
	sessionID string

	// closers are called in reverse order during Close.
	closers []func() error

	// closeOnce guards the Close path.
	closeOnce sync.Once
	closeErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithDisplay sets the renderer for state and transcript updates.
func WithDisplay(d conversation.Display) Option {
	return func(a *App) { a.display = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) Option {
	return func(a *App) { a.sessionID = id }
}

// New creates an App. It does not touch the hardware or the network.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.S2S == nil {
		return nil, errors.New("app: an S2S provider is required")
	}
	if providers.Audio == nil {
		return nil, errors.New("app: an audio device is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}
	return a, nil
}

// SessionID returns the ID used to correlate this session's logs.
func (a *App) SessionID() string { return a.sessionID }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the audio engine, connects the realtime session and drives the
// conversation until it ends. Device and connection failures are fatal and
// returned before any audio flows. The returned [conversation.EndReason]
// tells why a started conversation ended.
//
// Run must be called once. Call Close afterwards to release resources.
func (a *App) Run(ctx context.Context) (conversation.EndReason, error) {
	ctx = observe.WithSessionID(ctx, a.sessionID)
	ctx, span := observe.StartSpan(ctx, "conversation.session")
	defer span.End()
	log := observe.Logger(ctx)

	// ── 1. Audio engine ──────────────────────────────────────────────────
	eng, err := audio.OpenEngine(a.providers.Audio, a.cfg.Audio.EngineConfig(a.cfg.Audio.ChunkFrames))
	if err != nil {
		observe.FailSpan(span, err, "open audio engine")
		return conversation.EndCanceled, fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, eng.Close)

	// ── 2. Realtime session ──────────────────────────────────────────────
	sess, err := a.connect(ctx)
	if err != nil {
		observe.FailSpan(span, err, "connect")
		return conversation.EndCanceled, err
	}
	a.closers = append(a.closers, sess.Close)

	// ── 3. Orchestrator ──────────────────────────────────────────────────
	orch, listening, err := a.newOrchestrator(sess, eng)
	if err != nil {
		return conversation.EndCanceled, err
	}

	a.metrics.ActiveSessions.Add(ctx, 1)
	started := time.Now()
	defer func() {
		a.metrics.ActiveSessions.Add(ctx, -1)
		a.metrics.SessionDuration.Record(ctx, time.Since(started).Seconds())
	}()

	// ── 4. Capture, uplink and orchestrator loops ────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	uplink := make(chan audio.AudioFrame, uplinkBuffer)
	var mic chan audio.AudioFrame
	if listening {
		mic = make(chan audio.AudioFrame, micBuffer)
	}

	g.Go(func() error {
		return eng.CaptureLoop(gctx, func(f audio.AudioFrame) {
			a.handOff(gctx, uplink, f, "uplink")
			if mic != nil {
				a.handOff(gctx, mic, f, "orchestrator")
			}
		})
	})
	g.Go(func() error {
		a.sendLoop(gctx, sess, uplink)
		return nil
	})

	var reason conversation.EndReason
	g.Go(func() error {
		defer cancel()
		var runErr error
		reason, runErr = orch.Run(gctx, mic)
		return runErr
	})

	log.Info("conversation started",
		"barge_in", a.cfg.Conversation.BargeIn,
		"local_barge_in", listening,
	)
	err = g.Wait()
	if err != nil {
		observe.FailSpan(span, err, "conversation")
	}
	log.Info("conversation ended", "reason", reason, "duration", time.Since(started).Round(time.Millisecond))
	return reason, err
}

// connect opens the realtime session, retrying connection failures with a
// fixed delay.
func (a *App) connect(ctx context.Context) (s2s.SessionHandle, error) {
	ctx, span := observe.StartSpan(ctx, "realtime.connect")
	defer span.End()

	rt := a.cfg.Realtime
	sessCfg := s2s.SessionConfig{
		Instructions: rt.Instructions,
		Voice:        rt.Voice,
		SampleRate:   a.cfg.Audio.SessionRate,
		TurnDetection: &s2s.TurnDetection{
			Threshold:       rt.TurnDetection.Threshold,
			PrefixPadding:   rt.TurnDetection.PrefixPadding,
			SilenceDuration: rt.TurnDetection.SilenceDuration,
		},
		TranscriptionModel: rt.TranscriptionModel,
	}

	var sess s2s.SessionHandle
	err := resilience.Retry(ctx, resilience.RetryConfig{
		Name:      "realtime connect",
		Attempts:  rt.MaxReconnectAttempts,
		Delay:     rt.ReconnectDelay,
		Retryable: func(err error) bool { return errors.Is(err, s2s.ErrConnection) },
	}, func(ctx context.Context) error {
		start := time.Now()
		s, err := a.providers.S2S.Connect(ctx, sessCfg)
		a.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			a.metrics.RecordConnectAttempt(ctx, "error")
			a.metrics.RecordProviderError(ctx, "s2s", "connect")
			return err
		}
		a.metrics.RecordConnectAttempt(ctx, "ok")
		sess = s
		return nil
	})
	if err != nil {
		observe.FailSpan(span, err, "connect")
		return nil, fmt.Errorf("app: connect realtime session: %w", err)
	}
	observe.Logger(ctx).Info("realtime session connected")
	return sess, nil
}

// newOrchestrator builds the orchestrator from config. listening reports
// whether local wake-word barge-in is active and mic frames must be fed.
func (a *App) newOrchestrator(sess s2s.SessionHandle, eng *audio.Engine) (orch *conversation.Orchestrator, listening bool, err error) {
	c := a.cfg.Conversation
	opts := []conversation.Option{
		conversation.WithMetrics(a.metrics),
		conversation.WithConnectionGrace(c.ConnectionGrace),
		conversation.WithInactivityTimeout(c.InactivityTimeout),
		conversation.WithExitGrace(c.ExitGrace),
		conversation.WithExitReplyWait(c.ExitReplyWait),
		conversation.WithTickInterval(c.TickInterval),
	}
	if a.display != nil {
		opts = append(opts, conversation.WithDisplay(a.display))
	}
	if c.DisableExitPhrases {
		opts = append(opts, conversation.WithExitMatcher(nil))
	} else {
		opts = append(opts, conversation.WithExitMatcher(conversation.NewExitMatcher(c.ExitPhrases, c.ExitThreshold)))
	}

	if c.BargeIn == config.BargeInWakeWord {
		if a.providers.WakeWord == nil {
			slog.Warn("wake-word barge-in requested without a detector; using service turn detection")
		} else {
			l, err := wakeword.NewListener(a.providers.WakeWord, a.cfg.Audio.SessionRate)
			if err != nil {
				return nil, false, fmt.Errorf("app: wake-word listener: %w", err)
			}
			a.closers = append(a.closers, l.Release)
			opts = append(opts, conversation.WithWakeWordBargeIn(l))
			listening = true
		}
	}
	return conversation.New(sess, eng, opts...), listening, nil
}

// handOff passes f to ch without blocking. A full channel drops the frame.
func (a *App) handOff(ctx context.Context, ch chan<- audio.AudioFrame, f audio.AudioFrame, stage string) {
	select {
	case ch <- f:
	default:
		a.metrics.RecordDroppedFrame(ctx, stage)
	}
}

// sendLoop uploads captured frames until ctx is done or the session closes.
func (a *App) sendLoop(ctx context.Context, sess s2s.SessionHandle, frames <-chan audio.AudioFrame) {
	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			err := sess.SendAudio(f)
			if err == nil {
				failures = 0
				continue
			}
			if errors.Is(err, s2s.ErrSessionClosed) {
				return
			}
			failures++
			if failures == 1 {
				observe.Logger(ctx).Warn("failed to send audio", "err", err)
			}
		}
	}
}

// ─── Close ───────────────────────────────────────────────────────────────────

// Close releases the session, the wake-word listener and the audio engine in
// reverse acquisition order. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
		if a.closeErr != nil {
			slog.Warn("app: close errors", "err", a.closeErr)
		}
	})
	return a.closeErr
}
