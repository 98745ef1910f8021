// Package daemon implements the wake-word daemon.
//
// The daemon owns the microphone while idle and feeds it to the local
// wake-word detector. On a detection it releases the audio device, launches a
// conversation process and polls it until it exits. It then reacquires the
// device, discards any stale detector input and listens again. No cloud
// connection exists while the daemon is listening.
//
// Consecutive failed conversations open a circuit breaker; while it is open
// detections are logged and ignored instead of relaunching a crashing child.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kikai/internal/config"
	"github.com/MrWong99/kikai/internal/health"
	"github.com/MrWong99/kikai/internal/observe"
	"github.com/MrWong99/kikai/internal/resilience"
	"github.com/MrWong99/kikai/internal/wakeword"
	"github.com/MrWong99/kikai/pkg/audio"
	wwprovider "github.com/MrWong99/kikai/pkg/provider/wakeword"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultHeartbeat    = 10 * time.Second

	// frameBuffer is the capacity of the capture hand-off channel.
	frameBuffer = 32

	// stallBeats is how many heartbeat intervals may pass without a captured
	// frame before the daemon reports itself as not live.
	stallBeats = 3
)

// Phase is what the daemon is currently doing.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseListening    Phase = "listening"
	PhaseConversation Phase = "conversation"
	PhaseStopped      Phase = "stopped"
)

// Deps are the collaborators the daemon drives.
type Deps struct {
	// OpenHost acquires the audio library. The daemon closes the host before
	// every launch and calls OpenHost again after the child exits.
	OpenHost func() (audio.Host, error)

	// Detector is the wake-word detector. The daemon releases it on exit.
	Detector wwprovider.Detector

	// Launcher starts conversation processes.
	Launcher Launcher
}

// Status is a point-in-time view of the daemon, served on /status.
type Status struct {
	Phase         Phase     `json:"phase"`
	Launches      int       `json:"launches"`
	Failures      int       `json:"failures"`
	Breaker       string    `json:"breaker"`
	ChildPID      int       `json:"child_pid,omitempty"`
	LastDetection time.Time `json:"last_detection,omitzero"`
	LastExit      string    `json:"last_exit,omitempty"`
}

// Daemon supervises the listen / converse cycle.
type Daemon struct {
	deps      Deps
	engineCfg audio.EngineConfig
	settle    time.Duration
	heartbeat time.Duration
	poll      time.Duration
	metrics   *observe.Metrics
	breaker   *resilience.CircuitBreaker
	now       func() time.Time

	mu       sync.Mutex
	status   Status
	lastBeat time.Time
}

// Option is a functional option for New.
type Option func(*Daemon)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithPollInterval sets how often a running child is polled. Default: 50ms.
func WithPollInterval(p time.Duration) Option {
	return func(d *Daemon) {
		if p > 0 {
			d.poll = p
		}
	}
}

// WithClock overrides the time source used for status and the breaker.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// New creates a Daemon from the audio and daemon sections of cfg. A
// daemon.max_failures of zero disables the crash-loop breaker.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Daemon, error) {
	switch {
	case deps.OpenHost == nil:
		return nil, errors.New("daemon: an audio host opener is required")
	case deps.Detector == nil:
		return nil, errors.New("daemon: a wake-word detector is required")
	case deps.Launcher == nil:
		return nil, errors.New("daemon: a launcher is required")
	}

	d := &Daemon{
		deps:      deps,
		engineCfg: cfg.Audio.EngineConfig(cfg.Daemon.ChunkFrames),
		settle:    cfg.Daemon.SettleDelay,
		heartbeat: cfg.Daemon.HeartbeatInterval,
		poll:      defaultPollInterval,
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.heartbeat <= 0 {
		d.heartbeat = defaultHeartbeat
	}
	if cfg.Daemon.MaxFailures > 0 {
		d.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "conversation",
			MaxFailures:  cfg.Daemon.MaxFailures,
			ResetTimeout: cfg.Daemon.Cooldown,
			HalfOpenMax:  1,
			Clock:        d.now,
		})
	}
	d.status.Phase = PhaseIdle
	return d, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens for the wake word and launches a conversation per detection
// until ctx is cancelled. A running child is terminated on cancellation.
//
// Failing to acquire the audio device is fatal, both at start and after a
// conversation. Run returns nil on cancellation.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.setPhase(PhaseStopped)

	l, err := wakeword.NewListener(d.deps.Detector, d.engineCfg.TargetRate)
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	defer func() {
		if err := l.Release(); err != nil {
			slog.Warn("daemon: release detector", "err", err)
		}
	}()

	host, eng, err := d.acquire()
	if err != nil {
		return err
	}
	slog.Info("listening for wake word",
		"hardware_rate", d.engineCfg.HardwareRate,
		"chunk_frames", d.engineCfg.ChunkFrames,
	)

	for {
		d.setPhase(PhaseListening)
		keyword, err := d.listen(ctx, eng, l)
		if err != nil || keyword < 0 {
			d.release(host, eng)
			return err
		}
		d.detected(ctx, keyword)

		done, err := d.allow()
		if err != nil {
			slog.Warn("ignoring wake word after repeated conversation failures",
				"retry_at", d.breaker.RetryAt().Format(time.TimeOnly))
			l.Reset()
			continue
		}

		// The conversation opens the same device; it must be free first.
		d.release(host, eng)
		exitErr := d.converse(ctx)
		if ctx.Err() != nil {
			done(nil)
			return nil
		}
		done(exitErr)

		host, eng, err = d.acquire()
		if err != nil {
			return err
		}
		l.Reset()
		if !sleep(ctx, d.settle) {
			d.release(host, eng)
			return nil
		}
	}
}

// listen feeds captured frames to l until the wake word is detected or ctx
// is done. It returns the keyword index, or [wwprovider.NoKeyword] when ctx
// ended the wait.
func (d *Daemon) listen(ctx context.Context, eng *audio.Engine, l *wakeword.Listener) (int, error) {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(lctx)

	frames := make(chan audio.AudioFrame, frameBuffer)
	g.Go(func() error {
		return eng.CaptureLoop(gctx, func(f audio.AudioFrame) {
			select {
			case frames <- f:
			default:
				d.metrics.RecordDroppedFrame(gctx, "wakeword")
			}
		})
	})

	keyword := wwprovider.NoKeyword
	g.Go(func() error {
		defer cancel()
		hb := time.NewTicker(d.heartbeat)
		defer hb.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hb.C:
				slog.Debug("daemon heartbeat", "buffered", l.Buffered())
			case f := <-frames:
				d.beat()
				idx, err := l.Feed(f)
				if err != nil {
					return fmt.Errorf("daemon: %w", err)
				}
				if idx >= 0 {
					keyword = idx
					return nil
				}
			}
		}
	})

	err := g.Wait()
	return keyword, err
}

// converse launches one conversation and polls it until it exits. It
// returns the child's exit error, or nil if ctx ended the conversation.
func (d *Daemon) converse(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "daemon.conversation")
	defer span.End()

	child, err := d.deps.Launcher.Launch(ctx)
	if err != nil {
		d.metrics.RecordChildLaunch(ctx, "error")
		observe.FailSpan(span, err, "launch")
		slog.Error("failed to launch conversation", "err", err)
		d.exited(err)
		return err
	}
	d.metrics.RecordChildLaunch(ctx, "ok")
	d.launched(child.PID())
	started := d.now()
	log := slog.With("pid", child.PID())
	log.Info("conversation launched")

	t := time.NewTicker(d.poll)
	defer t.Stop()
	for {
		if exited, err := child.Poll(); exited {
			d.exited(err)
			if err != nil {
				observe.FailSpan(span, err, "conversation exit")
				log.Warn("conversation exited with error", "err", err)
			} else {
				log.Info("conversation ended", "duration", d.now().Sub(started).Round(time.Second))
			}
			return err
		}
		select {
		case <-ctx.Done():
			log.Info("terminating conversation")
			if err := child.Terminate(); err != nil {
				log.Debug("conversation terminated", "err", err)
			}
			d.exited(nil)
			return nil
		case <-t.C:
		}
	}
}

// acquire opens the audio host and an engine on it.
func (d *Daemon) acquire() (audio.Host, *audio.Engine, error) {
	host, err := d.deps.OpenHost()
	if err != nil {
		return nil, nil, fmt.Errorf("daemon: open audio host: %w", err)
	}
	eng, err := audio.OpenEngine(host, d.engineCfg)
	if err != nil {
		if cerr := host.Close(); cerr != nil {
			slog.Warn("daemon: close audio host", "err", cerr)
		}
		return nil, nil, fmt.Errorf("daemon: %w", err)
	}
	d.beat()
	return host, eng, nil
}

// release closes the engine and then the host.
func (d *Daemon) release(host audio.Host, eng *audio.Engine) {
	if err := eng.Close(); err != nil {
		slog.Warn("daemon: close audio engine", "err", err)
	}
	if err := host.Close(); err != nil {
		slog.Warn("daemon: close audio host", "err", err)
	}
}

// allow consults the breaker. Without a breaker every launch is allowed.
func (d *Daemon) allow() (func(error), error) {
	if d.breaker == nil {
		return func(error) {}, nil
	}
	return d.breaker.Allow()
}

// sleep waits for dur or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ─── Status ──────────────────────────────────────────────────────────────────

func (d *Daemon) setPhase(p Phase) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Phase = p
}

func (d *Daemon) beat() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastBeat = d.now()
}

func (d *Daemon) detected(ctx context.Context, keyword int) {
	d.metrics.RecordWakeDetection(ctx, "daemon")
	slog.Info("wake word detected", "keyword", keyword)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.LastDetection = d.now()
}

func (d *Daemon) launched(pid int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Phase = PhaseConversation
	d.status.Launches++
	d.status.ChildPID = pid
}

func (d *Daemon) exited(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.ChildPID = 0
	if err != nil {
		d.status.Failures++
		d.status.LastExit = err.Error()
		return
	}
	d.status.LastExit = "ok"
}

// Status returns a snapshot of the daemon's state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	s := d.status
	d.mu.Unlock()
	s.Breaker = "disabled"
	if d.breaker != nil {
		s.Breaker = d.breaker.State().String()
	}
	return s
}

// Liveness reports an error when the daemon is listening but no audio has
// been captured for several heartbeat intervals.
func (d *Daemon) Liveness() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status.Phase != PhaseListening {
		return nil
	}
	stall := stallBeats * d.heartbeat
	if since := d.now().Sub(d.lastBeat); since > stall {
		return fmt.Errorf("no audio captured for %s", since.Round(time.Second))
	}
	return nil
}

// Checkers returns the readiness checks for the status server.
func (d *Daemon) Checkers() []health.Checker {
	return []health.Checker{
		{
			Name: "daemon",
			Check: func(context.Context) error {
				switch p := d.Status().Phase; p {
				case PhaseListening, PhaseConversation:
					return nil
				default:
					return fmt.Errorf("daemon is %s", p)
				}
			},
		},
		{
			Name: "breaker",
			Check: func(context.Context) error {
				if d.breaker == nil || d.breaker.State() != resilience.StateOpen {
					return nil
				}
				return fmt.Errorf("open until %s", d.breaker.RetryAt().Format(time.RFC3339))
			},
		},
	}
}
