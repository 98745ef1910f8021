package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default engine parameters.
const (
	defaultPollInterval  = 10 * time.Millisecond
	defaultInputBuffers  = 3
	defaultOutputBuffers = 4
)

// EngineConfig configures an [Engine].
type EngineConfig struct {
	// TargetRate is the session's logical sample rate in Hz. Frames passed to
	// the capture consumer and to Play use this rate.
	TargetRate int

	// HardwareRate is the device's native sample rate in Hz.
	HardwareRate int

	// InputChannels and OutputChannels are the hardware channel counts.
	// Captured audio is downmixed to mono; played audio is duplicated to
	// every output channel.
	InputChannels  int
	OutputChannels int

	// ChunkFrames is the number of hardware frames read per capture step.
	ChunkFrames int

	// InputDevice and OutputDevice select the hardware devices.
	InputDevice  DeviceSelector
	OutputDevice DeviceSelector

	// PollInterval is how long the capture loop yields when less than one
	// chunk is available. Defaults to 10ms.
	PollInterval time.Duration
}

func (c EngineConfig) validate() error {
	var errs []error
	if c.TargetRate <= 0 {
		errs = append(errs, fmt.Errorf("target rate must be positive, got %d", c.TargetRate))
	}
	if c.HardwareRate <= 0 {
		errs = append(errs, fmt.Errorf("hardware rate must be positive, got %d", c.HardwareRate))
	}
	if c.InputChannels <= 0 || c.OutputChannels <= 0 {
		errs = append(errs, fmt.Errorf("channel counts must be positive, got in=%d out=%d", c.InputChannels, c.OutputChannels))
	}
	if c.ChunkFrames <= 0 {
		errs = append(errs, fmt.Errorf("chunk frames must be positive, got %d", c.ChunkFrames))
	}
	return errors.Join(errs...)
}

// Engine bridges a hardware device running at HardwareRate to a session
// running at TargetRate in both directions.
//
// The capture side (CaptureLoop) is driven by a single goroutine and owns the
// input stream and input converter. The playback side (Play, StopPlayback,
// FlushPlayback) may be called from different goroutines; those methods share
// one mutex that guards the output stream and the output converter.
//
// An Engine is not reusable after Close.
type Engine struct {
	cfg EngineConfig

	inMu   sync.Mutex
	in     InputStream
	inConv *RateConverter

	outMu   sync.Mutex
	out     OutputStream
	outConv *RateConverter

	closed    chan struct{}
	closeOnce sync.Once

	warnedRate sync.Once
}

// OpenEngine opens the output stream and then the input stream on dev. If the
// input stream cannot be opened the already-open output stream is closed
// before the error is returned. Both failures wrap [ErrDeviceUnavailable].
func OpenEngine(dev Device, cfg EngineConfig) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("audio: invalid engine config: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	inConv, err := NewRateConverter(cfg.HardwareRate, cfg.TargetRate)
	if err != nil {
		return nil, err
	}
	outConv, err := NewRateConverter(cfg.TargetRate, cfg.HardwareRate)
	if err != nil {
		return nil, err
	}

	out, err := dev.OpenOutput(StreamConfig{
		Device:         cfg.OutputDevice,
		SampleRate:     cfg.HardwareRate,
		Channels:       cfg.OutputChannels,
		FramesPerBlock: cfg.ChunkFrames,
		BufferFrames:   cfg.ChunkFrames * defaultOutputBuffers,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: output %s: %w", ErrDeviceUnavailable, formatString(cfg.HardwareRate, cfg.OutputChannels), err)
	}

	in, err := dev.OpenInput(StreamConfig{
		Device:        cfg.InputDevice,
		SampleRate:    cfg.HardwareRate,
		Channels:      cfg.InputChannels,
		FramesPerBlock: cfg.ChunkFrames,
		BufferFrames:  cfg.ChunkFrames * defaultInputBuffers,
	})
	if err != nil {
		if cerr := out.Close(); cerr != nil {
			slog.Warn("audio: failed to close output stream after input open failure", "err", cerr)
		}
		return nil, fmt.Errorf("%w: input %s: %w", ErrDeviceUnavailable, formatString(cfg.HardwareRate, cfg.InputChannels), err)
	}

	slog.Info("audio engine opened",
		"hardware_out", formatString(cfg.HardwareRate, cfg.OutputChannels),
		"hardware_in", formatString(cfg.HardwareRate, cfg.InputChannels),
		"session", formatString(cfg.TargetRate, 1),
		"chunk_frames", cfg.ChunkFrames,
	)

	return &Engine{
		cfg:     cfg,
		in:      in,
		inConv:  inConv,
		out:     out,
		outConv: outConv,
		closed:  make(chan struct{}),
	}, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() EngineConfig { return e.cfg }

// CaptureLoop reads hardware audio until ctx is cancelled or the engine is
// closed, downsamples it to TargetRate and passes each frame to consume.
//
// When less than one chunk is available the loop sleeps for PollInterval
// instead of issuing a blocking read, so a stalled device never pins the
// goroutine. consume runs on the capture goroutine and must only hand the
// frame off (e.g. to a buffered channel); it must not block.
//
// CaptureLoop returns nil on cancellation or Close, and a wrapped error if
// the input stream fails.
func (e *Engine) CaptureLoop(ctx context.Context, consume func(AudioFrame)) error {
	start := time.Now()
	timer := time.NewTimer(e.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.closed:
			return nil
		default:
		}

		frame, ready, err := e.readChunk(start)
		if err != nil {
			if errors.Is(err, ErrEngineClosed) {
				return nil
			}
			return err
		}
		if !ready {
			timer.Reset(e.cfg.PollInterval)
			select {
			case <-ctx.Done():
				return nil
			case <-e.closed:
				return nil
			case <-timer.C:
			}
			continue
		}
		if len(frame.Samples) > 0 {
			consume(frame)
		}
	}
}

// readChunk reads and converts one chunk if enough frames are available.
func (e *Engine) readChunk(start time.Time) (AudioFrame, bool, error) {
	e.inMu.Lock()
	defer e.inMu.Unlock()

	if e.in == nil {
		return AudioFrame{}, false, ErrEngineClosed
	}
	avail, err := e.in.Available()
	if err != nil {
		return AudioFrame{}, false, fmt.Errorf("audio: query input: %w", err)
	}
	if avail < e.cfg.ChunkFrames {
		return AudioFrame{}, false, nil
	}
	raw, err := e.in.Read()
	if err != nil {
		return AudioFrame{}, false, fmt.Errorf("audio: read input: %w", err)
	}
	mono := Downmix(raw, e.cfg.InputChannels)
	return AudioFrame{
		Samples:    e.inConv.Convert(mono),
		SampleRate: e.cfg.TargetRate,
		Timestamp:  time.Since(start),
	}, true, nil
}

// Play upsamples frame to the hardware rate, duplicates it to every output
// channel and writes it to the output stream. Safe to call concurrently with
// StopPlayback.
//
// If the hardware write fails the output is handled exactly as in
// StopPlayback and [ErrPlaybackInterrupted] is returned.
func (e *Engine) Play(frame AudioFrame) error {
	samples := frame.Samples
	if frame.SampleRate > 0 && frame.SampleRate != e.cfg.TargetRate {
		e.warnedRate.Do(func() {
			slog.Warn("audio: playback frame rate differs from session rate, converting statelessly",
				"from", frame.SampleRate,
				"to", e.cfg.TargetRate,
			)
		})
		samples = Resample(samples, frame.SampleRate, e.cfg.TargetRate)
	}

	e.outMu.Lock()
	defer e.outMu.Unlock()

	if e.out == nil {
		return ErrEngineClosed
	}
	up := e.outConv.Convert(samples)
	if len(up) == 0 {
		return nil
	}
	if err := e.out.Write(ExpandChannels(up, e.cfg.OutputChannels)); err != nil {
		slog.Warn("audio: output write failed, stopping playback", "err", err)
		if serr := e.stopLocked(); serr != nil {
			return fmt.Errorf("%w: %w", ErrPlaybackInterrupted, errors.Join(err, serr))
		}
		return fmt.Errorf("%w: %w", ErrPlaybackInterrupted, err)
	}
	return nil
}

// StopPlayback halts output immediately, discarding audio buffered by the
// driver, restarts the stream and resets the output converter so resumed
// playback starts from a clean state. Emptying an upstream queue alone does
// not silence the device because drivers buffer several chunks ahead.
func (e *Engine) StopPlayback() error {
	e.outMu.Lock()
	defer e.outMu.Unlock()

	if e.out == nil {
		return ErrEngineClosed
	}
	return e.stopLocked()
}

func (e *Engine) stopLocked() error {
	e.outConv.Reset()
	if err := e.out.Abort(); err != nil {
		return fmt.Errorf("audio: abort output: %w", err)
	}
	if err := e.out.Start(); err != nil {
		return fmt.Errorf("audio: restart output: %w", err)
	}
	return nil
}

// FlushPlayback pushes any partially buffered hardware block to the device.
// Call it when a response has been fully queued so its tail is not held back.
func (e *Engine) FlushPlayback() error {
	e.outMu.Lock()
	defer e.outMu.Unlock()

	if e.out == nil {
		return ErrEngineClosed
	}
	if err := e.out.Flush(); err != nil {
		return fmt.Errorf("audio: flush output: %w", err)
	}
	return nil
}

// Close stops and releases both streams. It is idempotent; every later call
// returns nil and the engine cannot be reopened.
func (e *Engine) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		close(e.closed)

		e.inMu.Lock()
		if e.in != nil {
			if err := e.in.Close(); err != nil {
				errs = append(errs, fmt.Errorf("audio: close input: %w", err))
			}
			e.in = nil
		}
		e.inMu.Unlock()

		e.outMu.Lock()
		if e.out != nil {
			if err := e.out.Close(); err != nil {
				errs = append(errs, fmt.Errorf("audio: close output: %w", err))
			}
			e.out = nil
		}
		e.outMu.Unlock()
	})
	return errors.Join(errs...)
}
