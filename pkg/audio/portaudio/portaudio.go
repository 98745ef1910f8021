// Package portaudio implements [audio.Device] on top of PortAudio blocking
// streams via github.com/gordonklaus/portaudio.
//
// PortAudio is a process-wide library: [New] initialises it and
// [Device.Close] terminates it. Release the device before handing the
// hardware to another process and create a new one afterwards.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/kikai/pkg/audio"
)

var _ audio.Host = (*Device)(nil)

// Device is an initialised PortAudio host.
type Device struct {
	mu     sync.Mutex
	closed bool
}

// New initialises PortAudio.
func New() (*Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Device{}, nil
}

// Close terminates PortAudio. Streams opened from this device must be closed
// first. Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(cfg audio.StreamConfig) (audio.InputStream, error) {
	if cfg.FramesPerBlock <= 0 {
		return nil, errors.New("portaudio: input stream needs FramesPerBlock > 0")
	}
	info, err := d.selectDevice(cfg.Device, true)
	if err != nil {
		return nil, err
	}

	buf := make([]int16, cfg.FramesPerBlock*cfg.Channels)
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  info.DefaultHighInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.BufferFrames,
	}
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		logDevices()
		return nil, fmt.Errorf("portaudio: open input %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start input %q: %w", info.Name, err)
	}
	slog.Info("portaudio input opened", "device", info.Name, "index", info.Index, "rate", cfg.SampleRate, "channels", cfg.Channels)
	return &inputStream{stream: stream, buf: buf, name: info.Name}, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(cfg audio.StreamConfig) (audio.OutputStream, error) {
	info, err := d.selectDevice(cfg.Device, false)
	if err != nil {
		return nil, err
	}

	// Writes go out in fixed blocks; BufferFrames sizes the host buffer.
	block := cfg.FramesPerBlock
	if block <= 0 {
		block = 1024
	}
	buf := make([]int16, block*cfg.Channels)
	params := pa.StreamParameters{
		Output: pa.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  info.DefaultHighOutputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.BufferFrames,
	}
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		logDevices()
		return nil, fmt.Errorf("portaudio: open output %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start output %q: %w", info.Name, err)
	}
	slog.Info("portaudio output opened", "device", info.Name, "index", info.Index, "rate", cfg.SampleRate, "channels", cfg.Channels)
	return &outputStream{stream: stream, buf: buf, name: info.Name}, nil
}

// selectDevice resolves sel by index, then by name, then falls back to the
// system default for the requested direction.
func (d *Device) selectDevice(sel audio.DeviceSelector, input bool) (*pa.DeviceInfo, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, errors.New("portaudio: device closed")
	}

	if sel.Index >= 0 || sel.Name != "" {
		devices, err := pa.Devices()
		if err != nil {
			return nil, fmt.Errorf("portaudio: list devices: %w", err)
		}
		if info := matchDevice(devices, sel, input); info != nil {
			return info, nil
		}
		slog.Warn("portaudio: requested device not found, using default",
			"index", sel.Index,
			"name", sel.Name,
			"input", input,
		)
	}

	if input {
		info, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return info, nil
	}
	info, err := pa.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: default output device: %w", err)
	}
	return info, nil
}

func matchDevice(devices []*pa.DeviceInfo, sel audio.DeviceSelector, input bool) *pa.DeviceInfo {
	usable := func(info *pa.DeviceInfo) bool {
		if input {
			return info.MaxInputChannels > 0
		}
		return info.MaxOutputChannels > 0
	}
	if sel.Index >= 0 {
		for _, info := range devices {
			if info.Index == sel.Index && usable(info) {
				return info
			}
		}
	}
	if sel.Name != "" {
		want := strings.ToLower(sel.Name)
		for _, info := range devices {
			if usable(info) && strings.Contains(strings.ToLower(info.Name), want) {
				return info
			}
		}
	}
	return nil
}

// logDevices lists every device at info level to help pick an index or name
// after an open failure.
func logDevices() {
	devices, err := pa.Devices()
	if err != nil {
		return
	}
	for _, info := range devices {
		slog.Info("portaudio device",
			"index", info.Index,
			"name", info.Name,
			"max_in", info.MaxInputChannels,
			"max_out", info.MaxOutputChannels,
			"default_rate", info.DefaultSampleRate,
		)
	}
}

// ─── streams ──────────────────────────────────────────────────────────────────

type inputStream struct {
	stream *pa.Stream
	buf    []int16
	name   string
}

func (s *inputStream) Available() (int, error) {
	return s.stream.AvailableToRead()
}

func (s *inputStream) Read() ([]int16, error) {
	// Overflow means samples were dropped before we read; the chunk we got is
	// still valid audio.
	if err := s.stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
		return nil, fmt.Errorf("portaudio: read %q: %w", s.name, err)
	}
	out := make([]int16, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *inputStream) Close() error {
	return closeStream(s.stream)
}

// outputStream accepts writes of any length and forwards them to PortAudio in
// whole blocks, keeping a partial block until more samples arrive.
type outputStream struct {
	stream  *pa.Stream
	buf     []int16
	pending []int16
	name    string
}

func (s *outputStream) Write(samples []int16) error {
	s.pending = append(s.pending, samples...)
	for len(s.pending) >= len(s.buf) {
		copy(s.buf, s.pending)
		s.pending = s.pending[len(s.buf):]
		if err := s.writeBlock(); err != nil {
			return err
		}
	}
	// Compact so the backing array does not grow without bound.
	s.pending = append(s.pending[:0:0], s.pending...)
	return nil
}

func (s *outputStream) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	n := copy(s.buf, s.pending)
	clear(s.buf[n:])
	s.pending = s.pending[:0]
	return s.writeBlock()
}

func (s *outputStream) writeBlock() error {
	if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
		return fmt.Errorf("portaudio: write %q: %w", s.name, err)
	}
	return nil
}

func (s *outputStream) Abort() error {
	s.pending = s.pending[:0]
	return s.stream.Abort()
}

func (s *outputStream) Start() error {
	return s.stream.Start()
}

func (s *outputStream) Close() error {
	s.pending = nil
	return closeStream(s.stream)
}

func closeStream(stream *pa.Stream) error {
	// Stop fails on an already-stopped stream; Close is what releases it.
	_ = stream.Stop()
	return stream.Close()
}
