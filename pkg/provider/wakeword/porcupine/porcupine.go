// Package porcupine implements [wakeword.Detector] using the Picovoice
// Porcupine keyword engine.
//
// When custom keyword files are configured but cannot be loaded, the detector
// falls back to the built-in "picovoice" keyword so the assistant stays
// reachable. A missing language model file is ignored with a warning.
package porcupine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	pv "github.com/Picovoice/porcupine/binding/go/v3"

	"github.com/MrWong99/kikai/pkg/provider/wakeword"
)

var _ wakeword.Detector = (*Detector)(nil)

const defaultSensitivity = 0.5

// FallbackKeyword is the built-in keyword used when no custom keyword loads.
const FallbackKeyword = pv.PICOVOICE

// Detector wraps an initialised Porcupine handle.
type Detector struct {
	mu       sync.Mutex
	engine   *pv.Porcupine
	keywords []string
	released bool
}

// New initialises Porcupine from cfg.
func New(cfg wakeword.Config) (*Detector, error) {
	if cfg.AccessKey == "" {
		return nil, errors.New("porcupine: access key is required")
	}
	sensitivity := cfg.Sensitivity
	if sensitivity <= 0 || sensitivity > 1 {
		sensitivity = defaultSensitivity
	}

	modelPath := cfg.ModelPath
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			slog.Warn("porcupine: language model not found, using default model", "path", modelPath, "err", err)
			modelPath = ""
		}
	}

	if len(cfg.KeywordPaths) > 0 {
		engine, err := initCustom(cfg.AccessKey, modelPath, cfg.KeywordPaths, sensitivity)
		if err == nil {
			slog.Info("porcupine: custom keywords loaded", "keywords", cfg.KeywordPaths, "frame_length", pv.FrameLength, "sample_rate", pv.SampleRate)
			return &Detector{engine: engine, keywords: cfg.KeywordPaths}, nil
		}
		slog.Warn("porcupine: custom keywords failed to load, falling back to built-in keyword",
			"keywords", cfg.KeywordPaths,
			"fallback", string(FallbackKeyword),
			"err", err,
		)
	}

	engine := &pv.Porcupine{
		AccessKey:       cfg.AccessKey,
		BuiltInKeywords: []pv.BuiltInKeyword{FallbackKeyword},
		Sensitivities:   []float32{sensitivity},
	}
	if err := engine.Init(); err != nil {
		return nil, fmt.Errorf("porcupine: init built-in keyword %q: %w", FallbackKeyword, err)
	}
	slog.Info("porcupine: built-in keyword loaded", "keyword", string(FallbackKeyword), "frame_length", pv.FrameLength, "sample_rate", pv.SampleRate)
	return &Detector{engine: engine, keywords: []string{string(FallbackKeyword)}}, nil
}

func initCustom(accessKey, modelPath string, keywordPaths []string, sensitivity float32) (*pv.Porcupine, error) {
	for _, p := range keywordPaths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("keyword file %q: %w", p, err)
		}
	}
	sens := make([]float32, len(keywordPaths))
	for i := range sens {
		sens[i] = sensitivity
	}
	engine := &pv.Porcupine{
		AccessKey:     accessKey,
		ModelPath:     modelPath,
		KeywordPaths:  keywordPaths,
		Sensitivities: sens,
	}
	if err := engine.Init(); err != nil {
		return nil, err
	}
	return engine, nil
}

// Keywords returns the loaded keyword names or paths, indexed like the result
// of Process.
func (d *Detector) Keywords() []string { return d.keywords }

// FrameLength implements [wakeword.Detector].
func (d *Detector) FrameLength() int { return pv.FrameLength }

// SampleRate implements [wakeword.Detector].
func (d *Detector) SampleRate() int { return pv.SampleRate }

// Process implements [wakeword.Detector].
func (d *Detector) Process(frame []int16) (int, error) {
	if len(frame) != pv.FrameLength {
		return wakeword.NoKeyword, fmt.Errorf("%w: got %d, want %d", wakeword.ErrFrameLength, len(frame), pv.FrameLength)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return wakeword.NoKeyword, errors.New("porcupine: detector released")
	}
	idx, err := d.engine.Process(frame)
	if err != nil {
		return wakeword.NoKeyword, fmt.Errorf("porcupine: process: %w", err)
	}
	return idx, nil
}

// Release implements [wakeword.Detector].
func (d *Detector) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	if err := d.engine.Delete(); err != nil {
		return fmt.Errorf("porcupine: delete: %w", err)
	}
	return nil
}
