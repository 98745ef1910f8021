package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":      {"openai-realtime"},
	"wakeword": {"porcupine"},
	"audio":    {"portaudio"},
}

// Environment variables that override file values. Set values win over the
// YAML file; empty values are ignored.
const (
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvPicovoiceKey      = "PICOVOICE_ACCESS_KEY"
	EnvInputDeviceIndex  = "INPUT_DEVICE_INDEX"
	EnvOutputDeviceIndex = "OUTPUT_DEVICE_INDEX"
	EnvInputDeviceName   = "INPUT_DEVICE_NAME"
	EnvOutputDeviceName  = "OUTPUT_DEVICE_NAME"
	EnvKeywordPath       = "MODEL_FILE_PATH"
	EnvLanguageModelPath = "PORCUPINE_LANGUAGE_MODEL_PATH"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config]. An empty path
// skips the file and configures from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %q: %w", path, err)
	}
	slog.Debug("loaded environment file", "path", path)
	return nil
}

// ApplyEnv copies the recognised environment variables into cfg. lookup is
// usually [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	var errs []error
	index := func(key string, dst *DeviceConfig) {
		v, ok := get(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not an integer", key, v))
			return
		}
		dst.Index = &n
	}

	if v, ok := get(EnvOpenAIKey); ok {
		cfg.Providers.S2S.APIKey = v
	}
	if v, ok := get(EnvPicovoiceKey); ok {
		cfg.Providers.WakeWord.APIKey = v
	}
	index(EnvInputDeviceIndex, &cfg.Audio.InputDevice)
	index(EnvOutputDeviceIndex, &cfg.Audio.OutputDevice)
	if v, ok := get(EnvInputDeviceName); ok {
		cfg.Audio.InputDevice.Name = v
	}
	if v, ok := get(EnvOutputDeviceName); ok {
		cfg.Audio.OutputDevice.Name = v
	}
	if v, ok := get(EnvKeywordPath); ok {
		cfg.WakeWord.KeywordPaths = []string{v}
	}
	if v, ok := get(EnvLanguageModelPath); ok {
		cfg.WakeWord.ModelPath = v
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Providers.S2S.Name, "openai-realtime")
	setDefault(&cfg.Providers.S2S.Model, "gpt-4o-mini-realtime-preview")
	setDefault(&cfg.Providers.WakeWord.Name, "porcupine")
	setDefault(&cfg.Providers.Audio.Name, "portaudio")

	a := &cfg.Audio
	setDefault(&a.SessionRate, 24000)
	setDefault(&a.HardwareRate, 48000)
	setDefault(&a.InputChannels, 1)
	setDefault(&a.OutputChannels, 2)
	setDefault(&a.ChunkFrames, 1024)

	rt := &cfg.Realtime
	setDefault(&rt.Voice, "alloy")
	setDefault(&rt.TranscriptionModel, "whisper-1")
	setDefault(&rt.TurnDetection.Threshold, 0.1)
	setDefault(&rt.TurnDetection.PrefixPadding, 300*time.Millisecond)
	setDefault(&rt.TurnDetection.SilenceDuration, 200*time.Millisecond)
	setDefault(&rt.MaxReconnectAttempts, 3)
	setDefault(&rt.ReconnectDelay, 2*time.Second)

	c := &cfg.Conversation
	setDefault(&c.AgentName, "Kikai-kun")
	setDefault(&c.BargeIn, BargeInCloud)
	setDefault(&c.InactivityTimeout, 180*time.Second)
	setDefault(&c.ConnectionGrace, 2*time.Second)
	setDefault(&c.ExitGrace, 3*time.Second)
	setDefault(&c.ExitReplyWait, 10*time.Second)
	setDefault(&c.TickInterval, 10*time.Millisecond)
	setDefault(&c.ExitThreshold, 0.92)

	d := &cfg.Daemon
	setDefault(&d.ChunkFrames, 1536)
	setDefault(&d.SettleDelay, 500*time.Millisecond)
	setDefault(&d.HeartbeatInterval, 10*time.Second)
	setDefault(&d.MaxFailures, 3)
	setDefault(&d.Cooldown, time.Minute)
}

func setDefault[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Unknown provider names only warn.
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("wakeword", cfg.Providers.WakeWord.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	// Audio
	a := cfg.Audio
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("audio.session_rate", a.SessionRate)
	positive("audio.hardware_rate", a.HardwareRate)
	positive("audio.input_channels", a.InputChannels)
	positive("audio.output_channels", a.OutputChannels)
	positive("audio.chunk_frames", a.ChunkFrames)
	positive("daemon.chunk_frames", cfg.Daemon.ChunkFrames)

	// Realtime
	td := cfg.Realtime.TurnDetection
	if td.Threshold < 0 || td.Threshold > 1 {
		errs = append(errs, fmt.Errorf("realtime.turn_detection.threshold %.2f is out of range [0, 1]", td.Threshold))
	}
	if td.PrefixPadding < 0 || td.SilenceDuration < 0 {
		errs = append(errs, errors.New("realtime.turn_detection durations must not be negative"))
	}
	positive("realtime.max_reconnect_attempts", cfg.Realtime.MaxReconnectAttempts)
	for i, m := range cfg.Realtime.FallbackModels {
		if m == "" {
			errs = append(errs, fmt.Errorf("realtime.fallback_models[%d] is empty", i))
		}
	}

	// Wake word
	if s := cfg.WakeWord.Sensitivity; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("wakeword.sensitivity %.2f is out of range [0, 1]", s))
	}

	// Conversation
	c := cfg.Conversation
	if c.BargeIn != "" && !c.BargeIn.IsValid() {
		errs = append(errs, fmt.Errorf("conversation.barge_in %q is invalid; valid values: cloud, wakeword", c.BargeIn))
	}
	if c.ExitThreshold < 0 || c.ExitThreshold > 1 {
		errs = append(errs, fmt.Errorf("conversation.exit_threshold %.2f is out of range [0, 1]", c.ExitThreshold))
	}
	if c.InactivityTimeout < 0 || c.ConnectionGrace < 0 || c.ExitGrace < 0 || c.ExitReplyWait < 0 || c.TickInterval < 0 {
		errs = append(errs, errors.New("conversation durations must not be negative"))
	}
	if c.DisableExitPhrases && len(c.ExitPhrases) > 0 {
		slog.Warn("conversation.exit_phrases is set but disable_exit_phrases is true; phrases are ignored")
	}

	// Daemon
	if cfg.Daemon.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("daemon.max_failures must not be negative, got %d", cfg.Daemon.MaxFailures))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
