// Package config provides the configuration schema, loader, and provider registry
// for the kikai voice assistant.
package config

import (
	"time"

	"github.com/MrWong99/kikai/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BargeIn selects which detector may interrupt the agent while it speaks.
type BargeIn string

const (
	// BargeInCloud lets the remote voice-activity detector interrupt.
	BargeInCloud BargeIn = "cloud"

	// BargeInWakeWord disables the remote detector while the agent speaks and
	// interrupts only on a local wake-word detection.
	BargeInWakeWord BargeIn = "wakeword"
)

// IsValid reports whether b is a recognised barge-in mode.
func (b BargeIn) IsValid() bool {
	return b == BargeInCloud || b == BargeInWakeWord
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Audio        AudioConfig        `yaml:"audio"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	WakeWord     WakeWordConfig     `yaml:"wakeword"`
	Conversation ConversationConfig `yaml:"conversation"`
	Daemon       DaemonConfig       `yaml:"daemon"`
}

// ServerConfig holds logging settings and the optional daemon status server.
type ServerConfig struct {
	// ListenAddr is the TCP address of the status server (e.g., ":9464").
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which implementation backs each external
// capability. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	S2S      ProviderEntry `yaml:"s2s"`
	WakeWord ProviderEntry `yaml:"wakeword"`
	Audio    ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai-realtime").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`
}

// DeviceConfig selects a hardware device. Index wins over Name; when neither
// is set the system default is used.
type DeviceConfig struct {
	Index *int   `yaml:"index"`
	Name  string `yaml:"name"`
}

// Selector converts d to an [audio.DeviceSelector].
func (d DeviceConfig) Selector() audio.DeviceSelector {
	sel := audio.DeviceSelector{Index: -1, Name: d.Name}
	if d.Index != nil {
		sel.Index = *d.Index
	}
	return sel
}

// AudioConfig describes the local audio hardware and the session rate.
type AudioConfig struct {
	// SessionRate is the PCM rate exchanged with the realtime service.
	SessionRate int `yaml:"session_rate"`

	// HardwareRate is the device's native rate.
	HardwareRate int `yaml:"hardware_rate"`

	InputChannels  int `yaml:"input_channels"`
	OutputChannels int `yaml:"output_channels"`

	// ChunkFrames is the number of hardware frames read per capture step
	// during a conversation.
	ChunkFrames int `yaml:"chunk_frames"`

	InputDevice  DeviceConfig `yaml:"input_device"`
	OutputDevice DeviceConfig `yaml:"output_device"`
}

// EngineConfig converts a to an [audio.EngineConfig] reading chunk frames
// per capture step.
func (a AudioConfig) EngineConfig(chunk int) audio.EngineConfig {
	return audio.EngineConfig{
		TargetRate:     a.SessionRate,
		HardwareRate:   a.HardwareRate,
		InputChannels:  a.InputChannels,
		OutputChannels: a.OutputChannels,
		ChunkFrames:    chunk,
		InputDevice:    a.InputDevice.Selector(),
		OutputDevice:   a.OutputDevice.Selector(),
	}
}

// TurnDetectionConfig tunes the remote voice-activity detector.
type TurnDetectionConfig struct {
	Threshold       float64       `yaml:"threshold"`
	PrefixPadding   time.Duration `yaml:"prefix_padding"`
	SilenceDuration time.Duration `yaml:"silence_duration"`
}

// RealtimeConfig configures the realtime speech session.
type RealtimeConfig struct {
	// Voice is the provider's voice identifier.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt for the assistant.
	Instructions string `yaml:"instructions"`

	// TranscriptionModel transcribes user audio for the console and for
	// exit-phrase matching.
	TranscriptionModel string `yaml:"transcription_model"`

	TurnDetection TurnDetectionConfig `yaml:"turn_detection"`

	// FallbackModels are tried in order when the primary model's handshake
	// fails.
	FallbackModels []string `yaml:"fallback_models"`

	// MaxReconnectAttempts is the total number of connection attempts.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// ReconnectDelay is the fixed pause between attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// WakeWordConfig configures the local keyword spotter.
type WakeWordConfig struct {
	// KeywordPaths lists custom keyword model files. Empty uses the
	// provider's built-in keyword.
	KeywordPaths []string `yaml:"keyword_paths"`

	// ModelPath is an optional language model for non-English keywords.
	ModelPath string `yaml:"model_path"`

	// Sensitivity in [0, 1]. Zero selects the provider default.
	Sensitivity float32 `yaml:"sensitivity"`
}

// ConversationConfig tunes the turn-taking orchestrator.
type ConversationConfig struct {
	// AgentName labels agent lines on the console.
	AgentName string `yaml:"agent_name"`

	// BargeIn selects the interrupt trigger.
	BargeIn BargeIn `yaml:"barge_in"`

	// InactivityTimeout ends the session after this long without activity.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// ConnectionGrace ignores remote speech-start events this soon after
	// connecting.
	ConnectionGrace time.Duration `yaml:"connection_grace"`

	// ExitGrace is how long the session stays open after the reply to an
	// exit phrase has finished playing.
	ExitGrace time.Duration `yaml:"exit_grace"`

	// ExitReplyWait is how long an exit phrase waits for the agent to start a
	// reply before the session ends without one.
	ExitReplyWait time.Duration `yaml:"exit_reply_wait"`

	// TickInterval is the orchestrator's idle polling period.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ExitPhrases end the session when the user says one. Empty uses the
	// built-in list; set DisableExitPhrases to turn the feature off.
	ExitPhrases        []string `yaml:"exit_phrases"`
	DisableExitPhrases bool     `yaml:"disable_exit_phrases"`

	// ExitThreshold is the minimum Jaro-Winkler similarity for a fuzzy
	// exit-phrase match.
	ExitThreshold float64 `yaml:"exit_threshold"`
}

// DaemonConfig tunes the wake-word daemon.
type DaemonConfig struct {
	// ChunkFrames is the number of hardware frames read per capture step
	// while waiting for the wake word.
	ChunkFrames int `yaml:"chunk_frames"`

	// SettleDelay pauses after the device is reacquired.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// HeartbeatInterval is the period of the debug heartbeat log.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxFailures consecutive failed conversations stop relaunching for
	// Cooldown.
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}
