package config_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/kikai/internal/config"
)

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"negative rate", "audio:\n  hardware_rate: -1\n", "audio.hardware_rate"},
		{"threshold", "realtime:\n  turn_detection:\n    threshold: 1.5\n", "threshold"},
		{"empty fallback", "realtime:\n  fallback_models: [\"\"]\n", "fallback_models[0]"},
		{"sensitivity", "wakeword:\n  sensitivity: 2\n", "wakeword.sensitivity"},
		{"barge-in", "conversation:\n  barge_in: shout\n", "barge_in"},
		{"exit threshold", "conversation:\n  exit_threshold: 3\n", "exit_threshold"},
		{"negative duration", "conversation:\n  exit_grace: -1s\n", "durations"},
		{"negative failures", "daemon:\n  max_failures: -2\n", "max_failures"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
conversation:
  barge_in: shout
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "barge_in"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for kind, want := range map[string]string{
		"s2s":      "openai-realtime",
		"wakeword": "porcupine",
		"audio":    "portaudio",
	} {
		if !slices.Contains(config.ValidProviderNames[kind], want) {
			t.Errorf("ValidProviderNames[%q] should contain %q", kind, want)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "kikai.yaml")
	if err := os.WriteFile(path, []byte("realtime:\n  voice: shimmer\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Realtime.Voice != "shimmer" {
		t.Errorf("voice: got %q", cfg.Realtime.Voice)
	}
	if cfg.Audio.SessionRate != 24000 {
		t.Errorf("defaults not applied: session_rate=%d", cfg.Audio.SessionRate)
	}
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()
	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("LoadDotEnv: %v", err)
	}
}

func TestLoadDotEnv_SetsUnsetVariables(t *testing.T) {
	const key = "KIKAI_TEST_DOTENV_VALUE"
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(key, "")
	os.Unsetenv(key)

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want from-file", key, got)
	}
}
