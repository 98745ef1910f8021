// Command kikai is the voice assistant. By default it runs the wake-word
// daemon, which launches itself in conversation mode for every detection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/kikai/internal/app"
	"github.com/MrWong99/kikai/internal/config"
	"github.com/MrWong99/kikai/internal/daemon"
	"github.com/MrWong99/kikai/internal/display"
	"github.com/MrWong99/kikai/internal/observe"
	"github.com/MrWong99/kikai/pkg/audio"
	"github.com/MrWong99/kikai/pkg/audio/portaudio"
	"github.com/MrWong99/kikai/pkg/provider/s2s"
	oais2s "github.com/MrWong99/kikai/pkg/provider/s2s/openai"
	"github.com/MrWong99/kikai/pkg/provider/wakeword"
	"github.com/MrWong99/kikai/pkg/provider/wakeword/porcupine"
)

const (
	modeDaemon       = "daemon"
	modeConversation = "conversation"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	envPath := flag.String("env", ".env", "path to a dotenv file loaded before the config")
	mode := flag.String("mode", modeDaemon, "run mode: daemon or conversation")
	flag.Parse()

	if *mode != modeDaemon && *mode != modeConversation {
		fmt.Fprintf(os.Stderr, "kikai: unknown mode %q (want %s or %s)\n", *mode, modeDaemon, modeConversation)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "kikai: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kikai: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kikai: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel).With("mode", *mode))
	slog.Info("kikai starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"barge_in", cfg.Conversation.BargeIn,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "kikai", Mode: *mode})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if *mode == modeConversation {
		return runConversation(ctx, cfg, reg)
	}
	printStartupSummary(cfg)
	return runDaemon(ctx, cfg, reg, *configPath, *envPath)
}

// ── Modes ─────────────────────────────────────────────────────────────────────

// runDaemon listens for the wake word and launches this binary in
// conversation mode for every detection.
func runDaemon(ctx context.Context, cfg *config.Config, reg *config.Registry, configPath, envPath string) int {
	det, err := reg.CreateWakeWord(cfg.Providers.WakeWord, cfg.WakeWord)
	if err != nil {
		slog.Error("failed to create wake-word detector", "err", err)
		return 1
	}

	args := []string{"-mode", modeConversation, "-env", envPath}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	launcher, err := daemon.SelfLauncher(args...)
	if err != nil {
		slog.Error("failed to prepare launcher", "err", err)
		_ = det.Release()
		return 1
	}

	metrics := observe.DefaultMetrics()
	d, err := daemon.New(cfg, daemon.Deps{
		OpenHost: func() (audio.Host, error) { return reg.CreateAudio(cfg.Providers.Audio) },
		Detector: det,
		Launcher: launcher,
	}, daemon.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise daemon", "err", err)
		_ = det.Release()
		return 1
	}

	if addr := cfg.Server.ListenAddr; addr != "" {
		go func() {
			if err := daemon.Serve(ctx, addr, daemon.StatusHandler(d, metrics)); err != nil {
				slog.Error("status server error", "err", err)
			}
		}()
	}

	slog.Info("daemon ready; say the wake word or press Ctrl+C to shut down")
	if err := d.Run(ctx); err != nil {
		slog.Error("daemon error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runConversation runs a single conversation session in this process.
func runConversation(ctx context.Context, cfg *config.Config, reg *config.Registry) int {
	realtime, err := app.NewRealtime(reg, cfg)
	if err != nil {
		slog.Error("failed to create realtime provider", "err", err)
		return 1
	}

	host, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		slog.Error("failed to open audio host", "err", err)
		return 1
	}
	defer func() {
		if err := host.Close(); err != nil {
			slog.Warn("audio host close error", "err", err)
		}
	}()

	providers := &app.Providers{S2S: realtime, Audio: host}
	if cfg.Conversation.BargeIn == config.BargeInWakeWord {
		det, err := reg.CreateWakeWord(cfg.Providers.WakeWord, cfg.WakeWord)
		if err != nil {
			slog.Warn("wake-word barge-in unavailable", "err", err)
		} else {
			providers.WakeWord = det
		}
	}

	application, err := app.New(cfg, providers,
		app.WithDisplay(display.NewConsole(os.Stdout, display.WithAgentName(cfg.Conversation.AgentName))),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		if providers.WakeWord != nil {
			_ = providers.WakeWord.Release()
		}
		return 1
	}
	defer application.Close()

	reason, err := application.Run(ctx)
	if err != nil {
		slog.Error("conversation error", "session_id", application.SessionID(), "err", err)
		return 1
	}
	slog.Info("conversation finished", "session_id", application.SessionID(), "reason", reason)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with kikai
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("openai-realtime: api key is empty (set OPENAI_API_KEY)")
		}
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	reg.RegisterWakeWord("porcupine", func(entry config.ProviderEntry, ww config.WakeWordConfig) (wakeword.Detector, error) {
		return porcupine.New(wakeword.Config{
			AccessKey:    entry.APIKey,
			KeywordPaths: ww.KeywordPaths,
			ModelPath:    ww.ModelPath,
			Sensitivity:  ww.Sensitivity,
		})
	})

	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Host, error) {
		return portaudio.New()
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Kikai startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Realtime", cfg.Providers.S2S.Name+" / "+cfg.Providers.S2S.Model)
	printRow("Voice", cfg.Realtime.Voice)
	printRow("Wake word", cfg.Providers.WakeWord.Name)
	printRow("Audio", cfg.Providers.Audio.Name)
	printRow("Barge-in", string(cfg.Conversation.BargeIn))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	fmt.Println(formatRow(label, value))
}

// formatRow renders one summary row. value is cut and padded by terminal
// columns so wide runes keep the box aligned.
func formatRow(label, value string) string {
	const cols = 19
	if value == "" {
		value = "(not configured)"
	}
	value = display.Truncate(value, cols)
	pad := strings.Repeat(" ", cols-display.StringWidth(value))
	return fmt.Sprintf("║  %-12s    : %s%s ║", label, value, pad)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
