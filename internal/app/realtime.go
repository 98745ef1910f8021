package app

import (
	"fmt"

	"github.com/MrWong99/kikai/internal/config"
	"github.com/MrWong99/kikai/internal/resilience"
	"github.com/MrWong99/kikai/pkg/provider/s2s"
)

// NewRealtime creates the realtime provider configured in cfg. When
// realtime.fallback_models is set, the primary model and every fallback model
// are wrapped in a [resilience.S2SFallback] and tried in order.
func NewRealtime(reg *config.Registry, cfg *config.Config) (s2s.Provider, error) {
	entry := cfg.Providers.S2S
	primary, err := reg.CreateS2S(entry)
	if err != nil {
		return nil, fmt.Errorf("app: create s2s provider: %w", err)
	}
	if len(cfg.Realtime.FallbackModels) == 0 {
		return primary, nil
	}

	f := resilience.NewS2SFallback(primary, entry.Model, resilience.FallbackConfig{})
	for _, model := range cfg.Realtime.FallbackModels {
		fb := entry
		fb.Model = model
		p, err := reg.CreateS2S(fb)
		if err != nil {
			return nil, fmt.Errorf("app: create s2s fallback %q: %w", model, err)
		}
		f.AddFallback(model, p)
	}
	return f, nil
}
