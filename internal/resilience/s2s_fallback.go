package resilience

import (
	"context"
	"log/slog"

	"github.com/MrWong99/kikai/pkg/provider/s2s"
)

// S2SFallback implements [s2s.Provider] with failover across realtime
// backends. Only the handshake is covered; once a session is established its
// failures end the conversation like any other session error.
type S2SFallback struct {
	group *FallbackGroup[s2s.Provider]
}

// Compile-time interface assertion.
var _ s2s.Provider = (*S2SFallback)(nil)

// NewS2SFallback creates an [S2SFallback] with primary as the preferred
// backend.
func NewS2SFallback(primary s2s.Provider, primaryName string, cfg FallbackConfig) *S2SFallback {
	return &S2SFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional realtime backend.
func (f *S2SFallback) AddFallback(name string, p s2s.Provider) {
	f.group.AddFallback(name, p)
}

// Backends returns the backend names in the order they are tried.
func (f *S2SFallback) Backends() []string { return f.group.Names() }

// Connect opens a session on the first backend that accepts the handshake.
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	sess, name, err := Execute(f.group, func(p s2s.Provider) (s2s.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	if name != f.group.entries[0].name {
		slog.Info("realtime session opened on fallback backend", "backend", name)
	}
	return sess, nil
}
