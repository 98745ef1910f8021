package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/kikai/pkg/audio"
	"github.com/MrWong99/kikai/pkg/provider/s2s"
	"github.com/MrWong99/kikai/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// WakeWordFactory builds a detector from its provider entry and the keyword
// settings.
type WakeWordFactory func(ProviderEntry, WakeWordConfig) (wakeword.Detector, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	s2s      map[string]func(ProviderEntry) (s2s.Provider, error)
	wakeword map[string]WakeWordFactory
	audio    map[string]func(ProviderEntry) (audio.Host, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s:      make(map[string]func(ProviderEntry) (s2s.Provider, error)),
		wakeword: make(map[string]WakeWordFactory),
		audio:    make(map[string]func(ProviderEntry) (audio.Host, error)),
	}
}

// RegisterS2S registers an S2S provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterS2S(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s[name] = factory
}

// RegisterWakeWord registers a wake-word detector factory under name.
func (r *Registry) RegisterWakeWord(name string, factory WakeWordFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakeword[name] = factory
}

// RegisterAudio registers an audio host factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Host, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateS2S instantiates an S2S provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.s2s[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: s2s/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateWakeWord instantiates a detector using the factory registered under entry.Name.
func (r *Registry) CreateWakeWord(entry ProviderEntry, cfg WakeWordConfig) (wakeword.Detector, error) {
	r.mu.RLock()
	factory, ok := r.wakeword[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wakeword/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, cfg)
}

// CreateAudio instantiates an audio host using the factory registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Host, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
