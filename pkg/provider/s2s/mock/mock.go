// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled S2S sessions.
// Use Session to push inbound events and inspect which outbound methods were
// invoked by the orchestrator.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Type: s2s.EventResponseCreated})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/kikai/pkg/audio"
	"github.com/MrWong99/kikai/pkg/provider/s2s"
)

// Compile-time interface assertions.
var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*Session)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new default Session.
	Session s2s.SessionHandle

	// ConnectErrs are returned by consecutive Connect calls; once exhausted,
	// Connect succeeds.
	ConnectErrs []error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns the next scripted error or Session.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if n := len(p.ConnectCalls); n <= len(p.ConnectErrs) && p.ConnectErrs[n-1] != nil {
		return nil, p.ConnectErrs[n-1]
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns the number of Connect calls. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu sync.Mutex

	// EventsCh is returned by Events. NewSession creates a buffered channel.
	EventsCh chan s2s.Event

	// SendAudioErr, CancelErr, EnableErr and DisableErr are returned by the
	// corresponding methods.
	SendAudioErr error
	CancelErr    error
	EnableErr    error
	DisableErr   error

	// ErrResult is returned by Err.
	ErrResult error

	// SentAudio records every frame passed to SendAudio.
	SentAudio []audio.AudioFrame

	// CallCountCancel, CallCountEnable, CallCountDisable and CallCountClose
	// record method invocations.
	CallCountCancel  int
	CallCountEnable  int
	CallCountDisable int
	CallCountClose   int

	// Calls records the outbound method names in invocation order
	// ("SendAudio" excluded), e.g. {"DisableTurnDetection", "CancelResponse"}.
	Calls []string

	closeOnce sync.Once
}

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{EventsCh: make(chan s2s.Event, 256)}
}

// Emit pushes ev onto the events channel.
func (s *Session) Emit(ev s2s.Event) {
	s.EventsCh <- ev
}

// SendAudio implements s2s.SessionHandle.
func (s *Session) SendAudio(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SentAudio = append(s.SentAudio, frame)
	return s.SendAudioErr
}

// CancelResponse implements s2s.SessionHandle.
func (s *Session) CancelResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountCancel++
	s.Calls = append(s.Calls, "CancelResponse")
	return s.CancelErr
}

// EnableTurnDetection implements s2s.SessionHandle.
func (s *Session) EnableTurnDetection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountEnable++
	s.Calls = append(s.Calls, "EnableTurnDetection")
	return s.EnableErr
}

// DisableTurnDetection implements s2s.SessionHandle.
func (s *Session) DisableTurnDetection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountDisable++
	s.Calls = append(s.Calls, "DisableTurnDetection")
	return s.DisableErr
}

// Events implements s2s.SessionHandle.
func (s *Session) Events() <-chan s2s.Event { return s.EventsCh }

// Err implements s2s.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// Close implements s2s.SessionHandle. The events channel is closed once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		if s.EventsCh != nil {
			close(s.EventsCh)
		}
	})
	return nil
}

// Snapshot returns the call counters under lock.
func (s *Session) Snapshot() (cancels, enables, disables, sentAudio int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountCancel, s.CallCountEnable, s.CallCountDisable, len(s.SentAudio)
}
