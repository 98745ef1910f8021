// Package conversation implements the turn-taking core of a voice session: the
// session state machine, the barge-in orchestrator that ties the audio engine,
// the realtime session and the wake-word listener together, and the exit
// phrase policy.
package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// State is the conversation state shown to the user and used to gate the
// local wake-word path.
type State int

const (
	// StateIdle means no conversation is active.
	StateIdle State = iota

	// StateListening means the session waits for the user to speak.
	StateListening

	// StateProcessing means the user spoke and a reply is pending.
	StateProcessing

	// StateSpeaking means agent audio is playing.
	StateSpeaking

	// StateError means the session hit an unrecoverable error.
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Code returns the small integer code the display renders.
func (s State) Code() int { return int(s) }

// transitions lists the legal targets for each state.
var transitions = map[State][]State{
	StateIdle:       {StateListening, StateError},
	StateListening:  {StateProcessing, StateError},
	StateProcessing: {StateSpeaking, StateError},
	StateSpeaking:   {StateListening, StateProcessing, StateError},
	StateError:      {StateIdle, StateListening},
}

// ErrIllegalTransition is matched by every [TransitionError].
var ErrIllegalTransition = errors.New("conversation: illegal state transition")

// TransitionError reports a refused transition.
type TransitionError struct {
	From    State
	To      State
	Allowed []State
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = s.String()
	}
	return fmt.Sprintf("conversation: illegal transition %s → %s (allowed: %s)", e.From, e.To, strings.Join(names, ", "))
}

// Unwrap returns [ErrIllegalTransition].
func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// CanTransition reports whether from → to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the legal targets from s.
func AllowedTargets(s State) []State {
	out := make([]State, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// Machine holds the current [State]. It is owned by the orchestrator loop and
// is not safe for concurrent use.
type Machine struct {
	state    State
	onChange func(from, to State)
}

// NewMachine returns a Machine in the given initial state. onChange, if
// non-nil, is called after every accepted transition.
func NewMachine(initial State, onChange func(from, to State)) *Machine {
	return &Machine{state: initial, onChange: onChange}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Transition moves to the target state if the move is legal. An illegal move
// leaves the state unchanged, is logged with the legal targets and returns a
// *TransitionError. Transitioning to the current state is not a move and is
// treated as illegal like any other pair missing from the table.
func (m *Machine) Transition(to State) error {
	from := m.state
	if !CanTransition(from, to) {
		err := &TransitionError{From: from, To: to, Allowed: AllowedTargets(from)}
		slog.Warn("conversation: rejected state transition",
			"from", from.String(),
			"to", to.String(),
			"allowed", err.Allowed,
		)
		return err
	}
	m.state = to
	slog.Debug("conversation: state transition", "from", from.String(), "to", to.String())
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
