package correction

import (
	"errors"
	"time"
)

// State is the phase of a correction run.
type State string

const (
	StateIdle       State = "idle"
	StateInspecting State = "inspecting"
	StateCorrecting State = "correcting"
	StateSettled    State = "settled"
	StateFailed     State = "failed"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("correction: invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateIdle:       {StateInspecting},
	StateInspecting: {StateCorrecting, StateSettled, StateFailed},
	StateCorrecting: {StateInspecting, StateSettled, StateFailed},
	StateSettled:    {StateIdle},
	StateFailed:     {StateIdle},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Action is one corrective command kind.
type Action string

const (
	ActionUnpause        Action = "unpause"
	ActionClearErrors    Action = "clear_errors"
	ActionCalibrate      Action = "calibrate"
	ActionClearBuffer    Action = "clear_buffer"
	ActionSwitchLanguage Action = "switch_language"
)

// ActionResult records one issued command.
type ActionResult struct {
	Action   Action `json:"action"`
	Applied  bool   `json:"applied"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Run is the report of one engine invocation.
type Run struct {
	Mode        string         `json:"mode"`
	State       State          `json:"state"`
	Transitions []Transition   `json:"transitions"`
	Actions     []ActionResult `json:"actions"`
	Started     time.Time      `json:"started"`
	Finished    time.Time      `json:"finished"`
	Error       string         `json:"error,omitempty"`
}

func newRun(mode string) *Run {
	return &Run{Mode: mode, State: StateIdle, Started: time.Now()}
}

func (r *Run) transition(to State, reason string) error {
	if r.State == to {
		return nil
	}
	if !CanTransition(r.State, to) {
		return ErrInvalidTransition
	}
	r.Transitions = append(r.Transitions, Transition{
		From:      r.State,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	r.State = to
	return nil
}

// Applied reports whether any command in the run took effect.
func (r *Run) Applied() bool {
	for _, a := range r.Actions {
		if a.Applied {
			return true
		}
	}
	return false
}

func (r Run) clone() Run {
	r.Transitions = append([]Transition(nil), r.Transitions...)
	r.Actions = append([]ActionResult(nil), r.Actions...)
	return r
}
