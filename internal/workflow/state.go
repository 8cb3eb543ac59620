// Package workflow drives an archive push through its dry-run, conflict
// review and commit phases.
//
// Transition is a pure function over State; Workflow owns a State, runs the
// remote calls that Transition asks for, and publishes notifications.
package workflow

import (
	"errors"
	"fmt"

	"github.com/bundlepush/bundlepush/internal/archive"
	"github.com/bundlepush/bundlepush/internal/changes"
	"github.com/bundlepush/bundlepush/pkg/protocol"
)

// Phase is where a push session currently is.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReady
	PhaseChecking
	PhaseConflictReview
	PhaseCommitting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReady:
		return "ready"
	case PhaseChecking:
		return "checking"
	case PhaseConflictReview:
		return "conflict-review"
	case PhaseCommitting:
		return "committing"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// InFlight reports whether a remote call is outstanding in this phase.
func (p Phase) InFlight() bool {
	return p == PhaseChecking || p == PhaseCommitting
}

// Mode selects whether a push is preceded by a dry-run.
type Mode int

const (
	// ModeChecked runs a dry-run and stops on blocking changes.
	ModeChecked Mode = iota
	// ModeForced commits without any check. Only set by the operator.
	ModeForced
)

func (m Mode) String() string {
	if m == ModeForced {
		return "forced"
	}
	return "checked"
}

// Effect is the side effect the caller must perform after a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectDryRun
	EffectCommit
	EffectReview
	EffectNotifySuccess
	EffectNotifyFailure
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectDryRun:
		return "dry-run"
	case EffectCommit:
		return "commit"
	case EffectReview:
		return "review"
	case EffectNotifySuccess:
		return "notify-success"
	case EffectNotifyFailure:
		return "notify-failure"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

var (
	// ErrNoArchive is returned when pushing before an archive is loaded.
	ErrNoArchive = errors.New("no archive loaded")
	// ErrBusy is returned while a remote call is in flight.
	ErrBusy = errors.New("a push is already in progress")
	// ErrForceRequired is returned when re-pushing from conflict review
	// without the force override.
	ErrForceRequired = errors.New("remote has blocking changes; force override required")
	// ErrSessionClosed is returned when the session was closed while a call
	// was in flight; the late response is discarded.
	ErrSessionClosed = errors.New("session closed during push")
	// ErrInvalidTransition is returned for events that make no sense in the
	// current phase.
	ErrInvalidTransition = errors.New("invalid transition")
)

// State is a push session. The zero value is an idle session.
type State struct {
	Phase   Phase
	Mode    Mode
	Archive *archive.Archive

	// Blocking and Rendered are set only in PhaseConflictReview.
	Blocking []protocol.ChangeRecord
	Rendered string

	// Err is the cause of the most recent failed call, cleared on success.
	Err error

	resume Phase
}

// Event is an input to Transition.
type Event interface {
	event()
}

// Loaded reports that an archive was read into memory.
type Loaded struct{ Archive *archive.Archive }

// SetMode is the operator toggling the force override.
type SetMode struct{ Mode Mode }

// Push is the operator pressing the push control.
type Push struct{}

// DryRunSucceeded carries the classified dry-run result.
type DryRunSucceeded struct{ Changes changes.Classified }

// CommitSucceeded reports that the remote applied the archive.
type CommitSucceeded struct{}

// CallFailed reports that the in-flight remote call failed.
type CallFailed struct{ Err error }

// Reset collapses a finished session back to idle.
type Reset struct{}

// Close is the operator dismissing the session.
type Close struct{}

func (Loaded) event() {}
func (SetMode) event() {}
func (Push) event() {}
func (DryRunSucceeded) event() {}
func (CommitSucceeded) event() {}
func (CallFailed) event() {}
func (Reset) event() {}
func (Close) event() {}

// Transition computes the next state for ev and the effect to perform.
// On error the returned state is s unchanged and the effect is EffectNone.
func Transition(s State, ev Event) (State, Effect, error) {
	switch e := ev.(type) {
	case Close:
		return State{}, EffectNone, nil

	case Loaded:
		if s.Phase.InFlight() {
			return s, EffectNone, ErrBusy
		}
		if s.Phase != PhaseIdle && s.Phase != PhaseReady {
			return s, EffectNone, invalid(s, ev)
		}
		if e.Archive == nil {
			return s, EffectNone, nil
		}
		next := s
		next.Phase = PhaseReady
		next.Archive = e.Archive
		next.Err = nil
		return next, EffectNone, nil

	case SetMode:
		if s.Phase.InFlight() {
			return s, EffectNone, ErrBusy
		}
		if s.Phase == PhaseDone {
			return s, EffectNone, invalid(s, ev)
		}
		next := s
		next.Mode = e.Mode
		return next, EffectNone, nil

	case Push:
		return push(s)

	case DryRunSucceeded:
		if s.Phase != PhaseChecking {
			return s, EffectNone, invalid(s, ev)
		}
		next := s
		next.Err = nil
		if !e.Changes.HasBlocking() {
			next.Phase = PhaseCommitting
			next.resume = PhaseReady
			return next, EffectCommit, nil
		}
		next.Phase = PhaseConflictReview
		next.Blocking = e.Changes.Blocking
		next.Rendered = changes.Render(e.Changes.Blocking)
		return next, EffectReview, nil

	case CommitSucceeded:
		if s.Phase != PhaseCommitting {
			return s, EffectNone, invalid(s, ev)
		}
		next := s
		next.Phase = PhaseDone
		next.Err = nil
		return next, EffectNotifySuccess, nil

	case CallFailed:
		if !s.Phase.InFlight() {
			return s, EffectNone, invalid(s, ev)
		}
		next := s
		next.Phase = s.resume
		next.Err = e.Err
		return next, EffectNotifyFailure, nil

	case Reset:
		if s.Phase != PhaseDone {
			return s, EffectNone, invalid(s, ev)
		}
		return State{}, EffectNone, nil

	default:
		return s, EffectNone, invalid(s, ev)
	}
}

func push(s State) (State, Effect, error) {
	switch s.Phase {
	case PhaseIdle:
		return s, EffectNone, ErrNoArchive
	case PhaseChecking, PhaseCommitting:
		return s, EffectNone, ErrBusy
	case PhaseReady:
		next := s
		next.resume = PhaseReady
		if s.Mode == ModeForced {
			next.Phase = PhaseCommitting
			return next, EffectCommit, nil
		}
		next.Phase = PhaseChecking
		return next, EffectDryRun, nil
	case PhaseConflictReview:
		if s.Mode != ModeForced {
			return s, EffectNone, ErrForceRequired
		}
		next := s
		next.resume = PhaseConflictReview
		next.Phase = PhaseCommitting
		return next, EffectCommit, nil
	default:
		return s, EffectNone, invalid(s, Push{})
	}
}

// CanPush mirrors whether the push control is enabled.
func (s State) CanPush() bool {
	switch s.Phase {
	case PhaseReady:
		return s.Archive != nil
	case PhaseConflictReview:
		return s.Mode == ModeForced
	default:
		return false
	}
}

func invalid(s State, ev Event) error {
	return fmt.Errorf("%w: %T in phase %s", ErrInvalidTransition, ev, s.Phase)
}
