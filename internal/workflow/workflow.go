package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/bundlepush/bundlepush/internal/archive"
	"github.com/bundlepush/bundlepush/internal/changes"
	"github.com/bundlepush/bundlepush/internal/events"
	"github.com/bundlepush/bundlepush/internal/logging"
	"github.com/bundlepush/bundlepush/internal/metrics"
	"github.com/bundlepush/bundlepush/pkg/protocol"
)

// Remote is the versioning API. *client.Client implements it.
type Remote interface {
	DryRun(ctx context.Context, payload []byte) (protocol.DryRunResult, error)
	Commit(ctx context.Context, payload []byte) error
}

// Notifier receives operator notifications. *events.Broadcaster implements it.
type Notifier interface {
	Publish(events.Event)
}

// Outcome summarizes a Push call.
type Outcome struct {
	// Phase is the session phase after the push settled.
	Phase Phase
	// Committed is true when the remote applied the archive.
	Committed bool
	// Blocking and Rendered describe the conflict when Phase is
	// PhaseConflictReview.
	Blocking []protocol.ChangeRecord
	Rendered string
}

// Workflow owns one push session. At most one remote call is in flight at a
// time; Push, Load and SetForce are rejected with ErrBusy while it is.
type Workflow struct {
	remote   Remote
	notifier Notifier

	mu    sync.Mutex
	state State
	busy  bool
	epoch uint64
}

// New creates an idle workflow.
func New(remote Remote, notifier Notifier) *Workflow {
	return &Workflow{remote: remote, notifier: notifier}
}

// Snapshot returns a copy of the current state.
func (w *Workflow) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// CanPush reports whether Push would be accepted right now.
func (w *Workflow) CanPush() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.busy && w.state.CanPush()
}

// Load installs an archive. A nil archive (nothing selected) is a no-op.
func (w *Workflow) Load(a *archive.Archive) error {
	return w.apply(Loaded{Archive: a})
}

// SetForce turns the force override on or off. It is the only way to enter
// ModeForced.
func (w *Workflow) SetForce(on bool) error {
	mode := ModeChecked
	if on {
		mode = ModeForced
	}
	return w.apply(SetMode{Mode: mode})
}

// Close discards the session. A call already in flight runs to completion,
// but its response is dropped and Push returns ErrSessionClosed; the busy
// gate stays shut until then.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.epoch++
	w.state, _, _ = Transition(w.state, Close{})
}

func (w *Workflow) apply(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return ErrBusy
	}
	next, _, err := Transition(w.state, ev)
	if err != nil {
		return err
	}
	w.state = next
	return nil
}

// Push starts a push and runs it until it settles: committed, stopped for
// conflict review, or failed back to the previous phase. A failed remote call
// is returned as the *client.SyncError that caused it.
func (w *Workflow) Push(ctx context.Context) (Outcome, error) {
	log := logging.WithContext(ctx)

	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return Outcome{}, ErrBusy
	}
	next, effect, err := Transition(w.state, Push{})
	if err != nil {
		out := w.outcomeLocked()
		w.mu.Unlock()
		return out, err
	}
	w.state = next
	w.busy = true
	epoch := w.epoch
	a := next.Archive
	mode := next.Mode
	w.mu.Unlock()

	log.Info("push started",
		logging.String("archive", a.Name),
		logging.Int("bytes", a.Size()),
		logging.String("mode", mode.String()),
	)

	for {
		var ev Event
		if effect == EffectDryRun {
			ev = w.dryRun(ctx, a)
		} else {
			ev = w.commit(ctx, a)
		}

		w.mu.Lock()
		if w.epoch != epoch {
			w.busy = false
			w.mu.Unlock()
			log.Warn("session closed while a call was in flight; response discarded",
				logging.String("archive", a.Name),
				logging.String("response", fmt.Sprintf("%T", ev)),
			)
			metrics.RecordPushOutcome(metrics.OutcomeAborted)
			return Outcome{Phase: PhaseIdle}, ErrSessionClosed
		}
		next, effect, err = Transition(w.state, ev)
		if err != nil {
			// Unreachable while the busy gate holds.
			w.busy = false
			w.mu.Unlock()
			return Outcome{}, err
		}
		w.state = next
		if effect == EffectDryRun || effect == EffectCommit {
			w.mu.Unlock()
			continue
		}
		out, notice, err := w.settleLocked(effect, a)
		w.mu.Unlock()

		w.report(ctx, effect, a, out, err)
		if w.notifier != nil {
			w.notifier.Publish(notice)
		}
		return out, err
	}
}

func (w *Workflow) dryRun(ctx context.Context, a *archive.Archive) Event {
	result, err := w.remote.DryRun(ctx, a.Bytes())
	if err != nil {
		return CallFailed{Err: err}
	}

	classified := changes.Classify(result)
	if n := len(classified.Unknown); n > 0 {
		logging.WithContext(ctx).Warn("dry-run reported unknown change actions; treating them as non-blocking",
			logging.Int("count", n),
			logging.String("first", string(classified.Unknown[0].Action)),
		)
	}
	metrics.SetBlockingChanges(len(classified.Blocking))
	logging.WithContext(ctx).Debug("dry-run classified",
		logging.Int("changes", len(classified.All)),
		logging.Int("blocking", len(classified.Blocking)),
	)
	return DryRunSucceeded{Changes: classified}
}

func (w *Workflow) commit(ctx context.Context, a *archive.Archive) Event {
	if err := w.remote.Commit(ctx, a.Bytes()); err != nil {
		return CallFailed{Err: err}
	}
	return CommitSucceeded{}
}

// settleLocked applies the terminal effect of a push and releases the busy
// gate. The caller holds w.mu and has checked the epoch under it.
func (w *Workflow) settleLocked(effect Effect, a *archive.Archive) (Outcome, events.Event, error) {
	var (
		ev  events.Event
		err error
	)
	switch effect {
	case EffectNotifySuccess:
		w.state, _, _ = Transition(w.state, Reset{})
		ev = events.Event{Type: events.EventPushed, Archive: a.Name, Message: "Changes pushed successfully!"}
	case EffectReview:
		ev = events.Event{
			Type:     events.EventConflict,
			Archive:  a.Name,
			Message:  "Remote has changes that are not synced to your environment",
			Blocking: len(w.state.Blocking),
		}
	case EffectNotifyFailure:
		err = w.state.Err
		ev = events.Event{Type: events.EventFailed, Archive: a.Name, Message: "Push failed", Error: errString(err)}
	}
	out := w.outcomeLocked()
	out.Committed = effect == EffectNotifySuccess
	w.busy = false
	return out, ev, err
}

// report records the push outcome in metrics and logs.
func (w *Workflow) report(ctx context.Context, effect Effect, a *archive.Archive, out Outcome, err error) {
	log := logging.WithContext(ctx)
	switch effect {
	case EffectNotifySuccess:
		metrics.RecordPushOutcome(metrics.OutcomePushed)
		log.Info("archive pushed", logging.String("archive", a.Name))
	case EffectReview:
		metrics.RecordPushOutcome(metrics.OutcomeConflict)
		log.Info("push halted for conflict review",
			logging.String("archive", a.Name),
			logging.Int("blocking", len(out.Blocking)),
		)
	case EffectNotifyFailure:
		metrics.RecordPushOutcome(metrics.OutcomeFailed)
		log.Error("push failed",
			logging.String("archive", a.Name),
			logging.String("phase", out.Phase.String()),
			logging.Err(err),
		)
	}
}

func (w *Workflow) outcomeLocked() Outcome {
	return Outcome{
		Phase:    w.state.Phase,
		Blocking: w.state.Blocking,
		Rendered: w.state.Rendered,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
