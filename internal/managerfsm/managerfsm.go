/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package managerfsm implements the upper-tier hierarchical state machine
// that manages playlist/pipeline lifecycle: inited through starting,
// running, and the restarting/stopping/quitting submachines down to the
// terminal quitted state. Like graphfsm, it holds no thread of its own —
// internal/manager feeds events into Handle one at a time.
package managerfsm

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/managerops"
)

// State is a top-level Manager FSM state.
type State int

const (
	StateInited State = iota
	StateStarting
	StateRunning
	StateRestarting
	StateStopping
	StateStopped
	StateQuitting
	StateQuitted
)

func (s State) String() string {
	switch s {
	case StateInited:
		return "inited"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateQuitting:
		return "quitting"
	default:
		return "quitted"
	}
}

// StartingSubstate is the "starting" sub-machine's internal state.
type StartingSubstate int

const (
	SubLoadingGraph StartingSubstate = iota
	SubExecutingGraph
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EvStart EventKind = iota
	EvNext
	EvPrev
	EvPause
	EvVolUp
	EvVolDown
	EvVol
	EvMute
	EvStop
	EvQuit
	EvErr

	// Feedback-originated: posted by internal/manager's graphfsm.Feedback
	// implementation, one per Graph notification.
	EvGraphLoaded
	EvGraphExecd
	EvGraphPaused
	EvGraphUnpaused
	EvGraphUnloaded // covers both graph_stopped_evt and graph_unlded_evt — see dispatch
	EvGraphEndOfPlay
	EvGraphVolume
	EvGraphMetadata
)

// Event is the tagged union Handle consumes.
type Event struct {
	Kind EventKind

	Fatal   bool // EvErr
	ErrCode managerops.ErrorCode
	ErrMsg  string // EvErr

	VolStep int     // EvVolUp/EvVolDown carry a fixed step; field unused, kept for symmetry
	VolAbs  float64 // EvVol
}

// FSM is the Manager's state machine.
type FSM struct {
	state      State
	startSub   StartingSubstate
	deferred   []Event
	terminated bool

	ops    *managerops.Ops
	logger zerolog.Logger
}

// New constructs an FSM in its initial "inited" state.
func New(ops *managerops.Ops, logger zerolog.Logger) *FSM {
	return &FSM{ops: ops, logger: logger.With().Str("component", "manager_fsm").Logger()}
}

// State returns the current top-level state, for tests and diagnostics.
func (f *FSM) State() State { return f.state }

// Terminated reports whether the FSM has reached the quitted terminal
// state. internal/manager uses this to decide whether its command queue
// should keep accepting events.
func (f *FSM) Terminated() bool { return f.terminated }

// isSubmachine reports whether the current state defers most user events.
func (f *FSM) isSubmachine() bool {
	switch f.state {
	case StateStarting, StateRestarting, StateStopping, StateQuitting:
		return true
	default:
		return false
	}
}

// isDeferrable is the set of user-facing events a submachine state queues
// rather than acts on immediately. quit_evt and err_evt are deliberately
// excluded — see the deferral-policy note in DESIGN.md: the top-level
// transition table gives both an explicit escape transition out of
// "starting", which a queued/deferred event could not produce. err_evt is
// handled in every state; quit_evt arriving in "restarting" or "stopping"
// is queued by Handle and acted on once that state is left.
func isDeferrable(kind EventKind) bool {
	switch kind {
	case EvStart, EvNext, EvPrev, EvPause, EvVolUp, EvVolDown, EvVol, EvMute, EvStop:
		return true
	default:
		return false
	}
}

// Handle injects one event into the FSM.
func (f *FSM) Handle(ctx context.Context, evt Event) {
	if f.terminated {
		return
	}

	if evt.Kind == EvErr {
		f.handleErr(ctx, evt)
		return
	}

	if f.isSubmachine() && (isDeferrable(evt.Kind) ||
		(evt.Kind == EvQuit && (f.state == StateRestarting || f.state == StateStopping))) {
		f.deferred = append(f.deferred, evt)
		return
	}

	f.dispatch(ctx, evt)
}

// finishQuitted reports a fatal error through the termination callback and
// drives the FSM straight to its terminal quitted state, regardless of
// which state the failure occurred in.
func (f *FSM) finishQuitted(code managerops.ErrorCode, msg string) {
	f.ops.DoReportFatalError(code, msg)
	f.state = StateQuitted
	f.terminated = true
}

func (f *FSM) handleErr(ctx context.Context, evt Event) {
	if evt.Fatal {
		f.finishQuitted(evt.ErrCode, evt.ErrMsg)
		return
	}
	switch f.state {
	case StateStarting, StateRunning:
		// The table names this transition "-> restarting", keyed on
		// graph_unlded_evt for its exit. That event never arrives here:
		// InjectFatal has already torn the originating Graph down
		// synchronously before GraphError reached us. Visit restarting
		// to match the table, then drive the restart inline instead of
		// waiting on a notification that will never come.
		f.state = StateRestarting
		f.ops.DoEraseFailedEntry()
		f.restartFromLoad(ctx)
	default:
		// a non-fatal error outside starting/running has nothing to
		// restart from; log and drop.
		f.logger.Warn().Str("error_code", evt.ErrCode.String()).Str("state", f.state.String()).
			Msg("non-fatal error ignored outside starting/running")
	}
}

// restartFromLoad issues the next load and either resumes starting or, if
// the playlist has nothing left and isn't looping, finishes cleanly.
func (f *FSM) restartFromLoad(ctx context.Context) {
	f.ops.DoLoad()
	if f.ops.EndOfPlay() {
		f.ops.DoEndOfPlay()
		f.state = StateQuitted
		f.terminated = true
		return
	}
	f.startSub = SubLoadingGraph
	f.state = StateStarting
	f.redeliverDeferred(ctx)
}

func (f *FSM) dispatch(ctx context.Context, evt Event) {
	switch f.state {
	case StateInited:
		if evt.Kind == EvStart {
			f.ops.DoLoad()
			f.startSub = SubLoadingGraph
			f.state = StateStarting
		}

	case StateStarting:
		f.handleStarting(ctx, evt)

	case StateRunning:
		f.handleRunning(ctx, evt)

	case StateRestarting:
		if evt.Kind == EvGraphUnloaded {
			f.restartFromLoad(ctx)
		}

	case StateStopping:
		if evt.Kind == EvGraphUnloaded {
			f.state = StateStopped
			f.redeliverDeferred(ctx)
		}

	case StateStopped:
		switch evt.Kind {
		case EvStart:
			f.ops.DoExecute()
			f.startSub = SubExecutingGraph
			f.state = StateStarting
		case EvQuit:
			f.ops.DoUnload()
			f.state = StateQuitting
		}

	case StateQuitting:
		if evt.Kind == EvGraphUnloaded {
			f.state = StateQuitted
			f.terminated = true
		}

	case StateQuitted:
		// terminal; nothing to do
	}
}

func (f *FSM) handleStarting(ctx context.Context, evt Event) {
	switch evt.Kind {
	case EvGraphLoaded:
		if f.startSub == SubLoadingGraph {
			f.ops.DoExecute()
			f.startSub = SubExecutingGraph
		}
	case EvGraphExecd:
		if f.startSub == SubExecutingGraph {
			f.state = StateRunning
			f.redeliverDeferred(ctx)
		}
	case EvQuit:
		f.ops.DoUnload()
		f.state = StateQuitting
	}
}

func (f *FSM) handleRunning(ctx context.Context, evt Event) {
	switch evt.Kind {
	case EvNext:
		f.ops.DoNext()
	case EvPrev:
		f.ops.DoPrev()
	case EvPause:
		f.ops.DoPause()
	case EvVolUp:
		f.ops.DoVolUp()
	case EvVolDown:
		f.ops.DoVolDown()
	case EvVol:
		f.ops.DoVol(evt.VolAbs)
	case EvMute:
		f.ops.DoMute()
	case EvStop:
		f.ops.DoStop()
		f.state = StateStopping
	case EvQuit:
		f.ops.DoUnload()
		f.state = StateQuitting
	case EvGraphEndOfPlay:
		f.state = StateRestarting
	}
}

// redeliverDeferred re-presents every event queued while a submachine was
// active, in FIFO order, now that the submachine has exited. Re-dispatch
// goes back through Handle so an event that lands in another submachine
// state is deferred again rather than dropped.
func (f *FSM) redeliverDeferred(ctx context.Context) {
	pending := f.deferred
	f.deferred = nil
	for _, e := range pending {
		f.Handle(ctx, e)
	}
}

// OpFailed reports whether the action just run by Handle left an error
// recorded and the FSM has not already reached quitted. internal/manager
// calls this after every Handle to decide whether to invoke InjectFatal —
// the generic post-dispatch fatal check, mirroring internal/graphfsm's.
// Without it, a DoLoad/DoExecute failure (empty playlist, builder.Build
// error, Graph.Load/Execute error) left the FSM parked in starting forever,
// since none of those ops themselves drive a state transition on failure.
func (f *FSM) OpFailed() bool {
	return !f.terminated && !f.ops.LastOpSucceeded()
}

// InjectFatal reports the error left behind by the op Handle just ran
// through the same fatal path a fatal err_evt takes, regardless of which
// state or starting sub-state the failure occurred in.
func (f *FSM) InjectFatal() {
	if f.terminated {
		return
	}
	f.finishQuitted(f.ops.InternalError(), f.ops.ErrorMessage())
}

// LastErrorCode exposes the error code behind OpFailed, for callers that
// need to label a failure (metrics, logs) rather than just react to it.
func (f *FSM) LastErrorCode() managerops.ErrorCode {
	return f.ops.InternalError()
}
