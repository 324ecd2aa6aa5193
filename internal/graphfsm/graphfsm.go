/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package graphfsm implements the lower-tier hierarchical state machine that
// drives one OMX pipeline from load through configure/execute/pause/skip to
// unload, with nested sub-machines for "configuring" and "skipping". It
// holds no thread or queue of its own — internal/graph owns those and feeds
// events into Handle one at a time, strictly in arrival order.
package graphfsm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/collector"
	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/omx"
	"github.com/tizonia-go/tizonia/internal/playlist"
)

// State is a top-level Graph FSM state.
type State int

const (
	StateInited State = iota
	StateLoaded
	StateConfiguring
	StateConfig2Idle
	StateIdle2Exe
	StateExecuting
	StateSkipping
	StateExe2Pause
	StatePause
	StatePause2Exe
	StateExe2Idle
	StateIdle2Loaded
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateInited:
		return "inited"
	case StateLoaded:
		return "loaded"
	case StateConfiguring:
		return "configuring"
	case StateConfig2Idle:
		return "config2idle"
	case StateIdle2Exe:
		return "idle2exe"
	case StateExecuting:
		return "executing"
	case StateSkipping:
		return "skipping"
	case StateExe2Pause:
		return "exe2pause"
	case StatePause:
		return "pause"
	case StatePause2Exe:
		return "pause2exe"
	case StateExe2Idle:
		return "exe2idle"
	case StateIdle2Loaded:
		return "idle2loaded"
	default:
		return "unloaded"
	}
}

// ConfiguringSubstate is the "configuring" sub-machine's internal state.
type ConfiguringSubstate int

const (
	SubDisablingPorts ConfiguringSubstate = iota
	SubAwaitingPortDisabled
	SubProbing
	SubAwaitingPortSettings
)

// SkippingSubstate is the "skipping" sub-machine's internal state.
type SkippingSubstate int

const (
	SubToIdle SkippingSubstate = iota
	SubIdle2Loaded
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EvLoad EventKind = iota
	EvExecute
	EvPause
	EvSeek
	EvSkip
	EvVolumeStep
	EvVolume
	EvMute
	EvUnload
	EvOMX // wraps a collector.Event arriving from the OMX callback path
)

// Event is the tagged union Handle consumes. Only the fields relevant to
// Kind are meaningful.
type Event struct {
	Kind EventKind

	Raw      collector.Event    // EvOMX
	Playlist *playlist.Playlist // EvExecute: the sub-playlist to configure and play
	Jump     int                // EvSkip
	VolStep  int                // EvVolumeStep
	VolAbs   float64            // EvVolume
	Seek     time.Duration      // EvSeek
}

// Feedback receives the upward-facing notifications a Graph posts to its
// owning Manager. These are the complete feedback surface — no other state
// leaks upward.
type Feedback interface {
	GraphLoaded()
	GraphExecd()
	GraphPaused()
	GraphUnpaused()
	GraphUnloaded()
	GraphEndOfPlay()
	GraphError(code graphops.ErrorCode, msg string)
	GraphVolume(percent int)
	GraphMetadata(probe graphops.ProbeResult)
}

// FSM is one Graph's state machine. It carries no thread-safety of its own:
// callers (internal/graph) must serialize calls to Handle.
type FSM struct {
	state   State
	confSub ConfiguringSubstate
	skipSub SkippingSubstate

	ops      *graphops.Ops
	coll     *collector.Collector
	pl       *playlist.Playlist
	kind     graphops.GraphKind
	feedback Feedback
	logger   zerolog.Logger

	terminated bool
}

// New constructs an FSM in its initial "inited" state.
func New(ops *graphops.Ops, coll *collector.Collector, kind graphops.GraphKind, feedback Feedback, logger zerolog.Logger) *FSM {
	return &FSM{
		ops:      ops,
		coll:     coll,
		kind:     kind,
		feedback: feedback,
		logger:   logger.With().Str("component", "graph_fsm").Str("encoding", kind.Name).Logger(),
	}
}

// State returns the current top-level state, for tests and diagnostics.
func (f *FSM) State() State { return f.state }

// Terminated reports whether the FSM has reached the unloaded terminal
// state. internal/graph uses this to decide whether the command queue
// should keep accepting events.
func (f *FSM) Terminated() bool { return f.terminated }

// Handle injects one event into the FSM. It is the sole entry point; every
// other method on FSM is either a guard or an action invoked from here.
func (f *FSM) Handle(ctx context.Context, evt Event) {
	if f.terminated {
		return
	}

	switch f.state {
	case StateInited:
		if evt.Kind == EvLoad {
			f.ops.DoLoad(ctx)
			if !f.ops.LastOpSucceeded() {
				return
			}
			f.ops.DoSetup()
			if !f.ops.LastOpSucceeded() {
				return
			}
			f.state = StateLoaded
			f.feedback.GraphLoaded()
		}

	case StateLoaded:
		if evt.Kind == EvExecute {
			f.pl = evt.Playlist
			if f.pl == nil || f.pl.Empty() || f.pl.BeforeBegin() || f.pl.PastEnd() {
				return
			}
			f.enterConfiguring(ctx)
		}

	case StateConfiguring:
		f.handleConfiguring(ctx, evt)

	case StateConfig2Idle:
		if f.isTransComplete(evt, omx.StateIdle) {
			f.ops.DoOMXIdle2Exe(ctx)
			f.state = StateIdle2Exe
		}

	case StateIdle2Exe:
		if f.isTransComplete(evt, omx.StateExecuting) {
			f.state = StateExecuting
			f.feedback.GraphExecd()
		}

	case StateExecuting:
		f.handleExecuting(ctx, evt)

	case StateSkipping:
		f.handleSkipping(ctx, evt)

	case StateExe2Pause:
		if f.isTransComplete(evt, omx.StatePause) {
			f.state = StatePause
			f.feedback.GraphPaused()
		}

	case StatePause:
		if evt.Kind == EvPause {
			f.ops.DoOMXPause2Exe(ctx)
			f.state = StatePause2Exe
		}

	case StatePause2Exe:
		if f.isTransComplete(evt, omx.StateExecuting) {
			f.state = StateExecuting
			f.feedback.GraphUnpaused()
		}

	case StateExe2Idle:
		if f.isTransComplete(evt, omx.StateIdle) {
			f.ops.DoOMXIdle2Loaded(ctx)
			f.state = StateIdle2Loaded
		}

	case StateIdle2Loaded:
		if f.isTransComplete(evt, omx.StateLoaded) {
			f.finishUnloaded(ctx)
			f.feedback.GraphUnloaded()
		}

	case StateUnloaded:
		// terminal; nothing to do
	}
}

func (f *FSM) handleExecuting(ctx context.Context, evt Event) {
	switch evt.Kind {
	case EvSkip:
		f.ops.SetJump(evt.Jump)
		f.ops.DoOMXExe2Idle(ctx)
		f.skipSub = SubToIdle
		f.state = StateSkipping
	case EvPause:
		f.ops.DoOMXExe2Pause(ctx)
		f.state = StateExe2Pause
	case EvUnload:
		f.ops.DoOMXExe2Idle(ctx)
		f.state = StateExe2Idle
	case EvVolumeStep:
		f.ops.DoVolumeStep(ctx, evt.VolStep)
		if f.ops.LastOpSucceeded() {
			f.feedback.GraphVolume(f.ops.Volume())
		}
	case EvVolume:
		f.ops.DoVolume(ctx, evt.VolAbs)
		if f.ops.LastOpSucceeded() {
			f.feedback.GraphVolume(f.ops.Volume())
		}
	case EvMute:
		f.ops.DoMute(ctx)
	case EvSeek:
		f.ops.DoSeek(ctx, evt.Seek)
	case EvOMX:
		switch evt.Raw.Kind {
		case collector.KindErr:
			// A transient pipeline error is treated as EOS: advance to the
			// next item rather than replaying the one that just failed.
			f.ops.SetJump(1)
			f.ops.DoOMXExe2Idle(ctx)
			f.skipSub = SubToIdle
			f.state = StateSkipping
		case collector.KindEOS:
			if f.isLastEOS(evt.Raw) {
				// Natural end-of-stream advances to the next playlist item.
				f.ops.SetJump(1)
				f.ops.DoOMXExe2Idle(ctx)
				f.skipSub = SubToIdle
				f.state = StateSkipping
			}
		}
	}
}

func (f *FSM) handleSkipping(ctx context.Context, evt Event) {
	switch f.skipSub {
	case SubToIdle:
		if f.isTransComplete(evt, omx.StateIdle) {
			f.ops.DoOMXIdle2Loaded(ctx)
			f.skipSub = SubIdle2Loaded
		}
	case SubIdle2Loaded:
		if f.isTransComplete(evt, omx.StateLoaded) {
			f.exitSkipping(ctx)
		}
	}
}

// exitSkipping applies the pending skip, then routes on is_end_of_play:
// end-of-play unloads and reports graph_end_of_play; otherwise re-enters
// configuring on the playlist's new current item.
func (f *FSM) exitSkipping(ctx context.Context) {
	f.ops.DoSkip(f.pl)
	if f.isEndOfPlay() {
		f.finishUnloaded(ctx)
		f.feedback.GraphEndOfPlay()
		return
	}
	f.enterConfiguring(ctx)
}

func (f *FSM) enterConfiguring(ctx context.Context) {
	f.confSub = SubDisablingPorts
	f.state = StateConfiguring
	f.advanceConfiguring(ctx)
}

// advanceConfiguring drives the configuring sub-machine through every
// substate that needs no external event, stopping to wait whenever a guard
// says the graph type needs a port-disabled or port-settings-changed event.
func (f *FSM) advanceConfiguring(ctx context.Context) {
	for {
		switch f.confSub {
		case SubDisablingPorts:
			if f.kind.NeedsPortDisabled {
				f.ops.DoDisablePort(ctx, 1, 0)
				if !f.ops.LastOpSucceeded() {
					return
				}
				f.confSub = SubAwaitingPortDisabled
				return
			}
			f.confSub = SubProbing

		case SubAwaitingPortDisabled:
			return

		case SubProbing:
			probe, ok := f.ops.DoProbe(ctx, f.pl)
			if !ok {
				return
			}
			f.feedback.GraphMetadata(probe)
			uri, err := f.pl.CurrentURI()
			if err != nil {
				return
			}
			f.ops.DoConfigure(ctx, uri, probe)
			if !f.ops.LastOpSucceeded() {
				return
			}
			if f.kind.NeedsPortSettingsChanged {
				f.confSub = SubAwaitingPortSettings
				return
			}
			f.exitConfiguring(ctx)
			return

		case SubAwaitingPortSettings:
			return
		}
	}
}

func (f *FSM) handleConfiguring(ctx context.Context, evt Event) {
	if evt.Kind != EvOMX {
		return
	}
	switch f.confSub {
	case SubAwaitingPortDisabled:
		if evt.Raw.Kind == collector.KindPortDisabled {
			f.confSub = SubProbing
			f.advanceConfiguring(ctx)
		}
	case SubAwaitingPortSettings:
		if evt.Raw.Kind == collector.KindPortSettings {
			f.exitConfiguring(ctx)
		}
	}
}

// exitConfiguring is the configuring.exit / configured_evt transition:
// loaded2idle is issued and the top state moves to config2idle.
func (f *FSM) exitConfiguring(ctx context.Context) {
	f.ops.DoOMXLoaded2Idle(ctx)
	f.state = StateConfig2Idle
}

func (f *FSM) finishUnloaded(ctx context.Context) {
	f.ops.DoTearDownTunnels()
	f.ops.DoDestroyGraph(ctx)
	f.state = StateUnloaded
	f.terminated = true
}

// InjectFatal is the generic mechanism the owning Graph invokes after every
// dispatched event: if the op that just ran recorded an error, this tears
// the pipeline down and reports graph_error, regardless of which state or
// sub-state the error occurred in. This single check replaces per-substate
// "fatal" branching — every op failure, wherever it happens, funnels here.
func (f *FSM) InjectFatal(ctx context.Context) {
	if f.terminated {
		return
	}
	code := f.ops.InternalError()
	msg := f.ops.ErrorMessage()
	f.finishUnloaded(ctx)
	f.feedback.GraphError(code, msg)
}

// isTransComplete is the is_trans_complete guard: the event must be an OMX
// state-transition event whose reported state equals target, and matching
// it against the expected-event set must drain the set to empty.
func (f *FSM) isTransComplete(evt Event, target omx.StateType) bool {
	if evt.Kind != EvOMX || evt.Raw.Kind != collector.KindTrans || evt.Raw.State != target {
		return false
	}
	return f.coll.IsTransComplete(evt.Raw)
}

// isLastEOS is true iff the EOS event came from the renderer, the last
// handle in pipeline order.
func (f *FSM) isLastEOS(raw collector.Event) bool {
	handles := f.ops.Handles()
	return len(handles) > 0 && raw.Handle == handles[len(handles)-1]
}

// isEndOfPlay is true iff the playlist is exhausted and not looping.
func (f *FSM) isEndOfPlay() bool {
	return (f.pl.BeforeBegin() || f.pl.PastEnd()) && !f.pl.Loop()
}

// OpFailed reports whether the action just run by Handle left an error
// recorded and the FSM has not already unwound to unloaded. internal/graph
// calls this after every Handle to decide whether to invoke InjectFatal —
// the generic post-dispatch fatal check.
func (f *FSM) OpFailed() bool {
	return !f.terminated && !f.ops.LastOpSucceeded()
}

// LastErrorCode exposes the error code behind OpFailed, for callers that
// need to label a failure (metrics, logs) rather than just react to it.
func (f *FSM) LastErrorCode() graphops.ErrorCode {
	return f.ops.InternalError()
}
