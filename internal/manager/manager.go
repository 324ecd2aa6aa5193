/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package manager owns the Manager-level goroutine and bounded command
// queue: it is the process's single entry point for playlist/pipeline
// control, driving one managerfsm.FSM against one managerops.Ops and the
// main playlist. It also implements graphfsm.Feedback, translating every
// Graph's notifications into managerfsm.Events posted onto its own queue —
// the same strictly-sequential, single-goroutine-owns-the-FSM shape
// internal/graph uses one tier down.
package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/managerfsm"
	"github.com/tizonia-go/tizonia/internal/managerops"
	"github.com/tizonia-go/tizonia/internal/playlist"
	"github.com/tizonia-go/tizonia/internal/telemetry"
)

// ErrQueueFull is returned by a public op when the command queue has no
// spare capacity.
var ErrQueueFull = errors.New("manager: command queue full")

// TerminationFunc is the caller-supplied callback invoked exactly once per
// Manager instance: (ErrNone, "End of playlist.") on a clean finish,
// (ErrNone, "") on an explicit Quit, or a non-ErrNone code and a descriptive
// message on a fatal failure.
type TerminationFunc func(code graphops.ErrorCode, msg string)

// isManagerFatal classifies a Graph error: transient content errors restart
// on the next sub-playlist, everything else (Manager-internal/allocation
// failures) is always fatal. See DESIGN.md's internal/manager entry for the
// grounding.
func isManagerFatal(code graphops.ErrorCode) bool {
	switch code {
	case graphops.ErrContentURI, graphops.ErrStreamCorrupt:
		return false
	default:
		return true
	}
}

// Manager owns the upper-tier FSM, its operations vocabulary, and the
// goroutine that feeds events into both.
type Manager struct {
	fsm *managerfsm.FSM
	ops *managerops.Ops

	cmds chan managerfsm.Event
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
	timeout  time.Duration
	logger   zerolog.Logger

	onTerminate   TerminationFunc
	terminateOnce sync.Once

	onVolume   func(percent int)
	onMetadata func(uri, label string, probe graphops.ProbeResult)
}

// New constructs a Manager around the given main playlist and GraphBuilder,
// wires itself in as the feedback sink every built Graph reports to, and
// starts its dispatch goroutine in the inited state. onVolume/onMetadata are
// optional pass-through hooks for graph_volume/graph_metadata notifications,
// which carry no Manager FSM transition of their own; see the graphfsm
// DESIGN.md entry.
func New(pl *playlist.Playlist, builder managerops.GraphBuilder, queueCapacity int, transitionTimeout time.Duration, onTerminate TerminationFunc, onVolume func(int), onMetadata func(uri, label string, probe graphops.ProbeResult), logger zerolog.Logger) *Manager {
	m := &Manager{
		cmds:        make(chan managerfsm.Event, queueCapacity),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		timeout:     transitionTimeout,
		logger:      logger.With().Str("component", "manager").Logger(),
		onTerminate: onTerminate,
		onVolume:    onVolume,
		onMetadata:  onMetadata,
	}

	onFatal := func(code graphops.ErrorCode, msg string) {
		m.terminateOnce.Do(func() {
			if m.onTerminate != nil {
				m.onTerminate(code, msg)
			}
		})
	}
	onEOP := func() {
		m.terminateOnce.Do(func() {
			if m.onTerminate != nil {
				m.onTerminate(graphops.ErrNone, "End of playlist.")
			}
		})
	}

	m.ops = managerops.New(pl, builder, m, onFatal, onEOP, logger)
	m.fsm = managerfsm.New(m.ops, logger)
	go m.run()
	return m
}

// State reports the FSM's current top-level state.
func (m *Manager) State() managerfsm.State { return m.fsm.State() }

// Terminated reports whether the FSM has reached quitted.
func (m *Manager) Terminated() bool { return m.fsm.Terminated() }

func (m *Manager) enqueue(evt managerfsm.Event) error {
	select {
	case m.cmds <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start begins playback: the first load/execute cycle from inited, or a
// resume from stopped.
func (m *Manager) Start() error { return m.enqueue(managerfsm.Event{Kind: managerfsm.EvStart}) }

// Next/Prev skip forward/backward within the current Graph's sub-playlist.
func (m *Manager) Next() error { return m.enqueue(managerfsm.Event{Kind: managerfsm.EvNext}) }
func (m *Manager) Prev() error { return m.enqueue(managerfsm.Event{Kind: managerfsm.EvPrev}) }

// Pause toggles the current Graph between executing and paused.
func (m *Manager) Pause() error { return m.enqueue(managerfsm.Event{Kind: managerfsm.EvPause}) }

// VolumeUp and VolumeDown nudge the current Graph's volume by a fixed step.
func (m *Manager) VolumeUp() error   { return m.enqueue(managerfsm.Event{Kind: managerfsm.EvVolUp}) }
func (m *Manager) VolumeDown() error { return m.enqueue(managerfsm.Event{Kind: managerfsm.EvVolDown}) }

// Volume sets an absolute volume in [0.0, 1.0] on the current Graph.
func (m *Manager) Volume(v float64) error {
	return m.enqueue(managerfsm.Event{Kind: managerfsm.EvVol, VolAbs: v})
}

// Mute toggles the current Graph's mute state.
func (m *Manager) Mute() error { return m.enqueue(managerfsm.Event{Kind: managerfsm.EvMute}) }

// Stop tears the current Graph down without ending the session; a
// subsequent Start resumes play from stopped.
func (m *Manager) Stop() error { return m.enqueue(managerfsm.Event{Kind: managerfsm.EvStop}) }

// Quit tears everything down and drives the FSM to quitted.
func (m *Manager) Quit() error { return m.enqueue(managerfsm.Event{Kind: managerfsm.EvQuit}) }

// CurrentLabel exposes the encoding label of the Graph currently holding
// the pipeline, for diagnostics.
func (m *Manager) CurrentLabel() string { return m.ops.CurrentLabel() }

// postBlocking feeds a feedback-originated event onto the queue. Unlike the
// public ops above, a Graph notification cannot be dropped under load — the
// Manager would otherwise never learn its own Graph finished loading or
// tore down — so this blocks rather than returning ErrQueueFull, mirroring
// internal/graph's own OMX-callback path.
func (m *Manager) postBlocking(evt managerfsm.Event) {
	select {
	case m.cmds <- evt:
	case <-m.stop:
	}
}

// GraphLoaded/GraphExecd/GraphPaused/GraphUnpaused/GraphUnloaded/
// GraphEndOfPlay implement graphfsm.Feedback: each is a Graph notification
// translated one-to-one into a Manager FSM event.
func (m *Manager) GraphLoaded()    { m.postBlocking(managerfsm.Event{Kind: managerfsm.EvGraphLoaded}) }
func (m *Manager) GraphExecd()     { m.postBlocking(managerfsm.Event{Kind: managerfsm.EvGraphExecd}) }
func (m *Manager) GraphPaused()    { m.postBlocking(managerfsm.Event{Kind: managerfsm.EvGraphPaused}) }
func (m *Manager) GraphUnpaused()  { m.postBlocking(managerfsm.Event{Kind: managerfsm.EvGraphUnpaused}) }
func (m *Manager) GraphUnloaded()  { m.postBlocking(managerfsm.Event{Kind: managerfsm.EvGraphUnloaded}) }
func (m *Manager) GraphEndOfPlay() { m.postBlocking(managerfsm.Event{Kind: managerfsm.EvGraphEndOfPlay}) }

// GraphError implements graphfsm.Feedback: InjectFatal has already torn the
// originating Graph down by the time this fires, so it only needs to carry
// the fatal/non-fatal classification assigned to the error code.
func (m *Manager) GraphError(code graphops.ErrorCode, msg string) {
	m.postBlocking(managerfsm.Event{Kind: managerfsm.EvErr, Fatal: isManagerFatal(code), ErrCode: code, ErrMsg: msg})
}

// GraphVolume/GraphMetadata implement graphfsm.Feedback but carry no FSM
// transition of their own (see the graphfsm DESIGN.md entry) — they are
// forwarded straight to the optional caller-supplied hooks instead of being
// queued, since dropping or reordering one against FSM-affecting events has
// no correctness consequence.
func (m *Manager) GraphVolume(percent int) {
	if m.onVolume != nil {
		m.onVolume(percent)
	}
}

func (m *Manager) GraphMetadata(probe graphops.ProbeResult) {
	if m.onMetadata == nil {
		return
	}
	uri, _ := m.ops.CurrentURI()
	m.onMetadata(uri, m.ops.CurrentLabel(), probe)
}

// run is the Manager's single dispatch goroutine. It exits once the FSM
// reaches quitted or Stop is requested, tearing down every registered
// Graph on the way out.
func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case evt := <-m.cmds:
			telemetry.ManagerQueueDepth.Set(float64(len(m.cmds)))

			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			spanCtx, span := telemetry.StartSpan(ctx, "tizonia.manager", "manager.handle")
			m.fsm.Handle(spanCtx, evt)
			if m.fsm.OpFailed() {
				telemetry.GraphOpFailuresTotal.WithLabelValues(m.fsm.LastErrorCode().String()).Inc()
				telemetry.RecordError(span, errors.New(m.fsm.LastErrorCode().String()))
				m.fsm.InjectFatal()
			}
			span.End()
			cancel()

			telemetry.ManagerFSMTransitionsTotal.WithLabelValues(m.fsm.State().String()).Inc()

			if m.fsm.Terminated() {
				m.ops.Deinit()
				// A quit reaches quitted without a fatal error or end of
				// play; the once guard makes this a no-op after those.
				m.terminateOnce.Do(func() {
					if m.onTerminate != nil {
						m.onTerminate(graphops.ErrNone, "")
					}
				})
				return
			}
		case <-m.stop:
			m.ops.Deinit()
			return
		}
	}
}

// Close requests the dispatch goroutine to exit and waits for it to do so.
// Safe to call more than once and safe to call after the FSM has already
// terminated on its own. This is the Manager's shutdown primitive, distinct
// from the stop_evt-driven Stop() public op above.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}
