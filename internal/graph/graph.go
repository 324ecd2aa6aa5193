/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package graph owns the per-Graph goroutine and bounded command queue that
// drives one graphfsm.FSM: it is the only place events are ever fed to the
// FSM, one at a time, strictly in arrival order, so the FSM itself needs no
// locking. Command producers (a Manager, or the OMX callback path) never
// touch FSM state directly — they enqueue and move on.
package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/collector"
	"github.com/tizonia-go/tizonia/internal/graphfsm"
	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/omx"
	"github.com/tizonia-go/tizonia/internal/playlist"
	"github.com/tizonia-go/tizonia/internal/telemetry"
)

// ErrQueueFull is returned by a public op when the command queue has no
// spare capacity. Callers are expected to retry or surface backpressure
// upward; the queue is never grown to absorb a burst.
var ErrQueueFull = errors.New("graph: command queue full")

// Graph owns one OMX pipeline's FSM, goroutine, and command queue.
type Graph struct {
	fsm  *graphfsm.FSM
	host omx.Host

	cmds chan graphfsm.Event
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
	timeout  time.Duration
	logger   zerolog.Logger

	encoding string
}

// New constructs a Graph, wires it as the host's event handler, and starts
// its dispatch goroutine. queueCapacity bounds both the external command
// queue and the OMX-callback path that feeds EvOMX events into it.
func New(host omx.Host, ops *graphops.Ops, coll *collector.Collector, kind graphops.GraphKind, feedback graphfsm.Feedback, queueCapacity int, transitionTimeout time.Duration, logger zerolog.Logger) *Graph {
	g := &Graph{
		fsm:      graphfsm.New(ops, coll, kind, feedback, logger),
		host:     host,
		cmds:     make(chan graphfsm.Event, queueCapacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		timeout:  transitionTimeout,
		logger:   logger.With().Str("component", "graph").Str("encoding", kind.Name).Logger(),
		encoding: kind.Name,
	}
	host.SetEventHandler(g.onOMXEvent)
	go g.run()
	return g
}

// State reports the FSM's current top-level state.
func (g *Graph) State() graphfsm.State { return g.fsm.State() }

// Terminated reports whether the FSM has reached its unloaded terminal
// state and the goroutine is about to exit.
func (g *Graph) Terminated() bool { return g.fsm.Terminated() }

func (g *Graph) enqueue(evt graphfsm.Event) error {
	select {
	case g.cmds <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

// Load instantiates and tunnels the pipeline.
func (g *Graph) Load() error { return g.enqueue(graphfsm.Event{Kind: graphfsm.EvLoad}) }

// Execute configures and plays pl's current item.
func (g *Graph) Execute(pl *playlist.Playlist) error {
	return g.enqueue(graphfsm.Event{Kind: graphfsm.EvExecute, Playlist: pl})
}

// Pause toggles between executing and paused.
func (g *Graph) Pause() error { return g.enqueue(graphfsm.Event{Kind: graphfsm.EvPause}) }

// Seek applies a new playback position to the source component.
func (g *Graph) Seek(position time.Duration) error {
	return g.enqueue(graphfsm.Event{Kind: graphfsm.EvSeek, Seek: position})
}

// Skip moves the playlist cursor by jump and begins tearing the pipeline
// back down to reconfigure on the new current item.
func (g *Graph) Skip(jump int) error {
	return g.enqueue(graphfsm.Event{Kind: graphfsm.EvSkip, Jump: jump})
}

// VolumeStep nudges the renderer's volume by step percentage points.
func (g *Graph) VolumeStep(step int) error {
	return g.enqueue(graphfsm.Event{Kind: graphfsm.EvVolumeStep, VolStep: step})
}

// Volume sets an absolute renderer volume in [0.0, 1.0].
func (g *Graph) Volume(v float64) error {
	return g.enqueue(graphfsm.Event{Kind: graphfsm.EvVolume, VolAbs: v})
}

// Mute toggles the renderer's mute state.
func (g *Graph) Mute() error { return g.enqueue(graphfsm.Event{Kind: graphfsm.EvMute}) }

// Unload walks the pipeline back to loaded, frees its components and reports
// graph_unloaded, without end-of-play.
func (g *Graph) Unload() error { return g.enqueue(graphfsm.Event{Kind: graphfsm.EvUnload}) }

// onOMXEvent is the host's registered EventHandler. It may be invoked from
// any goroutine the host uses internally, so unlike the public ops above it
// blocks rather than dropping the event — callback delivery must not lose
// events, only the caller-facing command surface is allowed to reject under
// load.
func (g *Graph) onOMXEvent(raw omx.Event) {
	if raw.Err != nil && raw.Type != omx.EventError {
		g.logger.Warn().Err(raw.Err).Str("handle", string(raw.Handle)).Str("type", raw.Type.String()).
			Msg("component reported an error field on a non-error event")
	}
	evt := graphfsm.Event{Kind: graphfsm.EvOMX, Raw: collector.Convert(raw)}
	select {
	case g.cmds <- evt:
	case <-g.stop:
	}
}

// run is the Graph's single dispatch goroutine: pop one event, hand it to
// the FSM under a per-transition timeout, then run the generic post-dispatch
// fatal check — after every event is handled, consult the FSM's recorded
// error and unwind if one was left behind. It exits once the FSM reaches
// its unloaded terminal state or Stop is requested.
func (g *Graph) run() {
	defer close(g.done)
	for {
		select {
		case evt := <-g.cmds:
			telemetry.GraphQueueDepth.WithLabelValues(g.encoding).Set(float64(len(g.cmds)))

			ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
			spanCtx, span := telemetry.StartSpan(ctx, "tizonia.graph", "graph.handle")
			g.fsm.Handle(spanCtx, evt)
			if g.fsm.OpFailed() {
				telemetry.GraphOpFailuresTotal.WithLabelValues(g.fsm.LastErrorCode().String()).Inc()
				telemetry.RecordError(span, errors.New(g.fsm.LastErrorCode().String()))
				g.fsm.InjectFatal(spanCtx)
			}
			span.End()
			cancel()

			telemetry.GraphFSMTransitionsTotal.WithLabelValues(g.encoding, g.fsm.State().String()).Inc()

			if g.fsm.Terminated() {
				_ = g.host.Close()
				return
			}
		case <-g.stop:
			return
		}
	}
}

// Stop requests the dispatch goroutine to exit and waits for it to do so.
// Safe to call more than once and safe to call after the FSM has already
// terminated on its own.
func (g *Graph) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
	<-g.done
}
