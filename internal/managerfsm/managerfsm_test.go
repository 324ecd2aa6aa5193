/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package managerfsm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/collector"
	"github.com/tizonia-go/tizonia/internal/graph"
	"github.com/tizonia-go/tizonia/internal/graphfsm"
	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/managerops"
	"github.com/tizonia-go/tizonia/internal/omx"
	"github.com/tizonia-go/tizonia/internal/playlist"
)

type noopFeedback struct{}

func (noopFeedback) GraphLoaded()                         {}
func (noopFeedback) GraphExecd()                          {}
func (noopFeedback) GraphPaused()                          {}
func (noopFeedback) GraphUnpaused()                        {}
func (noopFeedback) GraphUnloaded()                        {}
func (noopFeedback) GraphEndOfPlay()                       {}
func (noopFeedback) GraphError(graphops.ErrorCode, string) {}
func (noopFeedback) GraphVolume(int)                       {}
func (noopFeedback) GraphMetadata(graphops.ProbeResult)    {}

type fakeProber struct{}

func (fakeProber) Probe(context.Context, string) (graphops.ProbeResult, error) {
	return graphops.ProbeResult{Coding: "mp3"}, nil
}

type builder struct{}

func (builder) Build(label string, feedback graphfsm.Feedback) (*graph.Graph, error) {
	host := omx.NewFakeHost()
	expected := collector.NewSet()
	coll := &collector.Collector{Expected: expected}
	kind := graphops.GraphKind{Name: label, Roles: []string{"audio_source.file", "audio_decoder." + label, "audio_renderer.pcm"}}
	ops := graphops.New(host, kind, fakeProber{}, expected, noopVolumeSink{}, zerolog.Nop())
	return graph.New(host, ops, coll, kind, feedback, 30, time.Second, zerolog.Nop()), nil
}

type noopVolumeSink struct{}

func (noopVolumeSink) OnVolume(int) {}

func newHarness(t *testing.T, uris []string, loop bool) *FSM {
	t.Helper()
	pl := playlist.New(uris, loop, false)
	ops := managerops.New(pl, builder{}, noopFeedback{}, nil, nil, zerolog.Nop())
	return New(ops, zerolog.Nop())
}

func TestStartToRunningHappyPath(t *testing.T) {
	fsm := newHarness(t, []string{"a.mp3"}, false)
	ctx := context.Background()

	fsm.Handle(ctx, Event{Kind: EvStart})
	if fsm.State() != StateStarting || fsm.startSub != SubLoadingGraph {
		t.Fatalf("expected starting/loading_graph, got %s/%d", fsm.State(), fsm.startSub)
	}

	fsm.Handle(ctx, Event{Kind: EvGraphLoaded})
	if fsm.startSub != SubExecutingGraph {
		t.Fatalf("expected executing_graph substate, got %d", fsm.startSub)
	}

	fsm.Handle(ctx, Event{Kind: EvGraphExecd})
	if fsm.State() != StateRunning {
		t.Fatalf("expected running, got %s", fsm.State())
	}
}

func TestUserEventsDeferredDuringStartingThenRedelivered(t *testing.T) {
	fsm := newHarness(t, []string{"a.mp3"}, false)
	ctx := context.Background()

	fsm.Handle(ctx, Event{Kind: EvStart})
	fsm.Handle(ctx, Event{Kind: EvPause}) // deferred: still loading_graph
	fsm.Handle(ctx, Event{Kind: EvMute})  // deferred

	if len(fsm.deferred) != 2 {
		t.Fatalf("expected 2 deferred events, got %d", len(fsm.deferred))
	}

	fsm.Handle(ctx, Event{Kind: EvGraphLoaded})
	fsm.Handle(ctx, Event{Kind: EvGraphExecd})

	if fsm.State() != StateRunning {
		t.Fatalf("expected running after redelivery, got %s", fsm.State())
	}
	if len(fsm.deferred) != 0 {
		t.Fatalf("expected deferred queue drained, got %d left", len(fsm.deferred))
	}
}

func TestQuitDuringStartingIsNotDeferred(t *testing.T) {
	fsm := newHarness(t, []string{"a.mp3"}, false)
	ctx := context.Background()

	fsm.Handle(ctx, Event{Kind: EvStart})
	fsm.Handle(ctx, Event{Kind: EvQuit})

	if fsm.State() != StateQuitting {
		t.Fatalf("expected quit_evt to act immediately from starting, got %s", fsm.State())
	}
}

func TestFatalErrorTerminatesImmediately(t *testing.T) {
	fsm := newHarness(t, []string{"a.mp3"}, false)
	ctx := context.Background()

	fsm.Handle(ctx, Event{Kind: EvStart})
	fsm.Handle(ctx, Event{Kind: EvErr, Fatal: true, ErrCode: graphops.ErrInsufficientResources, ErrMsg: "boom"})

	if fsm.State() != StateQuitted || !fsm.Terminated() {
		t.Fatalf("expected quitted/terminated, got %s terminated=%v", fsm.State(), fsm.Terminated())
	}
}

// failingBuilder always fails Build, standing in for a GraphBuilder that
// cannot construct a pipeline (backend unreachable, unrecognized label).
type failingBuilder struct{}

func (failingBuilder) Build(label string, feedback graphfsm.Feedback) (*graph.Graph, error) {
	return nil, fmt.Errorf("simulated build failure for %q", label)
}

func TestOpFailedFalseAfterSuccessfulLoad(t *testing.T) {
	fsm := newHarness(t, []string{"a.mp3"}, false)
	ctx := context.Background()

	fsm.Handle(ctx, Event{Kind: EvStart})
	if fsm.OpFailed() {
		t.Fatal("expected OpFailed() to be false after a successful DoLoad")
	}
}

// TestOpFailedAfterEmptyPlaylistLoad covers the gap where dispatch's
// StateInited/EvStart case committed to StateStarting unconditionally: an
// empty main playlist leaves DoLoad's error recorded, which internal/manager
// now checks via OpFailed/InjectFatal after every Handle call.
func TestOpFailedAfterEmptyPlaylistLoad(t *testing.T) {
	fsm := newHarness(t, nil, false)
	ctx := context.Background()

	fsm.Handle(ctx, Event{Kind: EvStart})
	if fsm.State() != StateStarting {
		t.Fatalf("expected dispatch to still commit to starting, got %s", fsm.State())
	}
	if !fsm.OpFailed() {
		t.Fatal("expected OpFailed() after DoLoad on an empty playlist")
	}

	fsm.InjectFatal()
	if fsm.State() != StateQuitted || !fsm.Terminated() {
		t.Fatalf("expected InjectFatal to drive quitted/terminated, got %s terminated=%v", fsm.State(), fsm.Terminated())
	}
}

// TestOpFailedAfterBuilderBuildError covers the other flagged gap: a
// GraphBuilder.Build failure during DoLoad, exercised directly at the FSM
// level (see TestBuilderBuildFailureAtStartInvokesTerminationCallback in
// internal/manager for the end-to-end version through the real dispatch
// goroutine).
func TestOpFailedAfterBuilderBuildError(t *testing.T) {
	pl := playlist.New([]string{"a.mp3"}, false, false)
	ops := managerops.New(pl, failingBuilder{}, noopFeedback{}, nil, nil, zerolog.Nop())
	fsm := New(ops, zerolog.Nop())
	ctx := context.Background()

	fsm.Handle(ctx, Event{Kind: EvStart})
	if !fsm.OpFailed() {
		t.Fatal("expected OpFailed() after a GraphBuilder.Build error")
	}

	fsm.InjectFatal()
	if fsm.State() != StateQuitted || !fsm.Terminated() {
		t.Fatalf("expected InjectFatal to drive quitted/terminated, got %s terminated=%v", fsm.State(), fsm.Terminated())
	}
}

func TestSingleItemNonLoopingEndsAtQuittedAfterRestart(t *testing.T) {
	fsm := newHarness(t, []string{"a.mp3"}, false)
	ctx := context.Background()

	fsm.Handle(ctx, Event{Kind: EvStart})
	fsm.Handle(ctx, Event{Kind: EvGraphLoaded})
	fsm.Handle(ctx, Event{Kind: EvGraphExecd})
	if fsm.State() != StateRunning {
		t.Fatalf("expected running, got %s", fsm.State())
	}

	fsm.Handle(ctx, Event{Kind: EvGraphEndOfPlay})
	if fsm.State() != StateRestarting {
		t.Fatalf("expected restarting, got %s", fsm.State())
	}

	fsm.Handle(ctx, Event{Kind: EvGraphUnloaded})
	if fsm.State() != StateQuitted || !fsm.Terminated() {
		t.Fatalf("expected the single-item, non-looping playlist to finish at quitted, got %s", fsm.State())
	}
}
