package graphfsm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/collector"
	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/omx"
	"github.com/tizonia-go/tizonia/internal/playlist"
)

// syncHost is a fully synchronous omx.Host test double: SendCommand queues
// its completion event instead of invoking a handler, so a test can drive
// the FSM to quiescence deterministically by popping and feeding events one
// batch at a time, with no goroutines involved.
type syncHost struct {
	mu      sync.Mutex
	next    int
	pending []omx.Event
}

func newSyncHost() *syncHost { return &syncHost{} }

func (h *syncHost) SetEventHandler(omx.EventHandler) {}

func (h *syncHost) Instantiate(context.Context, omx.ComponentSpec) (omx.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	return omx.Handle(string(rune('a' + h.next))), nil
}

func (h *syncHost) Free(context.Context, omx.Handle) error { return nil }

func (h *syncHost) Tunnel(omx.Handle, int, omx.Handle, int) error         { return nil }
func (h *syncHost) TearDownTunnel(omx.Handle, int, omx.Handle, int) error { return nil }

func (h *syncHost) SendCommand(_ context.Context, handle omx.Handle, cmd omx.CommandType, param uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, omx.Event{Handle: handle, Type: omx.EventCmdComplete, Data1: uint32(cmd), Data2: param})
	return nil
}

func (h *syncHost) SetVolume(context.Context, omx.Handle, float64) error  { return nil }
func (h *syncHost) SetMute(context.Context, omx.Handle, bool) error       { return nil }
func (h *syncHost) Seek(context.Context, omx.Handle, time.Duration) error { return nil }
func (h *syncHost) SetContentURI(context.Context, omx.Handle, string) error { return nil }
func (h *syncHost) Close() error                                         { return nil }

func (h *syncHost) pop() []omx.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

func (h *syncHost) emit(evt omx.Event) {
	h.mu.Lock()
	h.pending = append(h.pending, evt)
	h.mu.Unlock()
}

type fakeFeedback struct {
	loaded, execd, paused, unpaused, unloaded, eop int
	errCodes                                       []graphops.ErrorCode
	volumes                                        []int
}

func (f *fakeFeedback) GraphLoaded()    { f.loaded++ }
func (f *fakeFeedback) GraphExecd()     { f.execd++ }
func (f *fakeFeedback) GraphPaused()    { f.paused++ }
func (f *fakeFeedback) GraphUnpaused()  { f.unpaused++ }
func (f *fakeFeedback) GraphUnloaded()  { f.unloaded++ }
func (f *fakeFeedback) GraphEndOfPlay() { f.eop++ }
func (f *fakeFeedback) GraphError(code graphops.ErrorCode, msg string) {
	f.errCodes = append(f.errCodes, code)
}
func (f *fakeFeedback) GraphVolume(percent int) { f.volumes = append(f.volumes, percent) }
func (f *fakeFeedback) GraphMetadata(graphops.ProbeResult) {}

type fakeProber struct{}

func (p fakeProber) Probe(context.Context, string) (graphops.ProbeResult, error) {
	return graphops.ProbeResult{Coding: "mp3"}, nil
}

func newHarness(t *testing.T) (*FSM, *syncHost, *fakeFeedback) {
	t.Helper()
	host := newSyncHost()
	expected := collector.NewSet()
	coll := &collector.Collector{Expected: expected}
	kind := graphops.GraphKind{Name: "mp3", Roles: []string{"audio_source.file", "audio_decoder.mp3", "audio_renderer.pcm"}}
	fb := &fakeFeedback{}
	ops := graphops.New(host, kind, fakeProber{}, expected, fb, zerolog.Nop())
	fsm := New(ops, coll, kind, fb, zerolog.Nop())
	return fsm, host, fb
}

// drive pumps queued OMX completion events into the FSM until the host has
// nothing left pending — i.e. the FSM has run to its next quiescent point.
func drive(fsm *FSM, host *syncHost) {
	for {
		events := host.pop()
		if len(events) == 0 {
			return
		}
		for _, raw := range events {
			fsm.Handle(context.Background(), Event{Kind: EvOMX, Raw: collector.Convert(raw)})
		}
	}
}

func TestHappyPathSingleItem(t *testing.T) {
	fsm, host, fb := newHarness(t)
	ctx := context.Background()
	pl := playlist.New([]string{"/tmp/a.mp3"}, false, false)

	fsm.Handle(ctx, Event{Kind: EvLoad})
	drive(fsm, host)
	if fb.loaded != 1 {
		t.Fatalf("expected graph_loaded once, got %d", fb.loaded)
	}

	fsm.Handle(ctx, Event{Kind: EvExecute, Playlist: pl})
	drive(fsm, host)
	if fb.execd != 1 {
		t.Fatalf("expected graph_execd once, got %d", fb.execd)
	}
	if fsm.State() != StateExecuting {
		t.Fatalf("expected executing, got %s", fsm.State())
	}

	// renderer raises EOS on the last handle.
	handles := fsm.ops.Handles()
	fsm.Handle(ctx, Event{Kind: EvOMX, Raw: collector.Convert(omx.Event{Handle: handles[len(handles)-1], Type: omx.EventEOS})})
	drive(fsm, host)

	if fb.eop != 1 {
		t.Fatalf("expected graph_end_of_play once, got %d", fb.eop)
	}
	if !fsm.Terminated() {
		t.Fatal("expected fsm to reach the unloaded terminal state")
	}
}

func TestPauseResume(t *testing.T) {
	fsm, host, fb := newHarness(t)
	ctx := context.Background()
	pl := playlist.New([]string{"/tmp/a.mp3"}, false, false)

	fsm.Handle(ctx, Event{Kind: EvLoad})
	drive(fsm, host)
	fsm.Handle(ctx, Event{Kind: EvExecute, Playlist: pl})
	drive(fsm, host)

	fsm.Handle(ctx, Event{Kind: EvPause})
	drive(fsm, host)
	if fb.paused != 1 {
		t.Fatalf("expected graph_paused once, got %d", fb.paused)
	}
	if fsm.State() != StatePause {
		t.Fatalf("expected pause, got %s", fsm.State())
	}

	fsm.Handle(ctx, Event{Kind: EvPause})
	drive(fsm, host)
	if fb.unpaused != 1 {
		t.Fatalf("expected graph_unpaused once, got %d", fb.unpaused)
	}
	if fsm.State() != StateExecuting {
		t.Fatalf("expected back to executing, got %s", fsm.State())
	}
}

func TestFatalProbeErrorTearsDownGraph(t *testing.T) {
	host := newSyncHost()
	expected := collector.NewSet()
	coll := &collector.Collector{Expected: expected}
	kind := graphops.GraphKind{Name: "mp3", Roles: []string{"audio_source.file", "audio_decoder.mp3", "audio_renderer.pcm"}}
	fb := &fakeFeedback{}
	prober := rejectingProber{}
	ops := graphops.New(host, kind, prober, expected, fb, zerolog.Nop())
	fsm := New(ops, coll, kind, fb, zerolog.Nop())
	ctx := context.Background()
	pl := playlist.New([]string{"/tmp/bad.mp3"}, false, false)

	fsm.Handle(ctx, Event{Kind: EvLoad})
	drive(fsm, host)
	fsm.Handle(ctx, Event{Kind: EvExecute, Playlist: pl})
	drive(fsm, host)

	if ops.LastOpSucceeded() {
		t.Fatal("expected probe failure to be recorded")
	}

	// internal/graph's generic post-dispatch check.
	fsm.InjectFatal(ctx)
	if !fsm.Terminated() {
		t.Fatal("expected InjectFatal to reach the unloaded terminal state")
	}
	if len(fb.errCodes) != 1 || fb.errCodes[0] != graphops.ErrContentURI {
		t.Fatalf("expected a single ContentURIError report, got %v", fb.errCodes)
	}
}

type rejectingProber struct{}

func (rejectingProber) Probe(context.Context, string) (graphops.ProbeResult, error) {
	return graphops.ProbeResult{}, errBadFormat
}

var errBadFormat = errors.New("bad format")
