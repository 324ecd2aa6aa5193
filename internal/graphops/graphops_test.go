package graphops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/collector"
	"github.com/tizonia-go/tizonia/internal/omx"
	"github.com/tizonia-go/tizonia/internal/playlist"
)

type fakeProber struct {
	reject bool
	err    error
}

func (f fakeProber) Probe(context.Context, string) (ProbeResult, error) {
	if f.err != nil {
		return ProbeResult{}, f.err
	}
	return ProbeResult{Coding: "mp3"}, nil
}

type fakeFeedback struct{ volumes []int }

func (f *fakeFeedback) OnVolume(percent int) { f.volumes = append(f.volumes, percent) }

func newTestOps(t *testing.T, prober Prober) (*Ops, *omx.FakeHost, *collector.Set) {
	t.Helper()
	host := omx.NewFakeHost()
	expected := collector.NewSet()
	kind := GraphKind{Name: "mp3", Roles: []string{"audio_source.file", "audio_decoder.mp3", "audio_renderer.pcm"}}
	ops := New(host, kind, prober, expected, &fakeFeedback{}, zerolog.Nop())
	return ops, host, expected
}

func TestDoLoadInstantiatesAllRoles(t *testing.T) {
	ops, _, _ := newTestOps(t, fakeProber{})
	ops.DoLoad(context.Background())
	if !ops.LastOpSucceeded() {
		t.Fatalf("DoLoad failed: %s", ops.ErrorMessage())
	}
	if len(ops.Handles()) != 3 {
		t.Fatalf("expected 3 handles, got %d", len(ops.Handles()))
	}
}

func TestBatchTransitionPopulatesExpectedSetPerHandle(t *testing.T) {
	ops, _, expected := newTestOps(t, fakeProber{})
	ops.DoLoad(context.Background())

	ops.DoOMXLoaded2Idle(context.Background())
	if !ops.LastOpSucceeded() {
		t.Fatalf("DoOMXLoaded2Idle failed: %s", ops.ErrorMessage())
	}
	if expected.Len() != 3 {
		t.Fatalf("expected 3 pending transitions, got %d", expected.Len())
	}
}

func TestDoOMXExe2PauseOnlyTargetsRenderer(t *testing.T) {
	ops, _, expected := newTestOps(t, fakeProber{})
	ops.DoLoad(context.Background())
	ops.DoOMXExe2Pause(context.Background())
	if expected.Len() != 1 {
		t.Fatalf("expected exactly one pending transition for exe2pause, got %d", expected.Len())
	}
}

func TestDoProbeErasesURIOnRejection(t *testing.T) {
	ops, _, _ := newTestOps(t, fakeProber{err: errors.New("bad format")})
	pl := playlist.New([]string{"bad.mp3", "good.mp3"}, false, false)

	_, ok := ops.DoProbe(context.Background(), pl)
	if ok {
		t.Fatal("expected probe to fail")
	}
	if ops.InternalError() != ErrContentURI {
		t.Fatalf("expected ErrContentURI, got %v", ops.InternalError())
	}
	if pl.Size() != 1 {
		t.Fatalf("expected rejected uri to be erased, size=%d", pl.Size())
	}
}

func TestDoVolumeStepClampsAtMaximum(t *testing.T) {
	host := omx.NewFakeHost()
	expected := collector.NewSet()
	fb := &fakeFeedback{}
	kind := GraphKind{Name: "mp3", Roles: []string{"audio_renderer.pcm"}}
	ops := New(host, kind, fakeProber{}, expected, fb, zerolog.Nop())
	ops.DoLoad(context.Background())

	ops.DoVolumeStep(context.Background(), 10)
	if ops.Volume() != 100 {
		t.Fatalf("expected volume clamped to 100, got %d", ops.Volume())
	}
	ops.DoVolumeStep(context.Background(), 1000)
	if ops.Volume() != 100 {
		t.Fatalf("volume_step at maximum must be a no-op, got %d", ops.Volume())
	}
}

func TestDoDisablePortPopulatesExpectedSet(t *testing.T) {
	ops, _, expected := newTestOps(t, fakeProber{})
	ops.DoLoad(context.Background())

	ops.DoDisablePort(context.Background(), 1, 0)
	if !ops.LastOpSucceeded() {
		t.Fatalf("DoDisablePort failed: %s", ops.ErrorMessage())
	}
	if expected.Len() != 1 {
		t.Fatalf("expected exactly one pending port transition, got %d", expected.Len())
	}
	if !expected.Match(collector.Event{Handle: ops.Handles()[1], Kind: collector.KindPortDisabled, Port: 0}) {
		t.Fatal("expected a KindPortDisabled target for handle 1 port 0")
	}
}

func TestDoEnablePortPopulatesExpectedSet(t *testing.T) {
	ops, _, expected := newTestOps(t, fakeProber{})
	ops.DoLoad(context.Background())

	ops.DoEnablePort(context.Background(), 1, 0)
	if expected.Len() != 1 {
		t.Fatalf("expected exactly one pending port transition, got %d", expected.Len())
	}
	if !expected.Match(collector.Event{Handle: ops.Handles()[1], Kind: collector.KindPortEnabled, Port: 0}) {
		t.Fatal("expected a KindPortEnabled target for handle 1 port 0")
	}
}

func TestDoSeekTargetsSourceHandle(t *testing.T) {
	ops, _, _ := newTestOps(t, fakeProber{})
	ops.DoLoad(context.Background())

	ops.DoSeek(context.Background(), 5*time.Second)
	if !ops.LastOpSucceeded() {
		t.Fatalf("DoSeek failed: %s", ops.ErrorMessage())
	}
}

func TestDoSkipNoOpWhenJumpZero(t *testing.T) {
	ops, _, _ := newTestOps(t, fakeProber{})
	pl := playlist.New([]string{"a.mp3", "b.mp3"}, false, false)
	ops.DoSkip(pl)
	if pl.Position() != 0 {
		t.Fatalf("expected no movement, got position %d", pl.Position())
	}
}
