/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package graphops implements the stateless operations vocabulary a Graph
// FSM's actions invoke: instantiate components, set up tunnels, drive state
// transitions, enable/disable ports, probe, configure, and apply
// volume/mute/skip. There is no port-flush operation.
// Every operation is best-effort with a recorded error — on failure it sets
// (errorCode, errorMsg) and returns; the FSM's next guard check branches on
// LastOpSucceeded.
package graphops

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/collector"
	"github.com/tizonia-go/tizonia/internal/omx"
	"github.com/tizonia-go/tizonia/internal/playlist"
)

// ErrorCode mirrors the fixed OMX error domain named in the external
// interfaces section: a small, closed set of conditions the core branches
// on, not a general-purpose error value.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrContentURI
	ErrInsufficientResources
	ErrPortUnpopulated
	ErrIncorrectStateTransition
	ErrNotReady
	ErrStreamCorrupt
	ErrInternal
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrContentURI:
		return "ContentURIError"
	case ErrInsufficientResources:
		return "InsufficientResources"
	case ErrPortUnpopulated:
		return "PortUnpopulated"
	case ErrIncorrectStateTransition:
		return "IncorrectStateTransition"
	case ErrNotReady:
		return "NotReady"
	case ErrStreamCorrupt:
		return "StreamCorrupt"
	default:
		return "InternalError"
	}
}

// ProbeResult is what the probe collaborator reports about a URI. Format
// sniffing and tag extraction are left to the concrete prober implementation;
// Prober is the seam it plugs into.
type ProbeResult struct {
	Coding      string
	PCMParams   map[string]any
	CodecParams map[string]any

	// ResolvedPath is set by a Prober that fetched a remote URI to a local
	// scratch file to probe it (e.g. s3fetch's WrapProber); a ConfigureHook
	// must bind the source component to this path instead of the original
	// URI when it is non-empty, since a remote scheme is never something an
	// OMX source component can open directly.
	ResolvedPath string
}

// Prober inspects a URI without mutating the pipeline.
type Prober interface {
	Probe(ctx context.Context, uri string) (ProbeResult, error)
}

// GraphKind describes a concrete graph type: which component roles make up
// its pipeline, and the hooks that vary per graph type.
type GraphKind struct {
	Name  string   // encoding label, e.g. "mp3", "http/mp3"
	Roles []string // component roles in pipeline order, source first

	// NeedsPortDisabled/NeedsPortSettingsChanged gate whether the
	// "configuring" submachine waits for the matching event, per graph type.
	NeedsPortDisabled        bool
	NeedsPortSettingsChanged bool

	// ProbeStreamHook filters unplayable tracks after a successful probe; a
	// nil hook accepts everything.
	ProbeStreamHook func(ProbeResult) bool

	// ConfigureHook applies per-format parameters to the decoder/renderer
	// ports once probing succeeds — an abstract seam in place of concrete
	// per-format codec parameter tables, which are out of scope here.
	ConfigureHook func(ctx context.Context, ops *Ops, uri string, probe ProbeResult) error
}

// FeedbackSink receives the upward-facing notifications Ops emits outside
// the expected-event/FSM path (currently just volume changes).
type FeedbackSink interface {
	OnVolume(percent int)
}

// Ops is the stateless-with-respect-to-FSM operations object one Graph
// owns. "Stateless" means it carries no FSM state of its own — only the
// pipeline's handle table, the last-op error, and volume/mute bookkeeping.
type Ops struct {
	host     omx.Host
	kind     GraphKind
	prober   Prober
	expected *collector.Set
	feedback FeedbackSink
	logger   zerolog.Logger

	handles []omx.Handle
	names   map[omx.Handle]string

	volume int // percent [0,100], canonical per Open Question decision #3
	muted  bool
	jump   int

	errCode ErrorCode
	errMsg  string
}

// New constructs Ops for one graph instance.
func New(host omx.Host, kind GraphKind, prober Prober, expected *collector.Set, feedback FeedbackSink, logger zerolog.Logger) *Ops {
	return &Ops{
		host:     host,
		kind:     kind,
		prober:   prober,
		expected: expected,
		feedback: feedback,
		logger:   logger.With().Str("component", "graph_ops").Str("encoding", kind.Name).Logger(),
		names:    make(map[omx.Handle]string),
		volume:   100,
	}
}

func (o *Ops) fail(code ErrorCode, format string, args ...any) {
	o.errCode = code
	o.errMsg = fmt.Sprintf(format, args...)
	o.logger.Warn().Str("error_code", code.String()).Str("error_msg", o.errMsg).Msg("graph op failed")
}

func (o *Ops) succeed() {
	o.errCode = ErrNone
	o.errMsg = ""
}

// LastOpSucceeded reports whether the most recent operation left no error.
func (o *Ops) LastOpSucceeded() bool { return o.errCode == ErrNone }

// InternalError exposes the last recorded error code for guard checks.
func (o *Ops) InternalError() ErrorCode { return o.errCode }

// ErrorMessage exposes the last recorded error message.
func (o *Ops) ErrorMessage() string { return o.errMsg }

// Handles returns the pipeline's component handles in tunnel order.
func (o *Ops) Handles() []omx.Handle { return o.handles }

// SetSourceURI binds the content URI on the pipeline's first handle — the
// source role is always first in kind.Roles. Intended for a GraphKind's
// ConfigureHook, called while the pipeline is still in Loaded state.
func (o *Ops) SetSourceURI(ctx context.Context, uri string) error {
	if len(o.handles) == 0 {
		return fmt.Errorf("graphops: no handles instantiated")
	}
	return o.host.SetContentURI(ctx, o.handles[0], uri)
}

// Volume returns the stored percentage volume.
func (o *Ops) Volume() int { return o.volume }

// Muted reports the stored mute state.
func (o *Ops) Muted() bool { return o.muted }

// Jump returns the pending skip delta recorded by DoSkip's caller.
func (o *Ops) Jump() int { return o.jump }

// SetJump records a pending skip delta, applied by DoSkip.
func (o *Ops) SetJump(jump int) { o.jump = jump }

// DoLoad instantiates one component per role in o.kind, in pipeline order.
func (o *Ops) DoLoad(ctx context.Context) {
	o.handles = o.handles[:0]
	for k := range o.names {
		delete(o.names, k)
	}

	for _, role := range o.kind.Roles {
		h, err := o.host.Instantiate(ctx, omx.ComponentSpec{Role: role})
		if err != nil {
			o.fail(ErrInsufficientResources, "instantiate %s: %v", role, err)
			return
		}
		o.handles = append(o.handles, h)
		o.names[h] = role
	}
	o.succeed()
}

// DoSetup tunnels components in pipeline order: handle i's output port
// (0 for the source, 1 for everything downstream) connects to handle i+1's
// input port 0.
func (o *Ops) DoSetup() {
	for i := 0; i < len(o.handles)-1; i++ {
		outPort := 0
		if i > 0 {
			outPort = 1
		}
		if err := o.host.Tunnel(o.handles[i], outPort, o.handles[i+1], 0); err != nil {
			o.fail(ErrIncorrectStateTransition, "tunnel %d->%d: %v", i, i+1, err)
			return
		}
	}
	o.succeed()
}

// batchTransition issues a state-set command to every handle and populates
// the expected-transitions set with one entry per handle for target. upward
// selects supplier-first ordering (reverse: renderer then source); downward
// uses forward order (source then renderer).
func (o *Ops) batchTransition(ctx context.Context, target omx.StateType, upward bool) {
	o.expected.Clear()
	order := make([]omx.Handle, len(o.handles))
	copy(order, o.handles)
	if upward {
		reverse(order)
	}

	for _, h := range order {
		o.expected.Expect(h, target)
		if err := o.host.SendCommand(ctx, h, omx.CommandStateSet, uint32(target)); err != nil {
			o.fail(ErrIncorrectStateTransition, "state-set %s on %s: %v", target, o.names[h], err)
			return
		}
	}
	o.succeed()
}

func (o *Ops) DoOMXLoaded2Idle(ctx context.Context)  { o.batchTransition(ctx, omx.StateIdle, true) }
func (o *Ops) DoOMXIdle2Exe(ctx context.Context)     { o.batchTransition(ctx, omx.StateExecuting, true) }
func (o *Ops) DoOMXExe2Idle(ctx context.Context)     { o.batchTransition(ctx, omx.StateIdle, false) }
func (o *Ops) DoOMXIdle2Loaded(ctx context.Context)  { o.batchTransition(ctx, omx.StateLoaded, false) }

// DoOMXExe2Pause transitions only the last handle (the renderer); the
// expected set holds exactly one entry.
func (o *Ops) DoOMXExe2Pause(ctx context.Context) {
	o.expected.Clear()
	if len(o.handles) == 0 {
		o.succeed()
		return
	}
	renderer := o.handles[len(o.handles)-1]
	o.expected.Expect(renderer, omx.StatePause)
	if err := o.host.SendCommand(ctx, renderer, omx.CommandStateSet, uint32(omx.StatePause)); err != nil {
		o.fail(ErrIncorrectStateTransition, "pause renderer: %v", err)
		return
	}
	o.succeed()
}

// DoOMXPause2Exe resumes only the renderer.
func (o *Ops) DoOMXPause2Exe(ctx context.Context) {
	o.expected.Clear()
	if len(o.handles) == 0 {
		o.succeed()
		return
	}
	renderer := o.handles[len(o.handles)-1]
	o.expected.Expect(renderer, omx.StateExecuting)
	if err := o.host.SendCommand(ctx, renderer, omx.CommandStateSet, uint32(omx.StateExecuting)); err != nil {
		o.fail(ErrIncorrectStateTransition, "resume renderer: %v", err)
		return
	}
	o.succeed()
}

// DoDisablePort disables one port on the handle at handleIdx and populates
// the expected-port-transitions set with a single entry. Used by the
// "configuring" submachine's disabling_ports sub-state when the concrete
// graph type says a port must be disabled before probing.
func (o *Ops) DoDisablePort(ctx context.Context, handleIdx int, port uint32) {
	if handleIdx < 0 || handleIdx >= len(o.handles) {
		o.succeed()
		return
	}
	h := o.handles[handleIdx]
	o.expected.Clear()
	o.expected.ExpectPort(h, port, false)
	if err := o.host.SendCommand(ctx, h, omx.CommandPortDisable, port); err != nil {
		o.fail(ErrIncorrectStateTransition, "disable port %d on %s: %v", port, o.names[h], err)
		return
	}
	o.succeed()
}

// DoEnablePort is DoDisablePort's mirror, used when re-enabling a port.
func (o *Ops) DoEnablePort(ctx context.Context, handleIdx int, port uint32) {
	if handleIdx < 0 || handleIdx >= len(o.handles) {
		o.succeed()
		return
	}
	h := o.handles[handleIdx]
	o.expected.Clear()
	o.expected.ExpectPort(h, port, true)
	if err := o.host.SendCommand(ctx, h, omx.CommandPortEnable, port); err != nil {
		o.fail(ErrIncorrectStateTransition, "enable port %d on %s: %v", port, o.names[h], err)
		return
	}
	o.succeed()
}

// DoSeek applies a seek position to the source component (handle 0).
func (o *Ops) DoSeek(ctx context.Context, position time.Duration) {
	if len(o.handles) == 0 {
		o.succeed()
		return
	}
	if err := o.host.Seek(ctx, o.handles[0], position); err != nil {
		o.fail(ErrNotReady, "seek: %v", err)
		return
	}
	o.succeed()
}

// DoProbe inspects the playlist's current URI. If the concrete graph type's
// ProbeStreamHook rejects it, the URI is erased from the playlist silently
// (no logging — matching tizprobe.cc's "erase on probe rejection" behavior)
// and ContentURIError is recorded.
func (o *Ops) DoProbe(ctx context.Context, pl *playlist.Playlist) (ProbeResult, bool) {
	uri, err := pl.CurrentURI()
	if err != nil {
		o.fail(ErrContentURI, "current uri: %v", err)
		return ProbeResult{}, false
	}

	result, err := o.prober.Probe(ctx, uri)
	if err != nil {
		_ = pl.EraseURI(pl.Position())
		o.fail(ErrContentURI, "probe %s: %v", uri, err)
		return ProbeResult{}, false
	}

	if o.kind.ProbeStreamHook != nil && !o.kind.ProbeStreamHook(result) {
		_ = pl.EraseURI(pl.Position())
		o.errCode = ErrContentURI
		o.errMsg = fmt.Sprintf("probe rejected %s", uri)
		return ProbeResult{}, false
	}

	o.succeed()
	return result, true
}

// DoConfigure pushes the source URI and the probed format parameters into
// the pipeline via the graph type's ConfigureHook.
func (o *Ops) DoConfigure(ctx context.Context, uri string, probe ProbeResult) {
	if o.kind.ConfigureHook == nil {
		o.succeed()
		return
	}
	if err := o.kind.ConfigureHook(ctx, o, uri, probe); err != nil {
		o.fail(ErrNotReady, "configure: %v", err)
		return
	}
	o.succeed()
}

// DoSkip applies a pending skip delta to the playlist, then clears it.
func (o *Ops) DoSkip(pl *playlist.Playlist) {
	if o.jump != 0 && !(pl.BeforeBegin() || pl.PastEnd()) {
		pl.Skip(o.jump)
	}
	o.jump = 0
	o.succeed()
}

// DoVolumeStep adjusts the stored volume by step, clamped to [0,100], and
// reports the new value via FeedbackSink.
func (o *Ops) DoVolumeStep(ctx context.Context, step int) {
	next := o.volume + step
	if next > 100 {
		next = 100
	}
	if next < 0 {
		next = 0
	}
	if next == o.volume {
		o.succeed()
		return
	}
	o.volume = next
	o.applyVolume(ctx)
}

// DoVolume sets an absolute volume in [0.0, 1.0].
func (o *Ops) DoVolume(ctx context.Context, v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.volume = int(v * 100)
	o.applyVolume(ctx)
}

func (o *Ops) applyVolume(ctx context.Context) {
	if len(o.handles) > 0 {
		renderer := o.handles[len(o.handles)-1]
		if err := o.host.SetVolume(ctx, renderer, float64(o.volume)); err != nil {
			o.fail(ErrNotReady, "set volume: %v", err)
			return
		}
	}
	if o.feedback != nil {
		o.feedback.OnVolume(o.volume)
	}
	o.succeed()
}

// DoMute toggles mute on the renderer.
func (o *Ops) DoMute(ctx context.Context) {
	o.muted = !o.muted
	if len(o.handles) > 0 {
		renderer := o.handles[len(o.handles)-1]
		if err := o.host.SetMute(ctx, renderer, o.muted); err != nil {
			o.fail(ErrNotReady, "set mute: %v", err)
			return
		}
	}
	o.succeed()
}

// DoTearDownTunnels releases every tunnel, source-to-sink order.
func (o *Ops) DoTearDownTunnels() {
	for i := 0; i < len(o.handles)-1; i++ {
		outPort := 0
		if i > 0 {
			outPort = 1
		}
		_ = o.host.TearDownTunnel(o.handles[i], outPort, o.handles[i+1], 0)
	}
	o.succeed()
}

// DoDestroyGraph frees every component handle and clears the handle table.
func (o *Ops) DoDestroyGraph(ctx context.Context) {
	for _, h := range o.handles {
		_ = o.host.Free(ctx, h)
	}
	o.handles = nil
	o.names = make(map[omx.Handle]string)
	o.succeed()
}

func reverse(h []omx.Handle) {
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
}
