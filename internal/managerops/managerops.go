/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package managerops implements the stateless operations vocabulary the
// Manager FSM's actions invoke: obtaining sub-playlists from the main
// playlist, looking up or building the Graph bound to an encoding label,
// and proxying every per-track command to whichever Graph currently holds
// the pipeline.
package managerops

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/graph"
	"github.com/tizonia-go/tizonia/internal/graphfsm"
	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/playlist"
)

// ErrorCode reuses the Graph ops error domain: there is no separate
// Manager-level vocabulary, only a fatal/non-fatal classification over the
// same fixed set of codes.
type ErrorCode = graphops.ErrorCode

// GraphBuilder constructs a fresh, not-yet-loaded Graph bound to feedback
// for the given normalized encoding label. Which OMX host backend and
// which GraphKind/role list a label maps to is the builder's business —
// Ops only ever asks for one by label.
type GraphBuilder interface {
	Build(label string, feedback graphfsm.Feedback) (*graph.Graph, error)
}

type registryEntry struct {
	graph *graph.Graph
}

// Ops is the stateless-with-respect-to-FSM operations object the Manager
// FSM's actions invoke.
type Ops struct {
	mainPlaylist *playlist.Playlist
	registry     map[string]*registryEntry

	current      *graph.Graph
	currentLabel string
	currentSub   *playlist.Playlist

	loadsIssued int
	endOfPlay   bool

	builder  GraphBuilder
	feedback graphfsm.Feedback // installed as every built Graph's observer
	onFatal  func(code ErrorCode, msg string)
	onEOP    func()
	logger   zerolog.Logger

	errCode ErrorCode
	errMsg  string
}

// New constructs Ops around the Manager's main playlist. feedback is the
// Manager itself (it implements graphfsm.Feedback so Graph notifications
// become Manager FSM events); onFatal/onEOP back the termination callback.
func New(pl *playlist.Playlist, builder GraphBuilder, feedback graphfsm.Feedback, onFatal func(ErrorCode, string), onEOP func(), logger zerolog.Logger) *Ops {
	return &Ops{
		mainPlaylist: pl,
		registry:     make(map[string]*registryEntry),
		builder:      builder,
		feedback:     feedback,
		onFatal:      onFatal,
		onEOP:        onEOP,
		logger:       logger.With().Str("component", "manager_ops").Logger(),
	}
}

func (o *Ops) fail(code ErrorCode, format string, args ...any) {
	o.errCode = code
	o.errMsg = fmt.Sprintf(format, args...)
	o.logger.Warn().Str("error_code", code.String()).Str("error_msg", o.errMsg).Msg("manager op failed")
}

func (o *Ops) succeed() {
	o.errCode = graphops.ErrNone
	o.errMsg = ""
}

// LastOpSucceeded reports whether the most recent operation left no error.
func (o *Ops) LastOpSucceeded() bool { return o.errCode == graphops.ErrNone }

// InternalError exposes the last recorded error code for guard checks.
func (o *Ops) InternalError() ErrorCode { return o.errCode }

// ErrorMessage exposes the last recorded error message.
func (o *Ops) ErrorMessage() string { return o.errMsg }

// CurrentGraph exposes the Graph currently holding the pipeline.
func (o *Ops) CurrentGraph() *graph.Graph { return o.current }

// CurrentLabel exposes the current Graph's encoding label.
func (o *Ops) CurrentLabel() string { return o.currentLabel }

// CurrentURI exposes the current sub-playlist's current entry, the URI the
// active Graph is (or is about to be) loaded against.
func (o *Ops) CurrentURI() (string, error) {
	if o.currentSub == nil {
		return "", fmt.Errorf("no current sub-playlist")
	}
	return o.currentSub.CurrentURI()
}

// EndOfPlay reports whether the most recent DoLoad found the main
// playlist's every sub-playlist already visited once, with looping
// disabled — the signal managerfsm uses to route restarting to a clean
// finish instead of another starting cycle.
func (o *Ops) EndOfPlay() bool { return o.endOfPlay }

// DoLoad obtains the next sub-playlist from the main playlist, looks up or
// builds the Graph for that encoding label in the registry, and issues
// load on it. Only one Graph per label ever exists in the registry; a
// prior Graph for the same label is reused as long as it hasn't already
// reached its terminal unloaded state, otherwise a fresh one is built.
//
// Once every sub-playlist has been visited once and the main playlist
// isn't looping, DoLoad stops building new Graphs and sets EndOfPlay
// instead — ObtainNextSubPlaylist itself cycles unconditionally, so this
// bookkeeping is what turns that cycle into a single pass when looping is
// off.
func (o *Ops) DoLoad() {
	o.endOfPlay = false
	if o.mainPlaylist.Empty() {
		o.fail(graphops.ErrContentURI, "empty playlist")
		return
	}

	if !o.mainPlaylist.Loop() && o.loadsIssued >= o.mainPlaylist.SubPlaylistCount() {
		o.endOfPlay = true
		o.succeed()
		return
	}
	o.loadsIssued++

	sub := o.mainPlaylist.ObtainNextSubPlaylist(playlist.DirUp)
	if sub.Empty() {
		o.fail(graphops.ErrContentURI, "empty sub-playlist")
		return
	}
	uri, err := sub.CurrentURI()
	if err != nil {
		o.fail(graphops.ErrContentURI, "sub-playlist current uri: %v", err)
		return
	}
	label := playlist.NormalizeExtension(uri)

	entry, ok := o.registry[label]
	if !ok || entry.graph == nil || entry.graph.Terminated() {
		g, err := o.builder.Build(label, o.feedback)
		if err != nil {
			o.fail(graphops.ErrInsufficientResources, "build graph for %q: %v", label, err)
			return
		}
		entry = &registryEntry{graph: g}
		o.registry[label] = entry
	}

	o.current = entry.graph
	o.currentLabel = label
	o.currentSub = sub

	if err := o.current.Load(); err != nil {
		o.fail(graphops.ErrInsufficientResources, "load: %v", err)
		return
	}
	o.succeed()
}

// DoEraseFailedEntry removes the failing sub-playlist's current URI from the
// main playlist and retreats the main cursor by one position: erase the
// offending entry, retreat, and let the next DoLoad pick up from there. The
// originating Graph is already torn down by the time this runs — InjectFatal
// unwinds it synchronously before graphfsm.Feedback.GraphError fires.
func (o *Ops) DoEraseFailedEntry() {
	if o.currentSub == nil {
		o.fail(graphops.ErrNotReady, "erase failed entry: no current sub-playlist")
		return
	}
	absolute := o.mainPlaylist.Position() + o.currentSub.Position()
	if err := o.mainPlaylist.EraseURI(absolute); err != nil {
		o.fail(graphops.ErrContentURI, "erase failed entry: %v", err)
		return
	}
	o.mainPlaylist.SetPosition(absolute - 1)
	o.succeed()
}

// DoExecute configures the current Graph with the active sub-playlist and
// issues execute.
func (o *Ops) DoExecute() {
	if o.current == nil {
		o.fail(graphops.ErrNotReady, "execute with no current graph")
		return
	}
	if err := o.current.Execute(o.currentSub); err != nil {
		o.fail(graphops.ErrNotReady, "execute: %v", err)
		return
	}
	o.succeed()
}

func (o *Ops) proxy(name string, fn func() error) {
	if o.current == nil {
		o.fail(graphops.ErrNotReady, "%s: no current graph", name)
		return
	}
	if err := fn(); err != nil {
		o.fail(graphops.ErrNotReady, "%s: %v", name, err)
		return
	}
	o.succeed()
}

// DoNext / DoPrev proxy to the current Graph's skip(+1) / skip(-1).
func (o *Ops) DoNext() { o.proxy("next", func() error { return o.current.Skip(1) }) }
func (o *Ops) DoPrev() { o.proxy("prev", func() error { return o.current.Skip(-1) }) }

// DoStop / DoUnload / DoPause / DoVolUp / DoVolDown / DoVol / DoMute proxy
// to the current Graph.
func (o *Ops) DoStop()       { o.proxy("stop", func() error { return o.current.Unload() }) }
func (o *Ops) DoUnload()     { o.proxy("unload", func() error { return o.current.Unload() }) }
func (o *Ops) DoPause()      { o.proxy("pause", func() error { return o.current.Pause() }) }
func (o *Ops) DoVolUp()      { o.proxy("vol_up", func() error { return o.current.VolumeStep(+5) }) }
func (o *Ops) DoVolDown()    { o.proxy("vol_down", func() error { return o.current.VolumeStep(-5) }) }
func (o *Ops) DoMute()       { o.proxy("mute", func() error { return o.current.Mute() }) }
func (o *Ops) DoVol(v float64) {
	o.proxy("vol", func() error { return o.current.Volume(v) })
}

// DoReportFatalError invokes the Manager's termination callback with a
// fatal code and message.
func (o *Ops) DoReportFatalError(code ErrorCode, msg string) {
	if o.onFatal != nil {
		o.onFatal(code, msg)
	}
}

// DoEndOfPlay invokes the termination callback reporting a clean finish.
func (o *Ops) DoEndOfPlay() {
	if o.onEOP != nil {
		o.onEOP()
	}
}

// Deinit stops every registered Graph's goroutine, then clears the registry.
func (o *Ops) Deinit() {
	for _, entry := range o.registry {
		entry.graph.Stop()
	}
	o.registry = make(map[string]*registryEntry)
	o.current = nil
}
