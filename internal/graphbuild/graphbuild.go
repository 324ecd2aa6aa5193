/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package graphbuild is the concrete managerops.GraphBuilder: it turns a
// normalized file-extension label into the GraphKind, OMX host, and ops
// stack a Graph needs, and wires a fresh Graph around them.
package graphbuild

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/collector"
	"github.com/tizonia-go/tizonia/internal/config"
	"github.com/tizonia-go/tizonia/internal/graph"
	"github.com/tizonia-go/tizonia/internal/graphfsm"
	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/omx"
)

// kindTemplate describes one label's pipeline shape, independent of which
// OMX host backend ultimately realizes it.
type kindTemplate struct {
	decoderRole              string
	needsPortDisabled        bool
	needsPortSettingsChanged bool
}

// kindTemplates covers every decoder role internal/omx's GStreamer backend
// knows how to stand in for.
var kindTemplates = map[string]kindTemplate{
	"mp3":  {decoderRole: "audio_decoder.mp3"},
	"flac": {decoderRole: "audio_decoder.flac", needsPortSettingsChanged: true},
	"ogg":  {decoderRole: "audio_decoder.vorbis", needsPortSettingsChanged: true},
	"opus": {decoderRole: "audio_decoder.opus", needsPortSettingsChanged: true},
}

// Builder implements managerops.GraphBuilder against one OMX host backend.
type Builder struct {
	cfg    Config
	prober graphops.Prober
	logger zerolog.Logger
}

// Config carries the subset of process configuration a Builder needs to
// construct hosts and graphs.
type Config struct {
	OMXBackend             config.OMXBackend
	GStreamerBin           string
	QueueCapacity          int
	GraphTransitionTimeout time.Duration
}

// New constructs a Builder. prober is shared across every Graph it builds —
// probing carries no pipeline-instance state of its own.
func New(cfg Config, prober graphops.Prober, logger zerolog.Logger) *Builder {
	return &Builder{cfg: cfg, prober: prober, logger: logger}
}

// Build implements managerops.GraphBuilder.
func (b *Builder) Build(label string, feedback graphfsm.Feedback) (*graph.Graph, error) {
	tmpl, ok := kindTemplates[label]
	if !ok {
		return nil, fmt.Errorf("graphbuild: no pipeline template for label %q", label)
	}

	kind := graphops.GraphKind{
		Name:                     label,
		Roles:                    []string{"audio_source.file", tmpl.decoderRole, "audio_renderer.pcm"},
		NeedsPortDisabled:        tmpl.needsPortDisabled,
		NeedsPortSettingsChanged: tmpl.needsPortSettingsChanged,
		ProbeStreamHook:          func(graphops.ProbeResult) bool { return true },
		ConfigureHook:            configureSourceURI,
	}

	host, err := b.newHost()
	if err != nil {
		return nil, err
	}

	coll := collector.New()
	ops := graphops.New(host, kind, b.prober, coll.Expected, volumeSink{feedback}, b.logger)
	g := graph.New(host, ops, coll, kind, feedback, b.cfg.QueueCapacity, b.cfg.GraphTransitionTimeout, b.logger)
	return g, nil
}

func (b *Builder) newHost() (omx.Host, error) {
	switch b.cfg.OMXBackend {
	case config.OMXBackendGStreamer:
		return omx.NewGStreamerHost(omx.GStreamerHostConfig{Binary: b.cfg.GStreamerBin}, b.logger), nil
	case config.OMXBackendFake:
		return omx.NewFakeHost(), nil
	default:
		return nil, fmt.Errorf("graphbuild: unsupported omx backend %q", b.cfg.OMXBackend)
	}
}

// configureSourceURI is every GraphKind's ConfigureHook: the source role
// never carries its URI until a sub-playlist entry is probed, so it is
// pushed in here rather than at DoLoad/Instantiate time. A probe that
// resolved a remote URI to a local scratch file (s3fetch.WrapProber) takes
// priority over the original playlist entry, since the source component
// can only open a local path or an HTTP(S) stream.
func configureSourceURI(ctx context.Context, ops *graphops.Ops, uri string, probe graphops.ProbeResult) error {
	if probe.ResolvedPath != "" {
		uri = probe.ResolvedPath
	}
	return ops.SetSourceURI(ctx, uri)
}

// volumeSink adapts graphfsm.Feedback's GraphVolume into the
// graphops.FeedbackSink seam, since one Graph's Feedback is always its
// owning Manager and Manager never implements FeedbackSink directly.
type volumeSink struct {
	feedback graphfsm.Feedback
}

func (v volumeSink) OnVolume(percent int) { v.feedback.GraphVolume(percent) }
