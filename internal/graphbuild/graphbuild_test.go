/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package graphbuild

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/config"
	"github.com/tizonia-go/tizonia/internal/graphops"
)

type fakeProber struct{}

func (fakeProber) Probe(context.Context, string) (graphops.ProbeResult, error) {
	return graphops.ProbeResult{Coding: "mp3"}, nil
}

type fakeFeedback struct{ volumes []int }

func (f *fakeFeedback) GraphLoaded()                              {}
func (f *fakeFeedback) GraphExecd()                               {}
func (f *fakeFeedback) GraphPaused()                              {}
func (f *fakeFeedback) GraphUnpaused()                            {}
func (f *fakeFeedback) GraphUnloaded()                            {}
func (f *fakeFeedback) GraphEndOfPlay()                           {}
func (f *fakeFeedback) GraphError(graphops.ErrorCode, string)     {}
func (f *fakeFeedback) GraphVolume(percent int)                   { f.volumes = append(f.volumes, percent) }
func (f *fakeFeedback) GraphMetadata(graphops.ProbeResult)        {}

func testBuilder() *Builder {
	return New(Config{
		OMXBackend:             config.OMXBackendFake,
		QueueCapacity:          30,
		GraphTransitionTimeout: time.Second,
	}, fakeProber{}, zerolog.Nop())
}

func TestBuildKnownLabel(t *testing.T) {
	b := testBuilder()
	g, err := b.Build("mp3", &fakeFeedback{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g == nil {
		t.Fatal("Build returned nil graph")
	}
}

func TestBuildUnknownLabel(t *testing.T) {
	b := testBuilder()
	if _, err := b.Build("wav", &fakeFeedback{}); err == nil {
		t.Fatal("expected error for unknown label")
	}
}

func TestBuildRejectsUnsupportedBackend(t *testing.T) {
	b := New(Config{OMXBackend: "bogus"}, fakeProber{}, zerolog.Nop())
	if _, err := b.Build("mp3", &fakeFeedback{}); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}
