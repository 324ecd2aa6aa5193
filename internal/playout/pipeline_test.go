/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/config"
)

func TestPipeline_StartWithInput_WritesReachProcess(t *testing.T) {
	cfg := &config.Config{GStreamerBin: "cat"}
	p := NewPipeline(cfg, "test-mount", zerolog.Nop())

	stdin, err := p.StartWithInput(context.Background(), "")
	if err != nil {
		t.Fatalf("StartWithInput() error = %v", err)
	}

	if _, err := stdin.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := stdin.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestPipeline_StartWithInput_RejectsDoubleStart(t *testing.T) {
	cfg := &config.Config{GStreamerBin: "cat"}
	p := NewPipeline(cfg, "test-mount", zerolog.Nop())

	stdin, err := p.StartWithInput(context.Background(), "")
	if err != nil {
		t.Fatalf("StartWithInput() error = %v", err)
	}
	defer stdin.Close()

	if _, err := p.StartWithInput(context.Background(), ""); err == nil {
		t.Error("StartWithInput() on a running pipeline should fail, got nil error")
	}
}

func TestPipeline_Stop_NoopWhenNeverStarted(t *testing.T) {
	cfg := &config.Config{GStreamerBin: "cat"}
	p := NewPipeline(cfg, "test-mount", zerolog.Nop())

	if err := p.Stop(); err != nil {
		t.Errorf("Stop() on unstarted pipeline error = %v, want nil", err)
	}
}

func TestPipeline_StartWithOutput_CapturesStdout(t *testing.T) {
	cfg := &config.Config{GStreamerBin: "echo"}
	p := NewPipeline(cfg, "test-mount", zerolog.Nop())

	captured := make(chan string, 1)
	err := p.StartWithOutput(context.Background(), "payload", func(r io.Reader) {
		b, _ := io.ReadAll(r)
		captured <- string(b)
	})
	if err != nil {
		t.Fatalf("StartWithOutput() error = %v", err)
	}

	select {
	case out := <-captured:
		if out == "" {
			t.Error("expected non-empty captured output")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for captured output")
	}

	_ = p.Stop()
}
