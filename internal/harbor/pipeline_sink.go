/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package harbor

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/config"
	"github.com/tizonia-go/tizonia/internal/playout"
)

// PipelineSink feeds decoded harbor audio into a GStreamer re-encode
// pipeline instead of a plain capture file, so an inbound source connection
// can be pushed back out at a different bitrate/format (e.g. HQ/LQ mirrors
// of the same live mount).
type PipelineSink struct {
	pipeline *playout.Pipeline
	launch   string

	mu    sync.Mutex
	stdin io.WriteCloser
}

// NewPipelineSink constructs a sink that lazily starts its pipeline on the
// first Write, so a mount with no connected source never spawns a process.
func NewPipelineSink(cfg *config.Config, mountID, launch string, logger zerolog.Logger) *PipelineSink {
	return &PipelineSink{
		pipeline: playout.NewPipeline(cfg, mountID, logger),
		launch:   launch,
	}
}

// Write implements Sink, starting the pipeline on first use.
func (s *PipelineSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		stdin, err := s.pipeline.StartWithInput(context.Background(), s.launch)
		if err != nil {
			return 0, fmt.Errorf("start re-encode pipeline: %w", err)
		}
		s.stdin = stdin
	}

	return s.stdin.Write(p)
}

// Close ends the re-encode pipeline, if running.
func (s *PipelineSink) Close() error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	return s.pipeline.Stop()
}
