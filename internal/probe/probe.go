/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package probe implements graphops.Prober against gst-discoverer-1.0, the
// same GStreamer CLI tool the OMX host backend's media pipeline is already
// built from. It inspects a URI without touching any handle.
package probe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/graphops"
)

// GStreamerProber shells out to gst-discoverer-1.0 to classify a URI's
// codec and extract its tags, the same technique and regexp set used to
// parse gst-discoverer-1.0 output for file-backed media analysis.
type GStreamerProber struct {
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGStreamerProber constructs a prober. bin defaults to
// "gst-discoverer-1.0" when empty.
func NewGStreamerProber(bin string, logger zerolog.Logger) *GStreamerProber {
	if bin == "" {
		bin = "gst-discoverer-1.0"
	}
	return &GStreamerProber{
		bin:     bin,
		timeout: 10 * time.Second,
		logger:  logger.With().Str("component", "prober").Logger(),
	}
}

var (
	codecRegex      = regexp.MustCompile(`(?i)audio:\s*(\w+)`)
	bitrateRegex    = regexp.MustCompile(`bitrate:\s*(\d+)`)
	samplerateRegex = regexp.MustCompile(`sample rate:\s*(\d+)`)
	channelsRegex   = regexp.MustCompile(`channels:\s*(\d+)`)

	tagPatterns = map[string]*regexp.Regexp{
		"title":  regexp.MustCompile(`(?i)^\s*title:\s*(.+)$`),
		"artist": regexp.MustCompile(`(?i)^\s*artist:\s*(.+)$`),
		"album":  regexp.MustCompile(`(?i)^\s*album:\s*(.+)$`),
		"genre":  regexp.MustCompile(`(?i)^\s*genre:\s*(.+)$`),
	}
)

// Probe runs gst-discoverer-1.0 against uri and classifies its coding plus
// decoder-relevant parameters. A non-zero exit (unreachable stream,
// unrecognized format) is surfaced as an error; DoProbe's caller turns that
// into ErrContentURI.
func (p *GStreamerProber) Probe(ctx context.Context, uri string) (graphops.ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin, "-v", uri)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return graphops.ProbeResult{}, fmt.Errorf("gst-discoverer: %w", err)
	}

	return parseDiscovererOutput(string(output)), nil
}

func parseDiscovererOutput(output string) graphops.ProbeResult {
	result := graphops.ProbeResult{
		PCMParams:   make(map[string]any),
		CodecParams: make(map[string]any),
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := codecRegex.FindStringSubmatch(line); m != nil && result.Coding == "" {
			result.Coding = strings.ToLower(m[1])
		}
		if m := bitrateRegex.FindStringSubmatch(line); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				result.CodecParams["bitrate"] = v
			}
		}
		if m := samplerateRegex.FindStringSubmatch(line); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				result.PCMParams["sample_rate"] = v
			}
		}
		if m := channelsRegex.FindStringSubmatch(line); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				result.PCMParams["channels"] = v
			}
		}
		for tag, pattern := range tagPatterns {
			if m := pattern.FindStringSubmatch(line); m != nil {
				result.CodecParams[tag] = strings.TrimSpace(m[1])
			}
		}
	}

	return result
}
