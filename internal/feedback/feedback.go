/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package feedback bridges internal/manager's three caller-supplied hooks
// (termination, volume, metadata) and its pollable State() onto
// internal/events.Bus, so every other passive subscriber — the control
// plane, the play-history recorder, a Redis/NATS relay — sees one common
// event stream instead of each needing its own Manager reference.
package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/events"
	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/manager"
	"github.com/tizonia-go/tizonia/internal/managerfsm"
)

// statePollInterval bounds how quickly an EventManagerStateChanged follows
// the actual transition. Manager exposes no change notification of its
// own, only a State() getter, so this is a poll rather than a push.
const statePollInterval = 200 * time.Millisecond

// Bridge publishes Manager feedback onto a Bus. Its three hook methods are
// passed straight into manager.New; WatchState additionally polls for
// state changes once the Manager is constructed.
type Bridge struct {
	bus    events.Publisher
	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Bridge around bus.
func New(bus events.Publisher, logger zerolog.Logger) *Bridge {
	return &Bridge{bus: bus, logger: logger.With().Str("component", "feedback_bridge").Logger()}
}

// OnTerminate is a manager.TerminationFunc: it classifies the termination
// into quit/end-of-play/fatal-error and publishes the matching event.
func (b *Bridge) OnTerminate(code graphops.ErrorCode, msg string) {
	switch {
	case code == graphops.ErrNone && msg == "":
		b.bus.Publish(events.EventManagerQuit, events.Payload{})
	case code == graphops.ErrNone:
		b.bus.Publish(events.EventManagerEndOfPlay, events.Payload{"message": msg})
	default:
		b.bus.Publish(events.EventManagerFatalError, events.Payload{
			"code":    code.String(),
			"message": msg,
		})
	}
}

// OnVolume publishes a graph.volume event.
func (b *Bridge) OnVolume(percent int) {
	b.bus.Publish(events.EventGraphVolume, events.Payload{"percent": percent})
}

// OnMetadata publishes a graph.metadata event carrying the uri/label the
// probe was run against, so subscribers never need their own Manager
// reference to tell which track a probe result belongs to.
func (b *Bridge) OnMetadata(uri, label string, probe graphops.ProbeResult) {
	b.bus.Publish(events.EventGraphMetadata, events.Payload{
		"uri":          uri,
		"label":        label,
		"coding":       probe.Coding,
		"pcm_params":   probe.PCMParams,
		"codec_params": probe.CodecParams,
	})
}

// WatchState starts a goroutine that polls mgr.State() and publishes
// manager.state_changed on every observed transition. Call Stop to end it.
func (b *Bridge) WatchState(mgr *manager.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(statePollInterval)
		defer ticker.Stop()

		last := managerfsm.State(-1)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur := mgr.State()
				if cur == last {
					continue
				}
				last = cur
				b.bus.Publish(events.EventManagerStateChanged, events.Payload{"state": cur.String()})
			}
		}
	}()
}

// Stop ends the state-watching goroutine, if running.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}
