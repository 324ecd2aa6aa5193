/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Manager lifecycle: the upper-tier FSM's own state transitions,
	// published for any passive subscriber (control-plane websocket,
	// play-history recorder, external dashboards) that wants to observe
	// playback without sitting on the FSM's own dispatch path.
	EventManagerStateChanged EventType = "manager.state_changed"
	EventManagerStarted      EventType = "manager.started"
	EventManagerStopped      EventType = "manager.stopped"
	EventManagerQuit         EventType = "manager.quit"
	EventManagerFatalError   EventType = "manager.fatal_error"
	EventManagerEndOfPlay    EventType = "manager.end_of_play"

	// Graph feedback: one per graphfsm.Feedback notification, mirrored
	// here so subscribers don't need to implement that interface
	// themselves.
	EventGraphLoaded   EventType = "graph.loaded"
	EventGraphExecd    EventType = "graph.execd"
	EventGraphPaused   EventType = "graph.paused"
	EventGraphUnpaused EventType = "graph.unpaused"
	EventGraphUnloaded EventType = "graph.unloaded"
	EventGraphError    EventType = "graph.error"
	EventGraphVolume   EventType = "graph.volume"
	EventGraphMetadata EventType = "graph.metadata"

	// Playlist cursor movement, published whenever the main or a
	// sub-playlist's position changes (Next/Prev/Skip or an implicit
	// advance after a transient error or natural end-of-stream).
	EventPlaylistAdvanced EventType = "playlist.advanced"

	// Audit events, for control-plane operations that need an explicit
	// record independent of the now-playing stream.
	EventAuditControlStart EventType = "audit.control.start"
	EventAuditControlStop  EventType = "audit.control.stop"
	EventAuditControlQuit  EventType = "audit.control.quit"

	// Harbor inbound-stream source connection lifecycle.
	EventHarborSourceConnected    EventType = "harbor.source_connected"
	EventHarborSourceDisconnected EventType = "harbor.source_disconnected"
	EventHarborMetadataUpdated    EventType = "harbor.metadata_updated"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is the seam every feedback publisher/subscriber in this
// workspace depends on, rather than *Bus directly: both Bus itself and
// internal/eventbus's Redis/NATS-backed variants satisfy it, so a single
// process can run with purely in-memory delivery or with cross-node
// fan-out without its Manager/server/harbor/history wiring changing.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
