/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/events"
)

// PostgresBus fans internal/events.Bus traffic out across processes using
// Postgres LISTEN/NOTIFY: every local Publish also runs pg_notify on a
// channel keyed on event type, and every subscription opens a pq.Listener
// on that channel so events published by another node's Manager arrive
// locally too. Unlike RedisBus/NATSBus this needs no broker beyond the
// Postgres instance already backing internal/history, which is why it
// exists as a third feedback transport choice rather than only a history
// sink — a deployment already running Postgres for play-history gets
// cross-node feedback fan-out for free. It degrades to the in-memory
// fallback bus alone if Postgres is unreachable at construction time.
type PostgresBus struct {
	logger   zerolog.Logger
	fallback *events.Bus
	db       *sql.DB
	listener *pq.Listener
	nodeID   string

	mu        sync.Mutex
	listening map[events.EventType]bool
}

// PostgresFeedbackConfig contains Postgres LISTEN/NOTIFY connection
// configuration.
type PostgresFeedbackConfig struct {
	DSN string

	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
}

// DefaultPostgresFeedbackConfig returns default Postgres feedback bus
// configuration.
func DefaultPostgresFeedbackConfig() PostgresFeedbackConfig {
	return PostgresFeedbackConfig{
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
	}
}

// NewPostgresBus creates a Postgres-backed event bus. Falls back to
// in-memory delivery only if Postgres is unreachable at construction time.
func NewPostgresBus(cfg PostgresFeedbackConfig, nodeID string, logger zerolog.Logger) (*PostgresBus, error) {
	log := logger.With().Str("component", "eventbus.postgres").Logger()

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres feedback bus: %w", err)
	}
	if err := db.Ping(); err != nil {
		log.Warn().Err(err).Msg("Postgres event bus unavailable, using in-memory fallback only")
		db.Close()
		return &PostgresBus{
			logger:   log,
			fallback: events.NewBus(),
			nodeID:   nodeID,
		}, nil
	}

	pb := &PostgresBus{
		logger:    log,
		fallback:  events.NewBus(),
		db:        db,
		nodeID:    nodeID,
		listening: make(map[events.EventType]bool),
	}

	eventCallback := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("postgres listener event")
		}
	}
	pb.listener = pq.NewListener(cfg.DSN, cfg.MinReconnectInterval, cfg.MaxReconnectInterval, eventCallback)
	go pb.relay()

	return pb, nil
}

// Subscribe registers a local subscriber and, if Postgres is available,
// opens a LISTEN on that event type's channel the first time it's asked
// for.
func (pb *PostgresBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := pb.fallback.Subscribe(eventType)
	if pb.listener == nil {
		return sub
	}

	pb.mu.Lock()
	already := pb.listening[eventType]
	pb.listening[eventType] = true
	pb.mu.Unlock()

	if !already {
		if err := pb.listener.Listen(string(eventType)); err != nil {
			pb.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("postgres listen failed")
		}
	}
	return sub
}

// relay reads notifications off the shared pq.Listener connection and
// republishes them into the local fallback bus.
func (pb *PostgresBus) relay() {
	for n := range pb.listener.Notify {
		if n == nil {
			continue // reconnect: pq sends a nil notification after re-establishing LISTENs
		}
		parsed, err := unmarshalPostgresMessage([]byte(n.Extra))
		if err != nil {
			pb.logger.Debug().Err(err).Msg("failed to unmarshal postgres notify payload")
			continue
		}
		if parsed.NodeID == pb.nodeID {
			continue // don't loop our own publish back in
		}
		pb.fallback.Publish(events.EventType(n.Channel), parsed.Payload)
	}
}

// Publish delivers payload to local subscribers and, if Postgres is
// available, notifies every other node's subscribers too via pg_notify.
func (pb *PostgresBus) Publish(eventType events.EventType, payload events.Payload) {
	pb.fallback.Publish(eventType, payload)

	if pb.db == nil {
		return
	}
	data, err := marshalPostgresMessage(payload, pb.nodeID)
	if err != nil {
		pb.logger.Debug().Err(err).Msg("failed to marshal postgres notify payload")
		return
	}
	if _, err := pb.db.Exec("SELECT pg_notify($1, $2)", string(eventType), data); err != nil {
		pb.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("postgres notify failed")
	}
}

// Unsubscribe removes a local subscriber. The underlying LISTEN is left in
// place: channels are cheap and another subscriber for the same event type
// may still be active.
func (pb *PostgresBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	pb.fallback.Unsubscribe(eventType, sub)
}

// Close stops the listener goroutine and closes both Postgres connections.
func (pb *PostgresBus) Close() error {
	if pb.listener != nil {
		pb.listener.Close()
	}
	if pb.db != nil {
		return pb.db.Close()
	}
	return nil
}

// postgresMessage is the JSON envelope carried as a NOTIFY payload. It
// omits the event type: pg_notify's channel argument already carries that,
// unlike Redis/NATS where the subject/channel and message are more loosely
// coupled.
type postgresMessage struct {
	Payload events.Payload `json:"payload"`
	NodeID  string         `json:"node_id"`
}

func marshalPostgresMessage(payload events.Payload, nodeID string) (string, error) {
	data, err := json.Marshal(postgresMessage{Payload: payload, NodeID: nodeID})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalPostgresMessage(data []byte) (*postgresMessage, error) {
	var msg postgresMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal postgres notify payload: %w", err)
	}
	return &msg, nil
}
