/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tizonia-go/tizonia/internal/config"
	"github.com/tizonia-go/tizonia/internal/events"
)

// Connect establishes a gorm DB connection for the configured history
// backend and runs the migration for Entry.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.HistoryBackend {
	case config.HistoryPostgres:
		dialector = postgres.Open(cfg.HistoryDSN)
	case config.HistoryMySQL:
		dialector = mysql.Open(cfg.HistoryDSN)
	case config.HistorySQLite:
		dialector = sqlite.Open(cfg.HistoryDSN)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", cfg.HistoryBackend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate play_history: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Recorder subscribes to the Manager's feedback bus and appends one Entry
// per item played. It never blocks or influences the Manager: if a write
// fails it is logged and dropped, the bus doesn't see a slow consumer.
type Recorder struct {
	db     *gorm.DB
	bus    events.Publisher
	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *Entry
}

// NewRecorder constructs a Recorder. Call Start to begin consuming events.
func NewRecorder(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *Recorder {
	return &Recorder{db: db, bus: bus, logger: logger.With().Str("component", "history").Logger()}
}

// Start begins consuming metadata and playlist-advance events in a
// background goroutine. Call Stop to end it.
func (r *Recorder) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	metadata := r.bus.Subscribe(events.EventGraphMetadata)
	advanced := r.bus.Subscribe(events.EventPlaylistAdvanced)
	fatal := r.bus.Subscribe(events.EventManagerFatalError)

	r.wg.Add(1)
	go r.run(ctx, metadata, advanced, fatal)
}

// Stop ends the background goroutine and waits for it to exit.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Recorder) run(ctx context.Context, metadata, advanced, fatal events.Subscriber) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			r.closeCurrent(nil)
			return
		case payload := <-metadata:
			r.onMetadata(payload)
		case payload := <-advanced:
			r.onAdvanced(payload)
		case payload := <-fatal:
			r.onFatal(payload)
		}
	}
}

func (r *Recorder) onMetadata(payload events.Payload) {
	uri, _ := payload["uri"].(string)
	label, _ := payload["label"].(string)
	if uri == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.current.URI == uri {
		return
	}
	r.closeCurrentLocked(nil)

	entry := &Entry{URI: uri, Label: label, StartedAt: time.Now()}
	if err := r.db.Create(entry).Error; err != nil {
		r.logger.Warn().Err(err).Str("uri", uri).Msg("history write failed")
		return
	}
	r.current = entry
}

func (r *Recorder) onAdvanced(events.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCurrentLocked(nil)
}

func (r *Recorder) onFatal(payload events.Payload) {
	code, _ := payload["code"].(string)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCurrentLocked(&code)
}

func (r *Recorder) closeCurrent(errorCode *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCurrentLocked(errorCode)
}

func (r *Recorder) closeCurrentLocked(errorCode *string) {
	if r.current == nil {
		return
	}
	now := time.Now()
	r.current.EndedAt = &now
	if errorCode != nil {
		r.current.ErrorCode = *errorCode
	}
	if err := r.db.Save(r.current).Error; err != nil {
		r.logger.Warn().Err(err).Uint("id", r.current.ID).Msg("history close failed")
	}
	r.current = nil
}
