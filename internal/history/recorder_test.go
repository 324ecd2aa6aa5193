/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package history

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tizonia-go/tizonia/internal/events"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRecorderWritesEntryOnMetadata(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewBus()
	r := NewRecorder(db, bus, zerolog.Nop())
	r.Start()
	defer r.Stop()

	bus.Publish(events.EventGraphMetadata, events.Payload{"uri": "file:///a.mp3", "label": "Track A"})

	waitForCondition(t, func() bool {
		var count int64
		db.Model(&Entry{}).Count(&count)
		return count == 1
	})

	var entry Entry
	if err := db.First(&entry).Error; err != nil {
		t.Fatalf("first: %v", err)
	}
	if entry.URI != "file:///a.mp3" || entry.Label != "Track A" {
		t.Errorf("entry = %+v, want uri/label set", entry)
	}
	if entry.EndedAt != nil {
		t.Errorf("expected EndedAt nil while still current, got %v", entry.EndedAt)
	}
}

func TestRecorderClosesEntryOnAdvance(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewBus()
	r := NewRecorder(db, bus, zerolog.Nop())
	r.Start()
	defer r.Stop()

	bus.Publish(events.EventGraphMetadata, events.Payload{"uri": "file:///a.mp3"})
	waitForCondition(t, func() bool {
		var count int64
		db.Model(&Entry{}).Count(&count)
		return count == 1
	})

	bus.Publish(events.EventPlaylistAdvanced, events.Payload{})
	waitForCondition(t, func() bool {
		var entry Entry
		db.First(&entry)
		return entry.EndedAt != nil
	})
}

func TestRecorderIgnoresRepeatedMetadataForSameURI(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewBus()
	r := NewRecorder(db, bus, zerolog.Nop())
	r.Start()
	defer r.Stop()

	bus.Publish(events.EventGraphMetadata, events.Payload{"uri": "file:///a.mp3"})
	waitForCondition(t, func() bool {
		var count int64
		db.Model(&Entry{}).Count(&count)
		return count == 1
	})
	bus.Publish(events.EventGraphMetadata, events.Payload{"uri": "file:///a.mp3"})

	time.Sleep(50 * time.Millisecond)
	var count int64
	db.Model(&Entry{}).Count(&count)
	if count != 1 {
		t.Errorf("expected a single entry for a repeated uri, got %d", count)
	}
}

func TestRecorderStopClosesInFlightEntry(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewBus()
	r := NewRecorder(db, bus, zerolog.Nop())
	r.Start()

	bus.Publish(events.EventGraphMetadata, events.Payload{"uri": "file:///a.mp3"})
	waitForCondition(t, func() bool {
		var count int64
		db.Model(&Entry{}).Count(&count)
		return count == 1
	})

	r.Stop()

	var entry Entry
	if err := db.First(&entry).Error; err != nil {
		t.Fatalf("first: %v", err)
	}
	if entry.EndedAt == nil {
		t.Error("expected Stop to close the in-flight entry")
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
