/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists a log of what played, as a passive subscriber
// to the Manager's feedback events. It never gates or informs playback
// decisions — the core runs with no on-disk state whether or not a
// history backend is configured.
package history

import "time"

// Entry is one played-or-attempted item.
type Entry struct {
	ID        uint `gorm:"primaryKey"`
	URI       string
	Label     string
	StartedAt time.Time
	EndedAt   *time.Time
	ErrorCode string
}

// TableName pins the table name independent of the struct name, so a
// rename here doesn't silently migrate data into a new table.
func (Entry) TableName() string {
	return "play_history"
}
