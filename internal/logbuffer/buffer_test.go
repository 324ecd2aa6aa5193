/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"testing"
	"time"
)

func TestBufferAddAndGetAll(t *testing.T) {
	b := New(3)
	b.Add(LogEntry{Message: "one", Level: "info"})
	b.Add(LogEntry{Message: "two", Level: "warn"})

	all := b.GetAll()
	if len(all) != 2 {
		t.Fatalf("GetAll() len = %d, want 2", len(all))
	}
	if all[0].Message != "one" || all[1].Message != "two" {
		t.Errorf("GetAll() order = %+v", all)
	}
}

func TestBufferWrapsAtCapacity(t *testing.T) {
	b := New(2)
	b.Add(LogEntry{Message: "one"})
	b.Add(LogEntry{Message: "two"})
	b.Add(LogEntry{Message: "three"})

	all := b.GetAll()
	if len(all) != 2 {
		t.Fatalf("GetAll() len = %d, want 2", len(all))
	}
	if all[0].Message != "two" || all[1].Message != "three" {
		t.Errorf("GetAll() after wrap = %+v, want [two three]", all)
	}
}

func TestBufferQueryFilters(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Message: "started manager", Level: "info", Component: "manager"})
	b.Add(LogEntry{Message: "graph error", Level: "error", Component: "graph"})
	b.Add(LogEntry{Message: "started graph", Level: "info", Component: "graph"})

	byLevel := b.Query(QueryParams{Level: "error"})
	if len(byLevel) != 1 || byLevel[0].Message != "graph error" {
		t.Errorf("Query(level=error) = %+v", byLevel)
	}

	byComponent := b.Query(QueryParams{Component: "graph"})
	if len(byComponent) != 2 {
		t.Errorf("Query(component=graph) len = %d, want 2", len(byComponent))
	}

	bySearch := b.Query(QueryParams{Search: "manager"})
	if len(bySearch) != 1 {
		t.Errorf("Query(search=manager) len = %d, want 1", len(bySearch))
	}

	descending := b.Query(QueryParams{Descending: true})
	if descending[0].Message != "started graph" {
		t.Errorf("Query(descending) first = %q, want %q", descending[0].Message, "started graph")
	}

	limited := b.Query(QueryParams{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Query(limit=1) len = %d, want 1", len(limited))
	}
}

func TestBufferQuerySinceFilter(t *testing.T) {
	b := New(10)
	cutoff := time.Now()
	b.Add(LogEntry{Message: "old", Timestamp: cutoff.Add(-time.Hour)})
	b.Add(LogEntry{Message: "new", Timestamp: cutoff.Add(time.Hour)})

	recent := b.Query(QueryParams{Since: cutoff})
	if len(recent) != 1 || recent[0].Message != "new" {
		t.Errorf("Query(since) = %+v, want only \"new\"", recent)
	}
}

func TestBufferStats(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Level: "info"})
	b.Add(LogEntry{Level: "info"})
	b.Add(LogEntry{Level: "error"})

	stats := b.Stats()
	if stats.Count != 3 {
		t.Errorf("Stats().Count = %d, want 3", stats.Count)
	}
	if stats.LevelCount["info"] != 2 || stats.LevelCount["error"] != 1 {
		t.Errorf("Stats().LevelCount = %+v", stats.LevelCount)
	}
}

func TestBufferGetComponents(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Component: "manager"})
	b.Add(LogEntry{Component: "graph"})
	b.Add(LogEntry{Component: "manager"})

	components := b.GetComponents()
	if len(components) != 2 {
		t.Errorf("GetComponents() = %v, want 2 unique components", components)
	}
}

func TestBufferClear(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Message: "one"})
	b.Clear()
	if len(b.GetAll()) != 0 {
		t.Error("Clear() did not empty the buffer")
	}
}

func TestWriterParsesJSONLogLine(t *testing.T) {
	buf := New(10)
	w := NewWriter(buf, nil)

	line := `{"level":"info","message":"graph started","component":"graph","mount":"live"}`
	if _, err := w.Write([]byte(line)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	all := buf.GetAll()
	if len(all) != 1 {
		t.Fatalf("buffer len = %d, want 1", len(all))
	}
	entry := all[0]
	if entry.Level != "info" || entry.Message != "graph started" || entry.Component != "graph" {
		t.Errorf("parsed entry = %+v", entry)
	}
	if entry.Fields["mount"] != "live" {
		t.Errorf("Fields[mount] = %v, want %q", entry.Fields["mount"], "live")
	}
}
