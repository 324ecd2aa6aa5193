/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import "testing"

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.2.0", "1.1.9", 1},
		{"v2.0.0", "1.9.9", 1},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTruncateNotes(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"short string unchanged", "fix a bug", 20, "fix a bug"},
		{"takes first line only", "line one\nline two", 20, "line one"},
		{"truncates with ellipsis", "this is a very long changelog entry", 10, "this is..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateNotes(tt.s, tt.maxLen); got != tt.want {
				t.Errorf("truncateNotes() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckerInfoDefaultsBeforeFirstCheck(t *testing.T) {
	c := &Checker{}
	info := c.Info()
	if info.CurrentVersion != Version {
		t.Errorf("Info().CurrentVersion = %q, want %q", info.CurrentVersion, Version)
	}
}
