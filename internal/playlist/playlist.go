/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist implements the ordered URI list that feeds the Graph
// orchestration core: navigation (skip/position), sub-playlist discovery by
// file extension, and before-begin/past-end cursor semantics.
package playlist

import (
	"errors"
	"math/rand"
	"path"
	"strings"
	"time"
)

// SingleFormat caches whether every entry shares one file extension.
type SingleFormat int

const (
	SingleFormatUnknown SingleFormat = iota
	SingleFormatYes
	SingleFormatNo
)

// Direction selects which way obtain_next_sub_playlist walks the cached
// sub-list boundaries.
type Direction int

const (
	DirUp Direction = iota
	DirDown
)

var (
	// ErrOutOfRange is returned by CurrentURI when the cursor is
	// before-begin or past-end.
	ErrOutOfRange = errors.New("playlist: position out of range")
	// ErrEraseOutOfRange is returned by EraseURI for an invalid position.
	ErrEraseOutOfRange = errors.New("playlist: erase position out of range")
)

// Playlist is an ordered sequence of URIs with a cursor that may run
// before-begin (negative) or past-end (>= size) when looping is disabled.
type Playlist struct {
	uris     []string
	position int
	loop     bool
	shuffle  bool

	singleFormat   SingleFormat
	boundaries     []int // begins at 0, ends at size(); one entry per extension run
	currentSubList int
}

// New constructs a Playlist from uris. When shuffle is true, the list is
// permuted exactly once here, seeded from wall-clock time — shuffle never
// re-applies later in the Playlist's lifetime.
func New(uris []string, loop, shuffle bool) *Playlist {
	cp := make([]string, len(uris))
	copy(cp, uris)

	if shuffle {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		r.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	}

	p := &Playlist{
		uris:           cp,
		loop:           loop,
		shuffle:        shuffle,
		currentSubList: -1,
	}
	p.scanSubLists()
	return p
}

// NormalizeExtension lowercases and strips the leading dot from a URI's file
// extension, so "MP3" and ".mp3" compare equal. Shared, per the Open
// Question decision on canonicalization, by both sub-list discovery here and
// the Manager registry's encoding-label key.
func NormalizeExtension(uri string) string {
	ext := path.Ext(uri)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func (p *Playlist) scanSubLists() {
	p.boundaries = nil
	if len(p.uris) == 0 {
		return
	}

	position := 0
	for position < len(p.uris) {
		p.boundaries = append(p.boundaries, position)
		position = p.nextSubListStart(position)
	}
	p.boundaries = append(p.boundaries, len(p.uris))

	p.singleFormat = SingleFormatYes
	first := NormalizeExtension(p.uris[0])
	for _, u := range p.uris[1:] {
		if NormalizeExtension(u) != first {
			p.singleFormat = SingleFormatNo
			break
		}
	}
}

// nextSubListStart scans forward from position while the extension matches,
// returning the index of the first entry with a different extension (or
// size() if the run reaches the end).
func (p *Playlist) nextSubListStart(position int) int {
	current := NormalizeExtension(p.uris[position])
	i := position
	for ; i < len(p.uris); i++ {
		if NormalizeExtension(p.uris[i]) != current {
			break
		}
	}
	return i
}

// Size returns the number of URIs in the playlist.
func (p *Playlist) Size() int { return len(p.uris) }

// Empty reports whether the playlist has no entries.
func (p *Playlist) Empty() bool { return len(p.uris) == 0 }

// Position returns the raw cursor, which may be negative or >= Size().
func (p *Playlist) Position() int { return p.position }

// BeforeBegin reports whether the cursor has run off the start.
func (p *Playlist) BeforeBegin() bool { return p.position < 0 }

// PastEnd reports whether the cursor has run off the end.
func (p *Playlist) PastEnd() bool { return p.position >= len(p.uris) }

// Loop reports whether looped playback is enabled.
func (p *Playlist) Loop() bool { return p.loop }

// SetLoopPlayback toggles looped playback.
func (p *Playlist) SetLoopPlayback(loop bool) { p.loop = loop }

// SingleFormatClassification returns the cached single/multi-format verdict.
func (p *Playlist) SingleFormatClassification() SingleFormat { return p.singleFormat }

// SingleFormatBool reports true iff every entry shares one extension.
func (p *Playlist) SingleFormatBool() bool {
	return p.singleFormat == SingleFormatYes
}

// Skip advances the cursor by jump. With looping enabled the cursor wraps
// modulo size (negative overflow wraps to size-|jump|); without looping the
// cursor is left before-begin/past-end for the caller to observe.
func (p *Playlist) Skip(jump int) {
	if len(p.uris) == 0 {
		return
	}
	p.position += jump
	if p.loop {
		p.wrap()
	}
}

func (p *Playlist) wrap() {
	n := len(p.uris)
	if p.position < 0 {
		p.position = n - abs(p.position)
	} else if p.position >= n {
		p.position %= n
	}
}

// SetPosition clamps position into range using the same wrap rule as Skip:
// modulo for positive overflow, size-|p| for negative.
func (p *Playlist) SetPosition(position int) {
	if len(p.uris) == 0 {
		return
	}
	n := len(p.uris)
	if position >= n {
		position %= n
	} else if position < 0 {
		position = n - abs(position)
	}
	p.position = position
}

// CurrentURI returns the URI at the current position. Callers must check
// BeforeBegin/PastEnd first; CurrentURI returns ErrOutOfRange otherwise.
func (p *Playlist) CurrentURI() (string, error) {
	if p.position < 0 || p.position >= len(p.uris) {
		return "", ErrOutOfRange
	}
	return p.uris[p.position], nil
}

// EraseURI removes the entry at position (used when probing rejects it) and
// rescans sub-list boundaries, since removing an entry can merge or split
// extension runs.
func (p *Playlist) EraseURI(position int) error {
	if position < 0 || position >= len(p.uris) {
		return ErrEraseOutOfRange
	}
	p.uris = append(p.uris[:position], p.uris[position+1:]...)
	p.scanSubLists()
	return nil
}

// SubPlaylistCount returns how many maximal same-extension runs the
// playlist scans into, at least 1 for any non-empty playlist.
func (p *Playlist) SubPlaylistCount() int {
	if len(p.boundaries) == 0 {
		return 0
	}
	if n := len(p.boundaries) - 1; n > 0 {
		return n
	}
	return 1
}

// ObtainNextSubPlaylist returns the next/previous maximal run of entries
// sharing one extension. An empty or single-format playlist returns a copy
// of the whole list. The returned playlist's position is set to the run's
// start when walking forward, to the run's end when walking backward.
func (p *Playlist) ObtainNextSubPlaylist(dir Direction) *Playlist {
	if len(p.uris) == 0 || p.SingleFormatBool() {
		return New(p.uris, p.loop, false)
	}

	subLists := len(p.boundaries) - 1
	switch dir {
	case DirUp:
		p.currentSubList++
		if p.currentSubList >= subLists {
			p.currentSubList = 0
		}
	case DirDown:
		if p.currentSubList <= 0 {
			p.currentSubList = subLists
		}
		p.currentSubList--
	}

	start := p.boundaries[p.currentSubList]
	end := p.boundaries[p.currentSubList+1]

	run := New(p.uris[start:end], p.loop, false)
	if dir == DirUp {
		run.position = 0
	} else {
		run.position = len(run.uris) - 1
	}
	p.position = start
	return run
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
