/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package omx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeHost is an in-memory Host that completes every command immediately
// (or after an injected delay), with no subprocess and no real media I/O.
// It exists for internal/graph and internal/manager tests, which favor
// small, fast, synchronous fakes over network or process mocks — this is
// that fake for the OMX seam.
type FakeHost struct {
	// CmdDelay, if non-zero, is applied before emitting a command's
	// completion event — useful for exercising per-transition timeouts.
	CmdDelay time.Duration
	// FailRole, if set, makes SendCommand raise EventError instead of
	// EventCmdComplete for handles instantiated with this role.
	FailRole string

	mu         sync.Mutex
	components map[Handle]ComponentSpec
	handler    EventHandler
	volume     map[Handle]float64
	muted      map[Handle]bool
}

// NewFakeHost constructs a ready-to-use FakeHost.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		components: make(map[Handle]ComponentSpec),
		volume:     make(map[Handle]float64),
		muted:      make(map[Handle]bool),
	}
}

func (f *FakeHost) SetEventHandler(handler EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *FakeHost) Instantiate(_ context.Context, spec ComponentSpec) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := Handle(uuid.NewString())
	f.components[h] = spec
	return h, nil
}

func (f *FakeHost) Free(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.components[h]; !ok {
		return ErrUnknownHandle
	}
	delete(f.components, h)
	return nil
}

// SetContentURI records uri against handle for test assertions via ContentURI.
func (f *FakeHost) SetContentURI(_ context.Context, h Handle, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.components[h]
	if !ok {
		return ErrUnknownHandle
	}
	spec.URI = uri
	f.components[h] = spec
	return nil
}

// ContentURI returns the URI last set on a handle, for test assertions.
func (f *FakeHost) ContentURI(h Handle) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.components[h].URI
}

func (f *FakeHost) Tunnel(Handle, int, Handle, int) error         { return nil }
func (f *FakeHost) TearDownTunnel(Handle, int, Handle, int) error { return nil }

func (f *FakeHost) SendCommand(_ context.Context, h Handle, cmd CommandType, param uint32) error {
	f.mu.Lock()
	spec, ok := f.components[h]
	failRole := f.FailRole
	delay := f.CmdDelay
	handler := f.handler
	f.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		if handler == nil {
			return
		}
		if failRole != "" && spec.Role == failRole {
			handler(Event{Handle: h, Type: EventError, Data1: uint32(cmd), Err: ErrComponentFailure})
			return
		}
		handler(Event{Handle: h, Type: EventCmdComplete, Data1: uint32(cmd), Data2: param})
	}()
	return nil
}

func (f *FakeHost) SetVolume(_ context.Context, h Handle, percent float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume[h] = percent
	return nil
}

func (f *FakeHost) SetMute(_ context.Context, h Handle, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted[h] = muted
	return nil
}

func (f *FakeHost) Seek(context.Context, Handle, time.Duration) error { return nil }

// EmitEOS lets a test simulate the source component reaching end of stream.
func (f *FakeHost) EmitEOS(h Handle) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(Event{Handle: h, Type: EventEOS})
	}
}

// Volume returns the last percentage set on a handle, for test assertions.
func (f *FakeHost) Volume(h Handle) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume[h]
}

func (f *FakeHost) Close() error { return nil }
