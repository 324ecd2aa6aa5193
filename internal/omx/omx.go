/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package omx defines the OpenMAX IL component ABI this player drives: an
// opaque external library addressed through handles, commands, and an
// asynchronous event callback. Component implementations are not part of
// this package; Host is the seam a concrete backend (gstreamer subprocess,
// a fake for tests) implements.
package omx

import (
	"context"
	"errors"
	"time"
)

// Handle identifies an instantiated OMX component. Opaque to callers.
type Handle string

// StateType mirrors the OMX_STATETYPE lifecycle a component walks through.
type StateType int

const (
	StateInvalid StateType = iota
	StateLoaded
	StateIdle
	StateExecuting
	StatePause
	StateWaitForResources
)

func (s StateType) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StatePause:
		return "pause"
	case StateWaitForResources:
		return "wait-for-resources"
	default:
		return "invalid"
	}
}

// PortDirection distinguishes a component's input and output ports.
type PortDirection int

const (
	PortInput PortDirection = iota
	PortOutput
)

// CommandType mirrors OMX_COMMANDTYPE, the async commands sent to a handle.
type CommandType int

const (
	CommandStateSet CommandType = iota
	CommandPortDisable
	CommandPortEnable
	CommandFlush
	CommandMarkBuffer
)

func (c CommandType) String() string {
	switch c {
	case CommandStateSet:
		return "state-set"
	case CommandPortDisable:
		return "port-disable"
	case CommandPortEnable:
		return "port-enable"
	case CommandFlush:
		return "flush"
	case CommandMarkBuffer:
		return "mark-buffer"
	default:
		return "unknown"
	}
}

// EventType classifies an asynchronous notification raised by a component.
// EventCmdComplete covers the completion of every CommandType (Data1 carries
// the CommandType, Data2 the target state or port index) — internal/collector
// is what turns that single event type into the richer typed taxonomy
// (omx_port_disabled_evt, omx_port_enabled_evt, ...) the Graph FSM reasons
// about; the remaining types here are genuinely spontaneous notifications.
type EventType int

const (
	EventCmdComplete EventType = iota
	EventPortSettingsChanged
	EventIndexSettingChanged
	EventFormatDetected
	EventEOS
	EventError
	EventGeneric
)

func (e EventType) String() string {
	switch e {
	case EventCmdComplete:
		return "cmd-complete"
	case EventPortSettingsChanged:
		return "port-settings-changed"
	case EventIndexSettingChanged:
		return "index-setting-changed"
	case EventFormatDetected:
		return "format-detected"
	case EventEOS:
		return "eos"
	case EventError:
		return "error"
	default:
		return "generic"
	}
}

// Event is what a Host delivers to its registered EventHandler. Err carries
// a component-reported error field; per Open Question decision #2 a non-nil
// Err on a non-EventError event is logged but does not gate a batch's
// completion — the event still matches on (Handle, Type, Data1, Data2).
type Event struct {
	Handle Handle
	Type   EventType
	Data1  uint32
	Data2  uint32
	Err    error
}

// EventHandler receives every event a Host's components raise, in the order
// the backend observed them. Hosts may invoke it from any goroutine.
type EventHandler func(Event)

// ComponentSpec describes a component role to instantiate. Role follows the
// OMX component-name convention ("audio_decoder.mp3", "audio_renderer.pcm",
// "audio_source.http"); URI is populated for source/sink roles that need one.
type ComponentSpec struct {
	Role string
	URI  string
}

// Host is the seam between the Graph orchestration core and a concrete OMX
// component runtime. The core never inspects component internals; it only
// instantiates, tunnels, commands, and listens for events.
type Host interface {
	Instantiate(ctx context.Context, spec ComponentSpec) (Handle, error)
	Free(ctx context.Context, h Handle) error

	Tunnel(out Handle, outPort int, in Handle, inPort int) error
	TearDownTunnel(out Handle, outPort int, in Handle, inPort int) error

	SendCommand(ctx context.Context, h Handle, cmd CommandType, param uint32) error

	// SetContentURI binds a source component's URI (OMX_IndexParamContentURI)
	// any time after Instantiate and before the component reaches Executing.
	SetContentURI(ctx context.Context, h Handle, uri string) error

	SetVolume(ctx context.Context, h Handle, percent float64) error
	SetMute(ctx context.Context, h Handle, muted bool) error
	Seek(ctx context.Context, h Handle, position time.Duration) error

	SetEventHandler(handler EventHandler)
	Close() error
}

var (
	ErrUnknownHandle    = errors.New("omx: unknown handle")
	ErrInvalidState     = errors.New("omx: invalid state for requested transition")
	ErrComponentFailure = errors.New("omx: component reported a fatal error")
)
