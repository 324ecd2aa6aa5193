/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package collector turns raw omx.Event callbacks into the typed event
// taxonomy the Graph FSM reasons about, and tracks the expected-event set a
// batch transition drains before it is considered complete. It never
// touches FSM state directly — it only classifies and matches.
package collector

import "github.com/tizonia-go/tizonia/internal/omx"

// Kind is the typed event taxonomy produced from raw OMX callbacks.
type Kind int

const (
	KindTrans Kind = iota
	KindPortDisabled
	KindPortEnabled
	KindPortSettings
	KindIndexSetting
	KindFormatDetected
	KindEOS
	KindErr
	KindGeneric
)

func (k Kind) String() string {
	switch k {
	case KindTrans:
		return "omx_trans_evt"
	case KindPortDisabled:
		return "omx_port_disabled_evt"
	case KindPortEnabled:
		return "omx_port_enabled_evt"
	case KindPortSettings:
		return "omx_port_settings_evt"
	case KindIndexSetting:
		return "omx_index_setting_evt"
	case KindFormatDetected:
		return "omx_format_detected_evt"
	case KindEOS:
		return "omx_eos_evt"
	case KindErr:
		return "omx_err_evt"
	default:
		return "omx_evt"
	}
}

// Event is the typed payload the Graph FSM consumes. Only the fields
// relevant to Kind are meaningful; the rest are zero.
type Event struct {
	Kind   Kind
	Handle omx.Handle
	State  omx.StateType // KindTrans
	Port   uint32        // KindPortDisabled/Enabled/Settings/EOS
	Index  uint32        // KindPortSettings/KindIndexSetting
	Data1  uint32        // KindIndexSetting/KindGeneric
	Data2  uint32        // KindGeneric
	Err    error         // KindErr, or a non-fatal error riding a trans event
}

// Convert classifies a raw omx.Event into the typed taxonomy. The command
// type (Data1 of an EventCmdComplete) distinguishes a state transition from
// a port transition.
func Convert(raw omx.Event) Event {
	switch raw.Type {
	case omx.EventCmdComplete:
		switch omx.CommandType(raw.Data1) {
		case omx.CommandPortDisable:
			return Event{Kind: KindPortDisabled, Handle: raw.Handle, Port: raw.Data2, Err: raw.Err}
		case omx.CommandPortEnable:
			return Event{Kind: KindPortEnabled, Handle: raw.Handle, Port: raw.Data2, Err: raw.Err}
		default: // CommandStateSet, CommandFlush, CommandMarkBuffer
			return Event{Kind: KindTrans, Handle: raw.Handle, State: omx.StateType(raw.Data2), Err: raw.Err}
		}
	case omx.EventPortSettingsChanged:
		return Event{Kind: KindPortSettings, Handle: raw.Handle, Port: raw.Data1, Index: raw.Data2}
	case omx.EventIndexSettingChanged:
		return Event{Kind: KindIndexSetting, Handle: raw.Handle, Data1: raw.Data1, Index: raw.Data2}
	case omx.EventFormatDetected:
		return Event{Kind: KindFormatDetected, Handle: raw.Handle}
	case omx.EventEOS:
		return Event{Kind: KindEOS, Handle: raw.Handle, Port: raw.Data1}
	case omx.EventError:
		return Event{Kind: KindErr, Handle: raw.Handle, Port: raw.Data2, Err: raw.Err}
	default:
		return Event{Kind: KindGeneric, Handle: raw.Handle, Data1: raw.Data1, Data2: raw.Data2, Err: raw.Err}
	}
}

// Target is one (handle, target-state-or-port-transition) tuple the Set
// drains as matching events arrive.
type Target struct {
	Handle omx.Handle
	Kind   Kind
	State  omx.StateType // Kind == KindTrans
	Port   uint32        // Kind == KindPortDisabled/KindPortEnabled
}

// Set is the expected-event bookkeeping for one batch transition. It is
// only ever touched from the owning Graph's single goroutine — per the
// source's design note, no mutex is needed because the set lives entirely
// inside one thread of execution.
type Set struct {
	targets []Target
}

// NewSet returns an empty expected-event set.
func NewSet() *Set { return &Set{} }

// Expect adds an expected state transition for handle.
func (s *Set) Expect(handle omx.Handle, state omx.StateType) {
	s.targets = append(s.targets, Target{Handle: handle, Kind: KindTrans, State: state})
}

// ExpectPort adds an expected port transition for handle. enable selects
// KindPortEnabled vs KindPortDisabled.
func (s *Set) ExpectPort(handle omx.Handle, port uint32, enable bool) {
	kind := KindPortDisabled
	if enable {
		kind = KindPortEnabled
	}
	s.targets = append(s.targets, Target{Handle: handle, Kind: kind, Port: port})
}

// Clear empties the set — called at the start of each new batch transition.
func (s *Set) Clear() { s.targets = s.targets[:0] }

// Empty reports whether every expected event has arrived.
func (s *Set) Empty() bool { return len(s.targets) == 0 }

// Len reports how many expected events remain.
func (s *Set) Len() int { return len(s.targets) }

// Match removes the first target matching evt's (Handle, Kind, payload),
// ignoring evt.Err per the source's pragmatic matching rule — a component
// that reports a non-zero error field on an otherwise-successful transition
// must not block the batch. Returns true iff a target was removed.
func (s *Set) Match(evt Event) bool {
	for i, t := range s.targets {
		if t.Handle != evt.Handle || t.Kind != evt.Kind {
			continue
		}
		switch t.Kind {
		case KindTrans:
			if t.State != evt.State {
				continue
			}
		case KindPortDisabled, KindPortEnabled:
			if t.Port != evt.Port {
				continue
			}
		}
		s.targets = append(s.targets[:i], s.targets[i+1:]...)
		return true
	}
	return false
}

// Collector pairs the typed-event conversion with one Graph's expected-event
// set, so a Graph has a single object to post raw callbacks through.
type Collector struct {
	Expected *Set
}

// New returns a Collector with a fresh, empty expected-event set.
func New() *Collector {
	return &Collector{Expected: NewSet()}
}

// IsTransComplete matches evt against the expected set and reports whether
// the set is empty afterward — "complete" iff the set drains to nothing as
// a result of this specific event. An unmatched event is silently dropped:
// it is stale or was never requested, and does not count as completion.
func (c *Collector) IsTransComplete(evt Event) bool {
	if !c.Expected.Match(evt) {
		return false
	}
	return c.Expected.Empty()
}
