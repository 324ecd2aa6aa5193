/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package omx

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// elementFor maps an OMX component role onto the gst-launch element(s) that
// stand in for it. Unknown roles fall back to decodebin, which auto-detects
// the format — adequate for a stand-in backend that never ships its own
// component implementations.
var elementFor = map[string]string{
	"audio_source.http":     "souphttpsrc location=%s",
	"audio_source.file":     "filesrc location=%s",
	"audio_decoder.mp3":     "mpegaudioparse ! mpg123audiodec",
	"audio_decoder.flac":    "flacparse ! flacdec",
	"audio_decoder.vorbis":  "oggdemux ! vorbisdec",
	"audio_decoder.opus":    "oggdemux ! opusdec",
	"audio_renderer.pcm":    "audioconvert ! audioresample ! autoaudiosink",
	"audio_renderer.null":   "audioconvert ! audioresample ! fakesink",
}

// GStreamerHostConfig configures a process-backed Host.
type GStreamerHostConfig struct {
	Binary string // gst-launch-1.0 by default
}

type componentState struct {
	spec  ComponentSpec
	state StateType
}

type tunnelEdge struct {
	out     Handle
	outPort int
	in      Handle
	inPort  int
}

// GStreamerHost realizes the OMX ABI as a single gst-launch-1.0 subprocess
// built from the tunnel graph once every component in it reaches Executing.
// It is the grounding-adapted counterpart of internal/playout.Pipeline:
// the same shell-construction-and-exec.CommandContext technique, extended
// with SIGSTOP/SIGCONT for OMX Pause/Resume since gst-launch has no CLI
// pause primitive of its own.
type GStreamerHost struct {
	cfg    GStreamerHostConfig
	logger zerolog.Logger

	mu         sync.Mutex
	components map[Handle]*componentState
	tunnels    []tunnelEdge
	handler    EventHandler

	cmd  *exec.Cmd
	done chan struct{}
}

// NewGStreamerHost constructs a process-backed Host.
func NewGStreamerHost(cfg GStreamerHostConfig, logger zerolog.Logger) *GStreamerHost {
	if cfg.Binary == "" {
		cfg.Binary = "gst-launch-1.0"
	}
	return &GStreamerHost{
		cfg:        cfg,
		logger:     logger.With().Str("component", "omx_gstreamer_host").Logger(),
		components: make(map[Handle]*componentState),
	}
}

func (h *GStreamerHost) SetEventHandler(handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *GStreamerHost) emit(evt Event) {
	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()
	if handler != nil {
		handler(evt)
	}
}

func (h *GStreamerHost) Instantiate(_ context.Context, spec ComponentSpec) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := Handle(uuid.NewString())
	h.components[handle] = &componentState{spec: spec, state: StateLoaded}
	return handle, nil
}

// SetContentURI records the content URI a not-yet-launched source component
// will read from. Mirrors OMX_IndexParamContentURI being set on a component
// still in Loaded/Idle state, before the pipeline is built.
func (h *GStreamerHost) SetContentURI(_ context.Context, handle Handle, uri string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	comp, ok := h.components[handle]
	if !ok {
		return ErrUnknownHandle
	}
	comp.spec.URI = uri
	return nil
}

func (h *GStreamerHost) Free(_ context.Context, handle Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.components[handle]; !ok {
		return ErrUnknownHandle
	}
	delete(h.components, handle)
	return nil
}

func (h *GStreamerHost) Tunnel(out Handle, outPort int, in Handle, inPort int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.components[out]; !ok {
		return ErrUnknownHandle
	}
	if _, ok := h.components[in]; !ok {
		return ErrUnknownHandle
	}
	h.tunnels = append(h.tunnels, tunnelEdge{out: out, outPort: outPort, in: in, inPort: inPort})
	return nil
}

func (h *GStreamerHost) TearDownTunnel(out Handle, outPort int, in Handle, inPort int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	filtered := h.tunnels[:0]
	for _, t := range h.tunnels {
		if t.out == out && t.outPort == outPort && t.in == in && t.inPort == inPort {
			continue
		}
		filtered = append(filtered, t)
	}
	h.tunnels = filtered
	return nil
}

func (h *GStreamerHost) SendCommand(ctx context.Context, handle Handle, cmd CommandType, param uint32) error {
	h.mu.Lock()
	comp, ok := h.components[handle]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownHandle
	}

	switch cmd {
	case CommandStateSet:
		target := StateType(param)
		if err := h.transition(comp, target); err != nil {
			h.mu.Unlock()
			return err
		}
		comp.state = target
	case CommandPortDisable, CommandPortEnable, CommandFlush, CommandMarkBuffer:
		// no-op at the subprocess level; the Graph FSM only needs the
		// completion event to drain its expected-event set.
	}
	h.mu.Unlock()

	go h.emit(Event{Handle: handle, Type: EventCmdComplete, Data1: uint32(cmd), Data2: param})
	return nil
}

// transition applies side effects for a state change. Must be called with h.mu held.
func (h *GStreamerHost) transition(comp *componentState, target StateType) error {
	switch {
	case target == StateIdle && comp.state == StateLoaded:
		return nil
	case target == StateExecuting && comp.state == StateIdle:
		return h.maybeStartLocked()
	case target == StateIdle && (comp.state == StateExecuting || comp.state == StatePause):
		return h.maybeStopLocked()
	case target == StateLoaded && comp.state == StateIdle:
		return nil
	case target == StatePause && comp.state == StateExecuting:
		return h.signalLocked(syscall.SIGSTOP)
	case target == StateExecuting && comp.state == StatePause:
		return h.signalLocked(syscall.SIGCONT)
	default:
		return nil
	}
}

// maybeStartLocked launches the pipeline once every component has reached
// (or is reaching) Executing. Idempotent: a later component transitioning
// to Executing while the process already runs is a no-op.
func (h *GStreamerHost) maybeStartLocked() error {
	if h.cmd != nil {
		return nil
	}
	launch, err := h.buildLaunchLocked()
	if err != nil {
		return err
	}

	cmd := exec.Command(h.cfg.Binary, splitLaunch(launch)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start gst-launch: %w", err)
	}
	h.cmd = cmd
	h.done = make(chan struct{})

	go func(done chan struct{}, c *exec.Cmd) {
		err := c.Wait()
		close(done)
		if err != nil {
			h.logger.Debug().Err(err).Msg("gst-launch pipeline exited")
		}
		h.emit(Event{Type: EventEOS})
	}(h.done, cmd)

	return nil
}

func (h *GStreamerHost) maybeStopLocked() error {
	if h.cmd == nil {
		return nil
	}
	cmd := h.cmd
	done := h.done
	h.cmd = nil
	h.done = nil

	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGINT)
	}
	select {
	case <-time.After(5 * time.Second):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	case <-done:
	}
	return nil
}

func (h *GStreamerHost) signalLocked(sig syscall.Signal) error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(sig)
}

// buildLaunchLocked walks the tunnel graph in source-to-sink order and
// renders a gst-launch pipeline description. Must be called with h.mu held.
func (h *GStreamerHost) buildLaunchLocked() (string, error) {
	chain, err := h.orderedChainLocked()
	if err != nil {
		return "", err
	}

	launch := ""
	for i, handle := range chain {
		comp := h.components[handle]
		elem, ok := elementFor[comp.spec.Role]
		if !ok {
			elem = "decodebin"
		}
		if comp.spec.URI != "" {
			elem = fmt.Sprintf(elem, comp.spec.URI)
		}
		if i > 0 {
			launch += " ! "
		}
		launch += elem
	}
	return launch, nil
}

// orderedChainLocked returns components in tunnel order, source first. The
// graph is a simple chain; fan-in/fan-out pipelines are not modeled.
func (h *GStreamerHost) orderedChainLocked() ([]Handle, error) {
	if len(h.tunnels) == 0 {
		var single []Handle
		for handle := range h.components {
			single = append(single, handle)
		}
		if len(single) != 1 {
			return nil, fmt.Errorf("omx: no tunnels and %d components, cannot order pipeline", len(single))
		}
		return single, nil
	}

	hasIncoming := make(map[Handle]bool)
	next := make(map[Handle]Handle)
	for _, t := range h.tunnels {
		hasIncoming[t.in] = true
		next[t.out] = t.in
	}

	var start Handle
	for handle := range h.components {
		if !hasIncoming[handle] {
			start = handle
			break
		}
	}

	chain := []Handle{start}
	cur := start
	for {
		n, ok := next[cur]
		if !ok {
			break
		}
		chain = append(chain, n)
		cur = n
	}
	return chain, nil
}

func (h *GStreamerHost) SetVolume(_ context.Context, _ Handle, _ float64) error {
	// The gst-launch pipeline is built without a volume element and an
	// already-launched subprocess has no CLI hook for runtime adjustment, so
	// this backend ignores the value; it is neither applied nor stored.
	return nil
}

func (h *GStreamerHost) SetMute(_ context.Context, _ Handle, _ bool) error {
	return nil
}

func (h *GStreamerHost) Seek(_ context.Context, _ Handle, _ time.Duration) error {
	return nil
}

func (h *GStreamerHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maybeStopLocked()
}

// splitLaunch is a minimal whitespace splitter adequate for the element
// strings this backend builds itself; it does not need shlex-level quoting
// since elementFor never emits quoted arguments.
func splitLaunch(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
