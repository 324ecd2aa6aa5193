/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webrtc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestNewBroadcasterDefaultsRTPPort(t *testing.T) {
	b, err := NewBroadcaster(Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBroadcaster: %v", err)
	}
	if b.rtpPort != 5004 {
		t.Errorf("got rtpPort %d, want 5004", b.rtpPort)
	}
}

func TestBroadcasterStartStopListensOnRTPPort(t *testing.T) {
	port := freePort(t)
	b, err := NewBroadcaster(Config{RTPPort: port}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBroadcaster: %v", err)
	}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	if b.PeerCount() != 0 {
		t.Errorf("expected zero peers at start, got %d", b.PeerCount())
	}

	stats := b.Stats()
	if stats["rtp_port"] != port {
		t.Errorf("stats rtp_port = %v, want %d", stats["rtp_port"], port)
	}
}

func TestBroadcasterRewritesSequenceAcrossDiscontinuity(t *testing.T) {
	port := freePort(t)
	b, err := NewBroadcaster(Config{RTPPort: port}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBroadcaster: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial RTP listener: %v", err)
	}
	defer conn.Close()

	send := func(seq uint16, ts uint32) {
		pkt := &rtp.Packet{
			Header:  rtp.Header{SequenceNumber: seq, Timestamp: ts, PayloadType: 111},
			Payload: []byte{0x01, 0x02},
		}
		raw, err := pkt.Marshal()
		if err != nil {
			t.Fatalf("marshal rtp packet: %v", err)
		}
		if _, err := conn.Write(raw); err != nil {
			t.Fatalf("write rtp packet: %v", err)
		}
	}

	send(100, 1000)
	time.Sleep(50 * time.Millisecond)
	// A fresh renderer restarting resets its own sequence numbers near zero.
	send(5, 2000)
	time.Sleep(50 * time.Millisecond)

	b.mu.RLock()
	seqInitialized := b.seqInitialized
	lastInSeq := b.lastInSeq
	seqNum := b.seqNum
	lastOutTS := b.lastOutTS
	b.mu.RUnlock()

	if !seqInitialized {
		t.Fatal("expected seqInitialized after receiving packets")
	}
	if lastInSeq != 5 {
		t.Errorf("lastInSeq = %d, want 5 (the most recent packet's incoming seq)", lastInSeq)
	}
	if seqNum != 2 {
		t.Errorf("outgoing seq = %d, want 2 (continuous across the restart)", seqNum)
	}
	if lastOutTS != 1960 {
		t.Errorf("outgoing ts = %d, want 1960 (previous 1000 + 960)", lastOutTS)
	}
}
