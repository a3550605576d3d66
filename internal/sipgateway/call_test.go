package sipgateway

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/downlink"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/session"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/uplink"
)

type fakeRTPWriter struct {
	mu   sync.Mutex
	sent []*rtp.Packet
}

func (w *fakeRTPWriter) WriteRTP(pkt *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, pkt)
	return nil
}

func (w *fakeRTPWriter) snapshot() []*rtp.Packet {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*rtp.Packet, len(w.sent))
	copy(out, w.sent)
	return out
}

type fakeRemoteSession struct {
	events chan session.Event
}

func newFakeRemoteSession() *fakeRemoteSession {
	return &fakeRemoteSession{events: make(chan session.Event, 4)}
}

func (f *fakeRemoteSession) SendInputAudio(pcm []byte) <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	return ch
}
func (f *fakeRemoteSession) SendEvent(evt session.ClientEvent) error { return nil }
func (f *fakeRemoteSession) Events() <-chan session.Event           { return f.events }
func (f *fakeRemoteSession) Close() error                           { return nil }

func testBridgeConfig() bridge.Config {
	return bridge.Config{
		VoiceLiveEndpoint:   "wss://example.invalid",
		VoiceLiveAPIKey:     "key",
		VoiceName:           "alloy",
		GreetingEnabled:     false,
		SessionReadyTimeout: 200 * time.Millisecond,
		Downlink:            downlink.DefaultConfig(),
		Uplink:              uplink.DefaultConfig(),
	}
}

// TestSendLoopProducesSequentialRTPPackets verifies the 20ms-paced
// send loop increments sequence numbers and timestamps by one frame's
// worth of samples each tick, until its context expires.
func TestSendLoopProducesSequentialRTPPackets(t *testing.T) {
	remote := newFakeRemoteSession()
	cfg := testBridgeConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mb := bridge.New(ctx, cfg, remote, slog.Default())
	if err := mb.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	remote.events <- session.Event{Type: session.EventSessionUpdated}
	if err := mb.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	w := &fakeRTPWriter{}
	cs := &callSession{bridge: mb, logger: slog.Default(), rtpWriter: w, ssrc: 42}

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer sendCancel()
	cs.sendLoop(sendCtx)

	mb.Close()

	sent := w.snapshot()
	if len(sent) < 2 {
		t.Fatalf("expected at least 2 packets sent in 90ms, got %d", len(sent))
	}
	for i := 1; i < len(sent); i++ {
		if sent[i].SequenceNumber != sent[i-1].SequenceNumber+1 {
			t.Errorf("packet %d SequenceNumber = %d, want %d", i, sent[i].SequenceNumber, sent[i-1].SequenceNumber+1)
		}
		if sent[i].Timestamp != sent[i-1].Timestamp+rtpSamplesPerPacket {
			t.Errorf("packet %d Timestamp = %d, want %d", i, sent[i].Timestamp, sent[i-1].Timestamp+rtpSamplesPerPacket)
		}
		if sent[i].SSRC != 42 {
			t.Errorf("packet %d SSRC = %d, want 42", i, sent[i].SSRC)
		}
		if len(sent[i].Payload) != rtpPayloadBytes {
			t.Errorf("packet %d payload length = %d, want %d", i, len(sent[i].Payload), rtpPayloadBytes)
		}
	}
}

func TestSIPCodecsIsPCMUOnly(t *testing.T) {
	codecs := SIPCodecs()
	if len(codecs) != 1 {
		t.Fatalf("len(codecs) = %d, want 1", len(codecs))
	}
	if codecs[0].Name != "PCMU" {
		t.Errorf("codec name = %q, want PCMU", codecs[0].Name)
	}
	if codecs[0].SampleRate != 8000 {
		t.Errorf("codec sample rate = %d, want 8000", codecs[0].SampleRate)
	}
}
