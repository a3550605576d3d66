package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge/downlink"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/session"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/uplink"
)

type fakeRemoteSession struct {
	mu     sync.Mutex
	events chan session.Event
	sent   []session.ClientEvent
	audio  [][]byte
	closed bool
}

func newFakeRemoteSession() *fakeRemoteSession {
	return &fakeRemoteSession{events: make(chan session.Event, 16)}
}

func (f *fakeRemoteSession) SendInputAudio(pcm []byte) <-chan error {
	f.mu.Lock()
	f.audio = append(f.audio, pcm)
	f.mu.Unlock()
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (f *fakeRemoteSession) SendEvent(evt session.ClientEvent) error {
	f.mu.Lock()
	f.sent = append(f.sent, evt)
	f.mu.Unlock()
	return nil
}

func (f *fakeRemoteSession) Events() <-chan session.Event { return f.events }

func (f *fakeRemoteSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func testConfig() Config {
	return Config{
		SIPBindPort:            5060,
		SIPBindHost:            "0.0.0.0",
		VoiceLiveEndpoint:      "wss://example.invalid/voice-live",
		VoiceLiveAPIKey:        "test-key",
		VoiceName:              "alloy",
		GreetingEnabled:        true,
		TranscriptionLanguage:  "en",
		TranscriptionMode:      "reference-asr",
		ClearOnSpeechStart:     true,
		SessionReadyTimeout:    200 * time.Millisecond,
		Downlink:               downlink.DefaultConfig(),
		Uplink:                 uplink.DefaultConfig(),
	}
}

func TestMediaBridgeReadinessAndTeardown(t *testing.T) {
	remote := newFakeRemoteSession()
	cfg := testConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(ctx, cfg, remote, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	remote.events <- session.Event{Type: session.EventSessionUpdated}

	if err := b.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	buf := make([]byte, 160)
	if n := b.ReadDownlink(buf); n != 160 {
		t.Fatalf("ReadDownlink before any response = %d, want 160 (silence)", n)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if n := b.ReadDownlink(buf); n != -1 {
		t.Fatalf("ReadDownlink after Close = %d, want -1", n)
	}
}

func TestMediaBridgeReadinessTimeout(t *testing.T) {
	remote := newFakeRemoteSession()
	cfg := testConfig()
	cfg.SessionReadyTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(ctx, cfg, remote, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.AwaitReady(ctx); err == nil {
		t.Fatal("expected readiness timeout error, got nil")
	}
	b.Close()
}

func TestMediaBridgeUplinkDroppedBeforeReady(t *testing.T) {
	remote := newFakeRemoteSession()
	cfg := testConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(ctx, cfg, remote, nil)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	frame := make([]byte, 160)
	b.WriteUplink(frame)
	time.Sleep(10 * time.Millisecond)

	remote.mu.Lock()
	n := len(remote.audio)
	remote.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected uplink audio dropped before readiness, got %d chunks", n)
	}

	b.Close()
}
