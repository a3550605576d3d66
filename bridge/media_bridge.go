package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge/downlink"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/session"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/uplink"
)

// MediaBridge is the per-call assembly of the two pipelines and the
// session controller (§4.6). It is constructed once per inbound call
// and torn down at call end; its lifetime equals the call's lifetime.
type MediaBridge struct {
	cfg    Config
	logger *slog.Logger

	uplinkPipeline   *uplink.Pipeline
	downlinkPipeline *downlink.Pipeline
	controller       *session.Controller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// readinessAdapter exposes Controller.Ready as an uplink.ReadinessChecker
// without uplink needing to import the session package.
type readinessAdapter struct{ c *session.Controller }

func (r readinessAdapter) Ready() bool { return r.c.Ready() }

// New constructs a MediaBridge bound to an already-started remote
// session and starts the event dispatch loop. It neither sends the
// session configuration nor waits for readiness; call Start and then
// AwaitReady for those.
func New(ctx context.Context, cfg Config, remote session.RemoteSession, logger *slog.Logger) *MediaBridge {
	if logger == nil {
		logger = slog.Default()
	}
	bridgeCtx, cancel := context.WithCancel(ctx)

	dl := downlink.NewPipeline(cfg.Downlink, logger.With("component", "downlink"))

	sessionCfg := session.DefaultSessionConfig(cfg.Instructions, cfg.VoiceName, cfg.TranscriptionLanguage)
	sessionCfg.Transcription.Mode = cfg.TranscriptionMode
	sessionCfg.MaxResponseOutputTokens = cfg.MaxResponseOutputTokens

	controller := session.NewController(remote, dl, sessionCfg, cfg.GreetingEnabled, cfg.ClearOnSpeechStart, logger.With("component", "session"))

	ul := uplink.NewPipeline(cfg.Uplink, remote, readinessAdapter{controller}, logger.With("component", "uplink"))

	b := &MediaBridge{
		cfg:              cfg,
		logger:           logger,
		uplinkPipeline:   ul,
		downlinkPipeline: dl,
		controller:       controller,
		ctx:              bridgeCtx,
		cancel:           cancel,
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		controller.Run(bridgeCtx)
	}()

	return b
}

// Start sends the session configuration. It must be called once,
// before AwaitReady.
func (b *MediaBridge) Start() error {
	if err := b.controller.Configure(); err != nil {
		return fmt.Errorf("configure session: %w", err)
	}
	return nil
}

// AwaitReady blocks until the session reaches Ready, or the bridge's
// configured SessionReadyTimeout elapses, or ctx is cancelled.
func (b *MediaBridge) AwaitReady(ctx context.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, b.cfg.SessionReadyTimeout)
	defer cancel()

	select {
	case <-b.controller.ReadyChan():
		return nil
	case <-timeoutCtx.Done():
		return fmt.Errorf("session readiness timeout after %s", b.cfg.SessionReadyTimeout)
	}
}

// WriteUplink is the byte sink handed to the RTP receiver (§6):
// µ-law 8kHz payload bytes from a single received RTP packet.
func (b *MediaBridge) WriteUplink(payload []byte) {
	b.uplinkPipeline.Write(payload)
}

// ReadDownlink is the byte source handed to the RTP sender (§6): it
// fills buf with up to len(buf) bytes of µ-law 8kHz payload, paced by
// the downlink pipeline's watermark/prebuffer state machine. Returns
// -1 once the bridge has been closed.
func (b *MediaBridge) ReadDownlink(buf []byte) int {
	return b.downlinkPipeline.Read(buf)
}

// Close tears down the bridge: closes the downlink reader (subsequent
// reads return -1), flushes any residual uplink audio, stops the
// session event dispatch loop, and releases the remote session.
func (b *MediaBridge) Close() error {
	b.downlinkPipeline.Close()
	b.uplinkPipeline.Flush()
	b.uplinkPipeline.Close()
	b.cancel()
	b.wg.Wait()
	return b.controller.Close()
}
