// Package sipgateway is the RTP-side external collaborator (§6): it
// answers inbound SIP INVITEs via emiago/sipgo + emiago/diago,
// negotiates PCMU-only media, and wires each call's RTP read/send
// loops to a bridge.MediaBridge.
package sipgateway

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/emiago/diago"
	"github.com/emiago/diago/media"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/session"
)

// RemoteSessionFactory dials a fresh remote voice-live session for one
// inbound call. Returning an error causes the call to be rejected.
type RemoteSessionFactory func(ctx context.Context) (session.RemoteSession, error)

// Gateway owns the SIP UA/transport and accepts inbound calls for the
// lifetime of the process.
type Gateway struct {
	cfg     bridge.Config
	sip     *diago.Diago
	dial    RemoteSessionFactory
	logger  *slog.Logger
	active  atomic.Int64
	maxCall int64
}

// NewGateway constructs a Gateway bound to an already-configured
// *diago.Diago instance (transport bring-up is the caller's concern,
// mirroring how the teacher wires diago in cmd/sip-tg-bridge/main.go).
func NewGateway(cfg bridge.Config, sipDiago *diago.Diago, dial RemoteSessionFactory, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:     cfg,
		sip:     sipDiago,
		dial:    dial,
		logger:  logger,
		maxCall: cfg.MaxActiveCalls,
	}
}

// SIPCodecs is the exported form of sipCodecs for cmd wiring
// (diago.WithMediaConfig(diago.MediaConfig{Codecs: sipgateway.SIPCodecs()})).
func SIPCodecs() []media.Codec { return sipCodecs() }

// Start serves inbound SIP dialogs until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	return g.sip.Serve(ctx, func(inDialog *diago.DialogServerSession) {
		g.handleIncoming(inDialog)
	})
}

func (g *Gateway) allowCall() bool {
	n := g.active.Add(1)
	if g.maxCall <= 0 || n <= g.maxCall {
		return true
	}
	g.active.Add(-1)
	return false
}

func (g *Gateway) handleIncoming(inDialog *diago.DialogServerSession) {
	start := time.Now()
	callLogger := g.logger.With(
		"call_id", uuid.NewString(),
		"sip_from", inDialog.FromUser(),
		"sip_to", inDialog.ToUser(),
	)
	callLogger.Info("sip: incoming call")

	if !g.allowCall() {
		callLogger.Info("sip: call rejected (busy)")
		_ = inDialog.Respond(sip.StatusBusyHere, "Busy", nil)
		return
	}
	defer g.active.Add(-1)
	defer inDialog.Close()

	if err := inDialog.Trying(); err != nil {
		callLogger.Warn("sip: trying failed", "error", err)
	}
	if err := inDialog.Ringing(); err != nil {
		callLogger.Warn("sip: ringing failed", "error", err)
	}

	callCtx, cancel := context.WithTimeout(inDialog.Context(), g.cfg.SessionReadyTimeout+5*time.Second)
	defer cancel()

	remote, err := g.dial(callCtx)
	if err != nil {
		callLogger.Warn("sip: voice-live dial failed", "error", err)
		_ = inDialog.Respond(sip.StatusTemporarilyUnavailable, "Upstream unavailable", nil)
		return
	}

	localCodecs := sipCodecs()
	if err := inDialog.AnswerOptions(diago.AnswerOptions{Codecs: localCodecs}); err != nil {
		callLogger.Warn("sip: answer failed", "error", err)
		_ = remote.Close()
		return
	}
	callLogger.Info("sip: call answered, media starting")

	mb := bridge.New(inDialog.Context(), g.cfg, remote, callLogger)
	if err := mb.Start(); err != nil {
		callLogger.Warn("sip: bridge configure failed", "error", err)
		mb.Close()
		return
	}

	if err := mb.AwaitReady(inDialog.Context()); err != nil {
		callLogger.Warn("sip: session readiness failed", "error", err)
		mb.Close()
		return
	}

	call := newCallSession(inDialog, mb, callLogger)
	call.run(inDialog.Context())

	mb.Close()
	callLogger.Info("sip: call ended", "duration", time.Since(start).Round(time.Millisecond))
}
