// Command voicelive-sip-bridge runs the MediaBridge gateway: it
// answers inbound SIP calls over PCMU/RTP and bridges each one to a
// remote voice-live conversational session.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/emiago/diago"
	"github.com/emiago/sipgo"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/session"
	"github.com/vidyann/azure-voicelive-sip-sample/internal/sipgateway"
	"github.com/vidyann/azure-voicelive-sip-sample/internal/voicelive"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := bridge.LoadConfig(configPath)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		logger.Error("sip ua init failed", "error", err)
		os.Exit(1)
	}

	udpTransport := diago.Transport{
		Transport:    "udp",
		BindHost:     cfg.SIPBindHost,
		BindPort:     cfg.SIPBindPort,
		ExternalHost: cfg.SIPExternalIP,
	}
	tcpTransport := diago.Transport{
		Transport:    "tcp",
		BindHost:     cfg.SIPBindHost,
		BindPort:     cfg.SIPBindPort,
		ExternalHost: cfg.SIPExternalIP,
	}

	sipDiago := diago.NewDiago(ua,
		diago.WithTransport(udpTransport),
		diago.WithTransport(tcpTransport),
		diago.WithLogger(logger),
		diago.WithMediaConfig(diago.MediaConfig{
			Codecs: sipgateway.SIPCodecs(),
		}),
	)

	dial := func(callCtx context.Context) (session.RemoteSession, error) {
		return voicelive.Dial(callCtx, cfg.VoiceLiveEndpoint, cfg.VoiceLiveAPIKey)
	}

	gateway := sipgateway.NewGateway(cfg, sipDiago, dial, logger)

	logger.Info("starting", "sip_bind_host", cfg.SIPBindHost, "sip_bind_port", cfg.SIPBindPort)
	err = gateway.Start(ctx)

	logger.Info("shutting down...")
	if err != nil && ctx.Err() == nil {
		logger.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
