package sipgateway

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/emiago/diago"
	"github.com/emiago/diago/media"
	"github.com/pion/rtp"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge"
)

const (
	rtpPayloadBytes = 160 // 20ms of PCMU @ 8kHz
	rtpClockRate    = 8000
	rtpSamplesPerPacket = 160
)

// callSession binds one answered SIP dialog's RTP media to a
// bridge.MediaBridge: one goroutine reads inbound RTP and feeds
// WriteUplink, another reads downlink audio on a 20ms ticker and
// sends RTP.
type callSession struct {
	dialog *diago.DialogServerSession
	bridge *bridge.MediaBridge
	logger *slog.Logger

	rtpReader media.RTPReader
	rtpWriter media.RTPWriter

	ssrc     uint32
	seq      uint16
	timestamp uint32
}

func newCallSession(dialog *diago.DialogServerSession, mb *bridge.MediaBridge, logger *slog.Logger) *callSession {
	dm := dialog.Media()
	return &callSession{
		dialog:    dialog,
		bridge:    mb,
		logger:    logger,
		rtpReader: dm.RTPPacketReader.Reader(),
		rtpWriter: dm.RTPPacketWriter.Writer(),
		ssrc:      rand.Uint32(),
	}
}

// run drives both RTP directions until ctx is cancelled or the
// downlink pipeline signals closure.
func (c *callSession) run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.receiveLoop(ctx)
	}()

	c.sendLoop(ctx)
	<-done
}

// receiveLoop reads inbound RTP packets and forwards their µ-law
// payload to the bridge's uplink pipeline.
func (c *callSession) receiveLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	var pkt rtp.Packet

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := c.rtpReader.ReadRTP(buf, &pkt)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("sip: rtp read failed", "error", err)
			}
			return
		}
		if n <= 0 || len(pkt.Payload) == 0 {
			continue
		}
		c.bridge.WriteUplink(pkt.Payload)
	}
}

// sendLoop paces RTP transmission at the fixed 20ms PCMU frame
// interval (§5), pulling from the bridge's downlink pipeline.
func (c *callSession) sendLoop(ctx context.Context) {
	ticker := time.NewTicker(pcmuFrameDuration)
	defer ticker.Stop()

	buf := make([]byte, rtpPayloadBytes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := c.bridge.ReadDownlink(buf)
			if n < 0 {
				return
			}
			if err := c.writeRTP(buf[:n]); err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Warn("sip: rtp write failed", "error", err)
				}
				return
			}
		}
	}
}

func (c *callSession) writeRTP(payload []byte) error {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pcmuPayloadType,
			SequenceNumber: c.seq,
			Timestamp:      c.timestamp,
			SSRC:           c.ssrc,
		},
		Payload: payload,
	}
	c.seq++
	c.timestamp += rtpSamplesPerPacket
	return c.rtpWriter.WriteRTP(pkt)
}
