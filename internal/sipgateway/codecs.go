package sipgateway

import (
	"time"

	"github.com/emiago/diago/media"
)

// pcmuFrameDuration is the fixed RTP packetisation interval (§6):
// 160 bytes of PCMU per 20ms at 8kHz.
const pcmuFrameDuration = 20 * time.Millisecond

// pcmuPayloadType is the static RTP payload type for PCMU (RFC 3551).
const pcmuPayloadType = 0

// sipCodecs returns the fixed single-entry codec list this gateway
// negotiates: PCMU only. Unlike a general-purpose SIP endpoint, this
// bridge talks to exactly one remote collaborator (a voice-live
// session) behind the RTP leg, so there is no multi-codec negotiation
// surface to expose.
func sipCodecs() []media.Codec {
	return []media.Codec{
		{
			Name:        "PCMU",
			PayloadType: pcmuPayloadType,
			SampleRate:  8000,
			SampleDur:   pcmuFrameDuration,
			NumChannels: 1,
		},
	}
}
