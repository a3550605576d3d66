// Package downlink implements the service→caller media path: it
// consumes PCM16 24 kHz audio deltas from the remote voice-live
// session, downsamples and encodes them to µ-law 8 kHz, packetises
// the result into fixed-size RTP payloads, and exposes a paced,
// watermark-hysteresis byte source to the RTP sender.
package downlink

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge/codec"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/resample"
)

// Config holds every tunable of the downlink pipeline, with the
// defaults from the external-interfaces parameter table.
type Config struct {
	RTPPayloadBytes     int
	MinPrebufferPackets int
	LowWaterPackets     int
	HighWaterPackets    int
	MaxDeltaChunkBytes  int
	ReadFirstTimeout    time.Duration
	ReadBatchTimeout    time.Duration
	QueueWarnThreshold  int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RTPPayloadBytes:     160,
		MinPrebufferPackets: 25,
		LowWaterPackets:     100,
		HighWaterPackets:    150,
		MaxDeltaChunkBytes:  9600,
		ReadFirstTimeout:    40 * time.Millisecond,
		ReadBatchTimeout:    5 * time.Millisecond,
		QueueWarnThreshold:  800,
	}
}

// Pipeline is the downlink producer/consumer pair described in §4.4.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	queue *packetQueue

	partialMu  sync.Mutex
	partialBuf []byte // µ-law bytes awaiting a full RTP_PAYLOAD_BYTES packet

	prebuffered  atomic.Bool
	paused       atomic.Bool
	responseDone atomic.Bool
	closed       atomic.Bool
}

// NewPipeline constructs a downlink pipeline in its initial state: no
// packets queued, no response in flight.
func NewPipeline(cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		queue:  newPacketQueue(),
	}
}

// OnResponseCreated marks a new response cycle as in-flight.
func (p *Pipeline) OnResponseCreated() {
	p.responseDone.Store(false)
}

// OnResponseDone marks the current response as fully emitted by the
// producer. This can unconditionally resume a paused reader and
// permits the reader to reset prebuffered once the queue drains.
func (p *Pipeline) OnResponseDone() {
	p.responseDone.Store(true)
}

// EnqueueChunk is the producer side (§4.4.1). delta is raw PCM16
// little-endian audio at 24 kHz, as received in a response.audio.delta
// event. It is safe to call concurrently with Read and ClearBuffer.
func (p *Pipeline) EnqueueChunk(delta []byte) {
	for len(delta) > 0 {
		n := len(delta)
		if n > p.cfg.MaxDeltaChunkBytes {
			n = p.cfg.MaxDeltaChunkBytes
		}
		chunk := delta[:n]
		delta = delta[n:]

		pcm8 := resample.Downsample24to8(chunk)
		ulaw := codec.Encode(pcm8)
		p.appendAndPacketize(ulaw)
	}
}

func (p *Pipeline) appendAndPacketize(ulaw []byte) {
	p.partialMu.Lock()
	p.partialBuf = append(p.partialBuf, ulaw...)
	payload := p.cfg.RTPPayloadBytes
	var full int
	for len(p.partialBuf) >= payload {
		pkt := make([]byte, payload)
		copy(pkt, p.partialBuf[:payload])
		p.partialBuf = p.partialBuf[payload:]
		p.queue.enqueue(pkt)
		full++
	}
	p.partialMu.Unlock()

	if full == 0 {
		return
	}
	if !p.prebuffered.Load() && p.queue.len() >= p.cfg.MinPrebufferPackets {
		p.prebuffered.Store(true)
	}
	if qlen := p.queue.len(); qlen > p.cfg.QueueWarnThreshold {
		p.logger.Warn("downlink queue unusually large", "packets", qlen)
	}
}

// ClearBuffer drops all queued packets, resets the partial-packet
// buffer, and clears the prebuffered/paused flags. The session
// controller invokes it when the caller starts speaking (if clearing
// on speech start is enabled); no other event triggers it.
func (p *Pipeline) ClearBuffer() {
	p.partialMu.Lock()
	p.partialBuf = p.partialBuf[:0]
	p.partialMu.Unlock()

	p.queue.clear()
	p.prebuffered.Store(false)
	p.paused.Store(false)
}

// Read is the paced consumer side (§4.4.2). It returns the number of
// bytes written into buf (a multiple of RTPPayloadBytes), 0 to mean
// "no data now, retry", or -1 to mean the pipeline is closed.
func (p *Pipeline) Read(buf []byte) int {
	if p.closed.Load() {
		return -1
	}
	if len(buf) == 0 {
		return 0
	}

	if p.paused.Load() {
		if p.queue.len() >= p.cfg.HighWaterPackets || p.responseDone.Load() {
			p.paused.Store(false)
		} else {
			fillSilence(buf)
			return len(buf)
		}
	}

	// NotReady is bypassed when responseDone is true: a short response
	// that never reaches the prebuffer threshold must still drain fully
	// (see scenario 2, §8).
	if !p.prebuffered.Load() && !p.responseDone.Load() {
		fillSilence(buf)
		return len(buf)
	}

	n := 0
	payload := p.cfg.RTPPayloadBytes
	first, ok := p.queue.dequeue(p.cfg.ReadFirstTimeout)
	if ok {
		n += copy(buf[n:], first)
		for n+payload <= len(buf) {
			pkt, ok := p.queue.dequeue(p.cfg.ReadBatchTimeout)
			if !ok {
				break
			}
			n += copy(buf[n:], pkt)
		}
	}

	remaining := p.queue.len()
	if remaining == 0 && p.responseDone.Load() {
		p.prebuffered.Store(false)
	}
	if remaining < p.cfg.LowWaterPackets && !p.responseDone.Load() {
		p.paused.Store(true)
	}
	return n
}

// Close marks the pipeline closed and drops any queued packets;
// subsequent Read calls return -1.
func (p *Pipeline) Close() {
	p.closed.Store(true)
	p.queue.clear()
	p.queue.close()
}

func fillSilence(buf []byte) {
	for i := range buf {
		buf[i] = 0xFF
	}
}
