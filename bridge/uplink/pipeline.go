// Package uplink implements the caller→service media path: it decodes
// incoming µ-law 8 kHz RTP payloads, upsamples them to PCM16 24 kHz,
// accumulates service-sized chunks, and forwards them to the remote
// session in arrival order without blocking the RTP receive goroutine.
package uplink

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge/codec"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/resample"
)

// Config holds the tunables of the uplink pipeline.
type Config struct {
	MinUplinkChunkBytes int
}

// DefaultConfig returns the documented default: 100ms @ 24kHz PCM16 =
// 4800 bytes.
func DefaultConfig() Config {
	return Config{MinUplinkChunkBytes: 4800}
}

// AudioSink is the subset of the session-side contract the uplink
// pipeline needs: submit PCM16 audio, get back a completion future.
type AudioSink interface {
	SendInputAudio(pcm []byte) <-chan error
}

// ReadinessChecker reports whether the session is ready to receive
// uplink audio. Audio written before readiness is discarded.
type ReadinessChecker interface {
	Ready() bool
}

// Pipeline is the uplink producer described in §4.3.
type Pipeline struct {
	cfg    Config
	sink   AudioSink
	ready  ReadinessChecker
	logger *slog.Logger

	mu          sync.Mutex
	accumulator []byte

	mailbox      chan []byte
	mailboxOnce  sync.Once
	mailboxDone  chan struct{}
	loggedNotReady bool
}

// NewPipeline constructs an uplink pipeline. sink receives emitted
// chunks; ready gates discard-before-readiness behavior.
func NewPipeline(cfg Config, sink AudioSink, ready ReadinessChecker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:         cfg,
		sink:        sink,
		ready:       ready,
		logger:      logger,
		mailbox:     make(chan []byte, 32),
		mailboxDone: make(chan struct{}),
	}
	go p.runMailbox()
	return p
}

// runMailbox drains submitted chunks one at a time, in order, on a
// single goroutine, so concurrent Write calls never race past each
// other at the session sink.
func (p *Pipeline) runMailbox() {
	defer close(p.mailboxDone)
	for chunk := range p.mailbox {
		errCh := p.sink.SendInputAudio(chunk)
		if errCh == nil {
			continue
		}
		if err := <-errCh; err != nil {
			if isSuppressedSendError(err) {
				p.logger.Debug("uplink send: standalone audio chunk during active response, ignoring")
				continue
			}
			p.logger.Warn("uplink send failed", "error", err)
		}
	}
}

// isSuppressedSendError matches the remote service's expected,
// recoverable "standalone audio chunk" error during an active response.
func isSuppressedSendError(err error) bool {
	return strings.Contains(err.Error(), "standalone audio chunk")
}

// Write is the byte sink exposed to the RTP receiver (§6). input is
// µ-law 8kHz of arbitrary length. It never blocks on the session send.
func (p *Pipeline) Write(ulaw []byte) {
	if p.ready != nil && !p.ready.Ready() {
		if !p.loggedNotReady {
			p.logger.Debug("uplink: session not ready, discarding audio")
			p.loggedNotReady = true
		}
		return
	}
	p.loggedNotReady = false

	pcm8 := codec.Decode(ulaw)
	pcm24 := resample.Upsample8to24(pcm8)

	p.mu.Lock()
	p.accumulator = append(p.accumulator, pcm24...)
	var chunks [][]byte
	for len(p.accumulator) >= p.cfg.MinUplinkChunkBytes {
		chunk := make([]byte, p.cfg.MinUplinkChunkBytes)
		copy(chunk, p.accumulator[:p.cfg.MinUplinkChunkBytes])
		chunks = append(chunks, chunk)
		p.accumulator = p.accumulator[p.cfg.MinUplinkChunkBytes:]
	}
	p.mu.Unlock()

	for _, c := range chunks {
		p.submit(c)
	}
}

// Flush emits any residual buffered bytes as a final, possibly short,
// chunk.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	residual := p.accumulator
	p.accumulator = nil
	p.mu.Unlock()

	// Whole samples only: an odd trailing byte cannot occur here since
	// resample.Upsample8to24 always emits whole 2-byte samples, but guard
	// defensively per the malformed-audio error policy.
	if len(residual)%2 != 0 {
		residual = residual[:len(residual)-1]
	}
	if len(residual) == 0 {
		return
	}
	p.submit(residual)
}

func (p *Pipeline) submit(chunk []byte) {
	select {
	case p.mailbox <- chunk:
	case <-time.After(100 * time.Millisecond):
		p.logger.Warn("uplink mailbox full, dropping chunk", "bytes", len(chunk))
	}
}

// Close stops the mailbox goroutine. No further Write/Flush calls
// should be made after Close.
func (p *Pipeline) Close() {
	close(p.mailbox)
	<-p.mailboxDone
}
