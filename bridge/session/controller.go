package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State is the coarse session lifecycle state advanced by inbound
// events.
type State int32

const (
	StateCreated State = iota
	StateConfiguring
	StateReady
	StateResponding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DownlinkProducer is the subset of bridge/downlink.Pipeline the
// controller drives.
type DownlinkProducer interface {
	EnqueueChunk(delta []byte)
	OnResponseCreated()
	OnResponseDone()
	ClearBuffer()
}

// Controller owns the session lifecycle per §4.5: it configures the
// remote session, dispatches its typed event stream to pipeline
// actions, and drives the proactive greeting and readiness signal.
type Controller struct {
	remote   RemoteSession
	downlink DownlinkProducer
	cfg      SessionConfig
	greeting bool
	logger   *slog.Logger

	state atomic.Int32

	readyOnce sync.Once
	readyCh   chan struct{}

	conversationStarted atomic.Bool
	clearOnSpeechStart  bool
}

// NewController constructs a SessionController wired to a remote
// session and a downlink producer. clearOnSpeechStart resolves Open
// Question 1 (see DESIGN.md): true by default.
func NewController(remote RemoteSession, downlink DownlinkProducer, cfg SessionConfig, greeting bool, clearOnSpeechStart bool, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		remote:             remote,
		downlink:           downlink,
		cfg:                cfg,
		greeting:           greeting,
		clearOnSpeechStart: clearOnSpeechStart,
		logger:             logger,
		readyCh:            make(chan struct{}),
	}
}

// State returns the current coarse lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Ready returns true once session.updated has been observed.
func (c *Controller) Ready() bool {
	return c.State() == StateReady || c.State() == StateResponding
}

// ReadyChan resolves once the session reaches Ready; MediaBridge
// awaits it with a timeout per §4.6.
func (c *Controller) ReadyChan() <-chan struct{} {
	return c.readyCh
}

// Configure sends the initial session.update. Call once; Run may
// already be consuming events.
func (c *Controller) Configure() error {
	c.state.Store(int32(StateConfiguring))
	return c.remote.SendEvent(ClientEvent{
		Type:   ClientEventSessionUpdate,
		Config: &c.cfg,
	})
}

// Run consumes the remote session's event stream until it closes or
// ctx is cancelled. It is meant to run on its own goroutine.
func (c *Controller) Run(ctx context.Context) {
	events := c.remote.Events()
	for {
		select {
		case <-ctx.Done():
			c.state.Store(int32(StateClosed))
			return
		case evt, ok := <-events:
			if !ok {
				c.state.Store(int32(StateClosed))
				return
			}
			c.dispatch(evt)
		}
	}
}

func (c *Controller) dispatch(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session event handler panicked", "event", evt.Type, "recovered", r)
		}
	}()

	switch evt.Type {
	case EventSessionCreated:
		c.logger.Info("voice-live session created", "session_id", evt.SessionID)

	case EventSessionUpdated:
		c.state.Store(int32(StateReady))
		c.markReady()
		if c.greeting && c.conversationStarted.CompareAndSwap(false, true) {
			if err := c.remote.SendEvent(ClientEvent{Type: ClientEventResponseCreate}); err != nil {
				c.logger.Warn("failed to request greeting response", "error", err)
			}
		}

	case EventResponseCreated:
		c.state.Store(int32(StateResponding))
		c.downlink.OnResponseCreated()

	case EventResponseAudioDelta:
		c.downlink.EnqueueChunk(evt.AudioDelta)

	case EventResponseAudioDone:
		c.downlink.OnResponseDone()

	case EventResponseTextDelta:
		c.logger.Debug("response text delta", "text", evt.TextDelta)

	case EventResponseAudioTimestampDelta:
		c.logger.Debug("response audio timestamp delta")

	case EventSpeechStarted:
		c.logger.Info("speech started")
		if c.clearOnSpeechStart {
			c.downlink.ClearBuffer()
		}

	case EventSpeechStopped:
		c.logger.Info("speech stopped")

	case EventInputTranscriptionDone:
		c.logger.Info("user transcript", "text", evt.Transcript)

	case EventError:
		c.logger.Error("voice-live session error", "code", evt.ErrCode, "message", evt.ErrMessage)

	default:
		c.logger.Debug("unhandled voice-live event", "type", evt.Type)
	}
}

func (c *Controller) markReady() {
	c.readyOnce.Do(func() {
		close(c.readyCh)
	})
}

// Close releases the underlying remote session.
func (c *Controller) Close() error {
	c.state.Store(int32(StateClosed))
	return c.remote.Close()
}
