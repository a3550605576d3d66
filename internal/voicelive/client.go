// Package voicelive is the concrete bridge/session.RemoteSession
// implementation: it dials the remote voice-live conversational
// service over a WebSocket, sends session control events, and
// dispatches the inbound event stream into bridge/session.Event
// values.
package voicelive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge/session"
)

var _ session.RemoteSession = (*Session)(nil)

const eventBufferSize = 64

// Dial establishes a new voice-live session over a WebSocket at
// endpoint, authenticating with apiKey. The returned Session starts a
// background receive loop immediately; callers still must send a
// session.update ClientEvent (via SendEvent) before the remote side
// will accept audio.
func Dial(ctx context.Context, endpoint, apiKey string) (*Session, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("voicelive: dial: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		events: make(chan session.Event, eventBufferSize),
		ctx:    sessCtx,
		cancel: cancel,
	}

	go s.receiveLoop()

	return s, nil
}

// Session is a single connection to the remote voice-live service.
type Session struct {
	conn   *websocket.Conn
	events chan session.Event

	mu     sync.Mutex
	errVal error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// SendInputAudio submits raw PCM16 24kHz audio as an
// input_audio_buffer.append client event, asynchronously.
func (s *Session) SendInputAudio(pcm []byte) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- s.writeJSON(appendAudioMessage{
			Type:  "input_audio_buffer.append",
			Audio: base64.StdEncoding.EncodeToString(pcm),
		})
	}()
	return ch
}

// SendEvent submits a control event.
func (s *Session) SendEvent(evt session.ClientEvent) error {
	switch evt.Type {
	case session.ClientEventSessionUpdate:
		if evt.Config == nil {
			return fmt.Errorf("voicelive: session.update requires a SessionConfig")
		}
		return s.writeJSON(sessionUpdateMessage{
			Type:    "session.update",
			Session: toWireSessionConfig(*evt.Config),
		})
	case session.ClientEventResponseCreate:
		return s.writeJSON(typeOnlyMessage{Type: "response.create"})
	case session.ClientEventResponseCancel:
		return s.writeJSON(typeOnlyMessage{Type: "response.cancel"})
	default:
		return fmt.Errorf("voicelive: unknown client event type %q", evt.Type)
	}
}

// Events returns the channel of inbound events. It is closed when the
// underlying connection closes or fails.
func (s *Session) Events() <-chan session.Event { return s.events }

// Close releases the underlying WebSocket connection.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("voicelive: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads frames from the WebSocket and dispatches them as
// bridge/session.Event values. It owns the events channel and closes
// it on exit.
func (s *Session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var wire serverEvent
		if err := json.Unmarshal(data, &wire); err != nil {
			continue
		}

		evt, ok := toSessionEvent(wire, data)
		if !ok {
			continue
		}

		select {
		case s.events <- evt:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// Err returns the first transport error observed by the receive loop,
// or nil if the connection is still healthy or was closed cleanly.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}
