package voicelive_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge/session"
	"github.com/vidyann/azure-voicelive-sip-sample/internal/voicelive"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server; handler receives the
// accepted conn and the original request (to assert on auth headers).
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func TestDialSendsAuthorizationHeader(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s, err := voicelive.Dial(ctx, wsURL(srv), "secret-key")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	select {
	case auth := <-gotAuth:
		if auth != "Bearer secret-key" {
			t.Errorf("Authorization header = %q, want %q", auth, "Bearer secret-key")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received request")
	}
}

func TestSendEventSessionUpdateOmitsMaxTokens(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		if raw["type"] != "session.update" {
			t.Errorf("type = %v, want session.update", raw["type"])
		}
		sessionObj, _ := raw["session"].(map[string]any)
		if _, ok := sessionObj["MaxResponseOutputTokens"]; ok {
			t.Error("wire payload must not contain MaxResponseOutputTokens")
		}
		if _, ok := sessionObj["max_response_output_tokens"]; ok {
			t.Error("wire payload must not contain max_response_output_tokens")
		}
		if sessionObj["voice"] != "alloy" {
			t.Errorf("voice = %v, want alloy", sessionObj["voice"])
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := voicelive.Dial(ctx, wsURL(srv), "key")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	cfg := session.DefaultSessionConfig("be helpful", "alloy", "en")
	cfg.MaxResponseOutputTokens = 500
	if err := s.SendEvent(session.ClientEvent{Type: session.ClientEventSessionUpdate, Config: &cfg}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
}

func TestReceiveLoopDecodesAudioDelta(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]string{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString(pcm),
		})
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := voicelive.Dial(ctx, wsURL(srv), "key")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	select {
	case evt := <-s.Events():
		if evt.Type != session.EventResponseAudioDelta {
			t.Fatalf("Type = %q, want response.audio.delta", evt.Type)
		}
		if string(evt.AudioDelta) != string(pcm) {
			t.Errorf("AudioDelta = %v, want %v", evt.AudioDelta, pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

func TestReceiveLoopDecodesTranscriptionCompleted(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]string{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "hello there",
		})
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := voicelive.Dial(ctx, wsURL(srv), "key")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	select {
	case evt := <-s.Events():
		if evt.Type != session.EventInputTranscriptionDone {
			t.Fatalf("Type = %q, want transcription completed", evt.Type)
		}
		if evt.Transcript != "hello there" {
			t.Errorf("Transcript = %q, want %q", evt.Transcript, "hello there")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

func TestReceiveLoopIgnoresUnknownEventType(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]string{"type": "some.future.event"})
		writeJSON(t, conn, map[string]string{"type": "session.created"})
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := voicelive.Dial(ctx, wsURL(srv), "key")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	select {
	case evt := <-s.Events():
		if evt.Type != session.EventSessionCreated {
			t.Fatalf("Type = %q, want session.created (unknown event should be skipped)", evt.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

func TestEventsChannelClosesOnServerDisconnect(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := voicelive.Dial(ctx, wsURL(srv), "key")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Fatal("expected channel to be closed with no events")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel never closed")
	}
}
