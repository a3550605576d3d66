// Package session owns the voice-live session lifecycle: configuring
// the remote session, dispatching its typed event stream to pipeline
// actions, and driving the proactive greeting and readiness signal.
package session

import "encoding/json"

// EventType discriminates the tagged union of events the remote
// voice-live session can emit.
type EventType string

const (
	EventSessionCreated              EventType = "session.created"
	EventSessionUpdated              EventType = "session.updated"
	EventResponseCreated             EventType = "response.created"
	EventResponseAudioDelta          EventType = "response.audio.delta"
	EventResponseAudioDone           EventType = "response.audio.done"
	EventResponseTextDelta           EventType = "response.text.delta"
	EventResponseAudioTimestampDelta EventType = "response.audio_timestamp.delta"
	EventSpeechStarted               EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped                EventType = "input_audio_buffer.speech_stopped"
	EventInputTranscriptionDone       EventType = "conversation.item.input_audio_transcription.completed"
	EventError                        EventType = "error"
)

// Event is the flattened representation of every variant in the
// voice-live event taxonomy. Only the fields relevant to the event's
// Type are populated; this mirrors how the wire JSON itself is a flat
// object with a discriminant field rather than a tagged enum.
type Event struct {
	Type       EventType
	SessionID  string
	AudioDelta []byte // response.audio.delta: raw PCM16 24 kHz, already base64-decoded
	TextDelta  string // response.text.delta
	Transcript string // conversation.item.input_audio_transcription.completed
	ErrCode    string
	ErrMessage string
	Raw        json.RawMessage // original wire payload, for debug logging of unknown types
}

// ClientEventType discriminates control events the controller sends to
// the remote session.
type ClientEventType string

const (
	ClientEventSessionUpdate  ClientEventType = "session.update"
	ClientEventResponseCreate ClientEventType = "response.create"
	ClientEventResponseCancel ClientEventType = "response.cancel"
)

// ClientEvent is sent to the remote session via RemoteSession.SendEvent.
type ClientEvent struct {
	Type   ClientEventType
	Config *SessionConfig // set when Type == ClientEventSessionUpdate
}

// TurnDetection configures server-side semantic voice activity
// detection.
type TurnDetection struct {
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
	InterruptOnSpeech bool
	AutoTruncate      bool
	AutoCreateResponse bool
}

// Transcription selects the user-speech transcription backend.
type Transcription struct {
	Mode     string // "reference-asr" or "whisper"
	Language string // used when Mode == "reference-asr"
}

// SessionConfig is the configuration sent once, immediately after
// session start, via a session.update client event.
type SessionConfig struct {
	Instructions       string
	Modalities         []string // e.g. []string{"text", "audio"}
	Voice              string
	InputAudioFormat   string // "pcm16"
	InputSampleRateHz  int    // 24000
	OutputAudioFormat  string // "pcm16"
	OutputSampleRateHz int    // 24000
	TurnDetection      TurnDetection
	NoiseSuppression   bool
	EchoCancellation   bool
	Transcription      Transcription

	// MaxResponseOutputTokens is accepted for forward compatibility but
	// is not currently transmitted on the wire (see DESIGN.md).
	MaxResponseOutputTokens int
}

// DefaultSessionConfig returns the configuration described in §4.5,
// with the caller supplying the free-text fields.
func DefaultSessionConfig(instructions, voice string, transcriptionLanguage string) SessionConfig {
	return SessionConfig{
		Instructions:       instructions,
		Modalities:         []string{"text", "audio"},
		Voice:              voice,
		InputAudioFormat:   "pcm16",
		InputSampleRateHz:  24000,
		OutputAudioFormat:  "pcm16",
		OutputSampleRateHz: 24000,
		TurnDetection: TurnDetection{
			Threshold:          0.3,
			PrefixPaddingMs:    300,
			SilenceDurationMs:  500,
			InterruptOnSpeech:  true,
			AutoTruncate:       true,
			AutoCreateResponse: true,
		},
		NoiseSuppression: true,
		EchoCancellation: true,
		Transcription: Transcription{
			Mode:     "reference-asr",
			Language: transcriptionLanguage,
		},
	}
}

// RemoteSession is the session-side external collaborator contract
// (§6): an already-started session offering an audio sink, a control
// event sink, and a typed event source.
type RemoteSession interface {
	// SendInputAudio submits raw PCM16 little-endian audio at the
	// session's configured input sample rate. It returns immediately; the
	// returned channel receives exactly one error (nil on success) when
	// the send completes.
	SendInputAudio(pcm []byte) <-chan error

	// SendEvent submits a control event (session.update, response.create,
	// response.cancel).
	SendEvent(evt ClientEvent) error

	// Events returns the channel of typed events emitted by the remote
	// session for the lifetime of the connection. It is closed when the
	// underlying transport closes.
	Events() <-chan Event

	// Close releases the underlying transport.
	Close() error
}
