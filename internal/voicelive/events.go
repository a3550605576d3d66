package voicelive

import (
	"encoding/base64"
	"encoding/json"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge/session"
)

// ── outgoing wire types ──────────────────────────────────────────────────────

type typeOnlyMessage struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type sessionUpdateMessage struct {
	Type    string            `json:"type"`
	Session wireSessionConfig `json:"session"`
}

type wireTurnDetection struct {
	Type               string  `json:"type"`
	Threshold          float64 `json:"threshold"`
	PrefixPaddingMs    int     `json:"prefix_padding_ms"`
	SilenceDurationMs  int     `json:"silence_duration_ms"`
	InterruptOnSpeech  bool    `json:"interrupt_response,omitempty"`
	AutoTruncate       bool    `json:"auto_truncate,omitempty"`
	AutoCreateResponse bool    `json:"create_response,omitempty"`
}

type wireTranscription struct {
	Mode     string `json:"mode"`
	Language string `json:"language,omitempty"`
}

// wireSessionConfig is the outgoing session.update payload. It
// deliberately omits MaxResponseOutputTokens (see DESIGN.md, Open
// Question 3).
type wireSessionConfig struct {
	Instructions       string            `json:"instructions,omitempty"`
	Modalities         []string          `json:"modalities,omitempty"`
	Voice              string            `json:"voice,omitempty"`
	InputAudioFormat   string            `json:"input_audio_format"`
	OutputAudioFormat  string            `json:"output_audio_format"`
	TurnDetection      wireTurnDetection `json:"turn_detection"`
	NoiseSuppression   bool              `json:"noise_suppression,omitempty"`
	EchoCancellation   bool              `json:"echo_cancellation,omitempty"`
	InputTranscription wireTranscription `json:"input_audio_transcription"`
}

func toWireSessionConfig(cfg session.SessionConfig) wireSessionConfig {
	return wireSessionConfig{
		Instructions:      cfg.Instructions,
		Modalities:        cfg.Modalities,
		Voice:             cfg.Voice,
		InputAudioFormat:  cfg.InputAudioFormat,
		OutputAudioFormat: cfg.OutputAudioFormat,
		TurnDetection: wireTurnDetection{
			Type:               "server_vad",
			Threshold:          cfg.TurnDetection.Threshold,
			PrefixPaddingMs:    cfg.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs:  cfg.TurnDetection.SilenceDurationMs,
			InterruptOnSpeech:  cfg.TurnDetection.InterruptOnSpeech,
			AutoTruncate:       cfg.TurnDetection.AutoTruncate,
			AutoCreateResponse: cfg.TurnDetection.AutoCreateResponse,
		},
		NoiseSuppression: cfg.NoiseSuppression,
		EchoCancellation: cfg.EchoCancellation,
		InputTranscription: wireTranscription{
			Mode:     cfg.Transcription.Mode,
			Language: cfg.Transcription.Language,
		},
	}
}

// ── incoming wire types ──────────────────────────────────────────────────────

// serverEvent is the flat incoming event envelope: every field name
// differs by event type, so only the ones relevant to Type are
// populated on any given message.
type serverEvent struct {
	Type string `json:"type"`

	Session *struct {
		ID string `json:"id"`
	} `json:"session,omitempty"`

	// response.audio.delta / response.text.delta /
	// response.audio_timestamp.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// toSessionEvent translates a decoded wire event into a
// bridge/session.Event. ok is false for event types not in the
// taxonomy (§4.5); callers should ignore such frames.
func toSessionEvent(wire serverEvent, raw json.RawMessage) (session.Event, bool) {
	evt := session.Event{Type: session.EventType(wire.Type), Raw: raw}
	if wire.Session != nil {
		evt.SessionID = wire.Session.ID
	}

	switch evt.Type {
	case session.EventSessionCreated, session.EventSessionUpdated,
		session.EventResponseCreated, session.EventResponseAudioDone,
		session.EventSpeechStarted, session.EventSpeechStopped:
		return evt, true

	case session.EventResponseAudioDelta:
		if wire.Delta == "" {
			return session.Event{}, false
		}
		audio, err := base64.StdEncoding.DecodeString(wire.Delta)
		if err != nil {
			return session.Event{}, false
		}
		evt.AudioDelta = audio
		return evt, true

	case session.EventResponseTextDelta, session.EventResponseAudioTimestampDelta:
		evt.TextDelta = wire.Delta
		return evt, true

	case session.EventInputTranscriptionDone:
		if wire.Transcript == "" {
			return session.Event{}, false
		}
		evt.Transcript = wire.Transcript
		return evt, true

	case session.EventError:
		if wire.Error != nil {
			evt.ErrCode = wire.Error.Code
			evt.ErrMessage = wire.Error.Message
		}
		return evt, true

	default:
		return session.Event{}, false
	}
}
