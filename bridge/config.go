// Package bridge is the per-call audio bridging core: it assembles the
// µ-law codec, resampler, uplink/downlink pipelines, and session
// controller into a single MediaBridge, and loads the process-wide
// configuration those components are built from.
package bridge

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vidyann/azure-voicelive-sip-sample/bridge/downlink"
	"github.com/vidyann/azure-voicelive-sip-sample/bridge/uplink"
)

const (
	defaultSIPBindPort           = 5060
	defaultSIPBindHost           = "0.0.0.0"
	defaultVoiceName             = "alloy"
	defaultTranscriptionLanguage = "en"
	defaultSessionReadyTimeout   = 10 * time.Second
)

// Config is the full process configuration: the tunables from §6's
// parameter table plus the transport-level settings needed to run a
// real gateway. The VAD settings (threshold, prefix padding, silence
// duration) are not part of it; they are fixed in
// session.DefaultSessionConfig.
type Config struct {
	SIPBindPort   int
	SIPBindHost   string
	SIPExternalIP string

	VoiceLiveEndpoint string
	VoiceLiveAPIKey   string
	VoiceName         string
	Instructions      string
	GreetingEnabled   bool

	TranscriptionLanguage  string
	TranscriptionMode      string
	MaxResponseOutputTokens int

	ClearOnSpeechStart bool
	SessionReadyTimeout time.Duration

	// MaxActiveCalls caps concurrent inbound calls the SIP gateway will
	// accept; 0 means unlimited.
	MaxActiveCalls int64

	Downlink downlink.Config
	Uplink   uplink.Config
}

type yamlConfig struct {
	SIP struct {
		BindPort   int    `yaml:"bind_port"`
		BindHost   string `yaml:"bind_host"`
		ExternalIP string `yaml:"external_ip"`
	} `yaml:"sip"`
	VoiceLive struct {
		Endpoint               string `yaml:"endpoint"`
		APIKey                 string `yaml:"api_key"`
		Voice                  string `yaml:"voice"`
		Instructions           string `yaml:"instructions"`
		GreetingEnabled        *bool  `yaml:"greeting_enabled"`
		TranscriptionLanguage  string `yaml:"transcription_language"`
		TranscriptionMode      string `yaml:"transcription_mode"`
		MaxResponseOutputTokens int   `yaml:"max_response_output_tokens"`
		ClearOnSpeechStart     *bool  `yaml:"clear_on_speech_start"`
		SessionReadyTimeoutS   int    `yaml:"session_ready_timeout_s"`
	} `yaml:"voice_live"`
	MaxActiveCalls int64 `yaml:"max_active_calls"`
	Downlink struct {
		RTPPayloadBytes     int `yaml:"rtp_payload_bytes"`
		MinPrebufferPackets int `yaml:"min_prebuffer_packets"`
		LowWaterPackets     int `yaml:"low_water_packets"`
		HighWaterPackets    int `yaml:"high_water_packets"`
		MaxDeltaChunkBytes  int `yaml:"max_delta_chunk_bytes"`
		ReadFirstTimeoutMs  int `yaml:"read_first_timeout_ms"`
		ReadBatchTimeoutMs  int `yaml:"read_batch_timeout_ms"`
	} `yaml:"downlink"`
	Uplink struct {
		MinUplinkChunkMs int `yaml:"min_uplink_chunk_ms"`
	} `yaml:"uplink"`
}

// LoadConfig reads and validates a YAML config file, applying the
// documented defaults for every tunable that is omitted.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		SIPBindPort:             defaultSIPBindPort,
		SIPBindHost:             defaultSIPBindHost,
		VoiceName:               defaultVoiceName,
		GreetingEnabled:         true,
		TranscriptionLanguage:   defaultTranscriptionLanguage,
		TranscriptionMode:       "reference-asr",
		ClearOnSpeechStart:      true,
		SessionReadyTimeout:     defaultSessionReadyTimeout,
		Downlink:                downlink.DefaultConfig(),
		Uplink:                  uplink.DefaultConfig(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	if yc.SIP.BindPort > 0 {
		cfg.SIPBindPort = yc.SIP.BindPort
	}
	if yc.SIP.BindHost != "" {
		cfg.SIPBindHost = yc.SIP.BindHost
	}
	cfg.SIPExternalIP = yc.SIP.ExternalIP

	if yc.VoiceLive.Endpoint == "" {
		return Config{}, errors.New("voice_live.endpoint is required")
	}
	cfg.VoiceLiveEndpoint = yc.VoiceLive.Endpoint

	if yc.VoiceLive.APIKey == "" {
		return Config{}, errors.New("voice_live.api_key is required")
	}
	cfg.VoiceLiveAPIKey = yc.VoiceLive.APIKey

	if yc.VoiceLive.Voice != "" {
		cfg.VoiceName = yc.VoiceLive.Voice
	}
	cfg.Instructions = yc.VoiceLive.Instructions
	if yc.VoiceLive.GreetingEnabled != nil {
		cfg.GreetingEnabled = *yc.VoiceLive.GreetingEnabled
	}
	if yc.VoiceLive.TranscriptionLanguage != "" {
		cfg.TranscriptionLanguage = yc.VoiceLive.TranscriptionLanguage
	}
	if yc.VoiceLive.TranscriptionMode != "" {
		cfg.TranscriptionMode = yc.VoiceLive.TranscriptionMode
	}
	cfg.MaxResponseOutputTokens = yc.VoiceLive.MaxResponseOutputTokens
	if yc.VoiceLive.ClearOnSpeechStart != nil {
		cfg.ClearOnSpeechStart = *yc.VoiceLive.ClearOnSpeechStart
	}
	if yc.VoiceLive.SessionReadyTimeoutS > 0 {
		cfg.SessionReadyTimeout = time.Duration(yc.VoiceLive.SessionReadyTimeoutS) * time.Second
	}

	if yc.Downlink.RTPPayloadBytes > 0 {
		cfg.Downlink.RTPPayloadBytes = yc.Downlink.RTPPayloadBytes
	}
	if yc.Downlink.MinPrebufferPackets > 0 {
		cfg.Downlink.MinPrebufferPackets = yc.Downlink.MinPrebufferPackets
	}
	if yc.Downlink.LowWaterPackets > 0 {
		cfg.Downlink.LowWaterPackets = yc.Downlink.LowWaterPackets
	}
	if yc.Downlink.HighWaterPackets > 0 {
		cfg.Downlink.HighWaterPackets = yc.Downlink.HighWaterPackets
	}
	if yc.Downlink.MaxDeltaChunkBytes > 0 {
		cfg.Downlink.MaxDeltaChunkBytes = yc.Downlink.MaxDeltaChunkBytes
	}
	if yc.Downlink.ReadFirstTimeoutMs > 0 {
		cfg.Downlink.ReadFirstTimeout = time.Duration(yc.Downlink.ReadFirstTimeoutMs) * time.Millisecond
	}
	if yc.Downlink.ReadBatchTimeoutMs > 0 {
		cfg.Downlink.ReadBatchTimeout = time.Duration(yc.Downlink.ReadBatchTimeoutMs) * time.Millisecond
	}
	if yc.Uplink.MinUplinkChunkMs > 0 {
		cfg.Uplink.MinUplinkChunkBytes = yc.Uplink.MinUplinkChunkMs * 24000 / 1000 * 2
	}

	cfg.MaxActiveCalls = yc.MaxActiveCalls

	if cfg.Downlink.HighWaterPackets <= cfg.Downlink.LowWaterPackets {
		return Config{}, fmt.Errorf("downlink.high_water_packets (%d) must exceed low_water_packets (%d)",
			cfg.Downlink.HighWaterPackets, cfg.Downlink.LowWaterPackets)
	}

	return cfg, nil
}
