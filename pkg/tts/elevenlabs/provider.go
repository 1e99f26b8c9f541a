package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slowburn/pkg/audio"
	"slowburn/pkg/config"
	"slowburn/pkg/tracker"
	"slowburn/pkg/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"

	// Name identifies the provider in logs, stats and backoff.
	Name = "elevenlabs"
	// TrackerName is the component name used for API stats.
	TrackerName = "tts.elevenlabs"
)

// Provider implements tts.Provider for ElevenLabs. It makes exactly one
// request per call.
type Provider struct {
	apiKey          string
	baseURL         string
	modelID         string
	stability       float64
	similarityBoost float64
	voices          map[string]string
	defaultVoice    string
	client          *http.Client
	tracker         *tracker.Tracker
}

// NewProvider creates a new ElevenLabs TTS provider.
func NewProvider(cfg config.ElevenLabsConfig, t *tracker.Tracker) *Provider {
	p := &Provider{
		apiKey:          cfg.Key,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		modelID:         cfg.Model,
		stability:       cfg.Stability,
		similarityBoost: cfg.SimilarityBoost,
		voices:          cfg.Voices,
		defaultVoice:    cfg.DefaultVoice,
		client:          &http.Client{},
		tracker:         t,
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if p.modelID == "" {
		p.modelID = defaultModel
	}
	return p
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// VoiceID resolves a logical voice, falling back to the default voice.
func (p *Provider) VoiceID(v tts.Voice) string {
	if id, ok := p.voices[v.String()]; ok && id != "" {
		return id
	}
	return p.defaultVoice
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// requestBody represents the JSON payload for ElevenLabs TTS.
type requestBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize generates compressed speech for text.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Result, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: no API key configured")
	}
	vid := p.VoiceID(voice)
	if vid == "" {
		return nil, fmt.Errorf("elevenlabs: no voice configured for %s", voice)
	}

	jsonData, err := json.Marshal(requestBody{
		Text:    text,
		ModelID: p.modelID,
		VoiceSettings: voiceSettings{
			Stability:       p.stability,
			SimilarityBoost: p.similarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err := p.execute(ctx, vid, voice, text, jsonData)
	if err != nil {
		if p.tracker != nil {
			p.tracker.TrackAPIFailure(TrackerName)
		}
		return nil, err
	}
	if p.tracker != nil {
		p.tracker.TrackAPISuccess(TrackerName)
	}
	return &tts.Result{Data: data, Encoding: audio.EncodingCompressed}, nil
}

func (p *Provider) execute(ctx context.Context, voiceID string, voice tts.Voice, text string, jsonData []byte) ([]byte, error) {
	start := time.Now()
	u := fmt.Sprintf("%s/v1/text-to-speech/%s", p.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(req)
	if err != nil {
		tts.Log("ELEVENLABS", voice.String(), text, 0, time.Since(start), err)
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		tts.Log("ELEVENLABS", voice.String(), text, resp.StatusCode, time.Since(start), nil)
		return nil, tts.NewFatalError(resp.StatusCode,
			fmt.Sprintf("elevenlabs api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		tts.Log("ELEVENLABS", voice.String(), text, resp.StatusCode, time.Since(start), err)
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) == 0 {
		tts.Log("ELEVENLABS", voice.String(), text, resp.StatusCode, time.Since(start), tts.ErrEmptyAudio)
		return nil, tts.ErrEmptyAudio
	}

	tts.Log("ELEVENLABS", voice.String(), text, resp.StatusCode, time.Since(start), nil)
	return data, nil
}
