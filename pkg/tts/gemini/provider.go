package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"slowburn/pkg/audio"
	"slowburn/pkg/config"
	"slowburn/pkg/tracker"
	"slowburn/pkg/tts"
)

const (
	// Name identifies the provider in logs, stats and backoff.
	Name = "gemini"
	// TrackerName is the component name used for API stats.
	TrackerName = "tts.gemini"

	defaultModel = "gemini-2.5-flash-preview-tts"
)

// Speaker is the part of the Gemini client this provider needs.
type Speaker interface {
	Speak(ctx context.Context, modelName, text, voiceName string) (data []byte, mimeType string, err error)
}

// StatusFunc extracts an HTTP status from a Speaker error, or 0.
type StatusFunc func(error) int

// Provider implements tts.Provider on top of Gemini's audio output. It
// returns raw 16-bit mono PCM at audio.PCMSampleRate.
type Provider struct {
	speaker      Speaker
	status       StatusFunc
	modelName    string
	voices       map[string]string
	defaultVoice string
	tracker      *tracker.Tracker
}

// NewProvider creates a fallback provider. status may be nil.
func NewProvider(cfg config.GeminiTTSConfig, s Speaker, status StatusFunc, t *tracker.Tracker) *Provider {
	p := &Provider{
		speaker:      s,
		status:       status,
		modelName:    cfg.Model,
		voices:       cfg.Voices,
		defaultVoice: cfg.DefaultVoice,
		tracker:      t,
	}
	if p.modelName == "" {
		p.modelName = defaultModel
	}
	if p.defaultVoice == "" {
		p.defaultVoice = "Puck"
	}
	for role, name := range p.voices {
		if _, ok := LookupVoice(name); !ok {
			slog.Warn("Gemini TTS: unknown prebuilt voice", "voice", role, "name", name)
		}
	}
	return p
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// VoiceName resolves a logical voice, falling back to the default voice.
func (p *Provider) VoiceName(v tts.Voice) string {
	if name, ok := p.voices[v.String()]; ok && name != "" {
		return name
	}
	return p.defaultVoice
}

// Synthesize returns raw PCM for text.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Result, error) {
	start := time.Now()
	data, mimeType, err := p.speaker.Speak(ctx, p.modelName, text, p.VoiceName(voice))
	if err != nil {
		status := 0
		if p.status != nil {
			status = p.status(err)
		}
		tts.Log("GEMINI", voice.String(), text, status, time.Since(start), err)
		p.trackFailure()
		if status != 0 {
			return nil, tts.NewFatalError(status, err.Error())
		}
		return nil, err
	}
	if len(data) == 0 {
		tts.Log("GEMINI", voice.String(), text, 200, time.Since(start), tts.ErrEmptyAudio)
		p.trackFailure()
		return nil, tts.ErrEmptyAudio
	}
	if rate := sampleRate(mimeType); rate != 0 && rate != audio.PCMSampleRate {
		slog.Warn("Gemini TTS: unexpected sample rate", "mime", mimeType)
	}

	tts.Log("GEMINI", voice.String(), text, 200, time.Since(start), nil)
	if p.tracker != nil {
		p.tracker.TrackAPISuccess(TrackerName)
	}
	return &tts.Result{Data: data, Encoding: audio.EncodingPCM16}, nil
}

func (p *Provider) trackFailure() {
	if p.tracker != nil {
		p.tracker.TrackAPIFailure(TrackerName)
	}
}

// sampleRate parses the rate parameter of e.g. "audio/L16;codec=pcm;rate=24000".
func sampleRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || k != "rate" {
			continue
		}
		var rate int
		if _, err := fmt.Sscanf(v, "%d", &rate); err == nil {
			return rate
		}
	}
	return 0
}
