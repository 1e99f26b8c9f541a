package main

import (
	"context"
	"fmt"
	"log/slog"

	"slowburn/pkg/cache"
	"slowburn/pkg/config"
	"slowburn/pkg/db/maintenance"
	"slowburn/pkg/llm/gemini"
	"slowburn/pkg/logging"
	"slowburn/pkg/model"
	"slowburn/pkg/request"
	"slowburn/pkg/speech"
	"slowburn/pkg/store"
	"slowburn/pkg/story"
	"slowburn/pkg/tracker"
	"slowburn/pkg/tts"
	"slowburn/pkg/tts/elevenlabs"
	geminitts "slowburn/pkg/tts/gemini"
)

// CoreServices are shared by the server and the warm command.
type CoreServices struct {
	Config  *config.Config
	Store   *store.SQLiteStore
	Tracker *tracker.Tracker
	Cache   *cache.AudioCache
	LLM     *gemini.Client
	Speech  *speech.Synthesizer
	Episode *model.Episode

	cleanup []func()
}

// Close releases resources in reverse order of acquisition.
func (s *CoreServices) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// initCore loads config, logging, the store and the speech pipeline, and
// brings the speech cache in line with the script.
func initCore(ctx context.Context, configPath string) (*CoreServices, error) {
	appCfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	svcs := &CoreServices{Config: appCfg, cleanup: []func(){cleanupLogs}}

	// Configure history logging
	tts.SetLogPath(appCfg.Log.TTS.Path)

	ep, err := story.EpisodeOne()
	if err != nil {
		svcs.Close()
		return nil, fmt.Errorf("failed to load episode: %w", err)
	}
	svcs.Episode = ep

	// The store degrades to session-only caching when it cannot be opened.
	st := store.Open(appCfg.DB.Path)
	svcs.Store = st
	svcs.cleanup = append(svcs.cleanup, func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	})

	if _, err := maintenance.Run(ctx, st, story.Utterances(ep)); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	svcs.Tracker = tracker.New()
	svcs.Cache = cache.NewAudioCache(st, svcs.Tracker)

	llmClient, err := gemini.NewClient(appCfg.LLM, appCfg.Log.Gemini.Path, svcs.Tracker)
	if err != nil {
		svcs.Close()
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	svcs.LLM = llmClient
	svcs.cleanup = append(svcs.cleanup, llmClient.Close)

	primary, fallback := initTTS(appCfg, llmClient, svcs.Tracker)
	backoff := request.NewProviderBackoff(appCfg.TTS.Backoff.BaseDelay.Std(), appCfg.TTS.Backoff.MaxDelay.Std())
	svcs.Speech = speech.New(svcs.Cache, primary, fallback, backoff, svcs.Tracker, nil)

	return svcs, nil
}

// initTTS returns the configured providers. A provider without credentials
// is left out rather than failing every call.
func initTTS(cfg *config.Config, llmClient *gemini.Client, tr *tracker.Tracker) (primary, fallback tts.Provider) {
	if cfg.TTS.ElevenLabs.Key != "" {
		primary = elevenlabs.NewProvider(cfg.TTS.ElevenLabs, tr)
	} else {
		slog.Warn("TTS: ElevenLabs key missing, primary provider disabled")
	}
	if llmClient.Available() {
		fallback = geminitts.NewProvider(cfg.TTS.Gemini, llmClient, gemini.StatusCode, tr)
	} else {
		slog.Warn("TTS: Gemini key missing, fallback provider disabled")
	}
	return primary, fallback
}
