package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slowburn/internal/api"
	"slowburn/pkg/audio"
	"slowburn/pkg/capture"
	"slowburn/pkg/journal"
	"slowburn/pkg/logging"
	"slowburn/pkg/observe"
	"slowburn/pkg/playback"
	"slowburn/pkg/practice"
	"slowburn/pkg/probe"
	"slowburn/pkg/request"
	"slowburn/pkg/version"
)

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Metrics and spans must be installed before anything records.
	shutdownOtel, err := observe.InitProvider(ctx, version.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	svcs, err := initCore(ctx, configPath)
	if err != nil {
		return err
	}
	defer svcs.Close()
	appCfg := svcs.Config

	slog.Info("Slowburn Started", "version", version.Version)

	// Practice
	mic := capture.NewDefault(appCfg.Practice.SampleRate)
	var scorer practice.Scorer
	if svcs.LLM.Available() {
		scorer = svcs.LLM
	} else {
		slog.Warn("Practice: no Gemini key, attempts get placeholder feedback")
	}
	recorder := practice.NewRecorder(mic, scorer,
		appCfg.Practice.MaxDuration.Std(), appCfg.Practice.PlaceholderDelay.Std(), nil)

	// Startup probes
	results := probe.Run(ctx, []probe.Probe{
		probe.Store(svcs.Store),
		probe.Key("ElevenLabs TTS", appCfg.TTS.ElevenLabs.Key, false),
		probe.Key("Gemini", appCfg.LLM.Key, false),
		probe.Microphone(mic),
	})
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	// Output sink. The event hub is created after the controller, so the
	// client sink announces clips through a late-bound hub.
	var hub *api.EventHub
	var sink audio.Sink
	var handoff *audio.Handoff
	var speaker *audio.Manager
	switch appCfg.Audio.Output {
	case "speaker":
		speaker = audio.New(appCfg.Audio.Volume)
		restoreVolume(ctx, svcs, speaker)
		defer speaker.Shutdown()
		sink = speaker
	default:
		handoff = audio.NewHandoff(func(id string, clip *audio.Clip) {
			if hub != nil {
				hub.PublishAudio(id, clip)
			}
		})
		sink = handoff
	}

	metrics := observe.DefaultMetrics()
	j := journal.New(svcs.Store, svcs.Store)
	ctrl := playback.New(svcs.Episode, svcs.Speech, sink, recorder, j, metrics, playback.Options{
		PrefetchDelay:   appCfg.Playback.PrefetchDelay.Std(),
		ThresholdStory:  appCfg.Practice.SaveThresholdStory,
		ThresholdReview: appCfg.Practice.SaveThresholdReview,
	})
	defer ctrl.Close()

	hub = api.NewEventHub(ctrl)
	go hub.Run(ctx)

	// Model check runs in the background; it only logs.
	go func() {
		svcs.LLM.ValidateModel(ctx, appCfg.LLM.ScoringModel)
		svcs.LLM.ValidateModel(ctx, appCfg.TTS.Gemini.Model)
	}()

	media := request.New(svcs.Store, svcs.Tracker, appCfg.Request)

	handlers := api.Handlers{
		State:    api.NewStateHandler(ctrl),
		Events:   hub,
		Playback: api.NewPlaybackHandler(ctrl, handoff),
		Practice: api.NewPracticeHandler(ctrl),
		Journal:  api.NewJournalHandler(j),
		Media:    api.NewMediaHandler(svcs.Episode, media),
		Stats:    api.NewStatsHandler(svcs.Tracker, svcs.Cache),
	}
	if speaker != nil {
		handlers.Audio = api.NewAudioHandler(speaker, svcs.Store)
	}
	if appCfg.Metrics.Enabled {
		handlers.Metrics = promhttp.Handler()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	srv := api.NewServer(appCfg.Server.Address, handlers,
		observe.Middleware(metrics, logging.RequestLogger), func() { requestShutdown(quit) })

	return runServerLifecycle(ctx, srv, quit)
}

func restoreVolume(ctx context.Context, svcs *CoreServices, speaker *audio.Manager) {
	volStr, ok := svcs.Store.GetState(ctx, api.VolumeStateKey)
	if !ok {
		return
	}
	if vol, ok := api.ParseVolume(volStr); ok {
		speaker.SetVolume(vol)
		slog.Debug("Restored volume", "volume", vol)
	}
}

// requestShutdown asks the lifecycle loop to stop. It never blocks: a
// shutdown that is already pending absorbs repeated requests.
func requestShutdown(quit chan<- os.Signal) {
	select {
	case quit <- syscall.SIGTERM:
	default:
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
