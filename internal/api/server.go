package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"slowburn/pkg/version"
)

// Handlers groups the endpoint handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	State    *StateHandler
	Events   *EventHub
	Playback *PlaybackHandler
	Audio    *AudioHandler
	Practice *PracticeHandler
	Journal  *JournalHandler
	Media    *MediaHandler
	Stats    *StatsHandler
	Metrics  http.Handler
}

// NewServer creates and configures the HTTP server. mw wraps the whole mux
// (may be nil); shutdown is called by POST /api/shutdown.
func NewServer(addr string, h Handlers, mw func(http.Handler) http.Handler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health and version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 2. Journal state and navigation
	if h.State != nil {
		mux.HandleFunc("GET /api/state", h.State.HandleState)
		mux.HandleFunc("POST /api/nav/next", h.State.HandleNext)
		mux.HandleFunc("POST /api/nav/prev", h.State.HandlePrev)
		mux.HandleFunc("POST /api/nav/section", h.State.HandleSection)
	}
	if h.Events != nil {
		mux.Handle("GET /api/events", h.Events)
	}

	// 3. Playback
	if h.Playback != nil {
		mux.HandleFunc("POST /api/playback/play", h.Playback.HandlePlay)
		if h.Playback.handoff != nil {
			mux.HandleFunc("POST /api/playback/done", h.Playback.HandleDone)
			mux.HandleFunc("GET /api/playback/current.wav", h.Playback.HandleCurrent)
		}
	}

	if h.Audio != nil {
		mux.HandleFunc("POST /api/audio/control", h.Audio.HandleControl)
		mux.HandleFunc("POST /api/audio/volume", h.Audio.HandleVolume)
		mux.HandleFunc("GET /api/audio/status", h.Audio.HandleStatus)
	}

	// 4. Practice
	if h.Practice != nil {
		mux.HandleFunc("POST /api/practice/start", h.Practice.HandleStart)
		mux.HandleFunc("POST /api/practice/stop", h.Practice.HandleStop)
		mux.HandleFunc("POST /api/practice/cancel", h.Practice.HandleCancel)
		mux.HandleFunc("POST /api/practice/analyze", h.Practice.HandleAnalyze)
	}

	// 5. Journal
	if h.Journal != nil {
		mux.HandleFunc("GET /api/journal/dictionary", h.Journal.HandleDictionary)
		mux.HandleFunc("GET /api/journal/progress", h.Journal.HandleProgress)
		mux.HandleFunc("GET /api/journal/scores", h.Journal.HandleScores)
		mux.HandleFunc("GET /api/journal/scores/{lineID}", h.Journal.HandleLineScore)
	}

	// 6. Scene media
	if h.Media != nil {
		mux.HandleFunc("GET /api/episode", h.Media.HandleEpisode)
		mux.HandleFunc("GET /api/cover", h.Media.HandleCover)
		mux.HandleFunc("GET /api/scenes/{id}/images/{n}", h.Media.HandleImage)
		mux.HandleFunc("GET /api/scenes/{id}/ambience", h.Media.HandleAmbience)
	}

	// 7. Stats and metrics
	if h.Stats != nil {
		mux.Handle("GET /api/stats", h.Stats)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	// 8. Shutdown
	if shutdown != nil {
		mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("Shutting down...")); err != nil {
				slog.Error("Failed to write shutdown response", "error", err)
			}
			// Let the response flush first
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}

	var handler http.Handler = mux
	if mw != nil {
		handler = mw(mux)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		// Scoring a practice attempt can take a while.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": msg,
	})
}
