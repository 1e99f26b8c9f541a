package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"slowburn/pkg/audio"
	"slowburn/pkg/playback"
)

// PlaybackHandler plays the current line. With a client sink the browser
// fetches the clip and reports when it has finished.
type PlaybackHandler struct {
	ctrl    Controller
	handoff *audio.Handoff
}

// NewPlaybackHandler creates a new PlaybackHandler. handoff is nil when clips
// play on the local speaker.
func NewPlaybackHandler(ctrl Controller, handoff *audio.Handoff) *PlaybackHandler {
	return &PlaybackHandler{ctrl: ctrl, handoff: handoff}
}

// DoneRequest reports that the client finished playing a clip.
type DoneRequest struct {
	ID string `json:"id"`
}

// HandlePlay handles POST /api/playback/play
func (h *PlaybackHandler) HandlePlay(w http.ResponseWriter, r *http.Request) {
	played, err := h.ctrl.Play(r.Context())
	switch {
	case errors.Is(err, playback.ErrBusy):
		writeError(w, http.StatusConflict, "busy")
		return
	case errors.Is(err, playback.ErrNoLine):
		writeError(w, http.StatusNotFound, "no line to play")
		return
	case err != nil:
		slog.Error("Playback failed", "error", err)
		writeError(w, http.StatusInternalServerError, "playback failed")
		return
	}

	resp := map[string]any{
		"status": "ok",
		"played": played,
	}
	if played && h.handoff != nil {
		if id, _, ok := h.handoff.Current(); ok {
			resp["id"] = id
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDone handles POST /api/playback/done
func (h *PlaybackHandler) HandleDone(w http.ResponseWriter, r *http.Request) {
	var req DoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"current": h.handoff.Done(req.ID),
	})
}

// HandleCurrent handles GET /api/playback/current.wav
func (h *PlaybackHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	id, clip, ok := h.handoff.Current()
	if !ok {
		http.Error(w, "nothing playing", http.StatusNotFound)
		return
	}
	data, err := audio.EncodeWAV(clip)
	if err != nil {
		slog.Error("Failed to encode clip", "error", err)
		http.Error(w, "encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Clip-ID", id)
	_, _ = w.Write(data)
}
