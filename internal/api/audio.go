package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// VolumeStateKey persists the speaker volume across runs.
const VolumeStateKey = "volume"

// Speaker is the local playback device.
type Speaker interface {
	SetVolume(vol float64)
	Volume() float64
	IsPlaying() bool
	Stop()
}

// StateSetter persists small settings.
type StateSetter interface {
	SetState(ctx context.Context, key, val string) error
}

// AudioHandler handles speaker control endpoints. It is only registered
// when clips play on the local speaker.
type AudioHandler struct {
	speaker Speaker
	store   StateSetter
}

// NewAudioHandler creates a new AudioHandler.
func NewAudioHandler(sp Speaker, st StateSetter) *AudioHandler {
	return &AudioHandler{
		speaker: sp,
		store:   st,
	}
}

// AudioControlRequest represents an audio control command.
type AudioControlRequest struct {
	Action string `json:"action"` // "stop"
}

// AudioVolumeRequest represents a volume change request.
type AudioVolumeRequest struct {
	Volume float64 `json:"volume"`
}

// AudioStatusResponse represents the audio status.
type AudioStatusResponse struct {
	IsPlaying bool    `json:"is_playing"`
	Volume    float64 `json:"volume"`
}

// HandleControl handles POST /api/audio/control
func (h *AudioHandler) HandleControl(w http.ResponseWriter, r *http.Request) {
	var req AudioControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "stop":
		h.speaker.Stop()
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	slog.Debug("Audio control", "action", req.Action)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  "stopped",
	})
}

// HandleVolume handles POST /api/audio/volume
func (h *AudioHandler) HandleVolume(w http.ResponseWriter, r *http.Request) {
	var req AudioVolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.speaker.SetVolume(req.Volume)

	if h.store != nil {
		strVal := fmt.Sprintf("%.2f", h.speaker.Volume())
		if err := h.store.SetState(r.Context(), VolumeStateKey, strVal); err != nil {
			slog.Warn("Failed to persist volume", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"volume": h.speaker.Volume(),
	})
}

// HandleStatus handles GET /api/audio/status
func (h *AudioHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AudioStatusResponse{
		IsPlaying: h.speaker.IsPlaying(),
		Volume:    h.speaker.Volume(),
	})
}

// ParseVolume reads a persisted volume, reporting false for missing or bad values.
func ParseVolume(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}
