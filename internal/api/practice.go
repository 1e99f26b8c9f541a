package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"slowburn/pkg/capture"
	"slowburn/pkg/model"
	"slowburn/pkg/playback"
	"slowburn/pkg/practice"
)

// maxUploadBytes bounds a browser-recorded attempt.
const maxUploadBytes = 10 << 20

// PracticeHandler runs pronunciation attempts.
type PracticeHandler struct {
	ctrl Controller
}

// NewPracticeHandler creates a new PracticeHandler.
func NewPracticeHandler(ctrl Controller) *PracticeHandler {
	return &PracticeHandler{ctrl: ctrl}
}

// FeedbackResponse wraps a scored attempt.
type FeedbackResponse struct {
	Status   string          `json:"status"`
	Feedback *model.Feedback `json:"feedback,omitempty"`
}

// HandleStart handles POST /api/practice/start
func (h *PracticeHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.StartPractice(r.Context()); err != nil {
		h.writePracticeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recording"})
}

// HandleStop handles POST /api/practice/stop. It answers once the attempt
// has been scored.
func (h *PracticeHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	fb, err := h.ctrl.StopPractice()
	if err != nil {
		h.writePracticeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{Status: "ok", Feedback: fb})
}

// HandleCancel handles POST /api/practice/cancel
func (h *PracticeHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.ctrl.CancelPractice()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleAnalyze handles POST /api/practice/analyze. The body is the raw
// recording; Content-Type names its encoding.
func (h *PracticeHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	encoding := strings.TrimSpace(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(encoding, "audio/") {
		http.Error(w, "Content-Type must be an audio type", http.StatusUnsupportedMediaType)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "recording too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty recording", http.StatusBadRequest)
		return
	}

	fb, err := h.ctrl.AnalyzeUpload(data, encoding)
	if err != nil {
		h.writePracticeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{Status: "ok", Feedback: fb})
}

func (h *PracticeHandler) writePracticeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playback.ErrBusy):
		writeError(w, http.StatusConflict, "busy")
	case errors.Is(err, playback.ErrNoLine):
		writeError(w, http.StatusNotFound, "no line to practice")
	case errors.Is(err, playback.ErrStale):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "stale"})
	case errors.Is(err, practice.ErrNotRecording):
		writeError(w, http.StatusConflict, "not recording")
	case errors.Is(err, capture.ErrNoDevice), errors.Is(err, practice.ErrNoEncoding):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Warn("Practice request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
