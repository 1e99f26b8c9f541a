package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"slowburn/pkg/model"
	"slowburn/pkg/playback"
)

// Controller is the part of the playback controller the API drives.
type Controller interface {
	Snapshot() playback.Snapshot
	Next(ctx context.Context) playback.Snapshot
	Prev() playback.Snapshot
	SetSection(s model.Section) (playback.Snapshot, error)
	Play(ctx context.Context) (bool, error)
	StartPractice(ctx context.Context) error
	StopPractice() (*model.Feedback, error)
	CancelPractice()
	AnalyzeUpload(data []byte, encoding string) (*model.Feedback, error)
	Subscribe() chan playback.Snapshot
	Unsubscribe(ch chan playback.Snapshot)
}

// StateHandler serves the journal position and navigation.
type StateHandler struct {
	ctrl Controller
}

// NewStateHandler creates a new StateHandler.
func NewStateHandler(ctrl Controller) *StateHandler {
	return &StateHandler{ctrl: ctrl}
}

// SectionRequest selects a journal section.
type SectionRequest struct {
	Section string `json:"section"` // "STORY", "MENU", "INSIGHT", "VOCAB"
}

// HandleState handles GET /api/state
func (h *StateHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// HandleNext handles POST /api/nav/next
func (h *StateHandler) HandleNext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Next(r.Context()))
}

// HandlePrev handles POST /api/nav/prev
func (h *StateHandler) HandlePrev(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Prev())
}

// HandleSection handles POST /api/nav/section
func (h *StateHandler) HandleSection(w http.ResponseWriter, r *http.Request) {
	var req SectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	snap, err := h.ctrl.SetSection(model.Section(strings.ToUpper(req.Section)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
