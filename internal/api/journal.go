package api

import (
	"log/slog"
	"net/http"

	"slowburn/pkg/journal"
	"slowburn/pkg/model"
)

// JournalHandler exposes the learner's saved phrases, progress and scores.
type JournalHandler struct {
	journal *journal.Journal
}

// NewJournalHandler creates a new JournalHandler.
func NewJournalHandler(j *journal.Journal) *JournalHandler {
	return &JournalHandler{journal: j}
}

// HandleDictionary handles GET /api/journal/dictionary
func (h *JournalHandler) HandleDictionary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.journal.Dictionary(r.Context()))
}

// HandleProgress handles GET /api/journal/progress
func (h *JournalHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	progress := h.journal.Progress(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"progress":  progress,
		"completed": progress == journal.ProgressCompletedEpisodeOne,
	})
}

// HandleScores handles GET /api/journal/scores
func (h *JournalHandler) HandleScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.journal.Scores(r.Context())
	if err != nil {
		// An unavailable store reads as "never practiced"
		slog.Warn("Journal: scores unavailable", "error", err)
		scores = map[string]model.LineScore{}
	}
	writeJSON(w, http.StatusOK, scores)
}

// HandleLineScore handles GET /api/journal/scores/{lineID}
func (h *JournalHandler) HandleLineScore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("lineID")
	rec := h.journal.LineScore(r.Context(), id)
	rec.LineID = id
	writeJSON(w, http.StatusOK, rec)
}
