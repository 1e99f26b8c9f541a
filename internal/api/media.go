package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"slowburn/pkg/model"
	"slowburn/pkg/story"
)

// Fetcher downloads a URL, caching the body under cacheKey.
type Fetcher interface {
	Get(ctx context.Context, u, cacheKey string) ([]byte, error)
}

// MediaHandler serves the episode's remote artwork and ambience. Each asset
// is downloaded once and then read from the asset store.
type MediaHandler struct {
	episode *model.Episode
	fetcher Fetcher
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(ep *model.Episode, f Fetcher) *MediaHandler {
	return &MediaHandler{episode: ep, fetcher: f}
}

// HandleEpisode handles GET /api/episode
func (h *MediaHandler) HandleEpisode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.episode)
}

// HandleCover handles GET /api/cover
func (h *MediaHandler) HandleCover(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.episode.Cover, "media_cover")
}

// HandleImage handles GET /api/scenes/{id}/images/{n}
func (h *MediaHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	sc, ok := story.FindScene(h.episode, r.PathValue("id"))
	if !ok {
		http.Error(w, "scene not found", http.StatusNotFound)
		return
	}
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 0 || n >= len(sc.Images) {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	h.serve(w, r, sc.Images[n], fmt.Sprintf("media_%s_img_%d", sc.ID, n))
}

// HandleAmbience handles GET /api/scenes/{id}/ambience
func (h *MediaHandler) HandleAmbience(w http.ResponseWriter, r *http.Request) {
	sc, ok := story.FindScene(h.episode, r.PathValue("id"))
	if !ok || sc.Ambience == "" {
		http.Error(w, "ambience not found", http.StatusNotFound)
		return
	}
	h.serve(w, r, sc.Ambience, "media_"+sc.ID+"_ambience")
}

func (h *MediaHandler) serve(w http.ResponseWriter, r *http.Request, u, key string) {
	if u == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	data, err := h.fetcher.Get(r.Context(), u, key)
	if err != nil {
		slog.Warn("Media: fetch failed", "url", u, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", contentType(u, data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

// contentType prefers the URL extension; remote art often comes without one.
func contentType(u string, data []byte) string {
	clean := u
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	switch strings.ToLower(path.Ext(clean)) {
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	}
	return http.DetectContentType(data)
}
