package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"slowburn/pkg/tracker"
)

// CacheSizer reports the number of decoded clips held in memory.
type CacheSizer interface {
	Len() int
}

type StatsHandler struct {
	tracker *tracker.Tracker
	cache   CacheSizer
	started time.Time

	mu     sync.Mutex
	maxMem uint64
}

func NewStatsHandler(t *tracker.Tracker, c CacheSizer) *StatsHandler {
	return &StatsHandler{
		tracker: t,
		cache:   c,
		started: time.Now(),
	}
}

type ProviderStatsDTO struct {
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	APISuccess   int64 `json:"api_success"`
	APIFailures  int64 `json:"api_errors"`
	APISkipped   int64 `json:"api_skipped"`
	DecodeErrors int64 `json:"decode_errors"`
	HitRate      int64 `json:"hit_rate"`
}

type ComponentStats struct {
	Name        string `json:"name"`
	MemoryMB    uint64 `json:"memory_mb"`
	MemoryMaxMB uint64 `json:"memory_max_mb"`
	Goroutines  int    `json:"goroutines"`
	UptimeSec   int64  `json:"uptime_sec"`
}

type AudioCacheStats struct {
	Clips int `json:"clips"`
}

type StatsResponse struct {
	Diagnostics []ComponentStats            `json:"diagnostics"`
	AudioCache  AudioCacheStats             `json:"audio_cache"`
	Providers   map[string]ProviderStatsDTO `json:"providers"`
	Order       []string                    `json:"order"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	// 1. Diagnostics
	h.mu.Lock()
	diagnostics := h.gatherDiagnostics()
	h.mu.Unlock()

	// 2. Build Response
	resp := StatsResponse{
		Diagnostics: diagnostics,
		Providers:   make(map[string]ProviderStatsDTO),
	}
	if h.cache != nil {
		resp.AudioCache.Clips = h.cache.Len()
	}

	for provider, stats := range snapshot {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		resp.Providers[provider] = ProviderStatsDTO{
			CacheHits:    stats.CacheHits,
			CacheMisses:  stats.CacheMisses,
			APISuccess:   stats.APISuccess,
			APIFailures:  stats.APIFailures,
			APISkipped:   stats.APISkipped,
			DecodeErrors: stats.DecodeErrors,
			HitRate:      hitRate,
		}
		resp.Order = append(resp.Order, provider)
	}
	sort.Strings(resp.Order)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *StatsHandler) gatherDiagnostics() []ComponentStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	if ms.Sys > h.maxMem {
		h.maxMem = ms.Sys
	}

	return []ComponentStats{{
		Name:        "Server",
		MemoryMB:    bToMb(ms.Sys),
		MemoryMaxMB: bToMb(h.maxMem),
		Goroutines:  runtime.NumGoroutine(),
		UptimeSec:   int64(time.Since(h.started).Seconds()),
	}}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
