package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Tracker counts cache and provider outcomes per component,
// e.g. "cache.memory", "tts.elevenlabs", "scorer.gemini".
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*counters
}

type counters struct {
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	apiSuccess   atomic.Int64
	apiFailures  atomic.Int64
	apiSkipped   atomic.Int64
	decodeErrors atomic.Int64
}

// ProviderStats is a point-in-time copy of one component's counters.
type ProviderStats struct {
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	APISuccess   int64 `json:"api_success"`
	APIFailures  int64 `json:"api_failures"`
	APISkipped   int64 `json:"api_skipped"`
	DecodeErrors int64 `json:"decode_errors"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{stats: make(map[string]*counters)}
}

func (t *Tracker) get(name string) *counters {
	t.mu.RLock()
	c, ok := t.stats[name]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.stats[name]; ok {
		return c
	}
	c = &counters{}
	t.stats[name] = c
	return c
}

func (t *Tracker) TrackCacheHit(name string)   { t.get(name).cacheHits.Add(1) }
func (t *Tracker) TrackCacheMiss(name string)  { t.get(name).cacheMisses.Add(1) }
func (t *Tracker) TrackAPISuccess(name string) { t.get(name).apiSuccess.Add(1) }
func (t *Tracker) TrackAPIFailure(name string) { t.get(name).apiFailures.Add(1) }

// TrackAPISkipped counts calls not attempted because the provider is backing off.
func (t *Tracker) TrackAPISkipped(name string) { t.get(name).apiSkipped.Add(1) }

// TrackDecodeError counts stored payloads no decoder could read.
func (t *Tracker) TrackDecodeError(name string) { t.get(name).decodeErrors.Add(1) }

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, c := range t.stats {
		result[k] = ProviderStats{
			CacheHits:    c.cacheHits.Load(),
			CacheMisses:  c.cacheMisses.Load(),
			APISuccess:   c.apiSuccess.Load(),
			APIFailures:  c.apiFailures.Load(),
			APISkipped:   c.apiSkipped.Load(),
			DecodeErrors: c.decodeErrors.Load(),
		}
	}
	return result
}

// Names returns the tracked component names in sorted order.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.stats))
	for k := range t.stats {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
