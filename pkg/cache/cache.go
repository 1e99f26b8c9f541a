// Package cache holds decoded speech clips for the session on top of the
// persistent asset store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"slowburn/pkg/audio"
	"slowburn/pkg/tracker"
)

// Cacher is the raw byte store behind the audio cache.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

var (
	// ErrNotCached means neither tier holds the key.
	ErrNotCached = errors.New("cache: not cached")
	// ErrUnusable means the persisted bytes could not be decoded.
	ErrUnusable = errors.New("cache: stored audio unusable")
)

// Tier names used for stats.
const (
	TierMemory = "cache.memory"
	TierDisk   = "cache.disk"
)

// AudioCache is a two-tier cache of decoded clips.
//
// The memory tier starts empty, only grows during the session and is
// populated from the persistent tier on demand. The persistent tier holds
// raw provider bytes without any format tag.
type AudioCache struct {
	backing Cacher
	tracker *tracker.Tracker

	mu  sync.RWMutex
	mem map[string]*audio.Clip
}

// NewAudioCache creates a cache over backing. tr may be nil.
func NewAudioCache(backing Cacher, tr *tracker.Tracker) *AudioCache {
	return &AudioCache{
		backing: backing,
		tracker: tr,
		mem:     make(map[string]*audio.Clip),
	}
}

// Peek returns the clip from the memory tier only.
func (c *AudioCache) Peek(key string) (*audio.Clip, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clip, ok := c.mem[key]
	return clip, ok
}

// Lookup returns the decoded clip for key, consulting memory first and then
// the persistent tier. Persisted bytes are trial-decoded. It returns
// ErrNotCached when neither tier holds the key, and ErrUnusable when the
// persisted bytes defeat every decoder; such an entry is left in place.
func (c *AudioCache) Lookup(ctx context.Context, key string) (*audio.Clip, error) {
	if clip, ok := c.Peek(key); ok {
		c.track(TierMemory, true)
		return clip, nil
	}
	c.track(TierMemory, false)

	raw, ok := c.backing.GetCache(ctx, key)
	if !ok || len(raw) == 0 {
		c.track(TierDisk, false)
		return nil, ErrNotCached
	}

	clip, enc, err := audio.DecodeStored(raw)
	if err != nil {
		slog.Warn("Cache: stored audio unusable", "key", key, "bytes", len(raw), "error", err)
		if c.tracker != nil {
			c.tracker.TrackDecodeError(TierDisk)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnusable, err)
	}
	c.track(TierDisk, true)
	slog.Debug("Cache: restored from disk", "key", key, "encoding", enc)

	c.put(key, clip)
	return clip, nil
}

// Store persists raw and places the decoded clip in memory. A failed
// persistent write is logged and otherwise ignored.
func (c *AudioCache) Store(ctx context.Context, key string, raw []byte, clip *audio.Clip) {
	if err := c.backing.SetCache(ctx, key, raw); err != nil {
		slog.Warn("Cache: failed to persist audio", "key", key, "error", err)
	}
	if clip != nil {
		c.put(key, clip)
	}
}

// Len returns the number of clips held in memory.
func (c *AudioCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mem)
}

func (c *AudioCache) put(key string, clip *audio.Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.mem[key]; !exists {
		c.mem[key] = clip
	}
}

func (c *AudioCache) track(tier string, hit bool) {
	if c.tracker == nil {
		return
	}
	if hit {
		c.tracker.TrackCacheHit(tier)
	} else {
		c.tracker.TrackCacheMiss(tier)
	}
}
