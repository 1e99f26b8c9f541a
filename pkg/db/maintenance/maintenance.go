package maintenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"slowburn/pkg/speech"
	"slowburn/pkg/store"
)

// scriptDigestKey holds the per-key text digests of the last synced script.
const scriptDigestKey = "script_digest"

// speechPrefix scopes pruning to synthesized lines; downloaded art is left alone.
const speechPrefix = "tts_"

// Store is what maintenance needs from the backing store.
type Store interface {
	store.CacheStore
	store.StateStore
}

// Report summarizes one maintenance run.
type Report struct {
	Orphaned int // cached clips whose line no longer exists
	Edited   int // cached clips whose line text changed
	Skipped  bool
}

// Run brings the speech cache in line with the script: clips for removed
// lines are dropped, as are clips whose text was edited since the last run.
// It does nothing when the script is unchanged.
func Run(ctx context.Context, s Store, utterances []speech.Utterance) (Report, error) {
	current := digests(utterances)
	encoded, err := json.Marshal(current)
	if err != nil {
		return Report{}, fmt.Errorf("failed to encode script digest: %w", err)
	}

	stored, found := s.GetState(ctx, scriptDigestKey)
	if found && stored == string(encoded) {
		return Report{Skipped: true}, nil
	}

	slog.Info("Maintenance: script changed, pruning speech cache")

	previous := map[string]string{}
	if found {
		if err := json.Unmarshal([]byte(stored), &previous); err != nil {
			slog.Warn("Maintenance: stored digest unreadable, only orphans are pruned", "error", err)
			previous = map[string]string{}
		}
	}

	keys, err := s.ListCacheKeys(ctx, speechPrefix)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list cache: %w", err)
	}

	var rep Report
	for _, key := range keys {
		sum, live := current[key]
		var reason string
		switch {
		case !live:
			reason = "orphaned"
			rep.Orphaned++
		case previous[key] != "" && previous[key] != sum:
			reason = "edited"
			rep.Edited++
		default:
			continue
		}
		if err := s.DeleteCache(ctx, key); err != nil {
			return rep, fmt.Errorf("failed to delete %s: %w", key, err)
		}
		slog.Debug("Maintenance: pruned clip", "key", key, "reason", reason)
	}

	if err := s.SetState(ctx, scriptDigestKey, string(encoded)); err != nil {
		return rep, fmt.Errorf("failed to update state: %w", err)
	}

	slog.Info("Maintenance: speech cache pruned", "orphaned", rep.Orphaned, "edited", rep.Edited)
	return rep, nil
}

// digests maps each cache key to a hash of what would be spoken.
func digests(utterances []speech.Utterance) map[string]string {
	out := make(map[string]string, len(utterances))
	for _, u := range utterances {
		h := sha256.Sum256([]byte(u.Voice.String() + "\x00" + strings.TrimSpace(u.Text)))
		out[u.CacheKey] = hex.EncodeToString(h[:8])
	}
	return out
}
