// Package journal keeps the learner's progress marker, dictionary and
// per-line practice scores.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"slowburn/pkg/model"
	"slowburn/pkg/store"
)

// State keys. Kept identical to the browser journal so exported
// values stay interchangeable.
const (
	keyProgress   = "sb_progress"
	keyDictionary = "sb_dictionary"
	scorePrefix   = "score:"
)

// ProgressCompletedEpisodeOne is written when the first story ends.
const ProgressCompletedEpisodeOne = "completed_ep1"

// Journal is safe for concurrent use.
type Journal struct {
	state store.StateStore
	data  store.UserDataStore
	now   func() time.Time

	// Serializes read-modify-write of the dictionary list and score records.
	mu sync.Mutex
}

// New creates a journal over the given stores.
func New(state store.StateStore, data store.UserDataStore) *Journal {
	return &Journal{state: state, data: data, now: time.Now}
}

// SaveProgress overwrites the progress marker.
func (j *Journal) SaveProgress(ctx context.Context, marker string) {
	if err := j.state.SetState(ctx, keyProgress, marker); err != nil {
		slog.Warn("Journal: failed to save progress", "marker", marker, "error", err)
	}
}

// Progress returns the stored marker, or "" if none.
func (j *Journal) Progress(ctx context.Context) string {
	v, _ := j.state.GetState(ctx, keyProgress)
	return v
}

// Dictionary returns saved entries, most recent first.
// A missing or unreadable list reads as empty.
func (j *Journal) Dictionary(ctx context.Context) []model.DictionaryEntry {
	raw, ok := j.state.GetState(ctx, keyDictionary)
	if !ok || raw == "" {
		return []model.DictionaryEntry{}
	}
	var entries []model.DictionaryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("Journal: dictionary unreadable, treating as empty", "error", err)
		return []model.DictionaryEntry{}
	}
	return entries
}

// SaveWord prepends the phrase unless an entry with the same Spanish text
// already exists. It reports whether the list changed.
func (j *Journal) SaveWord(ctx context.Context, spanish, english string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	existing := j.Dictionary(ctx)
	for _, e := range existing {
		if e.Spanish == spanish {
			return false
		}
	}

	entry := model.DictionaryEntry{
		Spanish:   spanish,
		English:   english,
		DateAdded: j.now().UnixMilli(),
	}
	updated := append([]model.DictionaryEntry{entry}, existing...)

	b, err := json.Marshal(updated)
	if err != nil {
		slog.Error("Journal: failed to encode dictionary", "error", err)
		return false
	}
	if err := j.state.SetState(ctx, keyDictionary, string(b)); err != nil {
		slog.Warn("Journal: failed to save dictionary", "error", err)
		return false
	}
	slog.Info("Journal: phrase added to dictionary", "spanish", spanish)
	return true
}

// RecordAttempt folds one scored attempt into the line's history.
func (j *Journal) RecordAttempt(ctx context.Context, lineID string, score int) model.LineScore {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := j.lineScore(ctx, lineID)
	rec.LineID = lineID
	rec.Last = score
	rec.Attempts++
	if score > rec.Best {
		rec.Best = score
	}
	rec.UpdatedAt = j.now()

	b, err := json.Marshal(rec)
	if err == nil {
		err = j.data.SetUserData(ctx, scorePrefix+lineID, b)
	}
	if err != nil {
		slog.Debug("Journal: score not persisted", "line", lineID, "error", err)
	}
	return rec
}

// LineScore returns the practice history of a line. The zero value means
// the line was never practiced.
func (j *Journal) LineScore(ctx context.Context, lineID string) model.LineScore {
	return j.lineScore(ctx, lineID)
}

// Scores returns every stored line history keyed by line id.
func (j *Journal) Scores(ctx context.Context) (map[string]model.LineScore, error) {
	keys, err := j.data.ListUserDataKeys(ctx, scorePrefix)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	out := make(map[string]model.LineScore, len(keys))
	for _, k := range keys {
		id := k[len(scorePrefix):]
		out[id] = j.lineScore(ctx, id)
	}
	return out, nil
}

func (j *Journal) lineScore(ctx context.Context, lineID string) model.LineScore {
	var rec model.LineScore
	raw, ok := j.data.GetUserData(ctx, scorePrefix+lineID)
	if !ok {
		return rec
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.LineScore{}
	}
	return rec
}
