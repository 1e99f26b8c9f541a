// Package speech turns script lines into playable clips: cache first, then
// the primary provider, then the fallback.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"slowburn/pkg/audio"
	"slowburn/pkg/cache"
	"slowburn/pkg/observe"
	"slowburn/pkg/request"
	"slowburn/pkg/tracker"
	"slowburn/pkg/tts"
)

// Utterance is one synthesis request. CacheKey is its only identity.
type Utterance struct {
	Text     string
	Voice    tts.Voice
	CacheKey string
}

// CacheKey builds the cache identity of a script line spoken by voice.
func CacheKey(lineID string, v tts.Voice) string {
	return fmt.Sprintf("tts_%s_%s", lineID, v)
}

var errNoAudio = errors.New("speech: no provider produced usable audio")

// Synthesizer resolves utterances to clips. At most one synthesis per cache
// key is in flight; concurrent callers share its result.
type Synthesizer struct {
	cache    *cache.AudioCache
	primary  tts.Provider
	fallback tts.Provider
	backoff  *request.ProviderBackoff
	tracker  *tracker.Tracker
	metrics  *observe.Metrics

	group singleflight.Group
}

// New creates a Synthesizer. Either provider may be nil. m defaults to the
// global metrics.
func New(c *cache.AudioCache, primary, fallback tts.Provider, b *request.ProviderBackoff, tr *tracker.Tracker, m *observe.Metrics) *Synthesizer {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Synthesizer{
		cache:    c,
		primary:  primary,
		fallback: fallback,
		backoff:  b,
		tracker:  tr,
		metrics:  m,
	}
}

// Cached reports whether the clip for key is already decoded in memory.
func (s *Synthesizer) Cached(key string) bool {
	_, ok := s.cache.Peek(key)
	return ok
}

// Synthesize returns the clip for u, or nil when no audio could be
// produced. It never returns an error; failures are logged.
func (s *Synthesizer) Synthesize(ctx context.Context, u Utterance) *audio.Clip {
	for {
		if clip, ok := s.cache.Peek(u.CacheKey); ok {
			s.metrics.RecordCacheLookup(ctx, "memory")
			return clip
		}

		v, err, shared := s.group.Do(u.CacheKey, func() (any, error) {
			return s.resolve(ctx, u)
		})
		if err == nil {
			return v.(*audio.Clip)
		}
		// A shared call owned by a caller that navigated away; our own
		// context is still live, so run it again.
		if shared && ctx.Err() == nil && errors.Is(err, context.Canceled) {
			continue
		}
		if !errors.Is(err, context.Canceled) {
			slog.Warn("Speech: no audio", "key", u.CacheKey, "error", err)
		}
		return nil
	}
}

func (s *Synthesizer) resolve(ctx context.Context, u Utterance) (*audio.Clip, error) {
	ctx, span := observe.StartSpan(ctx, "speech.Synthesize")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", u.CacheKey), attribute.String("voice", u.Voice.String()))

	clip, err := s.cache.Lookup(ctx, u.CacheKey)
	switch {
	case err == nil:
		s.metrics.RecordCacheLookup(ctx, "disk")
		span.SetAttributes(attribute.String("source", "cache"))
		return clip, nil
	case errors.Is(err, cache.ErrUnusable):
		// Stored bytes stay as they are and this read gets no audio.
		s.metrics.RecordCacheLookup(ctx, "unusable")
		span.SetStatus(codes.Error, "unusable cache entry")
		return nil, fmt.Errorf("%w: %w", errNoAudio, err)
	}
	s.metrics.RecordCacheLookup(ctx, "miss")

	text := tts.CleanText(u.Text)
	if text == "" {
		return nil, fmt.Errorf("speech: empty text for %s", u.CacheKey)
	}

	for _, p := range s.providers() {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}
		if p == s.primary && s.backoff != nil && !s.backoff.Allowed(p.Name()) {
			slog.Debug("Speech: primary in backoff, skipping", "provider", p.Name(), "key", u.CacheKey)
			s.track(p, func(t *tracker.Tracker, name string) { t.TrackAPISkipped(name) })
			continue
		}

		raw, clip, err := s.attempt(ctx, p, text, u.Voice)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				span.SetStatus(codes.Error, "cancelled")
				return nil, err
			}
			slog.Warn("Speech: provider failed", "provider", p.Name(), "key", u.CacheKey, "error", err)
			continue
		}

		// Persisted even when the caller has gone.
		s.cache.Store(context.WithoutCancel(ctx), u.CacheKey, raw, clip)
		span.SetAttributes(attribute.String("source", p.Name()))
		return clip, nil
	}

	span.SetStatus(codes.Error, "no audio")
	return nil, errNoAudio
}

// attempt makes one call to p and decodes its answer by source.
func (s *Synthesizer) attempt(ctx context.Context, p tts.Provider, text string, v tts.Voice) ([]byte, *audio.Clip, error) {
	start := time.Now()
	res, err := p.Synthesize(ctx, text, v)
	elapsed := time.Since(start)

	if err != nil {
		s.metrics.RecordProviderCall(ctx, p.Name(), "tts", statusLabel(err), elapsed)
		if p == s.primary && s.backoff != nil && tts.IsThrottled(err) {
			s.backoff.RecordFailure(p.Name())
		}
		return nil, nil, err
	}

	clip, err := audio.Decode(res.Data, res.Encoding)
	if err != nil {
		s.metrics.RecordProviderCall(ctx, p.Name(), "tts", "undecodable", elapsed)
		s.track(p, func(t *tracker.Tracker, name string) { t.TrackDecodeError(name) })
		return nil, nil, fmt.Errorf("decode %s audio: %w", res.Encoding, err)
	}

	s.metrics.RecordProviderCall(ctx, p.Name(), "tts", "ok", elapsed)
	if p == s.primary && s.backoff != nil {
		s.backoff.RecordSuccess(p.Name())
	}
	return res.Data, clip, nil
}

func (s *Synthesizer) providers() []tts.Provider {
	out := make([]tts.Provider, 0, 2)
	if s.primary != nil {
		out = append(out, s.primary)
	}
	if s.fallback != nil {
		out = append(out, s.fallback)
	}
	return out
}

func (s *Synthesizer) track(p tts.Provider, fn func(*tracker.Tracker, string)) {
	if s.tracker != nil {
		fn(s.tracker, "tts."+p.Name())
	}
}

func statusLabel(err error) string {
	var fe *tts.FatalError
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &fe):
		return fmt.Sprintf("%d", fe.StatusCode)
	default:
		return "error"
	}
}
