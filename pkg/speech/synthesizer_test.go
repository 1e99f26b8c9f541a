package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"slowburn/pkg/audio"
	"slowburn/pkg/cache"
	"slowburn/pkg/observe"
	"slowburn/pkg/request"
	"slowburn/pkg/store"
	"slowburn/pkg/tracker"
	"slowburn/pkg/tts"
)

// pcm returns n int16 samples without 0xFF bytes, so no MP3 sync is found.
func pcm(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(0x0101+(i%64)))
	}
	return out
}

func wavBytes(t *testing.T, n int) []byte {
	t.Helper()
	clip, err := audio.DecodePCM16(pcm(n), audio.PCMSampleRate)
	require.NoError(t, err)
	b, err := audio.EncodeWAV(clip)
	require.NoError(t, err)
	return b
}

type fakeProvider struct {
	name  string
	res   *tts.Result
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Synthesize(ctx context.Context, _ string, _ tts.Voice) (*tts.Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.res, f.err
}

type fixture struct {
	store   *store.SQLiteStore
	tracker *tracker.Tracker
	backoff *request.ProviderBackoff
	metrics *observe.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "speech.db"))
	t.Cleanup(func() { _ = st.Close() })

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	return &fixture{
		store:   st,
		tracker: tracker.New(),
		backoff: request.NewProviderBackoff(time.Minute, time.Hour),
		metrics: m,
	}
}

func (f *fixture) synth(primary, fallback tts.Provider) *Synthesizer {
	return New(cache.NewAudioCache(f.store, f.tracker), primary, fallback, f.backoff, f.tracker, f.metrics)
}

func hola() Utterance {
	return Utterance{Text: "Hola", Voice: tts.VoiceProtagonist, CacheKey: CacheKey("s1-l2", tts.VoiceProtagonist)}
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "tts_s1-l1_narrator", CacheKey("s1-l1", tts.VoiceNarrator))
}

func TestSynthesize_PrimaryThenCache(t *testing.T) {
	f := newFixture(t)
	primary := &fakeProvider{name: "elevenlabs", res: &tts.Result{Data: wavBytes(t, 2400), Encoding: audio.EncodingCompressed}}
	fallback := &fakeProvider{name: "gemini"}
	s := f.synth(primary, fallback)

	clip := s.Synthesize(context.Background(), hola())
	require.NotNil(t, clip)
	assert.Equal(t, 2400, clip.Len())
	assert.True(t, s.Cached(hola().CacheKey))

	again := s.Synthesize(context.Background(), hola())
	assert.Same(t, clip, again)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(0), fallback.calls.Load())

	raw, ok := f.store.GetCache(context.Background(), hola().CacheKey)
	require.True(t, ok)
	assert.NotEmpty(t, raw)
}

func TestSynthesize_MP3RoundTrip(t *testing.T) {
	mp3, err := os.ReadFile(filepath.Join("..", "audio", "testdata", "tone.mp3"))
	require.NoError(t, err)

	f := newFixture(t)
	primary := &fakeProvider{name: "elevenlabs", res: &tts.Result{Data: mp3, Encoding: audio.EncodingCompressed}}
	clip := f.synth(primary, &fakeProvider{name: "gemini"}).Synthesize(context.Background(), hola())
	require.NotNil(t, clip)
	assert.Positive(t, clip.Len())
	assert.Equal(t, 1, clip.Format().NumChannels)

	// The persisted bytes carry no format tag; a new session must still
	// pick the compressed decoder.
	raw, ok := f.store.GetCache(context.Background(), hola().CacheKey)
	require.True(t, ok)
	assert.Equal(t, mp3, raw)

	restored, enc, err := audio.DecodeStored(raw)
	require.NoError(t, err)
	assert.Equal(t, audio.EncodingCompressed, enc)
	assert.Equal(t, clip.Len(), restored.Len())

	fresh := f.synth(&fakeProvider{name: "elevenlabs"}, nil)
	again := fresh.Synthesize(context.Background(), hola())
	require.NotNil(t, again)
	assert.Equal(t, clip.Len(), again.Len())
}

func TestSynthesize_UnusableCacheEntrySkipsProviders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetCache(ctx, hola().CacheKey, []byte{0x01}))

	primary := &fakeProvider{name: "elevenlabs", res: &tts.Result{Data: wavBytes(t, 240), Encoding: audio.EncodingCompressed}}
	fallback := &fakeProvider{name: "gemini", res: &tts.Result{Data: pcm(240), Encoding: audio.EncodingPCM16}}
	s := f.synth(primary, fallback)

	assert.Nil(t, s.Synthesize(ctx, hola()))
	assert.Zero(t, primary.calls.Load())
	assert.Zero(t, fallback.calls.Load())
	assert.Equal(t, int64(1), f.tracker.Snapshot()[cache.TierDisk].DecodeErrors)

	raw, ok := f.store.GetCache(ctx, hola().CacheKey)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, raw, "entry is not overwritten")
}

func TestSynthesize_ConcurrentCallsShareOneRequest(t *testing.T) {
	f := newFixture(t)
	primary := &fakeProvider{
		name:  "elevenlabs",
		res:   &tts.Result{Data: wavBytes(t, 240), Encoding: audio.EncodingCompressed},
		delay: 50 * time.Millisecond,
	}
	s := f.synth(primary, &fakeProvider{name: "gemini"})

	var wg sync.WaitGroup
	clips := make([]*audio.Clip, 2)
	for i := range clips {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clips[i] = s.Synthesize(context.Background(), hola())
		}(i)
	}
	wg.Wait()

	require.NotNil(t, clips[0])
	assert.Same(t, clips[0], clips[1])
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestSynthesize_ThrottledPrimaryFallsBack(t *testing.T) {
	f := newFixture(t)
	primary := &fakeProvider{name: "elevenlabs", err: tts.NewFatalError(429, "quota")}
	fallback := &fakeProvider{name: "gemini", res: &tts.Result{Data: pcm(2400), Encoding: audio.EncodingPCM16}}
	s := f.synth(primary, fallback)

	clip := s.Synthesize(context.Background(), hola())
	require.NotNil(t, clip)
	assert.Equal(t, audio.PCMSampleRate, clip.SampleRate())
	assert.Equal(t, int32(1), fallback.calls.Load())

	// A new session reads the stored PCM back through the trial decode.
	fresh := cache.NewAudioCache(f.store, nil)
	restored, err := fresh.Lookup(context.Background(), hola().CacheKey)
	require.NoError(t, err)
	assert.Equal(t, 2400, restored.Len())

	// The primary is now in backoff: another line skips it.
	other := Utterance{Text: "Adiós", Voice: tts.VoiceNarrator, CacheKey: CacheKey("s1-l3", tts.VoiceNarrator)}
	require.NotNil(t, s.Synthesize(context.Background(), other))
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(2), fallback.calls.Load())
	assert.Equal(t, int64(1), f.tracker.Snapshot()["tts.elevenlabs"].APISkipped)
}

func TestSynthesize_NonThrottleErrorDoesNotBackOff(t *testing.T) {
	f := newFixture(t)
	primary := &fakeProvider{name: "elevenlabs", err: errors.New("dial tcp: refused")}
	fallback := &fakeProvider{name: "gemini", res: &tts.Result{Data: pcm(240), Encoding: audio.EncodingPCM16}}
	s := f.synth(primary, fallback)

	require.NotNil(t, s.Synthesize(context.Background(), hola()))
	assert.True(t, f.backoff.Allowed("elevenlabs"))
}

func TestSynthesize_UndecodablePrimaryFallsBack(t *testing.T) {
	f := newFixture(t)
	primary := &fakeProvider{name: "elevenlabs", res: &tts.Result{Data: pcm(100), Encoding: audio.EncodingCompressed}}
	fallback := &fakeProvider{name: "gemini", res: &tts.Result{Data: pcm(240), Encoding: audio.EncodingPCM16}}
	s := f.synth(primary, fallback)

	require.NotNil(t, s.Synthesize(context.Background(), hola()))
	assert.Equal(t, int64(1), f.tracker.Snapshot()["tts.elevenlabs"].DecodeErrors)
}

func TestSynthesize_TotalFailureIsNil(t *testing.T) {
	f := newFixture(t)
	s := f.synth(
		&fakeProvider{name: "elevenlabs", err: tts.NewFatalError(500, "down")},
		&fakeProvider{name: "gemini", err: tts.ErrEmptyAudio},
	)

	assert.Nil(t, s.Synthesize(context.Background(), hola()))
	_, ok := f.store.GetCache(context.Background(), hola().CacheKey)
	assert.False(t, ok, "nothing is persisted")
}

func TestSynthesize_NoProviders(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.synth(nil, nil).Synthesize(context.Background(), hola()))
}

func TestSynthesize_CancelledPrefetchDoesNotPoisonPlay(t *testing.T) {
	f := newFixture(t)
	primary := &fakeProvider{
		name:  "elevenlabs",
		res:   &tts.Result{Data: wavBytes(t, 240), Encoding: audio.EncodingCompressed},
		delay: 100 * time.Millisecond,
	}
	s := f.synth(primary, &fakeProvider{name: "gemini"})

	prefetchCtx, cancel := context.WithCancel(context.Background())
	prefetchDone := make(chan *audio.Clip)
	go func() { prefetchDone <- s.Synthesize(prefetchCtx, hola()) }()

	time.Sleep(20 * time.Millisecond)
	playDone := make(chan *audio.Clip)
	go func() { playDone <- s.Synthesize(context.Background(), hola()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.Nil(t, <-prefetchDone)
	select {
	case clip := <-playDone:
		assert.NotNil(t, clip)
	case <-time.After(2 * time.Second):
		t.Fatal("play did not complete")
	}
}

func TestSynthesize_UnavailableStoreStillPlays(t *testing.T) {
	f := newFixture(t)
	primary := &fakeProvider{name: "elevenlabs", res: &tts.Result{Data: wavBytes(t, 240), Encoding: audio.EncodingCompressed}}
	s := New(cache.NewAudioCache(brokenStore{}, nil), primary, nil, nil, nil, f.metrics)

	assert.NotNil(t, s.Synthesize(context.Background(), hola()))
}

type brokenStore struct{}

func (brokenStore) GetCache(context.Context, string) ([]byte, bool) { return nil, false }
func (brokenStore) SetCache(context.Context, string, []byte) error  { return store.ErrUnavailable }
