package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"slowburn/pkg/audio"
	"slowburn/pkg/capture"
	"slowburn/pkg/journal"
	"slowburn/pkg/model"
	"slowburn/pkg/observe"
	"slowburn/pkg/practice"
	"slowburn/pkg/speech"
	"slowburn/pkg/store"
)

func testEpisode() *model.Episode {
	return &model.Episode{
		ID:    "ep-test",
		Title: "Test",
		Story: []model.Scene{
			{ID: "s1", Script: []model.DialogueLine{
				{ID: "n1", Role: model.RoleNarrator, Spanish: "Carmen llega.", English: "Carmen arrives."},
				{ID: "c1", Role: model.RoleCarmen, Spanish: "Estoy cansada.", English: "I am tired."},
				{ID: "m1", Role: model.RoleMateo, Spanish: "Bienvenida.", English: "Welcome."},
			}},
			{ID: "s2", Script: []model.DialogueLine{
				{ID: "n2", Role: model.RoleNarrator, Spanish: "Fin.", English: "The end."},
			}},
		},
		CulturalInsight: model.Scene{ID: "insight", Script: []model.DialogueLine{
			{ID: "i1", Role: model.RoleNarrator, Spanish: "En Madrid...", English: "In Madrid..."},
		}},
		Vocabulary: model.Scene{ID: "vocab", Script: []model.DialogueLine{
			{ID: "v1", Role: model.RoleCarmen, Spanish: "Hola", English: "Hello"},
			{ID: "v2", Role: model.RoleCarmen, Spanish: "Gracias", English: "Thank you"},
		}},
	}
}

func testClip(t *testing.T) *audio.Clip {
	t.Helper()
	data := make([]byte, 2400*2)
	for i := 0; i < 2400; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(0x0101+(i%64)))
	}
	clip, err := audio.DecodePCM16(data, audio.PCMSampleRate)
	require.NoError(t, err)
	return clip
}

type fakeSynth struct {
	mu   sync.Mutex
	keys []string
	clip *audio.Clip
}

func (f *fakeSynth) Synthesize(ctx context.Context, u speech.Utterance) *audio.Clip {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, u.CacheKey)
	if ctx.Err() != nil {
		return nil
	}
	return f.clip
}

func (f *fakeSynth) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

type fakeSink struct {
	mu      sync.Mutex
	played  int
	stopped int
	onDone  func()
}

func (s *fakeSink) Play(_ *audio.Clip, onDone func()) error {
	s.mu.Lock()
	prev := s.onDone
	s.played++
	s.onDone = onDone
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	done := s.onDone
	s.onDone = nil
	s.stopped++
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

// finish simulates the clip ending.
func (s *fakeSink) finish() {
	s.mu.Lock()
	done := s.onDone
	s.onDone = nil
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

type fakeStream struct {
	chunks chan []byte
	once   sync.Once
}

func (s *fakeStream) Supports(enc string) bool { return enc == "audio/webm" }
func (s *fakeStream) SampleRate() int          { return 16000 }
func (s *fakeStream) Start(string) error {
	s.chunks <- []byte("webm-data")
	return nil
}
func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }
func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.chunks) })
	return nil
}

type fakeMic struct{ err error }

func (m fakeMic) Open(context.Context) (capture.Stream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &fakeStream{chunks: make(chan []byte, 4)}, nil
}

type fakeScorer struct {
	mu      sync.Mutex
	score   int
	err     error
	block   bool
	entered chan struct{}
}

func (f *fakeScorer) Analyze(ctx context.Context, _ []byte, _, _ string) (*model.Feedback, error) {
	f.mu.Lock()
	score, err, block := f.score, f.err, f.block
	f.mu.Unlock()
	if block {
		close(f.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &model.Feedback{Score: score, Feedback: "ok", Tips: "none"}, nil
}

func (f *fakeScorer) set(score int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.score, f.err = score, err
}

type harness struct {
	ctrl    *Controller
	synth   *fakeSynth
	sink    *fakeSink
	scorer  *fakeScorer
	journal *journal.Journal
}

func newHarness(t *testing.T, mic capture.Microphone) *harness {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "playback.db"))
	t.Cleanup(func() { _ = st.Close() })

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	if mic == nil {
		mic = fakeMic{}
	}
	h := &harness{
		synth:   &fakeSynth{clip: testClip(t)},
		sink:    &fakeSink{},
		scorer:  &fakeScorer{score: 90},
		journal: journal.New(st, st),
	}
	rec := practice.NewRecorder(mic, h.scorer, time.Minute, 20*time.Millisecond, nil)
	h.ctrl = New(testEpisode(), h.synth, h.sink, rec, h.journal, m, Options{
		PrefetchDelay:   time.Millisecond,
		ThresholdStory:  80,
		ThresholdReview: 60,
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

func lineID(s Snapshot) string {
	if s.Line == nil {
		return ""
	}
	return s.Line.ID
}

func TestNew_StartsOnFirstStoryLine(t *testing.T) {
	h := newHarness(t, nil)
	s := h.ctrl.Snapshot()
	assert.Equal(t, model.SectionStory, s.Section)
	assert.Equal(t, "n1", lineID(s))
	assert.Equal(t, 2, s.SceneCount)
	assert.Equal(t, model.StateIdle, s.State)
}

func TestNext_EndOfStoryCompletesEpisode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	var seen []string
	for i := 0; i < 4; i++ {
		s := h.ctrl.Next(ctx)
		seen = append(seen, lineID(s))
	}
	assert.Equal(t, []string{"c1", "m1", "n2", ""}, seen)

	s := h.ctrl.Snapshot()
	assert.Equal(t, model.SectionMenu, s.Section)
	assert.Nil(t, s.Scene)
	assert.Equal(t, journal.ProgressCompletedEpisodeOne, h.journal.Progress(ctx))

	// Next in the menu stays put.
	assert.Equal(t, model.SectionMenu, h.ctrl.Next(ctx).Section)
}

func TestNext_EndOfInsightAndVocabReturnToMenu(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.ctrl.SetSection(model.SectionInsight)
	require.NoError(t, err)
	assert.Equal(t, model.SectionMenu, h.ctrl.Next(ctx).Section)

	_, err = h.ctrl.SetSection(model.SectionVocab)
	require.NoError(t, err)
	assert.Equal(t, "v2", lineID(h.ctrl.Next(ctx)))
	assert.Equal(t, model.SectionMenu, h.ctrl.Next(ctx).Section)

	assert.Empty(t, h.journal.Progress(ctx), "only the story end marks progress")
}

func TestPrev(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	// First story line: nothing before it.
	assert.Equal(t, "n1", lineID(h.ctrl.Prev()))

	for i := 0; i < 3; i++ {
		h.ctrl.Next(ctx)
	}
	require.Equal(t, "n2", lineID(h.ctrl.Snapshot()))

	s := h.ctrl.Prev()
	assert.Equal(t, "m1", lineID(s), "turning back lands on the last line of the previous scene")
	assert.Equal(t, 0, s.SceneIndex)
	assert.Equal(t, 2, s.LineIndex)

	_, err := h.ctrl.SetSection(model.SectionVocab)
	require.NoError(t, err)
	assert.Equal(t, model.SectionMenu, h.ctrl.Prev().Section)
}

func TestSetSection_Unknown(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ctrl.SetSection("EPILOGUE")
	assert.Error(t, err)
}

func TestPrefetch_SkipsProtagonistOutsideReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	// n1 and its successor c1 (skipped).
	assert.Eventually(t, func() bool { return len(h.synth.requested()) == 1 }, time.Second, 5*time.Millisecond)
	h.ctrl.Next(ctx) // c1 (skipped), then m1
	assert.Eventually(t, func() bool { return len(h.synth.requested()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tts_n1_narrator", "tts_m1_sidekick"}, h.synth.requested())

	_, err := h.ctrl.SetSection(model.SectionVocab)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(h.synth.requested()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tts_v1_protagonist", "tts_v2_protagonist"}, h.synth.requested()[2:])
}

func TestPlay_BlocksUntilSinkCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	played, err := h.ctrl.Play(ctx)
	require.NoError(t, err)
	assert.True(t, played)
	assert.Equal(t, model.StatePlayingAudio, h.ctrl.Snapshot().State)

	_, err = h.ctrl.Play(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, h.ctrl.StartPractice(ctx), ErrBusy)

	h.sink.finish()
	assert.Equal(t, model.StateIdle, h.ctrl.Snapshot().State)

	played, err = h.ctrl.Play(ctx)
	require.NoError(t, err)
	assert.True(t, played)
	assert.Equal(t, 2, h.sink.played)
}

func TestPlay_NoAudioIsSilent(t *testing.T) {
	h := newHarness(t, nil)
	h.synth.mu.Lock()
	h.synth.clip = nil
	h.synth.mu.Unlock()

	played, err := h.ctrl.Play(context.Background())
	require.NoError(t, err)
	assert.False(t, played)
	assert.Equal(t, 0, h.sink.played)
	assert.Equal(t, model.StateIdle, h.ctrl.Snapshot().State)
}

func TestPlay_InMenu(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ctrl.SetSection(model.SectionMenu)
	require.NoError(t, err)
	_, err = h.ctrl.Play(context.Background())
	assert.ErrorIs(t, err, ErrNoLine)
}

func TestNavigation_StopsPlayback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.ctrl.Play(ctx)
	require.NoError(t, err)
	h.ctrl.Next(ctx)

	assert.Equal(t, 1, h.sink.stopped)
	assert.Equal(t, model.StateIdle, h.ctrl.Snapshot().State)
}

func TestPractice_HolaSavedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.scorer.set(75, nil)

	_, err := h.ctrl.SetSection(model.SectionVocab)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.ctrl.StartPractice(ctx))
		assert.Equal(t, model.StateRecording, h.ctrl.Snapshot().State)
		fb, err := h.ctrl.StopPractice()
		require.NoError(t, err)
		assert.Equal(t, 75, fb.Score)
	}

	dict := h.journal.Dictionary(ctx)
	require.Len(t, dict, 1)
	assert.Equal(t, "Hola", dict[0].Spanish)
	assert.Equal(t, "Hello", dict[0].English)

	rec := h.journal.LineScore(ctx, "v1")
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, 75, rec.Best)

	s := h.ctrl.Snapshot()
	require.NotNil(t, s.Feedback)
	assert.Equal(t, 75, s.Feedback.Score)
	assert.Equal(t, model.StateIdle, s.State)
}

func TestPractice_StoryThreshold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.ctrl.Next(ctx) // c1

	h.scorer.set(75, nil)
	_, err := h.ctrl.AnalyzeUpload([]byte("blob"), "audio/webm")
	require.NoError(t, err)
	assert.Empty(t, h.journal.Dictionary(ctx), "75 is below the story threshold")

	h.scorer.set(85, nil)
	_, err = h.ctrl.AnalyzeUpload([]byte("blob"), "audio/webm")
	require.NoError(t, err)
	require.Len(t, h.journal.Dictionary(ctx), 1)
	assert.Equal(t, "Estoy cansada.", h.journal.Dictionary(ctx)[0].Spanish)
}

func TestPractice_ScorerUnreachable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.scorer.set(0, errors.New("connection refused"))

	start := time.Now()
	fb, err := h.ctrl.AnalyzeUpload([]byte("blob"), "audio/webm")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 88, fb.Score)
	assert.True(t, fb.Placeholder)

	assert.Equal(t, 0, h.journal.LineScore(ctx, "n1").Attempts, "placeholders are not scores")
	require.Len(t, h.journal.Dictionary(ctx), 1, "88 clears the story threshold")
}

func TestPractice_MicrophoneDenied(t *testing.T) {
	h := newHarness(t, fakeMic{err: capture.ErrNoDevice})
	err := h.ctrl.StartPractice(context.Background())
	assert.ErrorIs(t, err, capture.ErrNoDevice)
	assert.Equal(t, model.StateIdle, h.ctrl.Snapshot().State)

	_, err = h.ctrl.StopPractice()
	assert.ErrorIs(t, err, practice.ErrNotRecording)
}

func TestPractice_StaleResultDiscarded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.scorer.mu.Lock()
	h.scorer.block = true
	h.scorer.entered = make(chan struct{})
	h.scorer.mu.Unlock()

	type result struct {
		fb  *model.Feedback
		err error
	}
	done := make(chan result, 1)
	go func() {
		fb, err := h.ctrl.AnalyzeUpload([]byte("blob"), "audio/webm")
		done <- result{fb, err}
	}()

	<-h.scorer.entered
	h.ctrl.Next(ctx)

	res := <-done
	assert.ErrorIs(t, res.err, ErrStale)
	s := h.ctrl.Snapshot()
	assert.Equal(t, "c1", lineID(s))
	assert.Nil(t, s.Feedback)
	assert.Equal(t, model.StateIdle, s.State)
	assert.Empty(t, h.journal.Dictionary(ctx))
}

func TestNavigation_CancelsRecording(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	require.NoError(t, h.ctrl.StartPractice(ctx))
	h.ctrl.Next(ctx)
	assert.Equal(t, model.StateIdle, h.ctrl.Snapshot().State)

	_, err := h.ctrl.StopPractice()
	assert.ErrorIs(t, err, practice.ErrNotRecording)
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, nil)
	ch := h.ctrl.Subscribe()

	h.ctrl.Next(context.Background())
	select {
	case s := <-ch:
		assert.Equal(t, "c1", lineID(s))
	case <-time.After(time.Second):
		t.Fatal("no snapshot after Next")
	}

	h.ctrl.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}
