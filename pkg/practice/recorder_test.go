package practice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowburn/pkg/audio"
	"slowburn/pkg/capture"
	"slowburn/pkg/model"
)

type fakeStream struct {
	supported map[string]bool
	chunks    chan []byte
	closed    atomic.Int32
	once      sync.Once
	encoding  string
}

func newFakeStream(encodings ...string) *fakeStream {
	s := &fakeStream{supported: map[string]bool{}, chunks: make(chan []byte, 16)}
	for _, e := range encodings {
		s.supported[e] = true
	}
	return s
}

func (s *fakeStream) Supports(enc string) bool { return s.supported[enc] }
func (s *fakeStream) SampleRate() int          { return 16000 }
func (s *fakeStream) Chunks() <-chan []byte    { return s.chunks }
func (s *fakeStream) Start(enc string) error {
	s.encoding = enc
	return nil
}
func (s *fakeStream) Close() error {
	s.closed.Add(1)
	s.once.Do(func() { close(s.chunks) })
	return nil
}

type fakeMic struct {
	stream *fakeStream
	err    error
}

func (m *fakeMic) Open(context.Context) (capture.Stream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeScorer struct {
	fb  *model.Feedback
	err error

	gotMime, gotTarget string
	gotData            []byte
}

func (f *fakeScorer) Analyze(_ context.Context, data []byte, mime, target string) (*model.Feedback, error) {
	f.gotData, f.gotMime, f.gotTarget = data, mime, target
	return f.fb, f.err
}

func TestNegotiate(t *testing.T) {
	enc, ok := Negotiate(func(e string) bool { return e == "audio/webm" || e == "audio/mp4" })
	require.True(t, ok)
	assert.Equal(t, "audio/mp4", enc)

	_, ok = Negotiate(func(string) bool { return false })
	assert.False(t, ok)
}

func TestRecorder_FullCycle(t *testing.T) {
	stream := newFakeStream("audio/webm;codecs=opus", "audio/webm")
	scorer := &fakeScorer{fb: &model.Feedback{Score: 91, Feedback: "¡Perfecto!", Tips: "Keep going"}}
	r := NewRecorder(&fakeMic{stream: stream}, scorer, 0, time.Millisecond, nil)

	require.NoError(t, r.Start(context.Background(), nil))
	assert.Equal(t, model.StateRecording, r.State())
	assert.ErrorIs(t, r.Start(context.Background(), nil), ErrBusy)

	stream.chunks <- []byte("ab")
	stream.chunks <- []byte("cd")

	rec, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, "audio/webm;codecs=opus", rec.Encoding)
	assert.Equal(t, []byte("abcd"), rec.Data)
	assert.Equal(t, int32(1), stream.closed.Load(), "device released on stop")
	assert.Equal(t, model.StateAnalyzing, r.State())
	assert.ErrorIs(t, r.Start(context.Background(), nil), ErrBusy)

	fb := r.Analyze(context.Background(), rec, "Hola")
	assert.Equal(t, 91, fb.Score)
	assert.Equal(t, "Hola", scorer.gotTarget)
	assert.Equal(t, "audio/webm;codecs=opus", scorer.gotMime)
	assert.Equal(t, model.StateIdle, r.State())
}

func TestRecorder_MicDenied(t *testing.T) {
	r := NewRecorder(&fakeMic{err: capture.ErrNoDevice}, nil, 0, 0, nil)
	err := r.Start(context.Background(), nil)
	assert.ErrorIs(t, err, capture.ErrNoDevice)
	assert.Equal(t, model.StateIdle, r.State())

	_, err = r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorder_NoEncodingReleasesDevice(t *testing.T) {
	stream := newFakeStream("audio/ogg")
	r := NewRecorder(&fakeMic{stream: stream}, nil, 0, 0, nil)

	assert.ErrorIs(t, r.Start(context.Background(), nil), ErrNoEncoding)
	assert.Equal(t, int32(1), stream.closed.Load())
	assert.Equal(t, model.StateIdle, r.State())
}

func TestRecorder_PlaceholderAfterDelay(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("unreachable")}
	r := NewRecorder(nil, scorer, 0, 150*time.Millisecond, nil)

	rec, err := r.BeginUpload([]byte("opus"), "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, model.StateAnalyzing, r.State())

	start := time.Now()
	fb := r.Analyze(context.Background(), rec, "Vale")
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 88, fb.Score)
	assert.True(t, fb.Placeholder)
	assert.Equal(t, model.StateIdle, r.State())
}

func TestRecorder_NoScorerUsesPlaceholder(t *testing.T) {
	r := NewRecorder(nil, nil, 0, 0, nil)
	rec, err := r.BeginUpload(nil, "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, Placeholder(), r.Analyze(context.Background(), rec, "Hola"))
}

func TestRecorder_LimitTriggersStop(t *testing.T) {
	stream := newFakeStream("audio/L16")
	r := NewRecorder(&fakeMic{stream: stream}, nil, 30*time.Millisecond, 0, nil)

	stopped := make(chan *Recording, 1)
	require.NoError(t, r.Start(context.Background(), func() {
		rec, err := r.Stop()
		if err == nil {
			stopped <- rec
		}
	}))

	select {
	case rec := <-stopped:
		assert.Equal(t, "audio/L16", rec.Encoding)
	case <-time.After(2 * time.Second):
		t.Fatal("recording was not stopped at the limit")
	}
	assert.Equal(t, int32(1), stream.closed.Load())
}

func TestRecorder_CancelReleases(t *testing.T) {
	var states []model.AppState
	var mu sync.Mutex
	stream := newFakeStream("audio/webm")
	r := NewRecorder(&fakeMic{stream: stream}, nil, 0, 0, func(s model.AppState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, r.Start(context.Background(), nil))
	r.Cancel()
	assert.Equal(t, model.StateIdle, r.State())
	assert.Equal(t, int32(1), stream.closed.Load())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestAssemble_WAV(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms of silence at 16kHz
	out, err := assemble("audio/wav", [][]byte{pcm[:1600], pcm[1600:]}, 16000)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(out[:4]))

	clip, err := audio.DecodeCompressed(out)
	require.NoError(t, err)
	assert.Equal(t, 1600, clip.Len())

	raw, err := assemble("audio/L16", [][]byte{{1, 2}, {3, 4}}, 16000)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, raw)
}
