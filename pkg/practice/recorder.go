// Package practice runs a pronunciation attempt: capture, assemble, score.
package practice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"slowburn/pkg/audio"
	"slowburn/pkg/capture"
	"slowburn/pkg/model"
)

// Encodings is the recording format preference, best first.
var Encodings = []string{
	"audio/webm;codecs=opus",
	"audio/mp4",
	"audio/webm",
	"audio/wav",
	"audio/L16",
}

var (
	// ErrBusy is returned when an attempt is already recording or being analyzed.
	ErrBusy = errors.New("practice: attempt in progress")
	// ErrNotRecording is returned by Stop outside of a recording.
	ErrNotRecording = errors.New("practice: not recording")
	// ErrNoEncoding is returned when the device offers none of Encodings.
	ErrNoEncoding = errors.New("practice: no supported recording encoding")
)

// Placeholder is the result shown when the scorer cannot be reached.
func Placeholder() *model.Feedback {
	return &model.Feedback{
		Score:       88,
		Feedback:    "Muy bien! Your pronunciation was clear and natural. Great effort.",
		Tips:        "Try to soften the 'd' sound slightly at the end.",
		Placeholder: true,
	}
}

// Scorer judges a recorded attempt at a target phrase.
type Scorer interface {
	Analyze(ctx context.Context, recording []byte, mimeType, target string) (*model.Feedback, error)
}

// Recording is one assembled attempt.
type Recording struct {
	ID       string
	Encoding string
	Data     []byte
}

// Negotiate picks the first encoding of Encodings that supports accepts.
func Negotiate(supports func(string) bool) (string, bool) {
	for _, enc := range Encodings {
		if supports(enc) {
			return enc, true
		}
	}
	return "", false
}

// Recorder is the Idle → Recording → Analyzing → Idle state machine.
type Recorder struct {
	mic         capture.Microphone
	scorer      Scorer
	maxDuration time.Duration
	delay       time.Duration
	onState     func(model.AppState)

	mu      sync.Mutex
	state   model.AppState
	session *session
}

type session struct {
	id       string
	stream   capture.Stream
	encoding string
	rate     int
	chunks   [][]byte
	drained  chan struct{}
	timer    *time.Timer
}

// NewRecorder creates a recorder. scorer may be nil, in which case every
// attempt gets the placeholder. onState, if set, observes transitions.
func NewRecorder(mic capture.Microphone, scorer Scorer, maxDuration, placeholderDelay time.Duration, onState func(model.AppState)) *Recorder {
	if mic == nil {
		mic = capture.Unavailable{}
	}
	return &Recorder{
		mic:         mic,
		scorer:      scorer,
		maxDuration: maxDuration,
		delay:       placeholderDelay,
		onState:     onState,
		state:       model.StateIdle,
	}
}

// State returns the current state.
func (r *Recorder) State() model.AppState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) setStateLocked(s model.AppState) {
	if r.state == s {
		return
	}
	r.state = s
	if r.onState != nil {
		go r.onState(s)
	}
}

// Start acquires the microphone and begins recording. onLimit, if set, is
// called once when the recording reaches the maximum duration; the caller
// is expected to Stop from it. A second Start while busy returns ErrBusy.
func (r *Recorder) Start(ctx context.Context, onLimit func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != model.StateIdle {
		return ErrBusy
	}

	stream, err := r.mic.Open(ctx)
	if err != nil {
		slog.Warn("Practice: microphone unavailable", "error", err)
		return err
	}

	enc, ok := Negotiate(stream.Supports)
	if !ok {
		_ = stream.Close()
		return ErrNoEncoding
	}
	if err := stream.Start(enc); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start recording: %w", err)
	}

	s := &session{
		id:       uuid.NewString(),
		stream:   stream,
		encoding: enc,
		rate:     stream.SampleRate(),
		drained:  make(chan struct{}),
	}
	go func() {
		defer close(s.drained)
		for chunk := range stream.Chunks() {
			if len(chunk) > 0 {
				s.chunks = append(s.chunks, chunk)
			}
		}
	}()
	if r.maxDuration > 0 && onLimit != nil {
		id := s.id
		s.timer = time.AfterFunc(r.maxDuration, func() {
			r.mu.Lock()
			current := r.session != nil && r.session.id == id
			r.mu.Unlock()
			if current {
				slog.Debug("Practice: recording limit reached", "max", r.maxDuration)
				onLimit()
			}
		})
	}

	r.session = s
	r.setStateLocked(model.StateRecording)
	slog.Debug("Practice: recording", "encoding", enc, "session", s.id)
	return nil
}

// Stop ends the recording, releases the device and returns the assembled
// attempt. The recorder moves to Analyzing; Analyze brings it back to Idle.
func (r *Recorder) Stop() (*Recording, error) {
	r.mu.Lock()
	if r.state != model.StateRecording || r.session == nil {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	s := r.session
	r.session = nil
	r.setStateLocked(model.StateAnalyzing)
	r.mu.Unlock()

	data, err := s.finish()
	if err != nil {
		slog.Warn("Practice: failed to assemble recording", "error", err)
	}
	return &Recording{ID: s.id, Encoding: s.encoding, Data: data}, nil
}

// Cancel abandons any recording and returns to Idle.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	s := r.session
	r.session = nil
	if r.state == model.StateRecording {
		r.setStateLocked(model.StateIdle)
	}
	r.mu.Unlock()

	if s != nil {
		_, _ = s.finish()
	}
}

// BeginUpload enters Analyzing with a recording made elsewhere.
func (r *Recorder) BeginUpload(data []byte, encoding string) (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != model.StateIdle {
		return nil, ErrBusy
	}
	r.setStateLocked(model.StateAnalyzing)
	return &Recording{ID: uuid.NewString(), Encoding: encoding, Data: data}, nil
}

// Analyze scores rec against target and returns to Idle. It never fails:
// when the scorer errors, it waits the placeholder delay and returns the
// placeholder.
func (r *Recorder) Analyze(ctx context.Context, rec *Recording, target string) *model.Feedback {
	defer func() {
		r.mu.Lock()
		if r.state == model.StateAnalyzing {
			r.setStateLocked(model.StateIdle)
		}
		r.mu.Unlock()
	}()

	if r.scorer != nil && rec != nil {
		fb, err := r.scorer.Analyze(ctx, rec.Data, rec.Encoding, target)
		if err == nil && fb != nil {
			return fb
		}
		slog.Warn("Practice: analysis failed, using placeholder", "error", err)
	}

	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
	}
	return Placeholder()
}

// finish stops the stream, waits for the last chunk and assembles the blob.
func (s *session) finish() ([]byte, error) {
	if s.timer != nil {
		s.timer.Stop()
	}
	if err := s.stream.Close(); err != nil {
		slog.Debug("Practice: closing stream", "error", err)
	}
	<-s.drained
	return assemble(s.encoding, s.chunks, s.rate)
}

// assemble joins chunks into one blob. Container formats concatenate; raw
// PCM is wrapped as a band-limited WAV when WAV was negotiated.
func assemble(encoding string, chunks [][]byte, sampleRate int) ([]byte, error) {
	joined := bytes.Join(chunks, nil)
	if !strings.HasPrefix(encoding, "audio/wav") || len(joined) == 0 {
		return joined, nil
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	clip, err := audio.DecodePCM16(joined, sampleRate)
	if err != nil {
		return nil, err
	}
	return audio.EncodeVoiceWAV(clip)
}
