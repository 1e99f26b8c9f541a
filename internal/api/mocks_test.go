package api

import (
	"context"
	"fmt"
	"sync"

	"slowburn/pkg/model"
	"slowburn/pkg/playback"
)

// MockController records calls made by the handlers.
type MockController struct {
	mu sync.Mutex

	snap       playback.Snapshot
	section    model.Section
	played     bool
	playErr    error
	startErr   error
	stopFB     *model.Feedback
	stopErr    error
	uploadFB   *model.Feedback
	uploadErr  error
	gotData    []byte
	gotEnc     string
	cancelled  bool
	nextCalled int
	subs       []chan playback.Snapshot
}

func (m *MockController) Snapshot() playback.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *MockController) Next(context.Context) playback.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCalled++
	m.snap.LineIndex++
	return m.snap
}

func (m *MockController) Prev() playback.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.LineIndex > 0 {
		m.snap.LineIndex--
	}
	return m.snap
}

func (m *MockController) SetSection(s model.Section) (playback.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch s {
	case model.SectionStory, model.SectionMenu, model.SectionInsight, model.SectionVocab:
	default:
		return playback.Snapshot{}, fmt.Errorf("unknown section %q", s)
	}
	m.section = s
	m.snap.Section = s
	return m.snap, nil
}

func (m *MockController) Play(context.Context) (bool, error) { return m.played, m.playErr }
func (m *MockController) StartPractice(context.Context) error {
	return m.startErr
}
func (m *MockController) StopPractice() (*model.Feedback, error) { return m.stopFB, m.stopErr }
func (m *MockController) CancelPractice() {
	m.mu.Lock()
	m.cancelled = true
	m.mu.Unlock()
}

func (m *MockController) AnalyzeUpload(data []byte, enc string) (*model.Feedback, error) {
	m.mu.Lock()
	m.gotData, m.gotEnc = data, enc
	m.mu.Unlock()
	return m.uploadFB, m.uploadErr
}

func (m *MockController) Subscribe() chan playback.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan playback.Snapshot, 4)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *MockController) Unsubscribe(ch chan playback.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// emit pushes a snapshot to all subscribers.
func (m *MockController) emit(s playback.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		ch <- s
	}
}

func (m *MockController) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
