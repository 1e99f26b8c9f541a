package audio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// Sink plays decoded clips. onDone is invoked exactly once per accepted
// clip: when it finishes, fails, or is stopped.
type Sink interface {
	Play(clip *Clip, onDone func()) error
	Stop()
}

// Manager is a Sink that plays through the local sound device using gopxl/beep.
type Manager struct {
	mu                 sync.RWMutex
	ctrl               *beep.Ctrl
	volume             float64
	speakerInitialized bool
	outputRate         beep.SampleRate
	streamer           *effects.Volume
	finish             func()
	startedAt          time.Time
	current            *Clip
}

// New creates a new Manager with the given linear volume (0.0 to 1.0).
func New(volume float64) *Manager {
	m := &Manager{volume: 1.0}
	m.SetVolume(volume)
	return m
}

// Play starts playback of clip, replacing anything currently playing.
func (m *Manager) Play(clip *Clip, onDone func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev := m.finish; prev != nil {
		go prev()
	}
	m.stopLocked()

	if err := m.ensureSpeakerInitialized(); err != nil {
		return err
	}

	resampled := beep.Resample(3, clip.Format().SampleRate, m.outputRate, clip.Streamer())
	vol := &effects.Volume{
		Streamer: resampled,
		Base:     2,
		Volume:   volumeToPower(m.volume),
		Silent:   m.volume <= 0.01,
	}

	var once sync.Once
	finish := func() {
		once.Do(func() {
			if onDone != nil {
				onDone()
			}
		})
	}

	m.streamer = vol
	m.ctrl = &beep.Ctrl{Streamer: vol}
	m.finish = finish
	m.current = clip
	m.startedAt = time.Now()
	ctrl := m.ctrl

	speaker.Play(beep.Seq(ctrl, beep.Callback(func() {
		// Never block the speaker goroutine
		go func() {
			m.mu.Lock()
			if m.ctrl == ctrl {
				m.ctrl = nil
				m.streamer = nil
				m.finish = nil
				m.current = nil
			}
			m.mu.Unlock()
			finish()
		}()
	})))

	slog.Debug("Audio: playing clip", "duration", clip.Duration())
	return nil
}

// Stop stops current playback and completes it.
func (m *Manager) Stop() {
	m.mu.Lock()
	finish := m.finish
	m.stopLocked()
	m.mu.Unlock()

	if finish != nil {
		finish()
	}
}

func (m *Manager) stopLocked() {
	if m.ctrl != nil {
		speaker.Clear()
	}
	m.ctrl = nil
	m.streamer = nil
	m.finish = nil
	m.current = nil
}

func (m *Manager) ensureSpeakerInitialized() error {
	const targetSampleRate = beep.SampleRate(48000)
	if m.speakerInitialized {
		return nil
	}
	if err := speaker.Init(targetSampleRate, targetSampleRate.N(time.Second/10)); err != nil {
		slog.Error("Audio: failed to initialize speaker", "error", err)
		return err
	}
	m.speakerInitialized = true
	m.outputRate = targetSampleRate
	return nil
}

// Shutdown stops playback.
func (m *Manager) Shutdown() {
	m.Stop()
}

// IsPlaying reports whether a clip is playing.
func (m *Manager) IsPlaying() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctrl != nil
}

// SetVolume sets playback volume (0.0 to 1.0).
func (m *Manager) SetVolume(vol float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.volume = min(max(vol, 0), 1)
	if m.streamer != nil {
		speaker.Lock()
		m.streamer.Volume = volumeToPower(m.volume)
		m.streamer.Silent = m.volume <= 0.01
		speaker.Unlock()
	}
}

// Volume returns current volume level.
func (m *Manager) Volume() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volume
}

// Remaining returns the time left on the current clip.
func (m *Manager) Remaining() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 0
	}
	return max(m.current.Duration()-time.Since(m.startedAt), 0)
}
