package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// HandoffGrace is added to a clip's duration before a client that never
// reported completion is assumed to have finished.
const HandoffGrace = 2 * time.Second

// Handoff is a Sink for remote playback: the clip is published for a client
// to fetch, and playback completes when the client calls Done or when the
// clip's duration plus HandoffGrace elapses.
type Handoff struct {
	mu      sync.Mutex
	id      string
	clip    *Clip
	timer   *time.Timer
	finish  func()
	grace   time.Duration
	onStart func(id string, clip *Clip)
}

// NewHandoff creates a client sink. onStart, if set, is called with each
// newly published clip.
func NewHandoff(onStart func(id string, clip *Clip)) *Handoff {
	return &Handoff{grace: HandoffGrace, onStart: onStart}
}

// Play publishes clip as the current one.
func (h *Handoff) Play(clip *Clip, onDone func()) error {
	id := uuid.NewString()

	var once sync.Once
	finish := func() {
		once.Do(func() {
			if onDone != nil {
				onDone()
			}
		})
	}

	h.mu.Lock()
	prev := h.takeLocked()
	h.id = id
	h.clip = clip
	h.finish = finish
	h.timer = time.AfterFunc(clip.Duration()+h.grace, func() { h.Done(id) })
	onStart := h.onStart
	h.mu.Unlock()

	if prev != nil {
		prev()
	}
	if onStart != nil {
		onStart(id, clip)
	}
	return nil
}

// Done completes playback of the clip with the given id. Stale ids are ignored.
func (h *Handoff) Done(id string) bool {
	h.mu.Lock()
	if h.id == "" || h.id != id {
		h.mu.Unlock()
		return false
	}
	finish := h.takeLocked()
	h.mu.Unlock()

	finish()
	return true
}

// Stop completes whatever is current.
func (h *Handoff) Stop() {
	h.mu.Lock()
	finish := h.takeLocked()
	h.mu.Unlock()
	if finish != nil {
		finish()
	}
}

// Current returns the clip being played, if any.
func (h *Handoff) Current() (id string, clip *Clip, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clip == nil {
		return "", nil, false
	}
	return h.id, h.clip, true
}

func (h *Handoff) takeLocked() func() {
	if h.timer != nil {
		h.timer.Stop()
	}
	finish := h.finish
	h.id, h.clip, h.finish, h.timer = "", nil, nil, nil
	return finish
}
