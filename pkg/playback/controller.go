// Package playback drives the journal: which line is shown, prefetching its
// audio, playing it and running practice attempts against it.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"slowburn/pkg/audio"
	"slowburn/pkg/journal"
	"slowburn/pkg/model"
	"slowburn/pkg/observe"
	"slowburn/pkg/practice"
	"slowburn/pkg/speech"
	"slowburn/pkg/story"
)

var (
	// ErrBusy is returned when audio is playing or an attempt is in progress.
	ErrBusy = errors.New("playback: busy")
	// ErrNoLine is returned by line actions while in the menu.
	ErrNoLine = errors.New("playback: no current line")
	// ErrStale is returned when the learner navigated away before an
	// attempt was scored. The result is discarded.
	ErrStale = errors.New("playback: result belongs to a previous line")
)

// Synthesizer produces audio for an utterance; nil means no audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, u speech.Utterance) *audio.Clip
}

// Recorder is the practice state machine.
type Recorder interface {
	State() model.AppState
	Start(ctx context.Context, onLimit func()) error
	Stop() (*practice.Recording, error)
	Cancel()
	BeginUpload(data []byte, encoding string) (*practice.Recording, error)
	Analyze(ctx context.Context, rec *practice.Recording, target string) *model.Feedback
}

// Options tunes the controller.
type Options struct {
	PrefetchDelay   time.Duration
	ThresholdStory  int // save to dictionary above this score in STORY and INSIGHT
	ThresholdReview int // save to dictionary above this score in VOCAB
}

// Snapshot is the view state of the journal.
type Snapshot struct {
	Section    model.Section       `json:"section"`
	SceneIndex int                 `json:"scene_index"`
	LineIndex  int                 `json:"line_index"`
	SceneCount int                 `json:"scene_count"`
	Scene      *model.Scene        `json:"scene,omitempty"`
	Line       *model.DialogueLine `json:"line,omitempty"`
	State      model.AppState      `json:"state"`
	Feedback   *model.Feedback     `json:"feedback,omitempty"`
	Generation uint64              `json:"generation"`
}

// Controller is the narrative state machine. All methods are safe for
// concurrent use; the view is expected to be the only actor.
type Controller struct {
	episode  *model.Episode
	synth    Synthesizer
	sink     audio.Sink
	recorder Recorder
	journal  *journal.Journal
	metrics  *observe.Metrics
	opts     Options

	// sinkMu orders sink calls; it is never taken while holding mu.
	sinkMu sync.Mutex

	mu         sync.Mutex
	section    model.Section
	scene      int
	line       int
	feedback   *model.Feedback
	generation uint64
	lineCtx    context.Context
	cancelLine context.CancelFunc
	playing    bool
	playID     uint64
	attempt    *attempt

	subMu       sync.RWMutex
	subscribers []chan Snapshot

	wg sync.WaitGroup
}

// attempt pins a practice run to the line it was started on.
type attempt struct {
	generation uint64
	section    model.Section
	line       model.DialogueLine
}

// New creates a controller positioned on the first story line and starts
// prefetching it. m may be nil to use the global metrics.
func New(ep *model.Episode, synth Synthesizer, sink audio.Sink, rec Recorder, j *journal.Journal, m *observe.Metrics, opts Options) *Controller {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	c := &Controller{
		episode:  ep,
		synth:    synth,
		sink:     sink,
		recorder: rec,
		journal:  j,
		metrics:  m,
		opts:     opts,
		section:  model.SectionStory,
	}
	c.mu.Lock()
	c.enterLocked()
	c.mu.Unlock()
	return c
}

// Close cancels in-flight work and waits for prefetches to stop.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cancelLine != nil {
		c.cancelLine()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Snapshot returns the current view state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	scenes := story.SectionScenes(c.episode, c.section)
	s := Snapshot{
		Section:    c.section,
		SceneIndex: c.scene,
		LineIndex:  c.line,
		SceneCount: len(scenes),
		State:      c.stateLocked(),
		Feedback:   c.feedback,
		Generation: c.generation,
	}
	if sc, ok := c.sceneLocked(); ok {
		s.Scene = &sc
		if c.line < len(sc.Script) {
			l := sc.Script[c.line]
			s.Line = &l
		}
	}
	return s
}

func (c *Controller) stateLocked() model.AppState {
	if c.playing {
		return model.StatePlayingAudio
	}
	return c.recorder.State()
}

func (c *Controller) sceneLocked() (model.Scene, bool) {
	scenes := story.SectionScenes(c.episode, c.section)
	if c.scene < 0 || c.scene >= len(scenes) {
		return model.Scene{}, false
	}
	return scenes[c.scene], true
}

func (c *Controller) currentLineLocked() (model.DialogueLine, bool) {
	sc, ok := c.sceneLocked()
	if !ok || c.line < 0 || c.line >= len(sc.Script) {
		return model.DialogueLine{}, false
	}
	return sc.Script[c.line], true
}

// Next advances one line. Past the end of a scene it turns the page; past the
// last story line it marks the episode completed and returns to the menu; past
// the end of the insight or vocabulary page it returns to the menu.
func (c *Controller) Next(ctx context.Context) Snapshot {
	c.mu.Lock()
	sc, ok := c.sceneLocked()
	if !ok {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}

	completed := false
	switch {
	case c.line < len(sc.Script)-1:
		c.line++
	case c.section == model.SectionStory && c.scene < len(c.episode.Story)-1:
		c.scene++
		c.line = 0
	case c.section == model.SectionStory:
		completed = true
		c.toMenuLocked()
	default:
		c.toMenuLocked()
	}
	stop := c.enterLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.stopPlayback(stop)
	if completed {
		slog.Info("Playback: episode completed", "episode", c.episode.ID)
		c.journal.SaveProgress(ctx, journal.ProgressCompletedEpisodeOne)
	}
	c.broadcast(snap)
	return snap
}

// Prev goes back one line. At the first line of a story scene it turns back
// to the last line of the previous scene; at the first line of the insight or
// vocabulary page it returns to the menu.
func (c *Controller) Prev() Snapshot {
	c.mu.Lock()
	if _, ok := c.sceneLocked(); !ok {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}

	switch {
	case c.line > 0:
		c.line--
	case c.section == model.SectionStory && c.scene > 0:
		c.scene--
		c.line = len(c.episode.Story[c.scene].Script) - 1
	case c.section != model.SectionStory:
		c.toMenuLocked()
	default:
		// First line of the story: nowhere to go.
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}
	stop := c.enterLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.stopPlayback(stop)
	c.broadcast(snap)
	return snap
}

// SetSection opens a section at its first line.
func (c *Controller) SetSection(s model.Section) (Snapshot, error) {
	switch s {
	case model.SectionStory, model.SectionMenu, model.SectionInsight, model.SectionVocab:
	default:
		return Snapshot{}, fmt.Errorf("unknown section %q", s)
	}

	c.mu.Lock()
	c.section = s
	c.scene = 0
	c.line = 0
	stop := c.enterLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.stopPlayback(stop)
	c.broadcast(snap)
	return snap, nil
}

func (c *Controller) toMenuLocked() {
	c.section = model.SectionMenu
	c.scene = 0
	c.line = 0
}

// enterLocked makes the current position the active line: previous line work
// is cancelled, feedback cleared, and the line and its successor prefetched.
// It returns the id of a playback the caller must stop once mu is released,
// or zero.
func (c *Controller) enterLocked() (stop uint64) {
	if c.cancelLine != nil {
		c.cancelLine()
	}
	c.generation++
	c.lineCtx, c.cancelLine = context.WithCancel(context.Background())
	c.feedback = nil
	c.attempt = nil

	if c.recorder.State() == model.StateRecording {
		c.recorder.Cancel()
	}
	if c.playing {
		c.playing = false
		stop = c.playID
	}

	sc, ok := c.sceneLocked()
	if !ok || c.line >= len(sc.Script) {
		return stop
	}
	c.wg.Add(1)
	go c.prefetch(c.lineCtx, sc, c.line, c.section)
	return stop
}

// stopPlayback silences the sink if playback id is still the latest one.
func (c *Controller) stopPlayback(id uint64) {
	if id == 0 {
		return
	}
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.mu.Lock()
	latest := c.playID == id
	c.mu.Unlock()
	if latest {
		c.sink.Stop()
	}
}

// prefetch warms the current line, then after a short delay the next line of
// the same scene.
func (c *Controller) prefetch(ctx context.Context, sc model.Scene, idx int, section model.Section) {
	defer c.wg.Done()

	c.warm(ctx, sc.Script[idx], section)
	next := idx + 1
	if next >= len(sc.Script) {
		return
	}

	t := time.NewTimer(c.opts.PrefetchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	c.warm(ctx, sc.Script[next], section)
}

func (c *Controller) warm(ctx context.Context, l model.DialogueLine, section model.Section) {
	// The learner speaks Carmen's lines; only the review page plays them.
	if l.Role == model.RoleCarmen && section != model.SectionVocab {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if c.synth.Synthesize(ctx, story.Utterance(l)) == nil && ctx.Err() == nil {
		slog.Debug("Playback: prefetch produced no audio", "line", l.ID)
	}
}

// Play synthesizes the current line if needed and hands it to the sink.
// It reports false when no audio could be produced, which is not an error.
// While the clip plays, Play and practice return ErrBusy.
func (c *Controller) Play(_ context.Context) (bool, error) {
	c.mu.Lock()
	if c.playing || c.recorder.State() != model.StateIdle {
		c.mu.Unlock()
		return false, ErrBusy
	}
	l, ok := c.currentLineLocked()
	if !ok {
		c.mu.Unlock()
		return false, ErrNoLine
	}
	c.playing = true
	c.playID++
	id := c.playID
	gen := c.generation
	lineCtx := c.lineCtx
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.broadcast(snap)

	clip := c.synth.Synthesize(lineCtx, story.Utterance(l))

	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()

	c.mu.Lock()
	if clip == nil || gen != c.generation || !c.playing || c.playID != id {
		if clip == nil {
			slog.Warn("Playback: no audio for line", "line", l.ID)
		}
		c.finishPlayLocked(id)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.broadcast(snap)
		return false, nil
	}
	c.mu.Unlock()

	if err := c.sink.Play(clip, func() { c.playDone(id) }); err != nil {
		c.playDone(id)
		return false, fmt.Errorf("failed to play line %s: %w", l.ID, err)
	}
	slog.Debug("Playback: playing", "line", l.ID, "duration", clip.Duration())
	return true, nil
}

func (c *Controller) playDone(id uint64) {
	c.mu.Lock()
	if !c.finishPlayLocked(id) {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.broadcast(snap)
}

func (c *Controller) finishPlayLocked(id uint64) bool {
	if !c.playing || c.playID != id {
		return false
	}
	c.playing = false
	return true
}

// StartPractice begins recording an attempt at the current line.
func (c *Controller) StartPractice(ctx context.Context) error {
	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return ErrBusy
	}
	l, ok := c.currentLineLocked()
	if !ok {
		c.mu.Unlock()
		return ErrNoLine
	}
	gen := c.generation
	err := c.recorder.Start(ctx, func() {
		if _, err := c.StopPractice(); err != nil && !errors.Is(err, practice.ErrNotRecording) {
			slog.Debug("Playback: auto-stopped attempt", "error", err)
		}
	})
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, practice.ErrBusy) {
			return ErrBusy
		}
		return err
	}
	c.feedback = nil
	c.attempt = &attempt{generation: gen, section: c.section, line: l}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.broadcast(snap)
	return nil
}

// StopPractice ends the recording and scores it. It blocks until the result
// is in.
func (c *Controller) StopPractice() (*model.Feedback, error) {
	c.mu.Lock()
	a := c.attempt
	rec, err := c.recorder.Stop()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ctx := c.lineCtx
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.broadcast(snap)

	if a == nil {
		// Nothing to score; a cancelled analysis returns the recorder to Idle at once.
		done, cancel := context.WithCancel(ctx)
		cancel()
		c.recorder.Analyze(done, nil, "")
		return nil, ErrStale
	}
	return c.score(ctx, a, rec)
}

// CancelPractice abandons a recording in progress.
func (c *Controller) CancelPractice() {
	c.mu.Lock()
	c.recorder.Cancel()
	c.attempt = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.broadcast(snap)
}

// AnalyzeUpload scores a recording made by the client.
func (c *Controller) AnalyzeUpload(data []byte, encoding string) (*model.Feedback, error) {
	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	l, ok := c.currentLineLocked()
	if !ok {
		c.mu.Unlock()
		return nil, ErrNoLine
	}
	rec, err := c.recorder.BeginUpload(data, encoding)
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, practice.ErrBusy) {
			return nil, ErrBusy
		}
		return nil, err
	}
	a := &attempt{generation: c.generation, section: c.section, line: l}
	c.attempt = a
	c.feedback = nil
	ctx := c.lineCtx
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.broadcast(snap)

	return c.score(ctx, a, rec)
}

// score runs the analysis and applies it if the learner is still on the line.
func (c *Controller) score(ctx context.Context, a *attempt, rec *practice.Recording) (*model.Feedback, error) {
	start := time.Now()
	fb := c.recorder.Analyze(ctx, rec, a.line.Spanish)
	c.metrics.RecordAttempt(context.WithoutCancel(ctx), string(a.section), fb.Placeholder, time.Since(start))

	c.mu.Lock()
	if a.generation != c.generation {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		slog.Debug("Playback: discarding stale result", "line", a.line.ID, "score", fb.Score)
		c.broadcast(snap)
		return fb, ErrStale
	}
	c.feedback = fb
	c.attempt = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	store := context.WithoutCancel(ctx)
	if !fb.Placeholder {
		c.journal.RecordAttempt(store, a.line.ID, fb.Score)
	}
	if fb.Score > c.threshold(a.section) {
		c.journal.SaveWord(store, a.line.Spanish, a.line.English)
	}
	slog.Info("Playback: attempt scored", "line", a.line.ID, "score", fb.Score, "placeholder", fb.Placeholder)

	c.broadcast(snap)
	return fb, nil
}

func (c *Controller) threshold(s model.Section) int {
	if s == model.SectionVocab {
		return c.opts.ThresholdReview
	}
	return c.opts.ThresholdStory
}

// Subscribe returns a channel receiving a snapshot after every change.
// Slow subscribers miss snapshots; the next one supersedes them.
func (c *Controller) Subscribe() chan Snapshot {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	ch := make(chan Snapshot, 8)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (c *Controller) Unsubscribe(ch chan Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for i, sub := range c.subscribers {
		if sub == ch {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (c *Controller) broadcast(s Snapshot) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}
