package logging

import (
	"strings"
	"sync"
)

// RecentLines is a thread-safe writer that keeps the last few log lines
// for the status endpoint.
type RecentLines struct {
	mu    sync.RWMutex
	lines []string
	max   int
}

// GlobalLogCapture receives INFO+ records from the server logger.
var GlobalLogCapture = NewRecentLines(20)

// NewRecentLines creates a capture that retains up to max lines.
func NewRecentLines(max int) *RecentLines {
	if max < 1 {
		max = 1
	}
	return &RecentLines{max: max}
}

// Write implements io.Writer.
func (w *RecentLines) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\n")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
	if len(w.lines) > w.max {
		w.lines = w.lines[len(w.lines)-w.max:]
	}
	return len(p), nil
}

// Lines returns a copy of the retained lines, oldest first.
func (w *RecentLines) Lines() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.lines))
	copy(out, w.lines)
	return out
}

// LastLine returns the most recent line, or "".
func (w *RecentLines) LastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.lines) == 0 {
		return ""
	}
	return w.lines[len(w.lines)-1]
}
