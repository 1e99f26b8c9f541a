// Package audio decodes synthesized speech into playable clips and plays them.
package audio

import (
	"time"

	"github.com/gopxl/beep/v2"
)

// Clip is a fully decoded, in-memory audio buffer. It is immutable once
// built and may be streamed any number of times concurrently.
type Clip struct {
	buf *beep.Buffer
}

// NewClip drains s into memory.
func NewClip(format beep.Format, s beep.Streamer) *Clip {
	buf := beep.NewBuffer(format)
	buf.Append(s)
	return &Clip{buf: buf}
}

// Format returns the decoded format.
func (c *Clip) Format() beep.Format { return c.buf.Format() }

// SampleRate returns the sample rate reported by the decoder.
func (c *Clip) SampleRate() int { return int(c.buf.Format().SampleRate) }

// Len returns the number of frames.
func (c *Clip) Len() int { return c.buf.Len() }

// Duration returns the playing time.
func (c *Clip) Duration() time.Duration {
	return c.buf.Format().SampleRate.D(c.buf.Len())
}

// Streamer returns a fresh reader over the whole clip.
func (c *Clip) Streamer() beep.StreamSeeker {
	return c.buf.Streamer(0, c.buf.Len())
}
