package audio

import (
	"errors"
	"io"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// EncodeWAV renders the clip as a 16-bit WAV file.
func EncodeWAV(c *Clip) ([]byte, error) {
	format := c.Format()
	format.Precision = 2
	return encodeWAV(c.Streamer(), format)
}

// FromFloat32 builds a mono clip from captured microphone samples.
func FromFloat32(samples []float32, sampleRate int) *Clip {
	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 1, Precision: 2}
	pos := 0
	s := beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := 0
		for ; n < len(out) && pos < len(samples); n++ {
			v := float64(samples[pos])
			out[n] = [2]float64{v, v}
			pos++
		}
		return n, true
	})
	return NewClip(format, s)
}

// EncodeVoiceWAV band-limits a capture to the speech range and renders it as WAV.
func EncodeVoiceWAV(c *Clip) ([]byte, error) {
	format := c.Format()
	format.Precision = 2
	return encodeWAV(NewVoiceBand(c.Streamer(), float64(format.SampleRate)), format)
}

func encodeWAV(s beep.Streamer, format beep.Format) ([]byte, error) {
	w := &memWriter{}
	if err := wav.Encode(w, s, format); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// memWriter is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch the header sizes.
type memWriter struct {
	buf []byte
	pos int
}

func (m *memWriter) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriter) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if next < 0 {
		return 0, errors.New("audio: negative position")
	}
	m.pos = int(next)
	return next, nil
}
