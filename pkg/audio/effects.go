package audio

import (
	"math"

	"github.com/gopxl/beep/v2"
)

// BiquadFilter is a second-order IIR filter applied per channel.
type BiquadFilter struct {
	streamer beep.Streamer

	// normalized coefficients (divided by a0)
	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 [2]float64
	y1, y2 [2]float64
}

// NewLowPass creates a low-pass filter.
func NewLowPass(streamer beep.Streamer, sampleRate, cutoff, q float64) *BiquadFilter {
	cs, alpha := biquadTerms(sampleRate, cutoff, q)
	return newBiquad(streamer, (1-cs)/2, 1-cs, (1-cs)/2, 1+alpha, -2*cs, 1-alpha)
}

// NewHighPass creates a high-pass filter.
func NewHighPass(streamer beep.Streamer, sampleRate, cutoff, q float64) *BiquadFilter {
	cs, alpha := biquadTerms(sampleRate, cutoff, q)
	return newBiquad(streamer, (1+cs)/2, -(1 + cs), (1+cs)/2, 1+alpha, -2*cs, 1-alpha)
}

func biquadTerms(sampleRate, cutoff, q float64) (cs, alpha float64) {
	omega := 2 * math.Pi * cutoff / sampleRate
	return math.Cos(omega), math.Sin(omega) / (2 * q)
}

func newBiquad(s beep.Streamer, b0, b1, b2, a0, a1, a2 float64) *BiquadFilter {
	return &BiquadFilter{
		streamer: s,
		b0:       b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
	}
}

func (f *BiquadFilter) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = f.streamer.Stream(samples)
	for i := 0; i < n; i++ {
		for ch := 0; ch < 2; ch++ {
			x := samples[i][ch]
			y := f.b0*x + f.b1*f.x1[ch] + f.b2*f.x2[ch] - f.a1*f.y1[ch] - f.a2*f.y2[ch]
			f.x2[ch], f.x1[ch] = f.x1[ch], x
			f.y2[ch], f.y1[ch] = f.y1[ch], y
			samples[i][ch] = y
		}
	}
	return n, ok
}

func (f *BiquadFilter) Err() error {
	return f.streamer.Err()
}

// Speech band edges for cleaning microphone captures.
const (
	voiceLowCut  = 80.0
	voiceHighCut = 7000.0
)

// NewVoiceBand removes rumble and hiss outside the speech band.
// Q=0.707 gives a flat Butterworth passband.
func NewVoiceBand(streamer beep.Streamer, sampleRate float64) beep.Streamer {
	high := voiceHighCut
	if nyquist := sampleRate / 2; high >= nyquist {
		high = nyquist * 0.9
	}
	hp := NewHighPass(streamer, sampleRate, voiceLowCut, 0.707)
	return NewLowPass(hp, sampleRate, high, 0.707)
}
