package audio

import (
	"math"
	"testing"
)

type dummyStreamer struct {
	samples [][2]float64
	pos     int
}

func (s *dummyStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n = copy(samples, s.samples[s.pos:])
	s.pos += n
	return n, true
}

func (s *dummyStreamer) Err() error { return nil }

func TestVoiceBand_BlocksDC(t *testing.T) {
	input := make([][2]float64, 4000)
	for i := range input {
		input[i] = [2]float64{0.5, 0.5}
	}
	filter := NewVoiceBand(&dummyStreamer{samples: input}, 16000)

	output := make([][2]float64, len(input))
	n, ok := filter.Stream(output)
	if n != len(input) || !ok {
		t.Fatalf("Stream = %d, %v", n, ok)
	}

	last := output[n-1][0]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		t.Fatalf("filter produced %v", last)
	}
	if math.Abs(last) > 0.05 {
		t.Errorf("DC not removed, last sample %f", last)
	}
}

func TestLowPass_ModifiesStep(t *testing.T) {
	f := NewLowPass(&dummyStreamer{samples: [][2]float64{{1.0, 1.0}}}, 44100, 1000, 0.707)
	samples := make([][2]float64, 1)
	f.Stream(samples)
	if samples[0][0] == 1.0 {
		t.Error("LowPass filter did not modify signal")
	}
}
