package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// Encoding describes how a provider payload must be decoded.
type Encoding string

const (
	// EncodingCompressed is a self-describing container (MP3, WAV).
	EncodingCompressed Encoding = "compressed"
	// EncodingPCM16 is headerless signed 16-bit little-endian mono PCM at PCMSampleRate.
	EncodingPCM16 Encoding = "pcm_s16le"
)

// PCMSampleRate is the rate of headerless PCM produced by the fallback provider.
const PCMSampleRate = 24000

// ErrEmpty is returned when a decoder produced no frames.
var ErrEmpty = errors.New("audio: no frames decoded")

// Decode decodes data using the decoder that matches enc.
func Decode(data []byte, enc Encoding) (*Clip, error) {
	switch enc {
	case EncodingPCM16:
		return DecodePCM16(data, PCMSampleRate)
	case EncodingCompressed:
		return DecodeCompressed(data)
	default:
		return nil, fmt.Errorf("audio: unknown encoding %q", enc)
	}
}

// DecodeStored decodes a persisted payload whose encoding was not recorded.
// The compressed decoder is tried first; if it fails the bytes are read as
// raw PCM, which cannot fail for non-empty input.
func DecodeStored(data []byte) (*Clip, Encoding, error) {
	if clip, err := DecodeCompressed(data); err == nil {
		return clip, EncodingCompressed, nil
	}
	clip, err := DecodePCM16(data, PCMSampleRate)
	if err != nil {
		return nil, "", err
	}
	return clip, EncodingPCM16, nil
}

// DecodeCompressed decodes WAV (sniffed by its RIFF header) or MP3.
func DecodeCompressed(data []byte) (*Clip, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	if isWAV(data) {
		s, format, err = wav.Decode(bytes.NewReader(data))
	} else {
		s, format, err = mp3.Decode(memFile{bytes.NewReader(data)})
	}
	if err != nil {
		return nil, fmt.Errorf("audio: decode compressed: %w", err)
	}
	defer s.Close()

	clip := NewClip(mono(format), downmix(s, format.NumChannels))
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("audio: decode compressed: %w", err)
	}
	if clip.Len() == 0 {
		return nil, ErrEmpty
	}
	return clip, nil
}

// DecodePCM16 interprets data as signed 16-bit little-endian mono samples,
// normalized to [-1, 1) by dividing by 32768. A trailing odd byte is ignored.
func DecodePCM16(data []byte, sampleRate int) (*Clip, error) {
	n := len(data) / 2
	if n == 0 {
		return nil, ErrEmpty
	}

	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: 1,
		Precision:   2,
	}

	pos := 0
	s := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= n {
			return 0, false
		}
		i := 0
		for ; i < len(samples) && pos < n; i++ {
			v := float64(int16(binary.LittleEndian.Uint16(data[pos*2:]))) / 32768
			samples[i] = [2]float64{v, v}
			pos++
		}
		return i, true
	})

	return NewClip(format, s), nil
}

// mono reports f as a single-channel format. Decoded clips are always mono.
func mono(f beep.Format) beep.Format {
	f.NumChannels = 1
	return f
}

// downmix averages left and right so both slots carry the mono signal.
// Decoders that already emit one channel duplicate it into both slots.
func downmix(s beep.Streamer, channels int) beep.Streamer {
	if channels == 1 {
		return s
	}
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		n, ok := s.Stream(samples)
		for i := range samples[:n] {
			m := (samples[i][0] + samples[i][1]) / 2
			samples[i] = [2]float64{m, m}
		}
		return n, ok
	})
}

// memFile lets the MP3 decoder seek to measure the stream length.
type memFile struct{ *bytes.Reader }

func (memFile) Close() error { return nil }

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
