//go:build portaudio

package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 512

// PortAudio captures from the default input device. It produces raw 16-bit
// little-endian PCM, which the recorder wraps as WAV or sends as L16.
type PortAudio struct {
	SampleRate int
}

// NewDefault returns the PortAudio microphone at sampleRate.
func NewDefault(sampleRate int) Microphone {
	return &PortAudio{SampleRate: sampleRate}
}

// Open initializes PortAudio and opens a mono input stream.
func (p *PortAudio) Open(ctx context.Context) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	buffer := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.SampleRate), len(buffer), buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	return &paStream{
		stream: stream,
		buffer: buffer,
		rate:   p.SampleRate,
		chunks: make(chan []byte, 256),
		done:   make(chan struct{}),
	}, nil
}

type paStream struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []float32
	rate    int
	chunks  chan []byte
	done    chan struct{}
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func (s *paStream) Supports(encoding string) bool {
	return encoding == "audio/wav" || encoding == "audio/L16"
}

func (s *paStream) SampleRate() int { return s.rate }

func (s *paStream) Chunks() <-chan []byte { return s.chunks }

func (s *paStream) Start(encoding string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.started {
		return fmt.Errorf("capture: stream not startable")
	}
	if !s.Supports(encoding) {
		return fmt.Errorf("capture: unsupported encoding %q", encoding)
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	s.started = true
	s.wg.Add(1)
	go s.readLoop()
	return nil
}

func (s *paStream) readLoop() {
	defer s.wg.Done()
	var retry readRetry
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			pause, again := retry.fail()
			if !again {
				slog.Warn("Capture: giving up after repeated read errors", "failures", retry.failures, "error", err)
				return
			}
			slog.Debug("Capture: read failed", "error", err, "retry_in", pause)
			select {
			case <-s.done:
				return
			case <-time.After(pause):
			}
			continue
		}
		retry.ok()
		chunk := make([]byte, len(s.buffer)*2)
		for i, v := range s.buffer {
			v = float32(math.Max(-1, math.Min(1, float64(v))))
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(int16(v*32767)))
		}
		select {
		case s.chunks <- chunk:
		case <-s.done:
			return
		}
	}
}

func (s *paStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	started := s.started
	s.mu.Unlock()

	var firstErr error
	if started {
		if err := s.stream.Stop(); err != nil {
			firstErr = err
		}
	}
	s.wg.Wait()
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = err
	}
	close(s.chunks)
	return firstErr
}
