// Package capture acquires the microphone for pronunciation practice.
package capture

import (
	"context"
	"errors"
)

// ErrNoDevice is returned when no microphone can be opened.
var ErrNoDevice = errors.New("capture: no input device")

// Microphone hands out recording streams.
type Microphone interface {
	// Open acquires the device. A failed Open leaves nothing to release.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired microphone.
type Stream interface {
	// Supports reports whether the stream can produce the given encoding.
	Supports(encoding string) bool
	// SampleRate is the capture rate of raw PCM encodings.
	SampleRate() int
	// Start begins delivering chunks in encoding.
	Start(encoding string) error
	// Chunks yields captured data in order. It is closed by Close.
	Chunks() <-chan []byte
	// Close stops capture and releases the device. It is safe to call more
	// than once.
	Close() error
}

// Unavailable is the microphone of builds without audio input support.
type Unavailable struct{}

// Open always fails with ErrNoDevice.
func (Unavailable) Open(context.Context) (Stream, error) {
	return nil, ErrNoDevice
}
