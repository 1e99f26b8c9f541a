//go:build !portaudio

package capture

// NewDefault returns the platform microphone. This build has no audio input.
func NewDefault(int) Microphone {
	return Unavailable{}
}
