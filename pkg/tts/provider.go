package tts

import (
	"context"
	"errors"
	"fmt"

	"slowburn/pkg/audio"
	"slowburn/pkg/model"
)

// Voice is the logical speaker of an utterance. Providers map it onto their
// own voice identifiers.
type Voice int

const (
	VoiceNarrator Voice = iota
	VoiceProtagonist
	VoiceSidekick
)

func (v Voice) String() string {
	switch v {
	case VoiceNarrator:
		return "narrator"
	case VoiceProtagonist:
		return "protagonist"
	case VoiceSidekick:
		return "sidekick"
	default:
		return fmt.Sprintf("voice(%d)", int(v))
	}
}

// VoiceForRole resolves the voice that speaks a script role.
func VoiceForRole(r model.Role) Voice {
	switch r {
	case model.RoleNarrator:
		return VoiceNarrator
	case model.RoleMateo:
		return VoiceSidekick
	case model.RoleCarmen:
		return VoiceProtagonist
	default:
		return VoiceProtagonist
	}
}

// Result is the raw payload returned by a provider.
type Result struct {
	Data     []byte
	Encoding audio.Encoding
}

// Provider defines the interface for Text-To-Speech engines.
type Provider interface {
	// Name identifies the provider in logs and stats.
	Name() string
	// Synthesize returns the provider's raw audio for text. It must not retry.
	Synthesize(ctx context.Context, text string, voice Voice) (*Result, error)
}

// ErrEmptyAudio is returned when a provider answered successfully without audio.
var ErrEmptyAudio = errors.New("tts: provider returned no audio")

// FatalError represents a provider failure with an HTTP status, e.g.
// rate limits (429), server errors (5xx) or auth failures (401/403).
type FatalError struct {
	StatusCode int
	Message    string
}

func (e *FatalError) Error() string {
	return e.Message
}

// NewFatalError creates a new FatalError with the given status code and message.
func NewFatalError(statusCode int, message string) *FatalError {
	return &FatalError{StatusCode: statusCode, Message: message}
}

// IsFatalError checks if err carries a provider status.
func IsFatalError(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsThrottled reports whether err says the provider is over quota or
// temporarily unable to serve.
func IsThrottled(err error) bool {
	var fe *FatalError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.StatusCode == 429 || fe.StatusCode >= 500
}
