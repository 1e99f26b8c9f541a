package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Speak synthesizes text with a prebuilt voice. The model answers with raw
// audio, typically "audio/L16;rate=24000" PCM.
func (c *Client) Speak(ctx context.Context, modelName, text, voiceName string) (data []byte, mimeType string, err error) {
	client, err := c.client()
	if err != nil {
		return nil, "", err
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceName},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(text), cfg)
	if err != nil {
		c.trackFailure()
		return nil, "", fmt.Errorf("speak error: %w", err)
	}

	data, mimeType, err = getResponseAudio(resp)
	if err != nil {
		c.trackFailure()
		return nil, "", err
	}
	c.trackSuccess()
	return data, mimeType, nil
}
