package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"slowburn/pkg/model"
)

const coachInstruction = `You are a helpful Spanish language coach named Carmen.
The user is a beginner learner playing the role of Carmen in a story.
Analyze the user's audio recording of the target Spanish phrase and compare it to the correct pronunciation.
Score it from 1 to 100, give one short encouraging sentence about what they did well or need to fix,
and one specific tip to improve (e.g. "Roll your Rs more").`

const analyzePrompt = `The user is trying to say the Spanish phrase: "%s".
Strictly analyze the audio provided.
1. If the audio is silence, noise, or english speaking, return a score of 0 and feedback "I didn't hear any Spanish."
2. If the pronunciation is wrong, give a low score (under 50).
3. If it is correct, give a high score.
Return JSON with score, feedback, and tips.`

var feedbackSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"score":    {Type: genai.TypeInteger, Description: "Pronunciation score from 0 to 100"},
		"feedback": {Type: genai.TypeString, Description: "Short feedback on the attempt"},
		"tips":     {Type: genai.TypeString, Description: "One concrete improvement tip"},
	},
	Required: []string{"score", "feedback", "tips"},
}

type feedbackResponse struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
	Tips     string `json:"tips"`
}

// Analyze asks the scoring model to judge a recorded attempt at target.
// The score is clamped to 0..100.
func (c *Client) Analyze(ctx context.Context, recording []byte, mimeType, target string) (*model.Feedback, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	if len(recording) == 0 {
		return nil, fmt.Errorf("empty recording")
	}

	c.mu.RLock()
	modelName := c.scoringModel
	c.mu.RUnlock()

	prompt := fmt.Sprintf(analyzePrompt, strings.TrimSpace(target))
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(recording, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(coachInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    feedbackSchema,
	}

	resp, err := client.Models.GenerateContent(ctx, modelName, contents, cfg)
	if err != nil {
		c.logPrompt("analyze", prompt, fmt.Sprintf("ERROR: %v", err))
		c.trackFailure()
		return nil, fmt.Errorf("analyze error: %w", err)
	}

	text, err := getResponseText(resp)
	if err != nil {
		c.logPrompt("analyze", prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.trackFailure()
		return nil, err
	}

	cleaned := cleanJSONBlock(text)
	c.logPrompt("analyze", prompt, cleaned)

	var fr feedbackResponse
	if err := json.Unmarshal([]byte(cleaned), &fr); err != nil {
		c.trackFailure()
		return nil, fmt.Errorf("failed to unmarshal JSON response: %w. Response: %s", err, cleaned)
	}

	c.trackSuccess()
	return &model.Feedback{
		Score:    min(max(fr.Score, 0), 100),
		Feedback: fr.Feedback,
		Tips:     fr.Tips,
	}, nil
}
