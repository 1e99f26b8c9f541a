// Package story loads the episode script and answers questions about its
// structure.
package story

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"slowburn/pkg/model"
	"slowburn/pkg/speech"
	"slowburn/pkg/tts"
)

//go:embed episode_one.yaml
var episodeOne []byte

// EpisodeOne returns the built-in first episode.
func EpisodeOne() (*model.Episode, error) {
	return Parse(episodeOne)
}

// Parse decodes and validates an episode script.
func Parse(data []byte) (*model.Episode, error) {
	var ep model.Episode
	if err := yaml.Unmarshal(data, &ep); err != nil {
		return nil, fmt.Errorf("failed to parse episode: %w", err)
	}
	if err := Validate(&ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// Validate checks that every scene has lines, every role is known and line
// ids are unique across the episode.
func Validate(ep *model.Episode) error {
	if len(ep.Story) == 0 {
		return fmt.Errorf("episode %q has no story scenes", ep.ID)
	}
	seen := make(map[string]string)
	for _, sc := range Scenes(ep) {
		if sc.ID == "" {
			return fmt.Errorf("episode %q: scene without id", ep.ID)
		}
		if len(sc.Script) == 0 {
			return fmt.Errorf("scene %q has no lines", sc.ID)
		}
		for _, l := range sc.Script {
			if l.ID == "" || l.Spanish == "" {
				return fmt.Errorf("scene %q: line needs an id and spanish text", sc.ID)
			}
			switch l.Role {
			case model.RoleNarrator, model.RoleCarmen, model.RoleMateo:
			default:
				return fmt.Errorf("line %q: unknown role %q", l.ID, l.Role)
			}
			if prev, dup := seen[l.ID]; dup {
				return fmt.Errorf("line %q appears in %q and %q", l.ID, prev, sc.ID)
			}
			seen[l.ID] = sc.ID
		}
	}
	return nil
}

// Scenes returns the story scenes followed by the insight and vocabulary scenes.
func Scenes(ep *model.Episode) []model.Scene {
	out := make([]model.Scene, 0, len(ep.Story)+2)
	out = append(out, ep.Story...)
	if len(ep.CulturalInsight.Script) > 0 {
		out = append(out, ep.CulturalInsight)
	}
	if len(ep.Vocabulary.Script) > 0 {
		out = append(out, ep.Vocabulary)
	}
	return out
}

// SectionScenes returns the scenes a section steps through. MENU has none.
func SectionScenes(ep *model.Episode, s model.Section) []model.Scene {
	switch s {
	case model.SectionStory:
		return ep.Story
	case model.SectionInsight:
		return []model.Scene{ep.CulturalInsight}
	case model.SectionVocab:
		return []model.Scene{ep.Vocabulary}
	default:
		return nil
	}
}

// FindScene looks a scene up by id.
func FindScene(ep *model.Episode, id string) (model.Scene, bool) {
	for _, sc := range Scenes(ep) {
		if sc.ID == id {
			return sc, true
		}
	}
	return model.Scene{}, false
}

// FindLine looks a line up by id.
func FindLine(ep *model.Episode, id string) (model.DialogueLine, bool) {
	for _, sc := range Scenes(ep) {
		for _, l := range sc.Script {
			if l.ID == id {
				return l, true
			}
		}
	}
	return model.DialogueLine{}, false
}

// Utterance builds the synthesis request for a line.
func Utterance(l model.DialogueLine) speech.Utterance {
	v := tts.VoiceForRole(l.Role)
	return speech.Utterance{
		Text:     l.Spanish,
		Voice:    v,
		CacheKey: speech.CacheKey(l.ID, v),
	}
}

// Utterances returns one request per line of the episode, in script order.
func Utterances(ep *model.Episode) []speech.Utterance {
	var out []speech.Utterance
	for _, sc := range Scenes(ep) {
		for _, l := range sc.Script {
			out = append(out, Utterance(l))
		}
	}
	return out
}
