package model

import (
	"time"
)

// Role identifies who speaks a dialogue line.
type Role string

const (
	RoleNarrator Role = "narrator"
	RoleCarmen   Role = "carmen" // The learner
	RoleMateo    Role = "mateo"
)

// DialogueLine is one line of the script.
type DialogueLine struct {
	ID      string `json:"id" yaml:"id"`
	Role    Role   `json:"role" yaml:"role"`
	Spanish string `json:"spanish" yaml:"spanish"`
	English string `json:"english" yaml:"english"`
}

// Scene groups lines under a location with its artwork.
type Scene struct {
	ID       string         `json:"id" yaml:"id"`
	Title    string         `json:"title" yaml:"title"`
	Location string         `json:"location" yaml:"location"`
	Ambience string         `json:"ambience,omitempty" yaml:"ambience"` // URL of background audio
	Images   []string       `json:"images" yaml:"images"`
	Script   []DialogueLine `json:"script" yaml:"script"`
}

// Episode is a complete story unit.
type Episode struct {
	ID              string  `json:"id" yaml:"id"`
	Title           string  `json:"title" yaml:"title"`
	Cover           string  `json:"cover" yaml:"cover"`
	Story           []Scene `json:"story" yaml:"story"`
	CulturalInsight Scene   `json:"cultural_insight" yaml:"cultural_insight"`
	Vocabulary      Scene   `json:"vocabulary" yaml:"vocabulary"`
}

// Section is the part of the journal the learner is in.
type Section string

const (
	SectionStory   Section = "STORY"
	SectionMenu    Section = "MENU"
	SectionInsight Section = "INSIGHT"
	SectionVocab   Section = "VOCAB"
)

// AppState is the interaction state shared by playback and practice.
type AppState string

const (
	StateIdle         AppState = "IDLE"
	StatePlayingAudio AppState = "PLAYING_AUDIO"
	StateRecording    AppState = "RECORDING"
	StateAnalyzing    AppState = "ANALYZING"
)

// Feedback is the scored result of one pronunciation attempt.
type Feedback struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
	Tips     string `json:"tips"`

	// Placeholder marks a result produced without the remote scorer.
	Placeholder bool `json:"placeholder,omitempty"`
}

// DictionaryEntry is a phrase the learner has mastered.
type DictionaryEntry struct {
	Spanish   string `json:"spanish"`
	English   string `json:"english"`
	DateAdded int64  `json:"dateAdded"` // unix millis
}

// LineScore is the practice history of one line.
type LineScore struct {
	LineID    string    `json:"line_id"`
	Best      int       `json:"best"`
	Last      int       `json:"last"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}
