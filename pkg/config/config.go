package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Request  RequestConfig  `yaml:"request"`
	TTS      TTSConfig      `yaml:"tts"`
	LLM      LLMConfig      `yaml:"llm"`
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Practice PracticeConfig `yaml:"practice"`
	Playback PlaybackConfig `yaml:"playback"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RequestConfig holds HTTP request settings for asset downloads.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// TTSConfig holds the two synthesis providers.
type TTSConfig struct {
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Gemini     GeminiTTSConfig  `yaml:"gemini"`
	// Backoff applies to the primary provider after a quota or server error.
	Backoff BackoffConfig `yaml:"backoff"`
}

// ElevenLabsConfig configures the primary provider.
type ElevenLabsConfig struct {
	Key             string            `yaml:"key"`
	BaseURL         string            `yaml:"base_url"`
	Model           string            `yaml:"model"`
	Stability       float64           `yaml:"stability"`
	SimilarityBoost float64           `yaml:"similarity_boost"`
	Voices          map[string]string `yaml:"voices"` // voice -> voice id
	DefaultVoice    string            `yaml:"default_voice"`
}

// GeminiTTSConfig configures the fallback provider.
type GeminiTTSConfig struct {
	Model        string            `yaml:"model"`
	Voices       map[string]string `yaml:"voices"` // voice -> prebuilt voice name
	DefaultVoice string            `yaml:"default_voice"`
}

// LLMConfig holds settings for the remote model used for scoring and fallback speech.
type LLMConfig struct {
	Key          string `yaml:"key"`
	BaseURL      string `yaml:"base_url"`
	ScoringModel string `yaml:"scoring_model"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	Gemini   LogSettings `yaml:"gemini"`
	TTS      LogSettings `yaml:"tts"`
}

// LogSettings holds the path and level of one log file.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds web server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// AudioConfig selects where decoded clips are played.
type AudioConfig struct {
	Output string  `yaml:"output"` // "client", "speaker"
	Volume float64 `yaml:"volume"`
}

// PracticeConfig holds pronunciation practice settings.
type PracticeConfig struct {
	MaxDuration         Duration `yaml:"max_duration"`
	SampleRate          int      `yaml:"sample_rate"`
	PlaceholderDelay    Duration `yaml:"placeholder_delay"`
	SaveThresholdStory  int      `yaml:"save_threshold_story"`
	SaveThresholdReview int      `yaml:"save_threshold_review"`
}

// PlaybackConfig holds controller settings.
type PlaybackConfig struct {
	PrefetchDelay Duration `yaml:"prefetch_delay"`
	WarmWorkers   int      `yaml:"warm_workers"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(60 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		TTS: TTSConfig{
			ElevenLabs: ElevenLabsConfig{
				BaseURL:         "https://api.elevenlabs.io",
				Model:           "eleven_multilingual_v2",
				Stability:       0.5,
				SimilarityBoost: 0.75,
				Voices: map[string]string{
					"narrator":    "8aWr4MmiJYTPqhODqj5L",
					"protagonist": "8aWr4MmiJYTPqhODqj5L",
					"sidekick":    "gj5M8XYW9Z1xWW9Ydp9x",
				},
				DefaultVoice: "8aWr4MmiJYTPqhODqj5L",
			},
			Gemini: GeminiTTSConfig{
				Model: "gemini-2.5-flash-preview-tts",
				Voices: map[string]string{
					"narrator":    "Fenrir",
					"protagonist": "Puck",
					"sidekick":    "Charon",
				},
				DefaultVoice: "Puck",
			},
			Backoff: BackoffConfig{
				BaseDelay: Duration(30 * time.Second),
				MaxDelay:  Duration(10 * time.Minute),
			},
		},
		LLM: LLMConfig{
			ScoringModel: "gemini-3-flash-preview",
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
			Gemini: LogSettings{
				Path:  "./logs/gemini.log",
				Level: "INFO",
			},
			TTS: LogSettings{
				Path:  "./logs/tts.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/slowburn.db",
		},
		Server: ServerConfig{
			Address: "localhost:1947",
		},
		Audio: AudioConfig{
			Output: "client",
			Volume: 1.0,
		},
		Practice: PracticeConfig{
			MaxDuration:         Duration(15 * time.Second),
			SampleRate:          16000,
			PlaceholderDelay:    Duration(1500 * time.Millisecond),
			SaveThresholdStory:  80,
			SaveThresholdReview: 60,
		},
		Playback: PlaybackConfig{
			PrefetchDelay: Duration(500 * time.Millisecond),
			WarmWorkers:   3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads the config at path, creating it with defaults when missing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Keys from the environment are never written back to disk.
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if cfg.TTS.ElevenLabs.Key == "" {
		cfg.TTS.ElevenLabs.Key = os.Getenv("ELEVENLABS_API_KEY")
	}
	if cfg.LLM.Key == "" {
		cfg.LLM.Key = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Audio.Output {
	case "client", "speaker":
	default:
		return fmt.Errorf("invalid audio.output '%s': must be 'client' or 'speaker'", c.Audio.Output)
	}
	for name, v := range map[string]int{
		"practice.save_threshold_story":  c.Practice.SaveThresholdStory,
		"practice.save_threshold_review": c.Practice.SaveThresholdReview,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("invalid %s %d: must be within 0-100", name, v)
		}
	}
	if c.Practice.SampleRate <= 0 {
		return fmt.Errorf("invalid practice.sample_rate %d", c.Practice.SampleRate)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Slowburn Configuration
# ----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# API keys may be left empty and supplied via ELEVENLABS_API_KEY / GEMINI_API_KEY.

`)
	data = append(header, data...)

	reOutput := regexp.MustCompile(`(?m)^(\s+)output:`)
	data = reOutput.ReplaceAll(data, []byte("${1}# Options: client (browser plays /api/playback/current.wav), speaker\n${1}output:"))

	reReview := regexp.MustCompile(`(?m)^(\s+)save_threshold_review:`)
	data = reReview.ReplaceAll(data, []byte("${1}# Vocabulary review saves a phrase above this score\n${1}save_threshold_review:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return Save(path, DefaultConfig())
}
