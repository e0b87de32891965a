package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Whisper  WhisperConfig  `yaml:"whisper"`
	Session  SessionConfig  `yaml:"session"`
	WakeWord WakeWordConfig `yaml:"wakeword"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AudioConfig contains microphone capture parameters
type AudioConfig struct {
	CaptureRate int     `yaml:"capture_rate"` // microphone sample rate (Hz)
	ModelRate   int     `yaml:"model_rate"`   // sample rate the model expects (Hz)
	Channels    int     `yaml:"channels"`
	MaxDuration float64 `yaml:"max_duration"` // hard recording cap, seconds
}

// VADConfig contains voice activity detection parameters
type VADConfig struct {
	SpeechThreshold   float64 `yaml:"speech_threshold"`    // frame RMS above this counts as speech
	MinSpeechDuration float64 `yaml:"min_speech_duration"` // dwell before speech is confirmed, seconds
	SilenceDuration   float64 `yaml:"silence_duration"`    // trailing silence that stops a recording, seconds
	TrimThreshold     float64 `yaml:"trim_threshold"`      // window RMS threshold used by silence trimming
}

// WhisperConfig contains model paths and decoding parameters
type WhisperConfig struct {
	ModelPath     string `yaml:"model_path"`      // accurate model (GGML file)
	FastModelPath string `yaml:"fast_model_path"` // optional smaller model for live previews
	Language      string `yaml:"language"`
	Threads       int    `yaml:"threads"`
}

// SessionConfig contains streaming dictation parameters
type SessionConfig struct {
	PollInterval    float64 `yaml:"poll_interval"`    // orchestrator tick, seconds
	DoneTimeout     float64 `yaml:"done_timeout"`     // silence that ends the session, seconds
	SegmentSilence  float64 `yaml:"segment_silence"`  // silence that closes a segment, seconds
	MinSegment      float64 `yaml:"min_segment"`      // shortest segment worth transcribing, seconds
	PartialInterval float64 `yaml:"partial_interval"` // minimum gap between partial decodes, seconds
	FinalizeGrace   float64 `yaml:"finalize_grace"`   // how long finalization waits for the accurate model, seconds
}

// WakeWordConfig contains wake phrase detection and training parameters
type WakeWordConfig struct {
	Phrases       []string `yaml:"phrases"`
	TemplatesDir  string   `yaml:"templates_dir"`
	Strategy      string   `yaml:"strategy"` // "lexical" or "template"
	Stride        float64  `yaml:"stride"`   // seconds between analysis cycles
	Cooldown      float64  `yaml:"cooldown"` // seconds to ignore audio after a detection
	MinWindow     float64  `yaml:"min_window"`
	EnergyFloor   float64  `yaml:"energy_floor"`   // windows quieter than this are skipped
	MatchDistance float64  `yaml:"match_distance"` // normalized edit distance tolerance
	TrainingTakes int      `yaml:"training_takes"` // prompted repetitions per phrase
}

// MetricsConfig contains the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration used when no file is given
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "kiri")

	return &Config{
		Audio: AudioConfig{
			CaptureRate: 48000,
			ModelRate:   16000,
			Channels:    1,
			MaxDuration: 120,
		},
		VAD: VADConfig{
			SpeechThreshold:   0.015,
			MinSpeechDuration: 0.5,
			SilenceDuration:   2.5,
			TrimThreshold:     0.01,
		},
		Whisper: WhisperConfig{
			ModelPath: filepath.Join(dataDir, "models", "ggml-medium.bin"),
			Language:  "en",
			Threads:   4,
		},
		Session: SessionConfig{
			PollInterval:    0.1,
			DoneTimeout:     5,
			SegmentSilence:  2.5,
			MinSegment:      1,
			PartialInterval: 1.5,
			FinalizeGrace:   10,
		},
		WakeWord: WakeWordConfig{
			Phrases:       []string{"hey kiri", "kiri", "koompi"},
			TemplatesDir:  filepath.Join(dataDir, "wakewords"),
			Strategy:      "lexical",
			Stride:        1.5,
			Cooldown:      5,
			MinWindow:     0.8,
			EnergyFloor:   0.02,
			MatchDistance: 0.35,
			TrainingTakes: 5,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9924",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file. Values not present in the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Whisper.Validate(); err != nil {
		return fmt.Errorf("whisper config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.WakeWord.Validate(); err != nil {
		return fmt.Errorf("wakeword config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.CaptureRate != 48000 {
		return fmt.Errorf("capture_rate must be 48000 Hz, got %d", a.CaptureRate)
	}

	if a.ModelRate != 16000 {
		return fmt.Errorf("model_rate must be 16000 Hz, got %d", a.ModelRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.MaxDuration <= 0 {
		return fmt.Errorf("max_duration must be positive, got %f", a.MaxDuration)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.SpeechThreshold <= 0 || v.SpeechThreshold > 1 {
		return fmt.Errorf("speech_threshold must be between 0 and 1, got %f", v.SpeechThreshold)
	}

	if v.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", v.MinSpeechDuration)
	}

	if v.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", v.SilenceDuration)
	}

	if v.TrimThreshold <= 0 || v.TrimThreshold > 1 {
		return fmt.Errorf("trim_threshold must be between 0 and 1, got %f", v.TrimThreshold)
	}

	return nil
}

// Validate validates whisper configuration
func (w *WhisperConfig) Validate() error {
	if w.ModelPath == "" {
		return fmt.Errorf("model_path cannot be empty")
	}

	if w.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if w.Threads < 0 {
		return fmt.Errorf("threads cannot be negative, got %d", w.Threads)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %f", s.PollInterval)
	}

	if s.SegmentSilence <= 0 {
		return fmt.Errorf("segment_silence must be positive, got %f", s.SegmentSilence)
	}

	if s.DoneTimeout < s.SegmentSilence {
		return fmt.Errorf("done_timeout (%f) must not be shorter than segment_silence (%f)",
			s.DoneTimeout, s.SegmentSilence)
	}

	if s.MinSegment <= 0 {
		return fmt.Errorf("min_segment must be positive, got %f", s.MinSegment)
	}

	if s.PartialInterval <= 0 {
		return fmt.Errorf("partial_interval must be positive, got %f", s.PartialInterval)
	}

	if s.FinalizeGrace < 0 {
		return fmt.Errorf("finalize_grace cannot be negative, got %f", s.FinalizeGrace)
	}

	return nil
}

// Validate validates wake word configuration
func (w *WakeWordConfig) Validate() error {
	if len(w.Phrases) == 0 {
		return fmt.Errorf("phrases cannot be empty")
	}

	for _, p := range w.Phrases {
		if p == "" {
			return fmt.Errorf("phrases cannot contain empty strings")
		}
	}

	if w.Strategy != "lexical" && w.Strategy != "template" {
		return fmt.Errorf("strategy must be 'lexical' or 'template', got '%s'", w.Strategy)
	}

	if w.Stride <= 0 {
		return fmt.Errorf("stride must be positive, got %f", w.Stride)
	}

	if w.Cooldown < 0 {
		return fmt.Errorf("cooldown cannot be negative, got %f", w.Cooldown)
	}

	if w.MinWindow <= 0 {
		return fmt.Errorf("min_window must be positive, got %f", w.MinWindow)
	}

	if w.EnergyFloor < 0 || w.EnergyFloor > 1 {
		return fmt.Errorf("energy_floor must be between 0 and 1, got %f", w.EnergyFloor)
	}

	if w.MatchDistance < 0 || w.MatchDistance > 1 {
		return fmt.Errorf("match_distance must be between 0 and 1, got %f", w.MatchDistance)
	}

	if w.TrainingTakes < 3 {
		return fmt.Errorf("training_takes must be at least 3, got %d", w.TrainingTakes)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetMaxDuration returns the recording cap as a time.Duration
func (a *AudioConfig) GetMaxDuration() time.Duration {
	return time.Duration(a.MaxDuration * float64(time.Second))
}

// GetMinSpeechDuration returns the speech dwell as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetSilenceDuration returns the recording stop silence as a time.Duration
func (v *VADConfig) GetSilenceDuration() time.Duration {
	return time.Duration(v.SilenceDuration * float64(time.Second))
}

// GetPollInterval returns the orchestrator tick as a time.Duration
func (s *SessionConfig) GetPollInterval() time.Duration {
	return time.Duration(s.PollInterval * float64(time.Second))
}

// GetDoneTimeout returns the session end silence as a time.Duration
func (s *SessionConfig) GetDoneTimeout() time.Duration {
	return time.Duration(s.DoneTimeout * float64(time.Second))
}

// GetSegmentSilence returns the segment boundary silence as a time.Duration
func (s *SessionConfig) GetSegmentSilence() time.Duration {
	return time.Duration(s.SegmentSilence * float64(time.Second))
}

// GetMinSegment returns the minimum segment length as a time.Duration
func (s *SessionConfig) GetMinSegment() time.Duration {
	return time.Duration(s.MinSegment * float64(time.Second))
}

// GetPartialInterval returns the partial decode gap as a time.Duration
func (s *SessionConfig) GetPartialInterval() time.Duration {
	return time.Duration(s.PartialInterval * float64(time.Second))
}

// GetFinalizeGrace returns the accurate model wait as a time.Duration
func (s *SessionConfig) GetFinalizeGrace() time.Duration {
	return time.Duration(s.FinalizeGrace * float64(time.Second))
}

// GetStride returns the wake word analysis interval as a time.Duration
func (w *WakeWordConfig) GetStride() time.Duration {
	return time.Duration(w.Stride * float64(time.Second))
}

// GetCooldown returns the post-detection cooldown as a time.Duration
func (w *WakeWordConfig) GetCooldown() time.Duration {
	return time.Duration(w.Cooldown * float64(time.Second))
}

// GetMinWindow returns the minimum analysis window as a time.Duration
func (w *WakeWordConfig) GetMinWindow() time.Duration {
	return time.Duration(w.MinWindow * float64(time.Second))
}
