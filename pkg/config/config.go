// Package config loads the assistant configuration from an optional YAML
// file, a .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hhconstruction/hh-assistant/pkg/orchestrator"
)

// LogLevel is one of debug, info, warn or error.
type LogLevel string

func (l LogLevel) IsValid() bool {
	switch l {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// Slog maps the level to its slog equivalent. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type Config struct {
	Gemini  GeminiConfig  `yaml:"gemini"`
	Audio   AudioConfig   `yaml:"audio"`
	Booking BookingConfig `yaml:"booking"`
	Log     LogConfig     `yaml:"log"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
	BaseURL string `yaml:"base_url"`
}

type AudioConfig struct {
	InputSampleRate     int     `yaml:"input_sample_rate"`
	OutputSampleRate    int     `yaml:"output_sample_rate"`
	FrameSize           int     `yaml:"frame_size"`
	PrimeSilenceSamples int     `yaml:"prime_silence_samples"`
	EchoGuardThreshold  float64 `yaml:"echo_guard_threshold"`
}

type BookingConfig struct {
	DatabaseURL string `yaml:"database_url"`
	NotifyURL   string `yaml:"notify_url"`
	NotifyToken string `yaml:"notify_token"`
}

type LogConfig struct {
	Level LogLevel `yaml:"level"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	def := orchestrator.DefaultConfig()
	return &Config{
		Gemini: GeminiConfig{
			Model: def.Model,
			Voice: def.Voice,
		},
		Audio: AudioConfig{
			InputSampleRate:     def.InputSampleRate,
			OutputSampleRate:    def.OutputSampleRate,
			FrameSize:           def.FrameSize,
			PrimeSilenceSamples: def.PrimeSilenceSamples,
		},
		Log: LogConfig{Level: "info"},
	}
}

// apiKeyVars are checked in order; the first non-empty one wins.
var apiKeyVars = []string{"GEMINI_API_KEY", "VITE_GEMINI_API_KEY", "API_KEY"}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used. envFile is loaded into the process
// environment when present; a missing envFile is not an error. A missing API
// key is not an error either: the session controller reports it on start.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %q: %w", envFile, err)
		}
	}
	ApplyEnv(cfg, os.Getenv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates it.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment variables read through getenv onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	for _, name := range apiKeyVars {
		if v := getenv(name); v != "" {
			cfg.Gemini.APIKey = v
			break
		}
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Booking.DatabaseURL = v
	}
	if v := getenv("BOOKING_NOTIFY_URL"); v != "" {
		cfg.Booking.NotifyURL = v
	}
	if v := getenv("BOOKING_NOTIFY_TOKEN"); v != "" {
		cfg.Booking.NotifyToken = v
	}
	if v := getenv("HH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = LogLevel(v)
	}
}

// Validate returns a joined error listing every invalid value.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Audio.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate must not be negative"))
	}
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate must not be negative"))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size must not be negative"))
	}
	if cfg.Audio.EchoGuardThreshold < 0 || cfg.Audio.EchoGuardThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.echo_guard_threshold must be within [0, 1]"))
	}
	if cfg.Booking.NotifyURL != "" && cfg.Booking.DatabaseURL == "" {
		slog.Warn("booking.notify_url is set without a database; bookings cannot be submitted")
	}
	return errors.Join(errs...)
}

// Orchestrator converts cfg into the session controller configuration.
func (c *Config) Orchestrator() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.APIKey = c.Gemini.APIKey
	if c.Gemini.Model != "" {
		oc.Model = c.Gemini.Model
	}
	if c.Gemini.Voice != "" {
		oc.Voice = c.Gemini.Voice
	}
	if c.Audio.InputSampleRate > 0 {
		oc.InputSampleRate = c.Audio.InputSampleRate
	}
	if c.Audio.OutputSampleRate > 0 {
		oc.OutputSampleRate = c.Audio.OutputSampleRate
	}
	if c.Audio.FrameSize > 0 {
		oc.FrameSize = c.Audio.FrameSize
	}
	oc.PrimeSilenceSamples = c.Audio.PrimeSilenceSamples
	oc.EchoGuardThreshold = c.Audio.EchoGuardThreshold
	return oc
}
