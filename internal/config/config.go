package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "WAKELOG"

// Config stores runtime configuration for the listening loop and its hosts.
type Config struct {
	Deepgram DeepgramConfig `mapstructure:"deepgram"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Wake     WakeConfig     `mapstructure:"wake"`
	History  HistoryConfig  `mapstructure:"history"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type DeepgramConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	APIBaseURL    string        `mapstructure:"api_base"`
	Model         string        `mapstructure:"model"`
	Language      string        `mapstructure:"language"`
	SmartFormat   bool          `mapstructure:"smart_format"`
	ChunkSize     int           `mapstructure:"chunk_size"`
	SpeechTimeout time.Duration `mapstructure:"speech_timeout"`
}

type AudioConfig struct {
	RecorderCommand string `mapstructure:"recorder_command"`
	InputFormat     string `mapstructure:"input_format"`
	InputDevice     string `mapstructure:"input_device"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Channels        int    `mapstructure:"channels"`
}

// ProbeConfig is the format used to test whether the microphone can be acquired.
type ProbeConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
}

type WakeConfig struct {
	Phrase             string `mapstructure:"phrase"`
	RulesFile          string `mapstructure:"rules_file"`
	RuleIterationLimit int    `mapstructure:"rule_iteration_limit"`
}

type HistoryConfig struct {
	Path     string `mapstructure:"path"`
	Capacity int    `mapstructure:"capacity"`
}

type LoopConfig struct {
	Cooldown                time.Duration `mapstructure:"cooldown"`
	CompleteSilence         time.Duration `mapstructure:"complete_silence"`
	PossiblyCompleteSilence time.Duration `mapstructure:"possibly_complete_silence"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) Config {
	return Config{
		Deepgram: DeepgramConfig{
			APIBaseURL:    "https://api.deepgram.com/v1",
			Model:         "nova-2",
			SmartFormat:   true,
			ChunkSize:     4096,
			SpeechTimeout: 5 * time.Second,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
		},
		Probe: ProbeConfig{
			SampleRate: 44100,
			Channels:   1,
		},
		Wake: WakeConfig{
			Phrase:             "super duper",
			RulesFile:          filepath.Join(home, ".config", "wakelog", "substitutions.rules"),
			RuleIterationLimit: 30,
		},
		History: HistoryConfig{
			Path:     filepath.Join(home, ".local", "share", "wakelog", "history.db"),
			Capacity: 20,
		},
		Loop: LoopConfig{
			Cooldown:                500 * time.Millisecond,
			CompleteSilence:         2000 * time.Millisecond,
			PossiblyCompleteSilence: 2000 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file, a .env
// file and the environment, in increasing order of precedence.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	defaults := Default(home)
	v := viper.New()
	setDefaults(v, defaults)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindAliases(v)

	if path := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".config", "wakelog"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Wake.RulesFile = expandHome(cfg.Wake.RulesFile, home)
	cfg.History.Path = expandHome(cfg.History.Path, home)
	cfg.Logging.File = expandHome(cfg.Logging.File, home)
	applyFallbacks(&cfg, defaults)
	return cfg, nil
}

// loadDotEnv reads WAKELOG_ENV_FILE (default .env). A missing file is fine and
// variables already set in the environment win.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv(envPrefix + "_ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("deepgram.api_key", d.Deepgram.APIKey)
	v.SetDefault("deepgram.api_base", d.Deepgram.APIBaseURL)
	v.SetDefault("deepgram.model", d.Deepgram.Model)
	v.SetDefault("deepgram.language", d.Deepgram.Language)
	v.SetDefault("deepgram.smart_format", d.Deepgram.SmartFormat)
	v.SetDefault("deepgram.chunk_size", d.Deepgram.ChunkSize)
	v.SetDefault("deepgram.speech_timeout", d.Deepgram.SpeechTimeout)
	v.SetDefault("audio.recorder_command", d.Audio.RecorderCommand)
	v.SetDefault("audio.input_format", d.Audio.InputFormat)
	v.SetDefault("audio.input_device", d.Audio.InputDevice)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("probe.sample_rate", d.Probe.SampleRate)
	v.SetDefault("probe.channels", d.Probe.Channels)
	v.SetDefault("wake.phrase", d.Wake.Phrase)
	v.SetDefault("wake.rules_file", d.Wake.RulesFile)
	v.SetDefault("wake.rule_iteration_limit", d.Wake.RuleIterationLimit)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.capacity", d.History.Capacity)
	v.SetDefault("loop.cooldown", d.Loop.Cooldown)
	v.SetDefault("loop.complete_silence", d.Loop.CompleteSilence)
	v.SetDefault("loop.possibly_complete_silence", d.Loop.PossiblyCompleteSilence)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
}

// bindAliases keeps the provider's conventional variable names working.
func bindAliases(v *viper.Viper) {
	_ = v.BindEnv("deepgram.api_key", envPrefix+"_DEEPGRAM_API_KEY", "DEEPGRAM_API_KEY")
	_ = v.BindEnv("deepgram.api_base", envPrefix+"_DEEPGRAM_API_BASE", "DEEPGRAM_API_BASE")
	_ = v.BindEnv("deepgram.model", envPrefix+"_DEEPGRAM_MODEL", "DEEPGRAM_MODEL")
	_ = v.BindEnv("deepgram.language", envPrefix+"_DEEPGRAM_LANGUAGE", "DEEPGRAM_LANGUAGE")
	_ = v.BindEnv("audio.input_device", envPrefix+"_AUDIO_INPUT_DEVICE", "DEEPGRAM_PULSE_SOURCE")
}

func applyFallbacks(cfg *Config, d Config) {
	cfg.Deepgram.APIKey = strings.TrimSpace(cfg.Deepgram.APIKey)
	if strings.TrimSpace(cfg.Deepgram.APIBaseURL) == "" {
		cfg.Deepgram.APIBaseURL = d.Deepgram.APIBaseURL
	}
	if strings.TrimSpace(cfg.Deepgram.Model) == "" {
		cfg.Deepgram.Model = d.Deepgram.Model
	}
	if cfg.Deepgram.ChunkSize < 256 {
		cfg.Deepgram.ChunkSize = d.Deepgram.ChunkSize
	}
	if cfg.Deepgram.SpeechTimeout <= 0 {
		cfg.Deepgram.SpeechTimeout = d.Deepgram.SpeechTimeout
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = d.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = d.Audio.Channels
	}
	if cfg.Probe.SampleRate <= 0 {
		cfg.Probe.SampleRate = d.Probe.SampleRate
	}
	if cfg.Probe.Channels <= 0 {
		cfg.Probe.Channels = d.Probe.Channels
	}
	if strings.TrimSpace(cfg.Wake.Phrase) == "" {
		cfg.Wake.Phrase = d.Wake.Phrase
	}
	if cfg.Wake.RuleIterationLimit <= 0 {
		cfg.Wake.RuleIterationLimit = d.Wake.RuleIterationLimit
	}
	if cfg.History.Capacity <= 0 {
		cfg.History.Capacity = d.History.Capacity
	}
	if cfg.Loop.Cooldown <= 0 {
		cfg.Loop.Cooldown = d.Loop.Cooldown
	}
	if cfg.Loop.CompleteSilence <= 0 {
		cfg.Loop.CompleteSilence = d.Loop.CompleteSilence
	}
	if cfg.Loop.PossiblyCompleteSilence <= 0 {
		cfg.Loop.PossiblyCompleteSilence = d.Loop.PossiblyCompleteSilence
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = d.Logging.Level
	}
}

func expandHome(path string, home string) string {
	path = strings.TrimSpace(path)
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
