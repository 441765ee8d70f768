package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PITCHCOACH"

type BackendConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0s"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout" validate:"gt=0s"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute" validate:"gte=0"`
}

type AnalysisConfig struct {
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=1,lte=10"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0s"`
	MaxFileSizeMB    int64         `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb" validate:"gte=1"`
	MinFileSizeBytes int64         `mapstructure:"min_file_size_bytes" yaml:"min_file_size_bytes" validate:"gte=0"`
	HistorySize      int           `mapstructure:"history_size" yaml:"history_size" validate:"gte=1,lte=1000"`
	FreeAttempts     int           `mapstructure:"free_attempts" yaml:"free_attempts" validate:"gte=0"`
}

type CaptureConfig struct {
	Backend         string        `mapstructure:"backend" yaml:"backend" validate:"oneof=pulse alsa"`
	Source          string        `mapstructure:"source" yaml:"source" validate:"required"`
	Format          string        `mapstructure:"format" yaml:"format" validate:"oneof=webm ogg"`
	SampleRate      int           `mapstructure:"sample_rate" yaml:"sample_rate" validate:"oneof=16000 22050 44100 48000"`
	Channels        int           `mapstructure:"channels" yaml:"channels" validate:"oneof=1 2"`
	OutputDirectory string        `mapstructure:"output_directory" yaml:"output_directory" validate:"required"`
	MinDuration     time.Duration `mapstructure:"min_duration" yaml:"min_duration" validate:"gte=0s"`
}

type StorageConfig struct {
	Database string `mapstructure:"database" yaml:"database" validate:"required"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host" validate:"required"`
	Port int    `mapstructure:"port" yaml:"port" validate:"gte=1,lte=65535"`
}

// Config is the resolved configuration after profile selection.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend" yaml:"backend"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`

	// Name of the applied profile, empty for the base configuration
	Profile string `mapstructure:"-" yaml:"profile,omitempty"`

	// Per-key origin ("inherited" or "profile-specific") for the info command
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

// ProfileConfig overrides backend and retry settings. Zero values inherit.
type ProfileConfig struct {
	Backend  BackendConfig  `mapstructure:"backend" yaml:"backend,omitempty"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis,omitempty"`
}

// RootConfig is the on-disk layout.
type RootConfig struct {
	ActiveProfile string                    `mapstructure:"active_profile" yaml:"active_profile,omitempty"`
	Config        `mapstructure:",squash" yaml:",inline"`
	Profiles      map[string]*ProfileConfig `mapstructure:"profiles" yaml:"profiles,omitempty"`
}

var defaultConfig = Config{
	Backend: BackendConfig{
		BaseURL:      "http://localhost:8000",
		Timeout:      60 * time.Second,
		ProbeTimeout: 5 * time.Second,
	},
	Analysis: AnalysisConfig{
		MaxRetries:       3,
		RetryDelay:       2 * time.Second,
		MaxFileSizeMB:    50,
		MinFileSizeBytes: 1024,
		HistorySize:      10,
		FreeAttempts:     3,
	},
	Capture: CaptureConfig{
		Backend:         "pulse",
		Source:          "default",
		Format:          "webm",
		SampleRate:      48000,
		Channels:        1,
		OutputDirectory: filepath.Join("~", "Audio", "Pitches"),
		MinDuration:     time.Second,
	},
	Storage: StorageConfig{
		Database: filepath.Join("~", ".local", "share", "pitchcoach", "sessions.db"),
	},
	Server: ServerConfig{
		Host: "127.0.0.1",
		Port: 8080,
	},
}

// Default returns a copy of the built-in configuration with paths expanded.
func Default() *Config {
	cfg := defaultConfig
	cfg.Capture.OutputDirectory = expandPath(cfg.Capture.OutputDirectory)
	cfg.Storage.Database = expandPath(cfg.Storage.Database)
	return &cfg
}

// DefaultPath returns ~/.config/pitchcoach/config.yaml.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "pitchcoach", "config.yaml")
}

// LoadWithProfile reads configFile (missing files fall back to defaults),
// applies PITCHCOACH_* environment overrides and the selected profile.
// An empty profile uses active_profile from the file.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
			slog.Debug("Config file loaded", "file", configFile)
		} else if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, using defaults", "file", configFile)
		} else {
			return nil, fmt.Errorf("error accessing config file %s: %w", configFile, err)
		}
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	name := profile
	if name == "" {
		name = root.ActiveProfile
	}

	cfg := root.Config
	if name != "" {
		selected, ok := root.Profiles[name]
		if !ok || selected == nil {
			return nil, fmt.Errorf("configuration profile '%s' not found", name)
		}
		cfg = *applyProfile(&root.Config, selected)
		cfg.Profile = name
	} else {
		cfg.Inheritance = inheritAll()
	}

	cfg.Capture.OutputDirectory = expandPath(cfg.Capture.OutputDirectory)
	cfg.Storage.Database = expandPath(cfg.Storage.Database)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig
	v.SetDefault("active_profile", "")
	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("backend.probe_timeout", d.Backend.ProbeTimeout)
	v.SetDefault("backend.requests_per_minute", d.Backend.RequestsPerMinute)
	v.SetDefault("analysis.max_retries", d.Analysis.MaxRetries)
	v.SetDefault("analysis.retry_delay", d.Analysis.RetryDelay)
	v.SetDefault("analysis.max_file_size_mb", d.Analysis.MaxFileSizeMB)
	v.SetDefault("analysis.min_file_size_bytes", d.Analysis.MinFileSizeBytes)
	v.SetDefault("analysis.history_size", d.Analysis.HistorySize)
	v.SetDefault("analysis.free_attempts", d.Analysis.FreeAttempts)
	v.SetDefault("capture.backend", d.Capture.Backend)
	v.SetDefault("capture.source", d.Capture.Source)
	v.SetDefault("capture.format", d.Capture.Format)
	v.SetDefault("capture.sample_rate", d.Capture.SampleRate)
	v.SetDefault("capture.channels", d.Capture.Channels)
	v.SetDefault("capture.output_directory", d.Capture.OutputDirectory)
	v.SetDefault("capture.min_duration", d.Capture.MinDuration)
	v.SetDefault("storage.database", d.Storage.Database)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
}

// profileKeys are the settings a profile may override.
var profileKeys = []string{
	"backend.base_url",
	"backend.timeout",
	"backend.probe_timeout",
	"backend.requests_per_minute",
	"analysis.max_retries",
	"analysis.retry_delay",
}

func inheritAll() map[string]string {
	m := make(map[string]string, len(profileKeys))
	for _, k := range profileKeys {
		m[k] = "inherited"
	}
	return m
}

// applyProfile overlays non-zero profile values on base.
func applyProfile(base *Config, p *ProfileConfig) *Config {
	result := *base
	result.Inheritance = inheritAll()

	override := func(key string, set bool, apply func()) {
		if set {
			apply()
			result.Inheritance[key] = "profile-specific"
		}
	}

	override("backend.base_url", p.Backend.BaseURL != "", func() { result.Backend.BaseURL = p.Backend.BaseURL })
	override("backend.timeout", p.Backend.Timeout > 0, func() { result.Backend.Timeout = p.Backend.Timeout })
	override("backend.probe_timeout", p.Backend.ProbeTimeout > 0, func() { result.Backend.ProbeTimeout = p.Backend.ProbeTimeout })
	override("backend.requests_per_minute", p.Backend.RequestsPerMinute > 0, func() { result.Backend.RequestsPerMinute = p.Backend.RequestsPerMinute })
	override("analysis.max_retries", p.Analysis.MaxRetries > 0, func() { result.Analysis.MaxRetries = p.Analysis.MaxRetries })
	override("analysis.retry_delay", p.Analysis.RetryDelay > 0, func() { result.Analysis.RetryDelay = p.Analysis.RetryDelay })

	return &result
}

// Validate checks struct tags and cross-field constraints.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				rule := fe.Tag()
				if fe.Param() != "" {
					rule += "=" + fe.Param()
				}
				msgs = append(msgs, fmt.Sprintf("%s fails '%s' (got %v)", fe.Namespace(), rule, fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Analysis.MinFileSizeBytes >= cfg.Analysis.MaxFileSizeMB*1024*1024 {
		return fmt.Errorf("analysis.min_file_size_bytes (%d) must be below analysis.max_file_size_mb (%dMB)",
			cfg.Analysis.MinFileSizeBytes, cfg.Analysis.MaxFileSizeMB)
	}
	return nil
}

// ProfileNames lists the profiles defined in configFile.
func ProfileNames(configFile string) ([]string, string, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, "", fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}
	names := make([]string, 0, len(root.Profiles))
	for name := range root.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, root.ActiveProfile, nil
}

// UpdateActiveProfile rewrites active_profile in the config file.
func UpdateActiveProfile(configFile, name string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	names, _, err := ProfileNames(configFile)
	if err != nil {
		return err
	}
	if name != "" && !slices.Contains(names, name) {
		return fmt.Errorf("configuration profile '%s' not found", name)
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	v.Set("active_profile", name)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// WriteDefault writes the built-in configuration as YAML. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	root := RootConfig{Config: defaultConfig}
	out, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}
	return nil
}

func expandPath(path string) string {
	if path == "~" {
		return os.Getenv("HOME")
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(os.Getenv("HOME"), path[2:])
	}
	return os.ExpandEnv(path)
}
