package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "pitchcoach-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}

func TestLoadWithProfile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithProfile(filepath.Join(t.TempDir(), "absent.yaml"), "")
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}

	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("Expected default base URL, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 60*time.Second {
		t.Errorf("Expected 60s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Backend.ProbeTimeout != 5*time.Second {
		t.Errorf("Expected 5s probe timeout, got %v", cfg.Backend.ProbeTimeout)
	}
	if cfg.Analysis.MaxRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", cfg.Analysis.MaxRetries)
	}
	if cfg.Analysis.RetryDelay != 2*time.Second {
		t.Errorf("Expected 2s retry delay, got %v", cfg.Analysis.RetryDelay)
	}
	if cfg.Analysis.MaxFileSizeMB != 50 || cfg.Analysis.MinFileSizeBytes != 1024 {
		t.Errorf("Unexpected size limits: %+v", cfg.Analysis)
	}
	if cfg.Analysis.HistorySize != 10 {
		t.Errorf("Expected history size 10, got %d", cfg.Analysis.HistorySize)
	}
	if strings.HasPrefix(cfg.Storage.Database, "~") {
		t.Errorf("Expected expanded database path, got %s", cfg.Storage.Database)
	}
	if cfg.Profile != "" {
		t.Errorf("Expected no profile, got %s", cfg.Profile)
	}
	if cfg.Inheritance["backend.base_url"] != "inherited" {
		t.Errorf("Expected base_url to be inherited, got %s", cfg.Inheritance["backend.base_url"])
	}
}

func TestLoadWithProfile_FileValues(t *testing.T) {
	configFile := createTempConfig(t, `
backend:
  base_url: https://pitch.example.com
  timeout: 30s
  requests_per_minute: 12
analysis:
  max_retries: 5
  retry_delay: 500ms
capture:
  source: alsa_input.usb-mic
  sample_rate: 44100
  output_directory: /tmp/pitches
server:
  port: 9090
`)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Backend.BaseURL != "https://pitch.example.com" {
		t.Errorf("Expected base URL from file, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Backend.ProbeTimeout != 5*time.Second {
		t.Errorf("Expected default probe timeout to survive partial section, got %v", cfg.Backend.ProbeTimeout)
	}
	if cfg.Backend.RequestsPerMinute != 12 {
		t.Errorf("Expected 12 requests per minute, got %d", cfg.Backend.RequestsPerMinute)
	}
	if cfg.Analysis.MaxRetries != 5 || cfg.Analysis.RetryDelay != 500*time.Millisecond {
		t.Errorf("Unexpected analysis section: %+v", cfg.Analysis)
	}
	if cfg.Capture.Source != "alsa_input.usb-mic" || cfg.Capture.SampleRate != 44100 {
		t.Errorf("Unexpected capture section: %+v", cfg.Capture)
	}
	if cfg.Capture.Format != "webm" {
		t.Errorf("Expected default format webm, got %s", cfg.Capture.Format)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
}

func TestLoadWithProfile_EnvironmentOverride(t *testing.T) {
	t.Setenv("PITCHCOACH_BACKEND_BASE_URL", "http://10.0.0.5:8000")
	t.Setenv("PITCHCOACH_ANALYSIS_MAX_RETRIES", "7")

	configFile := createTempConfig(t, `
backend:
  base_url: https://pitch.example.com
`)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Backend.BaseURL != "http://10.0.0.5:8000" {
		t.Errorf("Expected env base URL, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Analysis.MaxRetries != 7 {
		t.Errorf("Expected env max retries 7, got %d", cfg.Analysis.MaxRetries)
	}
}

const profilesConfig = `
active_profile: local
backend:
  base_url: https://pitch.example.com
  timeout: 45s
analysis:
  max_retries: 3
profiles:
  local:
    backend:
      base_url: http://localhost:8000
  flaky:
    backend:
      timeout: 2m
    analysis:
      max_retries: 6
      retry_delay: 5s
`

func TestLoadWithProfile_ActiveProfile(t *testing.T) {
	configFile := createTempConfig(t, profilesConfig)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Profile != "local" {
		t.Errorf("Expected active profile 'local', got %s", cfg.Profile)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("Expected profile base URL, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 45*time.Second {
		t.Errorf("Expected inherited 45s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Inheritance["backend.base_url"] != "profile-specific" {
		t.Errorf("Expected base_url to be profile-specific, got %s", cfg.Inheritance["backend.base_url"])
	}
	if cfg.Inheritance["backend.timeout"] != "inherited" {
		t.Errorf("Expected timeout to be inherited, got %s", cfg.Inheritance["backend.timeout"])
	}
}

func TestLoadWithProfile_ExplicitProfileWins(t *testing.T) {
	configFile := createTempConfig(t, profilesConfig)

	cfg, err := LoadWithProfile(configFile, "flaky")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Backend.BaseURL != "https://pitch.example.com" {
		t.Errorf("Expected inherited base URL, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 2*time.Minute {
		t.Errorf("Expected 2m timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Analysis.MaxRetries != 6 || cfg.Analysis.RetryDelay != 5*time.Second {
		t.Errorf("Unexpected analysis section: %+v", cfg.Analysis)
	}
}

func TestLoadWithProfile_UnknownProfile(t *testing.T) {
	configFile := createTempConfig(t, profilesConfig)

	_, err := LoadWithProfile(configFile, "staging")
	if err == nil {
		t.Fatal("Expected error for unknown profile")
	}
	if !strings.Contains(err.Error(), "configuration profile 'staging' not found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoadWithProfile_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad url", "backend:\n  base_url: not a url\n", "BaseURL"},
		{"zero retries", "analysis:\n  max_retries: 0\n", "MaxRetries"},
		{"bad sample rate", "capture:\n  sample_rate: 12345\n", "SampleRate"},
		{"bad port", "server:\n  port: 70000\n", "Port"},
		{"min above max", "analysis:\n  max_file_size_mb: 1\n  min_file_size_bytes: 2097152\n", "min_file_size_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, tt.content)
			_, err := LoadWithProfile(configFile, "")
			if err == nil {
				t.Fatalf("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got: %v", tt.want, err)
			}
		})
	}
}

func TestUpdateActiveProfile(t *testing.T) {
	configFile := createTempConfig(t, profilesConfig)

	if err := UpdateActiveProfile(configFile, "flaky"); err != nil {
		t.Fatalf("Failed to update active profile: %v", err)
	}

	names, active, err := ProfileNames(configFile)
	if err != nil {
		t.Fatalf("Failed to read profiles: %v", err)
	}
	if active != "flaky" {
		t.Errorf("Expected active profile 'flaky', got %s", active)
	}
	if strings.Join(names, ",") != "flaky,local" {
		t.Errorf("Unexpected profile names: %v", names)
	}

	if err := UpdateActiveProfile(configFile, "missing"); err == nil {
		t.Error("Expected error for unknown profile")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("Failed to write default config: %v", err)
	}

	cfg, err := LoadWithProfile(path, "")
	if err != nil {
		t.Fatalf("Failed to load written config: %v", err)
	}
	if cfg.Backend.Timeout != 60*time.Second || cfg.Analysis.MaxRetries != 3 {
		t.Errorf("Written config did not round-trip defaults: %+v", cfg.Backend)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("Expected error when file already exists")
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	if got := expandPath("~/pitches"); got != "/home/tester/pitches" {
		t.Errorf("Expected /home/tester/pitches, got %s", got)
	}
	if got := expandPath("~"); got != "/home/tester" {
		t.Errorf("Expected /home/tester, got %s", got)
	}
	if got := expandPath("/var/lib/pitch.db"); got != "/var/lib/pitch.db" {
		t.Errorf("Expected unchanged absolute path, got %s", got)
	}
}
