package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/micdrop/pitchcoach/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePulse BackendType = "pulse"
	BackendTypeALSA  BackendType = "alsa"
)

// Source is a capture device known to the backend.
type Source struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default"`
}

// AudioBackend lists capture sources and names the ffmpeg input format for them.
type AudioBackend interface {
	ListSources(ctx context.Context) ([]Source, error)
	ValidateSource(ctx context.Context, source string) error
	// InputFormat is the ffmpeg -f value.
	InputFormat() string
	GetType() BackendType
}

// NewBackend returns the backend named in the capture configuration.
func NewBackend(name string) (AudioBackend, error) {
	switch BackendType(strings.ToLower(name)) {
	case BackendTypePulse, "":
		return &PulseBackend{}, nil
	case BackendTypeALSA:
		return &ALSABackend{}, nil
	}
	return nil, fmt.Errorf("unsupported audio backend: %s", name)
}

// NewRecorder creates a recorder using the backend from configuration
func NewRecorder(cfg config.CaptureConfig) (Recorder, error) {
	backend, err := NewBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return NewFFmpegRecorder(cfg, backend), nil
}

// GetAvailableBackends returns list of supported backends
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypePulse, BackendTypeALSA}
}
