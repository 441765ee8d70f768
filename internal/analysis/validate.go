package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/micdrop/pitchcoach/internal/audio"
)

const bytesPerMB = 1024 * 1024

// Limits bounds the accepted sample size.
type Limits struct {
	MaxBytes int64
	MinBytes int64
}

// DefaultLimits returns 50 MB / 1 KB.
func DefaultLimits() Limits {
	return Limits{MaxBytes: 50 * bytesPerMB, MinBytes: 1024}
}

// Info describes a sample for display whether or not it passed.
type Info struct {
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"size_mb"`
	MIMEType  string  `json:"mime_type"`
	Seconds   float64 `json:"seconds"`
}

// ValidationResult is the outcome of Validate. Err is nil when Valid.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Err   *Error `json:"error,omitempty"`
	Info  Info   `json:"info"`
}

// Validate checks type and size bounds. It performs no I/O.
func Validate(s audio.Sample, lim Limits) ValidationResult {
	if lim.MaxBytes <= 0 {
		lim.MaxBytes = DefaultLimits().MaxBytes
	}
	if lim.MinBytes < 0 {
		lim.MinBytes = 0
	}

	size := s.Size()
	res := ValidationResult{
		Info: Info{
			SizeBytes: size,
			SizeMB:    math.Round(float64(size)/bytesPerMB*100) / 100,
			MIMEType:  s.MIMEType,
			Seconds:   s.Seconds(),
		},
	}

	switch {
	case !isAudioType(s.MIMEType):
		res.Err = validationError("Invalid file type. Please upload an audio file.")
	case size > lim.MaxBytes:
		res.Err = validationError(fmt.Sprintf("File too large (%dMB). Maximum size is %dMB.",
			int64(math.Round(float64(size)/bytesPerMB)), lim.MaxBytes/bytesPerMB))
	case size < lim.MinBytes:
		res.Err = validationError("Audio file too small. Please record at least 1 second of audio.")
	default:
		res.Valid = true
	}

	if res.Err != nil {
		res.Err.Details = fmt.Sprintf("size=%d bytes type=%q", size, s.MIMEType)
	}
	return res
}

func isAudioType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "audio/")
}
