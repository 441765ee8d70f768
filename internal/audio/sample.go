package audio

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// DefaultMIMEType is what the recorder produces and what unknown uploads fall back to.
const DefaultMIMEType = "audio/webm"

// Sample is a finalized audio capture. It is never mutated after creation.
type Sample struct {
	ID         string        `json:"id"`
	Data       []byte        `json:"-"`
	MIMEType   string        `json:"mime_type"`
	Duration   time.Duration `json:"duration"`
	CapturedAt time.Time     `json:"captured_at"`
	Source     string        `json:"source,omitempty"`
}

// NewSample wraps raw bytes. An empty mime type is sniffed from the data.
func NewSample(data []byte, mimeType string, duration time.Duration) Sample {
	if mimeType == "" {
		mimeType = DetectMIME(data, "")
	}
	return Sample{
		ID:         uuid.NewString(),
		Data:       data,
		MIMEType:   mimeType,
		Duration:   duration,
		CapturedAt: time.Now(),
	}
}

// Size returns the payload length in bytes.
func (s Sample) Size() int64 {
	return int64(len(s.Data))
}

// Seconds returns the duration as fractional seconds.
func (s Sample) Seconds() float64 {
	return s.Duration.Seconds()
}

// Extension returns the file extension (without dot) matching the MIME type.
func (s Sample) Extension() string {
	return ExtensionFor(s.MIMEType)
}

// UploadName builds the multipart filename, pitch-<unix millis>.<ext>.
func (s Sample) UploadName(now time.Time) string {
	return fmt.Sprintf("pitch-%d.%s", now.UnixMilli(), s.Extension())
}

// ExtensionFor maps a MIME type to a file extension, defaulting to webm.
func ExtensionFor(mimeType string) string {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	switch base {
	case "audio/webm", "":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg":
		return "mp3"
	case "audio/mp4", "audio/x-m4a":
		return "m4a"
	}
	if m := mimetype.Lookup(base); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	return "webm"
}

// audioContainers lists container types that mimetype reports as video but
// are audio-only when they carry an audio extension.
var audioContainers = map[string]string{
	"video/webm": "audio/webm",
	"video/ogg":  "audio/ogg",
	"video/mp4":  "audio/mp4",
}

var audioExtensions = map[string]bool{
	".webm": true, ".weba": true, ".ogg": true, ".oga": true, ".opus": true,
	".m4a": true, ".mp4": true, ".mp3": true, ".wav": true, ".flac": true,
}

// DetectMIME sniffs data and normalizes container types. name is optional and
// only used to decide whether a video container is really an audio file.
func DetectMIME(data []byte, name string) string {
	detected := mimetype.Detect(data)
	mimeType := detected.String()
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}

	if audio, ok := audioContainers[mimeType]; ok {
		if name == "" || audioExtensions[strings.ToLower(filepath.Ext(name))] {
			return audio
		}
	}
	return mimeType
}

// LoadFile reads an audio file from disk. mimeOverride skips sniffing; a zero
// duration is probed with ffprobe.
func LoadFile(path, mimeOverride string, duration time.Duration) (Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read audio file: %w", err)
	}

	mimeType := mimeOverride
	if mimeType == "" {
		mimeType = DetectMIME(data, path)
	}

	if duration <= 0 {
		probed, err := ProbeDuration(path)
		if err != nil {
			slog.Warn("Could not probe audio duration", "file", path, "error", err)
		} else {
			duration = probed
		}
	}

	sample := NewSample(data, mimeType, duration)
	sample.Source = path
	slog.Debug("Audio file loaded", "file", path, "mime", mimeType, "size", len(data), "duration", duration)
	return sample, nil
}

// ProbeDuration asks ffprobe for the container duration.
func ProbeDuration(path string) (time.Duration, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeDuration(string(output))
}

func parseProbeDuration(output string) (time.Duration, error) {
	value := strings.TrimSpace(output)
	if value == "" || value == "N/A" {
		return 0, fmt.Errorf("no duration reported")
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
