package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/micdrop/pitchcoach/internal/config"
)

// Transcoder re-encodes audio files to mono Opus so oversized or unusual
// uploads fit the analysis backend.
type Transcoder struct {
	cfg     config.CaptureConfig
	command string
	bitrate string
}

func New(cfg config.CaptureConfig) *Transcoder {
	return &Transcoder{cfg: cfg, command: "ffmpeg", bitrate: "48k"}
}

// UseCommand runs command instead of ffmpeg.
func (t *Transcoder) UseCommand(command string) *Transcoder {
	t.command = command
	return t
}

// ToOpus writes <outputDir>/<input base>.opus.<ext> and returns its path.
func (t *Transcoder) ToOpus(ctx context.Context, inputFile, outputDir string) (string, error) {
	if _, err := os.Stat(inputFile); err != nil {
		return "", fmt.Errorf("input file not found: %s", inputFile)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	outputFile := t.OutputPath(inputFile, outputDir)
	if outputFile == inputFile {
		return "", fmt.Errorf("refusing to overwrite input file: %s", inputFile)
	}
	os.Remove(outputFile)

	cmd := exec.CommandContext(ctx, t.command, t.buildArgs(inputFile, outputFile)...)
	slog.Debug("Running FFmpeg for transcoding", "command", strings.Join(cmd.Args, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("FFmpeg transcoding failed: %w\nOutput: %s", err, string(output))
	}

	if _, err := os.Stat(outputFile); err != nil {
		return "", fmt.Errorf("output file not created: %s", outputFile)
	}

	slog.Info("Transcoded audio file saved to", "file", outputFile)
	return outputFile, nil
}

// OutputPath names the transcoded file for inputFile.
func (t *Transcoder) OutputPath(inputFile, outputDir string) string {
	base := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
	return filepath.Join(outputDir, base+".opus."+t.extension())
}

func (t *Transcoder) buildArgs(inputFile, outputFile string) []string {
	channels := t.cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputFile,
		"-vn",
		"-ac", strconv.Itoa(channels),
	}
	if t.cfg.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(t.cfg.SampleRate))
	}
	return append(args,
		"-c:a", "libopus",
		"-b:a", t.bitrate,
		"-y",
		outputFile,
	)
}

func (t *Transcoder) extension() string {
	if t.cfg.Format == "ogg" {
		return "ogg"
	}
	return "webm"
}
