package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/micdrop/pitchcoach/internal/config"
)

const (
	minRecordingBytes  = 1024
	stopTimeout        = 5 * time.Second
	sourceCheckTimeout = 5 * time.Second
)

// FFmpegRecorder records one microphone source to an Opus file with ffmpeg
type FFmpegRecorder struct {
	cfg     config.CaptureConfig
	backend AudioBackend

	command string
	probe   func(string) (time.Duration, error)
	now     func() time.Time

	mutex   sync.RWMutex
	status  Status
	session *SessionInfo

	ffmpegCmd *exec.Cmd
	stderrBuf *lockedBuffer
}

// NewFFmpegRecorder creates a recorder in STANDBY
func NewFFmpegRecorder(cfg config.CaptureConfig, backend AudioBackend) *FFmpegRecorder {
	return &FFmpegRecorder{
		cfg:       cfg,
		backend:   backend,
		command:   "ffmpeg",
		probe:     ProbeDuration,
		now:       time.Now,
		status:    StatusStandby,
		stderrBuf: &lockedBuffer{},
	}
}

// Start launches ffmpeg. Allowed from STANDBY or ERROR.
func (r *FFmpegRecorder) Start(name string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status == StatusRecording {
		return fmt.Errorf("recording already in progress")
	}

	source := r.cfg.Source
	if source == "" {
		source = DefaultSource
	}

	ctx, cancel := context.WithTimeout(context.Background(), sourceCheckTimeout)
	defer cancel()
	if err := r.backend.ValidateSource(ctx, source); err != nil {
		r.status = StatusError
		return fmt.Errorf("audio source unavailable: %w", err)
	}

	if err := os.MkdirAll(r.cfg.OutputDirectory, 0755); err != nil {
		r.status = StatusError
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	cleanName := cleanFileName(name)
	if cleanName == "" {
		cleanName = "pitch"
	}
	started := r.now()
	mimeType := mimeForFormat(r.cfg.Format)
	outputFile := filepath.Join(r.cfg.OutputDirectory,
		fmt.Sprintf("%s-%s.%s", cleanName, started.Format("20060102-150405"), ExtensionFor(mimeType)))

	os.Remove(outputFile)

	if err := r.startFFmpeg(r.buildArgs(source, outputFile)); err != nil {
		r.status = StatusError
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	r.session = &SessionInfo{
		Name:       name,
		StartTime:  started,
		OutputFile: outputFile,
		Source:     source,
		Backend:    string(r.backend.GetType()),
		MIMEType:   mimeType,
	}
	r.status = StatusRecording

	slog.Info("Recording started", "name", name, "source", source, "output", outputFile)
	return nil
}

// Stop ends the recording and loads the finished file.
func (r *FFmpegRecorder) Stop() (Sample, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status != StatusRecording {
		return Sample{}, fmt.Errorf("no recording in progress")
	}

	elapsed := r.now().Sub(r.session.StartTime)

	if err := r.stopFFmpeg(); err != nil {
		r.status = StatusError
		return Sample{}, fmt.Errorf("failed to stop FFmpeg: %w", err)
	}

	if err := r.validateOutputFile(); err != nil {
		r.status = StatusError
		return Sample{}, err
	}

	duration, err := r.probe(r.session.OutputFile)
	if err != nil || duration <= 0 {
		slog.Debug("Using wall clock duration", "elapsed", elapsed, "error", err)
		duration = elapsed
	}

	if r.cfg.MinDuration > 0 && duration < r.cfg.MinDuration {
		r.status = StatusError
		return Sample{}, fmt.Errorf("recording too short (%.1fs), minimum is %.1fs",
			duration.Seconds(), r.cfg.MinDuration.Seconds())
	}

	sample, err := LoadFile(r.session.OutputFile, r.session.MIMEType, duration)
	if err != nil {
		r.status = StatusError
		return Sample{}, err
	}
	sample.CapturedAt = r.session.StartTime

	r.status = StatusStandby
	slog.Info("Recording completed", "output", r.session.OutputFile, "duration", duration, "size", sample.Size())
	return sample, nil
}

// Cancel stops ffmpeg and deletes the partial file
func (r *FFmpegRecorder) Cancel() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status != StatusRecording {
		return fmt.Errorf("can only cancel while recording, current: %s", r.status)
	}

	if err := r.stopFFmpeg(); err != nil {
		slog.Debug("FFmpeg stop during cancel", "error", err)
	}
	if r.session != nil {
		os.Remove(r.session.OutputFile)
	}

	r.status = StatusStandby
	r.session = nil
	slog.Debug("Recording cancelled, returned to standby")
	return nil
}

// Status returns the current status and a copy of the session info
func (r *FFmpegRecorder) Status() (Status, *SessionInfo) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.session == nil {
		return r.status, nil
	}
	sessionCopy := *r.session
	return r.status, &sessionCopy
}

// Cleanup kills a running ffmpeg process
func (r *FFmpegRecorder) Cleanup() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.ffmpegCmd != nil && r.ffmpegCmd.Process != nil {
		r.ffmpegCmd.Process.Kill()
		r.ffmpegCmd.Wait()
		r.ffmpegCmd = nil
	}

	slog.Debug("Recorder cleaned up")
	return nil
}

// buildArgs constructs the ffmpeg argument list
func (r *FFmpegRecorder) buildArgs(source, outputFile string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.backend.InputFormat(),
		"-i", source,
	}

	if r.cfg.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(r.cfg.Channels))
	}
	if r.cfg.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(r.cfg.SampleRate))
	}

	return append(args,
		"-c:a", "libopus",
		"-b:a", "64k",
		"-y",
		outputFile,
	)
}

func (r *FFmpegRecorder) startFFmpeg(args []string) error {
	slog.Debug("Starting FFmpeg", "command", r.command+" "+strings.Join(args, " "))

	cmd := exec.Command(r.command, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	r.ffmpegCmd = cmd
	r.stderrBuf.Reset()
	go r.readOutput(stderr)
	return nil
}

func (r *FFmpegRecorder) readOutput(pipe io.ReadCloser) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		r.stderrBuf.WriteLine(line)
		slog.Debug("FFmpeg output", "line", line)
	}
}

// stopFFmpeg sends SIGINT so ffmpeg finalizes the container, then kills
// after stopTimeout.
func (r *FFmpegRecorder) stopFFmpeg() error {
	if r.ffmpegCmd == nil {
		return nil
	}

	if r.ffmpegCmd.Process != nil {
		slog.Debug("Sending SIGINT to FFmpeg process")
		if err := r.ffmpegCmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to send interrupt to FFmpeg, killing", "error", err)
			r.ffmpegCmd.Process.Kill()
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- r.ffmpegCmd.Wait()
	}()

	select {
	case err := <-done:
		r.ffmpegCmd = nil
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				// 255 is ffmpeg's exit code after a handled interrupt
				if exitErr.ExitCode() == 255 {
					return nil
				}
				if exitErr.ProcessState != nil {
					state := exitErr.ProcessState.String()
					if state == "signal: interrupt" || state == "signal: killed" {
						return nil
					}
				}
			}
			slog.Debug("FFmpeg stderr", "output", r.stderrBuf.String())
			return fmt.Errorf("FFmpeg process failed: %w", err)
		}
		return nil

	case <-time.After(stopTimeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		if r.ffmpegCmd.Process != nil {
			r.ffmpegCmd.Process.Kill()
		}
		<-done
		r.ffmpegCmd = nil
		return nil
	}
}

func (r *FFmpegRecorder) validateOutputFile() error {
	if r.session == nil {
		return fmt.Errorf("no session info available")
	}

	fileInfo, err := os.Stat(r.session.OutputFile)
	if err != nil {
		return fmt.Errorf("recording file not found: %s", r.session.OutputFile)
	}

	if fileInfo.Size() < minRecordingBytes {
		return fmt.Errorf("recording failed: file too small (%d bytes)", fileInfo.Size())
	}

	slog.Debug("Output file validated", "size", fileInfo.Size())
	return nil
}

func mimeForFormat(format string) string {
	if format == "ogg" {
		return "audio/ogg"
	}
	return DefaultMIMEType
}

// cleanFileName keeps letters, numbers, spaces, hyphens and underscores
func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}
