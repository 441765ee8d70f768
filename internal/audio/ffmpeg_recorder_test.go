package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/micdrop/pitchcoach/internal/config"
)

type fakeBackend struct {
	sourceErr error
}

func (f *fakeBackend) ListSources(ctx context.Context) ([]Source, error) {
	return []Source{{Name: DefaultSource, Default: true}}, nil
}

func (f *fakeBackend) ValidateSource(ctx context.Context, source string) error {
	return f.sourceErr
}

func (f *fakeBackend) InputFormat() string { return "pulse" }

func (f *fakeBackend) GetType() BackendType { return BackendTypePulse }

// fakeFFmpeg writes 4KB to its last argument and exits cleanly on SIGINT.
const fakeFFmpeg = `#!/bin/sh
for last; do :; done
trap 'exit 0' INT
head -c 4096 /dev/zero > "$last"
while :; do sleep 0.05; done
`

func newTestRecorder(t *testing.T, backend AudioBackend) (*FFmpegRecorder, string) {
	t.Helper()
	dir := t.TempDir()

	script := filepath.Join(dir, "fake-ffmpeg")
	require.NoError(t, os.WriteFile(script, []byte(fakeFFmpeg), 0755))

	outDir := filepath.Join(dir, "out")
	r := NewFFmpegRecorder(config.CaptureConfig{
		Backend:         "pulse",
		Source:          "default",
		Format:          "webm",
		SampleRate:      48000,
		Channels:        1,
		OutputDirectory: outDir,
	}, backend)
	r.command = script
	r.probe = func(string) (time.Duration, error) { return 0, errors.New("no ffprobe in tests") }

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(2 * time.Second)
		return clock
	}
	return r, outDir
}

func TestFFmpegRecorder_BuildArgs(t *testing.T) {
	r, _ := newTestRecorder(t, &fakeBackend{})

	args := r.buildArgs("alsa_input.usb", "/tmp/out.webm")

	require.Equal(t, []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "pulse",
		"-i", "alsa_input.usb",
		"-ac", "1",
		"-ar", "48000",
		"-c:a", "libopus",
		"-b:a", "64k",
		"-y", "/tmp/out.webm",
	}, args)
}

func TestFFmpegRecorder_StartStop(t *testing.T) {
	req := require.New(t)
	r, outDir := newTestRecorder(t, &fakeBackend{})

	// Given a started recording
	req.NoError(r.Start("Demo Day / take 1"))
	status, session := r.Status()
	req.Equal(StatusRecording, status)
	req.Equal(filepath.Join(outDir, "Demo_Day__take_1-20240301-120002.webm"), session.OutputFile)
	req.Error(r.Start("again"), "second start must be refused")

	req.Eventually(func() bool {
		info, err := os.Stat(session.OutputFile)
		return err == nil && info.Size() == 4096
	}, 5*time.Second, 20*time.Millisecond)

	// When stopped
	sample, err := r.Stop()

	// Then the sample carries the file and the wall clock duration
	req.NoError(err)
	req.Equal(int64(4096), sample.Size())
	req.Equal("audio/webm", sample.MIMEType)
	req.Equal(2*time.Second, sample.Duration)
	req.Equal(session.OutputFile, sample.Source)

	status, _ = r.Status()
	req.Equal(StatusStandby, status)
}

func TestFFmpegRecorder_TooShort(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRecorder(t, &fakeBackend{})
	r.cfg.MinDuration = 10 * time.Second

	req.NoError(r.Start("short"))
	_, session := r.Status()
	req.Eventually(func() bool {
		info, err := os.Stat(session.OutputFile)
		return err == nil && info.Size() == 4096
	}, 5*time.Second, 20*time.Millisecond)

	_, err := r.Stop()

	req.ErrorContains(err, "recording too short")
	status, _ := r.Status()
	req.Equal(StatusError, status)
}

func TestFFmpegRecorder_Cancel(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRecorder(t, &fakeBackend{})

	req.Error(r.Cancel(), "nothing to cancel")

	req.NoError(r.Start("cancel me"))
	_, session := r.Status()
	req.NoError(r.Cancel())

	status, current := r.Status()
	req.Equal(StatusStandby, status)
	req.Nil(current)
	req.NoFileExists(session.OutputFile)
}

func TestFFmpegRecorder_UnavailableSource(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRecorder(t, &fakeBackend{sourceErr: errors.New("source not found: usb")})

	err := r.Start("take")

	req.ErrorContains(err, "audio source unavailable")
	status, _ := r.Status()
	req.Equal(StatusError, status)
}

func TestFFmpegRecorder_StopWithoutStart(t *testing.T) {
	r, _ := newTestRecorder(t, &fakeBackend{})

	_, err := r.Stop()

	require.ErrorContains(t, err, "no recording in progress")
}

func TestCleanFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Seed Round Pitch", "Seed_Round_Pitch"},
		{"  ../../etc/passwd ", "etcpasswd"},
		{"take-2_final", "take-2_final"},
		{"!!!", ""},
	}

	for _, tt := range tests {
		if got := cleanFileName(tt.in); got != tt.want {
			t.Errorf("cleanFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
