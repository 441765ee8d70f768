package transcode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/micdrop/pitchcoach/internal/config"
)

// fakeFFmpeg copies its -i argument to its last argument.
const fakeFFmpeg = `#!/bin/sh
in=""
prev=""
for arg; do
  if [ "$prev" = "-i" ]; then in="$arg"; fi
  prev="$arg"
  last="$arg"
done
cp "$in" "$last"
`

func TestTranscoder_BuildArgs(t *testing.T) {
	tr := New(config.CaptureConfig{Format: "webm", SampleRate: 48000, Channels: 1})

	args := tr.buildArgs("/in/pitch.wav", "/out/pitch.opus.webm")

	require.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "/in/pitch.wav",
		"-vn",
		"-ac", "1",
		"-ar", "48000",
		"-c:a", "libopus",
		"-b:a", "48k",
		"-y", "/out/pitch.opus.webm",
	}, args)
}

func TestTranscoder_OutputPath(t *testing.T) {
	req := require.New(t)

	req.Equal("/tmp/x/demo.opus.webm", New(config.CaptureConfig{}).OutputPath("/home/me/demo.wav", "/tmp/x"))
	req.Equal("/tmp/x/demo.opus.ogg", New(config.CaptureConfig{Format: "ogg"}).OutputPath("demo.flac", "/tmp/x"))
}

func TestTranscoder_ToOpus(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	script := filepath.Join(dir, "fake-ffmpeg")
	req.NoError(os.WriteFile(script, []byte(fakeFFmpeg), 0755))
	input := filepath.Join(dir, "pitch.wav")
	req.NoError(os.WriteFile(input, []byte("RIFF-data"), 0644))

	tr := New(config.CaptureConfig{Channels: 1})
	tr.command = script

	out, err := tr.ToOpus(context.Background(), input, filepath.Join(dir, "converted"))

	req.NoError(err)
	req.Equal(filepath.Join(dir, "converted", "pitch.opus.webm"), out)
	data, err := os.ReadFile(out)
	req.NoError(err)
	req.Equal("RIFF-data", string(data))
}

func TestTranscoder_MissingInput(t *testing.T) {
	tr := New(config.CaptureConfig{})

	_, err := tr.ToOpus(context.Background(), filepath.Join(t.TempDir(), "none.wav"), t.TempDir())

	require.ErrorContains(t, err, "input file not found")
}
