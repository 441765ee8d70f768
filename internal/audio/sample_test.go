package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var webmHeader = []byte{
	0x1A, 0x45, 0xDF, 0xA3, 0x9F,
	0x42, 0x86, 0x81, 0x01,
	0x42, 0x82, 0x84, 'w', 'e', 'b', 'm',
	0x42, 0x87, 0x81, 0x04,
}

func TestDetectMIME(t *testing.T) {
	wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)

	tests := []struct {
		description string
		data        []byte
		name        string
		want        string
	}{
		{"webm container without name is audio", webmHeader, "", "audio/webm"},
		{"webm container with audio extension", webmHeader, "take1.weba", "audio/webm"},
		{"webm container with video extension stays video", webmHeader, "clip.mkv", "video/webm"},
		{"wav", wav, "pitch.wav", "audio/wav"},
		{"plain text", []byte("not audio at all"), "notes.txt", "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			require.Equal(t, tt.want, DetectMIME(tt.data, tt.name))
		})
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/webm", "webm"},
		{"audio/webm;codecs=opus", "webm"},
		{"", "webm"},
		{"audio/ogg", "ogg"},
		{"audio/mpeg", "mp3"},
		{"audio/x-m4a", "m4a"},
		{"audio/wav", "wav"},
		{"application/x-not-registered", "webm"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, ExtensionFor(tt.mime), "mime %q", tt.mime)
	}
}

func TestSample_UploadName(t *testing.T) {
	req := require.New(t)

	s := NewSample([]byte("abc"), "audio/ogg", 1500*time.Millisecond)

	req.NotEmpty(s.ID)
	req.Equal(int64(3), s.Size())
	req.InDelta(1.5, s.Seconds(), 1e-9)
	req.Equal("pitch-1709294400000.ogg", s.UploadName(time.UnixMilli(1709294400000)))
}

func TestNewSample_SniffsWhenMIMEEmpty(t *testing.T) {
	s := NewSample(webmHeader, "", 0)
	require.Equal(t, "audio/webm", s.MIMEType)
}

func TestLoadFile(t *testing.T) {
	req := require.New(t)

	// Given a webm file on disk
	path := filepath.Join(t.TempDir(), "take.webm")
	req.NoError(os.WriteFile(path, append(webmHeader, make([]byte, 2048)...), 0644))

	// When loaded with a known duration
	s, err := LoadFile(path, "", 42*time.Second)

	// Then the mime type is sniffed and the duration is kept
	req.NoError(err)
	req.Equal("audio/webm", s.MIMEType)
	req.Equal(42*time.Second, s.Duration)
	req.Equal(path, s.Source)
	req.Equal(int64(len(webmHeader)+2048), s.Size())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.webm"), "", time.Second)
	req.Error(err)
}

func TestParseProbeDuration(t *testing.T) {
	req := require.New(t)

	d, err := parseProbeDuration("12.500000\n")
	req.NoError(err)
	req.Equal(12500*time.Millisecond, d)

	_, err = parseProbeDuration("N/A")
	req.Error(err)

	_, err = parseProbeDuration("")
	req.Error(err)

	_, err = parseProbeDuration("twelve")
	req.Error(err)
}
