package play

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func lookPathFor(available ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, a := range available {
			if a == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func TestFindAudioPlayer_Preference(t *testing.T) {
	req := require.New(t)

	p := &Player{players: preferredPlayers, lookPath: lookPathFor("vlc", "ffplay")}
	got, err := p.findAudioPlayer()
	req.NoError(err)
	req.Equal("ffplay", got)

	p.lookPath = lookPathFor()
	_, err = p.findAudioPlayer()
	req.ErrorContains(err, "tried: mpv, ffplay, vlc, paplay")
}

func TestPlayerArgs(t *testing.T) {
	req := require.New(t)

	args, err := playerArgs("ffplay", "/tmp/a.webm")
	req.NoError(err)
	req.Equal([]string{"-nodisp", "-autoexit", "-loglevel", "error", "/tmp/a.webm"}, args)

	_, err = playerArgs("paplay", "/tmp/a.webm")
	req.Error(err)

	args, err = playerArgs("paplay", "/tmp/a.ogg")
	req.NoError(err)
	req.Equal([]string{"/tmp/a.ogg"}, args)

	_, err = playerArgs("winamp", "/tmp/a.ogg")
	req.Error(err)
}

func TestPlay_RunsPlayer(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	// Given a fake mpv that records its last argument
	marker := filepath.Join(dir, "played")
	script := "#!/bin/sh\nfor last; do :; done\necho \"$last\" > " + marker + "\n"
	req.NoError(os.WriteFile(filepath.Join(dir, "mpv"), []byte(script), 0755))
	audioFile := filepath.Join(dir, "take.webm")
	req.NoError(os.WriteFile(audioFile, []byte("webm"), 0644))

	t.Setenv("PATH", dir)
	p := &Player{players: []string{"mpv"}, lookPath: lookPathFor("mpv")}

	// When played
	err := p.Play(context.Background(), audioFile)

	// Then the player received the file as its last argument
	req.NoError(err)
	data, err := os.ReadFile(marker)
	req.NoError(err)
	req.Equal(audioFile+"\n", string(data))
}

func TestPlay_MissingFile(t *testing.T) {
	err := New().Play(context.Background(), filepath.Join(t.TempDir(), "missing.webm"))
	require.ErrorContains(t, err, "audio file not found")
}
