package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// preferredPlayers in order of preference
var preferredPlayers = []string{"mpv", "ffplay", "vlc", "paplay"}

type Player struct {
	players  []string
	lookPath func(string) (string, error)
}

func New() *Player {
	return &Player{players: preferredPlayers, lookPath: exec.LookPath}
}

// Play blocks until the file has been played or ctx is cancelled.
func (p *Player) Play(ctx context.Context, audioFile string) error {
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	args, err := playerArgs(player, audioFile)
	if err != nil {
		return err
	}

	slog.Info("Playing recording", "file", audioFile, "player", player)
	cmd := exec.CommandContext(ctx, player, args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Debug("Playback completed", "file", audioFile)
	return nil
}

func playerArgs(player, audioFile string) ([]string, error) {
	switch player {
	case "mpv":
		return []string{"--no-video", "--really-quiet", audioFile}, nil
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", audioFile}, nil
	case "vlc":
		return []string{"--intf", "dummy", "--play-and-exit", audioFile}, nil
	case "paplay":
		// paplay decodes through libsndfile, which has no WebM support
		if strings.HasSuffix(strings.ToLower(audioFile), ".webm") {
			return nil, fmt.Errorf("paplay cannot play WebM files, install mpv or ffplay")
		}
		return []string{audioFile}, nil
	}
	return nil, fmt.Errorf("unsupported player: %s", player)
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range p.players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(p.players, ", "))
}
