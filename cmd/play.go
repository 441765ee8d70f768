package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/micdrop/pitchcoach/internal/play"
	"github.com/micdrop/pitchcoach/internal/store"
)

var playCmd = &cobra.Command{
	Use:   "play [file-or-session-id]",
	Short: "Play back a recorded pitch",
	Long: `Play an audio file, or the recording of a stored session given its ID
(or an unambiguous ID prefix). Uses mpv, ffplay, vlc or paplay, whichever is
installed first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		file, err := resolvePlayable(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Playing: %s\n", file)
		if err := play.New().Play(ctx, file); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}

// resolvePlayable returns target when it is a file, otherwise the audio file
// of the session whose ID starts with target.
func resolvePlayable(ctx context.Context, target string) (string, error) {
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	st, err := store.Open(cfg.Storage.Database)
	if err != nil {
		return "", fmt.Errorf("audio file not found and session store unavailable: %w", err)
	}
	defer st.Close()

	sessions, err := st.List(ctx, 0)
	if err != nil {
		return "", err
	}
	matches := lo.Filter(sessions, func(s store.Session, _ int) bool {
		return strings.HasPrefix(s.ID, target)
	})

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no audio file or session matches %q", target)
	case 1:
	default:
		return "", fmt.Errorf("session ID prefix %q is ambiguous (%d matches)", target, len(matches))
	}

	if matches[0].AudioFile == "" {
		return "", fmt.Errorf("session %s has no audio file", matches[0].ID)
	}
	return matches[0].AudioFile, nil
}
