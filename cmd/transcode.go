package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/micdrop/pitchcoach/internal/transcode"
)

var transcodeCmd = &cobra.Command{
	Use:   "transcode [audio-file]",
	Short: "Re-encode an audio file to compact Opus",
	Long: `Re-encode an audio file to mono Opus in the configured container so it fits
under the upload size limit. Uses the capture sample rate and channel count.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]
		outDir, _ := cmd.Flags().GetString("output")
		if outDir == "" {
			outDir = filepath.Dir(input)
		}

		fmt.Printf("Transcoding: %s\n", input)
		out, err := transcode.New(cfg.Capture).ToOpus(cmd.Context(), input, outDir)
		if err != nil {
			return fmt.Errorf("transcoding failed: %w", err)
		}

		info, err := os.Stat(out)
		if err != nil {
			return fmt.Errorf("transcoded file missing: %w", err)
		}
		fmt.Printf("Wrote %s (%d bytes)\n", out, info.Size())
		return nil
	},
}

func init() {
	transcodeCmd.Flags().StringP("output", "o", "", "output directory (default: next to the input)")
}
