package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/micdrop/pitchcoach/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List the capture sources the configured audio backend (PulseAudio/PipeWire or ALSA) can record from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backendName, _ := cmd.Flags().GetString("backend")
		if backendName == "" {
			backendName = cfg.Capture.Backend
		}

		backend, err := audio.NewBackend(backendName)
		if err != nil {
			return err
		}

		sources, err := backend.ListSources(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get %s sources: %w", backend.GetType(), err)
		}

		fmt.Printf("Audio Sources (%s, %s)\n", backend.GetType(), runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")
		for i, source := range sources {
			marker := ""
			if source.Default {
				marker = " [default]"
			}
			fmt.Printf("  %d. %s%s\n", i+1, source.Name, marker)
			if source.Description != "" {
				fmt.Printf("     %s\n", source.Description)
			}
		}

		fmt.Printf("\nConfigure in capture.source (current: %s)\n", cfg.Capture.Source)
		return nil
	},
}

func init() {
	sourcesCmd.Flags().String("backend", "", "audio backend to query (pulse or alsa, default from config)")
}
