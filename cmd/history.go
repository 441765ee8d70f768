package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/micdrop/pitchcoach/internal/store"
	"github.com/micdrop/pitchcoach/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List analyzed pitches",
	Long:  `List stored analysis sessions, newest first. Use --stats for score totals and free-attempt usage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		showStats, _ := cmd.Flags().GetBool("stats")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := store.Open(cfg.Storage.Database)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer st.Close()

		ctx := cmd.Context()
		sessions, err := st.List(ctx, limit)
		if err != nil {
			return err
		}

		if showStats {
			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			usage, err := st.Usage(ctx, cfg.Analysis.FreeAttempts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(map[string]interface{}{"stats": stats, "usage": usage})
			}
			fmt.Println(ui.RenderStoreStats(stats, usage))
			return nil
		}

		if asJSON {
			if sessions == nil {
				sessions = []store.Session{}
			}
			return printJSON(sessions)
		}
		fmt.Println(ui.RenderSessions(sessions))
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show the scores and transcription of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Storage.Database)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer st.Close()

		sess, err := st.Get(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session %s not found", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Println(ui.RenderMetrics(sess.Metrics))
		if sess.Transcription != "" {
			fmt.Println(ui.DimStyle.Render(sess.Transcription))
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Storage.Database)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer st.Close()

		if err := st.Delete(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("session %s not found", args[0])
			}
			return err
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}
	return nil
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of sessions to list (0 for all)")
	historyCmd.Flags().Bool("stats", false, "show totals and free-attempt usage instead of the list")
	historyCmd.Flags().Bool("json", false, "print as JSON")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}
