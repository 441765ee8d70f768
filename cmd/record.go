package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record a pitch from the microphone",
	Long: `Record a pitch from the configured capture source until Enter is pressed.
The recording is saved as WebM/Opus (or Ogg) in the output directory and,
unless a pipeline says otherwise, analyzed right away.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "pitch"
		if len(args) == 1 {
			name = args[0]
		}
		slog.Info("Record command started", "name", name)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := newService()
		defer svc.Close()

		steps := strings.ToLower(pipeline)
		if steps == "" {
			steps = "ra"
			if noAnalyze, _ := cmd.Flags().GetBool("no-analyze"); noAnalyze {
				steps = "r"
			}
		}
		if steps[0] != 'r' {
			steps = "r" + steps
		}
		if err := validatePipeline(steps); err != nil {
			return err
		}

		return executePipeline(ctx, svc, &pipelineRun{name: name}, steps, 0)
	},
}

func init() {
	recordCmd.Flags().Bool("no-analyze", false, "only record, do not submit for analysis")
	addAnalyzeFlags(recordCmd)
}
