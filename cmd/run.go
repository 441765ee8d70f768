package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [name-or-file]",
	Short: "Execute pipeline steps on a pitch",
	Long: `Execute the specified pipeline steps. Use -p to specify which steps to run.
When the pipeline starts with 'r' the argument names the new recording,
otherwise it is the audio file to work on.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rap)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := newService()
		defer svc.Close()

		run := &pipelineRun{name: args[0]}
		if !strings.HasPrefix(strings.ToLower(pipeline), "r") {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("audio file not found: %s", args[0])
			}
			run.file = args[0]
		}

		return executePipeline(ctx, svc, run, pipeline, 0)
	},
}

func init() {
	addAnalyzeFlags(runCmd)
}
