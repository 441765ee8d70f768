package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/micdrop/pitchcoach/internal/analysis"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the analysis backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := analysis.NewTransport(cfg.Backend.BaseURL, analysis.WithProbeTimeout(cfg.Backend.ProbeTimeout))
		if !t.Probe(cmd.Context()) {
			return fmt.Errorf("backend %s is not reachable", cfg.Backend.BaseURL)
		}
		fmt.Printf("Backend %s is reachable\n", cfg.Backend.BaseURL)
		return nil
	},
}
