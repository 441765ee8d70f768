package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/micdrop/pitchcoach/internal/service"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration with profile inheritance",
	Long:  `Display the resolved configuration with inheritance indicators. Shows which values are inherited from the base configuration vs profile-specific.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		active := cfg.Profile
		if active == "" {
			active = "(base)"
		}

		fmt.Printf("=== PROFILE ===\n")
		fmt.Printf("config_file: %s\n", cfgFile)
		fmt.Printf("profile: %s\n", active)

		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Backend]\n")
		fmt.Printf("base_url: %s %s\n", cfg.Backend.BaseURL, inheritance("backend.base_url"))
		fmt.Printf("timeout: %s %s\n", cfg.Backend.Timeout, inheritance("backend.timeout"))
		fmt.Printf("probe_timeout: %s %s\n", cfg.Backend.ProbeTimeout, inheritance("backend.probe_timeout"))
		fmt.Printf("requests_per_minute: %d %s\n", cfg.Backend.RequestsPerMinute, inheritance("backend.requests_per_minute"))

		fmt.Printf("\n[Analysis]\n")
		fmt.Printf("max_retries: %d %s\n", cfg.Analysis.MaxRetries, inheritance("analysis.max_retries"))
		fmt.Printf("retry_delay: %s %s\n", cfg.Analysis.RetryDelay, inheritance("analysis.retry_delay"))
		limits := service.Limits(cfg)
		fmt.Printf("file_size: %d-%d bytes\n", limits.MinBytes, limits.MaxBytes)
		fmt.Printf("free_attempts: %d\n", cfg.Analysis.FreeAttempts)

		fmt.Printf("\n[Capture]\n")
		fmt.Printf("backend: %s\n", cfg.Capture.Backend)
		fmt.Printf("source: %s\n", cfg.Capture.Source)
		fmt.Printf("format: %s, %d Hz, %d channel(s)\n", cfg.Capture.Format, cfg.Capture.SampleRate, cfg.Capture.Channels)
		fmt.Printf("output_directory: %s\n", cfg.Capture.OutputDirectory)

		fmt.Printf("\n[Storage]\n")
		fmt.Printf("database: %s\n", cfg.Storage.Database)

		return nil
	},
}

func inheritance(key string) string {
	return getInheritanceIndicator(cfg.Inheritance[key])
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
