package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/micdrop/pitchcoach/internal/config"
	"github.com/micdrop/pitchcoach/internal/service"
	"github.com/micdrop/pitchcoach/internal/store"
)

var (
	cfg          *config.Config
	cfgFile      string
	pipeline     string
	profile      string
	verboseLevel int
	noStore      bool
)

var rootCmd = &cobra.Command{
	Use:   "pitchcoach [audio-file]",
	Short: "Record and score spoken pitches",
	Long: `pitchcoach records a spoken pitch from the microphone (or takes an existing
audio file), submits it to a pitch-analysis backend and reports scores for
clarity, pace, confidence, structure and engagement.

When an audio file is provided, it acts as 'pitchcoach analyze [audio-file]'.`,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Could not read .env file", "error", err)
		}

		if cfgFile == "" {
			cfgFile = config.DefaultPath()
		}

		// These work on the file itself and must not fail on a broken config
		if cmd.Name() == "init" || cmd.Name() == "path" {
			return nil
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := validatePipeline(pipeline); err != nil {
			return err
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return analyzeCmd.RunE(cmd, args)
		}
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pitchcoach/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&pipeline, "pipeline", "p", "", "pipeline steps: r=record, a=analyze, p=play (e.g., 'rap', 'ap')")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().CountVarP(&verboseLevel, "verbose", "v", "verbose output (-v debug, -vv debug with source locations)")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "do not persist sessions to the local database")

	addAnalyzeFlags(rootCmd)

	// Add subcommands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(transcodeCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch {
	case level <= 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: level >= 2,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// newService builds the service for the loaded config. A database that cannot
// be opened degrades to in-memory history.
func newService() *service.Service {
	var opts []service.Option
	if !noStore {
		st, err := store.Open(cfg.Storage.Database)
		if err != nil {
			slog.Warn("Session store unavailable, history will not persist", "database", cfg.Storage.Database, "error", err)
		} else {
			opts = append(opts, service.WithStore(st))
		}
	}
	return service.New(cfg, cfgFile, opts...)
}
