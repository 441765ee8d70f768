package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/micdrop/pitchcoach/internal/analysis"
	"github.com/micdrop/pitchcoach/internal/service"
	"github.com/micdrop/pitchcoach/internal/ui"
)

var (
	analyzeDuration    time.Duration
	analyzeMIME        string
	analyzePersona     string
	analyzePersonaType string
	analyzeTUI         bool
	analyzeJobs        int
	analyzeJSON        bool
	analyzeTranscode   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [audio-file...]",
	Short: "Analyze one or more recorded pitches",
	Long: `Submit audio files to the analysis backend and print the resulting scores.
Several files are analyzed concurrently (see --jobs). Files above the size
limit can be shrunk to Opus first with --transcode.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := newService()
		defer svc.Close()

		if analyzeTUI && len(args) == 1 && !analyzeJSON {
			res, err := analyzeWithTUI(ctx, svc, args[0], fileOptions())
			if err != nil {
				return err
			}
			if !res.Success && res.Err != nil {
				return fmt.Errorf("analysis failed: %s", res.Err.Message)
			}
			return nil
		}

		outcomes := analyzeFiles(ctx, svc, args, analyzeJobs, len(args) == 1 && !analyzeJSON)
		return reportOutcomes(outcomes, analyzeJSON)
	},
}

func addAnalyzeFlags(c *cobra.Command) {
	c.Flags().DurationVar(&analyzeDuration, "duration", 0, "recording length (default: probed with ffprobe)")
	c.Flags().StringVar(&analyzeMIME, "mime", "", "MIME type of the audio (default: detected)")
	c.Flags().StringVar(&analyzePersona, "persona", "", "name of the audience persona")
	c.Flags().StringVar(&analyzePersonaType, "persona-type", "", "persona category, e.g. investor")
	c.Flags().BoolVar(&analyzeTUI, "tui", false, "show an interactive progress view (single file only)")
	c.Flags().IntVarP(&analyzeJobs, "jobs", "j", 2, "number of files analyzed concurrently")
	c.Flags().BoolVar(&analyzeJSON, "json", false, "print results as JSON")
	c.Flags().BoolVar(&analyzeTranscode, "transcode", false, "transcode files above the size limit to Opus before upload")
}

func init() {
	addAnalyzeFlags(analyzeCmd)
}

func fileOptions() service.FileOptions {
	return service.FileOptions{
		MIMEType:  analyzeMIME,
		Duration:  analyzeDuration,
		Persona:   analysis.Persona{Name: analyzePersona, Type: analyzePersonaType},
		Transcode: analyzeTranscode,
	}
}

// fileOutcome is the analysis of one input file
type fileOutcome struct {
	File   string           `json:"file"`
	Result *analysis.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// analyzeFiles runs up to jobs analyses at once and returns outcomes in
// input order. showProgress prints progress lines to stderr.
func analyzeFiles(ctx context.Context, svc *service.Service, files []string, jobs int, showProgress bool) []fileOutcome {
	if jobs < 1 {
		jobs = 1
	}
	outcomes := make([]fileOutcome, len(files))

	var g errgroup.Group
	g.SetLimit(jobs)
	for i, file := range files {
		g.Go(func() error {
			opts := fileOptions()
			if showProgress {
				opts.Progress = func(p analysis.Progress) {
					fmt.Fprintln(os.Stderr, ui.RenderProgress(p))
				}
			}

			res, err := svc.AnalyzeFile(ctx, file, opts)
			outcomes[i] = fileOutcome{File: file, Result: res}
			if err != nil {
				outcomes[i].Error = err.Error()
			}
			// Failures are reported per file
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func reportOutcomes(outcomes []fileOutcome, asJSON bool) error {
	failed := 0
	for _, o := range outcomes {
		if o.Error != "" || o.Result == nil || !o.Result.Success {
			failed++
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcomes); err != nil {
			return fmt.Errorf("error encoding results: %w", err)
		}
	} else {
		for _, o := range outcomes {
			if len(outcomes) > 1 {
				fmt.Println(ui.TitleStyle.Render(filepath.Base(o.File)))
			}
			printOutcome(o)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", failed, len(outcomes))
	}
	return nil
}

func printOutcome(o fileOutcome) {
	switch {
	case o.Result != nil && o.Result.Success && o.Result.Metrics != nil:
		fmt.Println(ui.RenderMetrics(*o.Result.Metrics))
		if o.Result.Transcription != "" {
			fmt.Println(ui.DimStyle.Render(o.Result.Transcription))
		}
	case o.Result != nil && o.Result.Err != nil:
		fmt.Println(ui.RenderError(o.Result.Err))
	case o.Error != "":
		fmt.Println(ui.ErrorStyle.Render("✗ " + o.Error))
	}
}

// analyzeWithTUI runs one analysis behind the bubbletea progress view
func analyzeWithTUI(ctx context.Context, svc *service.Service, file string, opts service.FileOptions) (*analysis.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(ui.NewProgressModel(filepath.Base(file), cancel), tea.WithContext(ctx))
	opts.Progress = func(pr analysis.Progress) {
		p.Send(ui.ProgressMsg(pr))
	}

	go func() {
		res, err := svc.AnalyzeFile(ctx, file, opts)
		p.Send(ui.DoneMsg{Result: res, Err: err})
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, fmt.Errorf("terminal UI failed: %w", err)
	}

	m, ok := final.(ui.ProgressModel)
	if !ok || m.Cancelled() {
		return nil, errors.New(analysis.CancelledMessage)
	}
	res, err := m.Result()
	if err != nil {
		return res, err
	}
	if res == nil {
		return nil, errors.New(analysis.CancelledMessage)
	}
	return res, nil
}
