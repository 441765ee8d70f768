package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/micdrop/pitchcoach/internal/analysis"
	"github.com/micdrop/pitchcoach/internal/play"
	"github.com/micdrop/pitchcoach/internal/service"
	"github.com/micdrop/pitchcoach/internal/ui"
)

const pipelineSteps = "rap"

// pipelineRun carries the artifacts produced between steps
type pipelineRun struct {
	name string
	file string
}

// validatePipeline accepts steps from r, a and p, each at most once, with
// record only as the first step.
func validatePipeline(steps string) error {
	seen := map[rune]bool{}
	for i, step := range strings.ToLower(steps) {
		if !strings.ContainsRune(pipelineSteps, step) {
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, a=analyze, p=play)", step)
		}
		if seen[step] {
			return fmt.Errorf("pipeline step '%c' repeated", step)
		}
		if step == 'r' && i != 0 {
			return fmt.Errorf("record step must come first in the pipeline")
		}
		seen[step] = true
	}
	return nil
}

// executePipeline runs the pipeline steps that follow startStep. With
// startStep 0 every step runs.
func executePipeline(ctx context.Context, svc *service.Service, run *pipelineRun, steps string, startStep rune) error {
	steps = strings.ToLower(steps)
	if startStep != 0 {
		idx := strings.IndexRune(steps, startStep)
		if idx < 0 {
			return nil
		}
		steps = steps[idx+1:]
	}

	total := len(steps)
	for i, step := range steps {
		fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, total, step)

		switch step {
		case 'r':
			file, err := recordInteractive(ctx, svc, run.name)
			if err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
			if file == "" {
				fmt.Println("Pipeline: recording cancelled")
				return nil
			}
			run.file = file
			fmt.Println("Pipeline: recording completed")

		case 'a':
			if run.file == "" {
				return fmt.Errorf("pipeline analyze failed: no audio file")
			}
			opts := fileOptions()
			opts.Progress = func(p analysis.Progress) {
				fmt.Fprintln(os.Stderr, ui.RenderProgress(p))
			}
			res, err := svc.AnalyzeFile(ctx, run.file, opts)
			outcome := fileOutcome{File: run.file, Result: res}
			if err != nil {
				outcome.Error = err.Error()
			}
			printOutcome(outcome)
			if err != nil || res == nil || !res.Success {
				return fmt.Errorf("pipeline analyze failed")
			}
			fmt.Println("Pipeline: analysis completed")

		case 'p':
			if run.file == "" {
				return fmt.Errorf("pipeline play failed: no audio file")
			}
			if err := play.New().Play(ctx, run.file); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
			fmt.Println("Pipeline: playback completed")

		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, a=analyze, p=play)", step)
		}
	}

	return nil
}

// recordInteractive records until Enter is pressed and returns the file.
// An interrupt cancels the recording and returns an empty path.
func recordInteractive(ctx context.Context, svc *service.Service, name string) (string, error) {
	if err := svc.StartRecording(name); err != nil {
		return "", err
	}

	_, session := svc.RecordingStatus()
	if session != nil {
		fmt.Printf("Recording to %s - press Enter to stop, Ctrl+C to cancel\n", session.OutputFile)
	} else {
		fmt.Println("Recording - press Enter to stop, Ctrl+C to cancel")
	}

	enter := make(chan struct{})
	go func() {
		bufio.NewScanner(os.Stdin).Scan()
		close(enter)
	}()

	select {
	case <-enter:
	case <-ctx.Done():
		if err := svc.CancelRecording(); err != nil {
			return "", fmt.Errorf("failed to cancel recording: %w", err)
		}
		return "", nil
	}

	sample, err := svc.StopRecording()
	if err != nil {
		return "", err
	}
	fmt.Printf("Recorded %.1fs (%s)\n", sample.Seconds(), sample.Source)
	return sample.Source, nil
}
