package audio

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// DefaultSource is accepted by both backends without probing.
const DefaultSource = "default"

// PulseBackend talks to PulseAudio (or pipewire-pulse) via pactl.
type PulseBackend struct{}

func (p *PulseBackend) GetType() BackendType { return BackendTypePulse }

func (p *PulseBackend) InputFormat() string { return "pulse" }

// ListSources returns capture sources via `pactl list short sources`.
func (p *PulseBackend) ListSources(ctx context.Context) ([]Source, error) {
	output, err := exec.CommandContext(ctx, "pactl", "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PulseAudio sources: %w", err)
	}

	defaultName := ""
	if out, err := exec.CommandContext(ctx, "pactl", "get-default-source").Output(); err == nil {
		defaultName = strings.TrimSpace(string(out))
	} else {
		slog.Debug("Could not read default source", "error", err)
	}

	return parsePulseSources(string(output), defaultName), nil
}

func (p *PulseBackend) ValidateSource(ctx context.Context, source string) error {
	return validateAgainst(ctx, p, source)
}

// ALSABackend lists PCM devices via arecord.
type ALSABackend struct{}

func (a *ALSABackend) GetType() BackendType { return BackendTypeALSA }

func (a *ALSABackend) InputFormat() string { return "alsa" }

// ListSources returns PCM names from `arecord -L`.
func (a *ALSABackend) ListSources(ctx context.Context) ([]Source, error) {
	output, err := exec.CommandContext(ctx, "arecord", "-L").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list ALSA devices: %w", err)
	}
	return parseALSASources(string(output)), nil
}

func (a *ALSABackend) ValidateSource(ctx context.Context, source string) error {
	return validateAgainst(ctx, a, source)
}

func validateAgainst(ctx context.Context, b AudioBackend, source string) error {
	if source == "" || source == DefaultSource {
		return nil
	}

	sources, err := b.ListSources(ctx)
	if err != nil {
		return err
	}
	return findSource(source, sources)
}

// findSource checks that name appears in the list
func findSource(name string, sources []Source) error {
	for _, s := range sources {
		if s.Name == name {
			return nil
		}
	}
	return fmt.Errorf("source not found: %s", name)
}

// parsePulseSources parses tab separated `pactl list short sources` output:
// index, name, driver, sample spec, state. Monitor sources are skipped.
func parsePulseSources(output, defaultName string) []Source {
	var sources []Source
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "\t")
		if len(fields) < 2 || fields[1] == "" {
			continue
		}
		name := fields[1]
		if strings.HasSuffix(name, ".monitor") {
			continue
		}
		src := Source{Name: name, Default: name == defaultName}
		if len(fields) >= 4 {
			src.Description = strings.TrimSpace(fields[3])
		}
		sources = append(sources, src)
	}
	return sources
}

// parseALSASources parses `arecord -L`: device names start in column zero,
// indented lines describe the device above them.
func parseALSASources(output string) []Source {
	var sources []Source
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if n := len(sources); n > 0 && sources[n-1].Description == "" {
				sources[n-1].Description = strings.TrimSpace(line)
			}
			continue
		}
		if line == "null" {
			continue
		}
		sources = append(sources, Source{Name: line, Default: line == DefaultSource})
	}
	return sources
}
