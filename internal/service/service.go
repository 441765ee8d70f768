package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/micdrop/pitchcoach/internal/analysis"
	"github.com/micdrop/pitchcoach/internal/audio"
	"github.com/micdrop/pitchcoach/internal/config"
	"github.com/micdrop/pitchcoach/internal/store"
	"github.com/micdrop/pitchcoach/internal/transcode"
)

// RecordingInfo describes a captured file in the output directory
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Extension    string    `json:"extension"`
}

// FileOptions tunes AnalyzeFile.
type FileOptions struct {
	MIMEType string
	Duration time.Duration
	Persona  analysis.Persona
	// Transcode re-encodes files that fail the size limit before giving up.
	Transcode bool
	Progress  func(analysis.Progress)
}

// Service wires configuration, capture, the analysis pipeline and storage.
type Service struct {
	configFile string

	mu         sync.RWMutex
	cfg        *config.Config
	sender     analysis.Sender
	transport  *analysis.Transport
	orch       *analysis.Orchestrator
	history    *analysis.History
	store      *store.Store
	recorder   audio.Recorder
	transcoder *transcode.Transcoder

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

type Option func(*Service)

// WithSender replaces the HTTP transport, mostly for tests.
func WithSender(s analysis.Sender) Option {
	return func(svc *Service) { svc.sender = s }
}

// WithStore persists completed analyses.
func WithStore(st *store.Store) Option {
	return func(svc *Service) { svc.store = st }
}

func WithRecorder(r audio.Recorder) Option {
	return func(svc *Service) { svc.recorder = r }
}

// WithTranscoder replaces the FFmpeg transcoder used for oversized files.
func WithTranscoder(t *transcode.Transcoder) Option {
	return func(svc *Service) { svc.transcoder = t }
}

// New creates a service from cfg. The recorder is created lazily.
func New(cfg *config.Config, configFile string, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		configFile: configFile,
		history:    analysis.NewHistory(cfg.Analysis.HistorySize),
		transcoder: transcode.New(cfg.Capture),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.buildPipeline()
	return s
}

// buildPipeline must be called with mu held or before the service is shared.
func (s *Service) buildPipeline() {
	s.transport = analysis.NewTransport(s.cfg.Backend.BaseURL,
		analysis.WithRateLimit(s.cfg.Backend.RequestsPerMinute),
		analysis.WithProbeTimeout(s.cfg.Backend.ProbeTimeout),
	)
	s.orch = s.newOrchestrator()
}

func (s *Service) newOrchestrator() *analysis.Orchestrator {
	var sender analysis.Sender = s.transport
	if s.sender != nil {
		sender = s.sender
	}

	opts := []analysis.OrchestratorOption{
		analysis.WithLimits(Limits(s.cfg)),
		analysis.WithDefaultOptions(RequestOptions(s.cfg)),
		analysis.WithResultSink(s.history),
	}
	if s.store != nil {
		opts = append(opts, analysis.WithResultSink(s.store))
	}
	return analysis.NewOrchestrator(sender, opts...)
}

// Limits converts the analysis section to validator limits.
func Limits(cfg *config.Config) analysis.Limits {
	return analysis.Limits{
		MaxBytes: cfg.Analysis.MaxFileSizeMB * 1024 * 1024,
		MinBytes: cfg.Analysis.MinFileSizeBytes,
	}
}

// RequestOptions converts backend and retry settings to transport options.
func RequestOptions(cfg *config.Config) analysis.Options {
	return analysis.Options{
		Timeout:    cfg.Backend.Timeout,
		MaxRetries: cfg.Analysis.MaxRetries,
		RetryDelay: cfg.Analysis.RetryDelay,
	}
}

// Orchestrator returns the shared orchestrator used by the control server.
func (s *Service) Orchestrator() *analysis.Orchestrator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orch
}

func (s *Service) History() *analysis.History {
	return s.history
}

// Store returns the session store, or nil when persistence is disabled.
func (s *Service) Store() *store.Store {
	return s.store
}

// GetConfig returns the current configuration
func (s *Service) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Probe reports whether the analysis backend answers.
func (s *Service) Probe(ctx context.Context) bool {
	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	return t.Probe(ctx)
}

// Analyze starts the shared orchestrator on sample. It does not wait.
func (s *Service) Analyze(sample audio.Sample, duration time.Duration, persona analysis.Persona) error {
	s.warnOnUsage()
	err := s.Orchestrator().StartRequest(analysis.Request{Sample: sample, Duration: duration}, persona)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start analysis: %v", err))
		return err
	}
	s.clearLastError()
	return nil
}

// AnalyzeFile loads path and runs it through a dedicated orchestrator,
// blocking until a terminal state. Cancelling ctx cancels the attempt.
func (s *Service) AnalyzeFile(ctx context.Context, path string, opts FileOptions) (*analysis.Result, error) {
	sample, err := audio.LoadFile(path, opts.MIMEType, opts.Duration)
	if err != nil {
		return nil, err
	}

	if opts.Transcode {
		sample, err = s.shrinkIfNeeded(ctx, sample)
		if err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	orch := s.newOrchestrator()
	s.mu.RUnlock()

	if opts.Progress != nil {
		unsubscribe := orch.Subscribe(opts.Progress)
		defer unsubscribe()
	}

	s.warnOnUsage()
	req := analysis.Request{Sample: sample, Duration: opts.Duration}
	if err := orch.StartRequest(req, opts.Persona); err != nil {
		var aerr *analysis.Error
		if errors.As(err, &aerr) {
			return orch.Result(), nil
		}
		return nil, err
	}

	if err := orch.Wait(ctx); err != nil {
		orch.Cancel()
		return orch.Result(), err
	}
	return orch.Result(), nil
}

// shrinkIfNeeded transcodes samples over the size limit to Opus.
func (s *Service) shrinkIfNeeded(ctx context.Context, sample audio.Sample) (audio.Sample, error) {
	limits := Limits(s.GetConfig())
	if sample.Size() <= limits.MaxBytes || sample.Source == "" {
		return sample, nil
	}

	slog.Info("Audio exceeds size limit, transcoding", "file", sample.Source, "size", sample.Size())
	dir, err := os.MkdirTemp("", "pitchcoach-transcode-")
	if err != nil {
		return sample, fmt.Errorf("failed to create transcode directory: %w", err)
	}
	defer os.RemoveAll(dir)

	out, err := s.transcoder.ToOpus(ctx, sample.Source, dir)
	if err != nil {
		return sample, err
	}
	shrunk, err := audio.LoadFile(out, "", sample.Duration)
	if err != nil {
		return sample, err
	}
	shrunk.Source = sample.Source
	return shrunk, nil
}

// Usage reports free attempts, or a zero Usage when no store is configured.
func (s *Service) Usage(ctx context.Context) (store.Usage, error) {
	if s.store == nil {
		return store.Usage{CanAttempt: true}, nil
	}
	return s.store.Usage(ctx, s.GetConfig().Analysis.FreeAttempts)
}

func (s *Service) warnOnUsage() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	u, err := s.Usage(ctx)
	if err != nil {
		slog.Debug("Could not read usage", "error", err)
		return
	}
	if !u.CanAttempt {
		slog.Warn("Free analysis attempts used up", "total", u.TotalAttempts, "limit", u.Limit)
	}
}

// StartRecording begins a microphone capture
func (s *Service) StartRecording(name string) error {
	rec, err := s.getRecorder()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	s.clearLastError()
	if err := rec.Start(name); err != nil {
		slog.Error("Service.StartRecording failed", "error", err)
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	// A new take drops the previous analysis, in flight or finished.
	orch := s.Orchestrator()
	if orch.State() != analysis.StateIdle {
		slog.Debug("Resetting analysis for new recording", "recording", name)
	}
	orch.Reset()
	return nil
}

// StopRecording stops the capture and returns the sample
func (s *Service) StopRecording() (audio.Sample, error) {
	rec, err := s.getRecorder()
	if err != nil {
		return audio.Sample{}, err
	}
	sample, err := rec.Stop()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return audio.Sample{}, err
	}
	s.clearLastError()
	return sample, nil
}

func (s *Service) CancelRecording() error {
	rec, err := s.getRecorder()
	if err != nil {
		return err
	}
	return rec.Cancel()
}

// RecordingStatus returns the recorder state; STANDBY when no recorder exists yet.
func (s *Service) RecordingStatus() (audio.Status, *audio.SessionInfo) {
	s.mu.RLock()
	rec := s.recorder
	s.mu.RUnlock()
	if rec == nil {
		return audio.StatusStandby, nil
	}
	return rec.Status()
}

func (s *Service) getRecorder() (audio.Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recorder != nil {
		return s.recorder, nil
	}
	rec, err := audio.NewRecorder(s.cfg.Capture)
	if err != nil {
		return nil, err
	}
	s.recorder = rec
	return rec, nil
}

// LoadProfile reloads configuration with profile and rebuilds the pipeline.
// It refuses while an analysis is running.
func (s *Service) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orch.State() == analysis.StateAnalyzing {
		return analysis.ErrBusy
	}

	if s.recorder != nil {
		s.recorder.Cleanup()
		s.recorder = nil
	}

	s.cfg = newCfg
	s.transcoder = transcode.New(newCfg.Capture)
	s.buildPipeline()
	slog.Info("Profile loaded", "profile", profile, "backend", newCfg.Backend.BaseURL)
	return nil
}

// ListRecordings returns captured files, newest first
func (s *Service) ListRecordings() ([]RecordingInfo, error) {
	recordingDir := s.GetConfig().Capture.OutputDirectory

	files, err := os.ReadDir(recordingDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	supportedExts := map[string]bool{
		".webm": true,
		".ogg":  true,
		".opus": true,
		".wav":  true,
		".m4a":  true,
		".mp3":  true,
	}

	var recordings []RecordingInfo
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !supportedExts[ext] {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		recordings = append(recordings, RecordingInfo{
			Name:         file.Name(),
			Path:         filepath.Join(recordingDir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			Extension:    strings.TrimPrefix(ext, "."),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

// Close releases the recorder and the store.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orch != nil {
		s.orch.Cancel()
	}
	if s.recorder != nil {
		s.recorder.Cleanup()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// GetLastError returns the last error message (thread-safe)
func (s *Service) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *Service) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

func (s *Service) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
