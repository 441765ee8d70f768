package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/micdrop/pitchcoach/internal/audio"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateAnalyzing State = "analyzing"
	StateComplete  State = "complete"
	StateError     State = "error"
)

// Persona is the practice audience chosen for a recording.
type Persona struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Completed describes a successful analysis handed to result sinks.
type Completed struct {
	AttemptID      string
	Request        Request
	Persona        Persona
	Metrics        PitchMetrics
	Transcription  string
	Emotion        EmotionAnalysis
	ProcessingTime time.Duration
	CompletedAt    time.Time
}

// ResultSink persists or aggregates successful analyses.
type ResultSink interface {
	RecordAnalysis(ctx context.Context, c Completed) error
}

// Result is the terminal outcome of the latest attempt.
type Result struct {
	Success        bool          `json:"success"`
	Metrics        *PitchMetrics `json:"metrics,omitempty"`
	Transcription  string        `json:"transcription,omitempty"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
	Err            *Error        `json:"error,omitempty"`
}

// Snapshot is a copy of the orchestrator state.
type Snapshot struct {
	State          State         `json:"state"`
	AttemptID      string        `json:"attempt_id,omitempty"`
	Progress       Progress      `json:"progress"`
	Metrics        *PitchMetrics `json:"metrics,omitempty"`
	Transcription  string        `json:"transcription,omitempty"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
	Err            *Error        `json:"error,omitempty"`
	RetryCount     int           `json:"retry_count"`
	Validation     *Info         `json:"validation,omitempty"`
	Persona        Persona       `json:"persona"`
	HasRequest     bool          `json:"has_request"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
}

// attempt is one run of validate, send and transform.
type attempt struct {
	token  uint64
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (a *attempt) finish() {
	a.once.Do(func() {
		a.cancel()
		close(a.done)
	})
}

// Orchestrator runs at most one analysis at a time. Every asynchronous
// callback carries the token of the attempt that produced it and is dropped
// unless that token is still the active one.
//
// Progress subscribers are called synchronously and must not call Start,
// Retry, Cancel or Reset from inside the callback.
type Orchestrator struct {
	sender   Sender
	tracker  *Tracker
	limits   Limits
	defaults Options
	sinks    []ResultSink
	now      func() time.Time

	// emitMu serializes progress emission with token changes. Lock order is
	// emitMu then mu.
	emitMu sync.Mutex

	mu             sync.Mutex
	state          State
	token          uint64
	current        *attempt
	lastReq        *Request
	persona        Persona
	metrics        *PitchMetrics
	transcription  string
	processingTime time.Duration
	err            *Error
	retryCount     int
	validation     *Info
	startedAt      time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithLimits(l Limits) OrchestratorOption {
	return func(o *Orchestrator) { o.limits = l }
}

// WithDefaultOptions sets the values used for zero fields of a request's Options.
func WithDefaultOptions(opts Options) OrchestratorOption {
	return func(o *Orchestrator) { o.defaults = opts.withDefaults() }
}

func WithResultSink(s ResultSink) OrchestratorOption {
	return func(o *Orchestrator) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

func WithTracker(t *Tracker) OrchestratorOption {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracker = t
		}
	}
}

// NewOrchestrator creates an idle orchestrator around sender.
func NewOrchestrator(sender Sender, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		sender:   sender,
		tracker:  NewTracker(),
		limits:   DefaultLimits(),
		defaults: DefaultOptions(),
		now:      time.Now,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers a progress callback.
func (o *Orchestrator) Subscribe(fn func(Progress)) func() {
	return o.tracker.Subscribe(fn)
}

// Start begins an analysis. It returns ErrBusy while another attempt is
// running, and the validation *Error when the sample is rejected locally.
func (o *Orchestrator) Start(sample audio.Sample, duration time.Duration, opts Options) error {
	return o.StartRequest(Request{Sample: sample, Duration: duration, Options: opts}, Persona{})
}

// StartRequest is Start with an explicit request and persona.
func (o *Orchestrator) StartRequest(req Request, persona Persona) error {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	if o.state == StateAnalyzing {
		o.mu.Unlock()
		slog.Warn("Analysis already in progress, ignoring start request")
		return ErrBusy
	}
	o.persona = persona
	return o.launchLocked(req)
}

// Retry re-runs the last request.
func (o *Orchestrator) Retry() error {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	switch {
	case o.lastReq == nil:
		o.mu.Unlock()
		slog.Debug("No previous analysis to retry")
		return ErrNoPreviousRequest
	case o.state == StateAnalyzing:
		o.mu.Unlock()
		slog.Warn("Analysis already in progress, ignoring retry")
		return ErrBusy
	case o.err != nil && o.err.Kind == KindAuthentication:
		o.mu.Unlock()
		slog.Warn("Refusing to retry after authentication failure")
		return ErrNotRetryable
	}

	o.retryCount++
	req := *o.lastReq
	slog.Info("Retrying analysis", "retry_count", o.retryCount)
	return o.launchLocked(req)
}

// launchLocked must be called with emitMu and mu held; it releases mu.
func (o *Orchestrator) launchLocked(req Request) error {
	req.Options = o.mergeOptions(req.Options)

	o.token++
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		token:  o.token,
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	stored := req
	o.current = a
	o.lastReq = &stored
	o.state = StateAnalyzing
	o.metrics = nil
	o.transcription = ""
	o.processingTime = 0
	o.err = nil
	o.startedAt = o.now()

	vr := Validate(req.Sample, o.limits)
	info := vr.Info
	o.validation = &info
	if !vr.Valid {
		o.state = StateError
		o.err = vr.Err
		o.mu.Unlock()

		slog.Warn("Audio validation failed", "attempt", a.id, "error", vr.Err.Message, "size_mb", info.SizeMB, "type", info.MIMEType)
		o.tracker.Reset()
		o.tracker.Fail(vr.Err.Message)
		a.finish()
		return vr.Err
	}
	o.mu.Unlock()

	slog.Info("Audio validated", "attempt", a.id, "size_mb", info.SizeMB, "type", info.MIMEType, "seconds", info.Seconds)
	o.tracker.Reset()

	go o.run(ctx, a, req)
	return nil
}

func (o *Orchestrator) mergeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = o.defaults.Timeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = o.defaults.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = o.defaults.RetryDelay
	}
	return opts
}

func (o *Orchestrator) run(ctx context.Context, a *attempt, req Request) {
	res, err := o.send(ctx, a, req)
	if err != nil {
		o.fail(a, classify(err))
		return
	}

	metrics, err := safeTransform(res, req)
	if err != nil {
		o.fail(a, classify(err))
		return
	}
	o.succeed(a, req, res, metrics)
}

func (o *Orchestrator) send(ctx context.Context, a *attempt, req Request) (res *BackendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Analysis transport panicked", "attempt", a.id, "panic", r)
			err = unknownError(fmt.Errorf("transport panic: %v", r))
		}
	}()
	res, err = o.sender.Send(ctx, req, attemptSink{o: o, token: a.token})
	if err == nil && res == nil {
		err = unknownError(fmt.Errorf("empty analysis result"))
	}
	return res, err
}

func safeTransform(res *BackendResult, req Request) (m PitchMetrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = unknownError(fmt.Errorf("transform panic: %v", r))
		}
	}()
	return Transform(*res, time.Duration(req.Seconds()*float64(time.Second))), nil
}

func (o *Orchestrator) fail(a *attempt, e *Error) {
	o.emitMu.Lock()
	o.mu.Lock()
	if o.token != a.token || o.state != StateAnalyzing {
		o.mu.Unlock()
		o.emitMu.Unlock()
		slog.Debug("Discarding stale attempt failure", "attempt", a.id, "error", e)
		return
	}
	o.state = StateError
	o.err = e
	o.mu.Unlock()

	slog.Error("Analysis failed", "attempt", a.id, "kind", e.Kind, "retryable", e.Retryable, "message", e.Message, "details", e.Details)
	o.tracker.Fail(e.Message)
	o.emitMu.Unlock()
	a.finish()
}

func (o *Orchestrator) succeed(a *attempt, req Request, res *BackendResult, m PitchMetrics) {
	o.emitMu.Lock()
	o.mu.Lock()
	if o.token != a.token || o.state != StateAnalyzing {
		o.mu.Unlock()
		o.emitMu.Unlock()
		slog.Debug("Discarding stale attempt result", "attempt", a.id)
		return
	}
	now := o.now()
	o.state = StateComplete
	o.metrics = &m
	o.transcription = res.Transcription
	o.processingTime = now.Sub(o.startedAt)
	o.retryCount = 0
	completed := Completed{
		AttemptID:      a.id,
		Request:        req,
		Persona:        o.persona,
		Metrics:        m,
		Transcription:  res.Transcription,
		Emotion:        res.EmotionAnalysis,
		ProcessingTime: o.processingTime,
		CompletedAt:    now,
	}
	sinks := o.sinks
	o.mu.Unlock()

	slog.Info("Analysis complete", "attempt", a.id, "overall_score", m.OverallScore, "processing_time", completed.ProcessingTime)
	o.tracker.Complete(m.OverallScore)
	o.emitMu.Unlock()

	for _, sink := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := sink.RecordAnalysis(ctx, completed); err != nil {
			slog.Error("Failed to record analysis result", "attempt", a.id, "error", err)
		}
		cancel()
	}
	a.finish()
}

// Cancel aborts the in-flight attempt. It reports whether anything was
// cancelled.
func (o *Orchestrator) Cancel() bool {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	if o.state != StateAnalyzing || o.current == nil {
		o.mu.Unlock()
		return false
	}
	a := o.current
	o.token++
	e := cancelledError()
	o.state = StateError
	o.err = e
	o.mu.Unlock()

	a.finish()
	slog.Info("Analysis cancelled", "attempt", a.id)
	o.tracker.Fail(e.Message)
	return true
}

// Reset cancels anything in flight and returns to idle, forgetting the
// stored request. Call it before starting a new recording.
func (o *Orchestrator) Reset() {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	a := o.current
	o.token++
	o.current = nil
	o.state = StateIdle
	o.lastReq = nil
	o.persona = Persona{}
	o.metrics = nil
	o.transcription = ""
	o.processingTime = 0
	o.err = nil
	o.retryCount = 0
	o.validation = nil
	o.mu.Unlock()

	if a != nil {
		a.finish()
	}
	o.tracker.Reset()
}

// ClearError drops the error. An error state becomes idle.
func (o *Orchestrator) ClearError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = nil
	if o.state == StateError {
		o.state = StateIdle
	}
}

// ClearResults drops metrics, error and retry count. A terminal state
// becomes idle; a running attempt is left alone.
func (o *Orchestrator) ClearResults() {
	o.mu.Lock()
	o.metrics = nil
	o.transcription = ""
	o.processingTime = 0
	o.err = nil
	o.retryCount = 0
	analyzing := o.state == StateAnalyzing
	if o.state == StateComplete || o.state == StateError {
		o.state = StateIdle
	}
	o.mu.Unlock()

	if !analyzing {
		o.tracker.Reset()
	}
}

// Wait blocks until the current attempt reaches a terminal state.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	a := o.current
	o.mu.Unlock()
	if a == nil {
		return nil
	}
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Progress returns the current tracker state.
func (o *Orchestrator) Progress() Progress {
	return o.tracker.Current()
}

// Snapshot returns a copy of the full state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	s := Snapshot{
		State:          o.state,
		Transcription:  o.transcription,
		ProcessingTime: o.processingTime,
		RetryCount:     o.retryCount,
		Persona:        o.persona,
		HasRequest:     o.lastReq != nil,
		StartedAt:      o.startedAt,
	}
	if o.current != nil {
		s.AttemptID = o.current.id
	}
	if o.metrics != nil {
		m := *o.metrics
		s.Metrics = &m
	}
	if o.err != nil {
		e := *o.err
		s.Err = &e
	}
	if o.validation != nil {
		v := *o.validation
		s.Validation = &v
	}
	o.mu.Unlock()

	s.Progress = o.tracker.Current()
	return s
}

// Result returns the outcome of the last attempt, or nil while idle or
// analyzing.
func (o *Orchestrator) Result() *Result {
	s := o.Snapshot()
	switch s.State {
	case StateComplete:
		return &Result{Success: true, Metrics: s.Metrics, Transcription: s.Transcription, ProcessingTime: s.ProcessingTime}
	case StateError:
		return &Result{Success: false, Err: s.Err}
	}
	return nil
}

func (o *Orchestrator) emit(token uint64, fn func()) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	active := o.token == token && o.state == StateAnalyzing
	o.mu.Unlock()
	if active {
		fn()
	}
}

// attemptSink forwards transport checkpoints for one attempt only.
type attemptSink struct {
	o     *Orchestrator
	token uint64
}

func (s attemptSink) StartUpload()    { s.o.emit(s.token, s.o.tracker.StartUpload) }
func (s attemptSink) UploadComplete() { s.o.emit(s.token, s.o.tracker.UploadComplete) }
func (s attemptSink) StartAnalysis()  { s.o.emit(s.token, s.o.tracker.StartAnalysis) }
