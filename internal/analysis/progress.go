package analysis

import (
	"fmt"
	"sync"
)

// Stage is a named phase of an attempt.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StageProcessing Stage = "processing"
	StageAnalyzing  Stage = "analyzing"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// Progress is the state reported to subscribers. ETA is in seconds.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	ETA     *int   `json:"eta_seconds,omitempty"`
}

// Update is a partial Progress. Nil fields keep their current value;
// ClearETA drops the estimate.
type Update struct {
	Stage    Stage
	Percent  *int
	Message  *string
	ETA      *int
	ClearETA bool
}

// ProgressSink receives checkpoint notifications from the transport.
type ProgressSink interface {
	StartUpload()
	UploadComplete()
	StartAnalysis()
}

type subscriber struct {
	id int
	fn func(Progress)
}

// Tracker merges updates into a current Progress and fans them out to
// subscribers synchronously, in subscription order. Updates published with
// no subscribers are not replayed later.
type Tracker struct {
	mu      sync.Mutex
	current Progress
	subs    []subscriber
	nextID  int
}

// NewTracker returns a tracker in its initial state.
func NewTracker() *Tracker {
	return &Tracker{current: initialProgress()}
}

func initialProgress() Progress {
	return Progress{Stage: StageUploading, Message: "Preparing audio upload..."}
}

// Subscribe registers fn and returns a function that removes it.
func (t *Tracker) Subscribe(fn func(Progress)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// Current returns a copy of the merged state.
func (t *Tracker) Current() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyProgress(t.current)
}

// Reset restores the initial state without notifying.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.current = initialProgress()
	t.mu.Unlock()
}

// Update merges u and notifies subscribers.
func (t *Tracker) Update(u Update) {
	t.mu.Lock()
	if u.Stage != "" {
		t.current.Stage = u.Stage
	}
	if u.Percent != nil {
		p := *u.Percent
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		t.current.Percent = p
	}
	if u.Message != nil {
		t.current.Message = *u.Message
	}
	if u.ClearETA {
		t.current.ETA = nil
	} else if u.ETA != nil {
		eta := *u.ETA
		t.current.ETA = &eta
	}
	snapshot := copyProgress(t.current)
	subs := make([]subscriber, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	// Callbacks run outside the lock so they may call Current or Subscribe.
	for _, s := range subs {
		s.fn(copyProgress(snapshot))
	}
}

func (t *Tracker) checkpoint(stage Stage, percent int, message string, eta int) {
	t.Update(Update{Stage: stage, Percent: &percent, Message: &message, ETA: &eta})
}

func (t *Tracker) StartUpload() {
	t.checkpoint(StageUploading, 10, "Uploading audio file...", 15)
}

func (t *Tracker) UploadComplete() {
	t.checkpoint(StageProcessing, 30, "Processing audio data...", 20)
}

func (t *Tracker) StartAnalysis() {
	t.checkpoint(StageAnalyzing, 60, "Analyzing speech patterns and emotions...", 10)
}

// Complete reports the final score.
func (t *Tracker) Complete(overallScore int) {
	t.checkpoint(StageComplete, 100, fmt.Sprintf("Analysis complete! Overall score: %d%%", overallScore), 0)
}

// Fail reports an error and clears the estimate.
func (t *Tracker) Fail(message string) {
	percent := 0
	t.Update(Update{Stage: StageError, Percent: &percent, Message: &message, ClearETA: true})
}

func copyProgress(p Progress) Progress {
	if p.ETA != nil {
		eta := *p.ETA
		p.ETA = &eta
	}
	return p
}
