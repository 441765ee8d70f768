package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/micdrop/pitchcoach/internal/audio"
)

// fakeSender delegates each call to fn with its 1-based call number.
type fakeSender struct {
	mu       sync.Mutex
	calls    int
	requests []Request
	fn       func(ctx context.Context, call int, sink ProgressSink) (*BackendResult, error)
}

func (f *fakeSender) Send(ctx context.Context, req Request, sink ProgressSink) (*BackendResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(ctx, call, sink)
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSender) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func succeedWith(res BackendResult) func(context.Context, int, ProgressSink) (*BackendResult, error) {
	return func(_ context.Context, _ int, sink ProgressSink) (*BackendResult, error) {
		sink.StartUpload()
		sink.UploadComplete()
		sink.StartAnalysis()
		return &res, nil
	}
}

// blockUntilCancelled simulates a request that only ends when aborted.
func blockUntilCancelled(started chan<- struct{}) func(context.Context, int, ProgressSink) (*BackendResult, error) {
	return func(ctx context.Context, _ int, sink ProgressSink) (*BackendResult, error) {
		sink.StartUpload()
		close(started)
		<-ctx.Done()
		return nil, cancelledError()
	}
}

func waitFor(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))
}

func validSample() audio.Sample {
	return sampleOfSize(2*bytesPerMB, "audio/webm")
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	req := require.New(t)

	// Given a backend that succeeds on the first attempt
	sender := &fakeSender{fn: succeedWith(backendResult(70, 80, 75, 65,
		"Hello, we have a problem with onboarding and our solution reduces churn, please contact us"))}
	history := NewHistory(10)
	o := NewOrchestrator(sender, WithResultSink(history))

	var mu sync.Mutex
	var stages []Stage
	o.Subscribe(func(p Progress) {
		mu.Lock()
		stages = append(stages, p.Stage)
		mu.Unlock()
	})

	// When a 45 second, 2 MB webm sample is analyzed
	req.NoError(o.Start(validSample(), 45*time.Second, Options{}))
	waitFor(t, o)

	// Then the metrics are stored and progress ran through every stage
	snap := o.Snapshot()
	req.Equal(StateComplete, snap.State)
	req.NotNil(snap.Metrics)
	req.Equal(73, snap.Metrics.OverallScore)
	req.True(snap.Metrics.Structure.HasIntro)
	req.True(snap.Metrics.Structure.HasProblem)
	req.True(snap.Metrics.Structure.HasSolution)
	req.True(snap.Metrics.Structure.HasCall)
	req.Equal(100, snap.Metrics.Structure.Score)
	req.Nil(snap.Err)
	req.NotNil(snap.Validation)
	req.Equal(2.0, snap.Validation.SizeMB)
	req.Equal(StageComplete, snap.Progress.Stage)
	req.Equal(100, snap.Progress.Percent)

	mu.Lock()
	req.Equal([]Stage{StageUploading, StageProcessing, StageAnalyzing, StageComplete}, stages)
	mu.Unlock()

	result := o.Result()
	req.True(result.Success)
	req.Equal(73, result.Metrics.OverallScore)
	req.Contains(result.Transcription, "onboarding")

	req.Len(history.Entries(), 1)
	req.Equal(snap.AttemptID, history.Entries()[0].ID)
	req.Equal(45*time.Second, history.Entries()[0].Duration)
}

func TestOrchestrator_StartWhileAnalyzingIsRejected(t *testing.T) {
	req := require.New(t)

	started := make(chan struct{})
	sender := &fakeSender{fn: blockUntilCancelled(started)}
	o := NewOrchestrator(sender)

	req.NoError(o.Start(validSample(), 45*time.Second, Options{}))
	<-started

	err := o.Start(validSample(), 45*time.Second, Options{})
	req.ErrorIs(err, ErrBusy)
	req.Equal(StateAnalyzing, o.State())
	req.Equal(1, sender.Calls())

	req.True(o.Cancel())
}

func TestOrchestrator_CancelProducesDistinctError(t *testing.T) {
	req := require.New(t)

	// Given an attempt stuck on the network
	started := make(chan struct{})
	sender := &fakeSender{fn: blockUntilCancelled(started)}
	o := NewOrchestrator(sender)
	req.NoError(o.Start(validSample(), 45*time.Second, Options{}))
	<-started

	// When the user cancels
	req.True(o.Cancel())
	waitFor(t, o)

	// Then the state is a non-retryable cancellation
	snap := o.Snapshot()
	req.Equal(StateError, snap.State)
	req.NotNil(snap.Err)
	req.True(snap.Err.Cancelled)
	req.False(snap.Err.Retryable)
	req.Equal(CancelledMessage, snap.Err.Message)
	req.Equal(StageError, snap.Progress.Stage)
	req.Equal(CancelledMessage, snap.Progress.Message)

	// And a second cancel is a no-op
	req.False(o.Cancel())
}

func TestOrchestrator_StaleAttemptIsDiscarded(t *testing.T) {
	req := require.New(t)

	// Given attempt A whose network call ignores cancellation and resolves late
	startedA := make(chan struct{})
	releaseA := make(chan struct{})
	returnedA := make(chan struct{})
	startedB := make(chan struct{})
	releaseB := make(chan struct{})

	sender := &fakeSender{fn: func(ctx context.Context, call int, sink ProgressSink) (*BackendResult, error) {
		if call == 1 {
			close(startedA)
			<-releaseA
			sink.StartAnalysis()
			res := backendResult(10, 10, 10, 10, "late")
			defer close(returnedA)
			return &res, nil
		}
		sink.StartUpload()
		close(startedB)
		<-releaseB
		sink.UploadComplete()
		sink.StartAnalysis()
		res := backendResult(90, 90, 90, 90, "fresh")
		return &res, nil
	}}
	history := NewHistory(10)
	o := NewOrchestrator(sender, WithResultSink(history))

	var mu sync.Mutex
	var messages []string
	o.Subscribe(func(p Progress) {
		mu.Lock()
		messages = append(messages, string(p.Stage))
		mu.Unlock()
	})

	req.NoError(o.Start(validSample(), 45*time.Second, Options{}))
	<-startedA

	// When A is cancelled and B started before A resolves
	req.True(o.Cancel())
	req.NoError(o.Start(validSample(), 30*time.Second, Options{}))
	<-startedB
	attemptB := o.Snapshot().AttemptID

	close(releaseA)
	<-returnedA
	time.Sleep(50 * time.Millisecond)

	// Then A's late result changed nothing
	snap := o.Snapshot()
	req.Equal(StateAnalyzing, snap.State)
	req.Equal(attemptB, snap.AttemptID)
	req.Nil(snap.Metrics)
	req.Nil(snap.Err)
	req.Equal(StageUploading, snap.Progress.Stage)
	req.Empty(history.Entries())

	// And B completes normally
	close(releaseB)
	waitFor(t, o)
	snap = o.Snapshot()
	req.Equal(StateComplete, snap.State)
	req.Equal(90, snap.Metrics.OverallScore)
	req.Equal("fresh", snap.Transcription)
	req.Len(history.Entries(), 1)

	mu.Lock()
	req.Equal([]string{"error", "uploading", "processing", "analyzing", "complete"}, messages)
	mu.Unlock()
}

func TestOrchestrator_RetryWithoutPreviousRequestIsNoop(t *testing.T) {
	req := require.New(t)

	sender := &fakeSender{fn: succeedWith(backendResult(50, 50, 50, 50, ""))}
	o := NewOrchestrator(sender)

	req.ErrorIs(o.Retry(), ErrNoPreviousRequest)
	req.Equal(StateIdle, o.State())
	req.Equal(0, sender.Calls())
}

func TestOrchestrator_RetryReplaysStoredRequest(t *testing.T) {
	req := require.New(t)

	// Given a first attempt that fails with a retryable processing error
	release := make(chan struct{})
	sender := &fakeSender{fn: func(_ context.Context, call int, _ ProgressSink) (*BackendResult, error) {
		if call == 1 {
			return nil, statusError(http.StatusInternalServerError, "worker crashed")
		}
		<-release
		res := backendResult(60, 60, 60, 60, "hello")
		return &res, nil
	}}
	o := NewOrchestrator(sender, WithDefaultOptions(Options{Timeout: 5 * time.Second, MaxRetries: 2, RetryDelay: time.Millisecond}))
	sample := validSample()
	req.NoError(o.Start(sample, 45*time.Second, Options{}))
	waitFor(t, o)

	snap := o.Snapshot()
	req.Equal(StateError, snap.State)
	req.Equal(KindProcessing, snap.Err.Kind)
	req.Equal("Server error during analysis. Please try again.", snap.Err.Message)
	req.Equal("worker crashed", snap.Err.Details)

	// When the user retries
	req.NoError(o.Retry())
	req.Equal(1, o.Snapshot().RetryCount)
	close(release)
	waitFor(t, o)

	// Then the same request was replayed and the counter reset on success
	snap = o.Snapshot()
	req.Equal(StateComplete, snap.State)
	req.Equal(0, snap.RetryCount)

	requests := sender.Requests()
	req.Len(requests, 2)
	req.Equal(sample.ID, requests[1].Sample.ID)
	req.Equal(45*time.Second, requests[1].Duration)
	req.Equal(Options{Timeout: 5 * time.Second, MaxRetries: 2, RetryDelay: time.Millisecond}, requests[1].Options)
}

func TestOrchestrator_RetryRefusedAfterAuthenticationFailure(t *testing.T) {
	req := require.New(t)

	sender := &fakeSender{fn: func(context.Context, int, ProgressSink) (*BackendResult, error) {
		return nil, statusError(http.StatusUnauthorized, "")
	}}
	o := NewOrchestrator(sender)
	req.NoError(o.Start(validSample(), 45*time.Second, Options{}))
	waitFor(t, o)

	req.Equal(KindAuthentication, o.Snapshot().Err.Kind)
	req.ErrorIs(o.Retry(), ErrNotRetryable)
	req.Equal(1, sender.Calls())
}

func TestOrchestrator_RetryAfterCancelIsAllowed(t *testing.T) {
	req := require.New(t)

	started := make(chan struct{})
	sender := &fakeSender{fn: func(ctx context.Context, call int, sink ProgressSink) (*BackendResult, error) {
		if call == 1 {
			return blockUntilCancelled(started)(ctx, call, sink)
		}
		return succeedWith(backendResult(80, 80, 80, 80, ""))(ctx, call, sink)
	}}
	o := NewOrchestrator(sender)
	req.NoError(o.Start(validSample(), 45*time.Second, Options{}))
	<-started
	o.Cancel()

	req.NoError(o.Retry())
	waitFor(t, o)
	req.Equal(StateComplete, o.State())
}

func TestOrchestrator_ValidationFailureSkipsNetwork(t *testing.T) {
	req := require.New(t)

	sender := &fakeSender{fn: succeedWith(BackendResult{Success: true})}
	o := NewOrchestrator(sender)

	err := o.Start(sampleOfSize(100, "audio/webm"), time.Second, Options{})

	ae, ok := AsError(err)
	req.True(ok)
	req.Equal(KindValidation, ae.Kind)
	waitFor(t, o)
	req.Equal(StateError, o.State())
	req.Equal(0, sender.Calls())
	req.Equal("Audio file too small. Please record at least 1 second of audio.", o.Progress().Message)
}

func TestOrchestrator_PanicIsNormalizedToUnknown(t *testing.T) {
	req := require.New(t)

	sender := &fakeSender{fn: func(context.Context, int, ProgressSink) (*BackendResult, error) {
		panic("decoder exploded")
	}}
	o := NewOrchestrator(sender)
	req.NoError(o.Start(validSample(), 45*time.Second, Options{}))
	waitFor(t, o)

	snap := o.Snapshot()
	req.Equal(StateError, snap.State)
	req.Equal(KindUnknown, snap.Err.Kind)
	req.True(snap.Err.Retryable)
	req.Contains(snap.Err.Details, "decoder exploded")
}

func TestOrchestrator_UnclassifiedErrorIsUnknownRetryable(t *testing.T) {
	req := require.New(t)

	sender := &fakeSender{fn: func(context.Context, int, ProgressSink) (*BackendResult, error) {
		return nil, errors.New("unexpected end of JSON input")
	}}
	o := NewOrchestrator(sender)
	req.NoError(o.Start(validSample(), 45*time.Second, Options{}))
	waitFor(t, o)

	snap := o.Snapshot()
	req.Equal(KindUnknown, snap.Err.Kind)
	req.True(snap.Err.Retryable)
	req.NotEmpty(snap.Err.Message)
	req.Equal("unexpected end of JSON input", snap.Err.Details)
}

func TestOrchestrator_TransportTimeoutEndsInError(t *testing.T) {
	req := require.New(t)

	// Given a backend that never answers
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	o := NewOrchestrator(NewTransport(srv.URL))

	// When analyzed with a short timeout and a single attempt
	req.NoError(o.Start(validSample(), 45*time.Second, Options{Timeout: 50 * time.Millisecond, MaxRetries: 1}))
	waitFor(t, o)

	// Then the machine is not left analyzing
	snap := o.Snapshot()
	req.Equal(StateError, snap.State)
	req.Equal(KindNetwork, snap.Err.Kind)
	req.True(snap.Err.Retryable)
}

func TestOrchestrator_ClearErrorAndResults(t *testing.T) {
	req := require.New(t)

	sender := &fakeSender{fn: func(_ context.Context, call int, sink ProgressSink) (*BackendResult, error) {
		if call == 1 {
			return nil, statusError(http.StatusTooManyRequests, "")
		}
		return succeedWith(backendResult(50, 50, 50, 50, ""))(context.Background(), call, sink)
	}}
	o := NewOrchestrator(sender)
	req.NoError(o.Start(validSample(), 45*time.Second, Options{MaxRetries: 1}))
	waitFor(t, o)
	req.Equal(KindQuota, o.Snapshot().Err.Kind)

	o.ClearError()
	o.ClearError()
	snap := o.Snapshot()
	req.Equal(StateIdle, snap.State)
	req.Nil(snap.Err)
	req.True(snap.HasRequest)

	req.NoError(o.Retry())
	waitFor(t, o)
	req.Equal(StateComplete, o.State())

	o.ClearResults()
	o.ClearResults()
	snap = o.Snapshot()
	req.Equal(StateIdle, snap.State)
	req.Nil(snap.Metrics)
	req.Empty(snap.Transcription)
	req.Zero(snap.ProcessingTime)
	req.Equal(0, snap.RetryCount)
	req.Equal(0, snap.Progress.Percent)
}

func TestOrchestrator_ResetCancelsAndForgetsRequest(t *testing.T) {
	req := require.New(t)

	started := make(chan struct{})
	sender := &fakeSender{fn: blockUntilCancelled(started)}
	o := NewOrchestrator(sender)
	req.NoError(o.Start(validSample(), 45*time.Second, Options{}))
	<-started

	o.Reset()

	snap := o.Snapshot()
	req.Equal(StateIdle, snap.State)
	req.False(snap.HasRequest)
	req.Nil(snap.Err)
	req.ErrorIs(o.Retry(), ErrNoPreviousRequest)
	req.Nil(o.Result())
}
