package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/micdrop/pitchcoach/internal/audio"
)

const (
	DefaultTimeout      = 60 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultProbeTimeout = 5 * time.Second

	analyzePath      = "/analyze-pitch"
	maxResponseBytes = 4 << 20
	maxErrorDetail   = 512
)

// Options control a single Send call. MaxRetries is the total number of
// attempts, including the first.
type Options struct {
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
}

// DefaultOptions returns 60s / 3 attempts / 2s.
func DefaultOptions() Options {
	return Options{Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// Request is one analysis submission. Duration overrides Sample.Duration
// when set.
type Request struct {
	Sample   audio.Sample
	Duration time.Duration
	Options  Options
}

// Seconds returns the duration reported to the backend.
func (r Request) Seconds() float64 {
	if r.Duration > 0 {
		return r.Duration.Seconds()
	}
	return r.Sample.Seconds()
}

// Sender submits a request and returns the decoded backend result.
type Sender interface {
	Send(ctx context.Context, req Request, sink ProgressSink) (*BackendResult, error)
}

// Transport is the HTTP Sender for the analysis backend.
type Transport struct {
	baseURL      string
	client       *http.Client
	limiter      *rate.Limiter
	probeTimeout time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHTTPClient replaces the default client. Timeouts are applied per
// attempt through the request context, so the client should not set one.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) { t.client = c }
}

// WithRateLimit caps outgoing attempts per minute. Zero disables it.
func WithRateLimit(perMinute int) TransportOption {
	return func(t *Transport) {
		if perMinute <= 0 {
			t.limiter = nil
			return
		}
		t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// WithProbeTimeout sets the connectivity probe timeout.
func WithProbeTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.probeTimeout = d
		}
	}
}

// NewTransport creates a Transport for baseURL.
func NewTransport(baseURL string, opts ...TransportOption) *Transport {
	t := &Transport{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{},
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseURL returns the configured backend URL.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// Send posts the sample and retries retryable failures with a linear
// backoff of RetryDelay*attempt. Cancelling ctx stops immediately with a
// cancellation error.
func (t *Transport) Send(ctx context.Context, req Request, sink ProgressSink) (*BackendResult, error) {
	opts := req.Options.withDefaults()
	if sink == nil {
		sink = noopSink{}
	}

	// Built once and replayed for every attempt of this request.
	body, err := buildPayload(req, t.now())
	if err != nil {
		return nil, unknownError(fmt.Errorf("failed to build upload: %w", err))
	}

	var lastErr *Error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, cancelledError()
		}

		res, err := t.attempt(ctx, body, opts.Timeout, sink)
		if err == nil {
			slog.Debug("Analysis request succeeded", "attempt", attempt)
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, cancelledError()
		}

		lastErr = classify(err)
		slog.Warn("Analysis attempt failed",
			"attempt", attempt,
			"max_attempts", opts.MaxRetries,
			"kind", lastErr.Kind,
			"retryable", lastErr.Retryable,
			"error", lastErr.Details,
		)

		if !lastErr.Retryable || attempt == opts.MaxRetries {
			return nil, lastErr
		}

		delay := opts.RetryDelay * time.Duration(attempt)
		slog.Debug("Retrying analysis request", "attempt", attempt+1, "delay", delay)
		if err := t.sleep(ctx, delay); err != nil {
			return nil, cancelledError()
		}
	}
	return nil, lastErr
}

func (t *Transport) attempt(ctx context.Context, p *payload, timeout time.Duration, sink ProgressSink) (*BackendResult, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	sink.StartUpload()

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(actx, http.MethodPost, t.baseURL+analyzePath, bytes.NewReader(p.body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", p.contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	sink.UploadComplete()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, truncate(string(data), maxErrorDetail))
	}

	sink.StartAnalysis()

	result, err := DecodeBackendResult(data)
	if err != nil {
		return nil, &Error{
			Kind:       KindUnknown,
			Message:    "Invalid response from analysis service.",
			Details:    err.Error(),
			Retryable:  true,
			RetryAfter: 5 * time.Second,
			Err:        err,
		}
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "Analysis failed"
		}
		return nil, &Error{
			Kind:       KindUnknown,
			Message:    msg,
			Details:    truncate(string(data), maxErrorDetail),
			Retryable:  true,
			RetryAfter: 5 * time.Second,
		}
	}
	return result, nil
}

// Probe reports whether the backend root answers with a 2xx.
func (t *Transport) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/", nil)
	if err != nil {
		slog.Debug("Backend probe request invalid", "error", err)
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		slog.Debug("Backend probe failed", "url", t.baseURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

type payload struct {
	body        []byte
	contentType string
}

func buildPayload(req Request, now time.Time) (*payload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	sample := req.Sample
	mimeType := sample.MIMEType
	if mimeType == "" {
		mimeType = audio.DefaultMIMEType
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, sample.UploadName(now)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(sample.Data); err != nil {
		return nil, err
	}

	fields := [][2]string{
		{"duration", strconv.FormatFloat(req.Seconds(), 'f', -1, 64)},
		{"timestamp", now.UTC().Format("2006-01-02T15:04:05.000Z07:00")},
		{"size", strconv.FormatInt(sample.Size(), 10)},
		{"type", mimeType},
		{"analysisType", "pitch"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return &payload{body: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type noopSink struct{}

func (noopSink) StartUpload()    {}
func (noopSink) UploadComplete() {}
func (noopSink) StartAnalysis()  {}
