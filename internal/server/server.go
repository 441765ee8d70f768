package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/micdrop/pitchcoach/internal/analysis"
	"github.com/micdrop/pitchcoach/internal/audio"
	"github.com/micdrop/pitchcoach/internal/service"
	"github.com/micdrop/pitchcoach/internal/store"
)

// multipartOverhead is allowed on top of the sample size limit
const multipartOverhead = 1 << 20

// Server exposes the analysis pipeline and recorder over local HTTP
type Server struct {
	service *service.Service
	addr    string
	mux     *http.ServeMux
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Success         bool               `json:"success"`
	Analysis        analysis.Snapshot  `json:"analysis"`
	Message         string             `json:"message,omitempty"`
	RecordingStatus string             `json:"recording_status"`
	Recording       *audio.SessionInfo `json:"recording,omitempty"`
	Backend         string             `json:"backend"`
	Profile         string             `json:"profile,omitempty"`
	LastError       string             `json:"last_error,omitempty"`
}

// StatsResponse combines in-memory history and stored session totals
type StatsResponse struct {
	Success bool           `json:"success"`
	Recent  analysis.Stats `json:"recent"`
	Stored  *store.Stats   `json:"stored,omitempty"`
	Usage   store.Usage    `json:"usage"`
}

// New creates a server for svc listening on addr (host:port)
func New(svc *service.Service, addr string) *Server {
	s := &Server{service: svc, addr: addr, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/cancel", s.handleCancel)
	s.mux.HandleFunc("/api/retry", s.handleRetry)
	s.mux.HandleFunc("/api/reset", s.handleReset)
	s.mux.HandleFunc("/api/clear-error", s.handleClearError)
	s.mux.HandleFunc("/api/clear-results", s.handleClearResults)
	s.mux.HandleFunc("/api/probe", s.handleProbe)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	// Session history
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSession)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	// Microphone capture
	s.mux.HandleFunc("/api/record/start", s.handleRecordStart)
	s.mux.HandleFunc("/api/record/stop", s.handleRecordStop)
	s.mux.HandleFunc("/api/record/cancel", s.handleRecordCancel)
	s.mux.HandleFunc("/api/recordings", s.handleRecordings)
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the web server
func (s *Server) Start() error {
	_, port, err := net.SplitHostPort(s.addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.addr, err)
	}

	slog.Info("Starting pitchcoach control server",
		"addr", s.addr,
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), port),
		"backend", s.service.GetConfig().Backend.BaseURL)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// handleIndex serves a minimal page listing the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>pitchcoach</title>
</head>
<body>
    <h1>pitchcoach</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /api/analyze - Submit audio (multipart: audio, duration, persona, persona_type)</li>
        <li>GET /api/status - Analysis and recorder status</li>
        <li>GET /api/events - Progress stream (server-sent events)</li>
        <li>POST /api/cancel, /api/retry, /api/reset, /api/clear-error, /api/clear-results</li>
        <li>POST /api/record/start, /api/record/stop, /api/record/cancel</li>
        <li>GET /api/sessions, /api/stats, /api/probe, /api/recordings</li>
    </ul>
</body>
</html>`

// handleAnalyze accepts an uploaded sample and starts an analysis
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	limits := service.Limits(s.service.GetConfig())
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.sendErrorResponse(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File too large. Maximum size is %dMB.", limits.MaxBytes/(1024*1024)),
				"operation", "analyze")
			return
		}
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid form data: %v", err), "operation", "analyze")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Missing audio file", "operation", "analyze")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to read audio: %v", err), "operation", "analyze")
		return
	}

	duration, err := parseSeconds(r.FormValue("duration"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid duration", "operation", "analyze", "value", r.FormValue("duration"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = audio.DetectMIME(data, header.Filename)
	}

	sample := audio.NewSample(data, mimeType, duration)
	sample.Source = header.Filename
	persona := analysis.Persona{Name: r.FormValue("persona"), Type: r.FormValue("persona_type")}

	if err := s.service.Analyze(sample, duration, persona); err != nil {
		s.sendAnalysisError(w, err, "analyze")
		return
	}

	snap := s.service.Orchestrator().Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":    true,
		"attempt_id": snap.AttemptID,
		"validation": snap.Validation,
	})
}

// handleStatus returns the analysis snapshot and recorder state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	snap := s.service.Orchestrator().Snapshot()
	recStatus, session := s.service.RecordingStatus()
	cfg := s.service.GetConfig()

	writeJSON(w, http.StatusOK, StatusResponse{
		Success:         true,
		Analysis:        snap,
		Message:         generateStatusMessage(snap),
		RecordingStatus: string(recStatus),
		Recording:       session,
		Backend:         cfg.Backend.BaseURL,
		Profile:         cfg.Profile,
		LastError:       s.service.GetLastError(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	cancelled := s.service.Orchestrator().Cancel()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"cancelled": cancelled,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.Orchestrator().Retry(); err != nil {
		s.sendAnalysisError(w, err, "retry")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":     true,
		"retry_count": s.service.Orchestrator().Snapshot().RetryCount,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.service.Orchestrator().Reset()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.service.Orchestrator().ClearError()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleClearResults(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.service.Orchestrator().ClearResults()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleProbe reports backend reachability
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	reachable := s.service.Probe(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"reachable": reachable,
		"backend":   s.service.GetConfig().Backend.BaseURL,
	})
}

// handleEvents streams progress updates as server-sent events until the
// client disconnects
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Streaming unsupported", "operation", "events")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates := make(chan analysis.Progress, 16)
	orch := s.service.Orchestrator()
	unsubscribe := orch.Subscribe(func(p analysis.Progress) {
		select {
		case updates <- p:
		default:
			slog.Debug("Dropping progress event for slow client")
		}
	})
	defer unsubscribe()

	writeEvent(w, "progress", orch.Progress())
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case p := <-updates:
			writeEvent(w, "progress", p)
			flusher.Flush()
		case <-keepAlive.C:
			io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// handleSessions lists stored sessions, newest first
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid limit", "operation", "list_sessions", "value", raw)
			return
		}
		limit = n
	}

	st := s.service.Store()
	if st == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"source":  "memory",
			"entries": s.service.History().Entries(),
		})
		return
	}

	sessions, err := st.List(r.Context(), limit)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list sessions: %v", err), "operation", "list_sessions")
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"source":   "store",
		"sessions": sessions,
	})
}

// handleSession serves GET and DELETE for /api/sessions/{id}
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		s.sendErrorResponse(w, http.StatusNotFound, "Session not found", "operation", "session", "path", r.URL.Path)
		return
	}

	st := s.service.Store()
	if st == nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable, "Session store disabled", "operation", "session")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := st.Get(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			s.sendErrorResponse(w, http.StatusNotFound, "Session not found", "operation", "get_session", "id", id)
			return
		}
		if err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load session: %v", err), "operation", "get_session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session": sess})

	case http.MethodDelete:
		err := st.Delete(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			s.sendErrorResponse(w, http.StatusNotFound, "Session not found", "operation", "delete_session", "id", id)
			return
		}
		if err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete session: %v", err), "operation", "delete_session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})

	default:
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleStats summarizes recent and stored analyses
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	resp := StatsResponse{Success: true, Recent: s.service.History().Stats()}

	if st := s.service.Store(); st != nil {
		stored, err := st.Stats(r.Context())
		if err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to compute stats: %v", err), "operation", "stats")
			return
		}
		resp.Stored = &stored
	}

	usage, err := s.service.Usage(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read usage: %v", err), "operation", "stats")
		return
	}
	resp.Usage = usage

	writeJSON(w, http.StatusOK, resp)
}

// handleRecordStart starts a microphone capture
func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid form data", "operation", "record_start")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = "pitch"
	}

	if err := s.service.StartRecording(name); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "record_start")
		return
	}

	_, session := s.service.RecordingStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"session": session,
	})
}

// handleRecordStop stops the capture and, unless analyze=false, submits it
func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid form data", "operation", "record_stop")
		return
	}

	sample, err := s.service.StopRecording()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "record_stop")
		return
	}

	response := map[string]interface{}{
		"success":  true,
		"message":  "Recording stopped",
		"file":     sample.Source,
		"duration": sample.Seconds(),
	}

	if r.FormValue("analyze") != "false" {
		persona := analysis.Persona{Name: r.FormValue("persona"), Type: r.FormValue("persona_type")}
		if err := s.service.Analyze(sample, 0, persona); err != nil {
			s.sendAnalysisError(w, err, "record_stop")
			return
		}
		response["message"] = "Recording stopped, analysis started"
		response["attempt_id"] = s.service.Orchestrator().Snapshot().AttemptID
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRecordCancel(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.CancelRecording(); err != nil {
		s.sendErrorResponse(w, http.StatusConflict,
			fmt.Sprintf("Failed to cancel recording: %v", err),
			"operation", "record_cancel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording cancelled",
	})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list recordings: %v", err), "operation", "recordings")
		return
	}
	if recordings == nil {
		recordings = []service.RecordingInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"recordings": recordings,
	})
}

// generateStatusMessage summarizes the analysis state for the UI
func generateStatusMessage(snap analysis.Snapshot) string {
	switch snap.State {
	case analysis.StateIdle:
		return "Ready to analyze"
	case analysis.StateAnalyzing:
		return snap.Progress.Message
	case analysis.StateComplete:
		if snap.Metrics != nil {
			return fmt.Sprintf("Analysis complete! Overall score: %d%%", snap.Metrics.OverallScore)
		}
		return "Analysis complete"
	case analysis.StateError:
		if snap.Err != nil {
			return snap.Err.Message
		}
		return "An error occurred during the operation"
	}
	return ""
}

// sendAnalysisError maps orchestrator errors to HTTP status codes
func (s *Server) sendAnalysisError(w http.ResponseWriter, err error, operation string) {
	var aerr *analysis.Error
	switch {
	case errors.Is(err, analysis.ErrBusy):
		s.sendErrorResponse(w, http.StatusConflict, "Analysis already in progress", "operation", operation)
	case errors.Is(err, analysis.ErrNoPreviousRequest):
		s.sendErrorResponse(w, http.StatusBadRequest, "No previous analysis to retry", "operation", operation)
	case errors.Is(err, analysis.ErrNotRetryable):
		s.sendErrorResponse(w, http.StatusConflict, "The last error cannot be retried", "operation", operation)
	case errors.As(err, &aerr):
		s.sendErrorResponse(w, http.StatusUnprocessableEntity, aerr.Message, "operation", operation, "kind", aerr.Kind, "details", aerr.Details)
	default:
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", operation)
	}
}

// requireMethod writes a 405 JSON error and returns false on mismatch
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

func writeEvent(w io.Writer, event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Debug("Failed to encode event", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// parseSeconds reads a decimal seconds value; empty means zero
// maxSeconds keeps the result within time.Duration.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

func parseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) || f > maxSeconds {
		return 0, fmt.Errorf("invalid seconds value %q", raw)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func getLocalIP() string {
	// Dialing UDP sends nothing; it only selects the outbound interface
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
