// Package web provides a web server and API for the omxconf harness
package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/krisarmstrong/omxconf/pkg/harness"
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/metrics"
	"github.com/krisarmstrong/omxconf/pkg/scenario"
)

// Version is reported by /api/health
var Version = "1.0.0"

// Status for API responses
type Status struct {
	State     string  `json:"state"`
	Message   string  `json:"message,omitempty"`
	RunID     string  `json:"run_id,omitempty"`
	Component string  `json:"component,omitempty"`
	Current   string  `json:"current,omitempty"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	Progress  float64 `json:"progress"`
	Uptime    float64 `json:"uptime_sec"`
	Timestamp int64   `json:"timestamp"`
}

// Status constants for run state
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Config for a run request. Empty fields keep the server's settings.
type Config struct {
	Component  string   `json:"component"`
	Tests      []string `json:"tests"`
	Buffers    int      `json:"buffers"`
	AllocMode  string   `json:"alloc_mode"`
	QueueOrder string   `json:"queue_order"`
	Tracer     bool     `json:"tracer"`
}

// TestInfo describes one registered test
type TestInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Server represents the web server
type Server struct {
	addr    string
	mux     *http.ServeMux
	server  *http.Server
	mu      sync.RWMutex
	status  Status
	results []harness.Record
	report  *harness.Report
	config  Config
	started time.Time
	hub     *hub

	// Embedded UI (optional)
	uiFS    fs.FS
	metrics bool

	// Callbacks
	OnStart  func(cfg Config) error
	OnStop   func() error
	OnCancel func()
}

// Option for server configuration
type Option func(*Server)

// WithUI sets the embedded UI filesystem
func WithUI(uiFS embed.FS, subdir string) Option {
	return func(s *Server) {
		sub, err := fs.Sub(uiFS, subdir)
		if err == nil {
			s.uiFS = sub
		}
	}
}

// WithMetrics mounts the Prometheus handler at /metrics
func WithMetrics() Option {
	return func(s *Server) {
		s.metrics = true
	}
}

// New creates a new web server
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		mux:     http.NewServeMux(),
		results: make([]harness.Record, 0),
		status:  Status{State: StatusIdle},
		started: time.Now(),
		hub:     newHub(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/results", s.handleResults)
	s.mux.HandleFunc("/api/report", s.handleReport)
	s.mux.HandleFunc("/api/tests", s.handleTests)
	s.mux.HandleFunc("/api/config", s.handleConfig)
	s.mux.HandleFunc("/api/start", s.handleStart)
	s.mux.HandleFunc("/api/stop", s.handleStop)
	s.mux.HandleFunc("/api/cancel", s.handleCancel)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/ws", s.handleWebsocket)

	if s.metrics {
		s.mux.Handle("/metrics", metrics.Handler())
	}

	// Static UI (if embedded)
	if s.uiFS != nil {
		s.mux.Handle("/", http.FileServer(http.FS(s.uiFS)))
	} else {
		s.mux.HandleFunc("/", s.handleRoot)
	}
}

// Handler exposes the routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>omxconf</title>
    <style>
        body { font-family: system-ui, sans-serif; background: #1a1a2e; color: #eee; margin: 40px; }
        h1 { color: #0f0; }
        h2 { color: #4da6ff; }
        .card { background: #16213e; padding: 20px; border-radius: 8px; margin: 10px 0; }
        pre { background: #0f0f23; padding: 10px; border-radius: 4px; overflow-x: auto; font-size: 13px; }
        a { color: #4da6ff; }
        li { margin: 5px 0; }
    </style>
</head>
<body>
    <h1>omxconf - OpenMAX IL conformance</h1>
    <div class="card">
        <h2>API Endpoints</h2>
        <ul>
            <li><a href="/api/status">GET /api/status</a> - Run status</li>
            <li><a href="/api/results">GET /api/results</a> - Results of the current run</li>
            <li><a href="/api/report">GET /api/report</a> - Summary of the last finished run</li>
            <li><a href="/api/tests">GET /api/tests</a> - Registered tests</li>
            <li><a href="/api/config">GET /api/config</a> - Last run request</li>
            <li>POST /api/start - Start a run</li>
            <li>POST /api/stop - Stop after the current test</li>
            <li>POST /api/cancel - Cancel the run</li>
            <li>GET /api/ws - Websocket feed of log records, results and status</li>
            <li><a href="/metrics">GET /metrics</a> - Prometheus metrics</li>
            <li><a href="/api/health">GET /api/health</a> - Health check</li>
        </ul>
    </div>
    <div class="card">
        <h2>Run the buffer tests</h2>
        <pre>curl -X POST http://localhost%s/api/start \
  -H "Content-Type: application/json" \
  -d '{"component":"OMX.CONF.tunnel.test","tests":["BufferTest","FlushTest"]}'</pre>
    </div>
</body>
</html>`, s.addr)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LogWarn(logging.ComponentWeb, "encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.Status())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	results := make([]harness.Record, len(s.results))
	copy(results, s.results)
	s.mu.RUnlock()

	writeJSON(w, results)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	report := s.report
	s.mu.RUnlock()

	if report == nil {
		http.Error(w, "No finished run", http.StatusNotFound)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	var tests []TestInfo
	for _, sc := range scenario.All() {
		tests = append(tests, TestInfo{Name: sc.Name, Description: sc.Description})
	}
	writeJSON(w, tests)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	config := s.config
	s.mu.RUnlock()

	writeJSON(w, config)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("Invalid config: %v", err), http.StatusBadRequest)
		return
	}
	for _, name := range cfg.Tests {
		if _, ok := scenario.Lookup(name); !ok {
			http.Error(w, fmt.Sprintf("Unknown test: %s", name), http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	if s.status.State == StatusRunning {
		s.mu.Unlock()
		http.Error(w, "Run already in progress", http.StatusConflict)
		return
	}
	s.config = cfg
	s.results = s.results[:0] // Clear previous results
	s.mu.Unlock()

	if s.OnStart != nil {
		if err := s.OnStart(cfg); err != nil {
			http.Error(w, fmt.Sprintf("Start failed: %v", err), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.OnStop != nil {
		if err := s.OnStop(); err != nil {
			http.Error(w, fmt.Sprintf("Stop failed: %v", err), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.OnCancel != nil {
		s.OnCancel()
	}

	writeJSON(w, map[string]string{"status": "cancelled"})
}

// Status returns a snapshot of the run status
func (s *Server) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()

	st.Uptime = time.Since(s.started).Seconds()
	st.Timestamp = time.Now().Unix()
	return st
}

func (s *Server) publishStatus() {
	s.hub.broadcast(Message{Type: MessageStatus, Data: s.Status()})
}

// RunStarted resets the status for a new run
func (s *Server) RunStarted(runID, component string, total int) {
	s.mu.Lock()
	s.results = s.results[:0]
	s.status = Status{
		State:     StatusRunning,
		RunID:     runID,
		Component: component,
		Total:     total,
	}
	s.mu.Unlock()
	s.publishStatus()
}

// TestStarted records the test now running
func (s *Server) TestStarted(name string) {
	s.mu.Lock()
	s.status.Current = name
	s.mu.Unlock()
	s.publishStatus()
}

// AddResult records one finished test
func (s *Server) AddResult(rec harness.Record) {
	s.mu.Lock()
	s.results = append(s.results, rec)
	s.status.Completed++
	if rec.Passed {
		s.status.Passed++
	} else {
		s.status.Failed++
	}
	if s.status.Total > 0 {
		s.status.Progress = float64(s.status.Completed) / float64(s.status.Total) * 100
	}
	s.mu.Unlock()

	s.hub.broadcast(Message{Type: MessageResult, Data: rec})
	s.publishStatus()
}

// RunFinished stores the final report
func (s *Server) RunFinished(rep harness.Report) {
	s.mu.Lock()
	s.report = &rep
	s.status.Current = ""
	s.status.State = StatusComplete
	if rep.Canceled {
		s.status.State = StatusCancelled
	}
	s.status.Message = fmt.Sprintf("%d passed, %d failed", rep.Passed, rep.Failed)
	s.mu.Unlock()

	s.hub.broadcast(Message{Type: MessageReport, Data: rep})
	s.publishStatus()
}

// UpdateStatus updates the run state
func (s *Server) UpdateStatus(state, message string) {
	s.mu.Lock()
	s.status.State = state
	s.status.Message = message
	s.mu.Unlock()
	s.publishStatus()
}

// ClearResults clears all results
func (s *Server) ClearResults() {
	s.mu.Lock()
	s.results = s.results[:0]
	s.report = nil
	s.mu.Unlock()
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.mux,
		ReadTimeout: 10 * time.Second,
	}

	logging.LogInfo(logging.ComponentWeb, "starting server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.hub.closeAll()
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
