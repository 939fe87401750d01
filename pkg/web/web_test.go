// Package web tests for the omxconf web server and API
package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krisarmstrong/omxconf/pkg/harness"
	"github.com/krisarmstrong/omxconf/pkg/metrics"
)

func do(s *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// ============================================================================
// Server Creation Tests
// ============================================================================

func TestNew(t *testing.T) {
	s := New(":8080")
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.addr != ":8080" {
		t.Errorf("Expected addr=:8080, got %s", s.addr)
	}
	if s.mux == nil {
		t.Error("Expected mux to be initialized")
	}
	if s.results == nil {
		t.Error("Expected results slice to be initialized")
	}
	if s.Status().State != StatusIdle {
		t.Errorf("Expected state=%s, got %s", StatusIdle, s.Status().State)
	}
}

// ============================================================================
// Health and Status Tests
// ============================================================================

func TestHandleHealth(t *testing.T) {
	s := New(":8080")
	w := do(s, http.MethodGet, "/api/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type=application/json, got %s", ct)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status=ok, got %v", resp["status"])
	}
	if resp["version"] != Version {
		t.Errorf("Expected version=%s, got %v", Version, resp["version"])
	}
}

func TestHandleStatus(t *testing.T) {
	s := New(":8080")
	s.RunStarted("run-1", "OMX.CONF.tunnel.test", 4)

	w := do(s, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var st Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if st.State != StatusRunning {
		t.Errorf("Expected state=running, got %s", st.State)
	}
	if st.RunID != "run-1" || st.Total != 4 {
		t.Errorf("Expected run-1 with 4 tests, got %s with %d", st.RunID, st.Total)
	}
	if st.Timestamp == 0 {
		t.Error("Expected timestamp to be set")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := New(":8080")
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/status"},
		{http.MethodPost, "/api/results"},
		{http.MethodPost, "/api/report"},
		{http.MethodGet, "/api/start"},
		{http.MethodGet, "/api/stop"},
		{http.MethodGet, "/api/cancel"},
	}

	for _, tc := range tests {
		w := do(s, tc.method, tc.path, nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, w.Code)
		}
	}
}

// ============================================================================
// Results Tests
// ============================================================================

func TestHandleResultsEmpty(t *testing.T) {
	s := New(":8080")
	w := do(s, http.MethodGet, "/api/results", nil)

	var results []harness.Record
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected 0 results, got %d", len(results))
	}
}

func TestHandleResultsWithData(t *testing.T) {
	s := New(":8080")
	s.RunStarted("run-1", "OMX.CONF.tunnel.test", 2)
	s.AddResult(harness.Record{Name: "BufferTest", Passed: true})
	s.AddResult(harness.Record{Name: "FlushTest", Code: 0x80001011, CodeName: "OMX_ErrorTimeout"})

	w := do(s, http.MethodGet, "/api/results", nil)
	var results []harness.Record
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[1].CodeName != "OMX_ErrorTimeout" {
		t.Errorf("Expected code_name=OMX_ErrorTimeout, got %s", results[1].CodeName)
	}

	st := s.Status()
	if st.Completed != 2 || st.Passed != 1 || st.Failed != 1 {
		t.Errorf("Expected 2 completed (1/1), got %d (%d/%d)", st.Completed, st.Passed, st.Failed)
	}
	if st.Progress != 100 {
		t.Errorf("Expected progress=100, got %v", st.Progress)
	}
}

func TestHandleReport(t *testing.T) {
	s := New(":8080")

	if w := do(s, http.MethodGet, "/api/report", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before any run, got %d", w.Code)
	}

	s.RunFinished(harness.Report{RunID: "run-2", Passed: 3, Failed: 1})
	w := do(s, http.MethodGet, "/api/report", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var rep harness.Report
	if err := json.NewDecoder(w.Body).Decode(&rep); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if rep.RunID != "run-2" || rep.Passed != 3 {
		t.Errorf("Expected run-2 with 3 passed, got %s with %d", rep.RunID, rep.Passed)
	}

	st := s.Status()
	if st.State != StatusComplete {
		t.Errorf("Expected state=complete, got %s", st.State)
	}
	if st.Message != "3 passed, 1 failed" {
		t.Errorf("Expected summary message, got %q", st.Message)
	}
}

func TestRunFinishedCancelled(t *testing.T) {
	s := New(":8080")
	s.RunFinished(harness.Report{Canceled: true})
	if st := s.Status(); st.State != StatusCancelled {
		t.Errorf("Expected state=cancelled, got %s", st.State)
	}
}

func TestClearResults(t *testing.T) {
	s := New(":8080")
	s.AddResult(harness.Record{Name: "BufferTest", Passed: true})
	s.RunFinished(harness.Report{})
	s.ClearResults()

	if len(s.results) != 0 {
		t.Errorf("Expected results cleared, got %d", len(s.results))
	}
	if w := do(s, http.MethodGet, "/api/report", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after clear, got %d", w.Code)
	}
}

func TestHandleTests(t *testing.T) {
	s := New(":8080")
	w := do(s, http.MethodGet, "/api/tests", nil)

	var tests []TestInfo
	if err := json.NewDecoder(w.Body).Decode(&tests); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	found := false
	for _, ti := range tests {
		if ti.Name == "BufferTest" {
			found = true
			if ti.Description == "" {
				t.Error("Expected BufferTest to have a description")
			}
		}
	}
	if !found {
		t.Errorf("Expected BufferTest in %v", tests)
	}
}

// ============================================================================
// Start/Stop/Cancel Tests
// ============================================================================

func TestHandleStartSuccess(t *testing.T) {
	s := New(":8080")
	var got Config
	s.OnStart = func(cfg Config) error {
		got = cfg
		return nil
	}

	body := `{"component":"OMX.CONF.sink.test","tests":["BufferTest"],"buffers":4}`
	w := do(s, http.MethodPost, "/api/start", strings.NewReader(body))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got.Component != "OMX.CONF.sink.test" || got.Buffers != 4 {
		t.Errorf("Expected callback config, got %+v", got)
	}

	w = do(s, http.MethodGet, "/api/config", nil)
	var cfg Config
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(cfg.Tests) != 1 || cfg.Tests[0] != "BufferTest" {
		t.Errorf("Expected stored config, got %+v", cfg)
	}
}

func TestHandleStartRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", "{{{", http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
		{"unknown test", `{"tests":["NoSuchTest"]}`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New(":8080")
			w := do(s, http.MethodPost, "/api/start", strings.NewReader(tc.body))
			if w.Code != tc.code {
				t.Errorf("Expected %d, got %d", tc.code, w.Code)
			}
		})
	}
}

func TestHandleStartWhileRunning(t *testing.T) {
	s := New(":8080")
	s.RunStarted("run-1", "OMX.CONF.tunnel.test", 1)

	w := do(s, http.MethodPost, "/api/start", strings.NewReader(`{}`))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
}

func TestHandleStartCallbackError(t *testing.T) {
	s := New(":8080")
	s.OnStart = func(Config) error { return errors.New("busy") }

	w := do(s, http.MethodPost, "/api/start", strings.NewReader(`{}`))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "busy") {
		t.Errorf("Expected callback error in body, got %s", w.Body.String())
	}
}

func TestHandleStopAndCancel(t *testing.T) {
	s := New(":8080")
	stopped, cancelled := false, false
	s.OnStop = func() error {
		stopped = true
		return nil
	}
	s.OnCancel = func() { cancelled = true }

	if w := do(s, http.MethodPost, "/api/stop", nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200 from stop, got %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/cancel", nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200 from cancel, got %d", w.Code)
	}
	if !stopped || !cancelled {
		t.Errorf("Expected both callbacks, got stop=%v cancel=%v", stopped, cancelled)
	}
}

func TestHandleStopNoCallback(t *testing.T) {
	s := New(":8080")
	if w := do(s, http.MethodPost, "/api/stop", nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

// ============================================================================
// UI and Metrics Tests
// ============================================================================

func TestHandleRootHTML(t *testing.T) {
	s := New(":9090")
	w := do(s, http.MethodGet, "/", nil)

	if ct := w.Header().Get("Content-Type"); ct != "text/html" {
		t.Errorf("Expected Content-Type=text/html, got %s", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"/api/start", "/api/ws", "localhost:9090"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected root page to mention %s", want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Scenario("WebMetricsProbe", true)

	s := New(":8080", WithMetrics())
	w := do(s, http.MethodGet, "/metrics", nil)
	if !strings.Contains(w.Body.String(), "omxconf_scenario_results_total") {
		t.Error("Expected scenario counter in /metrics output")
	}

	plain := New(":8080")
	w = do(plain, http.MethodGet, "/metrics", nil)
	if strings.Contains(w.Body.String(), "omxconf_scenario_results_total") {
		t.Error("Expected /metrics to be unmounted without WithMetrics")
	}
}

// ============================================================================
// Websocket Tests
// ============================================================================

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Websocket client never registered")
		}
		time.Sleep(time.Millisecond)
	}
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var msg Message
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

func TestWebsocketFeed(t *testing.T) {
	s := New(":8080")
	ws := dial(t, s)

	if msg := readMessage(t, ws); msg.Type != MessageStatus {
		t.Fatalf("Expected initial status, got %s", msg.Type)
	}

	s.AddResult(harness.Record{Name: "BufferTest", Passed: true})
	msg := readMessage(t, ws)
	if msg.Type != MessageResult {
		t.Fatalf("Expected result message, got %s", msg.Type)
	}
	data, _ := msg.Data.(map[string]interface{})
	if data["name"] != "BufferTest" {
		t.Errorf("Expected BufferTest result, got %v", msg.Data)
	}
	if msg := readMessage(t, ws); msg.Type != MessageStatus {
		t.Errorf("Expected status after result, got %s", msg.Type)
	}
}

func TestLogWriterForwardsRecords(t *testing.T) {
	s := New(":8080")
	ws := dial(t, s)
	readMessage(t, ws)

	n, err := s.LogWriter().Write([]byte("level=INFO msg=\"scenario start\"\n"))
	if err != nil || n == 0 {
		t.Fatalf("Write returned %d, %v", n, err)
	}
	msg := readMessage(t, ws)
	if msg.Type != MessageLog {
		t.Fatalf("Expected log message, got %s", msg.Type)
	}
	if msg.Data != `level=INFO msg="scenario start"` {
		t.Errorf("Expected trimmed record, got %v", msg.Data)
	}
}

func TestBroadcastWithoutClients(t *testing.T) {
	s := New(":8080")
	s.hub.broadcast(Message{Type: MessageLog, Data: "nobody listening"})
	if s.hub.count() != 0 {
		t.Errorf("Expected no clients, got %d", s.hub.count())
	}
}

func TestServerStopNilServer(t *testing.T) {
	s := New(":8080")
	if err := s.Stop(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestUpdateStatusConcurrent(t *testing.T) {
	s := New(":8080")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.UpdateStatus(StatusRunning, "working")
		}()
		go func() {
			defer wg.Done()
			_ = s.Status()
		}()
	}
	wg.Wait()
	if st := s.Status(); st.State != StatusRunning {
		t.Errorf("Expected state=running, got %s", st.State)
	}
}

// ============================================================================
// Benchmark Tests
// ============================================================================

func BenchmarkHandleStatus(b *testing.B) {
	s := New(":8080")
	s.RunStarted("bench", "OMX.CONF.tunnel.test", 10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		do(s, http.MethodGet, "/api/status", nil)
	}
}

func BenchmarkHandleStartDecode(b *testing.B) {
	s := New(":8080")
	body := []byte(`{"component":"OMX.CONF.tunnel.test","tests":["BufferTest"]}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		do(s, http.MethodPost, "/api/start", bytes.NewReader(body))
	}
}
