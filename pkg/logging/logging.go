// Package logging is the harness trace facility: component-tagged slog
// records filtered by trace flags, written to stderr, an optional log file,
// and any number of extra sinks (the TUI log panel, the web feed).
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Harness component identifiers.
const (
	ComponentDriver   Component = "driver"
	ComponentRegistry Component = "registry"
	ComponentEngine   Component = "engine"
	ComponentProbe    Component = "probe"
	ComponentTracer   Component = "tracer"
	ComponentTTC      Component = "ttc"
	ComponentCore     Component = "core"
	ComponentScenario Component = "scenario"
	ComponentHarness  Component = "harness"
	ComponentWeb      Component = "web"
)

// TraceFlag selects a class of trace output.
type TraceFlag uint32

const (
	TracePassFail TraceFlag = 1 << iota
	TraceCallSequence
	TraceParameters
	TraceInfo
	TraceError
	TraceBuffer
	TraceWarning

	TraceDefault = TracePassFail | TraceError | TraceWarning
	TraceAll     = TracePassFail | TraceCallSequence | TraceParameters | TraceInfo | TraceError | TraceBuffer | TraceWarning
)

var traceNames = []struct {
	flag TraceFlag
	name string
}{
	{TracePassFail, "passfail"},
	{TraceCallSequence, "callsequence"},
	{TraceParameters, "parameters"},
	{TraceInfo, "info"},
	{TraceError, "error"},
	{TraceBuffer, "buffer"},
	{TraceWarning, "warning"},
}

func (f TraceFlag) String() string {
	var names []string
	for _, t := range traceNames {
		if f&t.flag != 0 {
			names = append(names, t.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseTraceFlags accepts a numeric mask ("0x51") or a comma separated list
// of names ("passfail,error,buffer", "all", "none").
func ParseTraceFlags(s string) (TraceFlag, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return 0, nil
	}
	if s == "all" {
		return TraceAll, nil
	}
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return TraceFlag(n) & TraceAll, nil
	}
	var f TraceFlag
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		found := false
		for _, t := range traceNames {
			if t.name == part {
				f |= t.flag
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown trace flag %q", part)
		}
	}
	return f, nil
}

// LogFormat specifies the output format for logging.
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

type state struct {
	mu      sync.RWMutex
	flags   TraceFlag
	format  LogFormat
	stderr  io.Writer
	logFile *os.File
	sinks   map[int]io.Writer
	nextID  int
	logger  *slog.Logger
}

var std = &state{
	flags:  TraceDefault,
	stderr: os.Stderr,
	sinks:  map[int]io.Writer{},
}

func init() {
	std.rebuild()
}

// rebuild must be called with mu held for writing (or during init).
func (s *state) rebuild() {
	writers := []io.Writer{}
	if s.stderr != nil {
		writers = append(writers, s.stderr)
	}
	if s.logFile != nil {
		writers = append(writers, s.logFile)
	}
	for _, w := range s.sinks {
		writers = append(writers, w)
	}
	w := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if s.format == LogFormatJSON {
		s.logger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		s.logger = slog.New(slog.NewTextHandler(w, opts))
	}
}

// SetTraceFlags replaces the active trace mask.
func SetTraceFlags(f TraceFlag) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.flags = f
}

// TraceFlags returns the active trace mask.
func TraceFlags() TraceFlag {
	std.mu.RLock()
	defer std.mu.RUnlock()
	return std.flags
}

// SetLogFormat switches between text and JSON records.
func SetLogFormat(format LogFormat) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.format = format
	std.rebuild()
}

// SetOutput replaces the console writer; nil silences the console.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.stderr = w
	std.rebuild()
}

// OpenLogFile starts mirroring records to path, closing any previous file.
func OpenLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.logFile != nil {
		std.logFile.Close()
	}
	std.logFile = f
	std.rebuild()
	return nil
}

// CloseLogFile stops mirroring to the log file.
func CloseLogFile() error {
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.logFile == nil {
		return nil
	}
	err := std.logFile.Close()
	std.logFile = nil
	std.rebuild()
	return err
}

// LogFileName returns the open log file path, or "".
func LogFileName() string {
	std.mu.RLock()
	defer std.mu.RUnlock()
	if std.logFile == nil {
		return ""
	}
	return std.logFile.Name()
}

// AddSink attaches an extra writer and returns a function that detaches it.
func AddSink(w io.Writer) func() {
	std.mu.Lock()
	id := std.nextID
	std.nextID++
	std.sinks[id] = w
	std.rebuild()
	std.mu.Unlock()
	return func() {
		std.mu.Lock()
		defer std.mu.Unlock()
		delete(std.sinks, id)
		std.rebuild()
	}
}

func enabled(f TraceFlag) (*slog.Logger, bool) {
	std.mu.RLock()
	defer std.mu.RUnlock()
	return std.logger, std.flags&f != 0
}

// Trace logs msg when flag is active. The level follows the flag class.
func Trace(flag TraceFlag, component Component, msg string, args ...any) {
	logger, ok := enabled(flag)
	if !ok {
		return
	}
	args = append([]any{"component", string(component)}, args...)
	switch flag {
	case TraceError:
		logger.Error(msg, args...)
	case TraceWarning:
		logger.Warn(msg, args...)
	case TracePassFail, TraceInfo:
		logger.Info(msg, args...)
	default:
		logger.Debug(msg, args...)
	}
}

// LogDebug logs call-sequence detail.
func LogDebug(component Component, msg string, args ...any) {
	Trace(TraceCallSequence, component, msg, args...)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	Trace(TraceInfo, component, msg, args...)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	Trace(TraceWarning, component, msg, args...)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	Trace(TraceError, component, msg, args...)
}

// LogBuffer logs buffer traffic.
func LogBuffer(component Component, msg string, args ...any) {
	Trace(TraceBuffer, component, msg, args...)
}

// LogResult logs a pass/fail verdict.
func LogResult(component Component, msg string, args ...any) {
	Trace(TracePassFail, component, msg, args...)
}
