// Package tui provides a terminal user interface for the omxconf harness
package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/krisarmstrong/omxconf/pkg/harness"
)

// RunState is the run panel snapshot
type RunState struct {
	RunID     string
	Component string
	State     string
	Current   string
	Completed int
	Total     int
	Passed    int
	Failed    int
	StartTime time.Time
}

// Progress in percent
func (s RunState) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// App represents the TUI application
type App struct {
	app         *tview.Application
	pages       *tview.Pages
	runView     *tview.Table
	resultsView *tview.Table
	logView     *tview.TextView
	progressBar *tview.TextView
	statusBar   *tview.TextView

	mu      sync.Mutex
	run     RunState
	results []harness.Record

	// Callbacks
	OnStart  func()
	OnStop   func()
	OnCancel func()
	OnQuit   func()
}

// New creates a new TUI application
func New() *App {
	a := &App{
		app:     tview.NewApplication(),
		pages:   tview.NewPages(),
		results: make([]harness.Record, 0),
		run:     RunState{State: "Idle"},
	}
	a.build()
	return a
}

var runLabels = []string{
	"Component:",
	"Run ID:",
	"State:",
	"Current Test:",
	"",
	"Completed:",
	"Passed:",
	"Failed:",
	"",
	"Duration:",
}

func (a *App) build() {
	a.runView = tview.NewTable().
		SetBorders(false).
		SetSelectable(false, false)
	a.runView.SetTitle(" Run ").SetBorder(true)
	a.initRunView()

	a.resultsView = tview.NewTable().
		SetBorders(true).
		SetSelectable(true, false)
	a.resultsView.SetTitle(" Results ").SetBorder(true)
	a.initResultsView()

	a.progressBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.progressBar.SetTitle(" Progress ").SetBorder(true)
	a.progressBar.SetText(progressText(0))

	// Log records arrive from the logging sink on the run goroutine
	a.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(2000).
		SetChangedFunc(func() {
			a.app.Draw()
		})
	a.logView.SetTitle(" Log ").SetBorder(true)

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.statusBar.SetText("[yellow]omxconf[white] | [green]F1[white] Run | [red]F2[white] Stop | [blue]F10[white] Quit")

	topRow := tview.NewFlex().
		AddItem(a.runView, 0, 1, false).
		AddItem(a.resultsView, 0, 2, false)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 3, false).
		AddItem(a.progressBar, 3, 0, false).
		AddItem(a.logView, 0, 2, false).
		AddItem(a.statusBar, 1, 0, false)

	a.pages.AddPage("main", mainFlex, true, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			if a.OnStart != nil {
				go a.OnStart()
			}
			return nil
		case tcell.KeyF2:
			if a.OnStop != nil {
				go a.OnStop()
			}
			return nil
		case tcell.KeyF10, tcell.KeyEscape:
			if a.OnQuit != nil {
				a.OnQuit()
			}
			a.app.Stop()
			return nil
		case tcell.KeyCtrlC:
			if a.OnCancel != nil {
				a.OnCancel()
			}
			return nil
		}
		return event
	})

	a.app.SetRoot(a.pages, true)
}

func (a *App) initRunView() {
	for i, label := range runLabels {
		a.runView.SetCell(i, 0, tview.NewTableCell(label).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignRight))
		a.runView.SetCell(i, 1, tview.NewTableCell("-").
			SetTextColor(tcell.ColorWhite).
			SetAlign(tview.AlignLeft))
	}
}

func (a *App) initResultsView() {
	headers := []string{"Test", "Verdict", "Error", "Duration"}
	for i, h := range headers {
		a.resultsView.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignCenter).
			SetSelectable(false))
	}
}

// runValues lines up with runLabels
func runValues(s RunState, now time.Time) []string {
	duration := "-"
	if !s.StartTime.IsZero() {
		duration = now.Sub(s.StartTime).Round(time.Second).String()
	}
	current := s.Current
	if current == "" {
		current = "-"
	}
	return []string{
		s.Component,
		s.RunID,
		s.State,
		current,
		"",
		fmt.Sprintf("%d / %d", s.Completed, s.Total),
		fmt.Sprintf("%d", s.Passed),
		fmt.Sprintf("%d", s.Failed),
		"",
		duration,
	}
}

// resultCells formats one results row
func resultCells(rec harness.Record) []*tview.TableCell {
	verdict := tview.NewTableCell("PASS").SetTextColor(tcell.ColorGreen)
	errText := ""
	if !rec.Passed {
		verdict = tview.NewTableCell("FAIL").SetTextColor(tcell.ColorRed)
		errText = rec.CodeName
		if rec.Error != "" {
			errText = rec.Error
		}
	}
	return []*tview.TableCell{
		tview.NewTableCell(rec.Name).SetAlign(tview.AlignLeft),
		verdict.SetAlign(tview.AlignCenter),
		tview.NewTableCell(errText).SetAlign(tview.AlignLeft),
		tview.NewTableCell(fmt.Sprintf("%.0f ms", rec.DurationMS)).SetAlign(tview.AlignRight),
	}
}

func progressText(pct float64) string {
	width := 50
	filled := int(pct / 100.0 * float64(width))
	if filled > width {
		filled = width
	}
	var bar strings.Builder
	for i := 0; i < width; i++ {
		if i < filled {
			bar.WriteString("[green]█")
		} else {
			bar.WriteString("[gray]░")
		}
	}
	return fmt.Sprintf("%s[white] %.1f%%", bar.String(), pct)
}

func (a *App) snapshot() RunState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run
}

func (a *App) redrawRun() {
	s := a.snapshot()
	a.app.QueueUpdateDraw(func() {
		for i, v := range runValues(s, time.Now()) {
			a.runView.SetCell(i, 1, tview.NewTableCell(v).
				SetTextColor(tcell.ColorWhite).
				SetAlign(tview.AlignLeft))
		}
		a.progressBar.SetText(progressText(s.Progress()))
	})
}

// RunStarted resets the panels for a new run
func (a *App) RunStarted(runID, component string, total int) {
	a.mu.Lock()
	a.run = RunState{
		RunID:     runID,
		Component: component,
		State:     "Running",
		Total:     total,
		StartTime: time.Now(),
	}
	a.results = a.results[:0]
	a.mu.Unlock()

	a.app.QueueUpdateDraw(func() {
		a.resultsView.Clear()
		a.initResultsView()
	})
	a.redrawRun()
}

// TestStarted shows the test now running
func (a *App) TestStarted(name string) {
	a.mu.Lock()
	a.run.Current = name
	a.mu.Unlock()
	a.redrawRun()
}

// AddResult adds a test result to the results table
func (a *App) AddResult(rec harness.Record) {
	a.mu.Lock()
	a.results = append(a.results, rec)
	row := len(a.results)
	a.run.Completed++
	if rec.Passed {
		a.run.Passed++
	} else {
		a.run.Failed++
	}
	a.mu.Unlock()

	a.app.QueueUpdateDraw(func() {
		for col, cell := range resultCells(rec) {
			a.resultsView.SetCell(row, col, cell)
		}
	})
	a.redrawRun()
}

// RunFinished shows the final verdict
func (a *App) RunFinished(rep harness.Report) {
	a.mu.Lock()
	a.run.Current = ""
	a.run.State = "Complete"
	if rep.Canceled {
		a.run.State = "Cancelled"
	}
	a.mu.Unlock()
	a.redrawRun()

	if rep.Failed == 0 && !rep.Canceled {
		a.LogInfo("%d passed, %d failed", rep.Passed, rep.Failed)
	} else {
		a.LogWarn("%d passed, %d failed", rep.Passed, rep.Failed)
	}
}

// Log adds a message to the log view
func (a *App) Log(format string, args ...interface{}) {
	a.logLine("", format, args...)
}

// LogInfo logs an info message
func (a *App) LogInfo(format string, args ...interface{}) {
	a.logLine("[green][INFO]", format, args...)
}

// LogWarn logs a warning message
func (a *App) LogWarn(format string, args ...interface{}) {
	a.logLine("[yellow][WARN]", format, args...)
}

// LogError logs an error message
func (a *App) LogError(format string, args ...interface{}) {
	a.logLine("[red][ERROR]", format, args...)
}

func (a *App) logLine(tag, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")
	if tag != "" {
		tag = " " + tag
	}
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintf(a.logView, "[gray]%s%s[white] %s\n", timestamp, tag, msg)
		a.logView.ScrollToEnd()
	})
}

// LogWriter returns a writer for logging.AddSink. Records are escaped so
// slog's brackets are not read as color tags.
func (a *App) LogWriter() *LogWriter {
	return &LogWriter{app: a}
}

// LogWriter copies log records into the log panel
type LogWriter struct {
	app *App
}

func (w *LogWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	if line != "" {
		w.app.Log("%s", tview.Escape(line))
	}
	return len(p), nil
}

// SetStatus updates the status bar
func (a *App) SetStatus(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetText(msg)
	})
}

// Run starts the TUI application
func (a *App) Run() error {
	return a.app.Run()
}

// Stop stops the TUI application
func (a *App) Stop() {
	a.app.Stop()
}

// Results returns a copy of the rows shown
func (a *App) Results() []harness.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]harness.Record(nil), a.results...)
}
