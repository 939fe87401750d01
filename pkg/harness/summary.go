package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/krisarmstrong/omxconf/pkg/scenario"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID     string
	Component string
	Started   time.Time
	Duration  time.Duration
	Results   []scenario.Result
	Canceled  bool
}

// Passed returns the names of the passing tests in run order.
func (s *Summary) Passed() []string {
	var names []string
	for _, r := range s.Results {
		if r.Passed {
			names = append(names, r.Name)
		}
	}
	return names
}

// Failed returns the names of the failing tests in run order.
func (s *Summary) Failed() []string {
	var names []string
	for _, r := range s.Results {
		if !r.Passed {
			names = append(names, r.Name)
		}
	}
	return names
}

// AllPassed reports whether every test that ran passed.
func (s *Summary) AllPassed() bool {
	return len(s.Failed()) == 0 && !s.Canceled
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Component: %s\n", s.Component)
	for _, r := range s.Results {
		fmt.Fprintf(&b, "  %s\n", r)
	}
	fmt.Fprintf(&b, "Passed: %d  Failed: %d", len(s.Passed()), len(s.Failed()))
	if f := s.Failed(); len(f) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(f, ", "))
	}
	if s.Canceled {
		b.WriteString("  [canceled]")
	}
	return b.String()
}

// Record is the JSON form of one result.
type Record struct {
	Name       string  `json:"name"`
	Passed     bool    `json:"passed"`
	Code       uint32  `json:"code"`
	CodeName   string  `json:"code_name,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// Report is the JSON form of a summary.
type Report struct {
	RunID      string    `json:"run_id"`
	Component  string    `json:"component"`
	Started    time.Time `json:"started"`
	DurationMS float64   `json:"duration_ms"`
	Canceled   bool      `json:"canceled"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Results    []Record  `json:"results"`
}

// NewRecord converts one result.
func NewRecord(r scenario.Result) Record {
	rec := Record{
		Name:       r.Name,
		Passed:     r.Passed,
		DurationMS: float64(r.Duration.Microseconds()) / 1000,
	}
	if !r.Passed {
		rec.Code = uint32(r.Code)
		rec.CodeName = r.Code.Error()
		if r.Err != nil {
			rec.Error = r.Err.Error()
		}
	}
	return rec
}

// Report converts the summary for the web API.
func (s *Summary) Report() Report {
	rep := Report{
		RunID:      s.RunID,
		Component:  s.Component,
		Started:    s.Started,
		DurationMS: float64(s.Duration.Microseconds()) / 1000,
		Canceled:   s.Canceled,
		Passed:     len(s.Passed()),
		Failed:     len(s.Failed()),
		Results:    make([]Record, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		rep.Results = append(rep.Results, NewRecord(r))
	}
	return rep
}
