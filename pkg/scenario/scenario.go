// Package scenario holds the conformance scenarios. Each one is a short
// sequence of driver calls; port discovery, buffer accounting and state
// waits all live in the driver.
package scenario

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/krisarmstrong/omxconf/pkg/driver"
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/metrics"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// Env is everything a scenario needs from the runner.
type Env struct {
	Core      omx.Core
	Component string
	Options   driver.Options
	// Buffers is the per-port buffer count for pumping runs.
	Buffers int
	// Inputs and Outputs map port indices to files.
	Inputs  map[uint32]string
	Outputs map[uint32]string
	// Metabolism is the data-metabolism file for DataMetabolismTest.
	Metabolism string
}

// Func is a scenario body.
type Func func(ctx context.Context, env *Env) error

// Scenario is one registered conformance test.
type Scenario struct {
	Name        string
	Description string
	Run         Func
}

var registry = map[string]Scenario{}

func register(name, desc string, fn Func) {
	registry[name] = Scenario{Name: name, Description: desc, Run: fn}
}

// All returns every scenario sorted by name.
func All() []Scenario {
	out := make([]Scenario, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every scenario name sorted.
func Names() []string {
	var names []string
	for _, s := range All() {
		names = append(names, s.Name)
	}
	return names
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, bool) {
	s, ok := registry[name]
	return s, ok
}

// Result is the verdict of one scenario run.
type Result struct {
	Name      string
	Component string
	Passed    bool
	Code      omx.Error
	Err       error
	Duration  time.Duration
}

func (r Result) String() string {
	if r.Passed {
		return fmt.Sprintf("%s: PASS", r.Name)
	}
	return fmt.Sprintf("%s: FAIL %s (%v)", r.Name, r.Code.String(), r.Err)
}

// Run executes s against env and reports the verdict. A panic inside the
// scenario is a failure, not a crash of the runner.
func Run(ctx context.Context, s Scenario, env *Env) (res Result) {
	res = Result{Name: s.Name, Component: env.Component}
	start := time.Now()
	logging.LogInfo(logging.ComponentScenario, "scenario start", "name", s.Name, "component", env.Component)

	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("scenario panicked: %v", p)
		}
		res.Duration = time.Since(start)
		res.Passed = res.Err == nil
		if !res.Passed {
			res.Code = omx.Code(res.Err)
		}
		metrics.Scenario(s.Name, res.Passed)
		logging.LogResult(logging.ComponentScenario, res.String(), "duration", res.Duration)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Err = s.Run(ctx, env)
	return res
}

// session ties the handles a scenario opens to one cleanup scope.
type session struct {
	env *Env
	cl  driver.Cleanup
}

func newSession(env *Env) *session {
	return &session{env: env}
}

// open loads name from core and attaches a fresh driver. Its teardown joins
// the session's cleanup scope.
func (s *session) open(core omx.Core, name string, opts driver.Options) (*driver.Driver, error) {
	d := driver.New(opts)
	comp, err := core.GetHandle(name, d)
	if err != nil {
		return nil, fmt.Errorf("get handle %s: %w", name, err)
	}
	if err := d.Attach(comp); err != nil {
		_ = core.FreeHandle(comp)
		return nil, fmt.Errorf("attach %s: %w", name, err)
	}
	s.cl.Defer("teardown "+name, func() error { return d.Teardown(core) })
	return d, nil
}

// cut opens the component under test with the file mappings applied. The
// files are opened first so they close only after the handle is torn down.
func (s *session) cut() (*driver.Driver, error) {
	return s.cutWith(s.env.Options)
}

func (s *session) cutWith(opts driver.Options) (*driver.Driver, error) {
	sources := map[uint32]*os.File{}
	for idx, path := range s.env.Inputs {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input for port %d: %w", idx, err)
		}
		s.cl.Defer("close "+path, f.Close)
		sources[idx] = f
	}
	sinks := map[uint32]*os.File{}
	for idx, path := range s.env.Outputs {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create output for port %d: %w", idx, err)
		}
		s.cl.Defer("close "+path, f.Close)
		sinks[idx] = f
	}

	d, err := s.open(s.env.Core, s.env.Component, opts)
	if err != nil {
		return nil, err
	}
	reg := d.Registry()
	for idx, f := range sources {
		p, ok := reg.Port(idx)
		if !ok || !p.IsInput() {
			return nil, fmt.Errorf("input file %s mapped to port %d, which is not an input", f.Name(), idx)
		}
		reg.SetSource(p, driver.NewReaderSource(f))
	}
	for idx, f := range sinks {
		p, ok := reg.Port(idx)
		if !ok || p.IsInput() {
			return nil, fmt.Errorf("output file %s mapped to port %d, which is not an output", f.Name(), idx)
		}
		reg.SetSink(p, f)
	}
	return d, nil
}

func (s *session) finish(err error) error {
	return s.cl.Finish(err)
}

// checkAccounting verifies the buffer invariant on every port of d.
func checkAccounting(d *driver.Driver) error {
	for _, p := range d.Registry().Ports() {
		if err := d.Registry().CheckAccounting(p); err != nil {
			return err
		}
	}
	return nil
}

// requireDrained verifies nothing is left outstanding after a run.
func requireDrained(d *driver.Driver) error {
	for _, p := range d.Registry().Ports() {
		if c := d.Registry().Counts(p); c.Outstanding != 0 {
			return fmt.Errorf("%s: %d buffers still with the component", p, c.Outstanding)
		}
	}
	return nil
}

// walk moves d through states in order.
func walk(d *driver.Driver, states ...omx.State) error {
	for _, st := range states {
		if err := d.Transition(st); err != nil {
			return err
		}
	}
	return nil
}

// buffers is the pump target, falling back to a small run.
func (e *Env) buffers() int {
	if e.Buffers > 0 {
		return e.Buffers
	}
	return 20
}
