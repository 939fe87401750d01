// Package harness owns the run-wide state: the configuration being edited,
// the loaded core and the results of each run. The CLI, the shell, the web
// API and the TUI all drive runs through a Context.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krisarmstrong/omxconf/pkg/config"
	"github.com/krisarmstrong/omxconf/pkg/driver"
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
	"github.com/krisarmstrong/omxconf/pkg/omxcore"
	"github.com/krisarmstrong/omxconf/pkg/scenario"
	"github.com/krisarmstrong/omxconf/pkg/tracer"
	"github.com/krisarmstrong/omxconf/pkg/ttc"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("a run is already in progress")

// Context is the test runner context: one per process, created in main.
type Context struct {
	mu      sync.Mutex
	cfg     *config.Config
	running bool
	cancel  context.CancelFunc
	last    *Summary

	// Optional observers, called from the running goroutine.
	OnRunStart      func(runID, component string, total int)
	OnScenarioStart func(runID, name string)
	OnResult        func(runID string, res scenario.Result)
	OnFinish        func(sum *Summary)
}

// New returns a context over cfg. A nil cfg uses the defaults.
func New(cfg *config.Config) *Context {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Context{cfg: cfg}
}

// Config returns a copy of the current settings.
func (c *Context) Config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *c.cfg
	cp.Tests = append([]string(nil), c.cfg.Tests...)
	cp.Inputs = copyMap(c.cfg.Inputs)
	cp.Outputs = copyMap(c.cfg.Outputs)
	return cp
}

// Update applies fn to the settings and validates the result. The change is
// discarded when validation fails.
func (c *Context) Update(fn func(cfg *config.Config)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *c.cfg
	cp.Tests = append([]string(nil), c.cfg.Tests...)
	cp.Inputs = copyMap(c.cfg.Inputs)
	cp.Outputs = copyMap(c.cfg.Outputs)
	fn(&cp)
	if err := cp.Validate(); err != nil {
		return err
	}
	*c.cfg = cp
	return nil
}

// Running reports whether a run is in progress.
func (c *Context) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Last returns the summary of the most recent finished run, or nil.
func (c *Context) Last() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Cancel stops the current run after the scenario in progress.
func (c *Context) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func copyMap(m map[uint32]string) map[uint32]string {
	out := make(map[uint32]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApplyLogging pushes the trace, format and log file settings into the
// logging package.
func ApplyLogging(cfg *config.Config) error {
	flags, err := logging.ParseTraceFlags(cfg.Trace)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		flags |= logging.TraceInfo | logging.TraceCallSequence
	}
	logging.SetTraceFlags(flags)

	if cfg.LogFormat == config.FormatJSON {
		logging.SetLogFormat(logging.LogFormatJSON)
	} else {
		logging.SetLogFormat(logging.LogFormatText)
	}

	if cfg.LogFile != "" && cfg.LogFile != logging.LogFileName() {
		return logging.OpenLogFile(cfg.LogFile)
	}
	return nil
}

// DriverOptions converts the configured timeouts and buffer policies.
func DriverOptions(cfg *config.Config) (driver.Options, error) {
	opts := driver.DefaultOptions()
	opts.StateTimeout = cfg.Timeouts.StateChange
	opts.PortTimeout = cfg.Timeouts.PortCommand
	opts.BufferTimeout = cfg.Timeouts.Buffer
	opts.FlushTimeout = cfg.Timeouts.Flush
	opts.EOSTimeout = cfg.Timeouts.EOS

	mode, err := driver.ParseAllocMode(string(cfg.AllocMode))
	if err != nil {
		return opts, err
	}
	order, err := driver.ParseQueueOrder(string(cfg.QueueOrder))
	if err != nil {
		return opts, err
	}
	opts.AllocMode = mode
	opts.Order = order
	return opts, nil
}

// OpenCore loads and initializes the configured core: the in-process test
// core when no library is set, otherwise the native library. The returned
// function deinitializes and unloads it.
func OpenCore(cfg *config.Config) (omx.Core, func() error, error) {
	var core omx.Core
	unload := func() error { return nil }

	if cfg.CoreLibrary == "" {
		core = ttc.NewCore()
	} else {
		native, err := omxcore.Open(cfg.CoreLibrary)
		if err != nil {
			return nil, nil, err
		}
		core = native
		unload = native.Close
	}
	if cfg.Tracer {
		core = tracer.WrapCore(core)
	}

	if err := core.Init(); err != nil {
		_ = unload()
		return nil, nil, fmt.Errorf("init core: %w", err)
	}
	closer := func() error {
		err := core.Deinit()
		if uerr := unload(); err == nil {
			err = uerr
		}
		return err
	}
	return core, closer, nil
}

// ComponentNames lists what the configured core offers.
func (c *Context) ComponentNames() ([]string, error) {
	cfg := c.Config()
	core, closer, err := OpenCore(&cfg)
	if err != nil {
		return nil, err
	}
	defer closer()
	return core.ComponentNames()
}

// Run executes every selected test against the configured component. The
// returned error covers setup failures only; scenario failures are in the
// summary.
func (c *Context) Run(ctx context.Context) (*Summary, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	cfg := *c.cfg
	cfg.Tests = append([]string(nil), c.cfg.Tests...)
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	sum, err := c.run(ctx, &cfg)
	if err != nil {
		logging.LogError(logging.ComponentHarness, "run setup failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	c.last = sum
	c.mu.Unlock()
	if c.OnFinish != nil {
		c.OnFinish(sum)
	}
	return sum, nil
}

func (c *Context) run(ctx context.Context, cfg *config.Config) (*Summary, error) {
	opts, err := DriverOptions(cfg)
	if err != nil {
		return nil, err
	}
	core, closer, err := OpenCore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closer(); err != nil {
			logging.LogWarn(logging.ComponentHarness, "core shutdown", "error", err)
		}
	}()

	env := &scenario.Env{
		Core:       core,
		Component:  cfg.Component,
		Options:    opts,
		Buffers:    cfg.Buffers,
		Inputs:     cfg.Inputs,
		Outputs:    cfg.Outputs,
		Metabolism: cfg.Metabolism,
	}

	sum := &Summary{
		RunID:     uuid.NewString(),
		Component: cfg.Component,
		Started:   time.Now(),
	}
	selected := cfg.SelectedTests()
	logging.LogInfo(logging.ComponentHarness, "run start", "run", sum.RunID,
		"component", cfg.Component, "tests", len(selected))
	if c.OnRunStart != nil {
		c.OnRunStart(sum.RunID, cfg.Component, len(selected))
	}

	for _, name := range selected {
		if ctx.Err() != nil {
			sum.Canceled = true
			break
		}
		s, ok := scenario.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown test: %s", name)
		}
		if c.OnScenarioStart != nil {
			c.OnScenarioStart(sum.RunID, name)
		}
		res := scenario.Run(ctx, s, env)
		sum.Results = append(sum.Results, res)
		if c.OnResult != nil {
			c.OnResult(sum.RunID, res)
		}
	}

	sum.Duration = time.Since(sum.Started)
	logging.LogResult(logging.ComponentHarness, "run complete", "run", sum.RunID,
		"passed", len(sum.Passed()), "failed", len(sum.Failed()), "duration", sum.Duration)
	return sum, nil
}
