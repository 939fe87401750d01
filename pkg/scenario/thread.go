package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/krisarmstrong/omxconf/pkg/driver"
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
	"github.com/krisarmstrong/omxconf/pkg/osal"
)

func init() {
	register("MultiThreadTest", "stop the component from a second thread while buffers are in flight", multiThreadTest)
}

// waitProcessed blocks until at least n buffers came back on any port.
func waitProcessed(d *driver.Driver, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		total := 0
		for _, p := range d.Registry().Ports() {
			total += d.Registry().Counts(p).Processed
		}
		if total >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func multiThreadTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	d, err := s.cut()
	if err != nil {
		return err
	}
	if err := walk(d, omx.StateIdle, omx.StateExecuting); err != nil {
		return err
	}

	opts := d.Options()
	grace := opts.StateTimeout + opts.BufferTimeout
	stopper := osal.Go("stopper", func() error {
		if !waitProcessed(d, 4, opts.BufferTimeout) {
			return fmt.Errorf("no buffers processed before stop: %w", driver.ErrUnresponsive)
		}
		logging.LogInfo(logging.ComponentScenario, "stopping from second thread")
		return d.Transition(omx.StateIdle)
	})

	// The run is long enough that the stop lands in the middle of it.
	res, perr := d.Pump(nil, driver.PumpOptions{Buffers: env.buffers() * 1000})
	serr := stopper.Destroy(grace)
	if perr != nil {
		return perr
	}
	if serr != nil {
		return fmt.Errorf("stopper thread: %w", serr)
	}
	logging.LogInfo(logging.ComponentScenario, "pump ended", "stopped", res.Stopped, "returned", res.Returned)
	if !res.Stopped {
		return fmt.Errorf("pump finished %v buffers before the stop took effect", res.Returned)
	}

	if st := d.State(); st != omx.StateIdle {
		return fmt.Errorf("state %s after stop", st)
	}
	if err := requireDrained(d); err != nil {
		return err
	}
	if err := checkAccounting(d); err != nil {
		return err
	}
	return walk(d, omx.StateLoaded)
}
