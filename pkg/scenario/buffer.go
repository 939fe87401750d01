package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krisarmstrong/omxconf/pkg/driver"
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

func init() {
	register("BufferTest", "allocate, pump and free buffers with both allocation modes", bufferTest)
	register("FlushTest", "flush each port and all ports while buffers are in flight", flushTest)
	register("BufferFlagTest", "propagate end of stream to every output port", bufferFlagTest)
	register("BufferMarkTest", "mark buffers by command and by header and watch the marks come back", bufferMarkTest)
}

func bufferTest(ctx context.Context, env *Env) error {
	for _, mode := range []driver.AllocMode{driver.AllocComponent, driver.AllocClient} {
		opts := env.Options
		opts.AllocMode = mode
		s := newSession(env)
		if err := s.finish(bufferRun(ctx, s, opts)); err != nil {
			return fmt.Errorf("%s mode: %w", mode, err)
		}
	}
	return nil
}

func bufferRun(ctx context.Context, s *session, opts driver.Options) error {
	d, err := s.cutWith(opts)
	if err != nil {
		return err
	}
	if err := walk(d, omx.StateIdle); err != nil {
		return err
	}
	if err := checkAccounting(d); err != nil {
		return err
	}
	if err := walk(d, omx.StateExecuting); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := d.Pump(nil, driver.PumpOptions{Buffers: s.env.buffers()})
	if err != nil {
		return err
	}
	logging.LogInfo(logging.ComponentScenario, "buffers pumped", "returned", res.Returned)
	if err := checkAccounting(d); err != nil {
		return err
	}
	if err := walk(d, omx.StateIdle); err != nil {
		return err
	}
	if err := requireDrained(d); err != nil {
		return err
	}
	if err := walk(d, omx.StateLoaded); err != nil {
		return err
	}
	for _, p := range d.Registry().Ports() {
		if c := d.Registry().Counts(p); c.Total != 0 {
			return fmt.Errorf("%s still holds %d buffers in Loaded", p, c.Total)
		}
	}
	if st, err := d.CheckState(); err != nil || st != omx.StateLoaded {
		return fmt.Errorf("final state %s: %v", st, err)
	}
	return nil
}

func flushTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	// Flushed buffers are handed out again most recent first.
	opts := env.Options
	opts.Order = driver.LIFO
	d, err := s.cutWith(opts)
	if err != nil {
		return err
	}
	reg := d.Registry()

	if err := walk(d, omx.StateIdle); err != nil {
		return err
	}
	// Nothing is in flight in Idle; the flush still has to complete.
	if err := d.Flush(omx.PortAll); err != nil {
		return fmt.Errorf("flush in Idle: %w", err)
	}
	if err := walk(d, omx.StateExecuting); err != nil {
		return err
	}

	per := env.buffers()
	for _, p := range reg.Ports() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := d.Pump(nil, driver.PumpOptions{Buffers: per}); err != nil {
			return err
		}
		if err := d.Flush(p.Index); err != nil {
			return err
		}
	}
	if _, err := d.Pump(nil, driver.PumpOptions{Buffers: per}); err != nil {
		return err
	}
	if err := d.Flush(omx.PortAll); err != nil {
		return err
	}
	if err := checkAccounting(d); err != nil {
		return err
	}

	bogus := reg.BogusIndex()
	if err := d.Flush(bogus); !errors.Is(err, omx.ErrorBadPortIndex) {
		return &driver.MismatchError{Op: fmt.Sprintf("flush port %d", bogus), Want: omx.ErrorBadPortIndex, Got: omx.Code(err)}
	}

	// Flow resumes after flushing.
	if _, err := d.Pump(nil, driver.PumpOptions{Buffers: per}); err != nil {
		return fmt.Errorf("pump after flush: %w", err)
	}
	return walk(d, omx.StateIdle, omx.StateLoaded)
}

func bufferFlagTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	d, err := s.cut()
	if err != nil {
		return err
	}
	if err := walk(d, omx.StateIdle, omx.StateExecuting); err != nil {
		return err
	}

	// EOS on the last buffer of a counted run.
	if _, err := d.Pump(nil, driver.PumpOptions{Buffers: env.buffers(), SendEOS: true}); err != nil {
		return err
	}
	if err := d.WaitEOS(d.Options().EOSTimeout); err != nil {
		return err
	}
	if n := d.EOSCount(); n != 1 {
		return fmt.Errorf("end of stream reported %d times", n)
	}
	if err := d.Flush(omx.PortAll); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// EOS when a finite source runs dry, pumping until it comes out.
	for _, p := range d.Registry().Inputs() {
		if _, mapped := env.Inputs[p.Index]; mapped {
			continue
		}
		size := d.Registry().Definition(p).BufferSize
		d.Registry().SetSource(p, driver.NewPatternSource(int64(size)*3+int64(size)/2))
	}
	res, err := d.Pump(nil, driver.PumpOptions{})
	if err != nil {
		return err
	}
	if !res.EOS || d.EOSCount() != 1 {
		return fmt.Errorf("end of stream not seen exactly once (eos=%t count=%d)", res.EOS, d.EOSCount())
	}
	return walk(d, omx.StateIdle, omx.StateLoaded)
}

// foreignTarget stands in for a mark target that is not the component
// under test, so the mark must travel downstream.
type foreignTarget struct {
	omx.Component
}

func (foreignTarget) Name() string { return "mark.target" }

// waitForMark polls the driver's marks until one carrying data shows up.
func waitForMark(d *driver.Driver, data string, timeout time.Duration) (driver.Mark, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, m := range d.Marks() {
			if m.Data == data {
				return m, nil
			}
		}
		if time.Now().After(deadline) {
			return driver.Mark{}, fmt.Errorf("mark %q: %w", data, driver.ErrTimeout)
		}
		_ = d.WaitMark(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
}

func bufferMarkTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	d, err := s.cut()
	if err != nil {
		return err
	}
	reg := d.Registry()
	if len(reg.Inputs()) == 0 {
		return fmt.Errorf("component has no input port to mark")
	}
	in := reg.Inputs()[0]
	if err := walk(d, omx.StateIdle, omx.StateExecuting); err != nil {
		return err
	}
	timeout := d.Options().BufferTimeout
	pump := func() error {
		_, err := d.Pump(nil, driver.PumpOptions{Buffers: 4})
		return err
	}

	// Marked by command, targeting the component itself: EventMark.
	if err := d.MarkBuffer(in.Index, "command mark"); err != nil {
		return err
	}
	if err := pump(); err != nil {
		return err
	}
	m, err := waitForMark(d, "command mark", timeout)
	if err != nil {
		return err
	}
	if !m.Event {
		return fmt.Errorf("self-targeted mark came back on port %d instead of EventMark", m.Port)
	}

	// Marked in the header, targeting the component itself.
	d.MarkNextBuffer(in.Index, d.Component(), "header mark")
	if err := pump(); err != nil {
		return err
	}
	if m, err = waitForMark(d, "header mark", timeout); err != nil {
		return err
	}
	if !m.Event {
		return fmt.Errorf("self-targeted header mark came back on port %d instead of EventMark", m.Port)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Marked for someone downstream: it has to leave on an output.
	if len(reg.Outputs()) > 0 {
		d.MarkNextBuffer(in.Index, foreignTarget{}, "foreign mark")
		if err := pump(); err != nil {
			return err
		}
		if m, err = waitForMark(d, "foreign mark", timeout); err != nil {
			return err
		}
		if m.Event {
			return fmt.Errorf("mark for another component raised EventMark")
		}
	}
	return walk(d, omx.StateIdle, omx.StateLoaded)
}
