package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krisarmstrong/omxconf/pkg/driver"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

func init() {
	register("PortDisableEnableTest", "disable and re-enable ports in Loaded, Idle and Executing", portDisableEnableTest)
}

// disableHoldTime is how long a disable with buffers still allocated must
// stay incomplete.
const disableHoldTime = 200 * time.Millisecond

func cycleEach(d *driver.Driver) error {
	for _, p := range d.Registry().Ports() {
		if err := d.PortDisable(p.Index); err != nil {
			return err
		}
		if err := d.PortEnable(p.Index); err != nil {
			return err
		}
		if err := checkAccounting(d); err != nil {
			return err
		}
	}
	return nil
}

// disableHeld checks that a disable cannot complete while the port still
// has buffers, then frees them and lets it finish.
func disableHeld(d *driver.Driver, p *driver.Port) error {
	if err := d.SendPortCommand(omx.CommandPortDisable, p.Index); err != nil {
		return err
	}
	if err := d.WaitPortCommand(disableHoldTime); !errors.Is(err, driver.ErrTimeout) {
		return fmt.Errorf("%s: disable completed with buffers still allocated", p)
	}
	if err := d.FreePortBuffers(p.Index); err != nil {
		return err
	}
	if err := d.WaitPortCommand(d.Options().PortTimeout); err != nil {
		return fmt.Errorf("%s: disable after freeing buffers: %w", p, err)
	}
	reg := d.Registry()
	if err := reg.Refresh(d.Component(), p); err != nil {
		return err
	}
	if def := reg.Definition(p); def.Enabled || def.Populated {
		return fmt.Errorf("%s: enabled=%t populated=%t after disable", p, def.Enabled, def.Populated)
	}
	return d.PortEnable(p.Index)
}

func portDisableEnableTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	d, err := s.cut()
	if err != nil {
		return err
	}
	if err := cycleEach(d); err != nil {
		return fmt.Errorf("in Loaded: %w", err)
	}

	if err := walk(d, omx.StateIdle); err != nil {
		return err
	}
	if err := cycleEach(d); err != nil {
		return fmt.Errorf("in Idle: %w", err)
	}
	for _, p := range d.Registry().Ports() {
		if err := disableHeld(d, p); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := walk(d, omx.StateExecuting); err != nil {
		return err
	}
	per := env.buffers()
	for _, p := range d.Registry().Ports() {
		if _, err := d.Pump(nil, driver.PumpOptions{Buffers: per}); err != nil {
			return err
		}
		if err := d.PortDisable(p.Index); err != nil {
			return fmt.Errorf("in Executing: %w", err)
		}
		if err := d.PortEnable(p.Index); err != nil {
			return fmt.Errorf("in Executing: %w", err)
		}
	}
	if _, err := d.Pump(nil, driver.PumpOptions{Buffers: per}); err != nil {
		return err
	}
	if err := d.PortDisable(omx.PortAll); err != nil {
		return err
	}
	if err := d.PortEnable(omx.PortAll); err != nil {
		return err
	}
	if _, err := d.Pump(nil, driver.PumpOptions{Buffers: per}); err != nil {
		return fmt.Errorf("pump after re-enable: %w", err)
	}
	return walk(d, omx.StateIdle, omx.StateLoaded)
}
