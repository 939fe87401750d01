package scenario

import (
	"context"
	"fmt"

	"github.com/krisarmstrong/omxconf/pkg/driver"
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/metabolism"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

func init() {
	register("DataMetabolismTest", "apply port overrides and stream buffers of varying fill sizes", dataMetabolismTest)
}

// defaultMetabolism ramps each input through tiny, partial, full and odd
// fill lengths without touching the port definitions.
func defaultMetabolism(reg *driver.Registry) *metabolism.File {
	mf := &metabolism.File{Sizes: map[uint32][]uint32{}}
	for _, p := range reg.Inputs() {
		size := reg.Definition(p).BufferSize
		ramp := []uint32{1, size / 2, size, 17}
		for _, n := range ramp {
			if n > 0 && n <= size {
				mf.Sizes[p.Index] = append(mf.Sizes[p.Index], n)
			}
		}
	}
	return mf
}

// verifyOverrides re-reads every overridden port and checks the component
// kept the values. Buffer sizes may be rounded up.
func verifyOverrides(d *driver.Driver, mf *metabolism.File) error {
	reg := d.Registry()
	for _, idx := range mf.Ports() {
		p, ok := reg.Port(idx)
		if !ok {
			return fmt.Errorf("metabolism names port %d, which the component does not have", idx)
		}
		if err := reg.Refresh(d.Component(), p); err != nil {
			return err
		}
		def := reg.Definition(p)
		want := mf.Expect(idx)
		if n, ok := want["nbuffercountactual"]; ok && uint64(def.BufferCountActual) != n {
			return fmt.Errorf("%s: nBufferCountActual %d, override %d", p, def.BufferCountActual, n)
		}
		if n, ok := want["nbuffersize"]; ok && uint64(def.BufferSize) < n {
			return fmt.Errorf("%s: nBufferSize %d below override %d", p, def.BufferSize, n)
		}
	}
	return nil
}

func dataMetabolismTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	d, err := s.cut()
	if err != nil {
		return err
	}
	reg := d.Registry()

	var mf *metabolism.File
	if env.Metabolism != "" {
		if mf, err = metabolism.Load(env.Metabolism); err != nil {
			return err
		}
	} else {
		mf = defaultMetabolism(reg)
	}
	if err := mf.Apply(d.Component()); err != nil {
		return err
	}
	if err := verifyOverrides(d, mf); err != nil {
		return err
	}

	runs := env.buffers()
	for idx, sizes := range mf.Sizes {
		p, ok := reg.Port(idx)
		if !ok || !p.IsInput() {
			return fmt.Errorf("buffer sizes given for port %d, which is not an input", idx)
		}
		reg.SetSizes(p, sizes)
		if len(sizes) > runs {
			runs = len(sizes)
		}
	}
	logging.LogInfo(logging.ComponentScenario, "metabolism loaded",
		"overrides", len(mf.Overrides), "sized_ports", len(mf.Sizes), "buffers", runs)

	if err := walk(d, omx.StateIdle, omx.StateExecuting); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := d.Pump(nil, driver.PumpOptions{Buffers: runs, SendEOS: true})
	if err != nil {
		return err
	}
	if err := d.WaitEOS(d.Options().EOSTimeout); err != nil {
		return err
	}
	for _, p := range reg.Inputs() {
		if got := res.Returned[p.Index]; got < runs {
			return fmt.Errorf("%s: %d of %d buffers came back", p, got, runs)
		}
	}
	if err := checkAccounting(d); err != nil {
		return err
	}
	return walk(d, omx.StateIdle, omx.StateLoaded)
}
