package scenario

import (
	"context"
	"fmt"

	"github.com/krisarmstrong/omxconf/pkg/driver"
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
	"github.com/krisarmstrong/omxconf/pkg/osal"
	"github.com/krisarmstrong/omxconf/pkg/ttc"
)

func init() {
	register("TunnelTest", "tunnel the component to a test component, stream through it and tear down", tunnelTest)
}

// peerConfig builds a pass-through test component whose ports match def's
// domain, so either of its ports can be tunneled to def's port.
func peerConfig(def omx.PortDefinition) ttc.Config {
	cfg := ttc.DefaultConfig(ttc.TunnelTestName)
	count := def.BufferCountActual
	if count < 2 {
		count = 2
	}
	format := omx.PortFormat{Compression: def.Format.Compression, Color: def.Format.Color, Encoding: def.Format.Encoding}
	for i := range cfg.Ports {
		cfg.Ports[i].Domain = def.Domain
		cfg.Ports[i].CountMin = 2
		cfg.Ports[i].CountActual = count
		cfg.Ports[i].BufferSize = def.BufferSize
		cfg.Ports[i].Formats = []omx.PortFormat{format}
	}
	return cfg
}

// end is one side of a tunnel.
type end struct {
	d    *driver.Driver
	port *driver.Port
}

// tunnelPair orders the two components of a tunnel: the non-supplier has to
// move first in every transition so the supplier's buffers have somewhere
// to go.
type tunnelPair struct {
	first, second *driver.Driver
}

// split moves both components with the commands issued back to back before
// either completion is awaited. Loaded⇄Idle needs this: the supplier's
// allocation or release only completes the non-supplier's transition.
func (tp tunnelPair) split(target omx.State) error {
	w1, err := tp.first.StartTransition(target)
	if err != nil {
		return err
	}
	w2, err := tp.second.StartTransition(target)
	if err != nil {
		return err
	}
	if w1 {
		if err := tp.first.WaitState(target); err != nil {
			return err
		}
	}
	if w2 {
		return tp.second.WaitState(target)
	}
	return nil
}

func (tp tunnelPair) sequential(target omx.State) error {
	if err := tp.first.Transition(target); err != nil {
		return err
	}
	return tp.second.Transition(target)
}

// pumpable reports whether d has any port the driver exchanges buffers on.
func pumpable(d *driver.Driver) bool {
	for _, p := range d.Registry().Ports() {
		if !p.Tunneled {
			return true
		}
	}
	return false
}

func tunnelTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	cut, err := s.cut()
	if err != nil {
		return err
	}

	// Prefer tunneling the component's output into the peer; a sink gets
	// the peer's output instead.
	var cutPort *driver.Port
	cutIsOutput := true
	if outs := cut.Registry().Outputs(); len(outs) > 0 {
		cutPort = outs[0]
	} else if ins := cut.Registry().Inputs(); len(ins) > 0 {
		cutPort = ins[0]
		cutIsOutput = false
	} else {
		return fmt.Errorf("component has no ports to tunnel")
	}

	cfg := peerConfig(cut.Registry().Definition(cutPort))
	peerCore := ttc.NewCore(cfg)
	if err := peerCore.Init(); err != nil {
		return err
	}
	s.cl.Defer("deinit peer core", peerCore.Deinit)
	peer, err := s.open(peerCore, cfg.Name, env.Options)
	if err != nil {
		return err
	}

	var out, in end
	if cutIsOutput {
		out = end{cut, cutPort}
		in = end{peer, peer.Registry().Inputs()[0]}
	} else {
		out = end{peer, peer.Registry().Outputs()[0]}
		in = end{cut, cutPort}
	}

	if err := omx.SetupTunnel(out.d.Component(), out.port.Index, in.d.Component(), in.port.Index); err != nil {
		return fmt.Errorf("setup tunnel %s:%d -> %s:%d: %w",
			out.d.Component().Name(), out.port.Index, in.d.Component().Name(), in.port.Index, err)
	}
	s.cl.Defer("tear down tunnel", func() error {
		oerr := out.d.Component().ComponentTunnelRequest(out.port.Index, nil, 0, nil)
		ierr := in.d.Component().ComponentTunnelRequest(in.port.Index, nil, 0, nil)
		if oerr != nil {
			return oerr
		}
		return ierr
	})

	bs := &omx.BufferSupplierParam{PortIndex: cutPort.Index}
	omx.InitParam(bs)
	if err := cut.Component().GetParameter(omx.IndexParamCompBufferSupplier, bs); err != nil {
		return fmt.Errorf("query buffer supplier: %w", err)
	}
	out.d.Registry().SetTunneled(out.port, bs.Supplier)
	in.d.Registry().SetTunneled(in.port, bs.Supplier)

	pair := tunnelPair{first: out.d, second: in.d}
	if bs.Supplier == omx.SupplyOutput {
		pair = tunnelPair{first: in.d, second: out.d}
	}
	logging.LogInfo(logging.ComponentScenario, "tunnel established",
		"out", out.port.Index, "in", in.port.Index, "supplier", bs.Supplier)

	if err := pair.split(omx.StateIdle); err != nil {
		return fmt.Errorf("tunnel to Idle: %w", err)
	}
	if err := pair.sequential(omx.StateExecuting); err != nil {
		return fmt.Errorf("tunnel to Executing: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The upstream side feeds, the downstream side drains until EOS.
	feed, drain := out.d, in.d
	drain.ResetEOS()
	var drainer *osal.Thread
	if pumpable(drain) {
		drainer = osal.Go("drain", func() error {
			res, err := drain.Pump(nil, driver.PumpOptions{KeepEOS: true})
			if err == nil && !res.EOS {
				err = fmt.Errorf("drain ended without end of stream")
			}
			return err
		})
	}
	_, ferr := feed.Pump(nil, driver.PumpOptions{Buffers: env.buffers(), SendEOS: true})
	var derr error
	if drainer != nil {
		derr = drainer.Destroy(env.Options.EOSTimeout + env.Options.BufferTimeout)
	} else {
		derr = drain.WaitEOS(env.Options.EOSTimeout)
	}
	if ferr != nil {
		return fmt.Errorf("feed: %w", ferr)
	}
	if derr != nil {
		return fmt.Errorf("drain: %w", derr)
	}
	if n := drain.EOSCount(); n != 1 {
		return fmt.Errorf("end of stream reported %d times downstream", n)
	}

	if err := pair.sequential(omx.StateIdle); err != nil {
		return fmt.Errorf("tunnel to Idle: %w", err)
	}
	if err := pair.split(omx.StateLoaded); err != nil {
		return fmt.Errorf("tunnel to Loaded: %w", err)
	}
	for _, d := range []*driver.Driver{cut, peer} {
		if err := requireDrained(d); err != nil {
			return err
		}
	}
	return nil
}
