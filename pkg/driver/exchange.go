package driver

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// PumpOptions controls one run of the buffer pump.
type PumpOptions struct {
	// Buffers is the number of buffers each input port must get back (each
	// output port when the component has no inputs). Zero or less pumps
	// until end of stream.
	Buffers int
	// SendEOS flags the last input buffer of the run with BufferFlagEOS.
	SendEOS bool
	// StopOnEOS ends the run once every output port has reported EOS.
	StopOnEOS bool
	// RewindOnEOS restarts an exhausted source instead of flagging EOS.
	RewindOnEOS bool
	// KeepEOS leaves end of stream reported before the run in place, for a
	// drain started alongside the run that feeds it.
	KeepEOS bool
}

// PumpResult reports what a run moved.
type PumpResult struct {
	Submitted map[uint32]int
	Returned  map[uint32]int
	EOS       bool
	// Stopped is set when the component refused a buffer with
	// ErrorIncorrectStateOperation, which ends the run.
	Stopped bool
}

// Pump keeps every enabled, non-tunneled port in ports busy: it submits
// whatever is on the free lists, and when nothing can be submitted it waits
// for a buffer to come back. A wait that expires means the component is
// unresponsive. A nil ports slice pumps every port.
func (d *Driver) Pump(ports []*Port, opts PumpOptions) (PumpResult, error) {
	if d.comp == nil {
		return PumpResult{}, ErrNotAttached
	}
	if ports == nil {
		ports = d.reg.Ports()
	}
	if opts.Buffers <= 0 {
		opts.StopOnEOS = true
	}

	var inputs, outputs []*Port
	for _, p := range ports {
		if p.Tunneled || !d.reg.Definition(p).Enabled {
			continue
		}
		if p.IsInput() {
			inputs = append(inputs, p)
		} else {
			outputs = append(outputs, p)
		}
	}
	if (opts.StopOnEOS || opts.SendEOS) && !opts.KeepEOS {
		d.ResetEOS()
	}

	res := PumpResult{Submitted: map[uint32]int{}, Returned: map[uint32]int{}}
	start := map[uint32]int{}
	for _, p := range append(inputs, outputs...) {
		start[p.Index] = d.reg.Counts(p).Processed
	}
	counted := inputs
	if len(counted) == 0 {
		counted = outputs
	}

	logging.LogInfo(logging.ComponentEngine, "pump start",
		"inputs", len(inputs), "outputs", len(outputs), "buffers", opts.Buffers, "send_eos", opts.SendEOS)

	finish := func() {
		for _, p := range append(inputs, outputs...) {
			res.Returned[p.Index] = d.reg.Counts(p).Processed - start[p.Index]
		}
	}

	// A run started in Executing or Pause ends when another caller moves the
	// component out of them. Buffers it holds from then on are not a hang.
	running := d.processing()
	stopped := func() bool {
		if running && !d.processing() {
			res.Stopped = true
			logging.LogInfo(logging.ComponentEngine, "component left processing state", "state", d.State())
			return true
		}
		return false
	}

	for {
		if err := d.Err(); err != nil {
			finish()
			return res, err
		}
		if stopped() {
			break
		}
		if d.eosEvent.IsSet() && opts.StopOnEOS {
			res.EOS = true
			break
		}
		if !opts.StopOnEOS && d.reached(counted, start, opts.Buffers) {
			break
		}

		d.bufferEvent.Reset()
		n, err := d.submitAvailable(inputs, outputs, &res, opts)
		if err != nil {
			finish()
			return res, err
		}
		if res.Stopped {
			logging.LogInfo(logging.ComponentEngine, "component stopped accepting buffers")
			break
		}
		if n > 0 {
			continue
		}
		if d.eosEvent.IsSet() && opts.StopOnEOS {
			continue
		}
		if !d.bufferEvent.Wait(d.opts.BufferTimeout) {
			if stopped() {
				break
			}
			finish()
			return res, fmt.Errorf("no buffer returned within %s: %w", d.opts.BufferTimeout, ErrUnresponsive)
		}
	}

	finish()
	logging.LogInfo(logging.ComponentEngine, "pump done", "eos", res.EOS, "stopped", res.Stopped)
	return res, nil
}

func (d *Driver) processing() bool {
	st := d.State()
	return st == omx.StateExecuting || st == omx.StatePause
}

// reached reports whether every counted port got target buffers back. An
// input whose source ran dry is done once its last buffer is back.
func (d *Driver) reached(ports []*Port, start map[uint32]int, target int) bool {
	for _, p := range ports {
		c := d.reg.Counts(p)
		if c.Processed-start[p.Index] >= target {
			continue
		}
		if p.IsInput() && d.inputFinished(p) && c.Outstanding == 0 {
			continue
		}
		return false
	}
	return true
}

func (d *Driver) submitAvailable(inputs, outputs []*Port, res *PumpResult, opts PumpOptions) (int, error) {
	n := 0
	for _, p := range inputs {
		for {
			seq := res.Submitted[p.Index]
			if opts.Buffers > 0 && seq >= opts.Buffers {
				break
			}
			if d.inputFinished(p) {
				break
			}
			buf := d.reg.Take(p)
			if buf == nil {
				break
			}
			last := opts.SendEOS && opts.Buffers > 0 && seq == opts.Buffers-1
			if err := d.fillInput(p, buf, seq, last, opts.RewindOnEOS); err != nil {
				d.reg.Untake(buf)
				return n, err
			}
			ok, err := d.submit(p, buf)
			if err != nil {
				return n, err
			}
			if !ok {
				res.Stopped = true
				return n, nil
			}
			res.Submitted[p.Index]++
			n++
		}
	}
	for _, p := range outputs {
		for {
			buf := d.reg.Take(p)
			if buf == nil {
				break
			}
			buf.FilledLen = 0
			buf.Offset = 0
			buf.Flags = 0
			buf.MarkTarget = nil
			buf.MarkData = nil
			ok, err := d.submit(p, buf)
			if err != nil {
				return n, err
			}
			if !ok {
				res.Stopped = true
				return n, nil
			}
			res.Submitted[p.Index]++
			n++
		}
	}
	return n, nil
}

func (d *Driver) inputFinished(p *Port) bool {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	return p.eosSent
}

// submit hands buf to the component. It reports false when the component
// refused with ErrorIncorrectStateOperation, which happens when a state
// change races the pump; the buffer then goes back on the free list.
func (d *Driver) submit(p *Port, buf *omx.BufferHeader) (bool, error) {
	if err := d.reg.Submit(buf); err != nil {
		d.reg.Untake(buf)
		return false, err
	}
	var err error
	if p.IsInput() {
		err = d.comp.EmptyThisBuffer(buf)
	} else {
		err = d.comp.FillThisBuffer(buf)
	}
	switch omx.Code(err) {
	case omx.ErrorNone:
		if p.IsInput() {
			d.metrics.InputSubmitted.Inc()
		} else {
			d.metrics.OutputSubmitted.Inc()
		}
		return true, nil
	case omx.ErrorIncorrectStateOperation:
		d.reg.Reject(buf)
		logging.LogInfo(logging.ComponentEngine, "buffer refused", "port", p.Index, "err", err)
		return false, nil
	}
	d.reg.Reject(buf)
	return false, fmt.Errorf("submit buffer on %s: %w", p, err)
}

func (d *Driver) fillInput(p *Port, buf *omx.BufferHeader, seq int, last, rewind bool) error {
	size := buf.AllocLen
	if size > uint32(len(buf.Data)) {
		size = uint32(len(buf.Data))
	}
	d.reg.mu.Lock()
	src := p.source
	if len(p.sizes) > 0 {
		if s := p.sizes[p.sizeIdx%len(p.sizes)]; s < size {
			size = s
		}
		p.sizeIdx++
	}
	d.reg.mu.Unlock()

	filled := size
	eos := false
	if src != nil {
		got, err := io.ReadFull(src, buf.Data[:size])
		if errors.Is(err, io.EOF) && rewind {
			if rerr := src.Rewind(); rerr != nil {
				return fmt.Errorf("rewind source on %s: %w", p, rerr)
			}
			got, err = io.ReadFull(src, buf.Data[:size])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if rewind {
				if rerr := src.Rewind(); rerr != nil {
					return fmt.Errorf("rewind source on %s: %w", p, rerr)
				}
			} else {
				eos = true
			}
		default:
			return fmt.Errorf("read source for %s: %w", p, err)
		}
		filled = uint32(got)
	}

	buf.FilledLen = filled
	buf.Offset = 0
	buf.Flags = 0
	buf.TimeStamp = int64(seq)
	buf.TickCount = uint32(seq)
	buf.MarkTarget = nil
	buf.MarkData = nil
	if eos || last {
		buf.Flags |= omx.BufferFlagEOS
		d.reg.mu.Lock()
		p.eosSent = true
		d.reg.mu.Unlock()
	}

	d.mu.Lock()
	if m, ok := d.headerMarks[p.Index]; ok {
		buf.MarkTarget = m.Target
		buf.MarkData = m.Data
		delete(d.headerMarks, p.Index)
	}
	d.mu.Unlock()
	return nil
}

// Flush flushes one port or every port. An unknown index must be refused
// synchronously with ErrorBadPortIndex, in which case no completion is
// awaited. After completion every buffer of the flushed ports must be back
// on the free lists.
func (d *Driver) Flush(index uint32) error {
	ports, rerr := d.reg.Resolve(index)

	d.flushEvent.Reset()
	d.mu.Lock()
	for k := range d.pendingFlush {
		delete(d.pendingFlush, k)
	}
	for k := range d.flushHeld {
		delete(d.flushHeld, k)
	}
	for _, p := range ports {
		d.pendingFlush[p.Index] = true
	}
	d.mu.Unlock()

	if err := d.command(omx.CommandFlush, index, nil); err != nil {
		d.mu.Lock()
		for k := range d.pendingFlush {
			delete(d.pendingFlush, k)
		}
		d.mu.Unlock()
		return fmt.Errorf("flush port %d: %w", index, err)
	}
	if rerr != nil {
		return violation("flush", "component accepted flush of unknown port %d", index)
	}
	if !d.flushEvent.Wait(d.opts.FlushTimeout) {
		d.metrics.Timeout(omx.CommandFlush.String())
		return fmt.Errorf("flush port %d: %w", index, ErrTimeout)
	}

	d.mu.Lock()
	held := make(map[uint32]int, len(d.flushHeld))
	for k, v := range d.flushHeld {
		held[k] = v
	}
	d.mu.Unlock()

	for _, p := range ports {
		if p.Tunneled {
			continue
		}
		if n := held[p.Index]; n != 0 {
			return violation("flush", "%s completed with %d buffers still held by the component", p, n)
		}
		c := d.reg.Counts(p)
		if c.Total > 0 && c.Queued+c.Held != c.Total {
			return violation("flush", "%s has %d of %d buffers queued after flush", p, c.Queued, c.Total)
		}
	}
	logging.LogInfo(logging.ComponentEngine, "flush complete", "port", index)
	return nil
}

// ResetEOS clears the end-of-stream tally before a run.
func (d *Driver) ResetEOS() {
	d.eosEvent.Reset()
	d.mu.Lock()
	for k := range d.eosSeen {
		delete(d.eosSeen, k)
	}
	d.eosFired = 0
	d.mu.Unlock()

	d.reg.mu.Lock()
	for _, p := range d.reg.ports {
		p.eosSent = false
	}
	d.reg.mu.Unlock()
}

// EOSCount returns how often the aggregate EOS event fired since ResetEOS.
func (d *Driver) EOSCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eosFired
}

// WaitEOS waits for the aggregate EOS event.
func (d *Driver) WaitEOS(timeout time.Duration) error {
	if !d.eosEvent.Wait(timeout) {
		return fmt.Errorf("end of stream: %w", ErrTimeout)
	}
	return nil
}

// noteEOS records EOS on port. The aggregate event fires once every output
// port has reported EOS, or every input port for a component without
// outputs.
func (d *Driver) noteEOS(port uint32) {
	targets := d.reg.Outputs()
	if len(targets) == 0 {
		targets = d.reg.Inputs()
	}

	d.mu.Lock()
	if d.eosSeen[port] {
		d.mu.Unlock()
		return
	}
	d.eosSeen[port] = true
	all := true
	for _, p := range targets {
		if !d.eosSeen[p.Index] {
			all = false
			break
		}
	}
	fire := all && d.eosFired == 0
	if fire {
		d.eosFired++
	}
	d.mu.Unlock()

	logging.LogInfo(logging.ComponentEngine, "end of stream", "port", port)
	if fire {
		d.eosEvent.Set()
		d.bufferEvent.Set()
	}
}
