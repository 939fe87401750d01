// Package driver drives a component under test through the IL state machine
// and its buffer exchange protocol, verifying what the component reports
// against what the driver observed.
package driver

import (
	"fmt"
	"sync"
	"time"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/metrics"
	"github.com/krisarmstrong/omxconf/pkg/omx"
	"github.com/krisarmstrong/omxconf/pkg/osal"
)

// Options bounds every wait and selects buffer policies.
type Options struct {
	StateTimeout  time.Duration
	PortTimeout   time.Duration
	BufferTimeout time.Duration
	FlushTimeout  time.Duration
	EOSTimeout    time.Duration

	AllocMode AllocMode
	Order     QueueOrder
}

// DefaultOptions returns the timeouts used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		StateTimeout:  5 * time.Second,
		PortTimeout:   5 * time.Second,
		BufferTimeout: 5 * time.Second,
		FlushTimeout:  5 * time.Second,
		EOSTimeout:    10 * time.Second,
		AllocMode:     AllocComponent,
		Order:         FIFO,
	}
}

// Mark is one mark observed by the driver: either an EventMark raised by the
// component or a mark carried back on an output buffer.
type Mark struct {
	Port  uint32
	Data  any
	Event bool
}

// Driver owns one component handle for the length of a scenario. It
// implements omx.Callbacks, so it must be passed to GetHandle before Attach.
type Driver struct {
	opts    Options
	reg     *Registry
	comp    omx.Component
	metrics *metrics.ComponentMetrics

	mu             sync.Mutex
	shadow         omx.State
	stateCallbacks int
	errorEvents    []omx.Error
	stateErr       omx.Error
	pendingPorts   map[uint32]bool
	pendingFlush   map[uint32]bool
	flushHeld      map[uint32]int
	eosSeen        map[uint32]bool
	eosFired       int
	marks          []Mark
	headerMarks    map[uint32]*omx.MarkData
	settings       []uint32
	violations     []error

	stateEvent  *osal.Event
	portEvent   *osal.Event
	flushEvent  *osal.Event
	bufferEvent *osal.Event
	eosEvent    *osal.Event
	markEvent   *osal.Event
	errorEvent  *osal.Event
}

// New returns a driver with no component attached.
func New(opts Options) *Driver {
	return &Driver{
		opts:         opts,
		reg:          NewRegistry(opts.Order),
		shadow:       omx.StateUnloaded,
		pendingPorts: map[uint32]bool{},
		pendingFlush: map[uint32]bool{},
		flushHeld:    map[uint32]int{},
		eosSeen:      map[uint32]bool{},
		headerMarks:  map[uint32]*omx.MarkData{},
		stateEvent:   osal.NewEvent(),
		portEvent:    osal.NewEvent(),
		flushEvent:   osal.NewEvent(),
		bufferEvent:  osal.NewEvent(),
		eosEvent:     osal.NewEvent(),
		markEvent:    osal.NewEvent(),
		errorEvent:   osal.NewEvent(),
	}
}

// Attach takes ownership of comp: it reads the initial state into the shadow
// and discovers the ports.
func (d *Driver) Attach(comp omx.Component) error {
	if comp == nil {
		return ErrNotAttached
	}
	d.comp = comp
	d.metrics = metrics.NewComponentMetrics(comp.Name())

	st, err := comp.GetState()
	if err != nil {
		return fmt.Errorf("get initial state: %w", err)
	}
	d.mu.Lock()
	d.shadow = st
	d.mu.Unlock()
	logging.LogInfo(logging.ComponentDriver, "attached component", "name", comp.Name(), "state", st)

	return d.reg.Discover(comp)
}

// Component returns the attached handle.
func (d *Driver) Component() omx.Component { return d.comp }

// Registry returns the port and buffer registry.
func (d *Driver) Registry() *Registry { return d.reg }

// Options returns the driver options.
func (d *Driver) Options() Options { return d.opts }

// State returns the shadow state.
func (d *Driver) State() omx.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shadow
}

// StateCallbacks counts StateSet completions seen so far.
func (d *Driver) StateCallbacks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateCallbacks
}

// ErrorEvents returns every error code delivered through EventError.
func (d *Driver) ErrorEvents() []omx.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]omx.Error(nil), d.errorEvents...)
}

// PortSettingsChanged returns the ports that raised EventPortSettingsChanged.
func (d *Driver) PortSettingsChanged() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.settings...)
}

// Err returns the first protocol violation observed in a callback.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.violations) == 0 {
		return nil
	}
	return d.violations[0]
}

// Violations returns every protocol violation observed in callbacks.
func (d *Driver) Violations() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.violations...)
}

func (d *Driver) fail(err error) {
	logging.LogError(logging.ComponentDriver, "protocol violation", "err", err)
	d.mu.Lock()
	d.violations = append(d.violations, err)
	d.mu.Unlock()
	// Wake every waiter so the violation surfaces promptly.
	d.bufferEvent.Set()
}

func (d *Driver) command(cmd omx.Command, param uint32, data any) error {
	if d.comp == nil {
		return ErrNotAttached
	}
	d.metrics.Command(cmd.String())
	logging.LogDebug(logging.ComponentDriver, "send command", "cmd", cmd, "param", param)
	return d.comp.SendCommand(cmd, param, data)
}

// SendCommand issues a raw command without any bookkeeping. Scenarios use it
// for negative paths and deliberate races.
func (d *Driver) SendCommand(cmd omx.Command, param uint32, data any) error {
	return d.command(cmd, param, data)
}

// CheckState compares the shadow with GetState. A mismatch is a violation.
func (d *Driver) CheckState() (omx.State, error) {
	if d.comp == nil {
		return omx.StateInvalid, ErrNotAttached
	}
	st, err := d.comp.GetState()
	if err != nil {
		return st, fmt.Errorf("get state: %w", err)
	}
	d.mu.Lock()
	shadow := d.shadow
	d.mu.Unlock()
	if st != shadow {
		return st, violation("check state", "component reports %s, driver observed %s", st, shadow)
	}
	return st, nil
}

func (d *Driver) resetStateWait() {
	d.stateEvent.Reset()
	d.mu.Lock()
	d.stateErr = omx.ErrorNone
	d.mu.Unlock()
}

// Transition moves the component to target. Loaded→Idle allocates buffers on
// every enabled port and Idle→Loaded frees them before the completion wait.
// A synchronous ErrorSameState counts as success. A missing completion is
// logged and resolved with GetState.
func (d *Driver) Transition(target omx.State) error {
	wait, err := d.StartTransition(target)
	if err != nil || !wait {
		return err
	}
	return d.WaitState(target)
}

// StartTransition is the first half of Transition: it verifies the shadow,
// issues StateSet and performs the buffer work, but does not wait. It
// reports false when there is nothing to wait for. Tunnel peers need the
// halves split so both sides can be moved together.
func (d *Driver) StartTransition(target omx.State) (bool, error) {
	from, err := d.CheckState()
	if err != nil {
		return false, err
	}
	logging.LogInfo(logging.ComponentDriver, "transition", "from", from, "to", target)

	d.resetStateWait()
	if err := d.command(omx.CommandStateSet, uint32(target), nil); err != nil {
		if omx.Code(err) == omx.ErrorSameState {
			logging.LogInfo(logging.ComponentDriver, "already in state", "state", target)
			return false, nil
		}
		return false, fmt.Errorf("StateSet %s: %w", target, err)
	}

	switch {
	case from == omx.StateLoaded && target == omx.StateIdle:
		if err := d.allocateAll(); err != nil {
			return false, err
		}
	case from == omx.StateIdle && target == omx.StateLoaded:
		if err := d.freeAll(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// SendStateNoWait issues StateSet and returns without waiting. Pair it with
// WaitState.
func (d *Driver) SendStateNoWait(target omx.State) error {
	d.resetStateWait()
	return d.command(omx.CommandStateSet, uint32(target), nil)
}

// WaitState waits for the StateSet completion for target.
func (d *Driver) WaitState(target omx.State) error {
	if !d.stateEvent.Wait(d.opts.StateTimeout) {
		d.metrics.Timeout(omx.CommandStateSet.String())
		st, err := d.comp.GetState()
		if err != nil {
			return fmt.Errorf("get state after timeout: %w", err)
		}
		logging.LogWarn(logging.ComponentDriver, "state change timed out, using GetState",
			"target", target, "state", st, "timeout", d.opts.StateTimeout)
		d.mu.Lock()
		d.shadow = st
		d.mu.Unlock()
		if st != target {
			return fmt.Errorf("waiting for %s (component in %s): %w", target, st, ErrTimeout)
		}
		return nil
	}

	d.mu.Lock()
	code := d.stateErr
	shadow := d.shadow
	d.mu.Unlock()

	if code != omx.ErrorNone {
		if target == omx.StateInvalid && code == omx.ErrorInvalidState {
			return nil
		}
		if code == omx.ErrorSameState && shadow == target {
			logging.LogInfo(logging.ComponentDriver, "already in state", "state", target)
			return nil
		}
		return fmt.Errorf("StateSet %s: %w", target, code)
	}
	if shadow != target {
		return violation("state complete", "completion reports %s, requested %s", shadow, target)
	}
	return nil
}

// ExpectTransitionError requests target and requires it to fail with want,
// either synchronously or through an error event. A completion, or no answer
// at all, is a failure.
func (d *Driver) ExpectTransitionError(target omx.State, want omx.Error) error {
	op := fmt.Sprintf("StateSet %s", target)
	before := d.StateCallbacks()
	d.resetStateWait()

	if err := d.command(omx.CommandStateSet, uint32(target), nil); err != nil {
		if cerr := ExpectError(op, err, want); cerr != nil {
			return cerr
		}
		return d.expectNoCompletion(op, before)
	}

	if !d.stateEvent.Wait(d.opts.StateTimeout) {
		d.metrics.Timeout(omx.CommandStateSet.String())
		return fmt.Errorf("%s: no error reported, expected %s: %w", op, want.String(), ErrTimeout)
	}
	d.mu.Lock()
	code := d.stateErr
	d.mu.Unlock()
	if code == omx.ErrorNone {
		return &MismatchError{Op: op, Want: want, Got: omx.ErrorNone}
	}
	if err := ExpectError(op, code, want); err != nil {
		return err
	}
	return d.expectNoCompletion(op, before)
}

func (d *Driver) expectNoCompletion(op string, before int) error {
	if n := d.StateCallbacks(); n != before {
		return violation(op, "rejected request still produced %d state completions", n-before)
	}
	return nil
}

func (d *Driver) allocateAll() error {
	for _, p := range d.reg.Ports() {
		if err := d.reg.Refresh(d.comp, p); err != nil {
			return err
		}
		def := d.reg.Definition(p)
		if !def.Enabled || p.Tunneled {
			continue
		}
		if err := d.reg.Allocate(d.comp, p, int(def.BufferCountActual), d.opts.AllocMode); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) freeAll() error {
	var first error
	for _, p := range d.reg.Ports() {
		if p.Tunneled {
			continue
		}
		if err := d.reg.FreeAll(d.comp, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (d *Driver) beginPortCommand(pending map[uint32]bool, ev *osal.Event, ports []*Port) {
	ev.Reset()
	d.mu.Lock()
	for k := range pending {
		delete(pending, k)
	}
	for _, p := range ports {
		pending[p.Index] = true
	}
	d.mu.Unlock()
}

// SendPortCommand issues PortDisable or PortEnable and arms the completion
// wait without touching buffers.
func (d *Driver) SendPortCommand(cmd omx.Command, index uint32) error {
	ports, _ := d.reg.Resolve(index)
	d.beginPortCommand(d.pendingPorts, d.portEvent, ports)
	if err := d.command(cmd, index, nil); err != nil {
		return fmt.Errorf("%s %d: %w", cmd, index, err)
	}
	return nil
}

// WaitPortCommand waits until every port named by the last port command has
// completed. It returns ErrTimeout if they have not.
func (d *Driver) WaitPortCommand(timeout time.Duration) error {
	if !d.portEvent.Wait(timeout) {
		return ErrTimeout
	}
	return nil
}

// FreePortBuffers frees every client-held buffer on port.
func (d *Driver) FreePortBuffers(index uint32) error {
	ports, err := d.reg.Resolve(index)
	if err != nil {
		return err
	}
	var first error
	for _, p := range ports {
		if err := d.reg.FreeAll(d.comp, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PortDisable disables a port (or every port with omx.PortAll), waiting for
// the component to return its buffers, freeing them and then verifying the
// port is disabled and unpopulated.
func (d *Driver) PortDisable(index uint32) error {
	ports, err := d.reg.Resolve(index)
	if err != nil {
		return err
	}
	if err := d.SendPortCommand(omx.CommandPortDisable, index); err != nil {
		return err
	}
	for _, p := range ports {
		if p.Tunneled {
			continue
		}
		if err := d.waitOutstanding(p); err != nil {
			return err
		}
		if err := d.reg.FreeAll(d.comp, p); err != nil {
			return err
		}
	}
	if err := d.WaitPortCommand(d.opts.PortTimeout); err != nil {
		d.metrics.Timeout(omx.CommandPortDisable.String())
		return fmt.Errorf("disable port %d: %w", index, err)
	}
	for _, p := range ports {
		if err := d.reg.Refresh(d.comp, p); err != nil {
			return err
		}
		def := d.reg.Definition(p)
		if def.Enabled || def.Populated {
			return violation("port disable", "%s enabled=%t populated=%t after disable", p, def.Enabled, def.Populated)
		}
	}
	return nil
}

// PortEnable enables a port (or every port). Outside Loaded the driver
// allocates nBufferCountActual buffers before waiting, since the component
// cannot complete the command until the port is populated.
func (d *Driver) PortEnable(index uint32) error {
	ports, err := d.reg.Resolve(index)
	if err != nil {
		return err
	}
	if err := d.SendPortCommand(omx.CommandPortEnable, index); err != nil {
		return err
	}
	populate := d.State() != omx.StateLoaded && d.State() != omx.StateWaitForResources
	if populate {
		for _, p := range ports {
			if p.Tunneled {
				continue
			}
			if err := d.reg.Refresh(d.comp, p); err != nil {
				return err
			}
			def := d.reg.Definition(p)
			if err := d.reg.Allocate(d.comp, p, int(def.BufferCountActual), d.opts.AllocMode); err != nil {
				return err
			}
		}
	}
	if err := d.WaitPortCommand(d.opts.PortTimeout); err != nil {
		d.metrics.Timeout(omx.CommandPortEnable.String())
		return fmt.Errorf("enable port %d: %w", index, err)
	}
	for _, p := range ports {
		if err := d.reg.Refresh(d.comp, p); err != nil {
			return err
		}
		def := d.reg.Definition(p)
		if !def.Enabled || (populate && !p.Tunneled && !def.Populated) {
			return violation("port enable", "%s enabled=%t populated=%t after enable", p, def.Enabled, def.Populated)
		}
	}
	return nil
}

// waitOutstanding blocks until the component has returned every buffer on p.
func (d *Driver) waitOutstanding(p *Port) error {
	for {
		if err := d.Err(); err != nil {
			return err
		}
		d.bufferEvent.Reset()
		if d.reg.Counts(p).Outstanding == 0 {
			return nil
		}
		if !d.bufferEvent.Wait(d.opts.BufferTimeout) {
			return fmt.Errorf("%s: %d buffers not returned: %w", p, d.reg.Counts(p).Outstanding, ErrUnresponsive)
		}
	}
}

// MarkBuffer sends the MarkBuffer command: the next buffer the component
// takes on port carries data, and the component raises EventMark when it
// reaches itself as the target.
func (d *Driver) MarkBuffer(port uint32, data any) error {
	d.markEvent.Reset()
	mark := &omx.MarkData{Target: d.comp, Data: data}
	if err := d.command(omx.CommandMarkBuffer, port, mark); err != nil {
		return fmt.Errorf("mark buffer on port %d: %w", port, err)
	}
	return nil
}

// MarkNextBuffer makes the next input buffer submitted on port carry a mark
// for target.
func (d *Driver) MarkNextBuffer(port uint32, target omx.Component, data any) {
	d.markEvent.Reset()
	d.mu.Lock()
	d.headerMarks[port] = &omx.MarkData{Target: target, Data: data}
	d.mu.Unlock()
}

// WaitMark waits for the next mark observation.
func (d *Driver) WaitMark(timeout time.Duration) error {
	if !d.markEvent.Wait(timeout) {
		return fmt.Errorf("mark: %w", ErrTimeout)
	}
	return nil
}

// WaitError waits for the next EventError and returns its code.
func (d *Driver) WaitError(timeout time.Duration) (omx.Error, error) {
	if !d.errorEvent.Wait(timeout) {
		return omx.ErrorNone, fmt.Errorf("error event: %w", ErrTimeout)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorEvent.Reset()
	if len(d.errorEvents) == 0 {
		// ResetErrors ran between the wakeup and the lock.
		return omx.ErrorNone, fmt.Errorf("error event: %w", ErrTimeout)
	}
	return d.errorEvents[len(d.errorEvents)-1], nil
}

// ResetErrors forgets earlier error events.
func (d *Driver) ResetErrors() {
	d.mu.Lock()
	d.errorEvents = nil
	d.errorEvent.Reset()
	d.mu.Unlock()
}

// Marks returns every mark observed so far.
func (d *Driver) Marks() []Mark {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Mark(nil), d.marks...)
}

// Teardown walks the component back to Loaded as far as it will go, frees
// whatever buffers remain and releases the handle through core. Every step
// runs; the first error is returned.
func (d *Driver) Teardown(core omx.Core) error {
	if d.comp == nil {
		return nil
	}
	var cl Cleanup
	cl.Defer("free handle", func() error {
		err := core.FreeHandle(d.comp)
		d.mu.Lock()
		d.shadow = omx.StateUnloaded
		d.mu.Unlock()
		return err
	})

	st, err := d.comp.GetState()
	if err != nil {
		return cl.Finish(fmt.Errorf("teardown get state: %w", err))
	}
	d.mu.Lock()
	d.shadow = st
	d.mu.Unlock()

	switch st {
	case omx.StateExecuting, omx.StatePause:
		cl.Record(d.Transition(omx.StateIdle))
		cl.Record(d.Transition(omx.StateLoaded))
	case omx.StateIdle:
		cl.Record(d.Transition(omx.StateLoaded))
	case omx.StateWaitForResources:
		cl.Record(d.Transition(omx.StateLoaded))
		d.freeLeftovers(&cl)
	case omx.StateLoaded:
		// A Loaded→Idle that failed partway leaves the buffers it got.
		d.freeLeftovers(&cl)
	case omx.StateInvalid:
		// Buffers can only be freed; the component will not complete anything.
		for _, p := range d.reg.Ports() {
			cl.Record(d.reg.Free(d.comp, p, d.reg.Counts(p).Queued))
		}
	}
	return cl.Finish(nil)
}

func (d *Driver) freeLeftovers(cl *Cleanup) {
	for _, p := range d.reg.Ports() {
		if p.Tunneled || d.reg.Counts(p).Total == 0 {
			continue
		}
		logging.LogWarn(logging.ComponentDriver, "freeing buffers left on port", "port", p.Index, "count", d.reg.Counts(p).Total)
		cl.Record(d.reg.FreeAll(d.comp, p))
	}
}

// EventHandler implements omx.Callbacks.
func (d *Driver) EventHandler(c omx.Component, event omx.Event, data1, data2 uint32, eventData any) error {
	logging.Trace(logging.TraceCallSequence, logging.ComponentDriver, "event",
		"event", event, "data1", data1, "data2", data2)

	switch event {
	case omx.EventCmdComplete:
		d.onCommandComplete(omx.Command(data1), data2)
	case omx.EventError:
		d.onError(omx.Error(data1), data2)
	case omx.EventMark:
		d.mu.Lock()
		d.marks = append(d.marks, Mark{Data: eventData, Event: true})
		d.mu.Unlock()
		d.markEvent.Set()
	case omx.EventBufferFlag:
		if data2&omx.BufferFlagEOS != 0 {
			d.noteEOS(data1)
		}
	case omx.EventPortSettingsChanged:
		d.mu.Lock()
		d.settings = append(d.settings, data1)
		d.mu.Unlock()
		logging.LogInfo(logging.ComponentDriver, "port settings changed", "port", data1)
	default:
		logging.LogDebug(logging.ComponentDriver, "unhandled event", "event", event)
	}
	return nil
}

func (d *Driver) onCommandComplete(cmd omx.Command, data uint32) {
	switch cmd {
	case omx.CommandStateSet:
		d.mu.Lock()
		d.shadow = omx.State(data)
		d.stateCallbacks++
		d.mu.Unlock()
		d.stateEvent.Set()
	case omx.CommandFlush:
		d.mu.Lock()
		d.completePending(d.pendingFlush, data, func(idx uint32) {
			if p, ok := d.reg.Port(idx); ok {
				d.flushHeld[idx] = d.reg.Counts(p).Outstanding
			}
		})
		done := len(d.pendingFlush) == 0
		d.mu.Unlock()
		if done {
			d.flushEvent.Set()
		}
	case omx.CommandPortDisable, omx.CommandPortEnable:
		d.mu.Lock()
		d.completePending(d.pendingPorts, data, nil)
		done := len(d.pendingPorts) == 0
		d.mu.Unlock()
		if done {
			d.portEvent.Set()
		}
	case omx.CommandMarkBuffer:
		logging.LogDebug(logging.ComponentDriver, "mark buffer accepted", "port", data)
	}
}

// completePending clears idx, or everything for omx.PortAll. d.mu is held.
func (d *Driver) completePending(pending map[uint32]bool, idx uint32, each func(uint32)) {
	if idx == omx.PortAll {
		for k := range pending {
			if each != nil {
				each(k)
			}
			delete(pending, k)
		}
		return
	}
	if each != nil {
		each(idx)
	}
	delete(pending, idx)
}

func (d *Driver) onError(code omx.Error, data uint32) {
	logging.LogWarn(logging.ComponentDriver, "error event", "code", code.String(), "data", data)
	d.mu.Lock()
	d.errorEvents = append(d.errorEvents, code)
	stateClass := code == omx.ErrorSameState || code == omx.ErrorIncorrectStateTransition || code == omx.ErrorInvalidState
	if stateClass {
		d.stateErr = code
	}
	if code == omx.ErrorInvalidState {
		d.shadow = omx.StateInvalid
	}
	d.errorEvent.Set()
	d.mu.Unlock()

	if stateClass {
		d.stateEvent.Set()
	}
}

// EmptyBufferDone implements omx.Callbacks.
func (d *Driver) EmptyBufferDone(c omx.Component, buf *omx.BufferHeader) error {
	p, err := d.reg.Return(buf, omx.DirInput)
	if err != nil {
		d.fail(err)
		return nil
	}
	d.metrics.InputReturned.Inc()
	logging.LogBuffer(logging.ComponentDriver, "empty buffer done", "port", p.Index, "flags", buf.Flags)
	if buf.Flags&omx.BufferFlagEOS != 0 && len(d.reg.Outputs()) == 0 {
		d.noteEOS(p.Index)
	}
	d.bufferEvent.Set()
	return nil
}

// FillBufferDone implements omx.Callbacks.
func (d *Driver) FillBufferDone(c omx.Component, buf *omx.BufferHeader) error {
	p, err := d.reg.Return(buf, omx.DirOutput)
	if err != nil {
		d.fail(err)
		return nil
	}
	d.metrics.OutputReturned.Inc()
	logging.LogBuffer(logging.ComponentDriver, "fill buffer done", "port", p.Index,
		"filled", buf.FilledLen, "flags", buf.Flags)

	if buf.MarkTarget != nil || buf.MarkData != nil {
		d.mu.Lock()
		d.marks = append(d.marks, Mark{Port: p.Index, Data: buf.MarkData})
		d.mu.Unlock()
		d.markEvent.Set()
	}
	if err := d.writeSink(p, buf); err != nil {
		logging.LogWarn(logging.ComponentDriver, "output write failed", "port", p.Index, "err", err)
	}
	if buf.Flags&omx.BufferFlagEOS != 0 {
		d.noteEOS(p.Index)
	}
	d.bufferEvent.Set()
	return nil
}

func (d *Driver) writeSink(p *Port, buf *omx.BufferHeader) error {
	d.reg.mu.Lock()
	w := p.sink
	d.reg.mu.Unlock()
	if w == nil || buf.FilledLen == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := w.Write(buf.Payload())
	return err
}
