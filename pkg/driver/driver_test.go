package driver

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisarmstrong/omxconf/pkg/omx"
	"github.com/krisarmstrong/omxconf/pkg/ttc"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.StateTimeout = 2 * time.Second
	opts.PortTimeout = 2 * time.Second
	opts.BufferTimeout = 2 * time.Second
	opts.FlushTimeout = 2 * time.Second
	opts.EOSTimeout = 2 * time.Second
	return opts
}

// attach loads cfg from a fresh in-process core and attaches a driver.
func attach(t *testing.T, cfg ttc.Config, opts Options) *Driver {
	t.Helper()
	core := ttc.NewCore(cfg)
	require.NoError(t, core.Init())

	d := New(opts)
	comp, err := core.GetHandle(cfg.Name, d)
	require.NoError(t, err)
	require.NoError(t, d.Attach(comp))

	t.Cleanup(func() {
		_ = d.Teardown(core)
		_ = core.Deinit()
	})
	return d
}

// attachWrapped is attach with the handle decorated by wrap before the
// driver sees it.
func attachWrapped(t *testing.T, cfg ttc.Config, opts Options, wrap func(omx.Component) omx.Component) *Driver {
	t.Helper()
	core := ttc.NewCore(cfg)
	require.NoError(t, core.Init())

	d := New(opts)
	comp, err := core.GetHandle(cfg.Name, d)
	require.NoError(t, err)
	require.NoError(t, d.Attach(wrap(comp)))

	t.Cleanup(func() {
		_ = d.Teardown(core)
		_ = core.Deinit()
	})
	return d
}

func walk(t *testing.T, d *Driver, states ...omx.State) {
	t.Helper()
	for _, s := range states {
		require.NoError(t, d.Transition(s), "transition to %s", s)
	}
}

// ============================================================================
// Port discovery
// ============================================================================

func TestDiscoverPorts(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("disc"), testOptions())

	ports := d.Registry().Ports()
	require.Len(t, ports, 2)
	assert.Equal(t, uint32(0), ports[0].Index)
	assert.True(t, ports[0].IsInput())
	assert.False(t, ports[1].IsInput())
	assert.Len(t, d.Registry().Inputs(), 1)
	assert.Len(t, d.Registry().Outputs(), 1)
	assert.Equal(t, uint32(2), d.Registry().BogusIndex())
	assert.Equal(t, omx.StateLoaded, d.State())
}

func TestDiscoverMultiDomain(t *testing.T) {
	var cfg ttc.Config
	for _, c := range ttc.DefaultConfigs() {
		if c.Name == ttc.VideoTestName {
			cfg = c
		}
	}
	d := attach(t, cfg, testOptions())

	ports := d.Registry().Ports()
	require.Len(t, ports, 3)
	assert.Equal(t, omx.DomainAudio, ports[0].Def.Domain)
	assert.Equal(t, omx.DomainVideo, ports[1].Def.Domain)
	assert.Equal(t, omx.DomainVideo, ports[2].Def.Domain)
	assert.Len(t, d.Registry().Inputs(), 2)
}

// overlapping answers every Init query with the same port range.
type overlapping struct {
	omx.Component
}

func (o overlapping) GetParameter(index omx.Index, param omx.Param) error {
	if pp, ok := param.(*omx.PortParam); ok {
		pp.StartPortNumber = 0
		pp.Ports = 1
		return nil
	}
	return o.Component.GetParameter(index, param)
}

func TestDiscoverOverlapIsViolation(t *testing.T) {
	cfg := ttc.DefaultConfig("overlap")
	comp, err := ttc.New(cfg, nil)
	require.NoError(t, err)
	defer comp.Close()

	err = NewRegistry(FIFO).Discover(overlapping{comp})
	var v *ViolationError
	require.ErrorAs(t, err, &v)
	assert.ErrorIs(t, err, omx.ErrorUndefined)
}

// ============================================================================
// State transitions
// ============================================================================

func TestTransitionTable(t *testing.T) {
	paths := map[omx.State][]omx.State{
		omx.StateLoaded:           nil,
		omx.StateIdle:             {omx.StateIdle},
		omx.StateExecuting:        {omx.StateIdle, omx.StateExecuting},
		omx.StatePause:            {omx.StateIdle, omx.StatePause},
		omx.StateWaitForResources: {omx.StateWaitForResources},
	}
	targets := []omx.State{omx.StateLoaded, omx.StateIdle, omx.StateExecuting, omx.StatePause, omx.StateWaitForResources}

	for _, sync := range []bool{false, true} {
		for from, path := range paths {
			for _, to := range targets {
				name := fmt.Sprintf("sync=%t/%s->%s", sync, from, to)
				t.Run(name, func(t *testing.T) {
					cfg := ttc.DefaultConfig("table")
					cfg.SyncErrors = sync
					d := attach(t, cfg, testOptions())
					walk(t, d, path...)
					before := d.StateCallbacks()

					switch omx.Transition(from, to) {
					case omx.TransitionOK:
						require.NoError(t, d.Transition(to))
						assert.Equal(t, to, d.State())
					case omx.TransitionSameState:
						require.NoError(t, d.ExpectTransitionError(to, omx.ErrorSameState))
						assert.Equal(t, before, d.StateCallbacks())
						assert.Equal(t, from, d.State())
					case omx.TransitionIllegal:
						require.NoError(t, d.ExpectTransitionError(to, omx.ErrorIncorrectStateTransition))
						assert.Equal(t, before, d.StateCallbacks())
						assert.Equal(t, from, d.State())
					}
					_, err := d.CheckState()
					assert.NoError(t, err)
				})
			}
		}
	}
}

func TestSameStateIsSuccessForTransition(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("same"), testOptions())
	walk(t, d, omx.StateIdle)
	before := d.StateCallbacks()

	require.NoError(t, d.Transition(omx.StateIdle))
	assert.Equal(t, before, d.StateCallbacks())
	assert.Equal(t, omx.StateIdle, d.State())
}

func TestTransitionToInvalid(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("invalid"), testOptions())
	walk(t, d, omx.StateIdle)

	require.NoError(t, d.Transition(omx.StateInvalid))
	assert.Equal(t, omx.StateInvalid, d.State())
	assert.Contains(t, d.ErrorEvents(), omx.ErrorInvalidState)

	require.NoError(t, d.ExpectTransitionError(omx.StateLoaded, omx.ErrorInvalidState))
	_, err := d.CheckState()
	assert.NoError(t, err)
}

func TestForceInvalidKnob(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("knob"), testOptions())
	d.ResetErrors()

	knob := &omx.RawParam{Data: []byte{1}}
	omx.InitParam(knob)
	require.NoError(t, d.Component().SetParameter(ttc.IndexForceInvalid, knob))

	code, err := d.WaitError(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, omx.ErrorInvalidState, code)
	assert.Equal(t, omx.StateInvalid, d.State())

	def := omx.NewPortDefinition(0)
	assert.ErrorIs(t, d.Component().GetParameter(omx.IndexParamPortDefinition, def), omx.ErrorInvalidState)
}

func TestStateTimeoutFallsBackToGetState(t *testing.T) {
	cfg := ttc.DefaultConfig("silent")
	cfg.DropStateComplete = true
	opts := testOptions()
	opts.StateTimeout = 100 * time.Millisecond
	d := attach(t, cfg, opts)

	require.NoError(t, d.Transition(omx.StateIdle))
	assert.Equal(t, omx.StateIdle, d.State())
	assert.Equal(t, 0, d.StateCallbacks())
}

func TestShadowMismatchIsViolation(t *testing.T) {
	cfg := ttc.DefaultConfig("mismatch")
	cfg.DropStateComplete = true
	opts := testOptions()
	opts.StateTimeout = 100 * time.Millisecond
	d := attach(t, cfg, opts)

	// Move the component behind the driver's back.
	require.NoError(t, d.SendCommand(omx.CommandStateSet, uint32(omx.StateWaitForResources), nil))
	require.Eventually(t, func() bool {
		st, _ := d.Component().GetState()
		return st == omx.StateWaitForResources
	}, time.Second, 10*time.Millisecond)

	_, err := d.CheckState()
	var v *ViolationError
	assert.ErrorAs(t, err, &v)
}

// ============================================================================
// Buffer accounting
// ============================================================================

func TestAllocateThenFree(t *testing.T) {
	for _, mode := range []AllocMode{AllocComponent, AllocClient} {
		t.Run(mode.String(), func(t *testing.T) {
			d := attach(t, ttc.DefaultConfig("alloc"), testOptions())
			reg := d.Registry()
			require.NoError(t, d.SendStateNoWait(omx.StateIdle))

			for _, p := range reg.Ports() {
				n := int(reg.Definition(p).BufferCountActual)
				require.NoError(t, reg.Allocate(d.Component(), p, n, mode))
				require.NoError(t, reg.CheckAccounting(p))
				require.NoError(t, reg.Refresh(d.Component(), p))
				assert.True(t, reg.Definition(p).Populated)

				require.NoError(t, reg.Free(d.Component(), p, n))
				require.NoError(t, reg.Refresh(d.Component(), p))
				c := reg.Counts(p)
				assert.Equal(t, 0, c.Queued)
				assert.Equal(t, 0, c.Total)
				assert.False(t, reg.Definition(p).Populated)
				assert.True(t, reg.Definition(p).Enabled)
			}
		})
	}
}

func TestBufferRoundTrip(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("roundtrip"), testOptions())
	reg := d.Registry()
	for _, p := range reg.Ports() {
		require.NoError(t, reg.SetBufferCount(d.Component(), p, 3))
		assert.Equal(t, uint32(2), reg.Definition(p).BufferCountMin)
	}

	walk(t, d, omx.StateIdle)
	for _, p := range reg.Ports() {
		require.NoError(t, reg.CheckAccounting(p))
		c := reg.Counts(p)
		assert.Equal(t, 3, c.Total)
		assert.Equal(t, 3, c.Queued)
	}

	walk(t, d, omx.StateExecuting)
	res, err := d.Pump(nil, PumpOptions{Buffers: 100})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Returned[0], 100)
	assert.Equal(t, 100, res.Submitted[0])

	walk(t, d, omx.StateIdle)
	for _, p := range reg.Ports() {
		assert.Equal(t, 0, reg.Counts(p).Outstanding)
		require.NoError(t, reg.CheckAccounting(p))
	}

	walk(t, d, omx.StateLoaded)
	assert.Equal(t, omx.StateLoaded, d.State())
	for _, p := range reg.Ports() {
		assert.Equal(t, 0, reg.Counts(p).Total)
	}
	assert.NoError(t, d.Err())
}

func TestPassthroughPayload(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("payload"), testOptions())
	reg := d.Registry()
	in, out := reg.Inputs()[0], reg.Outputs()[0]

	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	var sink bytes.Buffer
	reg.SetSource(in, NewReaderSource(bytes.NewReader(data)))
	reg.SetSink(out, &sink)

	walk(t, d, omx.StateIdle, omx.StateExecuting)
	res, err := d.Pump(nil, PumpOptions{})
	require.NoError(t, err)
	assert.True(t, res.EOS)
	assert.Equal(t, 1, d.EOSCount())
	assert.Equal(t, data, sink.Bytes())
}

func TestBufferSizes(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("sizes"), testOptions())
	reg := d.Registry()
	in, out := reg.Inputs()[0], reg.Outputs()[0]
	reg.SetSizes(in, []uint32{100, 200, 300})
	var sink bytes.Buffer
	reg.SetSink(out, &sink)

	walk(t, d, omx.StateIdle, omx.StateExecuting)
	_, err := d.Pump(nil, PumpOptions{Buffers: 6})
	require.NoError(t, err)
	walk(t, d, omx.StateIdle)
	assert.Equal(t, 1200, sink.Len())
}

func TestPumpUnresponsive(t *testing.T) {
	opts := testOptions()
	opts.BufferTimeout = 100 * time.Millisecond
	d := attach(t, ttc.DefaultConfig("paused"), opts)
	walk(t, d, omx.StateIdle, omx.StatePause)

	_, err := d.Pump(nil, PumpOptions{Buffers: 5})
	assert.ErrorIs(t, err, ErrUnresponsive)
}

func TestPumpRefusedSubmission(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("refused"), testOptions())
	walk(t, d, omx.StateIdle)

	res, err := d.Pump(nil, PumpOptions{Buffers: 5})
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	for _, p := range d.Registry().Ports() {
		c := d.Registry().Counts(p)
		assert.Equal(t, 0, c.Outstanding)
		assert.Equal(t, 0, c.Processed)
		assert.NoError(t, d.Registry().CheckAccounting(p))
	}
}

func TestDoubleReturnIsViolation(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("double"), testOptions())
	walk(t, d, omx.StateIdle)

	out := d.Registry().Outputs()[0]
	buf := d.Registry().QueuedOrder(out)[0]
	require.NoError(t, d.FillBufferDone(d.Component(), buf))

	var v *ViolationError
	require.ErrorAs(t, d.Err(), &v)
	assert.Equal(t, "buffer done", v.Op)
}

func TestWrongDirectionIsViolation(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("direction"), testOptions())
	walk(t, d, omx.StateIdle)

	reg := d.Registry()
	out := reg.Outputs()[0]
	buf := reg.Take(out)
	require.NotNil(t, buf)
	require.NoError(t, reg.Submit(buf))
	_, err := reg.Return(buf, omx.DirInput)
	var v *ViolationError
	assert.ErrorAs(t, err, &v)
	reg.Reject(buf)
}

// ============================================================================
// Flush
// ============================================================================

func TestFlushReturnsEveryBuffer(t *testing.T) {
	for _, index := range []uint32{1, omx.PortAll} {
		t.Run(fmt.Sprintf("port=%d", index), func(t *testing.T) {
			d := attach(t, ttc.DefaultConfig("flush"), testOptions())
			walk(t, d, omx.StateIdle, omx.StateExecuting)

			// Output buffers without input stay with the component.
			out := d.Registry().Outputs()[0]
			for buf := d.Registry().Take(out); buf != nil; buf = d.Registry().Take(out) {
				ok, err := d.submit(out, buf)
				require.NoError(t, err)
				require.True(t, ok)
			}
			assert.Equal(t, 2, d.Registry().Counts(out).Outstanding)

			require.NoError(t, d.Flush(index))
			c := d.Registry().Counts(out)
			assert.Equal(t, int(d.Registry().Definition(out).BufferCountActual), c.Queued)
			assert.Equal(t, 0, c.Outstanding)
		})
	}
}

func TestFlushBogusPort(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("bogus"), testOptions())
	walk(t, d, omx.StateIdle, omx.StateExecuting)

	err := d.Flush(d.Registry().BogusIndex())
	assert.NoError(t, ExpectError("flush", err, omx.ErrorBadPortIndex))
	assert.False(t, d.flushEvent.IsSet())
}

// ============================================================================
// End of stream and marks
// ============================================================================

func TestEOSFiresOnce(t *testing.T) {
	cfg := ttc.DefaultConfig("eos")
	in, out := cfg.Ports[0], cfg.Ports[1]
	cfg.Ports = []ttc.PortConfig{in, in, out, out}
	d := attach(t, cfg, testOptions())
	walk(t, d, omx.StateIdle, omx.StateExecuting)

	res, err := d.Pump(nil, PumpOptions{Buffers: 10, SendEOS: true, StopOnEOS: true})
	require.NoError(t, err)
	assert.True(t, res.EOS)
	assert.Equal(t, 1, d.EOSCount())

	// Late BufferFlag events must not fire it again.
	require.NoError(t, d.EventHandler(d.Component(), omx.EventBufferFlag, 2, omx.BufferFlagEOS, nil))
	assert.Equal(t, 1, d.EOSCount())
}

func TestMarkBufferCommand(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("mark"), testOptions())
	walk(t, d, omx.StateIdle, omx.StateExecuting)

	require.NoError(t, d.MarkBuffer(0, "first"))
	_, err := d.Pump(nil, PumpOptions{Buffers: 3})
	require.NoError(t, err)
	require.NoError(t, d.WaitMark(2*time.Second))
	assert.Contains(t, d.Marks(), Mark{Data: "first", Event: true})
}

func TestHeaderMarkPropagates(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("propagate"), testOptions())
	other, err := ttc.New(ttc.DefaultConfig("downstream"), nil)
	require.NoError(t, err)
	defer other.Close()
	walk(t, d, omx.StateIdle, omx.StateExecuting)

	d.MarkNextBuffer(0, other, "second")
	_, err = d.Pump(nil, PumpOptions{Buffers: 3})
	require.NoError(t, err)
	require.NoError(t, d.WaitMark(2*time.Second))
	assert.Contains(t, d.Marks(), Mark{Port: 1, Data: "second"})
}

// ============================================================================
// Port disable / enable
// ============================================================================

func TestPortDisableWaitsForFree(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("disable"), testOptions())
	walk(t, d, omx.StateIdle)

	require.NoError(t, d.SendPortCommand(omx.CommandPortDisable, 0))
	assert.ErrorIs(t, d.WaitPortCommand(200*time.Millisecond), ErrTimeout)

	require.NoError(t, d.FreePortBuffers(0))
	require.NoError(t, d.WaitPortCommand(2*time.Second))

	p, _ := d.Registry().Port(0)
	require.NoError(t, d.Registry().Refresh(d.Component(), p))
	def := d.Registry().Definition(p)
	assert.False(t, def.Enabled)
	assert.False(t, def.Populated)

	require.NoError(t, d.PortEnable(0))
	def = d.Registry().Definition(p)
	assert.True(t, def.Enabled)
	assert.True(t, def.Populated)
	assert.NoError(t, d.Registry().CheckAccounting(p))
}

func TestPortDisableWhileExecuting(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("exec-disable"), testOptions())
	walk(t, d, omx.StateIdle, omx.StateExecuting)

	require.NoError(t, d.PortDisable(1))
	res, err := d.Pump(nil, PumpOptions{Buffers: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Returned[0])
	_, pumped := res.Returned[1]
	assert.False(t, pumped)

	require.NoError(t, d.PortEnable(1))
	res, err = d.Pump(nil, PumpOptions{Buffers: 5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Returned[1], 1)
	assert.NoError(t, d.Err())
}

func TestPortDisableAll(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("disable-all"), testOptions())
	walk(t, d, omx.StateIdle)

	require.NoError(t, d.PortDisable(omx.PortAll))
	for _, p := range d.Registry().Ports() {
		assert.False(t, d.Registry().Definition(p).Enabled)
	}
	require.NoError(t, d.PortEnable(omx.PortAll))
	for _, p := range d.Registry().Ports() {
		assert.True(t, d.Registry().Definition(p).Populated)
	}
}

// scarce runs out of buffer memory on its failAt'th allocation and counts
// what was allocated and freed.
type scarce struct {
	omx.Component
	mu     sync.Mutex
	failAt int
	allocs int
	frees  int
}

func (s *scarce) Unwrap() omx.Component { return s.Component }

func (s *scarce) AllocateBuffer(port uint32, appPrivate any, size uint32) (*omx.BufferHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allocs+1 == s.failAt {
		s.failAt = 0
		return nil, omx.ErrorInsufficientResources
	}
	buf, err := s.Component.AllocateBuffer(port, appPrivate, size)
	if err == nil {
		s.allocs++
	}
	return buf, err
}

func (s *scarce) FreeBuffer(port uint32, buf *omx.BufferHeader) error {
	s.mu.Lock()
	s.frees++
	s.mu.Unlock()
	return s.Component.FreeBuffer(port, buf)
}

func TestTeardownFreesPartialAllocation(t *testing.T) {
	cfg := ttc.DefaultConfig("scarce")
	core := ttc.NewCore(cfg)
	require.NoError(t, core.Init())
	defer core.Deinit()

	d := New(testOptions())
	comp, err := core.GetHandle(cfg.Name, d)
	require.NoError(t, err)
	s := &scarce{Component: comp, failAt: 2}
	require.NoError(t, d.Attach(s))

	err = d.Transition(omx.StateIdle)
	require.ErrorIs(t, err, omx.ErrorInsufficientResources)
	require.Equal(t, 1, s.allocs)

	require.NoError(t, d.Teardown(core))
	assert.Equal(t, s.allocs, s.frees, "Expected every allocated buffer freed")
	for _, p := range d.Registry().Ports() {
		assert.Equal(t, 0, d.Registry().Counts(p).Total, "port %d", p.Index)
	}
	assert.Equal(t, omx.StateUnloaded, d.State())
}

// idleHolder keeps every buffer handed to it once the component is Idle.
type idleHolder struct {
	omx.Component
	mu   sync.Mutex
	held int
}

func (h *idleHolder) Unwrap() omx.Component { return h.Component }

func (h *idleHolder) hold() bool {
	if st, _ := h.Component.GetState(); st != omx.StateIdle {
		return false
	}
	h.mu.Lock()
	h.held++
	h.mu.Unlock()
	return true
}

func (h *idleHolder) EmptyThisBuffer(buf *omx.BufferHeader) error {
	if h.hold() {
		return nil
	}
	return h.Component.EmptyThisBuffer(buf)
}

func (h *idleHolder) FillThisBuffer(buf *omx.BufferHeader) error {
	if h.hold() {
		return nil
	}
	return h.Component.FillThisBuffer(buf)
}

func TestPumpStopsWhenMovedToIdle(t *testing.T) {
	opts := testOptions()
	opts.BufferTimeout = 200 * time.Millisecond
	d := attachWrapped(t, ttc.DefaultConfig("held"), opts, func(c omx.Component) omx.Component {
		return &idleHolder{Component: c}
	})
	walk(t, d, omx.StateIdle, omx.StateExecuting)

	stop := make(chan error, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		stop <- d.Transition(omx.StateIdle)
	}()

	res, err := d.Pump(nil, PumpOptions{Buffers: 1 << 30})
	require.NoError(t, <-stop)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, omx.StateIdle, d.State())
}

// ============================================================================
// Error events
// ============================================================================

func TestWaitErrorReturnsLatest(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("errs"), testOptions())

	d.onError(omx.ErrorPortUnpopulated, 0)
	code, err := d.WaitError(time.Second)
	require.NoError(t, err)
	assert.Equal(t, omx.ErrorPortUnpopulated, code)

	d.onError(omx.ErrorPortUnpopulated, 1)
	d.ResetErrors()
	_, err = d.WaitError(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, d.ErrorEvents())
}

func TestWaitErrorRacingReset(t *testing.T) {
	d := attach(t, ttc.DefaultConfig("errrace"), testOptions())

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				d.ResetErrors()
			}
		}
	}()

	for i := 0; i < 500; i++ {
		d.onError(omx.ErrorPortUnpopulated, uint32(i))
		code, err := d.WaitError(time.Millisecond)
		if err != nil {
			assert.ErrorIs(t, err, ErrTimeout)
			continue
		}
		assert.Equal(t, omx.ErrorPortUnpopulated, code)
	}
	close(done)
	wg.Wait()
}

func TestNotAttached(t *testing.T) {
	d := New(testOptions())
	assert.True(t, errors.Is(d.Transition(omx.StateIdle), ErrNotAttached))
	_, err := d.Pump(nil, PumpOptions{Buffers: 1})
	assert.ErrorIs(t, err, ErrNotAttached)
}
