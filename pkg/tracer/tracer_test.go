package tracer

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
	"github.com/krisarmstrong/omxconf/pkg/ttc"
)

// syncBuffer is written from component goroutines and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func capture(t *testing.T, flags logging.TraceFlag) *syncBuffer {
	t.Helper()
	out := &syncBuffer{}
	prev := logging.TraceFlags()
	logging.SetOutput(out)
	logging.SetTraceFlags(flags)
	t.Cleanup(func() {
		logging.SetOutput(os.Stderr)
		logging.SetTraceFlags(prev)
	})
	return out
}

type events struct {
	mu  sync.Mutex
	got []omx.Event
}

func (e *events) EventHandler(_ omx.Component, ev omx.Event, _, _ uint32, _ any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
	return nil
}

func (e *events) EmptyBufferDone(omx.Component, *omx.BufferHeader) error { return nil }
func (e *events) FillBufferDone(omx.Component, *omx.BufferHeader) error  { return nil }

func (e *events) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.got)
}

func tracedCore(t *testing.T) *Core {
	t.Helper()
	core := WrapCore(ttc.NewCore())
	require.NoError(t, core.Init())
	t.Cleanup(func() { _ = core.Deinit() })
	return core
}

func TestHandleIsWrapped(t *testing.T) {
	core := tracedCore(t)
	h, err := core.GetHandle(ttc.TunnelTestName, &events{})
	require.NoError(t, err)

	w, ok := h.(*Component)
	require.True(t, ok)
	_, native := w.Unwrap().(*ttc.Component)
	assert.True(t, native)
	assert.True(t, omx.SameComponent(h, w.Unwrap()))
	assert.Equal(t, ttc.TunnelTestName, h.Name())
	require.NoError(t, core.FreeHandle(h))
}

func TestCallsAreLogged(t *testing.T) {
	out := capture(t, logging.TraceCallSequence|logging.TraceError|logging.TraceParameters)
	core := tracedCore(t)
	h, err := core.GetHandle(ttc.TunnelTestName, &events{})
	require.NoError(t, err)
	defer core.FreeHandle(h)

	st, err := h.GetState()
	require.NoError(t, err)
	assert.Equal(t, omx.StateLoaded, st)
	require.NoError(t, h.GetParameter(omx.IndexParamPortDefinition, omx.NewPortDefinition(0)))
	assert.ErrorIs(t, h.GetParameter(omx.IndexParamPortDefinition, omx.NewPortDefinition(9)), omx.ErrorBadPortIndex)

	logs := out.String()
	assert.Contains(t, logs, "OMX_GetHandle")
	assert.Contains(t, logs, "GetState")
	assert.Contains(t, logs, "count_actual=2")
	assert.Contains(t, logs, "level=ERROR")
	assert.Contains(t, logs, "BadPortIndex")
}

func TestCallbacksForwarded(t *testing.T) {
	out := capture(t, logging.TraceCallSequence)
	core := tracedCore(t)
	cb := &events{}
	h, err := core.GetHandle(ttc.TunnelTestName, cb)
	require.NoError(t, err)
	defer core.FreeHandle(h)

	require.NoError(t, h.SendCommand(omx.CommandStateSet, uint32(omx.StateExecuting), nil))
	require.Eventually(t, func() bool { return cb.count() == 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "EventHandler") }, 2*time.Second, time.Millisecond)
	assert.Contains(t, out.String(), "state=Executing")
}

func TestSilentWithoutFlags(t *testing.T) {
	out := capture(t, 0)
	core := tracedCore(t)
	h, err := core.GetHandle(ttc.TunnelTestName, &events{})
	require.NoError(t, err)
	_, _ = h.GetState()
	require.NoError(t, core.FreeHandle(h))
	assert.Empty(t, out.String())
}

func TestTunnelThroughWrappedHandles(t *testing.T) {
	core := tracedCore(t)
	up, err := core.GetHandle(ttc.TunnelTestName, &events{})
	require.NoError(t, err)
	down, err := core.GetHandle(ttc.TunnelTestName, &events{})
	require.NoError(t, err)

	require.NoError(t, core.SetupTunnel(up, 1, down, 0))
	bs := &omx.BufferSupplierParam{PortIndex: 0}
	omx.InitParam(bs)
	require.NoError(t, down.GetParameter(omx.IndexParamCompBufferSupplier, bs))
	assert.Equal(t, omx.SupplyInput, bs.Supplier)

	require.NoError(t, core.FreeHandle(up))
	require.NoError(t, core.FreeHandle(down))
}
