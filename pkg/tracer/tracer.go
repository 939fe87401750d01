// Package tracer wraps a component, its callbacks and the core so every
// call and every callback is logged with its arguments and result.
package tracer

import (
	"time"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

func result(err error) string {
	return omx.Code(err).String()
}

func trace(op string, start time.Time, err error, args ...any) {
	args = append(args, "result", result(err), "elapsed", time.Since(start))
	if err != nil {
		logging.Trace(logging.TraceError, logging.ComponentTracer, op, args...)
		return
	}
	logging.Trace(logging.TraceCallSequence, logging.ComponentTracer, op, args...)
}

// Component logs every call made on the wrapped handle.
type Component struct {
	inner omx.Component
}

// Wrap returns a tracing decorator around c.
func Wrap(c omx.Component) *Component {
	return &Component{inner: c}
}

// Unwrap implements omx.Wrapper.
func (t *Component) Unwrap() omx.Component { return t.inner }

func (t *Component) Name() string { return t.inner.Name() }

func (t *Component) GetComponentVersion() (omx.ComponentVersion, error) {
	start := time.Now()
	v, err := t.inner.GetComponentVersion()
	trace("GetComponentVersion", start, err, "name", v.Name, "spec", v.Spec)
	return v, err
}

func (t *Component) SendCommand(cmd omx.Command, param uint32, data any) error {
	start := time.Now()
	err := t.inner.SendCommand(cmd, param, data)
	args := []any{"cmd", cmd, "param", param}
	if cmd == omx.CommandStateSet {
		args = append(args, "state", omx.State(param))
	}
	trace("SendCommand", start, err, args...)
	return err
}

func (t *Component) GetState() (omx.State, error) {
	start := time.Now()
	st, err := t.inner.GetState()
	trace("GetState", start, err, "state", st)
	return st, err
}

func paramArgs(index omx.Index, p omx.Param) []any {
	args := []any{"index", index}
	if flags := logging.TraceFlags(); flags&logging.TraceParameters == 0 || p == nil {
		return args
	}
	switch v := p.(type) {
	case *omx.PortDefinition:
		args = append(args, "port", v.PortIndex, "dir", v.Dir, "domain", v.Domain,
			"count_actual", v.BufferCountActual, "count_min", v.BufferCountMin, "size", v.BufferSize,
			"enabled", v.Enabled, "populated", v.Populated)
	case *omx.PortParam:
		args = append(args, "ports", v.Ports, "start", v.StartPortNumber)
	case *omx.PortFormat:
		args = append(args, "port", v.PortIndex, "format_index", v.Index,
			"compression", v.Compression, "color", v.Color, "encoding", v.Encoding)
	case *omx.BufferSupplierParam:
		args = append(args, "port", v.PortIndex, "supplier", v.Supplier)
	}
	return args
}

func (t *Component) GetParameter(index omx.Index, p omx.Param) error {
	start := time.Now()
	err := t.inner.GetParameter(index, p)
	trace("GetParameter", start, err, paramArgs(index, p)...)
	return err
}

func (t *Component) SetParameter(index omx.Index, p omx.Param) error {
	start := time.Now()
	err := t.inner.SetParameter(index, p)
	trace("SetParameter", start, err, paramArgs(index, p)...)
	return err
}

func (t *Component) GetConfig(index omx.Index, p omx.Param) error {
	start := time.Now()
	err := t.inner.GetConfig(index, p)
	trace("GetConfig", start, err, paramArgs(index, p)...)
	return err
}

func (t *Component) SetConfig(index omx.Index, p omx.Param) error {
	start := time.Now()
	err := t.inner.SetConfig(index, p)
	trace("SetConfig", start, err, paramArgs(index, p)...)
	return err
}

func (t *Component) UseBuffer(port uint32, appPrivate any, data []byte) (*omx.BufferHeader, error) {
	start := time.Now()
	buf, err := t.inner.UseBuffer(port, appPrivate, data)
	trace("UseBuffer", start, err, "port", port, "size", len(data), "buffer", buf)
	return buf, err
}

func (t *Component) AllocateBuffer(port uint32, appPrivate any, size uint32) (*omx.BufferHeader, error) {
	start := time.Now()
	buf, err := t.inner.AllocateBuffer(port, appPrivate, size)
	trace("AllocateBuffer", start, err, "port", port, "size", size, "buffer", buf)
	return buf, err
}

func (t *Component) FreeBuffer(port uint32, buf *omx.BufferHeader) error {
	start := time.Now()
	err := t.inner.FreeBuffer(port, buf)
	trace("FreeBuffer", start, err, "port", port, "buffer", buf)
	return err
}

func (t *Component) EmptyThisBuffer(buf *omx.BufferHeader) error {
	start := time.Now()
	err := t.inner.EmptyThisBuffer(buf)
	bufferTrace("EmptyThisBuffer", start, err, buf)
	return err
}

func (t *Component) FillThisBuffer(buf *omx.BufferHeader) error {
	start := time.Now()
	err := t.inner.FillThisBuffer(buf)
	bufferTrace("FillThisBuffer", start, err, buf)
	return err
}

func bufferTrace(op string, start time.Time, err error, buf *omx.BufferHeader) {
	if err == nil && logging.TraceFlags()&logging.TraceBuffer == 0 {
		return
	}
	args := []any{"buffer", buf}
	if buf != nil {
		args = append(args, "filled", buf.FilledLen, "flags", buf.Flags, "timestamp", buf.TimeStamp)
	}
	trace(op, start, err, args...)
}

func (t *Component) ComponentTunnelRequest(port uint32, peer omx.Component, peerPort uint32, setup *omx.TunnelSetup) error {
	start := time.Now()
	err := t.inner.ComponentTunnelRequest(port, peer, peerPort, setup)
	peerName := ""
	if peer != nil {
		peerName = peer.Name()
	}
	trace("ComponentTunnelRequest", start, err, "port", port, "peer", peerName, "peer_port", peerPort)
	return err
}

// Callbacks logs every callback before forwarding it.
type Callbacks struct {
	inner omx.Callbacks
}

// WrapCallbacks returns a tracing decorator around cb.
func WrapCallbacks(cb omx.Callbacks) *Callbacks {
	return &Callbacks{inner: cb}
}

func (t *Callbacks) EventHandler(c omx.Component, event omx.Event, data1, data2 uint32, eventData any) error {
	args := []any{"component", c.Name(), "event", event, "data1", data1, "data2", data2}
	switch event {
	case omx.EventCmdComplete:
		args = append(args, "cmd", omx.Command(data1))
	case omx.EventError:
		args = append(args, "error", omx.Error(data1).String())
	}
	logging.Trace(logging.TraceCallSequence, logging.ComponentTracer, "EventHandler", args...)
	return t.inner.EventHandler(c, event, data1, data2, eventData)
}

func (t *Callbacks) EmptyBufferDone(c omx.Component, buf *omx.BufferHeader) error {
	logging.LogBuffer(logging.ComponentTracer, "EmptyBufferDone", "component", c.Name(), "buffer", buf)
	return t.inner.EmptyBufferDone(c, buf)
}

func (t *Callbacks) FillBufferDone(c omx.Component, buf *omx.BufferHeader) error {
	args := []any{"component", c.Name(), "buffer", buf}
	if buf != nil {
		args = append(args, "filled", buf.FilledLen, "flags", buf.Flags)
	}
	logging.LogBuffer(logging.ComponentTracer, "FillBufferDone", args...)
	return t.inner.FillBufferDone(c, buf)
}

// Core wraps an IL core so handles it returns are traced as well.
type Core struct {
	inner omx.Core
}

// WrapCore returns a tracing decorator around core.
func WrapCore(core omx.Core) *Core {
	return &Core{inner: core}
}

func (t *Core) Init() error {
	start := time.Now()
	err := t.inner.Init()
	trace("OMX_Init", start, err)
	return err
}

func (t *Core) Deinit() error {
	start := time.Now()
	err := t.inner.Deinit()
	trace("OMX_Deinit", start, err)
	return err
}

func (t *Core) ComponentNames() ([]string, error) {
	start := time.Now()
	names, err := t.inner.ComponentNames()
	trace("OMX_ComponentNameEnum", start, err, "count", len(names))
	return names, err
}

// GetHandle traces the callbacks going in and the handle coming out.
func (t *Core) GetHandle(name string, cb omx.Callbacks) (omx.Component, error) {
	start := time.Now()
	comp, err := t.inner.GetHandle(name, WrapCallbacks(cb))
	trace("OMX_GetHandle", start, err, "name", name)
	if err != nil {
		return nil, err
	}
	return Wrap(comp), nil
}

func (t *Core) FreeHandle(c omx.Component) error {
	start := time.Now()
	if w, ok := c.(*Component); ok {
		c = w.inner
	}
	err := t.inner.FreeHandle(c)
	trace("OMX_FreeHandle", start, err)
	return err
}

// SetupTunnel strips the tracing layer so the native core sees its own
// handles.
func (t *Core) SetupTunnel(out omx.Component, outPort uint32, in omx.Component, inPort uint32) error {
	start := time.Now()
	err := t.inner.SetupTunnel(unwrapOne(out), outPort, unwrapOne(in), inPort)
	trace("OMX_SetupTunnel", start, err, "out_port", outPort, "in_port", inPort)
	return err
}

func unwrapOne(c omx.Component) omx.Component {
	if w, ok := c.(*Component); ok {
		return w.inner
	}
	return c
}
