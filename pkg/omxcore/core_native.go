//go:build (darwin || linux) && (amd64 || arm64)

package omxcore

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

var (
	callbacksOnce sync.Once
	callbackTable *[3]uintptr
	callbackPin   runtime.Pinner

	// appData -> *Component
	components handleTable
)

// Core is a loaded IL core library.
type Core struct {
	path   string
	handle uintptr

	omxInit              func() uint32
	omxDeinit            func() uint32
	omxComponentNameEnum func(name unsafe.Pointer, length, index uint32) uint32
	omxGetHandle         func(handle unsafe.Pointer, name string, appData uintptr, callbacks unsafe.Pointer) uint32
	omxFreeHandle        func(handle uintptr) uint32
	omxSetupTunnel       func(out uintptr, outPort uint32, in uintptr, inPort uint32) uint32

	mu     sync.Mutex
	open   map[uintptr]*Component // native handle -> component
	marks  handleTable
	closed bool
}

// Open loads the core library at path, or searches the usual locations when
// path is empty. OMX_Init is not called; that is Init's job.
func Open(path string) (*Core, error) {
	var lastErr error
	for _, p := range libraryPaths(path) {
		handle, err := purego.Dlopen(p, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		c := &Core{path: p, handle: handle, open: map[uintptr]*Component{}}
		if err := c.bind(); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		logging.LogInfo(logging.ComponentCore, "loaded IL core", "path", p)
		return c, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate paths")
	}
	return nil, fmt.Errorf("load IL core: %w", lastErr)
}

func (c *Core) bind() error {
	targets := []any{
		&c.omxInit,
		&c.omxDeinit,
		&c.omxComponentNameEnum,
		&c.omxGetHandle,
		&c.omxFreeHandle,
		&c.omxSetupTunnel,
	}
	for i, sym := range coreSymbols {
		addr, err := purego.Dlsym(c.handle, sym)
		if err != nil {
			return fmt.Errorf("%s: missing %s: %w", c.path, sym, err)
		}
		purego.RegisterFunc(targets[i], addr)
	}
	initCallbacks()
	return nil
}

// Path is the library that was loaded.
func (c *Core) Path() string { return c.path }

// Init calls OMX_Init.
func (c *Core) Init() error {
	return omx.FromCode(c.omxInit())
}

// Deinit calls OMX_Deinit.
func (c *Core) Deinit() error {
	return omx.FromCode(c.omxDeinit())
}

// Close unloads the library. Handles still open are leaked to the library.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if len(c.open) > 0 {
		logging.LogWarn(logging.ComponentCore, "unloading core with open handles", "count", len(c.open))
	}
	return purego.Dlclose(c.handle)
}

// ComponentNames enumerates OMX_ComponentNameEnum until OMX_ErrorNoMore.
func (c *Core) ComponentNames() ([]string, error) {
	var names []string
	buf := make([]byte, maxNameLength)
	var pin runtime.Pinner
	pin.Pin(&buf[0])
	defer pin.Unpin()

	for i := uint32(0); ; i++ {
		clear(buf)
		err := omx.FromCode(c.omxComponentNameEnum(unsafe.Pointer(&buf[0]), maxNameLength, i))
		if err == omx.ErrorNoMore {
			return names, nil
		}
		if err != nil {
			return names, fmt.Errorf("enumerate component %d: %w", i, err)
		}
		names = append(names, cString(buf))
	}
}

// GetHandle calls OMX_GetHandle. Callbacks arrive on native threads.
func (c *Core) GetHandle(name string, cb omx.Callbacks) (omx.Component, error) {
	comp := &Component{
		core:     c,
		name:     name,
		cb:       cb,
		buffers:  map[uintptr]*omx.BufferHeader{},
		portDefs: map[uint32][]byte{},
	}
	comp.appData = components.register(comp)

	var handle uintptr
	var pin runtime.Pinner
	pin.Pin(&handle)
	err := omx.FromCode(c.omxGetHandle(unsafe.Pointer(&handle), name, comp.appData, unsafe.Pointer(callbackTable)))
	pin.Unpin()
	if err != nil {
		components.unregister(comp.appData)
		return nil, err
	}

	comp.handle = handle
	c.mu.Lock()
	c.open[handle] = comp
	c.mu.Unlock()
	return comp, nil
}

// FreeHandle calls OMX_FreeHandle and releases everything pinned for the
// component.
func (c *Core) FreeHandle(h omx.Component) error {
	comp, ok := omx.Unwrap(h).(*Component)
	if !ok || comp.core != c {
		return omx.ErrorBadParameter
	}
	if err := omx.FromCode(c.omxFreeHandle(comp.handle)); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.open, comp.handle)
	c.mu.Unlock()
	components.unregister(comp.appData)
	comp.release()
	return nil
}

// SetupTunnel calls OMX_SetupTunnel. Either side may be nil; both must be
// components of this core.
func (c *Core) SetupTunnel(out omx.Component, outPort uint32, in omx.Component, inPort uint32) error {
	oh, err := c.native(out)
	if err != nil {
		return err
	}
	ih, err := c.native(in)
	if err != nil {
		return err
	}
	return omx.FromCode(c.omxSetupTunnel(oh, outPort, ih, inPort))
}

// native returns the handle behind comp, zero for nil.
func (c *Core) native(comp omx.Component) (uintptr, error) {
	if comp == nil {
		return 0, nil
	}
	n, ok := omx.Unwrap(comp).(*Component)
	if !ok || n.core != c {
		return 0, omx.ErrorPortsNotCompatible
	}
	return n.handle, nil
}

func (c *Core) byHandle(h uintptr) omx.Component {
	if h == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if comp, ok := c.open[h]; ok {
		return comp
	}
	return nil
}

// Component is a handle returned by the native core.
type Component struct {
	core    *Core
	name    string
	cb      omx.Callbacks
	handle  uintptr
	appData uintptr

	mu       sync.Mutex
	buffers  map[uintptr]*omx.BufferHeader // native header -> client view
	portDefs map[uint32][]byte             // last native port definition per port
	markIDs  []uintptr
	pinned   runtime.Pinner // mark structures handed to SendCommand
}

// nativeBuffer rides in BufferHeader.PlatformPrivate.
type nativeBuffer struct {
	addr uintptr
	pin  runtime.Pinner
}

func (c *Component) Name() string { return c.name }

func peek(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

func view(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func goString(addr uintptr) string {
	const limit = 4096
	for n := 0; n < limit; n++ {
		if *(*byte)(unsafe.Pointer(addr + uintptr(n))) == 0 {
			return string(view(addr, n))
		}
	}
	return string(view(addr, limit))
}

func ptr[T any](p *T) uintptr { return uintptr(unsafe.Pointer(p)) }

// call invokes one vtable slot with the component handle prepended.
func (c *Component) call(slot uintptr, args ...uintptr) error {
	fn := peek(c.handle + slot)
	if fn == 0 {
		return omx.ErrorNotImplemented
	}
	r, _, _ := purego.SyscallN(fn, append([]uintptr{c.handle}, args...)...)
	return omx.FromCode(uint32(r))
}

func (c *Component) GetComponentVersion() (omx.ComponentVersion, error) {
	var (
		name     [maxNameLength]byte
		compVer  uint32
		specVer  uint32
		uuid     [128]byte
		pin      runtime.Pinner
		response omx.ComponentVersion
	)
	pin.Pin(&name)
	pin.Pin(&compVer)
	pin.Pin(&specVer)
	pin.Pin(&uuid)
	defer pin.Unpin()

	if err := c.call(slotGetComponentVersion, ptr(&name), ptr(&compVer), ptr(&specVer), ptr(&uuid)); err != nil {
		return response, err
	}
	response.Name = cString(name[:])
	response.Component = omx.VersionFromUint32(compVer)
	response.Spec = omx.VersionFromUint32(specVer)
	response.UUID = uuid
	return response, nil
}

func (c *Component) SendCommand(cmd omx.Command, param uint32, data any) error {
	var arg uintptr
	if m, ok := data.(*omx.MarkData); ok && m != nil && cmd == omx.CommandMarkBuffer {
		// The component keeps the pointer until the mark is consumed, so
		// the structure stays pinned for the life of the handle.
		target, _ := c.core.native(m.Target)
		mark := make([]byte, sizeofMark)
		le.PutUint64(mark[0:], uint64(target))
		le.PutUint64(mark[8:], uint64(c.markID(m.Data)))
		c.mu.Lock()
		c.pinned.Pin(&mark[0])
		c.mu.Unlock()
		arg = ptr(&mark[0])
	}
	return c.call(slotSendCommand, uintptr(cmd), uintptr(param), arg)
}

func (c *Component) GetState() (omx.State, error) {
	var st uint32
	var pin runtime.Pinner
	pin.Pin(&st)
	defer pin.Unpin()
	if err := c.call(slotGetState, ptr(&st)); err != nil {
		return omx.StateInvalid, err
	}
	return omx.State(st), nil
}

func (c *Component) GetParameter(index omx.Index, p omx.Param) error {
	return c.paramCall(slotGetParameter, index, p, true)
}

func (c *Component) SetParameter(index omx.Index, p omx.Param) error {
	return c.paramCall(slotSetParameter, index, p, false)
}

func (c *Component) GetConfig(index omx.Index, p omx.Param) error {
	return c.paramCall(slotGetConfig, index, p, true)
}

func (c *Component) SetConfig(index omx.Index, p omx.Param) error {
	return c.paramCall(slotSetConfig, index, p, false)
}

func (c *Component) paramCall(slot uintptr, index omx.Index, p omx.Param, get bool) error {
	if nilParam(p) {
		return c.call(slot, uintptr(index), 0)
	}

	def, isDef := p.(*omx.PortDefinition)
	var base []byte
	if isDef && !get {
		c.mu.Lock()
		base = c.portDefs[def.PortIndex]
		c.mu.Unlock()
	}
	buf, err := encodeParam(p, base)
	if err != nil {
		return err
	}

	var pin runtime.Pinner
	pin.Pin(&buf[0])
	defer pin.Unpin()
	if err := c.call(slot, uintptr(index), ptr(&buf[0])); err != nil {
		return err
	}
	if get {
		decodeParam(buf, p, goString)
		if isDef {
			c.mu.Lock()
			c.portDefs[def.PortIndex] = buf
			c.mu.Unlock()
		}
	}
	return nil
}

func (c *Component) UseBuffer(port uint32, appPrivate any, data []byte) (*omx.BufferHeader, error) {
	nb := &nativeBuffer{}
	var data0 uintptr
	if len(data) > 0 {
		nb.pin.Pin(&data[0])
		data0 = ptr(&data[0])
	}

	var hdr uintptr
	var pin runtime.Pinner
	pin.Pin(&hdr)
	err := c.call(slotUseBuffer, ptr(&hdr), uintptr(port), 0, uintptr(len(data)), data0)
	pin.Unpin()
	if err != nil {
		nb.pin.Unpin()
		return nil, err
	}
	return c.adopt(hdr, nb, appPrivate, data), nil
}

func (c *Component) AllocateBuffer(port uint32, appPrivate any, size uint32) (*omx.BufferHeader, error) {
	var hdr uintptr
	var pin runtime.Pinner
	pin.Pin(&hdr)
	err := c.call(slotAllocateBuffer, ptr(&hdr), uintptr(port), 0, uintptr(size))
	pin.Unpin()
	if err != nil {
		return nil, err
	}

	v := headerView(view(hdr, int(omx.SizeofBufferHeader)))
	var data []byte
	if mem, n := v.buffer(), le.Uint32(v[hdrAllocLen:]); mem != 0 && n > 0 {
		data = view(mem, int(n))
	}
	return c.adopt(hdr, &nativeBuffer{}, appPrivate, data), nil
}

func (c *Component) adopt(hdr uintptr, nb *nativeBuffer, appPrivate any, data []byte) *omx.BufferHeader {
	nb.addr = hdr
	b := &omx.BufferHeader{AppPrivate: appPrivate, PlatformPrivate: nb, Data: data}
	headerView(view(hdr, int(omx.SizeofBufferHeader))).load(b)

	c.mu.Lock()
	c.buffers[hdr] = b
	c.mu.Unlock()
	return b
}

func nativeOf(b *omx.BufferHeader) (*nativeBuffer, error) {
	if b == nil {
		return nil, omx.ErrorBadParameter
	}
	nb, ok := b.PlatformPrivate.(*nativeBuffer)
	if !ok {
		return nil, omx.ErrorBadParameter
	}
	return nb, nil
}

func (c *Component) FreeBuffer(port uint32, b *omx.BufferHeader) error {
	nb, err := nativeOf(b)
	if err != nil {
		return err
	}
	if err := c.call(slotFreeBuffer, uintptr(port), nb.addr); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.buffers, nb.addr)
	c.mu.Unlock()
	nb.pin.Unpin()
	return nil
}

func (c *Component) EmptyThisBuffer(b *omx.BufferHeader) error {
	return c.submit(slotEmptyThisBuffer, b)
}

func (c *Component) FillThisBuffer(b *omx.BufferHeader) error {
	return c.submit(slotFillThisBuffer, b)
}

func (c *Component) submit(slot uintptr, b *omx.BufferHeader) error {
	nb, err := nativeOf(b)
	if err != nil {
		return err
	}
	var target, data uintptr
	if b.MarkTarget != nil || b.MarkData != nil {
		target, _ = c.core.native(b.MarkTarget)
		data = c.markID(b.MarkData)
	}
	headerView(view(nb.addr, int(omx.SizeofBufferHeader))).store(b, target, data)
	return c.call(slot, nb.addr)
}

func (c *Component) ComponentTunnelRequest(port uint32, peer omx.Component, peerPort uint32, setup *omx.TunnelSetup) error {
	ph, err := c.core.native(peer)
	if err != nil {
		return err
	}
	raw := make([]byte, sizeofTunnelSetup)
	if setup != nil {
		le.PutUint32(raw[0:], setup.Flags)
		le.PutUint32(raw[4:], uint32(setup.Supplier))
	}
	var pin runtime.Pinner
	pin.Pin(&raw[0])
	defer pin.Unpin()

	var arg uintptr
	if setup != nil {
		arg = ptr(&raw[0])
	}
	if err := c.call(slotComponentTunnelRequest, uintptr(port), ph, uintptr(peerPort), arg); err != nil {
		return err
	}
	if setup != nil {
		setup.Flags = le.Uint32(raw[0:])
		setup.Supplier = omx.BufferSupplier(le.Uint32(raw[4:]))
	}
	return nil
}

// markID registers mark data with the core. IDs live until the handle that
// created them is freed, since a mark may surface on any downstream
// component.
func (c *Component) markID(data any) uintptr {
	if data == nil {
		return 0
	}
	id := c.core.marks.register(data)
	c.mu.Lock()
	c.markIDs = append(c.markIDs, id)
	c.mu.Unlock()
	return id
}

func (c *Component) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.markIDs {
		c.core.marks.unregister(id)
	}
	c.markIDs = nil
	for _, b := range c.buffers {
		if nb, ok := b.PlatformPrivate.(*nativeBuffer); ok {
			nb.pin.Unpin()
		}
	}
	c.buffers = map[uintptr]*omx.BufferHeader{}
	c.pinned.Unpin()
}

// reclaim maps a header returned by the component back to its client view.
func (c *Component) reclaim(hdr uintptr) *omx.BufferHeader {
	c.mu.Lock()
	b := c.buffers[hdr]
	c.mu.Unlock()
	if b == nil {
		return nil
	}
	target, data := headerView(view(hdr, int(omx.SizeofBufferHeader))).load(b)
	b.MarkTarget = c.core.byHandle(target)
	b.MarkData = c.core.marks.lookup(data)
	return b
}

func initCallbacks() {
	callbacksOnce.Do(func() {
		callbackTable = &[3]uintptr{
			purego.NewCallback(onEvent),
			purego.NewCallback(onEmptyBufferDone),
			purego.NewCallback(onFillBufferDone),
		}
		callbackPin.Pin(callbackTable)
	})
}

func lookupComponent(appData uintptr) *Component {
	c, _ := components.lookup(appData).(*Component)
	return c
}

func code(err error) uintptr {
	return uintptr(omx.Code(err))
}

func onEvent(_, appData, event, data1, data2, eventData uintptr) uintptr {
	c := lookupComponent(appData)
	if c == nil {
		return uintptr(omx.ErrorBadParameter)
	}
	var payload any
	if omx.Event(event) == omx.EventMark {
		payload = c.core.marks.lookup(eventData)
	}
	return code(c.cb.EventHandler(c, omx.Event(event), uint32(data1), uint32(data2), payload))
}

func onEmptyBufferDone(_, appData, hdr uintptr) uintptr {
	c := lookupComponent(appData)
	if c == nil {
		return uintptr(omx.ErrorBadParameter)
	}
	b := c.reclaim(hdr)
	if b == nil {
		return uintptr(omx.ErrorBadParameter)
	}
	return code(c.cb.EmptyBufferDone(c, b))
}

func onFillBufferDone(_, appData, hdr uintptr) uintptr {
	c := lookupComponent(appData)
	if c == nil {
		return uintptr(omx.ErrorBadParameter)
	}
	b := c.reclaim(hdr)
	if b == nil {
		return uintptr(omx.ErrorBadParameter)
	}
	return code(c.cb.FillBufferDone(c, b))
}
