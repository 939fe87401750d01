package omx

// BufferHeader mirrors OMX_BUFFERHEADERTYPE. Ownership alternates between
// the client and the component: after EmptyThisBuffer or FillThisBuffer the
// component owns the header until the matching *BufferDone callback.
type BufferHeader struct {
	Size    uint32
	Version Version

	Data      []byte
	AllocLen  uint32
	FilledLen uint32
	Offset    uint32

	Flags     uint32
	TimeStamp int64
	TickCount uint32

	MarkTarget Component
	MarkData   any

	InputPortIndex  uint32
	OutputPortIndex uint32

	// AppPrivate belongs to the client and is never touched by a component.
	AppPrivate any
	// PlatformPrivate belongs to the component.
	PlatformPrivate any
}

// Payload returns the filled region.
func (b *BufferHeader) Payload() []byte {
	end := b.Offset + b.FilledLen
	if end > uint32(len(b.Data)) {
		end = uint32(len(b.Data))
	}
	if b.Offset > end {
		return nil
	}
	return b.Data[b.Offset:end]
}

// Component is the vtable of a loaded component (OMX_COMPONENTTYPE). All
// methods may be called from any goroutine; implementations deliver
// Callbacks from goroutines of their own choosing.
type Component interface {
	Name() string
	GetComponentVersion() (ComponentVersion, error)

	SendCommand(cmd Command, param uint32, data any) error
	GetState() (State, error)

	GetParameter(index Index, param Param) error
	SetParameter(index Index, param Param) error
	GetConfig(index Index, config Param) error
	SetConfig(index Index, config Param) error

	UseBuffer(port uint32, appPrivate any, data []byte) (*BufferHeader, error)
	AllocateBuffer(port uint32, appPrivate any, size uint32) (*BufferHeader, error)
	FreeBuffer(port uint32, buf *BufferHeader) error

	EmptyThisBuffer(buf *BufferHeader) error
	FillThisBuffer(buf *BufferHeader) error

	ComponentTunnelRequest(port uint32, peer Component, peerPort uint32, setup *TunnelSetup) error
}

// Callbacks mirrors OMX_CALLBACKTYPE. Implementations must not assume the
// calling goroutine.
type Callbacks interface {
	EventHandler(c Component, event Event, data1, data2 uint32, eventData any) error
	EmptyBufferDone(c Component, buf *BufferHeader) error
	FillBufferDone(c Component, buf *BufferHeader) error
}

// Core is the IL core: the entry points exported by the library that hosts
// components (OMX_Init, OMX_GetHandle, ...).
type Core interface {
	Init() error
	Deinit() error
	ComponentNames() ([]string, error)
	GetHandle(name string, cb Callbacks) (Component, error)
	FreeHandle(c Component) error
	SetupTunnel(out Component, outPort uint32, in Component, inPort uint32) error
}

// SetupTunnel performs the two-sided ComponentTunnelRequest handshake on
// behalf of a core that has no native implementation. A nil component on
// either side tears down the tunnel on the other.
func SetupTunnel(out Component, outPort uint32, in Component, inPort uint32) error {
	setup := &TunnelSetup{}
	if out != nil {
		if err := out.ComponentTunnelRequest(outPort, in, inPort, setup); err != nil {
			return err
		}
	}
	if in != nil {
		if err := in.ComponentTunnelRequest(inPort, out, outPort, setup); err != nil {
			if out != nil {
				_ = out.ComponentTunnelRequest(outPort, nil, 0, setup)
			}
			return ErrorPortsNotCompatible
		}
	}
	return nil
}

// Wrapper is implemented by handles that decorate another component, such
// as the call tracer.
type Wrapper interface {
	Unwrap() Component
}

// Unwrap strips every Wrapper layer from c.
func Unwrap(c Component) Component {
	for c != nil {
		w, ok := c.(Wrapper)
		if !ok {
			break
		}
		c = w.Unwrap()
	}
	return c
}

// SameComponent reports whether a and b are the same component once any
// wrappers are removed.
func SameComponent(a, b Component) bool {
	if a == nil || b == nil {
		return false
	}
	return Unwrap(a) == Unwrap(b)
}
