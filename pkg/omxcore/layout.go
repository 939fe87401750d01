package omxcore

import (
	"encoding/binary"
	"fmt"

	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// Native structures are laid out for LP64 little-endian targets, the only
// ones the loader is built for.
var le = binary.LittleEndian

// OMX_COMPONENTTYPE function pointer slots.
const (
	slotGetComponentVersion    = 24
	slotSendCommand            = 32
	slotGetParameter           = 40
	slotSetParameter           = 48
	slotGetConfig              = 56
	slotSetConfig              = 64
	slotGetState               = 80
	slotComponentTunnelRequest = 88
	slotUseBuffer              = 96
	slotAllocateBuffer         = 104
	slotFreeBuffer             = 112
	slotEmptyThisBuffer        = 120
	slotFillThisBuffer         = 128
)

// OMX_BUFFERHEADERTYPE field offsets.
const (
	hdrBuffer          = 8
	hdrAllocLen        = 16
	hdrFilledLen       = 20
	hdrOffset          = 24
	hdrMarkTarget      = 64
	hdrMarkData        = 72
	hdrTickCount       = 80
	hdrTimeStamp       = 88
	hdrFlags           = 96
	hdrOutputPortIndex = 100
	hdrInputPortIndex  = 104
)

// Offset of the format union inside OMX_PARAM_PORTDEFINITIONTYPE.
const fmtBase = 40

const (
	sizeofTunnelSetup = 8
	sizeofMark        = 16
	maxNameLength     = 128
)

// headerView is a window onto one native buffer header.
type headerView []byte

// load copies the fields the component may change into b and returns the
// raw mark pointers for the caller to resolve.
func (v headerView) load(b *omx.BufferHeader) (markTarget, markData uintptr) {
	b.Size = le.Uint32(v[0:])
	b.Version = omx.VersionFromUint32(le.Uint32(v[4:]))
	b.AllocLen = le.Uint32(v[hdrAllocLen:])
	b.FilledLen = le.Uint32(v[hdrFilledLen:])
	b.Offset = le.Uint32(v[hdrOffset:])
	b.TickCount = le.Uint32(v[hdrTickCount:])
	b.TimeStamp = int64(le.Uint64(v[hdrTimeStamp:]))
	b.Flags = le.Uint32(v[hdrFlags:])
	b.OutputPortIndex = le.Uint32(v[hdrOutputPortIndex:])
	b.InputPortIndex = le.Uint32(v[hdrInputPortIndex:])
	return uintptr(le.Uint64(v[hdrMarkTarget:])), uintptr(le.Uint64(v[hdrMarkData:]))
}

// store writes the client-owned fields of b before the header is handed
// to the component.
func (v headerView) store(b *omx.BufferHeader, markTarget, markData uintptr) {
	le.PutUint32(v[hdrFilledLen:], b.FilledLen)
	le.PutUint32(v[hdrOffset:], b.Offset)
	le.PutUint32(v[hdrTickCount:], b.TickCount)
	le.PutUint64(v[hdrTimeStamp:], uint64(b.TimeStamp))
	le.PutUint32(v[hdrFlags:], b.Flags)
	le.PutUint64(v[hdrMarkTarget:], uint64(markTarget))
	le.PutUint64(v[hdrMarkData:], uint64(markData))
}

func (v headerView) buffer() uintptr {
	return uintptr(le.Uint64(v[hdrBuffer:]))
}

// nilParam catches typed nil pointers hidden in a Param interface.
func nilParam(p omx.Param) bool {
	switch v := p.(type) {
	case nil:
		return true
	case *omx.PortParam:
		return v == nil
	case *omx.PortDefinition:
		return v == nil
	case *omx.PortFormat:
		return v == nil
	case *omx.BufferSupplierParam:
		return v == nil
	case *omx.RawParam:
		return v == nil
	}
	return false
}

// encodeParam lays p out as its native structure. base, when it has the
// right length, seeds the bytes so pointers the harness does not model
// (cMIMEType, pNativeRender) survive a Get/Set round trip. The header is
// written as the caller filled it in, wrong sizes included.
func encodeParam(p omx.Param, base []byte) ([]byte, error) {
	size := p.Sizeof()
	buf := make([]byte, size)
	if uint32(len(base)) == size {
		copy(buf, base)
	}
	h := p.Header()
	le.PutUint32(buf[0:], h.Size)
	le.PutUint32(buf[4:], h.Version.Uint32())

	switch v := p.(type) {
	case *omx.PortParam:
		le.PutUint32(buf[8:], v.Ports)
		le.PutUint32(buf[12:], v.StartPortNumber)
	case *omx.PortDefinition:
		encodePortDefinition(buf, v)
	case *omx.PortFormat:
		encodePortFormat(buf, v)
	case *omx.BufferSupplierParam:
		le.PutUint32(buf[8:], v.PortIndex)
		le.PutUint32(buf[12:], uint32(v.Supplier))
	case *omx.RawParam:
		copy(buf[8:], v.Data)
	default:
		return nil, fmt.Errorf("no native layout for %T: %w", p, omx.ErrorNotImplemented)
	}
	return buf, nil
}

// decodeParam is the inverse of encodeParam. cstr resolves a native string
// pointer; nil leaves MIME types empty.
func decodeParam(buf []byte, p omx.Param, cstr func(uintptr) string) {
	h := p.Header()
	h.Size = le.Uint32(buf[0:])
	h.Version = omx.VersionFromUint32(le.Uint32(buf[4:]))

	switch v := p.(type) {
	case *omx.PortParam:
		v.Ports = le.Uint32(buf[8:])
		v.StartPortNumber = le.Uint32(buf[12:])
	case *omx.PortDefinition:
		decodePortDefinition(buf, v, cstr)
	case *omx.PortFormat:
		decodePortFormat(buf, v)
	case *omx.BufferSupplierParam:
		v.PortIndex = le.Uint32(buf[8:])
		v.Supplier = omx.BufferSupplier(le.Uint32(buf[12:]))
	case *omx.RawParam:
		copy(v.Data, buf[8:])
	}
}

func putBool(b []byte, v bool) {
	if v {
		le.PutUint32(b, 1)
		return
	}
	le.PutUint32(b, 0)
}

func encodePortDefinition(buf []byte, d *omx.PortDefinition) {
	le.PutUint32(buf[8:], d.PortIndex)
	le.PutUint32(buf[12:], uint32(d.Dir))
	le.PutUint32(buf[16:], d.BufferCountActual)
	le.PutUint32(buf[20:], d.BufferCountMin)
	le.PutUint32(buf[24:], d.BufferSize)
	putBool(buf[28:], d.Enabled)
	putBool(buf[32:], d.Populated)
	le.PutUint32(buf[36:], uint32(d.Domain))

	f := d.Format
	u := buf[fmtBase:]
	switch d.Domain {
	case omx.DomainAudio:
		le.PutUint32(u[20:], f.Encoding)
	case omx.DomainVideo:
		le.PutUint32(u[16:], f.Width)
		le.PutUint32(u[20:], f.Height)
		le.PutUint32(u[24:], uint32(f.Stride))
		le.PutUint32(u[28:], f.SliceHeight)
		le.PutUint32(u[32:], f.Bitrate)
		le.PutUint32(u[36:], f.Framerate)
		le.PutUint32(u[44:], f.Compression)
		le.PutUint32(u[48:], f.Color)
	case omx.DomainImage:
		le.PutUint32(u[16:], f.Width)
		le.PutUint32(u[20:], f.Height)
		le.PutUint32(u[24:], uint32(f.Stride))
		le.PutUint32(u[28:], f.SliceHeight)
		le.PutUint32(u[36:], f.Compression)
		le.PutUint32(u[40:], f.Color)
	default:
		le.PutUint32(u[0:], f.Encoding)
	}

	putBool(buf[104:], d.BuffersContiguous)
	le.PutUint32(buf[108:], d.BufferAlignment)
}

func decodePortDefinition(buf []byte, d *omx.PortDefinition, cstr func(uintptr) string) {
	d.PortIndex = le.Uint32(buf[8:])
	d.Dir = omx.Dir(le.Uint32(buf[12:]))
	d.BufferCountActual = le.Uint32(buf[16:])
	d.BufferCountMin = le.Uint32(buf[20:])
	d.BufferSize = le.Uint32(buf[24:])
	d.Enabled = le.Uint32(buf[28:]) != 0
	d.Populated = le.Uint32(buf[32:]) != 0
	d.Domain = omx.Domain(le.Uint32(buf[36:]))

	u := buf[fmtBase:]
	f := omx.FormatDetail{}
	mime := func() {
		if p := uintptr(le.Uint64(u[0:])); p != 0 && cstr != nil {
			f.MIMEType = cstr(p)
		}
	}
	switch d.Domain {
	case omx.DomainAudio:
		mime()
		f.Encoding = le.Uint32(u[20:])
	case omx.DomainVideo:
		mime()
		f.Width = le.Uint32(u[16:])
		f.Height = le.Uint32(u[20:])
		f.Stride = int32(le.Uint32(u[24:]))
		f.SliceHeight = le.Uint32(u[28:])
		f.Bitrate = le.Uint32(u[32:])
		f.Framerate = le.Uint32(u[36:])
		f.Compression = le.Uint32(u[44:])
		f.Color = le.Uint32(u[48:])
	case omx.DomainImage:
		mime()
		f.Width = le.Uint32(u[16:])
		f.Height = le.Uint32(u[20:])
		f.Stride = int32(le.Uint32(u[24:]))
		f.SliceHeight = le.Uint32(u[28:])
		f.Compression = le.Uint32(u[36:])
		f.Color = le.Uint32(u[40:])
	default:
		f.Encoding = le.Uint32(u[0:])
	}
	d.Format = f

	d.BuffersContiguous = le.Uint32(buf[104:]) != 0
	d.BufferAlignment = le.Uint32(buf[108:])
}

func encodePortFormat(buf []byte, p *omx.PortFormat) {
	le.PutUint32(buf[8:], p.PortIndex)
	le.PutUint32(buf[12:], p.Index)
	switch p.Domain {
	case omx.DomainVideo:
		le.PutUint32(buf[16:], p.Compression)
		le.PutUint32(buf[20:], p.Color)
		le.PutUint32(buf[24:], p.Framerate)
	case omx.DomainImage:
		le.PutUint32(buf[16:], p.Compression)
		le.PutUint32(buf[20:], p.Color)
	default:
		le.PutUint32(buf[16:], p.Encoding)
	}
}

func decodePortFormat(buf []byte, p *omx.PortFormat) {
	p.PortIndex = le.Uint32(buf[8:])
	p.Index = le.Uint32(buf[12:])
	switch p.Domain {
	case omx.DomainVideo:
		p.Compression = le.Uint32(buf[16:])
		p.Color = le.Uint32(buf[20:])
		p.Framerate = le.Uint32(buf[24:])
	case omx.DomainImage:
		p.Compression = le.Uint32(buf[16:])
		p.Color = le.Uint32(buf[20:])
	default:
		p.Encoding = le.Uint32(buf[16:])
	}
}

// cString trims a fixed-size name buffer at its terminator.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
