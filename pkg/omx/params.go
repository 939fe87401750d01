package omx

// Version mirrors OMX_VERSIONTYPE.
type Version struct {
	Major    uint8
	Minor    uint8
	Revision uint8
	Step     uint8
}

// SpecVersion is the IL version the harness speaks (1.1.2).
var SpecVersion = Version{Major: 1, Minor: 1, Revision: 2, Step: 0}

// Uint32 packs the version the way nVersion.nVersion is laid out in memory.
func (v Version) Uint32() uint32 {
	return uint32(v.Major) | uint32(v.Minor)<<8 | uint32(v.Revision)<<16 | uint32(v.Step)<<24
}

// VersionFromUint32 is the inverse of Version.Uint32.
func VersionFromUint32(n uint32) Version {
	return Version{Major: uint8(n), Minor: uint8(n >> 8), Revision: uint8(n >> 16), Step: uint8(n >> 24)}
}

// ParamHeader is the nSize/nVersion prefix every IL structure carries.
type ParamHeader struct {
	Size    uint32
	Version Version
}

// Header lets Param implementations expose the embedded prefix.
func (h *ParamHeader) Header() *ParamHeader { return h }

// Param is any structure passed through Get/SetParameter or Get/SetConfig.
// Sizeof reports the nSize a conforming caller must put in the header.
type Param interface {
	Header() *ParamHeader
	Sizeof() uint32
}

// Native structure sizes (LP64 layout).
const (
	SizeofPortParam       uint32 = 16
	SizeofPortDefinition  uint32 = 112
	SizeofBufferSupplier  uint32 = 16
	SizeofAudioPortFormat uint32 = 20
	SizeofImagePortFormat uint32 = 24
	SizeofVideoPortFormat uint32 = 28
	SizeofOtherPortFormat uint32 = 20
	SizeofBufferHeader    uint32 = 112
)

// InitParam fills in nSize and nVersion.
func InitParam(p Param) {
	h := p.Header()
	h.Size = p.Sizeof()
	h.Version = SpecVersion
}

// CheckParam validates the header the way a conforming component must:
// a nil structure or wrong size is ErrorBadParameter, a foreign major/minor
// version is ErrorVersionMismatch.
func CheckParam(p Param) error {
	if p == nil || isNilParam(p) {
		return ErrorBadParameter
	}
	h := p.Header()
	if h.Size != p.Sizeof() {
		return ErrorBadParameter
	}
	if h.Version.Major != SpecVersion.Major || h.Version.Minor != SpecVersion.Minor {
		return ErrorVersionMismatch
	}
	return nil
}

func isNilParam(p Param) bool {
	switch v := p.(type) {
	case *PortParam:
		return v == nil
	case *PortDefinition:
		return v == nil
	case *PortFormat:
		return v == nil
	case *BufferSupplierParam:
		return v == nil
	case *RawParam:
		return v == nil
	}
	return false
}

// PortParam mirrors OMX_PORT_PARAM_TYPE, the answer to a domain Init query.
type PortParam struct {
	ParamHeader
	Ports           uint32
	StartPortNumber uint32
}

func (*PortParam) Sizeof() uint32 { return SizeofPortParam }

// FormatDetail is the domain-specific union inside a port definition. Only
// the fields relevant to the port's domain are meaningful.
type FormatDetail struct {
	MIMEType    string
	Width       uint32
	Height      uint32
	Stride      int32
	SliceHeight uint32
	Bitrate     uint32
	Framerate   uint32 // Q16
	Compression uint32
	Color       uint32
	Encoding    uint32 // audio encoding or other-domain format
}

// PortDefinition mirrors OMX_PARAM_PORTDEFINITIONTYPE.
type PortDefinition struct {
	ParamHeader
	PortIndex         uint32
	Dir               Dir
	BufferCountActual uint32
	BufferCountMin    uint32
	BufferSize        uint32
	Enabled           bool
	Populated         bool
	Domain            Domain
	Format            FormatDetail
	BuffersContiguous bool
	BufferAlignment   uint32
}

func (*PortDefinition) Sizeof() uint32 { return SizeofPortDefinition }

// NewPortDefinition returns an initialized query for port.
func NewPortDefinition(port uint32) *PortDefinition {
	p := &PortDefinition{PortIndex: port}
	InitParam(p)
	return p
}

// PortFormat covers the four OMX_*_PARAM_PORTFORMATTYPE structures. The
// domain decides the native size and which of the value fields apply.
type PortFormat struct {
	ParamHeader
	Domain      Domain
	PortIndex   uint32
	Index       uint32
	Compression uint32
	Color       uint32
	Encoding    uint32
	Framerate   uint32
}

func (p *PortFormat) Sizeof() uint32 {
	switch p.Domain {
	case DomainAudio:
		return SizeofAudioPortFormat
	case DomainVideo:
		return SizeofVideoPortFormat
	case DomainImage:
		return SizeofImagePortFormat
	}
	return SizeofOtherPortFormat
}

// NewPortFormat returns an initialized format query.
func NewPortFormat(d Domain, port, index uint32) *PortFormat {
	p := &PortFormat{Domain: d, PortIndex: port, Index: index}
	InitParam(p)
	return p
}

// BufferSupplierParam mirrors OMX_PARAM_BUFFERSUPPLIERTYPE.
type BufferSupplierParam struct {
	ParamHeader
	PortIndex uint32
	Supplier  BufferSupplier
}

func (*BufferSupplierParam) Sizeof() uint32 { return SizeofBufferSupplier }

// RawParam carries a structure the harness does not interpret. Data holds
// the bytes after the 8-byte header.
type RawParam struct {
	ParamHeader
	Data []byte
}

func (r *RawParam) Sizeof() uint32 { return 8 + uint32(len(r.Data)) }

// MarkData mirrors OMX_MARKTYPE.
type MarkData struct {
	Target Component
	Data   any
}

// TunnelSetup mirrors OMX_TUNNELSETUPTYPE.
type TunnelSetup struct {
	Flags    uint32
	Supplier BufferSupplier
}

// ComponentVersion is the answer to GetComponentVersion.
type ComponentVersion struct {
	Name      string
	Component Version
	Spec      Version
	UUID      [128]byte
}
