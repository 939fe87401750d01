package omxcore

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisarmstrong/omxconf/pkg/omx"
)

func TestOpenMissingLibrary(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "libOmxCore.so"))
	require.Error(t, err)
}

func TestLibraryPaths(t *testing.T) {
	assert.Equal(t, []string{"/opt/lib/libX.so"}, libraryPaths("/opt/lib/libX.so"))

	t.Setenv(EnvLibrary, "/env/libOmxCore.so")
	paths := libraryPaths("")
	require.NotEmpty(t, paths)
	assert.Equal(t, "/env/libOmxCore.so", paths[0])
	assert.Greater(t, len(paths), 1)
}

func TestPortDefinitionLayout(t *testing.T) {
	def := omx.NewPortDefinition(1)
	def.Dir = omx.DirOutput
	def.BufferCountActual = 4
	def.BufferCountMin = 2
	def.BufferSize = 0x10000
	def.Enabled = true
	def.Domain = omx.DomainVideo
	def.Format = omx.FormatDetail{Width: 640, Height: 480, Stride: 640, Compression: 7, Color: 19}
	def.BufferAlignment = 16

	buf, err := encodeParam(def, nil)
	require.NoError(t, err)
	require.Len(t, buf, int(omx.SizeofPortDefinition))

	assert.Equal(t, omx.SizeofPortDefinition, le.Uint32(buf[0:]))
	assert.Equal(t, omx.SpecVersion.Uint32(), le.Uint32(buf[4:]))
	assert.Equal(t, uint32(1), le.Uint32(buf[8:]))
	assert.Equal(t, uint32(4), le.Uint32(buf[16:]))
	assert.Equal(t, uint32(0x10000), le.Uint32(buf[24:]))
	assert.Equal(t, uint32(1), le.Uint32(buf[28:]))
	assert.Equal(t, uint32(640), le.Uint32(buf[56:]), "nFrameWidth")
	assert.Equal(t, uint32(7), le.Uint32(buf[84:]), "eCompressionFormat")
	assert.Equal(t, uint32(19), le.Uint32(buf[88:]), "eColorFormat")
	assert.Equal(t, uint32(16), le.Uint32(buf[108:]))

	got := omx.NewPortDefinition(0)
	decodeParam(buf, got, nil)
	if diff := cmp.Diff(def, got); diff != "" {
		t.Errorf("decoded port definition mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeKeepsUnmodeledPointers(t *testing.T) {
	base := make([]byte, omx.SizeofPortDefinition)
	le.PutUint64(base[fmtBase:], 0xdeadbeef) // cMIMEType

	def := omx.NewPortDefinition(0)
	def.Domain = omx.DomainAudio
	def.Format.Encoding = 2
	buf, err := encodeParam(def, base)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), le.Uint64(buf[fmtBase:]))
	assert.Equal(t, uint32(2), le.Uint32(buf[fmtBase+20:]))

	got := omx.NewPortDefinition(0)
	decodeParam(buf, got, func(uintptr) string { return "audio/mpeg" })
	assert.Equal(t, "audio/mpeg", got.Format.MIMEType)
}

func TestWrongSizeIsPassedThrough(t *testing.T) {
	bs := &omx.BufferSupplierParam{PortIndex: 3, Supplier: omx.SupplyOutput}
	omx.InitParam(bs)
	bs.Size = 4

	buf, err := encodeParam(bs, nil)
	require.NoError(t, err)
	assert.Len(t, buf, int(omx.SizeofBufferSupplier))
	assert.Equal(t, uint32(4), le.Uint32(buf[0:]))
	assert.Equal(t, uint32(3), le.Uint32(buf[8:]))
	assert.Equal(t, uint32(omx.SupplyOutput), le.Uint32(buf[12:]))
}

func TestPortFormatLayoutPerDomain(t *testing.T) {
	tests := []struct {
		domain omx.Domain
		size   int
		offset int
		field  func(*omx.PortFormat)
	}{
		{omx.DomainAudio, 20, 16, func(p *omx.PortFormat) { p.Encoding = 9 }},
		{omx.DomainImage, 24, 20, func(p *omx.PortFormat) { p.Color = 9 }},
		{omx.DomainVideo, 28, 24, func(p *omx.PortFormat) { p.Framerate = 9 }},
		{omx.DomainOther, 20, 16, func(p *omx.PortFormat) { p.Encoding = 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.domain.String(), func(t *testing.T) {
			pf := omx.NewPortFormat(tt.domain, 1, 2)
			tt.field(pf)
			buf, err := encodeParam(pf, nil)
			require.NoError(t, err)
			assert.Len(t, buf, tt.size)
			assert.Equal(t, uint32(2), le.Uint32(buf[12:]))
			assert.Equal(t, uint32(9), le.Uint32(buf[tt.offset:]))
		})
	}
}

type unknownParam struct{ omx.ParamHeader }

func (*unknownParam) Sizeof() uint32 { return 8 }

func TestUnknownParamHasNoLayout(t *testing.T) {
	_, err := encodeParam(&unknownParam{}, nil)
	assert.ErrorIs(t, err, omx.ErrorNotImplemented)
	assert.True(t, nilParam((*omx.PortDefinition)(nil)))
	assert.False(t, nilParam(&unknownParam{}))
}

func TestHeaderViewRoundTrip(t *testing.T) {
	raw := make([]byte, omx.SizeofBufferHeader)
	le.PutUint32(raw[0:], omx.SizeofBufferHeader)
	le.PutUint32(raw[hdrAllocLen:], 4096)
	le.PutUint32(raw[hdrInputPortIndex:], 0)
	le.PutUint32(raw[hdrOutputPortIndex:], 1)
	v := headerView(raw)

	b := &omx.BufferHeader{FilledLen: 100, Offset: 4, Flags: omx.BufferFlagEOS, TimeStamp: -5, TickCount: 3}
	v.store(b, 0x1000, 7)

	got := &omx.BufferHeader{}
	target, data := v.load(got)
	assert.Equal(t, uintptr(0x1000), target)
	assert.Equal(t, uintptr(7), data)
	assert.Equal(t, uint32(4096), got.AllocLen)
	assert.Equal(t, uint32(100), got.FilledLen)
	assert.Equal(t, uint32(4), got.Offset)
	assert.Equal(t, omx.BufferFlagEOS, got.Flags)
	assert.Equal(t, int64(-5), got.TimeStamp)
	assert.Equal(t, uint32(1), got.OutputPortIndex)
}

func TestHandleTable(t *testing.T) {
	var tbl handleTable
	a := tbl.register("a")
	b := tbl.register("b")
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "b", tbl.lookup(b))
	tbl.unregister(b)
	assert.Nil(t, tbl.lookup(b))
	assert.Nil(t, tbl.lookup(0))
}

func TestCString(t *testing.T) {
	assert.Equal(t, "OMX.x", cString([]byte{'O', 'M', 'X', '.', 'x', 0, 'z'}))
	assert.Equal(t, "abc", cString([]byte("abc")))
}
