package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisarmstrong/omxconf/pkg/omx"
	"github.com/krisarmstrong/omxconf/pkg/ttc"
)

func newComponent(t *testing.T, cfg ttc.Config) *ttc.Component {
	t.Helper()
	comp, err := ttc.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(comp.Close)
	return comp
}

func videoConfig() ttc.Config {
	for _, c := range ttc.DefaultConfigs() {
		if c.Name == ttc.VideoTestName {
			return c
		}
	}
	panic("video config missing")
}

func TestEnumerateFormats(t *testing.T) {
	comp := newComponent(t, ttc.DefaultConfig("probe"))

	formats, findings, err := EnumerateFormats(comp, 0)
	require.NoError(t, err)
	require.Len(t, formats, 2)
	assert.Equal(t, uint32(0), formats[0].Encoding)
	assert.Equal(t, uint32(1), formats[1].Encoding)
	assert.NoError(t, Error(findings))

	// The first format is back in place afterwards.
	def := omx.NewPortDefinition(0)
	require.NoError(t, comp.GetParameter(omx.IndexParamPortDefinition, def))
	assert.Equal(t, uint32(0), def.Format.Encoding)
}

// drifting reports a new bitrate every time its port definition is read.
type drifting struct {
	omx.Component
	reads uint32
}

func (d *drifting) GetParameter(index omx.Index, param omx.Param) error {
	if err := d.Component.GetParameter(index, param); err != nil {
		return err
	}
	if def, ok := param.(*omx.PortDefinition); ok {
		d.reads++
		def.Format.Bitrate = d.reads
	}
	return nil
}

func TestEnumerateFormatsRestoreDiffers(t *testing.T) {
	comp := &drifting{Component: newComponent(t, ttc.DefaultConfig("drift"))}

	_, findings, err := EnumerateFormats(comp, 0)
	require.NoError(t, err)
	failed := Failed(findings)
	require.Len(t, failed, 1)
	assert.Equal(t, "restore format 0", failed[0].Check)
	assert.Contains(t, failed[0].Err.Error(), "Bitrate")
}

func TestEnumerateVideoFormats(t *testing.T) {
	comp := newComponent(t, videoConfig())

	formats, findings, err := EnumerateFormats(comp, 1)
	require.NoError(t, err)
	require.Len(t, formats, 2)
	assert.Equal(t, omx.DomainVideo, formats[0].Domain)
	assert.Equal(t, uint32(19), formats[0].Color)
	assert.Equal(t, uint32(7), formats[1].Compression)
	assert.Empty(t, Failed(findings))
}

func TestEnumerateFormatsOutsideLoaded(t *testing.T) {
	comp := newComponent(t, ttc.DefaultConfig("probe"))
	raw := &omx.RawParam{Data: make([]byte, 4)}
	omx.InitParam(raw)
	require.NoError(t, comp.SetParameter(ttc.IndexForceInvalid, raw))

	_, _, err := EnumerateFormats(comp, 0)
	assert.ErrorIs(t, err, omx.ErrorInvalidState)
}

func TestNegativeParams(t *testing.T) {
	comp := newComponent(t, ttc.DefaultConfig("probe"))

	findings := NegativeParams(comp, 0, 2)
	require.Len(t, findings, 8)
	for _, f := range findings {
		assert.True(t, f.Passed(), f.String())
	}
}

// lenient accepts every parameter without looking at it.
type lenient struct {
	omx.Component
}

func (lenient) GetParameter(omx.Index, omx.Param) error { return nil }
func (lenient) SetParameter(omx.Index, omx.Param) error { return nil }

func TestNegativeParamsReportsMismatch(t *testing.T) {
	findings := NegativeParams(lenient{}, 0, 2)
	failed := Failed(findings)
	assert.Len(t, failed, len(findings))
	assert.Equal(t, omx.ErrorNone, failed[0].Got)
	assert.Equal(t, omx.ErrorBadParameter, failed[0].Want)
	assert.Contains(t, Error(findings).Error(), "8 of 8")
}

func TestCheckVersion(t *testing.T) {
	comp := newComponent(t, ttc.DefaultConfig("probe"))
	assert.True(t, CheckVersion(comp).Passed())
}
