// Package probe exercises a component's parameter surface: it enumerates
// port formats, checks that selecting a format is reflected in the port
// definition, and feeds malformed structures expecting exact error codes.
package probe

import (
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// maxFormats bounds the format enumeration for components that never answer
// ErrorNoMore.
const maxFormats = 64

// Finding is the outcome of one probe check.
type Finding struct {
	Port  uint32
	Check string
	Want  omx.Error
	Got   omx.Error
	// Err is set when the check failed for a reason other than a code
	// mismatch, such as an inconsistent port definition.
	Err error
}

// Passed reports whether the check matched.
func (f Finding) Passed() bool {
	return f.Err == nil && f.Got == f.Want
}

func (f Finding) String() string {
	if f.Passed() {
		return fmt.Sprintf("port %d %s: ok", f.Port, f.Check)
	}
	if f.Err != nil {
		return fmt.Sprintf("port %d %s: %v", f.Port, f.Check, f.Err)
	}
	return fmt.Sprintf("port %d %s: expected %s, got %s", f.Port, f.Check, f.Want.String(), f.Got.String())
}

func record(f Finding) Finding {
	if f.Passed() {
		logging.Trace(logging.TracePassFail, logging.ComponentProbe, "check passed", "port", f.Port, "check", f.Check)
	} else {
		logging.LogWarn(logging.ComponentProbe, "check failed", "port", f.Port, "check", f.Check, "result", f.String())
	}
	return f
}

// Failed returns the findings that did not pass.
func Failed(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if !f.Passed() {
			out = append(out, f)
		}
	}
	return out
}

// Error folds failed findings into one error, or nil when all passed.
func Error(findings []Finding) error {
	failed := Failed(findings)
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d parameter checks failed, first: %s", len(failed), len(findings), failed[0])
}

// CheckVersion requires the component to speak the same major.minor IL
// version as the harness.
func CheckVersion(comp omx.Component) Finding {
	f := Finding{Check: "component version"}
	v, err := comp.GetComponentVersion()
	f.Got = omx.Code(err)
	if err == nil && (v.Spec.Major != omx.SpecVersion.Major || v.Spec.Minor != omx.SpecVersion.Minor) {
		f.Err = fmt.Errorf("component speaks IL %d.%d, harness %d.%d",
			v.Spec.Major, v.Spec.Minor, omx.SpecVersion.Major, omx.SpecVersion.Minor)
	}
	return record(f)
}

// formatMatches checks that a port definition reflects the selected format
// in the fields its domain uses.
func formatMatches(def *omx.PortDefinition, pf *omx.PortFormat) error {
	switch def.Domain {
	case omx.DomainAudio, omx.DomainOther:
		if def.Format.Encoding != pf.Encoding {
			return fmt.Errorf("definition encoding %d, selected %d", def.Format.Encoding, pf.Encoding)
		}
	case omx.DomainVideo, omx.DomainImage:
		if def.Format.Compression != pf.Compression || def.Format.Color != pf.Color {
			return fmt.Errorf("definition compression/color %d/%d, selected %d/%d",
				def.Format.Compression, def.Format.Color, pf.Compression, pf.Color)
		}
	}
	return nil
}

// EnumerateFormats walks the port-format index of port until ErrorNoMore.
// Each format is then selected with SetParameter and the port definition
// re-read to confirm it took effect; the first format is restored at the
// end. The component must be in Loaded or the port disabled.
func EnumerateFormats(comp omx.Component, port uint32) ([]omx.PortFormat, []Finding, error) {
	def := omx.NewPortDefinition(port)
	if err := comp.GetParameter(omx.IndexParamPortDefinition, def); err != nil {
		return nil, nil, fmt.Errorf("port %d definition: %w", port, err)
	}
	index := omx.FormatIndex(def.Domain)

	var formats []omx.PortFormat
	var findings []Finding
	for i := uint32(0); ; i++ {
		if i == maxFormats {
			findings = append(findings, record(Finding{Port: port, Check: "format enumeration ends",
				Want: omx.ErrorNoMore, Got: omx.ErrorNone,
				Err: fmt.Errorf("no ErrorNoMore after %d formats", maxFormats)}))
			break
		}
		pf := omx.NewPortFormat(def.Domain, port, i)
		err := comp.GetParameter(index, pf)
		if omx.Code(err) == omx.ErrorNoMore {
			break
		}
		if err != nil {
			findings = append(findings, record(Finding{Port: port, Check: fmt.Sprintf("get format %d", i),
				Want: omx.ErrorNone, Got: omx.Code(err)}))
			break
		}
		if pf.Index != i || pf.PortIndex != port {
			findings = append(findings, record(Finding{Port: port, Check: fmt.Sprintf("get format %d", i),
				Err: fmt.Errorf("answer names port %d index %d", pf.PortIndex, pf.Index)}))
		}
		formats = append(formats, *pf)
	}
	logging.LogInfo(logging.ComponentProbe, "formats enumerated", "port", port, "domain", def.Domain, "count", len(formats))

	var selected *omx.PortDefinition
	for i := range formats {
		pf := formats[i]
		f, def := selectFormat(comp, port, index, &pf)
		if i == 0 {
			selected = def
		}
		findings = append(findings, f)
	}
	if len(formats) > 1 {
		first := formats[0]
		if err := comp.SetParameter(index, &first); err != nil {
			return formats, findings, fmt.Errorf("restore format on port %d: %w", port, err)
		}
		if selected != nil {
			findings = append(findings, restored(comp, port, selected))
		}
	}
	return formats, findings, nil
}

func selectFormat(comp omx.Component, port uint32, index omx.Index, pf *omx.PortFormat) (Finding, *omx.PortDefinition) {
	f := Finding{Port: port, Check: fmt.Sprintf("select format %d", pf.Index)}
	if err := comp.SetParameter(index, pf); err != nil {
		f.Got = omx.Code(err)
		return record(f), nil
	}
	def := omx.NewPortDefinition(port)
	if err := comp.GetParameter(omx.IndexParamPortDefinition, def); err != nil {
		f.Got = omx.Code(err)
		return record(f), nil
	}
	f.Err = formatMatches(def, pf)
	return record(f), def
}

// restored checks that reselecting the first format gives back the format
// fields it produced the first time.
func restored(comp omx.Component, port uint32, want *omx.PortDefinition) Finding {
	f := Finding{Port: port, Check: "restore format 0"}
	def := omx.NewPortDefinition(port)
	if err := comp.GetParameter(omx.IndexParamPortDefinition, def); err != nil {
		f.Got = omx.Code(err)
		return record(f)
	}
	if diff := cmp.Diff(want.Format, def.Format); diff != "" {
		f.Err = fmt.Errorf("definition differs after restore (-selected +restored):\n%s", diff)
	}
	return record(f)
}

// NegativeParams feeds malformed structures for port and expects the exact
// rejection codes: a nil structure or a wrong nSize is ErrorBadParameter, a
// foreign version ErrorVersionMismatch, the index bogus ErrorBadPortIndex,
// and an unknown index ErrorUnsupportedIndex.
func NegativeParams(comp omx.Component, port, bogus uint32) []Finding {
	short := omx.NewPortDefinition(port)
	short.Size -= 4

	foreign := omx.NewPortDefinition(port)
	foreign.Version.Major = omx.SpecVersion.Major + 1

	rows := []struct {
		check string
		param func() omx.Param
		index omx.Index
		set   bool
		want  omx.Error
	}{
		{"get nil structure", func() omx.Param { return (*omx.PortDefinition)(nil) },
			omx.IndexParamPortDefinition, false, omx.ErrorBadParameter},
		{"set nil structure", func() omx.Param { return (*omx.PortDefinition)(nil) },
			omx.IndexParamPortDefinition, true, omx.ErrorBadParameter},
		{"get wrong size", func() omx.Param { c := *short; return &c },
			omx.IndexParamPortDefinition, false, omx.ErrorBadParameter},
		{"set wrong size", func() omx.Param { c := *short; return &c },
			omx.IndexParamPortDefinition, true, omx.ErrorBadParameter},
		{"get wrong version", func() omx.Param { c := *foreign; return &c },
			omx.IndexParamPortDefinition, false, omx.ErrorVersionMismatch},
		{"set wrong version", func() omx.Param { c := *foreign; return &c },
			omx.IndexParamPortDefinition, true, omx.ErrorVersionMismatch},
		{"get bogus port", func() omx.Param { return omx.NewPortDefinition(bogus) },
			omx.IndexParamPortDefinition, false, omx.ErrorBadPortIndex},
		{"get unsupported index", func() omx.Param {
			r := &omx.RawParam{Data: make([]byte, 8)}
			omx.InitParam(r)
			return r
		}, omx.IndexVendorStartUnused + 0xFFF, false, omx.ErrorUnsupportedIndex},
	}

	findings := make([]Finding, 0, len(rows))
	for _, row := range rows {
		var err error
		if row.set {
			err = comp.SetParameter(row.index, row.param())
		} else {
			err = comp.GetParameter(row.index, row.param())
		}
		findings = append(findings, record(Finding{Port: port, Check: row.check, Want: row.want, Got: omx.Code(err)}))
	}
	return findings
}
