// Package metabolism reads data-metabolism files: line-oriented overrides
// for port definition fields plus per-port sequences of input buffer fill
// sizes.
//
// Each non-empty line that does not start with '#' is one of
//
//	<struct>[.<port>] <field> <value>
//	buffersizes <port> <n1> <n2> ...
//
// Values accept decimal or 0x-prefixed hex. The only struct understood is the
// port definition, spelled OMX_PARAM_PORTDEFINITIONTYPE or portdefinition.
package metabolism

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// Override sets one field of one port's definition.
type Override struct {
	Line   int
	Struct string
	Port   uint32
	Field  string
	Value  uint64
}

// File is a parsed metabolism file.
type File struct {
	Overrides []Override
	Sizes     map[uint32][]uint32
}

var structNames = map[string]bool{
	"omx_param_portdefinitiontype": true,
	"portdefinition":               true,
}

type setter func(def *omx.PortDefinition, v uint64)

var fields = map[string]setter{
	"nbuffercountactual": func(d *omx.PortDefinition, v uint64) { d.BufferCountActual = uint32(v) },
	"nbuffersize":        func(d *omx.PortDefinition, v uint64) { d.BufferSize = uint32(v) },
	"nframewidth":        func(d *omx.PortDefinition, v uint64) { d.Format.Width = uint32(v) },
	"nframeheight":       func(d *omx.PortDefinition, v uint64) { d.Format.Height = uint32(v) },
	"nstride":            func(d *omx.PortDefinition, v uint64) { d.Format.Stride = int32(v) },
	"nsliceheight":       func(d *omx.PortDefinition, v uint64) { d.Format.SliceHeight = uint32(v) },
	"nbitrate":           func(d *omx.PortDefinition, v uint64) { d.Format.Bitrate = uint32(v) },
	"xframerate":         func(d *omx.PortDefinition, v uint64) { d.Format.Framerate = uint32(v) },
	"ecompressionformat": func(d *omx.PortDefinition, v uint64) { d.Format.Compression = uint32(v) },
	"ecolorformat":       func(d *omx.PortDefinition, v uint64) { d.Format.Color = uint32(v) },
	"eencoding":          func(d *omx.PortDefinition, v uint64) { d.Format.Encoding = uint32(v) },
}

// Load parses the file at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metabolism file: %w", err)
	}
	defer f.Close()
	mf, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mf, nil
}

// Parse reads a metabolism file from r.
func Parse(r io.Reader) (*File, error) {
	mf := &File{Sizes: map[uint32][]uint32{}}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		tok := strings.Fields(text)
		if strings.EqualFold(tok[0], "buffersizes") {
			if err := mf.parseSizes(line, tok[1:]); err != nil {
				return nil, err
			}
			continue
		}
		ov, err := parseOverride(line, tok)
		if err != nil {
			return nil, err
		}
		mf.Overrides = append(mf.Overrides, ov)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read metabolism file: %w", err)
	}
	return mf, nil
}

func parseValue(line int, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("line %d: bad value %q", line, s)
	}
	return v, nil
}

func (mf *File) parseSizes(line int, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("line %d: buffersizes needs a port and at least one size", line)
	}
	port, err := parseValue(line, args[0])
	if err != nil {
		return err
	}
	for _, a := range args[1:] {
		n, err := parseValue(line, a)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("line %d: buffer size must be positive", line)
		}
		mf.Sizes[uint32(port)] = append(mf.Sizes[uint32(port)], uint32(n))
	}
	return nil
}

func parseOverride(line int, tok []string) (Override, error) {
	if len(tok) != 3 {
		return Override{}, fmt.Errorf("line %d: expected <struct> <field> <value>", line)
	}
	name, portStr, hasPort := strings.Cut(tok[0], ".")
	if !structNames[strings.ToLower(name)] {
		return Override{}, fmt.Errorf("line %d: unknown structure %q", line, name)
	}
	var port uint64
	if hasPort {
		var err error
		if port, err = parseValue(line, portStr); err != nil {
			return Override{}, err
		}
	}
	field := strings.ToLower(tok[1])
	if _, ok := fields[field]; !ok {
		return Override{}, fmt.Errorf("line %d: unknown field %q", line, tok[1])
	}
	v, err := parseValue(line, tok[2])
	if err != nil {
		return Override{}, err
	}
	return Override{Line: line, Struct: name, Port: uint32(port), Field: field, Value: v}, nil
}

// Ports returns every port the file touches, sorted.
func (mf *File) Ports() []uint32 {
	seen := map[uint32]bool{}
	for _, o := range mf.Overrides {
		seen[o.Port] = true
	}
	for p := range mf.Sizes {
		seen[p] = true
	}
	out := make([]uint32, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Apply reads each affected port definition, applies the overrides for it
// and writes it back. The component must be in Loaded or the ports
// disabled.
func (mf *File) Apply(comp omx.Component) error {
	byPort := map[uint32][]Override{}
	for _, o := range mf.Overrides {
		byPort[o.Port] = append(byPort[o.Port], o)
	}
	for _, port := range mf.Ports() {
		ovs := byPort[port]
		if len(ovs) == 0 {
			continue
		}
		def := omx.NewPortDefinition(port)
		if err := comp.GetParameter(omx.IndexParamPortDefinition, def); err != nil {
			return fmt.Errorf("port %d definition: %w", port, err)
		}
		for _, o := range ovs {
			fields[o.Field](def, o.Value)
		}
		if err := comp.SetParameter(omx.IndexParamPortDefinition, def); err != nil {
			return fmt.Errorf("apply overrides to port %d (line %d): %w", port, ovs[0].Line, err)
		}
		logging.LogInfo(logging.ComponentHarness, "metabolism overrides applied", "port", port, "count", len(ovs))
	}
	return nil
}

// Expect returns the port definition values the overrides should have left
// in place, keyed by port and field.
func (mf *File) Expect(port uint32) map[string]uint64 {
	out := map[string]uint64{}
	for _, o := range mf.Overrides {
		if o.Port == port {
			out[o.Field] = o.Value
		}
	}
	return out
}
