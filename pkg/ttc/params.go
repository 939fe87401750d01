package ttc

import (
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

func initDomain(index omx.Index) (omx.Domain, bool) {
	for _, d := range omx.Domains() {
		if omx.InitIndex(d) == index {
			return d, true
		}
	}
	return 0, false
}

func formatDomain(index omx.Index) (omx.Domain, bool) {
	for _, d := range omx.Domains() {
		if omx.FormatIndex(d) == index {
			return d, true
		}
	}
	return 0, false
}

// domainRange returns the first port and the number of ports in d.
// c.mu is held.
func (c *Component) domainRange(d omx.Domain) (uint32, uint32) {
	var start, count uint32
	for _, p := range c.ports {
		if p.def.Domain != d {
			continue
		}
		if count == 0 {
			start = p.def.PortIndex
		}
		count++
	}
	return start, count
}

func (p *port) supplier() omx.BufferSupplier {
	if p.tunnel != nil {
		return p.tunnel.supplier
	}
	return p.prefer
}

// configurable reports whether p's definition may change: in Loaded, or
// while the port is disabled.
func (c *Component) configurable(p *port) bool {
	if !p.def.Enabled {
		return true
	}
	return c.state == omx.StateLoaded && c.pending == nil
}

func (c *Component) GetParameter(index omx.Index, param omx.Param) error {
	if err := omx.CheckParam(param); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == omx.StateInvalid {
		return omx.ErrorInvalidState
	}

	if d, ok := initDomain(index); ok {
		pp, ok := param.(*omx.PortParam)
		if !ok {
			return omx.ErrorBadParameter
		}
		pp.StartPortNumber, pp.Ports = c.domainRange(d)
		return nil
	}
	if d, ok := formatDomain(index); ok {
		pf, ok := param.(*omx.PortFormat)
		if !ok {
			return omx.ErrorBadParameter
		}
		p, err := c.port(pf.PortIndex)
		if err != nil {
			return err
		}
		if p.def.Domain != d {
			return omx.ErrorUnsupportedIndex
		}
		if pf.Index >= uint32(len(p.formats)) {
			return omx.ErrorNoMore
		}
		f := p.formats[pf.Index]
		pf.Compression = f.Compression
		pf.Color = f.Color
		pf.Encoding = f.Encoding
		pf.Framerate = f.Framerate
		return nil
	}

	switch index {
	case omx.IndexParamPortDefinition:
		pd, ok := param.(*omx.PortDefinition)
		if !ok {
			return omx.ErrorBadParameter
		}
		p, err := c.port(pd.PortIndex)
		if err != nil {
			return err
		}
		hdr := pd.ParamHeader
		*pd = p.def
		pd.ParamHeader = hdr
		return nil
	case omx.IndexParamCompBufferSupplier:
		bs, ok := param.(*omx.BufferSupplierParam)
		if !ok {
			return omx.ErrorBadParameter
		}
		p, err := c.port(bs.PortIndex)
		if err != nil {
			return err
		}
		bs.Supplier = p.supplier()
		return nil
	}
	return omx.ErrorUnsupportedIndex
}

func (c *Component) SetParameter(index omx.Index, param omx.Param) error {
	if err := omx.CheckParam(param); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == omx.StateInvalid {
		return omx.ErrorInvalidState
	}

	if index == IndexForceInvalid {
		c.outbox = append(c.outbox, c.invalidate()...)
		c.signal()
		return nil
	}
	if d, ok := formatDomain(index); ok {
		pf, ok := param.(*omx.PortFormat)
		if !ok {
			return omx.ErrorBadParameter
		}
		p, err := c.port(pf.PortIndex)
		if err != nil {
			return err
		}
		if p.def.Domain != d {
			return omx.ErrorUnsupportedIndex
		}
		if !c.configurable(p) {
			return omx.ErrorIncorrectStateOperation
		}
		for _, f := range p.formats {
			if f.Compression == pf.Compression && f.Color == pf.Color && f.Encoding == pf.Encoding {
				applyFormat(&p.def, f)
				return nil
			}
		}
		return omx.ErrorUnsupportedSetting
	}

	switch index {
	case omx.IndexParamPortDefinition:
		pd, ok := param.(*omx.PortDefinition)
		if !ok {
			return omx.ErrorBadParameter
		}
		p, err := c.port(pd.PortIndex)
		if err != nil {
			return err
		}
		if !c.configurable(p) {
			return omx.ErrorIncorrectStateOperation
		}
		if pd.BufferCountActual < p.def.BufferCountMin {
			return omx.ErrorBadParameter
		}
		p.def.BufferCountActual = pd.BufferCountActual
		if pd.BufferSize > p.def.BufferSize {
			p.def.BufferSize = pd.BufferSize
		}
		p.def.Format = pd.Format
		logging.LogDebug(logging.ComponentTTC, "port definition set", "name", c.cfg.Name,
			"port", pd.PortIndex, "count", p.def.BufferCountActual, "size", p.def.BufferSize)
		return nil
	case omx.IndexParamCompBufferSupplier:
		bs, ok := param.(*omx.BufferSupplierParam)
		if !ok {
			return omx.ErrorBadParameter
		}
		p, err := c.port(bs.PortIndex)
		if err != nil {
			return err
		}
		if p.tunnel != nil {
			p.tunnel.supplier = bs.Supplier
		} else {
			p.prefer = bs.Supplier
		}
		return nil
	}
	return omx.ErrorUnsupportedIndex
}

// The test component exposes no configs.
func (c *Component) GetConfig(index omx.Index, config omx.Param) error {
	return c.config(config)
}

func (c *Component) SetConfig(index omx.Index, config omx.Param) error {
	return c.config(config)
}

func (c *Component) config(config omx.Param) error {
	if err := omx.CheckParam(config); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == omx.StateInvalid {
		return omx.ErrorInvalidState
	}
	return omx.ErrorUnsupportedIndex
}

// ComponentTunnelRequest sets up or tears down one side of a tunnel. The
// output side proposes its preferred supplier; the input side checks
// compatibility, decides, and tells the output side through
// ParamCompBufferSupplier.
func (c *Component) ComponentTunnelRequest(index uint32, peer omx.Component, peerPort uint32, setup *omx.TunnelSetup) error {
	c.mu.Lock()
	if c.state == omx.StateInvalid {
		c.mu.Unlock()
		return omx.ErrorInvalidState
	}
	p, err := c.port(index)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.configurable(p) {
		c.mu.Unlock()
		return omx.ErrorIncorrectStateOperation
	}
	if peer == nil {
		p.tunnel = nil
		c.mu.Unlock()
		return nil
	}
	if setup == nil {
		c.mu.Unlock()
		return omx.ErrorBadParameter
	}
	if p.def.Dir == omx.DirOutput {
		p.tunnel = &tunnel{peer: peer, peerPort: peerPort, supplier: p.prefer}
		setup.Supplier = p.prefer
		c.mu.Unlock()
		return nil
	}
	domain := p.def.Domain
	prefer := p.prefer
	c.mu.Unlock()

	pd := omx.NewPortDefinition(peerPort)
	if err := peer.GetParameter(omx.IndexParamPortDefinition, pd); err != nil {
		return omx.ErrorPortsNotCompatible
	}
	if pd.Dir != omx.DirOutput || pd.Domain != domain {
		return omx.ErrorPortsNotCompatible
	}

	supplier := prefer
	if supplier == omx.SupplyUnspecified {
		supplier = setup.Supplier
	}
	if supplier == omx.SupplyUnspecified {
		supplier = omx.SupplyInput
	}
	bs := &omx.BufferSupplierParam{PortIndex: peerPort, Supplier: supplier}
	omx.InitParam(bs)
	if err := peer.SetParameter(omx.IndexParamCompBufferSupplier, bs); err != nil {
		return omx.ErrorPortsNotCompatible
	}
	setup.Supplier = supplier

	c.mu.Lock()
	p.tunnel = &tunnel{peer: peer, peerPort: peerPort, supplier: supplier}
	c.mu.Unlock()
	logging.LogInfo(logging.ComponentTTC, "tunnel established", "name", c.cfg.Name,
		"port", index, "peer", peer.Name(), "peer_port", peerPort, "supplier", supplier)
	return nil
}
