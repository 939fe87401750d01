package ttc

import (
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// canPopulate reports whether buffers may be added to p right now: during
// Loaded→Idle or while the port is being enabled.
func (c *Component) canPopulate(p *port) bool {
	if p.enabling {
		return true
	}
	if !p.def.Enabled {
		return false
	}
	return c.state == omx.StateLoaded && c.pending != nil && *c.pending == omx.StateIdle
}

func (c *Component) newHeader(p *port, appPrivate any, data []byte) *omx.BufferHeader {
	b := &omx.BufferHeader{
		Size:            omx.SizeofBufferHeader,
		Version:         omx.SpecVersion,
		Data:            data,
		AllocLen:        uint32(len(data)),
		AppPrivate:      appPrivate,
		PlatformPrivate: c,
	}
	if p.def.Dir == omx.DirInput {
		b.InputPortIndex = p.def.PortIndex
		if p.tunnel != nil {
			b.OutputPortIndex = p.tunnel.peerPort
		}
	} else {
		b.OutputPortIndex = p.def.PortIndex
		if p.tunnel != nil {
			b.InputPortIndex = p.tunnel.peerPort
		}
	}
	return b
}

func (c *Component) addBuffer(index uint32, appPrivate any, data []byte) (*omx.BufferHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == omx.StateInvalid {
		return nil, omx.ErrorInvalidState
	}
	p, err := c.port(index)
	if err != nil {
		return nil, err
	}
	if p.supplies() || !c.canPopulate(p) {
		return nil, omx.ErrorIncorrectStateOperation
	}
	if p.populated() {
		return nil, omx.ErrorInsufficientResources
	}
	if uint32(len(data)) < p.def.BufferSize {
		return nil, omx.ErrorBadParameter
	}
	b := c.newHeader(p, appPrivate, data)
	p.buffers[b] = true
	p.def.Populated = p.populated()
	c.signal()
	return b, nil
}

// UseBuffer wraps client memory in a new header.
func (c *Component) UseBuffer(index uint32, appPrivate any, data []byte) (*omx.BufferHeader, error) {
	if data == nil {
		return nil, omx.ErrorBadParameter
	}
	return c.addBuffer(index, appPrivate, data)
}

// AllocateBuffer allocates size bytes and a header for them.
func (c *Component) AllocateBuffer(index uint32, appPrivate any, size uint32) (*omx.BufferHeader, error) {
	return c.addBuffer(index, appPrivate, make([]byte, size))
}

// FreeBuffer releases buf. Freeing a buffer of an enabled port outside a
// transition to Loaded unpopulates it, which the component reports with
// ErrorPortUnpopulated.
func (c *Component) FreeBuffer(index uint32, buf *omx.BufferHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.port(index)
	if err != nil {
		return err
	}
	if buf == nil || !p.buffers[buf] {
		return omx.ErrorBadParameter
	}
	delete(p.buffers, buf)
	p.queue = without(p.queue, buf)
	p.home = without(p.home, buf)
	p.def.Populated = p.populated()

	if c.state == omx.StateInvalid {
		return nil
	}
	toLoaded := c.pending != nil && *c.pending == omx.StateLoaded
	if !toLoaded && !p.disabling && p.def.Enabled && c.state != omx.StateLoaded && c.state != omx.StateWaitForResources {
		logging.LogWarn(logging.ComponentTTC, "buffer freed on a populated port", "name", c.cfg.Name, "port", index)
		c.outbox = append(c.outbox, c.event(omx.EventError, uint32(omx.ErrorPortUnpopulated), index, nil))
	}
	c.signal()
	return nil
}

func without(list []*omx.BufferHeader, b *omx.BufferHeader) []*omx.BufferHeader {
	for i, x := range list {
		if x == b {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func contains(list []*omx.BufferHeader, b *omx.BufferHeader) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

// EmptyThisBuffer queues a filled input buffer.
func (c *Component) EmptyThisBuffer(buf *omx.BufferHeader) error {
	return c.accept(buf, omx.DirInput)
}

// FillThisBuffer queues an empty output buffer.
func (c *Component) FillThisBuffer(buf *omx.BufferHeader) error {
	return c.accept(buf, omx.DirOutput)
}

func (c *Component) accept(buf *omx.BufferHeader, dir omx.Dir) error {
	if buf == nil || buf.Size != omx.SizeofBufferHeader {
		return omx.ErrorBadParameter
	}
	if buf.Version.Major != omx.SpecVersion.Major || buf.Version.Minor != omx.SpecVersion.Minor {
		return omx.ErrorVersionMismatch
	}
	index := buf.OutputPortIndex
	if dir == omx.DirInput {
		index = buf.InputPortIndex
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == omx.StateInvalid {
		return omx.ErrorInvalidState
	}
	p, err := c.port(index)
	if err != nil {
		return err
	}
	if p.def.Dir != dir {
		return omx.ErrorBadPortIndex
	}
	if !p.buffers[buf] || contains(p.queue, buf) || contains(p.home, buf) {
		return omx.ErrorBadParameter
	}

	// A supplier always takes its own buffers back.
	if p.supplies() {
		if c.state == omx.StateLoaded {
			return omx.ErrorIncorrectStateOperation
		}
		if c.state == omx.StateExecuting && c.pending == nil && p.def.Enabled {
			p.queue = append(p.queue, buf)
		} else {
			p.home = append(p.home, buf)
		}
		c.signal()
		return nil
	}

	if !p.def.Enabled || p.disabling {
		return omx.ErrorIncorrectStateOperation
	}
	if c.state != omx.StateExecuting && c.state != omx.StatePause {
		return omx.ErrorIncorrectStateOperation
	}
	if c.pending != nil && *c.pending == omx.StateIdle {
		return omx.ErrorIncorrectStateOperation
	}
	p.queue = append(p.queue, buf)
	c.signal()
	return nil
}

// process pairs the n-th input port with the n-th output port and copies
// payload, flags, timestamps and foreign marks across. An input without an
// enabled partner is consumed. c.mu is held.
func (c *Component) process() []action {
	var ins, outs []*port
	for _, p := range c.ports {
		if p.def.Dir == omx.DirInput {
			ins = append(ins, p)
		} else {
			outs = append(outs, p)
		}
	}

	var acts []action
	for i, in := range ins {
		if !in.def.Enabled || in.enabling {
			continue
		}
		var out *port
		if i < len(outs) && outs[i].def.Enabled && !outs[i].enabling {
			out = outs[i]
		}
		for len(in.queue) > 0 {
			if out != nil && len(out.queue) == 0 {
				break
			}
			ib := in.queue[0]
			in.queue = in.queue[1:]

			if len(in.marks) > 0 && ib.MarkTarget == nil {
				ib.MarkTarget = in.marks[0].Target
				ib.MarkData = in.marks[0].Data
				in.marks = in.marks[1:]
			}
			own := omx.SameComponent(ib.MarkTarget, c)
			if own {
				acts = append(acts, c.event(omx.EventMark, 0, 0, ib.MarkData))
			}
			eos := ib.Flags&omx.BufferFlagEOS != 0

			if out == nil {
				acts = append(acts, c.giveBack(in, ib))
				if eos {
					acts = append(acts, c.event(omx.EventBufferFlag, in.def.PortIndex, ib.Flags, nil))
				}
				continue
			}

			ob := out.queue[0]
			out.queue = out.queue[1:]
			n := copy(ob.Data, ib.Payload())
			ob.Offset = 0
			ob.FilledLen = uint32(n)
			ob.Flags = ib.Flags
			ob.TimeStamp = ib.TimeStamp
			ob.TickCount = ib.TickCount
			ob.MarkTarget = nil
			ob.MarkData = nil
			if ib.MarkTarget != nil && !own {
				ob.MarkTarget = ib.MarkTarget
				ob.MarkData = ib.MarkData
			}
			ib.MarkTarget = nil
			ib.MarkData = nil

			acts = append(acts, c.giveBack(in, ib), c.giveBack(out, ob))
			if eos {
				acts = append(acts, c.event(omx.EventBufferFlag, out.def.PortIndex, ob.Flags, nil))
			}
		}
	}
	return acts
}

// allocateSupplied asks the peer to wrap buffers for a supplying port. The
// count and size are the larger of both ports' requirements.
func (c *Component) allocateSupplied(p *port) action {
	t := p.tunnel
	count := p.def.BufferCountActual
	size := p.def.BufferSize
	return func() {
		pd := omx.NewPortDefinition(t.peerPort)
		if err := t.peer.GetParameter(omx.IndexParamPortDefinition, pd); err == nil {
			if pd.BufferCountActual > count {
				count = pd.BufferCountActual
			}
			if pd.BufferSize > size {
				size = pd.BufferSize
			}
		}
		for i := uint32(0); i < count; i++ {
			hdr, err := t.peer.UseBuffer(t.peerPort, nil, make([]byte, size))
			if err != nil {
				logging.LogError(logging.ComponentTTC, "tunnel buffer allocation failed",
					"name", c.cfg.Name, "port", p.def.PortIndex, "err", err)
				c.event(omx.EventError, uint32(omx.Code(err)), p.def.PortIndex, nil)()
				return
			}
			c.mu.Lock()
			if p.def.Dir == omx.DirInput {
				hdr.InputPortIndex = p.def.PortIndex
			} else {
				hdr.OutputPortIndex = p.def.PortIndex
			}
			if count > p.def.BufferCountActual {
				p.def.BufferCountActual = count
			}
			p.buffers[hdr] = true
			p.home = append(p.home, hdr)
			p.def.Populated = p.populated()
			c.mu.Unlock()
		}
		c.signal()
	}
}

// freeSupplied releases every supplied buffer the port holds. c.mu is held.
func (c *Component) freeSupplied(p *port) []action {
	t := p.tunnel
	bufs := append(p.home, p.queue...)
	p.home = nil
	p.queue = nil
	var acts []action
	for _, b := range bufs {
		delete(p.buffers, b)
		b := b
		acts = append(acts, func() {
			if err := t.peer.FreeBuffer(t.peerPort, b); err != nil {
				logging.LogWarn(logging.ComponentTTC, "peer refused free", "name", c.cfg.Name, "err", err)
			}
		})
	}
	p.def.Populated = p.populated()
	return acts
}

// circulateSupplied puts supplied buffers into play on Idle→Executing.
func (c *Component) circulateSupplied() []action {
	var acts []action
	for _, p := range c.ports {
		if p.supplies() && p.def.Enabled {
			acts = append(acts, c.circulatePort(p)...)
		}
	}
	return acts
}

// circulatePort: an output supplier starts filling its own buffers, an
// input supplier hands them to the peer to be filled. c.mu is held.
func (c *Component) circulatePort(p *port) []action {
	bufs := p.home
	p.home = nil
	if p.def.Dir == omx.DirOutput {
		p.queue = append(p.queue, bufs...)
		return nil
	}
	var acts []action
	for _, b := range bufs {
		b.FilledLen = 0
		b.Flags = 0
		acts = append(acts, c.toPeer(p, b, p.tunnel.peer.FillThisBuffer))
	}
	return acts
}
