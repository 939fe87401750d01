// Package ttc implements the Tunnel Test Component: a pass-through IL
// component with a complete state machine, buffer exchange, flush, port
// enable/disable, mark and EOS propagation and tunneling. It is the peer
// for tunnel scenarios and the stand-in component for driver tests.
package ttc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// Vendor indices understood by the test component.
const (
	// IndexForceInvalid moves the component to Invalid when set. It takes an
	// omx.RawParam with any payload.
	IndexForceInvalid = omx.IndexVendorStartUnused + 0x100
)

// PortConfig describes one port. Ports are numbered in the order they
// appear in Config.Ports and ports of one domain must be contiguous.
type PortConfig struct {
	Dir         omx.Dir
	Domain      omx.Domain
	CountMin    uint32
	CountActual uint32
	BufferSize  uint32
	// Formats lists what the port-format index enumerates. The first entry
	// is the initial format.
	Formats []omx.PortFormat
	// Supplier is the preferred supplier when the port is tunneled.
	Supplier omx.BufferSupplier
}

// Config describes a test component.
type Config struct {
	Name  string
	Ports []PortConfig
	// SyncErrors reports rejected state transitions from SendCommand instead
	// of through EventError.
	SyncErrors bool
	// DropStateComplete suppresses the StateSet completion event so the
	// driver has to fall back to GetState.
	DropStateComplete bool
}

// DefaultConfig is a one-input, one-output pass-through in the other domain
// with two buffers of 4 KiB per port.
func DefaultConfig(name string) Config {
	port := func(dir omx.Dir) PortConfig {
		return PortConfig{
			Dir:         dir,
			Domain:      omx.DomainOther,
			CountMin:    2,
			CountActual: 2,
			BufferSize:  4096,
			Formats: []omx.PortFormat{
				{Encoding: 0},
				{Encoding: 1},
			},
			Supplier: omx.SupplyInput,
		}
	}
	return Config{Name: name, Ports: []PortConfig{port(omx.DirInput), port(omx.DirOutput)}}
}

// Validate checks port numbering constraints.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("component name is required")
	}
	seen := map[omx.Domain]bool{}
	for i, p := range c.Ports {
		if i > 0 && c.Ports[i-1].Domain != p.Domain && seen[p.Domain] {
			return fmt.Errorf("port %d: %s ports are not contiguous", i, p.Domain)
		}
		seen[p.Domain] = true
		if p.CountMin == 0 || p.CountActual < p.CountMin {
			return fmt.Errorf("port %d: buffer count actual %d below min %d", i, p.CountActual, p.CountMin)
		}
		if p.BufferSize == 0 {
			return fmt.Errorf("port %d: buffer size must be positive", i)
		}
	}
	return nil
}

type tunnel struct {
	peer     omx.Component
	peerPort uint32
	supplier omx.BufferSupplier
}

type port struct {
	def     omx.PortDefinition
	formats []omx.PortFormat

	buffers map[*omx.BufferHeader]bool
	// queue holds buffers the component owns and will process next.
	queue []*omx.BufferHeader
	// home holds supplied tunnel buffers that are not in circulation.
	home []*omx.BufferHeader

	tunnel *tunnel
	prefer omx.BufferSupplier

	enabling  bool
	disabling bool
	marks     []omx.MarkData
}

func (p *port) supplies() bool {
	if p.tunnel == nil {
		return false
	}
	if p.def.Dir == omx.DirInput {
		return p.tunnel.supplier == omx.SupplyInput
	}
	return p.tunnel.supplier == omx.SupplyOutput
}

func (p *port) populated() bool {
	return uint32(len(p.buffers)) >= p.def.BufferCountActual && len(p.buffers) > 0
}

type command struct {
	cmd   omx.Command
	param uint32
	mark  *omx.MarkData
}

// Component is one instance of the test component. All exported methods are
// safe for concurrent use; callbacks are delivered from the component's own
// goroutine.
type Component struct {
	cfg  Config
	cb   omx.Callbacks
	uuid uuid.UUID

	mu      sync.Mutex
	state   omx.State
	pending *omx.State
	ports   []*port
	cmds    []command
	outbox  []action

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New creates a component in Loaded and starts its goroutine.
func New(cfg Config, cb omx.Callbacks) (*Component, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Component{
		cfg:   cfg,
		cb:    cb,
		uuid:  uuid.New(),
		state: omx.StateLoaded,
		kick:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for i, pc := range cfg.Ports {
		def := omx.NewPortDefinition(uint32(i))
		def.Dir = pc.Dir
		def.Domain = pc.Domain
		def.BufferCountMin = pc.CountMin
		def.BufferCountActual = pc.CountActual
		def.BufferSize = pc.BufferSize
		def.Enabled = true
		def.BufferAlignment = 1
		formats := make([]omx.PortFormat, len(pc.Formats))
		for j, f := range pc.Formats {
			f.Domain = pc.Domain
			f.PortIndex = uint32(i)
			f.Index = uint32(j)
			omx.InitParam(&f)
			formats[j] = f
		}
		p := &port{def: *def, formats: formats, buffers: map[*omx.BufferHeader]bool{}, prefer: pc.Supplier}
		if len(formats) > 0 {
			applyFormat(&p.def, formats[0])
		}
		c.ports = append(c.ports, p)
	}
	go c.run()
	logging.LogDebug(logging.ComponentTTC, "component created", "name", cfg.Name, "ports", len(c.ports))
	return c, nil
}

func applyFormat(def *omx.PortDefinition, f omx.PortFormat) {
	def.Format.Compression = f.Compression
	def.Format.Color = f.Color
	def.Format.Encoding = f.Encoding
	def.Format.Framerate = f.Framerate
}

// Close stops the component goroutine. The handle is unusable afterwards.
func (c *Component) Close() {
	select {
	case <-c.quit:
		return
	default:
	}
	close(c.quit)
	<-c.done
}

func (c *Component) Name() string { return c.cfg.Name }

func (c *Component) GetComponentVersion() (omx.ComponentVersion, error) {
	v := omx.ComponentVersion{
		Name:      c.cfg.Name,
		Component: omx.Version{Major: 1},
		Spec:      omx.SpecVersion,
	}
	copy(v.UUID[:], c.uuid[:])
	return v, nil
}

func (c *Component) GetState() (omx.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, nil
}

func (c *Component) port(index uint32) (*port, error) {
	if index >= uint32(len(c.ports)) {
		return nil, omx.ErrorBadPortIndex
	}
	return c.ports[index], nil
}

func (c *Component) checkPorts(index uint32) error {
	if index == omx.PortAll {
		return nil
	}
	_, err := c.port(index)
	return err
}

func (c *Component) selectPorts(index uint32) []*port {
	if index == omx.PortAll {
		return c.ports
	}
	return []*port{c.ports[index]}
}

// SendCommand validates what it can synchronously and queues the rest for
// the component goroutine.
func (c *Component) SendCommand(cmd omx.Command, param uint32, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == omx.StateInvalid {
		return omx.ErrorInvalidState
	}
	next := command{cmd: cmd, param: param}
	switch cmd {
	case omx.CommandStateSet:
		if c.cfg.SyncErrors && c.pending == nil {
			if err := omx.Transition(c.state, omx.State(param)).Err(); err != nil {
				return err
			}
		}
	case omx.CommandFlush, omx.CommandPortDisable, omx.CommandPortEnable:
		if err := c.checkPorts(param); err != nil {
			return err
		}
	case omx.CommandMarkBuffer:
		if _, err := c.port(param); err != nil {
			return err
		}
		m, ok := data.(*omx.MarkData)
		if !ok || m == nil {
			return omx.ErrorBadParameter
		}
		next.mark = m
	default:
		return omx.ErrorUnsupportedSetting
	}
	c.cmds = append(c.cmds, next)
	c.drainCommands()
	c.signal()
	return nil
}

// drainCommands starts every queued command that can start. A StateSet waits
// while another transition is pending. Starting is synchronous so that the
// client can populate ports as soon as SendCommand returns; the resulting
// callbacks go to the outbox. c.mu is held.
func (c *Component) drainCommands() {
	for len(c.cmds) > 0 {
		next := c.cmds[0]
		if next.cmd == omx.CommandStateSet && c.pending != nil {
			return
		}
		c.cmds = c.cmds[1:]
		c.outbox = append(c.outbox, c.startCommand(next)...)
		if c.state == omx.StateInvalid {
			c.cmds = nil
			return
		}
	}
}

func (c *Component) signal() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// run is the component goroutine: it plans work under the lock and then
// performs the resulting callbacks and peer calls without it.
func (c *Component) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case <-c.kick:
		}
		for {
			c.mu.Lock()
			acts := c.plan()
			c.mu.Unlock()
			if len(acts) == 0 {
				break
			}
			for _, a := range acts {
				a()
			}
		}
	}
}

type action func()

func (c *Component) event(ev omx.Event, d1, d2 uint32, data any) action {
	return func() {
		logging.Trace(logging.TraceCallSequence, logging.ComponentTTC, "event",
			"name", c.cfg.Name, "event", ev, "data1", d1, "data2", d2)
		if c.cb != nil {
			_ = c.cb.EventHandler(c, ev, d1, d2, data)
		}
	}
}

// plan runs with c.mu held.
func (c *Component) plan() []action {
	c.drainCommands()
	acts := c.outbox
	c.outbox = nil
	if c.state == omx.StateInvalid {
		return acts
	}
	acts = append(acts, c.advanceTransition()...)
	acts = append(acts, c.advancePorts()...)
	if c.pending == nil && c.state == omx.StateExecuting {
		acts = append(acts, c.process()...)
	}
	return acts
}

func (c *Component) startCommand(next command) []action {
	switch next.cmd {
	case omx.CommandStateSet:
		return c.startTransition(omx.State(next.param))
	case omx.CommandFlush:
		var acts []action
		for _, p := range c.selectPorts(next.param) {
			acts = append(acts, c.returnAll(p)...)
			acts = append(acts, c.event(omx.EventCmdComplete, uint32(omx.CommandFlush), p.def.PortIndex, nil))
		}
		return acts
	case omx.CommandPortDisable:
		var acts []action
		for _, p := range c.selectPorts(next.param) {
			p.def.Enabled = false
			p.enabling = false
			p.disabling = true
			acts = append(acts, c.returnAll(p)...)
			if p.supplies() {
				acts = append(acts, c.freeSupplied(p)...)
			}
		}
		return acts
	case omx.CommandPortEnable:
		var acts []action
		for _, p := range c.selectPorts(next.param) {
			p.def.Enabled = true
			p.disabling = false
			p.enabling = true
			if p.supplies() && c.state != omx.StateLoaded && c.state != omx.StateWaitForResources {
				acts = append(acts, c.allocateSupplied(p))
			}
		}
		return acts
	case omx.CommandMarkBuffer:
		p := c.ports[next.param]
		p.marks = append(p.marks, *next.mark)
		return []action{c.event(omx.EventCmdComplete, uint32(omx.CommandMarkBuffer), next.param, nil)}
	}
	return nil
}

func (c *Component) startTransition(target omx.State) []action {
	if err := omx.Transition(c.state, target).Err(); err != nil {
		return []action{c.event(omx.EventError, uint32(omx.Code(err)), 0, nil)}
	}
	if target == omx.StateInvalid {
		return c.invalidate()
	}
	logging.LogDebug(logging.ComponentTTC, "transition start", "name", c.cfg.Name, "from", c.state, "to", target)
	c.pending = &target

	var acts []action
	switch {
	case c.state == omx.StateLoaded && target == omx.StateIdle:
		for _, p := range c.ports {
			if p.def.Enabled && p.supplies() {
				acts = append(acts, c.allocateSupplied(p))
			}
		}
	case c.state == omx.StateIdle && target == omx.StateLoaded:
		for _, p := range c.ports {
			if p.supplies() {
				acts = append(acts, c.freeSupplied(p)...)
			}
		}
	case target == omx.StateIdle:
		for _, p := range c.ports {
			acts = append(acts, c.returnAll(p)...)
		}
	case c.state == omx.StateIdle && target == omx.StateExecuting:
		acts = append(acts, c.circulateSupplied()...)
	}
	return acts
}

// invalidate moves to Invalid and reports it. c.mu is held.
func (c *Component) invalidate() []action {
	c.state = omx.StateInvalid
	c.pending = nil
	c.cmds = nil
	logging.LogWarn(logging.ComponentTTC, "component invalid", "name", c.cfg.Name)
	return []action{c.event(omx.EventError, uint32(omx.ErrorInvalidState), 0, nil)}
}

func (c *Component) advanceTransition() []action {
	if c.pending == nil {
		return nil
	}
	target := *c.pending
	for _, p := range c.ports {
		if !c.portReady(p, target) {
			return nil
		}
	}
	c.state = target
	c.pending = nil
	logging.LogDebug(logging.ComponentTTC, "transition complete", "name", c.cfg.Name, "state", target)
	if c.cfg.DropStateComplete {
		return nil
	}
	return []action{c.event(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(target), nil)}
}

// portReady reports whether p allows the pending transition to complete.
func (c *Component) portReady(p *port, target omx.State) bool {
	switch {
	case c.state == omx.StateLoaded && target == omx.StateIdle:
		return !p.def.Enabled || p.populated()
	case target == omx.StateLoaded:
		return len(p.buffers) == 0
	case target == omx.StateIdle:
		if p.supplies() {
			return len(p.queue)+len(p.home) == len(p.buffers)
		}
		return len(p.queue) == 0
	}
	return true
}

func (c *Component) advancePorts() []action {
	var acts []action
	for _, p := range c.ports {
		if p.disabling && p.supplies() && len(p.home) > 0 {
			acts = append(acts, c.freeSupplied(p)...)
		}
		switch {
		case p.disabling && len(p.buffers) == 0:
			p.disabling = false
			p.def.Populated = false
			acts = append(acts, c.event(omx.EventCmdComplete, uint32(omx.CommandPortDisable), p.def.PortIndex, nil))
		case p.enabling && (c.state == omx.StateLoaded || c.state == omx.StateWaitForResources || p.populated()):
			p.enabling = false
			if p.supplies() && c.state == omx.StateExecuting {
				acts = append(acts, c.circulatePort(p)...)
			}
			acts = append(acts, c.event(omx.EventCmdComplete, uint32(omx.CommandPortEnable), p.def.PortIndex, nil))
		}
	}
	return acts
}

// returnAll hands every queued buffer of p back to its owner. Supplied
// buffers go home instead.
func (c *Component) returnAll(p *port) []action {
	var acts []action
	bufs := p.queue
	p.queue = nil
	for _, b := range bufs {
		if p.supplies() {
			p.home = append(p.home, b)
			continue
		}
		acts = append(acts, c.giveBack(p, b))
	}
	return acts
}

// giveBack returns b through the client callback or, when tunneled, to the
// peer port.
func (c *Component) giveBack(p *port, b *omx.BufferHeader) action {
	if p.def.Dir == omx.DirInput {
		if t := p.tunnel; t != nil {
			return c.toPeer(p, b, t.peer.FillThisBuffer)
		}
		return func() {
			if c.cb != nil {
				_ = c.cb.EmptyBufferDone(c, b)
			}
		}
	}
	if t := p.tunnel; t != nil {
		return c.toPeer(p, b, t.peer.EmptyThisBuffer)
	}
	return func() {
		if c.cb != nil {
			_ = c.cb.FillBufferDone(c, b)
		}
	}
}

// toPeer passes a tunnel buffer to the peer. A supplier parks a refused
// buffer at home; a non-supplier has nowhere to keep it and lets it go.
func (c *Component) toPeer(p *port, b *omx.BufferHeader, call func(*omx.BufferHeader) error) action {
	return func() {
		if err := call(b); err != nil {
			logging.LogDebug(logging.ComponentTTC, "peer refused buffer", "name", c.cfg.Name,
				"port", p.def.PortIndex, "err", err)
			c.mu.Lock()
			if p.supplies() && p.buffers[b] {
				p.home = append(p.home, b)
			}
			c.mu.Unlock()
			c.signal()
		}
	}
}

func (c *Component) String() string {
	return fmt.Sprintf("%s(%p)", c.cfg.Name, c)
}
