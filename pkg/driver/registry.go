package driver

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// AllocMode selects who provides buffer memory.
type AllocMode int

const (
	// AllocComponent uses AllocateBuffer: the component owns the memory.
	AllocComponent AllocMode = iota
	// AllocClient uses UseBuffer with memory allocated by the harness.
	AllocClient
)

func (m AllocMode) String() string {
	if m == AllocClient {
		return "use"
	}
	return "allocate"
}

// ParseAllocMode accepts "allocate" or "use".
func ParseAllocMode(s string) (AllocMode, error) {
	switch s {
	case "", "allocate":
		return AllocComponent, nil
	case "use":
		return AllocClient, nil
	}
	return AllocComponent, fmt.Errorf("unknown alloc mode %q", s)
}

// Owner says which side currently holds a buffer header.
type Owner int

const (
	OwnerClient Owner = iota
	OwnerComponent
)

// Port is the driver's view of one component port.
type Port struct {
	Index uint32
	Def   omx.PortDefinition

	// Tunneled ports exchange buffers with a peer, not with the driver.
	Tunneled bool
	Supplier omx.BufferSupplier

	queue       *BufferQueue
	buffers     []*omx.BufferHeader
	outstanding int
	held        int
	processed   int

	source  Source
	sink    io.Writer
	sizes   []uint32
	sizeIdx int
	eosSent bool
}

// IsInput reports whether the port consumes buffers from the client.
func (p *Port) IsInput() bool { return p.Def.Dir == omx.DirInput }

func (p *Port) String() string {
	return fmt.Sprintf("port %d (%s %s)", p.Index, p.Def.Domain, p.Def.Dir)
}

// PortCounts is a consistent snapshot of a port's buffer accounting.
type PortCounts struct {
	Queued      int
	Outstanding int
	Held        int
	Total       int
	Processed   int
}

type bufferRecord struct {
	port  *Port
	owner Owner
	held  bool
}

// Registry holds every port of one component and the ownership of every
// buffer header allocated on them. All methods are safe for concurrent use
// from the driving goroutine and from component callbacks.
type Registry struct {
	mu      sync.Mutex
	order   QueueOrder
	ports   []*Port
	byIndex map[uint32]*Port
	records map[*omx.BufferHeader]*bufferRecord
}

// NewRegistry returns an empty registry whose free lists use order.
func NewRegistry(order QueueOrder) *Registry {
	return &Registry{
		order:   order,
		byIndex: map[uint32]*Port{},
		records: map[*omx.BufferHeader]*bufferRecord{},
	}
}

// Discover queries the four domain Init parameters and the definition of
// every port they announce. A domain answering ErrorUnsupportedIndex has no
// ports. Overlapping index ranges are a protocol violation.
func (r *Registry) Discover(comp omx.Component) error {
	type span struct {
		domain      omx.Domain
		start, stop uint32
	}
	var spans []span
	var found []*Port

	for _, d := range omx.Domains() {
		pp := &omx.PortParam{}
		omx.InitParam(pp)
		err := comp.GetParameter(omx.InitIndex(d), pp)
		if omx.Code(err) == omx.ErrorUnsupportedIndex {
			continue
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", omx.InitIndex(d), err)
		}
		if pp.Ports == 0 {
			continue
		}
		s := span{domain: d, start: pp.StartPortNumber, stop: pp.StartPortNumber + pp.Ports}
		for _, o := range spans {
			if s.start < o.stop && o.start < s.stop {
				return violation("discover ports", "%s ports [%d,%d) overlap %s ports [%d,%d)",
					s.domain, s.start, s.stop, o.domain, o.start, o.stop)
			}
		}
		spans = append(spans, s)

		for idx := s.start; idx < s.stop; idx++ {
			def := omx.NewPortDefinition(idx)
			if err := comp.GetParameter(omx.IndexParamPortDefinition, def); err != nil {
				return fmt.Errorf("get port definition %d: %w", idx, err)
			}
			if def.PortIndex != idx {
				return violation("discover ports", "port definition for %d reports index %d", idx, def.PortIndex)
			}
			if def.Domain != d {
				logging.LogWarn(logging.ComponentRegistry, "port domain differs from Init query",
					"port", idx, "init", d, "definition", def.Domain)
			}
			found = append(found, &Port{Index: idx, Def: *def, queue: NewBufferQueue(r.order)})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Index < found[j].Index })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports = found
	r.byIndex = make(map[uint32]*Port, len(found))
	for _, p := range found {
		r.byIndex[p.Index] = p
		logging.LogInfo(logging.ComponentRegistry, "discovered port",
			"port", p.Index, "dir", p.Def.Dir, "domain", p.Def.Domain,
			"count_min", p.Def.BufferCountMin, "count_actual", p.Def.BufferCountActual, "size", p.Def.BufferSize)
	}
	return nil
}

// Ports returns all discovered ports in index order.
func (r *Registry) Ports() []*Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Port, len(r.ports))
	copy(out, r.ports)
	return out
}

// Port looks up a port by index.
func (r *Registry) Port(index uint32) (*Port, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byIndex[index]
	return p, ok
}

// Resolve expands omx.PortAll to every port and checks a single index.
func (r *Registry) Resolve(index uint32) ([]*Port, error) {
	if index == omx.PortAll {
		return r.Ports(), nil
	}
	p, ok := r.Port(index)
	if !ok {
		return nil, omx.ErrorBadPortIndex
	}
	return []*Port{p}, nil
}

// Inputs returns the input ports.
func (r *Registry) Inputs() []*Port { return r.filter(omx.DirInput) }

// Outputs returns the output ports.
func (r *Registry) Outputs() []*Port { return r.filter(omx.DirOutput) }

func (r *Registry) filter(dir omx.Dir) []*Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Port
	for _, p := range r.ports {
		if p.Def.Dir == dir {
			out = append(out, p)
		}
	}
	return out
}

// BogusIndex returns an index no discovered port uses: the highest index
// plus one.
func (r *Registry) BogusIndex() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max uint32
	for _, p := range r.ports {
		if p.Index+1 > max {
			max = p.Index + 1
		}
	}
	return max
}

// Refresh re-reads the port definition.
func (r *Registry) Refresh(comp omx.Component, p *Port) error {
	def := omx.NewPortDefinition(p.Index)
	if err := comp.GetParameter(omx.IndexParamPortDefinition, def); err != nil {
		return fmt.Errorf("refresh %s: %w", p, err)
	}
	r.mu.Lock()
	p.Def = *def
	r.mu.Unlock()
	return nil
}

// SetBufferCount writes nBufferCountActual for p and re-reads the
// definition.
func (r *Registry) SetBufferCount(comp omx.Component, p *Port, count uint32) error {
	def := omx.NewPortDefinition(p.Index)
	if err := comp.GetParameter(omx.IndexParamPortDefinition, def); err != nil {
		return fmt.Errorf("get %s: %w", p, err)
	}
	def.BufferCountActual = count
	if err := comp.SetParameter(omx.IndexParamPortDefinition, def); err != nil {
		return fmt.Errorf("set buffer count %d on %s: %w", count, p, err)
	}
	return r.Refresh(comp, p)
}

// Definition returns a copy of the last refreshed definition.
func (r *Registry) Definition(p *Port) omx.PortDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return p.Def
}

// Allocate adds count buffers to p using AllocateBuffer or UseBuffer and
// queues them on the free list. Returned headers are checked for size,
// version and port index.
func (r *Registry) Allocate(comp omx.Component, p *Port, count int, mode AllocMode) error {
	def := r.Definition(p)
	for i := 0; i < count; i++ {
		var buf *omx.BufferHeader
		var err error
		if mode == AllocClient {
			buf, err = comp.UseBuffer(p.Index, p, make([]byte, def.BufferSize))
		} else {
			buf, err = comp.AllocateBuffer(p.Index, p, def.BufferSize)
		}
		if err != nil {
			return fmt.Errorf("%s buffer %d on %s: %w", mode, i, p, err)
		}
		if err := checkHeader(buf, p, def); err != nil {
			return err
		}

		r.mu.Lock()
		p.buffers = append(p.buffers, buf)
		p.queue.Push(buf)
		r.records[buf] = &bufferRecord{port: p, owner: OwnerClient}
		r.mu.Unlock()
	}
	logging.LogBuffer(logging.ComponentRegistry, "allocated buffers", "port", p.Index, "count", count, "mode", mode)
	return nil
}

func checkHeader(buf *omx.BufferHeader, p *Port, def omx.PortDefinition) error {
	if buf == nil {
		return violation("allocate", "%s returned a nil header", p)
	}
	if buf.Size != omx.SizeofBufferHeader {
		return violation("allocate", "%s header nSize %d, want %d", p, buf.Size, omx.SizeofBufferHeader)
	}
	if buf.Version.Major != omx.SpecVersion.Major || buf.Version.Minor != omx.SpecVersion.Minor {
		return violation("allocate", "%s header version %d.%d", p, buf.Version.Major, buf.Version.Minor)
	}
	idx := buf.OutputPortIndex
	if def.Dir == omx.DirInput {
		idx = buf.InputPortIndex
	}
	if idx != p.Index {
		return violation("allocate", "%s header carries port index %d", p, idx)
	}
	if buf.AllocLen < def.BufferSize || uint32(len(buf.Data)) < buf.AllocLen {
		return violation("allocate", "%s header alloc length %d (data %d), want at least %d",
			p, buf.AllocLen, len(buf.Data), def.BufferSize)
	}
	return nil
}

// Free pops up to count client-owned buffers from p and frees them.
// ErrorInvalidState and ErrorIncorrectStateOperation are tolerated since
// teardown paths expect them. Every buffer is attempted; the first other
// error is returned.
func (r *Registry) Free(comp omx.Component, p *Port, count int) error {
	var first error
	freed := 0
	for i := 0; i < count; i++ {
		r.mu.Lock()
		buf := p.queue.Pop()
		if buf != nil {
			delete(r.records, buf)
			p.buffers = removeBuffer(p.buffers, buf)
		}
		r.mu.Unlock()
		if buf == nil {
			break
		}

		err := comp.FreeBuffer(p.Index, buf)
		switch omx.Code(err) {
		case omx.ErrorNone:
		case omx.ErrorInvalidState, omx.ErrorIncorrectStateOperation:
			logging.LogInfo(logging.ComponentRegistry, "free buffer tolerated", "port", p.Index, "err", err)
		default:
			if first == nil {
				first = fmt.Errorf("free buffer on %s: %w", p, err)
			}
		}
		freed++
	}
	logging.LogBuffer(logging.ComponentRegistry, "freed buffers", "port", p.Index, "count", freed)
	return first
}

// FreeAll frees every buffer on p. Buffers still held by the component
// cannot be freed and are reported as a violation.
func (r *Registry) FreeAll(comp omx.Component, p *Port) error {
	c := r.Counts(p)
	err := r.Free(comp, p, c.Queued)
	if c.Outstanding > 0 {
		v := violation("free buffers", "%s still has %d buffers with the component", p, c.Outstanding)
		if err == nil {
			err = v
		}
	}
	return err
}

func removeBuffer(list []*omx.BufferHeader, buf *omx.BufferHeader) []*omx.BufferHeader {
	for i, b := range list {
		if b == buf {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Take removes the next buffer from p's free list for the driver to prepare.
// It returns nil when the list is empty.
func (r *Registry) Take(p *Port) *omx.BufferHeader {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := p.queue.Pop()
	if buf == nil {
		return nil
	}
	p.held++
	r.records[buf].held = true
	return buf
}

// Untake puts a buffer obtained from Take back on the free list.
func (r *Registry) Untake(buf *omx.BufferHeader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[buf]
	if !ok || !rec.held {
		return
	}
	rec.held = false
	rec.port.held--
	rec.port.queue.Push(buf)
}

// Submit hands a taken buffer to the component. It must be called before
// EmptyThisBuffer/FillThisBuffer, since the component may return the buffer
// before the call itself returns.
func (r *Registry) Submit(buf *omx.BufferHeader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[buf]
	if !ok {
		return fmt.Errorf("submit: unknown buffer %p", buf)
	}
	if rec.owner == OwnerComponent {
		return fmt.Errorf("submit: buffer %p already in flight on %s", buf, rec.port)
	}
	if !rec.held {
		return fmt.Errorf("submit: buffer %p was not taken from %s", buf, rec.port)
	}
	rec.held = false
	rec.port.held--
	rec.owner = OwnerComponent
	rec.port.outstanding++
	return nil
}

// Reject undoes Submit after the component refused the buffer.
func (r *Registry) Reject(buf *omx.BufferHeader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[buf]
	if !ok || rec.owner != OwnerComponent {
		return
	}
	rec.owner = OwnerClient
	rec.port.outstanding--
	rec.port.queue.Push(buf)
}

// Return is the callback path: the component gives buf back. want is the
// direction the callback implies (EmptyBufferDone → input).
func (r *Registry) Return(buf *omx.BufferHeader, want omx.Dir) (*Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[buf]
	if !ok {
		return nil, violation("buffer done", "unknown buffer header %p", buf)
	}
	p := rec.port
	if rec.owner != OwnerComponent {
		return p, violation("buffer done", "buffer %p on %s returned while owned by the client", buf, p)
	}
	if p.Def.Dir != want {
		return p, violation("buffer done", "%s buffer returned through the %s callback", p, want)
	}
	idx := buf.OutputPortIndex
	if want == omx.DirInput {
		idx = buf.InputPortIndex
	}
	if idx != p.Index {
		return p, violation("buffer done", "buffer from %s carries port index %d", p, idx)
	}
	rec.owner = OwnerClient
	p.outstanding--
	p.processed++
	p.queue.Push(buf)
	return p, nil
}

// Counts returns a snapshot of p's accounting.
func (r *Registry) Counts(p *Port) PortCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return PortCounts{
		Queued:      p.queue.Len(),
		Outstanding: p.outstanding,
		Held:        p.held,
		Total:       len(p.buffers),
		Processed:   p.processed,
	}
}

// QueuedOrder returns the free list in pop order.
func (r *Registry) QueuedOrder(p *Port) []*omx.BufferHeader {
	r.mu.Lock()
	defer r.mu.Unlock()
	return p.queue.Snapshot()
}

// CheckAccounting verifies queued + outstanding + held == total and, when
// buffers are allocated, total == nBufferCountActual.
func (r *Registry) CheckAccounting(p *Port) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := len(p.buffers)
	sum := p.queue.Len() + p.outstanding + p.held
	if sum != total {
		return violation("accounting", "%s queued %d + outstanding %d + held %d != %d",
			p, p.queue.Len(), p.outstanding, p.held, total)
	}
	if total != 0 && uint32(total) != p.Def.BufferCountActual {
		return violation("accounting", "%s holds %d buffers, nBufferCountActual %d", p, total, p.Def.BufferCountActual)
	}
	return nil
}

// SetSource attaches the data source feeding an input port.
func (r *Registry) SetSource(p *Port, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.source = src
}

// SetSink attaches the writer receiving an output port's payload.
func (r *Registry) SetSink(p *Port, w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.sink = w
}

// SetSizes makes input buffers on p carry these fill lengths in turn.
func (r *Registry) SetSizes(p *Port, sizes []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.sizes = append([]uint32(nil), sizes...)
	p.sizeIdx = 0
}

// SetTunneled marks p as connected to a peer.
func (r *Registry) SetTunneled(p *Port, supplier omx.BufferSupplier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Tunneled = true
	p.Supplier = supplier
}
