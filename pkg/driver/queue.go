package driver

import (
	"fmt"

	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// QueueOrder selects how a port's free list hands buffers back out.
type QueueOrder int

const (
	// FIFO resubmits buffers in the order the component returned them.
	FIFO QueueOrder = iota
	// LIFO resubmits the most recently returned buffer first. The flush
	// scenario uses it to make buffer order visible.
	LIFO
)

func (o QueueOrder) String() string {
	if o == LIFO {
		return "lifo"
	}
	return "fifo"
}

// ParseQueueOrder accepts "fifo" or "lifo".
func ParseQueueOrder(s string) (QueueOrder, error) {
	switch s {
	case "", "fifo":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	}
	return FIFO, fmt.Errorf("unknown queue order %q", s)
}

// BufferQueue is a port's free list: the headers currently owned by the
// client and ready to be resubmitted. It is not synchronized; the registry
// guards it.
type BufferQueue struct {
	order QueueOrder
	items []*omx.BufferHeader
}

// NewBufferQueue returns an empty queue.
func NewBufferQueue(order QueueOrder) *BufferQueue {
	return &BufferQueue{order: order}
}

// Order returns the queue discipline.
func (q *BufferQueue) Order() QueueOrder { return q.order }

// Len returns the number of queued headers.
func (q *BufferQueue) Len() int { return len(q.items) }

// Push appends buf.
func (q *BufferQueue) Push(buf *omx.BufferHeader) {
	q.items = append(q.items, buf)
}

// Pop removes the next header according to the queue order, or nil.
func (q *BufferQueue) Pop() *omx.BufferHeader {
	n := len(q.items)
	if n == 0 {
		return nil
	}
	var buf *omx.BufferHeader
	if q.order == LIFO {
		buf = q.items[n-1]
		q.items[n-1] = nil
		q.items = q.items[:n-1]
		return buf
	}
	buf = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return buf
}

// Remove deletes buf wherever it is and reports whether it was queued.
func (q *BufferQueue) Remove(buf *omx.BufferHeader) bool {
	for i, b := range q.items {
		if b == buf {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether buf is queued.
func (q *BufferQueue) Contains(buf *omx.BufferHeader) bool {
	for _, b := range q.items {
		if b == buf {
			return true
		}
	}
	return false
}

// Snapshot returns the queued headers in pop order.
func (q *BufferQueue) Snapshot() []*omx.BufferHeader {
	out := make([]*omx.BufferHeader, len(q.items))
	if q.order == LIFO {
		for i, b := range q.items {
			out[len(q.items)-1-i] = b
		}
		return out
	}
	copy(out, q.items)
	return out
}
