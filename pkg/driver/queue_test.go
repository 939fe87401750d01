package driver

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisarmstrong/omxconf/pkg/omx"
)

func headers(n int) []*omx.BufferHeader {
	out := make([]*omx.BufferHeader, n)
	for i := range out {
		out[i] = &omx.BufferHeader{TickCount: uint32(i)}
	}
	return out
}

func ticks(bufs []*omx.BufferHeader) []uint32 {
	out := make([]uint32, len(bufs))
	for i, b := range bufs {
		out[i] = b.TickCount
	}
	return out
}

func TestQueueOrder(t *testing.T) {
	tests := []struct {
		order QueueOrder
		want  []uint32
	}{
		{FIFO, []uint32{0, 1, 2, 3}},
		{LIFO, []uint32{3, 2, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			q := NewBufferQueue(tt.order)
			for _, b := range headers(4) {
				q.Push(b)
			}
			if diff := cmp.Diff(tt.want, ticks(q.Snapshot())); diff != "" {
				t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
			}
			var popped []*omx.BufferHeader
			for b := q.Pop(); b != nil; b = q.Pop() {
				popped = append(popped, b)
			}
			if diff := cmp.Diff(tt.want, ticks(popped)); diff != "" {
				t.Errorf("pop order mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, 0, q.Len())
		})
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewBufferQueue(FIFO)
	bufs := headers(3)
	for _, b := range bufs {
		q.Push(b)
	}
	assert.True(t, q.Remove(bufs[1]))
	assert.False(t, q.Remove(bufs[1]))
	assert.False(t, q.Contains(bufs[1]))
	assert.True(t, q.Contains(bufs[2]))
	assert.Equal(t, []uint32{0, 2}, ticks(q.Snapshot()))
}

func TestParseQueueOrder(t *testing.T) {
	o, err := ParseQueueOrder("lifo")
	require.NoError(t, err)
	assert.Equal(t, LIFO, o)
	o, err = ParseQueueOrder("")
	require.NoError(t, err)
	assert.Equal(t, FIFO, o)
	_, err = ParseQueueOrder("random")
	assert.Error(t, err)

	m, err := ParseAllocMode("use")
	require.NoError(t, err)
	assert.Equal(t, AllocClient, m)
	_, err = ParseAllocMode("steal")
	assert.Error(t, err)
}

func TestCleanupFirstErrorWins(t *testing.T) {
	var cl Cleanup
	var order []string
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	cl.Defer("a", func() error { order = append(order, "a"); return errA })
	cl.Defer("b", func() error { order = append(order, "b"); return errB })
	cl.Defer("c", func() error { order = append(order, "c"); return nil })

	err := cl.Finish(nil)
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.ErrorIs(t, err, errB)
}

func TestCleanupKeepsScenarioError(t *testing.T) {
	var cl Cleanup
	scenarioErr := errors.New("scenario failed")
	ran := false
	cl.Defer("step", func() error { ran = true; return errors.New("cleanup failed") })

	err := cl.Finish(scenarioErr)
	assert.True(t, ran)
	assert.ErrorIs(t, err, scenarioErr)
}

func TestExpectError(t *testing.T) {
	assert.NoError(t, ExpectError("op", omx.ErrorBadPortIndex, omx.ErrorBadPortIndex))
	assert.NoError(t, ExpectError("op", nil, omx.ErrorNone))

	err := ExpectError("op", nil, omx.ErrorBadPortIndex)
	var m *MismatchError
	require.ErrorAs(t, err, &m)
	assert.Equal(t, omx.ErrorNone, m.Got)
	assert.Contains(t, err.Error(), "expected")

	err = ExpectError("op", omx.ErrorSameState, omx.ErrorIncorrectStateTransition)
	assert.ErrorIs(t, err, omx.ErrorSameState)
}

func TestPatternSource(t *testing.T) {
	src := NewPatternSource(5)
	buf := make([]byte, 8)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, buf[:n])
	_, err = src.Read(buf)
	assert.Error(t, err)
	require.NoError(t, src.Rewind())
	n, _ = src.Read(buf)
	assert.Equal(t, 5, n)
}
