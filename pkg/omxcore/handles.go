package omxcore

import "sync"

// handleTable hands out opaque non-zero integers for Go values that native
// code carries around (pAppData, pMarkData) but must never dereference.
type handleTable struct {
	mu   sync.Mutex
	next uintptr
	m    map[uintptr]any
}

func (t *handleTable) register(v any) uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = map[uintptr]any{}
	}
	t.next++
	t.m[t.next] = v
	return t.next
}

func (t *handleTable) lookup(h uintptr) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[h]
}

func (t *handleTable) unregister(h uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, h)
}
