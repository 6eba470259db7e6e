package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/softmmu/sim/hooking"
)

// CountTracer counts events by name. It can be attached to several domains
// and is safe for concurrent use.
type CountTracer struct {
	lock   sync.Mutex
	counts map[string]uint64
}

// NewCountTracer creates a new CountTracer.
func NewCountTracer() *CountTracer {
	return &CountTracer{counts: make(map[string]uint64)}
}

// Func counts the event.
func (t *CountTracer) Func(ctx hooking.HookCtx) {
	e, ok := ToEvent(ctx)
	if !ok {
		return
	}

	t.lock.Lock()
	t.counts[e.What]++
	t.lock.Unlock()
}

// Count returns the number of events with the given name.
func (t *CountTracer) Count(what string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[what]
}

// Names returns the names of the events seen, sorted.
func (t *CountTracer) Names() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	names := make([]string, 0, len(t.counts))
	for name := range t.counts {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Reset forgets all counts.
func (t *CountTracer) Reset() {
	t.lock.Lock()
	t.counts = make(map[string]uint64)
	t.lock.Unlock()
}
