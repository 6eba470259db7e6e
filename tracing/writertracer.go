package tracing

import (
	"fmt"
	"io"
	"sync"

	"github.com/sarchlab/softmmu/sim/hooking"
)

// A WriterTracer writes one comma-separated line per event.
type WriterTracer struct {
	lock   sync.Mutex
	writer io.Writer
	seq    uint64
}

// NewWriterTracer produces a new WriterTracer, injecting the dependency of a
// writer.
func NewWriterTracer(w io.Writer) *WriterTracer {
	return &WriterTracer{writer: w}
}

// Func prints the event.
func (t *WriterTracer) Func(ctx hooking.HookCtx) {
	e, ok := ToEvent(ctx)
	if !ok {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.seq++

	_, err := fmt.Fprintf(t.writer,
		"%d,%s,%s,%d,0x%x,%s\n",
		t.seq, e.Where, e.What, e.Mode, e.Addr, e.Detail)
	if err != nil {
		panic(err)
	}
}
