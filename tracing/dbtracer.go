package tracing

import (
	"fmt"
	"slices"
	"sync"

	"github.com/sarchlab/softmmu/datarecording"
	"github.com/sarchlab/softmmu/sim/hooking"
)

// TableName is the table DBTracer writes to.
const TableName = "tlb_event"

type eventTableEntry struct {
	Seq      uint64
	Context  string
	Location string
	Event    string
	Mode     uint8
	Addr     string
	Detail   string
}

// DBTracer records every event as a row of a DataRecorder table.
type DBTracer struct {
	mu      sync.Mutex
	backend datarecording.DataRecorder
	context string
	seq     uint64
}

// NewDBTracer creates a DBTracer that tags rows with the context name. The
// table is created if the recorder does not have it yet.
func NewDBTracer(
	backend datarecording.DataRecorder,
	context string,
) *DBTracer {
	if !slices.Contains(backend.ListTables(), TableName) {
		backend.CreateTable(TableName, eventTableEntry{})
	}

	return &DBTracer{
		backend: backend,
		context: context,
	}
}

// Func records the event.
func (t *DBTracer) Func(ctx hooking.HookCtx) {
	e, ok := ToEvent(ctx)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.backend.InsertData(TableName, eventTableEntry{
		Seq:      t.seq,
		Context:  t.context,
		Location: e.Where,
		Event:    e.What,
		Mode:     uint8(e.Mode),
		Addr:     fmt.Sprintf("0x%x", e.Addr),
		Detail:   e.Detail,
	})
}
