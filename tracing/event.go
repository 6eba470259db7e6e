// Package tracing provides hooks that observe the translation cache and the
// slow path.
package tracing

import (
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/slowpath"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/sim/hooking"
)

// Event names.
const (
	EventRefill  = "refill"
	EventEvict   = "evict"
	EventFlush   = "flush"
	EventIORead  = "io-read"
	EventIOWrite = "io-write"
	EventFault   = "fault"
)

// A NamedHookable is a hookable object with a name.
type NamedHookable interface {
	hooking.Hookable
	Name() string
}

// An Event is the flat description of one hook invocation.
type Event struct {
	Where  string
	What   string
	Mode   vm.Mode
	Addr   uint64
	Detail string
}

// ToEvent turns a hook invocation into an Event. The bool is false for
// items that are not translation events.
func ToEvent(ctx hooking.HookCtx) (Event, bool) {
	e := Event{}
	if named, ok := ctx.Domain.(NamedHookable); ok {
		e.Where = named.Name()
	}

	switch item := ctx.Item.(type) {
	case tlb.RefillInfo:
		e.What = EventRefill
		if item.Evicted {
			e.What = EventEvict
		}

		e.Mode = item.Mode
		e.Addr = item.Addr
		e.Detail = fmt.Sprintf("slot=%d perm=%s io=%t",
			item.Index, item.Page.Perm, item.Page.IO)
	case tlb.FlushInfo:
		e.What = EventFlush
		e.Addr = item.Addr
		e.Detail = fmt.Sprintf("kind=%s modes=%v", item.Kind, item.Modes)
	case slowpath.IOAccess:
		e.What = EventIORead
		if item.Write {
			e.What = EventIOWrite
		}

		e.Mode = item.Mode
		e.Addr = item.Addr
		e.Detail = fmt.Sprintf("paddr=0x%x size=%d value=0x%x",
			item.PAddr, item.Size, item.Value)
	case *vm.PageFault:
		e.What = EventFault
		e.Mode = item.Mode
		e.Addr = item.Addr
		e.Detail = fmt.Sprintf("%s: %s", item.Kind, item.Reason)
	default:
		return Event{}, false
	}

	return e, true
}
