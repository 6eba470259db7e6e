package tlb

import (
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/sim/hooking"
)

// FlushKind tells what a flush invalidated.
type FlushKind uint8

// The flush kinds.
const (
	FlushKindAll FlushKind = iota
	FlushKindModes
	FlushKindPage
	FlushKindWrite
)

func (k FlushKind) String() string {
	switch k {
	case FlushKindAll:
		return "all"
	case FlushKindModes:
		return "modes"
	case FlushKindPage:
		return "page"
	case FlushKindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// FlushInfo describes one flush. It is the item of HookPosFlush.
type FlushInfo struct {
	Kind  FlushKind
	Addr  uint64
	Modes []vm.Mode
}

// A FlushReq asks the TLB to invalidate entries at its owner's next safe
// point. An empty Modes list means every mode.
type FlushReq struct {
	All       bool
	WriteOnly bool
	VAddrs    []uint64
	Modes     []vm.Mode
}

// FlushAll invalidates every slot of every mode. Owner thread only.
func (t *TLB) FlushAll() {
	t.fillLock.Lock()
	t.reset()
	t.fillLock.Unlock()

	t.traceFlush(FlushInfo{Kind: FlushKindAll})
}

// FlushModes invalidates every slot of the given modes. Owner thread only.
func (t *TLB) FlushModes(modes ...vm.Mode) {
	t.fillLock.Lock()
	for _, m := range modes {
		for i := range t.tables[m] {
			t.tables[m][i].reset()
		}
	}
	t.fillLock.Unlock()

	t.traceFlush(FlushInfo{Kind: FlushKindModes, Modes: modes})
}

// FlushPage invalidates the translation of the page holding addr in every
// mode. Owner thread only.
func (t *TLB) FlushPage(addr uint64) {
	t.FlushPageModes(addr, t.allModes()...)
}

// FlushPageModes invalidates the translation of the page holding addr in the
// given modes. Owner thread only.
func (t *TLB) FlushPageModes(addr uint64, modes ...vm.Mode) {
	vaddr := addr & t.pageMask

	t.fillLock.Lock()
	for _, m := range modes {
		e := t.Entry(m, addr)
		if t.describes(e, vaddr) {
			e.reset()
		}
	}
	t.fillLock.Unlock()

	t.traceFlush(FlushInfo{Kind: FlushKindPage, Addr: vaddr, Modes: modes})
}

// InvalidateWrite revokes the cached write permission of the page holding
// addr in every mode, leaving read and fetch translations alone. It may be
// called from any thread. With atomic tags the revocation is visible to the
// next store on the owning thread; otherwise it is queued until the owner's
// next safe point.
func (t *TLB) InvalidateWrite(addr uint64) {
	if !t.atomicTags {
		t.Queue(FlushReq{WriteOnly: true, VAddrs: []uint64{addr}})
		return
	}

	t.fillLock.Lock()
	t.invalidateWrite(addr, t.allModes())
	t.fillLock.Unlock()

	t.traceFlush(FlushInfo{
		Kind:  FlushKindWrite,
		Addr:  addr & t.pageMask,
		Modes: t.allModes(),
	})
}

func (t *TLB) invalidateWrite(addr uint64, modes []vm.Mode) {
	vaddr := addr & t.pageMask
	mask := t.pageMask | FlagInvalid

	for _, m := range modes {
		e := t.Entry(m, addr)
		if e.addrWrite.Load()&mask == vaddr {
			e.addrWrite.Store(InvalidTag)
		}
	}
}

// QueueFlushAll asks for a full flush at the owner's next safe point. It may
// be called from any thread.
func (t *TLB) QueueFlushAll() {
	t.Queue(FlushReq{All: true})
}

// QueueFlushPage asks for a page flush at the owner's next safe point. It may
// be called from any thread.
func (t *TLB) QueueFlushPage(addr uint64, modes ...vm.Mode) {
	t.Queue(FlushReq{VAddrs: []uint64{addr}, Modes: modes})
}

// Queue records a flush request for the owner's next safe point.
func (t *TLB) Queue(req FlushReq) {
	t.queueLock.Lock()
	t.pending = append(t.pending, req)
	t.hasPending.Store(true)
	t.queueLock.Unlock()
}

// Pending returns the number of queued flush requests.
func (t *TLB) Pending() int {
	t.queueLock.Lock()
	defer t.queueLock.Unlock()

	return len(t.pending)
}

// SafePoint applies the queued flush requests. It must be called by the
// owning thread between guest accesses. It reports whether anything was
// applied.
func (t *TLB) SafePoint() bool {
	if !t.hasPending.Load() {
		return false
	}

	t.queueLock.Lock()
	reqs := t.pending
	t.pending = nil
	t.hasPending.Store(false)
	t.queueLock.Unlock()

	for _, req := range reqs {
		t.handleFlushReq(req)
	}

	return len(reqs) > 0
}

func (t *TLB) handleFlushReq(req FlushReq) {
	modes := req.Modes
	if len(modes) == 0 {
		modes = t.allModes()
	}

	switch {
	case req.All && len(req.Modes) == 0:
		t.FlushAll()
	case req.All:
		t.FlushModes(modes...)
	case req.WriteOnly:
		for _, vAddr := range req.VAddrs {
			t.fillLock.Lock()
			t.invalidateWrite(vAddr, modes)
			t.fillLock.Unlock()

			t.traceFlush(FlushInfo{
				Kind:  FlushKindWrite,
				Addr:  vAddr & t.pageMask,
				Modes: modes,
			})
		}
	default:
		for _, vAddr := range req.VAddrs {
			t.FlushPageModes(vAddr, modes...)
		}
	}
}

func (t *TLB) allModes() []vm.Mode {
	modes := make([]vm.Mode, len(t.tables))
	for i := range modes {
		modes[i] = vm.Mode(i)
	}

	return modes
}

func (t *TLB) traceFlush(info FlushInfo) {
	if t.NumHooks() == 0 {
		return
	}

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosFlush,
		Item:   info,
	})
}
