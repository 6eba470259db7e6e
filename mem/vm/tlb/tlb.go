// Package tlb implements the software translation cache: one direct-mapped
// table of entries per privilege mode, caching guest-page to host-address
// mappings for reads, writes and instruction fetches.
package tlb

import (
	"sync"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/sim/hooking"
)

// HookPosRefill is triggered after the slow path refills a slot. The item is
// a RefillInfo.
var HookPosRefill = &hooking.HookPos{Name: "TLBRefill"}

// HookPosFlush is triggered after entries are invalidated. The item is a
// FlushInfo.
var HookPosFlush = &hooking.HookPos{Name: "TLBFlush"}

// RefillInfo describes one refill.
type RefillInfo struct {
	Mode  vm.Mode
	Addr  uint64
	Index uint64
	Page  vm.Page

	// Evicted is set when the slot held a different page before.
	Evicted bool
}

// TLB is the per-context translation cache. Table geometry is fixed when it
// is built.
type TLB struct {
	hooking.HookableBase

	name         string
	log2PageSize uint64
	pageSize     uint64
	pageMask     uint64
	indexMask    uint64
	atomicTags   bool

	tables [][]Entry

	// fillLock serializes refills and flushes with cross-thread write
	// invalidation. Lookups never take it.
	fillLock sync.Mutex

	queueLock  sync.Mutex
	pending    []FlushReq
	hasPending atomic.Bool
}

// Name returns the name of the TLB.
func (t *TLB) Name() string {
	return t.name
}

// NumModes returns the number of per-mode tables.
func (t *TLB) NumModes() int {
	return len(t.tables)
}

// NumEntries returns the number of slots of each table.
func (t *TLB) NumEntries() uint64 {
	return t.indexMask + 1
}

// PageSize returns the guest page size the TLB works with.
func (t *TLB) PageSize() uint64 {
	return t.pageSize
}

// Index returns the slot that may hold the translation of addr.
func (t *TLB) Index(addr uint64) uint64 {
	return (addr >> t.log2PageSize) & t.indexMask
}

// Entry returns the slot of the mode's table that may hold the translation of
// addr.
func (t *TLB) Entry(mode vm.Mode, addr uint64) *Entry {
	return &t.tables[mode][t.Index(addr)]
}

// Translate looks up addr for an access of size bytes. A Hit carries the host
// address; a HitIO carries the flag bits of an entry that matches but cannot
// be accessed directly; a Miss means the slot describes another page or the
// access runs past the end of the page.
func (t *TLB) Translate(
	mode vm.Mode,
	addr uint64,
	kind vm.AccessKind,
	size uint64,
) vm.Translation {
	e := &t.tables[mode][(addr>>t.log2PageSize)&t.indexMask]
	tag := e.tag(kind)
	page := addr & t.pageMask

	if tag == page {
		if addr&^t.pageMask+size > t.pageSize {
			return vm.Translation{}
		}

		return vm.Translation{
			Outcome: vm.Hit,
			Host:    vm.HostAddr(addr + e.addend),
		}
	}

	if tag&(t.pageMask|FlagInvalid) == page {
		return vm.Translation{Outcome: vm.HitIO, Flags: tag & flagMask}
	}

	return vm.Translation{}
}

// HostPointer returns the host address of addr if the TLB already holds a
// plain RAM translation for it. It never refills. I/O-tagged entries and
// misses both report false.
func (t *TLB) HostPointer(
	mode vm.Mode,
	addr uint64,
	kind vm.AccessKind,
) (vm.HostAddr, bool) {
	tr := t.Translate(mode, addr, kind, 1)
	if tr.Outcome != vm.Hit {
		return 0, false
	}

	return tr.Host, true
}

// Fill installs the translation of page into the slot for addr. All three
// tags are derived from the page permissions and describe the same page. It
// is called by the slow path on the owning thread.
func (t *TLB) Fill(mode vm.Mode, addr uint64, page vm.Page) {
	vaddr := addr & t.pageMask
	index := t.Index(addr)

	flags := uint64(0)
	if page.IO {
		flags |= FlagMMIO
	}

	read := InvalidTag
	if page.Perm&vm.PermRead != 0 {
		read = vaddr | flags
	}

	write := InvalidTag
	if page.Perm&vm.PermWrite != 0 {
		write = vaddr | flags
		if page.TrackDirty && !page.Dirty {
			write |= FlagNotDirty
		}
	}

	code := InvalidTag
	if page.Perm&vm.PermExec != 0 {
		code = vaddr | flags
	}

	addend := uint64(0)
	if !page.IO {
		addend = uint64(page.Host) - vaddr
	}

	t.fillLock.Lock()
	e := &t.tables[mode][index]
	evicted := e.snapshot(index).Valid() && !t.describes(e, vaddr)
	e.addrRead = read
	e.addrCode = code
	e.addend = addend
	e.addrWrite.Store(write)
	t.fillLock.Unlock()

	if t.NumHooks() > 0 {
		t.InvokeHook(hooking.HookCtx{
			Domain: t,
			Pos:    HookPosRefill,
			Item: RefillInfo{
				Mode:    mode,
				Addr:    addr,
				Index:   index,
				Page:    page,
				Evicted: evicted,
			},
		})
	}
}

// Snapshot copies the valid entries of a mode's table. It reads fields owned
// by the owning thread, so it must run on that thread or while it is parked.
func (t *TLB) Snapshot(mode vm.Mode) []EntrySnapshot {
	var entries []EntrySnapshot

	for i := range t.tables[mode] {
		s := t.tables[mode][i].snapshot(uint64(i))
		if s.Valid() {
			entries = append(entries, s)
		}
	}

	return entries
}

// describes reports whether any tag of e matches the page at vaddr.
func (t *TLB) describes(e *Entry, vaddr uint64) bool {
	mask := t.pageMask | FlagInvalid

	return e.addrRead&mask == vaddr ||
		e.addrWrite.Load()&mask == vaddr ||
		e.addrCode&mask == vaddr
}

func (t *TLB) reset() {
	for m := range t.tables {
		for i := range t.tables[m] {
			t.tables[m][i].reset()
		}
	}
}
