// Package slowpath completes the guest accesses that the translation cache
// cannot serve directly. It walks the page table, refills the cache, performs
// device accesses and keeps the dirty state of tracked pages.
package slowpath

import (
	"encoding/binary"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/sim/hooking"
)

// HookPosIOAccess is triggered after a device access. The item is an
// IOAccess.
var HookPosIOAccess = &hooking.HookPos{Name: "IOAccess"}

// HookPosPageFault is triggered when an access faults. The item is the
// *vm.PageFault.
var HookPosPageFault = &hooking.HookPos{Name: "PageFault"}

// IOAccess describes one device access.
type IOAccess struct {
	Mode  vm.Mode
	Addr  uint64
	PAddr uint64
	Size  uint64
	Write bool
	Value uint64
}

// A SlowPath serves misses, device pages, dirty tracking and page-crossing
// accesses. It runs on the thread that owns the cache.
type SlowPath struct {
	hooking.HookableBase

	name        string
	cache       Cache
	pageTable   vm.PageTable
	mem         Memory
	io          IO
	order       binary.ByteOrder
	pageSize    uint64
	onCodeWrite CodeWriteFunc
}

// Name returns the name of the slow path.
func (s *SlowPath) Name() string {
	return s.name
}

// Load reads a raw, zero-extended value.
func (s *SlowPath) Load(
	mode vm.Mode,
	addr uint64,
	op vm.MemOp,
	kind vm.AccessKind,
) (uint64, error) {
	size := op.Size()
	if s.crossesPage(addr, size) {
		return s.loadSplit(mode, addr, size, kind)
	}

	page, err := s.walk(mode, addr, kind)
	if err != nil {
		return 0, err
	}

	s.refill(mode, addr, kind, page)

	offset := addr - page.VAddr
	if page.IO {
		return s.ioRead(mode, addr, page.PAddr+offset, size)
	}

	return s.mem.Load(page.Host+vm.HostAddr(offset), op, s.order), nil
}

func (s *SlowPath) loadSplit(
	mode vm.Mode,
	addr, size uint64,
	kind vm.AccessKind,
) (uint64, error) {
	var v uint64

	for i := uint64(0); i < size; i++ {
		b, err := s.Load(mode, addr+i, vm.MOUB, kind)
		if err != nil {
			return 0, err
		}

		if s.order == binary.BigEndian {
			v = v<<8 | b
		} else {
			v |= b << (8 * i)
		}
	}

	return v, nil
}

// Store writes the low bits of value.
func (s *SlowPath) Store(
	mode vm.Mode,
	addr uint64,
	op vm.MemOp,
	value uint64,
) error {
	size := op.Size()
	if s.crossesPage(addr, size) {
		return s.storeSplit(mode, addr, size, value)
	}

	page, err := s.walk(mode, addr, vm.AccessWrite)
	if err != nil {
		return err
	}

	if page.TrackDirty && !page.Dirty {
		page = s.markDirty(mode, addr, page)
	} else {
		s.refill(mode, addr, vm.AccessWrite, page)
	}

	offset := addr - page.VAddr
	if page.IO {
		return s.ioWrite(mode, addr, page.PAddr+offset, size, value)
	}

	s.mem.Store(page.Host+vm.HostAddr(offset), op, s.order, value)

	return nil
}

// storeSplit checks both pages before writing any byte, so that a faulting
// store leaves memory unchanged.
func (s *SlowPath) storeSplit(
	mode vm.Mode,
	addr, size, value uint64,
) error {
	if _, err := s.walk(mode, addr, vm.AccessWrite); err != nil {
		return err
	}

	if _, err := s.walk(mode, addr+size-1, vm.AccessWrite); err != nil {
		return err
	}

	for i := uint64(0); i < size; i++ {
		shift := 8 * i
		if s.order == binary.BigEndian {
			shift = 8 * (size - 1 - i)
		}

		err := s.Store(mode, addr+i, vm.MOUB, value>>shift)
		if err != nil {
			return err
		}
	}

	return nil
}

// Prefetch refills the translation of addr if the page is readable. It never
// faults and never accesses devices.
func (s *SlowPath) Prefetch(mode vm.Mode, addr uint64) {
	page, found := s.pageTable.Find(mode, addr)
	if !found || !page.Perm.Allows(vm.AccessPrefetch) {
		return
	}

	s.refill(mode, addr, vm.AccessPrefetch, page)
}

func (s *SlowPath) crossesPage(addr, size uint64) bool {
	return addr&(s.pageSize-1)+size > s.pageSize
}

func (s *SlowPath) walk(
	mode vm.Mode,
	addr uint64,
	kind vm.AccessKind,
) (vm.Page, error) {
	page, found := s.pageTable.Find(mode, addr)
	if !found {
		return vm.Page{}, s.fault(mode, addr, kind, "page not mapped")
	}

	if !page.Perm.Allows(kind) {
		return vm.Page{}, s.fault(mode, addr, kind,
			"page is "+page.Perm.String())
	}

	return page, nil
}

func (s *SlowPath) fault(
	mode vm.Mode,
	addr uint64,
	kind vm.AccessKind,
	reason string,
) *vm.PageFault {
	f := &vm.PageFault{Mode: mode, Addr: addr, Kind: kind, Reason: reason}

	if s.NumHooks() > 0 {
		s.InvokeHook(hooking.HookCtx{
			Domain: s,
			Pos:    HookPosPageFault,
			Item:   f,
		})
	}

	return f
}

// refill installs the page unless the cache already describes it for kind.
func (s *SlowPath) refill(
	mode vm.Mode,
	addr uint64,
	kind vm.AccessKind,
	page vm.Page,
) {
	if s.cache == nil {
		return
	}

	if s.cache.Translate(mode, addr, kind, 1).Outcome != vm.Miss {
		return
	}

	s.cache.Fill(mode, addr, page)
}

func (s *SlowPath) markDirty(mode vm.Mode, addr uint64, page vm.Page) vm.Page {
	page.Dirty = true
	s.pageTable.Update(page)

	if s.cache != nil {
		s.cache.Fill(mode, addr, page)
	}

	if s.onCodeWrite != nil {
		s.onCodeWrite(mode, addr, page)
	}

	return page
}

func (s *SlowPath) ioRead(
	mode vm.Mode,
	addr, pAddr, size uint64,
) (uint64, error) {
	v, err := s.io.Read(pAddr, size)
	if err != nil {
		return 0, err
	}

	s.traceIO(IOAccess{
		Mode: mode, Addr: addr, PAddr: pAddr, Size: size, Value: v,
	})

	return v, nil
}

func (s *SlowPath) ioWrite(
	mode vm.Mode,
	addr, pAddr, size, value uint64,
) error {
	if err := s.io.Write(pAddr, size, value); err != nil {
		return err
	}

	s.traceIO(IOAccess{
		Mode: mode, Addr: addr, PAddr: pAddr, Size: size,
		Write: true, Value: value,
	})

	return nil
}

func (s *SlowPath) traceIO(access IOAccess) {
	if s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosIOAccess,
		Item:   access,
	})
}
