package ldst

import (
	"encoding/binary"

	"github.com/sarchlab/softmmu/mem/vm"
)

// A Translator resolves guest addresses to host addresses. Both the
// translation cache and the direct map implement it.
type Translator interface {
	Translate(
		mode vm.Mode,
		addr uint64,
		kind vm.AccessKind,
		size uint64,
	) vm.Translation
}

// A SlowPath completes the accesses that the translator cannot serve
// directly: misses, I/O pages, dirty tracking and page-crossing accesses.
// Loads return the raw, zero-extended value.
type SlowPath interface {
	Load(
		mode vm.Mode,
		addr uint64,
		op vm.MemOp,
		kind vm.AccessKind,
	) (uint64, error)
	Store(mode vm.Mode, addr uint64, op vm.MemOp, value uint64) error
	Prefetch(mode vm.Mode, addr uint64)
}

// A ModeSelector tells the current privilege mode of the guest, separately
// for data accesses and instruction fetches.
type ModeSelector interface {
	CurrentMode(fetch bool) vm.Mode
}

// HostMemory reads and writes host RAM.
type HostMemory interface {
	Load(h vm.HostAddr, op vm.MemOp, order binary.ByteOrder) uint64
	Store(h vm.HostAddr, op vm.MemOp, order binary.ByteOrder, v uint64)
}
