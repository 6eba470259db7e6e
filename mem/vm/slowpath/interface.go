package slowpath

import (
	"encoding/binary"

	"github.com/sarchlab/softmmu/mem/vm"
)

// A Cache is the translation cache the slow path refills.
type Cache interface {
	Translate(
		mode vm.Mode,
		addr uint64,
		kind vm.AccessKind,
		size uint64,
	) vm.Translation
	Fill(mode vm.Mode, addr uint64, page vm.Page)
	PageSize() uint64
}

// Memory reads and writes host RAM.
type Memory interface {
	Load(h vm.HostAddr, op vm.MemOp, order binary.ByteOrder) uint64
	Store(h vm.HostAddr, op vm.MemOp, order binary.ByteOrder, v uint64)
}

// IO serves accesses to device-backed pages. Addresses are device addresses.
type IO interface {
	Read(addr, size uint64) (uint64, error)
	Write(addr, size, value uint64) error
}

// CodeWriteFunc is called on the first write to a dirty-tracked page.
type CodeWriteFunc func(mode vm.Mode, addr uint64, page vm.Page)
