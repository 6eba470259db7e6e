package tlb

import (
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm"
)

// A Builder can build TLBs.
type Builder struct {
	log2PageSize   uint64
	log2NumEntries uint64
	numModes       int
	atomicTags     bool
}

// MakeBuilder returns a Builder with 4 KiB pages, 256 slots and one mode.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize:   12,
		log2NumEntries: 8,
		numModes:       1,
		atomicTags:     true,
	}
}

// WithLog2PageSize sets the page size as a power of 2.
func (b Builder) WithLog2PageSize(n uint64) Builder {
	b.log2PageSize = n
	return b
}

// WithLog2NumEntries sets the number of slots of each mode table as a power
// of 2.
func (b Builder) WithLog2NumEntries(n uint64) Builder {
	b.log2NumEntries = n
	return b
}

// WithNumModes sets the number of per-mode tables.
func (b Builder) WithNumModes(n int) Builder {
	b.numModes = n
	return b
}

// WithAtomicTags sets whether write tags can be invalidated in place from
// other threads.
func (b Builder) WithAtomicTags(atomicTags bool) Builder {
	b.atomicTags = atomicTags
	return b
}

// WithConfig copies the table geometry from a guest configuration.
func (b Builder) WithConfig(c vm.Config) Builder {
	b.log2PageSize = c.Log2PageSize
	b.log2NumEntries = c.Log2TableSize
	b.numModes = c.NumModes
	b.atomicTags = c.AtomicTags

	return b
}

// Build creates a new TLB with every slot empty.
func (b Builder) Build(name string) *TLB {
	b.mustBeValid()

	pageSize := uint64(1) << b.log2PageSize
	numEntries := uint64(1) << b.log2NumEntries

	t := &TLB{
		name:         name,
		log2PageSize: b.log2PageSize,
		pageSize:     pageSize,
		pageMask:     ^(pageSize - 1),
		indexMask:    numEntries - 1,
		atomicTags:   b.atomicTags,
		tables:       make([][]Entry, b.numModes),
	}

	for m := range t.tables {
		t.tables[m] = make([]Entry, numEntries)
	}

	t.reset()

	return t
}

func (b Builder) mustBeValid() {
	if b.numModes < 1 || b.numModes > vm.MaxModes {
		panic(fmt.Sprintf("number of modes must be in [1, %d], got %d",
			vm.MaxModes, b.numModes))
	}

	if b.log2PageSize < vm.MinLog2PageSize ||
		b.log2PageSize > vm.MaxLog2PageSize {
		panic(fmt.Sprintf("unsupported page size 2^%d", b.log2PageSize))
	}

	if b.log2NumEntries > vm.MaxLog2TableSize {
		panic(fmt.Sprintf("unsupported table size 2^%d", b.log2NumEntries))
	}
}
