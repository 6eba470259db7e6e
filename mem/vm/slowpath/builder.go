package slowpath

import (
	"encoding/binary"

	"github.com/sarchlab/softmmu/mem/vm"
)

// A Builder can build slow paths.
type Builder struct {
	cache       Cache
	pageTable   vm.PageTable
	mem         Memory
	io          IO
	bigEndian   bool
	pageSize    uint64
	onCodeWrite CodeWriteFunc
}

// MakeBuilder returns a Builder for a little-endian guest with 4 KiB pages.
func MakeBuilder() Builder {
	return Builder{pageSize: 4096}
}

// WithCache sets the translation cache to refill. The page size follows the
// cache.
func (b Builder) WithCache(c Cache) Builder {
	b.cache = c
	b.pageSize = c.PageSize()

	return b
}

// WithPageTable sets the page table to walk.
func (b Builder) WithPageTable(pt vm.PageTable) Builder {
	b.pageTable = pt
	return b
}

// WithHostMemory sets the host RAM backing RAM pages.
func (b Builder) WithHostMemory(m Memory) Builder {
	b.mem = m
	return b
}

// WithIO sets the dispatcher of device pages.
func (b Builder) WithIO(io IO) Builder {
	b.io = io
	return b
}

// WithBigEndian sets the guest byte order.
func (b Builder) WithBigEndian(bigEndian bool) Builder {
	b.bigEndian = bigEndian
	return b
}

// WithPageSize sets the guest page size when there is no cache.
func (b Builder) WithPageSize(pageSize uint64) Builder {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		panic("page size must be a power of 2")
	}

	b.pageSize = pageSize

	return b
}

// WithOnCodeWrite sets the function called on the first write to a
// dirty-tracked page.
func (b Builder) WithOnCodeWrite(f CodeWriteFunc) Builder {
	b.onCodeWrite = f
	return b
}

// Build creates the slow path.
func (b Builder) Build(name string) *SlowPath {
	if b.pageTable == nil {
		panic("page table is not set")
	}

	if b.mem == nil {
		panic("host memory is not set")
	}

	s := &SlowPath{
		name:        name,
		cache:       b.cache,
		pageTable:   b.pageTable,
		mem:         b.mem,
		io:          b.io,
		order:       binary.LittleEndian,
		pageSize:    b.pageSize,
		onCodeWrite: b.onCodeWrite,
	}

	if b.bigEndian {
		s.order = binary.BigEndian
	}

	if s.io == nil {
		s.io = noIO{}
	}

	return s
}
