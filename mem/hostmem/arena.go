// Package hostmem provides the host memory that backs guest RAM.
package hostmem

import (
	"encoding/binary"
	"errors"

	"github.com/sarchlab/softmmu/mem/vm"
)

// ErrOutOfRange is returned when an access falls outside the arena.
var ErrOutOfRange = errors.New("accessing host address beyond the arena")

// ErrArenaFull is returned when an allocation does not fit.
var ErrArenaFull = errors.New("host arena exhausted")

// An Arena is a contiguous block of host memory that starts at a host base
// address. All guest RAM blocks are carved out of it, so a host address turns
// into a slice index with a single subtraction.
type Arena struct {
	base     vm.HostAddr
	capacity uint64
	data     []byte
	next     uint64
}

// New creates an arena that covers [base, base+capacity).
func New(base vm.HostAddr, capacity uint64) *Arena {
	return &Arena{
		base:     base,
		capacity: capacity,
		data:     make([]byte, capacity),
	}
}

// Base returns the host address of the first byte of the arena.
func (a *Arena) Base() vm.HostAddr {
	return a.base
}

// Capacity returns the arena size in bytes.
func (a *Arena) Capacity() uint64 {
	return a.capacity
}

// Alloc reserves size bytes aligned to align (a power of two) and returns the
// host address of the block.
func (a *Arena) Alloc(size, align uint64) (vm.HostAddr, error) {
	if align == 0 || align&(align-1) != 0 {
		panic("alignment must be a power of 2")
	}

	start := (uint64(a.base) + a.next + align - 1) &^ (align - 1)
	offset := start - uint64(a.base)

	if offset+size > a.capacity || offset+size < offset {
		return 0, ErrArenaFull
	}

	a.next = offset + size

	return vm.HostAddr(start), nil
}

// Contains reports whether [h, h+n) lies inside the arena.
func (a *Arena) Contains(h vm.HostAddr, n uint64) bool {
	offset := uint64(h) - uint64(a.base)
	return uint64(h) >= uint64(a.base) &&
		offset+n <= a.capacity &&
		offset+n >= offset
}

// Bytes returns the n bytes at h without copying.
func (a *Arena) Bytes(h vm.HostAddr, n uint64) ([]byte, error) {
	if !a.Contains(h, n) {
		return nil, ErrOutOfRange
	}

	offset := uint64(h) - uint64(a.base)

	return a.data[offset : offset+n : offset+n], nil
}

// Read copies n bytes starting at h.
func (a *Arena) Read(h vm.HostAddr, n uint64) ([]byte, error) {
	b, err := a.Bytes(h, n)
	if err != nil {
		return nil, err
	}

	res := make([]byte, n)
	copy(res, b)

	return res, nil
}

// Write copies data to h.
func (a *Arena) Write(h vm.HostAddr, data []byte) error {
	b, err := a.Bytes(h, uint64(len(data)))
	if err != nil {
		return err
	}

	copy(b, data)

	return nil
}

// Load reads one value of the op's width at h in the given byte order. The
// value is zero-extended; sign handling belongs to the caller.
func (a *Arena) Load(h vm.HostAddr, op vm.MemOp, order binary.ByteOrder) uint64 {
	b := a.mustBytes(h, op.Size())

	switch op & vm.MOSizeMask {
	case vm.MO8:
		return uint64(b[0])
	case vm.MO16:
		return uint64(order.Uint16(b))
	case vm.MO32:
		return uint64(order.Uint32(b))
	default:
		return order.Uint64(b)
	}
}

// Store writes the low bits of v at h in the given byte order.
func (a *Arena) Store(
	h vm.HostAddr,
	op vm.MemOp,
	order binary.ByteOrder,
	v uint64,
) {
	b := a.mustBytes(h, op.Size())

	switch op & vm.MOSizeMask {
	case vm.MO8:
		b[0] = byte(v)
	case vm.MO16:
		order.PutUint16(b, uint16(v))
	case vm.MO32:
		order.PutUint32(b, uint32(v))
	default:
		order.PutUint64(b, v)
	}
}

func (a *Arena) mustBytes(h vm.HostAddr, n uint64) []byte {
	b, err := a.Bytes(h, n)
	if err != nil {
		panic(&vm.IntegrityError{
			Addr:   uint64(h),
			Limit:  uint64(a.base) + a.capacity,
			Reason: "host access outside the arena",
		})
	}

	return b
}
