// Package directmap provides the translator of the direct-map configuration,
// where every guest address lives at a fixed offset from a host base.
package directmap

import (
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm"
)

// A Map translates guest addresses by adding the guest base. It holds no
// state besides its bounds and can be shared by any number of threads.
type Map struct {
	base  vm.HostAddr
	limit uint64 // exclusive, 0 when the space covers the full 64 bits
}

// A Builder can build direct maps.
type Builder struct {
	guestBase  vm.HostAddr
	spaceBits  uint
	reservedVA uint64
}

// MakeBuilder returns a Builder for a full 64-bit guest space at host zero.
func MakeBuilder() Builder {
	return Builder{spaceBits: 64}
}

// WithGuestBase sets the host address of guest address zero.
func (b Builder) WithGuestBase(base vm.HostAddr) Builder {
	b.guestBase = base
	return b
}

// WithSpaceBits sets the size of the guest address space as a power of 2.
func (b Builder) WithSpaceBits(bits uint) Builder {
	b.spaceBits = bits
	return b
}

// WithReservedVA further limits the guest addresses. Zero means no limit.
func (b Builder) WithReservedVA(reservedVA uint64) Builder {
	b.reservedVA = reservedVA
	return b
}

// WithConfig copies the direct-map parameters from a guest configuration.
func (b Builder) WithConfig(c vm.Config) Builder {
	b.guestBase = c.GuestBase
	b.spaceBits = c.EffectiveSpaceBits()
	b.reservedVA = c.ReservedVA

	return b
}

// Build creates the direct map.
func (b Builder) Build() *Map {
	if b.spaceBits == 0 || b.spaceBits > 64 {
		panic(fmt.Sprintf("unsupported address-space size 2^%d", b.spaceBits))
	}

	var limit uint64
	if b.spaceBits < 64 {
		limit = 1 << b.spaceBits
	}

	if b.reservedVA != 0 && (limit == 0 || b.reservedVA < limit) {
		limit = b.reservedVA
	}

	return &Map{base: b.guestBase, limit: limit}
}

// Base returns the host address of guest address zero.
func (m *Map) Base() vm.HostAddr {
	return m.base
}

// Limit returns the first guest address past the mapped space, or 0 when the
// whole 64-bit space is mapped.
func (m *Map) Limit() uint64 {
	return m.limit
}

// Valid reports whether addr is inside the guest address space.
func (m *Map) Valid(addr uint64) bool {
	return m.limit == 0 || addr < m.limit
}

func (m *Map) validRange(addr, size uint64) bool {
	if size == 0 {
		size = 1
	}

	last := addr + size - 1
	if last < addr {
		return false
	}

	return m.Valid(last)
}

// GuestToHost returns the host address of a size-byte access at addr. An
// access with any byte outside the guest space breaks the address-space
// contract and panics with a *vm.IntegrityError.
func (m *Map) GuestToHost(addr, size uint64) vm.HostAddr {
	if !m.validRange(addr, size) {
		panic(&vm.IntegrityError{
			Addr:   addr,
			Limit:  m.limit,
			Reason: fmt.Sprintf("%d-byte access outside the direct-mapped space", size),
		})
	}

	return m.base + vm.HostAddr(addr)
}

// HostToGuest returns the guest address of a host address. The bool is false
// if the host address is not inside the mapped guest space.
func (m *Map) HostToGuest(h vm.HostAddr) (uint64, bool) {
	if h < m.base {
		return 0, false
	}

	addr := uint64(h - m.base)
	if !m.Valid(addr) {
		return 0, false
	}

	return addr, true
}

// MustHostToGuest is HostToGuest for host addresses known to be mapped. It
// panics with a *vm.IntegrityError otherwise.
func (m *Map) MustHostToGuest(h vm.HostAddr) uint64 {
	addr, ok := m.HostToGuest(h)
	if !ok {
		panic(&vm.IntegrityError{
			Addr:   uint64(h),
			Limit:  m.limit,
			Reason: "host address outside the direct-mapped space",
		})
	}

	return addr
}

// Translate resolves addr. It never misses: an address outside the space
// panics instead.
func (m *Map) Translate(
	_ vm.Mode,
	addr uint64,
	_ vm.AccessKind,
	size uint64,
) vm.Translation {
	return vm.Translation{
		Outcome: vm.Hit,
		Host:    m.GuestToHost(addr, size),
	}
}

// HostPointer returns the host address of addr, or false when addr is outside
// the guest space.
func (m *Map) HostPointer(
	_ vm.Mode,
	addr uint64,
	_ vm.AccessKind,
) (vm.HostAddr, bool) {
	if !m.Valid(addr) {
		return 0, false
	}

	return m.base + vm.HostAddr(addr), true
}
