// Package ldst implements the typed guest-memory accessors. Every access first
// asks a translator for the host address and only falls back to a slow path
// when the translator cannot serve it directly.
package ldst

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm"
)

// An Accessor performs guest loads, stores and fetches of every width.
type Accessor struct {
	translator Translator
	slow       SlowPath
	modes      ModeSelector
	mem        HostMemory

	order      binary.ByteOrder
	addrMask   uint64
	nativeBits uint
}

// NativeBits returns the guest register width that loads are extended to.
func (a *Accessor) NativeBits() uint {
	return a.nativeBits
}

// ByteOrder returns the guest byte order.
func (a *Accessor) ByteOrder() binary.ByteOrder {
	return a.order
}

// Load reads a value with the given op in the given mode.
func (a *Accessor) Load(mode vm.Mode, addr uint64, op vm.MemOp) (uint64, error) {
	return a.load(mode, addr, op, vm.AccessRead)
}

// Fetch reads instruction bytes with the given op in the given mode.
func (a *Accessor) Fetch(mode vm.Mode, addr uint64, op vm.MemOp) (uint64, error) {
	return a.load(mode, addr, op, vm.AccessExec)
}

// LoadData is Load in the current data mode.
func (a *Accessor) LoadData(addr uint64, op vm.MemOp) (uint64, error) {
	return a.load(a.modes.CurrentMode(false), addr, op, vm.AccessRead)
}

// FetchCode is Fetch in the current fetch mode.
func (a *Accessor) FetchCode(addr uint64, op vm.MemOp) (uint64, error) {
	return a.load(a.modes.CurrentMode(true), addr, op, vm.AccessExec)
}

func (a *Accessor) load(
	mode vm.Mode,
	addr uint64,
	op vm.MemOp,
	kind vm.AccessKind,
) (uint64, error) {
	addr &= a.addrMask

	var raw uint64

	tr := a.translator.Translate(mode, addr, kind, op.Size())
	if tr.Outcome == vm.Hit {
		raw = a.mem.Load(tr.Host, op, a.order)
	} else {
		var err error

		raw, err = a.mustHaveSlowPath(addr, tr).Load(mode, addr, op, kind)
		if err != nil {
			return 0, err
		}
	}

	return op.Extend(raw, a.nativeBits), nil
}

// Store writes the low bits of value with the given op in the given mode.
func (a *Accessor) Store(
	mode vm.Mode,
	addr uint64,
	op vm.MemOp,
	value uint64,
) error {
	addr &= a.addrMask

	tr := a.translator.Translate(mode, addr, vm.AccessWrite, op.Size())
	if tr.Outcome == vm.Hit {
		a.mem.Store(tr.Host, op, a.order, value)
		return nil
	}

	return a.mustHaveSlowPath(addr, tr).Store(mode, addr, op, value)
}

// StoreData is Store in the current data mode.
func (a *Accessor) StoreData(addr uint64, op vm.MemOp, value uint64) error {
	return a.Store(a.modes.CurrentMode(false), addr, op, value)
}

// Prefetch makes sure addr is translated in the given mode without reading
// it. It never faults. A page that is present as I/O counts as translated.
func (a *Accessor) Prefetch(mode vm.Mode, addr uint64) {
	addr &= a.addrMask

	tr := a.translator.Translate(mode, addr, vm.AccessPrefetch, 1)
	if tr.Outcome != vm.Miss || a.slow == nil {
		return
	}

	a.slow.Prefetch(mode, addr)
}

func (a *Accessor) mustHaveSlowPath(addr uint64, tr vm.Translation) SlowPath {
	if a.slow == nil {
		panic(&vm.IntegrityError{
			Addr:   addr,
			Reason: fmt.Sprintf("%s without a slow path", tr.Outcome),
		})
	}

	return a.slow
}
