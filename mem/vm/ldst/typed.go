package ldst

import (
	"unsafe"

	"github.com/sarchlab/softmmu/mem/vm"
)

// Value lists the Go types that typed accessors move.
type Value interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64
}

// OpFor returns the MemOp that moves a T.
func OpFor[T Value]() vm.MemOp {
	var zero T

	var op vm.MemOp

	switch unsafe.Sizeof(zero) {
	case 1:
		op = vm.MO8
	case 2:
		op = vm.MO16
	case 4:
		op = vm.MO32
	default:
		op = vm.MO64
	}

	if zero-1 < zero {
		op |= vm.MOSign
	}

	return op
}

// Load reads a T in the given mode.
func Load[T Value](a *Accessor, mode vm.Mode, addr uint64) (T, error) {
	v, err := a.Load(mode, addr, OpFor[T]())
	return T(v), err
}

// Fetch reads a T of instruction bytes in the given mode.
func Fetch[T Value](a *Accessor, mode vm.Mode, addr uint64) (T, error) {
	v, err := a.Fetch(mode, addr, OpFor[T]())
	return T(v), err
}

// Store writes a T in the given mode.
func Store[T Value](a *Accessor, mode vm.Mode, addr uint64, v T) error {
	return a.Store(mode, addr, OpFor[T](), uint64(v))
}

// LoadData reads a T in the current data mode.
func LoadData[T Value](a *Accessor, addr uint64) (T, error) {
	v, err := a.LoadData(addr, OpFor[T]())
	return T(v), err
}

// FetchCode reads a T of instruction bytes in the current fetch mode.
func FetchCode[T Value](a *Accessor, addr uint64) (T, error) {
	v, err := a.FetchCode(addr, OpFor[T]())
	return T(v), err
}

// StoreData writes a T in the current data mode.
func StoreData[T Value](a *Accessor, addr uint64, v T) error {
	return a.StoreData(addr, OpFor[T](), uint64(v))
}
