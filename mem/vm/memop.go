package vm

import "fmt"

// MemOp describes the width and signedness of a memory access. The low two
// bits are log2 of the size in bytes.
type MemOp uint8

// Width and sign components.
const (
	MO8  MemOp = 0
	MO16 MemOp = 1
	MO32 MemOp = 2
	MO64 MemOp = 3

	MOSizeMask MemOp = 3
	MOSign     MemOp = 4
)

// The named operations of the accessor family.
const (
	MOUB = MO8
	MOSB = MO8 | MOSign
	MOUW = MO16
	MOSW = MO16 | MOSign
	MOUL = MO32
	MOSL = MO32 | MOSign
	MOUQ = MO64
	MOQ  = MO64
)

// Size returns the access width in bytes.
func (op MemOp) Size() uint64 {
	return 1 << (op & MOSizeMask)
}

// Bits returns the access width in bits.
func (op MemOp) Bits() uint {
	return 8 << (op & MOSizeMask)
}

// Signed reports whether the loaded value is sign-extended.
func (op MemOp) Signed() bool {
	return op&MOSign != 0
}

// Unsigned returns the same width without the sign bit.
func (op MemOp) Unsigned() MemOp {
	return op &^ MOSign
}

// Extend finishes a raw, zero-extended value read with this op. Ops narrower
// than nativeBits are sign-extended (signed ops) to nativeBits and truncated
// there; ops at least as wide as the native width keep their own width.
func (op MemOp) Extend(raw uint64, nativeBits uint) uint64 {
	bits := op.Bits()
	if bits < 64 {
		raw &= 1<<bits - 1
	}

	if bits >= nativeBits {
		return raw
	}

	if op.Signed() {
		shift := 64 - bits
		raw = uint64(int64(raw<<shift) >> shift)
	}

	if nativeBits < 64 {
		raw &= 1<<nativeBits - 1
	}

	return raw
}

func (op MemOp) String() string {
	sign := "u"
	if op.Signed() {
		sign = "s"
	}

	if op&^(MOSizeMask|MOSign) != 0 {
		return fmt.Sprintf("MemOp(%d)", uint8(op))
	}

	return fmt.Sprintf("%s%d", sign, op.Bits())
}
