package ldst

import (
	"encoding/binary"

	"github.com/sarchlab/softmmu/mem/vm"
)

type fixedMode vm.Mode

func (m fixedMode) CurrentMode(bool) vm.Mode {
	return vm.Mode(m)
}

// A Builder can build accessors.
type Builder struct {
	translator Translator
	slow       SlowPath
	modes      ModeSelector
	mem        HostMemory
	bigEndian  bool
	addrBits   uint
}

// MakeBuilder returns a Builder for a 64-bit little-endian guest running in
// mode 0.
func MakeBuilder() Builder {
	return Builder{
		modes:    fixedMode(0),
		addrBits: 64,
	}
}

// WithTranslator sets the translator consulted first on every access.
func (b Builder) WithTranslator(t Translator) Builder {
	b.translator = t
	return b
}

// WithSlowPath sets what serves the accesses the translator cannot.
func (b Builder) WithSlowPath(s SlowPath) Builder {
	b.slow = s
	return b
}

// WithModeSelector sets what decides the mode of the implicit-mode accessors.
func (b Builder) WithModeSelector(m ModeSelector) Builder {
	b.modes = m
	return b
}

// WithHostMemory sets the host RAM hits are served from.
func (b Builder) WithHostMemory(m HostMemory) Builder {
	b.mem = m
	return b
}

// WithBigEndian sets the guest byte order.
func (b Builder) WithBigEndian(bigEndian bool) Builder {
	b.bigEndian = bigEndian
	return b
}

// WithAddrBits sets the guest native width, 32 or 64.
func (b Builder) WithAddrBits(bits uint) Builder {
	b.addrBits = bits
	return b
}

// WithConfig copies the byte order and native width from a guest
// configuration.
func (b Builder) WithConfig(c vm.Config) Builder {
	b.bigEndian = c.BigEndian
	b.addrBits = c.AddrBits

	return b
}

// Build creates the accessor.
func (b Builder) Build() *Accessor {
	if b.translator == nil {
		panic("translator is not set")
	}

	if b.mem == nil {
		panic("host memory is not set")
	}

	if b.addrBits != 32 && b.addrBits != 64 {
		panic("address width must be 32 or 64")
	}

	a := &Accessor{
		translator: b.translator,
		slow:       b.slow,
		modes:      b.modes,
		mem:        b.mem,
		order:      binary.LittleEndian,
		addrMask:   ^uint64(0),
		nativeBits: b.addrBits,
	}

	if b.bigEndian {
		a.order = binary.BigEndian
	}

	if b.addrBits < 64 {
		a.addrMask = 1<<b.addrBits - 1
	}

	if a.modes == nil {
		a.modes = fixedMode(0)
	}

	return a
}
