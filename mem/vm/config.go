package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Configuration errors. Config.Validate wraps them with the offending value.
var (
	ErrNoModes      = errors.New("at least one mode is required")
	ErrTooManyModes = errors.New("too many modes")
	ErrPageSize     = errors.New("unsupported page size")
	ErrTableSize    = errors.New("unsupported table size")
	ErrAddrBits     = errors.New("unsupported guest address width")
	ErrSpaceBits    = errors.New("unsupported guest address-space size")
	ErrReservedVA   = errors.New("reserved VA beyond the guest address space")
)

// Limits of the table geometry.
const (
	MinLog2PageSize  = 4
	MaxLog2PageSize  = 30
	MaxLog2TableSize = 20
)

// Config is the guest configuration a soft-MMU is built against. It is
// consumed, not owned, by the translation layer.
type Config struct {
	// Log2PageSize is the guest page size as a power of two.
	Log2PageSize uint64

	// Log2TableSize is the number of slots of each per-mode table as a power
	// of two.
	Log2TableSize uint64

	// NumModes is the number of privilege modes, at most MaxModes.
	NumModes int

	// AddrBits is the guest's native register and address width, 32 or 64.
	AddrBits uint

	// SpaceBits is the size of the guest virtual address space as a power of
	// two. It only bounds the direct-map configuration. Zero means AddrBits.
	SpaceBits uint

	// BigEndian selects the guest byte order.
	BigEndian bool

	// AtomicTags states whether the host can read and write a whole write tag
	// atomically. When false, cross-thread write invalidations are deferred to
	// the owner's next safe point.
	AtomicTags bool

	// DirectMap replaces the translation cache with a fixed offset.
	DirectMap bool

	// GuestBase is the host address of guest address zero in the direct-map
	// configuration.
	GuestBase HostAddr

	// ReservedVA, when non-zero, further limits direct-mapped guest addresses.
	ReservedVA uint64
}

// DefaultConfig returns a configuration with 4 KiB pages, 256 slots per mode,
// two modes and a 64-bit little-endian guest.
func DefaultConfig() Config {
	return Config{
		Log2PageSize:  12,
		Log2TableSize: 8,
		NumModes:      2,
		AddrBits:      64,
		AtomicTags:    true,
	}
}

// Validate checks that the configuration can be built.
func (c Config) Validate() error {
	if c.NumModes < 1 {
		return fmt.Errorf("%w: %d", ErrNoModes, c.NumModes)
	}

	if c.NumModes > MaxModes {
		return fmt.Errorf("%w: %d configured, at most %d supported",
			ErrTooManyModes, c.NumModes, MaxModes)
	}

	if c.Log2PageSize < MinLog2PageSize || c.Log2PageSize > MaxLog2PageSize {
		return fmt.Errorf("%w: 2^%d", ErrPageSize, c.Log2PageSize)
	}

	if c.Log2TableSize > MaxLog2TableSize {
		return fmt.Errorf("%w: 2^%d slots", ErrTableSize, c.Log2TableSize)
	}

	if c.AddrBits != 32 && c.AddrBits != 64 {
		return fmt.Errorf("%w: %d bits", ErrAddrBits, c.AddrBits)
	}

	if c.SpaceBits > c.AddrBits || (c.SpaceBits != 0 &&
		uint64(c.SpaceBits) < c.Log2PageSize) {
		return fmt.Errorf("%w: %d bits", ErrSpaceBits, c.SpaceBits)
	}

	if c.ReservedVA != 0 && c.EffectiveSpaceBits() < 64 &&
		c.ReservedVA > 1<<c.EffectiveSpaceBits() {
		return fmt.Errorf("%w: 0x%x", ErrReservedVA, c.ReservedVA)
	}

	return nil
}

// PageSize returns the guest page size in bytes.
func (c Config) PageSize() uint64 {
	return 1 << c.Log2PageSize
}

// PageMask returns the mask that keeps the page-index bits of an address.
func (c Config) PageMask() uint64 {
	return ^(c.PageSize() - 1)
}

// TableSize returns the number of slots of each per-mode table.
func (c Config) TableSize() uint64 {
	return 1 << c.Log2TableSize
}

// AddrMask returns the mask of a native-width guest address.
func (c Config) AddrMask() uint64 {
	if c.AddrBits >= 64 {
		return ^uint64(0)
	}

	return 1<<c.AddrBits - 1
}

// EffectiveSpaceBits returns SpaceBits, defaulting to AddrBits.
func (c Config) EffectiveSpaceBits() uint {
	if c.SpaceBits == 0 {
		return c.AddrBits
	}

	return c.SpaceBits
}

// ByteOrder returns the guest byte order.
func (c Config) ByteOrder() binary.ByteOrder {
	if c.BigEndian {
		return binary.BigEndian
	}

	return binary.LittleEndian
}
