// Package config loads the guest configuration from environment variables,
// optionally read from .env files.
package config

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/sarchlab/softmmu/mem/vm"
)

// The environment variables.
const (
	EnvPageBits   = "SOFTMMU_PAGE_BITS"
	EnvTableBits  = "SOFTMMU_TABLE_BITS"
	EnvModes      = "SOFTMMU_MODES"
	EnvAddrBits   = "SOFTMMU_ADDR_BITS"
	EnvSpaceSize  = "SOFTMMU_SPACE_SIZE"
	EnvBigEndian  = "SOFTMMU_BIG_ENDIAN"
	EnvAtomicTags = "SOFTMMU_ATOMIC_TAGS"
	EnvDirectMap  = "SOFTMMU_DIRECT_MAP"
	EnvGuestBase  = "SOFTMMU_GUEST_BASE"
	EnvReservedVA = "SOFTMMU_RESERVED_VA"
	EnvRAMSize    = "SOFTMMU_RAM_SIZE"
)

// ErrInvalidValue is returned when a variable cannot be parsed.
var ErrInvalidValue = errors.New("invalid configuration value")

// DefaultRAMSize is the host RAM given to a guest when none is configured.
const DefaultRAMSize = 64 << 20

// Config is the complete configuration of a guest.
type Config struct {
	VM      vm.Config
	RAMSize uint64
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		VM:      vm.DefaultConfig(),
		RAMSize: DefaultRAMSize,
	}
}

// Load reads the given .env files into the environment, without overriding
// variables that are already set, and then builds the configuration from the
// environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, err
		}
	}

	return FromEnv()
}

// FromEnv builds the configuration from the environment. Unset variables keep
// their defaults. The result is validated.
func FromEnv() (Config, error) {
	c := Default()

	p := parser{}
	p.uint(EnvPageBits, &c.VM.Log2PageSize)
	p.uint(EnvTableBits, &c.VM.Log2TableSize)
	p.int(EnvModes, &c.VM.NumModes)
	p.addrBits(&c.VM.AddrBits)
	p.spaceSize(&c.VM.SpaceBits)
	p.bool(EnvBigEndian, &c.VM.BigEndian)
	p.bool(EnvAtomicTags, &c.VM.AtomicTags)
	p.bool(EnvDirectMap, &c.VM.DirectMap)
	p.guestBase(&c.VM.GuestBase)
	p.size(EnvReservedVA, &c.VM.ReservedVA)
	p.size(EnvRAMSize, &c.RAMSize)

	if p.err != nil {
		return Config{}, p.err
	}

	if err := c.VM.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// parser keeps the first error so that the fields can be parsed in a row.
type parser struct {
	err error
}

func (p *parser) lookup(name string) (string, bool) {
	if p.err != nil {
		return "", false
	}

	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", false
	}

	return v, true
}

func (p *parser) fail(name, value string, err error) {
	p.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, name, value, err)
}

func (p *parser) uint(name string, dst *uint64) {
	s, ok := p.lookup(name)
	if !ok {
		return
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		p.fail(name, s, err)
		return
	}

	*dst = v
}

func (p *parser) int(name string, dst *int) {
	s, ok := p.lookup(name)
	if !ok {
		return
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		p.fail(name, s, err)
		return
	}

	*dst = v
}

func (p *parser) bool(name string, dst *bool) {
	s, ok := p.lookup(name)
	if !ok {
		return
	}

	v, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(name, s, err)
		return
	}

	*dst = v
}

func (p *parser) addrBits(dst *uint) {
	var v uint64

	p.uint(EnvAddrBits, &v)
	if v != 0 {
		*dst = uint(v)
	}
}

// size accepts plain or 0x-prefixed numbers and sizes such as 64MiB or 4G.
func (p *parser) size(name string, dst *uint64) {
	s, ok := p.lookup(name)
	if !ok {
		return
	}

	v, err := ParseSize(s)
	if err != nil {
		p.fail(name, s, err)
		return
	}

	*dst = v
}

func (p *parser) spaceSize(dst *uint) {
	var size uint64

	p.size(EnvSpaceSize, &size)
	if p.err != nil || size == 0 {
		return
	}

	if size&(size-1) != 0 {
		p.fail(EnvSpaceSize, os.Getenv(EnvSpaceSize),
			errors.New("not a power of 2"))
		return
	}

	*dst = uint(bits.TrailingZeros64(size))
}

func (p *parser) guestBase(dst *vm.HostAddr) {
	var base uint64

	p.size(EnvGuestBase, &base)
	if base != 0 {
		*dst = vm.HostAddr(base)
	}
}

// ParseSize parses a byte count. Plain numbers may use a 0x, 0o or 0b
// prefix. Anything else goes through humanize, so 64MiB, 4G and "1 KB" work.
func ParseSize(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}

	return humanize.ParseBytes(s)
}
