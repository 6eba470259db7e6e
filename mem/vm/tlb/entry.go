package tlb

import (
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm"
)

// Tag flag bits. A tag is the page-aligned guest address OR'd with these bits,
// so that a single equality test against the page bits of an address checks
// both the page and the absence of flags.
const (
	// FlagInvalid marks a tag that describes no page.
	FlagInvalid uint64 = 1 << iota

	// FlagMMIO marks a page backed by a device rather than RAM.
	FlagMMIO

	// FlagNotDirty routes writes through the slow path for dirty tracking.
	FlagNotDirty

	flagMask = FlagInvalid | FlagMMIO | FlagNotDirty
)

// InvalidTag is the tag of an empty slot. It never equals a page address.
const InvalidTag = ^uint64(0)

// An Entry caches the translation of one guest page for one mode.
//
// Only the write tag may be touched by threads other than the owner, so it is
// the only atomic field. The other fields are written by the owner's refill
// and flushes.
type Entry struct {
	addrRead  uint64
	addrWrite atomic.Uint64
	addrCode  uint64
	addend    uint64
}

func (e *Entry) reset() {
	e.addrRead = InvalidTag
	e.addrWrite.Store(InvalidTag)
	e.addrCode = InvalidTag
	e.addend = 0
}

// ReadTag returns the tag checked by loads.
func (e *Entry) ReadTag() uint64 {
	return e.addrRead
}

// WriteTag returns the tag checked by stores. It is read atomically because
// other threads may invalidate it.
func (e *Entry) WriteTag() uint64 {
	return e.addrWrite.Load()
}

// CodeTag returns the tag checked by instruction fetches.
func (e *Entry) CodeTag() uint64 {
	return e.addrCode
}

// Addend returns the offset from a guest address to its host address.
func (e *Entry) Addend() uint64 {
	return e.addend
}

func (e *Entry) tag(kind vm.AccessKind) uint64 {
	switch kind {
	case vm.AccessWrite:
		return e.addrWrite.Load()
	case vm.AccessExec:
		return e.addrCode
	default:
		return e.addrRead
	}
}

// EntrySnapshot is a copy of an entry for inspection.
type EntrySnapshot struct {
	Index    uint64 `json:"index"`
	ReadTag  uint64 `json:"read_tag"`
	WriteTag uint64 `json:"write_tag"`
	CodeTag  uint64 `json:"code_tag"`
	Addend   uint64 `json:"addend"`
}

// Valid reports whether any of the tags describes a page.
func (s EntrySnapshot) Valid() bool {
	return s.ReadTag&FlagInvalid == 0 ||
		s.WriteTag&FlagInvalid == 0 ||
		s.CodeTag&FlagInvalid == 0
}

func (e *Entry) snapshot(index uint64) EntrySnapshot {
	return EntrySnapshot{
		Index:    index,
		ReadTag:  e.addrRead,
		WriteTag: e.addrWrite.Load(),
		CodeTag:  e.addrCode,
		Addend:   e.addend,
	}
}
