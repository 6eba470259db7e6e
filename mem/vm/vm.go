// Package vm provides the shared vocabulary of the soft-MMU: privilege modes,
// access kinds, memory operations, translation outcomes, guest pages and the
// guest configuration.
package vm

import "fmt"

// MaxModes is the largest number of privilege modes a translation cache can
// be partitioned into.
const MaxModes = 12

// Mode identifies a privilege/execution mode. Every mode owns its own
// translation table.
type Mode uint8

// HostAddr is an address in the host arena's address space.
type HostAddr uint64

// AccessKind tells which tag of a translation entry an access is checked
// against.
type AccessKind uint8

// The access kinds.
const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessExec

	// AccessPrefetch is the relaxed kind. It is checked against the read tag,
	// and an I/O-tagged entry that matches the page counts as present.
	AccessPrefetch
)

func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExec:
		return "exec"
	case AccessPrefetch:
		return "prefetch"
	default:
		return fmt.Sprintf("AccessKind(%d)", uint8(k))
	}
}

// Outcome is the result class of a lookup.
type Outcome uint8

// The lookup outcomes.
const (
	// Miss means the slot does not describe the page.
	Miss Outcome = iota

	// Hit means the slot describes the page as plain RAM and the host address
	// can be used directly.
	Hit

	// HitIO means the slot describes the page but carries flag bits (I/O,
	// dirty tracking), so there is no direct host pointer.
	HitIO
)

func (o Outcome) String() string {
	switch o {
	case Miss:
		return "miss"
	case Hit:
		return "hit"
	case HitIO:
		return "hit-io"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Translation is the result of resolving a guest address.
type Translation struct {
	Outcome Outcome

	// Host is only meaningful when Outcome is Hit.
	Host HostAddr

	// Flags holds the low tag bits of the matched entry when Outcome is HitIO.
	Flags uint64
}

// Perm is a set of page permissions.
type Perm uint8

// The page permissions.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec

	PermRW  = PermRead | PermWrite
	PermRWX = PermRead | PermWrite | PermExec
)

// Allows reports whether the permission set grants the access kind.
// Prefetches need read permission.
func (p Perm) Allows(kind AccessKind) bool {
	switch kind {
	case AccessWrite:
		return p&PermWrite != 0
	case AccessExec:
		return p&PermExec != 0
	default:
		return p&PermRead != 0
	}
}

func (p Perm) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}

	if p&PermWrite != 0 {
		b[1] = 'w'
	}

	if p&PermExec != 0 {
		b[2] = 'x'
	}

	return string(b)
}
