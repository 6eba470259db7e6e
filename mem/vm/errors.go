package vm

import "fmt"

// A PageFault is raised to the guest when the slow path cannot find a mapping
// for an address or the mapping does not permit the access.
type PageFault struct {
	Mode   Mode
	Addr   uint64
	Kind   AccessKind
	Reason string
}

func (f *PageFault) Error() string {
	return fmt.Sprintf("page fault: %s of 0x%x in mode %d: %s",
		f.Kind, f.Addr, f.Mode, f.Reason)
}

// An IntegrityError reports a broken guest/host address-space contract. It is
// raised with panic because the configuration that detects it has nothing to
// fall back on. Execution contexts recover it and stop running.
type IntegrityError struct {
	Addr   uint64
	Limit  uint64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("address-space integrity violation at 0x%x (limit 0x%x): %s",
		e.Addr, e.Limit, e.Reason)
}
