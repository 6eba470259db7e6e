// Package mmio dispatches guest accesses to memory-mapped device regions.
package mmio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnassigned is returned for accesses that no region covers.
var ErrUnassigned = errors.New("unassigned I/O address")

// Regions are indexed by 256-byte pages of the device address space.
const (
	pageSize = 0x100
	pageMask = ^uint64(pageSize - 1)
)

// A Device serves the accesses of a region. Addresses are offsets from the
// start of the region. Values are in host order and hold size bytes.
type Device interface {
	Read(offset, size uint64) uint64
	Write(offset, size, value uint64)
}

// DeviceFuncs adapts a pair of functions to the Device interface. A nil
// OnRead reads zeros and a nil OnWrite drops the write.
type DeviceFuncs struct {
	OnRead  func(offset, size uint64) uint64
	OnWrite func(offset, size, value uint64)
}

// Read calls OnRead.
func (d DeviceFuncs) Read(offset, size uint64) uint64 {
	if d.OnRead == nil {
		return 0
	}

	return d.OnRead(offset, size)
}

// Write calls OnWrite.
func (d DeviceFuncs) Write(offset, size, value uint64) {
	if d.OnWrite != nil {
		d.OnWrite(offset, size, value)
	}
}

// A Region is a device mapped at the inclusive range [Start, End].
type Region struct {
	Name   string
	Start  uint64
	End    uint64
	Device Device
}

func (r *Region) contains(addr uint64) bool {
	return addr >= r.Start && addr <= r.End
}

// A Dispatcher finds the region of a device address and forwards the access.
// It is safe for concurrent use.
type Dispatcher struct {
	mutex   sync.RWMutex
	regions []*Region
	mapping map[uint64][]*Region
}

// NewDispatcher creates a Dispatcher with no region.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		mapping: make(map[uint64][]*Region),
	}
}

// MapIO registers a device at the inclusive range [start, end].
func (d *Dispatcher) MapIO(name string, start, end uint64, dev Device) {
	if end < start {
		panic(fmt.Sprintf("region %s ends before it starts", name))
	}

	region := &Region{Name: name, Start: start, End: end, Device: dev}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.regions = append(d.regions, region)

	firstPage := start & pageMask
	lastPage := end & pageMask
	for page := firstPage; ; page += pageSize {
		d.mapping[page] = append(d.mapping[page], region)

		if page == lastPage {
			break
		}
	}
}

// Regions lists the mapped regions by start address.
func (d *Dispatcher) Regions() []Region {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	regions := make([]Region, 0, len(d.regions))
	for _, r := range d.regions {
		regions = append(regions, *r)
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Start < regions[j].Start
	})

	return regions
}

func (d *Dispatcher) find(addr uint64) *Region {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	for _, region := range d.mapping[addr&pageMask] {
		if region.contains(addr) {
			return region
		}
	}

	return nil
}

// Read performs a size-byte device read at addr.
func (d *Dispatcher) Read(addr, size uint64) (uint64, error) {
	region := d.find(addr)
	if region == nil {
		return 0, fmt.Errorf("%w: read of 0x%x", ErrUnassigned, addr)
	}

	v := region.Device.Read(addr-region.Start, size)
	if size < 8 {
		v &= 1<<(size*8) - 1
	}

	return v, nil
}

// Write performs a size-byte device write at addr.
func (d *Dispatcher) Write(addr, size, value uint64) error {
	region := d.find(addr)
	if region == nil {
		return fmt.Errorf("%w: write of 0x%x", ErrUnassigned, addr)
	}

	if size < 8 {
		value &= 1<<(size*8) - 1
	}

	region.Device.Write(addr-region.Start, size, value)

	return nil
}
