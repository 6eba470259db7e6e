package slowpath

import (
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm/mmio"
)

type noIO struct{}

func (noIO) Read(addr, _ uint64) (uint64, error) {
	return 0, fmt.Errorf("%w: read of 0x%x", mmio.ErrUnassigned, addr)
}

func (noIO) Write(addr, _, _ uint64) error {
	return fmt.Errorf("%w: write of 0x%x", mmio.ErrUnassigned, addr)
}
