package vcpu

import (
	"fmt"
	"log/slog"

	"github.com/rs/xid"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/directmap"
	"github.com/sarchlab/softmmu/mem/vm/ldst"
	"github.com/sarchlab/softmmu/mem/vm/slowpath"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
)

// HostMemory is the host RAM of a context.
type HostMemory interface {
	ldst.HostMemory
	slowpath.Memory
}

// A Builder can build execution contexts.
type Builder struct {
	cfg         vm.Config
	mem         HostMemory
	pageTable   vm.PageTable
	io          slowpath.IO
	slow        ldst.SlowPath
	modeFunc    func(fetch bool) vm.Mode
	onCodeWrite slowpath.CodeWriteFunc
}

// MakeBuilder returns a Builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{cfg: vm.DefaultConfig()}
}

// WithConfig sets the guest configuration.
func (b Builder) WithConfig(cfg vm.Config) Builder {
	b.cfg = cfg
	return b
}

// WithHostMemory sets the host RAM.
func (b Builder) WithHostMemory(mem HostMemory) Builder {
	b.mem = mem
	return b
}

// WithPageTable sets the page table walked by the built-in slow path.
func (b Builder) WithPageTable(pt vm.PageTable) Builder {
	b.pageTable = pt
	return b
}

// WithIO sets the device dispatcher of the built-in slow path.
func (b Builder) WithIO(io slowpath.IO) Builder {
	b.io = io
	return b
}

// WithSlowPath replaces the built-in slow path.
func (b Builder) WithSlowPath(s ldst.SlowPath) Builder {
	b.slow = s
	return b
}

// WithModeFunc sets the function that decides the current mode. Without
// one, the mode set with SetMode is used for data and fetches alike.
func (b Builder) WithModeFunc(f func(fetch bool) vm.Mode) Builder {
	b.modeFunc = f
	return b
}

// WithOnCodeWrite sets the function called on the first write to a
// dirty-tracked page.
func (b Builder) WithOnCodeWrite(f slowpath.CodeWriteFunc) Builder {
	b.onCodeWrite = f
	return b
}

// Build creates the context. Unsupported configurations are reported as
// errors.
func (b Builder) Build(name string) (*Context, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("context %s: %w", name, err)
	}

	if b.mem == nil {
		panic("host memory is not set")
	}

	c := &Context{
		id:       xid.New().String(),
		name:     name,
		cfg:      b.cfg,
		modeFunc: b.modeFunc,
	}

	if b.cfg.DirectMap {
		c.directMap = directmap.MakeBuilder().WithConfig(b.cfg).Build()
		c.resolver = c.directMap
	} else {
		c.tlb = tlb.MakeBuilder().WithConfig(b.cfg).Build(name + ".TLB")
		c.resolver = c.tlb
	}

	slow := b.slow
	if slow == nil && b.pageTable != nil {
		c.slow = b.buildSlowPath(name, c.tlb)
		slow = c.slow
	}

	c.accessor = ldst.MakeBuilder().
		WithConfig(b.cfg).
		WithTranslator(c.resolver).
		WithSlowPath(slow).
		WithModeSelector(c).
		WithHostMemory(b.mem).
		Build()

	slog.Info("execution context created",
		"id", c.id,
		"name", name,
		"modes", b.cfg.NumModes,
		"page_size", b.cfg.PageSize(),
		"direct_map", b.cfg.DirectMap)

	return c, nil
}

func (b Builder) buildSlowPath(name string, t *tlb.TLB) *slowpath.SlowPath {
	sb := slowpath.MakeBuilder().
		WithPageTable(b.pageTable).
		WithHostMemory(b.mem).
		WithIO(b.io).
		WithBigEndian(b.cfg.BigEndian).
		WithOnCodeWrite(b.onCodeWrite)

	if t != nil {
		sb = sb.WithCache(t)
	} else {
		sb = sb.WithPageSize(b.cfg.PageSize())
	}

	return sb.Build(name + ".SlowPath")
}
