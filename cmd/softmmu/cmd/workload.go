package cmd

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sarchlab/softmmu/config"
	"github.com/sarchlab/softmmu/datarecording"
	"github.com/sarchlab/softmmu/mem/hostmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/ldst"
	"github.com/sarchlab/softmmu/mem/vm/mmio"
	"github.com/sarchlab/softmmu/mem/vm/vcpu"
	"github.com/sarchlab/softmmu/monitoring"
	"github.com/sarchlab/softmmu/sim/hooking"
	"github.com/sarchlab/softmmu/tracing"
)

const (
	arenaBase     vm.HostAddr = 0x7F000000
	registerPAddr uint64      = 0xF0000000
	execChunk                 = 1024
	codePageEvery             = 8
)

var workloadOps = []vm.MemOp{
	vm.MOUB, vm.MOSB, vm.MOUW, vm.MOSW, vm.MOUL, vm.MOSL, vm.MOUQ,
}

type workloadOptions struct {
	Accesses int
	Pages    int
	Seed     int64

	// Record is the path of the recording database. Empty disables
	// recording.
	Record string

	Monitor *monitoring.Monitor

	// Invalidate enables the background thread that invalidates write tags
	// and queues page flushes while the workload runs.
	Invalidate bool
}

type workloadResult struct {
	Loads      uint64
	Stores     uint64
	Faults     uint64
	CodeWrites uint64
	Checksum   uint64
	Events     map[string]uint64
	Elapsed    time.Duration
}

type workload struct {
	opts     workloadOptions
	cfg      config.Config
	arena    *hostmem.Arena
	pages    vm.PageTable
	ctx      *vcpu.Context
	register uint64
	ioPage   bool

	codeWrites atomic.Uint64
}

func runWorkload(cfg config.Config, opts workloadOptions) (workloadResult, error) {
	w, err := newWorkload(cfg, opts)
	if err != nil {
		return workloadResult{}, err
	}

	counter := tracing.NewCountTracer()
	w.attach(counter)

	if opts.Record != "" {
		recorder := datarecording.New(opts.Record)
		defer recorder.Close()

		w.attach(tracing.NewDBTracer(recorder, w.ctx.Name()))
	}

	if opts.Monitor != nil {
		opts.Monitor.RegisterContext(w.ctx)
	}

	start := time.Now()

	res, err := w.run()
	if err != nil {
		return res, err
	}

	res.Elapsed = time.Since(start)
	res.CodeWrites = w.codeWrites.Load()
	res.Events = make(map[string]uint64)

	for _, name := range counter.Names() {
		res.Events[name] = counter.Count(name)
	}

	return res, nil
}

func newWorkload(cfg config.Config, opts workloadOptions) (*workload, error) {
	if opts.Pages < 1 || opts.Accesses < 0 {
		return nil, fmt.Errorf("%w: %d pages, %d accesses",
			config.ErrInvalidValue, opts.Pages, opts.Accesses)
	}

	pageSize := cfg.VM.PageSize()
	ramBytes := uint64(opts.Pages) * pageSize

	if ramBytes > cfg.RAMSize || ramBytes/pageSize != uint64(opts.Pages) {
		return nil, fmt.Errorf("%w: %s of RAM cannot hold %d pages of %s",
			config.ErrInvalidValue, humanize.IBytes(cfg.RAMSize),
			opts.Pages, humanize.IBytes(pageSize))
	}

	w := &workload{
		opts:  opts,
		cfg:   cfg,
		pages: vm.NewPageTable(cfg.VM.Log2PageSize),
	}

	base := arenaBase
	if cfg.VM.DirectMap {
		base = cfg.VM.GuestBase
	}

	w.arena = hostmem.New(base, cfg.RAMSize)

	builder := vcpu.MakeBuilder().
		WithConfig(cfg.VM).
		WithHostMemory(w.arena)

	if !cfg.VM.DirectMap {
		if err := w.mapPages(); err != nil {
			return nil, err
		}

		builder = builder.
			WithPageTable(w.pages).
			WithIO(w.devices()).
			WithOnCodeWrite(func(vm.Mode, uint64, vm.Page) {
				w.codeWrites.Add(1)
			})
	}

	ctx, err := builder.Build("Bench.CPU")
	if err != nil {
		return nil, err
	}

	w.ctx = ctx

	return w, nil
}

// mapPages maps the RAM pages in mode 0 and, read-only, in mode 1. Every
// few pages are tracked as code. The page after the RAM is a device
// register page.
func (w *workload) mapPages() error {
	pageSize := w.cfg.VM.PageSize()

	for i := 0; i < w.opts.Pages; i++ {
		host, err := w.arena.Alloc(pageSize, pageSize)
		if err != nil {
			return err
		}

		vAddr := uint64(i) * pageSize
		code := i%codePageEvery == 0

		perm := vm.PermRW
		if code {
			perm = vm.PermRWX
		}

		w.pages.Insert(vm.Page{
			Mode:       0,
			VAddr:      vAddr,
			Host:       host,
			Perm:       perm,
			TrackDirty: code,
		})

		if w.cfg.VM.NumModes > 1 {
			w.pages.Insert(vm.Page{
				Mode:  1,
				VAddr: vAddr,
				Host:  host,
				Perm:  vm.PermRead,
			})
		}
	}

	w.pages.Insert(vm.Page{
		Mode:  0,
		VAddr: uint64(w.opts.Pages) * pageSize,
		PAddr: registerPAddr,
		Perm:  vm.PermRW,
		IO:    true,
	})
	w.ioPage = true

	return nil
}

func (w *workload) devices() *mmio.Dispatcher {
	d := mmio.NewDispatcher()

	var lock sync.Mutex

	d.MapIO("register", registerPAddr, registerPAddr+w.cfg.VM.PageSize(),
		mmio.DeviceFuncs{
			OnRead: func(_, _ uint64) uint64 {
				lock.Lock()
				defer lock.Unlock()

				return w.register
			},
			OnWrite: func(_, _, value uint64) {
				lock.Lock()
				defer lock.Unlock()

				w.register = value
			},
		})

	return d
}

func (w *workload) attach(tracer hooking.Hook) {
	if t := w.ctx.TLB(); t != nil {
		t.AcceptHook(tracer)
	}

	if s := w.ctx.SlowPath(); s != nil {
		s.AcceptHook(tracer)
	}
}

func (w *workload) run() (workloadResult, error) {
	var (
		res  workloadResult
		rng  = rand.New(rand.NewSource(w.opts.Seed))
		done = make(chan struct{})
		wg   sync.WaitGroup
	)

	if w.opts.Invalidate && !w.cfg.VM.DirectMap {
		wg.Add(1)

		go func() {
			defer wg.Done()
			w.invalidate(done)
		}()
	}

	var bar *monitoring.ProgressBar
	if w.opts.Monitor != nil {
		bar = w.opts.Monitor.CreateProgressBar(
			w.ctx.Name(), uint64(w.opts.Accesses))
		defer w.opts.Monitor.CompleteProgressBar(bar)
	}

	var err error

	for remaining := w.opts.Accesses; remaining > 0; remaining -= execChunk {
		n := min(remaining, execChunk)

		if bar != nil {
			bar.IncrementInProgress(uint64(n))
		}

		err = w.ctx.Exec(func(a *ldst.Accessor) error {
			return w.chunk(a, rng, n, &res)
		})
		if err != nil {
			break
		}

		if bar != nil {
			bar.MoveInProgressToFinished(uint64(n))
		}
	}

	close(done)
	wg.Wait()

	return res, err
}

func (w *workload) chunk(
	a *ldst.Accessor,
	rng *rand.Rand,
	n int,
	res *workloadResult,
) error {
	var fault *vm.PageFault

	for i := 0; i < n; i++ {
		mode, addr, op := w.pick(rng)
		w.ctx.SetMode(mode)

		var err error

		if rng.Intn(2) == 0 {
			res.Loads++

			var v uint64

			v, err = a.LoadData(addr, op)
			res.Checksum = res.Checksum*31 + v
		} else {
			res.Stores++
			err = a.StoreData(addr, op, rng.Uint64())
		}

		switch {
		case err == nil:
		case errors.As(err, &fault):
			res.Faults++
		default:
			return err
		}
	}

	return nil
}

// pick chooses a mode, an address and a width. Most accesses are aligned
// within a page; a few straddle two pages.
func (w *workload) pick(rng *rand.Rand) (vm.Mode, uint64, vm.MemOp) {
	pageSize := w.cfg.VM.PageSize()
	op := workloadOps[rng.Intn(len(workloadOps))]
	size := op.Size()

	numPages := w.opts.Pages
	if w.ioPage {
		numPages++
	}

	page := uint64(rng.Intn(numPages))
	offset := uint64(rng.Int63n(int64(pageSize))) &^ (size - 1)

	lastPage := page+1 >= uint64(numPages)
	if size > 1 && !lastPage && rng.Intn(16) == 0 {
		offset = pageSize - size/2
	}

	mode := vm.Mode(0)
	if w.cfg.VM.NumModes > 1 && page < uint64(w.opts.Pages) &&
		rng.Intn(4) == 0 {
		mode = 1
	}

	return mode, page*pageSize + offset, op
}

// invalidate plays the role of another thread that modifies translated
// code: it revokes write permission of random pages and queues flushes for
// the owner to apply at its next safe point.
func (w *workload) invalidate(done <-chan struct{}) {
	rng := rand.New(rand.NewSource(w.opts.Seed + 1))
	pageSize := w.cfg.VM.PageSize()
	ticker := time.NewTicker(time.Millisecond)

	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			addr := uint64(rng.Intn(w.opts.Pages)) * pageSize

			if rng.Intn(2) == 0 {
				w.ctx.InvalidateWrite(addr)
			} else {
				w.ctx.QueueFlushPage(addr)
			}
		}
	}
}
