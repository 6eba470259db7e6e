// Package vcpu ties a guest configuration, a translator, a slow path and the
// typed accessors into one execution context owned by a single thread.
package vcpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/directmap"
	"github.com/sarchlab/softmmu/mem/vm/ldst"
	"github.com/sarchlab/softmmu/mem/vm/slowpath"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
)

// ErrTerminated is returned by Exec after the context stopped.
var ErrTerminated = errors.New("execution context terminated")

type resolver interface {
	ldst.Translator
	HostPointer(
		mode vm.Mode,
		addr uint64,
		kind vm.AccessKind,
	) (vm.HostAddr, bool)
}

// A Context is one guest execution context. Guest work runs through Exec on
// the owning thread. Other threads may queue flushes, revoke write
// permissions and inspect the context while it is parked.
type Context struct {
	id   string
	name string
	cfg  vm.Config

	tlb       *tlb.TLB
	directMap *directmap.Map
	resolver  resolver
	slow      *slowpath.SlowPath
	accessor  *ldst.Accessor

	mode     atomic.Uint32
	modeFunc func(fetch bool) vm.Mode

	execLock   sync.Mutex
	terminated atomic.Bool
	errLock    sync.Mutex
	err        error

	execs      atomic.Uint64
	safePoints atomic.Uint64
}

// ID returns the unique ID of the context.
func (c *Context) ID() string {
	return c.id
}

// Name returns the name of the context.
func (c *Context) Name() string {
	return c.name
}

// Config returns the guest configuration the context was built with.
func (c *Context) Config() vm.Config {
	return c.cfg
}

// Accessor returns the typed accessors of the context.
func (c *Context) Accessor() *ldst.Accessor {
	return c.accessor
}

// TLB returns the translation cache, or nil in the direct-map configuration.
func (c *Context) TLB() *tlb.TLB {
	return c.tlb
}

// DirectMap returns the direct map, or nil when a translation cache is used.
func (c *Context) DirectMap() *directmap.Map {
	return c.directMap
}

// SlowPath returns the built-in slow path, or nil when none was built.
func (c *Context) SlowPath() *slowpath.SlowPath {
	return c.slow
}

// SetMode switches the privilege mode used by the implicit-mode accessors.
func (c *Context) SetMode(mode vm.Mode) {
	if int(mode) >= c.cfg.NumModes {
		panic(fmt.Sprintf("mode %d out of range, %d modes configured",
			mode, c.cfg.NumModes))
	}

	c.mode.Store(uint32(mode))
}

// Mode returns the mode set with SetMode.
func (c *Context) Mode() vm.Mode {
	return vm.Mode(c.mode.Load())
}

// CurrentMode returns the mode of data accesses, or of instruction fetches
// when fetch is set.
func (c *Context) CurrentMode(fetch bool) vm.Mode {
	if c.modeFunc != nil {
		return c.modeFunc(fetch)
	}

	return c.Mode()
}

// HostPointer returns the host address of addr in the current mode if it is
// already translated as plain RAM. It never refills.
func (c *Context) HostPointer(addr uint64, kind vm.AccessKind) (vm.HostAddr, bool) {
	mode := c.CurrentMode(kind == vm.AccessExec)
	return c.resolver.HostPointer(mode, addr&c.cfg.AddrMask(), kind)
}

// FlushAll invalidates every cached translation. Owner thread only.
func (c *Context) FlushAll() {
	if c.tlb != nil {
		c.tlb.FlushAll()
	}
}

// FlushPage invalidates the cached translations of the page holding addr in
// every mode. Owner thread only.
func (c *Context) FlushPage(addr uint64) {
	if c.tlb != nil {
		c.tlb.FlushPage(addr & c.cfg.AddrMask())
	}
}

// InvalidateWrite revokes the cached write permission of the page holding
// addr. It may be called from any thread.
func (c *Context) InvalidateWrite(addr uint64) {
	if c.tlb != nil {
		c.tlb.InvalidateWrite(addr & c.cfg.AddrMask())
	}
}

// QueueFlushAll asks for a full flush at the next safe point. It may be
// called from any thread.
func (c *Context) QueueFlushAll() {
	if c.tlb != nil {
		c.tlb.QueueFlushAll()
	}
}

// QueueFlushPage asks for a page flush at the next safe point. It may be
// called from any thread.
func (c *Context) QueueFlushPage(addr uint64, modes ...vm.Mode) {
	if c.tlb != nil {
		c.tlb.QueueFlushPage(addr&c.cfg.AddrMask(), modes...)
	}
}

// SafePoint applies the queued flushes. Owner thread only.
func (c *Context) SafePoint() {
	if c.tlb != nil && c.tlb.SafePoint() {
		c.safePoints.Add(1)
	}
}

// Exec runs guest work on the calling thread, which becomes the owner for
// the duration of fn. Queued flushes are applied first. An address-space
// integrity violation raised inside fn terminates the context and is
// returned.
func (c *Context) Exec(fn func(a *ldst.Accessor) error) (err error) {
	c.execLock.Lock()
	defer c.execLock.Unlock()

	if c.terminated.Load() {
		return ErrTerminated
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		ie, ok := r.(*vm.IntegrityError)
		if !ok {
			panic(r)
		}

		c.terminate(ie)
		err = ie
	}()

	c.SafePoint()
	c.execs.Add(1)

	return fn(c.accessor)
}

// Parked runs fn while the owner is not executing guest work. The fields that
// only the owner writes can be read safely inside fn.
func (c *Context) Parked(fn func()) {
	c.execLock.Lock()
	defer c.execLock.Unlock()

	fn()
}

func (c *Context) terminate(err error) {
	c.errLock.Lock()
	c.err = err
	c.errLock.Unlock()

	c.terminated.Store(true)

	slog.Error("execution context terminated",
		"id", c.id, "name", c.name, "error", err)
}

// Terminated reports whether the context stopped.
func (c *Context) Terminated() bool {
	return c.terminated.Load()
}

// Err returns the error that terminated the context, if any.
func (c *Context) Err() error {
	c.errLock.Lock()
	defer c.errLock.Unlock()

	return c.err
}

// Stats is a summary of a context.
type Stats struct {
	ID         string
	Name       string
	Mode       vm.Mode
	NumModes   int
	PageSize   uint64
	TableSize  uint64
	DirectMap  bool
	Terminated bool
	Err        string
	Execs      uint64
	SafePoints uint64
	Pending    int
}

// Stats returns a summary of the context. It may be called from any thread.
func (c *Context) Stats() Stats {
	s := Stats{
		ID:         c.id,
		Name:       c.name,
		Mode:       c.Mode(),
		NumModes:   c.cfg.NumModes,
		PageSize:   c.cfg.PageSize(),
		DirectMap:  c.cfg.DirectMap,
		Terminated: c.Terminated(),
		Execs:      c.execs.Load(),
		SafePoints: c.safePoints.Load(),
	}

	if c.tlb != nil {
		s.TableSize = c.tlb.NumEntries()
		s.Pending = c.tlb.Pending()
	}

	if err := c.Err(); err != nil {
		s.Err = err.Error()
	}

	return s
}
