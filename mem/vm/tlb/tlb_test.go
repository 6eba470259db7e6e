package tlb_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/sim/hooking"
)

var _ = Describe("Builder", func() {
	It("should start with every slot empty", func() {
		t := tlb.MakeBuilder().WithNumModes(3).Build("TLB")

		Expect(t.NumModes()).To(Equal(3))
		Expect(t.NumEntries()).To(Equal(uint64(256)))
		for m := 0; m < 3; m++ {
			Expect(t.Snapshot(vm.Mode(m))).To(BeEmpty())
		}
	})

	It("should take the geometry from a config", func() {
		c := vm.DefaultConfig()
		c.Log2PageSize = 16
		c.Log2TableSize = 4
		c.NumModes = 12

		t := tlb.MakeBuilder().WithConfig(c).Build("TLB")

		Expect(t.PageSize()).To(Equal(uint64(1 << 16)))
		Expect(t.NumEntries()).To(Equal(uint64(16)))
		Expect(t.NumModes()).To(Equal(12))
	})

	It("should panic with too many modes", func() {
		Expect(func() {
			tlb.MakeBuilder().WithNumModes(vm.MaxModes + 1).Build("TLB")
		}).To(Panic())
	})

	It("should panic with no mode", func() {
		Expect(func() {
			tlb.MakeBuilder().WithNumModes(0).Build("TLB")
		}).To(Panic())
	})

	It("should panic with pages too small to hold the flags", func() {
		Expect(func() {
			tlb.MakeBuilder().WithLog2PageSize(3).Build("TLB")
		}).To(Panic())
	})
})

var _ = Describe("TLB", func() {
	var (
		t    *tlb.TLB
		page vm.Page
	)

	BeforeEach(func() {
		t = tlb.MakeBuilder().
			WithLog2PageSize(12).
			WithLog2NumEntries(8).
			WithNumModes(2).
			Build("TLB")

		page = vm.Page{
			VAddr: 0x1000,
			Host:  0x7F001000,
			Perm:  vm.PermRWX,
		}
	})

	It("should compute the slot index", func() {
		Expect(t.Index(0x1234)).To(Equal(uint64(1)))
		Expect(t.Index(0x101000)).To(Equal(uint64(1)))
		Expect(t.Index(0xFF000)).To(Equal(uint64(0xFF)))
	})

	It("should miss on an empty table", func() {
		for _, kind := range []vm.AccessKind{
			vm.AccessRead, vm.AccessWrite, vm.AccessExec, vm.AccessPrefetch,
		} {
			tr := t.Translate(0, 0x1000, kind, 1)
			Expect(tr.Outcome).To(Equal(vm.Miss))
		}
	})

	It("should hit after a fill", func() {
		t.Fill(0, 0x1234, page)

		tr := t.Translate(0, 0x1234, vm.AccessRead, 4)
		Expect(tr.Outcome).To(Equal(vm.Hit))
		Expect(tr.Host).To(Equal(vm.HostAddr(0x7F001234)))

		Expect(t.Entry(0, 0x1000).Addend()).To(Equal(uint64(0x7F000000)))
	})

	It("should derive all tags from the same page", func() {
		t.Fill(0, 0x1000, page)

		var e *tlb.Entry = t.Entry(0, 0x1000)
		Expect(e.ReadTag()).To(Equal(uint64(0x1000)))
		Expect(e.WriteTag()).To(Equal(uint64(0x1000)))
		Expect(e.CodeTag()).To(Equal(uint64(0x1000)))
	})

	It("should keep modes apart", func() {
		t.Fill(0, 0x1000, page)

		Expect(t.Translate(1, 0x1000, vm.AccessRead, 1).Outcome).
			To(Equal(vm.Miss))
	})

	It("should miss when the access crosses the page end", func() {
		t.Fill(0, 0x1000, page)

		Expect(t.Translate(0, 0x1FFC, vm.AccessRead, 4).Outcome).
			To(Equal(vm.Hit))
		Expect(t.Translate(0, 0x1FFD, vm.AccessRead, 4).Outcome).
			To(Equal(vm.Miss))
	})

	It("should only grant the permitted kinds", func() {
		page.Perm = vm.PermRead
		t.Fill(0, 0x1000, page)

		Expect(t.Translate(0, 0x1000, vm.AccessRead, 1).Outcome).
			To(Equal(vm.Hit))
		Expect(t.Translate(0, 0x1000, vm.AccessWrite, 1).Outcome).
			To(Equal(vm.Miss))
		Expect(t.Translate(0, 0x1000, vm.AccessExec, 1).Outcome).
			To(Equal(vm.Miss))
	})

	It("should replace the entry of a colliding page", func() {
		t.Fill(0, 0x1000, page)

		other := vm.Page{VAddr: 0x101000, Host: 0x5000, Perm: vm.PermRW}
		t.Fill(0, 0x101000, other)

		Expect(t.Translate(0, 0x1000, vm.AccessRead, 1).Outcome).
			To(Equal(vm.Miss))

		tr := t.Translate(0, 0x101008, vm.AccessRead, 1)
		Expect(tr.Outcome).To(Equal(vm.Hit))
		Expect(tr.Host).To(Equal(vm.HostAddr(0x5008)))
	})

	It("should report I/O pages as flagged hits", func() {
		t.Fill(0, 0x1000, vm.Page{VAddr: 0x1000, Perm: vm.PermRW, IO: true})

		tr := t.Translate(0, 0x1004, vm.AccessRead, 4)
		Expect(tr.Outcome).To(Equal(vm.HitIO))
		Expect(tr.Flags).To(Equal(tlb.FlagMMIO))

		_, ok := t.HostPointer(0, 0x1004, vm.AccessRead)
		Expect(ok).To(BeFalse())
	})

	It("should route the first write to a clean tracked page", func() {
		page.TrackDirty = true
		t.Fill(0, 0x1000, page)

		Expect(t.Translate(0, 0x1000, vm.AccessRead, 1).Outcome).
			To(Equal(vm.Hit))

		tr := t.Translate(0, 0x1000, vm.AccessWrite, 1)
		Expect(tr.Outcome).To(Equal(vm.HitIO))
		Expect(tr.Flags).To(Equal(tlb.FlagNotDirty))

		page.Dirty = true
		t.Fill(0, 0x1000, page)
		Expect(t.Translate(0, 0x1000, vm.AccessWrite, 1).Outcome).
			To(Equal(vm.Hit))
	})

	It("should return host pointers without refilling", func() {
		host, ok := t.HostPointer(0, 0x1010, vm.AccessRead)
		Expect(ok).To(BeFalse())
		Expect(host).To(BeZero())

		t.Fill(0, 0x1000, page)

		host, ok = t.HostPointer(0, 0x1010, vm.AccessExec)
		Expect(ok).To(BeTrue())
		Expect(host).To(Equal(vm.HostAddr(0x7F001010)))
	})

	It("should snapshot valid entries", func() {
		t.Fill(1, 0x3000, vm.Page{VAddr: 0x3000, Host: 0x9000,
			Perm: vm.PermRead})

		entries := t.Snapshot(1)
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Index).To(Equal(uint64(3)))
		Expect(entries[0].ReadTag).To(Equal(uint64(0x3000)))
		Expect(entries[0].WriteTag).To(Equal(tlb.InvalidTag))
		Expect(entries[0].Addend).To(Equal(uint64(0x6000)))
	})

	Context("flushing", func() {
		BeforeEach(func() {
			t.Fill(0, 0x1000, page)
			t.Fill(1, 0x1000, page)
			t.Fill(0, 0x2000, vm.Page{VAddr: 0x2000, Host: 0x9000,
				Perm: vm.PermRW})
		})

		It("should flush everything", func() {
			t.FlushAll()

			Expect(t.Snapshot(0)).To(BeEmpty())
			Expect(t.Snapshot(1)).To(BeEmpty())
		})

		It("should flush selected modes", func() {
			t.FlushModes(1)

			Expect(t.Snapshot(0)).To(HaveLen(2))
			Expect(t.Snapshot(1)).To(BeEmpty())
		})

		It("should flush one page in every mode", func() {
			t.FlushPage(0x1800)

			Expect(t.Translate(0, 0x1000, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Miss))
			Expect(t.Translate(1, 0x1000, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Miss))
			Expect(t.Translate(0, 0x2000, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Hit))
		})

		It("should flush one page in selected modes", func() {
			t.FlushPageModes(0x1000, 1)

			Expect(t.Translate(0, 0x1000, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Hit))
			Expect(t.Translate(1, 0x1000, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Miss))
		})

		It("should not flush a colliding page", func() {
			t.FlushPage(0x101000)

			Expect(t.Translate(0, 0x1000, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Hit))
		})

		It("should revoke only the write permission", func() {
			t.InvalidateWrite(0x1000)

			Expect(t.Translate(0, 0x1000, vm.AccessWrite, 1).Outcome).
				To(Equal(vm.Miss))
			Expect(t.Translate(1, 0x1000, vm.AccessWrite, 1).Outcome).
				To(Equal(vm.Miss))
			Expect(t.Translate(0, 0x1000, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Hit))
			Expect(t.Translate(0, 0x1000, vm.AccessExec, 1).Outcome).
				To(Equal(vm.Hit))
			Expect(t.Translate(0, 0x2000, vm.AccessWrite, 1).Outcome).
				To(Equal(vm.Hit))
		})

		It("should apply queued flushes at the safe point", func() {
			t.QueueFlushPage(0x1000, 0)
			t.QueueFlushAll()

			Expect(t.Pending()).To(Equal(2))
			Expect(t.Translate(0, 0x1000, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Hit))

			Expect(t.SafePoint()).To(BeTrue())
			Expect(t.Pending()).To(Equal(0))
			Expect(t.Snapshot(0)).To(BeEmpty())
			Expect(t.Snapshot(1)).To(BeEmpty())

			Expect(t.SafePoint()).To(BeFalse())
		})
	})

	Context("without atomic tags", func() {
		BeforeEach(func() {
			t = tlb.MakeBuilder().
				WithNumModes(2).
				WithAtomicTags(false).
				Build("TLB")
			t.Fill(0, 0x1000, page)
		})

		It("should defer write invalidation to the safe point", func() {
			t.InvalidateWrite(0x1000)

			Expect(t.Pending()).To(Equal(1))
			Expect(t.Translate(0, 0x1000, vm.AccessWrite, 1).Outcome).
				To(Equal(vm.Hit))

			t.SafePoint()

			Expect(t.Translate(0, 0x1000, vm.AccessWrite, 1).Outcome).
				To(Equal(vm.Miss))
			Expect(t.Translate(0, 0x1000, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Hit))
		})
	})

	Context("hooks", func() {
		var items []any

		BeforeEach(func() {
			items = nil
			t.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				items = append(items, ctx.Item)
			}))
		})

		It("should not invoke hooks on lookups", func() {
			t.Translate(0, 0x1000, vm.AccessRead, 1)
			Expect(items).To(BeEmpty())
		})

		It("should report refills and evictions", func() {
			t.Fill(0, 0x1000, page)
			t.Fill(0, 0x101000, vm.Page{VAddr: 0x101000, Perm: vm.PermRead})

			Expect(items).To(HaveLen(2))
			Expect(items[0].(tlb.RefillInfo).Evicted).To(BeFalse())
			Expect(items[1].(tlb.RefillInfo).Evicted).To(BeTrue())
			Expect(items[1].(tlb.RefillInfo).Index).To(Equal(uint64(1)))
		})

		It("should report flushes", func() {
			t.FlushPage(0x1000)

			Expect(items).To(HaveLen(1))
			info := items[0].(tlb.FlushInfo)
			Expect(info.Kind).To(Equal(tlb.FlushKindPage))
			Expect(info.Modes).To(ConsistOf(vm.Mode(0), vm.Mode(1)))
		})
	})

	It("should invalidate writes from other goroutines", func() {
		for i := uint64(0); i < 16; i++ {
			vaddr := i << 12
			t.Fill(0, vaddr, vm.Page{VAddr: vaddr, Host: vm.HostAddr(vaddr),
				Perm: vm.PermRW})
		}

		var wg sync.WaitGroup
		for i := uint64(0); i < 16; i++ {
			wg.Add(1)
			go func(vaddr uint64) {
				defer wg.Done()
				t.InvalidateWrite(vaddr)
			}(i << 12)
		}

		for i := 0; i < 1000; i++ {
			t.Translate(0, uint64(i%16)<<12, vm.AccessWrite, 8)
			t.Translate(0, uint64(i%16)<<12, vm.AccessRead, 8)
		}

		wg.Wait()

		for i := uint64(0); i < 16; i++ {
			Expect(t.Translate(0, i<<12, vm.AccessWrite, 1).Outcome).
				To(Equal(vm.Miss))
			Expect(t.Translate(0, i<<12, vm.AccessRead, 1).Outcome).
				To(Equal(vm.Hit))
		}
	})
})
