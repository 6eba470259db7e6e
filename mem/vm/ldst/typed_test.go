package ldst

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/softmmu/mem/hostmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
)

type register uint16

var _ = Describe("Typed accessors", func() {
	It("should derive ops from types", func() {
		Expect(OpFor[int8]()).To(Equal(vm.MOSB))
		Expect(OpFor[uint8]()).To(Equal(vm.MOUB))
		Expect(OpFor[int16]()).To(Equal(vm.MOSW))
		Expect(OpFor[uint16]()).To(Equal(vm.MOUW))
		Expect(OpFor[int32]()).To(Equal(vm.MOSL))
		Expect(OpFor[uint32]()).To(Equal(vm.MOUL))
		Expect(OpFor[int64]()).To(Equal(vm.MO64 | vm.MOSign))
		Expect(OpFor[uint64]()).To(Equal(vm.MOUQ))
		Expect(OpFor[register]()).To(Equal(vm.MOUW))
	})

	Context("with an accessor", func() {
		var a *Accessor

		BeforeEach(func() {
			arena := hostmem.New(0x10000, 0x1000)
			t := tlb.MakeBuilder().Build("TLB")
			t.Fill(0, 0x2000, vm.Page{VAddr: 0x2000, Host: 0x10000,
				Perm: vm.PermRWX})

			a = MakeBuilder().WithTranslator(t).WithHostMemory(arena).Build()
		})

		It("should round-trip every width", func() {
			Expect(Store[int8](a, 0, 0x2000, -2)).To(Succeed())
			Expect(Store[uint16](a, 0, 0x2002, 0xBEEF)).To(Succeed())
			Expect(Store[int32](a, 0, 0x2004, -100000)).To(Succeed())
			Expect(Store[uint64](a, 0, 0x2008, 1<<63)).To(Succeed())

			i8, _ := Load[int8](a, 0, 0x2000)
			Expect(i8).To(Equal(int8(-2)))

			u8, _ := Load[uint8](a, 0, 0x2000)
			Expect(u8).To(Equal(uint8(0xFE)))

			u16, _ := Load[uint16](a, 0, 0x2002)
			Expect(u16).To(Equal(uint16(0xBEEF)))

			i16, _ := Load[int16](a, 0, 0x2002)
			Expect(i16).To(Equal(int16(-0x4111)))

			i32, _ := Load[int32](a, 0, 0x2004)
			Expect(i32).To(Equal(int32(-100000)))

			u64, _ := Load[uint64](a, 0, 0x2008)
			Expect(u64).To(Equal(uint64(1 << 63)))
		})

		It("should use the implicit modes", func() {
			Expect(StoreData[register](a, 0x2010, 0x55AA)).To(Succeed())

			r, err := LoadData[register](a, 0x2010)
			Expect(err).NotTo(HaveOccurred())
			Expect(r).To(Equal(register(0x55AA)))

			c, err := FetchCode[uint8](a, 0x2010)
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(uint8(0xAA)))

			w, err := Fetch[uint32](a, 0, 0x2010)
			Expect(err).NotTo(HaveOccurred())
			Expect(w).To(Equal(uint32(0x55AA)))
		})
	})
})
