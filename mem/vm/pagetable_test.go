package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PageTable", func() {
	var pageTable PageTable

	BeforeEach(func() {
		pageTable = NewPageTable(12)
	})

	It("should insert and find pages per mode", func() {
		pageTable.Insert(Page{Mode: 0, VAddr: 0x1000, Host: 0x8000,
			Perm: PermRW})
		pageTable.Insert(Page{Mode: 1, VAddr: 0x1000, Host: 0x9000,
			Perm: PermRead})

		page, found := pageTable.Find(0, 0x1234)
		Expect(found).To(BeTrue())
		Expect(page.Host).To(Equal(HostAddr(0x8000)))

		page, found = pageTable.Find(1, 0x1fff)
		Expect(found).To(BeTrue())
		Expect(page.Host).To(Equal(HostAddr(0x9000)))

		_, found = pageTable.Find(0, 0x2000)
		Expect(found).To(BeFalse())
	})

	It("should align inserted pages", func() {
		pageTable.Insert(Page{Mode: 0, VAddr: 0x1234, Perm: PermRead})

		pages := pageTable.Pages(0)
		Expect(pages).To(HaveLen(1))
		Expect(pages[0].VAddr).To(Equal(uint64(0x1000)))
	})

	It("should update pages", func() {
		pageTable.Insert(Page{Mode: 0, VAddr: 0x1000, TrackDirty: true})
		pageTable.Update(Page{Mode: 0, VAddr: 0x1000, TrackDirty: true,
			Dirty: true})

		page, _ := pageTable.Find(0, 0x1000)
		Expect(page.Dirty).To(BeTrue())
	})

	It("should remove pages", func() {
		pageTable.Insert(Page{Mode: 0, VAddr: 0x1000})
		pageTable.Remove(0, 0x1800)

		_, found := pageTable.Find(0, 0x1000)
		Expect(found).To(BeFalse())
	})

	It("should panic on duplicated insert", func() {
		pageTable.Insert(Page{Mode: 0, VAddr: 0x1000})
		Expect(func() {
			pageTable.Insert(Page{Mode: 0, VAddr: 0x1000})
		}).To(Panic())
	})

	It("should panic when updating a missing page", func() {
		Expect(func() {
			pageTable.Update(Page{Mode: 0, VAddr: 0x1000})
		}).To(Panic())
	})
})
