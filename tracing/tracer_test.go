package tracing

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/softmmu/datarecording"
	"github.com/sarchlab/softmmu/mem/hostmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/slowpath"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/sim/hooking"
)

var _ = Describe("ToEvent", func() {
	var t *tlb.TLB

	BeforeEach(func() {
		t = tlb.MakeBuilder().Build("TLB")
	})

	It("should describe refills and evictions", func() {
		var events []Event
		t.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			e, ok := ToEvent(ctx)
			Expect(ok).To(BeTrue())
			events = append(events, e)
		}))

		t.Fill(0, 0x1000, vm.Page{VAddr: 0x1000, Perm: vm.PermRead})
		t.Fill(0, 0x101000, vm.Page{VAddr: 0x101000, Perm: vm.PermRead})
		t.FlushAll()

		Expect(events).To(HaveLen(3))
		Expect(events[0].Where).To(Equal("TLB"))
		Expect(events[0].What).To(Equal(EventRefill))
		Expect(events[0].Detail).To(ContainSubstring("perm=r--"))
		Expect(events[1].What).To(Equal(EventEvict))
		Expect(events[2].What).To(Equal(EventFlush))
		Expect(events[2].Detail).To(ContainSubstring("kind=all"))
	})

	It("should ignore other items", func() {
		_, ok := ToEvent(hooking.HookCtx{Item: "something"})
		Expect(ok).To(BeFalse())
	})

	It("should describe faults and device accesses", func() {
		e, ok := ToEvent(hooking.HookCtx{Item: &vm.PageFault{
			Mode: 1, Addr: 0x40, Kind: vm.AccessWrite, Reason: "page is r--",
		}})
		Expect(ok).To(BeTrue())
		Expect(e.What).To(Equal(EventFault))
		Expect(e.Mode).To(Equal(vm.Mode(1)))
		Expect(e.Detail).To(Equal("write: page is r--"))

		e, _ = ToEvent(hooking.HookCtx{Item: slowpath.IOAccess{
			Addr: 0x4000, PAddr: 0xE000, Size: 4, Write: true, Value: 3,
		}})
		Expect(e.What).To(Equal(EventIOWrite))
		Expect(e.Detail).To(Equal("paddr=0xe000 size=4 value=0x3"))
	})
})

var _ = Describe("CountTracer", func() {
	It("should count events of several domains", func() {
		t := tlb.MakeBuilder().Build("TLB")
		pageTable := vm.NewPageTable(12)
		s := slowpath.MakeBuilder().
			WithCache(t).
			WithPageTable(pageTable).
			WithHostMemory(hostmem.New(0, 0x1000)).
			Build("SlowPath")

		tracer := NewCountTracer()
		t.AcceptHook(tracer)
		s.AcceptHook(tracer)

		pageTable.Insert(vm.Page{VAddr: 0x1000, Host: 0, Perm: vm.PermRW})

		_, err := s.Load(0, 0x1000, vm.MOUB, vm.AccessRead)
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Load(0, 0x5000, vm.MOUB, vm.AccessRead)
		Expect(err).To(HaveOccurred())
		t.FlushPage(0x1000)

		Expect(tracer.Count(EventRefill)).To(Equal(uint64(1)))
		Expect(tracer.Count(EventFault)).To(Equal(uint64(1)))
		Expect(tracer.Count(EventFlush)).To(Equal(uint64(1)))
		Expect(tracer.Names()).To(Equal(
			[]string{EventFault, EventFlush, EventRefill}))

		tracer.Reset()
		Expect(tracer.Names()).To(BeEmpty())
	})
})

var _ = Describe("DBTracer", func() {
	var (
		mockCtrl *gomock.Controller
		recorder *MockDataRecorder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		recorder = NewMockDataRecorder(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should create the table once", func() {
		recorder.EXPECT().ListTables().Return(nil)
		recorder.EXPECT().CreateTable(TableName, eventTableEntry{})
		NewDBTracer(recorder, "cpu0")

		recorder.EXPECT().ListTables().Return([]string{TableName})
		NewDBTracer(recorder, "cpu1")
	})

	It("should insert one row per event", func() {
		recorder.EXPECT().ListTables().Return([]string{TableName})
		tracer := NewDBTracer(recorder, "cpu0")

		t := tlb.MakeBuilder().Build("TLB")
		t.AcceptHook(tracer)

		recorder.EXPECT().InsertData(TableName, eventTableEntry{
			Seq:      1,
			Context:  "cpu0",
			Location: "TLB",
			Event:    EventRefill,
			Mode:     0,
			Addr:     "0x1234",
			Detail:   "slot=1 perm=rw- io=false",
		})

		t.Fill(0, 0x1234, vm.Page{VAddr: 0x1000, Perm: vm.PermRW})
	})
})

var _ = Describe("DBTracer with a SQLite recorder", func() {
	It("should write the events to the database", func() {
		path := filepath.Join(GinkgoT().TempDir(), "events")
		recorder := datarecording.New(path)
		tracer := NewDBTracer(recorder, "cpu0")

		t := tlb.MakeBuilder().Build("TLB")
		t.AcceptHook(tracer)

		t.Fill(0, 0xFFFFFFFFFFFF1000, vm.Page{
			VAddr: 0xFFFFFFFFFFFF1000,
			Perm:  vm.PermRW,
		})
		t.FlushAll()
		Expect(recorder.Close()).To(Succeed())

		db, err := sql.Open("sqlite3", path+".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		rows, err := db.Query(
			"SELECT Location, Event, Addr FROM tlb_event ORDER BY Seq")
		Expect(err).NotTo(HaveOccurred())
		defer rows.Close()

		var got []string
		for rows.Next() {
			var location, event, addr string
			Expect(rows.Scan(&location, &event, &addr)).To(Succeed())
			got = append(got, location+" "+event+" "+addr)
		}

		Expect(rows.Err()).NotTo(HaveOccurred())
		Expect(got).To(Equal([]string{
			"TLB refill 0xffffffffffff1000",
			"TLB flush 0x0",
		}))
	})
})

var _ = Describe("WriterTracer", func() {
	It("should write one line per event", func() {
		buf := new(bytes.Buffer)
		tracer := NewWriterTracer(buf)

		t := tlb.MakeBuilder().WithNumModes(2).Build("TLB")
		t.AcceptHook(tracer)

		t.Fill(1, 0x2000, vm.Page{VAddr: 0x2000, Perm: vm.PermRead, IO: true})
		t.InvalidateWrite(0x2000)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[0]).To(Equal("1,TLB,refill,1,0x2000,slot=2 perm=r-- io=true"))
		Expect(lines[1]).To(HavePrefix("2,TLB,flush,0,0x2000,kind=write"))
	})
})
