package vm

import (
	"container/list"
	"sync"
)

// A Page is an entry in the guest page table. It maintains how one guest page
// of one mode maps to either host RAM or a device.
type Page struct {
	Mode  Mode
	VAddr uint64

	// Host is the host address of the first byte of the page for RAM pages.
	Host HostAddr

	// PAddr is the device-side address of the first byte for I/O pages.
	PAddr uint64

	Perm Perm
	IO   bool

	// TrackDirty routes the first write to the slow path so that writes to
	// the page can be observed (e.g., pages holding translated code).
	TrackDirty bool
	Dirty      bool
}

// A PageTable holds the guest pages of every mode.
type PageTable interface {
	Insert(page Page)
	Remove(mode Mode, vAddr uint64)
	Find(mode Mode, addr uint64) (Page, bool)
	Update(page Page)
	Pages(mode Mode) []Page
}

// NewPageTable creates a new PageTable.
func NewPageTable(log2PageSize uint64) PageTable {
	return &pageTableImpl{
		log2PageSize: log2PageSize,
		tables:       make(map[Mode]*modeTable),
	}
}

type pageTableImpl struct {
	sync.Mutex
	log2PageSize uint64
	tables       map[Mode]*modeTable
}

func (pt *pageTableImpl) getTable(mode Mode) *modeTable {
	pt.Lock()
	defer pt.Unlock()

	table, found := pt.tables[mode]
	if !found {
		table = &modeTable{
			entries:      list.New(),
			entriesTable: make(map[uint64]*list.Element),
		}
		pt.tables[mode] = table
	}

	return table
}

func (pt *pageTableImpl) alignToPage(addr uint64) uint64 {
	return (addr >> pt.log2PageSize) << pt.log2PageSize
}

// Insert puts a new page into the PageTable. The page address is aligned down
// to the page size.
func (pt *pageTableImpl) Insert(page Page) {
	page.VAddr = pt.alignToPage(page.VAddr)
	pt.getTable(page.Mode).insert(page)
}

// Remove removes the page that contains the given address.
func (pt *pageTableImpl) Remove(mode Mode, vAddr uint64) {
	pt.getTable(mode).remove(pt.alignToPage(vAddr))
}

// Find returns the page that contains the given address. The bool return
// value indicates if the page is found or not.
func (pt *pageTableImpl) Find(mode Mode, addr uint64) (Page, bool) {
	return pt.getTable(mode).find(pt.alignToPage(addr))
}

// Update changes the fields of an existing page. The Mode and the VAddr fields
// are used to locate the page to update.
func (pt *pageTableImpl) Update(page Page) {
	page.VAddr = pt.alignToPage(page.VAddr)
	pt.getTable(page.Mode).update(page)
}

// Pages lists the pages of a mode in insertion order.
func (pt *pageTableImpl) Pages(mode Mode) []Page {
	return pt.getTable(mode).all()
}

type modeTable struct {
	sync.Mutex
	entries      *list.List
	entriesTable map[uint64]*list.Element
}

func (t *modeTable) insert(page Page) {
	t.Lock()
	defer t.Unlock()

	t.pageMustNotExist(page.VAddr)

	elem := t.entries.PushBack(page)
	t.entriesTable[page.VAddr] = elem
}

func (t *modeTable) remove(vAddr uint64) {
	t.Lock()
	defer t.Unlock()

	t.pageMustExist(vAddr)

	elem := t.entriesTable[vAddr]
	t.entries.Remove(elem)
	delete(t.entriesTable, vAddr)
}

func (t *modeTable) update(page Page) {
	t.Lock()
	defer t.Unlock()

	t.pageMustExist(page.VAddr)

	elem := t.entriesTable[page.VAddr]
	elem.Value = page
}

func (t *modeTable) find(vAddr uint64) (Page, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if found {
		return elem.Value.(Page), true
	}

	return Page{}, false
}

func (t *modeTable) all() []Page {
	t.Lock()
	defer t.Unlock()

	pages := make([]Page, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		pages = append(pages, e.Value.(Page))
	}

	return pages
}

func (t *modeTable) pageMustExist(vAddr uint64) {
	_, found := t.entriesTable[vAddr]
	if !found {
		panic("page does not exist")
	}
}

func (t *modeTable) pageMustNotExist(vAddr uint64) {
	_, found := t.entriesTable[vAddr]
	if found {
		panic("page exist")
	}
}
