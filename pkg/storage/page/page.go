package page

import "fmt"

// PageSize is the fixed size of one page, on disk and in memory.
const PageSize = 4096

// PageID identifies a page by its position in the backing file.
// Ids are dense and start at 0; -1 means "no page".
type PageID int32

const (
	InvalidPageID PageID = -1
)

// SlotID indexes the slot directory of a page. A slot id is never reused
// while the page exists.
type SlotID int32

// RecordID is the external handle of a stored record.
type RecordID struct {
	PageID PageID
	SlotID SlotID
}

func (r RecordID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.SlotID)
}

// Slot locates one record inside the record area of a page.
type Slot struct {
	Offset uint32
	Length uint32
	Valid  bool
}

// Page is the in-memory form of one slotted page. Record bytes grow upward
// from offset 0 of the data area while the slot directory is accounted for
// at the tail of that same area.
type Page struct {
	id              PageID
	isDirty         bool
	lsn             int64
	freeSpaceOffset int32
	data            [DataSize]byte
	slots           []Slot
}

// New returns an empty page carrying the given id.
func New(id PageID) *Page {
	p := &Page{}
	p.Reset()
	p.id = id
	return p
}

// ID is the page id stored in the header.
func (p *Page) ID() PageID {
	return p.id
}

// SetID rewrites the header id. The buffer pool keeps its own copy of the id
// for resident pages and restores the header on write-back.
func (p *Page) SetID(id PageID) {
	p.id = id
}

// IsDirty reports whether a record operation changed p since it was loaded
// or last written.
func (p *Page) IsDirty() bool {
	return p.isDirty
}

// SetDirty overrides the dirty flag.
func (p *Page) SetDirty(dirty bool) {
	p.isDirty = dirty
}

// LSN is carried for a future log manager and is not interpreted here.
func (p *Page) LSN() int64 {
	return p.lsn
}

// SetLSN stores lsn in the header.
func (p *Page) SetLSN(lsn int64) {
	p.lsn = lsn
}

// SlotCount includes tombstones; it never decreases.
func (p *Page) SlotCount() int {
	return len(p.slots)
}

// FreeSpaceOffset is the end of the used part of the record area.
func (p *Page) FreeSpaceOffset() int {
	return int(p.freeSpaceOffset)
}

// Reset turns p back into an empty page with no id, e.g. before a frame is
// reused.
func (p *Page) Reset() {
	p.id = InvalidPageID
	p.isDirty = false
	p.lsn = 0
	p.freeSpaceOffset = 0
	p.data = [DataSize]byte{}
	p.slots = p.slots[:0]
}
