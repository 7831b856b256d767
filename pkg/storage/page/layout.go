package page

import (
	"encoding/binary"
	"fmt"

	"slotdb/pkg/dberr"
)

// On-disk layout, little endian, no padding:
//
//	[0, HeaderSize)               header
//	[HeaderSize, +freeSpaceOffset) record data
//	[PageSize-n*SlotSize, PageSize) slot directory, slot 0 first
const (
	SizeOfPageID = 4
	SizeOfBool   = 1
	SizeOfInt32  = 4
	SizeOfInt64  = 8

	OffsetPageID          = 0
	OffsetDirty           = OffsetPageID + SizeOfPageID
	OffsetLSN             = OffsetDirty + SizeOfBool
	OffsetFreeSpaceOffset = OffsetLSN + SizeOfInt64
	OffsetSlotCount       = OffsetFreeSpaceOffset + SizeOfInt32

	HeaderSize = OffsetSlotCount + SizeOfInt32

	SlotOffsetField = 0
	SlotLengthField = 4
	SlotValidField  = 8
	SlotSize        = 9

	// DataSize is the capacity shared by record data and the slot directory.
	DataSize = PageSize - HeaderSize

	// MaxRecordSize is the largest record an empty page can take.
	MaxRecordSize = DataSize - SlotSize
)

// Serialize writes the page image into buf, which must hold PageSize bytes.
func (p *Page) Serialize(buf []byte) error {
	if len(buf) < PageSize {
		return fmt.Errorf("page %d: serialize buffer is %d bytes, need %d", p.id, len(buf), PageSize)
	}
	buf = buf[:PageSize]
	clear(buf)

	binary.LittleEndian.PutUint32(buf[OffsetPageID:], uint32(p.id))
	if p.isDirty {
		buf[OffsetDirty] = 1
	}
	binary.LittleEndian.PutUint64(buf[OffsetLSN:], uint64(p.lsn))
	binary.LittleEndian.PutUint32(buf[OffsetFreeSpaceOffset:], uint32(p.freeSpaceOffset))
	binary.LittleEndian.PutUint32(buf[OffsetSlotCount:], uint32(len(p.slots)))

	// record data right after the header, directory at the tail
	copy(buf[HeaderSize:], p.data[:p.freeSpaceOffset])

	dir := HeaderSize + p.directoryStart()
	for i, s := range p.slots {
		putSlot(buf[dir+i*SlotSize:], s)
	}
	return nil
}

// Deserialize replaces the content of p with the page image in buf. Images
// whose header or slot directory point outside the page are rejected.
func (p *Page) Deserialize(buf []byte) error {
	if len(buf) < PageSize {
		return fmt.Errorf("%w: image is %d bytes, need %d", dberr.ErrCorruptPage, len(buf), PageSize)
	}

	// 1. Header
	id := PageID(int32(binary.LittleEndian.Uint32(buf[OffsetPageID:])))
	fso := int32(binary.LittleEndian.Uint32(buf[OffsetFreeSpaceOffset:]))
	count := int32(binary.LittleEndian.Uint32(buf[OffsetSlotCount:]))

	if count < 0 || int(count) > DataSize/SlotSize {
		return fmt.Errorf("%w: page %d has slot count %d", dberr.ErrCorruptPage, id, count)
	}
	dirStart := DataSize - int(count)*SlotSize
	if fso < 0 || int(fso) > dirStart {
		return fmt.Errorf("%w: page %d free space offset %d overlaps slot directory at %d",
			dberr.ErrCorruptPage, id, fso, dirStart)
	}

	// 2. Slot directory; every live slot must lie inside the record data
	slots := make([]Slot, count)
	dir := HeaderSize + dirStart
	for i := range slots {
		s := getSlot(buf[dir+i*SlotSize:])
		if s.Valid && uint64(s.Offset)+uint64(s.Length) > uint64(fso) {
			return fmt.Errorf("%w: page %d slot %d spans [%d,%d) past free space offset %d",
				dberr.ErrCorruptPage, id, i, s.Offset, s.Offset+s.Length, fso)
		}
		slots[i] = s
	}

	// 3. Only a fully validated image replaces the page
	p.id = id
	p.isDirty = buf[OffsetDirty] != 0
	p.lsn = int64(binary.LittleEndian.Uint64(buf[OffsetLSN:]))
	p.freeSpaceOffset = fso
	p.data = [DataSize]byte{}
	copy(p.data[:], buf[HeaderSize:HeaderSize+int(fso)])
	p.slots = slots
	return nil
}

func putSlot(b []byte, s Slot) {
	binary.LittleEndian.PutUint32(b[SlotOffsetField:], s.Offset)
	binary.LittleEndian.PutUint32(b[SlotLengthField:], s.Length)
	if s.Valid {
		b[SlotValidField] = 1
	}
}

func getSlot(b []byte) Slot {
	return Slot{
		Offset: binary.LittleEndian.Uint32(b[SlotOffsetField:]),
		Length: binary.LittleEndian.Uint32(b[SlotLengthField:]),
		Valid:  b[SlotValidField] != 0,
	}
}
