package page

import (
	"fmt"
	"io"

	"slotdb/pkg/dberr"
)

// FreeSpace returns the bytes left between the end of the record data and
// the start of the slot directory.
func (p *Page) FreeSpace() int {
	return p.directoryStart() - int(p.freeSpaceOffset)
}

// UsedBytes is the number of record bytes stored in the page.
func (p *Page) UsedBytes() int {
	return int(p.freeSpaceOffset)
}

// LiveRecords counts the slots that still hold a record.
func (p *Page) LiveRecords() int {
	n := 0
	for _, s := range p.slots {
		if s.Valid {
			n++
		}
	}
	return n
}

// Slot returns the directory entry for id.
func (p *Page) Slot(id SlotID) (Slot, bool) {
	if id < 0 || int(id) >= len(p.slots) {
		return Slot{}, false
	}
	return p.slots[id], true
}

func (p *Page) directoryStart() int {
	return DataSize - len(p.slots)*SlotSize
}

// InsertRecord appends rec to the record area and gives it the next slot id.
func (p *Page) InsertRecord(rec []byte) (SlotID, error) {
	if len(rec) > MaxRecordSize {
		return -1, fmt.Errorf("%w: %d bytes, max %d", dberr.ErrRecordTooLarge, len(rec), MaxRecordSize)
	}
	need := len(rec) + SlotSize
	if free := p.FreeSpace(); free < need {
		return -1, fmt.Errorf("%w: page %d needs %d bytes, has %d", dberr.ErrInsufficientSpace, p.id, need, free)
	}

	// 1. Record bytes go at the end of the record area
	off := p.freeSpaceOffset
	copy(p.data[off:], rec)
	// 2. The new slot takes the next id
	p.slots = append(p.slots, Slot{
		Offset: uint32(off),
		Length: uint32(len(rec)),
		Valid:  true,
	})
	p.freeSpaceOffset += int32(len(rec))
	p.isDirty = true

	return SlotID(len(p.slots) - 1), nil
}

// GetRecord returns a copy of the record stored under id.
func (p *Page) GetRecord(id SlotID) ([]byte, error) {
	s, err := p.liveSlot(id)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, s.Length)
	copy(rec, p.data[s.Offset:s.Offset+s.Length])
	return rec, nil
}

// DeleteRecord removes the record under id and compacts the record area.
// The slot stays in the directory as a tombstone so no other slot id moves.
func (p *Page) DeleteRecord(id SlotID) error {
	s, err := p.liveSlot(id)
	if err != nil {
		return err
	}

	// 1. Close the gap left by the record
	end := s.Offset + s.Length
	copy(p.data[s.Offset:], p.data[end:p.freeSpaceOffset])
	p.freeSpaceOffset -= int32(s.Length)
	clear(p.data[p.freeSpaceOffset : p.freeSpaceOffset+int32(s.Length)])

	// 2. Records stored after it moved down by its length
	for i := range p.slots {
		if p.slots[i].Valid && p.slots[i].Offset > s.Offset {
			p.slots[i].Offset -= s.Length
		}
	}
	// 3. Leave a tombstone so later slot ids stay put
	p.slots[id] = Slot{}
	p.isDirty = true
	return nil
}

func (p *Page) liveSlot(id SlotID) (Slot, error) {
	if id < 0 || int(id) >= len(p.slots) {
		return Slot{}, fmt.Errorf("%w: slot %d out of range [0,%d) on page %d", dberr.ErrInvalidSlot, id, len(p.slots), p.id)
	}
	s := p.slots[id]
	if !s.Valid {
		return Slot{}, fmt.Errorf("%w: slot %d on page %d is deleted", dberr.ErrInvalidSlot, id, p.id)
	}
	return s, nil
}

// Describe writes the header and the slot directory in a human readable form.
func (p *Page) Describe(w io.Writer) {
	fmt.Fprintf(w, "Page ID:           %d\n", p.id)
	fmt.Fprintf(w, "Dirty:             %t\n", p.isDirty)
	fmt.Fprintf(w, "LSN:               %d\n", p.lsn)
	fmt.Fprintf(w, "Free Space Offset: %d\n", p.freeSpaceOffset)
	fmt.Fprintf(w, "Number of Slots:   %d\n", len(p.slots))
	fmt.Fprintf(w, "Free Space:        %d\n", p.FreeSpace())
	fmt.Fprintln(w, "Slot Directory:")
	for i, s := range p.slots {
		fmt.Fprintf(w, "  slot %d: offset=%d length=%d valid=%t\n", i, s.Offset, s.Length, s.Valid)
	}
}
